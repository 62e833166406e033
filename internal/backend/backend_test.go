package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hermes/internal/protocol"
	"hermes/internal/registry"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// executorStub backs the adapter tests: it records handshake queries and
// inbound envelopes, answers the stream family's HTTP bootstrap, and lets
// tests push frames toward the adapter.
type executorStub struct {
	t           *testing.T
	server      *httptest.Server
	bootstrapID string // empty disables the /session/ redirect

	mu      sync.Mutex
	conn    *websocket.Conn
	queries chan url.Values
	frames  chan protocol.Envelope
}

func newExecutorStub(t *testing.T, bootstrapID string) *executorStub {
	stub := &executorStub{
		t:           t,
		bootstrapID: bootstrapID,
		queries:     make(chan url.Values, 1),
		frames:      make(chan protocol.Envelope, 16),
	}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			conn, err := testUpgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			stub.queries <- r.URL.Query()
			stub.mu.Lock()
			stub.conn = conn
			stub.mu.Unlock()
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				env, err := protocol.Decode(data)
				if err != nil {
					stub.t.Errorf("stub received undecodable frame: %v", err)
					continue
				}
				stub.frames <- env
			}
		}

		// Plain HTTP traffic is the stream family's session bootstrap.
		if r.URL.Path == "/" && stub.bootstrapID != "" {
			http.Redirect(w, r, "/session/"+stub.bootstrapID, http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *executorStub) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *executorStub) send(t *testing.T, raw string) {
	t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		t.Fatalf("executor stub has no client connection")
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("stub write returned error: %v", err)
	}
}

func (s *executorStub) nextFrame(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-s.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return protocol.Envelope{}
	}
}

func awaitUpdate(t *testing.T, updates <-chan protocol.TaskUpdate) protocol.TaskUpdate {
	t.Helper()
	select {
	case update := <-updates:
		return update
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for update")
		return protocol.TaskUpdate{}
	}
}

func TestRegistryCreateUnknownAdapter(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("goose-v2", Config{})
	var unknown *registry.UnknownError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownError, got %v", err)
	}
	if !reflect.DeepEqual(unknown.Known, []string{FamilyDirect, FamilyRelay, FamilyStream}) {
		t.Fatalf("unexpected known names: %v", unknown.Known)
	}
}

func TestRegistryCreateIsLazy(t *testing.T) {
	r := NewRegistry()
	adapter, err := r.Create(FamilyDirect, Config{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if adapter.Name() != FamilyDirect {
		t.Fatalf("adapter name = %q, want %q", adapter.Name(), FamilyDirect)
	}
	// Construction must not touch the network.
	if adapter.IsConnected() {
		t.Fatalf("freshly constructed adapter reports connected")
	}
}

func TestDirectPublishCarriesSessionID(t *testing.T) {
	stub := newExecutorStub(t, "")
	adapter := newDirect(Config{SessionID: "session-1", AgentID: "voice-agent", Timeout: 2 * time.Second})
	if err := adapter.Connect(context.Background(), stub.wsURL()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Disconnect(context.Background()) })

	query := <-stub.queries
	if got := query.Get("user_id"); got != "voice-agent" {
		t.Fatalf("user_id param = %q, want voice-agent", got)
	}

	if !adapter.Publish("open browser", "") {
		t.Fatalf("Publish returned false on live connection")
	}
	env := stub.nextFrame(t)
	if env.Type != protocol.TypeMessage || env.Content != "open browser" || env.SessionID != "session-1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestDirectPublishWithoutSessionIDFails(t *testing.T) {
	adapter := newDirect(Config{})
	if adapter.Publish("open browser", "") {
		t.Fatalf("Publish without a session id must fail before any I/O")
	}
}

func TestDirectNormalizesInboundEnvelopes(t *testing.T) {
	stub := newExecutorStub(t, "")
	adapter := newDirect(Config{SessionID: "session-1", Timeout: 2 * time.Second})
	if err := adapter.Connect(context.Background(), stub.wsURL()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Disconnect(context.Background()) })
	<-stub.queries

	updates := make(chan protocol.TaskUpdate, 4)
	adapter.Subscribe(func(_ context.Context, update protocol.TaskUpdate) {
		updates <- update
	})

	stub.send(t, `{"type":"task_update","status":"running","message":"navigating","progress":40}`)
	update := awaitUpdate(t, updates)
	if update.Status != protocol.StatusRunning || update.Message != "navigating" || update.Progress != 40 {
		t.Fatalf("unexpected update: %+v", update)
	}

	stub.send(t, `{"type":"response","content":"the report is ready"}`)
	update = awaitUpdate(t, updates)
	if update.Status != protocol.StatusCompleted || update.Message != "the report is ready" {
		t.Fatalf("unexpected response update: %+v", update)
	}

	stub.send(t, `{"type":"error","message":"browser crashed"}`)
	update = awaitUpdate(t, updates)
	if update.Status != protocol.StatusError || update.ErrorDetails != "browser crashed" {
		t.Fatalf("unexpected error update: %+v", update)
	}
}

func TestDirectConcurrentConnectBindsOnce(t *testing.T) {
	stub := newExecutorStub(t, "")
	adapter := newDirect(Config{SessionID: "session-1", Timeout: 2 * time.Second})
	t.Cleanup(func() { _ = adapter.Disconnect(context.Background()) })

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- adapter.Connect(context.Background(), stub.wsURL())
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("concurrent Connect calls succeeded %d times, want exactly 1", succeeded)
	}
	if !adapter.IsConnected() {
		t.Fatalf("adapter should report connected after the winning dial")
	}

	// Unblock any stub handler still parked on the handshake channel so
	// server shutdown is not held up by the losing socket.
drain:
	for {
		select {
		case <-stub.queries:
		case <-time.After(300 * time.Millisecond):
			break drain
		}
	}
}

func TestStreamBootstrapExtractsSessionID(t *testing.T) {
	stub := newExecutorStub(t, "20240101_101010")
	adapter := newStream(Config{Timeout: 2 * time.Second})
	if err := adapter.Connect(context.Background(), stub.wsURL()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Disconnect(context.Background()) })

	if adapter.SessionID() != "20240101_101010" {
		t.Fatalf("session id = %q, want bootstrapped id", adapter.SessionID())
	}
}

func TestStreamBootstrapFallsBackToGeneratedID(t *testing.T) {
	stub := newExecutorStub(t, "")
	adapter := newStream(Config{Timeout: 2 * time.Second})
	if err := adapter.Connect(context.Background(), stub.wsURL()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Disconnect(context.Background()) })

	id := adapter.SessionID()
	if _, err := time.Parse("20060102_150405", id); err != nil {
		t.Fatalf("fallback session id %q is not a timestamp id: %v", id, err)
	}
}

func TestStreamAccumulatesChunksUntilComplete(t *testing.T) {
	stub := newExecutorStub(t, "20240101_101010")
	adapter := newStream(Config{Timeout: 2 * time.Second})
	if err := adapter.Connect(context.Background(), stub.wsURL()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Disconnect(context.Background()) })
	<-stub.queries

	updates := make(chan protocol.TaskUpdate, 4)
	adapter.Subscribe(func(_ context.Context, update protocol.TaskUpdate) {
		updates <- update
	})

	stub.send(t, `{"type":"response","content":"I opened "}`)
	stub.send(t, `{"type":"thinking"}`)
	stub.send(t, `{"type":"response","content":"the browser"}`)
	stub.send(t, `{"type":"complete"}`)

	update := awaitUpdate(t, updates)
	if update.Status != protocol.StatusCompleted || update.Message != "I opened the browser" {
		t.Fatalf("unexpected flushed update: %+v", update)
	}
	if len(updates) != 0 {
		t.Fatalf("partial chunks must not be forwarded individually")
	}
}

func TestStreamErrorResetsBuffer(t *testing.T) {
	stub := newExecutorStub(t, "20240101_101010")
	adapter := newStream(Config{Timeout: 2 * time.Second})
	if err := adapter.Connect(context.Background(), stub.wsURL()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Disconnect(context.Background()) })
	<-stub.queries

	updates := make(chan protocol.TaskUpdate, 4)
	adapter.Subscribe(func(_ context.Context, update protocol.TaskUpdate) {
		updates <- update
	})

	stub.send(t, `{"type":"response","content":"half an answ"}`)
	stub.send(t, `{"type":"error","message":"context exceeded"}`)

	update := awaitUpdate(t, updates)
	if update.Status != protocol.StatusError || update.Message != "context exceeded" {
		t.Fatalf("unexpected error update: %+v", update)
	}

	// The next streamed reply must not contain the abandoned chunk.
	stub.send(t, `{"type":"response","content":"fresh answer"}`)
	stub.send(t, `{"type":"complete"}`)
	update = awaitUpdate(t, updates)
	if update.Message != "fresh answer" {
		t.Fatalf("buffer leaked across error: %+v", update)
	}
}

func TestStreamPublishCarriesBootstrappedSession(t *testing.T) {
	stub := newExecutorStub(t, "20240101_101010")
	adapter := newStream(Config{Timeout: 2 * time.Second})
	if err := adapter.Connect(context.Background(), stub.wsURL()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Disconnect(context.Background()) })
	<-stub.queries

	if !adapter.Publish("open browser", "") {
		t.Fatalf("Publish returned false on live connection")
	}
	env := stub.nextFrame(t)
	if env.Type != protocol.TypeMessage || env.SessionID != "20240101_101010" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Timestamp == 0 {
		t.Fatalf("stream publish must carry a timestamp")
	}
}
