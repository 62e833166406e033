package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hermes/internal/protocol"
)

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial returned error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read returned error: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("server sent undecodable frame: %v", err)
	}
	return env
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request returned error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("health body is not JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("health status field = %v, want ok", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request returned error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestConnectAcknowledgesWithConnectionID(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := dialWS(t, ts, "user_id=voice-agent")

	env := readEnvelope(t, conn)
	if env.Type != protocol.TypeConnected {
		t.Fatalf("first frame type = %q, want connected", env.Type)
	}
	if !strings.HasPrefix(env.ConnectionID, "conn-") {
		t.Fatalf("connection id %q missing prefix", env.ConnectionID)
	}
}

func TestTaskWithoutSessionIDGetsErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := dialWS(t, ts, "")
	readEnvelope(t, conn) // connected ack

	msg := `{"type":"message","content":"open browser"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write returned error: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Type != protocol.TypeError || env.Message != "Session ID is required" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestTaskRunsThroughExecutor(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := dialWS(t, ts, "")
	readEnvelope(t, conn)

	msg := `{"type":"message","content":"open browser","session_id":"session-1"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write returned error: %v", err)
	}

	update := readEnvelope(t, conn)
	if update.Type != protocol.TypeTaskUpdate || update.Status != string(protocol.StatusRunning) {
		t.Fatalf("unexpected first envelope: %+v", update)
	}
	if update.SessionID != "session-1" {
		t.Fatalf("update session id = %q, want session-1", update.SessionID)
	}

	response := readEnvelope(t, conn)
	if response.Type != protocol.TypeTaskResponse || response.Result != "Acknowledged: open browser" {
		t.Fatalf("unexpected second envelope: %+v", response)
	}
}

func TestMalformedFrameGetsErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := dialWS(t, ts, "")
	readEnvelope(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write returned error: %v", err)
	}
	env := readEnvelope(t, conn)
	if env.Type != protocol.TypeError || env.Message != "invalid message" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestSecondConnectionRefusedWhileBound(t *testing.T) {
	ts := newTestServer(t, Config{})
	first := dialWS(t, ts, "user_id=one")
	readEnvelope(t, first)

	second := dialWS(t, ts, "user_id=two")
	env := readEnvelope(t, second)
	if env.Type != protocol.TypeError || env.Message != "another connection is active" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	// The server closes the refused connection.
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Fatalf("refused connection should be closed")
	}

	// The bound connection stays usable.
	msg := `{"type":"message","content":"hi","session_id":"session-1"}`
	if err := first.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write on bound connection returned error: %v", err)
	}
	if env := readEnvelope(t, first); env.Type != protocol.TypeTaskUpdate {
		t.Fatalf("bound connection got %+v", env)
	}
}

func TestDisconnectFreesSlotAndCleansUpExecutor(t *testing.T) {
	var mu sync.Mutex
	cleaned := 0
	factory := func(userID string) (Executor, error) {
		return &trackingExecutor{onCleanup: func() {
			mu.Lock()
			cleaned++
			mu.Unlock()
		}}, nil
	}
	ts := newTestServer(t, Config{Factory: factory})

	first := dialWS(t, ts, "")
	readEnvelope(t, first)
	_ = first.Close()

	// Cleanup is fire-and-forget; poll until the slot frees.
	deadline := time.Now().Add(2 * time.Second)
	for {
		second, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
		if err == nil {
			_ = second.SetReadDeadline(time.Now().Add(time.Second))
			_, data, err := second.ReadMessage()
			_ = second.Close()
			if err == nil {
				if env, err := protocol.Decode(data); err == nil && env.Type == protocol.TypeConnected {
					break
				}
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("slot never freed after disconnect")
		}
		time.Sleep(20 * time.Millisecond)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := cleaned >= 1
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("executor cleanup never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

type trackingExecutor struct {
	onCleanup func()
	send      func(protocol.Envelope) error
}

func (e *trackingExecutor) Initialize(context.Context) error { return nil }

func (e *trackingExecutor) SetSender(send func(protocol.Envelope) error) { e.send = send }

func (e *trackingExecutor) RunTask(_ context.Context, content, sessionID string) error {
	return e.send(protocol.Envelope{Type: protocol.TypeTaskUpdate, Status: string(protocol.StatusRunning), Message: content, SessionID: sessionID})
}

func (e *trackingExecutor) Cleanup(context.Context) error {
	e.onCleanup()
	return nil
}

func TestExecutorInitFailureClosesConnection(t *testing.T) {
	factory := func(string) (Executor, error) {
		return nil, context.DeadlineExceeded
	}
	ts := newTestServer(t, Config{Factory: factory})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial returned error: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("connection should close when executor init fails")
	}
}
