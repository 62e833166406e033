package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"hermes/internal/logging"
	"hermes/internal/protocol"
)

// Config tunes the executor-facing server.
type Config struct {
	Host         string
	Port         int
	EnableCORS   bool
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Factory builds the per-connection executor. Defaults to AckExecutor.
	Factory ExecutorFactory
	Logger  logging.Logger
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.Factory == nil {
		c.Factory = func(userID string) (Executor, error) {
			return NewAckExecutor(userID), nil
		}
	}
	c.Logger = logging.OrNop(c.Logger)
	return c
}

// Server exposes one WebSocket endpoint for conversational clients plus
// health and metrics routes.
type Server struct {
	cfg      Config
	engine   *gin.Engine
	upgrader websocket.Upgrader
	manager  *ConnectionManager
	metrics  *metrics
	logger   logging.Logger

	startTime time.Time
}

// New builds a server; Run starts it.
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	m := newMetrics()
	s := &Server{
		cfg:    cfg,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		manager:   newConnectionManager(cfg.Factory, cfg.Logger, m),
		metrics:   m,
		logger:    cfg.Logger,
		startTime: time.Now(),
	}

	engine.GET("/ws", s.handleWebSocket)
	engine.GET("/api/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(m.handler()))
	return s
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.Info("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func (s *Server) handleWebSocket(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		userID = "anonymous"
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed: %v", err)
		return
	}

	if _, err := s.manager.Bind(c.Request.Context(), conn, userID); err != nil {
		if err == ErrAlreadyBound {
			data, _ := protocol.Envelope{Type: protocol.TypeError, Message: "another connection is active"}.Encode()
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		_ = conn.Close()
		return
	}
	defer func() {
		s.manager.Unbind()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.manager.HandleFrame(c.Request.Context(), data)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"uptime":             time.Since(s.startTime).String(),
		"active_connections": s.manager.ConnectionCount(),
	})
}
