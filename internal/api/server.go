// Package api serves the read-only status surface: a small JSON API
// over the agent's live state and a WebSocket feed of status and
// trade frames. Nothing here mutates the agent.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/budget"
	"github.com/ajitpratap0/solfunk/internal/config"
	"github.com/ajitpratap0/solfunk/internal/learner"
	"github.com/ajitpratap0/solfunk/internal/metrics"
	"github.com/ajitpratap0/solfunk/internal/positions"
)

// Status is the agent snapshot served on /api/v1/status and pushed
// to WebSocket clients.
type Status struct {
	State         string    `json:"state"`
	Live          bool      `json:"live"`
	BalanceSOL    float64   `json:"balance_sol"`
	BaselineSOL   float64   `json:"baseline_sol"`
	OpenPositions int       `json:"open_positions"`
	TradesTotal   int       `json:"trades_total"`
	WinRatePct    float64   `json:"win_rate_pct"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// StatusSource supplies the live snapshot. Implemented by the
// orchestrator.
type StatusSource interface {
	Status(ctx context.Context) Status
}

// PositionSource lists current holdings. Satisfied by
// *positions.Store.
type PositionSource interface {
	Positions(ctx context.Context) ([]positions.Position, error)
}

// BudgetSource reports RPC budget consumption. Satisfied by
// *budget.Governor.
type BudgetSource interface {
	Snapshot() budget.State
	Remaining() int64
	Exhausted() bool
}

// LearnerSource exposes the learner's pattern table. Satisfied by
// *learner.Learner.
type LearnerSource interface {
	Snapshot() learner.Snapshot
}

// Deps are the read-only views the server exposes. Any of them may be
// nil; the matching endpoint then reports not configured.
type Deps struct {
	Status    StatusSource
	Positions PositionSource
	Budget    BudgetSource
	Learner   LearnerSource
}

// Server is the HTTP server around the status API and WebSocket hub.
type Server struct {
	router *gin.Engine
	hub    *Hub
	deps   Deps
	addr   string
	server *http.Server
	log    zerolog.Logger
	stop   chan struct{}
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(cfg config.APIConfig, deps Deps, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	log = log.With().Str("component", "api").Logger()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestMiddleware(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		router: router,
		hub:    NewHub(log),
		deps:   deps,
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		log:    log,
		stop:   make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/positions", s.handlePositions)
		v1.GET("/budget", s.handleBudget)
		v1.GET("/learner", s.handleLearner)
	}
}

// Hub returns the WebSocket hub for broadcasting.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the hub and serves HTTP. Blocks until Stop or a listen
// failure.
func (s *Server) Start() error {
	go s.hub.Run(s.stop)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", s.addr).Msg("Starting status API")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status API listen on %s: %w", s.addr, err)
	}
	return nil
}

// Stop shuts the server down and disconnects WebSocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("Stopping status API")

	close(s.stop)
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("status API shutdown: %w", err)
		}
	}
	return nil
}

// requestMiddleware logs each request and feeds the API metrics.
func requestMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		metrics.RecordAPIRequest(c.Request.Method, path, fmt.Sprintf("%d", status), float64(latency.Milliseconds()))

		event := log.Debug().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("API request")
	}
}
