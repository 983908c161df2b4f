package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is read-only and served off the trading host; browsers
	// on any origin may watch it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "solfunk",
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"ws_clients": s.hub.ClientCount(),
		"time":       time.Now().UTC(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.deps.Status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "status source not configured",
		})
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.JSON(http.StatusOK, gin.H{
		"status": s.deps.Status.Status(c.Request.Context()),
		"system": gin.H{
			"goroutines": runtime.NumGoroutine(),
			"alloc_mb":   toMB(memStats.Alloc),
			"sys_mb":     toMB(memStats.Sys),
			"go_version": runtime.Version(),
		},
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	if s.deps.Positions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "position store not configured",
		})
		return
	}

	poss, err := s.deps.Positions.Positions(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list positions")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to retrieve positions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"positions": poss,
		"total":     len(poss),
	})
}

func (s *Server) handleBudget(c *gin.Context) {
	if s.deps.Budget == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "budget governor not configured",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"budget":    s.deps.Budget.Snapshot(),
		"remaining": s.deps.Budget.Remaining(),
		"exhausted": s.deps.Budget.Exhausted(),
	})
}

func (s *Server) handleLearner(c *gin.Context) {
	if s.deps.Learner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "learner not configured",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"learner": s.deps.Learner.Snapshot(),
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 64),
		log:  s.log,
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func toMB(b uint64) float64 {
	return float64(b) / (1 << 20)
}
