// Package adminhttp exposes gobbyd's operational surface: health and
// readiness probes plus a WebSocket stream a dashboard process can
// attach to for live bus events. The tool-protocol transport itself
// (spec.md §1, §6) is out of scope — this package never dispatches a
// tool call, it only reports on and streams from the daemon already
// running.
package adminhttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/gobby-dev/gobby/pkg/bus"
	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/store"
)

// Stats summarizes the loaded configuration for the health payload,
// the way the teacher's cfg.Stats() feeds its /health handler.
type Stats struct {
	Workflows int
	Agents    int
	Parties   int
	Pipelines int
}

func statsFromConfig(cfg *config.Config) Stats {
	return Stats{
		Workflows: len(cfg.Workflows.All()),
		Agents:    len(cfg.Agents.All()),
		Parties:   len(cfg.Parties.All()),
		Pipelines: len(cfg.Pipelines.All()),
	}
}

// Server wires the gin router the daemon serves admin traffic on.
type Server struct {
	router *gin.Engine
	store  *store.Store
	cfg    *config.Config
	bus    *bus.Bus
}

// New builds the router and registers every route. cfg may be swapped
// out from under a running Server by a later Reload; New captures the
// pointer it's given only to read its Stats at request time, same as
// pkg/workflow/index.Index holds one live *config.Config.
func New(st *store.Store, cfg *config.Config, b *bus.Bus) *Server {
	s := &Server{router: gin.Default(), store: st, cfg: cfg, bus: b}
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/readyz", s.handleReadyz)
	s.router.GET("/ws", s.handleWebSocket)
	return s
}

// Run starts the HTTP server and blocks, mirroring the teacher's
// router.Run(":" + httpPort) call in cmd/tarsy/main.go.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Pool.Ping(reqCtx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unreachable",
			"error":    err.Error(),
		})
		return
	}

	stats := statsFromConfig(s.cfg)
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "connected",
		"configuration": gin.H{
			"workflows": stats.Workflows,
			"agents":    stats.Agents,
			"parties":   stats.Parties,
			"pipelines": stats.Pipelines,
		},
		"bus": gin.H{
			"connections": s.bus.ActiveConnections(),
		},
	})
}

// handleReadyz is a liveness-only probe, cheaper than /health: it
// never round-trips to the database, so an orchestrator can poll it
// far more often without adding load.
func (s *Server) handleReadyz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// handleWebSocket upgrades the connection via coder/websocket and
// hands it to pkg/bus for its lifetime; HandleConnection blocks until
// the client disconnects.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("adminhttp: websocket upgrade failed", "error", err)
		return
	}
	s.bus.HandleConnection(c.Request.Context(), conn)
}
