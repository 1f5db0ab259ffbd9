// Package api exposes the agent control surface over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"agent-engine/internal/agent"
	"agent-engine/internal/domain"
	"agent-engine/internal/observability"
	"agent-engine/internal/scheduler"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Registry is the agent control surface.
type Registry interface {
	Create(ctx context.Context, req agent.CreateRequest) (*domain.Agent, error)
	Get(agentID string) (*domain.Agent, error)
	List() []*domain.Agent
	Start(ctx context.Context, agentID string) (*domain.Agent, error)
	Stop(ctx context.Context, agentID string) (*domain.Agent, error)
	Delete(ctx context.Context, agentID string) error
	Positions(agentID string, status domain.PositionStatus) ([]*domain.Position, error)
	Trades(agentID string, limit int) ([]domain.Trade, error)
	Logs(agentID string, limit int) ([]domain.AgentLog, error)
	Counts() (total, running int)
}

// Status reports scheduler progress.
type Status interface {
	Last() *scheduler.CycleResult
	Cycles() int64
	Running() bool
	Interval() time.Duration
}

// Pending reports queued persistence mutations.
type Pending interface {
	Pending() int
}

// Options for creating a Server.
type Options struct {
	Registry Registry
	Status   Status  // optional
	Pending  Pending // optional
	Logger   zerolog.Logger
	Mode     string // gin mode, defaults to release
}

// Server serves the control surface.
type Server struct {
	registry Registry
	status   Status
	pending  Pending
	log      zerolog.Logger
	started  time.Time
	engine   *gin.Engine
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	mode := opts.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	s := &Server{
		registry: opts.Registry,
		status:   opts.Status,
		pending:  opts.Pending,
		log:      opts.Logger.With().Str("component", "api").Logger(),
		started:  time.Now(),
	}

	r := gin.New()
	r.Use(requestID(), requestLogger(s.log), recovery(s.log))

	r.GET("/health", s.health)
	r.GET("/status", s.statusHandler)
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	v1 := r.Group("/api/v1")
	agents := v1.Group("/agents")
	agents.POST("", s.createAgent)
	agents.GET("", s.listAgents)
	agents.GET("/:id", s.getAgent)
	agents.DELETE("/:id", s.deleteAgent)
	agents.POST("/:id/start", s.startAgent)
	agents.POST("/:id/stop", s.stopAgent)
	agents.GET("/:id/positions", s.listPositions)
	agents.GET("/:id/trades", s.listTrades)
	agents.GET("/:id/logs", s.listLogs)

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponse struct {
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Agents        int                    `json:"agents"`
	RunningAgents int                    `json:"running_agents"`
	SchedulerOn   bool                   `json:"scheduler_running"`
	Interval      string                 `json:"interval,omitempty"`
	Cycles        int64                  `json:"cycles"`
	LastCycle     *scheduler.CycleResult `json:"last_cycle,omitempty"`
	PendingWrites int                    `json:"pending_writes"`
}

func (s *Server) statusHandler(c *gin.Context) {
	total, running := s.registry.Counts()
	resp := statusResponse{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Agents:        total,
		RunningAgents: running,
	}
	if s.status != nil {
		resp.SchedulerOn = s.status.Running()
		resp.Interval = s.status.Interval().String()
		resp.Cycles = s.status.Cycles()
		resp.LastCycle = s.status.Last()
	}
	if s.pending != nil {
		resp.PendingWrites = s.pending.Pending()
	}
	sendSuccess(c, resp)
}

func (s *Server) createAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendCustomError(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	a, err := s.registry.Create(c.Request.Context(), req.toCreate())
	if err != nil {
		sendError(c, err)
		return
	}
	sendCreated(c, newAgentDTO(a), "agent created")
}

func (s *Server) listAgents(c *gin.Context) {
	agents := s.registry.List()
	out := make([]agentDTO, 0, len(agents))
	for _, a := range agents {
		out = append(out, newAgentDTO(a))
	}
	sendSuccess(c, out)
}

func (s *Server) getAgent(c *gin.Context) {
	a, err := s.registry.Get(c.Param("id"))
	if err != nil {
		sendError(c, err)
		return
	}
	sendSuccess(c, newAgentDTO(a))
}

func (s *Server) deleteAgent(c *gin.Context) {
	if err := s.registry.Delete(c.Request.Context(), c.Param("id")); err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "agent deleted"})
}

func (s *Server) startAgent(c *gin.Context) {
	a, err := s.registry.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendError(c, err)
		return
	}
	sendSuccess(c, newAgentDTO(a))
}

func (s *Server) stopAgent(c *gin.Context) {
	a, err := s.registry.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendError(c, err)
		return
	}
	sendSuccess(c, newAgentDTO(a))
}

func (s *Server) listPositions(c *gin.Context) {
	status := domain.PositionStatus(c.Query("status"))
	switch status {
	case "", domain.PositionStatusOpening, domain.PositionStatusOpen, domain.PositionStatusClosing, domain.PositionStatusClosed:
	default:
		sendCustomError(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid status filter")
		return
	}

	positions, err := s.registry.Positions(c.Param("id"), status)
	if err != nil {
		sendError(c, err)
		return
	}
	out := make([]positionDTO, 0, len(positions))
	for _, p := range positions {
		out = append(out, newPositionDTO(p))
	}
	sendSuccess(c, out)
}

func (s *Server) listTrades(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	trades, err := s.registry.Trades(c.Param("id"), limit)
	if err != nil {
		sendError(c, err)
		return
	}
	out := make([]tradeDTO, 0, len(trades))
	for i := range trades {
		out = append(out, newTradeDTO(&trades[i]))
	}
	sendSuccess(c, out)
}

func (s *Server) listLogs(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	logs, err := s.registry.Logs(c.Param("id"), limit)
	if err != nil {
		sendError(c, err)
		return
	}
	out := make([]agentLogDTO, 0, len(logs))
	for i := range logs {
		out = append(out, newAgentLogDTO(&logs[i]))
	}
	sendSuccess(c, out)
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		sendCustomError(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(limit, maxListLimit), true
}
