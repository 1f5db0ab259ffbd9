// Package agent holds the registry of trading agents and the control
// operations on them. The registry is safe for concurrent use with the
// cycle scheduler.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-engine/internal/chain"
	"agent-engine/internal/domain"
	"agent-engine/internal/execution"
	"agent-engine/internal/persistence"
	"agent-engine/internal/position"
	"agent-engine/internal/storage"
)

const defaultJournalSize = 200

// Recorder receives state mutations for persistence.
type Recorder interface {
	Enqueue(muts ...persistence.Mutation)
}

// CreateRequest describes a new agent.
type CreateRequest struct {
	Name          string                 `json:"name"`
	Chain         string                 `json:"chain"`
	WalletAddress string                 `json:"wallet_address"`
	Strategy      domain.StrategyVariant `json:"strategy"`
	Risk          domain.RiskParams      `json:"risk"`
	Tokens        []string               `json:"tokens"`
	Start         bool                   `json:"start"`
}

// Registry owns all agents and their position books.
type Registry struct {
	exec        execution.Executor
	agents      storage.AgentStore
	recorder    Recorder
	log         zerolog.Logger
	now         func() time.Time
	journalSize int

	mu       sync.RWMutex
	runtimes map[string]*Runtime
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = l.With().Str("component", "agent_registry").Logger()
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithRecorder sets where agent mutations are enqueued.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) {
		r.recorder = rec
	}
}

// WithAgentStore sets the store used to delete agents.
func WithAgentStore(s storage.AgentStore) Option {
	return func(r *Registry) {
		r.agents = s
	}
}

// WithJournalSize sets how many recent trades and logs are kept per agent.
func WithJournalSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.journalSize = n
		}
	}
}

// NewRegistry creates an empty registry. Position books execute through exec.
func NewRegistry(exec execution.Executor, opts ...Option) *Registry {
	r := &Registry{
		exec:        exec,
		log:         zerolog.Nop(),
		now:         time.Now,
		journalSize: defaultJournalSize,
		runtimes:    make(map[string]*Runtime),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate checks a create request.
func (req CreateRequest) Validate() error {
	if req.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	if !chain.IsSupported(req.Chain) {
		return fmt.Errorf("%w: unsupported chain %q", ErrInvalidAgent, req.Chain)
	}
	if err := chain.ValidateWallet(req.Chain, req.WalletAddress); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAgent, err)
	}
	if !req.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidAgent, req.Strategy)
	}
	for _, t := range req.Tokens {
		if err := chain.ValidateToken(req.Chain, t); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAgent, err)
		}
	}

	risk := req.Risk
	switch {
	case risk.MaxPositionSize <= 0:
		return fmt.Errorf("%w: max position size must be positive", ErrInvalidAgent)
	case risk.MaxDailyTrades <= 0:
		return fmt.Errorf("%w: max daily trades must be positive", ErrInvalidAgent)
	case risk.RiskLevel < 0 || risk.RiskLevel > 10:
		return fmt.Errorf("%w: risk level must be 1..10", ErrInvalidAgent)
	case risk.StopLossPercent < 0 || risk.StopLossPercent >= 100:
		return fmt.Errorf("%w: stop loss percent must be in [0, 100)", ErrInvalidAgent)
	case risk.TakeProfitPercent < 0:
		return fmt.Errorf("%w: take profit percent must not be negative", ErrInvalidAgent)
	case risk.MaxDailyVolume < 0:
		return fmt.Errorf("%w: max daily volume must not be negative", ErrInvalidAgent)
	}
	return nil
}

// Create registers a new agent. It starts running when req.Start is set.
func (r *Registry) Create(_ context.Context, req CreateRequest) (*domain.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	a := &domain.Agent{
		AgentID:       uuid.NewString(),
		Name:          req.Name,
		Chain:         req.Chain,
		WalletAddress: req.WalletAddress,
		Strategy:      req.Strategy,
		Status:        domain.AgentStatusStopped,
		Risk:          req.Risk,
		Tokens:        append([]string(nil), req.Tokens...),
		DailyResetDay: domain.UTCDay(now),
		OpenPositions: make(map[string]string),
		CreatedAt:     now.UnixMilli(),
		UpdatedAt:     now.UnixMilli(),
	}
	if a.Risk.RiskLevel == 0 {
		a.Risk.RiskLevel = 5
	}
	if req.Start {
		a.Status = domain.AgentStatusRunning
	}

	rt, err := r.newRuntime(a)
	if err != nil {
		return nil, err
	}

	// Once published, a running agent is owned by the scheduler; everything
	// read from a must be captured before that.
	upsert := persistence.AgentUpsert(a)
	out := a.Clone()

	r.mu.Lock()
	r.runtimes[out.AgentID] = rt
	r.mu.Unlock()

	r.record(upsert)
	r.log.Info().Str("agent_id", out.AgentID).Str("strategy", string(out.Strategy)).Msg("agent created")
	return out, nil
}

// Get returns a copy of an agent.
func (r *Registry) Get(agentID string) (*domain.Agent, error) {
	rt, err := r.runtime(agentID)
	if err != nil {
		return nil, err
	}
	return rt.Snapshot(), nil
}

// List returns copies of all agents ordered by creation time.
func (r *Registry) List() []*domain.Agent {
	rts := r.all()
	out := make([]*domain.Agent, 0, len(rts))
	for _, rt := range rts {
		out = append(out, rt.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// Start marks an agent running. It is evaluated from the next cycle.
func (r *Registry) Start(ctx context.Context, agentID string) (*domain.Agent, error) {
	return r.setStatus(ctx, agentID, domain.AgentStatusRunning)
}

// Stop marks an agent stopped. A cycle already evaluating the agent
// completes; no new evaluation starts.
func (r *Registry) Stop(ctx context.Context, agentID string) (*domain.Agent, error) {
	return r.setStatus(ctx, agentID, domain.AgentStatusStopped)
}

func (r *Registry) setStatus(_ context.Context, agentID string, status domain.AgentStatus) (*domain.Agent, error) {
	rt, err := r.runtime(agentID)
	if err != nil {
		return nil, err
	}

	var out *domain.Agent
	_ = rt.With(func(a *domain.Agent, _ *position.Book) error {
		if a.Status != status {
			a.Status = status
			a.UpdatedAt = r.now().UnixMilli()
			r.record(persistence.AgentUpsert(a))
			r.log.Info().Str("agent_id", a.AgentID).Str("status", string(status)).Msg("agent status changed")
		}
		out = a.Clone()
		return nil
	})
	return out, nil
}

// Delete removes a stopped agent without open positions.
func (r *Registry) Delete(ctx context.Context, agentID string) error {
	rt, err := r.runtime(agentID)
	if err != nil {
		return err
	}

	err = rt.With(func(a *domain.Agent, book *position.Book) error {
		if a.Status == domain.AgentStatusRunning {
			return ErrAgentRunning
		}
		if len(book.Active()) > 0 {
			return ErrAgentHasPositions
		}
		return nil
	})
	if err != nil {
		return err
	}

	if r.agents != nil {
		if err := r.agents.Delete(ctx, agentID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete agent %s: %w", agentID, err)
		}
	}

	r.mu.Lock()
	delete(r.runtimes, agentID)
	r.mu.Unlock()

	r.log.Info().Str("agent_id", agentID).Msg("agent deleted")
	return nil
}

// Positions returns an agent's positions, optionally filtered by status.
func (r *Registry) Positions(agentID string, status domain.PositionStatus) ([]*domain.Position, error) {
	rt, err := r.runtime(agentID)
	if err != nil {
		return nil, err
	}
	return rt.book.All(status), nil
}

// Trades returns an agent's recent trades, newest first.
func (r *Registry) Trades(agentID string, limit int) ([]domain.Trade, error) {
	rt, err := r.runtime(agentID)
	if err != nil {
		return nil, err
	}
	return rt.Trades(limit), nil
}

// Logs returns an agent's recent logs, newest first.
func (r *Registry) Logs(agentID string, limit int) ([]domain.AgentLog, error) {
	rt, err := r.runtime(agentID)
	if err != nil {
		return nil, err
	}
	return rt.Logs(limit), nil
}

// Runtime returns the live state of an agent.
func (r *Registry) Runtime(agentID string) (*Runtime, error) {
	return r.runtime(agentID)
}

// Running returns the runtimes of running agents ordered by agent ID.
func (r *Registry) Running() []*Runtime {
	var out []*Runtime
	for _, rt := range r.all() {
		rt.mu.Lock()
		running := rt.agent.Status == domain.AgentStatusRunning
		rt.mu.Unlock()
		if running {
			out = append(out, rt)
		}
	}
	return out
}

// Counts returns the number of registered and running agents.
func (r *Registry) Counts() (total, running int) {
	rts := r.all()
	return len(rts), len(r.Running())
}

// Tokens returns the tokens agents trade or hold: every watch-list token
// of a running agent plus every token with an active position. Agents
// without a watch list trade the base universe, which is not included.
func (r *Registry) Tokens(context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, rt := range r.all() {
		rt.mu.Lock()
		if rt.agent.Status == domain.AgentStatusRunning {
			for _, t := range rt.agent.Tokens {
				seen[t] = struct{}{}
			}
		}
		rt.mu.Unlock()
		for _, p := range rt.book.Active() {
			seen[p.Token] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// Hydrate loads persisted agents and their active positions. It must be
// called before the scheduler starts.
func (r *Registry) Hydrate(ctx context.Context, stores storage.Stores) error {
	if stores.Agents == nil {
		return nil
	}

	agents, err := stores.Agents.List(ctx)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}

	loaded := make(map[string]*Runtime, len(agents))
	for _, a := range agents {
		rt, err := r.newRuntime(a.Clone())
		if err != nil {
			r.log.Warn().Err(err).Str("agent_id", a.AgentID).Msg("skipping agent with invalid strategy")
			continue
		}
		loaded[a.AgentID] = rt
	}

	var restored int
	if stores.Positions != nil {
		positions, err := stores.Positions.GetActive(ctx)
		if err != nil {
			return fmt.Errorf("load active positions: %w", err)
		}
		for _, p := range positions {
			rt, ok := loaded[p.AgentID]
			if !ok {
				r.log.Warn().Str("position_id", p.PositionID).Str("agent_id", p.AgentID).Msg("position of unknown agent")
				continue
			}
			if err := rt.book.Restore(p); err != nil {
				r.log.Warn().Err(err).Str("position_id", p.PositionID).Msg("position not restored")
				continue
			}
			if p.Status == domain.PositionStatusClosing {
				if fixed, ok := rt.book.Get(p.PositionID); ok {
					r.record(persistence.PositionUpsert(fixed))
				}
			}
			restored++
		}
	}

	r.mu.Lock()
	for id, rt := range loaded {
		rt.mu.Lock()
		rt.syncOpenPositions()
		rt.mu.Unlock()
		r.runtimes[id] = rt
	}
	r.mu.Unlock()

	r.log.Info().Int("agents", len(loaded)).Int("positions", restored).Msg("registry hydrated")
	return nil
}

func (r *Registry) newRuntime(a *domain.Agent) (*Runtime, error) {
	cfg, err := domain.StrategyConfigFor(a.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAgent, err)
	}
	if a.OpenPositions == nil {
		a.OpenPositions = make(map[string]string)
	}
	book := position.NewBook(position.BookOwner{
		AgentID: a.AgentID,
		Chain:   a.Chain,
		Wallet:  a.WalletAddress,
	}, cfg, r.exec, position.WithClock(r.now))

	return &Runtime{
		agent:  a,
		book:   book,
		trades: newJournal[domain.Trade](r.journalSize),
		logs:   newJournal[domain.AgentLog](r.journalSize),
	}, nil
}

func (r *Registry) runtime(agentID string) (*Runtime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, ok := r.runtimes[agentID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", agentID, ErrAgentNotFound)
	}
	return rt, nil
}

// all returns every runtime ordered by agent ID.
func (r *Registry) all() []*Runtime {
	r.mu.RLock()
	ids := make([]string, 0, len(r.runtimes))
	for id := range r.runtimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Runtime, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.runtimes[id])
	}
	r.mu.RUnlock()
	return out
}

func (r *Registry) record(muts ...persistence.Mutation) {
	if r.recorder != nil {
		r.recorder.Enqueue(muts...)
	}
}
