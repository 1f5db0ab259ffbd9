// Package position manages the lifecycle of an agent's positions:
// opening, marking to market, protective exits and closes.
package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"agent-engine/internal/domain"
	"agent-engine/internal/execution"
	"agent-engine/internal/idhash"
)

// Sentinel errors.
var (
	// ErrPositionAlreadyOpen means the agent already holds a non-closed
	// position in the token.
	ErrPositionAlreadyOpen = errors.New("position already open for token")
	ErrPositionNotFound    = errors.New("position not found")
	ErrInvalidTransition   = errors.New("invalid position state transition")
	// ErrExecutionFailed wraps executor errors. The returned failed trade
	// records the attempt; the position is left as it was before the call.
	ErrExecutionFailed = errors.New("trade execution failed")
)

// TradeMeta is the audit context attached to a trade.
type TradeMeta struct {
	Reasoning  string
	Confidence float64
	CycleTime  int64 // Unix ms, part of the idempotency key
}

// OpenRequest describes a new position.
type OpenRequest struct {
	Token         string
	Amount        float64 // quote to spend
	Price         float64 // reference price
	StopLossPct   float64
	TakeProfitPct float64
	Fingerprint   string
	Signals       []string
	Meta          TradeMeta
}

// Trigger is a protective exit condition hit while marking.
type Trigger struct {
	PositionID string
	Token      string
	Reason     string
	Price      float64
}

// Book holds the positions of one agent, keyed by position ID.
// All methods are safe for concurrent use; a non-closed position reserves
// its token until it is closed.
type Book struct {
	agent    BookOwner
	trailPct float64
	armPct   float64
	exec     execution.Executor
	now      func() time.Time

	mu        sync.Mutex
	positions map[string]*domain.Position
	active    map[string]string // token -> position_id
}

// BookOwner identifies the agent a book trades for.
type BookOwner struct {
	AgentID string
	Chain   string
	Wallet  string
}

// Option configures a Book.
type Option func(*Book)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Book) {
		b.now = now
	}
}

// NewBook creates an empty book. Trailing stops follow cfg.
func NewBook(owner BookOwner, cfg domain.StrategyConfig, exec execution.Executor, opts ...Option) *Book {
	b := &Book{
		agent:     owner,
		trailPct:  cfg.TrailPct,
		armPct:    cfg.TrailArmPct,
		exec:      exec,
		now:       time.Now,
		positions: make(map[string]*domain.Position),
		active:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Restore loads a persisted position, e.g. at startup.
func (b *Book) Restore(p *domain.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := p.Clone()
	if c.IsActive() {
		if id, ok := b.active[c.Token]; ok && id != c.PositionID {
			return fmt.Errorf("restore %s: %w", c.PositionID, ErrPositionAlreadyOpen)
		}
		// An interrupted transition is resolved back to a stable state.
		switch c.Status {
		case domain.PositionStatusOpening:
			return nil
		case domain.PositionStatusClosing:
			c.Status = domain.PositionStatusOpen
		}
		b.active[c.Token] = c.PositionID
	}
	b.positions[c.PositionID] = c
	return nil
}

// Get returns a copy of a position.
func (b *Book) Get(positionID string) (*domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[positionID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// ActiveFor returns a copy of the non-closed position in token.
func (b *Book) ActiveFor(token string) (*domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.active[token]
	if !ok {
		return nil, false
	}
	return b.positions[id].Clone(), true
}

// Active returns copies of all non-closed positions ordered by token.
func (b *Book) Active() []*domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*domain.Position, 0, len(b.active))
	for _, id := range b.active {
		out = append(out, b.positions[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// All returns copies of every position, optionally filtered by status,
// ordered by open time.
func (b *Book) All(status domain.PositionStatus) []*domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if status == "" || p.Status == status {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt != out[j].OpenedAt {
			return out[i].OpenedAt < out[j].OpenedAt
		}
		return out[i].PositionID < out[j].PositionID
	})
	return out
}

// Prune drops closed positions closed before cutoff (Unix ms).
func (b *Book) Prune(cutoff int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for id, p := range b.positions {
		if p.Status == domain.PositionStatusClosed && p.ClosedAt < cutoff {
			delete(b.positions, id)
			n++
		}
	}
	return n
}

// Open executes a buy and records a new position.
//
// The token is reserved (status opening) before execution. On execution
// failure the reservation is released and a failed trade is returned with
// ErrExecutionFailed.
func (b *Book) Open(ctx context.Context, req OpenRequest) (*domain.Position, *domain.Trade, error) {
	if req.Amount <= 0 || req.Price <= 0 {
		return nil, nil, fmt.Errorf("open %s: amount and price must be positive", req.Token)
	}
	if req.StopLossPct <= 0 || req.StopLossPct >= 100 || req.TakeProfitPct <= 0 {
		return nil, nil, fmt.Errorf("open %s: invalid protective percents %v/%v", req.Token, req.StopLossPct, req.TakeProfitPct)
	}

	now := b.now().UnixMilli()

	b.mu.Lock()
	if id, ok := b.active[req.Token]; ok {
		b.mu.Unlock()
		return nil, nil, fmt.Errorf("open %s (held by %s): %w", req.Token, id, ErrPositionAlreadyOpen)
	}
	p := &domain.Position{
		PositionID:  uuid.NewString(),
		AgentID:     b.agent.AgentID,
		Token:       req.Token,
		Side:        domain.SideLong,
		Status:      domain.PositionStatusOpening,
		Fingerprint: req.Fingerprint,
		Signals:     append([]string(nil), req.Signals...),
		OpenedAt:    now,
		UpdatedAt:   now,
	}
	b.positions[p.PositionID] = p
	b.active[p.Token] = p.PositionID
	b.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			delete(b.positions, p.PositionID)
			delete(b.active, p.Token)
			b.mu.Unlock()
			panic(r)
		}
	}()

	fill, err := b.execute(ctx, execution.TradeRequest{
		RequestID: idhash.ComputeTradeKey(b.agent.AgentID, req.Token, domain.TradeTypeBuy, req.Meta.CycleTime),
		AgentID:   b.agent.AgentID,
		Chain:     b.agent.Chain,
		Wallet:    b.agent.Wallet,
		Token:     req.Token,
		Type:      domain.TradeTypeBuy,
		Amount:    req.Amount,
		Price:     req.Price,
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		delete(b.positions, p.PositionID)
		delete(b.active, p.Token)
		t := b.trade(p, domain.TradeTypeBuy, req.Meta)
		t.PositionID = ""
		t.Status = domain.TradeStatusFailed
		t.Amount = req.Amount
		t.Price = req.Price
		t.Error = err.Error()
		return nil, t, fmt.Errorf("open %s: %w: %v", req.Token, ErrExecutionFailed, err)
	}

	entry := fill.Price
	p.Size = fill.Quantity
	p.CostBasis = fill.Amount
	p.EntryCost = fill.Amount
	p.AvgEntryPrice = entry
	p.CurrentPrice = entry
	p.HighestPrice = entry
	p.StopLossPrice = entry * (1 - req.StopLossPct/100)
	p.TakeProfitPrice = entry * (1 + req.TakeProfitPct/100)
	p.Status = domain.PositionStatusOpen
	p.UpdatedAt = b.now().UnixMilli()

	t := b.trade(p, domain.TradeTypeBuy, req.Meta)
	t.Amount = fill.Amount
	t.Price = fill.Price
	t.Quantity = fill.Quantity
	t.TxID = fill.TxID

	return p.Clone(), t, nil
}

// Mark updates open positions with current prices and returns the
// protective exits hit, ordered by token. Per position at most one trigger
// is returned: stop-loss, then take-profit, then trailing stop.
func (b *Book) Mark(prices map[string]float64) []Trigger {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UnixMilli()
	var triggers []Trigger

	for token, id := range b.active {
		p := b.positions[id]
		price, ok := prices[token]
		if !ok || price <= 0 || p.Status != domain.PositionStatusOpen {
			continue
		}

		p.CurrentPrice = price
		if price > p.HighestPrice {
			p.HighestPrice = price
		}
		if !p.TrailingArmed && p.HighestPrice >= p.AvgEntryPrice*(1+b.armPct/100) {
			p.TrailingArmed = true
		}
		if p.TrailingArmed {
			stop := p.HighestPrice * (1 - b.trailPct/100)
			if stop > p.TrailingStopPrice {
				p.TrailingStopPrice = stop
			}
		}
		p.UnrealizedPnl = unrealized(p)
		p.UpdatedAt = now

		reason := ""
		switch {
		case price <= p.StopLossPrice:
			reason = domain.ExitReasonStopLoss
		case price >= p.TakeProfitPrice:
			reason = domain.ExitReasonTakeProfit
		case p.TrailingArmed && price <= p.TrailingStopPrice:
			reason = domain.ExitReasonTrailingStop
		}
		if reason != "" {
			triggers = append(triggers, Trigger{PositionID: id, Token: token, Reason: reason, Price: price})
		}
	}

	sort.Slice(triggers, func(i, j int) bool { return triggers[i].Token < triggers[j].Token })
	return triggers
}

// Close sells the whole position. Realized PnL uses the executor's fill
// price (market-stop semantics), not the trigger price. On execution
// failure the position returns to open and a failed trade is returned.
func (b *Book) Close(ctx context.Context, positionID, reason string, price float64, meta TradeMeta) (*domain.Position, *domain.Trade, error) {
	snap, err := b.beginExit(positionID)
	if err != nil {
		return nil, nil, err
	}
	defer b.revertOnPanic(snap.PositionID)

	fill, execErr := b.execute(ctx, execution.TradeRequest{
		RequestID: idhash.ComputeTradeKey(b.agent.AgentID, snap.Token, domain.TradeTypeClose, meta.CycleTime),
		AgentID:   b.agent.AgentID,
		Chain:     b.agent.Chain,
		Wallet:    b.agent.Wallet,
		Token:     snap.Token,
		Type:      domain.TradeTypeClose,
		Quantity:  snap.Size,
		Price:     price,
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	if execErr != nil {
		return nil, b.failExit(snap, domain.TradeTypeClose, price, snap.Size, meta, execErr), fmt.Errorf("close %s: %w: %v", snap.Token, ErrExecutionFailed, execErr)
	}

	p := b.positions[snap.PositionID]
	pnl := decimal.NewFromFloat(fill.Amount).Sub(decimal.NewFromFloat(p.CostBasis))
	realized := decimal.NewFromFloat(p.RealizedPnl).Add(pnl)

	now := b.now().UnixMilli()
	p.RealizedPnl = realized.InexactFloat64()
	p.CurrentPrice = fill.Price
	p.UnrealizedPnl = 0
	p.CostBasis = 0
	p.Status = domain.PositionStatusClosed
	p.ExitReason = reason
	p.ClosedAt = now
	p.UpdatedAt = now
	delete(b.active, p.Token)

	t := b.trade(p, domain.TradeTypeClose, meta)
	t.Amount = fill.Amount
	t.Price = fill.Price
	t.Quantity = fill.Quantity
	t.RealizedPnl = pnl.InexactFloat64()
	t.TxID = fill.TxID

	return p.Clone(), t, nil
}

// Reduce sells fraction (0, 1) of a position and returns it to open.
// A fraction of 1 or more closes the position.
func (b *Book) Reduce(ctx context.Context, positionID string, fraction, price float64, meta TradeMeta) (*domain.Position, *domain.Trade, error) {
	if fraction >= 1 {
		return b.Close(ctx, positionID, domain.ExitReasonSignal, price, meta)
	}
	if fraction <= 0 {
		return nil, nil, fmt.Errorf("reduce %s: fraction must be positive, got %v", positionID, fraction)
	}

	snap, err := b.beginExit(positionID)
	if err != nil {
		return nil, nil, err
	}
	defer b.revertOnPanic(snap.PositionID)

	qty := decimal.NewFromFloat(snap.Size).Mul(decimal.NewFromFloat(fraction))

	fill, execErr := b.execute(ctx, execution.TradeRequest{
		RequestID: idhash.ComputeTradeKey(b.agent.AgentID, snap.Token, domain.TradeTypeSell, meta.CycleTime),
		AgentID:   b.agent.AgentID,
		Chain:     b.agent.Chain,
		Wallet:    b.agent.Wallet,
		Token:     snap.Token,
		Type:      domain.TradeTypeSell,
		Quantity:  qty.InexactFloat64(),
		Price:     price,
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	if execErr != nil {
		return nil, b.failExit(snap, domain.TradeTypeSell, price, qty.InexactFloat64(), meta, execErr), fmt.Errorf("reduce %s: %w: %v", snap.Token, ErrExecutionFailed, execErr)
	}

	p := b.positions[snap.PositionID]
	sold := decimal.NewFromFloat(fill.Quantity)
	size := decimal.NewFromFloat(p.Size)
	cost := decimal.NewFromFloat(p.CostBasis)
	costSold := cost.Mul(sold).Div(size)
	pnl := decimal.NewFromFloat(fill.Amount).Sub(costSold)

	p.Size = size.Sub(sold).InexactFloat64()
	p.CostBasis = cost.Sub(costSold).InexactFloat64()
	p.RealizedPnl = decimal.NewFromFloat(p.RealizedPnl).Add(pnl).InexactFloat64()
	p.CurrentPrice = fill.Price
	p.UnrealizedPnl = unrealized(p)
	p.Status = domain.PositionStatusOpen
	p.UpdatedAt = b.now().UnixMilli()

	t := b.trade(p, domain.TradeTypeSell, meta)
	t.Amount = fill.Amount
	t.Price = fill.Price
	t.Quantity = fill.Quantity
	t.RealizedPnl = pnl.InexactFloat64()
	t.TxID = fill.TxID

	return p.Clone(), t, nil
}

type execResult struct {
	fill      *execution.Fill
	err       error
	recovered any
}

// execute runs one trade under ctx. A call still in flight when ctx ends is
// abandoned and reported as an error; its fill, if any, is discarded.
// Executor panics are re-raised on the calling goroutine.
func (b *Book) execute(ctx context.Context, req execution.TradeRequest) (*execution.Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("not submitted: %w", err)
	}

	done := make(chan execResult, 1)
	go func() {
		var res execResult
		defer func() {
			res.recovered = recover()
			done <- res
		}()
		res.fill, res.err = b.exec.ExecuteTrade(ctx, req)
	}()

	select {
	case res := <-done:
		if res.recovered != nil {
			panic(res.recovered)
		}
		if res.err != nil {
			return nil, res.err
		}
		if err := res.fill.Validate(); err != nil {
			return nil, err
		}
		return res.fill, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("abandoned: %w", ctx.Err())
	}
}

// revertOnPanic returns a closing position to open if the executor panics,
// then re-panics.
func (b *Book) revertOnPanic(positionID string) {
	r := recover()
	if r == nil {
		return
	}
	b.mu.Lock()
	if p, ok := b.positions[positionID]; ok && p.Status == domain.PositionStatusClosing {
		p.Status = domain.PositionStatusOpen
	}
	b.mu.Unlock()
	panic(r)
}

// beginExit moves an open position to closing and returns a snapshot of it.
func (b *Book) beginExit(positionID string) (domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[positionID]
	if !ok {
		return domain.Position{}, fmt.Errorf("%s: %w", positionID, ErrPositionNotFound)
	}
	if p.Status != domain.PositionStatusOpen {
		return domain.Position{}, fmt.Errorf("exit %s from %s: %w", positionID, p.Status, ErrInvalidTransition)
	}
	p.Status = domain.PositionStatusClosing
	return *p, nil
}

// failExit reverts a closing position to open and builds the failed trade.
// The caller holds b.mu.
func (b *Book) failExit(snapshot domain.Position, tradeType string, price, qty float64, meta TradeMeta, err error) *domain.Trade {
	p := b.positions[snapshot.PositionID]
	p.Status = domain.PositionStatusOpen
	p.UpdatedAt = b.now().UnixMilli()

	t := b.trade(p, tradeType, meta)
	t.Status = domain.TradeStatusFailed
	t.Price = price
	t.Quantity = qty
	t.Error = err.Error()
	return t
}

func (b *Book) trade(p *domain.Position, tradeType string, meta TradeMeta) *domain.Trade {
	return &domain.Trade{
		TradeID:    uuid.NewString(),
		AgentID:    b.agent.AgentID,
		PositionID: p.PositionID,
		Token:      p.Token,
		Type:       tradeType,
		Status:     domain.TradeStatusFilled,
		Reasoning:  meta.Reasoning,
		Confidence: meta.Confidence,
		Timestamp:  b.now().UnixMilli(),
	}
}

func unrealized(p *domain.Position) float64 {
	value := decimal.NewFromFloat(p.Size).Mul(decimal.NewFromFloat(p.CurrentPrice))
	return value.Sub(decimal.NewFromFloat(p.CostBasis)).InexactFloat64()
}
