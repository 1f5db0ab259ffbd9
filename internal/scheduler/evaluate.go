package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-engine/internal/agent"
	"agent-engine/internal/decision"
	"agent-engine/internal/domain"
	"agent-engine/internal/idhash"
	"agent-engine/internal/learning"
	"agent-engine/internal/observability"
	"agent-engine/internal/persistence"
	"agent-engine/internal/position"
	"agent-engine/internal/risk"
)

type agentResult struct {
	evaluated bool
	failed    bool
	trades    int
	opened    int
	closed    int
	rejected  int
	open      int
}

// evaluation is the state of one agent's evaluation within a cycle.
type evaluation struct {
	s      *Scheduler
	rt     *agent.Runtime
	a      *domain.Agent
	book   *position.Book
	snap   *domain.SignalSnapshot
	now    time.Time
	ref    string
	log    zerolog.Logger
	muts   []persistence.Mutation
	result agentResult
}

// evaluateAgent runs one agent's evaluation. Errors and panics are
// contained: they are logged, recorded as an error AgentLog and never
// affect other agents. Past AgentTimeout no trade is submitted, and an
// execution still in flight is abandoned.
func (s *Scheduler) evaluateAgent(ctx context.Context, rt *agent.Runtime, snap *domain.SignalSnapshot, now time.Time) agentResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AgentTimeout)
	defer cancel()

	var res agentResult
	_ = rt.With(func(a *domain.Agent, book *position.Book) error {
		// Stop is observed here, at the cycle boundary.
		if a.Status != domain.AgentStatusRunning {
			res.open = len(book.Active())
			return nil
		}

		ev := &evaluation{
			s:    s,
			rt:   rt,
			a:    a,
			book: book,
			snap: snap,
			now:  now,
			ref:  idhash.ComputeSnapshotRef(snap.CycleTime()),
			log:  s.log.With().Str("agent_id", a.AgentID).Int64("cycle", snap.CycleTime()).Logger(),
		}
		if err := ev.safeRun(ctx); err != nil {
			ev.result.failed = true
			observability.RecordEvaluation("failed")
			ev.log.Error().Err(err).Msg("agent evaluation failed")
			ev.appendLog(domain.LogLevelError, "error", "", 0, err.Error())
		}
		agent.SyncOpenPositions(a, book)
		ev.flushMutations()
		ev.result.open = len(book.Active())
		res = ev.result
		return nil
	})
	return res
}

func (ev *evaluation) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ev.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("agent evaluation panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ev.run(ctx)
}

func (ev *evaluation) run(ctx context.Context) error {
	a := ev.a

	if risk.ResetDaily(a, ev.now) {
		ev.touchAgent()
	}

	// Protective exits come before any new decision.
	prices := make(map[string]float64)
	for _, p := range ev.book.Active() {
		if price, ok := ev.snap.Price(p.Token); ok {
			prices[p.Token] = price
		}
	}
	triggers := ev.book.Mark(prices)
	for _, p := range ev.book.Active() {
		if _, ok := prices[p.Token]; ok {
			ev.muts = append(ev.muts, persistence.PositionUpsert(p))
		}
	}
	for _, tr := range triggers {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("exits skipped: %w", err)
		}
		meta := position.TradeMeta{
			Reasoning: fmt.Sprintf("%s hit at %.8g", tr.Reason, tr.Price),
			CycleTime: ev.snap.CycleTime(),
		}
		ev.close(ctx, tr.PositionID, tr.Reason, tr.Price, meta)
	}

	agent.SyncOpenPositions(a, ev.book)

	d, err := ev.s.engine.Evaluate(a, ev.snap, ev.book.Active(), ev.learningView())
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	ev.result.evaluated = true

	if d.Action != domain.ActionHold {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s %s skipped: %w", d.Action, d.Token, err)
		}
	}

	switch d.Action {
	case domain.ActionHold:
		observability.RecordEvaluation(string(domain.ActionHold))
		ev.appendLog(domain.LogLevelInfo, string(d.Action), d.Token, d.Confidence, d.Reasoning)
		return nil
	case domain.ActionBuy:
		return ev.buy(ctx, d)
	case domain.ActionSell, domain.ActionClose:
		return ev.exit(ctx, d)
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
}

func (ev *evaluation) learningView() decision.Learning {
	if ev.s.learning == nil {
		return ev.s.baseline
	}
	return ev.s.learning.View()
}

func (ev *evaluation) buy(ctx context.Context, d domain.Decision) error {
	auth, err := ev.s.governor.Authorize(ev.a, d, ev.now)
	if err != nil {
		rej, ok := risk.IsRejection(err)
		if !ok {
			return fmt.Errorf("authorize: %w", err)
		}
		ev.result.rejected++
		observability.RecordEvaluation("rejected")
		observability.RecordRiskRejection(rej.Reason)
		ev.log.Info().Str("token", d.Token).Str("reason", rej.Reason).Msg("buy rejected by risk governor")
		ev.appendLog(domain.LogLevelWarn, "rejected", d.Token, d.Confidence,
			fmt.Sprintf("%s; rejected: %s", d.Reasoning, rej.Error()))
		return nil
	}

	d = auth.Decision
	reasoning := d.Reasoning
	if auth.Cooldown {
		reasoning += "; cooldown: size reduced"
	}
	meta := position.TradeMeta{Reasoning: reasoning, Confidence: d.Confidence, CycleTime: ev.snap.CycleTime()}

	p, trade, err := ev.book.Open(ctx, position.OpenRequest{
		Token:         d.Token,
		Amount:        d.Size,
		Price:         d.Price,
		StopLossPct:   d.StopLossPct,
		TakeProfitPct: d.TakeProfitPct,
		Fingerprint:   d.Fingerprint,
		Signals:       d.Signals,
		Meta:          meta,
	})
	if trade != nil {
		ev.recordTrade(trade)
	}
	if err != nil {
		if errors.Is(err, position.ErrExecutionFailed) {
			observability.RecordEvaluation("execution_failed")
			ev.log.Warn().Err(err).Str("token", d.Token).Msg("buy execution failed")
			ev.appendLog(domain.LogLevelError, string(d.Action), d.Token, d.Confidence, fmt.Sprintf("%s; execution failed: %v", reasoning, err))
			return nil
		}
		return fmt.Errorf("open %s: %w", d.Token, err)
	}

	ev.s.governor.RecordOpen(ev.a, trade.Amount, ev.now)
	ev.a.TotalTrades++
	ev.touchAgent()
	ev.muts = append(ev.muts, persistence.PositionUpsert(p))
	ev.result.opened++
	observability.RecordEvaluation(string(d.Action))
	ev.log.Info().Str("token", d.Token).Float64("amount", trade.Amount).Float64("price", trade.Price).Msg("position opened")
	ev.appendLog(domain.LogLevelInfo, string(d.Action), d.Token, d.Confidence, reasoning)
	return nil
}

func (ev *evaluation) exit(ctx context.Context, d domain.Decision) error {
	held, ok := ev.book.ActiveFor(d.Token)
	if !ok {
		return fmt.Errorf("%s %s: %w", d.Action, d.Token, position.ErrPositionNotFound)
	}
	meta := position.TradeMeta{Reasoning: d.Reasoning, Confidence: d.Confidence, CycleTime: ev.snap.CycleTime()}

	if d.Action == domain.ActionClose {
		ev.close(ctx, held.PositionID, domain.ExitReasonSignal, d.Price, meta)
		observability.RecordEvaluation(string(d.Action))
		ev.appendLog(domain.LogLevelInfo, string(d.Action), d.Token, d.Confidence, d.Reasoning)
		return nil
	}

	p, trade, err := ev.book.Reduce(ctx, held.PositionID, d.Size, d.Price, meta)
	if trade != nil {
		ev.recordTrade(trade)
	}
	if err != nil {
		if errors.Is(err, position.ErrExecutionFailed) {
			observability.RecordEvaluation("execution_failed")
			ev.appendLog(domain.LogLevelError, string(d.Action), d.Token, d.Confidence, fmt.Sprintf("%s; execution failed: %v", d.Reasoning, err))
			return nil
		}
		return fmt.Errorf("reduce %s: %w", d.Token, err)
	}

	ev.a.TotalTrades++
	ev.touchAgent()
	ev.muts = append(ev.muts, persistence.PositionUpsert(p))
	if p.Status == domain.PositionStatusClosed {
		ev.closed(p)
	}
	observability.RecordEvaluation(string(d.Action))
	ev.appendLog(domain.LogLevelInfo, string(d.Action), d.Token, d.Confidence, d.Reasoning)
	return nil
}

// close executes a full exit. Execution failures leave the position open
// and are logged; they are retried by the next cycle's triggers.
func (ev *evaluation) close(ctx context.Context, positionID, reason string, price float64, meta position.TradeMeta) {
	p, trade, err := ev.book.Close(ctx, positionID, reason, price, meta)
	if trade != nil {
		ev.recordTrade(trade)
	}
	if err != nil {
		ev.log.Warn().Err(err).Str("position_id", positionID).Str("reason", reason).Msg("close failed")
		token := ""
		if trade != nil {
			token = trade.Token
		}
		ev.appendLog(domain.LogLevelError, string(domain.ActionClose), token, meta.Confidence,
			fmt.Sprintf("%s; close failed: %v", meta.Reasoning, err))
		return
	}

	ev.a.TotalTrades++
	ev.touchAgent()
	ev.muts = append(ev.muts, persistence.PositionUpsert(p))
	ev.closed(p)
	if reason != domain.ExitReasonSignal {
		ev.appendLog(domain.LogLevelInfo, string(domain.ActionClose), p.Token, 0, meta.Reasoning)
	}
}

// closed feeds a closed position's outcome to the governor and the
// learning store.
func (ev *evaluation) closed(p *domain.Position) {
	ev.result.closed++
	ev.s.governor.RecordClose(ev.a, p.RealizedPnl, ev.now)
	observability.RecordPositionClosed(p.ExitReason)
	ev.log.Info().
		Str("token", p.Token).
		Str("reason", p.ExitReason).
		Float64("realized_pnl", p.RealizedPnl).
		Msg("position closed")

	if ev.s.learning == nil || p.Fingerprint == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ev.s.cfg.FlushTimeout)
	defer cancel()
	err := ev.s.learning.RecordOutcome(ctx, learning.Outcome{
		Fingerprint: p.Fingerprint,
		Strategy:    ev.a.Strategy,
		Signals:     p.Signals,
		Pnl:         p.ReturnPct(),
		At:          time.UnixMilli(p.ClosedAt),
	})
	if err != nil {
		ev.log.Warn().Err(err).Str("position_id", p.PositionID).Msg("outcome not recorded")
	}
}

func (ev *evaluation) recordTrade(t *domain.Trade) {
	ev.result.trades++
	observability.RecordTrade(t.Type, t.Status)
	ev.rt.RecordTrade(t)
	ev.muts = append(ev.muts, persistence.TradeInsert(t))
}

func (ev *evaluation) appendLog(level, action, token string, confidence float64, reasoning string) {
	l := &domain.AgentLog{
		LogID:          uuid.NewString(),
		AgentID:        ev.a.AgentID,
		CycleTime:      ev.snap.CycleTime(),
		Level:          level,
		Action:         action,
		Token:          token,
		Confidence:     confidence,
		TokensAnalyzed: ev.snap.Len(),
		Reasoning:      reasoning,
		SnapshotRef:    ev.ref,
		Timestamp:      ev.s.now().UnixMilli(),
	}
	ev.rt.RecordLog(l)
	ev.muts = append(ev.muts, persistence.LogInsert(l))
}

func (ev *evaluation) touchAgent() {
	ev.a.UpdatedAt = ev.s.now().UnixMilli()
}

// flushMutations hands the evaluation's mutations to the persister. The
// agent record is always written last so it reflects the final counters.
func (ev *evaluation) flushMutations() {
	if ev.s.persister == nil {
		return
	}
	if len(ev.muts) > 0 {
		ev.muts = append(ev.muts, persistence.AgentUpsert(ev.a))
	}
	ev.s.persister.Enqueue(ev.muts...)
}
