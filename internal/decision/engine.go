// Package decision scores the signal snapshot for one agent and proposes
// a single action per cycle.
package decision

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"agent-engine/internal/domain"
	"agent-engine/internal/idhash"
)

// ActiveSignalThreshold is the normalized value a signal must reach in the
// direction of an action to be part of its fingerprint.
const ActiveSignalThreshold = 0.2

// Learning is the read side of the adaptive learning store.
type Learning interface {
	Weights(strategy domain.StrategyVariant) [domain.NumSignals]float64
	IsBlacklisted(fingerprint string, strategy domain.StrategyVariant, now time.Time) bool
}

// Engine evaluates agents against a snapshot. It holds no state; the same
// inputs always produce the same decision.
type Engine struct{}

// NewEngine creates a decision engine.
func NewEngine() *Engine {
	return &Engine{}
}

type scored struct {
	token         string
	features      domain.TokenFeatures
	conviction    float64
	contributions [domain.NumSignals]float64
	criteria      []Criterion
}

// Evaluate returns the decision for agent given the cycle snapshot, the
// agent's active positions and a learning view.
//
// Open positions are checked first; a close or partial sell takes
// precedence over opening a new position.
func (e *Engine) Evaluate(agent *domain.Agent, snap *domain.SignalSnapshot, positions []*domain.Position, learning Learning) (domain.Decision, error) {
	cfg, err := domain.StrategyConfigFor(agent.Strategy)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("evaluate agent %s: %w", agent.AgentID, err)
	}
	weights := learning.Weights(agent.Strategy)
	now := time.UnixMilli(snap.CycleTime())

	held := make(map[string]*domain.Position, len(positions))
	for _, p := range positions {
		if p.IsActive() {
			held[p.Token] = p
		}
	}
	for token := range agent.OpenPositions {
		if _, ok := held[token]; !ok {
			held[token] = nil
		}
	}

	if d, ok := e.evaluateExits(cfg, snap, held, weights); ok {
		return d, nil
	}
	return e.evaluateEntries(agent, cfg, snap, held, weights, learning, now), nil
}

func (e *Engine) evaluateExits(cfg domain.StrategyConfig, snap *domain.SignalSnapshot, held map[string]*domain.Position, weights [domain.NumSignals]float64) (domain.Decision, bool) {
	tokens := make([]string, 0, len(held))
	for token, p := range held {
		if p != nil && p.Status == domain.PositionStatusOpen {
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)

	var (
		best   *scored
		action domain.Action
	)
	for _, token := range tokens {
		f, ok := snap.Token(token)
		if !ok || f.Price <= 0 {
			continue
		}
		s := score(token, f, weights)
		pos := held[token]

		var a domain.Action
		switch {
		case s.conviction <= -cfg.CloseThreshold:
			a = domain.ActionClose
		case s.conviction <= -cfg.SellThreshold && f.Price > pos.AvgEntryPrice:
			a = domain.ActionSell
		default:
			continue
		}

		// close beats sell, then the most negative conviction
		if best == nil ||
			(a == domain.ActionClose && action == domain.ActionSell) ||
			(a == action && s.conviction < best.conviction) {
			sc := s
			best, action = &sc, a
		}
	}
	if best == nil {
		return domain.Decision{}, false
	}

	names := activeSignals(best.features, -1)
	d := domain.Decision{
		Action:        action,
		Token:         best.token,
		Confidence:    clamp01(-best.conviction),
		Conviction:    best.conviction,
		Fingerprint:   idhash.ComputeFingerprint(names),
		Signals:       names,
		Contributions: best.contributions,
		Price:         best.features.Price,
	}
	if action == domain.ActionClose {
		d.Size = 1
		d.Reasoning = fmt.Sprintf("close %s: conviction %.4f <= -%.2f; %s",
			best.token, best.conviction, cfg.CloseThreshold, describe(best))
	} else {
		d.Size = cfg.SellFraction
		d.Reasoning = fmt.Sprintf("sell %.0f%% of %s in profit: conviction %.4f <= -%.2f; %s",
			cfg.SellFraction*100, best.token, best.conviction, cfg.SellThreshold, describe(best))
	}
	return d, true
}

func (e *Engine) evaluateEntries(agent *domain.Agent, cfg domain.StrategyConfig, snap *domain.SignalSnapshot, held map[string]*domain.Position, weights [domain.NumSignals]float64, learning Learning, now time.Time) domain.Decision {
	var (
		best     *scored
		analyzed int
		rejected []string
	)

	for _, token := range snap.Tokens() {
		if !agent.Watches(token) {
			continue
		}
		analyzed++
		if _, ok := held[token]; ok {
			continue
		}

		f, _ := snap.Token(token)
		s := score(token, f, weights)

		criteria := []Criterion{
			criterion("price", "> 0", f.Price, f.Price > 0),
			criterion("safety", fmt.Sprintf(">= %.2f", cfg.MinSafetyScore), f.Signal(domain.SignalSafety), f.Signal(domain.SignalSafety) >= cfg.MinSafetyScore),
			criterion("liquidity_usd", fmt.Sprintf(">= %.0f", cfg.MinLiquidityUSD), f.LiquidityUSD, f.LiquidityUSD >= cfg.MinLiquidityUSD),
			criterion("conviction", fmt.Sprintf(">= %.2f", cfg.ConvictionFloor), s.conviction, s.conviction >= cfg.ConvictionFloor),
		}
		if !allPass(criteria) {
			if s.conviction >= cfg.ConvictionFloor {
				rejected = append(rejected, token+": "+firstFailure(criteria))
			}
			continue
		}

		fp := idhash.ComputeFingerprint(activeSignals(f, 1))
		if learning.IsBlacklisted(fp, agent.Strategy, now) {
			rejected = append(rejected, token+": signal combination blacklisted")
			continue
		}

		s.criteria = criteria
		if best == nil || better(s, *best) {
			sc := s
			best = &sc
		}
	}

	if best == nil {
		reason := fmt.Sprintf("hold: no candidate met the %s entry criteria across %d tokens", cfg.Variant, analyzed)
		if len(rejected) > 0 {
			reason += "; " + strings.Join(rejected, "; ")
		}
		return domain.Decision{Action: domain.ActionHold, Reasoning: reason}
	}

	names := activeSignals(best.features, 1)
	size := agent.Risk.MaxPositionSize * cfg.SizeMultiplier * riskFactor(agent.Risk.RiskLevel)

	return domain.Decision{
		Action:        domain.ActionBuy,
		Token:         best.token,
		Confidence:    clamp01(best.conviction),
		Conviction:    best.conviction,
		Size:          size,
		Fingerprint:   idhash.ComputeFingerprint(names),
		Signals:       names,
		Contributions: best.contributions,
		Price:         best.features.Price,
		StopLossPct:   protectivePct(agent.Risk.StopLossPercent, cfg.StopLossMinPct, cfg.StopLossMaxPct),
		TakeProfitPct: protectivePct(agent.Risk.TakeProfitPercent, cfg.TakeProfitMinPct, cfg.TakeProfitMaxPct),
		Reasoning: fmt.Sprintf("buy %s: %s; %s",
			best.token, formatCriteria(best.criteria), describe(best)),
	}
}

// score computes conviction = sum(signal*weight) / sum(weight).
func score(token string, f domain.TokenFeatures, weights [domain.NumSignals]float64) scored {
	s := scored{token: token, features: f}

	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return s
	}

	var weighted float64
	for _, sig := range domain.AllSignals() {
		weighted += f.Signal(sig) * weights[sig]
		s.contributions[sig] = f.Signal(sig) * weights[sig] / total
	}
	s.conviction = weighted / total
	return s
}

// better orders buy candidates: conviction, then liquidity+safety, then token id.
func better(a, b scored) bool {
	if a.conviction != b.conviction {
		return a.conviction > b.conviction
	}
	qa, qb := a.features.QualityScore(), b.features.QualityScore()
	if qa != qb {
		return qa > qb
	}
	return a.token < b.token
}

// activeSignals lists signals pointing in direction (+1 or -1) beyond the
// threshold, in canonical order.
func activeSignals(f domain.TokenFeatures, direction float64) []string {
	var names []string
	for _, sig := range domain.AllSignals() {
		if f.Signal(sig)*direction >= ActiveSignalThreshold {
			names = append(names, sig.String())
		}
	}
	return names
}

func describe(s *scored) string {
	parts := make([]string, 0, domain.NumSignals)
	for _, sig := range domain.AllSignals() {
		parts = append(parts, fmt.Sprintf("%s=%+.3f", sig, s.contributions[sig]))
	}
	return "contributions " + strings.Join(parts, " ")
}

// riskFactor maps risk level 1..10 to a size factor 0.55..1.0.
func riskFactor(level int) float64 {
	if level < 1 {
		level = 5
	}
	if level > 10 {
		level = 10
	}
	return 0.5 + 0.05*float64(level)
}

// protectivePct clamps the agent's percent to the strategy range; an unset
// value takes the middle of the range.
func protectivePct(requested, lo, hi float64) float64 {
	if requested <= 0 {
		return (lo + hi) / 2
	}
	return math.Min(math.Max(requested, lo), hi)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
