// Package risk enforces per-agent trading limits and loss cooldowns.
package risk

import (
	"errors"
	"fmt"
	"math"
	"time"

	"agent-engine/internal/domain"
)

// Rejection reasons.
const (
	ReasonDailyTradeLimit = "daily trade limit reached"
	ReasonPositionSize    = "position size exceeds max position size"
	ReasonDailyVolume     = "daily volume limit reached"
	ReasonCooldown        = "cooldown: confidence below raised floor"
	ReasonInvalidSize     = "position size must be positive"
	ReasonAgentStopped    = "agent is stopped"
)

// Rejection is returned when a decision is not authorized.
type Rejection struct {
	Reason string
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "risk rejected: " + r.Reason
	}
	return fmt.Sprintf("risk rejected: %s (%s)", r.Reason, r.Detail)
}

// IsRejection reports whether err is a *Rejection and returns it.
func IsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Config tunes the loss cooldown.
type Config struct {
	CooldownLosses   int           // consecutive losing closes that start a cooldown
	CooldownDuration time.Duration // length of the cooldown
	FloorBoost       float64       // added to the strategy conviction floor during cooldown
	SizeFactor       float64       // approved size multiplier during cooldown
}

// DefaultConfig returns the default risk configuration.
func DefaultConfig() Config {
	return Config{
		CooldownLosses:   3,
		CooldownDuration: 30 * time.Minute,
		FloorBoost:       0.15,
		SizeFactor:       0.5,
	}
}

// Authorized is an approved decision with its final size.
type Authorized struct {
	Decision domain.Decision
	Cooldown bool // cooldown adjustments were applied
}

// Governor authorizes decisions against agent limits. It holds no
// per-agent state; counters live on the agent.
type Governor struct {
	cfg Config
}

// NewGovernor creates a governor.
func NewGovernor(cfg Config) *Governor {
	def := DefaultConfig()
	if cfg.CooldownLosses <= 0 {
		cfg.CooldownLosses = def.CooldownLosses
	}
	if cfg.CooldownDuration <= 0 {
		cfg.CooldownDuration = def.CooldownDuration
	}
	if cfg.SizeFactor <= 0 || cfg.SizeFactor > 1 {
		cfg.SizeFactor = def.SizeFactor
	}
	return &Governor{cfg: cfg}
}

// Config returns the governor configuration.
func (g *Governor) Config() Config {
	return g.cfg
}

// Authorize checks d against the agent's limits at now.
// Sells and closes are protective exits and are always authorized.
func (g *Governor) Authorize(agent *domain.Agent, d domain.Decision, now time.Time) (Authorized, error) {
	if d.Action != domain.ActionBuy {
		return Authorized{Decision: d}, nil
	}
	if agent.Status != domain.AgentStatusRunning {
		return Authorized{}, &Rejection{Reason: ReasonAgentStopped}
	}

	risk := agent.Risk
	tradesUsed, volumeUsed := DailyUsage(agent, now)

	if tradesUsed >= risk.MaxDailyTrades {
		return Authorized{}, &Rejection{
			Reason: ReasonDailyTradeLimit,
			Detail: fmt.Sprintf("%d/%d", tradesUsed, risk.MaxDailyTrades),
		}
	}
	if d.Size <= 0 {
		return Authorized{}, &Rejection{Reason: ReasonInvalidSize}
	}
	if d.Size > risk.MaxPositionSize {
		return Authorized{}, &Rejection{
			Reason: ReasonPositionSize,
			Detail: fmt.Sprintf("%.4f > %.4f", d.Size, risk.MaxPositionSize),
		}
	}

	remaining := risk.DailyVolumeLimit() - volumeUsed
	if remaining <= 0 {
		return Authorized{}, &Rejection{
			Reason: ReasonDailyVolume,
			Detail: fmt.Sprintf("used %.4f of %.4f", volumeUsed, risk.DailyVolumeLimit()),
		}
	}

	size := math.Min(d.Size, math.Min(risk.MaxPositionSize, remaining))
	out := Authorized{}

	if agent.InCooldown(now) {
		cfg, err := domain.StrategyConfigFor(agent.Strategy)
		if err != nil {
			return Authorized{}, err
		}
		floor := cfg.ConvictionFloor + g.cfg.FloorBoost
		if d.Confidence < floor {
			return Authorized{}, &Rejection{
				Reason: ReasonCooldown,
				Detail: fmt.Sprintf("%.4f < %.4f until %s", d.Confidence, floor, time.UnixMilli(agent.CooldownUntil).UTC().Format(time.RFC3339)),
			}
		}
		size *= g.cfg.SizeFactor
		out.Cooldown = true
	}

	d.Size = size
	out.Decision = d
	return out, nil
}

// RecordOpen counts a filled opening trade against the daily limits.
func (g *Governor) RecordOpen(agent *domain.Agent, amount float64, now time.Time) {
	ResetDaily(agent, now)
	agent.DailyTradesUsed++
	agent.DailyVolumeUsed += amount
}

// RecordClose updates win/loss statistics with a closed position's PnL and
// starts a cooldown after CooldownLosses consecutive losses.
func (g *Governor) RecordClose(agent *domain.Agent, pnl float64, now time.Time) {
	agent.TotalPnl += pnl
	if pnl > 0 {
		agent.Wins++
		agent.ConsecutiveLosses = 0
	} else {
		agent.Losses++
		agent.ConsecutiveLosses++
	}
	if closes := agent.Wins + agent.Losses; closes > 0 {
		agent.WinRate = float64(agent.Wins) / float64(closes)
	}

	if agent.ConsecutiveLosses >= g.cfg.CooldownLosses {
		agent.CooldownUntil = now.Add(g.cfg.CooldownDuration).UnixMilli()
		agent.ConsecutiveLosses = 0
	}
}

// DailyUsage returns the agent's daily counters as of now. Counters from a
// previous UTC day read as zero.
func DailyUsage(agent *domain.Agent, now time.Time) (int, float64) {
	if agent.DailyResetDay != domain.UTCDay(now) {
		return 0, 0
	}
	return agent.DailyTradesUsed, agent.DailyVolumeUsed
}

// ResetDaily zeroes the daily counters if they belong to an earlier UTC day.
// It reports whether a reset happened.
func ResetDaily(agent *domain.Agent, now time.Time) bool {
	day := domain.UTCDay(now)
	if agent.DailyResetDay == day {
		return false
	}
	agent.DailyResetDay = day
	agent.DailyTradesUsed = 0
	agent.DailyVolumeUsed = 0
	return true
}
