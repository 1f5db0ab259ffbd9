package domain

import "time"

// AgentStatus is the run state of an agent.
type AgentStatus string

const (
	AgentStatusRunning AgentStatus = "running"
	AgentStatusStopped AgentStatus = "stopped"
)

// RiskParams are the per-agent limits enforced by the risk governor.
type RiskParams struct {
	MaxPositionSize   float64 `json:"max_position_size"`   // quote units per position
	StopLossPercent   float64 `json:"stop_loss_percent"`   // e.g. 10 = 10% below entry
	TakeProfitPercent float64 `json:"take_profit_percent"` // e.g. 50 = 50% above entry
	MaxDailyTrades    int     `json:"max_daily_trades"`    // opening trades per UTC day
	RiskLevel         int     `json:"risk_level"`          // 1..10
	MaxDailyVolume    float64 `json:"max_daily_volume"`    // quote units opened per UTC day, 0 = MaxPositionSize*MaxDailyTrades
}

// DailyVolumeLimit returns the effective daily volume budget.
func (r RiskParams) DailyVolumeLimit() float64 {
	if r.MaxDailyVolume > 0 {
		return r.MaxDailyVolume
	}
	return r.MaxPositionSize * float64(r.MaxDailyTrades)
}

// Agent is an autonomous trading agent.
// Open positions are referenced by ID; positions never point back to agents.
type Agent struct {
	AgentID       string
	Name          string
	Chain         string
	WalletAddress string
	Strategy      StrategyVariant
	Status        AgentStatus
	Risk          RiskParams
	Tokens        []string // watch list, empty means the whole universe

	// Running counters
	DailyTradesUsed   int
	DailyVolumeUsed   float64
	DailyResetDay     string // UTC day (YYYY-MM-DD) the daily counters belong to
	TotalPnl          float64
	TotalTrades       int
	Wins              int
	Losses            int
	WinRate           float64
	ConsecutiveLosses int
	CooldownUntil     int64 // Unix ms, 0 = no cooldown

	OpenPositions map[string]string // token -> position_id

	CreatedAt int64 // Unix ms
	UpdatedAt int64 // Unix ms
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	c := *a
	if a.Tokens != nil {
		c.Tokens = append([]string(nil), a.Tokens...)
	}
	c.OpenPositions = make(map[string]string, len(a.OpenPositions))
	for k, v := range a.OpenPositions {
		c.OpenPositions[k] = v
	}
	return &c
}

// Watches reports whether the agent trades the given token.
func (a *Agent) Watches(token string) bool {
	if len(a.Tokens) == 0 {
		return true
	}
	for _, t := range a.Tokens {
		if t == token {
			return true
		}
	}
	return false
}

// InCooldown reports whether the cooldown window is active at now.
func (a *Agent) InCooldown(now time.Time) bool {
	return a.CooldownUntil > 0 && now.UnixMilli() < a.CooldownUntil
}

// UTCDay formats t as the UTC calendar day used for daily counters.
func UTCDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
