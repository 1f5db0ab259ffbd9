// Package replay runs recorded price paths through the cycle scheduler with
// paper execution and in-memory storage. Replays are deterministic: the same
// scenario always yields the same trades.
package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"agent-engine/internal/agent"
)

// Tick is the recorded market state at one cycle.
type Tick struct {
	Time      int64              `json:"time"` // Unix ms
	Prices    map[string]float64 `json:"prices"`
	FearGreed *float64           `json:"fear_greed,omitempty"`
}

// TokenProfile is the static pool data of a token during a replay.
type TokenProfile struct {
	LiquidityUSD float64 `json:"liquidity_usd"`
	Safety       float64 `json:"safety"`
	NetFlowUSD   float64 `json:"net_flow_usd"`
	Social       float64 `json:"social"`
	News         float64 `json:"news"`
}

// Scenario is a replay input: agents and the price path they trade on.
type Scenario struct {
	Interval Duration                `json:"interval"`
	Agents   []agent.CreateRequest   `json:"agents"`
	Tokens   map[string]TokenProfile `json:"tokens"`
	Ticks    []Tick                  `json:"ticks"`
}

// Duration is a time.Duration encoded as a string ("10s").
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// LoadScenario reads a scenario from a JSON file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	return &sc, nil
}

// SortTicks orders ticks by time and rejects duplicate timestamps.
func SortTicks(ticks []Tick) error {
	sort.SliceStable(ticks, func(i, j int) bool {
		return ticks[i].Time < ticks[j].Time
	})
	for i := 1; i < len(ticks); i++ {
		if ticks[i].Time == ticks[i-1].Time {
			return fmt.Errorf("%w: duplicate tick at %d", ErrInvalidOrdering, ticks[i].Time)
		}
	}
	return nil
}
