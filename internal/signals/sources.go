// Package signals builds the per-cycle market snapshot from independent
// upstream feeds.
package signals

import (
	"context"
	"errors"
	"sort"

	"agent-engine/internal/domain"
)

// ErrUnavailable is returned by a source that has no data for a request.
var ErrUnavailable = errors.New("source unavailable")

// Source names used in degraded lists, logs and metrics.
const (
	SourceTechnical  = "technical"
	SourceSmartMoney = "smart_money"
	SourceSocial     = "social"
	SourceNews       = "news"
	SourceFearGreed  = "fear_greed"
	SourceLiquidity  = "liquidity"
	SourceSafety     = "safety"
)

// OHLCVSource provides candles ordered by open time, oldest first.
type OHLCVSource interface {
	Candles(ctx context.Context, token string, limit int) ([]domain.Candle, error)
}

// FlowSource provides net smart-money inflow in USD.
type FlowSource interface {
	NetFlow(ctx context.Context, token string) (float64, error)
}

// SentimentSource provides a sentiment score in [-1, 1].
type SentimentSource interface {
	Sentiment(ctx context.Context, token string) (float64, error)
}

// FearGreedSource provides the market-wide fear & greed index (0..100).
type FearGreedSource interface {
	FearGreed(ctx context.Context) (float64, error)
}

// LiquiditySource provides pool health for a token.
type LiquiditySource interface {
	PoolHealth(ctx context.Context, token string) (domain.PoolHealth, error)
}

// SafetySource provides a contract safety score (0..100).
type SafetySource interface {
	SafetyScore(ctx context.Context, token string) (float64, error)
}

// Sources groups the upstream feeds. A nil source contributes neutral values
// and is not reported as degraded.
type Sources struct {
	OHLCV     OHLCVSource
	Flow      FlowSource
	Social    SentimentSource
	News      SentimentSource
	FearGreed FearGreedSource
	Liquidity LiquiditySource
	Safety    SafetySource
}

// Universe lists the tokens to include in a snapshot.
type Universe interface {
	Tokens(ctx context.Context) ([]string, error)
}

// StaticUniverse is a fixed token list.
type StaticUniverse []string

// Tokens returns the deduplicated, sorted token list.
func (u StaticUniverse) Tokens(context.Context) ([]string, error) {
	return dedupSorted(u), nil
}

// UniverseFunc adapts a function to Universe.
type UniverseFunc func(ctx context.Context) ([]string, error)

// Tokens calls f.
func (f UniverseFunc) Tokens(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// UnionUniverse merges several universes. Members that fail are skipped;
// an error is returned only when every member fails.
type UnionUniverse []Universe

// Tokens returns the sorted union of all member token lists.
func (u UnionUniverse) Tokens(ctx context.Context) ([]string, error) {
	var (
		all     []string
		lastErr error
		ok      int
	)
	for _, member := range u {
		tokens, err := member.Tokens(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		ok++
		all = append(all, tokens...)
	}
	if ok == 0 && lastErr != nil {
		return nil, lastErr
	}
	return dedupSorted(all), nil
}

func dedupSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
