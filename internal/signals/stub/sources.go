// Package stub provides in-memory market data sources for tests and paper runs.
package stub

import (
	"context"
	"errors"
	"sync"

	"agent-engine/internal/domain"
	"agent-engine/internal/signals"
)

// ErrInjected is returned by a source configured to fail.
var ErrInjected = errors.New("injected source failure")

// TokenData is the raw market data of one token.
type TokenData struct {
	Candles    []domain.Candle
	NetFlowUSD float64
	Social     float64
	News       float64
	Pool       domain.PoolHealth
	Safety     float64
}

// Market is a mutable in-memory market implementing every source interface.
// It is safe for concurrent use.
type Market struct {
	mu        sync.RWMutex
	tokens    map[string]TokenData
	fearGreed float64
	failing   map[string]bool
	calls     map[string]int
}

// NewMarket creates an empty market with a neutral fear & greed index.
func NewMarket() *Market {
	return &Market{
		tokens:    make(map[string]TokenData),
		fearGreed: 50,
		failing:   make(map[string]bool),
		calls:     make(map[string]int),
	}
}

// SetToken replaces the data of a token.
func (m *Market) SetToken(token string, d TokenData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = d
}

// SetPrice appends a candle closing at price and updates the pool price.
func (m *Market) SetPrice(token string, openTime int64, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.tokens[token]
	d.Candles = append(d.Candles, domain.Candle{
		OpenTime: openTime,
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
	})
	d.Pool.PriceUSD = price
	m.tokens[token] = d
}

// SetFearGreed sets the fear & greed index.
func (m *Market) SetFearGreed(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fearGreed = v
}

// Fail makes a source (by signals.Source* name) return ErrInjected.
func (m *Market) Fail(source string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[source] = fail
}

// Calls returns how many times a source was called.
func (m *Market) Calls(source string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[source]
}

// Tokens implements signals.Universe.
func (m *Market) Tokens(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.tokens))
	for t := range m.tokens {
		out = append(out, t)
	}
	return out, nil
}

// Sources returns every source backed by m.
func (m *Market) Sources() signals.Sources {
	return signals.Sources{
		OHLCV:     m,
		Flow:      m,
		Social:    sentiment{m: m, channel: signals.SourceSocial},
		News:      sentiment{m: m, channel: signals.SourceNews},
		FearGreed: m,
		Liquidity: m,
		Safety:    m,
	}
}

func (m *Market) lookup(source, token string) (TokenData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[source]++
	if m.failing[source] {
		return TokenData{}, ErrInjected
	}
	d, ok := m.tokens[token]
	if !ok && token != "" {
		return TokenData{}, signals.ErrUnavailable
	}
	return d, nil
}

// Candles implements signals.OHLCVSource.
func (m *Market) Candles(_ context.Context, token string, limit int) ([]domain.Candle, error) {
	d, err := m.lookup(signals.SourceTechnical, token)
	if err != nil {
		return nil, err
	}
	if len(d.Candles) == 0 {
		return nil, signals.ErrUnavailable
	}
	c := d.Candles
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]domain.Candle(nil), c...), nil
}

// NetFlow implements signals.FlowSource.
func (m *Market) NetFlow(_ context.Context, token string) (float64, error) {
	d, err := m.lookup(signals.SourceSmartMoney, token)
	return d.NetFlowUSD, err
}

// FearGreed implements signals.FearGreedSource.
func (m *Market) FearGreed(context.Context) (float64, error) {
	if _, err := m.lookup(signals.SourceFearGreed, ""); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fearGreed, nil
}

// PoolHealth implements signals.LiquiditySource.
func (m *Market) PoolHealth(_ context.Context, token string) (domain.PoolHealth, error) {
	d, err := m.lookup(signals.SourceLiquidity, token)
	return d.Pool, err
}

// SafetyScore implements signals.SafetySource.
func (m *Market) SafetyScore(_ context.Context, token string) (float64, error) {
	d, err := m.lookup(signals.SourceSafety, token)
	return d.Safety, err
}

type sentiment struct {
	m       *Market
	channel string
}

func (s sentiment) Sentiment(_ context.Context, token string) (float64, error) {
	d, err := s.m.lookup(s.channel, token)
	if err != nil {
		return 0, err
	}
	if s.channel == signals.SourceNews {
		return d.News, nil
	}
	return d.Social, nil
}
