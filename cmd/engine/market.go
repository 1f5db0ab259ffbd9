package main

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"agent-engine/internal/domain"
	"agent-engine/internal/signals/stub"
)

const (
	stubHistory    = 60
	stubVolatility = 0.02
	stubLiquidity  = 500_000
	stubSafety     = 80
)

// marketSim drives a synthetic random-walk market for paper runs.
type marketSim struct {
	market   *stub.Market
	tokens   []string
	interval time.Duration
	rng      *rand.Rand
	prices   map[string]float64
}

// newMarketSim seeds every token with a candle history.
func newMarketSim(m *stub.Market, tokens []string, interval time.Duration) *marketSim {
	s := &marketSim{
		market:   m,
		tokens:   tokens,
		interval: interval,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		prices:   make(map[string]float64, len(tokens)),
	}

	now := time.Now().Truncate(interval)
	for _, token := range tokens {
		price := 1.0
		candles := make([]domain.Candle, 0, stubHistory)
		for i := stubHistory; i > 0; i-- {
			price = s.step(price)
			candles = append(candles, domain.Candle{
				OpenTime: now.Add(-time.Duration(i) * interval).UnixMilli(),
				Open:     price,
				High:     price,
				Low:      price,
				Close:    price,
			})
		}
		m.SetToken(token, stub.TokenData{
			Candles: candles,
			Pool:    domain.PoolHealth{PriceUSD: price, LiquidityUSD: stubLiquidity},
			Safety:  stubSafety,
		})
		s.prices[token] = price
	}
	return s
}

// run appends one candle per token every interval until ctx is done.
func (s *marketSim) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			for _, token := range s.tokens {
				s.prices[token] = s.step(s.prices[token])
				s.market.SetPrice(token, t.Truncate(s.interval).UnixMilli(), s.prices[token])
			}
			s.market.SetFearGreed(math.Round(50 + 25*math.Sin(float64(t.Unix())/3600)))
		}
	}
}

func (s *marketSim) step(price float64) float64 {
	return math.Max(price*(1+s.rng.NormFloat64()*stubVolatility), 1e-9)
}
