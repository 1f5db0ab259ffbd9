package main

import (
	"context"
	"testing"
	"time"

	"agent-engine/internal/signals/stub"
)

func TestMarketSimSeedsHistory(t *testing.T) {
	m := stub.NewMarket()
	newMarketSim(m, []string{"AAA", "BBB"}, time.Minute)

	tokens, _ := m.Tokens(context.Background())
	if len(tokens) != 2 {
		t.Fatalf("tokens: got %d, want 2", len(tokens))
	}

	candles, err := m.Candles(context.Background(), "AAA", 100)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(candles) != stubHistory {
		t.Fatalf("candles: got %d, want %d", len(candles), stubHistory)
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime-candles[i-1].OpenTime != time.Minute.Milliseconds() {
			t.Fatalf("candle %d not spaced by interval", i)
		}
		if candles[i].Close <= 0 {
			t.Fatalf("candle %d has non-positive close", i)
		}
	}

	pool, err := m.PoolHealth(context.Background(), "BBB")
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.LiquidityUSD != stubLiquidity {
		t.Errorf("liquidity: got %v, want %v", pool.LiquidityUSD, float64(stubLiquidity))
	}
}

func TestMarketSimRunStopsOnCancel(t *testing.T) {
	m := stub.NewMarket()
	sim := newMarketSim(m, []string{"AAA"}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}

	candles, _ := m.Candles(context.Background(), "AAA", 1000)
	if len(candles) <= stubHistory {
		t.Errorf("expected new candles, got %d", len(candles))
	}
}
