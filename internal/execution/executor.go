// Package execution submits trades to the venue that settles them.
package execution

import (
	"context"
	"errors"
	"fmt"

	"agent-engine/internal/domain"
)

// ErrRejected is returned when the venue refuses a trade. Rejections are
// not retried.
var ErrRejected = errors.New("trade rejected")

// TradeRequest is one swap to execute.
type TradeRequest struct {
	RequestID string // idempotency key, stable across retries of the same trade
	AgentID   string
	Chain     string
	Wallet    string
	Token     string
	Type      string  // buy | sell | close
	Amount    float64 // quote to spend, buys only
	Quantity  float64 // token quantity to sell, sells and closes only
	Price     float64 // reference price from the snapshot
}

// Validate checks the request shape.
func (r TradeRequest) Validate() error {
	if r.Token == "" {
		return fmt.Errorf("trade request: empty token")
	}
	switch r.Type {
	case domain.TradeTypeBuy:
		if r.Amount <= 0 {
			return fmt.Errorf("trade request: buy amount must be positive, got %v", r.Amount)
		}
	case domain.TradeTypeSell, domain.TradeTypeClose:
		if r.Quantity <= 0 {
			return fmt.Errorf("trade request: %s quantity must be positive, got %v", r.Type, r.Quantity)
		}
	default:
		return fmt.Errorf("trade request: unknown type %q", r.Type)
	}
	if r.Price <= 0 {
		return fmt.Errorf("trade request: reference price must be positive, got %v", r.Price)
	}
	return nil
}

// Fill is the executed result of a trade.
type Fill struct {
	TxID     string
	Price    float64 // average fill price
	Quantity float64 // token quantity bought or sold
	Amount   float64 // quote spent or received
}

// Validate checks that a fill describes a real execution.
func (f *Fill) Validate() error {
	switch {
	case f == nil:
		return fmt.Errorf("fill: missing")
	case f.Price <= 0:
		return fmt.Errorf("fill: price must be positive, got %v", f.Price)
	case f.Quantity <= 0:
		return fmt.Errorf("fill: quantity must be positive, got %v", f.Quantity)
	case f.Amount <= 0:
		return fmt.Errorf("fill: amount must be positive, got %v", f.Amount)
	}
	return nil
}

// Executor executes trades.
type Executor interface {
	ExecuteTrade(ctx context.Context, req TradeRequest) (*Fill, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req TradeRequest) (*Fill, error)

// ExecuteTrade calls f.
func (f ExecutorFunc) ExecuteTrade(ctx context.Context, req TradeRequest) (*Fill, error) {
	return f(ctx, req)
}
