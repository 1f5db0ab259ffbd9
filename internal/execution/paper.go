package execution

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"agent-engine/internal/domain"
)

// PaperExecutor fills every trade at the reference price adjusted by a
// fixed slippage. It never touches a chain.
type PaperExecutor struct {
	SlippageBps float64 // applied against the trader: buys fill higher, sells lower

	mu     sync.Mutex
	trades []TradeRequest
}

// NewPaperExecutor creates a paper executor.
func NewPaperExecutor(slippageBps float64) *PaperExecutor {
	return &PaperExecutor{SlippageBps: slippageBps}
}

// ExecuteTrade implements Executor.
func (p *PaperExecutor) ExecuteTrade(ctx context.Context, req TradeRequest) (*Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	slip := p.SlippageBps / 10_000
	fill := &Fill{TxID: "paper-" + uuid.NewString()}

	if req.Type == domain.TradeTypeBuy {
		fill.Price = req.Price * (1 + slip)
		fill.Amount = req.Amount
		fill.Quantity = req.Amount / fill.Price
	} else {
		fill.Price = req.Price * (1 - slip)
		fill.Quantity = req.Quantity
		fill.Amount = req.Quantity * fill.Price
	}

	p.mu.Lock()
	p.trades = append(p.trades, req)
	p.mu.Unlock()

	return fill, nil
}

// Trades returns the requests executed so far.
func (p *PaperExecutor) Trades() []TradeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TradeRequest(nil), p.trades...)
}
