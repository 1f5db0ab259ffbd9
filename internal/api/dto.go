package api

import (
	"agent-engine/internal/agent"
	"agent-engine/internal/domain"
)

type riskDTO struct {
	MaxPositionSize   float64 `json:"max_position_size"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent"`
	MaxDailyTrades    int     `json:"max_daily_trades"`
	RiskLevel         int     `json:"risk_level"`
	MaxDailyVolume    float64 `json:"max_daily_volume"`
}

func (r riskDTO) params() domain.RiskParams {
	return domain.RiskParams{
		MaxPositionSize:   r.MaxPositionSize,
		StopLossPercent:   r.StopLossPercent,
		TakeProfitPercent: r.TakeProfitPercent,
		MaxDailyTrades:    r.MaxDailyTrades,
		RiskLevel:         r.RiskLevel,
		MaxDailyVolume:    r.MaxDailyVolume,
	}
}

func newRiskDTO(p domain.RiskParams) riskDTO {
	return riskDTO{
		MaxPositionSize:   p.MaxPositionSize,
		StopLossPercent:   p.StopLossPercent,
		TakeProfitPercent: p.TakeProfitPercent,
		MaxDailyTrades:    p.MaxDailyTrades,
		RiskLevel:         p.RiskLevel,
		MaxDailyVolume:    p.MaxDailyVolume,
	}
}

type createAgentRequest struct {
	Name          string   `json:"name" binding:"required"`
	Chain         string   `json:"chain" binding:"required"`
	WalletAddress string   `json:"wallet_address" binding:"required"`
	Strategy      string   `json:"strategy" binding:"required"`
	Risk          riskDTO  `json:"risk"`
	Tokens        []string `json:"tokens"`
	Start         bool     `json:"start"`
}

func (r createAgentRequest) toCreate() agent.CreateRequest {
	return agent.CreateRequest{
		Name:          r.Name,
		Chain:         r.Chain,
		WalletAddress: r.WalletAddress,
		Strategy:      domain.StrategyVariant(r.Strategy),
		Risk:          r.Risk.params(),
		Tokens:        r.Tokens,
		Start:         r.Start,
	}
}

type agentDTO struct {
	AgentID           string            `json:"agent_id"`
	Name              string            `json:"name"`
	Chain             string            `json:"chain"`
	WalletAddress     string            `json:"wallet_address"`
	Strategy          string            `json:"strategy"`
	Status            string            `json:"status"`
	Risk              riskDTO           `json:"risk"`
	Tokens            []string          `json:"tokens"`
	DailyTradesUsed   int               `json:"daily_trades_used"`
	DailyVolumeUsed   float64           `json:"daily_volume_used"`
	TotalPnl          float64           `json:"total_pnl"`
	TotalTrades       int               `json:"total_trades"`
	Wins              int               `json:"wins"`
	Losses            int               `json:"losses"`
	WinRate           float64           `json:"win_rate"`
	ConsecutiveLosses int               `json:"consecutive_losses"`
	CooldownUntil     int64             `json:"cooldown_until,omitempty"`
	OpenPositions     map[string]string `json:"open_positions"`
	CreatedAt         int64             `json:"created_at"`
	UpdatedAt         int64             `json:"updated_at"`
}

func newAgentDTO(a *domain.Agent) agentDTO {
	tokens := a.Tokens
	if tokens == nil {
		tokens = []string{}
	}
	open := a.OpenPositions
	if open == nil {
		open = map[string]string{}
	}
	return agentDTO{
		AgentID:           a.AgentID,
		Name:              a.Name,
		Chain:             a.Chain,
		WalletAddress:     a.WalletAddress,
		Strategy:          string(a.Strategy),
		Status:            string(a.Status),
		Risk:              newRiskDTO(a.Risk),
		Tokens:            tokens,
		DailyTradesUsed:   a.DailyTradesUsed,
		DailyVolumeUsed:   a.DailyVolumeUsed,
		TotalPnl:          a.TotalPnl,
		TotalTrades:       a.TotalTrades,
		Wins:              a.Wins,
		Losses:            a.Losses,
		WinRate:           a.WinRate,
		ConsecutiveLosses: a.ConsecutiveLosses,
		CooldownUntil:     a.CooldownUntil,
		OpenPositions:     open,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

type positionDTO struct {
	PositionID        string   `json:"position_id"`
	Token             string   `json:"token"`
	Side              string   `json:"side"`
	Status            string   `json:"status"`
	Size              float64  `json:"size"`
	CostBasis         float64  `json:"cost_basis"`
	EntryCost         float64  `json:"entry_cost"`
	AvgEntryPrice     float64  `json:"avg_entry_price"`
	CurrentPrice      float64  `json:"current_price"`
	HighestPrice      float64  `json:"highest_price"`
	StopLossPrice     float64  `json:"stop_loss_price"`
	TakeProfitPrice   float64  `json:"take_profit_price"`
	TrailingStopPrice float64  `json:"trailing_stop_price"`
	TrailingArmed     bool     `json:"trailing_armed"`
	UnrealizedPnl     float64  `json:"unrealized_pnl"`
	RealizedPnl       float64  `json:"realized_pnl"`
	ExitReason        string   `json:"exit_reason,omitempty"`
	Fingerprint       string   `json:"fingerprint"`
	Signals           []string `json:"signals"`
	OpenedAt          int64    `json:"opened_at"`
	ClosedAt          int64    `json:"closed_at,omitempty"`
	UpdatedAt         int64    `json:"updated_at"`
}

func newPositionDTO(p *domain.Position) positionDTO {
	return positionDTO{
		PositionID:        p.PositionID,
		Token:             p.Token,
		Side:              p.Side,
		Status:            string(p.Status),
		Size:              p.Size,
		CostBasis:         p.CostBasis,
		EntryCost:         p.EntryCost,
		AvgEntryPrice:     p.AvgEntryPrice,
		CurrentPrice:      p.CurrentPrice,
		HighestPrice:      p.HighestPrice,
		StopLossPrice:     p.StopLossPrice,
		TakeProfitPrice:   p.TakeProfitPrice,
		TrailingStopPrice: p.TrailingStopPrice,
		TrailingArmed:     p.TrailingArmed,
		UnrealizedPnl:     p.UnrealizedPnl,
		RealizedPnl:       p.RealizedPnl,
		ExitReason:        p.ExitReason,
		Fingerprint:       p.Fingerprint,
		Signals:           p.Signals,
		OpenedAt:          p.OpenedAt,
		ClosedAt:          p.ClosedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

type tradeDTO struct {
	TradeID     string  `json:"trade_id"`
	PositionID  string  `json:"position_id,omitempty"`
	Token       string  `json:"token"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	Amount      float64 `json:"amount"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	RealizedPnl float64 `json:"realized_pnl"`
	Reasoning   string  `json:"reasoning"`
	Confidence  float64 `json:"confidence"`
	TxID        string  `json:"tx_id,omitempty"`
	Error       string  `json:"error,omitempty"`
	Timestamp   int64   `json:"timestamp"`
}

func newTradeDTO(t *domain.Trade) tradeDTO {
	return tradeDTO{
		TradeID:     t.TradeID,
		PositionID:  t.PositionID,
		Token:       t.Token,
		Type:        t.Type,
		Status:      t.Status,
		Amount:      t.Amount,
		Price:       t.Price,
		Quantity:    t.Quantity,
		RealizedPnl: t.RealizedPnl,
		Reasoning:   t.Reasoning,
		Confidence:  t.Confidence,
		TxID:        t.TxID,
		Error:       t.Error,
		Timestamp:   t.Timestamp,
	}
}

type agentLogDTO struct {
	LogID          string  `json:"log_id"`
	CycleTime      int64   `json:"cycle_time"`
	Level          string  `json:"level"`
	Action         string  `json:"action"`
	Token          string  `json:"token,omitempty"`
	Confidence     float64 `json:"confidence"`
	TokensAnalyzed int     `json:"tokens_analyzed"`
	Reasoning      string  `json:"reasoning"`
	SnapshotRef    string  `json:"snapshot_ref"`
	Timestamp      int64   `json:"timestamp"`
}

func newAgentLogDTO(l *domain.AgentLog) agentLogDTO {
	return agentLogDTO{
		LogID:          l.LogID,
		CycleTime:      l.CycleTime,
		Level:          l.Level,
		Action:         l.Action,
		Token:          l.Token,
		Confidence:     l.Confidence,
		TokensAnalyzed: l.TokensAnalyzed,
		Reasoning:      l.Reasoning,
		SnapshotRef:    l.SnapshotRef,
		Timestamp:      l.Timestamp,
	}
}
