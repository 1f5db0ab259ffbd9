// Package events publishes trade and position-close events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"agent-engine/internal/domain"
	"agent-engine/internal/persistence"
)

// Event types
const (
	EventTrade          = "trade"
	EventPositionClosed = "position_closed"
)

// Event is the JSON payload published for each trade or closed position.
type Event struct {
	Type       string  `json:"type"`
	AgentID    string  `json:"agent_id"`
	Token      string  `json:"token"`
	TradeID    string  `json:"trade_id,omitempty"`
	PositionID string  `json:"position_id,omitempty"`
	TradeType  string  `json:"trade_type,omitempty"`
	Status     string  `json:"status,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	Price      float64 `json:"price,omitempty"`
	Quantity   float64 `json:"quantity,omitempty"`
	Pnl        float64 `json:"pnl"`
	ExitReason string  `json:"exit_reason,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// NewSyncProducer creates a producer that waits for all in-sync replicas.
func NewSyncProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Version = sarama.V2_8_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// TradeSink is a persistence sink that publishes trades and position
// closes. Messages are keyed by agent ID so each agent's events stay ordered.
type TradeSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewTradeSink creates a sink publishing to topic.
func NewTradeSink(producer sarama.SyncProducer, topic string) *TradeSink {
	return &TradeSink{producer: producer, topic: topic}
}

// Name implements persistence.Sink.
func (s *TradeSink) Name() string { return "kafka" }

// Write implements persistence.Sink.
func (s *TradeSink) Write(_ context.Context, b *persistence.Batch) error {
	msgs := make([]*sarama.ProducerMessage, 0, len(b.Trades)+len(b.Positions))

	for _, t := range b.Trades {
		msg, err := s.message(t.AgentID, tradeEvent(t))
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	for _, p := range b.Positions {
		if p.Status != domain.PositionStatusClosed {
			continue
		}
		msg, err := s.message(p.AgentID, closedEvent(p))
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if len(msgs) == 0 {
		return nil
	}
	if err := s.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("publish %d events: %w", len(msgs), err)
	}
	return nil
}

// Close closes the underlying producer.
func (s *TradeSink) Close() error {
	return s.producer.Close()
}

func (s *TradeSink) message(key string, e Event) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}, nil
}

func tradeEvent(t *domain.Trade) Event {
	return Event{
		Type:       EventTrade,
		AgentID:    t.AgentID,
		Token:      t.Token,
		TradeID:    t.TradeID,
		PositionID: t.PositionID,
		TradeType:  t.Type,
		Status:     t.Status,
		Amount:     t.Amount,
		Price:      t.Price,
		Quantity:   t.Quantity,
		Pnl:        t.RealizedPnl,
		Timestamp:  t.Timestamp,
	}
}

func closedEvent(p *domain.Position) Event {
	return Event{
		Type:       EventPositionClosed,
		AgentID:    p.AgentID,
		Token:      p.Token,
		PositionID: p.PositionID,
		Price:      p.CurrentPrice,
		Pnl:        p.RealizedPnl,
		ExitReason: p.ExitReason,
		Timestamp:  p.ClosedAt,
	}
}
