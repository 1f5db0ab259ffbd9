package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func buyRequest() TradeRequest {
	return TradeRequest{
		RequestID: "req-1",
		AgentID:   "agent-1",
		Chain:     "solana",
		Token:     "BONK",
		Type:      "buy",
		Amount:    100,
		Price:     2,
	}
}

func TestTradeRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TradeRequest)
		wantErr bool
	}{
		{"valid buy", func(*TradeRequest) {}, false},
		{"valid sell", func(r *TradeRequest) { r.Type = "sell"; r.Quantity = 5 }, false},
		{"sell without quantity", func(r *TradeRequest) { r.Type = "sell" }, true},
		{"buy without amount", func(r *TradeRequest) { r.Amount = 0 }, true},
		{"no token", func(r *TradeRequest) { r.Token = "" }, true},
		{"no price", func(r *TradeRequest) { r.Price = 0 }, true},
		{"unknown type", func(r *TradeRequest) { r.Type = "short" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := buyRequest()
			tt.mutate(&r)
			if err := r.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPaperExecutor(t *testing.T) {
	p := NewPaperExecutor(100) // 1%
	ctx := context.Background()

	fill, err := p.ExecuteTrade(ctx, buyRequest())
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if fill.Price != 2.02 {
		t.Errorf("expected buy fill 2.02, got %v", fill.Price)
	}
	if fill.Amount != 100 {
		t.Errorf("expected amount 100, got %v", fill.Amount)
	}
	if !strings.HasPrefix(fill.TxID, "paper-") {
		t.Errorf("unexpected tx id %q", fill.TxID)
	}

	sell := buyRequest()
	sell.Type = "close"
	sell.Quantity = 10
	fill, err = p.ExecuteTrade(ctx, sell)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if fill.Price != 1.98 || fill.Quantity != 10 {
		t.Errorf("unexpected close fill %+v", fill)
	}

	if len(p.Trades()) != 2 {
		t.Errorf("expected 2 recorded trades, got %d", len(p.Trades()))
	}
}

func TestPaperExecutor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewPaperExecutor(0).ExecuteTrade(ctx, buyRequest()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPExecutor_Fill(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/trades" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") != "req-1" {
			t.Errorf("missing idempotency key")
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing api key")
		}

		var req tradeRequestDTO
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Side != "buy" || req.Amount != 100 || req.Price != 2 {
			t.Errorf("unexpected request %+v", req)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"status":   "filled",
			"tx_id":    "5xyz",
			"price":    2.01,
			"quantity": 49.75,
		})
	}))
	defer server.Close()

	e := NewHTTPExecutor(server.URL, WithAPIKey("secret"))
	fill, err := e.ExecuteTrade(context.Background(), buyRequest())
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if fill.TxID != "5xyz" || fill.Price != 2.01 || fill.Quantity != 49.75 {
		t.Errorf("unexpected fill %+v", fill)
	}
	price, qty := 2.01, 49.75
	if fill.Amount != price*qty {
		t.Errorf("amount should default to price*quantity, got %v", fill.Amount)
	}
}

func TestHTTPExecutor_RetriesWithSameKey(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") != "req-1" {
			t.Errorf("retry must reuse the idempotency key")
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"status":"filled","tx_id":"tx","price":2,"quantity":50,"amount":100}`))
	}))
	defer server.Close()

	e := NewHTTPExecutor(server.URL, WithRetryDelay(time.Millisecond))
	if _, err := e.ExecuteTrade(context.Background(), buyRequest()); err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestHTTPExecutor_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status rejected", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"rejected","error":"insufficient balance"}`))
		}},
		{"422", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte("slippage exceeded"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer server.Close()

			e := NewHTTPExecutor(server.URL, WithRetryDelay(time.Millisecond))
			_, err := e.ExecuteTrade(context.Background(), buyRequest())
			if !errors.Is(err, ErrRejected) {
				t.Errorf("expected ErrRejected, got %v", err)
			}
			if calls.Load() != 1 {
				t.Errorf("rejections must not be retried, got %d calls", calls.Load())
			}
		})
	}
}

func TestHTTPExecutor_GivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	e := NewHTTPExecutor(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	if _, err := e.ExecuteTrade(context.Background(), buyRequest()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}
