package signals

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"agent-engine/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWSFeed_SubscribeAndStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub wsSubscribe
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Op != "subscribe" || len(sub.Tokens) != 1 || sub.Tokens[0] != "BONK" {
			t.Errorf("unexpected subscribe: %+v", sub)
		}

		msgs := []wsCandleMessage{
			{Token: "BONK", Candle: candleDTO{OpenTime: 1000, Close: 1.0}},
			{Token: "BONK", Candle: candleDTO{OpenTime: 2000, Close: 1.1}},
			{Token: "BONK", Candle: candleDTO{OpenTime: 2000, Close: 1.2}}, // update of the open bar
			{Token: "BONK", Candle: candleDTO{OpenTime: 500, Close: 9.9}},  // late, ignored
			{Token: "BONK", Candle: candleDTO{OpenTime: 3000, Close: 1.3}},
		}
		for _, m := range msgs {
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := DefaultWSFeedConfig()
	cfg.Window = 2
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	feed, err := NewWSFeed(context.Background(), wsURL, []string{"BONK"}, &cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWSFeed: %v", err)
	}
	defer feed.Close()

	if !feed.Connected() {
		t.Error("feed should be connected")
	}

	waitFor(t, func() bool {
		c, err := feed.Candles(context.Background(), "BONK", 0)
		return err == nil && len(c) == 2 && c[1].OpenTime == 3000
	})

	candles, _ := feed.Candles(context.Background(), "BONK", 0)
	if candles[0].OpenTime != 2000 || candles[0].Close != 1.2 {
		t.Errorf("expected updated 2000 bar, got %+v", candles[0])
	}

	last, _ := feed.Candles(context.Background(), "BONK", 1)
	if len(last) != 1 || last[0].Close != 1.3 {
		t.Errorf("limit 1: got %+v", last)
	}

	if _, err := feed.Candles(context.Background(), "WIF", 10); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestWSFeed_DialFailure(t *testing.T) {
	_, err := NewWSFeed(context.Background(), "ws://127.0.0.1:1", nil, nil, zerolog.Nop())
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestWSFeed_CloseIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	feed, err := NewWSFeed(context.Background(), wsURL, []string{"X"}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWSFeed: %v", err)
	}

	feed.Close()
	if err := feed.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

type staticOHLCV struct {
	candles []domain.Candle
	err     error
}

func (s staticOHLCV) Candles(context.Context, string, int) ([]domain.Candle, error) {
	return s.candles, s.err
}

func TestFallbackOHLCV(t *testing.T) {
	secondary := staticOHLCV{candles: []domain.Candle{{OpenTime: 1, Close: 2}}}

	f := FallbackOHLCV{Primary: staticOHLCV{err: ErrUnavailable}, Secondary: secondary}
	got, err := f.Candles(context.Background(), "X", 10)
	if err != nil || len(got) != 1 {
		t.Errorf("fallback: got %v, %v", got, err)
	}

	f = FallbackOHLCV{Primary: staticOHLCV{candles: []domain.Candle{{OpenTime: 5}}}, Secondary: secondary}
	got, _ = f.Candles(context.Background(), "X", 10)
	if got[0].OpenTime != 5 {
		t.Errorf("primary should win, got %+v", got)
	}

	f = FallbackOHLCV{Primary: staticOHLCV{}}
	if _, err := f.Candles(context.Background(), "X", 10); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
