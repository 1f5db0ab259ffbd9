package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"agent-engine/internal/domain"
)

// WSFeedConfig configures the websocket candle feed.
type WSFeedConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the reconnect backoff.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for ping frames.
	PingInterval time.Duration
	// ReadTimeout closes the connection when no message arrives in time.
	ReadTimeout time.Duration
	// WriteTimeout bounds control and subscribe writes.
	WriteTimeout time.Duration
	// Window is the number of candles kept per token.
	Window int
}

// DefaultWSFeedConfig returns the default websocket configuration.
func DefaultWSFeedConfig() WSFeedConfig {
	return WSFeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		Window:            120,
	}
}

type wsSubscribe struct {
	Op     string   `json:"op"`
	Tokens []string `json:"tokens"`
}

type wsCandleMessage struct {
	Token  string    `json:"token"`
	Candle candleDTO `json:"candle"`
}

// WSFeed keeps a rolling candle window per token from a websocket stream
// and serves it as an OHLCVSource.
type WSFeed struct {
	endpoint string
	tokens   []string
	cfg      WSFeedConfig
	log      zerolog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	candles   map[string][]domain.Candle
	candlesMu sync.RWMutex

	connected atomic.Bool
	closed    atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWSFeed connects to endpoint and subscribes to tokens.
// The feed reconnects with exponential backoff until Close is called.
func NewWSFeed(ctx context.Context, endpoint string, tokens []string, cfg *WSFeedConfig, log zerolog.Logger) (*WSFeed, error) {
	c := DefaultWSFeedConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.Window <= 0 {
		c.Window = DefaultWSFeedConfig().Window
	}

	f := &WSFeed{
		endpoint: endpoint,
		tokens:   append([]string(nil), tokens...),
		cfg:      c,
		log:      log.With().Str("component", "wsfeed").Logger(),
		candles:  make(map[string][]domain.Candle),
		done:     make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(2)
	go f.readLoop()
	go f.pingLoop()

	return f, nil
}

func (f *WSFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
	if err := conn.WriteJSON(wsSubscribe{Op: "subscribe", Tokens: f.tokens}); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	if f.closed.Load() {
		conn.Close()
		return fmt.Errorf("feed closed")
	}
	f.connected.Store(true)
	return nil
}

// Candles implements OHLCVSource from the in-memory window.
func (f *WSFeed) Candles(_ context.Context, token string, limit int) ([]domain.Candle, error) {
	f.candlesMu.RLock()
	defer f.candlesMu.RUnlock()

	window := f.candles[token]
	if len(window) == 0 {
		return nil, ErrUnavailable
	}
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return append([]domain.Candle(nil), window...), nil
}

// Connected reports whether the stream is currently connected.
func (f *WSFeed) Connected() bool {
	return f.connected.Load()
}

// Close stops the feed.
func (f *WSFeed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	var err error
	if f.conn != nil {
		err = f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	return err
}

func (f *WSFeed) readLoop() {
	defer f.wg.Done()

	for {
		if f.closed.Load() {
			return
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}
			f.connected.Store(false)
			f.log.Warn().Err(err).Msg("candle stream read failed, reconnecting")
			if !f.reconnect() {
				return
			}
			continue
		}

		var msg wsCandleMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Token == "" {
			continue
		}
		f.apply(msg)
	}
}

// apply inserts or updates a candle, keeping the window ordered by open time.
func (f *WSFeed) apply(msg wsCandleMessage) {
	c := domain.Candle{
		OpenTime: msg.Candle.OpenTime,
		Open:     msg.Candle.Open,
		High:     msg.Candle.High,
		Low:      msg.Candle.Low,
		Close:    msg.Candle.Close,
		Volume:   msg.Candle.Volume,
	}

	f.candlesMu.Lock()
	defer f.candlesMu.Unlock()

	window := f.candles[msg.Token]
	n := len(window)
	switch {
	case n > 0 && window[n-1].OpenTime == c.OpenTime:
		window[n-1] = c
	case n > 0 && window[n-1].OpenTime > c.OpenTime:
		// Late candle for an older bar: ignore.
		return
	default:
		window = append(window, c)
		if len(window) > f.cfg.Window {
			window = window[len(window)-f.cfg.Window:]
		}
	}
	f.candles[msg.Token] = window
}

func (f *WSFeed) reconnect() bool {
	delay := f.cfg.ReconnectDelay
	for {
		select {
		case <-f.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := f.connect(ctx)
		cancel()
		if err == nil {
			f.log.Info().Msg("candle stream reconnected")
			return true
		}

		f.log.Warn().Err(err).Dur("retry_in", delay).Msg("candle stream reconnect failed")
		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

func (f *WSFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				_ = f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.cfg.WriteTimeout))
			}
			f.connMu.Unlock()
		}
	}
}

// FallbackOHLCV serves candles from Primary and falls back to Secondary
// when Primary has none.
type FallbackOHLCV struct {
	Primary   OHLCVSource
	Secondary OHLCVSource
}

// Candles implements OHLCVSource.
func (f FallbackOHLCV) Candles(ctx context.Context, token string, limit int) ([]domain.Candle, error) {
	candles, err := f.Primary.Candles(ctx, token, limit)
	if err == nil && len(candles) > 0 {
		return candles, nil
	}
	if f.Secondary == nil {
		if err == nil {
			err = ErrUnavailable
		}
		return nil, err
	}
	return f.Secondary.Candles(ctx, token, limit)
}
