package signals

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"agent-engine/internal/domain"
)

// HTTPFeed reads per-token market data from a JSON market-data service.
//
// Endpoints, relative to the base URL:
//
//	GET /tokens/{token}/candles?limit=N   -> [{"open_time","open","high","low","close","volume"}]
//	GET /tokens/{token}/flow              -> {"net_flow_usd"}
//	GET /tokens/{token}/sentiment?channel -> {"score"}  (channel = social | news)
//	GET /tokens/{token}/pool              -> {"price_usd","liquidity_usd","change_24h_pct"}
//	GET /tokens/{token}/safety            -> {"score"}
type HTTPFeed struct {
	baseURL string
	http    *httpGetter
}

// NewHTTPFeed creates a feed client for baseURL.
func NewHTTPFeed(baseURL string, opts ...ClientOption) *HTTPFeed {
	return &HTTPFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPGetter(opts...),
	}
}

type candleDTO struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

type flowDTO struct {
	NetFlowUSD float64 `json:"net_flow_usd"`
}

type scoreDTO struct {
	Score *float64 `json:"score"`
}

type poolDTO struct {
	PriceUSD     float64 `json:"price_usd"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	Change24hPct float64 `json:"change_24h_pct"`
}

func (f *HTTPFeed) tokenURL(token, resource string, query url.Values) string {
	u := fmt.Sprintf("%s/tokens/%s/%s", f.baseURL, url.PathEscape(token), resource)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Candles implements OHLCVSource.
func (f *HTTPFeed) Candles(ctx context.Context, token string, limit int) ([]domain.Candle, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}

	var raw []candleDTO
	if err := f.http.getJSON(ctx, f.tokenURL(token, "candles", q), &raw); err != nil {
		return nil, fmt.Errorf("candles %s: %w", token, err)
	}
	if len(raw) == 0 {
		return nil, ErrUnavailable
	}

	candles := make([]domain.Candle, len(raw))
	for i, c := range raw {
		candles[i] = domain.Candle{
			OpenTime: c.OpenTime,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
		}
	}
	return candles, nil
}

// NetFlow implements FlowSource.
func (f *HTTPFeed) NetFlow(ctx context.Context, token string) (float64, error) {
	var raw flowDTO
	if err := f.http.getJSON(ctx, f.tokenURL(token, "flow", nil), &raw); err != nil {
		return 0, fmt.Errorf("flow %s: %w", token, err)
	}
	return raw.NetFlowUSD, nil
}

// PoolHealth implements LiquiditySource.
func (f *HTTPFeed) PoolHealth(ctx context.Context, token string) (domain.PoolHealth, error) {
	var raw poolDTO
	if err := f.http.getJSON(ctx, f.tokenURL(token, "pool", nil), &raw); err != nil {
		return domain.PoolHealth{}, fmt.Errorf("pool %s: %w", token, err)
	}
	return domain.PoolHealth{
		PriceUSD:     raw.PriceUSD,
		LiquidityUSD: raw.LiquidityUSD,
		Change24hPct: raw.Change24hPct,
	}, nil
}

// SafetyScore implements SafetySource.
func (f *HTTPFeed) SafetyScore(ctx context.Context, token string) (float64, error) {
	return f.score(ctx, f.tokenURL(token, "safety", nil))
}

// Social returns a SentimentSource for the social channel.
func (f *HTTPFeed) Social() SentimentSource {
	return sentimentChannel{feed: f, channel: SourceSocial}
}

// News returns a SentimentSource for the news channel.
func (f *HTTPFeed) News() SentimentSource {
	return sentimentChannel{feed: f, channel: SourceNews}
}

func (f *HTTPFeed) score(ctx context.Context, u string) (float64, error) {
	var raw scoreDTO
	if err := f.http.getJSON(ctx, u, &raw); err != nil {
		return 0, err
	}
	if raw.Score == nil {
		return 0, ErrUnavailable
	}
	return *raw.Score, nil
}

type sentimentChannel struct {
	feed    *HTTPFeed
	channel string
}

func (s sentimentChannel) Sentiment(ctx context.Context, token string) (float64, error) {
	q := url.Values{"channel": {s.channel}}
	v, err := s.feed.score(ctx, s.feed.tokenURL(token, "sentiment", q))
	if err != nil {
		return 0, fmt.Errorf("%s sentiment %s: %w", s.channel, token, err)
	}
	return v, nil
}

// Sources returns a Sources set where every per-token feed is served by f.
func (f *HTTPFeed) Sources() Sources {
	return Sources{
		OHLCV:     f,
		Flow:      f,
		Social:    f.Social(),
		News:      f.News(),
		Liquidity: f,
		Safety:    f,
	}
}
