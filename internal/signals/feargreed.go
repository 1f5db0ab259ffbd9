package signals

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FearGreedClient reads the alternative.me Fear & Greed index.
type FearGreedClient struct {
	apiURL string
	http   *httpGetter
}

type fearGreedPoint struct {
	Value               string `json:"value"`
	ValueClassification string `json:"value_classification"`
	Timestamp           string `json:"timestamp"`
}

type fearGreedResponse struct {
	Name     string           `json:"name"`
	Data     []fearGreedPoint `json:"data"`
	Metadata struct {
		Error *string `json:"error,omitempty"`
	} `json:"metadata"`
}

// NewFearGreedClient creates a client for baseURL (e.g. https://api.alternative.me).
func NewFearGreedClient(baseURL string, opts ...ClientOption) *FearGreedClient {
	return &FearGreedClient{
		apiURL: strings.TrimRight(baseURL, "/") + "/fng/?limit=1&format=json",
		http:   newHTTPGetter(opts...),
	}
}

// FearGreed implements FearGreedSource.
func (c *FearGreedClient) FearGreed(ctx context.Context) (float64, error) {
	var raw fearGreedResponse
	if err := c.http.getJSON(ctx, c.apiURL, &raw); err != nil {
		return 0, fmt.Errorf("fear & greed: %w", err)
	}
	if raw.Metadata.Error != nil {
		return 0, fmt.Errorf("fear & greed api error: %s", *raw.Metadata.Error)
	}
	if len(raw.Data) == 0 {
		return 0, errors.Join(ErrUnavailable, errors.New("fear & greed: no data returned"))
	}

	value, err := strconv.Atoi(raw.Data[0].Value)
	if err != nil {
		return 0, fmt.Errorf("fear & greed: invalid value %q: %w", raw.Data[0].Value, err)
	}
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("fear & greed: value %d out of range", value)
	}
	return float64(value), nil
}
