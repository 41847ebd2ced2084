package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mirrorlabs/insider-mirror/internal/config"
	"github.com/mirrorlabs/insider-mirror/internal/logger"
)

// Provider supplies live quotes for portfolio valuation and the stop-loss
// check. Deployments without a quote source run with a nil provider, which
// degrades both to a flagged no-op.
type Provider interface {
	Quote(ctx context.Context, symbol string) (float64, error)
}

// Client is a Finnhub-style quote client.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	logger     *logger.Logger
}

// NewClient returns nil when no endpoint is configured; callers treat a nil
// provider as quotes-unavailable.
func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	if cfg.Market.Endpoint == "" {
		return nil
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.MarketTimeout()},
		endpoint:   cfg.Market.Endpoint,
		token:      cfg.Market.Token,
		logger:     log,
	}
}

type quoteResponse struct {
	Current float64 `json:"c"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (float64, error) {
	u := fmt.Sprintf("%s?symbol=%s", c.endpoint, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("X-Finnhub-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch quote %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("quote %s: provider returned status %d", symbol, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read quote response: %w", err)
	}

	var q quoteResponse
	if err := json.Unmarshal(body, &q); err != nil {
		return 0, fmt.Errorf("parse quote response: %w", err)
	}
	if q.Current <= 0 {
		return 0, fmt.Errorf("quote %s: no current price", symbol)
	}
	return q.Current, nil
}

// Quotes fetches best-effort quotes for a symbol set. Misses are logged and
// omitted from the map, never zero-filled.
func Quotes(ctx context.Context, p Provider, symbols []string, log *logger.Logger) map[string]float64 {
	quotes := make(map[string]float64, len(symbols))
	if p == nil {
		return quotes
	}
	for _, sym := range symbols {
		price, err := p.Quote(ctx, sym)
		if err != nil {
			log.Debug("quote unavailable", "symbol", sym, "error", err)
			continue
		}
		quotes[sym] = price
	}
	return quotes
}
