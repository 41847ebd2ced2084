package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/mirrorlabs/insider-mirror/internal/config"
	"github.com/mirrorlabs/insider-mirror/internal/logger"
	"github.com/mirrorlabs/insider-mirror/internal/model"
)

// Error is a transport or parse failure from the disclosure provider. A
// fetch that returns one has ingested nothing.
type Error struct {
	Stage string // "request", "transport", "status", "parse"
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client fetches insider transactions from one HTTP disclosure provider and
// normalizes them into canonical trades. It is the only component that
// deduplicates: source IDs already seen within the recency window are
// silently dropped so overlapping fetches do not double-ingest.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	seen       *dedupSet
	logger     *logger.Logger
}

func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.FeedTimeout()},
		endpoint:   cfg.Feed.Endpoint,
		token:      cfg.Feed.Token,
		seen:       newDedupSet(cfg.Feed.DedupCapacity),
		logger:     log,
	}
}

type wireResponse struct {
	Data []wireRecord `json:"data"`
}

// wireRecord tolerates both snake_case provider fields and the Finnhub
// camelCase variants; Normalize picks whichever is populated.
type wireRecord struct {
	Symbol           string  `json:"symbol"`
	TransactionType  string  `json:"transaction_type"`
	TransactionCode  string  `json:"transactionCode"`
	Shares           float64 `json:"shares"`
	Share            float64 `json:"share"`
	Price            float64 `json:"price"`
	TransactionPrice float64 `json:"transactionPrice"`
	FilingDate       string  `json:"filing_date"`
	FilingDateAlt    string  `json:"filingDate"`
	ID               string  `json:"id"`
	SourceID         string  `json:"source_id"`

	// Some providers echo a precomputed notional. It is only ever checked,
	// never stored; downstream value is always recomputed.
	Value float64 `json:"value"`
}

// FetchLatest performs one fetch. All-or-nothing: on any transport or parse
// failure it returns a *Error and the dedup set is untouched, so the same
// records remain ingestible on the next attempt.
func (c *Client) FetchLatest(ctx context.Context) ([]model.Trade, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, &Error{Stage: "request", Err: err}
	}
	if c.token != "" {
		req.Header.Set("X-Finnhub-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Stage: "transport", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Stage: "status", Err: fmt.Errorf("provider returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Stage: "transport", Err: err}
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &Error{Stage: "parse", Err: err}
	}

	trades := make([]model.Trade, 0, len(wire.Data))
	inBatch := make(map[string]struct{}, len(wire.Data))
	for _, rec := range wire.Data {
		trade, err := normalize(rec)
		if err != nil {
			c.logger.Debug("dropping invalid feed record", "symbol", rec.Symbol, "error", err)
			continue
		}
		if c.seen.contains(trade.SourceID) {
			continue
		}
		if _, dup := inBatch[trade.SourceID]; dup {
			continue
		}
		inBatch[trade.SourceID] = struct{}{}
		trades = append(trades, trade)
	}

	// Mark only after the whole batch normalized cleanly.
	for _, t := range trades {
		c.seen.add(t.SourceID)
	}

	return trades, nil
}

func normalize(rec wireRecord) (model.Trade, error) {
	rawType := rec.TransactionType
	if rawType == "" {
		rawType = rec.TransactionCode
	}

	shares := rec.Shares
	if shares == 0 {
		shares = rec.Share
	}

	price := rec.Price
	if price == 0 {
		price = rec.TransactionPrice
	}

	rawDate := rec.FilingDate
	if rawDate == "" {
		rawDate = rec.FilingDateAlt
	}
	filed, err := parseFilingDate(rawDate)
	if err != nil {
		return model.Trade{}, err
	}

	if rec.Value != 0 && math.Abs(rec.Value-shares*price) > 0.01 {
		return model.Trade{}, fmt.Errorf("reported value %v disagrees with %v shares at %v", rec.Value, shares, price)
	}

	sourceID := rec.SourceID
	if sourceID == "" {
		sourceID = rec.ID
	}
	if sourceID == "" {
		// Providers without record IDs get a deterministic composite key.
		sourceID = fmt.Sprintf("%s|%s|%d|%g", rec.Symbol, rawDate, int64(shares), price)
	}

	return model.NewTrade(rec.Symbol, model.ParseTransactionType(rawType), int64(shares), price, filed, sourceID)
}

func parseFilingDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing filing date")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable filing date %q", raw)
}
