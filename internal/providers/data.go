package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"tickerpulse/internal/models"
)

// DataClient talks to the third-party market/news/filings HTTP APIs. Each
// method maps onto one of the worker's provider interfaces.
type DataClient struct {
	marketURL  string
	newsURL    string
	filingsURL string
	client     *http.Client
}

func NewDataClient(marketURL, newsURL, filingsURL string) *DataClient {
	return &DataClient{
		marketURL:  marketURL,
		newsURL:    newsURL,
		filingsURL: filingsURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *DataClient) get(ctx context.Context, rawURL string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned %d for %s", resp.StatusCode, rawURL)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// Quote fetches the latest snapshot for a ticker.
func (c *DataClient) Quote(ctx context.Context, ticker string) (models.MarketSnapshot, error) {
	var snapshot models.MarketSnapshot
	u := fmt.Sprintf("%s/quote?symbol=%s", c.marketURL, url.QueryEscape(ticker))
	if err := c.get(ctx, u, &snapshot); err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("quote %s: %w", ticker, err)
	}
	if snapshot.ObservedAt.IsZero() {
		snapshot.ObservedAt = time.Now()
	}
	snapshot.Ticker = ticker
	return snapshot, nil
}

// Latest fetches headlines for a ticker published after since.
func (c *DataClient) Latest(ctx context.Context, ticker string, since time.Time) ([]models.NewsItem, error) {
	var items []models.NewsItem
	u := fmt.Sprintf("%s/news?symbol=%s&since=%s",
		c.newsURL, url.QueryEscape(ticker), url.QueryEscape(since.UTC().Format(time.RFC3339)))
	if err := c.get(ctx, u, &items); err != nil {
		return nil, fmt.Errorf("news %s: %w", ticker, err)
	}
	return items, nil
}

// Recent fetches the latest filings for a ticker.
func (c *DataClient) Recent(ctx context.Context, ticker string) ([]models.Filing, error) {
	var filings []models.Filing
	u := fmt.Sprintf("%s/filings?symbol=%s", c.filingsURL, url.QueryEscape(ticker))
	if err := c.get(ctx, u, &filings); err != nil {
		return nil, fmt.Errorf("filings %s: %w", ticker, err)
	}
	return filings, nil
}
