package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkruglov/trade-arena/internal/logger"
)

// coinIDs maps ticker symbols to CoinGecko asset ids.
var coinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"BNB":  "binancecoin",
	"XRP":  "ripple",
	"DOGE": "dogecoin",
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	coins      []string
	logger     *logger.Logger
}

func NewClient(baseURL string, coins []string, timeout time.Duration, log *logger.Logger) (*Client, error) {
	for _, coin := range coins {
		if _, ok := coinIDs[coin]; !ok {
			return nil, fmt.Errorf("unsupported coin %q", coin)
		}
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		coins:      coins,
		logger:     log,
	}, nil
}

// FetchPrices queries the /simple/price endpoint for the configured
// coin universe.
func (c *Client) FetchPrices(ctx context.Context) (map[string]Quote, error) {
	ids := make([]string, len(c.coins))
	for i, coin := range c.coins {
		ids[i] = coinIDs[coin]
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")
	endpoint := c.baseURL + "/simple/price?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var raw map[string]struct {
		USD          float64 `json:"usd"`
		USD24hChange float64 `json:"usd_24h_change"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse price response: %w", err)
	}

	quotes := make(map[string]Quote, len(c.coins))
	for _, coin := range c.coins {
		entry, ok := raw[coinIDs[coin]]
		if !ok || entry.USD == 0 {
			continue
		}
		quotes[coin] = Quote{Price: entry.USD, Change24h: entry.USD24hChange}
	}

	if len(quotes) == 0 {
		return nil, fmt.Errorf("price response contained no usable quotes")
	}

	return quotes, nil
}
