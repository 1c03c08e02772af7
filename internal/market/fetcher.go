package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dkruglov/trade-arena/internal/logger"
)

// priceSource lets tests feed quotes without a live HTTP endpoint.
type priceSource interface {
	FetchPrices(ctx context.Context) (map[string]Quote, error)
}

// Fetcher keeps a read-mostly cache of the latest quotes, refreshed on
// its own cadence. Agents read stale data rather than block on the
// upstream API; a fetch failure keeps the previous quotes.
type Fetcher struct {
	source  priceSource
	timeout time.Duration
	logger  *logger.Logger

	mu        sync.RWMutex
	quotes    map[string]Quote
	updatedAt time.Time
}

func NewFetcher(source priceSource, timeout time.Duration, log *logger.Logger) *Fetcher {
	return &Fetcher{
		source:  source,
		timeout: timeout,
		logger:  log,
		quotes:  make(map[string]Quote),
	}
}

// Refresh fetches fresh quotes into the cache.
func (f *Fetcher) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	quotes, err := f.source.FetchPrices(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.quotes = quotes
	f.updatedAt = time.Now()
	f.mu.Unlock()

	return nil
}

// Schedule registers a periodic refresh job on the given cron runner.
func (f *Fetcher) Schedule(cr *cron.Cron, every time.Duration) error {
	spec := fmt.Sprintf("@every %s", every)
	_, err := cr.AddFunc(spec, func() {
		if err := f.Refresh(context.Background()); err != nil {
			f.logger.Warn("market refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule market refresh: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the cached quotes and when they were
// last refreshed. The map is empty until the first successful fetch.
func (f *Fetcher) Snapshot() (map[string]Quote, time.Time) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	quotes := make(map[string]Quote, len(f.quotes))
	for coin, q := range f.quotes {
		quotes[coin] = q
	}
	return quotes, f.updatedAt
}

// Price returns the cached price for one coin.
func (f *Fetcher) Price(coin string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.quotes[coin]
	if !ok {
		return 0, false
	}
	return q.Price, true
}
