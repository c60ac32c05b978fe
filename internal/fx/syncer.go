package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/repository"
)

// Fetcher retrieves the current USD conversion rates from a provider.
type Fetcher interface {
	Fetch(ctx context.Context) (map[string]decimal.Decimal, error)
}

// HTTPFetcher reads a JSON object of {"EUR": "1.08", ...} from a rate
// provider endpoint. Rates are quoted as units of USD per one unit of the
// currency.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

func NewHTTPFetcher(url string) *HTTPFetcher {
	return &HTTPFetcher{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate provider returned %d", resp.StatusCode)
	}

	var rates map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	return rates, nil
}

// Syncer refreshes the exchange_rate table periodically. A failed sync keeps
// the stored rates; conversions keep using the last-known value until the
// provider recovers.
type Syncer struct {
	repo    *repository.Repository
	fetcher Fetcher
	every   time.Duration
}

func NewSyncer(repo *repository.Repository, fetcher Fetcher, every time.Duration) *Syncer {
	if every <= 0 {
		every = 15 * time.Minute
	}
	return &Syncer{repo: repo, fetcher: fetcher, every: every}
}

// Run syncs once at startup and then on every tick until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	if err := s.sync(ctx); err != nil {
		log.Printf("[fx] initial sync failed, keeping stored rates: %v", err)
	}

	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sync(ctx); err != nil {
				log.Printf("[fx] sync failed, keeping stored rates: %v", err)
			}
		}
	}
}

func (s *Syncer) sync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rates, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}

	stored := 0
	for currency, rate := range rates {
		if len(currency) != 3 || !rate.IsPositive() {
			log.Printf("[fx] skipping bad rate %s=%s", currency, rate)
			continue
		}
		if err := s.repo.UpsertRate(ctx, currency, rate); err != nil {
			return err
		}
		stored++
	}
	log.Printf("[fx] stored %d rate(s)", stored)
	return nil
}
