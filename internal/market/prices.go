package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/errs"
	"github.com/ajitpratap0/solfunk/internal/metrics"
	"github.com/ajitpratap0/solfunk/internal/state"
)

// Lookup distinguishes why a price is needed. Critical lookups (entry
// and exit decisions) always force a fresh fetch; monitoring lookups may
// be served from the cache.
type Lookup string

const (
	Critical   Lookup = "critical"
	Monitoring Lookup = "monitoring"
)

const (
	// TTL bounds: volatile tokens expire fast, quiet ones linger.
	minTTL = 15 * time.Second
	maxTTL = 60 * time.Second

	highVolatility = 0.05
	lowVolatility  = 0.01

	windowCap       = 20
	volatilityEvery = 5
)

// Fetcher produces a fresh price for a mint.
type Fetcher interface {
	FetchPrice(ctx context.Context, mint string) (float64, error)
}

// PriceEntry is the cached view of one token's price.
type PriceEntry struct {
	Price      float64   `json:"price"`
	UpdatedAt  time.Time `json:"updated_at"`
	Window     []float64 `json:"window"`
	Volatility float64   `json:"volatility"`
	HasVol     bool      `json:"has_volatility"`
	Writes     int       `json:"writes"`
}

// PriceCache caches token prices with a volatility-scaled TTL.
type PriceCache struct {
	mu      sync.Mutex
	entries map[string]*PriceEntry
	fetcher Fetcher
	path    string
	now     func() time.Time
	log     zerolog.Logger
}

// NewPriceCache builds the cache, restoring a snapshot when one exists.
// path may be empty to disable persistence.
func NewPriceCache(fetcher Fetcher, path string, log zerolog.Logger) *PriceCache {
	c := &PriceCache{
		entries: make(map[string]*PriceEntry),
		fetcher: fetcher,
		path:    path,
		now:     time.Now,
		log:     log.With().Str("component", "price_cache").Logger(),
	}

	if path != "" {
		if err := state.LoadJSON(path, &c.entries); err != nil {
			if !os.IsNotExist(err) {
				c.log.Warn().Err(err).Msg("Could not restore price cache snapshot")
			}
			c.entries = make(map[string]*PriceEntry)
		} else {
			c.log.Info().Int("tokens", len(c.entries)).Msg("Restored price cache snapshot")
		}
	}
	return c
}

// Price returns a price for the mint. Monitoring lookups are served from
// the cache while fresh enough; critical lookups always refetch. When a
// refresh fails, the stale value is returned with a warning; the lookup
// fails only when no prior value exists.
func (c *PriceCache) Price(ctx context.Context, mint string, kind Lookup) (float64, error) {
	if kind != Critical {
		c.mu.Lock()
		if e, ok := c.entries[mint]; ok && c.now().Sub(e.UpdatedAt) < ttlFor(e) {
			price := e.Price
			c.mu.Unlock()
			metrics.PriceCacheHits.Inc()
			return price, nil
		}
		c.mu.Unlock()
		metrics.PriceCacheMisses.Inc()
	}

	price, err := c.fetcher.FetchPrice(ctx, mint)
	if err != nil {
		c.mu.Lock()
		e, ok := c.entries[mint]
		if ok {
			stale := e.Price
			age := c.now().Sub(e.UpdatedAt)
			c.mu.Unlock()
			metrics.PriceCacheStale.Inc()
			c.log.Warn().
				Err(err).
				Str("mint", mint).
				Dur("age", age).
				Msg("Price refresh failed, serving stale value")
			return stale, nil
		}
		c.mu.Unlock()
		if errors.Is(err, errs.ErrPriceUnavailable) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %s: %v", errs.ErrPriceUnavailable, mint, err)
	}

	c.record(mint, price)
	return price, nil
}

// record appends a fresh price to the mint's rolling window.
func (c *PriceCache) record(mint string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[mint]
	if !ok {
		e = &PriceEntry{}
		c.entries[mint] = e
	}

	e.Window = append(e.Window, price)
	if len(e.Window) > windowCap {
		e.Window = e.Window[len(e.Window)-windowCap:]
	}
	e.Writes++
	if e.Writes%volatilityEvery == 0 {
		e.Volatility = relativeStddev(e.Window)
		e.HasVol = true
	}
	e.Price = price
	e.UpdatedAt = c.now()
}

// ttlFor interpolates the TTL from volatility. Tokens without a computed
// volatility get the shortest TTL.
func ttlFor(e *PriceEntry) time.Duration {
	if !e.HasVol {
		return minTTL
	}
	sigma := e.Volatility
	switch {
	case sigma >= highVolatility:
		return minTTL
	case sigma <= lowVolatility:
		return maxTTL
	}
	frac := (sigma - lowVolatility) / (highVolatility - lowVolatility)
	return maxTTL - time.Duration(frac*float64(maxTTL-minTTL))
}

// relativeStddev is the stddev of consecutive relative price changes.
func relativeStddev(window []float64) float64 {
	if len(window) < 2 {
		return 0
	}
	diffs := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			continue
		}
		diffs = append(diffs, (window[i]-window[i-1])/window[i-1])
	}
	if len(diffs) == 0 {
		return 0
	}

	var mean float64
	for _, d := range diffs {
		mean += d
	}
	mean /= float64(len(diffs))

	var variance float64
	for _, d := range diffs {
		delta := d - mean
		variance += delta * delta
	}
	variance /= float64(len(diffs))
	return math.Sqrt(variance)
}

// Size returns the number of cached tokens.
func (c *PriceCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SaveSnapshot persists the cache for the next run.
func (c *PriceCache) SaveSnapshot() error {
	if c.path == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return state.SaveJSON(c.path, c.entries)
}
