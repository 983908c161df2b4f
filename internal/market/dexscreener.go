// Package market provides token market data: the DexScreener pair
// client, the volatility-aware price cache, and the historical price
// source with its Redis layer.
package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/solfunk/internal/errs"
)

// Token identifies one side of a DEX pair.
type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// PriceChange holds percentage changes over standard windows.
type PriceChange struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

// VolumeWindows holds traded volume in USD over standard windows.
type VolumeWindows struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

// Liquidity holds pool liquidity figures.
type Liquidity struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// Pair is one DEX pair as reported by DexScreener.
type Pair struct {
	ChainID       string        `json:"chainId"`
	DexID         string        `json:"dexId"`
	PairAddress   string        `json:"pairAddress"`
	BaseToken     Token         `json:"baseToken"`
	QuoteToken    Token         `json:"quoteToken"`
	PriceNative   string        `json:"priceNative"`
	PriceUSD      string        `json:"priceUsd"`
	PriceChange   PriceChange   `json:"priceChange"`
	Volume        VolumeWindows `json:"volume"`
	Liquidity     *Liquidity    `json:"liquidity"`
	FDV           float64       `json:"fdv"`
	PairCreatedAt int64         `json:"pairCreatedAt"`
}

// Price returns the pair price in USD, or 0 when unparseable.
func (p *Pair) Price() float64 {
	v, err := strconv.ParseFloat(p.PriceUSD, 64)
	if err != nil {
		return 0
	}
	return v
}

// LiquidityUSD returns pool liquidity, tolerating a missing block.
func (p *Pair) LiquidityUSD() float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.USD
}

// Metrics is the normalised market view the decision pipeline consumes.
type Metrics struct {
	Mint          string    `json:"mint"`
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	PriceUSD      float64   `json:"price_usd"`
	Change5m      float64   `json:"change_5m"`
	Change1h      float64   `json:"change_1h"`
	Change6h      float64   `json:"change_6h"`
	Change24h     float64   `json:"change_24h"`
	Volume1h      float64   `json:"volume_1h"`
	Volume24h     float64   `json:"volume_24h"`
	LiquidityUSD  float64   `json:"liquidity_usd"`
	FDV           float64   `json:"fdv"`
	DexID         string    `json:"dex_id"`
	PairAddress   string    `json:"pair_address"`
	PairCreatedAt time.Time `json:"pair_created_at"`
}

// RVOL is relative volume: the last hour against the 24h hourly average.
func (m *Metrics) RVOL() float64 {
	if m.Volume24h <= 0 {
		return 0
	}
	return m.Volume1h / (m.Volume24h / 24)
}

// PairAge returns how long the primary pair has existed.
func (m *Metrics) PairAge() time.Duration {
	if m.PairCreatedAt.IsZero() {
		return 0
	}
	return time.Since(m.PairCreatedAt)
}

// MetricsFromPair normalises one DexScreener pair into Metrics.
func MetricsFromPair(mint string, p *Pair) *Metrics {
	created := time.Time{}
	if p.PairCreatedAt > 0 {
		created = time.UnixMilli(p.PairCreatedAt)
	}
	return &Metrics{
		Mint:          mint,
		Symbol:        p.BaseToken.Symbol,
		Name:          p.BaseToken.Name,
		PriceUSD:      p.Price(),
		Change5m:      p.PriceChange.M5,
		Change1h:      p.PriceChange.H1,
		Change6h:      p.PriceChange.H6,
		Change24h:     p.PriceChange.H24,
		Volume1h:      p.Volume.H1,
		Volume24h:     p.Volume.H24,
		LiquidityUSD:  p.LiquidityUSD(),
		FDV:           p.FDV,
		DexID:         p.DexID,
		PairAddress:   p.PairAddress,
		PairCreatedAt: created,
	}
}

// DexScreener fetches pair data from the DexScreener public API.
type DexScreener struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewDexScreener builds the client. breaker may be nil.
func NewDexScreener(baseURL string, timeout time.Duration, breaker *gobreaker.CircuitBreaker, log zerolog.Logger) *DexScreener {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")

	return &DexScreener{
		http:    httpClient,
		breaker: breaker,
		log:     log.With().Str("component", "dexscreener").Logger(),
	}
}

type tokenPairsResponse struct {
	SchemaVersion string `json:"schemaVersion"`
	Pairs         []Pair `json:"pairs"`
}

// TokenPairs returns every pair listed for a mint.
func (d *DexScreener) TokenPairs(ctx context.Context, mint string) ([]Pair, error) {
	var out tokenPairsResponse
	if err := d.get(ctx, "/latest/dex/tokens/"+mint, &out); err != nil {
		return nil, err
	}
	return out.Pairs, nil
}

// PrimaryPair returns the first listed pair, the liquidity leader.
func (d *DexScreener) PrimaryPair(ctx context.Context, mint string) (*Pair, error) {
	pairs, err := d.TokenPairs(ctx, mint)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no pairs for %s", errs.ErrPriceUnavailable, mint)
	}
	return &pairs[0], nil
}

// TokenMetrics returns the normalised market view for a mint.
func (d *DexScreener) TokenMetrics(ctx context.Context, mint string) (*Metrics, error) {
	pair, err := d.PrimaryPair(ctx, mint)
	if err != nil {
		return nil, err
	}
	return MetricsFromPair(mint, pair), nil
}

// FetchPrice satisfies the price cache's Fetcher.
func (d *DexScreener) FetchPrice(ctx context.Context, mint string) (float64, error) {
	pair, err := d.PrimaryPair(ctx, mint)
	if err != nil {
		return 0, err
	}
	price := pair.Price()
	if price <= 0 {
		return 0, fmt.Errorf("%w: unparseable price for %s", errs.ErrPriceUnavailable, mint)
	}
	return price, nil
}

func (d *DexScreener) get(ctx context.Context, path string, out any) error {
	call := func() (interface{}, error) {
		resp, err := d.http.R().
			SetContext(ctx).
			SetResult(out).
			Get(path)
		if err != nil {
			return nil, errs.Classify(err)
		}
		if resp.StatusCode() == 429 {
			return nil, fmt.Errorf("%w: dexscreener", errs.ErrRateLimited)
		}
		if resp.IsError() {
			return nil, errs.Classify(fmt.Errorf("dexscreener status %d", resp.StatusCode()))
		}
		return nil, nil
	}

	if d.breaker == nil {
		_, err := call()
		return err
	}
	_, err := d.breaker.Execute(call)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("%w: dexscreener circuit open", errs.ErrNetworkTransient)
	}
	return err
}
