// Package validator gates candidates before they reach the strategy
// ensemble: whitelist fast-path, rug-risk and pair-quality checks, and
// an optional technical read of the recent price history.
package validator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/config"
	"github.com/ajitpratap0/solfunk/internal/indicators"
	"github.com/ajitpratap0/solfunk/internal/market"
)

const divergenceWindow = 10

// PairReader resolves a mint to its primary-pair metrics.
type PairReader interface {
	TokenMetrics(ctx context.Context, mint string) (*market.Metrics, error)
}

// HistorySource serves hourly prices for the technical pass.
type HistorySource interface {
	HourlyPrices(ctx context.Context, mint string, days int) ([]market.PricePoint, error)
}

// RugScorer serves token risk reports.
type RugScorer interface {
	Report(ctx context.Context, mint string) (*RugReport, error)
}

// Technical is the optional indicator read attached to a passing token.
type Technical struct {
	RSI               float64 `json:"rsi"`
	Oversold          bool    `json:"oversold"`
	BullishDivergence bool    `json:"bullish_divergence"`
}

// Result is the validation verdict for one mint.
type Result struct {
	Mint         string     `json:"mint"`
	Passed       bool       `json:"passed"`
	Whitelisted  bool       `json:"whitelisted"`
	Reason       string     `json:"reason"`
	RugScore     float64    `json:"rug_score"`
	LiquidityUSD float64    `json:"liquidity_usd"`
	Volume24hUSD float64    `json:"volume_24h_usd"`
	Technical    *Technical `json:"technical,omitempty"`
	CheckedAt    time.Time  `json:"checked_at"`
}

// Validator runs the base checks with a per-mint result cache.
type Validator struct {
	cfg       config.ValidationConfig
	whitelist map[string]WhitelistEntry
	rug       RugScorer
	pairs     PairReader
	history   HistorySource
	ttl       time.Duration
	log       zerolog.Logger

	mu    sync.Mutex
	cache map[string]Result
	now   func() time.Time
}

// New loads the whitelist and wires the check clients. history may be
// nil, which disables the technical pass.
func New(cfg config.ValidationConfig, rug RugScorer, pairs PairReader, history HistorySource, log zerolog.Logger) (*Validator, error) {
	wl, err := LoadWhitelist(cfg.WhitelistFile)
	if err != nil {
		return nil, err
	}

	componentLog := log.With().Str("component", "validator").Logger()
	if len(wl) > 0 {
		componentLog.Info().Int("tokens", len(wl)).Msg("Loaded token whitelist")
	}
	return &Validator{
		cfg:       cfg,
		whitelist: wl,
		rug:       rug,
		pairs:     pairs,
		history:   history,
		ttl:       time.Duration(cfg.CacheTTLSec) * time.Second,
		cache:     make(map[string]Result),
		now:       time.Now,
		log:       componentLog,
	}, nil
}

// Whitelisted reports whether a mint is on the static whitelist.
func (v *Validator) Whitelisted(mint string) bool {
	_, ok := v.whitelist[mint]
	return ok
}

// Validate returns the verdict for a mint, served from cache when a
// recent one exists. Unverifiable tokens fail closed.
func (v *Validator) Validate(ctx context.Context, mint string) Result {
	if v.cfg.Skip {
		return Result{Mint: mint, Passed: true, Reason: "validation disabled", CheckedAt: v.now()}
	}
	if entry, ok := v.whitelist[mint]; ok {
		v.log.Debug().Str("mint", mint).Str("symbol", entry.Symbol).Msg("Whitelist fast-path")
		return Result{Mint: mint, Passed: true, Whitelisted: true, Reason: "whitelisted", CheckedAt: v.now()}
	}

	v.mu.Lock()
	if cached, ok := v.cache[mint]; ok && v.now().Sub(cached.CheckedAt) < v.ttl {
		v.mu.Unlock()
		return cached
	}
	v.mu.Unlock()

	res := v.check(ctx, mint)

	v.mu.Lock()
	v.cache[mint] = res
	v.mu.Unlock()
	return res
}

func (v *Validator) check(ctx context.Context, mint string) Result {
	res := Result{Mint: mint, CheckedAt: v.now()}

	var (
		wg      sync.WaitGroup
		report  *RugReport
		rugErr  error
		m       *market.Metrics
		pairErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		report, rugErr = v.rug.Report(ctx, mint)
	}()
	go func() {
		defer wg.Done()
		m, pairErr = v.pairs.TokenMetrics(ctx, mint)
	}()
	wg.Wait()

	switch {
	case rugErr != nil:
		res.Reason = fmt.Sprintf("rug check unavailable: %v", rugErr)
	case pairErr != nil:
		res.Reason = fmt.Sprintf("pair data unavailable: %v", pairErr)
	default:
		res.RugScore = report.Score
		res.LiquidityUSD = m.LiquidityUSD
		res.Volume24hUSD = m.Volume24h
		switch {
		case report.Score > v.cfg.MaxRugScore:
			res.Reason = fmt.Sprintf("rug score %.0f above %.0f", report.Score, v.cfg.MaxRugScore)
		case m.LiquidityUSD < v.cfg.MinLiquidityUSD:
			res.Reason = fmt.Sprintf("liquidity $%.0f below $%.0f", m.LiquidityUSD, v.cfg.MinLiquidityUSD)
		case m.Volume24h < v.cfg.MinVolumeUSD:
			res.Reason = fmt.Sprintf("24h volume $%.0f below $%.0f", m.Volume24h, v.cfg.MinVolumeUSD)
		default:
			res.Passed = true
			res.Reason = "checks passed"
		}
	}

	if res.Passed && v.cfg.EnableTechnical && v.history != nil {
		res.Technical = v.technical(ctx, mint)
	}

	evt := v.log.Debug()
	if !res.Passed {
		evt = v.log.Info()
	}
	evt.Str("mint", mint).Bool("passed", res.Passed).Str("reason", res.Reason).Msg("Validated token")
	return res
}

// technical computes RSI-14 over seven days of hourly prices and looks
// for a bullish divergence. Failures here never fail the token.
func (v *Validator) technical(ctx context.Context, mint string) *Technical {
	points, err := v.history.HourlyPrices(ctx, mint, 7)
	if err != nil || len(points) < indicators.RSIPeriod+1 {
		v.log.Debug().Err(err).Str("mint", mint).Int("points", len(points)).Msg("Skipping technical pass")
		return nil
	}

	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Value
	}
	rsi, err := indicators.RSI(prices, indicators.RSIPeriod)
	if err != nil {
		return nil
	}

	last := rsi[len(rsi)-1]
	return &Technical{
		RSI:               last,
		Oversold:          last < indicators.RSIOversold,
		BullishDivergence: indicators.BullishDivergence(prices, rsi, divergenceWindow),
	}
}
