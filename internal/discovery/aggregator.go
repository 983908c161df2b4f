// Package discovery finds candidate tokens by fanning out to several
// upstream feeds, merging the results, and applying the filter gate.
package discovery

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/solfunk/internal/config"
	"github.com/ajitpratap0/solfunk/internal/metrics"
)

// minTokenPrice drops dust-priced tokens before any deeper analysis.
const minTokenPrice = 1e-6

// Filter holds the candidate gate thresholds.
type Filter struct {
	AllowedDexes  []string
	MinLiquidity  float64
	MinVolume24h  float64
	MaxChange24h  float64
	MinRVOL       float64
	MinPrice      float64
	MaxCandidates int
}

// FilterFromConfig maps discovery settings onto the gate.
func FilterFromConfig(cfg config.DiscoveryConfig) Filter {
	return Filter{
		AllowedDexes:  cfg.DexWhitelist,
		MinLiquidity:  cfg.MinLiquidityUSD,
		MinVolume24h:  cfg.MinVolume24hUSD,
		MaxChange24h:  cfg.MaxChange24hPct,
		MinRVOL:       cfg.MinRVOL,
		MinPrice:      minTokenPrice,
		MaxCandidates: cfg.MaxCandidates,
	}
}

func (f Filter) dexAllowed(dex string) bool {
	for _, d := range f.AllowedDexes {
		if strings.EqualFold(d, dex) {
			return true
		}
	}
	return false
}

// Apply returns the candidates that pass every threshold, plus a
// per-rule rejection tally for the scan log line.
func (f Filter) Apply(cands []Candidate) ([]Candidate, map[string]int) {
	rejected := make(map[string]int)
	out := make([]Candidate, 0, len(cands))
	for i := range cands {
		c := &cands[i]
		switch {
		case !f.dexAllowed(c.DexID):
			rejected["dex"]++
		case c.LiquidityUSD < f.MinLiquidity:
			rejected["liquidity"]++
		case c.Volume24h < f.MinVolume24h:
			rejected["volume"]++
		case c.Change24h > f.MaxChange24h || c.Change24h < -f.MaxChange24h:
			rejected["change"]++
		case c.RVOL() < f.MinRVOL:
			rejected["rvol"]++
		case c.PriceUSD < f.MinPrice:
			rejected["price"]++
		default:
			out = append(out, *c)
		}
	}
	return out, rejected
}

// Aggregator fans out to all sources and produces the ranked shortlist.
type Aggregator struct {
	sources       []Source
	filter        Filter
	sourceTimeout time.Duration
	log           zerolog.Logger
}

// New wires the standard source set from discovery config.
func New(cfg config.DiscoveryConfig, pairs PairReader, log zerolog.Logger) *Aggregator {
	timeout := time.Duration(cfg.SourceTimeoutMS) * time.Millisecond
	client := newFeedClient(cfg.BaseURL, timeout)
	componentLog := log.With().Str("component", "discovery").Logger()

	sources := []Source{
		&whitelistSource{mints: cfg.WhitelistAddresses, pairs: pairs, log: componentLog},
		&profileSource{http: client, pairs: pairs, chain: cfg.Chain, log: componentLog},
		&boostSource{http: client, pairs: pairs, chain: cfg.Chain, log: componentLog},
		&searchSource{http: client, chain: cfg.Chain, query: defaultSearchQuery},
	}
	return NewWithSources(FilterFromConfig(cfg), sources, timeout, log)
}

// NewWithSources builds an aggregator over an explicit source set.
func NewWithSources(filter Filter, sources []Source, sourceTimeout time.Duration, log zerolog.Logger) *Aggregator {
	if sourceTimeout <= 0 {
		sourceTimeout = 5 * time.Second
	}
	return &Aggregator{
		sources:       sources,
		filter:        filter,
		sourceTimeout: sourceTimeout,
		log:           log.With().Str("component", "discovery").Logger(),
	}
}

// Discover queries every source concurrently, unions by address with
// first occurrence winning in source order, filters, and returns the
// shortlist sorted by 24h volume.
func (a *Aggregator) Discover(ctx context.Context) []Candidate {
	results := make([][]Candidate, len(a.sources))

	var g errgroup.Group
	for i, src := range a.sources {
		i, src := i, src
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, a.sourceTimeout)
			defer cancel()

			cands, err := src.Fetch(sctx)
			if err != nil {
				metrics.DiscoverySourceFailures.WithLabelValues(src.Name()).Inc()
				a.log.Warn().Err(err).Str("source", src.Name()).Msg("Discovery source failed, continuing without it")
				return nil
			}
			metrics.DiscoveredCandidates.WithLabelValues(src.Name()).Add(float64(len(cands)))
			results[i] = cands
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	var merged []Candidate
	for _, batch := range results {
		for _, c := range batch {
			if _, dup := seen[c.Mint]; dup {
				continue
			}
			seen[c.Mint] = struct{}{}
			merged = append(merged, c)
		}
	}

	passed, rejected := a.filter.Apply(merged)
	sort.Slice(passed, func(i, j int) bool {
		return passed[i].Volume24h > passed[j].Volume24h
	})
	if limit := a.filter.MaxCandidates; limit > 0 && len(passed) > limit {
		passed = passed[:limit]
	}

	metrics.FilteredCandidates.Set(float64(len(passed)))
	a.log.Info().
		Int("merged", len(merged)).
		Int("passed", len(passed)).
		Interface("rejected", rejected).
		Msg("Discovery scan complete")
	return passed
}
