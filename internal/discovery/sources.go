package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/errs"
	"github.com/ajitpratap0/solfunk/internal/market"
)

// feedLimit bounds how many feed entries a source enriches per scan.
const feedLimit = 8

const defaultSearchQuery = "SOL"

// Candidate is one discovered token with the market view the filter
// gate and the decision pipeline consume.
type Candidate struct {
	market.Metrics
	Source string `json:"source"`
}

// Source produces candidates from one upstream feed. A source that
// fails returns an error; the aggregator degrades it to empty.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Candidate, error)
}

// PairReader enriches a bare token address with pair metrics.
// Satisfied by market.DexScreener.
type PairReader interface {
	TokenMetrics(ctx context.Context, mint string) (*market.Metrics, error)
}

// feedEntry is the shape shared by the profile and boost feeds.
type feedEntry struct {
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
}

// enrichAddresses resolves feed addresses into full candidates. A mint
// that cannot be enriched is skipped, not fatal for the source.
func enrichAddresses(ctx context.Context, pairs PairReader, source string, addrs []string, log zerolog.Logger) []Candidate {
	out := make([]Candidate, 0, len(addrs))
	for _, addr := range addrs {
		m, err := pairs.TokenMetrics(ctx, addr)
		if err != nil {
			log.Debug().Err(err).Str("source", source).Str("mint", addr).Msg("Skipping unenrichable candidate")
			continue
		}
		out = append(out, Candidate{Metrics: *m, Source: source})
	}
	return out
}

// selectChainAddresses keeps feed entries for one chain, deduplicated,
// capped at limit.
func selectChainAddresses(entries []feedEntry, chain string, limit int) []string {
	seen := make(map[string]struct{}, limit)
	out := make([]string, 0, limit)
	for _, e := range entries {
		if e.ChainID != chain || e.TokenAddress == "" {
			continue
		}
		if _, dup := seen[e.TokenAddress]; dup {
			continue
		}
		seen[e.TokenAddress] = struct{}{}
		out = append(out, e.TokenAddress)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// whitelistSource emits the operator-curated mints on every scan.
type whitelistSource struct {
	mints []string
	pairs PairReader
	log   zerolog.Logger
}

func (s *whitelistSource) Name() string { return "whitelist" }

func (s *whitelistSource) Fetch(ctx context.Context) ([]Candidate, error) {
	return enrichAddresses(ctx, s.pairs, s.Name(), s.mints, s.log), nil
}

// profileSource reads the latest token-profile feed.
type profileSource struct {
	http  *resty.Client
	pairs PairReader
	chain string
	log   zerolog.Logger
}

func (s *profileSource) Name() string { return "profiles" }

func (s *profileSource) Fetch(ctx context.Context) ([]Candidate, error) {
	var entries []feedEntry
	if err := getFeed(ctx, s.http, "/token-profiles/latest/v1", &entries); err != nil {
		return nil, err
	}
	addrs := selectChainAddresses(entries, s.chain, feedLimit)
	return enrichAddresses(ctx, s.pairs, s.Name(), addrs, s.log), nil
}

// boostSource reads the latest boosted-token feed.
type boostSource struct {
	http  *resty.Client
	pairs PairReader
	chain string
	log   zerolog.Logger
}

func (s *boostSource) Name() string { return "boosts" }

func (s *boostSource) Fetch(ctx context.Context) ([]Candidate, error) {
	var entries []feedEntry
	if err := getFeed(ctx, s.http, "/token-boosts/latest/v1", &entries); err != nil {
		return nil, err
	}
	addrs := selectChainAddresses(entries, s.chain, feedLimit)
	return enrichAddresses(ctx, s.pairs, s.Name(), addrs, s.log), nil
}

// searchSource pulls full pairs from the DEX search endpoint filtered
// to one chain, so its candidates need no enrichment round trip.
type searchSource struct {
	http  *resty.Client
	chain string
	query string
}

func (s *searchSource) Name() string { return "search" }

type searchResponse struct {
	SchemaVersion string        `json:"schemaVersion"`
	Pairs         []market.Pair `json:"pairs"`
}

func (s *searchSource) Fetch(ctx context.Context) ([]Candidate, error) {
	var out searchResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("q", s.query).
		SetResult(&out).
		Get("/latest/dex/search")
	if err != nil {
		return nil, errs.Classify(err)
	}
	if resp.StatusCode() == 429 {
		return nil, fmt.Errorf("%w: search feed", errs.ErrRateLimited)
	}
	if resp.IsError() {
		return nil, errs.Classify(fmt.Errorf("search feed status %d", resp.StatusCode()))
	}

	cands := make([]Candidate, 0, len(out.Pairs))
	for i := range out.Pairs {
		p := &out.Pairs[i]
		if p.ChainID != s.chain || p.BaseToken.Address == "" {
			continue
		}
		cands = append(cands, Candidate{
			Metrics: *market.MetricsFromPair(p.BaseToken.Address, p),
			Source:  s.Name(),
		})
	}
	return cands, nil
}

func getFeed(ctx context.Context, client *resty.Client, path string, out any) error {
	resp, err := client.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	if err != nil {
		return errs.Classify(err)
	}
	if resp.StatusCode() == 429 {
		return fmt.Errorf("%w: %s", errs.ErrRateLimited, path)
	}
	if resp.IsError() {
		return errs.Classify(fmt.Errorf("%s status %d", path, resp.StatusCode()))
	}
	return nil
}

func newFeedClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(300 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")
}
