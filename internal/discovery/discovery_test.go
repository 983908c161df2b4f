package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/solfunk/internal/market"
)

type stubSource struct {
	name  string
	cands []Candidate
	err   error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(context.Context) ([]Candidate, error) {
	return s.cands, s.err
}

func mkCand(source, mint, dex string, price, liq, vol24, vol1h, change float64) Candidate {
	return Candidate{
		Source: source,
		Metrics: market.Metrics{
			Mint:         mint,
			DexID:        dex,
			PriceUSD:     price,
			LiquidityUSD: liq,
			Volume24h:    vol24,
			Volume1h:     vol1h,
			Change24h:    change,
		},
	}
}

func testFilter() Filter {
	return Filter{
		AllowedDexes:  []string{"raydium", "orca"},
		MinLiquidity:  10000,
		MinVolume24h:  20000,
		MaxChange24h:  50,
		MinRVOL:       1.5,
		MinPrice:      1e-6,
		MaxCandidates: 100,
	}
}

// good passes every gate: rvol = 4000/(48000/24) = 2.0.
func goodCand(source, mint string, vol24 float64) Candidate {
	return mkCand(source, mint, "raydium", 0.5, 60000, vol24, vol24/12, 10)
}

func TestDiscover_UnionFirstOccurrenceWins(t *testing.T) {
	first := &stubSource{name: "whitelist", cands: []Candidate{goodCand("whitelist", "MintA", 50000)}}
	second := &stubSource{name: "search", cands: []Candidate{
		goodCand("search", "MintA", 90000),
		goodCand("search", "MintB", 40000),
	}}
	a := NewWithSources(testFilter(), []Source{first, second}, time.Second, zerolog.Nop())

	got := a.Discover(context.Background())
	require.Len(t, got, 2)

	bySource := map[string]string{}
	for _, c := range got {
		bySource[c.Mint] = c.Source
	}
	assert.Equal(t, "whitelist", bySource["MintA"])
	assert.Equal(t, "search", bySource["MintB"])
}

func TestDiscover_FailedSourceDegradesToEmpty(t *testing.T) {
	broken := &stubSource{name: "boosts", err: errors.New("upstream 503")}
	healthy := &stubSource{name: "search", cands: []Candidate{goodCand("search", "MintA", 50000)}}
	a := NewWithSources(testFilter(), []Source{broken, healthy}, time.Second, zerolog.Nop())

	got := a.Discover(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "MintA", got[0].Mint)
}

func TestFilter_RejectsEachThreshold(t *testing.T) {
	cands := []Candidate{
		mkCand("s", "BadDex", "pumpfun", 0.5, 60000, 48000, 4000, 10),
		mkCand("s", "LowLiq", "raydium", 0.5, 500, 48000, 4000, 10),
		mkCand("s", "LowVol", "raydium", 0.5, 60000, 1000, 4000, 10),
		mkCand("s", "Pumped", "raydium", 0.5, 60000, 48000, 4000, 80),
		mkCand("s", "Dumped", "raydium", 0.5, 60000, 48000, 4000, -80),
		mkCand("s", "Sleepy", "raydium", 0.5, 60000, 48000, 100, 10),
		mkCand("s", "Dust", "raydium", 1e-9, 60000, 48000, 4000, 10),
		goodCand("s", "Keeper", 48000),
	}

	passed, rejected := testFilter().Apply(cands)
	require.Len(t, passed, 1)
	assert.Equal(t, "Keeper", passed[0].Mint)
	assert.Equal(t, 1, rejected["dex"])
	assert.Equal(t, 1, rejected["liquidity"])
	assert.Equal(t, 1, rejected["volume"])
	assert.Equal(t, 2, rejected["change"])
	assert.Equal(t, 1, rejected["rvol"])
	assert.Equal(t, 1, rejected["price"])
}

func TestFilter_DexMatchIsCaseInsensitive(t *testing.T) {
	passed, _ := testFilter().Apply([]Candidate{
		mkCand("s", "MintA", "Raydium", 0.5, 60000, 48000, 4000, 10),
	})
	assert.Len(t, passed, 1)
}

func TestDiscover_SortsByVolumeAndTruncates(t *testing.T) {
	f := testFilter()
	f.MaxCandidates = 3
	src := &stubSource{name: "search", cands: []Candidate{
		goodCand("search", "MintC", 30000),
		goodCand("search", "MintE", 90000),
		goodCand("search", "MintA", 50000),
		goodCand("search", "MintD", 25000),
		goodCand("search", "MintB", 70000),
	}}
	a := NewWithSources(f, []Source{src}, time.Second, zerolog.Nop())

	got := a.Discover(context.Background())
	require.Len(t, got, 3)
	assert.Equal(t, []string{"MintE", "MintB", "MintA"}, []string{got[0].Mint, got[1].Mint, got[2].Mint})
}

const feedPairJSON = `{
  "schemaVersion": "1.0.0",
  "pairs": [{
    "chainId": "solana",
    "dexId": "raydium",
    "pairAddress": "PairAddr111",
    "baseToken": {"address": "FeedMint111", "name": "Feed Coin", "symbol": "FEED"},
    "quoteToken": {"address": "So11111111111111111111111111111111111111112", "symbol": "SOL"},
    "priceUsd": "0.25",
    "priceChange": {"m5": 0.5, "h1": 2.0, "h6": 4.0, "h24": 9.0},
    "volume": {"h1": 4000, "h24": 48000},
    "liquidity": {"usd": 65000},
    "fdv": 1200000,
    "pairCreatedAt": 1700000000000
  }]
}`

func TestProfileSource_FetchesAndEnriches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token-profiles/latest/v1":
			w.Write([]byte(`[
				{"chainId": "solana", "tokenAddress": "FeedMint111"},
				{"chainId": "ethereum", "tokenAddress": "0xdead"},
				{"chainId": "solana", "tokenAddress": "FeedMint111"}
			]`))
		case "/latest/dex/tokens/FeedMint111":
			w.Write([]byte(feedPairJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	pairs := market.NewDexScreener(srv.URL, 2*time.Second, nil, zerolog.Nop())
	src := &profileSource{
		http:  newFeedClient(srv.URL, 2*time.Second),
		pairs: pairs,
		chain: "solana",
		log:   zerolog.Nop(),
	}

	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "FeedMint111", got[0].Mint)
	assert.Equal(t, "profiles", got[0].Source)
	assert.InDelta(t, 0.25, got[0].PriceUSD, 1e-9)
	assert.InDelta(t, 65000, got[0].LiquidityUSD, 1e-9)
}

func TestSearchSource_FiltersChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/latest/dex/search", r.URL.Path)
		require.Equal(t, "SOL", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"schemaVersion": "1.0.0",
			"pairs": [
				{"chainId": "solana", "dexId": "orca", "baseToken": {"address": "SearchMint1", "symbol": "ONE"},
				 "priceUsd": "1.5", "volume": {"h1": 3000, "h24": 40000}, "liquidity": {"usd": 30000}},
				{"chainId": "bsc", "dexId": "pancake", "baseToken": {"address": "0xbsc", "symbol": "TWO"},
				 "priceUsd": "2.0", "volume": {"h1": 100, "h24": 2000}}
			]
		}`))
	}))
	defer srv.Close()

	src := &searchSource{http: newFeedClient(srv.URL, 2*time.Second), chain: "solana", query: defaultSearchQuery}

	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "SearchMint1", got[0].Mint)
	assert.Equal(t, "search", got[0].Source)
	assert.Equal(t, "orca", got[0].DexID)
}

func TestWhitelistSource_SkipsUnenrichable(t *testing.T) {
	pairs := &fakePairs{metrics: map[string]*market.Metrics{
		"GoodMint": {Mint: "GoodMint", PriceUSD: 0.5},
	}}
	src := &whitelistSource{mints: []string{"GoodMint", "DeadMint"}, pairs: pairs, log: zerolog.Nop()}

	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "GoodMint", got[0].Mint)
	assert.Equal(t, "whitelist", got[0].Source)
}

type fakePairs struct {
	metrics map[string]*market.Metrics
}

func (f *fakePairs) TokenMetrics(_ context.Context, mint string) (*market.Metrics, error) {
	m, ok := f.metrics[mint]
	if !ok {
		return nil, errors.New("no pairs")
	}
	return m, nil
}
