package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/solfunk/internal/config"
	"github.com/ajitpratap0/solfunk/internal/discovery"
	"github.com/ajitpratap0/solfunk/internal/learner"
	"github.com/ajitpratap0/solfunk/internal/llm"
	"github.com/ajitpratap0/solfunk/internal/market"
	"github.com/ajitpratap0/solfunk/internal/positions"
	"github.com/ajitpratap0/solfunk/internal/risk"
	"github.com/ajitpratap0/solfunk/internal/strategy"
	"github.com/ajitpratap0/solfunk/internal/swap"
	"github.com/ajitpratap0/solfunk/internal/validator"
)

type fakeDiscovery struct {
	cands []discovery.Candidate
}

func (f *fakeDiscovery) Discover(context.Context) []discovery.Candidate { return f.cands }

type fakeChecker struct {
	result validator.Result
}

func (f *fakeChecker) Validate(_ context.Context, mint string) validator.Result {
	r := f.result
	r.Mint = mint
	return r
}

type fakeDecider struct {
	decision strategy.Decision
	views    []strategy.TokenView
}

func (f *fakeDecider) Decide(_ context.Context, view strategy.TokenView) strategy.Decision {
	f.views = append(f.views, view)
	return f.decision
}

type fakeRisk struct {
	assessment risk.Assessment
	portfolios []risk.Portfolio
	posStates  []*risk.PositionState
}

func (f *fakeRisk) Evaluate(_ context.Context, _ *market.Metrics, pf risk.Portfolio, pos *risk.PositionState) risk.Assessment {
	f.portfolios = append(f.portfolios, pf)
	f.posStates = append(f.posStates, pos)
	return f.assessment
}

type fakeEntryGate struct {
	verdict  llm.Verdict
	requests []llm.EntryRequest
}

func (f *fakeEntryGate) ValidateEntry(_ context.Context, req llm.EntryRequest) llm.Verdict {
	f.requests = append(f.requests, req)
	return f.verdict
}

type execCall struct {
	mint string
	sol  float64
	kind string
}

type fakeTrader struct {
	live   bool
	result *swap.Result
	err    error
	calls  []execCall
}

func (f *fakeTrader) Execute(_ context.Context, mint string, sol float64, _ swap.Options) (*swap.Result, error) {
	f.calls = append(f.calls, execCall{mint, sol, "single"})
	return f.result, f.err
}

func (f *fakeTrader) ExecuteRoundTrip(_ context.Context, mint string, sol float64, _ swap.Options) (*swap.Result, error) {
	f.calls = append(f.calls, execCall{mint, sol, "round_trip"})
	return f.result, f.err
}

func (f *fakeTrader) ExecuteMultiInput(_ context.Context, mint string, sol float64, _ swap.Options) (*swap.Result, error) {
	f.calls = append(f.calls, execCall{mint, sol, "multi_input"})
	return f.result, f.err
}

func (f *fakeTrader) Live() bool { return f.live }

type fakeInventory struct {
	positions   []positions.Position
	entries     map[string]float64
	invalidated int
}

func (f *fakeInventory) Positions(context.Context) ([]positions.Position, error) {
	return f.positions, nil
}

func (f *fakeInventory) EntryPrice(mint string) (float64, bool) {
	p, ok := f.entries[mint]
	return p, ok
}

func (f *fakeInventory) SetEntryPrice(mint string, price float64) error {
	if f.entries == nil {
		f.entries = make(map[string]float64)
	}
	f.entries[mint] = price
	return nil
}

func (f *fakeInventory) RemoveEntry(mint string) error {
	delete(f.entries, mint)
	return nil
}

func (f *fakeInventory) Invalidate() { f.invalidated++ }

type fakeBalance struct {
	balance float64
}

func (f *fakeBalance) Balance(context.Context) float64 { return f.balance }
func (f *fakeBalance) Run(ctx context.Context)         { <-ctx.Done() }

type fakeTracker struct {
	tracked map[string]swap.EntryMeta
}

func (f *fakeTracker) Run(ctx context.Context) { <-ctx.Done() }

func (f *fakeTracker) Track(mint string, _ float64, meta swap.EntryMeta) error {
	if f.tracked == nil {
		f.tracked = make(map[string]swap.EntryMeta)
	}
	f.tracked[mint] = meta
	return nil
}

func (f *fakeTracker) Meta(mint string) (swap.EntryMeta, bool) {
	meta, ok := f.tracked[mint]
	return meta, ok
}

func (f *fakeTracker) RepairEntries(context.Context) int { return 0 }

func testConfig() *config.Config {
	return &config.Config{
		Discovery: config.DiscoveryConfig{ScanIntervalSec: 30, SeenTTLMinutes: 15},
		Strategies: config.StrategiesConfig{
			MinConfidence:     0.6,
			MinHoldConfidence: 0.75,
		},
		Risk: config.RiskConfig{MaxPositionPct: 30, MaxDoublings: 3},
		Trading: config.TradingConfig{
			AmountSOL:   0.1,
			MinTradeSOL: 0.01,
			MaxTradeSOL: 0.5,
		},
	}
}

// goodCandidate mirrors the dry-run acceptance fixture: healthy
// liquidity and volume, a strong but not parabolic day.
func goodCandidate() discovery.Candidate {
	return discovery.Candidate{
		Metrics: market.Metrics{
			Mint:         "So11111111111111111111111111111111111111112",
			Symbol:       "TEST",
			PriceUSD:     1.0,
			Change1h:     3.0,
			Change24h:    18.0,
			Volume1h:     15625.0, // rvol 2.5
			Volume24h:    150000.0,
			LiquidityUSD: 200000.0,
		},
		Source: "search",
	}
}

func newTestAgent(cfg *config.Config, deps Deps) *Agent {
	if cfg == nil {
		cfg = testConfig()
	}
	a := New(cfg, deps, zerolog.Nop())
	a.baselineSOL = 10
	return a
}

func passingDeps() (Deps, *fakeTrader, *fakeDecider, *fakeRisk) {
	trader := &fakeTrader{result: &swap.Result{
		Success: true, DryRun: true, Kind: swap.KindSingle,
		InAmountSOL: 0.1, PriceImpactPct: 0.9, CostPercent: 0.3,
	}}
	decider := &fakeDecider{decision: strategy.Decision{
		Action: strategy.Buy, Confidence: 0.7, Reason: "confirmations met",
	}}
	riskGate := &fakeRisk{assessment: risk.Assessment{
		Allowed: true, MaxPositionSOL: 3, ConfidenceMultiplier: 1.0,
	}}
	deps := Deps{
		Discovery:  &fakeDiscovery{},
		Validator:  &fakeChecker{result: validator.Result{Passed: true, RugScore: 50, CheckedAt: time.Now()}},
		Strategies: decider,
		Risk:       riskGate,
		Exec:       trader,
		Positions:  &fakeInventory{},
		Ledger:     &fakeBalance{balance: 10},
		PosMan:     &fakeTracker{},
	}
	return deps, trader, decider, riskGate
}

func TestProcessCandidateApprovedDryRun(t *testing.T) {
	deps, trader, _, _ := passingDeps()
	a := newTestAgent(nil, deps)

	a.processCandidate(context.Background(), goodCandidate(), nil)

	require.Len(t, trader.calls, 1)
	assert.Equal(t, "single", trader.calls[0].kind)
	assert.InDelta(t, 0.1, trader.calls[0].sol, 1e-9)
}

func TestProcessCandidateRiskBlocked(t *testing.T) {
	deps, trader, _, riskGate := passingDeps()
	riskGate.assessment = risk.Assessment{
		Allowed:  false,
		Extended: true,
		Warnings: []string{"Parabolic 24h move"},
	}
	cfg := testConfig()
	cfg.Risk.BlacklistOnBlock = true
	a := newTestAgent(cfg, deps)

	cand := goodCandidate()
	cand.Change24h = 62.0
	a.processCandidate(context.Background(), cand, nil)

	assert.Empty(t, trader.calls, "no order after a risk block")
	_, banned := a.blacklist[cand.Mint]
	assert.True(t, banned)
}

func TestProcessCandidateSeenDeduplicates(t *testing.T) {
	deps, trader, _, _ := passingDeps()
	a := newTestAgent(nil, deps)

	cand := goodCandidate()
	a.processCandidate(context.Background(), cand, nil)
	a.processCandidate(context.Background(), cand, nil)

	assert.Len(t, trader.calls, 1, "second pass inside the TTL is skipped")
}

func TestProcessCandidateHoldSkipped(t *testing.T) {
	deps, trader, decider, _ := passingDeps()
	decider.decision = strategy.Decision{Action: strategy.Hold, Confidence: 0.8}
	a := newTestAgent(nil, deps)

	a.processCandidate(context.Background(), goodCandidate(), nil)
	assert.Empty(t, trader.calls)
}

func TestProcessCandidateHoldBuyOverride(t *testing.T) {
	deps, trader, decider, _ := passingDeps()
	decider.decision = strategy.Decision{Action: strategy.Hold, Confidence: 0.8}
	cfg := testConfig()
	cfg.Strategies.AllowHoldBuys = true
	cfg.Strategies.MinHoldConfidence = 0.75
	a := newTestAgent(cfg, deps)

	a.processCandidate(context.Background(), goodCandidate(), nil)
	assert.Len(t, trader.calls, 1, "confident HOLD converts when allowed")
}

func TestProcessCandidateValidationRejected(t *testing.T) {
	deps, trader, _, _ := passingDeps()
	deps.Validator = &fakeChecker{result: validator.Result{Passed: false, Reason: "rug score 900 above limit"}}
	a := newTestAgent(nil, deps)

	a.processCandidate(context.Background(), goodCandidate(), nil)
	assert.Empty(t, trader.calls)
}

func TestProcessCandidateConfidenceFloor(t *testing.T) {
	deps, trader, _, riskGate := passingDeps()
	riskGate.assessment.ConfidenceMultiplier = 0.5
	a := newTestAgent(nil, deps)

	a.processCandidate(context.Background(), goodCandidate(), nil)
	assert.Empty(t, trader.calls, "0.7 * 0.5 lands under the 0.6 floor")
}

func TestProcessCandidateLLMGate(t *testing.T) {
	deps, trader, _, _ := passingDeps()
	gate := &fakeEntryGate{verdict: llm.Verdict{Approved: false, Reason: "weak structure"}}
	deps.Entry = gate
	a := newTestAgent(nil, deps)

	a.processCandidate(context.Background(), goodCandidate(), nil)

	assert.Empty(t, trader.calls)
	require.Len(t, gate.requests, 1)
	req := gate.requests[0]
	assert.Equal(t, "TEST", req.Symbol)
	assert.InDelta(t, 2.5, req.RVOL, 0.01)
	require.NotNil(t, req.RugScore)
	assert.Equal(t, 50.0, *req.RugScore)
}

func TestProcessCandidateTracksPositionWhenLive(t *testing.T) {
	deps, trader, _, _ := passingDeps()
	trader.result = &swap.Result{
		Success: true, DryRun: false, Kind: swap.KindSingle,
		InAmountSOL: 0.1, Signature: "sig111",
	}
	tracker := &fakeTracker{}
	inv := &fakeInventory{}
	deps.PosMan = tracker
	deps.Positions = inv
	a := newTestAgent(nil, deps)

	cand := goodCandidate()
	a.processCandidate(context.Background(), cand, nil)

	require.Len(t, trader.calls, 1)
	entry, ok := inv.EntryPrice(cand.Mint)
	require.True(t, ok, "entry price persisted on a live fill")
	assert.Equal(t, 1.0, entry)

	meta, ok := tracker.Meta(cand.Mint)
	require.True(t, ok)
	assert.Equal(t, learner.RegimeBull, meta.Regime)
	assert.NotEmpty(t, meta.MarketState)
	assert.Greater(t, meta.TargetPct, 0.0)
}

func TestProcessCandidateForwardsDrawdownToRisk(t *testing.T) {
	deps, _, _, riskGate := passingDeps()
	mint := goodCandidate().Mint
	tracker := &fakeTracker{tracked: map[string]swap.EntryMeta{
		mint: {InvestedSOL: 0.2, Doublings: 1, MaxDrawdownPct: -7.5},
	}}
	deps.PosMan = tracker
	deps.Positions = &fakeInventory{entries: map[string]float64{mint: 1.25}}
	a := newTestAgent(nil, deps)

	held := map[string]positions.Position{mint: {Mint: mint, Amount: 100}}
	a.processCandidate(context.Background(), goodCandidate(), held)

	require.Len(t, riskGate.posStates, 1)
	pos := riskGate.posStates[0]
	require.NotNil(t, pos, "a held mint carries its position state into the risk gate")
	assert.InDelta(t, -7.5, pos.MaxDrawdownPct, 1e-9, "the lifecycle low-water mark reaches the doubling floor")
	assert.Equal(t, 1, pos.Doublings)
}

func TestProcessCandidateRoundTripMode(t *testing.T) {
	deps, trader, _, _ := passingDeps()
	trader.result = &swap.Result{Success: true, DryRun: true, Kind: swap.KindRoundTrip, InAmountSOL: 0.1}
	cfg := testConfig()
	cfg.Trading.RoundTrip = true
	a := newTestAgent(cfg, deps)

	a.processCandidate(context.Background(), goodCandidate(), nil)
	require.Len(t, trader.calls, 1)
	assert.Equal(t, "round_trip", trader.calls[0].kind)
}

func TestTradeSizeClamps(t *testing.T) {
	a := newTestAgent(nil, Deps{})
	assert.InDelta(t, 0.1, a.tradeSize(strategy.Decision{}), 1e-9, "default size")
	assert.InDelta(t, 0.5, a.tradeSize(strategy.Decision{AmountSOL: 2.0}), 1e-9, "max clamp")
	assert.InDelta(t, 0.01, a.tradeSize(strategy.Decision{AmountSOL: 0.001}), 1e-9, "min clamp")
}

func TestEntryPatterns(t *testing.T) {
	tests := []struct {
		name string
		m    market.Metrics
		want []string
	}{
		{
			name: "quiet tape falls back to neutral",
			m:    market.Metrics{Change24h: 0, Change1h: 0},
			want: []string{PatternNeutral},
		},
		{
			name: "fast pump with volume",
			m:    market.Metrics{Change1h: 12, Change24h: 20, Volume1h: 50000, Volume24h: 240000},
			want: []string{PatternFastPump, PatternVolumeSpike, PatternBreakout},
		},
		{
			name: "dip recovery",
			m:    market.Metrics{Change24h: -8, Change1h: 1.5, Volume1h: 100, Volume24h: 24000},
			want: []string{PatternDipRecovery},
		},
		{
			name: "steady climb",
			m:    market.Metrics{Change24h: 6, Change1h: 0.5, Volume1h: 100, Volume24h: 24000},
			want: []string{PatternSteadyClimb},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, entryPatterns(&tt.m))
		})
	}
}

func TestScanCycleSequential(t *testing.T) {
	deps, trader, _, _ := passingDeps()
	c1 := goodCandidate()
	c2 := goodCandidate()
	c2.Mint = "8qbHbw2BbbTHBW1sbeqakYXVKRQM8Ne7pLK7m6CVfeR3"
	c2.Symbol = "OTHER"
	deps.Discovery = &fakeDiscovery{cands: []discovery.Candidate{c1, c2}}
	a := newTestAgent(nil, deps)

	a.scanCycle(context.Background())
	assert.Len(t, trader.calls, 2)
}
