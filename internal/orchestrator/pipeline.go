package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/alerts"
	"github.com/ajitpratap0/solfunk/internal/discovery"
	"github.com/ajitpratap0/solfunk/internal/errs"
	"github.com/ajitpratap0/solfunk/internal/events"
	"github.com/ajitpratap0/solfunk/internal/learner"
	"github.com/ajitpratap0/solfunk/internal/llm"
	"github.com/ajitpratap0/solfunk/internal/market"
	"github.com/ajitpratap0/solfunk/internal/metrics"
	"github.com/ajitpratap0/solfunk/internal/positions"
	"github.com/ajitpratap0/solfunk/internal/risk"
	"github.com/ajitpratap0/solfunk/internal/strategy"
	"github.com/ajitpratap0/solfunk/internal/swap"
	"github.com/ajitpratap0/solfunk/internal/validator"
)

// Entry patterns the learner selects over.
const (
	PatternFastPump    = "FAST_PUMP"
	PatternVolumeSpike = "VOLUME_SPIKE"
	PatternDipRecovery = "DIP_RECOVERY"
	PatternBreakout    = "BREAKOUT"
	PatternSteadyClimb = "STEADY_CLIMB"
	PatternNeutral     = "NEUTRAL"
)

// largePositionShare of baseline capital marks an entry as large for
// the learner's condition tracking.
const largePositionShare = 0.2

// scanCycle refreshes the position view once, discovers candidates,
// and walks them through the pipeline sequentially to bound RPC
// pressure.
func (a *Agent) scanCycle(ctx context.Context) {
	held := make(map[string]positions.Position)
	if ps, err := a.deps.Positions.Positions(ctx); err == nil {
		for _, p := range ps {
			held[p.Mint] = p
		}
	} else {
		a.log.Warn().Err(err).Msg("Position refresh failed, scanning without a holdings view")
	}

	cands := a.deps.Discovery.Discover(ctx)
	if len(cands) == 0 {
		a.log.Debug().Msg("No candidates this cycle")
		return
	}
	a.log.Info().Int("candidates", len(cands)).Msg("Scan cycle")

	for _, cand := range cands {
		if ctx.Err() != nil {
			return
		}
		a.processCandidate(ctx, cand, held)
	}
}

// EvaluateToken runs the pipeline for one explicit mint, bypassing
// discovery and the seen set. Used by --token.
func (a *Agent) EvaluateToken(ctx context.Context, mint string) error {
	if a.deps.Screener == nil {
		return errs.Configf("no market data source for forced-token mode")
	}
	mkt, err := a.deps.Screener.TokenMetrics(ctx, mint)
	if err != nil {
		return fmt.Errorf("fetch metrics for %s: %w", mint, err)
	}
	held := make(map[string]positions.Position)
	if ps, err := a.deps.Positions.Positions(ctx); err == nil {
		for _, p := range ps {
			held[p.Mint] = p
		}
	}
	a.seen.Forget(mint)
	a.processCandidate(ctx, discovery.Candidate{Metrics: *mkt, Source: "forced"}, held)
	return nil
}

// processCandidate walks one token through validation, the strategy
// ensemble, the learner, risk, the LLM gate, and execution. Every
// outcome marks the token recently analysed.
func (a *Agent) processCandidate(ctx context.Context, cand discovery.Candidate, held map[string]positions.Position) {
	mint := cand.Mint
	if a.seen.Seen(mint) {
		metrics.PipelineSkips.WithLabelValues(metrics.NormalizeSkipReason("recently analysed")).Inc()
		return
	}
	a.mu.Lock()
	_, banned := a.blacklist[mint]
	a.mu.Unlock()
	if banned {
		metrics.PipelineSkips.WithLabelValues(metrics.NormalizeSkipReason("risk blacklist")).Inc()
		return
	}
	a.seen.Mark(mint)
	metrics.CandidatesEvaluated.Inc()

	log := a.log.With().Str("mint", mint).Str("symbol", cand.Symbol).Logger()

	// Base validation. Whitelisted mints pass inside the validator.
	var result validator.Result
	if a.deps.Validator != nil && !a.cfg.Validation.Skip {
		result = a.deps.Validator.Validate(ctx, mint)
		if !result.Passed {
			log.Debug().Str("reason", result.Reason).Msg("Validation rejected")
			metrics.PipelineSkips.WithLabelValues(metrics.NormalizeSkipReason("validation")).Inc()
			return
		}
	} else {
		result = validator.Result{Mint: mint, Passed: true, Reason: "validation skipped"}
	}

	view := strategy.TokenView{Candidate: cand, Validation: result}
	if pos, ok := held[mint]; ok {
		view.Position = a.positionView(ctx, pos, &cand.Metrics)
	}

	decision := a.deps.Strategies.Decide(ctx, view)
	if !a.actionable(decision) {
		log.Debug().
			Str("action", string(decision.Action)).
			Float64("confidence", decision.Confidence).
			Msg("Ensemble declined")
		metrics.PipelineSkips.WithLabelValues(metrics.NormalizeSkipReason("strategy hold")).Inc()
		return
	}

	// Discretise the market and let the learner shade the conviction.
	stateKey := learner.StateKey(cand.Change24h, cand.Change1h, cand.RVOL(), cand.LiquidityUSD)
	regime := learner.ClassifyRegime(cand.Change24h, cand.Change1h)
	pattern := PatternNeutral
	confidence := decision.Confidence
	var learnerReasons []string
	if a.deps.Learner != nil {
		if p, explored := a.deps.Learner.SelectPattern(entryPatterns(&cand.Metrics)); p != "" {
			pattern = p
			if explored {
				log.Debug().Str("pattern", p).Msg("Exploration pick")
			}
		}
		confidence, learnerReasons = a.deps.Learner.AdjustConfidence(
			decision.Confidence, pattern, stateKey,
			learner.Context{Hour: a.now().UTC().Hour()})
	}

	// Risk gate. Size first, then let the gate cap it.
	size := a.tradeSize(decision)
	pf := risk.Portfolio{
		CapitalSOL:  a.capital(ctx),
		ProposedSOL: size,
	}
	var posState *risk.PositionState
	if view.Position != nil {
		pf.InvestedSOL = view.Position.InvestedSOL
		posState = &risk.PositionState{
			Doublings:      view.Position.Doublings,
			PnLPct:         view.Position.PnLPct,
			MaxDrawdownPct: view.Position.MaxDrawdownPct,
		}
	}
	assessment := a.deps.Risk.Evaluate(ctx, &cand.Metrics, pf, posState)
	if !assessment.Allowed {
		log.Info().Strs("warnings", assessment.Warnings).Msg("Risk blocked")
		metrics.RiskBlocks.Inc()
		if a.cfg.Risk.BlacklistOnBlock && assessment.Extended {
			a.mu.Lock()
			a.blacklist[mint] = struct{}{}
			a.mu.Unlock()
		}
		return
	}
	if assessment.MaxPositionSOL > 0 && size > assessment.MaxPositionSOL {
		size = assessment.MaxPositionSOL
	}
	if size < a.cfg.Trading.MinTradeSOL {
		log.Debug().Float64("size", size).Msg("Risk cap below minimum trade, skipping")
		metrics.PipelineSkips.WithLabelValues(metrics.NormalizeSkipReason("risk cap")).Inc()
		return
	}
	confidence *= assessment.ConfidenceMultiplier
	if confidence < a.cfg.Strategies.MinConfidence {
		log.Debug().
			Float64("confidence", confidence).
			Strs("learner", learnerReasons).
			Msg("Confidence below floor after adjustments")
		metrics.PipelineSkips.WithLabelValues(metrics.NormalizeSkipReason("low confidence")).Inc()
		return
	}

	// LLM final gate.
	aiConfidence := confidence
	if a.deps.Entry != nil {
		verdict := a.deps.Entry.ValidateEntry(ctx, llm.EntryRequest{
			Mint:           mint,
			Symbol:         cand.Symbol,
			Combined:       confidence,
			Action:         string(decision.Action),
			StrategyReason: decision.Reason,
			Pattern:        pattern,
			PriceUSD:       cand.PriceUSD,
			Change24hPct:   cand.Change24h,
			RVOL:           cand.RVOL(),
			LiquidityUSD:   cand.LiquidityUSD,
			Volume24hUSD:   cand.Volume24h,
			RugScore:       rugScore(result),
			Candle:         candleSummary(decision),
			Warnings:       assessment.Warnings,
		})
		if !verdict.Approved {
			log.Info().Str("reason", verdict.Reason).Bool("degraded", verdict.Degraded).Msg("Entry gate rejected")
			metrics.PipelineSkips.WithLabelValues(metrics.NormalizeSkipReason("llm rejected")).Inc()
			return
		}
		aiConfidence = verdict.Confidence
	}

	a.mu.Lock()
	streak := a.winStreak
	a.mu.Unlock()
	targetPct, targetReasons := llm.ProfitTarget(
		cand.Change24h, cand.RVOL(), cand.Volume24h, cand.LiquidityUSD, aiConfidence, streak)

	res, err := a.execute(ctx, mint, size)
	if err != nil || res == nil || !res.Success {
		a.handleExecutionFailure(log, mint, res, err)
		return
	}

	a.recordEntry(ctx, log, cand, res, entryContext{
		pattern:    pattern,
		regime:     regime,
		stateKey:   stateKey,
		targetPct:  targetPct,
		sizeSOL:    size,
		confidence: aiConfidence,
		signals:    signalNames(decision),
		extended:   assessment.Extended,
		doublings:  doublingsAfter(posState),
	})
	log.Info().
		Float64("size_sol", size).
		Float64("confidence", aiConfidence).
		Float64("target_pct", targetPct).
		Strs("target_reasons", targetReasons).
		Bool("dry_run", res.DryRun).
		Msg("Entry executed")
}

// actionable applies the hold-buy override: HOLD signals convert to
// entries only when allowed and convincing enough.
func (a *Agent) actionable(d strategy.Decision) bool {
	switch d.Action {
	case strategy.Buy:
		return true
	case strategy.Hold:
		return a.cfg.Strategies.AllowHoldBuys && d.Confidence >= a.cfg.Strategies.MinHoldConfidence
	default:
		return false
	}
}

func (a *Agent) tradeSize(d strategy.Decision) float64 {
	size := d.AmountSOL
	if size <= 0 {
		size = a.cfg.Trading.AmountSOL
	}
	if size < a.cfg.Trading.MinTradeSOL {
		size = a.cfg.Trading.MinTradeSOL
	}
	if size > a.cfg.Trading.MaxTradeSOL {
		size = a.cfg.Trading.MaxTradeSOL
	}
	return size
}

// capital is the concentration base: the session baseline, or the live
// balance before the baseline is recorded.
func (a *Agent) capital(ctx context.Context) float64 {
	a.mu.Lock()
	baseline := a.baselineSOL
	a.mu.Unlock()
	if baseline > 0 {
		return baseline
	}
	return a.deps.Ledger.Balance(ctx)
}

func (a *Agent) execute(ctx context.Context, mint string, size float64) (*swap.Result, error) {
	opts := swap.Options{}
	switch {
	case a.cfg.Trading.RoundTrip:
		return a.deps.Exec.ExecuteRoundTrip(ctx, mint, size, opts)
	case a.cfg.Trading.MultiInput:
		return a.deps.Exec.ExecuteMultiInput(ctx, mint, size, opts)
	default:
		return a.deps.Exec.Execute(ctx, mint, size, opts)
	}
}

func (a *Agent) handleExecutionFailure(log zerolog.Logger, mint string, res *swap.Result, err error) {
	reason := "execution failed"
	if res != nil && res.Reason != "" {
		reason = res.Reason
	}
	switch {
	case err == nil:
		log.Info().Str("reason", reason).Msg("Execution declined")
	case errors.Is(err, errs.ErrInsufficientBalance):
		log.Error().Err(err).Msg("Insufficient balance, halting entries")
		if a.deps.Alerts != nil {
			a.deps.Alerts.SendErrorAlert("executor", err)
		}
	case errs.IsSkip(err) || errs.IsRetryable(err):
		log.Warn().Err(err).Msg("Execution skipped")
	default:
		log.Error().Err(err).Msg("Execution error")
		if a.deps.Alerts != nil {
			a.deps.Alerts.SendErrorAlert("executor", err)
		}
	}
	metrics.PipelineSkips.WithLabelValues(metrics.NormalizeSkipReason(reason)).Inc()
}

type entryContext struct {
	pattern    string
	regime     string
	stateKey   string
	targetPct  float64
	sizeSOL    float64
	confidence float64
	signals    []string
	extended   bool
	doublings  int
}

// recordEntry persists the entry price, hands the position to the
// lifecycle manager, and fans out notifications. Round trips close
// immediately and only notify.
func (a *Agent) recordEntry(ctx context.Context, log zerolog.Logger, cand discovery.Candidate, res *swap.Result, ec entryContext) {
	a.deps.Positions.Invalidate()

	roundTrip := res.Kind == swap.KindRoundTrip
	if !roundTrip && !res.DryRun {
		if err := a.deps.Positions.SetEntryPrice(cand.Mint, cand.PriceUSD); err != nil {
			log.Error().Err(err).Msg("Entry price not persisted")
		}
		if a.deps.PosMan != nil {
			capital := a.capital(ctx)
			sizePct := 0.0
			if capital > 0 {
				sizePct = 100 * ec.sizeSOL / capital
			}
			err := a.deps.PosMan.Track(cand.Mint, cand.PriceUSD, swap.EntryMeta{
				Pattern:       ec.pattern,
				Regime:        ec.regime,
				MarketState:   ec.stateKey,
				TargetPct:     ec.targetPct,
				InvestedSOL:   ec.sizeSOL,
				SizePct:       sizePct,
				AIConfidence:  ec.confidence,
				Volume24hUSD:  cand.Volume24h,
				LiquidityUSD:  cand.LiquidityUSD,
				RVOL:          cand.RVOL(),
				Signals:       ec.signals,
				OpenedAt:      a.now(),
				Extended:      ec.extended,
				LargePosition: ec.sizeSOL >= largePositionShare*capital,
				Doublings:     ec.doublings,
			})
			if err != nil {
				log.Warn().Err(err).Msg("Position not tracked")
			}
		}
	}

	if a.deps.Alerts != nil {
		a.deps.Alerts.SendTradeAlert(alerts.TradeAlert{
			Action:    "BUY",
			Mint:      cand.Mint,
			Symbol:    cand.Symbol,
			Kind:      res.Kind,
			AmountSOL: res.InAmountSOL,
			DryRun:    res.DryRun,
			Signature: res.Signature,
			Reason:    fmt.Sprintf("%s, confidence %.2f, target %.1f%%", ec.pattern, ec.confidence, ec.targetPct),
		})
	}
	if a.deps.Events != nil {
		if err := a.deps.Events.PublishCandidateApproved(ctx, events.CandidateApproved{
			Mint:         cand.Mint,
			Symbol:       cand.Symbol,
			Source:       cand.Source,
			Pattern:      ec.pattern,
			Confidence:   ec.confidence,
			LiquidityUSD: cand.LiquidityUSD,
		}); err != nil {
			log.Debug().Err(err).Msg("Candidate event not published")
		}
		if err := a.deps.Events.PublishTradeExecuted(ctx, events.TradeExecuted{
			TradeID:   res.TradeID.String(),
			Kind:      res.Kind,
			Mint:      cand.Mint,
			Symbol:    cand.Symbol,
			AmountSOL: res.InAmountSOL,
			OutAmount: res.OutAmount,
			ImpactPct: res.PriceImpactPct,
			DryRun:    res.DryRun,
			Signature: res.Signature,
		}); err != nil {
			log.Debug().Err(err).Msg("Trade event not published")
		}
	}
	if a.deps.Hub != nil {
		a.deps.Hub.BroadcastTrade(res)
	}
}

// positionView assembles the live position context for the strategy
// ensemble from the store, the price cache, and the tracker metadata.
func (a *Agent) positionView(ctx context.Context, pos positions.Position, mkt *market.Metrics) *strategy.PositionView {
	view := &strategy.PositionView{
		AmountTokens: pos.Amount,
		CurrentPrice: mkt.PriceUSD,
	}
	if entry, ok := a.deps.Positions.EntryPrice(pos.Mint); ok && entry > 0 {
		view.EntryPrice = entry
		view.PnLPct = 100 * (mkt.PriceUSD - entry) / entry
	}
	if meta, ok := a.metaFor(pos.Mint); ok {
		view.InvestedSOL = meta.InvestedSOL
		view.Doublings = meta.Doublings
		view.MaxDrawdownPct = meta.MaxDrawdownPct
		if !meta.OpenedAt.IsZero() {
			view.HeldFor = a.now().Sub(meta.OpenedAt)
		}
	}
	a.mu.Lock()
	view.WinStreak = a.winStreak
	a.mu.Unlock()
	return view
}

// entryPatterns lists the patterns the current tape could plausibly
// belong to; the learner picks among them by UCB.
func entryPatterns(m *market.Metrics) []string {
	var out []string
	rvol := m.RVOL()
	if m.Change1h >= 10 && rvol >= 3 {
		out = append(out, PatternFastPump)
	}
	if rvol >= 5 {
		out = append(out, PatternVolumeSpike)
	}
	if m.Change24h < 0 && m.Change1h > 0 {
		out = append(out, PatternDipRecovery)
	}
	if m.Change24h >= 15 && m.Change1h >= 2 {
		out = append(out, PatternBreakout)
	}
	if m.Change24h > 0 && m.Change24h < 15 && m.Change1h > -5 && m.Change1h < 5 {
		out = append(out, PatternSteadyClimb)
	}
	if len(out) == 0 {
		out = append(out, PatternNeutral)
	}
	return out
}

// signalNames flattens the ensemble votes into "strategy:action"
// labels for the trade record.
func signalNames(d strategy.Decision) []string {
	if len(d.Signals) == 0 {
		return nil
	}
	out := make([]string, 0, len(d.Signals))
	for _, sig := range d.Signals {
		out = append(out, sig.Strategy+":"+string(sig.Action))
	}
	return out
}

// candleSummary pulls the candlestick strategy's reading out of the
// ensemble signals for the LLM prompt.
func candleSummary(d strategy.Decision) string {
	for _, sig := range d.Signals {
		if sig.Strategy == strategy.NameCandlestick {
			return sig.Reason
		}
	}
	return ""
}

func rugScore(r validator.Result) *float64 {
	if r.Whitelisted || r.CheckedAt.IsZero() {
		return nil
	}
	score := r.RugScore
	return &score
}

func doublingsAfter(pos *risk.PositionState) int {
	if pos == nil {
		return 0
	}
	return pos.Doublings + 1
}
