package swap

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/chain"
	"github.com/ajitpratap0/solfunk/internal/config"
	"github.com/ajitpratap0/solfunk/internal/errs"
	"github.com/ajitpratap0/solfunk/internal/ledger"
	"github.com/ajitpratap0/solfunk/internal/metrics"
)

// Trade kinds as reported in results, metrics, and the dry-run log.
const (
	KindSingle     = "single"
	KindRoundTrip  = "round_trip"
	KindMultiInput = "multi_input"
)

const (
	// Flat per-transaction fee assumption when the chain fee lookup is
	// unavailable (one signature at 5000 lamports).
	defaultFeeSOL = 0.000005

	confirmTimeout = 60 * time.Second

	// Impact assumed by a synthetic offline probe.
	syntheticImpactPct = 0.5

	// Non-SOL inputs carry an extra-hop haircut and must beat the SOL
	// route by a clear margin.
	multiInputDiscount = 0.95
	multiInputEdge     = 1.05

	balancePollInterval = 500 * time.Millisecond
	balancePollAttempts = 20
)

// Result is the outcome of one execution attempt. OutAmount is in base
// units when OutDecimals is 0 (token side unknown at quote time) and
// in SOL when OutDecimals is 9.
type Result struct {
	TradeID         uuid.UUID `json:"trade_id"`
	Kind            string    `json:"kind"`
	Success         bool      `json:"success"`
	DryRun          bool      `json:"dry_run"`
	Synthetic       bool      `json:"synthetic,omitempty"`
	Signature       string    `json:"signature,omitempty"`
	InputMint       string    `json:"input_mint"`
	OutputMint      string    `json:"output_mint"`
	InAmountSOL     float64   `json:"in_amount_sol"`
	OutAmount       float64   `json:"out_amount"`
	OutDecimals     uint8     `json:"out_decimals"`
	PriceImpactPct  float64   `json:"price_impact_pct"`
	EstimatedFeeSOL float64   `json:"estimated_fee_sol"`
	TotalCostSOL    float64   `json:"total_cost_sol"`
	CostPercent     float64   `json:"cost_percent"`
	Reason          string    `json:"reason,omitempty"`
	Err             error     `json:"-"`
}

// Options tune one execution. Zero values fall back to the aggregator
// config; DryRun is forced on when the executor is not live.
type Options struct {
	DryRun       bool
	SlippageBps  int
	MaxImpactPct float64
	MinProfitPct float64 // round-trip net floor, percent after fees
	MinOutSOL    float64 // sells: reject when the floor output is dust
}

// Aggregator is the quote/build API the executor trades through.
type Aggregator interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error)
	BuildSwap(ctx context.Context, quote *Quote, userPublicKey string) (*SwapTransaction, error)
}

// ChainClient is the slice of the RPC client the executor needs.
type ChainClient interface {
	GetTokenBalances(ctx context.Context, owner solana.PublicKey) ([]chain.TokenBalance, error)
	GetFeeForMessage(ctx context.Context, msg *solana.Message) (uint64, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) error
}

// BalanceBook is the ledger view: authoritative balance plus the
// post-trade record hook.
type BalanceBook interface {
	Balance(ctx context.Context) float64
	RecordTx(typ ledger.TxType, amount, fee float64)
}

// Signer supplies the wallet key for live trades. Satisfied by the
// config KeyStore; nil is fine for dry-run-only use.
type Signer interface {
	SigningKey(callingContext string) (solana.PrivateKey, error)
}

// Deps bundles the executor's collaborators.
type Deps struct {
	Aggregator Aggregator
	Chain      ChainClient
	Book       BalanceBook
	Keys       Signer
	Owner      solana.PublicKey
	Report     *DryRunReport
}

// throttle tracks the consecutive-429 streak so repeated rate limiting
// escalates the pre-call delay. The streak resets after a full
// maximum-delay idle period.
type throttle struct {
	mu     sync.Mutex
	streak int
	last   time.Time
}

func (t *throttle) wait(initial, max time.Duration) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.streak == 0 {
		return 0
	}
	if time.Since(t.last) >= max {
		t.streak = 0
		return 0
	}
	d := initial << uint(t.streak-1)
	if d > max {
		d = max
	}
	return d
}

func (t *throttle) observe(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.streak = 0
		return
	}
	if errors.Is(err, errs.ErrRateLimited) {
		t.streak++
		t.last = time.Now()
	}
}

// Executor drives swaps end to end. One instance serves the whole
// process; the transaction rate window is shared across all paths.
type Executor struct {
	agg    Aggregator
	chain  ChainClient
	book   BalanceBook
	keys   Signer
	owner  solana.PublicKey
	report *DryRunReport

	cfg   config.AggregatorConfig
	live  bool
	retry RetryConfig
	log   zerolog.Logger

	mu     sync.Mutex
	window []time.Time
	rate   throttle
}

// NewExecutor builds the executor. live gates real submission; when
// false every call runs as a dry-run probe regardless of options.
func NewExecutor(deps Deps, cfg config.AggregatorConfig, live bool, log zerolog.Logger) *Executor {
	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}
	return &Executor{
		agg:    deps.Aggregator,
		chain:  deps.Chain,
		book:   deps.Book,
		keys:   deps.Keys,
		owner:  deps.Owner,
		report: deps.Report,
		cfg:    cfg,
		live:   live,
		retry:  retry,
		log:    log.With().Str("component", "executor").Logger(),
	}
}

// Live reports whether real submission is enabled.
func (e *Executor) Live() bool { return e.live }

// ValidateMint checks that a mint is a well-formed 32-byte base58 key.
func ValidateMint(mint string) error {
	raw, err := base58.Decode(mint)
	if err != nil {
		return fmt.Errorf("%w: mint %q is not base58", errs.ErrValidationFailed, mint)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%w: mint %q decodes to %d bytes", errs.ErrValidationFailed, mint, len(raw))
	}
	return nil
}

// Execute buys targetMint with solAmount SOL.
func (e *Executor) Execute(ctx context.Context, targetMint string, solAmount float64, opts Options) (*Result, error) {
	opts = e.fill(opts)
	res := &Result{
		TradeID:     uuid.New(),
		Kind:        KindSingle,
		DryRun:      opts.DryRun,
		InputMint:   WSOLMint,
		OutputMint:  targetMint,
		InAmountSOL: solAmount,
	}

	if err := ValidateMint(targetMint); err != nil {
		return e.fail(res, err)
	}
	if err := e.admitTx(); err != nil {
		return e.fail(res, err)
	}
	if err := e.checkBalance(ctx, solAmount); err != nil {
		return e.fail(res, err)
	}

	quote, err := e.quote(ctx, WSOLMint, targetMint, solToLamports(solAmount), opts.SlippageBps)
	if err != nil {
		if opts.DryRun && errors.Is(err, errs.ErrNetworkTransient) {
			return e.synthetic(res, solAmount), nil
		}
		return e.fail(res, err)
	}

	if out, derr := quote.OutDecimal(); derr == nil {
		res.OutAmount, _ = out.Float64()
	}
	return e.settle(ctx, quote, res, opts, ledger.TxBuy, solAmount)
}

// Sell swaps rawAmount base units of mint back to SOL.
func (e *Executor) Sell(ctx context.Context, mint string, rawAmount uint64, decimals uint8, opts Options) (*Result, error) {
	opts = e.fill(opts)
	res := &Result{
		TradeID:     uuid.New(),
		Kind:        KindSingle,
		DryRun:      opts.DryRun,
		InputMint:   mint,
		OutputMint:  WSOLMint,
		OutDecimals: 9,
	}
	_ = decimals

	if err := ValidateMint(mint); err != nil {
		return e.fail(res, err)
	}
	if err := e.admitTx(); err != nil {
		return e.fail(res, err)
	}
	if err := e.checkBalance(ctx, 0); err != nil {
		return e.fail(res, err)
	}

	quote, err := e.quote(ctx, mint, WSOLMint, rawAmount, opts.SlippageBps)
	if err != nil {
		return e.fail(res, err)
	}

	floor, err := quote.ThresholdDecimal()
	if err != nil {
		return e.fail(res, errs.Aggregatorf("%v", err))
	}
	floorSOL := lamportsToSOL(floor)
	if opts.MinOutSOL > 0 && floorSOL < opts.MinOutSOL {
		res.PriceImpactPct = quote.ImpactPct()
		res.Reason = fmt.Sprintf("floor output %.6f SOL below minimum %.6f", floorSOL, opts.MinOutSOL)
		metrics.SwapsExecuted.WithLabelValues(res.Kind, "rejected").Inc()
		return res, nil
	}

	if out, derr := quote.OutDecimal(); derr == nil {
		res.OutAmount = lamportsToSOL(out)
	}
	return e.settle(ctx, quote, res, opts, ledger.TxSell, res.OutAmount)
}

// RoundTripPreview is the offline view of both legs of A->T->A.
type RoundTripPreview struct {
	BuyQuote   *Quote
	SellQuote  *Quote
	InSOL      float64
	OutBackSOL float64
	FeeSOL     float64
	NetPct     float64
}

// PreviewRoundTrip quotes a buy and the matching sell without touching
// the chain. The sell leg is sized from the buy leg's worst-case
// output, so the net is a floor, not an estimate.
func (e *Executor) PreviewRoundTrip(ctx context.Context, mint string, solAmount float64, slippageBps int) (*RoundTripPreview, error) {
	buy, err := e.quote(ctx, WSOLMint, mint, solToLamports(solAmount), slippageBps)
	if err != nil {
		return nil, err
	}
	conservative, err := buy.ThresholdDecimal()
	if err != nil {
		return nil, errs.Aggregatorf("%v", err)
	}
	sell, err := e.quote(ctx, mint, WSOLMint, uint64(conservative.IntPart()), slippageBps)
	if err != nil {
		return nil, err
	}
	back, err := sell.ThresholdDecimal()
	if err != nil {
		return nil, errs.Aggregatorf("%v", err)
	}

	pv := &RoundTripPreview{
		BuyQuote:   buy,
		SellQuote:  sell,
		InSOL:      solAmount,
		OutBackSOL: lamportsToSOL(back),
		FeeSOL:     2 * defaultFeeSOL,
	}
	if solAmount > 0 {
		pv.NetPct = (pv.OutBackSOL - pv.FeeSOL - solAmount) / solAmount * 100
	}
	return pv, nil
}

// ExecuteRoundTrip previews both legs first and refuses to touch the
// chain when the conservative net falls under the profit floor.
func (e *Executor) ExecuteRoundTrip(ctx context.Context, mint string, solAmount float64, opts Options) (*Result, error) {
	opts = e.fill(opts)
	res := &Result{
		TradeID:     uuid.New(),
		Kind:        KindRoundTrip,
		DryRun:      opts.DryRun,
		InputMint:   WSOLMint,
		OutputMint:  mint,
		InAmountSOL: solAmount,
		OutDecimals: 9,
	}

	if err := ValidateMint(mint); err != nil {
		return e.fail(res, err)
	}
	if err := e.admitTx(); err != nil {
		return e.fail(res, err)
	}
	if err := e.checkBalance(ctx, solAmount); err != nil {
		return e.fail(res, err)
	}

	pv, err := e.PreviewRoundTrip(ctx, mint, solAmount, opts.SlippageBps)
	if err != nil {
		if opts.DryRun && errors.Is(err, errs.ErrNetworkTransient) {
			return e.synthetic(res, solAmount), nil
		}
		return e.fail(res, err)
	}

	res.PriceImpactPct = pv.BuyQuote.ImpactPct()
	if res.PriceImpactPct > opts.MaxImpactPct {
		res.Reason = fmt.Sprintf("price impact %.2f%% above limit %.2f%%", res.PriceImpactPct, opts.MaxImpactPct)
		metrics.SwapsExecuted.WithLabelValues(res.Kind, "rejected").Inc()
		return res, nil
	}
	if pv.NetPct < opts.MinProfitPct {
		res.Reason = fmt.Sprintf("round trip net %.2f%% below minimum %.2f%%", pv.NetPct, opts.MinProfitPct)
		metrics.SwapsExecuted.WithLabelValues(res.Kind, "rejected").Inc()
		return res, nil
	}

	res.OutAmount = pv.OutBackSOL
	res.EstimatedFeeSOL = pv.FeeSOL
	res.TotalCostSOL = pv.InSOL + pv.FeeSOL - pv.OutBackSOL
	if pv.InSOL > 0 {
		res.CostPercent = res.TotalCostSOL / pv.InSOL
	}

	if opts.DryRun {
		res.Success = true
		res.Reason = fmt.Sprintf("round trip net %.2f%%", pv.NetPct)
		metrics.DryRunProbes.Inc()
		e.appendReport(res)
		return res, nil
	}

	if err := e.executeLive(ctx, pv.BuyQuote, res, ledger.TxBuy, solAmount); err != nil {
		return e.fail(res, err)
	}

	raw, _, err := e.waitTokenBalance(ctx, mint)
	if err != nil {
		return e.fail(res, err)
	}
	sellQuote, err := e.quote(ctx, mint, WSOLMint, raw, opts.SlippageBps)
	if err != nil {
		return e.fail(res, err)
	}
	if out, derr := sellQuote.OutDecimal(); derr == nil {
		res.OutAmount = lamportsToSOL(out)
	}
	if err := e.executeLive(ctx, sellQuote, res, ledger.TxSell, res.OutAmount); err != nil {
		return e.fail(res, err)
	}

	res.Success = true
	metrics.SwapsExecuted.WithLabelValues(res.Kind, "success").Inc()
	e.log.Info().
		Str("mint", mint).
		Float64("in_sol", solAmount).
		Float64("out_sol", res.OutAmount).
		Float64("net_pct", pv.NetPct).
		Msg("Round trip executed")
	return res, nil
}

// ExecuteMultiInput buys targetMint from the best-scoring held asset.
// SOL is the baseline; a held non-stable token wins only when its
// discounted output beats the SOL route by more than five percent.
func (e *Executor) ExecuteMultiInput(ctx context.Context, targetMint string, solAmount float64, opts Options) (*Result, error) {
	opts = e.fill(opts)
	res := &Result{
		TradeID:     uuid.New(),
		Kind:        KindMultiInput,
		DryRun:      opts.DryRun,
		InputMint:   WSOLMint,
		OutputMint:  targetMint,
		InAmountSOL: solAmount,
	}

	if err := ValidateMint(targetMint); err != nil {
		return e.fail(res, err)
	}
	if err := e.admitTx(); err != nil {
		return e.fail(res, err)
	}

	solQuote, err := e.quote(ctx, WSOLMint, targetMint, solToLamports(solAmount), opts.SlippageBps)
	if err != nil {
		return e.fail(res, err)
	}
	solScore := quoteScore(solQuote, 1.0)

	bestQuote := solQuote
	bestScore := 0.0
	bestMint := ""
	if balances, berr := e.chain.GetTokenBalances(ctx, e.owner); berr != nil {
		e.log.Warn().Err(berr).Msg("Token balances unavailable, multi-input reduced to SOL")
	} else {
		for _, tb := range balances {
			if tb.Mint == targetMint || stableMints[tb.Mint] || tb.Amount <= 0 {
				continue
			}
			raw, perr := strconv.ParseUint(tb.RawAmount, 10, 64)
			if perr != nil || raw == 0 {
				continue
			}
			q, qerr := e.quote(ctx, tb.Mint, targetMint, raw, opts.SlippageBps)
			if qerr != nil {
				e.log.Debug().Err(qerr).Str("mint", tb.Mint).Msg("Input candidate unquotable")
				continue
			}
			if score := quoteScore(q, multiInputDiscount); score > bestScore {
				bestScore = score
				bestQuote = q
				bestMint = tb.Mint
			}
		}
	}

	txType := ledger.TxBuy
	recordSOL := solAmount
	if bestMint != "" && bestScore > solScore*multiInputEdge {
		res.InputMint = bestMint
		res.InAmountSOL = 0
		recordSOL = 0
		txType = ledger.TxFee
		if err := e.checkBalance(ctx, 0); err != nil {
			return e.fail(res, err)
		}
		e.log.Info().
			Str("input", bestMint).
			Float64("score", bestScore).
			Float64("sol_score", solScore).
			Msg("Non-SOL input selected")
	} else {
		bestQuote = solQuote
		if err := e.checkBalance(ctx, solAmount); err != nil {
			return e.fail(res, err)
		}
	}

	if out, derr := bestQuote.OutDecimal(); derr == nil {
		res.OutAmount, _ = out.Float64()
	}
	return e.settle(ctx, bestQuote, res, opts, txType, recordSOL)
}

// settle applies the impact gate, then finishes as a probe or a live
// trade.
func (e *Executor) settle(ctx context.Context, quote *Quote, res *Result, opts Options, txType ledger.TxType, baseSOL float64) (*Result, error) {
	res.PriceImpactPct = quote.ImpactPct()
	if res.PriceImpactPct > opts.MaxImpactPct {
		res.Reason = fmt.Sprintf("price impact %.2f%% above limit %.2f%%", res.PriceImpactPct, opts.MaxImpactPct)
		metrics.SwapsExecuted.WithLabelValues(res.Kind, "rejected").Inc()
		return res, nil
	}

	if opts.DryRun {
		e.probeCosts(res, baseSOL)
		res.Success = true
		metrics.DryRunProbes.Inc()
		e.appendReport(res)
		return res, nil
	}

	if err := e.executeLive(ctx, quote, res, txType, baseSOL); err != nil {
		return e.fail(res, err)
	}
	res.Success = true
	metrics.SwapsExecuted.WithLabelValues(res.Kind, "success").Inc()
	e.log.Info().
		Str("input", res.InputMint).
		Str("output", res.OutputMint).
		Str("signature", res.Signature).
		Float64("impact_pct", res.PriceImpactPct).
		Msg("Swap executed")
	return res, nil
}

func (e *Executor) executeLive(ctx context.Context, quote *Quote, res *Result, txType ledger.TxType, recordSOL float64) error {
	if e.keys == nil {
		return errs.Configf("live trading without a signing key source")
	}

	var built *SwapTransaction
	err := WithRetry(ctx, e.retry, e.log, func() error {
		b, berr := e.agg.BuildSwap(ctx, quote, e.owner.String())
		if berr != nil {
			return berr
		}
		built = b
		return nil
	})
	if err != nil {
		return err
	}

	raw, err := base64.StdEncoding.DecodeString(built.SwapTransaction)
	if err != nil {
		return errs.Aggregatorf("undecodable transaction: %v", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return errs.Aggregatorf("unparseable transaction: %v", err)
	}

	res.EstimatedFeeSOL = defaultFeeSOL
	if fee, ferr := e.chain.GetFeeForMessage(ctx, &tx.Message); ferr == nil && fee > 0 {
		res.EstimatedFeeSOL = float64(fee) / 1e9
	}

	key, err := e.keys.SigningKey("swap_executor")
	if err != nil {
		return err
	}
	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(key.PublicKey()) {
			return &key
		}
		return nil
	}); err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}

	var sig solana.Signature
	err = WithRetry(ctx, e.retry, e.log, func() error {
		s, serr := e.chain.SendTransaction(ctx, tx)
		if serr != nil {
			return serr
		}
		sig = s
		return nil
	})
	if err != nil {
		return err
	}
	res.Signature = sig.String()

	if err := e.chain.ConfirmTransaction(ctx, sig, confirmTimeout); err != nil {
		return err
	}
	e.book.RecordTx(txType, recordSOL, res.EstimatedFeeSOL)
	return nil
}

// waitTokenBalance polls until the bought token shows in the account
// view, which lags the confirmation by a slot or two.
func (e *Executor) waitTokenBalance(ctx context.Context, mint string) (uint64, uint8, error) {
	for attempt := 0; attempt < balancePollAttempts; attempt++ {
		balances, err := e.chain.GetTokenBalances(ctx, e.owner)
		if err == nil {
			for _, tb := range balances {
				if tb.Mint != mint {
					continue
				}
				if raw, perr := strconv.ParseUint(tb.RawAmount, 10, 64); perr == nil && raw > 0 {
					return raw, tb.Decimals, nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-time.After(balancePollInterval):
		}
	}
	return 0, 0, errs.RPCf("token %s never appeared in the account view", mint)
}

func (e *Executor) quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error) {
	if d := e.rate.wait(e.retry.InitialBackoff, e.retry.MaxBackoff); d > 0 {
		e.log.Debug().Dur("delay", d).Msg("Backing off after rate limiting")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}

	var quote *Quote
	err := WithRetry(ctx, e.retry, e.log, func() error {
		q, qerr := e.agg.GetQuote(ctx, inputMint, outputMint, amount, slippageBps)
		e.rate.observe(qerr)
		if qerr != nil {
			return qerr
		}
		quote = q
		return nil
	})
	return quote, err
}

// admitTx enforces the sliding one-minute transaction window.
func (e *Executor) admitTx() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	kept := e.window[:0]
	for _, t := range e.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.window = kept

	limit := e.cfg.MaxTxPerMinute
	if limit <= 0 {
		limit = 5
	}
	if len(e.window) >= limit {
		metrics.RateLimitRejections.Inc()
		return fmt.Errorf("%w: %d transactions in the last minute", errs.ErrRateLimited, len(e.window))
	}
	e.window = append(e.window, time.Now())
	return nil
}

func (e *Executor) checkBalance(ctx context.Context, amount float64) error {
	bal := e.book.Balance(ctx)
	need := e.cfg.MinBalanceSOL + amount
	if bal < need {
		return fmt.Errorf("%w: balance %.4f SOL below required %.4f", errs.ErrInsufficientBalance, bal, need)
	}
	return nil
}

func (e *Executor) probeCosts(res *Result, baseSOL float64) {
	res.EstimatedFeeSOL = defaultFeeSOL
	loss := baseSOL * res.PriceImpactPct / 100
	res.TotalCostSOL = res.EstimatedFeeSOL + loss
	if baseSOL > 0 {
		res.CostPercent = res.TotalCostSOL / baseSOL
	}
}

// synthetic fabricates a conservative probe result when the aggregator
// is unreachable in dry-run mode.
func (e *Executor) synthetic(res *Result, baseSOL float64) *Result {
	res.Synthetic = true
	res.Success = true
	res.PriceImpactPct = syntheticImpactPct
	res.Reason = "synthetic estimate, aggregator unreachable"
	e.probeCosts(res, baseSOL)
	metrics.DryRunProbes.Inc()
	e.appendReport(res)
	e.log.Warn().Str("mint", res.OutputMint).Msg("Aggregator unreachable, synthetic dry-run result")
	return res
}

func (e *Executor) fail(res *Result, err error) (*Result, error) {
	res.Err = err
	res.Reason = err.Error()
	metrics.SwapsExecuted.WithLabelValues(res.Kind, "error").Inc()
	return res, err
}

func (e *Executor) appendReport(res *Result) {
	if err := e.report.Append(res); err != nil {
		e.log.Warn().Err(err).Msg("Dry-run report write failed")
	}
}

func (e *Executor) fill(opts Options) Options {
	if opts.SlippageBps == 0 {
		opts.SlippageBps = e.cfg.SlippageBps
	}
	if opts.MaxImpactPct == 0 {
		opts.MaxImpactPct = e.cfg.MaxPriceImpactPct
	}
	if opts.MinProfitPct == 0 {
		opts.MinProfitPct = e.cfg.MinRoundTripProfit
	}
	if !e.live {
		opts.DryRun = true
	}
	return opts
}

func quoteScore(q *Quote, discount float64) float64 {
	th, err := q.ThresholdDecimal()
	if err != nil {
		return 0
	}
	f, _ := th.Float64()
	return f * discount
}
