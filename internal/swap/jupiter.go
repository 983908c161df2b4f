// Package swap executes trades through the Jupiter aggregator: quote,
// build, sign, send, confirm. It owns the dry-run probe, the
// round-trip safety check, multi-input routing, and the position
// lifecycle manager that drives take-profit and stop-loss exits.
package swap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/solfunk/internal/errs"
)

// Well-known mints. Wrapped SOL is the input side of every buy;
// stables are excluded from multi-input routing.
const (
	WSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

var stableMints = map[string]bool{
	USDCMint: true,
	USDTMint: true,
}

// RouteStep is one hop of the quoted route.
type RouteStep struct {
	SwapInfo struct {
		AmmKey     string `json:"ammKey"`
		Label      string `json:"label"`
		InputMint  string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
		InAmount   string `json:"inAmount"`
		OutAmount  string `json:"outAmount"`
		FeeAmount  string `json:"feeAmount"`
		FeeMint    string `json:"feeMint"`
	} `json:"swapInfo"`
	Percent int `json:"percent"`
}

// Quote is the aggregator's quote response. Amount fields are base-unit
// integer strings and stay decimal until a comparison needs a float.
type Quote struct {
	InputMint            string      `json:"inputMint"`
	InAmount             string      `json:"inAmount"`
	OutputMint           string      `json:"outputMint"`
	OutAmount            string      `json:"outAmount"`
	OtherAmountThreshold string      `json:"otherAmountThreshold"`
	SwapMode             string      `json:"swapMode"`
	SlippageBps          int         `json:"slippageBps"`
	PriceImpactPct       string      `json:"priceImpactPct"`
	RoutePlan            []RouteStep `json:"routePlan"`
}

// OutDecimal parses the expected output amount in base units.
func (q *Quote) OutDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(q.OutAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable outAmount %q: %w", q.OutAmount, err)
	}
	return d, nil
}

// ThresholdDecimal parses the worst-case output amount in base units.
func (q *Quote) ThresholdDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(q.OtherAmountThreshold)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable otherAmountThreshold %q: %w", q.OtherAmountThreshold, err)
	}
	return d, nil
}

// ImpactPct returns the quoted price impact in percent, 0 when absent
// or unparseable.
func (q *Quote) ImpactPct() float64 {
	d, err := decimal.NewFromString(q.PriceImpactPct)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// SwapTransaction is the aggregator-built transaction envelope.
type SwapTransaction struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

type swapRequest struct {
	QuoteResponse    *Quote `json:"quoteResponse"`
	UserPublicKey    string `json:"userPublicKey"`
	WrapAndUnwrapSol bool   `json:"wrapAndUnwrapSol"`
}

type aggregatorError struct {
	Error string `json:"error"`
}

// Jupiter is the aggregator HTTP client. It keeps one resty client per
// host, primary first, and walks to the fallbacks on network failure.
type Jupiter struct {
	hosts   []*resty.Client
	names   []string
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewJupiter builds the client. fallbackHosts are full base URLs tried
// in order when the primary is unreachable; breaker may be nil.
func NewJupiter(baseURL string, fallbackHosts []string, timeout time.Duration, breaker *gobreaker.CircuitBreaker, log zerolog.Logger) *Jupiter {
	urls := append([]string{baseURL}, fallbackHosts...)
	j := &Jupiter{
		breaker: breaker,
		log:     log.With().Str("component", "jupiter").Logger(),
	}
	for _, u := range urls {
		client := resty.New().
			SetBaseURL(u).
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
		j.hosts = append(j.hosts, client)
		j.names = append(j.names, u)
	}
	return j
}

// GetQuote fetches a quote for swapping amount base units of inputMint
// into outputMint.
func (j *Jupiter) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error) {
	var quote Quote
	err := j.call(ctx, func(client *resty.Client) error {
		resp, err := client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"inputMint":   inputMint,
				"outputMint":  outputMint,
				"amount":      strconv.FormatUint(amount, 10),
				"slippageBps": strconv.Itoa(slippageBps),
			}).
			SetResult(&quote).
			Get("/swap/v1/quote")
		return j.check(resp, err)
	})
	if err != nil {
		return nil, err
	}
	if quote.OutAmount == "" {
		return nil, errs.Aggregatorf("empty quote for %s -> %s", inputMint, outputMint)
	}
	return &quote, nil
}

// BuildSwap asks the aggregator to assemble the transaction for a
// previously fetched quote.
func (j *Jupiter) BuildSwap(ctx context.Context, quote *Quote, userPublicKey string) (*SwapTransaction, error) {
	var built SwapTransaction
	err := j.call(ctx, func(client *resty.Client) error {
		resp, err := client.R().
			SetContext(ctx).
			SetBody(swapRequest{
				QuoteResponse:    quote,
				UserPublicKey:    userPublicKey,
				WrapAndUnwrapSol: true,
			}).
			SetResult(&built).
			Post("/swap/v1/swap")
		return j.check(resp, err)
	})
	if err != nil {
		return nil, err
	}
	if built.SwapTransaction == "" {
		return nil, errs.Aggregatorf("empty transaction in swap response")
	}
	return &built, nil
}

// call runs one request against each host until one answers, then
// reports the attempt to the circuit breaker as a whole. Only network
// failures move to the next host; HTTP-level errors are final.
func (j *Jupiter) call(ctx context.Context, do func(*resty.Client) error) error {
	attempt := func() (interface{}, error) {
		var lastErr error
		for i, client := range j.hosts {
			err := do(client)
			if err == nil {
				if i > 0 {
					j.log.Info().Str("host", j.names[i]).Msg("Fallback aggregator host answered")
				}
				return nil, nil
			}
			lastErr = err
			if !errors.Is(err, errs.ErrNetworkTransient) {
				return nil, err
			}
			if i+1 < len(j.hosts) {
				j.log.Warn().Err(err).Str("host", j.names[i]).Msg("Aggregator host unreachable, trying fallback")
			}
		}
		return nil, lastErr
	}

	if j.breaker == nil {
		_, err := attempt()
		return err
	}
	_, err := j.breaker.Execute(attempt)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: aggregator circuit open", errs.ErrNetworkTransient)
	}
	return err
}

func (j *Jupiter) check(resp *resty.Response, err error) error {
	if err != nil {
		return errs.Classify(err)
	}
	if resp.StatusCode() == 429 {
		return fmt.Errorf("%w: aggregator", errs.ErrRateLimited)
	}
	if resp.IsError() {
		var body aggregatorError
		msg := resp.Status()
		if jsonErr := json.Unmarshal(resp.Body(), &body); jsonErr == nil && body.Error != "" {
			msg = body.Error
		}
		return errs.Aggregatorf("status %d: %s", resp.StatusCode(), msg)
	}
	return nil
}

// lamportsToSOL collapses a lamport amount to float64 SOL.
func lamportsToSOL(d decimal.Decimal) float64 {
	f, _ := d.Div(decimal.New(1, 9)).Float64()
	return f
}

// solToLamports converts a SOL amount to integer lamports, truncating.
func solToLamports(sol float64) uint64 {
	return uint64(decimal.NewFromFloat(sol).Mul(decimal.New(1, 9)).IntPart())
}
