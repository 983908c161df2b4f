package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/metrics"
)

const entrySystemPrompt = `You are a risk reviewer for a Solana token trading agent.
You receive a market snapshot, the strategy ensemble's decision, and a
candlestick summary. Decide whether the proposed entry should proceed.

Respond with ONLY a JSON object, no markdown, no prose:
{"approve": true|false, "confidence": 0.0-1.0, "risk_level": "low"|"medium"|"high", "reason": "one sentence"}`

// Completer is the slice of the chat API the validator needs. Both
// Client and FallbackClient satisfy it.
type Completer interface {
	CompleteWithRetry(ctx context.Context, messages []ChatMessage, maxRetries int) (*ChatResponse, error)
	ParseJSONResponse(content string, target interface{}) error
}

var (
	_ Completer = (*Client)(nil)
	_ Completer = (*FallbackClient)(nil)
)

// EntryRequest carries everything the model (or the degradation rules)
// needs to judge a proposed entry.
type EntryRequest struct {
	Mint     string
	Symbol   string
	Combined float64 // ensemble confidence after risk and learner shading

	Action         string
	StrategyReason string
	Pattern        string

	PriceUSD     float64
	Change24hPct float64
	RVOL         float64
	LiquidityUSD float64
	Volume24hUSD float64
	RugScore     *float64

	Candle   string
	Warnings []string
}

// Verdict is the gate's answer. Degraded marks verdicts produced by
// the deterministic rules instead of the model.
type Verdict struct {
	Approved   bool
	Confidence float64
	RiskLevel  string
	Reason     string
	Degraded   bool
}

type entryDecision struct {
	Approve    bool    `json:"approve"`
	Confidence float64 `json:"confidence"`
	RiskLevel  string  `json:"risk_level"`
	Reason     string  `json:"reason"`
}

// Validator is the optional final gate before execution.
type Validator struct {
	chat       Completer
	maxRetries int
	log        zerolog.Logger
}

// NewValidator builds the gate. A nil chat client is allowed; every
// request then goes straight through the degradation rules.
func NewValidator(chat Completer, maxRetries int, log zerolog.Logger) *Validator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Validator{
		chat:       chat,
		maxRetries: maxRetries,
		log:        log.With().Str("component", "llm_validator").Logger(),
	}
}

// ValidateEntry asks the model for a yes/no entry decision. Any model
// failure, including unparseable output, falls back to the degradation
// policy rather than blocking the pipeline on its own.
func (v *Validator) ValidateEntry(ctx context.Context, req EntryRequest) Verdict {
	if v.chat == nil {
		return v.degrade(req, fmt.Errorf("no model configured"))
	}

	resp, err := v.chat.CompleteWithRetry(ctx, []ChatMessage{
		{Role: "system", Content: entrySystemPrompt},
		{Role: "user", Content: buildEntryPrompt(req)},
	}, v.maxRetries)
	if err != nil {
		return v.degrade(req, err)
	}

	var decision entryDecision
	if err := v.chat.ParseJSONResponse(resp.Choices[0].Message.Content, &decision); err != nil {
		return v.degrade(req, err)
	}

	verdict := Verdict{
		Approved:   decision.Approve,
		Confidence: clampUnit(decision.Confidence),
		RiskLevel:  normaliseRiskLevel(decision.RiskLevel),
		Reason:     strings.TrimSpace(decision.Reason),
	}
	if verdict.Approved {
		// The gate never raises confidence above what the pipeline
		// already established.
		if req.Combined < verdict.Confidence {
			verdict.Confidence = req.Combined
		}
		metrics.LLMValidations.WithLabelValues("approved").Inc()
	} else {
		metrics.LLMValidations.WithLabelValues("rejected").Inc()
	}

	v.log.Info().
		Str("mint", req.Mint).
		Bool("approved", verdict.Approved).
		Float64("confidence", verdict.Confidence).
		Str("risk_level", verdict.RiskLevel).
		Msg("Entry validated")
	return verdict
}

// degrade applies the deterministic fallback rules. Strong signals on
// deep markets still trade, at reduced size confidence; everything
// else is rejected while the model is unreachable.
func (v *Validator) degrade(req EntryRequest, cause error) Verdict {
	verdict := Verdict{Degraded: true, RiskLevel: "high"}

	switch {
	case req.Combined >= 0.65 && req.LiquidityUSD >= 100_000 && req.Volume24hUSD >= 50_000:
		verdict.Approved = true
		verdict.Confidence = clampUnit(req.Combined * 0.6)
		verdict.RiskLevel = "medium"
		verdict.Reason = "validator unavailable, strong signal on a deep market"
	case req.Combined >= 0.55 && req.LiquidityUSD >= 100_000:
		verdict.Approved = true
		verdict.Confidence = clampUnit(req.Combined * 0.5)
		verdict.Reason = "validator unavailable, cautious entry on liquidity"
	default:
		verdict.Reason = "validator unavailable and signal below unassisted threshold"
	}

	if verdict.Approved {
		metrics.LLMValidations.WithLabelValues("degraded_approve").Inc()
	} else {
		metrics.LLMValidations.WithLabelValues("degraded_reject").Inc()
	}

	v.log.Warn().
		Err(cause).
		Str("mint", req.Mint).
		Bool("approved", verdict.Approved).
		Float64("combined", req.Combined).
		Msg("LLM unavailable, degraded verdict")
	return verdict
}

func buildEntryPrompt(req EntryRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Token: %s (%s)\n", req.Symbol, req.Mint)
	fmt.Fprintf(&b, "Price: $%.8f, 24h change %+.1f%%, RVOL %.2f\n", req.PriceUSD, req.Change24hPct, req.RVOL)
	fmt.Fprintf(&b, "Liquidity: $%.0f, 24h volume $%.0f\n", req.LiquidityUSD, req.Volume24hUSD)
	if req.RugScore != nil {
		fmt.Fprintf(&b, "Rug score: %.0f (lower is safer)\n", *req.RugScore)
	}
	fmt.Fprintf(&b, "\nProposed action: %s at combined confidence %.2f\n", req.Action, req.Combined)
	if req.StrategyReason != "" {
		fmt.Fprintf(&b, "Strategy reasoning: %s\n", req.StrategyReason)
	}
	if req.Pattern != "" {
		fmt.Fprintf(&b, "Selected pattern: %s\n", req.Pattern)
	}
	if req.Candle != "" {
		fmt.Fprintf(&b, "Candlestick summary: %s\n", req.Candle)
	}
	if len(req.Warnings) > 0 {
		fmt.Fprintf(&b, "Risk warnings: %s\n", strings.Join(req.Warnings, "; "))
	}
	b.WriteString("\nShould this entry proceed?")
	return b.String()
}

func normaliseRiskLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "low":
		return "low"
	case "high":
		return "high"
	default:
		return "medium"
	}
}

func clampUnit(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
