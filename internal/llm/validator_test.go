package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validatorWithReply(t *testing.T, content string) *Validator {
	t.Helper()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatServerReply(content)))
	})
	return NewValidator(client, 0, zerolog.Nop())
}

func strongRequest() EntryRequest {
	return EntryRequest{
		Mint:         "CalmMint1111111111111111111111111111111111",
		Symbol:       "CALM",
		Combined:     0.70,
		Action:       "BUY",
		PriceUSD:     0.5,
		Change24hPct: 18,
		RVOL:         2.5,
		LiquidityUSD: 200_000,
		Volume24hUSD: 150_000,
	}
}

func TestValidateEntry_Approves(t *testing.T) {
	v := validatorWithReply(t, `{"approve": true, "confidence": 0.9, "risk_level": "low", "reason": "deep market, steady climb"}`)

	verdict := v.ValidateEntry(context.Background(), strongRequest())
	assert.True(t, verdict.Approved)
	assert.False(t, verdict.Degraded)
	assert.Equal(t, "low", verdict.RiskLevel)
	assert.Equal(t, "deep market, steady climb", verdict.Reason)
	assert.InDelta(t, 0.70, verdict.Confidence, 1e-9, "gate must not raise confidence above the pipeline's")
}

func TestValidateEntry_KeepsLowerModelConfidence(t *testing.T) {
	v := validatorWithReply(t, `{"approve": true, "confidence": 0.55, "risk_level": "medium", "reason": "ok"}`)

	verdict := v.ValidateEntry(context.Background(), strongRequest())
	assert.True(t, verdict.Approved)
	assert.InDelta(t, 0.55, verdict.Confidence, 1e-9)
}

func TestValidateEntry_Rejects(t *testing.T) {
	v := validatorWithReply(t, `{"approve": false, "confidence": 0.2, "risk_level": "high", "reason": "sell pressure building"}`)

	verdict := v.ValidateEntry(context.Background(), strongRequest())
	assert.False(t, verdict.Approved)
	assert.False(t, verdict.Degraded)
	assert.Equal(t, "high", verdict.RiskLevel)
}

func TestValidateEntry_ParsesFencedAnswer(t *testing.T) {
	v := validatorWithReply(t, "Here is my assessment:\n```json\n{\"approve\": true, \"confidence\": 0.8, \"risk_level\": \"LOW\", \"reason\": \"fine\"}\n```")

	verdict := v.ValidateEntry(context.Background(), strongRequest())
	assert.True(t, verdict.Approved)
	assert.False(t, verdict.Degraded)
	assert.Equal(t, "low", verdict.RiskLevel, "risk level is normalised to lowercase")
}

func TestValidateEntry_UnknownRiskLevelBecomesMedium(t *testing.T) {
	v := validatorWithReply(t, `{"approve": true, "confidence": 0.7, "risk_level": "extreme", "reason": "x"}`)

	verdict := v.ValidateEntry(context.Background(), strongRequest())
	assert.Equal(t, "medium", verdict.RiskLevel)
}

func TestValidateEntry_DegradesOnServerFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	v := NewValidator(client, 0, zerolog.Nop())

	verdict := v.ValidateEntry(context.Background(), strongRequest())
	assert.True(t, verdict.Degraded)
	assert.True(t, verdict.Approved)
	assert.InDelta(t, 0.42, verdict.Confidence, 1e-9)
	assert.Equal(t, "medium", verdict.RiskLevel)
}

func TestValidateEntry_DegradesOnGarbageOutput(t *testing.T) {
	v := validatorWithReply(t, "I am unable to assess this token right now.")

	verdict := v.ValidateEntry(context.Background(), strongRequest())
	assert.True(t, verdict.Degraded)
	assert.True(t, verdict.Approved)
}

func TestValidateEntry_DegradationRules(t *testing.T) {
	v := NewValidator(nil, 0, zerolog.Nop())

	cases := []struct {
		name         string
		combined     float64
		liquidity    float64
		volume       float64
		wantApproved bool
		wantConf     float64
		wantRisk     string
	}{
		{"strong deep market", 0.70, 200_000, 150_000, true, 0.42, "medium"},
		{"strong but quiet volume", 0.66, 150_000, 49_000, true, 0.33, "high"},
		{"middling on liquidity", 0.60, 120_000, 80_000, true, 0.30, "high"},
		{"strong but shallow", 0.70, 90_000, 500_000, false, 0, "high"},
		{"weak signal", 0.54, 500_000, 500_000, false, 0, "high"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := v.ValidateEntry(context.Background(), EntryRequest{
				Mint:         "M",
				Combined:     tc.combined,
				LiquidityUSD: tc.liquidity,
				Volume24hUSD: tc.volume,
			})
			assert.True(t, verdict.Degraded)
			assert.Equal(t, tc.wantApproved, verdict.Approved)
			assert.InDelta(t, tc.wantConf, verdict.Confidence, 1e-9)
			assert.Equal(t, tc.wantRisk, verdict.RiskLevel)
		})
	}
}

func TestValidateEntry_PromptCarriesContext(t *testing.T) {
	var userPrompt string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		userPrompt = req.Messages[1].Content
		w.Write([]byte(chatServerReply(`{"approve": true, "confidence": 0.8, "risk_level": "low", "reason": "x"}`)))
	})
	v := NewValidator(client, 0, zerolog.Nop())

	rug := 50.0
	req := strongRequest()
	req.RugScore = &rug
	req.Candle = "bullish close near the high on rising volume"
	req.Warnings = []string{"size capped to 0.2500 SOL"}
	req.Pattern = "breakout"

	verdict := v.ValidateEntry(context.Background(), req)
	require.True(t, verdict.Approved)
	assert.Contains(t, userPrompt, "CALM")
	assert.Contains(t, userPrompt, "$200000")
	assert.Contains(t, userPrompt, "Rug score: 50")
	assert.Contains(t, userPrompt, "bullish close")
	assert.Contains(t, userPrompt, "size capped")
	assert.Contains(t, userPrompt, "breakout")
}

func TestValidateEntry_TimeoutDegrades(t *testing.T) {
	slow, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	})
	v := NewValidator(slow, 0, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	verdict := v.ValidateEntry(ctx, strongRequest())
	assert.True(t, verdict.Degraded)
	assert.True(t, verdict.Approved, "strong deep-market signal survives a gateway timeout")
}
