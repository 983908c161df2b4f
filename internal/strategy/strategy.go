// Package strategy holds the analyser ensemble. Each strategy reads
// one token view and emits a Signal; the Combiner folds the signals
// into a single decision under the configured voting mode.
package strategy

import (
	"context"
	"time"

	"github.com/ajitpratap0/solfunk/internal/discovery"
	"github.com/ajitpratap0/solfunk/internal/validator"
)

// Action is a trade decision.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// Signal is one strategy's verdict on a token.
type Signal struct {
	Strategy   string         `json:"strategy"`
	Action     Action         `json:"action"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	AmountSOL  float64        `json:"amount_sol,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PositionView is the live state of an open position, precomputed by
// the caller so strategies stay pure.
type PositionView struct {
	EntryPrice     float64
	CurrentPrice   float64
	AmountTokens   float64
	InvestedSOL    float64
	HeldFor        time.Duration
	PnLPct         float64
	MaxDrawdownPct float64
	Doublings      int
	WinStreak      int
}

// TokenView bundles everything a strategy may consult for one token.
// Position is nil when the wallet is flat on the mint.
type TokenView struct {
	Candidate  discovery.Candidate
	Validation validator.Result
	Position   *PositionView
}

// Strategy analyses one token view.
type Strategy interface {
	Name() string
	Analyse(ctx context.Context, view TokenView) (Signal, error)
}

// Strategy names as used in config, weights, and the learner.
const (
	NameEmperor        = "emperor"
	NameDCA            = "dca"
	NameAntiMartingale = "antimartingale"
	NameReversal       = "reversal"
	NameCandlestick    = "candlestick"
)

// hold builds a HOLD signal with zero confidence weight.
func hold(strategy, reason string) Signal {
	return Signal{Strategy: strategy, Action: Hold, Confidence: 0, Reason: reason}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
