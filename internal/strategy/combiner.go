package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/config"
	"github.com/ajitpratap0/solfunk/internal/metrics"
)

// Mode selects how the ensemble folds signals into one decision.
type Mode string

const (
	ModeEnsemble     Mode = "ensemble"
	ModeConsensus    Mode = "consensus"
	ModeBest         Mode = "best"
	ModeConservative Mode = "conservative"
)

// conservative-mode thresholds
const (
	conservativeBuyConf  = 0.6
	conservativeSellConf = 0.8
)

// Decision is the ensemble's combined verdict.
type Decision struct {
	Action     Action   `json:"action"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	AmountSOL  float64  `json:"amount_sol,omitempty"`
	Signals    []Signal `json:"signals"`
}

// Combiner runs the enabled strategies and votes per the mode.
type Combiner struct {
	strategies    []Strategy
	weights       map[string]float64
	mode          Mode
	minConfidence float64
	log           zerolog.Logger
}

// NewCombiner builds a combiner over an explicit strategy set.
func NewCombiner(mode Mode, strategies []Strategy, weights map[string]float64, minConfidence float64, log zerolog.Logger) *Combiner {
	return &Combiner{
		strategies:    strategies,
		weights:       weights,
		mode:          mode,
		minConfidence: minConfidence,
		log:           log.With().Str("component", "strategy").Logger(),
	}
}

// FromConfig assembles the configured subset of the five strategies.
func FromConfig(cfg config.StrategiesConfig, log zerolog.Logger) *Combiner {
	all := map[string]Strategy{
		NameEmperor:        NewEmperor(DefaultEmperorParams()),
		NameDCA:            NewDCA(DefaultDCAParams()),
		NameAntiMartingale: NewAntiMartingale(DefaultAntiMartingaleParams()),
		NameReversal:       NewReversal(DefaultReversalParams()),
		NameCandlestick:    NewCandlestick(DefaultCandlestickParams()),
	}

	var picked []Strategy
	for _, name := range cfg.Enabled {
		s, ok := all[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			log.Warn().Str("strategy", name).Msg("Unknown strategy in config, skipping")
			continue
		}
		picked = append(picked, s)
	}
	if len(picked) == 0 {
		for _, name := range []string{NameEmperor, NameDCA, NameAntiMartingale, NameReversal, NameCandlestick} {
			picked = append(picked, all[name])
		}
	}
	return NewCombiner(Mode(cfg.Mode), picked, cfg.Weights, cfg.MinConfidence, log)
}

// Strategies exposes the active set, for the learner's UCB selection.
func (c *Combiner) Strategies() []Strategy {
	return c.strategies
}

func (c *Combiner) weightOf(name string) float64 {
	if w, ok := c.weights[name]; ok && w > 0 {
		return w
	}
	return 1
}

// Decide runs every strategy and folds the signals. A strategy error
// drops its vote, never the decision.
func (c *Combiner) Decide(ctx context.Context, view TokenView) Decision {
	signals := make([]Signal, 0, len(c.strategies))
	for _, s := range c.strategies {
		sig, err := s.Analyse(ctx, view)
		if err != nil {
			c.log.Warn().Err(err).Str("strategy", s.Name()).Msg("Strategy failed, dropping its vote")
			continue
		}
		metrics.StrategySignals.WithLabelValues(s.Name(), string(sig.Action)).Inc()
		signals = append(signals, sig)
	}

	var d Decision
	switch c.mode {
	case ModeConsensus:
		d = c.consensus(signals)
	case ModeBest:
		d = c.best(signals)
	case ModeConservative:
		d = c.conservative(signals)
	default:
		d = c.ensemble(signals)
	}
	d.Signals = signals

	if d.Action != Hold && d.Confidence < c.minConfidence {
		d = Decision{
			Action:     Hold,
			Confidence: d.Confidence,
			Reason:     fmt.Sprintf("confidence %.2f below threshold %.2f", d.Confidence, c.minConfidence),
			Signals:    signals,
		}
	}

	metrics.Decisions.WithLabelValues(string(d.Action)).Inc()
	c.log.Debug().
		Str("mint", view.Candidate.Mint).
		Str("action", string(d.Action)).
		Float64("confidence", d.Confidence).
		Str("reason", d.Reason).
		Msg("Ensemble decision")
	return d
}

// ensemble takes the weighted confidence sum per action and normalises
// the winner against the total voting weight.
func (c *Combiner) ensemble(signals []Signal) Decision {
	if len(signals) == 0 {
		return Decision{Action: Hold, Reason: "no signals"}
	}

	scores := map[Action]float64{}
	var totalWeight float64
	for _, sig := range signals {
		w := c.weightOf(sig.Strategy)
		scores[sig.Action] += w * sig.Confidence
		totalWeight += w
	}

	winner := Hold
	for _, action := range []Action{Sell, Buy, Hold} {
		if scores[action] > scores[winner] {
			winner = action
		}
	}

	confidence := scores[winner] / totalWeight
	return Decision{
		Action:     winner,
		Confidence: confidence,
		Reason:     c.topReason(signals, winner),
		AmountSOL:  amountFor(signals, winner),
	}
}

// consensus requires a unanimous action.
func (c *Combiner) consensus(signals []Signal) Decision {
	if len(signals) == 0 {
		return Decision{Action: Hold, Reason: "no signals"}
	}

	action := signals[0].Action
	var sum float64
	for _, sig := range signals {
		if sig.Action != action {
			return Decision{Action: Hold, Reason: "no consensus"}
		}
		sum += sig.Confidence
	}
	return Decision{
		Action:     action,
		Confidence: sum / float64(len(signals)),
		Reason:     c.topReason(signals, action),
		AmountSOL:  amountFor(signals, action),
	}
}

// best takes the single most confident signal.
func (c *Combiner) best(signals []Signal) Decision {
	if len(signals) == 0 {
		return Decision{Action: Hold, Reason: "no signals"}
	}

	top := signals[0]
	for _, sig := range signals[1:] {
		if sig.Confidence > top.Confidence {
			top = sig
		}
	}
	return Decision{
		Action:     top.Action,
		Confidence: top.Confidence,
		Reason:     fmt.Sprintf("%s: %s", top.Strategy, top.Reason),
		AmountSOL:  top.AmountSOL,
	}
}

// conservative sells on any strong SELL, buys only on two confident
// BUYs, otherwise holds.
func (c *Combiner) conservative(signals []Signal) Decision {
	var buys []Signal
	for _, sig := range signals {
		if sig.Action == Sell && sig.Confidence >= conservativeSellConf {
			return Decision{
				Action:     Sell,
				Confidence: sig.Confidence,
				Reason:     fmt.Sprintf("%s: %s", sig.Strategy, sig.Reason),
				AmountSOL:  sig.AmountSOL,
			}
		}
		if sig.Action == Buy && sig.Confidence >= conservativeBuyConf {
			buys = append(buys, sig)
		}
	}

	if len(buys) >= 2 {
		var sum float64
		for _, sig := range buys {
			sum += sig.Confidence
		}
		return Decision{
			Action:     Buy,
			Confidence: sum / float64(len(buys)),
			Reason:     c.topReason(buys, Buy),
			AmountSOL:  amountFor(buys, Buy),
		}
	}
	return Decision{Action: Hold, Reason: fmt.Sprintf("%d of 2 confident buys", len(buys))}
}

// topReason joins the two most confident contributing reasons.
func (c *Combiner) topReason(signals []Signal, action Action) string {
	var first, second *Signal
	for i := range signals {
		sig := &signals[i]
		if sig.Action != action {
			continue
		}
		switch {
		case first == nil || sig.Confidence > first.Confidence:
			second = first
			first = sig
		case second == nil || sig.Confidence > second.Confidence:
			second = sig
		}
	}
	switch {
	case first == nil:
		return string(action)
	case second == nil:
		return fmt.Sprintf("%s: %s", first.Strategy, first.Reason)
	default:
		return fmt.Sprintf("%s: %s; %s: %s", first.Strategy, first.Reason, second.Strategy, second.Reason)
	}
}

// amountFor takes the size suggested by the most confident signal of
// the winning action that set one.
func amountFor(signals []Signal, action Action) float64 {
	var best float64
	var amount float64
	for _, sig := range signals {
		if sig.Action == action && sig.AmountSOL > 0 && sig.Confidence > best {
			best = sig.Confidence
			amount = sig.AmountSOL
		}
	}
	return amount
}
