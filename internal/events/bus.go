// Package events publishes agent lifecycle events over NATS so
// external consumers (dashboards, analytics, paper-trade recorders)
// can follow the agent without touching its process. The bus is
// optional: without a configured URL every publish is a no-op.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/config"
)

// Subjects carried by the bus.
const (
	SubjectTradeExecuted     = "solfunk.trade.executed"
	SubjectTradeClosed       = "solfunk.trade.closed"
	SubjectCandidateApproved = "solfunk.candidate.approved"
	SubjectStatus            = "solfunk.status"
)

// Event is the wire envelope around every payload.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Subject   string          `json:"subject"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// TradeExecuted is published after every executed (or probed) buy.
type TradeExecuted struct {
	TradeID   string  `json:"trade_id"`
	Kind      string  `json:"kind"`
	Mint      string  `json:"mint"`
	Symbol    string  `json:"symbol,omitempty"`
	AmountSOL float64 `json:"amount_sol"`
	OutAmount float64 `json:"out_amount"`
	ImpactPct float64 `json:"impact_pct"`
	DryRun    bool    `json:"dry_run"`
	Signature string  `json:"signature,omitempty"`
}

// TradeClosed is published when a position exits.
type TradeClosed struct {
	Mint        string  `json:"mint"`
	Symbol      string  `json:"symbol,omitempty"`
	Reason      string  `json:"reason"`
	PnLPct      float64 `json:"pnl_pct"`
	HoldMinutes float64 `json:"hold_minutes"`
	Signature   string  `json:"signature,omitempty"`
}

// CandidateApproved is published when a token clears the full
// decision pipeline.
type CandidateApproved struct {
	Mint         string  `json:"mint"`
	Symbol       string  `json:"symbol,omitempty"`
	Source       string  `json:"source"`
	Pattern      string  `json:"pattern,omitempty"`
	Confidence   float64 `json:"confidence"`
	LiquidityUSD float64 `json:"liquidity_usd"`
}

// StatusSnapshot is the periodic agent heartbeat.
type StatusSnapshot struct {
	State         string  `json:"state"`
	BalanceSOL    float64 `json:"balance_sol"`
	OpenPositions int     `json:"open_positions"`
	TradesTotal   int     `json:"trades_total"`
	BudgetUsedPct float64 `json:"budget_used_pct"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Bus wraps the NATS connection. A nil or disabled Bus accepts every
// publish and drops it.
type Bus struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// NewBus connects to NATS, or returns a disabled bus when the config
// carries no URL.
func NewBus(cfg config.NATSConfig, log zerolog.Logger) (*Bus, error) {
	log = log.With().Str("component", "events").Logger()

	if !cfg.Enabled || cfg.URL == "" {
		log.Info().Msg("Event bus disabled")
		return &Bus{log: log}, nil
	}

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("solfunk"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}

	log.Info().Str("url", cfg.URL).Msg("Event bus connected")
	return &Bus{nc: nc, log: log}, nil
}

// Enabled reports whether events actually leave the process.
func (b *Bus) Enabled() bool {
	return b != nil && b.nc != nil
}

// Publish wraps the payload in an envelope and publishes it. Disabled
// buses drop silently.
func (b *Bus) Publish(ctx context.Context, subject string, payload any) error {
	if !b.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.nc.IsConnected() {
		return fmt.Errorf("event bus not connected")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	ev := Event{
		ID:        uuid.New(),
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	b.log.Debug().
		Str("event_id", ev.ID.String()).
		Str("subject", subject).
		Msg("Event published")
	return nil
}

// PublishTradeExecuted publishes to solfunk.trade.executed.
func (b *Bus) PublishTradeExecuted(ctx context.Context, te TradeExecuted) error {
	return b.Publish(ctx, SubjectTradeExecuted, te)
}

// PublishTradeClosed publishes to solfunk.trade.closed.
func (b *Bus) PublishTradeClosed(ctx context.Context, tc TradeClosed) error {
	return b.Publish(ctx, SubjectTradeClosed, tc)
}

// PublishCandidateApproved publishes to solfunk.candidate.approved.
func (b *Bus) PublishCandidateApproved(ctx context.Context, ca CandidateApproved) error {
	return b.Publish(ctx, SubjectCandidateApproved, ca)
}

// PublishStatus publishes to solfunk.status.
func (b *Bus) PublishStatus(ctx context.Context, ss StatusSnapshot) error {
	return b.Publish(ctx, SubjectStatus, ss)
}

// Subscribe delivers decoded events for a subject (NATS wildcards
// allowed). Returns nil without error on a disabled bus.
func (b *Bus) Subscribe(subject string, handler func(Event)) (*nats.Subscription, error) {
	if !b.Enabled() {
		return nil, nil
	}

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.log.Warn().Err(err).Str("subject", msg.Subject).Msg("Undecodable event")
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	b.log.Info().Str("subject", subject).Msg("Subscribed to events")
	return sub, nil
}

// Close flushes pending publishes and drops the connection.
func (b *Bus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	if err := b.nc.FlushTimeout(2 * time.Second); err != nil {
		b.log.Warn().Err(err).Msg("Event flush on close failed")
	}
	b.nc.Close()
	b.log.Info().Msg("Event bus closed")
}
