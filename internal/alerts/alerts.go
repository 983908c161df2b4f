// Package alerts is the outbound notification sink: trade executions,
// position exits, status snapshots, and errors fan out to the
// configured channels without ever blocking the trading pipeline.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Severity orders alerts for the configured floor.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity reads a config severity string, defaulting to INFO.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WARNING", "WARN":
		return SeverityWarning
	case "CRITICAL", "CRIT", "ERROR":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Alert is one outbound message.
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Fields    map[string]any
}

// Alerter delivers one alert to one channel.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

const sendTimeout = 10 * time.Second

// Manager fans alerts out to every configured channel. Delivery is
// asynchronous: the calling goroutine returns immediately and failures
// are logged, never propagated.
type Manager struct {
	alerters []Alerter
	floor    Severity
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// NewManager builds the fan-out over the given channels. Alerts under
// the floor severity are dropped.
func NewManager(floor Severity, log zerolog.Logger, alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
		floor:    floor,
		log:      log.With().Str("component", "alerts").Logger(),
	}
}

// Send dispatches one alert asynchronously.
func (m *Manager) Send(alert Alert) {
	if m == nil || len(m.alerters) == 0 {
		return
	}
	if severityRank(alert.Severity) < severityRank(m.floor) {
		return
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// Detached from the caller so a cancelled pipeline step does
		// not lose its own alert.
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		for _, a := range m.alerters {
			if err := a.Send(ctx, alert); err != nil {
				m.log.Warn().Err(err).Str("title", alert.Title).Msg("Alert delivery failed")
			}
		}
	}()
}

// Drain waits for in-flight deliveries up to the timeout. Returns
// false when the timeout expired with sends still pending.
func (m *Manager) Drain(timeout time.Duration) bool {
	if m == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// TradeAlert describes one executed or closed trade.
type TradeAlert struct {
	Action    string // BUY or SELL
	Mint      string
	Symbol    string
	Kind      string
	AmountSOL float64
	PnLPct    float64
	HasPnL    bool
	DryRun    bool
	Signature string
	Reason    string
}

// SendTradeAlert publishes a trade notification.
func (m *Manager) SendTradeAlert(ta TradeAlert) {
	name := ta.Symbol
	if name == "" {
		name = shortMint(ta.Mint)
	}
	title := fmt.Sprintf("%s %s", ta.Action, name)
	if ta.DryRun {
		title += " (dry run)"
	}

	var b strings.Builder
	if ta.AmountSOL > 0 {
		fmt.Fprintf(&b, "%.4f SOL", ta.AmountSOL)
	}
	if ta.HasPnL {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%+.2f%%", ta.PnLPct)
	}
	if ta.Reason != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(ta.Reason)
	}

	fields := map[string]any{"mint": ta.Mint}
	if ta.Kind != "" {
		fields["kind"] = ta.Kind
	}
	if ta.Signature != "" {
		fields["signature"] = ta.Signature
	}

	m.Send(Alert{
		Title:    title,
		Message:  b.String(),
		Severity: SeverityInfo,
		Fields:   fields,
	})
}

// StatusUpdate is the periodic agent snapshot.
type StatusUpdate struct {
	BalanceSOL    float64
	BaselineSOL   float64
	OpenPositions int
	TradesTotal   int
	WinRatePct    float64
	BudgetUsedPct float64
	Uptime        time.Duration
}

// SendStatusUpdate publishes the periodic snapshot.
func (m *Manager) SendStatusUpdate(su StatusUpdate) {
	var b strings.Builder
	fmt.Fprintf(&b, "Balance %.4f SOL", su.BalanceSOL)
	if su.BaselineSOL > 0 {
		fmt.Fprintf(&b, " (%+.4f)", su.BalanceSOL-su.BaselineSOL)
	}
	fmt.Fprintf(&b, "\nOpen positions: %d", su.OpenPositions)
	fmt.Fprintf(&b, "\nTrades: %d (%.0f%% win)", su.TradesTotal, su.WinRatePct)
	fmt.Fprintf(&b, "\nBudget used: %.0f%%", su.BudgetUsedPct)
	fmt.Fprintf(&b, "\nUptime: %s", su.Uptime.Round(time.Minute))

	m.Send(Alert{
		Title:    "Agent status",
		Message:  b.String(),
		Severity: SeverityInfo,
	})
}

// SendErrorAlert publishes a component failure.
func (m *Manager) SendErrorAlert(component string, err error) {
	m.Send(Alert{
		Title:    "Error in " + component,
		Message:  err.Error(),
		Severity: SeverityCritical,
		Fields:   map[string]any{"component": component},
	})
}

// SendGeneralAlert publishes a free-form informational message.
func (m *Manager) SendGeneralAlert(title, message string) {
	m.Send(Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityInfo,
	})
}

func shortMint(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:4] + ".." + mint[len(mint)-4:]
}

// LogAlerter writes alerts to the structured log, the always-on
// channel.
type LogAlerter struct {
	log zerolog.Logger
}

// NewLogAlerter builds the log channel.
func NewLogAlerter(log zerolog.Logger) *LogAlerter {
	return &LogAlerter{log: log.With().Str("component", "alerts").Logger()}
}

// Send logs the alert at a level matching its severity.
func (l *LogAlerter) Send(_ context.Context, alert Alert) error {
	event := l.log.Info()
	switch alert.Severity {
	case SeverityCritical:
		event = l.log.Error()
	case SeverityWarning:
		event = l.log.Warn()
	}
	for key, value := range alert.Fields {
		event = event.Interface(key, value)
	}
	event.Str("title", alert.Title).Msg(alert.Message)
	return nil
}
