package alerts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// captureAlerter records every alert it receives. Delivery is
// asynchronous so access is mutex guarded.
type captureAlerter struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
	delay  time.Duration
}

func (c *captureAlerter) Send(ctx context.Context, alert Alert) error {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return c.err
}

func (c *captureAlerter) received() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func testManager(floor Severity, alerters ...Alerter) *Manager {
	return NewManager(floor, zerolog.Nop(), alerters...)
}

func TestManager_DeliversToAllChannels(t *testing.T) {
	first := &captureAlerter{}
	failing := &captureAlerter{err: errors.New("channel down")}
	last := &captureAlerter{}

	m := testManager(SeverityInfo, first, failing, last)
	m.Send(Alert{Title: "Fan out", Message: "hello", Severity: SeverityWarning})

	if !m.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	for i, c := range []*captureAlerter{first, failing, last} {
		got := c.received()
		if len(got) != 1 {
			t.Fatalf("channel %d received %d alerts, want 1", i, len(got))
		}
		if got[0].Title != "Fan out" {
			t.Errorf("channel %d got title %q", i, got[0].Title)
		}
	}
}

func TestManager_SeverityFloor(t *testing.T) {
	sink := &captureAlerter{}
	m := testManager(SeverityWarning, sink)

	m.Send(Alert{Title: "quiet", Severity: SeverityInfo})
	m.Send(Alert{Title: "loud", Severity: SeverityWarning})
	m.Send(Alert{Title: "urgent", Severity: SeverityCritical})

	if !m.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	got := sink.received()
	if len(got) != 2 {
		t.Fatalf("received %d alerts, want 2", len(got))
	}
	titles := map[string]bool{}
	for _, a := range got {
		titles[a.Title] = true
	}
	if titles["quiet"] {
		t.Error("info alert passed a WARNING floor")
	}
	if !titles["loud"] || !titles["urgent"] {
		t.Errorf("missing alerts, got %v", titles)
	}
}

func TestManager_StampsTimestamp(t *testing.T) {
	sink := &captureAlerter{}
	m := testManager(SeverityInfo, sink)

	explicit := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	m.Send(Alert{Title: "blank", Severity: SeverityInfo})
	m.Send(Alert{Title: "stamped", Severity: SeverityInfo, Timestamp: explicit})

	if !m.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	for _, a := range sink.received() {
		switch a.Title {
		case "blank":
			if a.Timestamp.IsZero() {
				t.Error("expected timestamp to be stamped")
			}
		case "stamped":
			if !a.Timestamp.Equal(explicit) {
				t.Errorf("explicit timestamp overwritten: %v", a.Timestamp)
			}
		}
	}
}

func TestManager_NoChannels(t *testing.T) {
	m := testManager(SeverityInfo)
	m.Send(Alert{Title: "into the void", Severity: SeverityCritical})
	if !m.Drain(time.Second) {
		t.Fatal("empty manager should drain immediately")
	}

	var nilManager *Manager
	nilManager.Send(Alert{Title: "nil"})
	if !nilManager.Drain(time.Second) {
		t.Fatal("nil manager should drain immediately")
	}
}

func TestManager_DrainTimeout(t *testing.T) {
	slow := &captureAlerter{delay: 300 * time.Millisecond}
	m := testManager(SeverityInfo, slow)

	m.Send(Alert{Title: "slow", Severity: SeverityInfo})

	if m.Drain(20 * time.Millisecond) {
		t.Error("drain should time out while the send is in flight")
	}
	if !m.Drain(2 * time.Second) {
		t.Error("second drain should see the send complete")
	}
	if len(slow.received()) != 1 {
		t.Errorf("received %d alerts, want 1", len(slow.received()))
	}
}

func TestManager_SendDoesNotBlockCaller(t *testing.T) {
	slow := &captureAlerter{delay: 500 * time.Millisecond}
	m := testManager(SeverityInfo, slow)

	start := time.Now()
	m.Send(Alert{Title: "async", Severity: SeverityInfo})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Send blocked for %v", elapsed)
	}

	m.Drain(2 * time.Second)
}

func TestSendTradeAlert_Buy(t *testing.T) {
	sink := &captureAlerter{}
	m := testManager(SeverityInfo, sink)

	m.SendTradeAlert(TradeAlert{
		Action:    "BUY",
		Mint:      "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
		Symbol:    "BONK",
		Kind:      "single",
		AmountSOL: 0.05,
		DryRun:    true,
	})
	if !m.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	got := sink.received()
	if len(got) != 1 {
		t.Fatalf("received %d alerts, want 1", len(got))
	}
	a := got[0]
	if a.Title != "BUY BONK (dry run)" {
		t.Errorf("title = %q", a.Title)
	}
	if !strings.Contains(a.Message, "0.0500 SOL") {
		t.Errorf("message missing amount: %q", a.Message)
	}
	if a.Severity != SeverityInfo {
		t.Errorf("severity = %q", a.Severity)
	}
	if a.Fields["mint"] != "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263" {
		t.Errorf("mint field = %v", a.Fields["mint"])
	}
	if a.Fields["kind"] != "single" {
		t.Errorf("kind field = %v", a.Fields["kind"])
	}
}

func TestSendTradeAlert_SellWithPnL(t *testing.T) {
	sink := &captureAlerter{}
	m := testManager(SeverityInfo, sink)

	m.SendTradeAlert(TradeAlert{
		Action:    "SELL",
		Mint:      "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
		Symbol:    "BONK",
		AmountSOL: 0.12,
		PnLPct:    12.5,
		HasPnL:    true,
		Reason:    "take_profit",
		Signature: "5VERYLongBase58SignatureValue",
	})
	if !m.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	got := sink.received()
	if len(got) != 1 {
		t.Fatalf("received %d alerts, want 1", len(got))
	}
	a := got[0]
	if a.Title != "SELL BONK" {
		t.Errorf("title = %q", a.Title)
	}
	if !strings.Contains(a.Message, "+12.50%") {
		t.Errorf("message missing pnl: %q", a.Message)
	}
	if !strings.Contains(a.Message, "take_profit") {
		t.Errorf("message missing reason: %q", a.Message)
	}
	if a.Fields["signature"] != "5VERYLongBase58SignatureValue" {
		t.Errorf("signature field = %v", a.Fields["signature"])
	}
}

func TestSendTradeAlert_ShortensMintWithoutSymbol(t *testing.T) {
	sink := &captureAlerter{}
	m := testManager(SeverityInfo, sink)

	m.SendTradeAlert(TradeAlert{
		Action: "BUY",
		Mint:   "So11111111111111111111111111111111111111112",
	})
	if !m.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	got := sink.received()
	if len(got) != 1 {
		t.Fatalf("received %d alerts, want 1", len(got))
	}
	if got[0].Title != "BUY So11..1112" {
		t.Errorf("title = %q", got[0].Title)
	}
}

func TestSendStatusUpdate(t *testing.T) {
	sink := &captureAlerter{}
	m := testManager(SeverityInfo, sink)

	m.SendStatusUpdate(StatusUpdate{
		BalanceSOL:    1.2345,
		BaselineSOL:   1.2,
		OpenPositions: 3,
		TradesTotal:   12,
		WinRatePct:    58,
		BudgetUsedPct: 43,
		Uptime:        5*time.Hour + 12*time.Minute,
	})
	if !m.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	got := sink.received()
	if len(got) != 1 {
		t.Fatalf("received %d alerts, want 1", len(got))
	}
	a := got[0]
	if a.Title != "Agent status" {
		t.Errorf("title = %q", a.Title)
	}
	for _, want := range []string{
		"Balance 1.2345 SOL (+0.0345)",
		"Open positions: 3",
		"Trades: 12 (58% win)",
		"Budget used: 43%",
		"Uptime: 5h12m",
	} {
		if !strings.Contains(a.Message, want) {
			t.Errorf("message missing %q:\n%s", want, a.Message)
		}
	}
}

func TestSendErrorAlert(t *testing.T) {
	sink := &captureAlerter{}
	m := testManager(SeverityInfo, sink)

	m.SendErrorAlert("executor", errors.New("rpc connection lost"))
	if !m.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	got := sink.received()
	if len(got) != 1 {
		t.Fatalf("received %d alerts, want 1", len(got))
	}
	a := got[0]
	if a.Severity != SeverityCritical {
		t.Errorf("severity = %q, want CRITICAL", a.Severity)
	}
	if a.Title != "Error in executor" {
		t.Errorf("title = %q", a.Title)
	}
	if a.Message != "rpc connection lost" {
		t.Errorf("message = %q", a.Message)
	}
	if a.Fields["component"] != "executor" {
		t.Errorf("component field = %v", a.Fields["component"])
	}
}

func TestSendGeneralAlert(t *testing.T) {
	sink := &captureAlerter{}
	m := testManager(SeverityInfo, sink)

	m.SendGeneralAlert("Agent started", "dry run mode")
	if !m.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	got := sink.received()
	if len(got) != 1 {
		t.Fatalf("received %d alerts, want 1", len(got))
	}
	if got[0].Title != "Agent started" || got[0].Severity != SeverityInfo {
		t.Errorf("got %+v", got[0])
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"info", SeverityInfo},
		{"INFO", SeverityInfo},
		{"warning", SeverityWarning},
		{"warn", SeverityWarning},
		{"critical", SeverityCritical},
		{"ERROR", SeverityCritical},
		{"", SeverityInfo},
		{"garbage", SeverityInfo},
		{"  Warning  ", SeverityWarning},
	}
	for _, tt := range tests {
		if got := ParseSeverity(tt.in); got != tt.want {
			t.Errorf("ParseSeverity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLogAlerter_Send(t *testing.T) {
	var buf strings.Builder
	alerter := NewLogAlerter(zerolog.New(&buf))

	tests := []struct {
		severity Severity
		level    string
	}{
		{SeverityInfo, "info"},
		{SeverityWarning, "warn"},
		{SeverityCritical, "error"},
	}

	for _, tt := range tests {
		buf.Reset()
		err := alerter.Send(context.Background(), Alert{
			Title:    "Log test",
			Message:  "log body",
			Severity: tt.severity,
			Fields:   map[string]any{"mint": "abc"},
		})
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		out := buf.String()
		if !strings.Contains(out, `"level":"`+tt.level+`"`) {
			t.Errorf("severity %s logged without level %s: %s", tt.severity, tt.level, out)
		}
		if !strings.Contains(out, "Log test") || !strings.Contains(out, "log body") {
			t.Errorf("log line missing alert content: %s", out)
		}
		if !strings.Contains(out, `"mint":"abc"`) {
			t.Errorf("log line missing field: %s", out)
		}
	}
}

func TestSeverityConstants(t *testing.T) {
	if SeverityInfo != "INFO" {
		t.Errorf("SeverityInfo = %q", SeverityInfo)
	}
	if SeverityWarning != "WARNING" {
		t.Errorf("SeverityWarning = %q", SeverityWarning)
	}
	if SeverityCritical != "CRITICAL" {
		t.Errorf("SeverityCritical = %q", SeverityCritical)
	}
}
