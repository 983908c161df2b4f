package chain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/errs"
	"github.com/ajitpratap0/solfunk/internal/metrics"
)

// LogEvent is one program-log notification.
type LogEvent struct {
	Slot      uint64
	Signature solana.Signature
	Logs      []string
	Failed    bool
}

// SlotEvent is one slot notification.
type SlotEvent struct {
	Slot   uint64
	Parent uint64
	Root   uint64
}

// LogObserver receives log events synchronously from the stream reader.
// Observers must not block on mutexes held elsewhere.
type LogObserver func(*LogEvent)

// SlotObserver receives slot events.
type SlotObserver func(*SlotEvent)

// LogStream is an open chain log subscription.
type LogStream interface {
	Recv(ctx context.Context) (*LogEvent, error)
	Unsubscribe()
}

// SlotStream is an open chain slot subscription.
type SlotStream interface {
	Recv(ctx context.Context) (*SlotEvent, error)
	Unsubscribe()
}

// StreamSource opens raw chain streams. Production uses WSSource.
type StreamSource interface {
	SubscribeLogs(program solana.PublicKey, commitment rpc.CommitmentType) (LogStream, error)
	SubscribeSlots() (SlotStream, error)
}

type logKey struct {
	program    solana.PublicKey
	commitment rpc.CommitmentType
}

const slotKey = "slot"

type logFanout struct {
	stream    LogStream
	cancel    context.CancelFunc
	done      chan struct{}
	nextID    int
	observers map[int]LogObserver
}

type slotFanout struct {
	stream    SlotStream
	cancel    context.CancelFunc
	done      chan struct{}
	nextID    int
	observers map[int]SlotObserver
}

// Mux reference-counts chain subscriptions. One chain subscription exists
// per (program, commitment) or slot key exactly while observers remain.
type Mux struct {
	source StreamSource
	gov    Admitter
	log    zerolog.Logger

	mu       sync.Mutex
	logSubs  map[logKey]*logFanout
	slotSubs map[string]*slotFanout

	observerFailures atomic.Int64
}

// NewMux creates a multiplexer over the given stream source.
func NewMux(source StreamSource, gov Admitter, log zerolog.Logger) *Mux {
	return &Mux{
		source:   source,
		gov:      gov,
		log:      log.With().Str("component", "submux").Logger(),
		logSubs:  make(map[logKey]*logFanout),
		slotSubs: make(map[string]*slotFanout),
	}
}

// OnLogs registers an observer for a program's log stream. The first
// observer for a (program, commitment) pair opens the chain subscription.
// The returned function unregisters the observer; the last unregister
// closes the chain subscription.
func (m *Mux) OnLogs(program solana.PublicKey, commitment rpc.CommitmentType, fn LogObserver) (func(), error) {
	key := logKey{program: program, commitment: commitment}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.logSubs[key]
	if !ok {
		if !m.gov.MayCall("logsSubscribe") {
			return nil, fmt.Errorf("%w: logsSubscribe declined", errs.ErrBudgetExhausted)
		}
		stream, err := m.source.SubscribeLogs(program, commitment)
		m.gov.Record("logsSubscribe")
		if err != nil {
			return nil, wrapRPC("logs subscribe", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		f = &logFanout{
			stream:    stream,
			cancel:    cancel,
			done:      make(chan struct{}),
			observers: make(map[int]LogObserver),
		}
		m.logSubs[key] = f
		metrics.SubscriptionsActive.WithLabelValues("logs").Inc()
		m.log.Info().
			Str("program", program.String()).
			Str("commitment", string(commitment)).
			Msg("Opened log subscription")

		go m.runLogs(ctx, key, f)
	}

	id := f.nextID
	f.nextID++
	f.observers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() { m.dropLogObserver(key, id) })
	}, nil
}

func (m *Mux) dropLogObserver(key logKey, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.logSubs[key]
	if !ok {
		return
	}
	delete(f.observers, id)
	if len(f.observers) > 0 {
		return
	}

	f.cancel()
	f.stream.Unsubscribe()
	delete(m.logSubs, key)
	metrics.SubscriptionsActive.WithLabelValues("logs").Dec()
	m.log.Info().Str("program", key.program.String()).Msg("Closed log subscription")
}

func (m *Mux) runLogs(ctx context.Context, key logKey, f *logFanout) {
	defer close(f.done)
	for {
		ev, err := f.stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn().Err(err).Str("program", key.program.String()).Msg("Log stream broke, resubscribing")
			if !m.resubscribeLogs(ctx, key, f) {
				return
			}
			continue
		}
		metrics.SubscriptionEvents.WithLabelValues("logs").Inc()
		m.dispatchLogs(f, ev)
	}
}

// resubscribeLogs replaces a broken stream with backoff. Returns false
// when the fanout was closed while reconnecting.
func (m *Mux) resubscribeLogs(ctx context.Context, key logKey, f *logFanout) bool {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		if m.gov.MayCall("logsSubscribe") {
			stream, err := m.source.SubscribeLogs(key.program, key.commitment)
			m.gov.Record("logsSubscribe")
			if err == nil {
				m.mu.Lock()
				f.stream = stream
				m.mu.Unlock()
				m.log.Info().Str("program", key.program.String()).Msg("Log subscription restored")
				return true
			}
			m.log.Warn().Err(err).Msg("Resubscribe attempt failed")
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (m *Mux) dispatchLogs(f *logFanout, ev *LogEvent) {
	m.mu.Lock()
	obs := make([]LogObserver, 0, len(f.observers))
	for _, fn := range f.observers {
		obs = append(obs, fn)
	}
	m.mu.Unlock()

	for _, fn := range obs {
		m.deliver("logs", func() { fn(ev) })
	}
}

// OnSlot registers an observer for slot notifications.
func (m *Mux) OnSlot(fn SlotObserver) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.slotSubs[slotKey]
	if !ok {
		if !m.gov.MayCall("slotSubscribe") {
			return nil, fmt.Errorf("%w: slotSubscribe declined", errs.ErrBudgetExhausted)
		}
		stream, err := m.source.SubscribeSlots()
		m.gov.Record("slotSubscribe")
		if err != nil {
			return nil, wrapRPC("slot subscribe", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		f = &slotFanout{
			stream:    stream,
			cancel:    cancel,
			done:      make(chan struct{}),
			observers: make(map[int]SlotObserver),
		}
		m.slotSubs[slotKey] = f
		metrics.SubscriptionsActive.WithLabelValues("slots").Inc()
		m.log.Info().Msg("Opened slot subscription")

		go m.runSlots(ctx, f)
	}

	id := f.nextID
	f.nextID++
	f.observers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() { m.dropSlotObserver(id) })
	}, nil
}

func (m *Mux) dropSlotObserver(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.slotSubs[slotKey]
	if !ok {
		return
	}
	delete(f.observers, id)
	if len(f.observers) > 0 {
		return
	}

	f.cancel()
	f.stream.Unsubscribe()
	delete(m.slotSubs, slotKey)
	metrics.SubscriptionsActive.WithLabelValues("slots").Dec()
	m.log.Info().Msg("Closed slot subscription")
}

func (m *Mux) runSlots(ctx context.Context, f *slotFanout) {
	defer close(f.done)
	for {
		ev, err := f.stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn().Err(err).Msg("Slot stream broke")
			return
		}
		metrics.SubscriptionEvents.WithLabelValues("slots").Inc()

		m.mu.Lock()
		obs := make([]SlotObserver, 0, len(f.observers))
		for _, fn := range f.observers {
			obs = append(obs, fn)
		}
		m.mu.Unlock()

		for _, fn := range obs {
			m.deliver("slots", func() { fn(ev) })
		}
	}
}

// deliver runs one observer callback, isolating panics so one broken
// observer cannot take down the others or the reader.
func (m *Mux) deliver(kind string, call func()) {
	defer func() {
		if r := recover(); r != nil {
			m.observerFailures.Add(1)
			metrics.ObserverFailures.Inc()
			m.log.Error().Interface("panic", r).Str("kind", kind).Msg("Subscription observer failed")
		}
	}()
	call()
}

// ObserverFailures returns the count of failed observer deliveries.
func (m *Mux) ObserverFailures() int64 {
	return m.observerFailures.Load()
}

// ActiveSubscriptions returns the number of open chain subscriptions.
func (m *Mux) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logSubs) + len(m.slotSubs)
}

// Close tears down every open subscription.
func (m *Mux) Close() {
	m.mu.Lock()
	logs := m.logSubs
	slots := m.slotSubs
	m.logSubs = make(map[logKey]*logFanout)
	m.slotSubs = make(map[string]*slotFanout)
	m.mu.Unlock()

	for _, f := range logs {
		f.cancel()
		f.stream.Unsubscribe()
		metrics.SubscriptionsActive.WithLabelValues("logs").Dec()
	}
	for _, f := range slots {
		f.cancel()
		f.stream.Unsubscribe()
		metrics.SubscriptionsActive.WithLabelValues("slots").Dec()
	}
}
