package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/solfunk/internal/metrics"
)

// Service names for the outbound breakers. LLM breakers are created on
// demand per model under "llm:<model>".
const (
	ServiceDexScreener = "dexscreener"
	ServiceRugCheck    = "rugcheck"
	ServiceHistory     = "history"
	ServiceAggregator  = "aggregator"
	ServiceLLM         = "llm"
)

// BreakerSettings configures one service breaker.
type BreakerSettings struct {
	MinRequests   uint32
	FailureRatio  float64
	OpenTimeout   time.Duration
	HalfOpenMax   uint32
	CountInterval time.Duration
}

// HTTPBreakerSettings suits the fast data APIs: trip after 5 requests
// at a 60% failure ratio, stay open 30s, probe with 3 requests.
func HTTPBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:   5,
		FailureRatio:  0.6,
		OpenTimeout:   30 * time.Second,
		HalfOpenMax:   3,
		CountInterval: 10 * time.Second,
	}
}

// LLMBreakerSettings trips sooner and recovers slower; model endpoints
// fail in longer episodes than the data APIs.
func LLMBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:   3,
		FailureRatio:  0.6,
		OpenTimeout:   60 * time.Second,
		HalfOpenMax:   2,
		CountInterval: 10 * time.Second,
	}
}

// BreakerSet owns the circuit breakers for every outbound dependency.
// Clients receive a *gobreaker.CircuitBreaker and stay unaware of the
// set; state changes land in the shared Prometheus gauges.
type BreakerSet struct {
	mu          sync.Mutex
	breakers    map[string]*gobreaker.CircuitBreaker
	passthrough bool
	log         zerolog.Logger
}

// NewBreakerSet builds the standard set: HTTP settings for the data
// services, LLM settings for the model endpoint.
func NewBreakerSet(log zerolog.Logger) *BreakerSet {
	s := &BreakerSet{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		log:      log.With().Str("component", "breakers").Logger(),
	}
	for _, service := range []string{ServiceDexScreener, ServiceRugCheck, ServiceHistory, ServiceAggregator} {
		s.breakers[service] = s.newBreaker(service, HTTPBreakerSettings())
	}
	s.breakers[ServiceLLM] = s.newBreaker(ServiceLLM, LLMBreakerSettings())
	return s
}

// NewPassthroughBreakerSet never trips. Tests exercise client code
// through the breaker path without the breaker interfering.
func NewPassthroughBreakerSet() *BreakerSet {
	return &BreakerSet{
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		passthrough: true,
		log:         zerolog.Nop(),
	}
}

// Get returns the breaker for a service, creating one with HTTP
// settings (or passthrough settings) for names not in the standard set.
func (s *BreakerSet) Get(service string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[service]; ok {
		return cb
	}
	var cb *gobreaker.CircuitBreaker
	if s.passthrough {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        service,
			MaxRequests: 1000,
			Timeout:     time.Millisecond,
			ReadyToTrip: func(gobreaker.Counts) bool { return false },
		})
	} else {
		cb = s.newBreaker(service, HTTPBreakerSettings())
	}
	s.breakers[service] = cb
	return cb
}

func (s *BreakerSet) newBreaker(service string, st BreakerSettings) *gobreaker.CircuitBreaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: st.HalfOpenMax,
		Interval:    st.CountInterval,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= st.MinRequests && ratio >= st.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			evt := s.log.Info()
			if to == gobreaker.StateOpen {
				metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
				evt = s.log.Warn()
			}
			evt.Str("service", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(service).Set(stateValue(cb.State()))
	return cb
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
