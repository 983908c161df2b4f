package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Pipeline skip reasons (bounded set)
	SkipReasonBudget     = "budget_exhausted"
	SkipReasonPrice      = "price_unavailable"
	SkipReasonAggregator = "aggregator_error"
	SkipReasonNetwork    = "network_transient"
	SkipReasonValidation = "validation_failed"
	SkipReasonRisk       = "risk_blocked"
	SkipReasonSeen       = "recently_analysed"
	SkipReasonOther      = "other"

	// Exit reasons (bounded set)
	ExitReasonTakeProfit = "take_profit"
	ExitReasonStopLoss   = "stop_loss"
	ExitReasonEmergency  = "emergency"
	ExitReasonReversal   = "reversal"
	ExitReasonLearned    = "learned_target"
	ExitReasonStagnant   = "stagnant"
	ExitReasonFastPump   = "fast_pump"
)

// NormalizeSkipReason maps arbitrary skip causes to the bounded set
func NormalizeSkipReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "budget"):
		return SkipReasonBudget
	case strings.Contains(lower, "price"):
		return SkipReasonPrice
	case strings.Contains(lower, "aggregator") || strings.Contains(lower, "quote"):
		return SkipReasonAggregator
	case strings.Contains(lower, "network") || strings.Contains(lower, "timeout") || strings.Contains(lower, "transient"):
		return SkipReasonNetwork
	case strings.Contains(lower, "valid") || strings.Contains(lower, "rug"):
		return SkipReasonValidation
	case strings.Contains(lower, "risk") || strings.Contains(lower, "extended") || strings.Contains(lower, "concentration"):
		return SkipReasonRisk
	case strings.Contains(lower, "seen") || strings.Contains(lower, "analysed") || strings.Contains(lower, "analyzed"):
		return SkipReasonSeen
	default:
		return SkipReasonOther
	}
}

// RPC budget metrics
var (
	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_rpc_calls_total",
		Help: "RPC calls recorded against the daily budget, by method",
	}, []string{"method"})

	RPCBudgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solfunk_rpc_budget_remaining",
		Help: "RPC calls remaining in today's budget",
	})

	RPCRolloverBank = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solfunk_rpc_rollover_bank",
		Help: "Unused RPC budget carried forward from previous days",
	})

	RPCBudgetDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solfunk_rpc_budget_denied_total",
		Help: "RPC admission checks denied because the budget was exhausted",
	})
)

// Subscription multiplexer metrics
var (
	SubscriptionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solfunk_subscriptions_active",
		Help: "Active chain subscriptions by kind",
	}, []string{"kind"})

	SubscriptionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_subscription_events_total",
		Help: "Events dispatched to subscription observers, by kind",
	}, []string{"kind"})

	ObserverFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solfunk_subscription_observer_failures_total",
		Help: "Observer callbacks that panicked or returned an error",
	})
)

// Price cache metrics
var (
	PriceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solfunk_price_cache_hits_total",
		Help: "Price reads served from the cache",
	})

	PriceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solfunk_price_cache_misses_total",
		Help: "Price reads that required a fresh fetch",
	})

	PriceCacheStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solfunk_price_cache_stale_total",
		Help: "Price reads served stale after a refresh failure",
	})
)

// Balance ledger metrics
var (
	SolBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solfunk_sol_balance",
		Help: "Ledger view of the wallet SOL balance",
	})

	BalanceDiscrepancies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solfunk_balance_discrepancies_total",
		Help: "Ledger corrections after verification against the chain",
	})
)

// Discovery metrics
var (
	DiscoveredCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_discovery_candidates_total",
		Help: "Candidates returned per discovery source before filtering",
	}, []string{"source"})

	DiscoverySourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_discovery_source_failures_total",
		Help: "Discovery source fetches that failed and degraded to empty",
	}, []string{"source"})

	FilteredCandidates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solfunk_discovery_filtered_candidates",
		Help: "Candidates surviving the filter gate in the last scan",
	})
)

// Decision pipeline metrics
var (
	CandidatesEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solfunk_candidates_evaluated_total",
		Help: "Candidates run through the decision pipeline",
	})

	PipelineSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_pipeline_skips_total",
		Help: "Candidates skipped mid-pipeline, by normalized reason",
	}, []string{"reason"})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_decisions_total",
		Help: "Final combined decisions by action",
	}, []string{"action"})

	StrategySignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_strategy_signals_total",
		Help: "Signals emitted by each strategy variant",
	}, []string{"strategy", "action"})

	RiskBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solfunk_risk_blocks_total",
		Help: "Candidates blocked by the risk manager",
	})

	LLMValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_llm_validations_total",
		Help: "LLM validator outcomes (approved, rejected, degraded_approve, degraded_reject)",
	}, []string{"outcome"})
)

// Execution metrics
var (
	SwapsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_swaps_total",
		Help: "Swap executions by kind (single, round_trip, multi_input) and outcome",
	}, []string{"kind", "outcome"})

	DryRunProbes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solfunk_dry_run_probes_total",
		Help: "Dry-run quote probes executed",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solfunk_open_positions",
		Help: "Number of non-zero token positions",
	})

	PositionExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_position_exits_total",
		Help: "Position exits by reason",
	}, []string{"reason"})

	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solfunk_rate_limit_rejections_total",
		Help: "Swaps rejected by the sliding one-minute window",
	})
)

// Learner metrics
var (
	TradesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solfunk_learner_trades_recorded_total",
		Help: "Closed trades recorded by the adaptive learner",
	})

	ExplorationRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solfunk_learner_exploration_rate",
		Help: "Current exploration rate of the adaptive learner",
	})
)

// Redis history cache metrics
var (
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_redis_operations_total",
		Help: "Redis operations issued by the history cache, by command",
	}, []string{"command"})

	RedisCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solfunk_redis_cache_hit_rate",
		Help: "Hit rate of the Redis history cache since start",
	})
)

// RecordRedisOperation counts one Redis command
func RecordRedisOperation(command string) {
	RedisOperations.WithLabelValues(command).Inc()
}

// Circuit breaker metrics
var (
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solfunk_circuit_breaker_state",
		Help: "Circuit breaker state by service (0=closed, 1=half-open, 2=open)",
	}, []string{"service"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_circuit_breaker_trips_total",
		Help: "Circuit breaker open transitions by service",
	}, []string{"service"})
)

// Status API metrics
var (
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solfunk_api_requests_total",
		Help: "Status API requests by method, path and status code",
	}, []string{"method", "path", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "solfunk_api_request_duration_ms",
		Help:    "Status API request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"method", "path"})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solfunk_ws_clients",
		Help: "Connected dashboard WebSocket clients",
	})
)

// RecordAPIRequest records one status API request
func RecordAPIRequest(method, path, status string, durationMS float64) {
	APIRequests.WithLabelValues(method, path, status).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(durationMS)
}
