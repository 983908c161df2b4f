// Command solfunk runs the autonomous Solana trading agent.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/solfunk/internal/alerts"
	"github.com/ajitpratap0/solfunk/internal/api"
	"github.com/ajitpratap0/solfunk/internal/budget"
	"github.com/ajitpratap0/solfunk/internal/chain"
	"github.com/ajitpratap0/solfunk/internal/config"
	"github.com/ajitpratap0/solfunk/internal/discovery"
	"github.com/ajitpratap0/solfunk/internal/events"
	"github.com/ajitpratap0/solfunk/internal/learner"
	"github.com/ajitpratap0/solfunk/internal/ledger"
	"github.com/ajitpratap0/solfunk/internal/llm"
	"github.com/ajitpratap0/solfunk/internal/market"
	"github.com/ajitpratap0/solfunk/internal/metrics"
	"github.com/ajitpratap0/solfunk/internal/orchestrator"
	"github.com/ajitpratap0/solfunk/internal/positions"
	"github.com/ajitpratap0/solfunk/internal/risk"
	"github.com/ajitpratap0/solfunk/internal/strategy"
	"github.com/ajitpratap0/solfunk/internal/swap"
	"github.com/ajitpratap0/solfunk/internal/validator"
)

type flags struct {
	configPath string

	live        bool
	confirmLive bool
	hours       float64
	once        bool
	token       string

	amountSOL   float64
	slippageBps int
	minProfit   float64
	riskLevel   float64
	minTrade    float64
	maxTrade    float64

	strategyMode      string
	useStrategies     bool
	allowHoldBuys     bool
	minHoldConfidence float64

	autoTP       bool
	tpMinPct     float64
	tpIntervalMS int
	autoSL       bool
	slPct        float64
	slIntervalMS int

	multiInput   bool
	roundTrip    bool
	seenTTLMins  int
	targetMult   float64
	skipValidate bool
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configPath, "config", "", "path to config file (default ./configs/config.yaml)")

	flag.BoolVar(&f.live, "live", false, "disable dry-run and trade with real funds")
	flag.BoolVar(&f.confirmLive, "confirm-live", false, "second confirmation required for --live")
	flag.Float64Var(&f.hours, "hours", 0, "stop after N hours (0 runs until signalled)")
	flag.BoolVar(&f.once, "once", false, "run one scan cycle and exit")
	flag.StringVar(&f.token, "token", "", "evaluate a single mint and exit")

	flag.Float64Var(&f.amountSOL, "amount-sol", 0, "SOL per trade (overrides config)")
	flag.IntVar(&f.slippageBps, "slippage-bps", 0, "slippage tolerance in basis points")
	flag.Float64Var(&f.minProfit, "min-profit", 0, "round-trip net profit floor, percent")
	flag.Float64Var(&f.riskLevel, "risk", 0, "risk appetite 0..1")
	flag.Float64Var(&f.minTrade, "min-trade", 0, "minimum trade size in SOL")
	flag.Float64Var(&f.maxTrade, "max-trade", 0, "maximum trade size in SOL")

	flag.StringVar(&f.strategyMode, "strategy-mode", "", "combiner mode: ensemble, consensus, best, conservative")
	flag.BoolVar(&f.useStrategies, "use-strategies", true, "run the full strategy ensemble")
	flag.BoolVar(&f.allowHoldBuys, "allow-hold-buys", false, "convert confident HOLD signals into entries")
	flag.Float64Var(&f.minHoldConfidence, "min-hold-confidence", 0, "confidence floor for hold-buy conversion")

	flag.BoolVar(&f.autoTP, "auto-tp", true, "run the take-profit timer")
	flag.Float64Var(&f.tpMinPct, "tp-min-pct", 0, "minimum take-profit percent")
	flag.IntVar(&f.tpIntervalMS, "tp-interval-ms", 0, "take-profit sweep interval")
	flag.BoolVar(&f.autoSL, "auto-sl", true, "run the stop-loss timer")
	flag.Float64Var(&f.slPct, "sl-pct", 0, "stop-loss percent below entry")
	flag.IntVar(&f.slIntervalMS, "sl-interval-ms", 0, "stop-loss sweep interval")

	flag.BoolVar(&f.multiInput, "multi-input", false, "allow swaps from held non-stable tokens")
	flag.BoolVar(&f.roundTrip, "roundtrip", false, "preview and execute round trips instead of single legs")
	flag.IntVar(&f.seenTTLMins, "seen-ttl-mins", 0, "minutes a token stays out of the pipeline after analysis")
	flag.Float64Var(&f.targetMult, "target-mult", 0, "stop when balance reaches N x baseline")
	flag.BoolVar(&f.skipValidate, "skip-validate", false, "bypass the base validator")
	flag.Parse()
	return f
}

// apply folds CLI overrides onto the loaded config. Flags left at their
// zero value leave the config untouched.
func (f *flags) apply(cfg *config.Config) error {
	if f.live {
		if !f.confirmLive {
			return fmt.Errorf("--live requires --confirm-live")
		}
		cfg.Trading.Live = true
	}
	if f.amountSOL > 0 {
		cfg.Trading.AmountSOL = f.amountSOL
	}
	if f.slippageBps > 0 {
		cfg.Aggregator.SlippageBps = f.slippageBps
	}
	if f.minProfit != 0 {
		cfg.Aggregator.MinRoundTripProfit = f.minProfit
	}
	if f.riskLevel > 0 {
		cfg.Risk.RiskAppetite = f.riskLevel
	}
	if f.minTrade > 0 {
		cfg.Trading.MinTradeSOL = f.minTrade
	}
	if f.maxTrade > 0 {
		cfg.Trading.MaxTradeSOL = f.maxTrade
	}
	if f.strategyMode != "" {
		cfg.Strategies.Mode = f.strategyMode
	}
	if !f.useStrategies {
		// Single-strategy fallback: the emperor variant alone in best
		// mode, the closest thing to the plain momentum path.
		cfg.Strategies.Enabled = []string{strategy.NameEmperor}
		cfg.Strategies.Mode = "best"
	}
	if f.allowHoldBuys {
		cfg.Strategies.AllowHoldBuys = true
	}
	if f.minHoldConfidence > 0 {
		cfg.Strategies.MinHoldConfidence = f.minHoldConfidence
	}
	cfg.Trading.AutoTakeProfit = f.autoTP
	if f.tpMinPct > 0 {
		cfg.Trading.TakeProfitMinPct = f.tpMinPct
	}
	if f.tpIntervalMS > 0 {
		cfg.Trading.TPIntervalMS = f.tpIntervalMS
	}
	cfg.Trading.AutoStopLoss = f.autoSL
	if f.slPct > 0 {
		cfg.Trading.StopLossPct = f.slPct
	}
	if f.slIntervalMS > 0 {
		cfg.Trading.SLIntervalMS = f.slIntervalMS
	}
	if f.multiInput {
		cfg.Trading.MultiInput = true
	}
	if f.roundTrip {
		cfg.Trading.RoundTrip = true
	}
	if f.seenTTLMins > 0 {
		cfg.Discovery.SeenTTLMinutes = f.seenTTLMins
	}
	if f.targetMult > 0 {
		cfg.Trading.TargetMultiplier = f.targetMult
	}
	if f.skipValidate {
		cfg.Validation.Skip = true
	}
	return cfg.Validate()
}

func main() {
	os.Exit(run())
}

func run() int {
	f := parseFlags()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		log.Error().Err(err).Msg("Configuration failed to load")
		return 1
	}
	if err := f.apply(cfg); err != nil {
		log.Error().Err(err).Msg("Invalid flags")
		return 1
	}

	logFormat := "json"
	if cfg.App.Environment == "development" {
		logFormat = "console"
	}
	config.InitLogger(cfg.App.LogLevel, logFormat)
	logger := log.With().Str("app", cfg.App.Name).Logger()
	logger.Info().
		Str("version", cfg.App.Version).
		Bool("live", cfg.Trading.Live).
		Msg("Starting solfunk")
	if !cfg.Trading.Live {
		logger.Info().Msg("Dry-run mode: no transaction will be signed or sent")
	}

	ks := config.LoadKeyStore()
	defer ks.Scrub()

	walletKey, err := ks.SigningKey("startup")
	if err != nil {
		logger.Error().Err(err).Msg("No usable wallet key (set SOLFUNK_WALLET_PRIVATE_KEY)")
		return 1
	}
	owner := walletKey.PublicKey()
	logger.Info().Str("wallet", owner.String()).Msg("Wallet loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if f.hours > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(f.hours*float64(time.Hour)))
		defer cancel()
	}

	// Resource layer.
	gov, err := budget.New(statePath(cfg, "budget.json"), cfg.RPC.DailyCallBudget, cfg.RPC.MaxRolloverBank, logger)
	if err != nil {
		logger.Error().Err(err).Msg("RPC budget refused startup")
		return 1
	}
	defer func() {
		if err := gov.Close(); err != nil {
			logger.Warn().Err(err).Msg("Budget state not flushed")
		}
	}()

	commitment := solanarpc.CommitmentType(cfg.RPC.Commitment)
	chainClient := chain.NewClient(cfg.RPC.Endpoint, gov, commitment, logger)

	var mux *chain.Mux
	if ws, err := chain.ConnectWS(ctx, cfg.RPC.WSEndpoint); err != nil {
		logger.Warn().Err(err).Msg("WebSocket unavailable, running without chain subscriptions")
	} else {
		mux = chain.NewMux(ws, gov, logger)
		defer func() {
			mux.Close()
			ws.Close()
		}()
	}

	breakers := risk.NewBreakerSet(logger)

	lookupTimeout := time.Duration(cfg.Prices.LookupTimeoutMS) * time.Millisecond
	screener := market.NewDexScreener(cfg.Prices.DexScreenerURL, lookupTimeout, breakers.Get(risk.ServiceDexScreener), logger)
	priceCache := market.NewPriceCache(screener, cfg.Prices.SnapshotFile, logger)
	defer func() {
		if err := priceCache.SaveSnapshot(); err != nil {
			logger.Warn().Err(err).Msg("Price cache snapshot not saved")
		}
	}()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	birdeyeKey, _ := ks.GetSensitive(config.SecretBirdeyeKey, "history client")
	history := market.NewHistory(cfg.Prices.HistoryURL, birdeyeKey, lookupTimeout, redisClient, logger)

	book, err := ledger.New(ctx, chainClient, owner, statePath(cfg, "ledger.json"), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Balance ledger failed to initialise")
		return 1
	}
	defer func() {
		if err := book.Close(); err != nil {
			logger.Warn().Err(err).Msg("Ledger state not flushed")
		}
	}()

	store, err := positions.NewStore(chainClient, owner, statePath(cfg, "entry_prices.json"), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Position store failed to initialise")
		return 1
	}

	// Pipeline stages.
	agg := discovery.New(cfg.Discovery, screener, logger)

	var check *validator.Validator
	if !cfg.Validation.Skip {
		rug := validator.NewRugCheck(cfg.Validation.RugCheckURL, lookupTimeout, breakers.Get(risk.ServiceRugCheck), logger)
		check, err = validator.New(cfg.Validation, rug, screener, history, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Validator failed to initialise")
			return 1
		}
	}

	combiner := strategy.FromConfig(cfg.Strategies, logger)
	riskMgr := risk.NewManager(cfg.Risk, history, logger)

	learn := learner.New(cfg.Learner, logger)
	defer learn.Close()

	var entryGate *llm.Validator
	if cfg.LLM.Enabled {
		entryGate = buildEntryGate(cfg, ks, breakers, logger)
	}

	jupiter := swap.NewJupiter(cfg.Aggregator.BaseURL, cfg.Aggregator.FallbackHosts,
		time.Duration(cfg.Aggregator.TimeoutMS)*time.Millisecond, breakers.Get(risk.ServiceAggregator), logger)
	report := swap.NewDryRunReport(cfg.Trading.DryRunReportFile, logger)

	executor := swap.NewExecutor(swap.Deps{
		Aggregator: jupiter,
		Chain:      chainClient,
		Book:       book,
		Keys:       ks,
		Owner:      owner,
		Report:     report,
	}, cfg.Aggregator, cfg.Trading.Live, logger)

	// Notification sink and event bus.
	notify := buildAlerts(cfg, ks, logger)
	bus, err := events.NewBus(cfg.NATS, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Event bus unavailable, continuing without it")
	} else {
		defer bus.Close()
	}

	// The agent is wired after the position manager, but the exit hook
	// needs the agent; the closure resolves the cycle.
	var agent *orchestrator.Agent
	posman := swap.NewPositionManager(swap.ManagerDeps{
		Exec:     executor,
		Prices:   priceCache,
		Book:     store,
		Learn:    learn,
		Screener: screener,
		Patterns: learn,
		OnExit: func(ev swap.ExitEvent) {
			if agent != nil {
				agent.HandleExit(ev)
			}
		},
	}, cfg.Trading, logger)

	deps := orchestrator.Deps{
		Discovery:  agg,
		Strategies: combiner,
		Risk:       riskMgr,
		Learner:    learn,
		Exec:       executor,
		Positions:  store,
		Ledger:     book,
		Screener:   screener,
		PosMan:     posman,
		Budget:     gov,
		Alerts:     notify,
	}
	if check != nil {
		deps.Validator = check
	}
	if entryGate != nil {
		deps.Entry = entryGate
	}
	if mux != nil {
		deps.Subs = mux
	}
	if bus != nil {
		deps.Events = bus
	}

	// The status endpoint needs the agent and the agent needs the
	// hub; the closure defers the lookup until the agent exists.
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API, api.Deps{
			Status: statusFunc(func(ctx context.Context) api.Status {
				if agent == nil {
					return api.Status{}
				}
				return agent.Status(ctx)
			}),
			Positions: store,
			Budget:    gov,
			Learner:   learn,
		}, logger)
		deps.Hub = apiServer.Hub()
	}

	agent = orchestrator.New(cfg, deps, logger)

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Warn().Err(err).Msg("Metrics server failed to start")
			metricsServer = nil
		}
	}
	if apiServer != nil {
		if err := apiServer.Start(); err != nil {
			logger.Warn().Err(err).Msg("API server failed to start")
			apiServer = nil
		}
	}

	if err := agent.Initialize(ctx); err != nil {
		logger.Error().Err(err).Msg("Agent failed to initialise")
		return 1
	}

	exitCode := 0
	switch {
	case f.token != "":
		if err := agent.EvaluateToken(ctx, f.token); err != nil {
			logger.Error().Err(err).Str("mint", f.token).Msg("Forced evaluation failed")
		}
	case f.once:
		agent.ScanOnce(ctx)
	default:
		if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("Agent stopped with error")
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := agent.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Shutdown incomplete")
	}
	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("API server shutdown failed")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	logger.Info().Int("exit_code", exitCode).Msg("Stopped")
	return exitCode
}

// buildEntryGate assembles the LLM validator over the configured
// models with per-model circuit breakers. A missing API key disables
// the gate rather than failing startup.
func buildEntryGate(cfg *config.Config, ks *config.KeyStore, breakers *risk.BreakerSet, logger zerolog.Logger) *llm.Validator {
	apiKey, err := ks.GetSensitive(config.SecretLLMKey, "llm gate")
	if err != nil {
		logger.Warn().Msg("No LLM API key, entry gate runs on degradation rules only")
	}

	timeout := time.Duration(cfg.LLM.TimeoutMS) * time.Millisecond
	models := []string{cfg.LLM.PrimaryModel}
	if cfg.LLM.FallbackModel != "" && cfg.LLM.FallbackModel != cfg.LLM.PrimaryModel {
		models = append(models, cfg.LLM.FallbackModel)
	}
	clients := make([]*llm.Client, 0, len(models))
	for _, model := range models {
		clients = append(clients, llm.NewClient(llm.ClientConfig{
			Endpoint:    cfg.LLM.Endpoint,
			APIKey:      apiKey,
			Model:       model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     timeout,
		}, logger))
	}

	fallback, err := llm.NewFallbackClient(clients, func(model string) *gobreaker.CircuitBreaker {
		return breakers.Get("llm:" + model)
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("LLM fallback client failed to build, gate disabled")
		return nil
	}
	return llm.NewValidator(fallback, cfg.LLM.MaxRetries, logger)
}

// buildAlerts wires the notification sink: the log channel always, the
// Telegram channel when configured.
func buildAlerts(cfg *config.Config, ks *config.KeyStore, logger zerolog.Logger) *alerts.Manager {
	channels := []alerts.Alerter{alerts.NewLogAlerter(logger)}
	if cfg.Alerts.TelegramEnabled {
		token, err := ks.GetSensitive(config.SecretTelegramToken, "telegram alerter")
		if err != nil || token == "" {
			logger.Warn().Msg("Telegram enabled but no bot token, alerts go to the log only")
		} else if tg, err := alerts.NewTelegramAlerter(token, cfg.Alerts.TelegramChatID); err != nil {
			logger.Warn().Err(err).Msg("Telegram alerter failed to initialise")
		} else {
			channels = append(channels, tg)
		}
	}
	return alerts.NewManager(alerts.ParseSeverity(cfg.Alerts.MinSeverity), logger, channels...)
}

// statusFunc adapts a closure to the api.StatusSource interface.
type statusFunc func(ctx context.Context) api.Status

func (f statusFunc) Status(ctx context.Context) api.Status { return f(ctx) }

func statePath(cfg *config.Config, file string) string {
	dir := cfg.State.Dir
	if dir == "" {
		dir = "state"
	}
	return filepath.Join(dir, file)
}
