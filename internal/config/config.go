package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	RPC        RPCConfig        `mapstructure:"rpc"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Validation ValidationConfig `mapstructure:"validation"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Learner    LearnerConfig    `mapstructure:"learner"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Prices     PricesConfig     `mapstructure:"prices"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Trading    TradingConfig    `mapstructure:"trading"`
	State      StateConfig      `mapstructure:"state"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// RPCConfig contains chain RPC settings and the daily call budget
type RPCConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	WSEndpoint      string `mapstructure:"ws_endpoint"`
	Commitment      string `mapstructure:"commitment"` // processed, confirmed, finalized
	DailyCallBudget int64  `mapstructure:"daily_call_budget"`
	MaxRolloverBank int64  `mapstructure:"max_rollover_bank"`
	TimeoutMS       int    `mapstructure:"timeout_ms"`
}

// AggregatorConfig contains swap aggregator settings
type AggregatorConfig struct {
	BaseURL            string   `mapstructure:"base_url"`
	FallbackHosts      []string `mapstructure:"fallback_hosts"`
	SlippageBps        int      `mapstructure:"slippage_bps"`
	MaxPriceImpactPct  float64  `mapstructure:"max_price_impact_pct"`
	MinBalanceSOL      float64  `mapstructure:"min_balance_sol"`
	MaxTxPerMinute     int      `mapstructure:"max_tx_per_minute"`
	MaxRetries         int      `mapstructure:"max_retries"`
	MinRoundTripProfit float64  `mapstructure:"min_round_trip_profit_pct"`
	TimeoutMS          int      `mapstructure:"timeout_ms"`
}

// DiscoveryConfig contains token discovery settings
type DiscoveryConfig struct {
	BaseURL            string   `mapstructure:"base_url"`
	Chain              string   `mapstructure:"chain"`
	DexWhitelist       []string `mapstructure:"dex_whitelist"`
	MinLiquidityUSD    float64  `mapstructure:"min_liquidity_usd"`
	MinVolume24hUSD    float64  `mapstructure:"min_volume_24h_usd"`
	MaxChange24hPct    float64  `mapstructure:"max_change_24h_pct"`
	MinRVOL            float64  `mapstructure:"min_rvol"`
	MaxCandidates      int      `mapstructure:"max_candidates"`
	SourceTimeoutMS    int      `mapstructure:"source_timeout_ms"`
	ScanIntervalSec    int      `mapstructure:"scan_interval_sec"`
	SeenTTLMinutes     int      `mapstructure:"seen_ttl_minutes"`
	WhitelistAddresses []string `mapstructure:"whitelist_addresses"`
}

// ValidationConfig contains base validator settings
type ValidationConfig struct {
	RugCheckURL     string  `mapstructure:"rugcheck_url"`
	MaxRugScore     float64 `mapstructure:"max_rug_score"`
	MinLiquidityUSD float64 `mapstructure:"min_liquidity_usd"`
	MinVolumeUSD    float64 `mapstructure:"min_volume_usd"`
	WhitelistFile   string  `mapstructure:"whitelist_file"`
	CacheTTLSec     int     `mapstructure:"cache_ttl_sec"`
	EnableTechnical bool    `mapstructure:"enable_technical"`
	Skip            bool    `mapstructure:"skip"`
}

// StrategiesConfig contains strategy ensemble settings
type StrategiesConfig struct {
	Enabled           []string           `mapstructure:"enabled"`
	Mode              string             `mapstructure:"mode"` // ensemble, consensus, best, conservative
	MinConfidence     float64            `mapstructure:"min_confidence"`
	Weights           map[string]float64 `mapstructure:"weights"`
	AllowHoldBuys     bool               `mapstructure:"allow_hold_buys"`
	MinHoldConfidence float64            `mapstructure:"min_hold_confidence"`
}

// RiskConfig contains risk management settings
type RiskConfig struct {
	MaxPositionPct   float64 `mapstructure:"max_position_pct"`  // 30.0 = 30% of capital
	MaxDoublings     int     `mapstructure:"max_doublings"`     // 3
	MaxDrawdownPct   float64 `mapstructure:"max_drawdown_pct"`  // -10.0
	RiskAppetite     float64 `mapstructure:"risk_appetite"`     // 0..1 scaling on sizes
	BlacklistOnBlock bool    `mapstructure:"blacklist_on_block"`
}

// LearnerConfig contains adaptive learner settings
type LearnerConfig struct {
	StateFile           string  `mapstructure:"state_file"`
	BaseExplorationRate float64 `mapstructure:"base_exploration_rate"` // 0.15
	HistoryDays         int     `mapstructure:"history_days"`          // 14
}

// LLMConfig contains LLM gateway settings
type LLMConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Endpoint      string  `mapstructure:"endpoint"`       // "http://localhost:8080/v1/chat/completions"
	PrimaryModel  string  `mapstructure:"primary_model"`  //
	FallbackModel string  `mapstructure:"fallback_model"` //
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	TimeoutMS     int     `mapstructure:"timeout_ms"`
	MaxRetries    int     `mapstructure:"max_retries"`
}

// PricesConfig contains price source settings
type PricesConfig struct {
	DexScreenerURL   string `mapstructure:"dexscreener_url"`
	HistoryURL       string `mapstructure:"history_url"`
	HistoryCacheTTL  int    `mapstructure:"history_cache_ttl_sec"` // 1800
	LookupTimeoutMS  int    `mapstructure:"lookup_timeout_ms"`     // 5000
	SnapshotFile     string `mapstructure:"snapshot_file"`
	HistoryMinGapSec int    `mapstructure:"history_min_gap_sec"` // 2
}

// RedisConfig contains Redis settings (optional price-history cache layer)
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// AlertsConfig contains notification sink settings
type AlertsConfig struct {
	TelegramEnabled bool   `mapstructure:"telegram_enabled"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`
	MinSeverity     string `mapstructure:"min_severity"`
}

// APIConfig contains the read-only status API settings
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// TradingConfig contains execution and position lifecycle settings
type TradingConfig struct {
	Live              bool    `mapstructure:"live"`
	AmountSOL         float64 `mapstructure:"amount_sol"`
	MinTradeSOL       float64 `mapstructure:"min_trade_sol"`
	MaxTradeSOL       float64 `mapstructure:"max_trade_sol"`
	AutoTakeProfit    bool    `mapstructure:"auto_take_profit"`
	TakeProfitMinPct  float64 `mapstructure:"take_profit_min_pct"` // 2.0
	TPIntervalMS      int     `mapstructure:"tp_interval_ms"`
	AutoStopLoss      bool    `mapstructure:"auto_stop_loss"`
	StopLossPct       float64 `mapstructure:"stop_loss_pct"` // 8.0
	SLIntervalMS      int     `mapstructure:"sl_interval_ms"`
	EnableAIExits     bool    `mapstructure:"enable_ai_exits"`
	MultiInput        bool    `mapstructure:"multi_input"`
	RoundTrip         bool    `mapstructure:"round_trip"`
	TargetMultiplier  float64 `mapstructure:"target_multiplier"` // stop when balance reaches N x baseline
	DryRunReportFile  string  `mapstructure:"dry_run_report_file"`
	StatusIntervalMin int     `mapstructure:"status_interval_min"`
}

// StateConfig locates the persisted JSON state files
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("SOLFUNK")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "solfunk")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// RPC defaults
	v.SetDefault("rpc.endpoint", "https://api.mainnet-beta.solana.com")
	v.SetDefault("rpc.ws_endpoint", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("rpc.commitment", "processed")
	v.SetDefault("rpc.daily_call_budget", 2500000)
	v.SetDefault("rpc.max_rollover_bank", 5000000)
	v.SetDefault("rpc.timeout_ms", 10000)

	// Aggregator defaults
	v.SetDefault("aggregator.base_url", "https://api.jup.ag")
	v.SetDefault("aggregator.fallback_hosts", []string{})
	v.SetDefault("aggregator.slippage_bps", 100)
	v.SetDefault("aggregator.max_price_impact_pct", 5.0)
	v.SetDefault("aggregator.min_balance_sol", 0.05)
	v.SetDefault("aggregator.max_tx_per_minute", 6)
	v.SetDefault("aggregator.max_retries", 3)
	// Slightly negative so dry-run previews tolerate fee drag while live
	// callers override with a real profit floor.
	v.SetDefault("aggregator.min_round_trip_profit_pct", -1.0)
	v.SetDefault("aggregator.timeout_ms", 10000)

	// Discovery defaults
	v.SetDefault("discovery.base_url", "https://api.dexscreener.com")
	v.SetDefault("discovery.chain", "solana")
	v.SetDefault("discovery.dex_whitelist", []string{"raydium", "orca", "meteora"})
	v.SetDefault("discovery.min_liquidity_usd", 50000.0)
	v.SetDefault("discovery.min_volume_24h_usd", 25000.0)
	v.SetDefault("discovery.max_change_24h_pct", 50.0)
	v.SetDefault("discovery.min_rvol", 1.5)
	v.SetDefault("discovery.max_candidates", 100)
	v.SetDefault("discovery.source_timeout_ms", 5000)
	v.SetDefault("discovery.scan_interval_sec", 30)
	v.SetDefault("discovery.seen_ttl_minutes", 15)

	// Validation defaults
	v.SetDefault("validation.rugcheck_url", "https://api.rugcheck.xyz")
	v.SetDefault("validation.max_rug_score", 400.0)
	v.SetDefault("validation.min_liquidity_usd", 50000.0)
	v.SetDefault("validation.min_volume_usd", 25000.0)
	v.SetDefault("validation.whitelist_file", "configs/whitelist.yaml")
	v.SetDefault("validation.cache_ttl_sec", 300)
	v.SetDefault("validation.enable_technical", false)
	v.SetDefault("validation.skip", false)

	// Strategy defaults
	v.SetDefault("strategies.enabled", []string{"emperor", "dca", "antimartingale", "reversal", "candlestick"})
	v.SetDefault("strategies.mode", "ensemble")
	v.SetDefault("strategies.min_confidence", 0.6)
	v.SetDefault("strategies.allow_hold_buys", false)
	v.SetDefault("strategies.min_hold_confidence", 0.75)

	// Risk defaults
	v.SetDefault("risk.max_position_pct", 30.0)
	v.SetDefault("risk.max_doublings", 3)
	v.SetDefault("risk.max_drawdown_pct", -10.0)
	v.SetDefault("risk.risk_appetite", 0.5)
	v.SetDefault("risk.blacklist_on_block", false)

	// Learner defaults
	v.SetDefault("learner.state_file", "state/learner.json")
	v.SetDefault("learner.base_exploration_rate", 0.15)
	v.SetDefault("learner.history_days", 14)

	// LLM defaults
	v.SetDefault("llm.enabled", true)
	v.SetDefault("llm.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.primary_model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.fallback_model", "gpt-4-turbo")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.timeout_ms", 30000)
	v.SetDefault("llm.max_retries", 2)

	// Price source defaults
	v.SetDefault("prices.dexscreener_url", "https://api.dexscreener.com")
	v.SetDefault("prices.history_url", "https://public-api.birdeye.so")
	v.SetDefault("prices.history_cache_ttl_sec", 1800)
	v.SetDefault("prices.lookup_timeout_ms", 5000)
	v.SetDefault("prices.snapshot_file", "state/price_cache.json")
	v.SetDefault("prices.history_min_gap_sec", 2)

	// Redis defaults (empty addr disables the layer)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)

	// Alerts defaults
	v.SetDefault("alerts.telegram_enabled", false)
	v.SetDefault("alerts.telegram_chat_id", 0)
	v.SetDefault("alerts.min_severity", "info")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Trading defaults
	v.SetDefault("trading.live", false)
	v.SetDefault("trading.amount_sol", 0.05)
	v.SetDefault("trading.min_trade_sol", 0.01)
	v.SetDefault("trading.max_trade_sol", 0.5)
	v.SetDefault("trading.auto_take_profit", true)
	v.SetDefault("trading.take_profit_min_pct", 2.0)
	v.SetDefault("trading.tp_interval_ms", 20000)
	v.SetDefault("trading.auto_stop_loss", true)
	v.SetDefault("trading.stop_loss_pct", 8.0)
	v.SetDefault("trading.sl_interval_ms", 30000)
	v.SetDefault("trading.enable_ai_exits", true)
	v.SetDefault("trading.multi_input", false)
	v.SetDefault("trading.round_trip", false)
	v.SetDefault("trading.target_multiplier", 0.0)
	v.SetDefault("trading.dry_run_report_file", "state/dry_run.csv")
	v.SetDefault("trading.status_interval_min", 30)

	// State defaults
	v.SetDefault("state.dir", "state")
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("rpc.endpoint is required")
	}
	if c.RPC.DailyCallBudget <= 0 {
		return fmt.Errorf("rpc.daily_call_budget must be positive, got %d", c.RPC.DailyCallBudget)
	}
	if c.RPC.MaxRolloverBank < 0 {
		return fmt.Errorf("rpc.max_rollover_bank must be non-negative, got %d", c.RPC.MaxRolloverBank)
	}
	switch c.RPC.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("rpc.commitment must be processed, confirmed or finalized, got %q", c.RPC.Commitment)
	}

	if c.Aggregator.BaseURL == "" {
		return fmt.Errorf("aggregator.base_url is required")
	}
	if c.Aggregator.SlippageBps <= 0 || c.Aggregator.SlippageBps > 10000 {
		return fmt.Errorf("aggregator.slippage_bps must be in (0, 10000], got %d", c.Aggregator.SlippageBps)
	}
	if c.Aggregator.MaxTxPerMinute <= 0 {
		return fmt.Errorf("aggregator.max_tx_per_minute must be positive, got %d", c.Aggregator.MaxTxPerMinute)
	}

	if c.Discovery.MinRVOL < 0 {
		return fmt.Errorf("discovery.min_rvol must be non-negative, got %f", c.Discovery.MinRVOL)
	}
	if len(c.Discovery.DexWhitelist) == 0 {
		return fmt.Errorf("discovery.dex_whitelist must not be empty")
	}

	switch c.Strategies.Mode {
	case "ensemble", "consensus", "best", "conservative":
	default:
		return fmt.Errorf("strategies.mode must be ensemble, consensus, best or conservative, got %q", c.Strategies.Mode)
	}
	if c.Strategies.MinConfidence < 0 || c.Strategies.MinConfidence > 1 {
		return fmt.Errorf("strategies.min_confidence must be in [0,1], got %f", c.Strategies.MinConfidence)
	}

	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 100 {
		return fmt.Errorf("risk.max_position_pct must be in (0,100], got %f", c.Risk.MaxPositionPct)
	}
	if c.Risk.MaxDoublings < 0 {
		return fmt.Errorf("risk.max_doublings must be non-negative, got %d", c.Risk.MaxDoublings)
	}

	if c.Trading.TakeProfitMinPct < 0 {
		return fmt.Errorf("trading.take_profit_min_pct must be non-negative, got %f", c.Trading.TakeProfitMinPct)
	}
	if c.Trading.StopLossPct <= 0 {
		return fmt.Errorf("trading.stop_loss_pct must be positive, got %f", c.Trading.StopLossPct)
	}
	if c.Trading.MinTradeSOL > c.Trading.MaxTradeSOL {
		return fmt.Errorf("trading.min_trade_sol %f exceeds trading.max_trade_sol %f", c.Trading.MinTradeSOL, c.Trading.MaxTradeSOL)
	}

	return nil
}

// RPCTimeout returns the RPC timeout as a duration
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPC.TimeoutMS) * time.Millisecond
}

// LLMTimeout returns the LLM request timeout as a duration
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutMS) * time.Millisecond
}

// ScanInterval returns the orchestrator scan interval
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Discovery.ScanIntervalSec) * time.Second
}

// SeenTTL returns how long an analysed token stays out of the pipeline
func (c *Config) SeenTTL() time.Duration {
	return time.Duration(c.Discovery.SeenTTLMinutes) * time.Minute
}

// TPInterval returns the take-profit sweep interval
func (c *Config) TPInterval() time.Duration {
	return time.Duration(c.Trading.TPIntervalMS) * time.Millisecond
}

// SLInterval returns the stop-loss sweep interval
func (c *Config) SLInterval() time.Duration {
	return time.Duration(c.Trading.SLIntervalMS) * time.Millisecond
}
