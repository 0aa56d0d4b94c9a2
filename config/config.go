// Package config loads the versioned tradeguard configuration. Files are YAML
// with a JSON fallback; secrets come from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rustyeddy/tradeguard/breaker"
	"github.com/rustyeddy/tradeguard/broker/binance"
	"github.com/rustyeddy/tradeguard/broker/sim"
	"github.com/rustyeddy/tradeguard/ensemble"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/journal/postgres"
	"github.com/rustyeddy/tradeguard/logging"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pipeline"
	"github.com/rustyeddy/tradeguard/ratelimit"
	"github.com/rustyeddy/tradeguard/regime"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/strategy"
	"github.com/rustyeddy/tradeguard/telemetry"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config schema written by Default.
const CurrentVersion = 1

const (
	ModePaper = "paper"
	ModeLive  = "live"

	FeedCSV     = "csv"
	FeedBinance = "binance"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Environment variables holding secrets.
const (
	EnvBinanceKey    = "BINANCE_API_KEY"
	EnvBinanceSecret = "BINANCE_SECRET_KEY"
	EnvPostgresDSN   = "TRADEGUARD_PG_DSN"
	EnvInfluxToken   = "INFLUX_TOKEN"
)

// Config is the complete, versioned parameter set.
type Config struct {
	Version    int              `json:"version" yaml:"version"`
	Mode       string           `json:"mode" yaml:"mode"`
	Account    AccountConfig    `json:"account" yaml:"account"`
	Pipeline   PipelineConfig   `json:"pipeline" yaml:"pipeline"`
	Feed       FeedConfig       `json:"feed" yaml:"feed"`
	Regime     regime.Config    `json:"regime" yaml:"regime"`
	Strategies []StrategyConfig `json:"strategies" yaml:"strategies"`
	Ensemble   EnsembleConfig   `json:"ensemble" yaml:"ensemble"`
	Risk       RiskConfig       `json:"risk" yaml:"risk"`
	Breakers   BreakerConfig    `json:"breakers" yaml:"breakers"`
	Execution  ExecutionConfig  `json:"execution" yaml:"execution"`
	RateLimit  RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
	Sim        SimConfig        `json:"sim" yaml:"sim"`
	Binance    BinanceConfig    `json:"binance" yaml:"binance"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// AccountConfig seeds a fresh portfolio. It is ignored once state has been
// persisted.
type AccountConfig struct {
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
}

type PipelineConfig struct {
	Symbols     []string `json:"symbols" yaml:"symbols"`
	Timeframe   string   `json:"timeframe" yaml:"timeframe"`
	WindowSize  int      `json:"window_size" yaml:"window_size"`
	Concurrency int      `json:"concurrency" yaml:"concurrency"`
	Interval    Duration `json:"interval" yaml:"interval"`
	StrategyID  string   `json:"strategy_id" yaml:"strategy_id"`
}

func (p PipelineConfig) Pipeline() pipeline.Config {
	return pipeline.Config{
		Symbols:     slices.Clone(p.Symbols),
		Timeframe:   p.Timeframe,
		WindowSize:  p.WindowSize,
		Concurrency: p.Concurrency,
		Interval:    p.Interval.Std(),
		StrategyID:  p.StrategyID,
	}
}

// FeedConfig selects where closed bars come from. CSV replays
// <dir>/<SYMBOL>.csv; binance polls closed klines.
type FeedConfig struct {
	Source     string `json:"source" yaml:"source"`
	Dir        string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Warmup     int    `json:"warmup" yaml:"warmup"`
	KlineLimit int    `json:"kline_limit" yaml:"kline_limit"`
}

type StrategyConfig struct {
	Name    string          `json:"name" yaml:"name"`
	Enabled bool            `json:"enabled" yaml:"enabled"`
	Params  strategy.Params `json:"params,omitempty" yaml:"params,omitempty"`
}

type EnsembleConfig struct {
	ensemble.Config `yaml:",inline"`
	// Affinities override the built-in regime affinity per strategy.
	Affinities map[string]strategy.Affinity `json:"affinities,omitempty" yaml:"affinities,omitempty"`
}

type RiskConfig struct {
	ConfidenceThreshold float64  `json:"confidence_threshold" yaml:"confidence_threshold"`
	MaxOpenPositions    int      `json:"max_open_positions" yaml:"max_open_positions"`
	MaxDailyLossPct     float64  `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxDrawdownPct      float64  `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	LossCooldown        Duration `json:"loss_cooldown" yaml:"loss_cooldown"`
	KellyCap            float64  `json:"kelly_cap" yaml:"kelly_cap"`
	KellyLookback       int      `json:"kelly_lookback" yaml:"kelly_lookback"`
	KellyMinTrades      int      `json:"kelly_min_trades" yaml:"kelly_min_trades"`
	MinFraction         float64  `json:"min_fraction" yaml:"min_fraction"`
	TargetVol           float64  `json:"target_vol" yaml:"target_vol"`
	VolScaleCap         float64  `json:"vol_scale_cap" yaml:"vol_scale_cap"`
	CorrThreshold       float64  `json:"corr_threshold" yaml:"corr_threshold"`
	CorrLookback        int      `json:"corr_lookback" yaml:"corr_lookback"`
	MinNotional         float64  `json:"min_notional" yaml:"min_notional"`
	ATRPeriod           int      `json:"atr_period" yaml:"atr_period"`
	StopATRMult         float64  `json:"stop_atr_mult" yaml:"stop_atr_mult"`
	FallbackStop        float64  `json:"fallback_stop" yaml:"fallback_stop"`
}

// Policy converts the section to a risk policy. Annualization follows the
// bar timeframe.
func (r RiskConfig) Policy(timeframe time.Duration) risk.Policy {
	return risk.Policy{
		ConfidenceThreshold: r.ConfidenceThreshold,
		MaxOpenPositions:    r.MaxOpenPositions,
		MaxDailyLossPct:     r.MaxDailyLossPct,
		MaxDrawdownPct:      r.MaxDrawdownPct,
		LossCooldown:        r.LossCooldown.Std(),
		KellyCap:            r.KellyCap,
		KellyLookback:       r.KellyLookback,
		KellyMinTrades:      r.KellyMinTrades,
		MinFraction:         r.MinFraction,
		TargetVol:           r.TargetVol,
		VolScaleCap:         r.VolScaleCap,
		PeriodsPerYear:      market.PeriodsPerYear(timeframe),
		CorrThreshold:       r.CorrThreshold,
		CorrLookback:        r.CorrLookback,
		MinNotional:         r.MinNotional,
		ATRPeriod:           r.ATRPeriod,
		StopATRMult:         r.StopATRMult,
		FallbackStop:        r.FallbackStop,
	}
}

type BreakerConfig struct {
	AssetDropPct         float64  `json:"asset_drop_pct" yaml:"asset_drop_pct"`
	AssetLookback        int      `json:"asset_lookback" yaml:"asset_lookback"`
	AssetLockout         Duration `json:"asset_lockout" yaml:"asset_lockout"`
	PortfolioDrawdownPct float64  `json:"portfolio_drawdown_pct" yaml:"portfolio_drawdown_pct"`
	PortfolioLockout     Duration `json:"portfolio_lockout" yaml:"portfolio_lockout"`
	ConsecutiveLosses    int      `json:"consecutive_losses" yaml:"consecutive_losses"`
	ConsecutiveScope     string   `json:"consecutive_scope" yaml:"consecutive_scope"`
	ConsecutiveLockout   Duration `json:"consecutive_lockout" yaml:"consecutive_lockout"`
	FlashCrashPct        float64  `json:"flash_crash_pct" yaml:"flash_crash_pct"`
	FlashCrashLockout    Duration `json:"flash_crash_lockout" yaml:"flash_crash_lockout"`
}

func (b BreakerConfig) Breaker() breaker.Config {
	return breaker.Config{
		AssetDropPct:         b.AssetDropPct,
		AssetLookback:        b.AssetLookback,
		AssetLockout:         b.AssetLockout.Std(),
		PortfolioDrawdownPct: b.PortfolioDrawdownPct,
		PortfolioLockout:     b.PortfolioLockout.Std(),
		ConsecutiveLosses:    b.ConsecutiveLosses,
		ConsecutiveScope:     b.ConsecutiveScope,
		ConsecutiveLockout:   b.ConsecutiveLockout.Std(),
		FlashCrashPct:        b.FlashCrashPct,
		FlashCrashLockout:    b.FlashCrashLockout.Std(),
	}
}

type ExecutionConfig struct {
	MaxAttempts   int      `json:"max_attempts" yaml:"max_attempts"`
	BackoffMin    Duration `json:"backoff_min" yaml:"backoff_min"`
	BackoffMax    Duration `json:"backoff_max" yaml:"backoff_max"`
	BackoffFactor float64  `json:"backoff_factor" yaml:"backoff_factor"`
	Jitter        bool     `json:"jitter" yaml:"jitter"`
}

func (e ExecutionConfig) Execution() execution.Config {
	return execution.Config{
		MaxAttempts:   e.MaxAttempts,
		BackoffMin:    e.BackoffMin.Std(),
		BackoffMax:    e.BackoffMax.Std(),
		BackoffFactor: e.BackoffFactor,
		Jitter:        e.Jitter,
	}
}

type RateLimitConfig struct {
	MaxRequests    int      `json:"max_requests" yaml:"max_requests"`
	Window         Duration `json:"window" yaml:"window"`
	SafetyMargin   float64  `json:"safety_margin" yaml:"safety_margin"`
	Burst          int      `json:"burst" yaml:"burst"`
	AcquireTimeout Duration `json:"acquire_timeout" yaml:"acquire_timeout"`
}

func (r RateLimitConfig) RateLimit() ratelimit.Config {
	return ratelimit.Config{
		MaxRequests:    r.MaxRequests,
		Window:         r.Window.Std(),
		SafetyMargin:   r.SafetyMargin,
		Burst:          r.Burst,
		AcquireTimeout: r.AcquireTimeout.Std(),
	}
}

// SimConfig drives the paper exchange.
type SimConfig struct {
	SlippageBps float64 `json:"slippage_bps" yaml:"slippage_bps"`
	FeeBps      float64 `json:"fee_bps" yaml:"fee_bps"`
	LotStep     string  `json:"lot_step" yaml:"lot_step"`
}

func (s SimConfig) Sim() sim.Config {
	return sim.Config{SlippageBps: s.SlippageBps, FeeBps: s.FeeBps, LotStep: s.LotStep}
}

// BinanceConfig configures the live venue. Keys are never written to disk.
type BinanceConfig struct {
	Testnet    bool   `json:"testnet" yaml:"testnet"`
	LotStep    string `json:"lot_step" yaml:"lot_step"`
	QuoteAsset string `json:"quote_asset" yaml:"quote_asset"`
	APIKey     string `json:"-" yaml:"-"`
	SecretKey  string `json:"-" yaml:"-"`
}

func (b BinanceConfig) Binance() binance.Config {
	return binance.Config{
		APIKey:     b.APIKey,
		SecretKey:  b.SecretKey,
		Testnet:    b.Testnet,
		LotStep:    b.LotStep,
		QuoteAsset: b.QuoteAsset,
	}
}

// JournalConfig selects the durable store. TradesFile and EquityFile add a
// CSV copy of the trade log and equity curve when set.
type JournalConfig struct {
	Driver     string         `json:"driver" yaml:"driver"`
	DBPath     string         `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Postgres   PostgresConfig `json:"postgres" yaml:"postgres"`
	TradesFile string         `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string         `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
}

type PostgresConfig struct {
	Host     string            `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int               `json:"port,omitempty" yaml:"port,omitempty"`
	User     string            `json:"user,omitempty" yaml:"user,omitempty"`
	Database string            `json:"database,omitempty" yaml:"database,omitempty"`
	SSLMode  string            `json:"sslmode,omitempty" yaml:"sslmode,omitempty"`
	Params   map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Password string            `json:"-" yaml:"-"`
	DSN      string            `json:"-" yaml:"-"`
}

func (p PostgresConfig) Option() postgres.Option {
	return postgres.Option{
		Host:       p.Host,
		Port:       p.Port,
		User:       p.User,
		Password:   p.Password,
		Database:   p.Database,
		SSLMode:    p.SSLMode,
		Params:     p.Params,
		ConnString: p.DSN,
	}
}

type TelemetryConfig struct {
	Influx InfluxConfig `json:"influx" yaml:"influx"`
}

type InfluxConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	URL          string `json:"url,omitempty" yaml:"url,omitempty"`
	Organization string `json:"organization,omitempty" yaml:"organization,omitempty"`
	Bucket       string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Token        string `json:"-" yaml:"-"`
}

func (i InfluxConfig) Influx() telemetry.InfluxConfig {
	return telemetry.InfluxConfig{
		URL:          i.URL,
		Token:        i.Token,
		Organization: i.Organization,
		Bucket:       i.Bucket,
	}
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
	JSON       bool   `json:"json" yaml:"json"`
}

func (l LoggingConfig) Logging() logging.Config {
	return logging.Config{
		Level:      l.Level,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
		JSON:       l.JSON,
	}
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
// and validates it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Unset fields keep their defaults.
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// LoadEnv reads secrets from the environment after loading any dotenv files.
// Missing dotenv files are ignored; variables already set in the process win.
func (c *Config) LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	c.Binance.APIKey = os.Getenv(EnvBinanceKey)
	c.Binance.SecretKey = os.Getenv(EnvBinanceSecret)
	c.Journal.Postgres.DSN = os.Getenv(EnvPostgresDSN)
	c.Telemetry.Influx.Token = os.Getenv(EnvInfluxToken)
	return nil
}

// EnabledStrategies returns the strategies that take part in the vote.
func (c *Config) EnabledStrategies() []StrategyConfig {
	var out []StrategyConfig
	for _, s := range c.Strategies {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Timeframe is the parsed bar duration. It is only meaningful on a
// validated config.
func (c *Config) Timeframe() time.Duration {
	d, _ := market.ParseTimeframe(c.Pipeline.Timeframe)
	return d
}

// Validate checks every section. Secrets are checked by ValidateSecrets once
// the environment has been loaded.
func (c *Config) Validate() error {
	if c.Version < 1 {
		return fmt.Errorf("version must be at least 1")
	}
	if c.Version > CurrentVersion {
		return fmt.Errorf("version %d is newer than supported version %d", c.Version, CurrentVersion)
	}
	if c.Mode != ModePaper && c.Mode != ModeLive {
		return fmt.Errorf("mode must be %q or %q", ModePaper, ModeLive)
	}
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive")
	}

	if err := c.Pipeline.Pipeline().Validate(); err != nil {
		return err
	}
	if err := c.Regime.Validate(); err != nil {
		return err
	}
	if c.Pipeline.WindowSize < c.Regime.Window {
		return fmt.Errorf("pipeline.window_size must be at least regime.window (%d)", c.Regime.Window)
	}
	if err := c.validateFeed(); err != nil {
		return err
	}
	if err := c.validateStrategies(); err != nil {
		return err
	}
	if err := c.Ensemble.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Policy(c.Timeframe()).Validate(); err != nil {
		return err
	}
	if err := c.Breakers.Breaker().Validate(); err != nil {
		return err
	}
	if err := c.Execution.Execution().Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.RateLimit().Validate(); err != nil {
		return err
	}
	if c.Mode == ModePaper && c.Sim.LotStep == "" {
		return fmt.Errorf("sim.lot_step is required in paper mode")
	}
	if c.Mode == ModeLive && c.Binance.LotStep == "" {
		return fmt.Errorf("binance.lot_step is required in live mode")
	}
	return c.validateJournal()
}

func (c *Config) validateFeed() error {
	switch c.Feed.Source {
	case FeedCSV:
		if c.Feed.Dir == "" {
			return fmt.Errorf("feed.dir is required for the csv source")
		}
		if c.Mode == ModeLive {
			return fmt.Errorf("live mode needs the binance feed")
		}
	case FeedBinance:
		if c.Feed.KlineLimit < 1 || c.Feed.KlineLimit > 1000 {
			return fmt.Errorf("feed.kline_limit must be in [1,1000]")
		}
	default:
		return fmt.Errorf("feed.source must be %q or %q", FeedCSV, FeedBinance)
	}
	if c.Feed.Warmup < 1 || c.Feed.Warmup > c.Pipeline.WindowSize {
		return fmt.Errorf("feed.warmup must be in [1,pipeline.window_size]")
	}
	return nil
}

func (c *Config) validateStrategies() error {
	known := strategy.Names()
	seen := make(map[string]bool)
	for _, s := range c.Strategies {
		if !slices.Contains(known, s.Name) {
			return fmt.Errorf("unknown strategy %q (known: %s)", s.Name, strings.Join(known, ", "))
		}
		if seen[s.Name] {
			return fmt.Errorf("strategy %q listed twice", s.Name)
		}
		seen[s.Name] = true
	}
	enabled := len(c.EnabledStrategies())
	if enabled == 0 {
		return fmt.Errorf("at least one strategy must be enabled")
	}
	if c.Ensemble.Mode == ensemble.Absolute && enabled < c.Ensemble.MinAgree {
		return fmt.Errorf("ensemble.min_agree is %d but only %d strategies are enabled", c.Ensemble.MinAgree, enabled)
	}
	for name := range c.Ensemble.Affinities {
		if !seen[name] {
			return fmt.Errorf("ensemble.affinities names unconfigured strategy %q", name)
		}
	}
	return nil
}

func (c *Config) validateJournal() error {
	switch c.Journal.Driver {
	case DriverSQLite:
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal.db_path is required for sqlite")
		}
	case DriverPostgres:
	default:
		return fmt.Errorf("journal.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if (c.Journal.TradesFile == "") != (c.Journal.EquityFile == "") {
		return fmt.Errorf("journal trades_file and equity_file must be set together")
	}
	if c.Telemetry.Influx.Enabled && (c.Telemetry.Influx.URL == "" || c.Telemetry.Influx.Bucket == "") {
		return fmt.Errorf("telemetry.influx needs url and bucket when enabled")
	}
	return nil
}

// ValidateSecrets checks that the credentials the selected components need
// were found in the environment.
func (c *Config) ValidateSecrets() error {
	var missing []string
	if c.Mode == ModeLive || c.Feed.Source == FeedBinance {
		if c.Binance.APIKey == "" {
			missing = append(missing, EnvBinanceKey)
		}
		if c.Binance.SecretKey == "" {
			missing = append(missing, EnvBinanceSecret)
		}
	}
	if c.Telemetry.Influx.Enabled && c.Telemetry.Influx.Token == "" {
		missing = append(missing, EnvInfluxToken)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Default returns a paper-trading configuration with every documented default.
func Default() *Config {
	rp := risk.DefaultPolicy()
	bc := breaker.DefaultConfig()
	ec := execution.DefaultConfig()
	rl := ratelimit.DefaultConfig()
	sc := sim.DefaultConfig()
	pc := pipeline.DefaultConfig()

	return &Config{
		Version: CurrentVersion,
		Mode:    ModePaper,
		Account: AccountConfig{Currency: "USDT", Balance: 10000},
		Pipeline: PipelineConfig{
			Symbols:     []string{"BTCUSDT", "ETHUSDT"},
			Timeframe:   pc.Timeframe,
			WindowSize:  pc.WindowSize,
			Concurrency: pc.Concurrency,
			Interval:    Duration(pc.Interval),
			StrategyID:  pc.StrategyID,
		},
		Feed: FeedConfig{
			Source:     FeedCSV,
			Dir:        "./data",
			Warmup:     150,
			KlineLimit: 500,
		},
		Regime: regime.DefaultConfig(),
		Strategies: []StrategyConfig{
			{Name: "ema_trend", Enabled: true},
			{Name: "macd_momentum", Enabled: true},
			{Name: "rsi_reversion", Enabled: true},
			{Name: "bollinger_reversion", Enabled: true},
		},
		Ensemble: EnsembleConfig{Config: ensemble.DefaultConfig()},
		Risk: RiskConfig{
			ConfidenceThreshold: rp.ConfidenceThreshold,
			MaxOpenPositions:    rp.MaxOpenPositions,
			MaxDailyLossPct:     rp.MaxDailyLossPct,
			MaxDrawdownPct:      rp.MaxDrawdownPct,
			LossCooldown:        Duration(rp.LossCooldown),
			KellyCap:            rp.KellyCap,
			KellyLookback:       rp.KellyLookback,
			KellyMinTrades:      rp.KellyMinTrades,
			MinFraction:         rp.MinFraction,
			TargetVol:           rp.TargetVol,
			VolScaleCap:         rp.VolScaleCap,
			CorrThreshold:       rp.CorrThreshold,
			CorrLookback:        rp.CorrLookback,
			MinNotional:         rp.MinNotional,
			ATRPeriod:           rp.ATRPeriod,
			StopATRMult:         rp.StopATRMult,
			FallbackStop:        rp.FallbackStop,
		},
		Breakers: BreakerConfig{
			AssetDropPct:         bc.AssetDropPct,
			AssetLookback:        bc.AssetLookback,
			AssetLockout:         Duration(bc.AssetLockout),
			PortfolioDrawdownPct: bc.PortfolioDrawdownPct,
			PortfolioLockout:     Duration(bc.PortfolioLockout),
			ConsecutiveLosses:    bc.ConsecutiveLosses,
			ConsecutiveScope:     bc.ConsecutiveScope,
			ConsecutiveLockout:   Duration(bc.ConsecutiveLockout),
			FlashCrashPct:        bc.FlashCrashPct,
			FlashCrashLockout:    Duration(bc.FlashCrashLockout),
		},
		Execution: ExecutionConfig{
			MaxAttempts:   ec.MaxAttempts,
			BackoffMin:    Duration(ec.BackoffMin),
			BackoffMax:    Duration(ec.BackoffMax),
			BackoffFactor: ec.BackoffFactor,
			Jitter:        ec.Jitter,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:    rl.MaxRequests,
			Window:         Duration(rl.Window),
			SafetyMargin:   rl.SafetyMargin,
			Burst:          rl.Burst,
			AcquireTimeout: Duration(rl.AcquireTimeout),
		},
		Sim: SimConfig{SlippageBps: sc.SlippageBps, FeeBps: sc.FeeBps, LotStep: sc.LotStep},
		Binance: BinanceConfig{
			Testnet:    true,
			LotStep:    "0.00001",
			QuoteAsset: "USDT",
		},
		Journal: JournalConfig{
			Driver: DriverSQLite,
			DBPath: "./tradeguard.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}
