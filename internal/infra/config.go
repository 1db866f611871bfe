package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tradeguard/internal/domain"
)

// Config holds every process-wide setting. It is loaded once at startup,
// validated, and never mutated afterwards; components receive it by
// pointer and treat it as read-only.
type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Env         string `yaml:"env"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"app"`

	Trading struct {
		Symbols          []string        `yaml:"symbols"`
		TradeAmount      decimal.Decimal `yaml:"trade_amount"`
		MaxTradeAmount   decimal.Decimal `yaml:"max_trade_amount"`
		CycleIntervalSec int             `yaml:"cycle_interval_sec"`
		CycleTimeoutSec  int             `yaml:"cycle_timeout_sec"`
	} `yaml:"trading"`

	Risk struct {
		MaxConsecutiveTrades int     `yaml:"max_consecutive_trades"`
		RiskThreshold        float64 `yaml:"risk_threshold"`
		BuyThreshold         float64 `yaml:"buy_threshold"`
		SellThreshold        float64 `yaml:"sell_threshold"`
	} `yaml:"risk"`

	Retry struct {
		BaseDelayMS int `yaml:"base_delay_ms"`
		MaxDelayMS  int `yaml:"max_delay_ms"`
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"retry"`

	Reconcile struct {
		IntervalSec int `yaml:"interval_sec"`
		LookbackMin int `yaml:"lookback_min"`
		MaxPasses   int `yaml:"max_passes"`
	} `yaml:"reconcile"`

	Sentiment struct {
		BaseURL    string `yaml:"base_url"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"sentiment"`

	Bybit struct {
		RestURL      string `yaml:"rest_url"`
		WSURL        string `yaml:"ws_url"`
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RecvWindowMS int    `yaml:"recv_window_ms"`
		Category     string `yaml:"category"`
		WindowSize   int    `yaml:"vol_window_size"`
	} `yaml:"bybit"`

	Solana struct {
		RPCURL     string `yaml:"rpc_url"`
		Commitment string `yaml:"commitment"` // processed|confirmed|finalized
		WalletKey  string `yaml:"-"`          // env only, never on disk
		Lookback   int    `yaml:"verify_lookback"`
	} `yaml:"solana"`

	Operator struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"operator"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads the YAML file, overlays environment variables for
// secrets, and validates the result. Any validation failure is fatal: the
// process must not begin trading on a broken config.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overlays secrets and endpoints from the environment.
// Credentials are never required to live in the YAML file.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("TRADEGUARD_BYBIT_KEY"); key != "" {
		cfg.Bybit.APIKey = key
	}
	if secret := os.Getenv("TRADEGUARD_BYBIT_SECRET"); secret != "" {
		cfg.Bybit.APISecret = secret
	}
	if wallet := os.Getenv("TRADEGUARD_SOLANA_WALLET"); wallet != "" {
		cfg.Solana.WalletKey = wallet
	}
	if rpcURL := os.Getenv("TRADEGUARD_SOLANA_RPC"); rpcURL != "" {
		cfg.Solana.RPCURL = rpcURL
	}
	if url := os.Getenv("TRADEGUARD_OPERATOR_WEBHOOK"); url != "" {
		cfg.Operator.WebhookURL = url
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = ":9091"
	}
	if cfg.Trading.CycleIntervalSec <= 0 {
		cfg.Trading.CycleIntervalSec = 60
	}
	if cfg.Trading.CycleTimeoutSec <= 0 {
		cfg.Trading.CycleTimeoutSec = 45
	}
	if cfg.Retry.BaseDelayMS <= 0 {
		cfg.Retry.BaseDelayMS = 500
	}
	if cfg.Retry.MaxDelayMS <= 0 {
		cfg.Retry.MaxDelayMS = 10_000
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Reconcile.IntervalSec <= 0 {
		cfg.Reconcile.IntervalSec = 300
	}
	if cfg.Reconcile.LookbackMin <= 0 {
		cfg.Reconcile.LookbackMin = 60
	}
	if cfg.Reconcile.MaxPasses <= 0 {
		cfg.Reconcile.MaxPasses = 10
	}
	if cfg.Sentiment.TimeoutSec <= 0 {
		cfg.Sentiment.TimeoutSec = 10
	}
	if cfg.Bybit.RecvWindowMS <= 0 {
		cfg.Bybit.RecvWindowMS = 5000
	}
	if cfg.Bybit.Category == "" {
		cfg.Bybit.Category = "linear"
	}
	if cfg.Bybit.WindowSize <= 0 {
		cfg.Bybit.WindowSize = 120
	}
	if cfg.Solana.Commitment == "" {
		cfg.Solana.Commitment = "confirmed"
	}
	if cfg.Solana.Lookback <= 0 {
		cfg.Solana.Lookback = 200
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "data/journal.db"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return &domain.ConfigError{Field: "trading.symbols", Err: errors.New("at least one symbol is required")}
	}
	if !c.Trading.TradeAmount.IsPositive() {
		return &domain.ConfigError{Field: "trading.trade_amount", Err: errors.New("must be positive")}
	}
	if !c.Trading.MaxTradeAmount.IsPositive() {
		return &domain.ConfigError{Field: "trading.max_trade_amount", Err: errors.New("must be positive")}
	}
	if c.Risk.MaxConsecutiveTrades <= 0 {
		return &domain.ConfigError{Field: "risk.max_consecutive_trades", Err: errors.New("must be positive")}
	}
	if c.Risk.BuyThreshold <= c.Risk.SellThreshold {
		return &domain.ConfigError{Field: "risk.buy_threshold", Err: errors.New("must be above sell_threshold")}
	}
	if c.Risk.BuyThreshold > 1 || c.Risk.SellThreshold < 0 {
		return &domain.ConfigError{Field: "risk", Err: errors.New("thresholds must stay within [0,1]")}
	}
	if c.Sentiment.BaseURL == "" || !strings.HasPrefix(c.Sentiment.BaseURL, "http") {
		return &domain.ConfigError{Field: "sentiment.base_url", Err: fmt.Errorf("invalid URL: %q", c.Sentiment.BaseURL)}
	}
	if c.Bybit.RestURL == "" || !strings.HasPrefix(c.Bybit.RestURL, "http") {
		return &domain.ConfigError{Field: "bybit.rest_url", Err: fmt.Errorf("invalid URL: %q", c.Bybit.RestURL)}
	}
	if c.Bybit.WSURL != "" && !strings.HasPrefix(c.Bybit.WSURL, "ws") {
		return &domain.ConfigError{Field: "bybit.ws_url", Err: fmt.Errorf("invalid URL: %q", c.Bybit.WSURL)}
	}
	if c.Bybit.APIKey == "" || c.Bybit.APISecret == "" {
		return &domain.ConfigError{Field: "bybit.api_key", Err: errors.New("missing exchange credentials")}
	}
	if c.Solana.RPCURL == "" {
		return &domain.ConfigError{Field: "solana.rpc_url", Err: errors.New("missing ledger RPC endpoint")}
	}
	if c.Solana.WalletKey == "" {
		return &domain.ConfigError{Field: "solana.wallet", Err: errors.New("TRADEGUARD_SOLANA_WALLET not set")}
	}
	return nil
}
