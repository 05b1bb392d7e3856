package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	WS        WSConfig        `yaml:"ws"`
	State     StateConfig     `yaml:"state"`
	Hedge     HedgeConfig     `yaml:"hedge"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	RecvWindowMS int           `yaml:"recv_window_ms"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type WSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// HedgeConfig parameterizes one run of the pair-hedge loop. All sizes are
// USD notionals; drop thresholds are percentages of the anchor price.
type HedgeConfig struct {
	SymbolLong          string        `yaml:"symbol_long"`
	SymbolShort         string        `yaml:"symbol_short"`
	USDPositionSize     float64       `yaml:"usd_position_size"`
	MaxUSDPosition      float64       `yaml:"max_usd_position"`
	TriggerDropPct      float64       `yaml:"trigger_drop_pct"`
	EnableScaleIn       bool          `yaml:"enable_scale_in"`
	ScaleInLegs         int           `yaml:"scale_in_legs"`
	ScaleInDropStep     float64       `yaml:"scale_in_drop_step"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	TickTimeout         time.Duration `yaml:"tick_timeout"`
	MinOrderNotionalUSD float64       `yaml:"min_order_notional_usd"`
	QtyDecimalsLong     *int          `yaml:"qty_decimals_long"`
	QtyDecimalsShort    *int          `yaml:"qty_decimals_short"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.bybit.com"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RecvWindowMS == 0 {
		cfg.REST.RecvWindowMS = 5000
	}
	if cfg.REST.MaxRetries == 0 {
		cfg.REST.MaxRetries = 5
	}
	if cfg.REST.RetryBackoff == 0 {
		cfg.REST.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://stream.bybit.com/v5/public/linear"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 20 * time.Second
	}
	if cfg.WS.StaleAfter == 0 {
		cfg.WS.StaleAfter = 10 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/bybit-hedge-bot.db"
	}
	if cfg.Hedge.PollInterval == 0 {
		cfg.Hedge.PollInterval = 30 * time.Second
	}
	if cfg.Hedge.TickTimeout == 0 {
		// One fully-backed-off order attempt can outlast a short poll
		// interval, so the tick budget is sized independently.
		cfg.Hedge.TickTimeout = 2 * time.Minute
		if cfg.Hedge.PollInterval > cfg.Hedge.TickTimeout {
			cfg.Hedge.TickTimeout = cfg.Hedge.PollInterval
		}
	}
	if cfg.Hedge.MinOrderNotionalUSD == 0 {
		cfg.Hedge.MinOrderNotionalUSD = 1.0
	}
	if cfg.Hedge.QtyDecimalsLong == nil {
		cfg.Hedge.QtyDecimalsLong = intPtr(2)
	}
	if cfg.Hedge.QtyDecimalsShort == nil {
		cfg.Hedge.QtyDecimalsShort = intPtr(0)
	}
	if cfg.Hedge.EnableScaleIn && cfg.Hedge.ScaleInLegs == 0 {
		cfg.Hedge.ScaleInLegs = 3
	}
	if cfg.Hedge.EnableScaleIn && cfg.Hedge.ScaleInDropStep == 0 {
		cfg.Hedge.ScaleInDropStep = 2
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

// applyEnvOverrides layers deployment-time settings over the YAML file.
// BOT_CONFIG is the compact form "LONG|SHORT|TRIGGER|SIZE|SCALE|LEGS|STEP"
// used by single-variable hosting environments.
func applyEnvOverrides(cfg *Config) error {
	if token := strings.TrimSpace(os.Getenv("HEDGE_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("HEDGE_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	raw := strings.TrimSpace(os.Getenv("BOT_CONFIG"))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "|")
	if len(parts) < 7 {
		return fmt.Errorf("BOT_CONFIG must have 7 fields, got %d", len(parts))
	}
	trigger, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return fmt.Errorf("BOT_CONFIG trigger: %w", err)
	}
	size, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
	if err != nil {
		return fmt.Errorf("BOT_CONFIG size: %w", err)
	}
	scaleIn := strings.EqualFold(strings.TrimSpace(parts[4]), "true")
	legs, err := strconv.Atoi(strings.TrimSpace(parts[5]))
	if err != nil {
		return fmt.Errorf("BOT_CONFIG legs: %w", err)
	}
	step, err := strconv.ParseFloat(strings.TrimSpace(parts[6]), 64)
	if err != nil {
		return fmt.Errorf("BOT_CONFIG step: %w", err)
	}
	cfg.Hedge.SymbolLong = strings.TrimSpace(parts[0])
	cfg.Hedge.SymbolShort = strings.TrimSpace(parts[1])
	cfg.Hedge.TriggerDropPct = trigger
	cfg.Hedge.EnableScaleIn = scaleIn
	cfg.Hedge.ScaleInLegs = legs
	cfg.Hedge.ScaleInDropStep = step
	cfg.Hedge.MaxUSDPosition = size
	if scaleIn && legs > 0 {
		// SIZE is the total target in the compact form; spread it across legs.
		cfg.Hedge.USDPositionSize = size / float64(legs)
	} else {
		cfg.Hedge.USDPositionSize = size
	}
	return nil
}

func validate(cfg *Config) error {
	h := cfg.Hedge
	if h.SymbolLong == "" {
		return errors.New("hedge.symbol_long is required")
	}
	if h.SymbolShort == "" {
		return errors.New("hedge.symbol_short is required")
	}
	if strings.EqualFold(h.SymbolLong, h.SymbolShort) {
		return errors.New("hedge.symbol_long and hedge.symbol_short must differ")
	}
	if h.USDPositionSize <= 0 {
		return errors.New("hedge.usd_position_size must be > 0")
	}
	if h.MaxUSDPosition < h.USDPositionSize {
		return errors.New("hedge.max_usd_position must be >= hedge.usd_position_size")
	}
	if h.TriggerDropPct <= 0 || h.TriggerDropPct >= 100 {
		return errors.New("hedge.trigger_drop_pct must be in (0, 100)")
	}
	if h.EnableScaleIn {
		if h.ScaleInLegs < 1 {
			return errors.New("hedge.scale_in_legs must be >= 1 when scale-in is enabled")
		}
		if h.ScaleInDropStep <= 0 {
			return errors.New("hedge.scale_in_drop_step must be > 0 when scale-in is enabled")
		}
	}
	if h.PollInterval <= 0 {
		return errors.New("hedge.poll_interval must be > 0")
	}
	if h.TickTimeout <= 0 {
		return errors.New("hedge.tick_timeout must be > 0")
	}
	if h.MinOrderNotionalUSD < 0 {
		return errors.New("hedge.min_order_notional_usd must be >= 0")
	}
	if *h.QtyDecimalsLong < 0 || *h.QtyDecimalsShort < 0 {
		return errors.New("hedge qty decimals must be >= 0")
	}
	if cfg.REST.MaxRetries < 1 {
		return errors.New("rest.max_retries must be >= 1")
	}
	if cfg.REST.RetryBackoff <= 0 {
		return errors.New("rest.retry_backoff must be > 0")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

func intPtr(v int) *int { return &v }
