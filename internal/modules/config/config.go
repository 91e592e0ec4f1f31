package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"trade_hook/internal/models"
	"trade_hook/pkg/logger"
	"trade_hook/pkg/tracing"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// Config ...
type Config struct {
	Service struct {
		Name            string        `yaml:"name"`
		HTTPAddr        string        `yaml:"http_addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		TrustedProxies  []string      `yaml:"trusted_proxies"`
	} `yaml:"service"`

	DB struct {
		Driver   string `yaml:"driver"` // memory | postgres
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
		Migrate  bool   `yaml:"migrate"`
	} `yaml:"db"`

	Log     logger.Config  `yaml:"log"`
	Tracing tracing.Config `yaml:"tracing"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Risk struct {
		// баланс и плечо, если у вебхука не заданы свои
		DefaultBalance  float64 `yaml:"default_balance"`
		DefaultLeverage float64 `yaml:"default_leverage"`

		MaxRiskPerTrade     float64 `yaml:"max_risk_per_trade"` // потолок risk из алерта, %
		UnknownSymbolPolicy string  `yaml:"unknown_symbol_policy"`
		InstrumentsFile     string  `yaml:"instruments_file"`
		DailyLossLimitPct   float64 `yaml:"daily_loss_limit_pct"` // 0 => без лимита
		MaxOpenTrades       int     `yaml:"max_open_trades"`      // 0 => без лимита
	} `yaml:"risk"`

	Signals struct {
		MaxAge       time.Duration `yaml:"max_age"`
		PendingLimit int           `yaml:"pending_limit"`
		MaxBodyBytes int64         `yaml:"max_body_bytes"`
	} `yaml:"signals"`

	RateLimit struct {
		Window        time.Duration `yaml:"window"`
		MaxRequests   int           `yaml:"max_requests"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"rate_limit"`

	Queue struct {
		Workers     int           `yaml:"workers"`
		MaxAttempts int           `yaml:"max_attempts"`
		Backoff     time.Duration `yaml:"backoff"`
		MaxBackoff  time.Duration `yaml:"max_backoff"`
		Buffer      int           `yaml:"buffer"`
		Retention   time.Duration `yaml:"retention"` // сколько помнить завершённые задачи
	} `yaml:"queue"`

	Trailing struct {
		BreakevenEnabled     bool    `yaml:"breakeven_enabled"`
		BreakevenTriggerPips float64 `yaml:"breakeven_trigger_pips"`
		BreakevenOffsetPips  float64 `yaml:"breakeven_offset_pips"`
	} `yaml:"trailing"`

	Webhooks []models.Webhook `yaml:"webhooks"`
}

// Defaults: значения до чтения файла; часть переопределяется env.
func Defaults() Config {
	var c Config
	c.Service.Name = getenvDefault("SERVICE_NAME", "trade_hook")
	c.Service.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	c.Service.ShutdownTimeout = durationFromEnv("SHUTDOWN_TIMEOUT", "10s")

	c.DB.Driver = getenvDefault("DB_DRIVER", "memory")
	c.DB.MaxConns = int32(intFromEnv("DB_MAX_CONNS", 10))
	c.DB.Migrate = boolFromEnv("DB_MIGRATE", true)

	c.Log.Level = getenvDefault("LOG_LEVEL", "info")
	c.Log.Format = getenvDefault("LOG_FORMAT", "json")
	c.Log.Output = "stdout"
	c.Log.MaxSize = 100
	c.Log.MaxBackups = 5
	c.Log.MaxAge = 30

	c.Tracing.Host = "localhost"
	c.Tracing.Port = 6831

	c.Risk.DefaultBalance = floatFromEnv("DEFAULT_BALANCE", 10000)
	c.Risk.DefaultLeverage = floatFromEnv("DEFAULT_LEVERAGE", 100)
	c.Risk.MaxRiskPerTrade = floatFromEnv("MAX_RISK_PER_TRADE", 5)
	c.Risk.UnknownSymbolPolicy = getenvDefault("UNKNOWN_SYMBOL_POLICY", "fallback")
	c.Risk.DailyLossLimitPct = floatFromEnv("DAILY_LOSS_LIMIT_PCT", 0)
	c.Risk.MaxOpenTrades = intFromEnv("MAX_OPEN_TRADES", 0)

	c.Signals.MaxAge = durationFromEnv("SIGNAL_MAX_AGE", "5m")
	c.Signals.PendingLimit = intFromEnv("PENDING_LIMIT", 10)
	c.Signals.MaxBodyBytes = 64 << 10

	c.RateLimit.Window = durationFromEnv("RATE_LIMIT_WINDOW", "1m")
	c.RateLimit.MaxRequests = intFromEnv("RATE_LIMIT_MAX", 100)
	c.RateLimit.SweepInterval = durationFromEnv("RATE_LIMIT_SWEEP", "5m")

	c.Queue.Workers = intFromEnv("QUEUE_WORKERS", 5)
	c.Queue.MaxAttempts = intFromEnv("QUEUE_MAX_ATTEMPTS", 3)
	c.Queue.Backoff = durationFromEnv("QUEUE_BACKOFF", "500ms")
	c.Queue.MaxBackoff = durationFromEnv("QUEUE_MAX_BACKOFF", "30s")
	c.Queue.Buffer = 1024
	c.Queue.Retention = durationFromEnv("QUEUE_RETENTION", "1h")

	c.Trailing.BreakevenEnabled = boolFromEnv("BREAKEVEN_ENABLED", false)
	c.Trailing.BreakevenTriggerPips = floatFromEnv("BREAKEVEN_TRIGGER_PIPS", 20)
	c.Trailing.BreakevenOffsetPips = floatFromEnv("BREAKEVEN_OFFSET_PIPS", 2)
	return c
}

func NewConfig() (*Config, error) {
	// .env опционален
	_ = godotenv.Load()

	configFileName := getenvDefault(configFilePathENV, "values_local.yaml")
	dir := getenvDefault(configDirENV, "configs")
	return Load(filepath.Join(dir, configFileName))
}

// Load читает yaml поверх Defaults и применяет env-переопределения секретов.
func Load(path string) (*Config, error) {
	config := Defaults()

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer func() {
		_ = file.Close()
	}()

	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "failed to decode config file")
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}
	if chat := intFromEnv("TELEGRAM_CHAT_ID", 0); chat != 0 {
		config.Telegram.ChatID = int64(chat)
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB.DSN = dsn
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate отбрасывает несогласованные значения.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	switch c.DB.Driver {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			add("db.dsn is required for postgres driver")
		}
	default:
		add("db.driver must be memory or postgres, got %q", c.DB.Driver)
	}

	if c.Risk.MaxRiskPerTrade <= 0 || c.Risk.MaxRiskPerTrade > 100 {
		add("risk.max_risk_per_trade must be in (0, 100]")
	}
	if c.Risk.DefaultBalance < 0 || c.Risk.DefaultLeverage < 0 {
		add("risk.default_balance and risk.default_leverage must not be negative")
	}
	switch c.Risk.UnknownSymbolPolicy {
	case "fallback", "reject":
	default:
		add("risk.unknown_symbol_policy must be fallback or reject, got %q", c.Risk.UnknownSymbolPolicy)
	}
	if c.Risk.DailyLossLimitPct < 0 || c.Risk.DailyLossLimitPct > 100 {
		add("risk.daily_loss_limit_pct must be in [0, 100]")
	}
	if c.Signals.MaxAge <= 0 {
		add("signals.max_age must be positive")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
		add("rate_limit.window and rate_limit.max_requests must be positive")
	}
	if c.Queue.Workers <= 0 || c.Queue.MaxAttempts <= 0 {
		add("queue.workers and queue.max_attempts must be positive")
	}
	if c.Queue.MaxBackoff < c.Queue.Backoff {
		add("queue.max_backoff must be >= queue.backoff")
	}
	if c.Trailing.BreakevenEnabled && c.Trailing.BreakevenTriggerPips <= 0 {
		add("trailing.breakeven_trigger_pips must be positive when breakeven is enabled")
	}

	ids := make(map[string]bool, len(c.Webhooks))
	keys := make(map[string]bool, len(c.Webhooks))
	for i, wh := range c.Webhooks {
		if wh.ID == "" || wh.APIKey == "" {
			add("webhooks[%d]: id and api_key are required", i)
			continue
		}
		if ids[wh.ID] || keys[wh.APIKey] {
			add("webhooks[%d]: duplicate id or api_key", i)
		}
		ids[wh.ID], keys[wh.APIKey] = true, true
	}

	if len(problems) > 0 {
		return errors.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// WebhookDefaults: вебхуки из конфига с подставленными баланс/плечо по умолчанию.
func (c *Config) WebhookDefaults() []models.Webhook {
	out := make([]models.Webhook, len(c.Webhooks))
	for i, wh := range c.Webhooks {
		if wh.AccountBalance <= 0 {
			wh.AccountBalance = c.Risk.DefaultBalance
		}
		if wh.Leverage <= 0 {
			wh.Leverage = c.Risk.DefaultLeverage
		}
		if wh.MaxOpenTrades <= 0 {
			wh.MaxOpenTrades = c.Risk.MaxOpenTrades
		}
		out[i] = wh
	}
	return out
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
