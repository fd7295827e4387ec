package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "RUNE_HOLDERS"

type Config struct {
	Hiro      HiroConfig      `mapstructure:"hiro"`
	JSONBin   JSONBinConfig   `mapstructure:"jsonbin"`
	Collector CollectorConfig `mapstructure:"collector"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Lookup    LookupConfig    `mapstructure:"lookup"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Server    ServerConfig    `mapstructure:"server"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Log       LogConfig       `mapstructure:"log"`
}

// HiroConfig - runes holders API
type HiroConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Etching           string        `mapstructure:"etching"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestInterval   time.Duration `mapstructure:"request_interval"` // gap between upstream calls
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RetryStrategy     string        `mapstructure:"retry_strategy"` // fixed or exponential
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	RetryJitter       bool          `mapstructure:"retry_jitter"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
}

// JSONBinConfig - document store the non-zero holders are published to
type JSONBinConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	BinIDs        []string      `mapstructure:"bin_ids"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    uint          `mapstructure:"max_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type CollectorConfig struct {
	PageSize          int  `mapstructure:"page_size"`
	MaxHolders        int  `mapstructure:"max_holders"` // 0 = no cap
	UseBoundarySearch bool `mapstructure:"use_boundary_search"`
	Exhaustive        bool `mapstructure:"exhaustive"`
}

type PublisherConfig struct {
	ChunkSize    int  `mapstructure:"chunk_size"`
	ClearSkipped bool `mapstructure:"clear_skipped"`
}

type LookupConfig struct {
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	RefreshBeforeLookup bool          `mapstructure:"refresh_before_lookup"`
}

// StorageConfig picks where progress and the published snapshot live.
type StorageConfig struct {
	DataDir         string `mapstructure:"data_dir"`
	ProgressBackend string `mapstructure:"progress_backend"` // file or pebble
	SnapshotBackend string `mapstructure:"snapshot_backend"` // file or redis
	PebbleDir       string `mapstructure:"pebble_dir"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // sync or background
}

type ScheduleConfig struct {
	Cron string `mapstructure:"cron"` // empty disables, seconds field first
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
	TopN     int    `mapstructure:"top_n"`
	Chart    bool   `mapstructure:"chart"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	ToFile  bool   `mapstructure:"to_file"`
	NoColor bool   `mapstructure:"no_color"`
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// RegisterFlags adds the configuration flags to fs (usually the root command's persistent flags).
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config.yaml (default: ./config.yaml when present)")

	// Hiro
	fs.String("hiro.base_url", defaultHiroBaseURL, "Hiro runes API base URL (env: HIRO_BASE_URL)")
	fs.String("hiro.api_key", "", "Hiro API key (env: HIRO_API_KEY)")
	fs.String("hiro.etching", defaultEtching, "Rune etching name (env: ETCHING_NAME)")
	fs.Duration("hiro.request_timeout", 10*time.Second, "Per-request timeout")
	fs.Duration("hiro.request_interval", 10*time.Second, "Minimum gap between upstream requests")
	fs.Int("hiro.max_attempts", 3, "Attempts per page on transport or upstream errors")
	fs.String("hiro.retry_strategy", "fixed", "Backoff strategy: fixed or exponential")
	fs.Duration("hiro.retry_delay", 5*time.Second, "Base delay between attempts")
	fs.Duration("hiro.rate_limit_cooldown", 60*time.Second, "Wait after HTTP 429 when Retry-After is shorter")

	// JSONBin
	fs.String("jsonbin.api_key", "", "JSONBin master key (env: JSONBIN_API_KEY)")
	fs.StringSlice("jsonbin.bin_ids", nil, "Ordered JSONBin bin IDs (env: JSONBIN_BIN_IDS, comma-separated)")

	// Collector / publisher / lookup
	fs.Int("collector.page_size", 60, "Holders per page (max 60)")
	fs.Int("collector.max_holders", 0, "Stop after this many holders, 0 = no cap")
	fs.Bool("collector.use_boundary_search", false, "Binary search the last non-zero page before walking")
	fs.Bool("collector.exhaustive", false, "Walk every page instead of stopping at the first all-zero page")
	fs.Int("publisher.chunk_size", 600, "Holders per bin")
	fs.Bool("lookup.refresh_before_lookup", false, "Run a full update before answering rank lookups")

	// Storage
	fs.String("storage.data_dir", "data_out", "Directory for JSON dumps and file-backed state (env: DATA_DIR)")
	fs.String("storage.progress_backend", "file", "Progress backend: file or pebble")
	fs.String("storage.snapshot_backend", "file", "Snapshot backend: file or redis")
	fs.String("redis.addr", "localhost:6379", "Redis address (env: REDIS_ADDR)")

	// Server
	fs.Int("server.port", 5000, "HTTP port (env: PORT)")
	fs.String("server.mode", "background", "Update mode for /update_holders: sync or background")
	fs.String("schedule.cron", "", "Cron spec with seconds field for scheduled updates (env: UPDATE_CRON)")

	// Log
	fs.String("log.level", "info", "Log level: debug, info, warn, error (env: LOG_LEVEL)")
	fs.Bool("log.to_file", false, "Also write JSON logs to log.dir/app.log")
}

// Load builds the configuration. Sources, lowest first:
// 1. defaults
// 2. config.yaml
// 3. .env file (through godotenv)
// 4. environment (RUNE_HOLDERS_* and the aliases below)
// 5. flags that were set explicitly
func Load(flags *pflag.FlagSet) (*Config, error) {
	// .env is optional
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)

	configFile := ""
	if flags != nil {
		configFile, _ = flags.GetString("config")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := setupEnvAliases(v); err != nil {
		return nil, err
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.JSONBin.BinIDs = splitList(v.Get("jsonbin.bin_ids"))

	return &cfg, nil
}

const (
	defaultHiroBaseURL    = "https://api.hiro.so/runes/v1"
	defaultJSONBinBaseURL = "https://api.jsonbin.io/v3"
	defaultEtching        = "WISHYWASHYMACHINE"
)

func setDefaults(v *viper.Viper) {
	// Hiro
	v.SetDefault("hiro.base_url", defaultHiroBaseURL)
	v.SetDefault("hiro.api_key", "")
	v.SetDefault("hiro.etching", defaultEtching)
	v.SetDefault("hiro.request_timeout", 10*time.Second)
	v.SetDefault("hiro.request_interval", 10*time.Second)
	v.SetDefault("hiro.max_attempts", 3)
	v.SetDefault("hiro.retry_strategy", "fixed")
	v.SetDefault("hiro.retry_delay", 5*time.Second)
	v.SetDefault("hiro.retry_max_delay", 60*time.Second)
	v.SetDefault("hiro.retry_jitter", false)
	v.SetDefault("hiro.rate_limit_cooldown", 60*time.Second)

	// JSONBin
	v.SetDefault("jsonbin.base_url", defaultJSONBinBaseURL)
	v.SetDefault("jsonbin.api_key", "")
	v.SetDefault("jsonbin.bin_ids", []string{})
	v.SetDefault("jsonbin.timeout", 30*time.Second)
	v.SetDefault("jsonbin.max_retries", 3)
	v.SetDefault("jsonbin.retry_interval", 2*time.Second)

	v.SetDefault("collector.page_size", 60)
	v.SetDefault("collector.max_holders", 0)
	v.SetDefault("collector.use_boundary_search", false)
	v.SetDefault("collector.exhaustive", false)

	v.SetDefault("publisher.chunk_size", 600)
	v.SetDefault("publisher.clear_skipped", true)

	v.SetDefault("lookup.cache_ttl", 5*time.Minute)
	v.SetDefault("lookup.refresh_before_lookup", false)

	// Storage
	v.SetDefault("storage.data_dir", "data_out")
	v.SetDefault("storage.progress_backend", "file")
	v.SetDefault("storage.snapshot_backend", "file")
	v.SetDefault("storage.pebble_dir", "data_out/pebble")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "rune-holders")

	v.SetDefault("server.port", 5000)
	v.SetDefault("server.mode", "background")
	v.SetDefault("schedule.cron", "")

	// Telegram
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.top_n", 10)
	v.SetDefault("telegram.chart", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.to_file", false)
	v.SetDefault("log.no_color", false)
}

// setupEnvAliases binds the short env names used by the deployment
// next to the prefixed ones, e.g. HIRO_API_KEY -> hiro.api_key.
func setupEnvAliases(v *viper.Viper) error {
	aliases := map[string]string{
		"hiro.api_key":       "HIRO_API_KEY",
		"hiro.base_url":      "HIRO_BASE_URL",
		"hiro.etching":       "ETCHING_NAME",
		"jsonbin.api_key":    "JSONBIN_API_KEY",
		"jsonbin.bin_ids":    "JSONBIN_BIN_IDS",
		"storage.data_dir":   "DATA_DIR",
		"redis.addr":         "REDIS_ADDR",
		"redis.password":     "REDIS_PASSWORD",
		"server.port":        "PORT",
		"server.mode":        "UPDATE_MODE",
		"schedule.cron":      "UPDATE_CRON",
		"telegram.bot_token": "TELEGRAM_BOT_TOKEN",
		"telegram.chat_id":   "TELEGRAM_CHAT_ID",
		"log.level":          "LOG_LEVEL",
	}
	for key, env := range aliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}
	return nil
}

// splitList accepts a YAML list or a comma-separated string (from .env or flags).
func splitList(raw any) []string {
	var items []string
	switch val := raw.(type) {
	case string:
		items = strings.Split(val, ",")
	case []string:
		items = val
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks what a run or a lookup needs before anything starts.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Hiro.Etching) == "" {
		errs = append(errs, errors.New("hiro.etching is required"))
	}
	if c.Hiro.APIKey == "" {
		errs = append(errs, errors.New("hiro.api_key is required (env: HIRO_API_KEY)"))
	}
	if c.Hiro.MaxAttempts <= 0 {
		errs = append(errs, errors.New("hiro.max_attempts must be positive"))
	}
	if c.Hiro.RetryStrategy != "fixed" && c.Hiro.RetryStrategy != "exponential" {
		errs = append(errs, fmt.Errorf("hiro.retry_strategy must be fixed or exponential, got %q", c.Hiro.RetryStrategy))
	}
	if c.JSONBin.APIKey == "" {
		errs = append(errs, errors.New("jsonbin.api_key is required (env: JSONBIN_API_KEY)"))
	}
	if len(c.JSONBin.BinIDs) == 0 {
		errs = append(errs, errors.New("jsonbin.bin_ids must list at least one bin (env: JSONBIN_BIN_IDS)"))
	}
	if c.Collector.PageSize <= 0 || c.Collector.PageSize > 60 {
		errs = append(errs, fmt.Errorf("collector.page_size must be in 1..60, got %d", c.Collector.PageSize))
	}
	if c.Collector.MaxHolders < 0 {
		errs = append(errs, errors.New("collector.max_holders must not be negative"))
	}
	if c.Publisher.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("publisher.chunk_size must be positive, got %d", c.Publisher.ChunkSize))
	}
	switch c.Storage.ProgressBackend {
	case "file", "pebble":
	default:
		errs = append(errs, fmt.Errorf("storage.progress_backend must be file or pebble, got %q", c.Storage.ProgressBackend))
	}
	switch c.Storage.SnapshotBackend {
	case "file", "redis":
	default:
		errs = append(errs, fmt.Errorf("storage.snapshot_backend must be file or redis, got %q", c.Storage.SnapshotBackend))
	}
	if c.Server.Mode != "sync" && c.Server.Mode != "background" {
		errs = append(errs, fmt.Errorf("server.mode must be sync or background, got %q", c.Server.Mode))
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required when telegram.bot_token is set"))
	}

	return errors.Join(errs...)
}
