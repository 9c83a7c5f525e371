package config

// Configuration loading: defaults -> config.yaml -> .env -> environment -> command line flags.
// Loaded once at startup and passed by pointer into every component constructor.

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultCollection is the Precious Peaches collection contract.
const DefaultCollection = "EQA4i58iuS9DUYRtUZ97sZo5mnkbiYUBpWXQOe3dEUCcP1W8"

// DefaultDriftSlack is how far a stored position may run ahead of the
// indexer before it is treated as stale. Logical time grows by about 10^6
// per block, so this tolerates replicas lagging by thousands of blocks.
const DefaultDriftSlack uint64 = 10_000_000_000

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	State    StateConfig    `mapstructure:"state"`
	Health   HealthConfig   `mapstructure:"health"`
	App      AppConfig      `mapstructure:"app"`
}

type TelegramConfig struct {
	BotToken         string `mapstructure:"bot_token"`
	ChatID           string `mapstructure:"chat_id"`           // empty = discover from recent updates
	DiscoveryTimeout int    `mapstructure:"discovery_timeout"` // seconds
	Commands         bool   `mapstructure:"commands"`          // run the /status /help /test handler
}

type LedgerConfig struct {
	Provider         string  `mapstructure:"provider"` // tonapi, toncenter, indexer
	BaseURL          string  `mapstructure:"base_url"`
	APIKey           string  `mapstructure:"api_key"`
	Collection       string  `mapstructure:"collection"`
	RequestTimeout   int     `mapstructure:"request_timeout"` // seconds
	MaxRetries       int     `mapstructure:"max_retries"`
	RateLimit        float64 `mapstructure:"rate_limit"` // requests per second
	MaxResponseSize  int64   `mapstructure:"max_response_size"`
	PageLimit        int     `mapstructure:"page_limit"`
	CalibrationLimit int     `mapstructure:"calibration_limit"`
	MaxPages         int     `mapstructure:"max_pages"`
}

type MonitorConfig struct {
	PollInterval     int    `mapstructure:"poll_interval"`     // seconds
	ErrorBackoff     int    `mapstructure:"error_backoff"`     // seconds
	CalibrationGrace int    `mapstructure:"calibration_grace"` // seconds
	DriftSlack       uint64 `mapstructure:"drift_slack"`
	Enrich           bool   `mapstructure:"enrich"`
	Title            string `mapstructure:"title"`
	TokenSymbol      string `mapstructure:"token_symbol"`
	ExplorerURL      string `mapstructure:"explorer_url"`
	MarketURL        string `mapstructure:"market_url"`
}

type StateConfig struct {
	Backend       string `mapstructure:"backend"` // file, redis
	Dir           string `mapstructure:"dir"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

type HealthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Port         int    `mapstructure:"port"`
	ExternalURL  string `mapstructure:"external_url"`
	PingInterval int    `mapstructure:"ping_interval"` // seconds, 0 disables self-ping
}

type AppConfig struct {
	LogDir   string `mapstructure:"log_dir"`
	LogLevel string `mapstructure:"log_level"`
}

func (c *MonitorConfig) PollEvery() time.Duration { return seconds(c.PollInterval) }
func (c *MonitorConfig) BackoffEvery() time.Duration { return seconds(c.ErrorBackoff) }
func (c *MonitorConfig) Grace() time.Duration { return seconds(c.CalibrationGrace) }
func (c *LedgerConfig) Timeout() time.Duration { return seconds(c.RequestTimeout) }
func (c *TelegramConfig) Discovery() time.Duration { return seconds(c.DiscoveryTimeout) }
func (c *HealthConfig) PingEvery() time.Duration { return seconds(c.PingInterval) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ChatIDInt parses the configured chat id. Zero means "not set".
func (c *TelegramConfig) ChatIDInt() (int64, error) {
	if strings.TrimSpace(c.ChatID) == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(strings.TrimSpace(c.ChatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.chat_id: %q is not an integer", c.ChatID)
	}
	return id, nil
}

type LoadOptions struct {
	ConfigFile string         // explicit yaml path; empty = ./config.yaml if present
	EnvFile    string         // empty = .env
	Flags      *pflag.FlagSet // bound on top of everything else
	Offline    bool           // tools that never talk to Telegram skip the token check
}

func LoadConfig(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	godotenv.Load(envFile)

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.ReadInConfig() // optional
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setupEnvAliases(v)

	if opts.Flags != nil {
		if err := v.BindPFlags(opts.Flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	applyProviderDefaults(&cfg)

	if err := validateConfig(&cfg, opts.Offline); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setupEnvAliases keeps the environment names the bot has always been deployed with.
func setupEnvAliases(v *viper.Viper) {
	v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("telegram.chat_id", "TELEGRAM_GROUP_ID", "TELEGRAM_CHAT_ID")
	v.BindEnv("telegram.discovery_timeout", "TELEGRAM_DISCOVERY_TIMEOUT")
	v.BindEnv("telegram.commands", "TELEGRAM_COMMANDS")

	v.BindEnv("ledger.provider", "LEDGER_PROVIDER")
	v.BindEnv("ledger.base_url", "LEDGER_BASE_URL")
	v.BindEnv("ledger.api_key", "LEDGER_API_KEY", "TONAPI_KEY", "TONCENTER_API_KEY")
	v.BindEnv("ledger.collection", "COLLECTION_ADDRESS")
	v.BindEnv("ledger.request_timeout", "LEDGER_REQUEST_TIMEOUT")
	v.BindEnv("ledger.max_retries", "LEDGER_MAX_RETRIES")
	v.BindEnv("ledger.rate_limit", "LEDGER_RATE_LIMIT")
	v.BindEnv("ledger.page_limit", "LEDGER_PAGE_LIMIT")

	v.BindEnv("monitor.poll_interval", "POLL_INTERVAL")
	v.BindEnv("monitor.error_backoff", "ERROR_BACKOFF")
	v.BindEnv("monitor.calibration_grace", "CALIBRATION_GRACE")
	v.BindEnv("monitor.drift_slack", "DRIFT_SLACK")
	v.BindEnv("monitor.title", "COLLECTION_TITLE")

	v.BindEnv("state.backend", "STATE_BACKEND")
	v.BindEnv("state.dir", "STATE_DIR")
	v.BindEnv("state.redis_addr", "REDIS_ADDR")
	v.BindEnv("state.redis_password", "REDIS_PASSWORD")

	v.BindEnv("health.port", "PORT")
	v.BindEnv("health.external_url", "RENDER_EXTERNAL_URL")
	v.BindEnv("health.ping_interval", "PING_INTERVAL")

	v.BindEnv("app.log_dir", "LOG_DIR")
	v.BindEnv("app.log_level", "LOG_LEVEL")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.discovery_timeout", 60)
	v.SetDefault("telegram.commands", true)

	v.SetDefault("ledger.provider", "tonapi")
	v.SetDefault("ledger.base_url", "")
	v.SetDefault("ledger.api_key", "")
	v.SetDefault("ledger.collection", DefaultCollection)
	v.SetDefault("ledger.request_timeout", 15)
	v.SetDefault("ledger.max_retries", 2)
	v.SetDefault("ledger.rate_limit", 1.0) // free tiers allow 1 rps
	v.SetDefault("ledger.max_response_size", 10*1024*1024)
	v.SetDefault("ledger.page_limit", 50)
	v.SetDefault("ledger.calibration_limit", 5)
	v.SetDefault("ledger.max_pages", 3)

	v.SetDefault("monitor.poll_interval", 10)
	v.SetDefault("monitor.error_backoff", 5)
	v.SetDefault("monitor.calibration_grace", 120)
	v.SetDefault("monitor.drift_slack", DefaultDriftSlack)
	v.SetDefault("monitor.enrich", true)
	v.SetDefault("monitor.title", "Precious Peach")
	v.SetDefault("monitor.token_symbol", "TON")
	v.SetDefault("monitor.explorer_url", "https://tonviewer.com/")
	v.SetDefault("monitor.market_url", "https://getgems.io/nft/")

	v.SetDefault("state.backend", "file")
	v.SetDefault("state.dir", "data")
	v.SetDefault("state.redis_addr", "localhost:6379")
	v.SetDefault("state.redis_password", "")
	v.SetDefault("state.redis_db", 0)
	v.SetDefault("state.key_prefix", "nft-sales-monitor")

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.port", 8000)
	v.SetDefault("health.external_url", "")
	v.SetDefault("health.ping_interval", 600)

	v.SetDefault("app.log_dir", "logs")
	v.SetDefault("app.log_level", "info")
}

// RegisterFlags declares the command line overrides; names match the config keys.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("telegram.bot_token", "", "Telegram bot token (env: TELEGRAM_BOT_TOKEN)")
	fs.String("telegram.chat_id", "", "Target chat id, discovered automatically if empty (env: TELEGRAM_GROUP_ID)")
	fs.String("ledger.provider", "tonapi", "Indexer API: tonapi, toncenter or indexer (env: LEDGER_PROVIDER)")
	fs.String("ledger.base_url", "", "Indexer base URL, provider default if empty (env: LEDGER_BASE_URL)")
	fs.String("ledger.collection", DefaultCollection, "Collection contract address, in the same form the indexer returns: raw 0:... for tonapi and toncenter (env: COLLECTION_ADDRESS)")
	fs.Int("monitor.poll_interval", 10, "Poll interval in seconds (env: POLL_INTERVAL)")
	fs.String("state.backend", "file", "State backend: file or redis (env: STATE_BACKEND)")
	fs.String("state.dir", "data", "Directory for state files (env: STATE_DIR)")
	fs.String("app.log_level", "info", "Log level: debug, info, warn, error (env: LOG_LEVEL)")
}

func applyProviderDefaults(cfg *Config) {
	cfg.Ledger.Provider = strings.ToLower(strings.TrimSpace(cfg.Ledger.Provider))
	cfg.Ledger.Collection = strings.TrimSpace(cfg.Ledger.Collection)
	if cfg.Ledger.BaseURL != "" {
		cfg.Ledger.BaseURL = strings.TrimRight(cfg.Ledger.BaseURL, "/")
		return
	}
	switch cfg.Ledger.Provider {
	case "tonapi":
		cfg.Ledger.BaseURL = "https://tonapi.io"
	case "toncenter":
		cfg.Ledger.BaseURL = "https://toncenter.com"
	}
}

func validateConfig(cfg *Config, offline bool) error {
	var errs []error

	if !offline && strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		errs = append(errs, fmt.Errorf("telegram.bot_token is required (env: TELEGRAM_BOT_TOKEN)"))
	}
	if _, err := cfg.Telegram.ChatIDInt(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Ledger.Collection == "" {
		errs = append(errs, fmt.Errorf("ledger.collection is required (env: COLLECTION_ADDRESS)"))
	}

	switch cfg.Ledger.Provider {
	case "tonapi", "toncenter":
	case "indexer":
		if cfg.Ledger.BaseURL == "" {
			errs = append(errs, fmt.Errorf("ledger.base_url is required for provider indexer"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.provider: unknown provider %q", cfg.Ledger.Provider))
	}

	positive := []struct {
		key   string
		value int
	}{
		{"monitor.poll_interval", cfg.Monitor.PollInterval},
		{"monitor.error_backoff", cfg.Monitor.ErrorBackoff},
		{"ledger.request_timeout", cfg.Ledger.RequestTimeout},
		{"ledger.page_limit", cfg.Ledger.PageLimit},
		{"ledger.calibration_limit", cfg.Ledger.CalibrationLimit},
		{"ledger.max_pages", cfg.Ledger.MaxPages},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.key, p.value))
		}
	}
	if cfg.Ledger.PageLimit > 100 {
		errs = append(errs, fmt.Errorf("ledger.page_limit must be at most 100, got %d", cfg.Ledger.PageLimit))
	}
	if cfg.Ledger.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("ledger.rate_limit must be positive, got %v", cfg.Ledger.RateLimit))
	}
	if cfg.Ledger.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("ledger.max_retries must not be negative, got %d", cfg.Ledger.MaxRetries))
	}

	switch cfg.State.Backend {
	case "file":
		if cfg.State.Dir == "" {
			errs = append(errs, fmt.Errorf("state.dir is required for backend file"))
		}
	case "redis":
		if cfg.State.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("state.redis_addr is required for backend redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("state.backend: unknown backend %q", cfg.State.Backend))
	}

	if cfg.Health.Enabled && (cfg.Health.Port <= 0 || cfg.Health.Port > 65535) {
		errs = append(errs, fmt.Errorf("health.port is out of range: %d", cfg.Health.Port))
	}

	return errors.Join(errs...)
}
