package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/smartdevs17/pool-listener/pkg/utils"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. POOL_LISTENER_TARGET_TOKEN_ADDRESS.
const EnvPrefix = "POOL_LISTENER"

// Uniswap V3 factory on Ethereum mainnet.
const DefaultFactoryAddress = "0x1F98431c8aD98523631AE4a59f267346ea31F984"

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Chain         ChainConfig        `mapstructure:"chain"`
	Target        TargetConfig       `mapstructure:"target"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Monitor       MonitorConfig      `mapstructure:"monitor"`
	Retry         RetryConfig        `mapstructure:"retry"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ChainConfig contains node connection configuration
type ChainConfig struct {
	NodeURL        string        `mapstructure:"node_url"`
	NetworkID      int           `mapstructure:"network_id"`
	BackupNodes    []string      `mapstructure:"backup_nodes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxConnections int           `mapstructure:"max_connections"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst      int           `mapstructure:"rate_burst"`
}

// TargetConfig names the asset whose pools are tracked and the factory that creates them.
type TargetConfig struct {
	TokenAddress   string `mapstructure:"token_address"`
	TokenSymbol    string `mapstructure:"token_symbol"`
	FactoryAddress string `mapstructure:"factory_address"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
}

// MonitorConfig contains discovery and liquidity monitoring configuration
type MonitorConfig struct {
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	StartBlock             string        `mapstructure:"start_block"` // "latest" or a block number
	MaxBlockRange          uint64        `mapstructure:"max_block_range"`
	ConfirmationBlocks     uint64        `mapstructure:"confirmation_blocks"`
	ErrorBackoff           time.Duration `mapstructure:"error_backoff"`
	LiquidityCheckInterval time.Duration `mapstructure:"liquidity_check_interval"`
	CheckCadence           time.Duration `mapstructure:"check_cadence"`
	LiquidityThreshold     string        `mapstructure:"liquidity_threshold"`
	MaxWorkers             int           `mapstructure:"max_workers"`
	ShutdownTimeout        time.Duration `mapstructure:"shutdown_timeout"`
}

// RetryConfig parameterises backoff for every boundary call
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

// NotificationConfig contains notification channel configuration
type NotificationConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Channels          []string      `mapstructure:"channels"`
	NotifyOnDiscovery bool          `mapstructure:"notify_on_discovery"`
	Timeout           time.Duration `mapstructure:"timeout"`
	WebhookURL        string        `mapstructure:"webhook_url"`
	DiscordWebhookURL string        `mapstructure:"discord_webhook_url"`
	SMTPHost          string        `mapstructure:"smtp_host"`
	SMTPPort          int           `mapstructure:"smtp_port"`
	SMTPUsername      string        `mapstructure:"smtp_username"`
	SMTPPassword      string        `mapstructure:"smtp_password"`
	FromEmail         string        `mapstructure:"from_email"`
	ToEmails          []string      `mapstructure:"to_emails"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables into the
// global viper instance, so flags bound with viper.BindPFlag take effect.
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.GetViper(), configPath)
}

// LoadWith loads configuration using the given viper instance.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.pool-listener")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Error reading config file", err.Error())
		}
		utils.GetLogger().Debug("Config file not found, using defaults and environment variables")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Error unmarshaling config", err.Error())
	}

	// Conventional variable names used by deployment tooling
	if nodeURL := os.Getenv("ETH_NODE_URL"); nodeURL != "" {
		config.Chain.NodeURL = nodeURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
		if strings.HasPrefix(dbURL, "postgres") {
			config.Storage.Type = "postgres"
		}
	}

	config.Target.TokenAddress = utils.NormalizeAddress(config.Target.TokenAddress)
	config.Target.FactoryAddress = utils.NormalizeAddress(config.Target.FactoryAddress)

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "pool-listener")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Chain defaults
	v.SetDefault("chain.node_url", "https://ethereum-rpc.publicnode.com")
	v.SetDefault("chain.network_id", 1)
	v.SetDefault("chain.request_timeout", "30s")
	v.SetDefault("chain.retry_attempts", 3)
	v.SetDefault("chain.retry_delay", "5s")
	v.SetDefault("chain.max_connections", 10)
	v.SetDefault("chain.rate_limit", 10)
	v.SetDefault("chain.rate_burst", 5)

	// Target defaults
	v.SetDefault("target.token_address", "")
	v.SetDefault("target.token_symbol", "TOKEN")
	v.SetDefault("target.factory_address", DefaultFactoryAddress)

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "pool_listener.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.conn_max_lifetime", "30m")

	// Monitor defaults (Ethereum block time is ~12 seconds)
	v.SetDefault("monitor.poll_interval", "12s")
	v.SetDefault("monitor.start_block", "latest")
	v.SetDefault("monitor.max_block_range", 1000)
	v.SetDefault("monitor.confirmation_blocks", 0)
	v.SetDefault("monitor.error_backoff", "15s")
	v.SetDefault("monitor.liquidity_check_interval", "30s")
	v.SetDefault("monitor.check_cadence", "5s")
	v.SetDefault("monitor.liquidity_threshold", "1000")
	v.SetDefault("monitor.max_workers", 5)
	v.SetDefault("monitor.shutdown_timeout", "30s")

	// Retry defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "2s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", "8s")
	v.SetDefault("retry.jitter", 0.2)

	// Notification defaults
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.channels", []string{"log"})
	v.SetDefault("notifications.notify_on_discovery", true)
	v.SetDefault("notifications.timeout", "30s")
	v.SetDefault("notifications.smtp_host", "smtp.gmail.com")
	v.SetDefault("notifications.smtp_port", 587)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Threshold parses the configured liquidity threshold.
func (m MonitorConfig) Threshold() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(m.LiquidityThreshold))
}

// StartFromLatest reports whether the cursor should start at the chain head.
func (m MonitorConfig) StartFromLatest() bool {
	s := strings.TrimSpace(strings.ToLower(m.StartBlock))
	return s == "" || s == "latest"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.NodeURL == "" {
		return fmt.Errorf("node URL is required")
	}
	if !utils.IsValidAddress(c.Target.TokenAddress) || utils.IsZeroAddress(c.Target.TokenAddress) {
		return fmt.Errorf("target token address %q must be 0x followed by 40 hex characters", c.Target.TokenAddress)
	}
	if !utils.IsValidAddress(c.Target.FactoryAddress) {
		return fmt.Errorf("factory address %q is invalid", c.Target.FactoryAddress)
	}
	if c.Storage.Type != "sqlite" && c.Storage.Type != "postgres" {
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Monitor.PollInterval <= 0 || c.Monitor.LiquidityCheckInterval <= 0 || c.Monitor.CheckCadence <= 0 {
		return fmt.Errorf("monitor intervals must be positive")
	}
	if !c.Monitor.StartFromLatest() {
		if _, err := utils.ParseBlockNumber(c.Monitor.StartBlock); err != nil {
			return fmt.Errorf("monitor start_block must be \"latest\" or a block number: %w", err)
		}
	}
	if c.Monitor.MaxBlockRange == 0 {
		return fmt.Errorf("monitor max_block_range must be positive")
	}
	threshold, err := c.Monitor.Threshold()
	if err != nil {
		return fmt.Errorf("invalid liquidity threshold %q: %w", c.Monitor.LiquidityThreshold, err)
	}
	if threshold.IsNegative() {
		return fmt.Errorf("liquidity threshold must not be negative")
	}
	if c.Monitor.MaxWorkers < 1 {
		return fmt.Errorf("monitor max_workers must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry jitter must be between 0 and 1")
	}
	if c.Notifications.Enabled {
		if err := c.validateChannels(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateChannels() error {
	n := c.Notifications
	for _, ch := range n.Channels {
		switch ch {
		case "log":
		case "webhook":
			if n.WebhookURL == "" {
				return fmt.Errorf("webhook channel requires notifications.webhook_url")
			}
		case "discord":
			if n.DiscordWebhookURL == "" {
				return fmt.Errorf("discord channel requires notifications.discord_webhook_url")
			}
		case "email":
			if n.SMTPHost == "" || n.FromEmail == "" || len(n.ToEmails) == 0 {
				return fmt.Errorf("email channel requires smtp_host, from_email and to_emails")
			}
		default:
			return fmt.Errorf("unknown notification channel %q", ch)
		}
	}
	return nil
}
