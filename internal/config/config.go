package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// DefaultUserAgent is the default User-Agent string sent with all HTTP requests.
const DefaultUserAgent = "twinquery/1.0 (+https://github.com/Belphemur/TwinQuery)"

// DefaultAPIVersion is the hub service API version used when none is configured.
const DefaultAPIVersion = "2021-04-12"

type Config struct {
	Hub struct {
		Endpoint   string `mapstructure:"endpoint"` // e.g. "https://my-hub.azure-devices.net"
		APIVersion string `mapstructure:"api_version"`
		SASToken   string `mapstructure:"sas_token"` // "SharedAccessSignature sr=...&sig=...&se=...&skn=..."
	} `mapstructure:"hub"`
	ProxyConnectionString string `mapstructure:"proxy_connection_string"`
	NoProxy               string `mapstructure:"no_proxy"`       // comma-separated hosts that bypass the proxy
	ClientTimeout         string `mapstructure:"client_timeout"` // Go duration string like "30s", "1h", etc.
	UserAgent             string `mapstructure:"user_agent"`
	Query                 struct {
		PageSize int `mapstructure:"page_size"` // x-ms-max-item-count, 0 lets the hub decide
	} `mapstructure:"query"`
	Retry struct {
		MaxRetries   int    `mapstructure:"max_retries"`   // 0 disables transport retries
		InitialDelay string `mapstructure:"initial_delay"` // Go duration string
		MaxDelay     string `mapstructure:"max_delay"`     // Go duration string
	} `mapstructure:"retry"`
	Server struct {
		Port    int    `mapstructure:"port"`
		Address string `mapstructure:"address"`
	} `mapstructure:"server"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	LogLevel string `mapstructure:"log_level"`
	Cache    struct {
		Provider string `mapstructure:"provider"` // "memory", "redis" or empty to disable twin caching
		Size     int    `mapstructure:"size"`     // Maximum number of twins kept
		TTL      string `mapstructure:"ttl"`      // Go duration string like "1h", "24h", etc.
		Redis    struct {
			Address  string `mapstructure:"address"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"cache"`
	Sentry struct {
		DSN         string `mapstructure:"dsn"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"sentry"`
}

var (
	globalConfig *Config
	logger       zerolog.Logger
)

func init() {
	// Initialize zerolog with console writer for human-readable output
	logger = zerolog.New(zerolog.ConsoleWriter{
		Out:     os.Stderr,
		NoColor: false,
	}).With().Timestamp().Logger()

	config, err := LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	level := zerolog.InfoLevel
	if config.LogLevel != "" {
		if parsedLevel, err := zerolog.ParseLevel(config.LogLevel); err == nil {
			level = parsedLevel
		} else {
			logger.Warn().Str("invalid_level", config.LogLevel).Msg("Invalid log level, using default 'info'")
		}
	}

	zerolog.SetGlobalLevel(level)
	logger = logger.Level(level)

	logger.Debug().Str("level", level.String()).Msg("Logging configured")
	globalConfig = config
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variable support
	viper.AutomaticEnv()
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.BindEnv("log_level", "LOG_LEVEL")
	_ = viper.BindEnv("hub.sas_token", "APP_HUB_SAS_TOKEN", "IOTHUB_SAS_TOKEN")

	viper.SetDefault("hub.api_version", DefaultAPIVersion)
	viper.SetDefault("client_timeout", "30s")
	viper.SetDefault("query.page_size", 100)
	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.initial_delay", "200ms")
	viper.SetDefault("retry.max_delay", "5s")
	viper.SetDefault("server.address", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("cache.size", 1000)
	viper.SetDefault("cache.ttl", "10m")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}

	return &config, nil
}

func GetConfig() *Config {
	return globalConfig
}

func GetUserAgent() string {
	if globalConfig != nil && globalConfig.UserAgent != "" {
		return globalConfig.UserAgent
	}

	return DefaultUserAgent
}

func GetLogger() zerolog.Logger {
	return logger
}

// ParseDuration parses a Go duration string, falling back to def when the value is empty or invalid.
// Invalid values are logged under the given config key.
func ParseDuration(key, value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Str("value", value).Dur("default", def).Msg("Invalid duration, using default")
		return def
	}
	return d
}

// APIVersion returns the configured hub API version or DefaultAPIVersion.
func (c *Config) APIVersion() string {
	if c.Hub.APIVersion == "" {
		return DefaultAPIVersion
	}
	return c.Hub.APIVersion
}
