// Package config loads settings for the pushd, backend and rtwatch binaries
// from flags, HUB_* environment variables, .env files and an optional
// barberhub.yaml.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/77mdias/barbershop-hub/logging"
)

const (
	EnvPrefix      = "HUB"
	configFileName = "barberhub"
)

// Keys shared by viper, flags and the yaml file.
const (
	KeyAddr                 = "addr"
	KeyRedisAddr            = "redis_addr"
	KeyJWTSecret            = "jwt_secret"
	KeyTokenTTL             = "token_ttl"
	KeyDevTokens            = "dev_tokens"
	KeyKeepAlive            = "keep_alive"
	KeyRateLimit            = "rate_limit"
	KeyRateBurst            = "rate_burst"
	KeyServerURL            = "server_url"
	KeyTransport            = "transport"
	KeyToken                = "token"
	KeyPollInterval         = "poll_interval"
	KeyMaxReconnectAttempts = "max_reconnect_attempts"
	KeySeenCapacity         = "seen_capacity"
	KeyLogLevel             = "log_level"
	KeyLogFormat            = "log_format"
	KeyLogOutput            = "log_output"
)

var ErrMissingSecret = errors.New("jwt secret not configured")

// Config holds the application configuration loaded from various sources.
type Config struct {
	ConfigFile string

	// Push server
	Addr      string
	RedisAddr string
	JWTSecret string
	TokenTTL  time.Duration
	DevTokens bool
	KeepAlive time.Duration
	RateLimit float64
	RateBurst int

	// Client
	ServerURL            string
	Transport            string
	Token                string
	PollInterval         time.Duration
	MaxReconnectAttempts int
	SeenCapacity         int

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string
}

// New returns a viper instance with defaults and environment binding set up.
// Callers bind their cobra flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyAddr, ":8080")
	v.SetDefault(KeyRedisAddr, "localhost:6379")
	v.SetDefault(KeyTokenTTL, 24*time.Hour)
	v.SetDefault(KeyDevTokens, false)
	v.SetDefault(KeyKeepAlive, 25*time.Second)
	v.SetDefault(KeyRateLimit, 5.0)
	v.SetDefault(KeyRateBurst, 10)
	v.SetDefault(KeyServerURL, "http://localhost:8080")
	v.SetDefault(KeyTransport, "sse")
	v.SetDefault(KeyPollInterval, 30*time.Second)
	v.SetDefault(KeyMaxReconnectAttempts, 5)
	v.SetDefault(KeySeenCapacity, 10_000)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "auto")
	v.SetDefault(KeyLogOutput, "stderr")
	return v
}

// Load reads configuration in order of precedence: flags bound to v,
// environment, .env.local, .env, the config file, defaults. An empty
// configFile searches for barberhub.yaml in the working directory.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	loadEnvFiles()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(configFileName)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		ConfigFile: v.ConfigFileUsed(),

		Addr:      v.GetString(KeyAddr),
		RedisAddr: v.GetString(KeyRedisAddr),
		JWTSecret: v.GetString(KeyJWTSecret),
		TokenTTL:  v.GetDuration(KeyTokenTTL),
		DevTokens: v.GetBool(KeyDevTokens),
		KeepAlive: v.GetDuration(KeyKeepAlive),
		RateLimit: v.GetFloat64(KeyRateLimit),
		RateBurst: v.GetInt(KeyRateBurst),

		ServerURL:            strings.TrimRight(v.GetString(KeyServerURL), "/"),
		Transport:            strings.ToLower(v.GetString(KeyTransport)),
		Token:                v.GetString(KeyToken),
		PollInterval:         v.GetDuration(KeyPollInterval),
		MaxReconnectAttempts: v.GetInt(KeyMaxReconnectAttempts),
		SeenCapacity:         v.GetInt(KeySeenCapacity),

		LogLevel:  v.GetString(KeyLogLevel),
		LogFormat: v.GetString(KeyLogFormat),
		LogOutput: v.GetString(KeyLogOutput),
	}

	if cfg.Transport != "sse" && cfg.Transport != "websocket" {
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return cfg, nil
}

// Secret returns the signing secret or ErrMissingSecret.
func (c *Config) Secret() ([]byte, error) {
	if c.JWTSecret == "" {
		return nil, fmt.Errorf("%w: set %s_JWT_SECRET", ErrMissingSecret, EnvPrefix)
	}
	return []byte(c.JWTSecret), nil
}

// Logging returns the logger configuration.
func (c *Config) Logging() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Format = c.LogFormat
	cfg.Output = c.LogOutput
	return cfg
}

// loadEnvFiles loads .env files. godotenv never overrides variables that are
// already set, so .env.local is read first to take precedence over .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}
