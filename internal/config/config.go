// Package config is a viper-layered Config covering Server/Log/Cache/Lock/
// Metrics plus the SSRF/Verification/Webhook/TrustStores/Flags/Reminder
// sections this core needs. There is no durable SQL database here, so no
// storage-profile section exists.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vitaliisemenov/trustcore/internal/kvstore"
	"github.com/vitaliisemenov/trustcore/pkg/logger"
)

// Config is the root application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          logger.Config      `mapstructure:"log"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Lock         LockConfig         `mapstructure:"lock"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	SSRF         SSRFConfig         `mapstructure:"ssrf"`
	Verification VerificationConfig `mapstructure:"verification"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	TrustStores  TrustStoresConfig  `mapstructure:"trust_stores"`
	Flags        FlagsConfig        `mapstructure:"flags"`
	Reminder     ReminderConfig     `mapstructure:"reminder"`
}

// ServerConfig holds the admin HTTP surface's server settings.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// CacheConfig is the KV backend selection and Redis connection settings.
// "memory" needs no further configuration; "redis" uses Redis below.
type CacheConfig struct {
	Backend string              `mapstructure:"backend"`
	Redis   kvstore.RedisConfig `mapstructure:"redis"`
}

// LockConfig carries distributed-lock tunables for coordination over the
// kvstore's CompareAndSwap/CompareAndDelete primitives.
type LockConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ValuePrefix    string        `mapstructure:"value_prefix"`
}

// MetricsConfig controls the /metrics HTTP surface.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SSRFConfig carries one configuration field per ssrfguard.Policy toggle.
type SSRFConfig struct {
	WebFetchAllowPrivateIPs bool     `mapstructure:"web_fetch_allow_private_ips"`
	WebFetchAllowLocalhost  bool     `mapstructure:"web_fetch_allow_localhost"`
	WebFetchValidateCerts   bool     `mapstructure:"web_fetch_validate_certs"`
	BlockAlternateEncoding  bool     `mapstructure:"block_alternate_encoding"`
	BlockEmbeddedIP         bool     `mapstructure:"block_embedded_ip"`
	BlockIDN                bool     `mapstructure:"block_idn"`
	AllowUserinfo           bool     `mapstructure:"allow_userinfo"`
	AllowedPorts            []int    `mapstructure:"allowed_ports"`
	HostnameBlocklist       []string `mapstructure:"hostname_blocklist"`
	HostnameAllowlist       []string `mapstructure:"hostname_allowlist"`
	DNSTimeoutMs            int      `mapstructure:"dns_timeout_ms"`
	DNSCacheCeilingS        int64    `mapstructure:"dns_cache_ceiling_s"`
	DNSCacheDefaultS        int64    `mapstructure:"dns_cache_default_s"`
	MaxResponseBytes        int64    `mapstructure:"max_response_bytes"`
	ConnectTimeoutMs        int      `mapstructure:"connect_timeout_ms"`
	ReadTimeoutMs           int      `mapstructure:"read_timeout_ms"`
	AllowRedirects          bool     `mapstructure:"allow_redirects"`
	MaxRedirects            int      `mapstructure:"max_redirects"`
	CertificatePins         []string `mapstructure:"certificate_pins"`
}

// VerificationConfig carries the claim-verification executor's tunables.
type VerificationConfig struct {
	Enabled                    bool          `mapstructure:"enabled"`
	MaxVerificationsPerRequest int           `mapstructure:"max_verifications_per_request"`
	MaxConcurrentVerifications int           `mapstructure:"max_concurrent_verifications"`
	CacheTTL                   time.Duration `mapstructure:"cache_ttl"`
	TrustedSources             []string      `mapstructure:"trusted_sources"`
	GeneralSources             []string      `mapstructure:"general_sources"`
}

// WebhookConfig carries webhook delivery defaults and the admin surface's
// request-size/timeout settings.
type WebhookConfig struct {
	MaxRequestSize         int64         `mapstructure:"max_request_size"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	MaxRetries             int           `mapstructure:"max_retries"`
	RetryDelayMs           int64         `mapstructure:"retry_delay_ms"`
	RetryBackoffMultiplier float64       `mapstructure:"retry_backoff_multiplier"`
	ReaperInterval         time.Duration `mapstructure:"reaper_interval"`
	ReaperStaleAfter       time.Duration `mapstructure:"reaper_stale_after"`
}

// TrustStoresConfig carries the trust-store window/threshold tunables.
type TrustStoresConfig struct {
	RateLimitWindowSeconds int64         `mapstructure:"rate_limit_window_seconds"`
	RateLimitMax           int64         `mapstructure:"rate_limit_max"`
	AuditLogMaxLength      int64         `mapstructure:"audit_log_max_length"`
	VetoWindow             time.Duration `mapstructure:"veto_window"`
}

// FlagsConfig seeds the static feature flags at startup.
type FlagsConfig struct {
	WebFetchEnabled     bool `mapstructure:"web_fetch_enabled"`
	VerificationEnabled bool `mapstructure:"verification_enabled"`
}

// ReminderConfig carries the reminder scheduler's storm-protection tunables.
type ReminderConfig struct {
	MaxAge           time.Duration `mapstructure:"max_age"`
	MaxSendsPerBatch int           `mapstructure:"max_sends_per_batch"`
}

// LoadConfig loads configuration from an optional file plus environment
// variables, with environment variables taking precedence over the file.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()
	bindEnv()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables and
// compiled-in defaults only, skipping any config file.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig("")
}

// bindEnv binds a handful of env var names explicitly so they resolve
// regardless of the automatic key replacer's dotted-path convention.
func bindEnv() {
	_ = viper.BindEnv("ssrf.web_fetch_allow_private_ips", "WEB_FETCH_ALLOW_PRIVATE_IPS")
	_ = viper.BindEnv("ssrf.web_fetch_allow_localhost", "WEB_FETCH_ALLOW_LOCALHOST")
	_ = viper.BindEnv("ssrf.web_fetch_validate_certs", "WEB_FETCH_VALIDATE_CERTS")
	_ = viper.BindEnv("flags.web_fetch_enabled", "WEB_FETCH_ENABLED")
	_ = viper.BindEnv("flags.verification_enabled", "VERIFICATION_ENABLED")
	_ = viper.BindEnv("verification.enabled", "VERIFICATION_ENABLED")
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.redis.addr", "localhost:6379")
	viper.SetDefault("cache.redis.db", 0)
	viper.SetDefault("cache.redis.pool_size", 10)
	viper.SetDefault("cache.redis.min_idle_conns", 1)
	viper.SetDefault("cache.redis.dial_timeout", "5s")
	viper.SetDefault("cache.redis.read_timeout", "3s")
	viper.SetDefault("cache.redis.write_timeout", "3s")
	viper.SetDefault("cache.redis.max_retries", 3)
	viper.SetDefault("cache.redis.min_retry_backoff", "8ms")
	viper.SetDefault("cache.redis.max_retry_backoff", "512ms")

	viper.SetDefault("lock.ttl", "30s")
	viper.SetDefault("lock.max_retries", 3)
	viper.SetDefault("lock.retry_interval", "100ms")
	viper.SetDefault("lock.acquire_timeout", "5s")
	viper.SetDefault("lock.value_prefix", "lock")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("ssrf.web_fetch_allow_private_ips", false)
	viper.SetDefault("ssrf.web_fetch_allow_localhost", false)
	viper.SetDefault("ssrf.web_fetch_validate_certs", true)
	viper.SetDefault("ssrf.block_alternate_encoding", true)
	viper.SetDefault("ssrf.block_embedded_ip", true)
	viper.SetDefault("ssrf.block_idn", false)
	viper.SetDefault("ssrf.allow_userinfo", false)
	viper.SetDefault("ssrf.hostname_blocklist", []string{
		"169.254.169.254", "metadata.google.internal", "metadata.internal",
		"instance-data", "localhost", "localhost.localdomain",
	})
	viper.SetDefault("ssrf.dns_timeout_ms", 2000)
	viper.SetDefault("ssrf.dns_cache_ceiling_s", 300)
	viper.SetDefault("ssrf.dns_cache_default_s", 60)
	viper.SetDefault("ssrf.max_response_bytes", 10*1024*1024)
	viper.SetDefault("ssrf.connect_timeout_ms", 3000)
	viper.SetDefault("ssrf.read_timeout_ms", 5000)
	viper.SetDefault("ssrf.allow_redirects", true)
	viper.SetDefault("ssrf.max_redirects", 3)

	viper.SetDefault("verification.enabled", true)
	viper.SetDefault("verification.max_verifications_per_request", 5)
	viper.SetDefault("verification.max_concurrent_verifications", 3)
	viper.SetDefault("verification.cache_ttl", "1h")

	viper.SetDefault("webhook.max_request_size", 1048576) // 1MB
	viper.SetDefault("webhook.request_timeout", "10s")
	viper.SetDefault("webhook.max_retries", 3)
	viper.SetDefault("webhook.retry_delay_ms", 1000)
	viper.SetDefault("webhook.retry_backoff_multiplier", 2.0)
	viper.SetDefault("webhook.reaper_interval", "30s")
	viper.SetDefault("webhook.reaper_stale_after", "20s")

	viper.SetDefault("trust_stores.rate_limit_window_seconds", 60)
	viper.SetDefault("trust_stores.rate_limit_max", 100)
	viper.SetDefault("trust_stores.audit_log_max_length", 200)
	viper.SetDefault("trust_stores.veto_window", "24h")

	viper.SetDefault("flags.web_fetch_enabled", true)
	viper.SetDefault("flags.verification_enabled", true)

	viper.SetDefault("reminder.max_age", "2h5m")
	viper.SetDefault("reminder.max_sends_per_batch", 2)
}

// Validate checks invariants that, if violated, would make the configured
// server unreachable or the SSRF guard ineffective.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("invalid cache backend: %q", c.Cache.Backend)
	}
	if c.SSRF.MaxResponseBytes <= 0 {
		return fmt.Errorf("ssrf.max_response_bytes must be positive")
	}
	if c.Verification.MaxConcurrentVerifications <= 0 {
		return fmt.Errorf("verification.max_concurrent_verifications must be positive")
	}
	return nil
}
