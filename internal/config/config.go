// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the relay.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxMessageSize = 10 * 1024 * 1024
	defaultTwilioAPIBase  = "https://api.twilio.com/2010-04-01"
	maxSMSLengthCeiling   = 1600
)

// Provider names.
const (
	ProviderAuto   = "auto"
	ProviderTwilio = "twilio"
	ProviderStdout = "stdout"
)

// Notifier names.
const (
	NotifySES   = "ses"
	NotifyGraph = "graph"
)

// Config holds the complete application configuration.
type Config struct {
	// Environment is production, staging, development or test.
	Environment string            `yaml:"environment"`
	Provider    string            `yaml:"provider"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	TLS         TLSConfig         `yaml:"tls"`
	Logging     LoggingConfig     `yaml:"logging"`
	Twilio      TwilioConfig      `yaml:"twilio"`
	Relay       RelayConfig       `yaml:"relay"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Redis       RedisConfig       `yaml:"redis"`
	Notify      NotifyConfig      `yaml:"notify"`
	DeliveryLog DeliveryLogConfig `yaml:"deliverylog"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int    `yaml:"max_message_size"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TwilioConfig holds the messaging API credentials.
type TwilioConfig struct {
	AccountSID        string  `yaml:"account_sid"`
	AuthToken         string  `yaml:"auth_token"`
	PhoneNumber       string  `yaml:"phone_number"`
	APIBase           string  `yaml:"api_base"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// RelayConfig holds email-to-SMS policy settings.
type RelayConfig struct {
	AllowedSenders     []string `yaml:"allowed_senders"`
	DefaultCountryCode string   `yaml:"default_country_code"`
	MaxSMSLength       int      `yaml:"max_sms_length"`
}

// RateLimitConfig holds the quota settings.
type RateLimitConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Store        string `yaml:"store"`
	SenderMax    int    `yaml:"sender_max"`
	RecipientMax int    `yaml:"recipient_max"`
	GlobalMax    int    `yaml:"global_max"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	URL            string        `yaml:"url"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// NotifyConfig selects how rejected senders are told about it.
type NotifyConfig struct {
	Provider string      `yaml:"provider"`
	SES      SESConfig   `yaml:"ses"`
	Graph    GraphConfig `yaml:"graph"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// DeliveryLogConfig controls the SQLite delivery journal.
type DeliveryLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// TwilioConfigured returns true if the Twilio credentials are set.
func (c *Config) TwilioConfigured() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.Notify.SES.Region != "" && c.Notify.SES.Sender != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	g := c.Notify.Graph
	return g.TenantID != "" && g.ClientID != "" && g.ClientSecret != "" && g.Sender != ""
}

// ResolvedProvider returns the SMS provider to use. "auto" picks Twilio
// when credentials are present and stdout otherwise.
func (c *Config) ResolvedProvider() string {
	if c.Provider == "" || c.Provider == ProviderAuto {
		if c.TwilioConfigured() {
			return ProviderTwilio
		}
		return ProviderStdout
	}
	return c.Provider
}

// PermissiveAreaCodes reports whether fictional 555 numbers are accepted,
// which is the case in development and test.
func (c *Config) PermissiveAreaCodes() bool {
	return c.Environment == "development" || c.Environment == "test"
}

// Validate reports every inconsistent setting.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case "", ProviderAuto, ProviderStdout:
	case ProviderTwilio:
		if !c.TwilioConfigured() {
			errs = append(errs, errors.New("twilio provider selected but TWILIO_ACCOUNT_SID or TWILIO_AUTH_TOKEN is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	if c.ResolvedProvider() == ProviderTwilio {
		if !strings.HasPrefix(c.Twilio.AccountSID, "AC") {
			errs = append(errs, errors.New("twilio account SID must start with AC"))
		}
		if !strings.HasPrefix(c.Twilio.PhoneNumber, "+") {
			errs = append(errs, errors.New("twilio phone number must be in E.164 format"))
		}
		if c.Twilio.RequestsPerSecond <= 0 {
			errs = append(errs, errors.New("twilio requests_per_second must be positive"))
		}
	}

	if c.Relay.MaxSMSLength < 1 || c.Relay.MaxSMSLength > maxSMSLengthCeiling {
		errs = append(errs, fmt.Errorf("max SMS length must be between 1 and %d", maxSMSLengthCeiling))
	}
	if c.SMTP.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("SMTP max message size must be positive"))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.SenderMax <= 0 || c.RateLimit.RecipientMax <= 0 || c.RateLimit.GlobalMax <= 0 {
			errs = append(errs, errors.New("rate limits must be positive"))
		}
		switch c.RateLimit.Store {
		case "memory":
		case "redis":
			if c.Redis.URL == "" {
				errs = append(errs, errors.New("redis rate limit store selected but REDIS_URL is not set"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown rate limit store %q", c.RateLimit.Store))
		}
	}

	switch c.Notify.Provider {
	case "":
	case NotifySES:
		if !c.SESConfigured() {
			errs = append(errs, errors.New("ses notifier selected but SES_REGION or SES_SENDER is not set"))
		}
	case NotifyGraph:
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("graph notifier selected but Graph credentials are incomplete"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify provider %q", c.Notify.Provider))
	}

	if c.DeliveryLog.Enabled && c.DeliveryLog.Path == "" {
		errs = append(errs, errors.New("delivery log enabled but no path set"))
	}

	return errors.Join(errs...)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Environment = "production"
	c.Provider = ProviderAuto
	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = "info"
	c.Twilio.APIBase = defaultTwilioAPIBase
	c.Twilio.RequestsPerSecond = 1
	c.Relay.DefaultCountryCode = "1"
	c.Relay.MaxSMSLength = 160
	c.RateLimit.Enabled = true
	c.RateLimit.Store = "memory"
	c.RateLimit.SenderMax = 10
	c.RateLimit.RecipientMax = 20
	c.RateLimit.GlobalMax = 1000
	c.Redis.URL = "redis://localhost:6379/0"
	c.Redis.RetryAttempts = 3
	c.Redis.RetryInterval = 5 * time.Second
	c.Redis.ConnectTimeout = 30 * time.Second
	c.DeliveryLog.Path = "email2sms.db"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty, parseable environment variables override existing values.
func (c *Config) applyEnvVars() {
	setLower(&c.Environment, "APP_ENV")
	setLower(&c.Provider, "PROVIDER")

	setString(&c.SMTP.Listen, "SMTP_LISTEN")
	setString(&c.SMTP.Hostname, "SMTP_HOSTNAME")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setInt(&c.SMTP.MaxMessageSize, "SMTP_MAX_MESSAGE_SIZE")

	setString(&c.TLS.CertFile, "TLS_CERT_FILE")
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE")

	setLower(&c.Logging.Level, "LOG_LEVEL")

	setString(&c.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setString(&c.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setString(&c.Twilio.PhoneNumber, "TWILIO_PHONE_NUMBER")
	setString(&c.Twilio.APIBase, "TWILIO_API_BASE")
	if v := os.Getenv("TWILIO_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Twilio.RequestsPerSecond = f
		}
	}

	if v := os.Getenv("ALLOWED_SENDERS"); v != "" {
		c.Relay.AllowedSenders = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Relay.AllowedSenders = append(c.Relay.AllowedSenders, s)
			}
		}
	}
	setString(&c.Relay.DefaultCountryCode, "DEFAULT_COUNTRY_CODE")
	setInt(&c.Relay.MaxSMSLength, "MAX_SMS_LENGTH")

	setBool(&c.RateLimit.Enabled, "ENABLE_RATE_LIMITING")
	setLower(&c.RateLimit.Store, "RATE_LIMIT_STORE")
	setInt(&c.RateLimit.SenderMax, "RATE_LIMIT_SENDER_MAX")
	setInt(&c.RateLimit.RecipientMax, "RATE_LIMIT_RECIPIENT_MAX")
	setInt(&c.RateLimit.GlobalMax, "RATE_LIMIT_GLOBAL_MAX")

	setString(&c.Redis.URL, "REDIS_URL")
	setInt(&c.Redis.RetryAttempts, "REDIS_RETRY_ATTEMPTS")
	setDuration(&c.Redis.RetryInterval, "REDIS_RETRY_INTERVAL")
	setDuration(&c.Redis.ConnectTimeout, "REDIS_CONNECT_TIMEOUT")

	setLower(&c.Notify.Provider, "NOTIFY_PROVIDER")
	setString(&c.Notify.SES.Region, "SES_REGION")
	setString(&c.Notify.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.Notify.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.Notify.SES.Sender, "SES_SENDER")
	setString(&c.Notify.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Notify.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Notify.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Notify.Graph.Sender, "GRAPH_SENDER")

	setBool(&c.DeliveryLog.Enabled, "ENABLE_LOGGING")
	setString(&c.DeliveryLog.Path, "DELIVERY_LOG_PATH")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setLower(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = strings.ToLower(v)
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
