// Package config loads relay configuration from config.toml and RELAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	Relay     RelayConfig
	Store     StoreConfig
	Dedupe    DedupeConfig
	Shopify   ShopifyConfig
	Meta      MetaConfig
	OpenAI    OpenAIConfig
	Reconcile ReconcileConfig
	AWS       AWSConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name            string
	Env             string
	Port            string
	RunLocal        bool
	AdminToken      string
	ShutdownTimeout time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// RelayConfig tunes the debounce, cooldown, pacing and publish protocol.
type RelayConfig struct {
	DebounceDelay    time.Duration
	CoolDownPeriod   time.Duration
	RetryBackoff     time.Duration
	InitialInterval  time.Duration
	MinInterval      time.Duration
	MaxInterval      time.Duration
	SuccessThreshold int
	SuccessStep      time.Duration
	FailureThreshold int
	FailureStep      time.Duration

	MaxImages         int
	MediaPollAttempts int
	MediaPollInterval time.Duration
	MediaPollTimeout  time.Duration
	DescriptionLimit  int
	SecondaryEnabled  bool
	FallbackHashtags  string
	CallToAction      string
}

// StoreConfig selects the sync store backend.
type StoreConfig struct {
	Backend  string // file, dynamodb
	FilePath string
	Table    string
}

// DedupeConfig selects the webhook delivery de-duplication backend.
type DedupeConfig struct {
	Backend       string // memory, dynamodb, redis
	Table         string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// ShopifyConfig holds storefront credentials.
type ShopifyConfig struct {
	ShopURL       string
	AccessToken   string
	APIVersion    string
	WebhookSecret string
	Timeout       time.Duration
}

// MetaConfig holds Graph API credentials.
type MetaConfig struct {
	GraphURL    string
	IGUserID    string
	PageID      string
	AccessToken string
	Timeout     time.Duration
}

// OpenAIConfig holds caption generator settings.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// ReconcileConfig controls the daily catalog sweep.
type ReconcileConfig struct {
	Enabled       bool
	DailyHour     int
	DailyMinute   int
	Timezone      string
	CheckInterval time.Duration
}

// AWSConfig holds AWS wiring.
type AWSConfig struct {
	Region           string
	EndpointOverride string
	// MaxAttempts bounds the SDK retryer per call. Zero keeps the SDK default.
	MaxAttempts      int
	IngestQueueURL   string
	MetricsEnabled   bool
	MetricsNamespace string
}

// Store backends
const (
	StoreBackendFile     = "file"
	StoreBackendDynamoDB = "dynamodb"

	DedupeBackendMemory   = "memory"
	DedupeBackendDynamoDB = "dynamodb"
	DedupeBackendRedis    = "redis"
)

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with RELAY_ prefix (e.g., RELAY_META_ACCESS_TOKEN)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name:            v.GetString("app.name"),
			Env:             v.GetString("app.env"),
			Port:            v.GetString("app.port"),
			RunLocal:        v.GetBool("app.run_local"),
			AdminToken:      v.GetString("app.admin_token"),
			ShutdownTimeout: v.GetDuration("app.shutdown_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Relay: RelayConfig{
			DebounceDelay:     v.GetDuration("relay.debounce_delay"),
			CoolDownPeriod:    v.GetDuration("relay.cool_down_period"),
			RetryBackoff:      v.GetDuration("relay.retry_backoff"),
			InitialInterval:   v.GetDuration("relay.initial_interval"),
			MinInterval:       v.GetDuration("relay.min_interval"),
			MaxInterval:       v.GetDuration("relay.max_interval"),
			SuccessThreshold:  v.GetInt("relay.success_threshold"),
			SuccessStep:       v.GetDuration("relay.success_step"),
			FailureThreshold:  v.GetInt("relay.failure_threshold"),
			FailureStep:       v.GetDuration("relay.failure_step"),
			MaxImages:         v.GetInt("relay.max_images"),
			MediaPollAttempts: v.GetInt("relay.media_poll_attempts"),
			MediaPollInterval: v.GetDuration("relay.media_poll_interval"),
			MediaPollTimeout:  v.GetDuration("relay.media_poll_timeout"),
			DescriptionLimit:  v.GetInt("relay.description_limit"),
			SecondaryEnabled:  v.GetBool("relay.secondary_enabled"),
			FallbackHashtags:  v.GetString("relay.fallback_hashtags"),
			CallToAction:      v.GetString("relay.call_to_action"),
		},
		Store: StoreConfig{
			Backend:  v.GetString("store.backend"),
			FilePath: v.GetString("store.file_path"),
			Table:    v.GetString("store.table"),
		},
		Dedupe: DedupeConfig{
			Backend:       v.GetString("dedupe.backend"),
			Table:         v.GetString("dedupe.table"),
			TTL:           v.GetDuration("dedupe.ttl"),
			RedisAddr:     v.GetString("dedupe.redis_addr"),
			RedisPassword: v.GetString("dedupe.redis_password"),
			RedisDB:       v.GetInt("dedupe.redis_db"),
		},
		Shopify: ShopifyConfig{
			ShopURL:       v.GetString("shopify.shop_url"),
			AccessToken:   v.GetString("shopify.access_token"),
			APIVersion:    v.GetString("shopify.api_version"),
			WebhookSecret: v.GetString("shopify.webhook_secret"),
			Timeout:       v.GetDuration("shopify.timeout"),
		},
		Meta: MetaConfig{
			GraphURL:    v.GetString("meta.graph_url"),
			IGUserID:    v.GetString("meta.ig_user_id"),
			PageID:      v.GetString("meta.page_id"),
			AccessToken: v.GetString("meta.access_token"),
			Timeout:     v.GetDuration("meta.timeout"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  v.GetString("openai.api_key"),
			Model:   v.GetString("openai.model"),
			BaseURL: v.GetString("openai.base_url"),
			Timeout: v.GetDuration("openai.timeout"),
		},
		Reconcile: ReconcileConfig{
			Enabled:       v.GetBool("reconcile.enabled"),
			DailyHour:     v.GetInt("reconcile.daily_hour"),
			DailyMinute:   v.GetInt("reconcile.daily_minute"),
			Timezone:      v.GetString("reconcile.timezone"),
			CheckInterval: v.GetDuration("reconcile.check_interval"),
		},
		AWS: AWSConfig{
			Region:           v.GetString("aws.region"),
			EndpointOverride: v.GetString("aws.endpoint_override"),
			MaxAttempts:      v.GetInt("aws.max_attempts"),
			IngestQueueURL:   v.GetString("aws.ingest_queue_url"),
			MetricsEnabled:   v.GetBool("aws.metrics_enabled"),
			MetricsNamespace: v.GetString("aws.metrics_namespace"),
		},
	}

	// reconcile.daily_hour may legitimately be 0, so only default it when unset
	if !v.IsSet("reconcile.daily_hour") {
		cfg.Reconcile.DailyHour = 3
	}
	if !v.IsSet("reconcile.enabled") {
		cfg.Reconcile.Enabled = true
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "product-relay"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.ShutdownTimeout == 0 {
		cfg.App.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	r := &cfg.Relay
	if r.DebounceDelay == 0 {
		r.DebounceDelay = 15 * time.Second
	}
	if r.CoolDownPeriod == 0 {
		r.CoolDownPeriod = 30 * time.Second
	}
	if r.RetryBackoff == 0 {
		r.RetryBackoff = 5 * time.Minute
	}
	if r.MinInterval == 0 {
		r.MinInterval = 60 * time.Second
	}
	if r.MaxInterval == 0 {
		r.MaxInterval = 180 * time.Second
	}
	if r.InitialInterval == 0 {
		r.InitialInterval = r.MinInterval
	}
	if r.SuccessThreshold == 0 {
		r.SuccessThreshold = 10
	}
	if r.SuccessStep == 0 {
		r.SuccessStep = 10 * time.Second
	}
	if r.FailureThreshold == 0 {
		r.FailureThreshold = 2
	}
	if r.FailureStep == 0 {
		r.FailureStep = 30 * time.Second
	}
	if r.MaxImages == 0 {
		r.MaxImages = 10
	}
	if r.MediaPollAttempts == 0 {
		r.MediaPollAttempts = 12
	}
	if r.MediaPollInterval == 0 {
		r.MediaPollInterval = 5 * time.Second
	}
	if r.MediaPollTimeout == 0 {
		r.MediaPollTimeout = 70 * time.Second
	}
	if r.DescriptionLimit == 0 {
		r.DescriptionLimit = 1900
	}
	if r.FallbackHashtags == "" {
		r.FallbackHashtags = "#shop #shopping #new_products #offers #exclusive"
	}
	if r.CallToAction == "" {
		r.CallToAction = "Get it now:"
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBackendFile
	}
	if cfg.Store.FilePath == "" {
		cfg.Store.FilePath = "./sync.json"
	}
	if cfg.Store.Table == "" {
		cfg.Store.Table = "product-sync"
	}
	if cfg.Dedupe.Backend == "" {
		cfg.Dedupe.Backend = DedupeBackendMemory
	}
	if cfg.Dedupe.Table == "" {
		cfg.Dedupe.Table = "webhook-deliveries"
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = 48 * time.Hour
	}
	if cfg.Dedupe.RedisAddr == "" {
		cfg.Dedupe.RedisAddr = "localhost:6379"
	}

	if cfg.Shopify.APIVersion == "" {
		cfg.Shopify.APIVersion = "2024-10"
	}
	if cfg.Shopify.Timeout == 0 {
		cfg.Shopify.Timeout = 20 * time.Second
	}
	if cfg.Meta.GraphURL == "" {
		cfg.Meta.GraphURL = "https://graph.facebook.com/v20.0"
	}
	if cfg.Meta.Timeout == 0 {
		cfg.Meta.Timeout = 30 * time.Second
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-3.5-turbo"
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.OpenAI.Timeout == 0 {
		cfg.OpenAI.Timeout = 20 * time.Second
	}

	if cfg.Reconcile.Timezone == "" {
		cfg.Reconcile.Timezone = "Asia/Muscat"
	}
	if cfg.Reconcile.CheckInterval == 0 {
		cfg.Reconcile.CheckInterval = time.Minute
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.AWS.MetricsNamespace == "" {
		cfg.AWS.MetricsNamespace = "ProductRelay"
	}
}

func (c *Config) validate() error {
	r := c.Relay
	if r.MinInterval > r.MaxInterval {
		return fmt.Errorf("config: relay.min_interval %s exceeds relay.max_interval %s", r.MinInterval, r.MaxInterval)
	}
	if r.InitialInterval < r.MinInterval || r.InitialInterval > r.MaxInterval {
		return fmt.Errorf("config: relay.initial_interval %s outside [%s, %s]", r.InitialInterval, r.MinInterval, r.MaxInterval)
	}
	if r.SuccessThreshold < 1 || r.FailureThreshold < 1 {
		return errors.New("config: relay success/failure thresholds must be positive")
	}
	if r.SuccessStep < 0 || r.FailureStep < 0 {
		return errors.New("config: relay steps must not be negative")
	}
	if r.MaxImages < 1 {
		return errors.New("config: relay.max_images must be positive")
	}
	switch c.Store.Backend {
	case StoreBackendFile, StoreBackendDynamoDB:
	default:
		return fmt.Errorf("config: unknown store.backend %q", c.Store.Backend)
	}
	switch c.Dedupe.Backend {
	case DedupeBackendMemory, DedupeBackendDynamoDB, DedupeBackendRedis:
	default:
		return fmt.Errorf("config: unknown dedupe.backend %q", c.Dedupe.Backend)
	}
	if c.Reconcile.DailyHour < 0 || c.Reconcile.DailyHour > 23 || c.Reconcile.DailyMinute < 0 || c.Reconcile.DailyMinute > 59 {
		return errors.New("config: reconcile daily time out of range")
	}
	if _, err := time.LoadLocation(c.Reconcile.Timezone); err != nil {
		return fmt.Errorf("config: reconcile.timezone: %w", err)
	}
	return nil
}

// IsProduction reports whether the app runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
