// Package config loads runtime configuration from a YAML file with secrets
// taken from the environment.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTTLHours       = 24
	defaultDelayHours     = 120
	defaultMaxRetries     = 3
	defaultBaseRetryDelay = 1 * time.Second
	defaultMaxRetryDelay  = 30 * time.Second
	defaultRequestTimeout = 15 * time.Second
	defaultPageSize       = 50
	defaultWorkers        = 4
	defaultWALDir         = "./wal/decisions"
	defaultAuditDir       = "./audit"
)

// Config is the validated runtime configuration of one pass.
type Config struct {
	DryRun           bool
	IdempotencyTTL   time.Duration
	RefundDelay      time.Duration
	MaxRetryAttempts int
	BaseRetryDelay   time.Duration
	MaxRetryDelay    time.Duration
	RequestTimeout   time.Duration
	StoreTimezone    *time.Location
	PageSize         int
	Workers          int
	WALDir           string
	AuditDir         string

	ShopifyStoreURL    string
	ShopifyAccessToken string
	TrackingAPIURL     string
	TrackingAPIKey     string
	SlackWebhookURL    string
}

type configTmp struct {
	DryRun              bool          `yaml:"dry_run"`
	IdempotencyTTLHours int           `yaml:"idempotency_ttl_hours,omitempty"`
	RefundDelayHours    *int          `yaml:"refund_delay_hours,omitempty"`
	MaxRetryAttempts    int           `yaml:"max_retry_attempts,omitempty"`
	BaseRetryDelay      time.Duration `yaml:"base_retry_delay,omitempty"`
	MaxRetryDelay       time.Duration `yaml:"max_retry_delay,omitempty"`
	RequestTimeout      time.Duration `yaml:"request_timeout,omitempty"`
	StoreTimezone       string        `yaml:"store_timezone,omitempty"`
	PageSize            int           `yaml:"page_size,omitempty"`
	Workers             int           `yaml:"workers,omitempty"`
	WALDir              string        `yaml:"wal_dir,omitempty"`
	AuditDir            string        `yaml:"audit_dir,omitempty"`
	ShopifyStoreURL     string        `yaml:"shopify_store_url"`
	TrackingAPIURL      string        `yaml:"tracking_api_url"`
}

// Get parses flags, reads the YAML config and the secret environment
// variables, applies defaults and validates the result.
func Get() (Config, error) {
	path := flag.String("config", "config.yaml", "path to yaml config")
	dryRun := flag.Bool("dry-run", false, "compute decisions without issuing refunds")
	flag.Parse()

	cfg, err := FromFile(*path)
	if err != nil {
		return Config{}, err
	}

	if *dryRun {
		cfg.DryRun = true
	}

	return cfg, nil
}

// FromFile loads and validates the configuration at path.
func FromFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var tmp configTmp
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return build(tmp)
}

func build(tmp configTmp) (Config, error) {
	if tmp.ShopifyStoreURL == "" {
		return Config{}, fmt.Errorf("'shopify_store_url' is required")
	}
	if tmp.TrackingAPIURL == "" {
		return Config{}, fmt.Errorf("'tracking_api_url' is required")
	}

	accessToken := os.Getenv("SHOPIFY_ACCESS_TOKEN")
	if accessToken == "" {
		return Config{}, fmt.Errorf("SHOPIFY_ACCESS_TOKEN environment variable must be set")
	}
	trackingKey := os.Getenv("TRACKING_API_KEY")
	if trackingKey == "" {
		return Config{}, fmt.Errorf("TRACKING_API_KEY environment variable must be set")
	}

	cfg := Config{
		DryRun:             tmp.DryRun,
		IdempotencyTTL:     time.Duration(defaultTTLHours) * time.Hour,
		RefundDelay:        time.Duration(defaultDelayHours) * time.Hour,
		MaxRetryAttempts:   defaultMaxRetries,
		BaseRetryDelay:     defaultBaseRetryDelay,
		MaxRetryDelay:      defaultMaxRetryDelay,
		RequestTimeout:     defaultRequestTimeout,
		StoreTimezone:      time.UTC,
		PageSize:           defaultPageSize,
		Workers:            defaultWorkers,
		WALDir:             defaultWALDir,
		AuditDir:           defaultAuditDir,
		ShopifyStoreURL:    tmp.ShopifyStoreURL,
		ShopifyAccessToken: accessToken,
		TrackingAPIURL:     tmp.TrackingAPIURL,
		TrackingAPIKey:     trackingKey,
		SlackWebhookURL:    os.Getenv("SLACK_WEBHOOK_URL"),
	}

	if tmp.IdempotencyTTLHours < 0 {
		return Config{}, fmt.Errorf("'idempotency_ttl_hours' must be positive, got %d", tmp.IdempotencyTTLHours)
	}
	if tmp.IdempotencyTTLHours > 0 {
		cfg.IdempotencyTTL = time.Duration(tmp.IdempotencyTTLHours) * time.Hour
	}

	// explicit zero disables the post-delivery hold
	if tmp.RefundDelayHours != nil {
		if *tmp.RefundDelayHours < 0 {
			return Config{}, fmt.Errorf("'refund_delay_hours' must not be negative, got %d", *tmp.RefundDelayHours)
		}
		cfg.RefundDelay = time.Duration(*tmp.RefundDelayHours) * time.Hour
	}

	if tmp.MaxRetryAttempts < 0 {
		return Config{}, fmt.Errorf("'max_retry_attempts' must be positive, got %d", tmp.MaxRetryAttempts)
	}
	if tmp.MaxRetryAttempts > 0 {
		cfg.MaxRetryAttempts = tmp.MaxRetryAttempts
	}

	if tmp.BaseRetryDelay > 0 {
		cfg.BaseRetryDelay = tmp.BaseRetryDelay
	}
	if tmp.MaxRetryDelay > 0 {
		cfg.MaxRetryDelay = tmp.MaxRetryDelay
	}
	if cfg.MaxRetryDelay < cfg.BaseRetryDelay {
		return Config{}, fmt.Errorf("'max_retry_delay' (%s) must not be below 'base_retry_delay' (%s)",
			cfg.MaxRetryDelay, cfg.BaseRetryDelay)
	}
	if tmp.RequestTimeout > 0 {
		cfg.RequestTimeout = tmp.RequestTimeout
	}

	if tmp.StoreTimezone != "" {
		loc, err := time.LoadLocation(tmp.StoreTimezone)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'store_timezone' param %q: %w", tmp.StoreTimezone, err)
		}
		cfg.StoreTimezone = loc
	}

	if tmp.PageSize > 0 {
		cfg.PageSize = tmp.PageSize
	}
	if tmp.Workers > 0 {
		cfg.Workers = tmp.Workers
	}
	if tmp.WALDir != "" {
		cfg.WALDir = tmp.WALDir
	}
	if tmp.AuditDir != "" {
		cfg.AuditDir = tmp.AuditDir
	}

	return cfg, nil
}
