package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("SHOPIFY_ACCESS_TOKEN", "shpat_test")
	t.Setenv("TRACKING_API_KEY", "17track_test")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.example/T/B/x")
}

func TestFromFile_Defaults(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
shopify_store_url: acme-store
tracking_api_url: https://api.17track.net/track/v2.2
`)

	cfg, err := FromFile(path)
	require.NoError(t, err)
	require.False(t, cfg.DryRun)
	require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	require.Equal(t, 120*time.Hour, cfg.RefundDelay)
	require.Equal(t, 3, cfg.MaxRetryAttempts)
	require.Equal(t, 1*time.Second, cfg.BaseRetryDelay)
	require.Equal(t, 30*time.Second, cfg.MaxRetryDelay)
	require.Equal(t, time.UTC, cfg.StoreTimezone)
	require.Equal(t, 50, cfg.PageSize)
	require.Equal(t, "shpat_test", cfg.ShopifyAccessToken)
	require.Equal(t, "17track_test", cfg.TrackingAPIKey)
}

func TestFromFile_Overrides(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
dry_run: true
idempotency_ttl_hours: 48
refund_delay_hours: 72
max_retry_attempts: 5
base_retry_delay: 500ms
max_retry_delay: 10s
store_timezone: America/New_York
page_size: 25
workers: 8
shopify_store_url: acme-store
tracking_api_url: https://api.17track.net/track/v2.2
`)

	cfg, err := FromFile(path)
	require.NoError(t, err)
	require.True(t, cfg.DryRun)
	require.Equal(t, 48*time.Hour, cfg.IdempotencyTTL)
	require.Equal(t, 72*time.Hour, cfg.RefundDelay)
	require.Equal(t, 5, cfg.MaxRetryAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.BaseRetryDelay)
	require.Equal(t, 10*time.Second, cfg.MaxRetryDelay)
	require.Equal(t, "America/New_York", cfg.StoreTimezone.String())
	require.Equal(t, 25, cfg.PageSize)
	require.Equal(t, 8, cfg.Workers)
}

func TestFromFile_ZeroRefundDelayDisablesHold(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
refund_delay_hours: 0
shopify_store_url: acme-store
tracking_api_url: https://api.17track.net/track/v2.2
`)

	cfg, err := FromFile(path)
	require.NoError(t, err)
	require.Zero(t, cfg.RefundDelay)
}

func TestFromFile_Validation(t *testing.T) {
	setSecrets(t)

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing store url",
			yaml:    "tracking_api_url: https://api.17track.net",
			wantErr: "shopify_store_url",
		},
		{
			name:    "missing tracking url",
			yaml:    "shopify_store_url: acme-store",
			wantErr: "tracking_api_url",
		},
		{
			name: "bad timezone",
			yaml: `
shopify_store_url: acme-store
tracking_api_url: https://api.17track.net
store_timezone: Mars/Olympus_Mons
`,
			wantErr: "store_timezone",
		},
		{
			name: "negative refund delay",
			yaml: `
shopify_store_url: acme-store
tracking_api_url: https://api.17track.net
refund_delay_hours: -1
`,
			wantErr: "refund_delay_hours",
		},
		{
			name: "max delay below base delay",
			yaml: `
shopify_store_url: acme-store
tracking_api_url: https://api.17track.net
base_retry_delay: 10s
max_retry_delay: 1s
`,
			wantErr: "max_retry_delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromFile(writeConfig(t, tt.yaml))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromFile_MissingSecrets(t *testing.T) {
	t.Setenv("SHOPIFY_ACCESS_TOKEN", "")
	t.Setenv("TRACKING_API_KEY", "17track_test")

	path := writeConfig(t, `
shopify_store_url: acme-store
tracking_api_url: https://api.17track.net
`)

	_, err := FromFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "SHOPIFY_ACCESS_TOKEN")
}
