package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeReconcileFile(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reconcile.yaml"), []byte(body), 0o600))
}

func TestValidateReconcileConfig(t *testing.T) {
	require.NoError(t, ValidateReconcileConfig(DefaultReconcileConfig()))

	cases := map[string]func(*ReconcileConfig){
		"unpaid_timeout":      func(c *ReconcileConfig) { c.UnpaidTimeout = 12 * time.Hour },
		"overdue_grace":       func(c *ReconcileConfig) { c.OverdueGrace = 0 },
		"overdue_short":       func(c *ReconcileConfig) { c.OverdueGrace = time.Hour },
		"batch_size":          func(c *ReconcileConfig) { c.BatchSize = 0 },
		"gateway_timeout":     func(c *ReconcileConfig) { c.GatewayTimeout = 0 },
		"job_timeout":         func(c *ReconcileConfig) { c.JobTimeout = 0 },
		"interval":            func(c *ReconcileConfig) { c.Interval = -time.Second },
		"lock_ttl":            func(c *ReconcileConfig) { c.LockTTL = 0 },
		"max_expire_attempts": func(c *ReconcileConfig) { c.MaxExpireTries = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultReconcileConfig()
			mutate(&cfg)
			assert.Error(t, ValidateReconcileConfig(cfg))
		})
	}
}

func TestLoadReconcileConfigDefaultsWithoutFile(t *testing.T) {
	holder, _, err := loadReconcileConfig(nil, false, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultReconcileConfig(), holder.Get())
}

func TestLoadReconcileConfigMergesPartialFileWithDefaults(t *testing.T) {
	dir := t.TempDir()
	writeReconcileFile(t, dir, "reconcile:\n  overdue_grace: 96h\n  jobs:\n    issue_refunds: false\n")

	holder, _, err := loadReconcileConfig(nil, false, dir)
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 96*time.Hour, cfg.OverdueGrace)
	assert.Equal(t, UnpaidTimeout, cfg.UnpaidTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5, cfg.MaxExpireTries)
	assert.False(t, cfg.JobEnabled("issue_refunds"))
	assert.True(t, cfg.JobEnabled("update_unpaid_orders"))
}

func TestLoadReconcileConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeReconcileFile(t, dir, "reconcile:\n  overdue_grace: 96h\n  batch_size: 50\n")
	t.Setenv("RECONCILE_OVERDUE_GRACE", "120h")
	t.Setenv("RECONCILE_JOB_TIMEOUT", "2m")

	holder, _, err := loadReconcileConfig(nil, false, dir)
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 120*time.Hour, cfg.OverdueGrace)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
}

func TestLoadReconcileConfigRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeReconcileFile(t, dir, "reconcile:\n  unpaid_timeout: 12h\n")

	_, _, err := loadReconcileConfig(nil, false, dir)
	assert.Error(t, err)
}

func TestReconcileReloadKeepsPreviousOnInvalidChange(t *testing.T) {
	dir := t.TempDir()
	writeReconcileFile(t, dir, "reconcile:\n  overdue_grace: 96h\n")

	holder, v, err := loadReconcileConfig(nil, false, dir)
	require.NoError(t, err)

	writeReconcileFile(t, dir, "reconcile:\n  overdue_grace: 96h\n  max_expire_attempts: 0\n")
	require.NoError(t, v.ReadInConfig())
	assert.Error(t, holder.apply(v))
	assert.Equal(t, 96*time.Hour, holder.Get().OverdueGrace)
	assert.Equal(t, 5, holder.Get().MaxExpireTries)

	writeReconcileFile(t, dir, "reconcile:\n  overdue_grace: 48h\n")
	require.NoError(t, v.ReadInConfig())
	require.NoError(t, holder.apply(v))
	assert.Equal(t, 48*time.Hour, holder.Get().OverdueGrace)
}

func TestLoadGatewayConfigReadsPrefixedEnv(t *testing.T) {
	t.Setenv("GATEWAY_SECRET_KEY", "xnd_test")
	t.Setenv("GATEWAY_BASE_URL", "https://gateway.test")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("GATEWAY_MAX_RETRIES", "2")
	t.Setenv("SECRET_KEY", "unprefixed")

	cfg, err := LoadGatewayConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "xnd_test", cfg.SecretKey)
	assert.Equal(t, "https://gateway.test", cfg.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.EqualValues(t, 2, cfg.MaxRetries)
	assert.Equal(t, "IDR", cfg.Currency)
	assert.Equal(t, 24*time.Hour, cfg.InvoiceExpiry)
}

func TestLoadGatewayConfigRejectsMalformedDuration(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT", "soon")

	_, err := LoadGatewayConfig()
	assert.Error(t, err)
}
