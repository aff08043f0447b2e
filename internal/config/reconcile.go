package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// UnpaidTimeout is how long an order may wait for payment before it fails.
const UnpaidTimeout = 24 * time.Hour

// ReconcileConfig tunes the reconciliation passes.
type ReconcileConfig struct {
	UnpaidTimeout  time.Duration   `mapstructure:"unpaid_timeout"`
	OverdueGrace   time.Duration   `mapstructure:"overdue_grace"`
	BatchSize      int             `mapstructure:"batch_size"`
	GatewayTimeout time.Duration   `mapstructure:"gateway_timeout"`
	JobTimeout     time.Duration   `mapstructure:"job_timeout"`
	Interval       time.Duration   `mapstructure:"interval"`
	LockTTL        time.Duration   `mapstructure:"lock_ttl"`
	MaxExpireTries int             `mapstructure:"max_expire_attempts"`
	Jobs           map[string]bool `mapstructure:"jobs"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		UnpaidTimeout:  UnpaidTimeout,
		OverdueGrace:   72 * time.Hour,
		BatchSize:      100,
		GatewayTimeout: 10 * time.Second,
		JobTimeout:     10 * time.Minute,
		Interval:       24 * time.Hour,
		LockTTL:        30 * time.Minute,
		MaxExpireTries: 5,
	}
}

// JobEnabled reports whether a named job should run. Jobs are on unless disabled.
func (c ReconcileConfig) JobEnabled(name string) bool {
	if c.Jobs == nil {
		return true
	}
	enabled, ok := c.Jobs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return true
	}
	return enabled
}

// ReconcileConfigHolder keeps the live reconcile policy; reloads swap it atomically.
type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

// NewStaticReconcileConfigHolder returns a holder that never reloads.
func NewStaticReconcileConfigHolder(cfg ReconcileConfig) *ReconcileConfigHolder {
	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

var reconcileConfigPaths = []string{"/etc/storefront", "./config", "."}

// Keys under the reconcile section of reconcile.yaml. Each one is also read
// from RECONCILE_<KEY>, e.g. RECONCILE_OVERDUE_GRACE=96h.
const (
	keyUnpaidTimeout  = "reconcile.unpaid_timeout"
	keyOverdueGrace   = "reconcile.overdue_grace"
	keyBatchSize      = "reconcile.batch_size"
	keyGatewayTimeout = "reconcile.gateway_timeout"
	keyJobTimeout     = "reconcile.job_timeout"
	keyInterval       = "reconcile.interval"
	keyLockTTL        = "reconcile.lock_ttl"
	keyMaxExpireTries = "reconcile.max_expire_attempts"
	keyJobs           = "reconcile.jobs"
)

func NewReconcileConfigHolder(log *zap.Logger) (*ReconcileConfigHolder, error) {
	holder, _, err := loadReconcileConfig(log, true, reconcileConfigPaths...)
	return holder, err
}

func loadReconcileConfig(log *zap.Logger, watch bool, paths ...string) (*ReconcileConfigHolder, *viper.Viper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.reconcile")

	v := viper.New()
	v.SetConfigName("reconcile")
	v.SetConfigType("yaml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	defaults := DefaultReconcileConfig()
	v.SetDefault(keyUnpaidTimeout, defaults.UnpaidTimeout)
	v.SetDefault(keyOverdueGrace, defaults.OverdueGrace)
	v.SetDefault(keyBatchSize, defaults.BatchSize)
	v.SetDefault(keyGatewayTimeout, defaults.GatewayTimeout)
	v.SetDefault(keyJobTimeout, defaults.JobTimeout)
	v.SetDefault(keyInterval, defaults.Interval)
	v.SetDefault(keyLockTTL, defaults.LockTTL)
	v.SetDefault(keyMaxExpireTries, defaults.MaxExpireTries)

	for _, key := range []string{
		keyUnpaidTimeout, keyOverdueGrace, keyBatchSize, keyGatewayTimeout,
		keyJobTimeout, keyInterval, keyLockTTL, keyMaxExpireTries,
	} {
		if err := v.BindEnv(key, reconcileEnvName(key)); err != nil {
			return nil, nil, err
		}
	}

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeReconcile(v)
	if err != nil {
		return nil, nil, err
	}

	holder := NewStaticReconcileConfigHolder(cfg)
	if !fileLoaded || !watch {
		return holder, v, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := holder.apply(v); err != nil {
			log.Warn("invalid reconcile config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("reconcile config reloaded", zap.String("file", e.Name))
	})

	return holder, v, nil
}

func reconcileEnvName(key string) string {
	return "RECONCILE_" + strings.ToUpper(strings.TrimPrefix(key, "reconcile."))
}

func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	return h.current.Load().(ReconcileConfig)
}

// apply decodes v and swaps it in. An invalid config leaves the current one.
func (h *ReconcileConfigHolder) apply(v *viper.Viper) error {
	cfg, err := decodeReconcile(v)
	if err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

// decodeReconcile reads key by key so file values, env overrides and defaults
// merge per field.
func decodeReconcile(v *viper.Viper) (ReconcileConfig, error) {
	cfg := ReconcileConfig{
		UnpaidTimeout:  v.GetDuration(keyUnpaidTimeout),
		OverdueGrace:   v.GetDuration(keyOverdueGrace),
		BatchSize:      v.GetInt(keyBatchSize),
		GatewayTimeout: v.GetDuration(keyGatewayTimeout),
		JobTimeout:     v.GetDuration(keyJobTimeout),
		Interval:       v.GetDuration(keyInterval),
		LockTTL:        v.GetDuration(keyLockTTL),
		MaxExpireTries: v.GetInt(keyMaxExpireTries),
	}
	if jobs := v.GetStringMap(keyJobs); len(jobs) > 0 {
		cfg.Jobs = make(map[string]bool, len(jobs))
		for name := range jobs {
			cfg.Jobs[strings.ToLower(name)] = v.GetBool(keyJobs + "." + name)
		}
	}
	if err := ValidateReconcileConfig(cfg); err != nil {
		return ReconcileConfig{}, err
	}
	return cfg, nil
}

func ValidateReconcileConfig(cfg ReconcileConfig) error {
	if cfg.UnpaidTimeout != UnpaidTimeout {
		return errors.New("reconcile.unpaid_timeout is fixed at 24h")
	}
	if cfg.OverdueGrace <= 0 {
		return errors.New("reconcile.overdue_grace must be positive")
	}
	if cfg.OverdueGrace < cfg.UnpaidTimeout {
		return errors.New("reconcile.overdue_grace must not be shorter than unpaid_timeout")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("reconcile.batch_size must be positive")
	}
	if cfg.GatewayTimeout <= 0 {
		return errors.New("reconcile.gateway_timeout must be positive")
	}
	if cfg.JobTimeout <= 0 {
		return errors.New("reconcile.job_timeout must be positive")
	}
	if cfg.Interval <= 0 {
		return errors.New("reconcile.interval must be positive")
	}
	if cfg.LockTTL <= 0 {
		return errors.New("reconcile.lock_ttl must be positive")
	}
	if cfg.MaxExpireTries <= 0 {
		return errors.New("reconcile.max_expire_attempts must be positive")
	}
	return nil
}
