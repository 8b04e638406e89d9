package worker

import (
	"time"

	"github.com/smallbiznis/ensmarket/internal/config"
)

const (
	JobReconcile    = "reconcile"
	JobWatch        = "watch"
	JobWebhookRetry = "webhook_retry"
)

// Config controls job intervals and batch sizes. A zero interval disables the
// scheduled job; manual runs through the internal API still work.
type Config struct {
	Enabled               bool
	ReconcileInterval     time.Duration
	ReconcileLimit        int
	ReconcileStaleMinutes int
	WatchInterval         time.Duration
	WatchLimit            int
	RetryInterval         time.Duration
	RetryLimit            int
	JobTimeout            time.Duration
	ChainConfigured       bool
}

func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		ReconcileLimit:        100,
		ReconcileStaleMinutes: 15,
		WatchLimit:            50,
		RetryLimit:            50,
		JobTimeout:            2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:               cfg.Worker.Enabled,
		ReconcileInterval:     cfg.Worker.ReconcileInterval,
		ReconcileLimit:        cfg.Worker.ReconcileLimit,
		ReconcileStaleMinutes: cfg.Worker.ReconcileStaleMinutes,
		WatchInterval:         cfg.Worker.WatchInterval,
		WatchLimit:            cfg.Worker.WatchLimit,
		RetryInterval:         cfg.Worker.RetryInterval,
		RetryLimit:            cfg.Worker.RetryLimit,
		JobTimeout:            cfg.Worker.JobTimeout,
		ChainConfigured:       cfg.Chain.RPCURL != "",
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ReconcileLimit <= 0 {
		c.ReconcileLimit = defaults.ReconcileLimit
	}
	if c.ReconcileStaleMinutes < 0 {
		c.ReconcileStaleMinutes = defaults.ReconcileStaleMinutes
	}
	if c.WatchLimit <= 0 {
		c.WatchLimit = defaults.WatchLimit
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = defaults.RetryLimit
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ReconcileInterval < 0 {
		c.ReconcileInterval = 0
	}
	if c.WatchInterval < 0 {
		c.WatchInterval = 0
	}
	if c.RetryInterval < 0 {
		c.RetryInterval = 0
	}
	return c
}

func (c Config) interval(job string) time.Duration {
	switch job {
	case JobReconcile:
		return c.ReconcileInterval
	case JobWatch:
		if !c.ChainConfigured {
			return 0
		}
		return c.WatchInterval
	case JobWebhookRetry:
		return c.RetryInterval
	}
	return 0
}
