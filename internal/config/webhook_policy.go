package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// WebhookPolicy is the operator-tunable part of webhook ingress. It can be
// overridden by a webhook.yml file and is reloaded when the file changes.
type WebhookPolicy struct {
	IPAllowlist []string      `mapstructure:"ipAllowlist"`
	TTL         time.Duration `mapstructure:"ttl"`
	RateLimit   float64       `mapstructure:"rateLimit"`
	RateBurst   int           `mapstructure:"rateBurst"`
}

func DefaultWebhookPolicy(cfg Config) WebhookPolicy {
	return WebhookPolicy{
		IPAllowlist: append([]string(nil), cfg.ENS.WebhookIPAllowlist...),
		TTL:         cfg.ENS.WebhookTTL,
		RateLimit:   cfg.ENS.WebhookRateLimit,
		RateBurst:   cfg.ENS.WebhookRateBurst,
	}
}

type WebhookPolicyHolder struct {
	current atomic.Value // holds WebhookPolicy
}

// NewStaticWebhookPolicyHolder returns a holder that never reloads.
func NewStaticWebhookPolicyHolder(policy WebhookPolicy) *WebhookPolicyHolder {
	holder := &WebhookPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewWebhookPolicyHolder(cfg Config, log *zap.Logger) (*WebhookPolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.webhook_policy")

	v := viper.New()
	v.SetConfigName("webhook")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/ensmarket/config")
	v.AddConfigPath("/etc/ensmarket")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENSMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultWebhookPolicy(cfg)
	v.SetDefault("webhook.ipAllowlist", defaults.IPAllowlist)
	v.SetDefault("webhook.ttl", defaults.TTL)
	v.SetDefault("webhook.rateLimit", defaults.RateLimit)
	v.SetDefault("webhook.rateBurst", defaults.RateBurst)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var policy WebhookPolicy
	if err := v.UnmarshalKey("webhook", &policy); err != nil {
		return nil, err
	}
	if err := ValidateWebhookPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticWebhookPolicyHolder(policy)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated WebhookPolicy
		if err := v.UnmarshalKey("webhook", &updated); err != nil {
			log.Warn("webhook policy reload failed", zap.Error(err))
			return
		}
		if err := ValidateWebhookPolicy(updated); err != nil {
			log.Warn("invalid webhook policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("webhook policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *WebhookPolicyHolder) Get() WebhookPolicy {
	if h == nil {
		return WebhookPolicy{}
	}
	policy, _ := h.current.Load().(WebhookPolicy)
	return policy
}

func ValidateWebhookPolicy(policy WebhookPolicy) error {
	if policy.TTL <= 0 {
		return errors.New("webhook.ttl must be positive")
	}
	if policy.RateLimit < 0 || policy.RateBurst < 0 {
		return errors.New("webhook rate limit must not be negative")
	}
	for _, entry := range policy.IPAllowlist {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("webhook.ipAllowlist: invalid cidr %q", entry)
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("webhook.ipAllowlist: invalid ip %q", entry)
		}
	}
	return nil
}
