package observability

import (
	"strings"

	"github.com/smallbiznis/ensmarket/internal/config"
)

// Config is the slice of the application config the logger, tracer and
// meter providers are built from.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	Export ExportConfig
}

// ExportConfig controls OTLP export of traces and metrics.
type ExportConfig struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "ensmarket"
	}
	ratio := cfg.Telemetry.SamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}

	return Config{
		ServiceName: serviceName,
		Environment: strings.TrimSpace(cfg.Environment),
		Version:     strings.TrimSpace(cfg.AppVersion),
		LogLevel:    cfg.Telemetry.LogLevel,
		LogFormat:   cfg.Telemetry.LogFormat,
		Export: ExportConfig{
			Enabled:       cfg.Telemetry.OtelEnabled,
			Endpoint:      cfg.Telemetry.OTLPEndpoint,
			Protocol:      cfg.Telemetry.OTLPProtocol,
			SamplingRatio: ratio,
		},
	}
}

// Debug turns on development logging and verbose request logs.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
