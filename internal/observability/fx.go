package observability

import (
	"github.com/smallbiznis/ensmarket/internal/observability/logger"
	"github.com/smallbiznis/ensmarket/internal/observability/metrics"
	"github.com/smallbiznis/ensmarket/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module wires the zap logger, the tracer and meter providers, the otel
// counters and the prometheus collectors used by the jobs and the HTTP edge.
var Module = fx.Module("observability",
	fx.Provide(LoadConfig),
	fx.Provide(
		func(cfg Config) logger.Config {
			debug := cfg.Debug()
			return logger.Config{
				ServiceName:         cfg.ServiceName,
				Environment:         cfg.Environment,
				Version:             cfg.Version,
				Level:               cfg.LogLevel,
				Format:              cfg.LogFormat,
				Debug:               debug,
				IncludeCaller:       true,
				IncludeStackOnError: debug,
			}
		},
		func(cfg Config) tracing.Config {
			return tracing.Config{
				Enabled:          cfg.Export.Enabled,
				ServiceName:      cfg.ServiceName,
				ServiceVersion:   cfg.Version,
				Environment:      cfg.Environment,
				ExporterEndpoint: cfg.Export.Endpoint,
				ExporterProtocol: cfg.Export.Protocol,
				SamplingRatio:    cfg.Export.SamplingRatio,
			}
		},
		func(cfg Config) metrics.Config {
			return metrics.Config{
				Enabled:          cfg.Export.Enabled,
				ExporterEndpoint: cfg.Export.Endpoint,
				ExporterProtocol: cfg.Export.Protocol,
				ServiceName:      cfg.ServiceName,
				Environment:      cfg.Environment,
			}
		},
	),
	fx.Provide(
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.WorkerWithConfig,
	),
	// The tracer provider registers itself globally; nothing else depends on it.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
