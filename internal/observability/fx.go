package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/catalogsync/internal/observability/logger"
	"github.com/smallbiznis/catalogsync/internal/observability/metrics"
	"github.com/smallbiznis/catalogsync/internal/observability/tracing"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		provideRegistry,
		metrics.NewRunMetrics,
		metrics.NewPusher,
	),
)

// Each run gets its own registry so a push carries only that run's series.
func provideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Exporter:    cfg.MetricsExporter,
		Endpoint:    cfg.MetricsEndpoint,
		AuthToken:   cfg.MetricsAuthToken,
	}
}
