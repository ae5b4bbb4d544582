package observability

import (
	"strings"

	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/observability/logger"
	"github.com/smallbiznis/ticketpay/internal/observability/metrics"
	"github.com/smallbiznis/ticketpay/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	fx.Provide(
		func(c Config) logger.Config { return c.Logger },
		func(c Config) logger.GormLoggerConfig { return c.Gorm },
		func(c Config) tracing.Config { return c.Tracing },
		func(c Config) metrics.Config { return c.Metrics },
	),
	fx.Invoke(func(_ *sdktrace.TracerProvider) {}),
	fx.Invoke(metrics.SchedulerWithConfig),
)

// Config fans the process configuration out to the logging, tracing and
// metrics packages.
type Config struct {
	Environment string
	Logger      logger.Config
	Gorm        logger.GormLoggerConfig
	Tracing     tracing.Config
	Metrics     metrics.Config
}

func LoadConfig(cfg config.Config) Config {
	service := strings.TrimSpace(cfg.AppName)
	if service == "" {
		service = "ticketpay"
	}
	env := strings.TrimSpace(cfg.Environment)
	debug := cfg.LogLevel == "debug" || isDevEnv(env)

	gormLevel := gormlogger.Warn
	if debug {
		gormLevel = gormlogger.Info
	}

	return Config{
		Environment: env,
		Logger: logger.Config{
			ServiceName:         service,
			Environment:         env,
			Version:             cfg.AppVersion,
			Level:               cfg.LogLevel,
			Format:              cfg.LogFormat,
			Debug:               debug,
			IncludeCaller:       true,
			IncludeStackOnError: debug,
		},
		Gorm: logger.GormLoggerConfig{
			Level:         gormLevel,
			SlowThreshold: cfg.DBSlowQuery,
		},
		Tracing: tracing.Config{
			Enabled:          cfg.OtelEnabled,
			ServiceName:      service,
			ServiceVersion:   cfg.AppVersion,
			Environment:      env,
			ExporterEndpoint: cfg.OTLPEndpoint,
			ExporterProtocol: cfg.OTLPProtocol,
			SamplingRatio:    cfg.OtelSamplingRatio,
		},
		Metrics: metrics.Config{
			Enabled:          cfg.OtelEnabled,
			ExporterEndpoint: cfg.OTLPEndpoint,
			ExporterProtocol: cfg.OTLPProtocol,
			ServiceName:      service,
			Environment:      env,
		},
	}
}

func (c Config) Debug() bool {
	return c.Logger.Debug
}

func isDevEnv(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
