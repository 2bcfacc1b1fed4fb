package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/codemother/codemother/pkg/config"
)

// Config holds the settings of every telemetry signal the engine emits.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Environment is "development" for console logs and "production" for JSON.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig

	// NATSURL forwards execution and node events to NATS when set.
	NATSURL string
}

type LoggingConfig struct {
	Level  string // trace, debug, info, warn, error, fatal
	Format string // console or json
	// Output is stdout, stderr or a file path.
	Output     string
	TimeFormat string // unix, unixms, unixmicro, rfc3339

	EnableCaller bool

	// Sampling keeps SamplingInitial entries per second, then one in
	// SamplingThereafter.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int
}

type TracingConfig struct {
	Enabled  bool
	Exporter string // otlp, stdout, none
	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint     string
	Insecure     bool
	Headers      map[string]string
	SamplingRate float64

	MaxExportBatchSize int
	ExportTimeout      time.Duration
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
	// DefaultHistogramBuckets are in seconds. Model calls and npm builds run
	// for minutes, so they reach ten minutes.
	DefaultHistogramBuckets []float64
}

// EventsConfig sizes the execution event publisher. With EnableAsync events
// are batched up to MaxBatchSize or FlushInterval, whichever comes first.
type EventsConfig struct {
	Enabled       bool
	BufferSize    int
	MaxBatchSize  int
	FlushInterval time.Duration
	EnableAsync   bool
}

// DefaultConfig is the configuration of a local development run.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "codemother",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			TimeFormat:         "rfc3339",
			SamplingInitial:    100,
			SamplingThereafter: 100,
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			Insecure:           true,
			Headers:            map[string]string{},
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			Namespace:               "codemother",
			DefaultHistogramBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			MaxBatchSize:  100,
			FlushInterval: time.Second,
			EnableAsync:   true,
		},
	}
}

// FromAppConfig maps the telemetry section of the application config onto
// the defaults. JSON logging implies a production deployment.
func FromAppConfig(tc config.TelemetryConfig, version string) *Config {
	cfg := DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}

	cfg.Logging.Level = tc.LogLevel
	cfg.Logging.Format = tc.LogFormat
	if tc.LogFormat == "json" {
		cfg.Environment = "production"
		cfg.Logging.TimeFormat = "unixms"
	}

	cfg.Tracing.Enabled = tc.TracingEnabled
	if tc.TracingExporter != "" {
		cfg.Tracing.Exporter = tc.TracingExporter
	}
	cfg.Tracing.Endpoint = tc.OTLPEndpoint
	cfg.Tracing.SamplingRate = tc.SamplingRate

	cfg.Metrics.Enabled = tc.MetricsEnabled
	cfg.NATSURL = tc.NATSURL
	return cfg
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service version is required"))
	}

	if lvl, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil || lvl == zerolog.NoLevel {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q, want console or json", c.Logging.Format))
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp":
			if c.Tracing.Endpoint == "" {
				errs = append(errs, errors.New("otlp exporter requires an endpoint"))
			}
		case "stdout", "none":
		default:
			errs = append(errs, fmt.Errorf("invalid trace exporter %q", c.Tracing.Exporter))
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate %v outside [0, 1]", c.Tracing.SamplingRate))
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event buffer size must be positive, got %d", c.Events.BufferSize))
	}
	return errors.Join(errs...)
}
