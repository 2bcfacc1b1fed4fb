package config

import (
	"fmt"
	"time"
)

// AppConfig is the full application configuration.
type AppConfig struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Workflow  WorkflowConfig  `json:"workflow" yaml:"workflow"`
	Models    []ModelConfig   `json:"models" yaml:"models" validate:"required,min=1,dive"`
	Assets    AssetsConfig    `json:"assets" yaml:"assets"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Stores    StoresConfig    `json:"stores" yaml:"stores"`
	Policy    PolicyConfig    `json:"policy" yaml:"policy"`
	Hooks     HooksConfig     `json:"hooks" yaml:"hooks"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string        `json:"addr" yaml:"addr" validate:"required"`
	AllowedOrigins []string      `json:"allowed_origins,omitempty" yaml:"allowed_origins"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

// WorkflowConfig configures graph execution.
type WorkflowConfig struct {
	// OutputRoot holds one directory per generated project.
	OutputRoot string `json:"output_root" yaml:"output_root" validate:"required"`

	MaxFixRetries int           `json:"max_fix_retries" yaml:"max_fix_retries" validate:"gte=0,lte=10"`
	MaxSteps      int           `json:"max_steps" yaml:"max_steps" validate:"gte=0"`
	NodeTimeout   time.Duration `json:"node_timeout" yaml:"node_timeout"`
	MaxTurns      int           `json:"max_turns" yaml:"max_turns" validate:"gte=0"`

	// Fan-out executor for asset collection.
	CoreWorkers int `json:"core_workers" yaml:"core_workers" validate:"gte=1"`
	MaxWorkers  int `json:"max_workers" yaml:"max_workers" validate:"gtefield=CoreWorkers"`
	QueueSize   int `json:"queue_size" yaml:"queue_size" validate:"gte=0"`

	SnapshotProjects bool `json:"snapshot_projects" yaml:"snapshot_projects"`
}

// ModelConfig configures one backend of the failover chain. Order matters.
type ModelConfig struct {
	Provider  string `json:"provider" yaml:"provider" validate:"required,oneof=anthropic openai gemini"`
	Model     string `json:"model" yaml:"model"`
	APIKey    string `json:"api_key,omitempty" yaml:"api_key"`
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url" validate:"omitempty,url"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
}

// ResolvedAPIKey returns APIKey, or the value of APIKeyEnv.
func (m ModelConfig) ResolvedAPIKey(getenv func(string) string) string {
	if m.APIKey != "" {
		return m.APIKey
	}
	if m.APIKeyEnv != "" && getenv != nil {
		return getenv(m.APIKeyEnv)
	}
	return ""
}

// AssetsConfig configures image, diagram and logo collection.
type AssetsConfig struct {
	PexelsAPIKey       string        `json:"pexels_api_key,omitempty" yaml:"pexels_api_key"`
	PexelsURL          string        `json:"pexels_url" yaml:"pexels_url" validate:"omitempty,url"`
	IllustrationURL    string        `json:"illustration_url" yaml:"illustration_url" validate:"omitempty,url"`
	MermaidRendererURL string        `json:"mermaid_renderer_url" yaml:"mermaid_renderer_url" validate:"omitempty,url"`
	LogoModel          string        `json:"logo_model" yaml:"logo_model"`
	LogoAPIKeyEnv      string        `json:"logo_api_key_env" yaml:"logo_api_key_env"`
	S3Bucket           string        `json:"s3_bucket,omitempty" yaml:"s3_bucket"`
	S3Region           string        `json:"s3_region,omitempty" yaml:"s3_region"`
	S3Endpoint         string        `json:"s3_endpoint,omitempty" yaml:"s3_endpoint" validate:"omitempty,url"`
	S3AccessKeyID      string        `json:"s3_access_key_id,omitempty" yaml:"s3_access_key_id"`
	S3SecretAccessKey  string        `json:"s3_secret_access_key,omitempty" yaml:"s3_secret_access_key"`
	S3PublicBaseURL    string        `json:"s3_public_base_url,omitempty" yaml:"s3_public_base_url" validate:"omitempty,url"`
	ImagesPerTask      int           `json:"images_per_task" yaml:"images_per_task" validate:"gte=1,lte=20"`
	CacheMaxEntries    int64         `json:"cache_max_entries" yaml:"cache_max_entries" validate:"gte=0"`
	CacheTTL           time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// DatabaseConfig configures the per-app Postgres schema service.
type DatabaseConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn" validate:"required_if=Enabled true"`
}

// StoresConfig configures persistence.
type StoresConfig struct {
	SQLitePath   string `json:"sqlite_path" yaml:"sqlite_path" validate:"required"`
	RedisURL     string `json:"redis_url,omitempty" yaml:"redis_url"`
	HistoryLimit int    `json:"history_limit" yaml:"history_limit" validate:"gte=1"`
}

// PolicyConfig configures the file and SQL guards.
type PolicyConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Directory string `json:"directory,omitempty" yaml:"directory"`
	Watch     bool   `json:"watch" yaml:"watch"`
}

// HooksConfig configures the optional Starlark prompt hook.
type HooksConfig struct {
	PromptScript string        `json:"prompt_script,omitempty" yaml:"prompt_script"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
}

// TelemetryConfig configures logging, tracing, metrics and event forwarding.
type TelemetryConfig struct {
	LogLevel        string  `json:"log_level" yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat       string  `json:"log_format" yaml:"log_format" validate:"oneof=json console"`
	TracingEnabled  bool    `json:"tracing_enabled" yaml:"tracing_enabled"`
	TracingExporter string  `json:"tracing_exporter" yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	OTLPEndpoint    string  `json:"otlp_endpoint,omitempty" yaml:"otlp_endpoint"`
	SamplingRate    float64 `json:"sampling_rate" yaml:"sampling_rate" validate:"gte=0,lte=1"`
	MetricsEnabled  bool    `json:"metrics_enabled" yaml:"metrics_enabled"`
	NATSURL         string  `json:"nats_url,omitempty" yaml:"nats_url"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "workflow.max_workers").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	if e.Path != "" {
		loc = fmt.Sprintf("%s %s", loc, e.Path)
	}
	if loc == "" {
		return e.Message
	}
	return loc + ": " + e.Message
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:           ":8123",
			RequestTimeout: 30 * time.Minute,
		},
		Workflow: WorkflowConfig{
			OutputRoot:    "tmp/code_output",
			MaxFixRetries: 3,
			MaxSteps:      256,
			NodeTimeout:   20 * time.Minute,
			MaxTurns:      40,
			CoreWorkers:   10,
			MaxWorkers:    20,
			QueueSize:     100,
		},
		Models: []ModelConfig{
			{Provider: "anthropic", Model: "claude-sonnet-4-5", APIKeyEnv: "ANTHROPIC_API_KEY", MaxTokens: 16000},
			{Provider: "openai", Model: "gpt-4.1", APIKeyEnv: "OPENAI_API_KEY", MaxTokens: 16000},
		},
		Assets: AssetsConfig{
			PexelsURL:          "https://api.pexels.com/v1/search",
			MermaidRendererURL: "https://mermaid.ink",
			LogoModel:          "gpt-image-1",
			LogoAPIKeyEnv:      "OPENAI_API_KEY",
			ImagesPerTask:      3,
			CacheMaxEntries:    1000,
			CacheTTL:           time.Hour,
		},
		Stores: StoresConfig{
			SQLitePath:   "data/codemother.db",
			HistoryLimit: 20,
		},
		Policy: PolicyConfig{Enabled: true},
		Hooks:  HooksConfig{Timeout: 5 * time.Second},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "json",
			TracingExporter: "none",
			SamplingRate:    0.1,
			MetricsEnabled:  true,
		},
	}
}

// DevelopmentConfig returns defaults suited to local work.
func DevelopmentConfig() *AppConfig {
	cfg := DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:8123"
	cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	cfg.Workflow.SnapshotProjects = true
	cfg.Policy.Watch = true
	cfg.Telemetry.LogLevel = "debug"
	cfg.Telemetry.LogFormat = "console"
	cfg.Telemetry.TracingEnabled = true
	cfg.Telemetry.TracingExporter = "stdout"
	cfg.Telemetry.SamplingRate = 1.0
	return cfg
}
