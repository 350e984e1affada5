// Package config loads service and CLI configuration.
//
// Precedence: defaults, then the YAML file, then MCPGEN_* environment
// variables, then the conventional unprefixed variables (OPENAI_API_KEY,
// DATABASE_URL, JWT_SECRET, PORT) for fields the prefixed ones left unset.
package config

import (
	"time"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/logging"
)

// Config is the complete configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" env:"SERVER"`
	Database   DatabaseConfig   `yaml:"database" env:"DATABASE"`
	Redis      RedisConfig      `yaml:"redis" env:"REDIS"`
	LLM        LLMConfig        `yaml:"llm" env:"LLM"`
	Refinement RefinementConfig `yaml:"refinement" env:"REFINEMENT"`
	Auth       AuthConfig       `yaml:"auth" env:"AUTH"`
	Log        logging.Config   `yaml:"log" env:"LOG"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`

	// PromptsPath replaces the embedded prompt templates when set.
	PromptsPath string `yaml:"prompts_path" env:"PROMPTS_PATH"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" validate:"min=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"min=0"`
	// RunTimeout bounds each HTTP-triggered run; 0 disables the bound.
	RunTimeout        time.Duration `yaml:"run_timeout" env:"RUN_TIMEOUT" validate:"min=0"`
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs" env:"MAX_CONCURRENT_RUNS" validate:"min=1"`
	// AllowedOrigins restricts WebSocket upgrades; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

type DatabaseConfig struct {
	// URL is a PostgreSQL connection string. Runs are kept in memory when empty.
	URL             string `yaml:"url" env:"URL"`
	ConnectAttempts int    `yaml:"connect_attempts" env:"CONNECT_ATTEMPTS" validate:"min=1"`
}

type RedisConfig struct {
	// Addr enables the result cache when set.
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB" validate:"min=0"`
	TTL      time.Duration `yaml:"ttl" env:"TTL" validate:"min=0"`
}

type LLMConfig struct {
	Provider          string        `yaml:"provider" env:"PROVIDER" validate:"oneof=openai ollama"`
	APIKey            string        `yaml:"api_key" env:"API_KEY" validate:"required_if=Provider openai"`
	BaseURL           string        `yaml:"base_url" env:"BASE_URL" validate:"omitempty,url"`
	GeneratorModel    string        `yaml:"generator_model" env:"GENERATOR_MODEL" validate:"required"`
	ValidatorModel    string        `yaml:"validator_model" env:"VALIDATOR_MODEL" validate:"required"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"min=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND" validate:"min=0"`
	BreakerFailures   uint32        `yaml:"breaker_failures" env:"BREAKER_FAILURES"`
}

// Models names the provider and both models; results from different models
// never share a cache entry.
func (c LLMConfig) Models() string {
	return c.Provider + "/" + c.GeneratorModel + "/" + c.ValidatorModel
}

type RefinementConfig struct {
	MaxIterations          int  `yaml:"max_iterations" env:"MAX_ITERATIONS" validate:"min=1"`
	PassPriorConfiguration bool `yaml:"pass_prior_configuration" env:"PASS_PRIOR_CONFIGURATION"`
	TrackDocumentation     bool `yaml:"track_documentation" env:"TRACK_DOCUMENTATION"`
}

type AuthConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET" validate:"required_if=Enabled true"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" validate:"min=0"`
}

type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name" env:"SERVICE_NAME"`
	TraceExporter string `yaml:"trace_exporter" env:"TRACE_EXPORTER" validate:"oneof=stdout none"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      11 * time.Minute,
			ShutdownTimeout:   30 * time.Second,
			RunTimeout:        10 * time.Minute,
			MaxConcurrentRuns: 4,
		},
		Database: DatabaseConfig{
			ConnectAttempts: 10,
		},
		Redis: RedisConfig{
			TTL: 24 * time.Hour,
		},
		LLM: LLMConfig{
			Provider:        "openai",
			GeneratorModel:  "o3-mini-2025-01-31",
			ValidatorModel:  "gpt-4o",
			Timeout:         120 * time.Second,
			BreakerFailures: 5,
		},
		Refinement: RefinementConfig{
			MaxIterations:          5,
			PassPriorConfiguration: true,
			TrackDocumentation:     true,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "mcp-config-builder",
			TraceExporter: "none",
		},
	}
}
