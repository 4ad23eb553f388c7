// Package config provides process-level configuration read from the
// environment, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/gateway"
	"github.com/hupe1980/rolemesh/logging"
	"github.com/hupe1980/rolemesh/memory"
)

// Supported generation backends.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Config holds all application configuration.
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64

	DBPath       string
	MaxSessions  int
	MaxStorageMB float64
	ScenarioDir  string

	RateMaxCalls   int
	RatePeriod     time.Duration
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	RetryAttempts  int

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables. Variables from the
// given .env files (".env" when none are named) are applied first without
// overriding the real environment; missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	provider := strings.ToLower(getEnv("ROLEMESH_PROVIDER", ProviderOpenAI))
	defaultBaseURL, defaultModel := "", ""
	if provider == ProviderOpenAI {
		// any OpenAI-compatible endpoint; DeepSeek unless told otherwise
		defaultBaseURL, defaultModel = "https://api.deepseek.com/v1", "deepseek-chat"
	}

	env := &envReader{}
	cfg := &Config{
		Provider:  provider,
		APIKey:    firstEnv("ROLEMESH_API_KEY", "DEEPSEEK_API_KEY", "OPENAI_API_KEY"),
		BaseURL:   getEnv("ROLEMESH_BASE_URL", defaultBaseURL),
		Model:     getEnv("ROLEMESH_MODEL", defaultModel),
		MaxTokens: int64(env.getInt("ROLEMESH_MAX_TOKENS", 500)),

		DBPath:       getEnv("ROLEMESH_DB_PATH", "agent_memory.db"),
		MaxSessions:  env.getInt("ROLEMESH_MAX_SESSIONS", 1000),
		MaxStorageMB: env.getFloat("ROLEMESH_MAX_STORAGE_MB", 100),
		ScenarioDir:  getEnv("ROLEMESH_SCENARIO_DIR", "scenarios"),

		RateMaxCalls:   env.getInt("ROLEMESH_RATE_MAX_CALLS", 5),
		RatePeriod:     env.getDuration("ROLEMESH_RATE_PERIOD", time.Second),
		ConnectTimeout: env.getDuration("ROLEMESH_CONNECT_TIMEOUT", 10*time.Second),
		CallTimeout:    env.getDuration("ROLEMESH_CALL_TIMEOUT", 30*time.Second),
		RetryAttempts:  env.getInt("ROLEMESH_RETRY_ATTEMPTS", 3),

		LogLevel:  getEnv("ROLEMESH_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("ROLEMESH_LOG_FORMAT", "text")),
	}

	if err := env.err(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all configuration fields hold usable values. The API
// key is checked separately by RequireAPIKey since not every command calls
// the generation service.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderMock:
	default:
		return fmt.Errorf("ROLEMESH_PROVIDER must be one of openai, anthropic, mock; got %q", c.Provider)
	}
	if c.Model == "" && c.Provider == ProviderOpenAI {
		return fmt.Errorf("ROLEMESH_MODEL cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("ROLEMESH_MAX_TOKENS must be > 0")
	}
	if c.DBPath == "" {
		return fmt.Errorf("ROLEMESH_DB_PATH cannot be empty")
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("ROLEMESH_MAX_SESSIONS must be >= 0")
	}
	if c.MaxStorageMB < 0 {
		return fmt.Errorf("ROLEMESH_MAX_STORAGE_MB must be >= 0")
	}
	if c.RateMaxCalls < 0 {
		return fmt.Errorf("ROLEMESH_RATE_MAX_CALLS must be >= 0")
	}
	if c.RateMaxCalls > 0 && c.RatePeriod <= 0 {
		return fmt.Errorf("ROLEMESH_RATE_PERIOD must be > 0")
	}
	if c.ConnectTimeout < 0 || c.CallTimeout < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("ROLEMESH_RETRY_ATTEMPTS must be >= 1")
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("ROLEMESH_LOG_LEVEL %q is not a known level", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("ROLEMESH_LOG_FORMAT must be text or json")
	}
	return nil
}

// RequireAPIKey reports a missing key for providers that need one.
func (c *Config) RequireAPIKey() error {
	if c.Provider != ProviderMock && c.APIKey == "" {
		return fmt.Errorf("ROLEMESH_API_KEY (or DEEPSEEK_API_KEY / OPENAI_API_KEY) must be set")
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() logging.LogLevel {
	l, _ := logging.ParseLevel(c.LogLevel)
	return l
}

// GatewayOptions applies the rate, retry and token settings.
func (c *Config) GatewayOptions(logger logging.Logger) func(o *gateway.Options) {
	return func(o *gateway.Options) {
		o.MaxCalls = c.RateMaxCalls
		o.Period = c.RatePeriod
		o.CallTimeout = c.CallTimeout
		o.MaxAttempts = c.RetryAttempts
		o.MaxTokens = c.MaxTokens
		o.Logger = logger
	}
}

// MemoryOptions applies the retention settings.
func (c *Config) MemoryOptions(logger logging.Logger) func(o *memory.Options) {
	return func(o *memory.Options) {
		o.MaxSessions = c.MaxSessions
		o.MaxStorageMB = c.MaxStorageMB
		o.Logger = logger
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// envReader parses typed variables and collects malformed values instead of
// silently falling back to defaults. Unset or empty variables use the default.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (r *envReader) invalid(key, value, want string) {
	r.errs = append(r.errs, fmt.Errorf("%s: %q is not %s", key, value, want))
}

func (r *envReader) getInt(key string, fallback int) int {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.invalid(key, value, "an integer")
		return fallback
	}
	return n
}

func (r *envReader) getFloat(key string, fallback float64) float64 {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.invalid(key, value, "a number")
		return fallback
	}
	return f
}

// getDuration accepts Go durations ("250ms") or plain seconds ("1.5").
func (r *envReader) getDuration(key string, fallback time.Duration) time.Duration {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	r.invalid(key, value, "a duration")
	return fallback
}

func (r *envReader) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return core.NewError(core.KindValidation, "config.load", errors.Join(r.errs...))
}
