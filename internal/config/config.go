// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Network    NetworkConfig    `mapstructure:"network" yaml:"network"`
	Tester     TesterConfig     `mapstructure:"tester" yaml:"tester"`
	TokenCache TokenCacheConfig `mapstructure:"token_cache" yaml:"token_cache"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	// Probe gets its marching orders from CLI flags, not the config file.
	Probe ProbeConfig `mapstructure:"-" yaml:"-"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// NetworkConfig tunes the HTTP client used against the API under test.
type NetworkConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ForceHTTP2      bool          `mapstructure:"force_http2" yaml:"force_http2"`
}

// TesterConfig controls the execution engine.
type TesterConfig struct {
	// EnableProductionOps allows executing operations classified as
	// production. Off by default: a misclassified delete is worse than a
	// skipped test.
	EnableProductionOps bool `mapstructure:"enable_production_ops" yaml:"enable_production_ops"`
	// RequestDelay is the fixed pause between consecutive requests.
	RequestDelay time.Duration `mapstructure:"request_delay" yaml:"request_delay"`
}

// TokenCacheConfig locates the persisted OAuth token cache.
type TokenCacheConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LLMProvider identifies a supported model backend.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig defines the configuration for the model backend used by the
// classifier and the pattern detector. When Enabled is false both fall back
// to their deterministic paths.
type LLMConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ProbeConfig holds settings populated from CLI flags for a specific probe run.
type ProbeConfig struct {
	OperationsFile  string
	CredentialsFile string
	BaseURL         string
	TokenURL        string
	AuthType        string
	OutputDir       string
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "apiprobe")
	v.SetDefault("logger.log_file", "apiprobe.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Network --
	v.SetDefault("network.request_timeout", "90s")
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.force_http2", true)

	// -- Tester --
	v.SetDefault("tester.enable_production_ops", false)
	v.SetDefault("tester.request_delay", "500ms")

	// -- Token cache --
	v.SetDefault("token_cache.path", "input/.token_cache.json")

	// -- LLM --
	v.SetDefault("llm.enabled", true)
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "120s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "APIPROBE_LLM_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("network.request_timeout must be a positive duration")
	}
	if c.Tester.RequestDelay < 0 {
		return fmt.Errorf("tester.request_delay must not be negative")
	}
	if c.TokenCache.Path == "" {
		return fmt.Errorf("token_cache.path is a required configuration field")
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the model backend settings. A missing API key with the
// backend enabled is the one unrecoverable configuration error in the tool:
// every other failure degrades to deterministic behavior at runtime.
func (l *LLMConfig) Validate() error {
	if !l.Enabled {
		return nil
	}
	if l.Provider != ProviderGemini {
		return fmt.Errorf("unknown llm provider: %q (supported: %s)", l.Provider, ProviderGemini)
	}
	if l.APIKey == "" {
		return fmt.Errorf("llm.api_key is required when llm.enabled is true; set APIPROBE_LLM_API_KEY")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0.0 and 2.0")
	}
	return nil
}
