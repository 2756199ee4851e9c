package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "apiprobe", cfg.Logger.ServiceName)
	assert.Equal(t, 90*time.Second, cfg.Network.RequestTimeout)
	assert.True(t, cfg.Network.ForceHTTP2)
	assert.False(t, cfg.Tester.EnableProductionOps)
	assert.Equal(t, 500*time.Millisecond, cfg.Tester.RequestDelay)
	assert.Equal(t, "input/.token_cache.json", cfg.TokenCache.Path)
	assert.True(t, cfg.LLM.Enabled)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, 120*time.Second, cfg.LLM.APITimeout)
}

func TestNewConfigFromViper_APIKeyFromEnv(t *testing.T) {
	t.Setenv("APIPROBE_LLM_API_KEY", "env-secret")

	v := viper.New()
	SetDefaults(v)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.LLM.APIKey)
}

func TestNewConfigFromViper_MissingAPIKeyFails(t *testing.T) {
	t.Setenv("APIPROBE_LLM_API_KEY", "")

	v := viper.New()
	SetDefaults(v)

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APIPROBE_LLM_API_KEY")
}

func TestNewConfigFromViper_DisabledLLMNeedsNoKey(t *testing.T) {
	t.Setenv("APIPROBE_LLM_API_KEY", "")

	v := viper.New()
	SetDefaults(v)
	v.Set("llm.enabled", false)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.False(t, cfg.LLM.Enabled)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		cfg := NewDefaultConfig()
		cfg.LLM.APIKey = "test-key"
		return cfg
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero request timeout",
			mutate:  func(c *Config) { c.Network.RequestTimeout = 0 },
			wantErr: "network.request_timeout",
		},
		{
			name:    "negative request delay",
			mutate:  func(c *Config) { c.Tester.RequestDelay = -time.Second },
			wantErr: "tester.request_delay",
		},
		{
			name:    "empty cache path",
			mutate:  func(c *Config) { c.TokenCache.Path = "" },
			wantErr: "token_cache.path",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.LLM.Provider = "skynet" },
			wantErr: "unknown llm provider",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.LLM.Temperature = 3.5 },
			wantErr: "llm.temperature",
		},
		{
			name: "disabled llm skips provider check",
			mutate: func(c *Config) {
				c.LLM.Enabled = false
				c.LLM.Provider = "skynet"
				c.LLM.APIKey = ""
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
