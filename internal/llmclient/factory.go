// internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/apiprobe/apiprobe/api/schemas"
	"github.com/apiprobe/apiprobe/internal/config"
)

// NewClient is a factory function that creates an LLMClient based on the
// configuration. A disabled backend yields a nil client; callers treat nil
// as "deterministic paths only".
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
