package providers

import "fmt"

// ProviderConfig mirrors config.ProviderConfig to avoid an import cycle
// between internal/config and internal/providers.
type ProviderConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Resolve builds a Provider for name using cfg, the same way the teacher's
// registry.go matches provider specs by name before constructing a client.
// "codex" is the one OAuth special case, reading its token from disk rather
// than an API key.
func Resolve(name string, cfg ProviderConfig) (Provider, error) {
	if name == "codex" {
		return NewCodexProvider()
	}

	spec := FindByName(name)
	if spec == nil {
		return nil, fmt.Errorf("providers: unknown provider %q", name)
	}
	if cfg.APIKey == "" && !spec.IsLocal {
		return nil, fmt.Errorf("providers: %q requires an API key (set via config or %s)", name, spec.EnvKey)
	}

	if name == "anthropic" {
		return NewAnthropicProvider(cfg.APIKey), nil
	}

	return NewOpenAICompatProviderFromSpec(spec, cfg.APIKey, cfg.BaseURL), nil
}
