package llm

import (
	"fmt"
	"sort"
)

// Config carries the settings for every compiled-in provider.
type Config struct {
	OpenAI OpenAIConfig
	Ollama OllamaConfig
}

// Known lists the compiled-in provider names. Adding a provider means
// adding an adapter, an entry here, and a case in BuildProviders.
var Known = []string{"openai", "ollama"}

// KnownProvider reports whether name is a compiled-in provider.
func KnownProvider(name string) bool {
	for _, k := range Known {
		if k == name {
			return true
		}
	}
	return false
}

// BuildProviders constructs every compiled-in provider from cfg. The
// returned map always has an entry for each name in Known; callers
// decide availability per provider.
func BuildProviders(cfg Config) map[string]Provider {
	return map[string]Provider{
		"openai": NewOpenAIProvider(cfg.OpenAI),
		"ollama": NewOllamaProvider(cfg.Ollama),
	}
}

// ProviderNames returns the keys of providers in sorted order.
func ProviderNames(providers map[string]Provider) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrUnknownProvider wraps a provider name that is not compiled in.
func ErrUnknownProvider(name string) error {
	return fmt.Errorf("unknown provider %q, valid providers: %v", name, Known)
}
