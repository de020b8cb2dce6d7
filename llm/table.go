package llm

import (
	"sync"
)

// Table routes channels to providers. Every channel uses the default
// provider until an explicit override is set for it.
type Table struct {
	mu        sync.RWMutex
	providers map[string]Provider
	def       string
	byChannel map[string]string
}

// NewTable builds a routing table over providers with def as the
// default provider name. def must be a key of providers.
func NewTable(providers map[string]Provider, def string) (*Table, error) {
	if _, ok := providers[def]; !ok {
		return nil, ErrUnknownProvider(def)
	}
	return &Table{
		providers: providers,
		def:       def,
		byChannel: make(map[string]string),
	}, nil
}

// Default returns the default provider name.
func (t *Table) Default() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.def
}

// Resolve returns the provider serving channelID and its name.
func (t *Table) Resolve(channelID string) (Provider, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name := t.def
	if override, ok := t.byChannel[channelID]; ok {
		name = override
	}
	return t.providers[name], name
}

// Get returns the provider registered under name, if any.
func (t *Table) Get(name string) (Provider, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.providers[name]
	return p, ok
}

// Set overrides the provider for channelID. The name must be one of
// the compiled-in providers.
func (t *Table) Set(channelID, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.providers[name]; !ok {
		return ErrUnknownProvider(name)
	}
	t.byChannel[channelID] = name
	return nil
}

// Reset drops the override for channelID so it falls back to the
// default provider. It reports whether an override existed.
func (t *Table) Reset(channelID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byChannel[channelID]
	delete(t.byChannel, channelID)
	return ok
}

// IsCustom reports whether channelID has an explicit override.
func (t *Table) IsCustom(channelID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byChannel[channelID]
	return ok
}

// Snapshot returns a copy of the per-channel overrides.
func (t *Table) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.byChannel))
	for k, v := range t.byChannel {
		out[k] = v
	}
	return out
}
