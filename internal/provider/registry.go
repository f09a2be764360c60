package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kiarashplusplus/fiml/internal/market"
)

// Registry owns the process-wide set of adapter instances. The adapter
// map is populated during Initialize and read-only afterwards; adapters
// carry their own synchronization for mutable state.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
	started  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter before Initialize. Duplicate names and empty
// names are rejected.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("registry already initialized")
	}
	name := a.Name()
	if name == "" {
		return fmt.Errorf("adapter must have a non-empty name")
	}
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter %s already registered", name)
	}

	r.adapters[name] = a
	r.order = append(r.order, name)
	return nil
}

// Initialize brings every registered adapter up. An adapter that fails
// to initialize is dropped with a warning rather than failing the whole
// registry; a missing credential is a deployment gap, not an outage.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	var kept []string
	for _, name := range r.order {
		a := r.adapters[name]
		if err := a.Initialize(ctx); err != nil {
			log.Warn().Err(err).Str("provider", name).Msg("Adapter failed to initialize, skipping")
			delete(r.adapters, name)
			continue
		}
		kept = append(kept, name)
		log.Info().Str("provider", name).Msg("Adapter initialized")
	}
	r.order = kept
	r.started = true
	return nil
}

// Shutdown stops every adapter in reverse registration order, ignoring
// individual errors.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if err := r.adapters[name].Shutdown(ctx); err != nil {
			log.Warn().Err(err).Str("provider", name).Msg("Adapter shutdown error")
		}
	}
	r.started = false
}

// Get looks an adapter up by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// All returns every registered adapter in registration order.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// ProvidersFor returns the enabled, non-cooldown adapters whose
// capability set includes dataType and whose SupportsAsset accepts the
// asset. Order is unspecified; the arbitration engine ranks by score.
// Fails with ErrNoProviderAvailable when the subset is empty.
func (r *Registry) ProvidersFor(asset market.Asset, dataType market.DataType) ([]Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Adapter
	for _, name := range r.order {
		a := r.adapters[name]
		if !a.Config().Enabled {
			continue
		}
		if a.InCooldown() {
			continue
		}
		if !hasCapability(a, dataType) {
			continue
		}
		if !a.SupportsAsset(asset) {
			continue
		}
		out = append(out, a)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w for %s/%s", ErrNoProviderAvailable, asset.Symbol, dataType)
	}
	return out, nil
}

// Health snapshots every adapter.
func (r *Registry) Health() map[string]market.ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]market.ProviderHealth, len(r.adapters))
	for name, a := range r.adapters {
		out[name] = a.Health()
	}
	return out
}

func hasCapability(a Adapter, dt market.DataType) bool {
	for _, c := range a.Capabilities() {
		if c == dt {
			return true
		}
	}
	return false
}
