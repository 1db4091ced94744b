package provider

import (
	"fmt"
	"sort"
)

// Registration binds a provider ID to its settings and fallback priority
type Registration struct {
	ID       ID
	Settings Settings
	Priority int  // lower = tried earlier in the fallback chain
	Premium  bool // eligible as the premium-tier default

	// Adapter overrides the constructed adapter when set; used to inject
	// test doubles.
	Adapter Adapter
}

// Registry holds the closed set of adapters, instantiated once at process
// start and passed by reference into the fallback chain and agent.
type Registry struct {
	adapters map[ID]Adapter
	models   map[ID]string
	order    []ID
	premium  ID
	standard ID
}

// NewRegistry builds adapters for every registration. Adding a vendor is a
// registration here, not a new branch scattered across call sites.
func NewRegistry(regs []Registration) (*Registry, error) {
	if len(regs) == 0 {
		return nil, fmt.Errorf("at least one provider registration is required")
	}

	sorted := make([]Registration, len(regs))
	copy(sorted, regs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	r := &Registry{
		adapters: make(map[ID]Adapter, len(sorted)),
		models:   make(map[ID]string, len(sorted)),
	}

	for _, reg := range sorted {
		if _, exists := r.adapters[reg.ID]; exists {
			return nil, fmt.Errorf("duplicate provider registration: %s", reg.ID)
		}

		adapter := reg.Adapter
		if adapter == nil {
			var err error
			adapter, err = newAdapter(reg.ID, reg.Settings)
			if err != nil {
				return nil, err
			}
		}

		r.adapters[reg.ID] = adapter
		r.models[reg.ID] = reg.Settings.Model
		r.order = append(r.order, reg.ID)

		if reg.Premium && r.premium == "" {
			r.premium = reg.ID
		}
	}

	r.standard = r.order[0]
	if r.premium == "" {
		r.premium = r.standard
	}

	return r, nil
}

func newAdapter(id ID, settings Settings) (Adapter, error) {
	switch id {
	case Anthropic:
		return NewAnthropicAdapter(settings), nil
	case OpenAI:
		return NewOpenAIAdapter(settings), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", id)
	}
}

// Get returns the adapter for id
func (r *Registry) Get(id ID) (Adapter, bool) {
	adapter, ok := r.adapters[id]
	return adapter, ok
}

// Order returns provider IDs in fixed fallback priority order
func (r *Registry) Order() []ID {
	order := make([]ID, len(r.order))
	copy(order, r.order)
	return order
}

// DefaultFor maps a user tier to its default provider
func (r *Registry) DefaultFor(tier string) ID {
	if tier == "premium" {
		return r.premium
	}
	return r.standard
}

// Model returns the configured model name for id
func (r *Registry) Model(id ID) string {
	return r.models[id]
}

// Has reports whether id is registered
func (r *Registry) Has(id ID) bool {
	_, ok := r.adapters[id]
	return ok
}
