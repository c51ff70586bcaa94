package strategy

import (
	"sort"
	"strings"
	"sync"

	"github.com/rustyeddy/autotrader/internal/errs"
)

// Registry maps strategy ids to strategies.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Strategy
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{items: make(map[string]Strategy)}
	for _, def := range Builtins() {
		s, err := New(def)
		if err != nil {
			panic("strategy: bad builtin " + def.ID + ": " + err.Error())
		}
		r.items[def.ID] = s
	}
	return r
}

// Register adds or replaces a strategy under its definition id.
func (r *Registry) Register(s Strategy) error {
	id := s.Definition().ID
	if id == "" {
		return errs.Validationf("strategy.register", "strategy id is required")
	}
	r.mu.Lock()
	r.items[id] = s
	r.mu.Unlock()
	return nil
}

// Lookup finds a strategy by id, falling back to a kind name such as
// "swing_trading".
func (r *Registry) Lookup(id string) (Strategy, error) {
	id = strings.TrimSpace(id)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.items[id]; ok {
		return s, nil
	}
	if k, err := ParseKind(id); err == nil {
		if s, ok := r.items[k.String()]; ok {
			return s, nil
		}
	}
	return nil, errs.Wrap(errs.ErrUnknownStrategy, errs.KindValidation, "strategy "+id)
}

// List returns every definition sorted by id.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.items))
	for _, s := range r.items {
		out = append(out, s.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
