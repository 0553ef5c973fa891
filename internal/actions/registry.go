package actions

import (
	"sort"
	"sync"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Registry indexes recovery actions and answers which of them apply to a
// given event, safest first.
type Registry struct {
	mu      sync.RWMutex
	actions []Action
}

// NewRegistry constructs a registry over the provided actions.
func NewRegistry(actions ...Action) *Registry {
	r := &Registry{}
	for _, a := range actions {
		r.Register(a)
	}
	return r
}

// Register adds an action to the registry.
func (r *Registry) Register(a Action) {
	if a == nil {
		return
	}
	r.mu.Lock()
	r.actions = append(r.actions, a)
	r.mu.Unlock()
}

// Get returns the registered action with the given name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.actions {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// ApplicableActions returns the enabled actions that can handle the event,
// ordered by historical success rate descending and risk ascending, so the
// most reliable, least dangerous option is tried first.
func (r *Registry) ApplicableActions(event models.ErrorEvent) []Action {
	r.mu.RLock()
	applicable := make([]Action, 0, len(r.actions))
	for _, a := range r.actions {
		if a.Enabled() && a.CanHandle(event) {
			applicable = append(applicable, a)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(applicable, func(i, j int) bool {
		si, sj := applicable[i].SuccessRate(), applicable[j].SuccessRate()
		if si != sj {
			return si > sj
		}
		ri, rj := applicable[i].RiskLevel().Rank(), applicable[j].RiskLevel().Rank()
		if ri != rj {
			return ri < rj
		}
		return applicable[i].Name() < applicable[j].Name()
	})
	return applicable
}
