package venue

import (
	"sort"
)

// Registry maps venue id to adapter. It is built once at startup and read
// concurrently afterwards.
type Registry struct {
	adapters   map[string]Adapter
	priorities map[string]int
	order      []string
}

func NewRegistry() *Registry {
	return &Registry{
		adapters:   make(map[string]Adapter),
		priorities: make(map[string]int),
	}
}

// Register adds an adapter. Lower priority values are preferred by routing.
func (r *Registry) Register(a Adapter, priority int) {
	id := a.ID()
	if _, ok := r.adapters[id]; !ok {
		r.order = append(r.order, id)
		sort.Strings(r.order)
	}
	r.adapters[id] = a
	r.priorities[id] = priority
}

func (r *Registry) Get(venueID string) (Adapter, error) {
	a, ok := r.adapters[venueID]
	if !ok {
		return nil, ErrUnknownVenue
	}
	return a, nil
}

func (r *Registry) Adapters() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id])
	}
	return out
}

// Handles snapshots the current status of every adapter.
func (r *Registry) Handles() []Handle {
	out := make([]Handle, 0, len(r.order))
	for _, id := range r.order {
		a := r.adapters[id]
		out = append(out, Handle{
			Venue:        id,
			Status:       a.Status(),
			Capabilities: a.Capabilities(),
			Priority:     r.priorities[id],
		})
	}
	return out
}
