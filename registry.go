package mrpc

import (
	"sync"
)

// Factory constructs a fresh message instance. Registered factories replace
// wire-level reflection: the dispatch layer never inspects message types,
// it only calls factories and hands the results to the codec.
type Factory func() any

// MarshallerRegistry maps a request-type interest to the factories for its
// request and response messages. Processors can only be registered for
// interests that have both.
//
// Registries are normally populated once during startup, before any
// processor registration, but all methods are safe for concurrent use.
type MarshallerRegistry struct {
	mu        sync.RWMutex
	requests  map[string]Factory
	responses map[string]Factory
}

func NewMarshallerRegistry() *MarshallerRegistry {
	return &MarshallerRegistry{
		requests:  make(map[string]Factory),
		responses: make(map[string]Factory),
	}
}

// Register installs both factories for interest. A later registration for
// the same interest replaces the earlier one.
func (r *MarshallerRegistry) Register(interest string, req, resp Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests[interest] = req
	r.responses[interest] = resp
}

func (r *MarshallerRegistry) RegisterRequest(interest string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests[interest] = f
}

func (r *MarshallerRegistry) RegisterResponse(interest string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.responses[interest] = f
}

func (r *MarshallerRegistry) RequestFor(interest string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.requests[interest]
	return f, ok
}

func (r *MarshallerRegistry) ResponseFor(interest string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.responses[interest]
	return f, ok
}
