package whiteboard

import "sync"

// Registry maps realtime connection ids to the display name chosen when joining.
type Registry struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]string)}
}

// SetName records or replaces the display name for a connection.
func (r *Registry) SetName(connID, name string) {
	if connID == "" {
		return
	}
	r.mu.Lock()
	r.names[connID] = name
	r.mu.Unlock()
}

// Name returns the stored name or fallback when the connection never joined.
func (r *Registry) Name(connID, fallback string) string {
	if name, ok := r.Lookup(connID); ok {
		return name
	}
	return fallback
}

func (r *Registry) Lookup(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[connID]
	return name, ok
}

func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	delete(r.names, connID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
