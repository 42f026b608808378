package duplexrpc

import "sync"

// callbackRegistry assigns stable identifiers to local callables and
// deduplicates them: the same *Callback registered twice reuses its id,
// and an id is never reused for a different callable on the same side.
// Registered callbacks live until the channel is destroyed.
type callbackRegistry struct {
	mu   sync.Mutex
	byID map[string]*Callback
	ids  map[*Callback]string
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{
		byID: make(map[string]*Callback),
		ids:  make(map[*Callback]string),
	}
}

// register returns the stable id for cb, allocating one on first sight.
// The second return reports whether the id was newly allocated.
func (r *callbackRegistry) register(cb *Callback) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[cb]; ok {
		return id, false
	}
	id := newWireID()
	r.ids[cb] = id
	r.byID[id] = cb
	return id, true
}

// lookup resolves a local callback by its identifier.
func (r *callbackRegistry) lookup(id string) (*Callback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.byID[id]
	return cb, ok
}

// clear frees every registration on channel teardown.
func (r *callbackRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]*Callback)
	r.ids = make(map[*Callback]string)
}

// size reports the number of live registrations (diagnostics, tests).
func (r *callbackRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
