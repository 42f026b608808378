package duplexrpc

import (
	"context"
	"sync"

	"github.com/router-for-me/duplexrpc/codec"
)

// CallContext is what interceptors observe and may mutate before the
// handler runs: the resolved method name, the post-reconstruction
// argument list, a per-connection state bag, and the originating
// envelope's metadata.
type CallContext struct {
	Context  context.Context
	Method   string
	Args     []any
	State    *StateBag
	Envelope *codec.Envelope
}

// Next invokes the inner layer of the chain.
type Next func() (any, error)

// Interceptor is one middleware layer wrapping handler invocation in
// onion order: the first interceptor is outermost, the handler is the
// innermost layer. An interceptor may short-circuit by not calling
// next, may return an error to fail the call, and may transform the
// return value. The chain wraps the handler call only, never per-chunk
// stream delivery.
type Interceptor func(cc *CallContext, next Next) (any, error)

// StateBag is the mutable per-connection state shared by every
// interceptor invocation on one channel.
type StateBag struct {
	mu sync.RWMutex
	m  map[string]any
}

func newStateBag() *StateBag { return &StateBag{m: make(map[string]any)} }

// Get returns the stored value for key.
func (b *StateBag) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[key]
	return v, ok
}

// Set stores value under key.
func (b *StateBag) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[key] = value
}

// Delete removes key.
func (b *StateBag) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, key)
}

// applyChain composes the channel's interceptors around a handler
// invocation and runs the result.
func applyChain(chain []Interceptor, cc *CallContext, h Handler) (any, error) {
	next := Next(func() (any, error) {
		return h(cc.Context, cc.Args)
	})
	for i := len(chain) - 1; i >= 0; i-- {
		mw, inner := chain[i], next
		next = func() (any, error) {
			return mw(cc, inner)
		}
	}
	return next()
}
