// Package duplexrpc is a symmetric, transport-agnostic, bidirectional
// RPC core. Two endpoints share one duplex, ordered, message-preserving
// channel; each side exposes an API tree and consumes the peer's tree
// through a path-accumulating proxy. The core multiplexes correlated
// request/response exchanges, property access, construction, callback
// re-entry, and lazy streamed sequences with independent lifecycles,
// plus optional zero-copy buffer transfer when the transport supports
// it, with middleware wrapping handler invocation.
//
// The transport boundary is the Endpoint interface; package pipe ships
// an in-memory reference implementation used throughout the tests.
package duplexrpc

import (
	"context"
	"io"
)

// API is the exposed tree: nested mappings whose leaves are Handler,
// Constructor, or plain values. Navigation walks dotted paths left to
// right. The tree is mutable only via Channel.Expose and the peer's
// set operation.
type API map[string]any

// Handler is a callable leaf of the exposed tree. Arguments arrive
// after transfer reconstruction and callback binding; the returned
// value is encoded back to the caller. Returning an Iterator opens a
// stream instead of a one-shot response.
type Handler func(ctx context.Context, args []any) (any, error)

// Constructor is a constructible leaf of the exposed tree, invoked by
// the peer's construct operation. The built value is returned to the
// caller directly.
type Constructor func(ctx context.Context, args []any) (any, error)

// Callback is a callable argument value with stable identity: the same
// *Callback sent twice reuses one wire identifier. Passed outbound it
// crosses the wire as a sentinel; received inbound it is a synthesized
// proxy that re-enters the channel when invoked. A callback invocation
// carries no response; errors surface on the diagnostic sink.
type Callback struct {
	fn func(args ...any)
}

// NewCallback wraps fn as a callable argument.
func NewCallback(fn func(args ...any)) *Callback { return &Callback{fn: fn} }

// Invoke calls the underlying function. On a synthesized remote proxy
// this sends a callback envelope to the peer.
func (cb *Callback) Invoke(args ...any) { cb.fn(args...) }

// Iterator is the lazy asynchronous sequence a Handler returns to
// stream its result. Next yields the next element, or (nil, io.EOF)
// on natural exhaustion, or an error that closes the stream with a
// stream-error. If the Iterator also implements io.Closer, Close runs
// exactly once when the stream ends, fails, or is cancelled.
type Iterator interface {
	Next(ctx context.Context) (any, error)
}

// IteratorFunc adapts a plain function to Iterator.
type IteratorFunc func(ctx context.Context) (any, error)

// Next implements Iterator.
func (f IteratorFunc) Next(ctx context.Context) (any, error) { return f(ctx) }

// SliceIterator streams the elements of a slice in order.
func SliceIterator(elems []any) Iterator {
	i := 0
	return IteratorFunc(func(context.Context) (any, error) {
		if i >= len(elems) {
			return nil, io.EOF
		}
		v := elems[i]
		i++
		return v, nil
	})
}

// RangeIterator streams the integers [0, n).
func RangeIterator(n int) Iterator {
	i := 0
	return IteratorFunc(func(context.Context) (any, error) {
		if i >= n {
			return nil, io.EOF
		}
		v := i
		i++
		return v, nil
	})
}
