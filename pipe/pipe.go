// Package pipe provides an in-memory connected pair of channel
// endpoints. It is the reference implementation of the duplex contract
// and the loopback transport used by the test suites: structured-clone
// personality with zero-copy transfer, or string-frame personality
// that exercises the full encode/frame path.
package pipe

import (
	"context"
	"io"
	"sync"

	rpc "github.com/router-for-me/duplexrpc"
)

// Options configures a pair.
type Options struct {
	// StringFrames switches to the string personality: payloads must
	// be byte slices or strings, structured clone is off.
	StringFrames bool
	// Transfer declares the zero-copy capability.
	Transfer bool
	// Depth is the per-direction queue depth; default 64.
	Depth int
}

// End is one side of an in-memory pair.
type End struct {
	caps      rpc.Capabilities
	recv      chan *rpc.Message
	peer      *End
	done      chan struct{}
	closeOnce sync.Once
}

// New returns a connected structured-clone pair with transfer enabled.
func New() (*End, *End) {
	return NewWithOptions(Options{Transfer: true})
}

// NewString returns a connected string-frame pair (no structured
// clone, no transfer): every envelope travels as framed JSON text.
func NewString() (*End, *End) {
	return NewWithOptions(Options{StringFrames: true})
}

// NewWithOptions returns a connected pair with explicit personality.
func NewWithOptions(o Options) (*End, *End) {
	depth := o.Depth
	if depth <= 0 {
		depth = 64
	}
	caps := rpc.Capabilities{
		StructuredClone: !o.StringFrames,
		Transfer:        o.Transfer,
	}
	a := &End{caps: caps, recv: make(chan *rpc.Message, depth), done: make(chan struct{})}
	b := &End{caps: caps, recv: make(chan *rpc.Message, depth), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// Read yields the next message, draining queued messages before
// reporting the peer's closure as io.EOF.
func (e *End) Read(ctx context.Context) (*rpc.Message, error) {
	select {
	case m := <-e.recv:
		return m, nil
	default:
	}
	select {
	case m := <-e.recv:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, io.EOF
	case <-e.peer.done:
		select {
		case m := <-e.recv:
			return m, nil
		default:
			return nil, io.EOF
		}
	}
}

// Write enqueues one message for the peer, blocking when the queue is
// full (this is the backpressure the core relies on).
func (e *End) Write(ctx context.Context, msg *rpc.Message) error {
	select {
	case <-e.done:
		return io.ErrClosedPipe
	case <-e.peer.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case e.peer.recv <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return io.ErrClosedPipe
	case <-e.peer.done:
		return io.ErrClosedPipe
	}
}

// Capabilities implements the endpoint contract.
func (e *End) Capabilities() rpc.Capabilities { return e.caps }

// Destroy closes this side; the peer's next Read drains and then
// observes io.EOF. Idempotent.
func (e *End) Destroy() error {
	e.closeOnce.Do(func() { close(e.done) })
	return nil
}
