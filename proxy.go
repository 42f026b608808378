package duplexrpc

import (
	"context"
	"strings"

	"github.com/router-for-me/duplexrpc/rpcerr"
)

// Proxy presents the peer's exposed tree as a local surface. Walking
// accumulates a dotted path without network traffic; only the terminal
// acts — Call, Get, Set, Construct — touch the wire.
type Proxy struct {
	c    *Channel
	segs []string
}

// Remote returns the root proxy for the peer's API.
func (c *Channel) Remote() *Proxy { return &Proxy{c: c} }

// Walk descends the given dotted path and returns the child proxy.
// No network traffic occurs; the terminal semantics of the path stay
// undetermined until a terminal act.
func (p *Proxy) Walk(path string) *Proxy {
	if path == "" {
		return p
	}
	add := strings.Split(path, ".")
	segs := make([]string, 0, len(p.segs)+len(add))
	segs = append(segs, p.segs...)
	segs = append(segs, add...)
	return &Proxy{c: p.c, segs: segs}
}

// Path returns the accumulated dotted path.
func (p *Proxy) Path() string { return strings.Join(p.segs, ".") }

// Call invokes the path as a method. A streaming handler on the peer
// yields a *RemoteStream result.
func (p *Proxy) Call(ctx context.Context, args ...any) (any, error) {
	if len(p.segs) == 0 {
		return nil, rpcerr.New(rpcerr.CodeNotFound, "call on the proxy root")
	}
	return p.c.call(ctx, p.Path(), args)
}

// CallStream invokes the path and requires a streamed result.
func (p *Proxy) CallStream(ctx context.Context, args ...any) (*RemoteStream, error) {
	v, err := p.Call(ctx, args...)
	if err != nil {
		return nil, err
	}
	rs, ok := v.(*RemoteStream)
	if !ok {
		return nil, rpcerr.New(rpcerr.CodeType, "%q returned a one-shot value, not a stream", p.Path())
	}
	return rs, nil
}

// Get reads the path as a property (the awaitable-leaf act).
func (p *Proxy) Get(ctx context.Context) (any, error) {
	if len(p.segs) == 0 {
		return nil, rpcerr.New(rpcerr.CodeNotFound, "get on the proxy root")
	}
	return p.c.getProp(ctx, p.segs)
}

// Set assigns value at the path.
func (p *Proxy) Set(ctx context.Context, value any) error {
	if len(p.segs) == 0 {
		return rpcerr.New(rpcerr.CodeNotFound, "set on the proxy root")
	}
	return p.c.setProp(ctx, p.segs, value)
}

// Construct invokes the path as a constructor.
func (p *Proxy) Construct(ctx context.Context, args ...any) (any, error) {
	if len(p.segs) == 0 {
		return nil, rpcerr.New(rpcerr.CodeNotFound, "construct on the proxy root")
	}
	return p.c.construct(ctx, p.Path(), args)
}
