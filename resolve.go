package duplexrpc

import (
	"context"
	"strings"
	"sync"

	"github.com/router-for-me/duplexrpc/rpcerr"
)

// exposedTree holds the channel's exposed API. The tree is replaced
// wholesale by Expose and mutated leaf-wise by the peer's set
// operation; both go through the lock.
type exposedTree struct {
	mu   sync.RWMutex
	root API
}

func (t *exposedTree) replace(api API) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if api == nil {
		api = API{}
	}
	t.root = api
}

// resolve navigates a dotted method path left to right.
func (t *exposedTree) resolve(method string) (any, error) {
	if method == "" {
		return nil, rpcerr.New(rpcerr.CodeNotFound, "empty method path")
	}
	return t.resolveSegments(strings.Split(method, "."))
}

// resolveSegments navigates an already-split property path.
func (t *exposedTree) resolveSegments(segs []string) (any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var cur any = t.root
	for i, seg := range segs {
		m, ok := asBranch(cur)
		if !ok {
			return nil, rpcerr.New(rpcerr.CodeNotFound, "path segment %q is not a branch", strings.Join(segs[:i], "."))
		}
		next, ok := m[seg]
		if !ok {
			return nil, rpcerr.New(rpcerr.CodeNotFound, "no such path %q", strings.Join(segs[:i+1], "."))
		}
		cur = next
	}
	return cur, nil
}

// assign writes value at the terminal of segs, creating the leaf (but
// never intermediate branches) if absent.
func (t *exposedTree) assign(segs []string, value any) error {
	if len(segs) == 0 {
		return rpcerr.New(rpcerr.CodeNotFound, "empty property path")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var cur any = t.root
	for i, seg := range segs[:len(segs)-1] {
		m, ok := asBranch(cur)
		if !ok {
			return rpcerr.New(rpcerr.CodeNotFound, "path segment %q is not a branch", strings.Join(segs[:i], "."))
		}
		next, ok := m[seg]
		if !ok {
			return rpcerr.New(rpcerr.CodeNotFound, "no such path %q", strings.Join(segs[:i+1], "."))
		}
		cur = next
	}
	parent, ok := asBranch(cur)
	if !ok {
		return rpcerr.New(rpcerr.CodeType, "parent of %q is not addressable", strings.Join(segs, "."))
	}
	parent[segs[len(segs)-1]] = value
	return nil
}

// callableAt resolves method and requires a Handler terminal.
func (t *exposedTree) callableAt(method string) (Handler, error) {
	v, err := t.resolve(method)
	if err != nil {
		return nil, err
	}
	switch h := v.(type) {
	case Handler:
		return h, nil
	case func(context.Context, []any) (any, error):
		return Handler(h), nil
	default:
		return nil, rpcerr.New(rpcerr.CodeType, "terminal %q is not callable", method)
	}
}

// constructorAt resolves method and requires a Constructor terminal.
func (t *exposedTree) constructorAt(method string) (Constructor, error) {
	v, err := t.resolve(method)
	if err != nil {
		return nil, err
	}
	ctor, ok := v.(Constructor)
	if !ok {
		return nil, rpcerr.New(rpcerr.CodeType, "terminal %q is not constructible", method)
	}
	return ctor, nil
}

// asBranch widens the two branch shapes a tree may contain.
func asBranch(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case API:
		return map[string]any(m), true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}
