package duplexrpc

import (
	"context"
	"sync"
	"time"

	"github.com/router-for-me/duplexrpc/rpcerr"
)

// pendingResult is what a completion sink delivers: a value or an
// error, never both.
type pendingResult struct {
	value any
	err   error
}

// pendingEntry correlates one outgoing request id with its completion
// sink. The sink is single-shot: concurrent completion and drain must
// not double-dispatch.
type pendingEntry struct {
	id       string
	ch       chan pendingResult
	once     sync.Once
	created  time.Time
	streamed bool // promoted to a stream; entry lives until the stream closes
}

// complete delivers the result exactly once.
func (e *pendingEntry) complete(v any, err error) {
	e.once.Do(func() {
		e.ch <- pendingResult{value: v, err: err}
	})
}

// wait blocks for completion. Abandoning via ctx fails the call
// locally only; the remote side is not cancelled.
func (e *pendingEntry) wait(ctx context.Context) (any, error) {
	select {
	case r := <-e.ch:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pendingTable maps request ids to completion sinks. Every outgoing
// request id stays in the table until the first of: response received,
// stream opened and closed, channel destroyed.
type pendingTable struct {
	m sync.Map // map[string]*pendingEntry
}

// add installs a fresh entry. A duplicate id is a protocol violation.
func (t *pendingTable) add(id string) (*pendingEntry, error) {
	e := &pendingEntry{id: id, ch: make(chan pendingResult, 1), created: time.Now()}
	if _, loaded := t.m.LoadOrStore(id, e); loaded {
		return nil, rpcerr.New(rpcerr.CodeProtocol, "duplicate request id %s", id)
	}
	return e, nil
}

// lookup returns the live entry for id.
func (t *pendingTable) lookup(id string) (*pendingEntry, bool) {
	v, ok := t.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*pendingEntry), true
}

// remove drops the entry without completing it.
func (t *pendingTable) remove(id string) {
	t.m.Delete(id)
}

// settle completes and removes, unless the entry was promoted to a
// stream, in which case it stays until the stream reaches a terminal
// state.
func (t *pendingTable) settle(id string, v any, err error) bool {
	e, ok := t.lookup(id)
	if !ok {
		return false
	}
	e.complete(v, err)
	if !e.streamed {
		t.m.Delete(id)
	}
	return true
}

// drain fails every remaining entry, typically with CHANNEL_DESTROYED.
func (t *pendingTable) drain(err error) {
	t.m.Range(func(key, value any) bool {
		value.(*pendingEntry).complete(nil, err)
		t.m.Delete(key)
		return true
	})
}

// size reports the number of in-flight entries (diagnostics and tests).
func (t *pendingTable) size() int {
	n := 0
	t.m.Range(func(any, any) bool { n++; return true })
	return n
}
