package duplexrpc

import (
	"context"
	"io"
	"sync"
	"testing"
)

// stubEndpoint is the minimal in-package endpoint for unit tests; the
// full loopback pair lives in package pipe.
type stubEndpoint struct {
	caps Capabilities
	in   chan *Message
	out  chan *Message
	done chan struct{}
	once sync.Once
}

func newStubEndpoint(caps Capabilities) *stubEndpoint {
	return &stubEndpoint{
		caps: caps,
		in:   make(chan *Message, 128),
		out:  make(chan *Message, 128),
		done: make(chan struct{}),
	}
}

func (s *stubEndpoint) Read(ctx context.Context) (*Message, error) {
	select {
	case m := <-s.in:
		return m, nil
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stubEndpoint) Write(ctx context.Context, msg *Message) error {
	select {
	case s.out <- msg:
		return nil
	case <-s.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stubEndpoint) Capabilities() Capabilities { return s.caps }

func (s *stubEndpoint) Destroy() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func newStubChannel(t *testing.T, caps Capabilities, opts ...Option) (*Channel, *stubEndpoint) {
	t.Helper()
	ep := newStubEndpoint(caps)
	c, err := New(ep, nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Destroy() })
	return c, ep
}
