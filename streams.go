package duplexrpc

import (
	"context"
	"errors"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/duplexrpc/codec"
	"github.com/router-for-me/duplexrpc/rpcerr"
)

// streamQueueDepth bounds the consumer-side chunk queue. The read loop
// blocks when the queue is full, which pushes backpressure down to the
// transport.
const streamQueueDepth = 16

type streamRole int

const (
	roleProducer streamRole = iota + 1
	roleConsumer
)

// streamEvent is one consumer-side delivery: a chunk value, a clean
// end, or a producer error.
type streamEvent struct {
	value any
	err   error
	end   bool
}

// streamState tracks one active stream id on either side.
type streamState struct {
	id   string
	role streamRole

	// producer side: cancels the iteration when the consumer abandons.
	cancelProduce context.CancelFunc

	// consumer side.
	events   chan streamEvent
	gone     chan struct{} // closed once the consumer record is dead
	goneOnce sync.Once
}

func (st *streamState) markGone() {
	st.goneOnce.Do(func() { close(st.gone) })
}

// streamTable indexes the active streams of one channel.
type streamTable struct {
	mu sync.Mutex
	m  map[string]*streamState
}

func newStreamTable() *streamTable {
	return &streamTable{m: make(map[string]*streamState)}
}

func (t *streamTable) add(st *streamState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[st.id] = st
}

func (t *streamTable) get(id string) *streamState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m[id]
}

func (t *streamTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, id)
}

func (t *streamTable) drain() []*streamState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*streamState, 0, len(t.m))
	for _, st := range t.m {
		out = append(out, st)
	}
	t.m = make(map[string]*streamState)
	return out
}

// RemoteStream is the consumer surface of a stream: the lazy sequence
// synthesized when a response arrives with the stream-opened marker.
// Next and Close are not safe for concurrent use with each other.
type RemoteStream struct {
	c    *Channel
	st   *streamState
	done bool
	once sync.Once
}

// Next yields the next chunk. It returns (nil, io.EOF) after a clean
// end, the reconstructed producer error after a stream-error, and
// CHANNEL_DESTROYED if the channel dies mid-iteration.
func (s *RemoteStream) Next(ctx context.Context) (any, error) {
	if s.done {
		return nil, io.EOF
	}
	// Buffered events win over teardown so chunks already delivered
	// are not lost to a racing destroy.
	select {
	case ev := <-s.st.events:
		return s.consume(ev)
	default:
	}
	select {
	case ev := <-s.st.events:
		return s.consume(ev)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.c.done:
		s.done = true
		return nil, rpcerr.New(rpcerr.CodeChannelDestroyed, "channel destroyed during stream %s", s.st.id)
	}
}

func (s *RemoteStream) consume(ev streamEvent) (any, error) {
	if ev.end {
		s.done = true
		return nil, io.EOF
	}
	if ev.err != nil {
		s.done = true
		return nil, ev.err
	}
	return ev.value, nil
}

// Close abandons iteration. If the stream has not already terminated it
// sends exactly one stream-cancel; chunks still in flight are dropped.
// Safe to call after natural termination (no cancel is sent) and
// idempotent.
func (s *RemoteStream) Close() error {
	s.once.Do(func() {
		finished := s.done
		select {
		case <-s.st.gone: // already terminal; nothing to cancel
			finished = true
		default:
		}
		s.done = true
		s.st.markGone()
		s.c.streams.remove(s.st.id)
		s.c.pending.remove(s.st.id)
		if finished {
			return
		}
		env := &codec.Envelope{ID: s.st.id, Type: codec.KindStreamCancel}
		if err := s.c.send(env, nil); err != nil {
			s.c.log.WithField("stream_id", s.st.id).WithError(err).Debug("stream cancel not delivered")
		}
	})
	return nil
}

// openConsumerStream registers the consumer record for a freshly
// promoted stream id and returns its surface.
func (c *Channel) openConsumerStream(id string) *RemoteStream {
	st := &streamState{
		id:     id,
		role:   roleConsumer,
		events: make(chan streamEvent, streamQueueDepth),
		gone:   make(chan struct{}),
	}
	c.streams.add(st)
	return &RemoteStream{c: c, st: st}
}

// routeStream handles the four stream kinds from the read loop. Chunk
// delivery may block on a full consumer queue; cancellation and
// teardown unblock it.
func (c *Channel) routeStream(env *codec.Envelope, handles []any) {
	st := c.streams.get(env.ID)
	if st == nil {
		// Cancelled or unknown stream: late chunks are discarded by
		// contract, anything else is merely diagnostic.
		c.log.WithFields(log.Fields{"stream_id": env.ID, "kind": env.Type}).Debug("message for inactive stream")
		return
	}

	if env.Type == codec.KindStreamCancel {
		if st.role != roleProducer {
			c.log.WithField("stream_id", env.ID).Warn("stream-cancel for a non-producer stream")
			return
		}
		st.cancelProduce()
		return
	}

	if st.role != roleConsumer {
		c.log.WithFields(log.Fields{"stream_id": env.ID, "kind": env.Type}).Warn("stream message for a producer stream")
		return
	}

	switch env.Type {
	case codec.KindStreamChunk:
		v, err := c.unmarshalInbound(env.Args, env.TransferSlots, handles)
		ev := streamEvent{value: v}
		if err != nil {
			ev = streamEvent{err: err}
		}
		c.deliver(st, ev, false)
	case codec.KindStreamEnd:
		c.deliver(st, streamEvent{end: true}, true)
	case codec.KindStreamError:
		remote := codec.ErrorFromWire(env.Args)
		c.deliver(st, streamEvent{err: rpcerr.Wrap(rpcerr.CodeStream, remote, "stream %s failed", env.ID)}, true)
	}
}

// deliver pushes one event into the consumer queue. Terminal events
// also retire the stream record and its pending entry.
func (c *Channel) deliver(st *streamState, ev streamEvent, terminal bool) {
	select {
	case st.events <- ev:
	case <-st.gone:
	case <-c.ctx.Done():
	}
	if terminal {
		c.streams.remove(st.id)
		c.pending.remove(st.id)
		st.markGone()
	}
}

// startProducer transitions a request into stream-producer mode: it
// sends the stream-opened marker as the initial response and iterates
// the source on its own task.
func (c *Channel) startProducer(id string, it Iterator) {
	pctx, cancel := context.WithCancel(c.ctx)
	st := &streamState{id: id, role: roleProducer, cancelProduce: cancel}
	c.streams.add(st)

	env := &codec.Envelope{
		ID:   id,
		Type: codec.KindResponse,
		Args: codec.ResultPayload(codec.StreamMarker()),
	}
	if err := c.send(env, nil); err != nil {
		cancel()
		c.streams.remove(id)
		c.closeIterator(id, it)
		return
	}

	c.group.Go(func() error {
		c.produce(pctx, st, it)
		return nil
	})
}

// produce drives one producer stream to its terminal state: exactly one
// of stream-end or stream-error is the final message carrying this id.
func (c *Channel) produce(ctx context.Context, st *streamState, it Iterator) {
	defer func() {
		c.streams.remove(st.id)
		st.cancelProduce()
		c.closeIterator(st.id, it)
	}()

	for {
		if ctx.Err() != nil {
			// Consumer cancelled (or the channel is going down): stop
			// iterating and confirm closure best effort.
			c.sendFinal(&codec.Envelope{ID: st.id, Type: codec.KindStreamEnd})
			return
		}
		v, err := it.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			c.sendFinal(&codec.Envelope{ID: st.id, Type: codec.KindStreamEnd})
			return
		case err != nil:
			if ctx.Err() != nil {
				c.sendFinal(&codec.Envelope{ID: st.id, Type: codec.KindStreamEnd})
				return
			}
			c.sendFinal(&codec.Envelope{
				ID:   st.id,
				Type: codec.KindStreamError,
				Args: codec.ErrorToWire(err),
			})
			return
		}

		m := c.newOutboundMarshaler()
		w, werr := m.walk(v)
		if werr != nil {
			c.sendFinal(&codec.Envelope{ID: st.id, Type: codec.KindStreamError, Args: codec.ErrorToWire(werr)})
			return
		}
		chunk := &codec.Envelope{
			ID:            st.id,
			Type:          codec.KindStreamChunk,
			Args:          w,
			CallbackIDs:   m.cbIDs,
			TransferSlots: m.slots,
		}
		if err := c.send(chunk, m.handles); err != nil {
			if rpcerr.IsCode(err, rpcerr.CodeEncode) {
				c.sendFinal(&codec.Envelope{ID: st.id, Type: codec.KindStreamError, Args: codec.ErrorToWire(err)})
				return
			}
			// Endpoint failure tears the channel down elsewhere; the
			// stream is finished either way.
			return
		}
	}
}

func (c *Channel) closeIterator(id string, it Iterator) {
	closer, ok := it.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		c.log.WithField("stream_id", id).WithError(err).Warn("stream source cleanup failed")
	}
}
