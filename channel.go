package duplexrpc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/router-for-me/duplexrpc/codec"
	"github.com/router-for-me/duplexrpc/internal/logging"
	"github.com/router-for-me/duplexrpc/rpcerr"
)

// Channel lifecycle states.
const (
	stateInitializing int32 = iota
	stateRunning
	stateDestroying
	stateDestroyed
)

const logRequestField = logging.RequestField

// Channel is one endpoint of a bidirectional RPC connection: it owns
// the read loop, the shared tables, the exposed tree, and the proxy to
// the peer. Create with New (or a Builder); always Destroy when done.
type Channel struct {
	id   string
	ep   Endpoint
	caps Capabilities
	cod  *codec.Codec
	log  *log.Entry

	exposed   *exposedTree
	pending   *pendingTable
	callbacks *callbackRegistry
	streams   *streamTable
	transfer  *transferEngine
	chain     []Interceptor
	bag       *StateBag

	framer codec.Framer

	state       atomic.Int32
	writeMu     sync.Mutex
	done        chan struct{}
	destroyOnce sync.Once
	group       *errgroup.Group
	ctx         context.Context
	cancel      context.CancelFunc
	onClose     func(error)
}

// New binds a channel to an endpoint, exposes api to the peer, and
// spawns the read loop.
func New(ep Endpoint, api API, opts ...Option) (*Channel, error) {
	if ep == nil {
		return nil, rpcerr.New(rpcerr.CodeProtocol, "nil endpoint")
	}
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = logging.Base()
	}

	caps := ep.Capabilities()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		id:        uuid.NewString(),
		ep:        ep,
		caps:      caps,
		cod:       codec.New(o.CodecMode, caps.StructuredClone),
		exposed:   &exposedTree{},
		pending:   &pendingTable{},
		callbacks: newCallbackRegistry(),
		streams:   newStreamTable(),
		transfer: &transferEngine{
			enabled:  caps.Transfer && !o.DisableTransfer,
			handlers: o.TransferHandlers,
		},
		chain:   o.Interceptors,
		bag:     newStateBag(),
		done:    make(chan struct{}),
		group:   &errgroup.Group{},
		ctx:     ctx,
		cancel:  cancel,
		onClose: o.OnClose,
	}
	c.log = logger.WithField(logging.ChannelField, c.id)
	c.exposed.replace(api)

	if n, ok := ep.(EndpointNotifier); ok {
		n.OnClose(func(err error) { go c.teardown(err, false) })
	}

	c.state.Store(stateRunning)
	c.group.Go(c.readLoop)
	return c, nil
}

// ID returns the channel instance id (diagnostics only; never on the
// wire).
func (c *Channel) ID() string { return c.id }

// Done is closed once teardown completes.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Expose atomically replaces the exposed API tree.
func (c *Channel) Expose(api API) { c.exposed.replace(api) }

// Destroy tears the channel down: it signals the peer best effort,
// fails all pending requests with CHANNEL_DESTROYED, closes every
// active stream, frees the callback registry, and releases the
// endpoint. Idempotent.
func (c *Channel) Destroy() error {
	c.teardown(nil, true)
	return nil
}

// operational gates every outbound act on the running state.
func (c *Channel) operational() error {
	if c.state.Load() != stateRunning {
		return rpcerr.New(rpcerr.CodeChannelDestroyed, "channel is destroyed")
	}
	return nil
}

// readLoop owns message ingestion: read, decode, route, until the peer
// closes or the channel is destroyed.
func (c *Channel) readLoop() error {
	for {
		msg, err := c.ep.Read(c.ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.teardown(io.EOF, false)
			case c.ctx.Err() != nil:
				// Local destroy already in progress.
			default:
				c.log.WithError(err).Warn("endpoint read failed")
				c.teardown(err, false)
			}
			return nil
		}
		if stop := c.ingest(msg); stop {
			return nil
		}
	}
}

// ingest decodes one endpoint message into envelopes and routes them.
// Returns true when a destroy sentinel ends the loop.
func (c *Channel) ingest(msg *Message) bool {
	if c.caps.StructuredClone {
		if s, ok := msg.Data.(string); ok && s == codec.DestroySentinel {
			c.teardown(rpcerr.New(rpcerr.CodeChannelDestroyed, "peer destroyed the channel"), false)
			return true
		}
		env, err := c.cod.Decode(msg.Data)
		if err != nil {
			c.log.WithError(err).Warn("undecodable message dropped")
			return false
		}
		c.route(env, msg.Handles)
		return false
	}

	var chunk []byte
	switch t := msg.Data.(type) {
	case []byte:
		chunk = t
	case string:
		chunk = []byte(t)
	default:
		c.log.Warnf("string endpoint delivered %T payload", msg.Data)
		return false
	}
	for _, frame := range c.framer.Push(chunk) {
		if codec.IsDestroySentinel(frame) {
			c.teardown(rpcerr.New(rpcerr.CodeChannelDestroyed, "peer destroyed the channel"), false)
			return true
		}
		if !codec.StartsEnvelope(frame) {
			// Non-envelope frames are diagnostic passthrough, not errors.
			c.log.Debugf("passthrough frame: %s", frame)
			continue
		}
		env, err := codec.DecodeFrame(frame)
		if err != nil {
			c.log.WithError(err).Warn("undecodable frame dropped")
			continue
		}
		c.route(env, msg.Handles)
	}
	return false
}

// send encodes and writes one envelope. Endpoint write failure tears
// the channel down.
func (c *Channel) send(env *codec.Envelope, handles []any) error {
	if err := c.operational(); err != nil {
		return err
	}
	data, err := c.cod.Encode(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	err = c.ep.Write(c.ctx, &Message{Data: data, Handles: handles})
	c.writeMu.Unlock()
	if err != nil {
		if c.ctx.Err() == nil {
			go c.teardown(err, false)
		}
		return rpcerr.Wrap(rpcerr.CodeChannelDestroyed, err, "endpoint write failed")
	}
	return nil
}

// sendFinal writes a stream terminal envelope best effort: it still
// works while the channel is destroying, and failures are swallowed —
// the peer learns the outcome from the destroy sentinel in that case.
func (c *Channel) sendFinal(env *codec.Envelope) {
	if c.state.Load() == stateDestroyed {
		return
	}
	data, err := c.cod.Encode(env)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	_ = c.ep.Write(context.Background(), &Message{Data: data, Handles: nil})
	c.writeMu.Unlock()
}

// notifyPeerDestroy broadcasts the bare destroy sentinel.
func (c *Channel) notifyPeerDestroy() {
	var data any
	if c.caps.StructuredClone {
		data = codec.DestroySentinel
	} else {
		data = []byte(codec.DestroySentinel + "\n")
	}
	c.writeMu.Lock()
	_ = c.ep.Write(context.Background(), &Message{Data: data})
	c.writeMu.Unlock()
}

// teardown is the single destroy path. A destroy during an in-flight
// write waits for that write (the sentinel takes the write lock) so
// the drain never interleaves with a partially written message.
func (c *Channel) teardown(cause error, local bool) {
	c.destroyOnce.Do(func() {
		c.state.Store(stateDestroying)
		if local {
			c.notifyPeerDestroy()
		}
		c.cancel()

		for _, st := range c.streams.drain() {
			switch st.role {
			case roleConsumer:
				st.markGone()
			case roleProducer:
				st.cancelProduce()
			}
		}
		c.pending.drain(rpcerr.New(rpcerr.CodeChannelDestroyed, "channel destroyed"))
		c.callbacks.clear()
		if d, ok := c.ep.(EndpointDestroyer); ok {
			if err := d.Destroy(); err != nil {
				c.log.WithError(err).Debug("endpoint release failed")
			}
		}

		c.state.Store(stateDestroyed)
		close(c.done)
		if cause != nil && !errors.Is(cause, io.EOF) {
			c.log.WithError(cause).Info("channel destroyed")
		}
		if c.onClose != nil {
			c.onClose(cause)
		}
	})
}
