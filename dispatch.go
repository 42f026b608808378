package duplexrpc

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/duplexrpc/codec"
	"github.com/router-for-me/duplexrpc/rpcerr"
)

// route is the single inbound demultiplexer. It runs on the read loop:
// table bookkeeping happens here synchronously, handler bodies run as
// spawned tasks so one slow handler never blocks dispatch of the next
// message.
func (c *Channel) route(env *codec.Envelope, handles []any) {
	if env.ID == "" || env.Type == "" {
		c.log.WithField("kind", env.Type).Warn("envelope missing required field")
		return
	}
	switch env.Type {
	case codec.KindResponse:
		c.handleResponse(env, handles)
	case codec.KindRequest:
		c.spawn(env, func() { c.handleRequest(env, handles) })
	case codec.KindCallback:
		c.spawn(env, func() { c.handleCallback(env, handles) })
	case codec.KindGet:
		c.spawn(env, func() { c.handleGet(env) })
	case codec.KindSet:
		c.spawn(env, func() { c.handleSet(env, handles) })
	case codec.KindConstruct:
		c.spawn(env, func() { c.handleConstruct(env, handles) })
	case codec.KindStreamChunk, codec.KindStreamEnd, codec.KindStreamError, codec.KindStreamCancel:
		c.routeStream(env, handles)
	default:
		c.log.WithFields(log.Fields{"kind": env.Type, logRequestField: env.ID}).Warn("unknown envelope kind")
	}
}

// spawn runs one handler task under the channel's task group, fencing
// panics so a misbehaving handler cannot take the process down.
func (c *Channel) spawn(env *codec.Envelope, fn func()) {
	c.group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				c.log.WithField(logRequestField, env.ID).Errorf("handler panic: %v", r)
				if env.Type != codec.KindCallback {
					c.respondError(env.ID, rpcerr.New(rpcerr.CodeHandler, "handler panic: %v", r))
				}
			}
		}()
		fn()
		return nil
	})
}

func (c *Channel) handleRequest(env *codec.Envelope, handles []any) {
	args, err := c.unmarshalArgs(env.Args, env.TransferSlots, handles)
	if err != nil {
		c.respondError(env.ID, err)
		return
	}
	h, err := c.exposed.callableAt(env.Method)
	if err != nil {
		c.respondError(env.ID, err)
		return
	}

	cc := &CallContext{
		Context:  c.ctx,
		Method:   env.Method,
		Args:     args,
		State:    c.bag,
		Envelope: env,
	}
	result, err := applyChain(c.chain, cc, h)
	if err != nil {
		c.respondError(env.ID, err)
		return
	}
	if it, ok := result.(Iterator); ok {
		c.startProducer(env.ID, it)
		return
	}
	c.respondResult(env.ID, result)
}

func (c *Channel) handleCallback(env *codec.Envelope, handles []any) {
	cb, ok := c.callbacks.lookup(env.Method)
	if !ok {
		c.log.WithField("callback_id", env.Method).Warn("callback for unknown identifier")
		return
	}
	args, err := c.unmarshalArgs(env.Args, env.TransferSlots, handles)
	if err != nil {
		c.log.WithField("callback_id", env.Method).WithError(err).Warn("callback arguments unusable")
		return
	}
	// Callback return values are discarded by contract.
	cb.Invoke(args...)
}

func (c *Channel) handleGet(env *codec.Envelope) {
	v, err := c.exposed.resolveSegments(env.Path)
	if err != nil {
		c.respondError(env.ID, err)
		return
	}
	c.respondResult(env.ID, v)
}

func (c *Channel) handleSet(env *codec.Envelope, handles []any) {
	value, err := c.unmarshalInbound(env.Value, env.TransferSlots, handles)
	if err != nil {
		c.respondError(env.ID, err)
		return
	}
	if err := c.exposed.assign(env.Path, value); err != nil {
		c.respondError(env.ID, err)
		return
	}
	c.respondResult(env.ID, true)
}

func (c *Channel) handleConstruct(env *codec.Envelope, handles []any) {
	ctor, err := c.exposed.constructorAt(env.Method)
	if err != nil {
		c.respondError(env.ID, err)
		return
	}
	args, err := c.unmarshalArgs(env.Args, env.TransferSlots, handles)
	if err != nil {
		c.respondError(env.ID, err)
		return
	}
	// Constructed values are returned directly; remote handle lifetimes
	// are the embedder's concern.
	v, err := ctor(c.ctx, args)
	if err != nil {
		c.respondError(env.ID, err)
		return
	}
	c.respondResult(env.ID, v)
}

func (c *Channel) handleResponse(env *codec.Envelope, handles []any) {
	entry, ok := c.pending.lookup(env.ID)
	if !ok {
		c.log.WithField(logRequestField, env.ID).Debug("response for unknown request id")
		return
	}
	payload, ok := env.Args.(map[string]any)
	if !ok {
		c.pending.settle(env.ID, nil, rpcerr.New(rpcerr.CodeProtocol, "response payload is %T, want mapping", env.Args))
		return
	}
	if rec, present := payload[codec.ErrorField]; present {
		c.pending.settle(env.ID, nil, codec.ErrorFromWire(rec))
		return
	}
	result := payload[codec.ResultField]
	if codec.IsStreamMarker(result) {
		// Promote to stream-consumer: the pending entry stays until the
		// stream reaches a terminal state.
		entry.streamed = true
		entry.complete(c.openConsumerStream(env.ID), nil)
		return
	}
	v, err := c.unmarshalInbound(result, env.TransferSlots, handles)
	c.pending.settle(env.ID, v, err)
}

// respondResult encodes and sends a success response; encoding failures
// degrade into an error response so the caller is never left pending.
func (c *Channel) respondResult(id string, v any) {
	m := c.newOutboundMarshaler()
	w, err := m.walk(v)
	if err != nil {
		c.respondError(id, err)
		return
	}
	env := &codec.Envelope{
		ID:            id,
		Type:          codec.KindResponse,
		Args:          codec.ResultPayload(w),
		CallbackIDs:   m.cbIDs,
		TransferSlots: m.slots,
	}
	if err := c.send(env, m.handles); err != nil {
		c.log.WithField(logRequestField, id).WithError(err).Warn("response not delivered")
	}
}

func (c *Channel) respondError(id string, err error) {
	env := &codec.Envelope{
		ID:   id,
		Type: codec.KindResponse,
		Args: codec.ErrorPayload(codec.ErrorToWire(err)),
	}
	if serr := c.send(env, nil); serr != nil {
		c.log.WithField(logRequestField, id).WithError(serr).Warn("error response not delivered")
	}
}

// roundTrip allocates a request id, installs the pending entry, writes
// the envelope, and waits for completion. Abandoning via ctx fails the
// call locally only; the remote side keeps running (the core imposes no
// request timeouts).
func (c *Channel) roundTrip(ctx context.Context, env *codec.Envelope, handles []any) (any, error) {
	if err := c.operational(); err != nil {
		return nil, err
	}
	entry, err := c.pending.add(env.ID)
	if err != nil {
		return nil, err
	}
	if err := c.send(env, handles); err != nil {
		c.pending.remove(env.ID)
		return nil, err
	}
	v, err := entry.wait(ctx)
	if err != nil && ctx.Err() != nil {
		c.pending.remove(env.ID)
	}
	return v, err
}

// call issues a request for the dotted method path.
func (c *Channel) call(ctx context.Context, method string, args []any) (any, error) {
	m := c.newOutboundMarshaler()
	wargs, err := m.walkArgs(args)
	if err != nil {
		return nil, err
	}
	env := &codec.Envelope{
		ID:            newWireID(),
		Method:        method,
		Args:          wargs,
		Type:          codec.KindRequest,
		CallbackIDs:   m.cbIDs,
		TransferSlots: m.slots,
	}
	return c.roundTrip(ctx, env, m.handles)
}

// getProp issues a property read for the accumulated path.
func (c *Channel) getProp(ctx context.Context, segs []string) (any, error) {
	env := &codec.Envelope{ID: newWireID(), Type: codec.KindGet, Path: segs}
	return c.roundTrip(ctx, env, nil)
}

// setProp issues a property write.
func (c *Channel) setProp(ctx context.Context, segs []string, value any) error {
	m := c.newOutboundMarshaler()
	w, err := m.walk(value)
	if err != nil {
		return err
	}
	env := &codec.Envelope{
		ID:            newWireID(),
		Type:          codec.KindSet,
		Path:          segs,
		Value:         w,
		CallbackIDs:   m.cbIDs,
		TransferSlots: m.slots,
	}
	_, err = c.roundTrip(ctx, env, m.handles)
	return err
}

// construct issues a constructor invocation.
func (c *Channel) construct(ctx context.Context, method string, args []any) (any, error) {
	m := c.newOutboundMarshaler()
	wargs, err := m.walkArgs(args)
	if err != nil {
		return nil, err
	}
	env := &codec.Envelope{
		ID:            newWireID(),
		Method:        method,
		Args:          wargs,
		Type:          codec.KindConstruct,
		CallbackIDs:   m.cbIDs,
		TransferSlots: m.slots,
	}
	return c.roundTrip(ctx, env, m.handles)
}

// remoteCallback synthesizes the proxy callable for a peer-declared
// identifier. The proxy is not registered locally; invoking it after
// destroy surfaces CHANNEL_DESTROYED on the diagnostic sink.
func (c *Channel) remoteCallback(id string) *Callback {
	return NewCallback(func(args ...any) {
		if err := c.invokeRemoteCallback(id, args); err != nil {
			c.log.WithField("callback_id", id).WithError(err).Warn("callback invocation failed")
		}
	})
}

func (c *Channel) invokeRemoteCallback(id string, args []any) error {
	if err := c.operational(); err != nil {
		return err
	}
	m := c.newOutboundMarshaler()
	wargs, err := m.walkArgs(args)
	if err != nil {
		return err
	}
	env := &codec.Envelope{
		ID:            newWireID(),
		Method:        id,
		Args:          wargs,
		Type:          codec.KindCallback,
		CallbackIDs:   m.cbIDs,
		TransferSlots: m.slots,
	}
	return c.send(env, m.handles)
}
