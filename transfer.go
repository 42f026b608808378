package duplexrpc

import (
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/router-for-me/duplexrpc/codec"
	"github.com/router-for-me/duplexrpc/rpcerr"
)

// bufferTag is the slot tag of the core's one named transfer type.
const bufferTag = "buffer"

// Buffer is an opaque byte buffer eligible for zero-copy handoff on
// endpoints that declare the transfer capability. Sending a Buffer
// detaches it: the sender's view becomes zero-length and the bytes
// travel out of band. On endpoints without transfer capability the
// contents are copied inline as a []byte instead, and the peer receives
// that []byte rather than a *Buffer; string endpoints can carry the copy
// in rich mode only.
type Buffer struct {
	mu       sync.Mutex
	b        []byte
	detached bool
}

// NewBuffer allocates a zero-filled buffer of n bytes.
func NewBuffer(n int) *Buffer { return &Buffer{b: make([]byte, n)} }

// BytesBuffer wraps b without copying.
func BytesBuffer(b []byte) *Buffer { return &Buffer{b: b} }

// ByteLen reports the current length; zero after detach.
func (b *Buffer) ByteLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.b)
}

// Bytes returns the underlying bytes; nil after detach.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b
}

// Detach empties the buffer and returns its former contents.
func (b *Buffer) Detach() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.b
	b.b = nil
	b.detached = true
	return out
}

// snapshot copies the contents without detaching.
func (b *Buffer) snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.b))
	copy(out, b.b)
	return out
}

// TransferHandler extends the transfer engine with a user type: Claims
// selects values, Serialize splits one into wire metadata plus one
// out-of-band handle, Deserialize reassembles it on the peer.
type TransferHandler interface {
	Tag() string
	Claims(v any) bool
	Serialize(v any) (meta any, handle any, err error)
	Deserialize(meta any, handle any) (any, error)
}

// transferEngine walks argument and result graphs, replacing
// transferable values with dense slot references on the way out and
// reconstructing them on the way in.
type transferEngine struct {
	enabled  bool
	handlers []TransferHandler
}

func (e *transferEngine) handlerFor(v any) TransferHandler {
	for _, h := range e.handlers {
		if h.Claims(v) {
			return h
		}
	}
	return nil
}

func (e *transferEngine) handlerByTag(tag string) TransferHandler {
	for _, h := range e.handlers {
		if h.Tag() == tag {
			return h
		}
	}
	return nil
}

// transferable reports whether v would be replaced by a slot.
func (e *transferEngine) transferable(v any) bool {
	if !e.enabled {
		return false
	}
	if _, ok := v.(*Buffer); ok {
		return true
	}
	return e.handlerFor(v) != nil
}

// containsTransferable walks v (cycle-safe) looking for any value the
// engine would claim.
func (e *transferEngine) containsTransferable(v any, seen map[uintptr]struct{}) bool {
	if e.transferable(v) {
		return true
	}
	switch t := v.(type) {
	case map[string]any:
		ptr, ok := containerPtr(t)
		if ok {
			if _, dup := seen[ptr]; dup {
				return false
			}
			seen[ptr] = struct{}{}
		}
		for _, el := range t {
			if e.containsTransferable(el, seen) {
				return true
			}
		}
	case []any:
		ptr, ok := containerPtr(t)
		if ok {
			if _, dup := seen[ptr]; dup {
				return false
			}
			seen[ptr] = struct{}{}
		}
		for _, el := range t {
			if e.containsTransferable(el, seen) {
				return true
			}
		}
	case API:
		return e.containsTransferable(map[string]any(t), seen)
	}
	return false
}

// outboundMarshaler rewrites an outgoing value graph: callables become
// callback sentinels, transferables become slot sentinels with their
// handles collected densely. The input graph is never mutated.
type outboundMarshaler struct {
	c       *Channel
	slots   []codec.TransferSlot
	handles []any
	cbIDs   []string
	stack   map[uintptr]struct{}
}

func (c *Channel) newOutboundMarshaler() *outboundMarshaler {
	return &outboundMarshaler{c: c, stack: make(map[uintptr]struct{})}
}

func (m *outboundMarshaler) walkArgs(args []any) ([]any, error) {
	if args == nil {
		return nil, nil
	}
	out, err := m.walk(args)
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}

func (m *outboundMarshaler) walk(v any) (any, error) {
	engine := m.c.transfer

	// Callable arguments become sentinels before anything else.
	if cb, ok := asCallback(v); ok {
		id, fresh := m.c.callbacks.register(cb)
		if fresh || !containsString(m.cbIDs, id) {
			m.cbIDs = append(m.cbIDs, id)
		}
		return codec.CallbackPrefix + id, nil
	}

	if buf, ok := v.(*Buffer); ok {
		if engine.enabled {
			n := buf.ByteLen()
			m.slots = append(m.slots, codec.TransferSlot{
				Tag:  bufferTag,
				Meta: map[string]any{"byteLength": n},
			})
			m.handles = append(m.handles, buf.Detach())
			return codec.TransferPrefix + strconv.Itoa(len(m.slots)-1), nil
		}
		// No transfer capability: fall back to an inline copy.
		return buf.snapshot(), nil
	}

	if engine.enabled {
		if h := engine.handlerFor(v); h != nil {
			meta, handle, err := h.Serialize(v)
			if err != nil {
				return nil, rpcerr.Wrap(rpcerr.CodeTransfer, err, "serialize %s transferable", h.Tag())
			}
			m.slots = append(m.slots, codec.TransferSlot{Tag: h.Tag(), Meta: meta})
			m.handles = append(m.handles, handle)
			return codec.TransferPrefix + strconv.Itoa(len(m.slots)-1), nil
		}
	}

	switch t := v.(type) {
	case map[string]any:
		return m.walkMap(t)
	case API:
		return m.walkMap(map[string]any(t))
	case []any:
		ptr, ok := containerPtr(t)
		if ok {
			if _, on := m.stack[ptr]; on {
				return m.cycle(t)
			}
			m.stack[ptr] = struct{}{}
			defer delete(m.stack, ptr)
		}
		out := make([]any, len(t))
		for i, el := range t {
			w, err := m.walk(el)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	default:
		if v != nil && reflect.TypeOf(v).Kind() == reflect.Func {
			return nil, rpcerr.New(rpcerr.CodeEncode, "bare function of type %T is not callable across the channel", v)
		}
		return v, nil
	}
}

func (m *outboundMarshaler) walkMap(t map[string]any) (any, error) {
	ptr, ok := containerPtr(t)
	if ok {
		if _, on := m.stack[ptr]; on {
			return m.cycle(t)
		}
		m.stack[ptr] = struct{}{}
		defer delete(m.stack, ptr)
	}
	out := make(map[string]any, len(t))
	for k, el := range t {
		w, err := m.walk(el)
		if err != nil {
			return nil, err
		}
		out[k] = w
	}
	return out, nil
}

// cycle handles a container already on the walk stack. A cycle that
// reaches a transferable is rejected here; otherwise the reference is
// passed through for the codec to judge.
func (m *outboundMarshaler) cycle(v any) (any, error) {
	if m.c.transfer.containsTransferable(v, make(map[uintptr]struct{})) {
		return nil, rpcerr.New(rpcerr.CodeTransfer, "cycle through a transferable value")
	}
	return v, nil
}

// unmarshalInbound inverts the outbound rewrite on a decoded graph:
// transfer sentinels are replaced by reconstructed values, callback
// sentinels by synthesized proxy callables. Builds copies; the decoded
// graph (shared with the peer on structured endpoints) stays intact.
func (c *Channel) unmarshalInbound(v any, slots []codec.TransferSlot, handles []any) (any, error) {
	switch t := v.(type) {
	case string:
		if rest, ok := strings.CutPrefix(t, codec.CallbackPrefix); ok {
			return c.remoteCallback(rest), nil
		}
		if rest, ok := strings.CutPrefix(t, codec.TransferPrefix); ok {
			return c.reconstructSlot(rest, slots, handles)
		}
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			w, err := c.unmarshalInbound(el, slots, handles)
			if err != nil {
				return nil, err
			}
			out[k] = w
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			w, err := c.unmarshalInbound(el, slots, handles)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	default:
		return v, nil
	}
}

func (c *Channel) unmarshalArgs(v any, slots []codec.TransferSlot, handles []any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, rpcerr.New(rpcerr.CodeProtocol, "argument payload is %T, want list", v)
	}
	out, err := c.unmarshalInbound(list, slots, handles)
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}

func (c *Channel) reconstructSlot(index string, slots []codec.TransferSlot, handles []any) (any, error) {
	i, err := strconv.Atoi(index)
	if err != nil || i < 0 || i >= len(slots) || i >= len(handles) {
		return nil, rpcerr.New(rpcerr.CodeTransfer, "transfer slot %q out of range", index)
	}
	slot := slots[i]
	switch slot.Tag {
	case bufferTag:
		b, ok := handles[i].([]byte)
		if !ok {
			return nil, rpcerr.New(rpcerr.CodeTransfer, "slot %d: handle is %T, want bytes", i, handles[i])
		}
		return BytesBuffer(b), nil
	default:
		h := c.transfer.handlerByTag(slot.Tag)
		if h == nil {
			return nil, rpcerr.New(rpcerr.CodeTransfer, "unknown transfer slot tag %q", slot.Tag)
		}
		v, derr := h.Deserialize(slot.Meta, handles[i])
		if derr != nil {
			return nil, rpcerr.Wrap(rpcerr.CodeTransfer, derr, "deserialize %s transferable", slot.Tag)
		}
		return v, nil
	}
}

func containerPtr(v any) (uintptr, bool) {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return 0, false
		}
	case []any:
		if t == nil {
			return 0, false
		}
	default:
		return 0, false
	}
	return ptrOf(v), true
}

func ptrOf(v any) uintptr { return reflect.ValueOf(v).Pointer() }

// asCallback recognizes a callable argument. Bare funcs are rejected
// elsewhere: without NewCallback there is no stable identity to
// deduplicate on.
func asCallback(v any) (*Callback, bool) {
	cb, ok := v.(*Callback)
	return cb, ok && cb != nil
}

func containsString(list []string, s string) bool {
	for _, el := range list {
		if el == s {
			return true
		}
	}
	return false
}
