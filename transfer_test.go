package duplexrpc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/router-for-me/duplexrpc/codec"
	"github.com/router-for-me/duplexrpc/rpcerr"
)

var transferCaps = Capabilities{StructuredClone: true, Transfer: true}

func TestBufferTransferProducesDenseSlots(t *testing.T) {
	c, _ := newStubChannel(t, transferCaps)

	b1 := NewBuffer(1024)
	b2 := NewBuffer(16)
	m := c.newOutboundMarshaler()
	out, err := m.walkArgs([]any{b1, "plain", map[string]any{"inner": b2}})
	if err != nil {
		t.Fatalf("walkArgs: %v", err)
	}

	if got := out[0].(string); got != codec.TransferPrefix+"0" {
		t.Errorf("slot sentinel = %q", got)
	}
	inner := out[2].(map[string]any)["inner"].(string)
	if inner != codec.TransferPrefix+"1" {
		t.Errorf("second sentinel = %q, want dense index 1", inner)
	}
	if len(m.slots) != 2 || len(m.handles) != 2 {
		t.Fatalf("slots/handles = %d/%d, want 2/2", len(m.slots), len(m.handles))
	}
	for i, slot := range m.slots {
		if slot.Tag != bufferTag {
			t.Errorf("slot %d tag = %q", i, slot.Tag)
		}
	}
	// The sender's view empties on detach.
	if b1.ByteLen() != 0 || b2.ByteLen() != 0 {
		t.Errorf("buffers not detached: %d, %d", b1.ByteLen(), b2.ByteLen())
	}
	if len(m.handles[0].([]byte)) != 1024 {
		t.Errorf("handle 0 length = %d", len(m.handles[0].([]byte)))
	}
}

func TestBufferInlineFallbackWithoutTransfer(t *testing.T) {
	c, _ := newStubChannel(t, Capabilities{StructuredClone: true})

	buf := NewBuffer(8)
	m := c.newOutboundMarshaler()
	out, err := m.walkArgs([]any{buf})
	if err != nil {
		t.Fatalf("walkArgs: %v", err)
	}
	if _, ok := out[0].([]byte); !ok {
		t.Fatalf("fallback produced %T, want bytes", out[0])
	}
	if len(m.slots) != 0 {
		t.Errorf("slots allocated without transfer capability")
	}
	if buf.ByteLen() != 8 {
		t.Errorf("buffer detached on the inline path")
	}
}

func TestBufferReconstruction(t *testing.T) {
	c, _ := newStubChannel(t, transferCaps)

	slots := []codec.TransferSlot{{Tag: bufferTag, Meta: map[string]any{"byteLength": 4}}}
	handles := []any{[]byte{1, 2, 3, 4}}
	got, err := c.unmarshalInbound([]any{codec.TransferPrefix + "0"}, slots, handles)
	if err != nil {
		t.Fatalf("unmarshalInbound: %v", err)
	}
	buf := got.([]any)[0].(*Buffer)
	if buf.ByteLen() != 4 {
		t.Errorf("reconstructed length = %d, want 4", buf.ByteLen())
	}
}

func TestTransferSlotOutOfRange(t *testing.T) {
	c, _ := newStubChannel(t, transferCaps)
	_, err := c.unmarshalInbound(codec.TransferPrefix+"5", nil, nil)
	if !rpcerr.IsCode(err, rpcerr.CodeTransfer) {
		t.Errorf("err = %v, want TRANSFER_ERROR", err)
	}
}

func TestUnknownSlotTag(t *testing.T) {
	c, _ := newStubChannel(t, transferCaps)
	slots := []codec.TransferSlot{{Tag: "mystery"}}
	_, err := c.unmarshalInbound(codec.TransferPrefix+"0", slots, []any{nil})
	if !rpcerr.IsCode(err, rpcerr.CodeTransfer) {
		t.Errorf("err = %v, want TRANSFER_ERROR", err)
	}
}

func TestCycleThroughTransferable(t *testing.T) {
	c, _ := newStubChannel(t, transferCaps)

	loop := map[string]any{"buf": NewBuffer(1)}
	loop["self"] = loop
	m := c.newOutboundMarshaler()
	_, err := m.walkArgs([]any{loop})
	if !rpcerr.IsCode(err, rpcerr.CodeTransfer) {
		t.Errorf("err = %v, want TRANSFER_ERROR", err)
	}
}

func TestPlainCycleLeftForCodec(t *testing.T) {
	c, _ := newStubChannel(t, transferCaps)

	loop := map[string]any{}
	loop["self"] = loop
	m := c.newOutboundMarshaler()
	if _, err := m.walkArgs([]any{loop}); err != nil {
		t.Errorf("transfer walk rejected a transferable-free cycle: %v", err)
	}
}

func TestBareFunctionRejected(t *testing.T) {
	c, _ := newStubChannel(t, transferCaps)
	m := c.newOutboundMarshaler()
	_, err := m.walkArgs([]any{func() {}})
	if !rpcerr.IsCode(err, rpcerr.CodeEncode) {
		t.Errorf("err = %v, want ENCODE_ERROR", err)
	}
}

func TestCallbackSentinelRoundTrip(t *testing.T) {
	c, _ := newStubChannel(t, transferCaps)

	cb := NewCallback(func(...any) {})
	m := c.newOutboundMarshaler()
	out, err := m.walkArgs([]any{cb, cb})
	if err != nil {
		t.Fatalf("walkArgs: %v", err)
	}
	s1 := out[0].(string)
	s2 := out[1].(string)
	if s1 != s2 || !strings.HasPrefix(s1, codec.CallbackPrefix) {
		t.Errorf("sentinels = %q, %q", s1, s2)
	}
	if len(m.cbIDs) != 1 {
		t.Errorf("declared ids = %v, want exactly one", m.cbIDs)
	}

	back, err := c.unmarshalInbound(out, nil, nil)
	if err != nil {
		t.Fatalf("unmarshalInbound: %v", err)
	}
	if _, ok := back.([]any)[0].(*Callback); !ok {
		t.Errorf("sentinel did not bind to a proxy callable: %T", back.([]any)[0])
	}
}

// token is a user transfer type for handler tests.
type token struct{ secret string }

type tokenHandler struct{}

func (tokenHandler) Tag() string        { return "token" }
func (tokenHandler) Claims(v any) bool  { _, ok := v.(token); return ok }
func (tokenHandler) Serialize(v any) (any, any, error) {
	tk := v.(token)
	return map[string]any{"len": len(tk.secret)}, tk.secret, nil
}
func (tokenHandler) Deserialize(meta any, handle any) (any, error) {
	s, ok := handle.(string)
	if !ok {
		return nil, fmt.Errorf("handle is %T", handle)
	}
	return token{secret: s}, nil
}

func TestCustomTransferHandler(t *testing.T) {
	c, _ := newStubChannel(t, transferCaps, WithTransferHandlers(tokenHandler{}))

	m := c.newOutboundMarshaler()
	out, err := m.walkArgs([]any{token{secret: "s3cr3t"}})
	if err != nil {
		t.Fatalf("walkArgs: %v", err)
	}
	if out[0].(string) != codec.TransferPrefix+"0" {
		t.Fatalf("sentinel = %q", out[0])
	}
	if m.slots[0].Tag != "token" {
		t.Errorf("slot tag = %q", m.slots[0].Tag)
	}

	back, err := c.unmarshalInbound(out, m.slots, m.handles)
	if err != nil {
		t.Fatalf("unmarshalInbound: %v", err)
	}
	if got := back.([]any)[0].(token); got.secret != "s3cr3t" {
		t.Errorf("round trip = %+v", got)
	}
}
