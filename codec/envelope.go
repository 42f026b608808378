// Package codec owns the wire representation of the RPC core: the
// logical envelope, the compact and rich payload encodings, line-feed
// framing for string transports, and the serialized error record.
package codec

// Kind is the envelope discriminator carried in the "type" field.
type Kind string

// Envelope kinds. The first six are one-shot exchanges; the stream-*
// kinds belong to an active stream whose id equals the originating
// request id.
const (
	// KindRequest invokes a method on the peer's exposed tree.
	KindRequest Kind = "request"
	// KindResponse completes a request, get, set or construct.
	KindResponse Kind = "response"
	// KindCallback invokes a callback previously declared by the peer.
	KindCallback Kind = "callback"
	// KindGet reads a property from the peer's exposed tree.
	KindGet Kind = "get"
	// KindSet writes a property into the peer's exposed tree.
	KindSet Kind = "set"
	// KindConstruct invokes a constructor on the peer's exposed tree.
	KindConstruct Kind = "construct"
	// KindStreamChunk carries one element of an open stream.
	KindStreamChunk Kind = "stream-chunk"
	// KindStreamEnd closes a stream after natural exhaustion.
	KindStreamEnd Kind = "stream-end"
	// KindStreamError closes a stream after a producer failure.
	KindStreamError Kind = "stream-error"
	// KindStreamCancel asks the producer to stop; sent by the consumer.
	KindStreamCancel Kind = "stream-cancel"
)

// OneShot reports whether k is a non-stream kind.
func (k Kind) OneShot() bool {
	switch k {
	case KindStreamChunk, KindStreamEnd, KindStreamError, KindStreamCancel:
		return false
	}
	return true
}

// Payload mode tags carried in the "version" field.
const (
	VersionCompact = "compact"
	VersionRich    = "rich"
)

// Wire sentinels.
const (
	// CallbackPrefix precedes a callback identifier at a value position.
	CallbackPrefix = "__callback__"
	// TransferPrefix precedes a decimal slot index at a value position.
	TransferPrefix = "__transfer__"
	// DestroySentinel is sent bare (no envelope) on teardown.
	DestroySentinel = "__DESTROY__"
	// StreamMarkerKey flags a response result object as a stream opener.
	StreamMarkerKey = "__stream__"

	richKey = "__rich__"
)

// Envelope is the logical message exchanged between endpoints.
type Envelope struct {
	// ID is the originator-unique request id: four hex groups joined by
	// dashes. Stream envelopes reuse the originating request id.
	ID string `json:"id"`
	// Method is the dot-joined path for request/construct, and the
	// callback identifier for callback envelopes. Empty otherwise.
	Method string `json:"method,omitempty"`
	// Args is the payload: an argument list for invocation kinds, a
	// {"result": v} / {"error": record} mapping for responses, the
	// element value for stream chunks.
	Args any `json:"args,omitempty"`
	// Type is the kind tag.
	Type Kind `json:"type"`
	// CallbackIDs lists callback identifiers declared by this payload.
	CallbackIDs []string `json:"callbackIds,omitempty"`
	// Version names the payload encoding mode.
	Version string `json:"version,omitempty"`
	// Path is the property path for get/set kinds.
	Path []string `json:"path,omitempty"`
	// Value is the assigned value for the set kind.
	Value any `json:"value,omitempty"`
	// TransferSlots describes out-of-band handles accompanying this
	// envelope; slot i pairs with handle i.
	TransferSlots []TransferSlot `json:"transferSlots,omitempty"`
}

// TransferSlot describes one out-of-band handle: the handler tag that
// reconstructs it and tag-specific metadata.
type TransferSlot struct {
	Tag  string `json:"tag"`
	Meta any    `json:"meta,omitempty"`
}

// Result and error payload field names.
const (
	ResultField = "result"
	ErrorField  = "error"
)

// ResultPayload wraps a success value for a response envelope.
func ResultPayload(v any) map[string]any { return map[string]any{ResultField: v} }

// ErrorPayload wraps a wire error record for a response envelope.
func ErrorPayload(record any) map[string]any { return map[string]any{ErrorField: record} }

// StreamMarker is the result object that opens a stream.
func StreamMarker() map[string]any { return map[string]any{StreamMarkerKey: true} }

// IsStreamMarker reports whether a decoded response result is the
// stream-opened marker.
func IsStreamMarker(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	flag, ok := m[StreamMarkerKey]
	if !ok {
		return false
	}
	b, ok := flag.(bool)
	return ok && b
}
