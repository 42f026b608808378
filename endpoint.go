package duplexrpc

import "context"

// Capabilities declares what an endpoint can carry. When
// StructuredClone is false the message payload must be a UTF-8 string
// or byte slice; when true the payload may be a structured value.
// Transfer enables out-of-band resource handles alongside a message.
type Capabilities struct {
	StructuredClone bool
	Transfer        bool
}

// Message is one hop across an endpoint. Data holds the logical
// payload; Handles carries transferred resources, parallel to the
// envelope's transfer slots.
type Message struct {
	Data    any
	Handles []any
}

// Endpoint is the duplex channel contract: ordered, message-preserving,
// best-effort reliable. The core assumes no duplication and no
// reordering; adapters over weaker transports must compensate.
type Endpoint interface {
	// Read yields the next message. It blocks until one arrives,
	// returns (nil, io.EOF) when the far end has closed, and honors
	// ctx cancellation.
	Read(ctx context.Context) (*Message, error)
	// Write hands off one message. Ordering relative to previous
	// writes is preserved; the call is atomic per message.
	Write(ctx context.Context, msg *Message) error
	// Capabilities reports the endpoint's capability declaration.
	Capabilities() Capabilities
}

// EndpointDestroyer is an optional Endpoint extension for resource
// release on channel teardown.
type EndpointDestroyer interface {
	Destroy() error
}

// EndpointNotifier is an optional Endpoint extension for event-driven
// adapters that learn about closure out of band.
type EndpointNotifier interface {
	OnClose(func(error))
}
