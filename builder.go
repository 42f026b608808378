package duplexrpc

import (
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/duplexrpc/rpcerr"
)

// Builder constructs a Channel with a fluent interface. It is a
// convenience over New for embedders wiring several concerns.
type Builder struct {
	ep   Endpoint
	api  API
	opts []Option
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// WithEndpoint sets the bound transport endpoint.
func (b *Builder) WithEndpoint(ep Endpoint) *Builder {
	b.ep = ep
	return b
}

// WithAPI sets the exposed API tree.
func (b *Builder) WithAPI(api API) *Builder {
	b.api = api
	return b
}

// WithCodecMode selects the payload encoding mode.
func (b *Builder) WithCodecMode(mode string) *Builder {
	b.opts = append(b.opts, WithCodecMode(mode))
	return b
}

// WithInterceptors appends middleware layers, outermost first.
func (b *Builder) WithInterceptors(chain ...Interceptor) *Builder {
	b.opts = append(b.opts, WithInterceptors(chain...))
	return b
}

// WithTransferHandlers registers user transfer types.
func (b *Builder) WithTransferHandlers(handlers ...TransferHandler) *Builder {
	b.opts = append(b.opts, WithTransferHandlers(handlers...))
	return b
}

// WithLogger sets the diagnostic sink.
func (b *Builder) WithLogger(logger *log.Logger) *Builder {
	b.opts = append(b.opts, WithLogger(logger))
	return b
}

// WithOnClose registers a teardown observer.
func (b *Builder) WithOnClose(fn func(error)) *Builder {
	b.opts = append(b.opts, WithOnClose(fn))
	return b
}

// Build wires everything together and starts the channel.
func (b *Builder) Build() (*Channel, error) {
	if b.ep == nil {
		return nil, rpcerr.New(rpcerr.CodeProtocol, "builder: endpoint is required")
	}
	return New(b.ep, b.api, b.opts...)
}
