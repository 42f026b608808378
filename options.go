package duplexrpc

import (
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/duplexrpc/codec"
)

// Options configures a Channel at construction time. There is no file
// or environment configuration; everything is set here.
type Options struct {
	// CodecMode selects the payload encoding: codec.VersionCompact or
	// codec.VersionRich. Rich is the default.
	CodecMode string

	// Interceptors wrap request handler invocation in onion order;
	// the first element is outermost.
	Interceptors []Interceptor

	// TransferHandlers extend the transfer engine with user types.
	TransferHandlers []TransferHandler

	// DisableTransfer keeps the transfer engine off even when the
	// endpoint declares the capability.
	DisableTransfer bool

	// Logger receives diagnostics. Defaults to the shared library
	// logger (warn level, stderr).
	Logger *log.Logger

	// OnClose runs once after teardown completes, with the cause
	// (nil for a local Destroy).
	OnClose func(error)
}

// Option mutates Options.
type Option func(*Options)

// WithCodecMode selects the payload encoding mode.
func WithCodecMode(mode string) Option {
	return func(o *Options) { o.CodecMode = mode }
}

// WithCompactCodec selects the compact (plain JSON) encoding.
func WithCompactCodec() Option {
	return func(o *Options) { o.CodecMode = codec.VersionCompact }
}

// WithInterceptors appends middleware layers, outermost first.
func WithInterceptors(chain ...Interceptor) Option {
	return func(o *Options) { o.Interceptors = append(o.Interceptors, chain...) }
}

// WithTransferHandlers registers user transfer types.
func WithTransferHandlers(handlers ...TransferHandler) Option {
	return func(o *Options) { o.TransferHandlers = append(o.TransferHandlers, handlers...) }
}

// WithoutTransfer disables zero-copy transfer regardless of endpoint
// capability.
func WithoutTransfer() Option {
	return func(o *Options) { o.DisableTransfer = true }
}

// WithLogger sets the diagnostic sink.
func WithLogger(logger *log.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithOnClose registers a teardown observer.
func WithOnClose(fn func(error)) Option {
	return func(o *Options) { o.OnClose = fn }
}
