package graphclient

import (
	"log/slog"

	"graphlink/internal/adapter/transport"
	"graphlink/internal/domain"
)

// Option configures a Conn.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	bus           domain.EventBus
	transportOpts []transport.Option
	strict        bool
	authType      FrameType
	authToken     string
}

func defaultOptions() options {
	return options{logger: slog.Default()}
}

// WithLogger sets a custom slog.Logger. It is also handed to the transport.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBus publishes connection lifecycle events to bus.
func WithBus(bus domain.EventBus) Option {
	return func(o *options) { o.bus = bus }
}

// WithTransportOptions passes options through to the transport handle.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) { o.transportOpts = append(o.transportOpts, opts...) }
}

// WithStrictFrames validates every inbound frame against the wire schema
// before routing it. A mismatch is a protocol fault.
func WithStrictFrames(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithAuth makes Dial send an initial login or token frame carrying token.
// Any other frame type disables frame-based auth.
func WithAuth(typ FrameType, token string) Option {
	return func(o *options) {
		switch typ {
		case TypeLogin, TypeToken:
			o.authType, o.authToken = typ, token
		default:
			o.authType, o.authToken = "", ""
		}
	}
}
