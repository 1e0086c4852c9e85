package transport

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Option configures a Handle.
type Option func(*options)

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDialTimeout bounds the opening handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithReadLimit caps the size of a single inbound message.
func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

// WithRateLimit limits outbound frames to perSecond with the given burst.
// A non-positive rate leaves writes unthrottled.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithHTTPClient sets the client used for the opening handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithHeader adds headers to the opening handshake.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}

// Endpoint builds the connect URL. An empty token yields
// ws://{host}{path}; otherwise the token rides in the sessionToken query
// parameter.
func Endpoint(host, path, token string, secure bool) string {
	u := url.URL{Scheme: "ws", Host: host, Path: path}
	if secure {
		u.Scheme = "wss"
	}
	if token != "" {
		u.RawQuery = url.Values{"sessionToken": {token}}.Encode()
	}
	return u.String()
}
