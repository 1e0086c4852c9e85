// Package transport owns the single WebSocket the graph client multiplexes
// over. A Handle dials lazily, shares one dial attempt among concurrent
// callers, and never reconnects on its own.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"graphlink/internal/domain"
)

// State is the lifecycle position of a Handle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// FrameHandler receives every inbound text message, one at a time, on the
// handle's read goroutine.
type FrameHandler func(raw []byte)

// CloseHook is told why the handle closed. It fires once per hook.
type CloseHook func(cause error)

// Handle is the transport handle for one logical session.
type Handle struct {
	endpoint string
	onFrame  FrameHandler
	opts     options

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	dialDone chan struct{} // closed when the in-flight dial settles
	cause    error         // set once the handle is closed
	hooks    []CloseHook
	done     chan struct{}
}

// New creates a handle for endpoint. Nothing is dialed until the first
// Acquire or Write.
func New(endpoint string, onFrame FrameHandler, opts ...Option) *Handle {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Handle{
		endpoint: endpoint,
		onFrame:  onFrame,
		opts:     o,
		done:     make(chan struct{}),
	}
}

// Endpoint returns the URL the handle dials.
func (h *Handle) Endpoint() string { return h.endpoint }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the handle reaches StateClosed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cause returns why the handle closed, or nil while it is still usable.
func (h *Handle) Cause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cause
}

// OnClose registers a hook. On an already closed handle the hook runs
// immediately with the recorded cause.
func (h *Handle) OnClose(hook CloseHook) {
	h.mu.Lock()
	if h.state == StateClosed {
		cause := h.cause
		h.mu.Unlock()
		hook(cause)
		return
	}
	h.hooks = append(h.hooks, hook)
	h.mu.Unlock()
}

// Acquire returns the open socket, dialing on first use. Concurrent callers
// share the same dial. A failed dial closes the handle for good: every
// later call fails with domain.ErrOffline.
func (h *Handle) Acquire(ctx context.Context) (*websocket.Conn, error) {
	for {
		h.mu.Lock()
		switch h.state {
		case StateOpen:
			conn := h.conn
			h.mu.Unlock()
			return conn, nil
		case StateClosed:
			cause := h.cause
			h.mu.Unlock()
			return nil, offline(cause)
		case StateDisconnected:
			h.state = StateConnecting
			h.dialDone = make(chan struct{})
			go h.dial(h.dialDone)
		}
		wait := h.dialDone
		h.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func offline(cause error) error {
	if cause == nil || errors.Is(cause, domain.ErrOffline) {
		return domain.NewSubSystemError("transport", "Handle.Acquire", domain.ErrOffline, "")
	}
	return domain.NewSubSystemError("transport", "Handle.Acquire", domain.ErrOffline, cause.Error())
}

func (h *Handle) dial(settled chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.dialTimeout)
	defer cancel()

	h.opts.logger.Debug("transport dialing", "endpoint", h.endpoint)
	conn, _, err := websocket.Dial(ctx, h.endpoint, &websocket.DialOptions{
		HTTPClient: h.opts.httpClient,
		HTTPHeader: h.opts.header,
	})

	h.mu.Lock()
	if err != nil {
		h.mu.Unlock()
		cause := domain.NewSubSystemError("transport", "Handle.dial", domain.ErrTransport, err.Error())
		h.opts.logger.Warn("transport dial failed", "endpoint", h.endpoint, "error", err)
		h.shutdown(cause)
		close(settled)
		return
	}
	if h.state == StateClosed {
		// Closed by the caller while dialing.
		h.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		close(settled)
		return
	}
	if h.opts.readLimit > 0 {
		conn.SetReadLimit(h.opts.readLimit)
	}
	h.conn = conn
	h.state = StateOpen
	h.mu.Unlock()
	close(settled)

	h.opts.logger.Info("transport open", "endpoint", h.endpoint)
	go h.readLoop(conn)
}

func (h *Handle) readLoop(conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(context.Background())
		if err != nil {
			h.shutdown(readCause(err))
			return
		}
		if typ != websocket.MessageText {
			h.opts.logger.Warn("transport: non-text message", "type", typ.String(), "size", len(data))
		}
		h.onFrame(data)
	}
}

func readCause(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return domain.NewSubSystemError("transport", "Handle.read", domain.ErrOffline, "closed by remote")
	}
	return domain.NewSubSystemError("transport", "Handle.read", domain.ErrTransport, err.Error())
}

// Write sends one text frame, dialing first if needed. Writes pass through
// the rate limiter when one is configured.
func (h *Handle) Write(ctx context.Context, data []byte) error {
	conn, err := h.Acquire(ctx)
	if err != nil {
		return err
	}
	if h.opts.limiter != nil {
		if err := h.opts.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	wctx, cancel := context.WithTimeout(ctx, h.opts.writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return domain.NewSubSystemError("transport", "Handle.Write", domain.ErrTransport, err.Error())
	}
	return nil
}

// Close closes the socket with a normal closure and fires the close hooks
// with domain.ErrClosedByCaller. Closing twice is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	if !h.shutdown(domain.ErrClosedByCaller) {
		return nil
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

// CloseWithError tears the session down after a fault the caller detected,
// such as a protocol desync. Hooks see cause.
func (h *Handle) CloseWithError(cause error) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	if h.shutdown(cause) && conn != nil {
		// The close handshake reads from the socket; keep it off the
		// caller's goroutine, which may be the read loop itself.
		go conn.Close(websocket.StatusPolicyViolation, truncateReason(cause.Error()))
	}
}

// Close reasons must fit in a control frame and stay valid UTF-8.
const maxReason = 120

func truncateReason(s string) string {
	if len(s) <= maxReason {
		return s
	}
	n := maxReason
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// shutdown moves the handle to StateClosed and fires hooks. It reports
// whether this call performed the transition.
func (h *Handle) shutdown(cause error) bool {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return false
	}
	h.state = StateClosed
	h.cause = cause
	hooks := h.hooks
	h.hooks = nil
	h.mu.Unlock()

	close(h.done)
	h.opts.logger.Info("transport closed", "endpoint", h.endpoint, "cause", cause)
	for _, hook := range hooks {
		hook(cause)
	}
	return true
}

type options struct {
	logger       *slog.Logger
	dialTimeout  time.Duration
	writeTimeout time.Duration
	readLimit    int64
	limiter      *rate.Limiter
	httpClient   *http.Client
	header       http.Header
}

func defaultOptions() options {
	return options{
		logger:       slog.Default(),
		dialTimeout:  10 * time.Second,
		writeTimeout: 5 * time.Second,
		readLimit:    1 << 20,
	}
}
