package graphclient

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/oklog/ulid/v2"

	"graphlink/internal/domain"
	"graphlink/internal/usecase/querydoc"
)

// DataHandler receives the inner data object of each "data" push: for a
// push carrying {"data": {"data": X}} the handler is called with X, not
// with the enclosing block. Errors in the block go to the ErrorHandler.
type DataHandler func(data json.RawMessage)

// ErrorHandler receives push errors and the teardown cause.
type ErrorHandler func(err error)

// NewSubscriptionID returns a fresh, sortable subscription id.
func NewSubscriptionID() string {
	return ulid.Make().String()
}

// Subscription is the caller's handle on one registered subscription.
//
// Handlers run on the connection's dispatch goroutine, one push at a time.
// They must not wait on other calls of the same Conn, since the reply they
// would wait for is dispatched by that goroutine; start a goroutine instead.
type Subscription struct {
	conn   *Conn
	id     string
	query  string
	params *querydoc.Params

	mu      sync.Mutex
	onData  DataHandler
	onError ErrorHandler
	ended   bool
}

// SubscribeOption installs handlers before the subscribe frame is sent, so
// no push can slip past them.
type SubscribeOption func(*Subscription)

// WithOnData installs the data handler at subscribe time.
func WithOnData(fn DataHandler) SubscribeOption {
	return func(s *Subscription) { s.onData = fn }
}

// WithOnError installs the error handler at subscribe time.
func WithOnError(fn ErrorHandler) SubscribeOption {
	return func(s *Subscription) { s.onError = fn }
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// Query returns the normalized query text that was sent.
func (s *Subscription) Query() string { return s.query }

// Params returns the parameters that were sent.
func (s *Subscription) Params() *querydoc.Params { return s.params }

// OnData replaces the data handler.
func (s *Subscription) OnData(fn DataHandler) {
	s.mu.Lock()
	s.onData = fn
	s.mu.Unlock()
}

// OnError replaces the error handler.
func (s *Subscription) OnError(fn ErrorHandler) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Unsubscribe asks the server to stop the subscription. It is idempotent:
// once it has succeeded, or the connection has torn the subscription down,
// later calls return nil without touching the wire.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return nil
	}
	if err := s.conn.Unsubscribe(ctx, s.id); err != nil {
		return err
	}
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	return nil
}

func (s *Subscription) deliver(data json.RawMessage) {
	s.mu.Lock()
	fn := s.onData
	s.mu.Unlock()
	if fn == nil {
		s.conn.logger.Debug("push dropped: no data handler", "subscription", s.id)
		return
	}
	fn(data)
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn == nil {
		s.conn.logger.Debug("push error dropped: no error handler", "subscription", s.id, "error", err)
		return
	}
	fn(err)
}

// teardown ends the subscription because the connection went away. The
// error handler sees cause once.
func (s *Subscription) teardown(cause error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()
	s.fail(cause)
}

type regEntry struct {
	sub    *Subscription
	active bool
}

// registry holds subscriptions by id. An id is reserved while its
// subscribe request is in flight and becomes active when the server
// acknowledges it; only active ids receive pushes.
type registry struct {
	mu     sync.Mutex
	m      map[string]*regEntry
	closed error
}

func newRegistry() *registry {
	return &registry{m: make(map[string]*regEntry)}
}

func (r *registry) reserve(sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed != nil {
		return r.closed
	}
	if _, ok := r.m[sub.id]; ok {
		return domain.NewSubSystemError("subscription", "Conn.Subscribe", domain.ErrInvalidInput,
			"subscription id "+sub.id+" already registered")
	}
	r.m[sub.id] = &regEntry{sub: sub}
	return nil
}

func (r *registry) activate(id string) {
	r.mu.Lock()
	if e, ok := r.m[id]; ok {
		e.active = true
	}
	r.mu.Unlock()
}

// release drops a reservation that never became active.
func (r *registry) release(id string) {
	r.mu.Lock()
	if e, ok := r.m[id]; ok && !e.active {
		delete(r.m, id)
	}
	r.mu.Unlock()
}

func (r *registry) remove(id string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[id]
	if !ok {
		return nil
	}
	delete(r.m, id)
	return e.sub
}

// lookup returns the active subscription for id, or nil.
func (r *registry) lookup(id string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.m[id]; ok && e.active {
		return e.sub
	}
	return nil
}

// teardown removes every subscription and reports cause to each active one.
func (r *registry) teardown(cause error) int {
	r.mu.Lock()
	if r.closed == nil {
		r.closed = cause
	}
	entries := r.m
	r.m = make(map[string]*regEntry)
	r.mu.Unlock()

	n := 0
	for _, e := range entries {
		if e.active {
			e.sub.teardown(cause)
			n++
		}
	}
	return n
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
