// Package graphclient multiplexes tagged request/reply exchanges and push
// subscriptions over one transport handle.
package graphclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"graphlink/internal/adapter/transport"
	"graphlink/internal/domain"
	"graphlink/internal/infra/tracer"
	"graphlink/internal/usecase/querydoc"
)

var loadFrameValidator = sync.OnceValues(newFrameValidator)

// Conn is one logical session with the graph service. It owns the
// transport handle, the tag counter, the pending table and the
// subscription registry. A Conn is never reused after it closes.
type Conn struct {
	handle    *transport.Handle
	tags      tagAllocator
	pending   *pendingTable
	subs      *registry
	logger    *slog.Logger
	bus       domain.EventBus
	validator *frameValidator
	opts      options
	dirty     atomic.Bool

	mu         sync.Mutex
	closeCause error
	closeHooks []func(error)
	faultHooks []func(error)
}

// New creates a Conn for endpoint without dialing. The socket opens on the
// first exchange.
func New(endpoint string, opts ...Option) *Conn {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Conn{
		pending: newPendingTable(),
		subs:    newRegistry(),
		logger:  o.logger,
		bus:     o.bus,
		opts:    o,
	}
	if o.strict {
		v, err := loadFrameValidator()
		if err != nil {
			c.logger.Warn("strict frame checking disabled", "error", err)
		} else {
			c.validator = v
		}
	}

	topts := append([]transport.Option{transport.WithLogger(o.logger)}, o.transportOpts...)
	c.handle = transport.New(endpoint, c.dispatch, topts...)
	c.handle.OnClose(c.transportClosed)
	return c
}

// Dial creates a Conn, opens the socket and, when WithAuth was given, sends
// the auth frame. On failure the Conn is closed and discarded.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Conn, error) {
	c := New(endpoint, opts...)
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	var err error
	switch c.opts.authType {
	case TypeLogin:
		err = c.Login(ctx, c.opts.authToken)
	case TypeToken:
		err = c.Token(ctx, c.opts.authToken)
	}
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return c, nil
}

// Open dials the socket if it is not open yet.
func (c *Conn) Open(ctx context.Context) error {
	if _, err := c.handle.Acquire(ctx); err != nil {
		return err
	}
	c.publish(ctx, domain.Event{Type: domain.EventConnOpened})
	return nil
}

// Endpoint returns the URL the connection dials.
func (c *Conn) Endpoint() string { return c.handle.Endpoint() }

// Done is closed once the connection has closed.
func (c *Conn) Done() <-chan struct{} { return c.handle.Done() }

// Err returns why the connection closed, or nil while it is usable.
func (c *Conn) Err() error { return c.handle.Cause() }

// Dirty reports whether mutations were made since the last commit.
func (c *Conn) Dirty() bool { return c.dirty.Load() }

// OnClose registers fn to be told why the connection closed. On a closed
// connection fn runs at once.
func (c *Conn) OnClose(fn func(cause error)) {
	c.mu.Lock()
	if c.closeCause != nil {
		cause := c.closeCause
		c.mu.Unlock()
		fn(cause)
		return
	}
	c.closeHooks = append(c.closeHooks, fn)
	c.mu.Unlock()
}

// OnFault registers fn to receive protocol faults. The connection is torn
// down right after the hooks return.
func (c *Conn) OnFault(fn func(err error)) {
	c.mu.Lock()
	c.faultHooks = append(c.faultHooks, fn)
	c.mu.Unlock()
}

// Close closes the socket. Outstanding requests fail and subscriptions are
// torn down with domain.ErrClosedByCaller.
func (c *Conn) Close() error {
	return c.handle.Close()
}

// Do sends req under a fresh tag and waits for its reply. A reply of type
// "error" becomes a *domain.RequestError. When ctx ends first the pending
// entry stays registered until its reply arrives or the connection closes.
func (c *Conn) Do(ctx context.Context, req Request) (*Reply, error) {
	return c.do(ctx, req, nil)
}

// do is Do with a hook that runs on the dispatch goroutine when the reply
// arrives, before the caller is woken.
func (c *Conn) do(ctx context.Context, req Request, onSettle settleHook) (*Reply, error) {
	reply, _, err := c.exchange(ctx, req, onSettle)
	return reply, err
}

// exchange also reports whether the frame reached the socket, which tells
// the caller whether a reply may still arrive after ctx ends.
func (c *Conn) exchange(ctx context.Context, req Request, onSettle settleHook) (reply *Reply, sent bool, err error) {
	req.Tag = c.tags.next()

	ctx, span := tracer.StartExchange(ctx, string(req.Type), req.Tag)
	defer func() { tracer.Finish(span, err) }()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, false, domain.WrapOp("Conn.Do", err)
	}

	p, err := c.pending.add(req.Tag, req.Type, onSettle)
	if err != nil {
		return nil, false, err
	}
	if err = c.handle.Write(ctx, data); err != nil {
		c.pending.remove(req.Tag)
		return nil, false, err
	}
	c.logger.Debug("request sent", "tag", req.Tag, "type", req.Type)

	select {
	case s := <-p.ch:
		return s.reply, true, s.err
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}
}

// Query runs a read query and returns the inner data object. text may be a
// bare selection set; it is wrapped as "query { ... }" when needed.
func (c *Conn) Query(ctx context.Context, text string, params *querydoc.Params) (json.RawMessage, error) {
	reply, err := c.Do(ctx, Request{Type: TypeQuery, Query: querydoc.NormalizeQuery(text), Params: params})
	if err != nil {
		return nil, err
	}
	return reply.Data.Check()
}

// Mutation sends a mutation document as an "exec" request and returns the
// inner data object. A successful mutation marks the connection dirty.
func (c *Conn) Mutation(ctx context.Context, doc string, params *querydoc.Params) (json.RawMessage, error) {
	reply, err := c.Do(ctx, Request{Type: TypeExec, Query: doc, Params: params})
	if err != nil {
		return nil, err
	}
	data, err := reply.Data.Check()
	if err != nil {
		return nil, err
	}
	if !c.dirty.Swap(true) {
		c.publish(ctx, domain.Event{Type: domain.EventDirty})
	}
	return data, nil
}

// Exec is Mutation under the wire name of its request type.
func (c *Conn) Exec(ctx context.Context, doc string, params *querydoc.Params) (json.RawMessage, error) {
	return c.Mutation(ctx, doc, params)
}

// Commit asks the server to persist pending mutations. Any reply type other
// than "ok" fails with domain.ErrNotCommitted.
func (c *Conn) Commit(ctx context.Context) error {
	reply, err := c.Do(ctx, Request{Type: TypeCommit})
	if err != nil {
		return err
	}
	if reply.Type != TypeOK {
		return domain.NewDomainError("Conn.Commit", domain.ErrNotCommitted,
			fmt.Sprintf("reply type %q", reply.Type))
	}
	c.dirty.Store(false)
	c.publish(ctx, domain.Event{Type: domain.EventCommitted})
	return nil
}

// Login authenticates the session with a "login" frame.
func (c *Conn) Login(ctx context.Context, token string) error {
	_, err := c.Do(ctx, Request{Type: TypeLogin, Token: token})
	return err
}

// Token authenticates the session with a "token" frame.
func (c *Conn) Token(ctx context.Context, token string) error {
	_, err := c.Do(ctx, Request{Type: TypeToken, Token: token})
	return err
}

// Subscribe registers a subscription under id once the server acknowledges
// it. An empty id or query text, or an id that is already registered, fails
// with domain.ErrInvalidInput before anything is sent.
func (c *Conn) Subscribe(ctx context.Context, id, text string, params *querydoc.Params, opts ...SubscribeOption) (*Subscription, error) {
	if id == "" {
		return nil, domain.NewDomainError("Conn.Subscribe", domain.ErrInvalidInput, "subscription id must not be empty")
	}
	if text == "" {
		return nil, domain.NewDomainError("Conn.Subscribe", domain.ErrInvalidInput, "query text must not be empty")
	}
	if params == nil {
		params = querydoc.NewParams()
	}

	sub := &Subscription{conn: c, id: id, query: querydoc.NormalizeQuery(text), params: params}
	for _, opt := range opts {
		opt(sub)
	}
	if err := c.subs.reserve(sub); err != nil {
		return nil, err
	}

	_, sent, err := c.exchange(ctx, Request{Type: TypeSubscribe, Query: sub.query, Params: params, Subscription: id},
		func(_ *Reply, err error) {
			// Settles abandoned requests too: a late ack activates the id,
			// a late rejection frees it.
			if err != nil {
				c.subs.release(id)
				return
			}
			c.subs.activate(id)
		})
	if err != nil {
		// An abandoned request may still be answered; the settle hook
		// then decides the reservation.
		if !sent || ctx.Err() == nil {
			c.subs.release(id)
		}
		return nil, err
	}
	c.publish(ctx, domain.Event{Type: domain.EventSubscriptionAdded, Payload: subscriptionPayload(id)})
	return sub, nil
}

// Watch subscribes under a freshly generated id.
func (c *Conn) Watch(ctx context.Context, text string, params *querydoc.Params, opts ...SubscribeOption) (*Subscription, error) {
	return c.Subscribe(ctx, NewSubscriptionID(), text, params, opts...)
}

// Unsubscribe asks the server to drop id and, on acknowledgment, removes it
// from the registry. The request is sent even when id is not registered.
func (c *Conn) Unsubscribe(ctx context.Context, id string) error {
	_, err := c.do(ctx, Request{Type: TypeUnsubscribe, Subscription: id},
		func(_ *Reply, err error) {
			if err == nil {
				c.subs.remove(id)
			}
		})
	if err != nil {
		return err
	}
	c.publish(ctx, domain.Event{Type: domain.EventSubscriptionRemoved, Payload: subscriptionPayload(id)})
	return nil
}

func subscriptionPayload(id string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"subscription": id})
	return b
}

// dispatch routes one inbound frame. It runs on the transport read
// goroutine, so frames are handled strictly one after another.
func (c *Conn) dispatch(raw []byte) {
	if c.handle.State() == transport.StateClosed {
		c.logger.Debug("frame dropped after close", "size", len(raw))
		return
	}
	if c.validator != nil {
		if err := c.validator.validate(raw); err != nil {
			c.fault(err)
			return
		}
	}

	frame, err := DecodeFrame(raw)
	if err != nil {
		c.fault(err)
		return
	}
	switch f := frame.(type) {
	case *Reply:
		c.routeReply(f)
	case *Push:
		c.routePush(f)
	}
}

func (c *Conn) routeReply(r *Reply) {
	p := c.pending.take(r.Tag)
	if p == nil {
		c.fault(&domain.ProtocolFault{Reason: "reply for unknown tag " + r.Tag, Raw: r.Raw})
		return
	}
	var err error
	if r.Type == TypeError {
		err = &domain.RequestError{Tag: r.Tag, Type: string(p.typ), Message: r.Error}
	}
	if p.onSettle != nil {
		p.onSettle(r, err)
	}
	if err != nil {
		p.ch <- settlement{err: err}
		return
	}
	p.ch <- settlement{reply: r}
}

func (c *Conn) routePush(p *Push) {
	sub := c.subs.lookup(p.Subscription)
	if sub == nil {
		c.fault(&domain.ProtocolFault{Reason: "push for unknown subscription " + p.Subscription, Raw: p.Raw})
		return
	}
	switch p.Type {
	case TypeData:
		data, err := p.Data.Check()
		if err != nil {
			sub.fail(err)
			return
		}
		sub.deliver(data)
	case TypeError:
		sub.fail(&domain.RequestError{Type: string(TypeError), Message: p.Error})
	default:
		c.fault(&domain.ProtocolFault{Reason: fmt.Sprintf("push type %q", p.Type), Raw: p.Raw})
	}
}

// fault reports a desync and tears the session down. Pending requests and
// subscriptions see err as the close cause.
func (c *Conn) fault(err error) {
	c.logger.Error("protocol fault, closing session", "endpoint", c.Endpoint(), "error", err)
	c.publish(context.Background(), domain.Event{Type: domain.EventProtocolFault, Err: err})

	c.mu.Lock()
	hooks := append([]func(error){}, c.faultHooks...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(err)
	}
	c.handle.CloseWithError(err)
}

func (c *Conn) transportClosed(cause error) {
	failed := c.pending.failAll(cause)
	torn := c.subs.teardown(cause)
	c.logger.Info("connection closed",
		"endpoint", c.Endpoint(),
		"cause", cause,
		"failed_requests", failed,
		"subscriptions", torn,
	)
	c.publish(context.Background(), domain.Event{Type: domain.EventConnClosed, Err: cause})

	c.mu.Lock()
	c.closeCause = cause
	hooks := c.closeHooks
	c.closeHooks = nil
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(cause)
	}
}

func (c *Conn) publish(ctx context.Context, ev domain.Event) {
	if c.bus == nil {
		return
	}
	ev.Endpoint = c.Endpoint()
	c.bus.Publish(ctx, ev)
}
