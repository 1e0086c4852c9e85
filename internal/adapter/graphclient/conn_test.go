package graphclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphlink/internal/domain"
	"graphlink/internal/usecase/eventbus"
	"graphlink/internal/usecase/querydoc"
)

func TestTagAllocatorStartsAtOne(t *testing.T) {
	var a tagAllocator
	assert.Equal(t, "1", a.next())
	assert.Equal(t, "2", a.next())
	assert.Equal(t, "3", a.next())
}

func TestConcurrentTagsAreDistinctAndMonotonic(t *testing.T) {
	s := newFakeServer(t, func(f seenFrame) any {
		return okReply(f.Tag, map[string]any{"tag": f.Tag})
	})
	c := dialTest(t, s)
	ctx := testCtx(t)

	const n = 50
	var (
		mu   sync.Mutex
		tags []int
		wg   sync.WaitGroup
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := c.Query(ctx, "nodes { id }", nil)
			if !assert.NoError(t, err) {
				return
			}
			var got struct{ Tag string }
			if !assert.NoError(t, json.Unmarshal(data, &got)) {
				return
			}
			v, err := strconv.Atoi(got.Tag)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			tags = append(tags, v)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, tags, n)
	sort.Ints(tags)
	for i, v := range tags {
		assert.Equal(t, i+1, v, "tags must be 1..n without gaps or repeats")
	}
	assert.Zero(t, c.pending.len())
}

func TestQueryNormalizesText(t *testing.T) {
	s := newFakeServer(t, func(f seenFrame) any {
		return okReply(f.Tag, map[string]any{"nodes": []any{}})
	})
	c := dialTest(t, s)

	data, err := c.Query(testCtx(t), "nodes { id }", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[]}`, string(data))

	f := s.next(t)
	assert.Equal(t, "query", f.Type)
	assert.Equal(t, "query { nodes { id } }", f.Query)
	assert.Empty(t, f.Params, "nil params are omitted")
}

func TestQueryDataErrors(t *testing.T) {
	s := newFakeServer(t, func(f seenFrame) any {
		switch f.Query {
		case "query { broken }":
			return map[string]any{"tag": f.Tag, "type": "ok", "data": map[string]any{
				"errors": []any{map[string]any{"message": "a"}, map[string]any{"message": "b"}},
			}}
		case "query { empty }":
			return map[string]any{"tag": f.Tag, "type": "ok"}
		}
		return map[string]any{"tag": f.Tag, "type": "error", "error": "bad query"}
	})
	c := dialTest(t, s)
	ctx := testCtx(t)

	_, err := c.Query(ctx, "broken", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrQueryData))
	assert.Equal(t, "a AND b", err.Error())

	_, err = c.Query(ctx, "empty", nil)
	require.Error(t, err)
	assert.Equal(t, domain.NoResultData, err.Error())

	_, err = c.Query(ctx, "other", nil)
	require.Error(t, err)
	var re *domain.RequestError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "bad query", re.Message)
	assert.Equal(t, "query", re.Type)
	assert.Equal(t, domain.CodeRequest, domain.ErrorCodeOf(err))
}

func TestRepliesRouteByTagNotOrder(t *testing.T) {
	s := newFakeServer(t, nil)
	c := dialTest(t, s)
	ctx := testCtx(t)

	type result struct {
		data json.RawMessage
		err  error
	}
	run := func(q string) <-chan result {
		ch := make(chan result, 1)
		go func() {
			d, err := c.Query(ctx, q, nil)
			ch <- result{d, err}
		}()
		return ch
	}

	r1 := run("q1")
	f1 := s.next(t)
	r2 := run("q2")
	f2 := s.next(t)
	require.Equal(t, "query { q1 }", f1.Query)
	require.Equal(t, "query { q2 }", f2.Query)

	s.send(t, okReply(f2.Tag, map[string]any{"which": 2}))
	got2 := recv(t, r2)
	require.NoError(t, got2.err)
	assert.JSONEq(t, `{"which":2}`, string(got2.data))

	select {
	case <-r1:
		t.Fatal("first query settled by the second reply")
	case <-time.After(50 * time.Millisecond):
	}

	s.send(t, okReply(f1.Tag, map[string]any{"which": 1}))
	got1 := recv(t, r1)
	require.NoError(t, got1.err)
	assert.JSONEq(t, `{"which":1}`, string(got1.data))
}

func TestDuplicateReplyIsProtocolFault(t *testing.T) {
	s := newFakeServer(t, func(f seenFrame) any {
		return okReply(f.Tag, map[string]any{"ok": true})
	})
	c := dialTest(t, s)

	faults := make(chan error, 1)
	c.OnFault(func(err error) { faults <- err })

	_, err := c.Query(testCtx(t), "nodes { id }", nil)
	require.NoError(t, err)
	assert.Zero(t, c.pending.len(), "settled entries leave the table")

	s.send(t, okReply("1", map[string]any{"ok": true}))
	err = recv(t, faults)
	assert.True(t, errors.Is(err, domain.ErrProtocol))

	recv(t, c.Done())
	assert.True(t, errors.Is(c.Err(), domain.ErrProtocol))
}

func TestFrameWithBothKeysIsProtocolFault(t *testing.T) {
	s := newFakeServer(t, nil)
	c := dialTest(t, s)

	faults := make(chan error, 1)
	c.OnFault(func(err error) { faults <- err })

	s.send(t, map[string]any{"tag": "1", "subscription": "s1", "type": "ok"})
	var pf *domain.ProtocolFault
	require.True(t, errors.As(recv(t, faults), &pf))
	assert.Contains(t, pf.Reason, "both")
}

func TestUnknownPushFailsPendingRequests(t *testing.T) {
	s := newFakeServer(t, nil)
	c := dialTest(t, s)
	ctx := testCtx(t)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Query(ctx, "nodes { id }", nil)
		errc <- err
	}()
	s.next(t)

	s.send(t, map[string]any{"subscription": "ghost", "type": "data", "data": map[string]any{"data": map[string]any{}}})
	err := recv(t, errc)
	assert.True(t, errors.Is(err, domain.ErrProtocol))
	assert.Equal(t, domain.CodeProtocol, domain.ErrorCodeOf(err))
}

func TestSubscribePushesAndUnsubscribe(t *testing.T) {
	var unsubscribes atomic.Int32
	s := newFakeServer(t, func(f seenFrame) any {
		if f.Type == "unsubscribe" {
			unsubscribes.Add(1)
		}
		return ackAll(f)
	})
	c := dialTest(t, s)
	ctx := testCtx(t)

	faults := make(chan error, 1)
	c.OnFault(func(err error) { faults <- err })

	data := make(chan string, 4)
	errs := make(chan error, 4)
	sub, err := c.Subscribe(ctx, "s1", "{ nodes { id } }", querydoc.NewParams(),
		WithOnData(func(d json.RawMessage) { data <- string(d) }),
		WithOnError(func(err error) { errs <- err }),
	)
	require.NoError(t, err)
	assert.Equal(t, "s1", sub.ID())

	f := s.next(t)
	assert.Equal(t, "subscribe", f.Type)
	assert.Equal(t, "s1", f.Subscription)
	assert.Equal(t, sub.Query(), f.Query)
	assert.JSONEq(t, `{}`, string(f.Params))

	s.send(t, map[string]any{"subscription": "s1", "type": "data", "data": map[string]any{"data": map[string]any{"n": 1}}})
	assert.JSONEq(t, `{"n":1}`, recv(t, data))

	s.send(t, map[string]any{"subscription": "s1", "type": "data", "data": map[string]any{
		"errors": []any{map[string]any{"message": "x"}, map[string]any{"message": "y"}},
	}})
	assert.Equal(t, "x AND y", recv(t, errs).Error())

	s.send(t, map[string]any{"subscription": "s1", "type": "data"})
	assert.Equal(t, domain.NoResultData, recv(t, errs).Error())

	s.send(t, map[string]any{"subscription": "s1", "type": "error", "error": "boom"})
	assert.Equal(t, "boom", recv(t, errs).Error())

	require.NoError(t, sub.Unsubscribe(ctx))
	require.NoError(t, sub.Unsubscribe(ctx))
	assert.Equal(t, int32(1), unsubscribes.Load())
	assert.Zero(t, c.subs.len())

	s.send(t, map[string]any{"subscription": "s1", "type": "data", "data": map[string]any{"data": map[string]any{}}})
	assert.True(t, errors.Is(recv(t, faults), domain.ErrProtocol))
}

func TestUnknownPushTypeIsProtocolFault(t *testing.T) {
	s := newFakeServer(t, ackAll)
	c := dialTest(t, s)

	faults := make(chan error, 1)
	c.OnFault(func(err error) { faults <- err })

	_, err := c.Subscribe(testCtx(t), "s1", "nodes { id }", nil)
	require.NoError(t, err)

	s.send(t, map[string]any{"subscription": "s1", "type": "progress"})
	assert.True(t, errors.Is(recv(t, faults), domain.ErrProtocol))
}

func TestSubscribeValidation(t *testing.T) {
	c := New("ws://127.0.0.1:1/never-dialed")
	ctx := testCtx(t)

	_, err := c.Subscribe(ctx, "", "nodes { id }", nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = c.Subscribe(ctx, "s1", "", nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestSubscribeDuplicateID(t *testing.T) {
	s := newFakeServer(t, ackAll)
	c := dialTest(t, s)
	ctx := testCtx(t)

	_, err := c.Subscribe(ctx, "s1", "nodes { id }", nil)
	require.NoError(t, err)
	s.next(t)

	_, err = c.Subscribe(ctx, "s1", "edges { from }", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Equal(t, domain.CodeSubscriptionDup, domain.ErrorCodeOf(err))

	select {
	case f := <-s.frames:
		t.Fatalf("duplicate subscribe reached the wire: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRejectedSubscribeReleasesID(t *testing.T) {
	var calls atomic.Int32
	s := newFakeServer(t, func(f seenFrame) any {
		if calls.Add(1) == 1 {
			return map[string]any{"tag": f.Tag, "type": "error", "error": "unknown field"}
		}
		return ackAll(f)
	})
	c := dialTest(t, s)
	ctx := testCtx(t)

	_, err := c.Subscribe(ctx, "s1", "nope", nil)
	require.Error(t, err)
	assert.Equal(t, "unknown field", err.Error())

	_, err = c.Subscribe(ctx, "s1", "nodes { id }", nil)
	assert.NoError(t, err)
}

func TestWatchGeneratesID(t *testing.T) {
	s := newFakeServer(t, ackAll)
	c := dialTest(t, s)

	sub, err := c.Watch(testCtx(t), "nodes { id }", nil)
	require.NoError(t, err)
	assert.Len(t, sub.ID(), 26)
	assert.Equal(t, sub.ID(), s.next(t).Subscription)
}

func TestRemoteCloseFailsPendingAndTearsDown(t *testing.T) {
	s := newFakeServer(t, func(f seenFrame) any {
		switch f.Type {
		case "subscribe":
			return ackAll(f)
		case "query":
			return closeNormal
		}
		return nil
	})
	c := dialTest(t, s)
	ctx := testCtx(t)

	closed := make(chan error, 1)
	c.OnClose(func(cause error) { closed <- cause })

	subErrs := make(chan error, 2)
	_, err := c.Subscribe(ctx, "s1", "nodes { id }", nil, WithOnError(func(err error) { subErrs <- err }))
	require.NoError(t, err)

	_, err = c.Query(ctx, "bye", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOffline))

	assert.True(t, errors.Is(recv(t, subErrs), domain.ErrOffline))
	assert.True(t, errors.Is(recv(t, closed), domain.ErrOffline))
	select {
	case err := <-subErrs:
		t.Fatalf("teardown reported twice: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	_, err = c.Query(ctx, "again", nil)
	assert.True(t, errors.Is(err, domain.ErrOffline))
	assert.Zero(t, c.subs.len())
}

func TestCloseByCaller(t *testing.T) {
	s := newFakeServer(t, ackAll)
	c := dialTest(t, s)

	closed := make(chan error, 1)
	c.OnClose(func(cause error) { closed <- cause })

	_ = c.Close()
	assert.True(t, errors.Is(recv(t, closed), domain.ErrClosedByCaller))

	_, err := c.Query(testCtx(t), "nodes { id }", nil)
	assert.True(t, errors.Is(err, domain.ErrClosedByCaller))

	// Hooks registered after close run at once.
	late := make(chan error, 1)
	c.OnClose(func(cause error) { late <- cause })
	assert.True(t, errors.Is(recv(t, late), domain.ErrClosedByCaller))
}

func TestCommitAndDirtyFlag(t *testing.T) {
	bus := eventbus.New(slog.Default())
	t.Cleanup(bus.Close)
	events := make(chan domain.EventType, 4)
	bus.Subscribe(domain.EventDirty, func(_ context.Context, ev domain.Event) { events <- ev.Type })
	bus.Subscribe(domain.EventCommitted, func(_ context.Context, ev domain.Event) { events <- ev.Type })

	s := newFakeServer(t, func(f seenFrame) any {
		if f.Type == "exec" {
			return okReply(f.Tag, map[string]any{"x": map[string]any{"id": "1"}})
		}
		return ackAll(f)
	})
	c := dialTest(t, s, WithBus(bus))
	ctx := testCtx(t)

	assert.False(t, c.Dirty())
	_, err := c.Mutation(ctx, "mutation M { x:touch { id } }", nil)
	require.NoError(t, err)
	assert.True(t, c.Dirty())
	assert.Equal(t, domain.EventDirty, recv(t, events))

	require.NoError(t, c.Commit(ctx))
	assert.False(t, c.Dirty())
	assert.Equal(t, domain.EventCommitted, recv(t, events))
}

func TestExecSendsExecFrame(t *testing.T) {
	s := newFakeServer(t, func(f seenFrame) any {
		return okReply(f.Tag, map[string]any{"x": true})
	})
	c := dialTest(t, s)

	data, err := c.Exec(testCtx(t), "mutation M { x:touch }", querydoc.NewParams().Set("id", "a"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":true}`, string(data))
	assert.True(t, c.Dirty())

	f := s.next(t)
	assert.Equal(t, "exec", f.Type)
	assert.Equal(t, "mutation M { x:touch }", f.Query)
}

func TestCommitRequiresOK(t *testing.T) {
	s := newFakeServer(t, func(f seenFrame) any {
		return map[string]any{"tag": f.Tag, "type": "queued"}
	})
	c := dialTest(t, s)

	err := c.Commit(testCtx(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotCommitted))
	assert.Contains(t, err.Error(), `"queued"`)
}

func TestDialSendsAuthFrame(t *testing.T) {
	s := newFakeServer(t, ackAll)
	dialTest(t, s, WithAuth(TypeLogin, "tok"))

	f := s.next(t)
	assert.Equal(t, "login", f.Type)
	assert.Equal(t, "tok", f.Token)
}

func TestDialFailsOnRejectedAuth(t *testing.T) {
	s := newFakeServer(t, func(f seenFrame) any {
		return map[string]any{"tag": f.Tag, "type": "error", "error": "invalid token"}
	})
	_, err := Dial(testCtx(t), s.url(), WithAuth(TypeToken, "bad"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRequest))
	assert.Contains(t, err.Error(), "invalid token")
}

func TestStrictFramesRejectMalformedReply(t *testing.T) {
	s := newFakeServer(t, func(f seenFrame) any {
		if f.Query == "query { good }" {
			return okReply(f.Tag, map[string]any{"a": 1})
		}
		return map[string]any{"tag": f.Tag}
	})
	c := dialTest(t, s, WithStrictFrames(true))
	ctx := testCtx(t)

	data, err := c.Query(ctx, "good", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	_, err = c.Query(ctx, "bad", nil)
	assert.True(t, errors.Is(err, domain.ErrProtocol), fmt.Sprint(err))
}

func TestDialUnreachable(t *testing.T) {
	_, err := Dial(testCtx(t), "ws://127.0.0.1:1/api/connect")
	require.Error(t, err)
	assert.True(t, domain.IsSessionFatal(err))
}

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestLateReplyToAbandonedQueryIsConsumed(t *testing.T) {
	s := newFakeServer(t, nil)
	c := dialTest(t, s)
	faults := make(chan error, 4)
	c.OnFault(func(err error) { faults <- err })

	_, err := c.Query(shortCtx(t), "nodes { id }", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	f := s.next(t)
	assert.Equal(t, 1, c.pending.len(), "abandoned exchange keeps its slot until answered")

	s.send(t, okReply(f.Tag, map[string]any{"late": true}))
	assert.Eventually(t, func() bool { return c.pending.len() == 0 }, 2*time.Second, 10*time.Millisecond)

	ctx := testCtx(t)
	done := make(chan error, 1)
	go func() {
		_, err := c.Query(ctx, "nodes { id }", nil)
		done <- err
	}()
	g := s.next(t)
	s.send(t, okReply(g.Tag, map[string]any{}))
	require.NoError(t, recv(t, done))

	select {
	case err := <-faults:
		t.Fatalf("late reply raised a fault: %v", err)
	default:
	}
	assert.NoError(t, c.Err())
}

func TestLateAckActivatesAbandonedSubscription(t *testing.T) {
	s := newFakeServer(t, nil)
	c := dialTest(t, s)
	faults := make(chan error, 4)
	c.OnFault(func(err error) { faults <- err })

	data := make(chan string, 1)
	_, err := c.Subscribe(shortCtx(t), "s1", "{ nodes { id } }", nil,
		WithOnData(func(d json.RawMessage) { data <- string(d) }))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	f := s.next(t)
	assert.Equal(t, 1, c.subs.len(), "id stays reserved while the request is unanswered")

	s.send(t, map[string]any{"tag": f.Tag, "type": "ok"})
	assert.Eventually(t, func() bool { return c.pending.len() == 0 }, 2*time.Second, 10*time.Millisecond)

	s.send(t, map[string]any{"subscription": "s1", "type": "data", "data": map[string]any{"data": map[string]any{"n": 2}}})
	assert.JSONEq(t, `{"n":2}`, recv(t, data))

	select {
	case err := <-faults:
		t.Fatalf("push to late-acked subscription raised a fault: %v", err)
	default:
	}
	assert.Equal(t, 1, c.subs.len())
}

func TestLateRejectionFreesAbandonedSubscriptionID(t *testing.T) {
	s := newFakeServer(t, nil)
	c := dialTest(t, s)

	_, err := c.Subscribe(shortCtx(t), "s1", "{ nodes { id } }", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	f := s.next(t)

	s.send(t, map[string]any{"tag": f.Tag, "type": "error", "error": "denied"})
	assert.Eventually(t, func() bool { return c.subs.len() == 0 && c.pending.len() == 0 },
		2*time.Second, 10*time.Millisecond)

	type result struct {
		sub *Subscription
		err error
	}
	ctx := testCtx(t)
	done := make(chan result, 1)
	go func() {
		sub, err := c.Subscribe(ctx, "s1", "{ nodes { id } }", nil)
		done <- result{sub, err}
	}()
	g := s.next(t)
	assert.Equal(t, "s1", g.Subscription)
	s.send(t, map[string]any{"tag": g.Tag, "type": "ok"})

	res := recv(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, "s1", res.sub.ID())
	assert.Equal(t, 1, c.subs.len())
	assert.NoError(t, c.Err())
}
