package graphclient

import (
	"sync"
)

type settlement struct {
	reply *Reply
	err   error
}

// settleHook runs on the dispatch goroutine when a reply settles an
// exchange, before the waiter is woken. err is the server's rejection, if
// any. It runs even when the waiter has already given up.
type settleHook func(reply *Reply, err error)

// pendingRequest is one outstanding tagged exchange. ch is buffered so the
// dispatcher never blocks on a caller that stopped waiting.
type pendingRequest struct {
	tag      string
	typ      FrameType
	ch       chan settlement
	onSettle settleHook
}

// pendingTable maps outstanding tags to their waiters. Once failed, it
// refuses new entries with the recorded cause.
type pendingTable struct {
	mu     sync.Mutex
	m      map[string]*pendingRequest
	closed error
}

func newPendingTable() *pendingTable {
	return &pendingTable{m: make(map[string]*pendingRequest)}
}

func (t *pendingTable) add(tag string, typ FrameType, onSettle settleHook) (*pendingRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		return nil, t.closed
	}
	p := &pendingRequest{tag: tag, typ: typ, ch: make(chan settlement, 1), onSettle: onSettle}
	t.m[tag] = p
	return p, nil
}

// take removes and returns the entry for tag, or nil when none is
// outstanding.
func (t *pendingTable) take(tag string) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.m[tag]
	if !ok {
		return nil
	}
	delete(t.m, tag)
	return p
}

func (t *pendingTable) remove(tag string) {
	t.mu.Lock()
	delete(t.m, tag)
	t.mu.Unlock()
}

// failAll settles every outstanding entry with cause and closes the table.
func (t *pendingTable) failAll(cause error) int {
	t.mu.Lock()
	if t.closed == nil {
		t.closed = cause
	}
	entries := t.m
	t.m = make(map[string]*pendingRequest)
	t.mu.Unlock()

	for _, p := range entries {
		p.ch <- settlement{err: cause}
	}
	return len(entries)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
