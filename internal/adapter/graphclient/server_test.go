package graphclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// seenFrame is a client request as the fake server decodes it.
type seenFrame struct {
	Tag          string          `json:"tag"`
	Type         string          `json:"type"`
	Query        string          `json:"query"`
	Params       json.RawMessage `json:"params"`
	Subscription string          `json:"subscription"`
	Token        string          `json:"token"`
}

// closeNormal, returned by a responder, makes the server close the socket
// with a normal closure instead of replying.
var closeNormal = map[string]any{"__close": true}

// fakeServer is a scripted graph service. Every request is forwarded to
// frames; respond, when set, produces an immediate reply (nil for none).
type fakeServer struct {
	srv     *httptest.Server
	respond func(seenFrame) any
	frames  chan seenFrame
	ready   chan struct{}
	conn    *websocket.Conn
}

func newFakeServer(t *testing.T, respond func(seenFrame) any) *fakeServer {
	t.Helper()
	s := &fakeServer{
		respond: respond,
		frames:  make(chan seenFrame, 128),
		ready:   make(chan struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer ws.CloseNow()
	s.conn = ws
	close(s.ready)

	ctx := r.Context()
	for {
		var f seenFrame
		if err := wsjson.Read(ctx, ws, &f); err != nil {
			return
		}
		select {
		case s.frames <- f:
		default:
		}
		if s.respond == nil {
			continue
		}
		reply := s.respond(f)
		if m, ok := reply.(map[string]any); ok && m["__close"] == true {
			ws.Close(websocket.StatusNormalClosure, "")
			return
		}
		if reply != nil {
			if err := wsjson.Write(ctx, ws, reply); err != nil {
				return
			}
		}
	}
}

func (s *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// send writes v to the client as one frame.
func (s *fakeServer) send(t *testing.T, v any) {
	t.Helper()
	select {
	case <-s.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("no client connected")
	}
	require.NoError(t, wsjson.Write(context.Background(), s.conn, v))
}

// next returns the next request the client sent.
func (s *fakeServer) next(t *testing.T) seenFrame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client frame")
	}
	return seenFrame{}
}

func okReply(tag string, data any) map[string]any {
	m := map[string]any{"tag": tag, "type": "ok"}
	if data != nil {
		m["data"] = map[string]any{"data": data}
	}
	return m
}

// ackAll acknowledges every request with an empty ok reply.
func ackAll(f seenFrame) any { return okReply(f.Tag, nil) }

func dialTest(t *testing.T, s *fakeServer, opts ...Option) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.url(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}
