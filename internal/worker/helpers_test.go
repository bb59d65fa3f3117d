package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/booster/internal/domain/job"
)

const (
	kindEcho   job.Kind = "echo"
	kindPanic  job.Kind = "panic"
	kindBlock  job.Kind = "block"
	kindDelay  job.Kind = "delay"
	kindFetch  job.Kind = "fetch"
	kindSocket job.Kind = "socket"
	kindBroken job.Kind = "broken"
	kindStamp  job.Kind = "stamp"
)

// testJobs is a registry of small jobs exercising each capability.
type testJobs struct {
	*Registry
	factoryCalls atomic.Int32
	entered      chan struct{}
	release      chan struct{}
	stopped      atomic.Bool
}

func newTestJobs(t *testing.T) *testJobs {
	t.Helper()
	tj := &testJobs{
		Registry: NewRegistry(),
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}

	require.NoError(t, tj.Register(kindEcho, func(env Env, params json.RawMessage) (Handler, error) {
		tj.factoryCalls.Add(1)
		return &stopHandler{jobs: tj, fn: func(payload json.RawMessage) {
			_ = env.Emit(payload)
		}}, nil
	}))

	require.NoError(t, tj.Register(kindPanic, func(env Env, params json.RawMessage) (Handler, error) {
		return HandlerFunc(func(json.RawMessage) { panic("boom") }), nil
	}))

	require.NoError(t, tj.Register(kindBroken, func(env Env, params json.RawMessage) (Handler, error) {
		return nil, errors.New("bad params")
	}))

	require.NoError(t, tj.Register(kindBlock, func(env Env, params json.RawMessage) (Handler, error) {
		return HandlerFunc(func(json.RawMessage) {
			tj.entered <- struct{}{}
			<-tj.release
		}), nil
	}))

	require.NoError(t, tj.Register(kindDelay, func(env Env, params json.RawMessage) (Handler, error) {
		var delay struct {
			Ms int `json:"ms"`
		}
		if err := json.Unmarshal(params, &delay); err != nil {
			return nil, err
		}
		var pending Timer
		return HandlerFunc(func(payload json.RawMessage) {
			if string(payload) == `"cancel"` {
				pending.Stop()
				return
			}
			pending = env.AfterFunc(time.Duration(delay.Ms)*time.Millisecond, func() {
				_ = env.Emit(payload)
			})
			_ = env.Emit("armed")
		}), nil
	}))

	require.NoError(t, tj.Register(kindFetch, func(env Env, params json.RawMessage) (Handler, error) {
		return HandlerFunc(func(payload json.RawMessage) {
			env.Fetch(Request{Method: "GET", URL: "http://example.test", Timeout: time.Second},
				func(c Completion) {
					if c.Err != nil {
						_ = env.Emit(map[string]any{"timeout": errors.Is(c.Err, ErrTimeout), "error": c.Err.Error()})
						return
					}
					_ = env.Emit(map[string]any{"status": c.Response.StatusCode, "body": string(c.Response.Body)})
				})
			_ = env.Emit("issued")
		}), nil
	}))

	// stamp issues a fetch and then holds the loop until released, so the
	// completion waits behind it.
	require.NoError(t, tj.Register(kindStamp, func(env Env, params json.RawMessage) (Handler, error) {
		return HandlerFunc(func(json.RawMessage) {
			env.Fetch(Request{Method: "GET", URL: "http://example.test"}, func(c Completion) {
				_ = env.Emit(map[string]int64{
					"received": c.Received.UnixMilli(),
					"handled":  env.Now().UnixMilli(),
				})
			})
			tj.entered <- struct{}{}
			<-tj.release
		}), nil
	}))

	require.NoError(t, tj.Register(kindSocket, func(env Env, params json.RawMessage) (Handler, error) {
		var sock Socket
		sock = env.Dial("ws://example.test", SocketEvents{
			OnOpen:    func() { _ = env.Emit("open") },
			OnMessage: func(data []byte) { _ = env.Emit("in:" + string(data)) },
			OnClose:   func(err error) { _ = env.Emit("closed") },
		})
		return HandlerFunc(func(payload json.RawMessage) {
			var text string
			_ = json.Unmarshal(payload, &text)
			if err := sock.Send([]byte(text)); err != nil {
				_ = env.Emit("send:" + err.Error())
			}
		}), nil
	}))

	return tj
}

type stopHandler struct {
	jobs *testJobs
	fn   func(json.RawMessage)
}

func (h *stopHandler) Handle(payload json.RawMessage) { h.fn(payload) }
func (h *stopHandler) Stop()                          { h.jobs.stopped.Store(true) }

// collect gathers host events on channels.
type collector struct {
	messages chan Event
	errors   chan Event
}

func collect(h *Host) *collector {
	c := &collector{
		messages: make(chan Event, 64),
		errors:   make(chan Event, 64),
	}
	h.AddListener(EventMessage, func(ev Event) { c.messages <- ev })
	h.AddListener(EventError, func(ev Event) { c.errors <- ev })
	return c
}

func (c *collector) nextMessage(t *testing.T) string {
	t.Helper()
	select {
	case ev := <-c.messages:
		return string(ev.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func (c *collector) nextError(t *testing.T) error {
	t.Helper()
	select {
	case ev := <-c.errors:
		return ev.Err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error event")
		return nil
	}
}

func mustDescriptor(t *testing.T, kind job.Kind, params any, immediate bool) job.Descriptor {
	t.Helper()
	d, err := job.New(kind, params, immediate)
	require.NoError(t, err)
	return d
}

// blockingRequester holds every request until its context ends.
type blockingRequester struct{}

func (blockingRequester) Do(ctx context.Context, req Request) (*Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type staticRequester struct {
	status int
	body   string
}

func (r staticRequester) Do(ctx context.Context, req Request) (*Response, error) {
	return &Response{StatusCode: r.status, Body: []byte(r.body)}, nil
}

// pipeConn is an in-memory Conn whose peer side is driven by the test.
type pipeConn struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (p *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-p.inbound:
		return data, nil
	case <-p.closed:
		return nil, errors.New("connection closed")
	}
}

func (p *pipeConn) WriteMessage(data []byte) error {
	select {
	case <-p.closed:
		return errors.New("connection closed")
	default:
	}
	p.outbound <- data
	return nil
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// gatedDialer returns conn once the test opens the gate.
type gatedDialer struct {
	gate chan struct{}
	conn Conn
}

func (d *gatedDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	select {
	case <-d.gate:
		return d.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
