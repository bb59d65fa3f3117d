// Package workertest provides a deterministic worker.Env for job tests and
// testify mocks of the host capabilities.
//
// Env runs everything on the calling goroutine. Time only moves through
// Advance, fetches stay pending until the test answers them, and sockets
// open and deliver frames only when the test says so.
package workertest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/booster/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/booster/internal/worker"
)

// Env is a single-threaded worker.Env.
type Env struct {
	t       testing.TB
	id      string
	clock   *clock.Mock
	logger  *zap.Logger
	metrics *monitoring.Metrics

	timers  []*timer
	seq     int
	emitted []json.RawMessage
	fetches []*Fetch
	sockets []*Socket
}

var _ worker.Env = (*Env)(nil)

// New creates an Env whose clock starts at the Unix epoch.
func New(t testing.TB) *Env {
	t.Helper()
	return &Env{
		t:       t,
		id:      "host_test",
		clock:   clock.NewMock(),
		logger:  zaptest.NewLogger(t),
		metrics: monitoring.NewMetrics(),
	}
}

func (e *Env) ID() string                   { return e.id }
func (e *Env) Logger() *zap.Logger          { return e.logger }
func (e *Env) Metrics() *monitoring.Metrics { return e.metrics }
func (e *Env) Now() time.Time               { return e.clock.Now() }

// Clock exposes the mock clock backing Now.
func (e *Env) Clock() *clock.Mock { return e.clock }

// Emit records v as the job would send it upstream.
func (e *Env) Emit(v any) error {
	data, err := worker.EncodeMessage(worker.LabelPayload, v)
	if err != nil {
		return err
	}
	msg, err := worker.DecodeMessage(data)
	if err != nil {
		return err
	}
	e.emitted = append(e.emitted, msg.Body)
	return nil
}

// Emitted returns every payload emitted so far.
func (e *Env) Emitted() []json.RawMessage {
	return append([]json.RawMessage(nil), e.emitted...)
}

// DecodeEmitted unmarshals the i-th emitted payload into v.
func (e *Env) DecodeEmitted(i int, v any) {
	e.t.Helper()
	require.Less(e.t, i, len(e.emitted), "only %d payloads emitted", len(e.emitted))
	require.NoError(e.t, json.Unmarshal(e.emitted[i], v))
}

// ResetEmitted forgets emitted payloads.
func (e *Env) ResetEmitted() { e.emitted = nil }

type timer struct {
	due     time.Time
	seq     int
	fn      func()
	stopped bool
}

func (t *timer) Stop() bool {
	active := !t.stopped
	t.stopped = true
	return active
}

func (e *Env) AfterFunc(d time.Duration, fn func()) worker.Timer {
	e.seq++
	t := &timer{due: e.clock.Now().Add(d), seq: e.seq, fn: fn}
	e.timers = append(e.timers, t)
	return t
}

// Advance moves time forward by d, running due timers in order of due
// time and then creation. Timers armed while advancing run if they fall
// due inside the window.
func (e *Env) Advance(d time.Duration) {
	target := e.clock.Now().Add(d)
	for {
		next := e.nextTimer(target)
		if next == nil {
			break
		}
		next.stopped = true
		e.clock.Set(next.due)
		next.fn()
	}
	e.clock.Set(target)
}

func (e *Env) nextTimer(limit time.Time) *timer {
	var next *timer
	live := e.timers[:0]
	for _, t := range e.timers {
		if t.stopped {
			continue
		}
		live = append(live, t)
		if t.due.After(limit) {
			continue
		}
		if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.seq < next.seq) {
			next = t
		}
	}
	e.timers = live
	return next
}

// PendingTimers counts timers that have neither fired nor been stopped.
func (e *Env) PendingTimers() int {
	n := 0
	for _, t := range e.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// NextTimerIn reports the delay until the earliest pending timer.
func (e *Env) NextTimerIn() (time.Duration, bool) {
	var next *timer
	for _, t := range e.timers {
		if !t.stopped && (next == nil || t.due.Before(next.due)) {
			next = t
		}
	}
	if next == nil {
		return 0, false
	}
	return next.due.Sub(e.clock.Now()), true
}

// Fetch is a recorded request awaiting an answer from the test.
type Fetch struct {
	Request  worker.Request
	IssuedAt time.Time
	Canceled bool

	env     *Env
	done    func(worker.Completion)
	timeout worker.Timer
	settled bool
}

func (e *Env) Fetch(req worker.Request, done func(worker.Completion)) func() {
	f := &Fetch{Request: req, IssuedAt: e.clock.Now(), env: e, done: done}
	if req.Timeout > 0 {
		f.timeout = e.AfterFunc(req.Timeout, func() {
			f.settle(nil, fmt.Errorf("%w: %s %s after %s", worker.ErrTimeout, req.Method, req.URL, req.Timeout))
		})
	}
	e.fetches = append(e.fetches, f)
	return func() {
		if f.settled {
			return
		}
		f.Canceled = true
		f.settle(nil, context.Canceled)
	}
}

// Fetches returns every request issued so far.
func (e *Env) Fetches() []*Fetch {
	return append([]*Fetch(nil), e.fetches...)
}

// Pending returns requests that have not been answered.
func (e *Env) Pending() []*Fetch {
	var out []*Fetch
	for _, f := range e.fetches {
		if !f.settled {
			out = append(out, f)
		}
	}
	return out
}

// LastFetch returns the most recent request.
func (e *Env) LastFetch() *Fetch {
	e.t.Helper()
	require.NotEmpty(e.t, e.fetches, "no request issued")
	return e.fetches[len(e.fetches)-1]
}

// Respond completes the request with a response.
func (f *Fetch) Respond(status int, body string) {
	f.env.t.Helper()
	require.False(f.env.t, f.settled, "request already settled")
	f.settle(&worker.Response{StatusCode: status, Body: []byte(body)}, nil)
}

// Fail completes the request with a transport error.
func (f *Fetch) Fail(err error) {
	f.env.t.Helper()
	require.False(f.env.t, f.settled, "request already settled")
	f.settle(nil, err)
}

// Settled reports whether done has been called.
func (f *Fetch) Settled() bool { return f.settled }

func (f *Fetch) settle(resp *worker.Response, err error) {
	if f.settled {
		return
	}
	f.settled = true
	if f.timeout != nil {
		f.timeout.Stop()
	}
	f.done(worker.Completion{Response: resp, Err: err, Received: f.env.clock.Now()})
}

// Socket is a scripted duplex connection.
type Socket struct {
	URL string

	events worker.SocketEvents
	state  worker.ReadyState
	sent   []string
}

func (e *Env) Dial(url string, events worker.SocketEvents) worker.Socket {
	s := &Socket{URL: url, events: events, state: worker.Connecting}
	e.sockets = append(e.sockets, s)
	return s
}

// Sockets returns every dialed socket.
func (e *Env) Sockets() []*Socket {
	return append([]*Socket(nil), e.sockets...)
}

// LastSocket returns the most recently dialed socket.
func (e *Env) LastSocket() *Socket {
	e.t.Helper()
	require.NotEmpty(e.t, e.sockets, "no socket dialed")
	return e.sockets[len(e.sockets)-1]
}

func (s *Socket) ReadyState() worker.ReadyState { return s.state }

func (s *Socket) Send(data []byte) error {
	if s.state != worker.Open {
		return worker.ErrNotOpen
	}
	s.sent = append(s.sent, string(data))
	return nil
}

func (s *Socket) Close() error {
	if s.state == worker.Closed {
		return nil
	}
	s.state = worker.Closed
	if s.events.OnClose != nil {
		s.events.OnClose(nil)
	}
	return nil
}

// Open completes the handshake.
func (s *Socket) Open() {
	s.state = worker.Open
	if s.events.OnOpen != nil {
		s.events.OnOpen()
	}
}

// SetState forces a ready state without firing events.
func (s *Socket) SetState(state worker.ReadyState) { s.state = state }

// Deliver pushes an inbound frame.
func (s *Socket) Deliver(data []byte) {
	if s.events.OnMessage != nil {
		s.events.OnMessage(data)
	}
}

// Drop closes the connection from the peer side.
func (s *Socket) Drop(err error) {
	s.state = worker.Closed
	if s.events.OnClose != nil {
		s.events.OnClose(err)
	}
}

// Sent returns frames the job wrote.
func (s *Socket) Sent() []string {
	return append([]string(nil), s.sent...)
}
