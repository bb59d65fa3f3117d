package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/booster/internal/domain/job"
	"github.com/GriffinCanCode/booster/internal/infrastructure/monitoring"
)

// isolate is one isolated context: a goroutine owning a job handler and
// draining an inbox of encoded messages plus a queue of posted tasks.
type isolate struct {
	id        string
	registry  *Registry
	logger    *zap.Logger
	clock     clock.Clock
	metrics   *monitoring.Metrics
	requester Requester
	dialer    Dialer

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan []byte
	tasks  *taskQueue
	up     chan upstream
	done   chan struct{}

	state atomic.Int32

	// Owned by the loop goroutine.
	kind    job.Kind
	handler Handler

	socketsMu sync.Mutex
	sockets   map[*socket]struct{}
}

func newIsolate(reg *Registry, o options) *isolate {
	ctx, cancel := context.WithCancel(context.Background())
	return &isolate{
		id:        o.id,
		registry:  reg,
		logger:    o.logger,
		clock:     o.clock,
		metrics:   o.metrics,
		requester: o.requester,
		dialer:    o.dialer,
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan []byte, o.inboxSize),
		tasks:     newTaskQueue(),
		up:        make(chan upstream, o.inboxSize),
		done:      make(chan struct{}),
		sockets:   make(map[*socket]struct{}),
	}
}

func (c *isolate) State() State {
	return State(c.state.Load())
}

func (c *isolate) setState(s State) {
	c.state.Store(int32(s))
}

// run is the context's event loop.
func (c *isolate) run() {
	defer c.finish()

	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.inbox:
			c.safely(func() { c.receive(data) })
		case <-c.tasks.signal:
			for {
				fn, ok := c.tasks.next()
				if !ok || c.ctx.Err() != nil {
					break
				}
				c.safely(fn)
			}
		}
	}
}

// finish releases everything the job held and drains the inbox. Messages
// still buffered were sent after the context closed.
func (c *isolate) finish() {
	c.setState(StateClosed)
	c.cancel()

	c.socketsMu.Lock()
	for s := range c.sockets {
		s.abort()
	}
	c.socketsMu.Unlock()

	for {
		select {
		case data := <-c.inbox:
			c.violation("message after close", data)
		default:
			close(c.done)
			return
		}
	}
}

// safely runs fn, turning a panic into a context fault.
func (c *isolate) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.fault(fmt.Errorf("%w: %s job panicked: %v", ErrContextFault, c.kind, r))
		}
	}()
	fn()
}

// fault reports err out of band and kills the context.
func (c *isolate) fault(err error) {
	c.logger.Error("Isolated context failed", zap.Error(err))
	c.metrics.RecordContextFault()
	c.stopHandler()
	c.setState(StateClosed)
	c.send(upstream{err: err})
	c.cancel()
}

// report sends a non-fatal error event.
func (c *isolate) report(err error) {
	c.logger.Warn("Isolated context error", zap.Error(err))
	c.send(upstream{err: err})
}

func (c *isolate) violation(reason string, data []byte) {
	c.logger.Warn("Protocol violation",
		zap.String("reason", reason),
		zap.Int("bytes", len(data)))
	c.metrics.RecordProtocolViolation("context")
}

// send hands an upstream value to the host unless the context was killed.
func (c *isolate) send(u upstream) bool {
	select {
	case c.up <- u:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// post queues fn to run on the loop. Posts after close are dropped.
func (c *isolate) post(fn func()) {
	if c.ctx.Err() != nil {
		return
	}
	c.tasks.push(fn)
}

// receive is the fixed dispatcher.
func (c *isolate) receive(data []byte) {
	if c.ctx.Err() != nil {
		return
	}
	if c.State() == StateClosed {
		c.violation("message after close", data)
		return
	}

	msg, err := DecodeMessage(data)
	if err != nil {
		c.violation(err.Error(), data)
		return
	}
	c.metrics.RecordMessage("down", string(msg.Label))

	switch msg.Label {
	case LabelJob:
		c.assign(msg.Body)
	case LabelCommand:
		c.command(msg.Body)
	case LabelPayload:
		c.deliver(msg.Body)
	default:
		c.violation("unexpected label "+string(msg.Label), data)
	}
}

func (c *isolate) assign(body json.RawMessage) {
	if c.State() != StateIdle {
		c.violation("job already assigned", body)
		return
	}

	var d job.Descriptor
	if err := decodeBody(body, &d); err != nil {
		c.violation("malformed job: "+err.Error(), body)
		return
	}

	factory, ok := c.registry.Lookup(d.Kind)
	if !ok {
		c.report(fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind))
		return
	}

	c.kind = d.Kind
	c.logger = c.logger.With(zap.String("job", string(d.Kind)))
	c.setState(StateJobAssigned)

	if !d.Immediate {
		c.handler = &deferred{env: c, factory: factory, params: d.Params}
		c.setState(StateReady)
		c.logger.Debug("Deferred job stored")
		return
	}

	c.setState(StateExecuting)
	handler, err := factory(c, d.Params)
	if err != nil {
		c.fault(fmt.Errorf("%w: %s job failed to start: %v", ErrContextFault, d.Kind, err))
		return
	}
	c.handler = handler
	c.setState(StateReady)
	c.logger.Debug("Job started")
}

func (c *isolate) command(body json.RawMessage) {
	var cmd job.Command
	if err := decodeBody(body, &cmd); err != nil {
		c.violation("malformed command: "+err.Error(), body)
		return
	}

	switch cmd.Name {
	case job.CommandClose:
		c.shutdown()
	default:
		c.violation("unknown command "+string(cmd.Name), body)
	}
}

func (c *isolate) deliver(body json.RawMessage) {
	if c.handler == nil {
		c.logger.Debug("Dropping payload before job is active", zap.Int("bytes", len(body)))
		return
	}
	c.handler.Handle(body)
}

// shutdown is the cooperative half of End.
func (c *isolate) shutdown() {
	c.stopHandler()
	c.setState(StateClosed)
	if data, err := EncodeMessage(LabelClose, nil); err == nil {
		c.metrics.RecordMessage("up", string(LabelClose))
		c.send(upstream{data: data})
	}
	c.cancel()
}

func (c *isolate) stopHandler() {
	if stopper, ok := c.handler.(Stopper); ok {
		stopper.Stop()
	}
	c.handler = nil
}

// terminate is the forced half of End.
func (c *isolate) terminate() {
	c.cancel()
}

// Env implementation. Everything below is called from the loop.

func (c *isolate) ID() string                   { return c.id }
func (c *isolate) Logger() *zap.Logger          { return c.logger }
func (c *isolate) Metrics() *monitoring.Metrics { return c.metrics }
func (c *isolate) Now() time.Time               { return c.clock.Now() }

func (c *isolate) Emit(v any) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if v == nil {
		v = json.RawMessage("null")
	}
	data, err := EncodeMessage(LabelPayload, v)
	if err != nil {
		return err
	}
	c.metrics.RecordMessage("up", string(LabelPayload))
	if !c.send(upstream{data: data}) {
		return ErrClosed
	}
	return nil
}

func (c *isolate) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = c.clock.AfterFunc(d, func() {
		c.post(func() {
			if t.stopped.Swap(true) {
				return
			}
			fn()
		})
	})
	return t
}

func (c *isolate) Fetch(req Request, done func(Completion)) func() {
	if c.requester == nil {
		now := c.clock.Now()
		c.post(func() { done(Completion{Err: ErrNoCapability, Received: now}) })
		return func() {}
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if req.Timeout > 0 {
		ctx, cancel = c.clock.WithTimeout(c.ctx, req.Timeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}

	go func() {
		defer cancel()
		resp, err := c.requester.Do(ctx, req)
		received := c.clock.Now()
		if err != nil && !errors.Is(err, ErrTimeout) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s %s after %s", ErrTimeout, req.Method, req.URL, req.Timeout)
		}
		c.post(func() { done(Completion{Response: resp, Err: err, Received: received}) })
	}()

	return cancel
}

func (c *isolate) Dial(url string, events SocketEvents) Socket {
	s := &socket{iso: c, events: events}
	s.state.Store(int32(Connecting))

	if c.dialer == nil {
		s.state.Store(int32(Closed))
		c.post(func() { s.fireClose(ErrNoCapability) })
		return s
	}

	c.socketsMu.Lock()
	c.sockets[s] = struct{}{}
	c.socketsMu.Unlock()

	go s.connect(url)
	return s
}

func (c *isolate) forget(s *socket) {
	c.socketsMu.Lock()
	delete(c.sockets, s)
	c.socketsMu.Unlock()
}

// loopTimer guards against a clock callback racing Stop: the stopped flag
// is checked on the loop before fn runs.
type loopTimer struct {
	timer   *clock.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	active := !t.stopped.Swap(true)
	t.timer.Stop()
	return active
}

// deferred runs the factory once per payload and hands it that payload.
type deferred struct {
	env     Env
	factory Factory
	params  json.RawMessage
}

func (d *deferred) Handle(payload json.RawMessage) {
	handler, err := d.factory(d.env, d.params)
	if err != nil {
		d.env.Logger().Warn("Deferred job failed to start", zap.Error(err))
		return
	}
	handler.Handle(payload)
}
