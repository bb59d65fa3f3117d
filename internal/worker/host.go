package worker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/booster/internal/domain/job"
	"github.com/GriffinCanCode/booster/internal/infrastructure/monitoring"
)

// Host owns one isolated context and demultiplexes its events to listeners.
type Host struct {
	id      string
	logger  *zap.Logger
	clock   clock.Clock
	metrics *monitoring.Metrics
	iso     *isolate

	mu         sync.Mutex
	kind       job.Kind
	listeners  map[EventKind][]Listener
	ending     bool
	settled    bool
	terminated bool
	killTimer  *clock.Timer

	done       chan struct{}
	finishOnce sync.Once
}

// Spawn starts an isolated context bound to the registry's dispatcher. The
// context listens immediately; nothing runs until a job is posted.
func Spawn(reg *Registry, opts ...Option) *Host {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	hostID := o.resolveID()
	o.logger = o.logger.With(zap.String("host", hostID))

	h := &Host{
		id:        hostID,
		logger:    o.logger,
		clock:     o.clock,
		metrics:   o.metrics,
		iso:       newIsolate(reg, o),
		listeners: make(map[EventKind][]Listener),
		done:      make(chan struct{}),
	}

	h.metrics.HostSpawned()
	go h.iso.run()
	go h.pump()

	h.logger.Debug("Worker host spawned")
	return h
}

// ID returns the host ID
func (h *Host) ID() string { return h.id }

// Kind returns the kind of the posted job, empty before PostJob
func (h *Host) Kind() job.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kind
}

// State returns the isolated context's lifecycle state
func (h *Host) State() State { return h.iso.State() }

// Done is closed once the host has fully ended
func (h *Host) Done() <-chan struct{} { return h.done }

// Terminated reports whether shutdown was forced by the grace timer
func (h *Host) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// PostJob sends a job descriptor to the context
func (h *Host) PostJob(d job.Descriptor) error {
	h.mu.Lock()
	h.kind = d.Kind
	h.mu.Unlock()
	return h.post(LabelJob, d)
}

// PostCommand sends a lifecycle command, bypassing the active handler
func (h *Host) PostCommand(c job.Command) error {
	return h.post(LabelCommand, c)
}

// PostMessage sends a payload to the active handler
func (h *Host) PostMessage(payload any) error {
	if payload == nil {
		payload = json.RawMessage("null")
	}
	return h.post(LabelPayload, payload)
}

func (h *Host) post(label Label, body any) error {
	h.mu.Lock()
	ending := h.ending
	h.mu.Unlock()
	if ending {
		return ErrClosed
	}
	return h.send(label, body)
}

func (h *Host) send(label Label, body any) error {
	data, err := EncodeMessage(label, body)
	if err != nil {
		return err
	}

	select {
	case <-h.iso.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case h.iso.inbox <- data:
		h.metrics.RecordMessage("down", string(label))
		return nil
	case <-h.iso.ctx.Done():
		return ErrClosed
	}
}

// AddListener registers fn for kind. Listeners run in registration order
// on the host's dispatch goroutine.
func (h *Host) AddListener(kind EventKind, fn Listener) *Host {
	switch kind {
	case EventMessage, EventError:
		h.addListener(kind, fn)
	default:
		h.logger.Debug("Ignoring listener for unknown event kind", zap.String("kind", string(kind)))
	}
	return h
}

func (h *Host) addListener(kind EventKind, fn Listener) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners[kind] = append(h.listeners[kind], fn)
	h.mu.Unlock()
}

// End shuts the context down: it asks for a cooperative close and forcibly
// terminates the context if no acknowledgment arrives within grace.
func (h *Host) End(grace time.Duration) {
	if grace <= 0 {
		grace = DefaultGrace
	}

	h.mu.Lock()
	if h.ending {
		h.mu.Unlock()
		return
	}
	h.ending = true
	h.mu.Unlock()

	h.addListener(eventClose, func(Event) { h.acknowledge() })

	h.mu.Lock()
	h.killTimer = h.clock.AfterFunc(grace, func() { h.terminate(grace) })
	h.mu.Unlock()

	if err := h.send(LabelCommand, job.Command{Name: job.CommandClose}); err != nil {
		// The context is already gone; nothing to wait for.
		h.acknowledge()
	}
}

// acknowledge settles End cooperatively.
func (h *Host) acknowledge() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.settled {
		return
	}
	h.settled = true
	if h.killTimer != nil {
		h.killTimer.Stop()
	}
}

// terminate settles End by force.
func (h *Host) terminate(grace time.Duration) {
	h.mu.Lock()
	if h.settled {
		h.mu.Unlock()
		return
	}
	h.settled = true
	h.terminated = true
	h.mu.Unlock()

	h.logger.Warn("Worker did not acknowledge close, terminating",
		zap.Duration("grace", grace))
	h.iso.terminate()
	h.finish("forced")
}

func (h *Host) finish(mode string) {
	h.finishOnce.Do(func() {
		h.metrics.HostEnded(mode)
		h.logger.Debug("Worker host ended", zap.String("mode", mode))
		close(h.done)
	})
}

// pump delivers upstream values to listeners until the context exits.
func (h *Host) pump() {
	for {
		select {
		case u := <-h.iso.up:
			h.dispatch(u)
		case <-h.done:
			return
		case <-h.iso.done:
			for {
				select {
				case u := <-h.iso.up:
					h.dispatch(u)
				default:
					h.finish(h.endMode())
					return
				}
			}
		}
	}
}

func (h *Host) endMode() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.terminated:
		return "forced"
	case h.ending:
		return "graceful"
	default:
		return "failed"
	}
}

func (h *Host) dispatch(u upstream) {
	if h.Terminated() {
		return
	}

	if u.err != nil {
		h.emit(Event{Kind: EventError, HostID: h.id, Err: u.err})
		return
	}

	msg, err := DecodeMessage(u.data)
	if err != nil {
		h.logger.Warn("Protocol violation", zap.String("reason", err.Error()))
		h.metrics.RecordProtocolViolation("host")
		return
	}

	switch msg.Label {
	case LabelPayload:
		h.emit(Event{Kind: EventMessage, HostID: h.id, Data: msg.Body})
	case LabelClose:
		h.emit(Event{Kind: eventClose, HostID: h.id})
	default:
		h.logger.Warn("Protocol violation", zap.String("reason", fmt.Sprintf("unexpected upstream label %q", msg.Label)))
		h.metrics.RecordProtocolViolation("host")
	}
}

func (h *Host) emit(ev Event) {
	h.mu.Lock()
	listeners := append([]Listener(nil), h.listeners[ev.Kind]...)
	h.mu.Unlock()

	for _, fn := range listeners {
		h.call(fn, ev)
	}
}

func (h *Host) call(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Listener panicked",
				zap.String("event", string(ev.Kind)),
				zap.Any("panic", r))
		}
	}()
	fn(ev)
}
