package booster

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/booster/internal/domain/job"
	"github.com/GriffinCanCode/booster/internal/jobs/socketrelay"
	"github.com/GriffinCanCode/booster/internal/jobs/transform"
	"github.com/GriffinCanCode/booster/internal/worker"
)

// SocketBooster holds a websocket inside its own worker context. Sends
// issued before the handshake completes are queued and delivered in order.
type SocketBooster struct {
	host   *worker.Host
	grace  time.Duration
	logger *zap.Logger

	mu        sync.Mutex
	listeners listenerSet
	closed    bool
}

// NewSocketBooster connects to url. Inbound frames pass through the named
// transform ("text" when empty) before reaching listeners.
func NewSocketBooster(url, transformName string, opts ...Option) (*SocketBooster, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("socket url required")
	}
	if _, ok := transform.Lookup(transformName); !ok {
		return nil, fmt.Errorf("unknown transform %q", transformName)
	}

	o := newOptions(opts)
	o.withDialer()

	d, err := job.New(job.KindSocketRelay, socketrelay.Params{
		URL:       url,
		Transform: transformName,
		RetryMs:   int(o.retry / time.Millisecond),
	}, true)
	if err != nil {
		return nil, err
	}

	b := &SocketBooster{
		grace:     o.grace,
		logger:    o.logger.With(zap.String("url", url)),
		listeners: make(listenerSet),
	}
	if err := o.register(b.AddEventListener); err != nil {
		return nil, err
	}
	host, err := o.spawn(d, url, func(h *worker.Host) {
		h.AddListener(worker.EventMessage, func(ev worker.Event) {
			b.dispatch(Event{Kind: EventMessage, HostID: ev.HostID, Data: ev.Data})
		})
		h.AddListener(worker.EventError, func(ev worker.Event) {
			b.dispatch(Event{Kind: EventError, HostID: ev.HostID, Err: ev.Err})
		})
	})
	if err != nil {
		return nil, err
	}
	b.host = host
	return b, nil
}

// ID returns the worker host ID
func (b *SocketBooster) ID() string { return b.host.ID() }

// Done is closed once the worker host has ended
func (b *SocketBooster) Done() <-chan struct{} { return b.host.Done() }

// Send relays v over the socket. Strings and byte slices go out as-is,
// other values as JSON.
func (b *SocketBooster) Send(v any) error {
	if b.isClosed() {
		return ErrClosed
	}
	if data, ok := v.([]byte); ok {
		v = string(data)
	}
	return b.host.PostMessage(v)
}

// Close ends the worker, closing the socket
func (b *SocketBooster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.host.End(b.grace)
	return nil
}

// AddEventListener registers fn for message or error events
func (b *SocketBooster) AddEventListener(kind string, fn Listener) error {
	if kind != EventMessage && kind != EventError {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}
	if fn == nil {
		return nil
	}
	b.mu.Lock()
	b.listeners.add(kind, fn)
	b.mu.Unlock()
	return nil
}

// On is AddEventListener for the Transport interface
func (b *SocketBooster) On(kind string, fn Listener) {
	if err := b.AddEventListener(kind, fn); err != nil {
		b.logger.Warn("Ignoring listener", zap.Error(err))
	}
}

func (b *SocketBooster) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *SocketBooster) dispatch(ev Event) {
	b.mu.Lock()
	listeners := b.listeners.snapshot(ev.Kind)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

var _ Transport = (*SocketBooster)(nil)
