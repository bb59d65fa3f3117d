package booster

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/booster/internal/domain/fleet"
	"github.com/GriffinCanCode/booster/internal/domain/job"
	"github.com/GriffinCanCode/booster/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/booster/internal/jobs"
	httpclient "github.com/GriffinCanCode/booster/internal/providers/http/client"
	"github.com/GriffinCanCode/booster/internal/providers/socket"
	"github.com/GriffinCanCode/booster/internal/worker"
)

type options struct {
	registry  *worker.Registry
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	clock     clock.Clock
	requester worker.Requester
	dialer    worker.Dialer
	fleet     *fleet.Manager
	grace     time.Duration
	inboxSize int
	retry     time.Duration
	initial   []initialListener
}

type initialListener struct {
	kind string
	fn   Listener
}

// Option configures a transport
type Option func(*options)

// WithLogger sets the logger hosts derive theirs from
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records host, poll and socket activity into m
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock sets the clock used for timers, timeouts and shutdown
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithRequester replaces the default HTTP capability
func WithRequester(r worker.Requester) Option {
	return func(o *options) { o.requester = r }
}

// WithDialer replaces the default websocket capability
func WithDialer(d worker.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithFleet tracks spawned hosts in f
func WithFleet(f *fleet.Manager) Option {
	return func(o *options) { o.fleet = f }
}

// WithGrace sets how long Close waits for a cooperative shutdown
func WithGrace(d time.Duration) Option {
	return func(o *options) { o.grace = d }
}

// WithRegistry replaces the job registry, for custom job kinds
func WithRegistry(reg *worker.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithInboxSize bounds each host's buffered messages
func WithInboxSize(n int) Option {
	return func(o *options) { o.inboxSize = n }
}

// WithSocketRetry sets how often a socket relay re-checks the handshake
// for queued sends
func WithSocketRetry(d time.Duration) Option {
	return func(o *options) { o.retry = d }
}

// WithListener registers fn before the worker starts, so it also sees
// events emitted while the transport is being constructed
func WithListener(kind string, fn Listener) Option {
	return func(o *options) { o.initial = append(o.initial, initialListener{kind: kind, fn: fn}) }
}

func newOptions(opts []Option) options {
	o := options{grace: worker.DefaultGrace}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.registry == nil {
		o.registry = jobs.NewRegistry()
	}
	if o.grace <= 0 {
		o.grace = worker.DefaultGrace
	}
	return o
}

// register adds the initial listeners through add, which validates kinds.
func (o options) register(add func(string, Listener) error) error {
	for _, l := range o.initial {
		if err := add(l.kind, l.fn); err != nil {
			return err
		}
	}
	return nil
}

// withRequester fills the HTTP capability if none was given.
func (o *options) withRequester() error {
	if o.requester != nil {
		return nil
	}
	c, err := httpclient.New(httpclient.DefaultConfig(), o.logger)
	if err != nil {
		return fmt.Errorf("failed to create http client: %w", err)
	}
	o.requester = c
	return nil
}

// withDialer fills the socket capability if none was given.
func (o *options) withDialer() {
	if o.dialer == nil {
		o.dialer = socket.NewDialer(socket.DefaultHandshakeTimeout, o.logger)
	}
}

func (o options) workerOptions() []worker.Option {
	opts := []worker.Option{
		worker.WithLogger(o.logger),
		worker.WithMetrics(o.metrics),
		worker.WithRequester(o.requester),
		worker.WithDialer(o.dialer),
	}
	if o.clock != nil {
		opts = append(opts, worker.WithClock(o.clock))
	}
	if o.inboxSize > 0 {
		opts = append(opts, worker.WithInboxSize(o.inboxSize))
	}
	return opts
}

// spawn starts a host, lets wire attach listeners, then posts d. The host
// is tracked in the fleet until it ends.
func (o options) spawn(d job.Descriptor, target string, wire func(*worker.Host)) (*worker.Host, error) {
	h := worker.Spawn(o.registry, o.workerOptions()...)
	wire(h)

	if err := h.PostJob(d); err != nil {
		h.End(o.grace)
		return nil, fmt.Errorf("failed to post %s job: %w", d.Kind, err)
	}

	if o.fleet != nil {
		o.fleet.Add(fleet.Entry{ID: h.ID(), Kind: d.Kind, Target: target})
		go func() {
			<-h.Done()
			o.fleet.Remove(h.ID())
		}()
	}
	return h, nil
}
