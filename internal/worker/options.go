package worker

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/booster/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/booster/internal/shared/id"
)

const (
	// DefaultGrace is how long End waits for a close acknowledgment
	DefaultGrace = 100 * time.Millisecond

	// DefaultInboxSize bounds buffered host-to-context messages
	DefaultInboxSize = 64
)

type options struct {
	id        string
	logger    *zap.Logger
	clock     clock.Clock
	metrics   *monitoring.Metrics
	requester Requester
	dialer    Dialer
	inboxSize int
}

// Option configures Spawn
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:    zap.NewNop(),
		clock:     clock.New(),
		inboxSize: DefaultInboxSize,
	}
}

// WithID sets the host ID instead of generating one
func WithID(hostID string) Option {
	return func(o *options) { o.id = hostID }
}

// WithLogger sets the parent logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used for timers, timeouts and End
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		if clk != nil {
			o.clock = clk
		}
	}
}

// WithMetrics records host activity into m
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRequester provides the HTTP capability
func WithRequester(r Requester) Option {
	return func(o *options) { o.requester = r }
}

// WithDialer provides the duplex connection capability
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithInboxSize bounds the host-to-context buffer
func WithInboxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.inboxSize = n
		}
	}
}

func (o *options) resolveID() string {
	if o.id == "" {
		o.id = id.NewHostID().String()
	}
	return o.id
}
