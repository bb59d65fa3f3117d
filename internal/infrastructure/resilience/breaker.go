package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures a breaker. Zero values take the defaults noted.
type Settings struct {
	// Probes is how many trial requests half-open admits (1)
	Probes uint32
	// Window is how long closed-state counts accumulate before clearing (60s)
	Window time.Duration
	// Cooldown is how long the breaker stays open (60s)
	Cooldown time.Duration
	// Trip decides, after a closed-state failure, whether to open (>5 in a row)
	Trip func(counts Counts) bool
	// Classify reports whether err counts as a success (err == nil)
	Classify func(err error) bool
	// OnTransition observes state changes
	OnTransition func(name string, from, to State)
	Clock        clock.Clock
}

func (s Settings) withDefaults() Settings {
	if s.Probes == 0 {
		s.Probes = 1
	}
	if s.Window <= 0 {
		s.Window = 60 * time.Second
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 60 * time.Second
	}
	if s.Trip == nil {
		s.Trip = func(c Counts) bool { return c.ConsecutiveFailures > 5 }
	}
	if s.Classify == nil {
		s.Classify = func(err error) bool { return err == nil }
	}
	if s.Clock == nil {
		s.Clock = clock.New()
	}
	return s
}

// Counts are the outcomes seen in the current generation
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker guards calls to one remote. Every state change or window reset
// starts a new generation; outcomes reported against an older generation
// are dropped.
type Breaker struct {
	name     string
	settings Settings

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	deadline   time.Time // window end when closed, cooldown end when open
}

// New creates a closed breaker
func New(name string, settings Settings) *Breaker {
	settings = settings.withDefaults()
	return &Breaker{
		name:     name,
		settings: settings,
		deadline: settings.Clock.Now().Add(settings.Window),
	}
}

// Disabled returns a breaker that counts but never trips
func Disabled(name string) *Breaker {
	return New(name, Settings{Trip: func(Counts) bool { return false }})
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, applying any due window or cooldown expiry
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.settings.Clock.Now())
	return b.state
}

// Counts returns a copy of the current generation's counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Allow admits one request. The caller must report its outcome through
// done exactly once.
func (b *Breaker) Allow() (done func(success bool), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.settings.Clock.Now())
	switch {
	case b.state == StateOpen:
		return nil, ErrCircuitOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.settings.Probes:
		return nil, ErrTooManyRequests
	}

	b.counts.Requests++
	gen := b.generation
	return func(success bool) { b.report(gen, success) }, nil
}

// Guard runs fn if the breaker admits it, classifying the returned error.
// A panic in fn counts as a failure and is re-raised.
func (b *Breaker) Guard(fn func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}

	reported := false
	defer func() {
		if !reported {
			done(false)
		}
	}()

	err = fn()
	reported = true
	done(b.settings.Classify(err))
	return err
}

func (b *Breaker) report(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.settings.Clock.Now()
	b.advance(now)
	if gen != b.generation {
		return
	}

	if success {
		b.counts.success()
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.Probes {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.failure()
	switch b.state {
	case StateClosed:
		if b.settings.Trip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// advance applies window and cooldown expiry. Callers hold mu.
func (b *Breaker) advance(now time.Time) {
	switch b.state {
	case StateClosed:
		if now.After(b.deadline) {
			b.nextGeneration()
			b.deadline = now.Add(b.settings.Window)
		}
	case StateOpen:
		if now.After(b.deadline) {
			b.transition(StateHalfOpen, now)
		}
	}
}

// transition moves to state and starts a new generation. Callers hold mu.
func (b *Breaker) transition(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.nextGeneration()

	switch state {
	case StateClosed:
		b.deadline = now.Add(b.settings.Window)
	case StateOpen:
		b.deadline = now.Add(b.settings.Cooldown)
	case StateHalfOpen:
		b.deadline = time.Time{}
	}

	if b.settings.OnTransition != nil {
		b.settings.OnTransition(b.name, prev, state)
	}
}

func (b *Breaker) nextGeneration() {
	b.generation++
	b.counts = Counts{}
}
