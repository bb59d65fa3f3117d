package poll

import (
	"fmt"
	"math"
	"sync"
)

// BackoffFunc computes the next delay in milliseconds after a failed cycle
// request. rec.PreviousFrequency holds the delay that preceded it.
type BackoffFunc func(cfg Backoff, rec Record) int

const (
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"

	defaultBackoffBase   = 1000
	defaultBackoffFactor = 2.0
)

var (
	backoffMu  sync.RWMutex
	strategies = map[string]BackoffFunc{
		BackoffFixed:       fixedBackoff,
		BackoffLinear:      linearBackoff,
		BackoffExponential: exponentialBackoff,
	}
)

// RegisterBackoff adds a named strategy. Built-in names cannot be replaced.
func RegisterBackoff(name string, fn BackoffFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("backoff name and function required")
	}
	backoffMu.Lock()
	defer backoffMu.Unlock()
	if _, exists := strategies[name]; exists {
		return fmt.Errorf("backoff strategy %q already registered", name)
	}
	strategies[name] = fn
	return nil
}

func lookupBackoff(name string) (BackoffFunc, bool) {
	backoffMu.RLock()
	defer backoffMu.RUnlock()
	fn, ok := strategies[name]
	return fn, ok
}

// NextDelay applies the configured strategy to rec.
func (b Backoff) NextDelay(rec Record) (int, error) {
	fn, ok := lookupBackoff(b.Strategy)
	if !ok {
		return 0, fmt.Errorf("unknown backoff strategy %q", b.Strategy)
	}
	return b.clamp(fn(b.withDefaults(), rec)), nil
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = defaultBackoffBase
	}
	if b.Factor <= 0 {
		b.Factor = defaultBackoffFactor
	}
	return b
}

func (b Backoff) clamp(ms int) int {
	if ms < 0 {
		ms = 0
	}
	if b.Max > 0 && ms > b.Max {
		return b.Max
	}
	return ms
}

func fixedBackoff(cfg Backoff, _ Record) int {
	return cfg.Base
}

func linearBackoff(cfg Backoff, rec Record) int {
	return rec.PreviousFrequency + cfg.Base
}

func exponentialBackoff(cfg Backoff, rec Record) int {
	prev := rec.PreviousFrequency
	if prev < cfg.Base {
		prev = cfg.Base
	}
	next := float64(prev) * cfg.Factor
	if next > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(next)
}
