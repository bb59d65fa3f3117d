package worker

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/GriffinCanCode/booster/internal/domain/job"
)

// Handler receives payloads posted to an active job.
type Handler interface {
	Handle(payload json.RawMessage)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(payload json.RawMessage)

// Handle calls f(payload).
func (f HandlerFunc) Handle(payload json.RawMessage) { f(payload) }

// Stopper is implemented by handlers holding timers or connections that
// must be released when the context closes.
type Stopper interface {
	Stop()
}

// Factory builds a job handler from its parameter record. It runs on the
// isolated context and must only reach the outside world through env.
type Factory func(env Env, params json.RawMessage) (Handler, error)

// Registry maps job kinds to factories. It is the dispatcher's whole
// vocabulary: a kind that is not registered cannot run.
type Registry struct {
	mu        sync.RWMutex
	factories map[job.Kind]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[job.Kind]Factory)}
}

// Register adds a factory for kind
func (r *Registry) Register(kind job.Kind, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("job kind required")
	}
	if factory == nil {
		return fmt.Errorf("nil factory for %s", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("job kind %s already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// MustRegister is Register for package init paths
func (r *Registry) MustRegister(kind job.Kind, factory Factory) {
	if err := r.Register(kind, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for kind
func (r *Registry) Lookup(kind job.Kind) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[kind]
	return factory, ok
}

// Kinds lists registered kinds in sorted order
func (r *Registry) Kinds() []job.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]job.Kind, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
