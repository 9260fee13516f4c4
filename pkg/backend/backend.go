package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/harun/mira/pkg/stream"
)

// ErrUnsupportedModel is returned when a model id has no registered adapter.
// It surfaces at turn-submission time, never mid-stream.
var ErrUnsupportedModel = errors.New("unsupported model")

// Message is one prompt message in provider-neutral form
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Request contains the normalized generation input handed to an adapter
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Adapter is the uniform interface over one concrete model backend. Generate
// translates the backend's native incremental output into stream events. The
// returned channel always ends with a terminal event (Done, or Error followed
// by Done) and is closed afterwards, including on context cancellation.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, req Request) <-chan stream.Event
}

// Registry maps model ids to adapters. It is built at startup and passed by
// reference into the session manager; there is no ambient global registry.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	models   map[string]string // model id -> adapter name
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		models:   make(map[string]string),
	}
}

// RegisterAdapter adds an adapter under its own name
func (r *Registry) RegisterAdapter(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// BindModel routes a model id to a named adapter
func (r *Registry) BindModel(model, adapterName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[adapterName]; !ok {
		return fmt.Errorf("cannot bind model %q: unknown adapter %q", model, adapterName)
	}
	r.models[model] = adapterName
	return nil
}

// Resolve returns the adapter serving a model id
func (r *Registry) Resolve(model string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.models[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
	}
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (adapter %q missing)", ErrUnsupportedModel, model, name)
	}
	return adapter, nil
}

// Models lists the bound model ids, sorted
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.models))
	for m := range r.models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// emit sends an event unless the context is already cancelled.
func emit(ctx context.Context, out chan<- stream.Event, ev stream.Event) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}
