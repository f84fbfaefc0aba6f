package aggregator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var ErrUnknownAggregator = errors.New("unknown aggregator")

type registration struct {
	adapter     Adapter
	testAdapter string
}

type RegisterOption func(*registration)

// WithTestAdapter names the adapter that stands in for this aggregator when the
// institution is a test bank.
func WithTestAdapter(name string) RegisterOption {
	return func(r *registration) {
		r.testAdapter = name
	}
}

// Registry maps aggregator ids to their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]registration)}
}

func (r *Registry) Register(name string, adapter Adapter, opts ...RegisterOption) {
	reg := registration{adapter: adapter}
	for _, opt := range opts {
		opt(&reg)
	}
	r.mu.Lock()
	r.adapters[name] = reg
	r.mu.Unlock()
}

// SetTestAdapter maps name to a test adapter without touching its registered
// adapter, if any.
func (r *Registry) SetTestAdapter(name, testAdapter string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.adapters[name]
	reg.testAdapter = testAdapter
	r.adapters[name] = reg
}

func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	reg, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok || reg.adapter == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAggregator, name)
	}
	return reg.adapter, nil
}

// TestAdapterFor returns the designated test adapter name for an aggregator, if any.
func (r *Registry) TestAdapterFor(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.adapters[name]
	if !ok || reg.testAdapter == "" {
		return "", false
	}
	return reg.testAdapter, true
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	for name, reg := range r.adapters {
		if reg.adapter != nil {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
