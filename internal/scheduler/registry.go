package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Job is the body of a periodic task.
type Job func(ctx context.Context) error

// Task is a resolved periodic job.
type Task struct {
	Interval time.Duration
	Run      Job
}

// Factory builds a task when the scheduler starts it.
type Factory func() (Task, error)

// Registry maps task names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("task name is empty")
	}
	if f == nil {
		return fmt.Errorf("task %q: nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("task %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Lookup returns the factory for name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports the first configured name that has no factory.
func (r *Registry) Validate(names []string) error {
	for _, name := range names {
		if _, ok := r.Lookup(name); !ok {
			return fmt.Errorf("unknown task %q", name)
		}
	}
	return nil
}
