// Package registry holds shared bean instances and guards their creation.
package registry

import (
	"context"
	"slices"
	"sync"

	"github.com/junioryono/weave/internal/graph"
)

// State is the lifecycle state of one singleton name.
type State int

const (
	// Unregistered means no instance exists and none is being created.
	Unregistered State = iota

	// InCreation means the creation callback for the name is running.
	InCreation

	// Ready means a finished instance is cached.
	Ready
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "Unregistered"
	case InCreation:
		return "InCreation"
	case Ready:
		return "Ready"
	default:
		return "Unknown"
	}
}

// Registry stores singleton instances by name.
//
// Finished instances live in a sync.Map so the hit path is a single lock-free
// read. Creation is linearized by a registry-wide lock that is re-entrant for
// the creation chain holding it, so a bean's dependencies can be created from
// inside its own construction callback.
type Registry struct {
	lock  *creationLock
	ready sync.Map // map[string]any

	mu             sync.Mutex
	early          map[string]any
	earlyFactories map[string]func() (any, error)
	inCreation     map[string]struct{}
	order          []string
	disposables    map[string]func() error
	disposeOrder   []string
	destroying     bool

	dependents *graph.DependencyGraph

	products sync.Map // map[string]any, factory bean products
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		lock:           newCreationLock(),
		early:          make(map[string]any),
		earlyFactories: make(map[string]func() (any, error)),
		inCreation:     make(map[string]struct{}),
		disposables:    make(map[string]func() error),
		dependents:     graph.New(),
	}
}

// State returns the lifecycle state of name.
func (r *Registry) State(name string) State {
	if _, ok := r.ready.Load(name); ok {
		return Ready
	}
	if r.IsCurrentlyInCreation(name) {
		return InCreation
	}
	return Unregistered
}

// ContainsSingleton reports whether a finished instance is cached for name.
func (r *Registry) ContainsSingleton(name string) bool {
	_, ok := r.ready.Load(name)
	return ok
}

// Singleton returns the finished instance registered under name without
// waiting for a creation in progress.
func (r *Registry) Singleton(name string) (any, bool) {
	return r.ready.Load(name)
}

// IsCurrentlyInCreation reports whether the creation callback for name is running.
func (r *Registry) IsCurrentlyInCreation(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inCreation[name]
	return ok
}

// Names returns the names of finished singletons in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// RegisterSingleton stores an externally created instance under name.
func (r *Registry) RegisterSingleton(name string, obj any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ready.Load(name); ok {
		return &AlreadyRegisteredError{Name: name}
	}
	r.addSingletonLocked(name, obj)
	return nil
}

// GetSingleton returns the instance registered under name.
//
// A finished instance is returned without locking. While name is in creation
// the call takes the creation lock: a different chain blocks until creation
// completes, while the creating chain may receive an early reference if
// allowEarly is set and one was exposed through AddEarlyFactory.
func (r *Registry) GetSingleton(ctx context.Context, name string, allowEarly bool) (any, bool, error) {
	if obj, ok := r.ready.Load(name); ok {
		return obj, true, nil
	}
	if !r.IsCurrentlyInCreation(name) {
		return nil, false, nil
	}

	ctx, chain := WithChain(ctx)
	if err := r.lock.acquire(ctx, chain); err != nil {
		return nil, false, err
	}
	defer r.lock.release()

	if obj, ok := r.ready.Load(name); ok {
		return obj, true, nil
	}

	r.mu.Lock()
	if obj, ok := r.early[name]; ok {
		r.mu.Unlock()
		return obj, true, nil
	}
	factory, ok := r.earlyFactories[name]
	r.mu.Unlock()

	if !allowEarly || !ok {
		return nil, false, nil
	}

	obj, err := factory()
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	r.early[name] = obj
	delete(r.earlyFactories, name)
	r.mu.Unlock()

	return obj, true, nil
}

// GetOrCreate returns the finished instance for name, running create under
// the creation lock if none exists yet. A failed creation leaves nothing
// cached, so a later call retries.
func (r *Registry) GetOrCreate(ctx context.Context, name string, create func() (any, error)) (any, error) {
	if obj, ok := r.ready.Load(name); ok {
		return obj, nil
	}

	ctx, chain := WithChain(ctx)
	if err := r.lock.acquire(ctx, chain); err != nil {
		return nil, err
	}
	defer r.lock.release()

	if obj, ok := r.ready.Load(name); ok {
		return obj, nil
	}

	r.mu.Lock()
	if r.destroying {
		r.mu.Unlock()
		return nil, ErrDestroyInProgress
	}
	if _, ok := r.inCreation[name]; ok {
		r.mu.Unlock()
		return nil, &InCreationError{Name: name}
	}
	r.inCreation[name] = struct{}{}
	r.mu.Unlock()

	obj, err := create()

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.inCreation, name)
	if err != nil {
		delete(r.early, name)
		delete(r.earlyFactories, name)
		return nil, err
	}

	r.addSingletonLocked(name, obj)
	return obj, nil
}

// AddEarlyFactory exposes a callback producing an early reference to name
// while it is being created. The callback runs at most once.
func (r *Registry) AddEarlyFactory(name string, factory func() (any, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ready.Load(name); ok {
		return
	}
	r.earlyFactories[name] = factory
	delete(r.early, name)
}

// EarlyReference returns the early reference handed out for name, if any.
func (r *Registry) EarlyReference(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.early[name]
	return obj, ok
}

// RegisterDependent records that dependent had name injected into it.
func (r *Registry) RegisterDependent(name, dependent string) {
	_ = r.dependents.AddEdge(dependent, name)
}

// HasDependents reports whether name was injected into any other bean.
func (r *Registry) HasDependents(name string) bool {
	return r.dependents.HasDependents(name)
}

// Dependents returns the beans name was injected into.
func (r *Registry) Dependents(name string) []string {
	return r.dependents.Dependents(name)
}

// RegisterDisposable registers a destroy callback for name.
func (r *Registry) RegisterDisposable(name string, destroy func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.disposables[name]; !ok {
		r.disposeOrder = append(r.disposeOrder, name)
	}
	r.disposables[name] = destroy
}

// DestroySingleton removes name and destroys it after its dependents.
func (r *Registry) DestroySingleton(name string) []error {
	return r.destroy(name, make(map[string]struct{}))
}

// DestroySingletons destroys every singleton in reverse registration order,
// tearing dependents down before the beans they depend on.
func (r *Registry) DestroySingletons() []error {
	r.mu.Lock()
	r.destroying = true
	names := slices.Clone(r.disposeOrder)
	r.mu.Unlock()

	var errs []error
	visited := make(map[string]struct{})
	for i := len(names) - 1; i >= 0; i-- {
		errs = append(errs, r.destroy(names[i], visited)...)
	}

	r.mu.Lock()
	r.ready.Range(func(key, _ any) bool {
		r.ready.Delete(key)
		return true
	})
	r.products.Range(func(key, _ any) bool {
		r.products.Delete(key)
		return true
	})
	r.early = make(map[string]any)
	r.earlyFactories = make(map[string]func() (any, error))
	r.order = nil
	r.disposables = make(map[string]func() error)
	r.disposeOrder = nil
	r.dependents = graph.New()
	r.destroying = false
	r.mu.Unlock()

	return errs
}

func (r *Registry) destroy(name string, visited map[string]struct{}) []error {
	if _, ok := visited[name]; ok {
		return nil
	}
	visited[name] = struct{}{}

	var errs []error
	for _, dependent := range r.dependents.Dependents(name) {
		errs = append(errs, r.destroy(dependent, visited)...)
	}

	r.mu.Lock()
	destroy := r.disposables[name]
	delete(r.disposables, name)
	r.disposeOrder = slices.DeleteFunc(r.disposeOrder, func(s string) bool { return s == name })
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == name })
	r.ready.Delete(name)
	r.products.Delete(name)
	delete(r.early, name)
	delete(r.earlyFactories, name)
	r.mu.Unlock()

	r.dependents.Remove(name)

	if destroy != nil {
		if err := destroy(); err != nil {
			errs = append(errs, &DestroyError{Name: name, Cause: err})
		}
	}

	return errs
}

func (r *Registry) addSingletonLocked(name string, obj any) {
	r.ready.Store(name, obj)
	delete(r.early, name)
	delete(r.earlyFactories, name)
	r.order = append(r.order, name)
}
