package aop

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// TargetSource supplies the object a proxy dispatches each call to.
type TargetSource interface {
	// TargetType returns the type of the targets, or nil if unknown.
	TargetType() reflect.Type

	// IsStatic reports whether every call gets the same target. Targets of
	// non-static sources are released after each call.
	IsStatic() bool

	GetTarget(ctx context.Context) (any, error)
	ReleaseTarget(target any) error
}

// BeanSource looks objects up by name. The container satisfies it.
type BeanSource interface {
	GetBean(ctx context.Context, name string) (any, error)
}

// SingletonTargetSource always returns one target.
type SingletonTargetSource struct {
	target any
}

// NewSingletonTargetSource returns a source for target.
func NewSingletonTargetSource(target any) *SingletonTargetSource {
	return &SingletonTargetSource{target: target}
}

func (s *SingletonTargetSource) TargetType() reflect.Type { return reflect.TypeOf(s.target) }

func (s *SingletonTargetSource) IsStatic() bool { return true }

func (s *SingletonTargetSource) GetTarget(context.Context) (any, error) { return s.target, nil }

func (s *SingletonTargetSource) ReleaseTarget(any) error { return nil }

func (s *SingletonTargetSource) String() string {
	return fmt.Sprintf("SingletonTargetSource for target object [%T]", s.target)
}

// emptyTargetSource has no target. Proxies over it can only serve
// introduced interfaces or calls answered by interceptors.
type emptyTargetSource struct {
	targetType reflect.Type
}

// EmptyTargetSource returns a source without a target, reporting
// targetType (which may be nil).
func EmptyTargetSource(targetType reflect.Type) TargetSource {
	return emptyTargetSource{targetType: targetType}
}

func (s emptyTargetSource) TargetType() reflect.Type { return s.targetType }

func (emptyTargetSource) IsStatic() bool { return true }

func (emptyTargetSource) GetTarget(context.Context) (any, error) { return nil, nil }

func (emptyTargetSource) ReleaseTarget(any) error { return nil }

// PrototypeTargetSource obtains a new target from a BeanSource for every
// call. The named bean should be prototype scoped.
type PrototypeTargetSource struct {
	beans      BeanSource
	name       string
	targetType reflect.Type
}

// NewPrototypeTargetSource returns a source looking up name in beans for
// every call. targetType describes the targets.
func NewPrototypeTargetSource(beans BeanSource, name string, targetType reflect.Type) *PrototypeTargetSource {
	return &PrototypeTargetSource{beans: beans, name: name, targetType: targetType}
}

func (s *PrototypeTargetSource) TargetType() reflect.Type { return s.targetType }

func (s *PrototypeTargetSource) IsStatic() bool { return false }

func (s *PrototypeTargetSource) GetTarget(ctx context.Context) (any, error) {
	return s.beans.GetBean(ctx, s.name)
}

// ReleaseTarget closes targets implementing Close() error.
func (s *PrototypeTargetSource) ReleaseTarget(target any) error {
	if c, ok := target.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// TargetBeanName returns the name of the bean producing targets.
func (s *PrototypeTargetSource) TargetBeanName() string { return s.name }

// HotSwappableTargetSource holds a target that can be replaced while
// proxies are in use.
type HotSwappableTargetSource struct {
	mu     sync.RWMutex
	target any
}

// NewHotSwappableTargetSource returns a source for the initial target.
func NewHotSwappableTargetSource(target any) *HotSwappableTargetSource {
	return &HotSwappableTargetSource{target: target}
}

func (s *HotSwappableTargetSource) TargetType() reflect.Type {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reflect.TypeOf(s.target)
}

func (s *HotSwappableTargetSource) IsStatic() bool { return false }

func (s *HotSwappableTargetSource) GetTarget(context.Context) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target, nil
}

func (s *HotSwappableTargetSource) ReleaseTarget(any) error { return nil }

// Swap replaces the target and returns the previous one.
func (s *HotSwappableTargetSource) Swap(target any) (any, error) {
	if target == nil {
		return nil, AopConfigError{Reason: "target object must not be nil"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.target
	s.target = target
	return old, nil
}
