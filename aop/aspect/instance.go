package aspect

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/junioryono/weave/aop"
)

// InstanceFactory supplies aspect instances to advice.
type InstanceFactory interface {
	AspectInstance(ctx context.Context) (any, error)
	AspectName() string
	AspectType() reflect.Type
	Order() int
}

// BeanInstanceFactory obtains the aspect from a bean. A singleton bean
// yields the shared instance; a prototype bean a new one per lookup.
type BeanInstanceFactory struct {
	beans aop.BeanSource
	name  string
	def   *Definition
}

// NewBeanInstanceFactory returns a factory looking up the aspect bean name,
// declared by def.
func NewBeanInstanceFactory(beans aop.BeanSource, name string, def *Definition) *BeanInstanceFactory {
	return &BeanInstanceFactory{beans: beans, name: name, def: def}
}

func (f *BeanInstanceFactory) AspectInstance(ctx context.Context) (any, error) {
	return f.beans.GetBean(ctx, f.name)
}

func (f *BeanInstanceFactory) AspectName() string { return f.name }

func (f *BeanInstanceFactory) AspectType() reflect.Type { return f.def.Type }

// Order returns the declared order, LowestPrecedence by default.
func (f *BeanInstanceFactory) Order() int {
	if order, ok := f.def.Order(); ok {
		return order
	}
	return aop.LowestPrecedence
}

// SimpleInstanceFactory serves one aspect instance.
type SimpleInstanceFactory struct {
	instance any
	name     string
	def      *Definition
}

// NewSimpleInstanceFactory returns a factory for an existing aspect.
func NewSimpleInstanceFactory(name string, instance any, def *Definition) *SimpleInstanceFactory {
	return &SimpleInstanceFactory{instance: instance, name: name, def: def}
}

func (f *SimpleInstanceFactory) AspectInstance(context.Context) (any, error) { return f.instance, nil }

func (f *SimpleInstanceFactory) AspectName() string { return f.name }

func (f *SimpleInstanceFactory) AspectType() reflect.Type { return f.def.Type }

func (f *SimpleInstanceFactory) Order() int {
	if order, ok := f.def.Order(); ok {
		return order
	}
	return aop.LowestPrecedence
}

// lazyInstance materializes the aspect on first use and keeps it.
type lazyInstance struct {
	factory InstanceFactory

	mu       sync.Mutex
	instance any
}

func (l *lazyInstance) get(ctx context.Context) (any, error) {
	l.mu.Lock()
	if l.instance != nil {
		instance := l.instance
		l.mu.Unlock()
		return instance, nil
	}
	l.mu.Unlock()

	// The lookup may reenter advised code, so it runs unlocked; the first
	// stored instance wins.
	instance, err := l.factory.AspectInstance(ctx)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, AspectConfigError{Aspect: l.factory.AspectName(), Reason: "aspect instance is nil"}
	}
	if t := l.factory.AspectType(); t != nil && !reflect.TypeOf(instance).AssignableTo(t) {
		return nil, AspectConfigError{
			Aspect: l.factory.AspectName(),
			Reason: fmt.Sprintf("aspect instance is %T, declared as %v", instance, t),
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.instance == nil {
		l.instance = instance
	}
	return l.instance, nil
}

func (l *lazyInstance) materialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.instance != nil
}
