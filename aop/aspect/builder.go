package aspect

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/junioryono/weave"
	"github.com/junioryono/weave/aop"
)

var anyType = reflect.TypeFor[any]()

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger discovered aspects are reported to.
func WithLogger(logger *zap.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithEligible restricts the scan to bean names eligible reports true for.
func WithEligible(eligible func(name string) bool) BuilderOption {
	return func(b *Builder) {
		b.eligible = eligible
	}
}

// Builder collects the advisors of every aspect bean of a bean factory.
//
// The bean names are scanned once. Advisors of singleton aspect beans are
// built once and cached; prototype aspect beans keep their instance factory
// and yield fresh advisors, bound to a fresh aspect instance, on every call.
type Builder struct {
	beans    weave.BeanFactory
	factory  *AdvisorFactory
	logger   *zap.Logger
	eligible func(name string) bool

	mu        sync.Mutex
	names     []string
	scanned   bool
	advisors  map[string][]aop.Advisor
	factories map[string]InstanceFactory
}

// NewBuilder returns a builder for the aspects declared in defs.
func NewBuilder(beans weave.BeanFactory, defs *Definitions, opts ...BuilderOption) *Builder {
	b := &Builder{
		beans:     beans,
		factory:   NewAdvisorFactory(defs),
		logger:    zap.NewNop(),
		advisors:  make(map[string][]aop.Advisor),
		factories: make(map[string]InstanceFactory),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AdvisorFactory returns the factory the builder creates advisors with.
func (b *Builder) AdvisorFactory() *AdvisorFactory { return b.factory }

// CollectAdvisors returns the advisors of all aspect beans, in bean
// registration order and declaration precedence within one aspect.
func (b *Builder) CollectAdvisors(ctx context.Context) ([]aop.Advisor, error) {
	names, err := b.aspectBeanNames(ctx)
	if err != nil {
		return nil, err
	}

	var result []aop.Advisor
	for _, name := range names {
		b.mu.Lock()
		cached, ok := b.advisors[name]
		factory := b.factories[name]
		b.mu.Unlock()

		if ok {
			result = append(result, cached...)
			continue
		}
		if factory == nil {
			continue
		}
		advisors, err := b.factory.Advisors(factory)
		if err != nil {
			return nil, err
		}
		result = append(result, advisors...)
	}
	return result, nil
}

// AspectNames returns the names of the aspect beans found by the scan, or
// nil before the first CollectAdvisors.
func (b *Builder) AspectNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.names)
}

// Reset forgets the scan results, so the next call scans again.
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names, b.scanned = nil, false
	clear(b.advisors)
	clear(b.factories)
}

func (b *Builder) aspectBeanNames(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	if b.scanned {
		names := b.names
		b.mu.Unlock()
		return names, nil
	}
	b.mu.Unlock()

	candidates, err := b.beans.GetBeanNamesForType(ctx, anyType, true, false)
	if err != nil {
		return nil, err
	}

	var (
		names     []string
		advisors  = make(map[string][]aop.Advisor)
		factories = make(map[string]InstanceFactory)
	)
	for _, name := range candidates {
		if b.eligible != nil && !b.eligible(name) {
			continue
		}
		t, err := b.beans.GetType(name)
		if err != nil || t == nil {
			continue
		}
		def, ok := b.factory.defs.Lookup(t)
		if !ok {
			continue
		}

		singleton, err := b.beans.IsSingleton(name)
		if err != nil {
			return nil, err
		}
		factory := NewBeanInstanceFactory(b.beans, name, def)
		if singleton {
			if def.Model.IsPerInstance() {
				return nil, AspectConfigError{
					Aspect: name,
					Reason: fmt.Sprintf("bean is a singleton, but the aspect instantiation model is %s", def.Model),
				}
			}
			built, err := b.factory.Advisors(factory)
			if err != nil {
				return nil, err
			}
			advisors[name] = built
		} else {
			if err := def.Validate(); err != nil {
				return nil, err
			}
			factories[name] = factory
		}
		names = append(names, name)

		b.logger.Debug("found aspect bean",
			zap.String("bean", name),
			zap.Stringer("type", t),
			zap.Stringer("model", def.Model),
			zap.Bool("singleton", singleton),
		)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.scanned {
		b.names, b.scanned = names, true
		b.advisors, b.factories = advisors, factories
	}
	return b.names, nil
}
