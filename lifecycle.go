package weave

import (
	"context"
	"reflect"
)

// BeanNameAware is implemented by beans that want to know their name.
// SetBeanName is called after properties are populated and before any
// initialization callback.
type BeanNameAware interface {
	SetBeanName(name string)
}

// BeanFactoryAware is implemented by beans that look up other beans at
// runtime. The factory passed to a bean during its creation joins that
// creation, so lookups made from inside initialization callbacks do not
// block on it.
type BeanFactoryAware interface {
	SetBeanFactory(f BeanFactory)
}

// InitializingBean is implemented by beans that validate or finish their
// setup once every property is set.
type InitializingBean interface {
	AfterPropertiesSet() error
}

// SmartInitializingSingleton is notified once PreInstantiateSingletons has
// created every eager singleton.
type SmartInitializingSingleton interface {
	AfterSingletonsInstantiated(ctx context.Context) error
}

// BeanPostProcessor hooks into the initialization of every bean. Returning
// nil keeps the current bean.
type BeanPostProcessor interface {
	PostProcessBeforeInitialization(ctx context.Context, bean any, name string) (any, error)
	PostProcessAfterInitialization(ctx context.Context, bean any, name string) (any, error)
}

// InstantiationAwareBeanPostProcessor additionally runs around construction.
//
// A non-nil result of PostProcessBeforeInstantiation replaces the bean
// entirely: the constructor is skipped and only after-initialization hooks
// run on the result. PostProcessAfterInstantiation returning false skips
// property population.
type InstantiationAwareBeanPostProcessor interface {
	BeanPostProcessor
	PostProcessBeforeInstantiation(ctx context.Context, t reflect.Type, name string) (any, error)
	PostProcessAfterInstantiation(ctx context.Context, bean any, name string) (bool, error)
}

// SmartInstantiationAwareBeanPostProcessor can predict bean types and wrap
// early references handed out to resolve circular references.
type SmartInstantiationAwareBeanPostProcessor interface {
	InstantiationAwareBeanPostProcessor

	// PredictBeanType returns the type the bean will finally have, or nil.
	PredictBeanType(t reflect.Type, name string) reflect.Type

	// GetEarlyBeanReference returns the reference exposed to beans created
	// while name is still in creation.
	GetEarlyBeanReference(ctx context.Context, bean any, name string) (any, error)
}
