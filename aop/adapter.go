package aop

import (
	"sync"
)

// AdvisorAdapter turns one kind of advice into an interceptor.
type AdvisorAdapter interface {
	SupportsAdvice(advice Advice) bool
	Interceptor(advisor Advisor) MethodInterceptor
}

// AdvisorAdapterRegistry wraps advice into advisors and advisors into
// interceptors.
type AdvisorAdapterRegistry struct {
	mu       sync.RWMutex
	adapters []AdvisorAdapter
}

// NewAdvisorAdapterRegistry returns a registry with adapters for
// MethodBeforeAdvice, AfterReturningAdvice and ThrowsAdvice.
func NewAdvisorAdapterRegistry() *AdvisorAdapterRegistry {
	return &AdvisorAdapterRegistry{
		adapters: []AdvisorAdapter{beforeAdapter{}, afterReturningAdapter{}, throwsAdapter{}},
	}
}

var defaultAdapters = NewAdvisorAdapterRegistry()

// DefaultAdvisorAdapterRegistry returns the shared registry.
func DefaultAdvisorAdapterRegistry() *AdvisorAdapterRegistry {
	return defaultAdapters
}

// RegisterAdapter adds an adapter for a further kind of advice.
func (r *AdvisorAdapterRegistry) RegisterAdapter(adapter AdvisorAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, adapter)
}

// Wrap returns adviceOrAdvisor as an Advisor, wrapping supported advice in
// an advisor that applies everywhere.
func (r *AdvisorAdapterRegistry) Wrap(adviceOrAdvisor any) (Advisor, error) {
	if advisor, ok := adviceOrAdvisor.(Advisor); ok {
		return advisor, nil
	}
	if _, ok := adviceOrAdvisor.(MethodInterceptor); ok {
		return NewPointcutAdvisor(TruePointcut, adviceOrAdvisor), nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, adapter := range r.adapters {
		if adapter.SupportsAdvice(adviceOrAdvisor) {
			return NewPointcutAdvisor(TruePointcut, adviceOrAdvisor), nil
		}
	}
	return nil, UnknownAdviceTypeError{Advice: adviceOrAdvisor}
}

// Interceptors returns the interceptors executing advisor's advice.
func (r *AdvisorAdapterRegistry) Interceptors(advisor Advisor) ([]MethodInterceptor, error) {
	advice := advisor.Advice()

	var interceptors []MethodInterceptor
	if mi, ok := advice.(MethodInterceptor); ok {
		interceptors = append(interceptors, mi)
	}

	r.mu.RLock()
	for _, adapter := range r.adapters {
		if adapter.SupportsAdvice(advice) {
			interceptors = append(interceptors, adapter.Interceptor(advisor))
		}
	}
	r.mu.RUnlock()

	if len(interceptors) == 0 {
		return nil, UnknownAdviceTypeError{Advice: advice}
	}
	return interceptors, nil
}

type beforeAdapter struct{}

func (beforeAdapter) SupportsAdvice(advice Advice) bool {
	_, ok := advice.(MethodBeforeAdvice)
	return ok
}

func (beforeAdapter) Interceptor(advisor Advisor) MethodInterceptor {
	advice := advisor.Advice().(MethodBeforeAdvice)
	return MethodInterceptorFunc(func(inv MethodInvocation) ([]any, error) {
		if err := advice.Before(inv.Method(), inv.Arguments(), inv.Target()); err != nil {
			return nil, err
		}
		return inv.Proceed()
	})
}

type afterReturningAdapter struct{}

func (afterReturningAdapter) SupportsAdvice(advice Advice) bool {
	_, ok := advice.(AfterReturningAdvice)
	return ok
}

func (afterReturningAdapter) Interceptor(advisor Advisor) MethodInterceptor {
	advice := advisor.Advice().(AfterReturningAdvice)
	return MethodInterceptorFunc(func(inv MethodInvocation) ([]any, error) {
		results, err := inv.Proceed()
		if err != nil {
			return results, err
		}
		if err := advice.AfterReturning(results, inv.Method(), inv.Arguments(), inv.Target()); err != nil {
			return nil, err
		}
		return results, nil
	})
}

type throwsAdapter struct{}

func (throwsAdapter) SupportsAdvice(advice Advice) bool {
	_, ok := advice.(ThrowsAdvice)
	return ok
}

func (throwsAdapter) Interceptor(advisor Advisor) MethodInterceptor {
	advice := advisor.Advice().(ThrowsAdvice)
	return MethodInterceptorFunc(func(inv MethodInvocation) ([]any, error) {
		results, err := inv.Proceed()
		if err == nil {
			return results, nil
		}
		if replaced := advice.AfterThrowing(inv.Method(), inv.Arguments(), inv.Target(), err); replaced != nil {
			return results, replaced
		}
		return results, err
	})
}
