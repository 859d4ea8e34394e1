package aop

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// ProxyConfig holds the flags shared by everything that creates proxies.
type ProxyConfig struct {
	// ProxyTargetClass proxies the target type itself instead of its
	// interfaces.
	ProxyTargetClass bool

	// Optimize allows the proxy factory to pick the faster strategy. It
	// currently implies ProxyTargetClass.
	Optimize bool

	// Opaque hides the proxy configuration from AdvisedOf.
	Opaque bool

	// ExposeProxy makes the proxy available to the target through
	// CurrentProxy on the context passed as a call's first argument.
	ExposeProxy bool

	// Frozen rejects further advice changes.
	Frozen bool
}

// CopyFrom copies every flag from other.
func (c *ProxyConfig) CopyFrom(other ProxyConfig) {
	*c = other
}

func (c ProxyConfig) String() string {
	return fmt.Sprintf("proxyTargetClass=%t; optimize=%t; opaque=%t; exposeProxy=%t; frozen=%t",
		c.ProxyTargetClass, c.Optimize, c.Opaque, c.ExposeProxy, c.Frozen)
}

// AdvisedSupport is the configuration of one proxy: its target source,
// interfaces and advisors. Interceptor chains are computed per method and
// cached until the advisors change.
type AdvisedSupport struct {
	ProxyConfig

	mu           sync.RWMutex
	targetSource TargetSource
	interfaces   []reflect.Type
	advisors     []Advisor
	preFiltered  bool
	adapters     *AdvisorAdapterRegistry

	methodCache sync.Map // Method -> []MethodInterceptor
}

// NewAdvisedSupport returns a configuration without target or advice.
func NewAdvisedSupport() *AdvisedSupport {
	return &AdvisedSupport{
		targetSource: EmptyTargetSource(nil),
		adapters:     DefaultAdvisorAdapterRegistry(),
	}
}

// SetTarget proxies a single target object.
func (a *AdvisedSupport) SetTarget(target any) {
	a.SetTargetSource(NewSingletonTargetSource(target))
}

// SetTargetSource sets where targets come from. A nil source means no target.
func (a *AdvisedSupport) SetTargetSource(ts TargetSource) {
	if ts == nil {
		ts = EmptyTargetSource(nil)
	}
	a.mu.Lock()
	a.targetSource = ts
	a.mu.Unlock()
}

// TargetSource returns the target source.
func (a *AdvisedSupport) TargetSource() TargetSource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.targetSource
}

// SetPreFiltered marks the advisors as already matched against the target
// type, so class filters are skipped when building chains.
func (a *AdvisedSupport) SetPreFiltered(preFiltered bool) {
	a.mu.Lock()
	a.preFiltered = preFiltered
	a.mu.Unlock()
	a.adviceChanged()
}

func (a *AdvisedSupport) IsPreFiltered() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.preFiltered
}

// SetAdapterRegistry replaces the registry used to turn advisors into
// interceptors.
func (a *AdvisedSupport) SetAdapterRegistry(r *AdvisorAdapterRegistry) {
	a.mu.Lock()
	a.adapters = r
	a.mu.Unlock()
	a.adviceChanged()
}

// AddInterface adds an interface to proxy.
func (a *AdvisedSupport) AddInterface(t reflect.Type) error {
	if t == nil || t.Kind() != reflect.Interface {
		return AopConfigError{Reason: fmt.Sprintf("%v is not an interface", t)}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !slices.Contains(a.interfaces, t) {
		a.interfaces = append(a.interfaces, t)
		a.methodCache.Clear()
	}
	return nil
}

// SetInterfaces replaces the proxied interfaces.
func (a *AdvisedSupport) SetInterfaces(types ...reflect.Type) error {
	a.mu.Lock()
	a.interfaces = nil
	a.mu.Unlock()
	for _, t := range types {
		if err := a.AddInterface(t); err != nil {
			return err
		}
	}
	return nil
}

// RemoveInterface stops proxying t. It reports whether t was proxied.
func (a *AdvisedSupport) RemoveInterface(t reflect.Type) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := slices.Index(a.interfaces, t)
	if i < 0 {
		return false
	}
	a.interfaces = slices.Delete(a.interfaces, i, i+1)
	a.methodCache.Clear()
	return true
}

// Interfaces returns the proxied interfaces, introduced ones included.
func (a *AdvisedSupport) Interfaces() []reflect.Type {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.interfaces)
}

// IsInterfaceProxied reports whether t or an interface embedding it is
// proxied.
func (a *AdvisedSupport) IsInterfaceProxied(t reflect.Type) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, it := range a.interfaces {
		if it == t || it.Implements(t) {
			return true
		}
	}
	return false
}

// AddAdvice appends advice wrapped in an advisor matching every method.
func (a *AdvisedSupport) AddAdvice(advice Advice) error {
	advisor, err := a.adapterRegistry().Wrap(advice)
	if err != nil {
		return err
	}
	return a.AddAdvisor(advisor)
}

// AddAdvisor appends an advisor. Interfaces of introduction advisors are
// validated and added to the proxied interfaces.
func (a *AdvisedSupport) AddAdvisor(advisor Advisor) error {
	return a.AddAdvisors(advisor)
}

// AddAdvisors appends advisors in order.
func (a *AdvisedSupport) AddAdvisors(advisors ...Advisor) error {
	if a.Frozen {
		return AopConfigError{Reason: "cannot add advisor", Cause: ErrFrozen}
	}

	for _, advisor := range advisors {
		if advisor == nil {
			return AopConfigError{Reason: "advisor must not be nil"}
		}
		if ia, ok := advisor.(IntroductionAdvisor); ok {
			if err := ia.ValidateInterfaces(); err != nil {
				return err
			}
			for _, t := range ia.Interfaces() {
				if err := a.AddInterface(t); err != nil {
					return err
				}
			}
		}
	}

	a.mu.Lock()
	a.advisors = append(a.advisors, advisors...)
	a.mu.Unlock()
	a.adviceChanged()
	return nil
}

// RemoveAdvisor removes the advisor at index i.
func (a *AdvisedSupport) RemoveAdvisor(i int) error {
	if a.Frozen {
		return AopConfigError{Reason: "cannot remove advisor", Cause: ErrFrozen}
	}

	a.mu.Lock()
	if i < 0 || i >= len(a.advisors) {
		n := len(a.advisors)
		a.mu.Unlock()
		return AopConfigError{Reason: fmt.Sprintf("advisor index %d is out of bounds: only have %d advisors", i, n)}
	}
	removed := a.advisors[i]
	a.advisors = slices.Delete(a.advisors, i, i+1)
	a.mu.Unlock()

	if ia, ok := removed.(IntroductionAdvisor); ok {
		for _, t := range ia.Interfaces() {
			a.RemoveInterface(t)
		}
	}
	a.adviceChanged()
	return nil
}

// Advisors returns the advisors in chain order.
func (a *AdvisedSupport) Advisors() []Advisor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.advisors)
}

// CopyConfigurationFrom copies flags, target source, interfaces and
// advisors from other.
func (a *AdvisedSupport) CopyConfigurationFrom(other *AdvisedSupport) {
	other.mu.RLock()
	cfg, ts := other.ProxyConfig, other.targetSource
	interfaces, advisors := slices.Clone(other.interfaces), slices.Clone(other.advisors)
	preFiltered, adapters := other.preFiltered, other.adapters
	other.mu.RUnlock()

	a.mu.Lock()
	a.ProxyConfig = cfg
	a.targetSource, a.interfaces, a.advisors = ts, interfaces, advisors
	a.preFiltered, a.adapters = preFiltered, adapters
	a.mu.Unlock()
	a.adviceChanged()
}

// InterceptorChain returns the interceptors applying to m on targets of
// targetType, in advisor order. Advisors with runtime matchers contribute
// an InterceptorAndDynamicMethodMatcher.
func (a *AdvisedSupport) InterceptorChain(m Method, targetType reflect.Type) ([]MethodInterceptor, error) {
	if cached, ok := a.methodCache.Load(m); ok {
		return cached.([]MethodInterceptor), nil
	}

	chain, err := a.buildChain(m, targetType)
	if err != nil {
		return nil, err
	}
	actual, _ := a.methodCache.LoadOrStore(m, chain)
	return actual.([]MethodInterceptor), nil
}

func (a *AdvisedSupport) buildChain(m Method, targetType reflect.Type) ([]MethodInterceptor, error) {
	a.mu.RLock()
	advisors, preFiltered, registry := slices.Clone(a.advisors), a.preFiltered, a.adapters
	a.mu.RUnlock()

	actual := targetType
	if actual == nil {
		actual = m.Owner
	}

	hasIntroductions := false
	for _, advisor := range advisors {
		if ia, ok := advisor.(IntroductionAdvisor); ok && (preFiltered || ia.ClassFilter().Matches(actual)) {
			hasIntroductions = true
			break
		}
	}

	var chain []MethodInterceptor
	for _, advisor := range advisors {
		switch adv := advisor.(type) {
		case PointcutAdvisor:
			pc := adv.Pointcut()
			if !preFiltered && !pc.ClassFilter().Matches(actual) {
				continue
			}
			mm := pc.MethodMatcher()
			if !matchesMethod(mm, m, actual, hasIntroductions) {
				continue
			}
			interceptors, err := registry.Interceptors(advisor)
			if err != nil {
				return nil, err
			}
			if mm.IsRuntime() {
				for _, mi := range interceptors {
					chain = append(chain, &InterceptorAndDynamicMethodMatcher{
						Interceptor:   mi,
						MethodMatcher: mm,
						TargetType:    actual,
					})
				}
				continue
			}
			chain = append(chain, interceptors...)

		case IntroductionAdvisor:
			if !preFiltered && !adv.ClassFilter().Matches(actual) {
				continue
			}
			interceptors, err := registry.Interceptors(advisor)
			if err != nil {
				return nil, err
			}
			chain = append(chain, interceptors...)

		default:
			interceptors, err := registry.Interceptors(advisor)
			if err != nil {
				return nil, err
			}
			chain = append(chain, interceptors...)
		}
	}
	return chain, nil
}

func (a *AdvisedSupport) adapterRegistry() *AdvisorAdapterRegistry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.adapters
}

func (a *AdvisedSupport) adviceChanged() {
	a.methodCache.Clear()
}

func (a *AdvisedSupport) String() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return fmt.Sprintf("AdvisedSupport: %d interfaces %v; %d advisors; targetSource [%v]; %s",
		len(a.interfaces), a.interfaces, len(a.advisors), a.targetSource, a.ProxyConfig)
}
