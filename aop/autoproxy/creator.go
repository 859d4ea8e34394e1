// Package autoproxy wraps container beans in AOP proxies as they are created.
//
// A Creator is a bean post-processor. Registered with a container, it asks
// its advice source which advice applies to every new bean and replaces the
// bean by a proxy running that advice:
//
//	c := weave.New()
//	creator := autoproxy.NewAdvisorCreator(autoproxy.WithLogger(logger))
//	creator.SetBeanFactory(c)
//	c.AddBeanPostProcessor(creator)
//
// Three sources are provided: NewBeanNameCreator applies common
// interceptors to beans matched by name, NewAdvisorCreator applies the
// Advisor beans of the container and NewAspectCreator additionally the
// advice of aspect beans.
package autoproxy

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/junioryono/weave"
	"github.com/junioryono/weave/aop"
)

// PreserveTargetClassAttribute is the definition attribute that, set to
// true, makes the bean's proxy a class-based proxy.
const PreserveTargetClassAttribute = "autoproxy.preserveTargetClass"

var (
	_ weave.SmartInstantiationAwareBeanPostProcessor = (*Creator)(nil)
	_ weave.BeanFactoryAware                         = (*Creator)(nil)
	_ aop.InfrastructureBean                         = (*Creator)(nil)
)

// adviceSource decides which advice applies to a bean.
type adviceSource interface {
	// advice returns the advisors or advice for the bean, and false when the
	// bean should not be proxied. An empty result with true proxies the bean
	// with the common interceptors only.
	advice(ctx context.Context, c *Creator, t reflect.Type, name string, ts aop.TargetSource) ([]any, bool, error)

	// skip reports whether the bean must never be proxied.
	skip(ctx context.Context, c *Creator, t reflect.Type, name string) (bool, error)

	// isInfrastructure reports whether beans of type t belong to the AOP
	// machinery.
	isInfrastructure(t reflect.Type) bool

	// preFiltered reports whether the advisors returned by advice already
	// matched the bean type.
	preFiltered() bool
}

// definitionSource is implemented by bean factories exposing definitions.
type definitionSource interface {
	GetBeanDefinition(name string) (*weave.BeanDefinition, error)
}

// Creator is the bean post-processor creating proxies.
//
// Decisions are cached per bean: by name, by "&name" for factory beans and
// by type for unnamed beans. A bean is examined at most once, so a bean
// wrapped early to resolve a circular reference is not wrapped again after
// initialization, and a bean proxied before instantiation through a custom
// target source is never proxied a second time.
type Creator struct {
	aop.ProxyConfig

	source   adviceSource
	logger   *zap.Logger
	beans    weave.BeanFactory
	adapters *aop.AdvisorAdapterRegistry
	order    int

	interceptorNames             []string
	applyCommonInterceptorsFirst bool
	targetSourceCreators         []TargetSourceCreator
	freezeProxy                  bool

	mu sync.RWMutex

	targetSourcedBeans   sync.Map // name -> struct{}
	earlyProxyReferences sync.Map // cache key -> early bean
	proxyTypes           sync.Map // cache key -> reflect.Type
	advisedBeans         sync.Map // cache key -> bool
}

func newCreator(source adviceSource, opts []Option) *Creator {
	c := &Creator{
		source:                       source,
		logger:                       zap.NewNop(),
		adapters:                     aop.DefaultAdvisorAdapterRegistry(),
		order:                        aop.LowestPrecedence,
		applyCommonInterceptorsFirst: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetBeanFactory sets the factory advice and common interceptors are looked
// up in.
func (c *Creator) SetBeanFactory(f weave.BeanFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beans = f
}

func (c *Creator) beanFactory() weave.BeanFactory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.beans
}

// Order returns the creator's position among the post-processors.
func (c *Creator) Order() int { return c.order }

func (c *Creator) IsAopInfrastructure() bool { return true }

// IsAdvised reports the cached decision for a bean: whether it was proxied
// and whether a decision was made at all.
func (c *Creator) IsAdvised(t reflect.Type, name string) (advised, decided bool) {
	v, ok := c.advisedBeans.Load(cacheKey(t, name))
	if !ok {
		return false, false
	}
	return v.(bool), true
}

// PredictBeanType returns the proxy type of a bean whose declared type is
// unknown. Beans with a declared type keep it, since proxies present
// themselves as every interface of their target.
func (c *Creator) PredictBeanType(t reflect.Type, name string) reflect.Type {
	if t != nil {
		return nil
	}
	if pt, ok := c.proxyTypes.Load(cacheKey(t, name)); ok {
		return pt.(reflect.Type)
	}
	return nil
}

// GetEarlyBeanReference wraps a bean handed out before its initialization
// finished and remembers it, so the initialized bean is not wrapped again.
func (c *Creator) GetEarlyBeanReference(ctx context.Context, bean any, name string) (any, error) {
	if isRawTarget(ctx, name) {
		return bean, nil
	}
	key := cacheKey(reflect.TypeOf(bean), name)
	c.earlyProxyReferences.Store(key, bean)
	return c.wrapIfNecessary(ctx, bean, name, key)
}

// PostProcessBeforeInstantiation proxies beans for which a custom target
// source exists, skipping their construction.
func (c *Creator) PostProcessBeforeInstantiation(ctx context.Context, t reflect.Type, name string) (any, error) {
	if isRawTarget(ctx, name) {
		return nil, nil
	}
	key := cacheKey(t, name)

	if !c.isTargetSourced(name) {
		if _, ok := c.advisedBeans.Load(key); ok {
			return nil, nil
		}
		skip, err := c.ignored(ctx, t, name)
		if err != nil {
			return nil, err
		}
		if skip {
			c.advisedBeans.Store(key, false)
			return nil, nil
		}
	}

	ts, err := c.customTargetSource(ctx, t, name)
	if err != nil || ts == nil {
		return nil, err
	}
	if name != "" {
		c.targetSourcedBeans.Store(name, struct{}{})
	}

	specific, ok, err := c.source.advice(ctx, c, t, name, ts)
	if err != nil {
		return nil, err
	}
	if !ok {
		specific = nil
	}
	proxy, err := c.createProxy(ctx, t, name, specific, ts)
	if err != nil {
		return nil, err
	}
	c.proxyTypes.Store(key, reflect.TypeOf(proxy))
	c.logger.Debug("created proxy with custom target source",
		zap.String("bean", name),
		zap.Stringer("targetSource", stringer(ts)),
	)
	return proxy, nil
}

func (c *Creator) PostProcessAfterInstantiation(context.Context, any, string) (bool, error) {
	return true, nil
}

func (c *Creator) PostProcessBeforeInitialization(_ context.Context, bean any, _ string) (any, error) {
	return bean, nil
}

// PostProcessAfterInitialization proxies the bean if advice applies to it.
func (c *Creator) PostProcessAfterInitialization(ctx context.Context, bean any, name string) (any, error) {
	if bean == nil || isRawTarget(ctx, name) {
		return bean, nil
	}
	key := cacheKey(reflect.TypeOf(bean), name)
	if early, ok := c.earlyProxyReferences.LoadAndDelete(key); ok && sameInstance(early, bean) {
		return bean, nil
	}
	return c.wrapIfNecessary(ctx, bean, name, key)
}

func (c *Creator) wrapIfNecessary(ctx context.Context, bean any, name string, key any) (any, error) {
	if c.isTargetSourced(name) {
		return bean, nil
	}
	if advised, ok := c.advisedBeans.Load(key); ok && !advised.(bool) {
		return bean, nil
	}

	t := reflect.TypeOf(bean)
	skip, err := c.ignored(ctx, t, name)
	if err != nil {
		return nil, err
	}
	if skip {
		c.advisedBeans.Store(key, false)
		return bean, nil
	}

	specific, ok, err := c.source.advice(ctx, c, t, name, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.advisedBeans.Store(key, false)
		return bean, nil
	}

	c.advisedBeans.Store(key, true)
	proxy, err := c.createProxy(ctx, t, name, specific, aop.NewSingletonTargetSource(bean))
	if err != nil {
		return nil, err
	}
	c.proxyTypes.Store(key, reflect.TypeOf(proxy))
	c.logger.Debug("created proxy",
		zap.String("bean", name),
		zap.Int("advisors", len(specific)),
		zap.Stringer("proxy", stringer(proxy)),
	)
	return proxy, nil
}

// ignored reports whether a bean is infrastructure or skipped by the source.
func (c *Creator) ignored(ctx context.Context, t reflect.Type, name string) (bool, error) {
	if c.isInfrastructure(t) {
		c.logger.Debug("did not attempt to auto-proxy infrastructure type",
			zap.String("bean", name), zap.Stringer("type", stringer(t)))
		return true, nil
	}
	return c.source.skip(ctx, c, t, name)
}

func (c *Creator) isInfrastructure(t reflect.Type) bool {
	return aop.IsInfrastructureType(t) || c.source.isInfrastructure(t)
}

func (c *Creator) isTargetSourced(name string) bool {
	if name == "" {
		return false
	}
	_, ok := c.targetSourcedBeans.Load(name)
	return ok
}

func (c *Creator) customTargetSource(ctx context.Context, t reflect.Type, name string) (aop.TargetSource, error) {
	beans := c.beanFactory()
	if len(c.targetSourceCreators) == 0 || beans == nil || !beans.ContainsBean(name) {
		return nil, nil
	}
	raw := rawTargets{BeanFactory: beans}
	for _, tsc := range c.targetSourceCreators {
		ts, err := tsc.TargetSource(ctx, raw, t, name)
		if err != nil {
			return nil, err
		}
		if ts != nil {
			return ts, nil
		}
	}
	return nil, nil
}

func (c *Creator) createProxy(ctx context.Context, t reflect.Type, name string, specific []any, ts aop.TargetSource) (aop.Proxy, error) {
	pf := aop.NewEmptyProxyFactory()
	pf.CopyFrom(c.ProxyConfig)
	pf.Frozen = false
	pf.SetAdapterRegistry(c.adapters)

	if !pf.ProxyTargetClass {
		if c.shouldProxyTargetClass(name) {
			pf.ProxyTargetClass = true
		} else if err := c.evaluateProxyInterfaces(t, pf); err != nil {
			return nil, err
		}
	}

	advisors, err := c.buildAdvisors(ctx, name, specific)
	if err != nil {
		return nil, err
	}
	if err := pf.AddAdvisors(advisors...); err != nil {
		return nil, err
	}
	pf.SetTargetSource(ts)
	pf.Frozen = c.freezeProxy
	if c.source.preFiltered() {
		pf.SetPreFiltered(true)
	}
	return pf.GetProxy()
}

func (c *Creator) shouldProxyTargetClass(name string) bool {
	defs, ok := c.beanFactory().(definitionSource)
	if !ok || name == "" {
		return false
	}
	def, err := defs.GetBeanDefinition(weave.TransformedBeanName(name))
	if err != nil {
		return false
	}
	v, _ := def.Attribute(PreserveTargetClassAttribute)
	preserve, _ := v.(bool)
	return preserve
}

// evaluateProxyInterfaces proxies the known interfaces of t, or the type
// itself when it has no reasonable interface.
func (c *Creator) evaluateProxyInterfaces(t reflect.Type, pf *aop.ProxyFactory) error {
	candidates := aop.InterfacesOf(t)
	reasonable := false
	for _, it := range candidates {
		if !isCallbackInterface(it) && it.NumMethod() > 0 {
			reasonable = true
			break
		}
	}
	if !reasonable {
		pf.ProxyTargetClass = true
		return nil
	}
	for _, it := range candidates {
		if err := pf.AddInterface(it); err != nil {
			return err
		}
	}
	return nil
}

var callbackInterfaces = []reflect.Type{
	reflect.TypeFor[weave.BeanNameAware](),
	reflect.TypeFor[weave.BeanFactoryAware](),
	reflect.TypeFor[weave.InitializingBean](),
	reflect.TypeFor[weave.DisposableBean](),
	reflect.TypeFor[weave.DisposableWithContext](),
	reflect.TypeFor[weave.SmartInitializingSingleton](),
	reflect.TypeFor[io.Closer](),
}

func isCallbackInterface(t reflect.Type) bool {
	for _, cb := range callbackInterfaces {
		if t == cb {
			return true
		}
	}
	return false
}

// buildAdvisors combines the bean's advice with the common interceptors.
func (c *Creator) buildAdvisors(ctx context.Context, name string, specific []any) ([]aop.Advisor, error) {
	common, err := c.commonInterceptors(ctx)
	if err != nil {
		return nil, err
	}

	all := make([]any, 0, len(common)+len(specific))
	if len(common) > 0 && c.applyCommonInterceptorsFirst {
		all = append(all, common...)
		all = append(all, specific...)
	} else {
		all = append(all, specific...)
		all = append(all, common...)
	}
	c.logger.Debug("building advisors",
		zap.String("bean", name),
		zap.Int("common", len(common)),
		zap.Int("specific", len(specific)),
	)

	advisors := make([]aop.Advisor, 0, len(all))
	for _, advice := range all {
		advisor, err := c.adapters.Wrap(advice)
		if err != nil {
			return nil, err
		}
		advisors = append(advisors, advisor)
	}
	return advisors, nil
}

func (c *Creator) commonInterceptors(ctx context.Context) ([]any, error) {
	if len(c.interceptorNames) == 0 {
		return nil, nil
	}
	beans := c.beanFactory()
	if beans == nil {
		return nil, aop.AopConfigError{Reason: "common interceptors require a bean factory"}
	}

	out := make([]any, 0, len(c.interceptorNames))
	for _, name := range c.interceptorNames {
		bean, err := beans.GetBean(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolving common interceptor %q: %w", name, err)
		}
		out = append(out, bean)
	}
	return out, nil
}

// cacheKey identifies a bean across the creator's hooks.
func cacheKey(t reflect.Type, name string) any {
	if name == "" {
		return t
	}
	if t != nil && t.Implements(factoryBeanType) {
		return weave.FactoryBeanPrefix + name
	}
	return name
}

var factoryBeanType = reflect.TypeFor[weave.FactoryBean]()

func sameInstance(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() == reflect.Pointer && vb.Kind() == reflect.Pointer {
		return va.Pointer() == vb.Pointer() && va.Type() == vb.Type()
	}
	if va.IsValid() && va.Type().Comparable() && vb.IsValid() && vb.Type().Comparable() {
		return a == b
	}
	return false
}

func stringer(v any) fmt.Stringer {
	return stringFunc(func() string { return fmt.Sprint(v) })
}

type stringFunc func() string

func (f stringFunc) String() string { return f() }
