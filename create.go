package weave

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/junioryono/weave/internal/reflection"
	"github.com/junioryono/weave/internal/registry"
)

func (c *Container) doGetBean(ctx context.Context, name string) (any, error) {
	if c.closed.Load() {
		return nil, ErrContainerClosed
	}
	if name == "" || TransformedBeanName(name) == "" {
		return nil, ErrBeanNameEmpty
	}

	ctx, chain := registry.WithChain(ctx)
	beanName := TransformedBeanName(name)

	shared, ok, err := c.registry.GetSingleton(ctx, beanName, true)
	if err != nil {
		return nil, translateRegistryError(beanName, err)
	}
	if ok {
		if c.registry.IsCurrentlyInCreation(beanName) {
			c.logger.Debug("Returning eagerly cached instance of singleton bean that is not fully initialized yet",
				zap.String("bean", beanName))
		} else {
			c.logger.Debug("Returning cached instance of singleton bean", zap.String("bean", beanName))
		}
		return c.objectForBeanInstance(ctx, shared, name, beanName)
	}

	if chain.PrototypeInCreation(beanName) {
		return nil, BeanCurrentlyInCreationError{Name: beanName}
	}

	def, ok := c.definition(beanName)
	if !ok {
		return nil, NoSuchBeanError{Name: name}
	}

	for _, dep := range def.DependsOn {
		if err := c.dependsOn.AddEdge(beanName, dep); err != nil {
			return nil, BeanCreationError{Name: beanName, Cause: err}
		}
		c.registry.RegisterDependent(dep, beanName)
		if _, err := c.doGetBean(ctx, dep); err != nil {
			return nil, BeanCreationError{Name: beanName, Cause: fmt.Errorf("depends-on bean %q: %w", dep, err)}
		}
	}

	var bean any
	switch def.Scope {
	case Prototype:
		if err := chain.BeginPrototype(beanName); err != nil {
			return nil, BeanCurrentlyInCreationError{Name: beanName}
		}
		bean, err = c.createBean(ctx, beanName, def)
		chain.EndPrototype(beanName)
	default:
		bean, err = c.registry.GetOrCreate(ctx, beanName, func() (any, error) {
			return c.createBean(ctx, beanName, def)
		})
		err = translateRegistryError(beanName, err)
	}
	if err != nil {
		return nil, err
	}

	return c.objectForBeanInstance(ctx, bean, name, beanName)
}

// objectForBeanInstance returns the product of a factory bean, or the bean
// itself for plain beans and dereferenced names.
func (c *Container) objectForBeanInstance(ctx context.Context, bean any, name, beanName string) (any, error) {
	fb, isFactory := bean.(FactoryBean)
	if IsFactoryDereference(name) {
		if !isFactory {
			return nil, TypeMismatchError{Name: beanName, Expected: factoryBeanType, Actual: reflect.TypeOf(bean)}
		}
		return bean, nil
	}
	if !isFactory {
		return bean, nil
	}

	product, err := c.registry.ProductFromFactory(ctx, beanName, fb, func(obj any) (any, error) {
		return c.applyAfterInitialization(ctx, obj, beanName)
	})
	if err != nil {
		var inCreation *registry.InCreationError
		if errors.As(err, &inCreation) && inCreation.Name == beanName {
			return nil, BeanCurrentlyInCreationError{
				Name:   beanName,
				Reason: "factory bean which is currently in creation returned nil from GetObject",
			}
		}
		return nil, BeanCreationError{Name: beanName, Cause: err}
	}
	return product, nil
}

// createBean runs the full creation pipeline for one bean instance.
func (c *Container) createBean(ctx context.Context, name string, def *BeanDefinition) (any, error) {
	c.logger.Debug("Creating instance of bean", zap.String("bean", name))

	factory := &boundFactory{c: c, ctx: ctx}
	defer factory.unbind()

	bean, err := c.resolveBeforeInstantiation(ctx, name, def)
	if err != nil {
		return nil, BeanCreationError{Name: name, Cause: err}
	}
	if bean != nil {
		return bean, nil
	}

	return c.doCreateBean(ctx, name, def, factory)
}

// resolveBeforeInstantiation lets instantiation-aware post-processors supply
// the bean, skipping the constructor.
func (c *Container) resolveBeforeInstantiation(ctx context.Context, name string, def *BeanDefinition) (any, error) {
	t := def.BeanType()
	for _, pp := range c.processors() {
		ia, ok := pp.(InstantiationAwareBeanPostProcessor)
		if !ok {
			continue
		}
		bean, err := ia.PostProcessBeforeInstantiation(ctx, t, name)
		if err != nil {
			return nil, err
		}
		if bean != nil {
			return c.applyAfterInitialization(ctx, bean, name)
		}
	}
	return nil, nil
}

func (c *Container) doCreateBean(ctx context.Context, name string, def *BeanDefinition, factory *boundFactory) (any, error) {
	resolver := &beanResolver{c: c, ctx: ctx, bean: name, factory: factory}

	raw, err := c.instantiate(def, resolver)
	if err != nil {
		return nil, BeanCreationError{Name: name, Cause: err}
	}

	earlyExposure := def.Scope == Singleton && c.opts.allowCircularReferences && c.registry.IsCurrentlyInCreation(name)
	if earlyExposure {
		c.logger.Debug("Eagerly caching bean to allow for resolving potential circular references",
			zap.String("bean", name))
		c.registry.AddEarlyFactory(name, func() (any, error) {
			return c.earlyBeanReference(ctx, name, raw)
		})
	}

	if err := c.populate(ctx, name, def, raw, resolver); err != nil {
		return nil, BeanCreationError{Name: name, Cause: err}
	}

	exposed, err := c.initialize(ctx, name, raw, def, factory)
	if err != nil {
		return nil, BeanCreationError{Name: name, Cause: err}
	}

	if earlyExposure {
		if early, ok := c.registry.EarlyReference(name); ok {
			switch {
			case sameInstance(exposed, raw):
				exposed = early
			case c.registry.HasDependents(name):
				reason := fmt.Sprintf("bean with name %q has been injected into other beans [%s] in its raw version as part of a circular reference, but has eventually been wrapped",
					name, strings.Join(c.registry.Dependents(name), ","))
				return nil, BeanCurrentlyInCreationError{Name: name, Reason: reason}
			}
		}
	}

	if def.Scope == Singleton && hasDestroyCallback(raw, def) {
		c.registry.RegisterDisposable(name, c.destroyCallback(name, raw, def))
	}

	return exposed, nil
}

func (c *Container) instantiate(def *BeanDefinition, resolver *beanResolver) (any, error) {
	if def.Instance != nil {
		return def.Instance, nil
	}

	info, err := c.analyzer.Analyze(def.Constructor)
	if err != nil {
		return nil, err
	}

	bean, err := c.invokeConstructor(def.Constructor, info, resolver)
	if err != nil {
		return nil, err
	}
	if isNilValue(bean) {
		return nil, fmt.Errorf("constructor %v returned nil", info.Type)
	}
	return bean, nil
}

func (c *Container) invokeConstructor(constructor any, info *reflection.ConstructorInfo, resolver *beanResolver) (bean any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ConstructorPanicError{Constructor: info.Type, Panic: r, Stack: debug.Stack()}
		}
	}()
	return c.invoker.Invoke(constructor, info, resolver)
}

func (c *Container) earlyBeanReference(ctx context.Context, name string, bean any) (any, error) {
	exposed := bean
	for _, pp := range c.processors() {
		smart, ok := pp.(SmartInstantiationAwareBeanPostProcessor)
		if !ok {
			continue
		}
		ref, err := smart.GetEarlyBeanReference(ctx, exposed, name)
		if err != nil {
			return nil, BeanCreationError{Name: name, Cause: err}
		}
		if ref != nil {
			exposed = ref
		}
	}
	return exposed, nil
}

// populate injects tagged fields and applies the definition's properties.
func (c *Container) populate(ctx context.Context, name string, def *BeanDefinition, bean any, resolver *beanResolver) error {
	for _, pp := range c.processors() {
		ia, ok := pp.(InstantiationAwareBeanPostProcessor)
		if !ok {
			continue
		}
		proceed, err := ia.PostProcessAfterInstantiation(ctx, bean, name)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}

	if err := c.analyzer.Inject(bean, resolver); err != nil {
		return err
	}

	for _, pv := range def.Properties {
		value := pv.Value
		if pv.Ref != "" {
			ref, err := resolver.ResolveNamed(pv.Ref, nil, false)
			if err != nil {
				return fmt.Errorf("cannot resolve reference to bean %q while setting property %q: %w", pv.Ref, pv.Name, err)
			}
			if t, ok := reflection.PropertyType(bean, pv.Name); ok {
				if ref, err = c.adapt(pv.Ref, ref, t); err != nil {
					return err
				}
			}
			value = ref
		}
		if err := reflection.SetProperty(bean, pv.Name, value); err != nil {
			return err
		}
	}
	return nil
}

// initialize runs Aware callbacks, post-processors and init methods.
func (c *Container) initialize(ctx context.Context, name string, bean any, def *BeanDefinition, factory *boundFactory) (any, error) {
	if aware, ok := bean.(BeanNameAware); ok {
		aware.SetBeanName(name)
	}
	if aware, ok := bean.(BeanFactoryAware); ok {
		aware.SetBeanFactory(factory)
	}

	wrapped, err := c.applyBeforeInitialization(ctx, bean, name)
	if err != nil {
		return nil, err
	}

	if ib, ok := wrapped.(InitializingBean); ok {
		c.logger.Debug("Invoking AfterPropertiesSet on bean", zap.String("bean", name))
		if err := ib.AfterPropertiesSet(); err != nil {
			return nil, fmt.Errorf("invocation of init method failed: %w", err)
		}
	}
	if def.InitMethod != nil {
		if err := def.InitMethod(wrapped); err != nil {
			return nil, fmt.Errorf("invocation of init method failed: %w", err)
		}
	}

	return c.applyAfterInitialization(ctx, wrapped, name)
}

func (c *Container) applyBeforeInitialization(ctx context.Context, bean any, name string) (any, error) {
	result := bean
	for _, pp := range c.processors() {
		current, err := pp.PostProcessBeforeInitialization(ctx, result, name)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return result, nil
		}
		result = current
	}
	return result, nil
}

func (c *Container) applyAfterInitialization(ctx context.Context, bean any, name string) (any, error) {
	result := bean
	for _, pp := range c.processors() {
		current, err := pp.PostProcessAfterInitialization(ctx, result, name)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return result, nil
		}
		result = current
	}
	return result, nil
}

// beanResolver resolves constructor parameters and injected fields of the
// bean being created, recording each resolved bean as a dependency.
type beanResolver struct {
	c       *Container
	ctx     context.Context
	bean    string
	factory *boundFactory
}

func (r *beanResolver) ResolveType(t reflect.Type, optional bool) (any, error) {
	switch t {
	case contextType:
		return r.ctx, nil
	case beanFactoryType:
		return r.factory, nil
	}

	names, err := r.c.GetBeanNamesForType(r.ctx, t, true, true)
	if err != nil {
		return nil, err
	}
	if len(names) > 1 {
		names = slicesWithout(names, r.bean)
	}
	if len(names) == 0 && optional {
		return nil, nil
	}

	name, err := r.c.determineCandidate(t, names)
	if err != nil {
		return nil, err
	}
	return r.ResolveNamed(name, t, false)
}

func (r *beanResolver) ResolveNamed(name string, t reflect.Type, optional bool) (any, error) {
	if optional && !r.c.ContainsBean(name) {
		return nil, nil
	}

	obj, err := r.c.doGetBean(r.ctx, name)
	if err != nil {
		return nil, err
	}
	r.c.registry.RegisterDependent(TransformedBeanName(name), r.bean)

	return r.c.adapt(name, obj, t)
}

// boundFactory is the BeanFactory handed to a bean during its creation.
// Until the creation finishes, lookups join the creation chain.
type boundFactory struct {
	c *Container

	mu  sync.RWMutex
	ctx context.Context
}

func (f *boundFactory) bind(ctx context.Context) context.Context {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.ctx == nil {
		return ctx
	}
	return registry.BindChain(ctx, f.ctx)
}

func (f *boundFactory) unbind() {
	f.mu.Lock()
	f.ctx = nil
	f.mu.Unlock()
}

func (f *boundFactory) GetBean(ctx context.Context, name string) (any, error) {
	return f.c.GetBean(f.bind(ctx), name)
}

func (f *boundFactory) GetBeanOfType(ctx context.Context, t reflect.Type) (any, error) {
	return f.c.GetBeanOfType(f.bind(ctx), t)
}

func (f *boundFactory) ContainsBean(name string) bool { return f.c.ContainsBean(name) }

func (f *boundFactory) IsSingleton(name string) (bool, error) { return f.c.IsSingleton(name) }

func (f *boundFactory) IsPrototype(name string) (bool, error) { return f.c.IsPrototype(name) }

func (f *boundFactory) IsCurrentlyInCreation(name string) bool {
	return f.c.IsCurrentlyInCreation(name)
}

func (f *boundFactory) GetType(name string) (reflect.Type, error) { return f.c.GetType(name) }

func (f *boundFactory) GetBeanNamesForType(ctx context.Context, t reflect.Type, includeNonSingletons, allowEagerInit bool) ([]string, error) {
	return f.c.GetBeanNamesForType(f.bind(ctx), t, includeNonSingletons, allowEagerInit)
}

func slicesWithout(names []string, name string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if TransformedBeanName(n) != name {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return names
	}
	return out
}

func isNilValue(obj any) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
