package weave

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/junioryono/weave/internal/graph"
	"github.com/junioryono/weave/internal/reflection"
	"github.com/junioryono/weave/internal/registry"
)

// In marks a constructor parameter struct whose exported fields are resolved
// as dependencies, by bean name when tagged name:"...".
type In = reflection.In

// BeanFactory is the lookup interface of the container.
//
// Every lookup takes a context. Lookups made with the context handed to a
// constructor, a post-processor or a FactoryBean join the creation in
// progress, which lets them reach beans currently being created.
type BeanFactory interface {
	// GetBean returns the bean named name. For a factory bean it returns the
	// product, unless name starts with FactoryBeanPrefix.
	GetBean(ctx context.Context, name string) (any, error)

	// GetBeanOfType returns the unique bean assignable to t.
	GetBeanOfType(ctx context.Context, t reflect.Type) (any, error)

	// ContainsBean reports whether a definition or singleton exists for name.
	ContainsBean(name string) bool

	// IsSingleton reports whether GetBean always returns the same instance.
	IsSingleton(name string) (bool, error)

	// IsPrototype reports whether GetBean returns independent instances.
	IsPrototype(name string) (bool, error)

	// IsCurrentlyInCreation reports whether the singleton name is being created.
	IsCurrentlyInCreation(name string) bool

	// GetType returns the type of the bean without creating it, or nil if
	// it cannot be determined.
	GetType(name string) (reflect.Type, error)

	// GetBeanNamesForType returns the names of beans matching t, in
	// registration order. Factory beans whose product type is unknown are
	// instantiated when allowEagerInit is set.
	GetBeanNamesForType(ctx context.Context, t reflect.Type, includeNonSingletons, allowEagerInit bool) ([]string, error)
}

// TypeViewer is implemented by beans that can present themselves as types
// they are not assignable to, such as proxies.
type TypeViewer interface {
	ViewAs(t reflect.Type) (any, bool)
}

var (
	contextType     = reflect.TypeOf((*context.Context)(nil)).Elem()
	beanFactoryType = reflect.TypeOf((*BeanFactory)(nil)).Elem()

	postProcessorType = reflect.TypeOf((*BeanPostProcessor)(nil)).Elem()
)

// Container holds bean definitions and the singletons created from them.
type Container struct {
	id       string
	logger   *zap.Logger
	opts     containerOptions
	analyzer *reflection.Analyzer
	invoker  *reflection.ConstructorInvoker
	registry *registry.Registry

	// dependsOn holds depends-on declarations and rejects cycles.
	dependsOn *graph.DependencyGraph

	mu               sync.RWMutex
	definitions      map[string]*BeanDefinition
	names            []string
	manualSingletons []string
	postProcessors   []BeanPostProcessor
	frozen           bool

	closed atomic.Bool
}

var _ BeanFactory = (*Container)(nil)

// New creates an empty container.
func New(opts ...Option) *Container {
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&options)
		}
	}

	analyzer := reflection.New()
	return &Container{
		id:          uuid.NewString(),
		logger:      options.logger,
		opts:        options,
		analyzer:    analyzer,
		invoker:     reflection.NewConstructorInvoker(analyzer),
		registry:    registry.New(),
		dependsOn:   graph.NewAcyclic(),
		definitions: make(map[string]*BeanDefinition),
	}
}

// ID returns the unique identifier of the container.
func (c *Container) ID() string {
	return c.id
}

// Register adds a definition for a bean created by constructor.
func (c *Container) Register(name string, constructor any, opts ...DefinitionOption) error {
	return c.RegisterBeanDefinition(NewBeanDefinition(name, constructor, opts...))
}

// RegisterBeanDefinition validates def and stores a copy of it.
//
// Registering a name already in use replaces the old definition and destroys
// its singleton, unless overriding is disabled.
func (c *Container) RegisterBeanDefinition(def *BeanDefinition) error {
	if c.closed.Load() {
		return ErrContainerClosed
	}
	if def == nil {
		return ErrDefinitionNil
	}

	def = def.clone()
	if err := def.Validate(); err != nil {
		return BeanDefinitionError{Name: def.Name, Cause: err}
	}

	c.mu.Lock()
	if c.frozen {
		c.mu.Unlock()
		return BeanDefinitionError{Name: def.Name, Cause: ErrFrozen}
	}

	_, exists := c.definitions[def.Name]
	if exists {
		if !c.opts.allowBeanDefinitionOverriding {
			c.mu.Unlock()
			return BeanDefinitionError{Name: def.Name, Cause: ErrDefinitionExists}
		}
		c.logger.Debug("Overriding bean definition", zap.String("bean", def.Name))
	} else {
		c.names = append(c.names, def.Name)
		c.manualSingletons = slices.DeleteFunc(c.manualSingletons, func(s string) bool { return s == def.Name })
	}
	c.definitions[def.Name] = def
	c.mu.Unlock()

	if exists || c.registry.ContainsSingleton(def.Name) {
		c.resetBean(def.Name)
	}
	return nil
}

// GetBeanDefinition returns a copy of the definition registered under name.
func (c *Container) GetBeanDefinition(name string) (*BeanDefinition, error) {
	def, ok := c.definition(TransformedBeanName(name))
	if !ok {
		return nil, NoSuchBeanError{Name: name}
	}
	return def.clone(), nil
}

// ContainsBeanDefinition reports whether a definition exists for name.
func (c *Container) ContainsBeanDefinition(name string) bool {
	_, ok := c.definition(name)
	return ok
}

// GetBeanDefinitionNames returns definition names in registration order.
func (c *Container) GetBeanDefinitionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.names)
}

// RemoveBeanDefinition removes the definition for name and destroys its
// singleton, if any.
func (c *Container) RemoveBeanDefinition(name string) error {
	c.mu.Lock()
	if c.frozen {
		c.mu.Unlock()
		return BeanDefinitionError{Name: name, Cause: ErrFrozen}
	}
	if _, ok := c.definitions[name]; !ok {
		c.mu.Unlock()
		return NoSuchBeanError{Name: name}
	}
	delete(c.definitions, name)
	c.names = slices.DeleteFunc(c.names, func(s string) bool { return s == name })
	c.mu.Unlock()

	if errs := c.resetBean(name); len(errs) > 0 {
		return DisposalError{Errors: errs}
	}
	return nil
}

// FreezeConfiguration prevents further changes to bean definitions.
func (c *Container) FreezeConfiguration() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

// IsConfigurationFrozen reports whether definitions are frozen.
func (c *Container) IsConfigurationFrozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen
}

// RegisterSingleton registers an existing object under name. The object
// receives no callbacks and is not destroyed by Close.
func (c *Container) RegisterSingleton(name string, obj any) error {
	if c.closed.Load() {
		return ErrContainerClosed
	}
	if name == "" {
		return ErrBeanNameEmpty
	}
	if obj == nil {
		return BeanDefinitionError{Name: name, Cause: ErrConstructorNil}
	}

	if err := c.registry.RegisterSingleton(name, obj); err != nil {
		return BeanDefinitionError{Name: name, Cause: err}
	}

	c.mu.Lock()
	if _, ok := c.definitions[name]; !ok {
		c.manualSingletons = append(c.manualSingletons, name)
	}
	c.mu.Unlock()
	return nil
}

// AddBeanPostProcessor appends pp to the post-processors applied to beans
// created from now on. Adding the same processor again moves it to the end.
func (c *Container) AddBeanPostProcessor(pp BeanPostProcessor) {
	if pp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	processors := slices.DeleteFunc(slices.Clone(c.postProcessors), func(p BeanPostProcessor) bool {
		return sameInstance(p, pp)
	})
	c.postProcessors = append(processors, pp)
}

// BeanPostProcessorCount returns the number of registered post-processors.
func (c *Container) BeanPostProcessorCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.postProcessors)
}

// GetBean returns the bean registered under name.
func (c *Container) GetBean(ctx context.Context, name string) (any, error) {
	return c.doGetBean(ctx, name)
}

// GetBeanOfType returns the unique bean matching t. Among several
// candidates a single primary bean wins.
func (c *Container) GetBeanOfType(ctx context.Context, t reflect.Type) (any, error) {
	if t == nil {
		return nil, ErrBeanTypeNil
	}
	ctx, _ = registry.WithChain(ctx)

	names, err := c.GetBeanNamesForType(ctx, t, true, true)
	if err != nil {
		return nil, err
	}
	name, err := c.determineCandidate(t, names)
	if err != nil {
		return nil, err
	}

	obj, err := c.doGetBean(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.adapt(name, obj, t)
}

// ContainsBean reports whether a definition or singleton exists for name.
// A dereferenced name additionally requires a factory bean.
func (c *Container) ContainsBean(name string) bool {
	beanName := TransformedBeanName(name)
	if !c.registry.ContainsSingleton(beanName) && !c.ContainsBeanDefinition(beanName) {
		return false
	}
	if IsFactoryDereference(name) {
		return c.isFactoryBean(beanName)
	}
	return true
}

// IsCurrentlyInCreation reports whether the singleton name is being created.
func (c *Container) IsCurrentlyInCreation(name string) bool {
	return c.registry.IsCurrentlyInCreation(TransformedBeanName(name))
}

// IsSingleton reports whether name is a shared instance. For a factory bean
// that is not created yet the answer comes from its definition.
func (c *Container) IsSingleton(name string) (bool, error) {
	beanName := TransformedBeanName(name)

	if obj, ok := c.registry.Singleton(beanName); ok {
		if fb, ok := obj.(FactoryBean); ok && !IsFactoryDereference(name) {
			return fb.IsSingleton(), nil
		}
		return true, nil
	}

	def, ok := c.definition(beanName)
	if !ok {
		return false, NoSuchBeanError{Name: name}
	}
	return def.Scope == Singleton, nil
}

// IsPrototype reports whether name returns independent instances.
func (c *Container) IsPrototype(name string) (bool, error) {
	beanName := TransformedBeanName(name)

	if obj, ok := c.registry.Singleton(beanName); ok {
		fb, isFactory := obj.(FactoryBean)
		if !isFactory || IsFactoryDereference(name) {
			return false, nil
		}
		if sfb, ok := fb.(SmartFactoryBean); ok {
			return sfb.IsPrototype(), nil
		}
		return !fb.IsSingleton(), nil
	}

	def, ok := c.definition(beanName)
	if !ok {
		return false, NoSuchBeanError{Name: name}
	}
	return def.Scope == Prototype, nil
}

// GetType returns the type GetBean(name) would return, without creating
// anything. Predictions of SmartInstantiationAwareBeanPostProcessors are
// honoured.
func (c *Container) GetType(name string) (reflect.Type, error) {
	beanName := TransformedBeanName(name)
	deref := IsFactoryDereference(name)

	if obj, ok := c.registry.Singleton(beanName); ok {
		if fb, ok := obj.(FactoryBean); ok && !deref {
			return fb.ObjectType(), nil
		}
		return reflect.TypeOf(obj), nil
	}

	def, ok := c.definition(beanName)
	if !ok {
		return nil, NoSuchBeanError{Name: name}
	}

	predicted := c.predictBeanType(beanName, def)
	if isFactoryBeanType(predicted) && !deref {
		return def.objectType(), nil
	}
	return predicted, nil
}

// GetBeanNamesForType returns the names of beans matching t in registration
// order, followed by matching manually registered singletons. A factory bean
// matches by its product type, or as "&name" by its own type.
func (c *Container) GetBeanNamesForType(ctx context.Context, t reflect.Type, includeNonSingletons, allowEagerInit bool) ([]string, error) {
	if t == nil {
		return nil, ErrBeanTypeNil
	}
	ctx, _ = registry.WithChain(ctx)

	c.mu.RLock()
	names := slices.Clone(c.names)
	manual := slices.Clone(c.manualSingletons)
	c.mu.RUnlock()

	var result []string
	for _, name := range names {
		def, ok := c.definition(name)
		if !ok {
			continue
		}

		isFactory := c.isFactoryBean(name)
		matched := false
		if !isFactory || includeNonSingletons || c.isSingletonQuiet(name) {
			var err error
			matched, err = c.isTypeMatch(ctx, name, t, allowEagerInit)
			if err != nil {
				return nil, err
			}
		}
		if !matched && isFactory && (includeNonSingletons || def.Scope == Singleton) {
			ok, err := c.isTypeMatch(ctx, FactoryBeanPrefix+name, t, allowEagerInit)
			if err != nil {
				return nil, err
			}
			if ok {
				result = append(result, FactoryBeanPrefix+name)
			}
			continue
		}
		if matched {
			result = append(result, name)
		}
	}

	for _, name := range manual {
		obj, ok := c.registry.Singleton(name)
		if !ok {
			continue
		}
		if fb, ok := obj.(FactoryBean); ok {
			if (includeNonSingletons || fb.IsSingleton()) && typeMatches(fb.ObjectType(), t) {
				result = append(result, name)
				continue
			}
			if matchesInstance(obj, t) {
				result = append(result, FactoryBeanPrefix+name)
			}
			continue
		}
		if matchesInstance(obj, t) {
			result = append(result, name)
		}
	}

	return result, nil
}

// PreInstantiateSingletons freezes the configuration, registers
// post-processor beans and creates every non-lazy singleton. Factory beans
// are created as factories; their products only when they ask for eager
// initialization. SmartInitializingSingletons are notified at the end.
func (c *Container) PreInstantiateSingletons(ctx context.Context) error {
	if c.closed.Load() {
		return ErrContainerClosed
	}
	c.FreezeConfiguration()

	if err := c.registerPostProcessorBeans(ctx); err != nil {
		return err
	}

	names := c.GetBeanDefinitionNames()
	for _, name := range names {
		def, ok := c.definition(name)
		if !ok || def.Scope != Singleton || def.LazyInit {
			continue
		}

		if !c.isFactoryBean(name) {
			if _, err := c.GetBean(ctx, name); err != nil {
				return err
			}
			continue
		}

		obj, err := c.GetBean(ctx, FactoryBeanPrefix+name)
		if err != nil {
			return err
		}
		if sfb, ok := obj.(SmartFactoryBean); ok && sfb.IsEagerInit() {
			if _, err := c.GetBean(ctx, name); err != nil {
				return err
			}
		}
	}

	for _, name := range names {
		obj, ok := c.registry.Singleton(name)
		if !ok {
			continue
		}
		if sis, ok := viewAs[SmartInitializingSingleton](obj); ok {
			if err := sis.AfterSingletonsInstantiated(ctx); err != nil {
				return BeanCreationError{Name: name, Cause: err}
			}
		}
	}

	return nil
}

// Close destroys every singleton: dependents first, otherwise in reverse
// creation order. Close is idempotent.
func (c *Container) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.logger.Debug("Destroying singletons", zap.String("container", c.id))
	if errs := c.registry.DestroySingletons(); len(errs) > 0 {
		return DisposalError{Errors: errs}
	}
	return nil
}

// registerPostProcessorBeans creates post-processor beans and adds them in
// ascending Order().
func (c *Container) registerPostProcessorBeans(ctx context.Context) error {
	var processors []BeanPostProcessor
	for _, name := range c.GetBeanDefinitionNames() {
		def, ok := c.definition(name)
		if !ok {
			continue
		}
		t := def.BeanType()
		if t == nil || !t.Implements(postProcessorType) {
			continue
		}

		obj, err := c.GetBean(ctx, name)
		if err != nil {
			return err
		}
		pp, ok := obj.(BeanPostProcessor)
		if !ok {
			return TypeMismatchError{Name: name, Expected: postProcessorType, Actual: reflect.TypeOf(obj)}
		}
		processors = append(processors, pp)
	}

	sort.SliceStable(processors, func(i, j int) bool {
		return orderOf(processors[i]) < orderOf(processors[j])
	})
	for _, pp := range processors {
		c.AddBeanPostProcessor(pp)
	}
	return nil
}

// orderOf returns the Order() of v, or the lowest precedence when unordered.
func orderOf(v any) int {
	if o, ok := v.(interface{ Order() int }); ok {
		return o.Order()
	}
	return int(^uint(0) >> 1)
}

func (c *Container) definition(name string) (*BeanDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.definitions[name]
	return def, ok
}

func (c *Container) processors() []BeanPostProcessor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.postProcessors
}

func (c *Container) resetBean(name string) []error {
	return c.registry.DestroySingleton(name)
}

func (c *Container) isFactoryBean(name string) bool {
	if obj, ok := c.registry.Singleton(name); ok {
		_, isFactory := obj.(FactoryBean)
		return isFactory
	}
	def, ok := c.definition(name)
	if !ok {
		return false
	}
	return isFactoryBeanType(c.predictBeanType(name, def))
}

func (c *Container) isSingletonQuiet(name string) bool {
	ok, err := c.IsSingleton(name)
	return err == nil && ok
}

func (c *Container) predictBeanType(name string, def *BeanDefinition) reflect.Type {
	t := def.BeanType()
	for _, pp := range c.processors() {
		if smart, ok := pp.(SmartInstantiationAwareBeanPostProcessor); ok {
			if predicted := smart.PredictBeanType(t, name); predicted != nil {
				return predicted
			}
		}
	}
	return t
}

// isTypeMatch reports whether the bean name matches t. Factory bean
// products are matched by ObjectType.
func (c *Container) isTypeMatch(ctx context.Context, name string, t reflect.Type, allowEagerInit bool) (bool, error) {
	beanName := TransformedBeanName(name)
	deref := IsFactoryDereference(name)

	if obj, ok := c.registry.Singleton(beanName); ok {
		if fb, ok := obj.(FactoryBean); ok {
			if deref {
				return matchesInstance(obj, t), nil
			}
			if product, ok := c.registry.CachedProduct(beanName); ok {
				return matchesInstance(product, t), nil
			}
			return typeMatches(fb.ObjectType(), t), nil
		}
		return !deref && matchesInstance(obj, t), nil
	}

	def, ok := c.definition(beanName)
	if !ok {
		return false, nil
	}

	predicted := c.predictBeanType(beanName, def)
	if isFactoryBeanType(predicted) {
		if deref {
			return typeMatches(predicted, t), nil
		}
		if ot := def.objectType(); ot != nil {
			return typeMatches(ot, t), nil
		}
		if !allowEagerInit || c.registry.IsCurrentlyInCreation(beanName) {
			return false, nil
		}

		obj, err := c.doGetBean(ctx, FactoryBeanPrefix+beanName)
		if err != nil {
			c.logger.Debug("Ignoring factory bean whose product type could not be determined",
				zap.String("bean", beanName), zap.Error(err))
			return false, nil
		}
		fb, ok := obj.(FactoryBean)
		return ok && typeMatches(fb.ObjectType(), t), nil
	}
	if deref {
		return false, nil
	}

	if typeMatches(predicted, t) || typeMatches(def.BeanType(), t) {
		return true, nil
	}
	for _, as := range def.As {
		if typeMatches(as, t) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Container) determineCandidate(t reflect.Type, names []string) (string, error) {
	switch len(names) {
	case 0:
		return "", NoSuchBeanError{Type: t}
	case 1:
		return names[0], nil
	}

	var primary []string
	for _, name := range names {
		if def, ok := c.definition(TransformedBeanName(name)); ok && def.Primary {
			primary = append(primary, name)
		}
	}
	if len(primary) == 1 {
		return primary[0], nil
	}
	return "", NoUniqueBeanError{Type: t, Candidates: names}
}

// adapt presents obj as t, through TypeViewer when obj is not assignable.
func (c *Container) adapt(name string, obj any, t reflect.Type) (any, error) {
	if t == nil || obj == nil || reflect.TypeOf(obj).AssignableTo(t) {
		return obj, nil
	}
	if viewer, ok := obj.(TypeViewer); ok {
		if view, ok := viewer.ViewAs(t); ok {
			return view, nil
		}
	}
	return nil, TypeMismatchError{Name: name, Expected: t, Actual: reflect.TypeOf(obj)}
}

func typeMatches(actual, t reflect.Type) bool {
	return actual != nil && t != nil && actual.AssignableTo(t)
}

func matchesInstance(obj any, t reflect.Type) bool {
	if obj == nil {
		return false
	}
	if reflect.TypeOf(obj).AssignableTo(t) {
		return true
	}
	if viewer, ok := obj.(TypeViewer); ok {
		_, ok := viewer.ViewAs(t)
		return ok
	}
	return false
}

func viewAs[T any](obj any) (T, bool) {
	if v, ok := obj.(T); ok {
		return v, true
	}
	if viewer, ok := obj.(TypeViewer); ok {
		if view, ok := viewer.ViewAs(reflect.TypeFor[T]()); ok {
			v, ok := view.(T)
			return v, ok
		}
	}
	var zero T
	return zero, false
}

// sameInstance reports whether a and b are the same object without
// panicking on uncomparable values.
func sameInstance(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() {
		return !va.IsValid() && !vb.IsValid()
	}
	if va.Type() != vb.Type() || !va.Comparable() {
		return false
	}
	return va.Equal(vb)
}

// translateRegistryError maps registry failures for name to container errors.
func translateRegistryError(name string, err error) error {
	var inCreation *registry.InCreationError
	switch {
	case errors.As(err, &inCreation) && inCreation.Name == name:
		return BeanCurrentlyInCreationError{Name: name}
	case errors.Is(err, registry.ErrDestroyInProgress),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return BeanCreationError{Name: name, Cause: err}
	}
	return err
}
