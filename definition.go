package weave

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

var errType = reflect.TypeOf((*error)(nil)).Elem()

// BeanDefinition describes how the container creates one named bean.
//
// Exactly one of Constructor and Instance is required. A Constructor is a
// function returning T or (T, error); its parameters are autowired by type,
// and a single parameter struct embedding In resolves each field, by bean
// name when tagged name:"...". After construction, struct fields tagged
// weave:"..." are injected, then Properties are applied in order.
type BeanDefinition struct {
	// Name identifies the bean.
	Name string

	// Type overrides the type predicted from Constructor or Instance.
	Type reflect.Type

	// Constructor creates the bean.
	Constructor any

	// Instance is a ready-made object that still runs through population
	// and the initialization callbacks.
	Instance any

	// Scope is Singleton unless set otherwise.
	Scope Scope

	// LazyInit excludes a singleton from PreInstantiateSingletons.
	LazyInit bool

	// DependsOn names beans created before this one and destroyed after it.
	DependsOn []string

	// As lists additional interface types the bean is looked up by.
	As []reflect.Type

	// Primary wins a lookup by type that matches several beans.
	Primary bool

	// Properties are set on the bean after construction.
	Properties []PropertyValue

	// InitMethod runs after AfterPropertiesSet.
	InitMethod func(bean any) error

	// DestroyMethod runs after Destroy or Close when the container closes.
	DestroyMethod func(bean any) error

	// Attributes carry arbitrary metadata such as ObjectTypeAttribute.
	Attributes map[string]any
}

// PropertyValue sets one property of a bean: by a setter method
// Set<Name>, or else by the exported field Name. Ref, when set, names the
// bean to inject instead of Value.
type PropertyValue struct {
	Name  string
	Value any
	Ref   string
}

// DefinitionOption configures a BeanDefinition.
type DefinitionOption func(*BeanDefinition)

// NewBeanDefinition returns a singleton definition created by constructor.
func NewBeanDefinition(name string, constructor any, opts ...DefinitionOption) *BeanDefinition {
	def := &BeanDefinition{Name: name, Constructor: constructor}
	for _, opt := range opts {
		if opt != nil {
			opt(def)
		}
	}
	return def
}

// WithScope sets the bean scope.
func WithScope(scope Scope) DefinitionOption {
	return func(def *BeanDefinition) {
		def.Scope = scope
	}
}

// Lazy excludes the bean from eager singleton instantiation.
func Lazy() DefinitionOption {
	return func(def *BeanDefinition) {
		def.LazyInit = true
	}
}

// DependsOn declares beans that must be created first.
func DependsOn(names ...string) DefinitionOption {
	return func(def *BeanDefinition) {
		def.DependsOn = append(def.DependsOn, names...)
	}
}

// Primary marks the bean as the preferred candidate for lookups by type.
func Primary() DefinitionOption {
	return func(def *BeanDefinition) {
		def.Primary = true
	}
}

// As registers the bean under the interfaces pointed to by ifaces.
//
//	weave.As(new(io.Reader), new(io.Writer))
func As(ifaces ...any) DefinitionOption {
	return func(def *BeanDefinition) {
		for _, i := range ifaces {
			t := reflect.TypeOf(i)
			if t != nil && t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Interface {
				t = t.Elem()
			}
			def.As = append(def.As, t)
		}
	}
}

// Property sets a literal property value.
func Property(name string, value any) DefinitionOption {
	return func(def *BeanDefinition) {
		def.Properties = append(def.Properties, PropertyValue{Name: name, Value: value})
	}
}

// PropertyRef sets a property to the bean named ref.
func PropertyRef(name, ref string) DefinitionOption {
	return func(def *BeanDefinition) {
		def.Properties = append(def.Properties, PropertyValue{Name: name, Ref: ref})
	}
}

// InitMethod sets the custom init callback.
func InitMethod(fn func(bean any) error) DefinitionOption {
	return func(def *BeanDefinition) {
		def.InitMethod = fn
	}
}

// DestroyMethod sets the custom destroy callback.
func DestroyMethod(fn func(bean any) error) DefinitionOption {
	return func(def *BeanDefinition) {
		def.DestroyMethod = fn
	}
}

// Attribute sets a definition attribute.
func Attribute(key string, value any) DefinitionOption {
	return func(def *BeanDefinition) {
		if def.Attributes == nil {
			def.Attributes = make(map[string]any)
		}
		def.Attributes[key] = value
	}
}

// MethodNamed returns a callback invoking the method name on the bean.
// The method takes no arguments and returns nothing or an error.
func MethodNamed(name string) func(bean any) error {
	return func(bean any) error {
		m := reflect.ValueOf(bean).MethodByName(name)
		if !m.IsValid() {
			return fmt.Errorf("type %T has no method %q", bean, name)
		}
		mt := m.Type()
		if mt.NumIn() != 0 || mt.NumOut() > 1 || (mt.NumOut() == 1 && mt.Out(0) != errType) {
			return fmt.Errorf("method %q of %T must take no arguments and return nothing or error", name, bean)
		}
		out := m.Call(nil)
		if len(out) == 1 && !out[0].IsNil() {
			return out[0].Interface().(error)
		}
		return nil
	}
}

// BeanType returns the type the definition produces before any
// post-processing, or nil if it cannot be determined.
func (d *BeanDefinition) BeanType() reflect.Type {
	switch {
	case d.Type != nil:
		return d.Type
	case d.Instance != nil:
		return reflect.TypeOf(d.Instance)
	case d.Constructor != nil:
		t := reflect.TypeOf(d.Constructor)
		if t.Kind() == reflect.Func && t.NumOut() > 0 {
			return t.Out(0)
		}
	}
	return nil
}

// Attribute returns the attribute stored under key.
func (d *BeanDefinition) Attribute(key string) (any, bool) {
	v, ok := d.Attributes[key]
	return v, ok
}

// Validate checks the definition for registration.
func (d *BeanDefinition) Validate() error {
	if d.Name == "" {
		return ErrBeanNameEmpty
	}
	if IsFactoryDereference(d.Name) {
		return fmt.Errorf("%w: name %q must not start with %q", ErrInvalidDefinition, d.Name, FactoryBeanPrefix)
	}
	if !d.Scope.IsValid() {
		return ScopeError{Value: d.Scope}
	}

	switch {
	case d.Constructor == nil && d.Instance == nil:
		return ErrConstructorNil
	case d.Constructor != nil && d.Instance != nil:
		return fmt.Errorf("%w: constructor and instance are mutually exclusive", ErrInvalidDefinition)
	case d.Instance != nil && d.Scope != Singleton:
		return fmt.Errorf("%w: instance definitions must be singletons", ErrInvalidDefinition)
	case d.Constructor != nil:
		if err := validateConstructor(d.Constructor); err != nil {
			return err
		}
	}

	beanType := d.BeanType()
	for _, t := range d.As {
		if t == nil || t.Kind() != reflect.Interface {
			return fmt.Errorf("%w: As(%v): argument must be a pointer to an interface", ErrInvalidDefinition, t)
		}
		if beanType != nil && beanType.Kind() != reflect.Interface && !beanType.Implements(t) {
			return fmt.Errorf("%w: %v does not implement %v", ErrInvalidDefinition, beanType, t)
		}
	}

	for _, dep := range d.DependsOn {
		if strings.TrimSpace(dep) == "" {
			return fmt.Errorf("%w: empty depends-on name", ErrInvalidDefinition)
		}
	}

	for _, pv := range d.Properties {
		if pv.Name == "" {
			return fmt.Errorf("%w: property without name", ErrInvalidDefinition)
		}
	}

	if v, ok := d.Attributes[ObjectTypeAttribute]; ok {
		if _, ok := v.(reflect.Type); !ok {
			return fmt.Errorf("%w: attribute %s must be a reflect.Type, got %T", ErrInvalidDefinition, ObjectTypeAttribute, v)
		}
	}

	return nil
}

func validateConstructor(constructor any) error {
	v := reflect.ValueOf(constructor)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return fmt.Errorf("%w: constructor must be a function, got %v", ErrInvalidDefinition, t)
	}
	if v.IsNil() {
		return ErrConstructorNil
	}

	switch t.NumOut() {
	case 1:
	case 2:
		if t.Out(1) != errType {
			return fmt.Errorf("%w: second return value of %v must be error", ErrInvalidDefinition, t)
		}
	default:
		return fmt.Errorf("%w: constructor %v must return T or (T, error)", ErrInvalidDefinition, t)
	}
	if t.Out(0) == errType {
		return fmt.Errorf("%w: constructor %v only returns error", ErrInvalidDefinition, t)
	}
	return nil
}

func (d *BeanDefinition) clone() *BeanDefinition {
	c := *d
	c.DependsOn = slices.Clone(d.DependsOn)
	c.As = slices.Clone(d.As)
	c.Properties = slices.Clone(d.Properties)
	c.Attributes = maps.Clone(d.Attributes)
	return &c
}

func (d *BeanDefinition) objectType() reflect.Type {
	t, _ := d.Attributes[ObjectTypeAttribute].(reflect.Type)
	return t
}
