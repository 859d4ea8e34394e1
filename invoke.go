package weave

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/dig"
)

// Invoke calls fn with its parameters resolved from beans.
//
// Every bean is available under its name through dig.Name, so a dig.In
// parameter struct can select beans with name:"..." tags. Beans are also
// available by type when exactly one bean has that type. A context.Context
// parameter receives ctx unless a bean provides that type.
//
// Each call builds a fresh dig container: singletons are shared, while a
// prototype is created at most once per call and exposure.
func (c *Container) Invoke(ctx context.Context, fn any, opts ...dig.InvokeOption) error {
	if c.closed.Load() {
		return ErrContainerClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d := dig.New()

	type exposure struct {
		name string
		t    reflect.Type
	}
	var exposures []exposure
	byType := make(map[reflect.Type]int)
	for _, name := range c.invokableNames() {
		if strings.ContainsRune(name, '`') {
			continue
		}
		for _, t := range c.invokeTypes(name) {
			if t == nil || t == errType {
				continue
			}
			exposures = append(exposures, exposure{name: name, t: t})
			byType[t]++
		}
	}

	for _, e := range exposures {
		provider := c.beanProvider(ctx, e.name, e.t)
		if err := d.Provide(provider, dig.Name(e.name)); err != nil {
			return fmt.Errorf("failed to expose bean %q as %v: %w", e.name, e.t, err)
		}
		if byType[e.t] == 1 {
			if err := d.Provide(c.beanProvider(ctx, e.name, e.t)); err != nil {
				return fmt.Errorf("failed to expose bean %q as %v: %w", e.name, e.t, err)
			}
		}
	}

	if byType[contextType] == 0 {
		if err := d.Provide(func() context.Context { return ctx }); err != nil {
			return err
		}
	}

	return d.Invoke(fn, opts...)
}

func (c *Container) invokableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.names)+len(c.manualSingletons))
	names = append(names, c.names...)
	return append(names, c.manualSingletons...)
}

// invokeTypes returns the types bean name is exposed as to Invoke.
func (c *Container) invokeTypes(name string) []reflect.Type {
	def, ok := c.definition(name)
	if !ok {
		t, _ := c.GetType(name)
		return []reflect.Type{t}
	}

	if c.isFactoryBean(name) {
		t, _ := c.GetType(name)
		return []reflect.Type{t}
	}

	types := []reflect.Type{def.BeanType()}
	for _, as := range def.As {
		if as != def.BeanType() {
			types = append(types, as)
		}
	}
	return types
}

// beanProvider returns a dig constructor of type func() (t, error) that
// looks up bean name.
func (c *Container) beanProvider(ctx context.Context, name string, t reflect.Type) any {
	fnType := reflect.FuncOf(nil, []reflect.Type{t, errType}, false)
	fn := reflect.MakeFunc(fnType, func([]reflect.Value) []reflect.Value {
		obj, err := c.GetBean(ctx, name)
		if err == nil {
			obj, err = c.adapt(name, obj, t)
		}
		if err != nil {
			return []reflect.Value{reflect.Zero(t), reflect.ValueOf(&err).Elem()}
		}
		return []reflect.Value{reflect.ValueOf(obj).Convert(t), reflect.Zero(errType)}
	})
	return fn.Interface()
}
