package weave

import (
	"context"
	"fmt"
	"reflect"
)

// Resolve is a generic helper function that resolves the bean name as type T.
// Proxies are presented as T through their typed view.
func Resolve[T any](ctx context.Context, f BeanFactory, name string) (T, error) {
	var zero T

	instance, err := f.GetBean(ctx, name)
	if err != nil {
		return zero, err
	}

	result, ok := viewAs[T](instance)
	if !ok {
		return zero, TypeMismatchError{Name: name, Expected: reflect.TypeFor[T](), Actual: reflect.TypeOf(instance)}
	}

	return result, nil
}

// ResolveOfType is a generic helper function that resolves the unique bean of type T.
func ResolveOfType[T any](ctx context.Context, f BeanFactory) (T, error) {
	var zero T

	serviceType := reflect.TypeFor[T]()

	instance, err := f.GetBeanOfType(ctx, serviceType)
	if err != nil {
		return zero, err
	}

	result, ok := viewAs[T](instance)
	if !ok {
		return zero, TypeMismatchError{Expected: serviceType, Actual: reflect.TypeOf(instance)}
	}

	return result, nil
}

// ResolveAll resolves every bean of type T in registration order.
func ResolveAll[T any](ctx context.Context, f BeanFactory) ([]T, error) {
	serviceType := reflect.TypeFor[T]()

	names, err := f.GetBeanNamesForType(ctx, serviceType, true, true)
	if err != nil {
		return nil, err
	}

	results := make([]T, 0, len(names))
	for _, name := range names {
		result, err := Resolve[T](ctx, f, name)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, nil
}

// MustResolve resolves a bean and panics on error.
func MustResolve[T any](ctx context.Context, f BeanFactory, name string) T {
	result, err := Resolve[T](ctx, f, name)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve %q as %v: %v", name, reflect.TypeFor[T](), err))
	}
	return result
}

// MustResolveOfType resolves the unique bean of type T and panics on error.
func MustResolveOfType[T any](ctx context.Context, f BeanFactory) T {
	result, err := ResolveOfType[T](ctx, f)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve %v: %v", reflect.TypeFor[T](), err))
	}
	return result
}
