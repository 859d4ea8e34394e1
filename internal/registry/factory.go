package registry

import (
	"context"
	"reflect"
)

// Producer creates the object exposed under a factory bean's name.
type Producer interface {
	GetObject(ctx context.Context) (any, error)
	IsSingleton() bool
}

// CachedProduct returns the cached product of the factory bean name.
func (r *Registry) CachedProduct(name string) (any, bool) {
	return r.products.Load(name)
}

// ProductFromFactory obtains the object exposed by producer under name.
//
// Singleton products of a registered factory bean are created under the
// creation lock and cached. postProcess, when non-nil, runs once per created
// product. If name is in creation while its product is post-processed, the raw
// product is returned without caching so a half-initialized object never
// becomes the shared instance.
func (r *Registry) ProductFromFactory(ctx context.Context, name string, producer Producer, postProcess func(any) (any, error)) (any, error) {
	if !producer.IsSingleton() || !r.ContainsSingleton(name) {
		obj, err := r.produce(ctx, name, producer)
		if err != nil {
			return nil, err
		}
		if postProcess != nil {
			return postProcess(obj)
		}
		return obj, nil
	}

	if obj, ok := r.products.Load(name); ok {
		return obj, nil
	}

	ctx, chain := WithChain(ctx)
	if err := r.lock.acquire(ctx, chain); err != nil {
		return nil, err
	}
	defer r.lock.release()

	if obj, ok := r.products.Load(name); ok {
		return obj, nil
	}

	obj, err := r.produce(ctx, name, producer)
	if err != nil {
		return nil, err
	}

	// The producer may have reentered and cached a product already.
	if already, ok := r.products.Load(name); ok {
		return already, nil
	}

	if postProcess != nil {
		r.mu.Lock()
		_, inCreation := r.inCreation[name]
		if !inCreation {
			r.inCreation[name] = struct{}{}
		}
		r.mu.Unlock()

		if inCreation {
			return obj, nil
		}

		obj, err = postProcess(obj)

		r.mu.Lock()
		delete(r.inCreation, name)
		r.mu.Unlock()

		if err != nil {
			return nil, err
		}
	}

	if r.ContainsSingleton(name) {
		r.products.Store(name, obj)
	}
	return obj, nil
}

func (r *Registry) produce(ctx context.Context, name string, producer Producer) (any, error) {
	obj, err := producer.GetObject(ctx)
	if err != nil {
		return nil, err
	}
	if isNil(obj) {
		if r.IsCurrentlyInCreation(name) {
			return nil, &InCreationError{Name: name}
		}
		return nil, ErrNilProduct
	}
	return obj, nil
}

func isNil(obj any) bool {
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
