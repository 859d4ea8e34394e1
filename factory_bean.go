package weave

import (
	"context"
	"reflect"
	"strings"
)

// FactoryBeanPrefix dereferences a factory bean: GetBean("&name") returns the
// factory itself instead of the object it produces.
const FactoryBeanPrefix = "&"

// ObjectTypeAttribute is the definition attribute declaring the product type
// of a factory bean, so type lookups need not instantiate the factory.
const ObjectTypeAttribute = "factoryBeanObjectType"

// FactoryBean is implemented by beans that are themselves factories for the
// object exposed under their name.
//
//	type ConnFactory struct{ DSN string }
//
//	func (f *ConnFactory) GetObject(ctx context.Context) (any, error) { return Dial(ctx, f.DSN) }
//	func (f *ConnFactory) ObjectType() reflect.Type                 { return reflect.TypeFor[*Conn]() }
//	func (f *ConnFactory) IsSingleton() bool                         { return true }
type FactoryBean interface {
	// GetObject returns the product. Products of singleton factories are
	// cached after their first creation.
	GetObject(ctx context.Context) (any, error)

	// ObjectType returns the type of the product, or nil if not known in advance.
	ObjectType() reflect.Type

	// IsSingleton reports whether GetObject always returns the same object.
	IsSingleton() bool
}

// SmartFactoryBean refines FactoryBean.
type SmartFactoryBean interface {
	FactoryBean

	// IsPrototype reports whether every GetObject call returns an independent
	// instance.
	IsPrototype() bool

	// IsEagerInit reports whether PreInstantiateSingletons creates the product
	// together with the factory.
	IsEagerInit() bool
}

var factoryBeanType = reflect.TypeOf((*FactoryBean)(nil)).Elem()

// IsFactoryDereference reports whether name refers to a factory bean itself.
func IsFactoryDereference(name string) bool {
	return strings.HasPrefix(name, FactoryBeanPrefix)
}

// TransformedBeanName strips any factory dereference prefix from name.
func TransformedBeanName(name string) string {
	for strings.HasPrefix(name, FactoryBeanPrefix) {
		name = name[len(FactoryBeanPrefix):]
	}
	return name
}

func isFactoryBeanType(t reflect.Type) bool {
	return t != nil && t.Implements(factoryBeanType)
}
