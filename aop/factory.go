package aop

import (
	"reflect"
)

// AopProxyFactory creates proxies for a configuration.
type AopProxyFactory interface {
	CreateAopProxy(advised *AdvisedSupport) (Proxy, error)
}

// DefaultAopProxyFactory creates a SubclassProxy when the configuration
// asks for target class proxying or optimization, or has no interfaces to
// proxy. Otherwise, or when the target type is itself an interface, it
// creates an InterfaceProxy.
type DefaultAopProxyFactory struct{}

func (DefaultAopProxyFactory) CreateAopProxy(advised *AdvisedSupport) (Proxy, error) {
	if advised.Optimize || advised.ProxyTargetClass || len(advised.Interfaces()) == 0 {
		t := advised.TargetSource().TargetType()
		if t == nil {
			return nil, AopConfigError{Reason: "target source cannot determine target type: either an interface or a target is required for proxy creation"}
		}
		if t.Kind() == reflect.Interface {
			return newInterfaceProxy(advised), nil
		}
		return newSubclassProxy(advised), nil
	}
	return newInterfaceProxy(advised), nil
}

// ProxyFactory builds proxies programmatically.
type ProxyFactory struct {
	*AdvisedSupport
	aopProxyFactory AopProxyFactory
}

// NewProxyFactory returns a factory proxying target through every known
// interface it implements.
func NewProxyFactory(target any) *ProxyFactory {
	f := NewEmptyProxyFactory()
	f.SetTarget(target)
	for _, it := range InterfacesOf(reflect.TypeOf(target)) {
		_ = f.AddInterface(it)
	}
	return f
}

// NewInterfaceProxyFactory returns a factory proxying iface over the given
// target source.
func NewInterfaceProxyFactory(iface reflect.Type, ts TargetSource) (*ProxyFactory, error) {
	f := NewEmptyProxyFactory()
	if err := f.AddInterface(iface); err != nil {
		return nil, err
	}
	f.SetTargetSource(ts)
	return f, nil
}

// NewEmptyProxyFactory returns a factory without target, interfaces or
// advice.
func NewEmptyProxyFactory() *ProxyFactory {
	return &ProxyFactory{
		AdvisedSupport:  NewAdvisedSupport(),
		aopProxyFactory: DefaultAopProxyFactory{},
	}
}

// SetAopProxyFactory replaces the strategy choosing the proxy type.
func (f *ProxyFactory) SetAopProxyFactory(factory AopProxyFactory) {
	f.aopProxyFactory = factory
}

// GetProxy creates a proxy for the current configuration. Later changes to
// an unfrozen configuration affect the proxy.
func (f *ProxyFactory) GetProxy() (Proxy, error) {
	return f.aopProxyFactory.CreateAopProxy(f.AdvisedSupport)
}
