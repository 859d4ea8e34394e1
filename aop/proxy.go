package aop

import (
	"context"
	"fmt"
	"reflect"
	"slices"
)

// Proxy is an object standing in for a target, running the matching advice
// chain around every call made through Invoke.
type Proxy interface {
	Invoker

	// ViewAs returns the proxy presented as type t: the proxy itself when it
	// implements t, else the typed view registered for an exposed interface t.
	ViewAs(t reflect.Type) (any, bool)

	// TargetType returns the type of the proxied targets, nil if unknown.
	TargetType() reflect.Type

	// ProxiedInterfaces returns the interfaces the proxy exposes.
	ProxiedInterfaces() []reflect.Type
}

type advisedProxy interface {
	advisedSupport() *AdvisedSupport
}

// AdvisedOf returns the configuration behind a proxy, or false when obj is
// no proxy or the proxy is opaque.
func AdvisedOf(obj any) (*AdvisedSupport, bool) {
	p, ok := UnwrapProxy(obj)
	if !ok {
		return nil, false
	}
	ap, ok := p.(advisedProxy)
	if !ok {
		return nil, false
	}
	advised := ap.advisedSupport()
	if advised.Opaque {
		return nil, false
	}
	return advised, true
}

type currentProxyKey struct{}

// CurrentProxy returns the proxy whose call carries ctx. It is only
// available inside calls on proxies with ExposeProxy set that take a
// context as first argument.
func CurrentProxy(ctx context.Context) (any, error) {
	if ctx != nil {
		if p := ctx.Value(currentProxyKey{}); p != nil {
			return p, nil
		}
	}
	return nil, ProxyStateError{Cause: ErrNoCurrentProxy}
}

// dispatcher holds the invocation logic both proxy strategies share.
type dispatcher struct {
	advised *AdvisedSupport
}

func (d dispatcher) dispatch(self Proxy, m Method, args []any) (results []any, err error) {
	if d.advised.ExposeProxy && len(args) > 0 {
		if ctx, ok := args[0].(context.Context); ok && ctx != nil {
			args = slices.Clone(args)
			args[0] = context.WithValue(ctx, currentProxyKey{}, self)
		}
	}

	ts := d.advised.TargetSource()
	target, err := ts.GetTarget(contextOf(args))
	if err != nil {
		return nil, err
	}
	if !ts.IsStatic() {
		defer func() {
			if releaseErr := ts.ReleaseTarget(target); releaseErr != nil && err == nil {
				err = releaseErr
			}
		}()
	}

	targetType := ts.TargetType()
	if targetType == nil && target != nil {
		targetType = reflect.TypeOf(target)
	}

	chain, err := d.advised.InterceptorChain(m, targetType)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return invokeMethod(target, m, args)
	}
	return NewMethodInvocation(self, target, m, args, chain).Proceed()
}

func (d dispatcher) interfaceMethod(name string) (Method, bool) {
	for _, it := range d.advised.Interfaces() {
		if m, ok := it.MethodByName(name); ok {
			return methodOf(it, m), true
		}
	}
	return Method{}, false
}

func (d dispatcher) view(self Proxy, t reflect.Type, exposed bool) (any, bool) {
	if reflect.TypeOf(self).AssignableTo(t) {
		return self, true
	}
	if t.Kind() != reflect.Interface || !exposed {
		return nil, false
	}
	factory, ok := stubFactory(t)
	if !ok {
		return nil, false
	}
	return factory(Stub{proxy: self}), true
}

// InterfaceProxy exposes only the proxied interfaces of its configuration.
type InterfaceProxy struct {
	dispatcher
}

func newInterfaceProxy(advised *AdvisedSupport) *InterfaceProxy {
	return &InterfaceProxy{dispatcher{advised: advised}}
}

// Invoke calls method, which must belong to one of the proxied interfaces.
func (p *InterfaceProxy) Invoke(method string, args ...any) ([]any, error) {
	m, ok := p.interfaceMethod(method)
	if !ok {
		return nil, AopInvocationError{Method: method, Cause: ErrMethodNotExposed}
	}
	return p.dispatch(p, m, args)
}

func (p *InterfaceProxy) ViewAs(t reflect.Type) (any, bool) {
	return p.view(p, t, t != nil && p.advised.IsInterfaceProxied(t))
}

func (p *InterfaceProxy) TargetType() reflect.Type { return p.advised.TargetSource().TargetType() }

func (p *InterfaceProxy) ProxiedInterfaces() []reflect.Type { return p.advised.Interfaces() }

func (p *InterfaceProxy) advisedSupport() *AdvisedSupport { return p.advised }

func (p *InterfaceProxy) String() string {
	return fmt.Sprintf("InterfaceProxy%v for [%v]", p.advised.Interfaces(), p.TargetType())
}

// SubclassProxy proxies every exported method of the target type in
// addition to the proxied interfaces.
type SubclassProxy struct {
	dispatcher
}

func newSubclassProxy(advised *AdvisedSupport) *SubclassProxy {
	return &SubclassProxy{dispatcher{advised: advised}}
}

// Invoke calls method on the target type, falling back to introduced and
// proxied interfaces.
func (p *SubclassProxy) Invoke(method string, args ...any) ([]any, error) {
	if m, ok := LookupMethod(p.TargetType(), method); ok {
		return p.dispatch(p, m, args)
	}
	if m, ok := p.interfaceMethod(method); ok {
		return p.dispatch(p, m, args)
	}
	return nil, AopInvocationError{Method: method, Cause: ErrMethodNotExposed}
}

func (p *SubclassProxy) ViewAs(t reflect.Type) (any, bool) {
	if t == nil {
		return nil, false
	}
	tt := p.TargetType()
	exposed := p.advised.IsInterfaceProxied(t) || (tt != nil && t.Kind() == reflect.Interface && tt.Implements(t))
	return p.view(p, t, exposed)
}

func (p *SubclassProxy) TargetType() reflect.Type { return p.advised.TargetSource().TargetType() }

// ProxiedInterfaces returns the configured interfaces plus the known
// interfaces the target type implements.
func (p *SubclassProxy) ProxiedInterfaces() []reflect.Type {
	out := p.advised.Interfaces()
	for _, it := range InterfacesOf(p.TargetType()) {
		if !slices.Contains(out, it) {
			out = append(out, it)
		}
	}
	return out
}

func (p *SubclassProxy) advisedSupport() *AdvisedSupport { return p.advised }

func (p *SubclassProxy) String() string {
	return fmt.Sprintf("SubclassProxy for [%v]", p.TargetType())
}
