package aop

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// Invoker dispatches a call by method name.
type Invoker interface {
	Invoke(method string, args ...any) ([]any, error)
}

// Stub is embedded by typed views of a proxy. Each method of the view
// forwards to the proxy through one of the Call helpers:
//
//	type orderServiceStub struct{ aop.Stub }
//
//	func (s orderServiceStub) Place(ctx context.Context, o Order) (string, error) {
//	    return aop.Call1[string](s.Stub, "Place", ctx, o)
//	}
//
//	func init() {
//	    aop.RegisterStub(func(s aop.Stub) OrderService { return orderServiceStub{s} })
//	}
type Stub struct {
	proxy Proxy
}

// Invoke forwards the call to the proxy.
func (s Stub) Invoke(method string, args ...any) ([]any, error) {
	if s.proxy == nil {
		return nil, AopInvocationError{Method: method, Cause: fmt.Errorf("stub is not bound to a proxy")}
	}
	return s.proxy.Invoke(method, args...)
}

func (s Stub) stubProxy() Proxy {
	return s.proxy
}

type stubbed interface {
	stubProxy() Proxy
}

// Call0 invokes a method returning only an error.
func Call0(s Stub, method string, args ...any) error {
	_, err := s.Invoke(method, args...)
	return err
}

// Call1 invokes a method returning one value and an error.
func Call1[R any](s Stub, method string, args ...any) (R, error) {
	var r R
	results, err := s.Invoke(method, args...)
	if err != nil {
		return r, err
	}
	if err := result(results, 0, &r); err != nil {
		return r, AopInvocationError{Method: method, Cause: err}
	}
	return r, nil
}

// Call2 invokes a method returning two values and an error.
func Call2[R1, R2 any](s Stub, method string, args ...any) (R1, R2, error) {
	var (
		r1 R1
		r2 R2
	)
	results, err := s.Invoke(method, args...)
	if err != nil {
		return r1, r2, err
	}
	if err := result(results, 0, &r1); err != nil {
		return r1, r2, AopInvocationError{Method: method, Cause: err}
	}
	if err := result(results, 1, &r2); err != nil {
		return r1, r2, AopInvocationError{Method: method, Cause: err}
	}
	return r1, r2, nil
}

// Must1 invokes a method returning one value without an error. An error
// from the chain panics, as the method signature leaves no way to return it.
func Must1[R any](s Stub, method string, args ...any) R {
	r, err := Call1[R](s, method, args...)
	if err != nil {
		panic(err)
	}
	return r
}

// Must0 invokes a method returning nothing, panicking on a chain error.
func Must0(s Stub, method string, args ...any) {
	if err := Call0(s, method, args...); err != nil {
		panic(err)
	}
}

func result[R any](results []any, i int, r *R) error {
	if i >= len(results) {
		return fmt.Errorf("expected at least %d results, got %d", i+1, len(results))
	}
	if results[i] == nil {
		return nil
	}
	v, ok := results[i].(R)
	if !ok {
		return fmt.Errorf("result %d is %T, not %v", i, results[i], reflect.TypeOf(r).Elem())
	}
	*r = v
	return nil
}

var stubs = struct {
	sync.RWMutex
	factories  map[reflect.Type]func(Stub) any
	interfaces []reflect.Type
}{factories: make(map[reflect.Type]func(Stub) any)}

// RegisterStub registers the typed view factory for interface I. Proxies
// exposing I can then be viewed through As and injected where I is wanted.
// Registering also makes I a known interface for pointcut matching.
func RegisterStub[I any](factory func(Stub) I) {
	t := reflect.TypeOf((*I)(nil)).Elem()
	if t.Kind() != reflect.Interface {
		panic(fmt.Sprintf("aop: RegisterStub requires an interface type, got %v", t))
	}

	stubs.Lock()
	defer stubs.Unlock()
	stubs.factories[t] = func(s Stub) any { return factory(s) }
	if !slices.Contains(stubs.interfaces, t) {
		stubs.interfaces = append(stubs.interfaces, t)
	}
}

// RegisterInterface makes interface types known for pointcut matching and
// proxy interface evaluation without providing a typed view.
func RegisterInterface(types ...reflect.Type) {
	stubs.Lock()
	defer stubs.Unlock()
	for _, t := range types {
		if t != nil && t.Kind() == reflect.Interface && !slices.Contains(stubs.interfaces, t) {
			stubs.interfaces = append(stubs.interfaces, t)
		}
	}
}

// KnownInterfaces returns every registered interface in registration order.
func KnownInterfaces() []reflect.Type {
	stubs.RLock()
	defer stubs.RUnlock()
	return slices.Clone(stubs.interfaces)
}

// InterfacesOf returns the known interfaces t implements.
func InterfacesOf(t reflect.Type) []reflect.Type {
	if t == nil {
		return nil
	}
	var out []reflect.Type
	for _, it := range KnownInterfaces() {
		if t != it && t.Implements(it) {
			out = append(out, it)
		}
	}
	return out
}

func stubFactory(t reflect.Type) (func(Stub) any, bool) {
	stubs.RLock()
	defer stubs.RUnlock()
	f, ok := stubs.factories[t]
	return f, ok
}

// As returns obj viewed as I. obj may implement I directly, be a Proxy
// exposing I, or be a typed view of such a proxy.
func As[I any](obj any) (I, bool) {
	var zero I
	v, ok := View(obj, reflect.TypeOf((*I)(nil)).Elem())
	if !ok {
		return zero, false
	}
	return v.(I), true
}

// View returns obj presented as type t, going through the proxy behind obj
// when obj does not implement t itself.
func View(obj any, t reflect.Type) (any, bool) {
	if obj == nil || t == nil {
		return nil, false
	}
	if reflect.TypeOf(obj).AssignableTo(t) {
		return obj, true
	}

	p, ok := UnwrapProxy(obj)
	if !ok {
		return nil, false
	}
	return p.ViewAs(t)
}

// UnwrapProxy returns the proxy behind obj: obj itself or the proxy a typed
// view forwards to.
func UnwrapProxy(obj any) (Proxy, bool) {
	switch v := obj.(type) {
	case Proxy:
		return v, true
	case stubbed:
		p := v.stubProxy()
		return p, p != nil
	}
	return nil, false
}

// IsProxy reports whether obj is a proxy or a typed view of one.
func IsProxy(obj any) bool {
	_, ok := UnwrapProxy(obj)
	return ok
}

// UserType returns the user-defined type behind obj, looking through
// proxies to their target type.
func UserType(obj any) reflect.Type {
	if p, ok := UnwrapProxy(obj); ok {
		if t := p.TargetType(); t != nil {
			return t
		}
	}
	return reflect.TypeOf(obj)
}

// MethodsOf returns the candidate methods of t: its own methods plus the
// methods of every known interface it implements, each owned by the
// interface declaring it. Interface types contribute their own methods.
func MethodsOf(t reflect.Type) []Method {
	if t == nil {
		return nil
	}

	var methods []Method
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() {
			continue
		}
		methods = append(methods, methodOf(t, m))
	}
	for _, it := range InterfacesOf(t) {
		for i := 0; i < it.NumMethod(); i++ {
			methods = append(methods, methodOf(it, it.Method(i)))
		}
	}
	return methods
}

func methodOf(owner reflect.Type, m reflect.Method) Method {
	fn := m.Type
	if owner.Kind() != reflect.Interface {
		fn = withoutReceiver(fn)
	}
	return Method{Name: m.Name, Owner: owner, Func: fn}
}

func withoutReceiver(fn reflect.Type) reflect.Type {
	in := make([]reflect.Type, 0, fn.NumIn()-1)
	for i := 1; i < fn.NumIn(); i++ {
		in = append(in, fn.In(i))
	}
	out := make([]reflect.Type, 0, fn.NumOut())
	for i := 0; i < fn.NumOut(); i++ {
		out = append(out, fn.Out(i))
	}
	return reflect.FuncOf(in, out, fn.IsVariadic())
}

// LookupMethod finds the exported method name on t.
func LookupMethod(t reflect.Type, name string) (Method, bool) {
	if t == nil {
		return Method{}, false
	}
	m, ok := t.MethodByName(name)
	if !ok || !m.IsExported() {
		return Method{}, false
	}
	return methodOf(t, m), true
}
