// Package aop implements advisors, pointcuts and the proxies that run advice
// chains around calls to managed objects.
//
// A proxy exposes its target through Invoke, which walks the interceptor chain
// matched for the called method before dispatching to the target:
//
//	pf := aop.NewProxyFactory(target)
//	pf.AddAdvice(aop.MethodInterceptorFunc(func(inv aop.MethodInvocation) ([]any, error) {
//	    log.Println("calling", inv.Method().Name)
//	    return inv.Proceed()
//	}))
//	proxy, err := pf.GetProxy()
//	results, err := proxy.Invoke("Place", ctx, order)
//
// Typed views of a proxy come from stubs registered with RegisterStub.
package aop

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Advice is behavior applied at a join point. Concrete advice implements
// MethodInterceptor or one of the adapter interfaces (MethodBeforeAdvice,
// AfterReturningAdvice, ThrowsAdvice).
type Advice any

// Method identifies a method of a proxied type.
type Method struct {
	Name string

	// Owner is the interface declaring the method, or the user type when
	// the method is called on a class-based proxy.
	Owner reflect.Type

	// Func is the method signature without receiver.
	Func reflect.Type
}

// String returns Owner.Name, e.g. "orders.Service.Place".
func (m Method) String() string {
	if m.Owner == nil {
		return m.Name
	}
	return typeName(m.Owner) + "." + m.Name
}

// JoinPoint describes one method invocation on an advised object.
type JoinPoint interface {
	Method() Method
	Arguments() []any

	// This returns the proxy the call was made on.
	This() any

	// Target returns the object the call is dispatched to.
	Target() any

	// Context returns the call's context: the first argument when it is a
	// context.Context, context.Background otherwise.
	Context() context.Context
}

// MethodInvocation is a join point that can proceed to the next interceptor.
type MethodInvocation interface {
	JoinPoint

	// Proceed invokes the next interceptor in the chain, or the target.
	Proceed() ([]any, error)

	// SetArguments replaces the arguments passed on by Proceed.
	SetArguments(args ...any)

	// Clone returns an invocation positioned at the same link of the chain
	// that can proceed independently. Interceptors that proceed more than
	// once, such as retry, proceed on clones.
	Clone() MethodInvocation
}

// MethodInterceptor intercepts calls on their way to the target.
type MethodInterceptor interface {
	Invoke(inv MethodInvocation) ([]any, error)
}

// MethodInterceptorFunc adapts a function to MethodInterceptor.
type MethodInterceptorFunc func(inv MethodInvocation) ([]any, error)

func (f MethodInterceptorFunc) Invoke(inv MethodInvocation) ([]any, error) {
	return f(inv)
}

// MethodBeforeAdvice runs before the target method. A non-nil error aborts
// the call and is returned to the caller.
type MethodBeforeAdvice interface {
	Before(m Method, args []any, target any) error
}

// AfterReturningAdvice runs after the target method returned without error.
// A non-nil error replaces the call's result.
type AfterReturningAdvice interface {
	AfterReturning(results []any, m Method, args []any, target any) error
}

// ThrowsAdvice runs when the target method returns an error. The original
// error propagates unless the advice returns a different one.
type ThrowsAdvice interface {
	AfterThrowing(m Method, args []any, target any, err error) error
}

// InfrastructureBean marks objects that are part of the AOP machinery and
// must never be proxied themselves.
type InfrastructureBean interface {
	IsAopInfrastructure() bool
}

// Ordered is implemented by advisors and aspects with a precedence.
// Lower values come first.
type Ordered interface {
	Order() int
}

const (
	// HighestPrecedence sorts before every other order.
	HighestPrecedence = -1 << 31

	// LowestPrecedence sorts after every other order.
	LowestPrecedence = 1<<31 - 1
)

// OrderOf returns obj's order, LowestPrecedence when it has none.
func OrderOf(obj any) int {
	if o, ok := obj.(Ordered); ok {
		return o.Order()
	}
	return LowestPrecedence
}

var (
	methodInterceptorType    = reflect.TypeOf((*MethodInterceptor)(nil)).Elem()
	beforeAdviceType         = reflect.TypeOf((*MethodBeforeAdvice)(nil)).Elem()
	afterReturningAdviceType = reflect.TypeOf((*AfterReturningAdvice)(nil)).Elem()
	throwsAdviceType         = reflect.TypeOf((*ThrowsAdvice)(nil)).Elem()
	advisorType              = reflect.TypeOf((*Advisor)(nil)).Elem()
	pointcutType             = reflect.TypeOf((*Pointcut)(nil)).Elem()
	infrastructureType       = reflect.TypeOf((*InfrastructureBean)(nil)).Elem()
	contextType              = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType                = reflect.TypeOf((*error)(nil)).Elem()
)

// IsInfrastructureType reports whether t is an advice, pointcut, advisor or
// infrastructure type. Such beans are never auto-proxied.
func IsInfrastructureType(t reflect.Type) bool {
	if t == nil {
		return false
	}
	for _, it := range []reflect.Type{
		methodInterceptorType, beforeAdviceType, afterReturningAdviceType, throwsAdviceType,
		advisorType, pointcutType, infrastructureType,
	} {
		if t.Implements(it) {
			return true
		}
	}
	return false
}

// typeName returns "pkg.Name" for named types, stripping pointers.
func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	pkg := t.PkgPath()
	if i := strings.LastIndex(pkg, "/"); i >= 0 {
		pkg = pkg[i+1:]
	}
	if pkg == "" {
		return t.Name()
	}
	return pkg + "." + t.Name()
}

// qualifiedName returns "import/path.Name" for named types, stripping pointers.
func qualifiedName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

func contextOf(args []any) context.Context {
	if len(args) > 0 {
		if ctx, ok := args[0].(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

func describe(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v)
}
