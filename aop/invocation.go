package aop

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/junioryono/weave/internal/reflection"
)

// InterceptorAndDynamicMethodMatcher is a chain element whose advisor has a
// runtime method matcher. The interceptor only runs when the matcher accepts
// the actual arguments; otherwise the invocation proceeds past it.
type InterceptorAndDynamicMethodMatcher struct {
	Interceptor   MethodInterceptor
	MethodMatcher MethodMatcher
	TargetType    reflect.Type
}

func (d *InterceptorAndDynamicMethodMatcher) Invoke(inv MethodInvocation) ([]any, error) {
	if d.MethodMatcher.MatchesArgs(inv.Method(), d.TargetType, inv.Arguments()) {
		return d.Interceptor.Invoke(inv)
	}
	return inv.Proceed()
}

// ReflectiveMethodInvocation walks an interceptor chain and finally calls
// the target method by reflection.
type ReflectiveMethodInvocation struct {
	proxy  any
	target any
	method Method
	args   []any
	chain  []MethodInterceptor
	index  int
}

// NewMethodInvocation returns an invocation of m on target through chain.
// proxy is what This reports.
func NewMethodInvocation(proxy, target any, m Method, args []any, chain []MethodInterceptor) *ReflectiveMethodInvocation {
	return &ReflectiveMethodInvocation{
		proxy:  proxy,
		target: target,
		method: m,
		args:   args,
		chain:  chain,
	}
}

func (i *ReflectiveMethodInvocation) Method() Method { return i.method }

func (i *ReflectiveMethodInvocation) Arguments() []any { return i.args }

func (i *ReflectiveMethodInvocation) This() any { return i.proxy }

func (i *ReflectiveMethodInvocation) Target() any { return i.target }

func (i *ReflectiveMethodInvocation) Context() context.Context { return contextOf(i.args) }

func (i *ReflectiveMethodInvocation) SetArguments(args ...any) {
	i.args = args
}

func (i *ReflectiveMethodInvocation) Proceed() ([]any, error) {
	if i.index == len(i.chain) {
		return invokeMethod(i.target, i.method, i.args)
	}

	next := i.chain[i.index]
	i.index++
	return next.Invoke(i)
}

func (i *ReflectiveMethodInvocation) Clone() MethodInvocation {
	clone := *i
	clone.args = slices.Clone(i.args)
	return &clone
}

func (i *ReflectiveMethodInvocation) String() string {
	return fmt.Sprintf("ReflectiveMethodInvocation: %s; target is of class [%T]", i.method, i.target)
}

// invokeMethod calls the method named m.Name on obj. Results exclude a
// trailing error, which is returned as is.
func invokeMethod(obj any, m Method, args []any) ([]any, error) {
	v := reflect.ValueOf(obj)
	if !v.IsValid() {
		return nil, AopInvocationError{Method: m.String(), Cause: errors.New("no target object")}
	}

	fn := v.MethodByName(m.Name)
	if !fn.IsValid() {
		return nil, AopInvocationError{Method: m.String(), Cause: fmt.Errorf("%T has no method %s", obj, m.Name)}
	}

	in, variadicSlice, err := callArguments(fn.Type(), args)
	if err != nil {
		return nil, AopInvocationError{Method: m.String(), Cause: err}
	}

	var out []reflect.Value
	if variadicSlice {
		out = fn.CallSlice(in)
	} else {
		out = fn.Call(in)
	}
	return splitResults(fn.Type(), out)
}

// callArguments converts args to the parameters of ft. It reports whether
// the final argument is the variadic slice itself.
func callArguments(ft reflect.Type, args []any) ([]reflect.Value, bool, error) {
	n := ft.NumIn()

	if ft.IsVariadic() {
		last := ft.In(n - 1)
		if len(args) == n && args[n-1] != nil && reflect.TypeOf(args[n-1]).AssignableTo(last) {
			in, err := convertArguments(ft, args, n)
			return in, true, err
		}
		if len(args) < n-1 {
			return nil, false, fmt.Errorf("expected at least %d arguments, got %d", n-1, len(args))
		}
		in, err := convertArguments(ft, args[:n-1], n-1)
		if err != nil {
			return nil, false, err
		}
		for j, arg := range args[n-1:] {
			v, err := reflection.Assignable(arg, last.Elem())
			if err != nil {
				return nil, false, fmt.Errorf("argument %d: %w", n-1+j, err)
			}
			in = append(in, v)
		}
		return in, false, nil
	}

	if len(args) != n {
		return nil, false, fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	in, err := convertArguments(ft, args, n)
	return in, false, err
}

func convertArguments(ft reflect.Type, args []any, n int) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, n)
	for j := 0; j < n; j++ {
		v, err := reflection.Assignable(args[j], ft.In(j))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", j, err)
		}
		in = append(in, v)
	}
	return in, nil
}

func splitResults(ft reflect.Type, out []reflect.Value) ([]any, error) {
	var err error
	if n := ft.NumOut(); n > 0 && ft.Out(n-1) == errorType {
		if e := out[n-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
		out = out[:n-1]
	}

	results := make([]any, len(out))
	for j, v := range out {
		results[j] = v.Interface()
	}
	return results, err
}
