package aop_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junioryono/weave/aop"
)

func TestProxyFactory_InterfaceProxy(t *testing.T) {
	var log []string
	pf := aop.NewProxyFactory(&greeter{prefix: "hello "})
	require.NoError(t, pf.AddAdvice(&recorder{name: "rec", log: &log}))

	assert.Contains(t, pf.Interfaces(), greeterType)
	assert.NotContains(t, pf.Interfaces(), auditableType)

	proxy, err := pf.GetProxy()
	require.NoError(t, err)
	assert.IsType(t, &aop.InterfaceProxy{}, proxy)
	assert.True(t, aop.IsProxy(proxy))

	results, err := proxy.Invoke("Greet", context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []any{"hello bob"}, results)
	assert.Equal(t, []string{"before rec", "after rec"}, log)

	g, ok := aop.As[Greeter](proxy)
	require.True(t, ok)
	out, err := g.Greet(context.Background(), "ann")
	require.NoError(t, err)
	assert.Equal(t, "hello ann", out)
	assert.Len(t, log, 4)

	back, ok := aop.UnwrapProxy(g)
	require.True(t, ok)
	assert.Same(t, proxy, back)
	assert.Equal(t, reflect.TypeOf(&greeter{}), aop.UserType(g))
}

func TestProxy_TargetErrorsPassThrough(t *testing.T) {
	pf := aop.NewProxyFactory(&greeter{})
	require.NoError(t, pf.AddAdvice(aop.MethodInterceptorFunc(func(inv aop.MethodInvocation) ([]any, error) {
		return inv.Proceed()
	})))

	proxy, err := pf.GetProxy()
	require.NoError(t, err)

	_, err = proxy.Invoke("Greet", context.Background(), "")
	assert.Equal(t, errEmptyName, err)

	var invErr aop.AopInvocationError
	assert.False(t, errors.As(err, &invErr))
}

func TestProxy_ReflectionFailures(t *testing.T) {
	pf := aop.NewProxyFactory(&greeter{})
	proxy, err := pf.GetProxy()
	require.NoError(t, err)

	t.Run("method not exposed", func(t *testing.T) {
		_, err := proxy.Invoke("Echo", 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, aop.ErrMethodNotExposed)

		var invErr aop.AopInvocationError
		require.ErrorAs(t, err, &invErr)
		assert.Equal(t, "Echo", invErr.Method)
	})

	t.Run("wrong argument count", func(t *testing.T) {
		_, err := proxy.Invoke("Greet", context.Background())
		var invErr aop.AopInvocationError
		assert.ErrorAs(t, err, &invErr)
	})

	t.Run("wrong argument type", func(t *testing.T) {
		_, err := proxy.Invoke("Greet", context.Background(), 42)
		var invErr aop.AopInvocationError
		assert.ErrorAs(t, err, &invErr)
	})
}

func TestProxy_SubclassProxy(t *testing.T) {
	pf := aop.NewProxyFactory(&greeter{prefix: "hi "})
	pf.ProxyTargetClass = true

	proxy, err := pf.GetProxy()
	require.NoError(t, err)
	assert.IsType(t, &aop.SubclassProxy{}, proxy)

	results, err := proxy.Invoke("Echo", "x")
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, results)

	results, err = proxy.Invoke("Echo", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{nil}, results)

	results, err = proxy.Invoke("Sum", 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []any{6}, results)

	results, err = proxy.Invoke("Sum", []int{4, 5})
	require.NoError(t, err)
	assert.Equal(t, []any{9}, results)

	g, ok := aop.As[Greeter](proxy)
	require.True(t, ok)
	out, err := g.Greet(context.Background(), "sam")
	require.NoError(t, err)
	assert.Equal(t, "hi sam", out)

	_, ok = aop.As[Auditable](proxy)
	assert.False(t, ok)
}

func TestProxy_AdviceOrder(t *testing.T) {
	var log []string
	advisors := []aop.Advisor{
		aop.NewPointcutAdvisor(nil, &recorder{name: "c", order: 30, log: &log}),
		aop.NewPointcutAdvisor(nil, &recorder{name: "a", order: 10, log: &log}),
		aop.NewPointcutAdvisor(nil, &recorder{name: "b", order: 20, log: &log}),
	}
	aop.SortAdvisors(advisors)

	pf := aop.NewProxyFactory(&greeter{})
	require.NoError(t, pf.AddAdvisors(advisors...))
	proxy, err := pf.GetProxy()
	require.NoError(t, err)

	_, err = proxy.Invoke("Greet", context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"before a", "before b", "before c",
		"after c", "after b", "after a",
	}, log)
}

type countingBefore struct{ calls int }

func (b *countingBefore) Before(m aop.Method, args []any, target any) error {
	b.calls++
	if args[1] == "blocked" {
		return errors.New("blocked by advice")
	}
	return nil
}

type capturingAfter struct{ results []any }

func (a *capturingAfter) AfterReturning(results []any, m aop.Method, args []any, target any) error {
	a.results = results
	return nil
}

type throwsCounter struct {
	seen    error
	replace error
}

func (a *throwsCounter) AfterThrowing(m aop.Method, args []any, target any, err error) error {
	a.seen = err
	return a.replace
}

func TestProxy_AdviceAdapters(t *testing.T) {
	before := &countingBefore{}
	after := &capturingAfter{}
	throws := &throwsCounter{}

	pf := aop.NewProxyFactory(&greeter{prefix: "> "})
	require.NoError(t, pf.AddAdvice(before))
	require.NoError(t, pf.AddAdvice(after))
	require.NoError(t, pf.AddAdvice(throws))

	proxy, err := pf.GetProxy()
	require.NoError(t, err)

	_, err = proxy.Invoke("Greet", context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, 1, before.calls)
	assert.Equal(t, []any{"> ok"}, after.results)
	assert.Nil(t, throws.seen)

	_, err = proxy.Invoke("Greet", context.Background(), "blocked")
	assert.EqualError(t, err, "blocked by advice")

	_, err = proxy.Invoke("Greet", context.Background(), "")
	assert.Equal(t, errEmptyName, err)
	assert.Equal(t, errEmptyName, throws.seen)

	replacement := errors.New("replaced")
	throws.replace = replacement
	_, err = proxy.Invoke("Greet", context.Background(), "")
	assert.Equal(t, replacement, err)
}

func TestAdvisorAdapterRegistry_UnknownAdvice(t *testing.T) {
	pf := aop.NewProxyFactory(&greeter{})
	err := pf.AddAdvice("not advice")

	var unknown aop.UnknownAdviceTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "not advice", unknown.Advice)
}

func TestProxy_RuntimeMatcher(t *testing.T) {
	calls := 0
	pc, err := aop.ParseExpression("execution(* *.Echo(..)) && args(int)", nil)
	require.NoError(t, err)
	assert.True(t, pc.IsRuntime())

	pf := aop.NewProxyFactory(&greeter{})
	pf.ProxyTargetClass = true
	require.NoError(t, pf.AddAdvisor(aop.NewPointcutAdvisor(pc, aop.MethodInterceptorFunc(func(inv aop.MethodInvocation) ([]any, error) {
		calls++
		return inv.Proceed()
	}))))

	proxy, err := pf.GetProxy()
	require.NoError(t, err)

	_, err = proxy.Invoke("Echo", 42)
	require.NoError(t, err)
	_, err = proxy.Invoke("Echo", "text")
	require.NoError(t, err)
	_, err = proxy.Invoke("Greet", context.Background(), "x")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestProxy_SetArgumentsAndClone(t *testing.T) {
	target := &greeter{prefix: "-"}
	pf := aop.NewProxyFactory(target)
	require.NoError(t, pf.AddAdvice(aop.MethodInterceptorFunc(func(inv aop.MethodInvocation) ([]any, error) {
		inv.SetArguments(inv.Arguments()[0], "changed")
		if _, err := inv.Clone().Proceed(); err != nil {
			return nil, err
		}
		return inv.Clone().Proceed()
	})))

	proxy, err := pf.GetProxy()
	require.NoError(t, err)

	results, err := proxy.Invoke("Greet", context.Background(), "original")
	require.NoError(t, err)
	assert.Equal(t, []any{"-changed"}, results)
	assert.EqualValues(t, 2, target.calls.Load())
}

func TestProxy_ExposeProxy(t *testing.T) {
	pf := aop.NewProxyFactory(&greeter{})
	pf.ProxyTargetClass = true
	pf.ExposeProxy = true

	proxy, err := pf.GetProxy()
	require.NoError(t, err)

	results, err := proxy.Invoke("Who", context.Background())
	require.NoError(t, err)
	assert.Same(t, proxy, results[0])

	_, err = aop.CurrentProxy(context.Background())
	assert.ErrorIs(t, err, aop.ErrNoCurrentProxy)
}

func TestProxy_NotExposedByDefault(t *testing.T) {
	pf := aop.NewProxyFactory(&greeter{})
	pf.ProxyTargetClass = true

	proxy, err := pf.GetProxy()
	require.NoError(t, err)

	_, err = proxy.Invoke("Who", context.Background())
	var stateErr aop.ProxyStateError
	assert.ErrorAs(t, err, &stateErr)
	assert.ErrorIs(t, err, aop.ErrNoCurrentProxy)
}

func TestProxy_FrozenConfiguration(t *testing.T) {
	pf := aop.NewProxyFactory(&greeter{})
	require.NoError(t, pf.AddAdvice(&countingBefore{}))
	pf.Frozen = true

	err := pf.AddAdvice(&countingBefore{})
	assert.ErrorIs(t, err, aop.ErrFrozen)

	var cfgErr aop.AopConfigError
	assert.ErrorAs(t, err, &cfgErr)

	assert.ErrorIs(t, pf.RemoveAdvisor(0), aop.ErrFrozen)
	assert.Len(t, pf.Advisors(), 1)
}

func TestAdvisedOf(t *testing.T) {
	pf := aop.NewProxyFactory(&greeter{})
	proxy, err := pf.GetProxy()
	require.NoError(t, err)

	advised, ok := aop.AdvisedOf(proxy)
	require.True(t, ok)
	assert.Same(t, pf.AdvisedSupport, advised)

	pf.Opaque = true
	_, ok = aop.AdvisedOf(proxy)
	assert.False(t, ok)

	_, ok = aop.AdvisedOf(&greeter{})
	assert.False(t, ok)
}

func TestDefaultAopProxyFactory(t *testing.T) {
	t.Run("no target type", func(t *testing.T) {
		pf := aop.NewEmptyProxyFactory()
		_, err := pf.GetProxy()
		var cfgErr aop.AopConfigError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("interface target type", func(t *testing.T) {
		pf, err := aop.NewInterfaceProxyFactory(greeterType, aop.EmptyTargetSource(greeterType))
		require.NoError(t, err)
		pf.ProxyTargetClass = true

		proxy, err := pf.GetProxy()
		require.NoError(t, err)
		assert.IsType(t, &aop.InterfaceProxy{}, proxy)
	})

	t.Run("no interfaces", func(t *testing.T) {
		pf := aop.NewProxyFactory(&auditor{})
		require.NoError(t, pf.SetInterfaces())

		proxy, err := pf.GetProxy()
		require.NoError(t, err)
		assert.IsType(t, &aop.SubclassProxy{}, proxy)
	})

	t.Run("non interface rejected", func(t *testing.T) {
		pf := aop.NewEmptyProxyFactory()
		assert.Error(t, pf.AddInterface(reflect.TypeOf(&greeter{})))
	})
}

func TestProxy_Introduction(t *testing.T) {
	advisor := aop.NewIntroductionAdvisor(aop.NewDelegatingIntroductionInterceptor(&auditor{}, auditableType), nil, auditableType)

	pf := aop.NewProxyFactory(&greeter{prefix: "+"})
	require.NoError(t, pf.AddAdvisor(advisor))
	assert.Contains(t, pf.Interfaces(), auditableType)

	proxy, err := pf.GetProxy()
	require.NoError(t, err)

	a, ok := aop.As[Auditable](proxy)
	require.True(t, ok)
	assert.Equal(t, 1, a.AuditCount())
	assert.Equal(t, 2, a.AuditCount())

	g, ok := aop.As[Greeter](a)
	require.True(t, ok)
	out, err := g.Greet(context.Background(), "z")
	require.NoError(t, err)
	assert.Equal(t, "+z", out)
}

func TestProxy_PerTargetIntroduction(t *testing.T) {
	ii := aop.NewPerTargetIntroductionInterceptor(func() any { return &auditor{} }, auditableType)

	newProxy := func() aop.Proxy {
		pf := aop.NewProxyFactory(&greeter{})
		require.NoError(t, pf.AddAdvisor(aop.NewIntroductionAdvisor(ii, nil, auditableType)))
		proxy, err := pf.GetProxy()
		require.NoError(t, err)
		return proxy
	}

	first, _ := aop.As[Auditable](newProxy())
	second, _ := aop.As[Auditable](newProxy())

	assert.Equal(t, 1, first.AuditCount())
	assert.Equal(t, 2, first.AuditCount())
	assert.Equal(t, 1, second.AuditCount())
}

func TestIntroductionAdvisor_ValidateInterfaces(t *testing.T) {
	ii := aop.NewDelegatingIntroductionInterceptor(&auditor{}, greeterType)
	advisor := aop.NewIntroductionAdvisor(ii, nil, greeterType)

	pf := aop.NewProxyFactory(&greeter{})
	err := pf.AddAdvisor(advisor)
	var cfgErr aop.AopConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestAdvisedSupport_InterceptorChainCache(t *testing.T) {
	pf := aop.NewProxyFactory(&greeter{})
	require.NoError(t, pf.AddAdvice(&countingBefore{}))

	m, ok := aop.LookupMethod(greeterType, "Greet")
	require.True(t, ok)

	chain, err := pf.InterceptorChain(m, reflect.TypeOf(&greeter{}))
	require.NoError(t, err)
	assert.Len(t, chain, 1)

	require.NoError(t, pf.AddAdvice(&capturingAfter{}))
	chain, err = pf.InterceptorChain(m, reflect.TypeOf(&greeter{}))
	require.NoError(t, err)
	assert.Len(t, chain, 2)

	named := aop.NewNameMatchPointcut("Other*")
	require.NoError(t, pf.AddAdvisor(aop.NewPointcutAdvisor(named, &countingBefore{})))
	chain, err = pf.InterceptorChain(m, reflect.TypeOf(&greeter{}))
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}
