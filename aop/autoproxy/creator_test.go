package autoproxy_test

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/junioryono/weave"
	"github.com/junioryono/weave/aop"
	"github.com/junioryono/weave/aop/autoproxy"
	"github.com/junioryono/weave/internal/testutil"
)

func TestBeanNameCreator(t *testing.T) {
	log := &testutil.EventLog{}
	creator := autoproxy.NewBeanNameCreator([]string{"order*"}, autoproxy.WithInterceptorNames("tracer"))
	c := newBuilder(t, creator).
		WithSingleton("tracer", func() *tracer { return &tracer{name: "trace", log: log} }).
		WithSingleton("orders", func() *orderService { return &orderService{log: log} }).
		WithSingleton("inventory", func() *inventory { return &inventory{log: log} }).
		Build()
	ctx := context.Background()

	orders, err := weave.Resolve[OrderService](ctx, c, "orders")
	require.NoError(t, err)
	assert.True(t, aop.IsProxy(orders))

	_, err = orders.Place(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"trace:Place", "place:1", "reserve:1"}, log.Events())

	inv, err := c.GetBean(ctx, "inventory")
	require.NoError(t, err)
	assert.IsType(t, &inventory{}, inv)

	advised, decided := creator.IsAdvised(reflect.TypeFor[*inventory](), "inventory")
	assert.True(t, decided)
	assert.False(t, advised)
	advised, _ = creator.IsAdvised(reflect.TypeFor[*orderService](), "orders")
	assert.True(t, advised)

	tr, err := c.GetBean(ctx, "tracer")
	require.NoError(t, err)
	assert.False(t, aop.IsProxy(tr), "advice is never proxied")
}

func TestAdvisorCreator(t *testing.T) {
	t.Run("applies matching advisors in order", func(t *testing.T) {
		log := &testutil.EventLog{}
		creator := autoproxy.NewAdvisorCreator()
		c := newBuilder(t, creator).
			WithSingleton("second", newTracerAdvisor("second", "within(autoproxy_test.orderService)", log, 2)).
			WithSingleton("first", newTracerAdvisor("first", "within(autoproxy_test.*)", log, 1)).
			WithSingleton("unrelated", newTracerAdvisor("unrelated", "within(other.*)", log, 0)).
			WithSingleton("orders", func() *orderService { return &orderService{log: log} }).
			WithSingleton("inventory", func() *inventory { return &inventory{log: log} }).
			Build()
		ctx := context.Background()

		orders, err := weave.Resolve[OrderService](ctx, c, "orders")
		require.NoError(t, err)
		_, err = orders.Place(ctx, "1")
		require.NoError(t, err)

		assert.Equal(t, []string{
			"first:Place",
			"second:Place",
			"place:1",
			"first:Reserve",
			"reserve:1",
		}, log.Events())

		again, err := weave.Resolve[OrderService](ctx, c, "orders")
		require.NoError(t, err)
		p1, _ := aop.UnwrapProxy(orders)
		p2, _ := aop.UnwrapProxy(again)
		assert.Same(t, p1, p2)

		advisor, err := c.GetBean(ctx, "first")
		require.NoError(t, err)
		assert.False(t, aop.IsProxy(advisor))
	})

	t.Run("no matching advisor", func(t *testing.T) {
		log := &testutil.EventLog{}
		c := newBuilder(t, autoproxy.NewAdvisorCreator()).
			WithSingleton("unrelated", newTracerAdvisor("unrelated", "within(other.*)", log, 0)).
			WithSingleton("orders", func() *orderService { return &orderService{log: log} }).
			Build()

		orders := testutil.AssertBeanResolvable[*orderService](t, c, "orders")
		assert.NotNil(t, orders)
	})

	t.Run("advisor bean name prefix", func(t *testing.T) {
		log := &testutil.EventLog{}
		creator := autoproxy.NewAdvisorCreatorWith([]autoproxy.AdvisorOption{autoproxy.WithAdvisorBeanNamePrefix("app.")})
		c := newBuilder(t, creator).
			WithSingleton("app.tracer", newTracerAdvisor("app", "within(autoproxy_test.*)", log, 0)).
			WithSingleton("lib.tracer", newTracerAdvisor("lib", "within(autoproxy_test.*)", log, 0)).
			WithSingleton("inventory", func() *inventory { return &inventory{log: log} }).
			Build()
		ctx := context.Background()

		inv, err := weave.Resolve[Inventory](ctx, c, "inventory")
		require.NoError(t, err)
		require.NoError(t, inv.Reserve(ctx, "1"))
		assert.Equal(t, []string{"app:Reserve", "reserve:1"}, log.Events())
	})

	t.Run("registered as a bean", func(t *testing.T) {
		log := &testutil.EventLog{}
		c := testutil.NewContainerBuilder(t).
			WithSingleton("autoProxyCreator", func() *autoproxy.Creator { return autoproxy.NewAdvisorCreator() }).
			WithSingleton("tracer", newTracerAdvisor("trace", "within(autoproxy_test.*)", log, 0)).
			WithSingleton("inventory", func() *inventory { return &inventory{log: log} }).
			Refresh()
		ctx := context.Background()

		creator, err := c.GetBean(ctx, "autoProxyCreator")
		require.NoError(t, err)
		assert.False(t, aop.IsProxy(creator))

		inv, err := weave.Resolve[Inventory](ctx, c, "inventory")
		require.NoError(t, err)
		require.NoError(t, inv.Reserve(ctx, "2"))
		assert.Equal(t, []string{"trace:Reserve", "reserve:2"}, log.Events())
	})
}

func TestCreator_Decisions(t *testing.T) {
	t.Run("decided once per bean", func(t *testing.T) {
		log := &testutil.EventLog{}
		creator := autoproxy.NewAdvisorCreator()
		newBuilder(t, creator).
			WithSingleton("tracer", newTracerAdvisor("trace", "within(autoproxy_test.orderService)", log, 0))
		ctx := context.Background()

		plain := &inventory{log: log}
		first, err := creator.PostProcessAfterInitialization(ctx, plain, "plain")
		require.NoError(t, err)
		second, err := creator.PostProcessAfterInitialization(ctx, plain, "plain")
		require.NoError(t, err)
		assert.Same(t, plain, first)
		assert.Same(t, plain, second)

		advised, decided := creator.IsAdvised(reflect.TypeFor[*inventory](), "plain")
		assert.True(t, decided)
		assert.False(t, advised)
	})

	t.Run("infrastructure is never proxied", func(t *testing.T) {
		creator := autoproxy.NewAdvisorCreator()
		newBuilder(t, creator).
			WithSingleton("tracer", newTracerAdvisor("trace", "within(*)", &testutil.EventLog{}, 0))

		for name, bean := range map[string]any{
			"interceptor": &tracer{},
			"advisor":     aop.NewPointcutAdvisor(nil, &tracer{}),
			"pointcut":    aop.TruePointcut,
			"creator":     creator,
		} {
			got, err := creator.PostProcessAfterInitialization(context.Background(), bean, name)
			require.NoError(t, err)
			assert.False(t, aop.IsProxy(got), name)
		}
	})

	t.Run("early reference is not wrapped twice", func(t *testing.T) {
		log := &testutil.EventLog{}
		creator := autoproxy.NewAdvisorCreator()
		newBuilder(t, creator).
			WithSingleton("tracer", newTracerAdvisor("trace", "within(autoproxy_test.*)", log, 0))
		ctx := context.Background()

		raw := &orderService{log: log}
		early, err := creator.GetEarlyBeanReference(ctx, raw, "orders")
		require.NoError(t, err)
		assert.True(t, aop.IsProxy(early))

		final, err := creator.PostProcessAfterInitialization(ctx, raw, "orders")
		require.NoError(t, err)
		assert.Same(t, raw, final)
	})

	t.Run("logs proxy creation", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		log := &testutil.EventLog{}
		creator := autoproxy.NewAdvisorCreator(autoproxy.WithLogger(zap.New(core)))
		c := newBuilder(t, creator).
			WithSingleton("tracer", newTracerAdvisor("trace", "within(autoproxy_test.*)", log, 0)).
			WithSingleton("orders", func() *orderService { return &orderService{log: log} }).
			Build()

		_, err := c.GetBean(context.Background(), "orders")
		require.NoError(t, err)

		created := logs.FilterMessage("created proxy").All()
		require.Len(t, created, 1)
		assert.Equal(t, "orders", created[0].ContextMap()["bean"])
		assert.Equal(t, int64(1), created[0].ContextMap()["advisors"])
	})
}

func TestCreator_ProxyShape(t *testing.T) {
	t.Run("interface proxy", func(t *testing.T) {
		log := &testutil.EventLog{}
		c := newBuilder(t, autoproxy.NewAdvisorCreator()).
			WithSingleton("tracer", newTracerAdvisor("trace", "within(autoproxy_test.*)", log, 0)).
			WithSingleton("orders", func() *orderService { return &orderService{log: log} }).
			Build()

		bean, err := c.GetBean(context.Background(), "orders")
		require.NoError(t, err)
		proxy, ok := aop.UnwrapProxy(bean)
		require.True(t, ok)
		assert.IsType(t, &aop.InterfaceProxy{}, proxy)
		assert.Equal(t, []reflect.Type{reflect.TypeFor[OrderService]()}, proxy.ProxiedInterfaces())
		assert.Equal(t, reflect.TypeFor[*orderService](), aop.UserType(bean))
	})

	t.Run("class proxy without interfaces", func(t *testing.T) {
		log := &testutil.EventLog{}
		c := newBuilder(t, autoproxy.NewAdvisorCreator()).
			WithSingleton("tracer", newTracerAdvisor("trace", "within(autoproxy_test.*)", log, 0)).
			WithSingleton("ledger", func() *ledger { return &ledger{} }).
			Build()

		bean, err := c.GetBean(context.Background(), "ledger")
		require.NoError(t, err)
		proxy, ok := aop.UnwrapProxy(bean)
		require.True(t, ok)
		assert.IsType(t, &aop.SubclassProxy{}, proxy)

		results, err := proxy.Invoke("Record")
		require.NoError(t, err)
		assert.Equal(t, []any{1}, results)
		assert.Equal(t, []string{"trace:Record"}, log.Events())
	})

	t.Run("preserve target class", func(t *testing.T) {
		log := &testutil.EventLog{}
		c := newBuilder(t, autoproxy.NewAdvisorCreator()).
			WithSingleton("tracer", newTracerAdvisor("trace", "within(autoproxy_test.*)", log, 0)).
			WithSingleton("orders", func() *orderService { return &orderService{log: log} },
				weave.Attribute(autoproxy.PreserveTargetClassAttribute, true)).
			Build()

		bean, err := c.GetBean(context.Background(), "orders")
		require.NoError(t, err)
		assert.IsType(t, &aop.SubclassProxy{}, bean)

		orders, ok := aop.As[OrderService](bean)
		require.True(t, ok)
		_, err = orders.Place(context.Background(), "1")
		require.NoError(t, err)
	})

	t.Run("opaque and frozen", func(t *testing.T) {
		log := &testutil.EventLog{}
		creator := autoproxy.NewAdvisorCreator(
			autoproxy.WithProxyConfig(aop.ProxyConfig{ExposeProxy: true, Opaque: true}),
			autoproxy.WithFreezeProxy(true),
		)
		c := newBuilder(t, creator).
			WithSingleton("tracer", newTracerAdvisor("trace", "within(autoproxy_test.*)", log, 0)).
			WithSingleton("orders", func() *orderService { return &orderService{log: log} }).
			Build()

		bean, err := c.GetBean(context.Background(), "orders")
		require.NoError(t, err)
		_, ok := aop.AdvisedOf(bean)
		assert.False(t, ok, "opaque proxies hide their configuration")
	})
}

func TestCreator_CommonInterceptors(t *testing.T) {
	for _, first := range []bool{true, false} {
		t.Run(fmt.Sprintf("first=%t", first), func(t *testing.T) {
			log := &testutil.EventLog{}
			creator := autoproxy.NewAdvisorCreator(
				autoproxy.WithInterceptorNames("common"),
				autoproxy.WithApplyCommonInterceptorsFirst(first),
			)
			c := newBuilder(t, creator).
				WithSingleton("common", func() *tracer { return &tracer{name: "common", log: log} }).
				WithSingleton("specific", newTracerAdvisor("specific", "within(autoproxy_test.*)", log, 0)).
				WithSingleton("inventory", func() *inventory { return &inventory{log: log} }).
				Build()
			ctx := context.Background()

			inv, err := weave.Resolve[Inventory](ctx, c, "inventory")
			require.NoError(t, err)
			require.NoError(t, inv.Reserve(ctx, "1"))

			if first {
				assert.Equal(t, []string{"common:Reserve", "specific:Reserve", "reserve:1"}, log.Events())
			} else {
				assert.Equal(t, []string{"specific:Reserve", "common:Reserve", "reserve:1"}, log.Events())
			}
		})
	}

	t.Run("missing interceptor bean", func(t *testing.T) {
		creator := autoproxy.NewBeanNameCreator([]string{"*"}, autoproxy.WithInterceptorNames("missing"))
		c := newBuilder(t, creator).
			WithSingleton("inventory", func() *inventory { return &inventory{log: &testutil.EventLog{}} }).
			Build()

		_, err := c.GetBean(context.Background(), "inventory")
		assert.True(t, weave.IsNotFound(err))
	})
}

func TestCreator_CircularReferences(t *testing.T) {
	log := &testutil.EventLog{}
	c := newBuilder(t, autoproxy.NewAdvisorCreator()).
		WithSingleton("tracer", newTracerAdvisor("trace", "within(autoproxy_test.*)", log, 0)).
		WithSingleton("orders", func() *orderService { return &orderService{log: log} }).
		WithSingleton("inventory", func() *inventory { return &inventory{log: log} }).
		Build()
	ctx := context.Background()

	ordersBean, err := c.GetBean(ctx, "orders")
	require.NoError(t, err)
	inventoryBean, err := c.GetBean(ctx, "inventory")
	require.NoError(t, err)
	require.True(t, aop.IsProxy(ordersBean))
	require.True(t, aop.IsProxy(inventoryBean))

	advised, ok := aop.AdvisedOf(inventoryBean)
	require.True(t, ok)
	target, err := advised.TargetSource().GetTarget(ctx)
	require.NoError(t, err)
	raw := target.(*inventory)

	injected, ok := aop.UnwrapProxy(raw.Orders)
	require.True(t, ok, "the early reference is the proxy")
	ordersProxy, _ := aop.UnwrapProxy(ordersBean)
	assert.Same(t, ordersProxy, injected)

	orders, ok := aop.As[OrderService](ordersBean)
	require.True(t, ok)
	_, err = orders.Place(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, []string{"trace:Place", "place:3", "trace:Reserve", "reserve:3"}, log.Events())
}

func TestCreator_CustomTargetSource(t *testing.T) {
	log := &testutil.EventLog{}
	var mu sync.Mutex
	constructed := 0
	creator := autoproxy.NewAdvisorCreator(
		autoproxy.WithCustomTargetSourceCreators(autoproxy.PrototypeTargetSourceCreator("order*")),
	)
	c := newBuilder(t, creator).
		WithSingleton("tracer", newTracerAdvisor("trace", "within(autoproxy_test.*)", log, 0)).
		WithPrototype("orders", func() *orderService {
			mu.Lock()
			constructed++
			mu.Unlock()
			return &orderService{log: log}
		}).
		Build()
	ctx := context.Background()

	bean, err := c.GetBean(ctx, "orders")
	require.NoError(t, err)
	assert.Zero(t, constructed, "the proxy stands in for the bean")

	advised, ok := aop.AdvisedOf(bean)
	require.True(t, ok)
	assert.IsType(t, &aop.PrototypeTargetSource{}, advised.TargetSource())
	assert.Len(t, advised.Advisors(), 1, "not proxied a second time")

	orders, ok := aop.As[OrderService](bean)
	require.True(t, ok)
	for _, id := range []string{"1", "2"} {
		_, err := orders.Place(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, constructed, "one target per call")
	assert.Equal(t, []string{"trace:Place", "place:1", "trace:Place", "place:2"}, log.Events())

	t.Run("singletons keep their own creation", func(t *testing.T) {
		creator := autoproxy.NewAdvisorCreator(
			autoproxy.WithCustomTargetSourceCreators(autoproxy.PrototypeTargetSourceCreator("*")),
		)
		c := newBuilder(t, creator).
			WithSingleton("inventory", func() *inventory { return &inventory{log: log} }).
			Build()

		testutil.AssertBeanResolvable[*inventory](t, c, "inventory")
	})
}
