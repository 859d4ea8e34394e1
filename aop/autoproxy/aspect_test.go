package autoproxy_test

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junioryono/weave"
	"github.com/junioryono/weave/aop"
	"github.com/junioryono/weave/aop/aspect"
	"github.com/junioryono/weave/aop/autoproxy"
	"github.com/junioryono/weave/internal/testutil"
)

type auditAspect struct {
	calls   atomic.Int32
	proxies sync.Map
}

func (a *auditAspect) Audit(inv aop.MethodInvocation) ([]any, error) {
	a.calls.Add(1)
	if p, err := aop.CurrentProxy(inv.Context()); err == nil {
		a.proxies.Store(p, true)
	}
	return inv.Proceed()
}

func auditDefinitions(t *testing.T) *aspect.Definitions {
	t.Helper()
	defs := aspect.NewDefinitions()
	require.NoError(t, aspect.Define(defs, func(d *aspect.Declarer[*auditAspect]) {
		d.Around("audit", "execution(* autoproxy_test.OrderService.Place(..))", (*auditAspect).Audit)
	}))
	return defs
}

func TestAspectCreator(t *testing.T) {
	t.Run("prototype beans are proxied concurrently", func(t *testing.T) {
		log := &testutil.EventLog{}
		creator := autoproxy.NewAspectCreator(auditDefinitions(t))
		c := newBuilder(t, creator).
			WithSingleton("audit", func() *auditAspect { return &auditAspect{} }).
			WithPrototype("orders", func() *orderService { return &orderService{log: log} }).
			Build()
		ctx := context.Background()

		const workers = 50
		beans := make([]any, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				orders, err := weave.Resolve[OrderService](ctx, c, "orders")
				if !assert.NoError(t, err) {
					return
				}
				_, err = orders.Place(ctx, "1")
				assert.NoError(t, err)
				beans[i], _ = aop.UnwrapProxy(orders)
			}()
		}
		wg.Wait()

		for i := 1; i < workers; i++ {
			assert.NotSame(t, beans[0], beans[i])
		}

		bean, err := c.GetBean(ctx, "audit")
		require.NoError(t, err)
		assert.False(t, aop.IsProxy(bean), "aspect beans are never proxied")
		assert.Equal(t, int32(workers), bean.(*auditAspect).calls.Load())
		assert.Len(t, log.Events(), workers)
	})

	t.Run("exposes the proxy to advice", func(t *testing.T) {
		log := &testutil.EventLog{}
		creator := autoproxy.NewAspectCreator(auditDefinitions(t),
			autoproxy.WithProxyConfig(aop.ProxyConfig{ExposeProxy: true}))
		c := newBuilder(t, creator).
			WithSingleton("audit", func() *auditAspect { return &auditAspect{} }).
			WithSingleton("orders", func() *orderService { return &orderService{log: log} }).
			Build()
		ctx := context.Background()

		orders, err := weave.Resolve[OrderService](ctx, c, "orders")
		require.NoError(t, err)
		_, err = orders.Place(ctx, "1")
		require.NoError(t, err)

		proxy, _ := aop.UnwrapProxy(orders)
		bean, err := c.GetBean(ctx, "audit")
		require.NoError(t, err)
		_, exposed := bean.(*auditAspect).proxies.Load(proxy)
		assert.True(t, exposed)

		_, err = aop.CurrentProxy(ctx)
		assert.ErrorIs(t, err, aop.ErrNoCurrentProxy)
	})

	t.Run("include patterns", func(t *testing.T) {
		tests := []struct {
			pattern string
			proxied bool
		}{
			{`^audit\.enabled$`, false},
			{`^audit$`, true},
		}
		for _, tt := range tests {
			t.Run(tt.pattern, func(t *testing.T) {
				log := &testutil.EventLog{}
				creator := autoproxy.NewAspectCreatorWith(auditDefinitions(t),
					[]autoproxy.AspectOption{autoproxy.WithIncludePatterns(regexp.MustCompile(tt.pattern))})
				c := newBuilder(t, creator).
					WithSingleton("audit", func() *auditAspect { return &auditAspect{} }).
					WithSingleton("orders", func() *orderService { return &orderService{log: log} }).
					Build()
				ctx := context.Background()

				bean, err := c.GetBean(ctx, "orders")
				require.NoError(t, err)
				assert.Equal(t, tt.proxied, aop.IsProxy(bean))

				orders, err := weave.Resolve[OrderService](ctx, c, "orders")
				require.NoError(t, err)
				_, err = orders.Place(ctx, "1")
				require.NoError(t, err)

				audit, err := c.GetBean(ctx, "audit")
				require.NoError(t, err)
				want := int32(0)
				if tt.proxied {
					want = 1
				}
				assert.Equal(t, want, audit.(*auditAspect).calls.Load())
				assert.Len(t, log.Events(), 1)
			})
		}
	})
}
