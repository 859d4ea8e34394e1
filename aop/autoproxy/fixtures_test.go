package autoproxy_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/junioryono/weave"
	"github.com/junioryono/weave/aop"
	"github.com/junioryono/weave/aop/autoproxy"
	"github.com/junioryono/weave/internal/testutil"
)

var errOutOfStock = errors.New("out of stock")

type OrderService interface {
	Place(ctx context.Context, id string) (string, error)
}

type Inventory interface {
	Reserve(ctx context.Context, id string) error
}

type orderService struct {
	Inventory Inventory `weave:"inventory,optional"`

	log *testutil.EventLog
}

func (s *orderService) Place(ctx context.Context, id string) (string, error) {
	s.log.Add("place:" + id)
	if id == "" {
		return "", errOutOfStock
	}
	if s.Inventory != nil {
		if err := s.Inventory.Reserve(ctx, id); err != nil {
			return "", err
		}
	}
	return "placed:" + id, nil
}

type inventory struct {
	Orders OrderService `weave:"orders,optional"`

	log *testutil.EventLog
}

func (i *inventory) Reserve(_ context.Context, id string) error {
	i.log.Add("reserve:" + id)
	return nil
}

// ledger has no interface and is proxied by class.
type ledger struct{ entries atomic.Int32 }

func (l *ledger) Record() int { return int(l.entries.Add(1)) }

type orderServiceStub struct{ aop.Stub }

func (s orderServiceStub) Place(ctx context.Context, id string) (string, error) {
	return aop.Call1[string](s.Stub, "Place", ctx, id)
}

type inventoryStub struct{ aop.Stub }

func (s inventoryStub) Reserve(ctx context.Context, id string) error {
	return aop.Call0(s.Stub, "Reserve", ctx, id)
}

func init() {
	aop.RegisterStub(func(s aop.Stub) OrderService { return orderServiceStub{s} })
	aop.RegisterStub(func(s aop.Stub) Inventory { return inventoryStub{s} })
}

// tracer records every intercepted call.
type tracer struct {
	name  string
	log   *testutil.EventLog
	order int
}

func (t *tracer) Invoke(inv aop.MethodInvocation) ([]any, error) {
	t.log.Add(t.name + ":" + inv.Method().Name)
	return inv.Proceed()
}

func (t *tracer) Order() int { return t.order }

// newTracerAdvisor returns an advisor tracing calls on types matching expr.
func newTracerAdvisor(name, expr string, log *testutil.EventLog, order int) func() *aop.DefaultPointcutAdvisor {
	return func() *aop.DefaultPointcutAdvisor {
		return aop.NewPointcutAdvisor(aop.MustParseExpression(expr), &tracer{name: name, log: log}).WithOrder(order)
	}
}

// newBuilder returns a container builder with creator registered as a
// post-processor.
func newBuilder(t *testing.T, creator *autoproxy.Creator, opts ...weave.Option) *testutil.ContainerBuilder {
	t.Helper()
	b := testutil.NewContainerBuilder(t, opts...)
	creator.SetBeanFactory(b.Build())
	return b.WithPostProcessor(creator)
}
