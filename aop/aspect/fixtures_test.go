package aspect_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/junioryono/weave/aop"
	"github.com/junioryono/weave/aop/aspect"
	"github.com/junioryono/weave/internal/testutil"
)

var errOutOfStock = errors.New("out of stock")

type OrderService interface {
	Place(ctx context.Context, id string) (string, error)
}

type Tracked interface {
	TrackingID() string
}

type orderService struct {
	log *testutil.EventLog
}

func (s *orderService) Place(_ context.Context, id string) (string, error) {
	s.log.Add("target:" + id)
	if id == "" {
		return "", errOutOfStock
	}
	return "placed:" + id, nil
}

type tracker struct{ id string }

func (t *tracker) TrackingID() string { return t.id }

type orderServiceStub struct{ aop.Stub }

func (s orderServiceStub) Place(ctx context.Context, id string) (string, error) {
	return aop.Call1[string](s.Stub, "Place", ctx, id)
}

type trackedStub struct{ aop.Stub }

func (s trackedStub) TrackingID() string { return aop.Must1[string](s.Stub, "TrackingID") }

func init() {
	aop.RegisterStub(func(s aop.Stub) OrderService { return orderServiceStub{s} })
	aop.RegisterStub(func(s aop.Stub) Tracked { return trackedStub{s} })
}

// loggingAspect records every advice it runs.
type loggingAspect struct {
	log   *testutil.EventLog
	calls atomic.Int32
}

func (a *loggingAspect) Around(inv aop.MethodInvocation) ([]any, error) {
	a.calls.Add(1)
	a.log.Add("around:enter")
	results, err := inv.Proceed()
	a.log.Add("around:exit")
	return results, err
}

func (a *loggingAspect) Before(jp aop.JoinPoint) error {
	a.log.Add("before:" + jp.Method().Name)
	return nil
}

func (a *loggingAspect) After(aop.JoinPoint) error {
	a.log.Add("after")
	return nil
}

func (a *loggingAspect) Returning(_ aop.JoinPoint, results []any) error {
	a.log.Add(fmt.Sprintf("returning:%v", results[0]))
	return nil
}

func (a *loggingAspect) Throwing(_ aop.JoinPoint, err error) error {
	a.log.Add("throwing:" + err.Error())
	return nil
}

// declareLogging declares loggingAspect with one advice of every kind,
// deliberately out of precedence order.
func declareLogging(t *testing.T, defs *aspect.Definitions, extra ...func(d *aspect.Declarer[*loggingAspect])) {
	t.Helper()
	require.NoError(t, aspect.Define(defs, func(d *aspect.Declarer[*loggingAspect]) {
		d.Pointcut("orders", "within(aspect_test.orderService)")
		d.AfterThrowing("throwing", "orders()", (*loggingAspect).Throwing)
		d.AfterReturning("returning", "orders()", (*loggingAspect).Returning)
		d.After("after", "orders()", (*loggingAspect).After)
		d.Before("before", "orders() && execution(* Place(..))", (*loggingAspect).Before)
		d.Around("around", "orders()", (*loggingAspect).Around)
		for _, fn := range extra {
			fn(d)
		}
	}))
}

// proxyFor returns target advised by advisors, viewed as OrderService.
func proxyFor(t *testing.T, target any, advisors []aop.Advisor) OrderService {
	t.Helper()

	pf := aop.NewProxyFactory(target)
	require.NoError(t, pf.AddAdvisors(advisors...))
	proxy, err := pf.GetProxy()
	require.NoError(t, err)

	svc, ok := aop.As[OrderService](proxy)
	require.True(t, ok)
	return svc
}

func kindsOf(advisors []aop.Advisor) []string {
	var kinds []string
	for _, a := range advisors {
		switch v := a.(type) {
		case *aspect.Advisor:
			kinds = append(kinds, v.Kind().String()+":"+v.Name())
		case aop.IntroductionAdvisor:
			kinds = append(kinds, "introduction")
		default:
			kinds = append(kinds, "instantiation")
		}
	}
	return kinds
}
