package aspect_test

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junioryono/weave/aop"
	"github.com/junioryono/weave/aop/aspect"
	"github.com/junioryono/weave/internal/testutil"
)

// countingFactory creates a new aspect on every lookup.
type countingFactory struct {
	def     *aspect.Definition
	log     *testutil.EventLog
	created atomic.Int32
}

func (f *countingFactory) AspectInstance(context.Context) (any, error) {
	f.created.Add(1)
	return &loggingAspect{log: f.log}, nil
}

func (f *countingFactory) AspectName() string { return "logging" }

func (f *countingFactory) AspectType() reflect.Type { return f.def.Type }

func (f *countingFactory) Order() int { return 0 }

func lookup(t *testing.T, defs *aspect.Definitions) *aspect.Definition {
	t.Helper()
	def, ok := defs.Lookup(reflect.TypeFor[*loggingAspect]())
	require.True(t, ok)
	return def
}

func TestAdvisorFactory_Advisors(t *testing.T) {
	t.Run("one advisor per advice in precedence order", func(t *testing.T) {
		defs := aspect.NewDefinitions()
		declareLogging(t, defs)
		log := &testutil.EventLog{}
		factory := aspect.NewSimpleInstanceFactory("logging", &loggingAspect{log: log}, lookup(t, defs))

		advisors, err := aspect.NewAdvisorFactory(defs).Advisors(factory)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"around:around",
			"before:before",
			"after:after",
			"after-returning:returning",
			"after-throwing:throwing",
		}, kindsOf(advisors))

		for i, a := range advisors {
			advisor := a.(*aspect.Advisor)
			assert.Equal(t, i, advisor.DeclarationOrder())
			assert.Equal(t, "logging", advisor.AspectName())
			assert.Equal(t, aop.LowestPrecedence, advisor.Order())
			assert.False(t, advisor.IsPerInstance())
		}
		assert.Equal(t, "orders() && execution(* Place(..))", advisors[1].(*aspect.Advisor).Expression())
	})

	t.Run("same names and kinds sort by name", func(t *testing.T) {
		defs := aspect.NewDefinitions()
		require.NoError(t, aspect.Define(defs, func(d *aspect.Declarer[*loggingAspect]) {
			d.Before("zeta", "within(*)", (*loggingAspect).Before)
			d.Before("alpha", "within(*)", (*loggingAspect).Before)
			d.Around("mid", "within(*)", (*loggingAspect).Around)
		}))
		factory := aspect.NewSimpleInstanceFactory("logging", &loggingAspect{}, lookup(t, defs))

		advisors, err := aspect.NewAdvisorFactory(defs).Advisors(factory)
		require.NoError(t, err)
		assert.Equal(t, []string{"around:mid", "before:alpha", "before:zeta"}, kindsOf(advisors))
	})

	t.Run("stable across calls", func(t *testing.T) {
		defs := aspect.NewDefinitions()
		declareLogging(t, defs)
		factory := aspect.NewSimpleInstanceFactory("logging", &loggingAspect{}, lookup(t, defs))
		af := aspect.NewAdvisorFactory(defs)

		first, err := af.Advisors(factory)
		require.NoError(t, err)
		for range 10 {
			again, err := af.Advisors(factory)
			require.NoError(t, err)
			assert.Equal(t, kindsOf(first), kindsOf(again))
		}
	})

	t.Run("empty expression is skipped", func(t *testing.T) {
		defs := aspect.NewDefinitions()
		require.NoError(t, aspect.Define(defs, func(d *aspect.Declarer[*loggingAspect]) {
			d.Before("unbound", "", (*loggingAspect).Before)
			d.After("bound", "within(*)", (*loggingAspect).After)
		}))
		factory := aspect.NewSimpleInstanceFactory("logging", &loggingAspect{}, lookup(t, defs))

		advisors, err := aspect.NewAdvisorFactory(defs).Advisors(factory)
		require.NoError(t, err)
		assert.Equal(t, []string{"after:bound"}, kindsOf(advisors))
	})

	t.Run("malformed expression", func(t *testing.T) {
		defs := aspect.NewDefinitions()
		require.NoError(t, aspect.Define(defs, func(d *aspect.Declarer[*loggingAspect]) {
			d.Before("broken", "within(", (*loggingAspect).Before)
		}))
		factory := aspect.NewSimpleInstanceFactory("logging", &loggingAspect{}, lookup(t, defs))

		_, err := aspect.NewAdvisorFactory(defs).Advisors(factory)
		var cfg aspect.AspectConfigError
		require.ErrorAs(t, err, &cfg)
		assert.Contains(t, cfg.Reason, `advice "broken"`)
		assert.ErrorAs(t, err, new(aop.ExpressionError))
	})

	t.Run("undeclared type", func(t *testing.T) {
		af := aspect.NewAdvisorFactory(aspect.NewDefinitions())
		def := &aspect.Definition{Type: reflect.TypeFor[*loggingAspect]()}

		_, err := af.Advisors(aspect.NewSimpleInstanceFactory("logging", &loggingAspect{}, def))
		assert.ErrorAs(t, err, new(aspect.AspectConfigError))
		assert.Error(t, af.Validate(def.Type))
	})
}

func TestAdvisorFactory_Invocation(t *testing.T) {
	newProxy := func(t *testing.T, log *testutil.EventLog, extra ...func(d *aspect.Declarer[*loggingAspect])) OrderService {
		defs := aspect.NewDefinitions()
		declareLogging(t, defs, extra...)
		factory := aspect.NewSimpleInstanceFactory("logging", &loggingAspect{log: log}, lookup(t, defs))
		advisors, err := aspect.NewAdvisorFactory(defs).Advisors(factory)
		require.NoError(t, err)
		return proxyFor(t, &orderService{log: log}, advisors)
	}

	t.Run("advice runs in precedence order", func(t *testing.T) {
		log := &testutil.EventLog{}
		svc := newProxy(t, log)

		got, err := svc.Place(context.Background(), "1")
		require.NoError(t, err)
		assert.Equal(t, "placed:1", got)
		assert.Equal(t, []string{
			"around:enter",
			"before:Place",
			"target:1",
			"returning:placed:1",
			"after",
			"around:exit",
		}, log.Events())
	})

	t.Run("target error passes through untouched", func(t *testing.T) {
		log := &testutil.EventLog{}
		svc := newProxy(t, log)

		_, err := svc.Place(context.Background(), "")
		assert.Equal(t, errOutOfStock, err)
		assert.Equal(t, []string{
			"around:enter",
			"before:Place",
			"target:",
			"throwing:out of stock",
			"after",
			"around:exit",
		}, log.Events())
	})

	t.Run("after-throwing replaces the error", func(t *testing.T) {
		replaced := errors.New("order rejected")
		log := &testutil.EventLog{}
		defs := aspect.NewDefinitions()
		require.NoError(t, aspect.Define(defs, func(d *aspect.Declarer[*loggingAspect]) {
			d.AfterThrowing("translate", "within(aspect_test.*)", func(*loggingAspect, aop.JoinPoint, error) error {
				return replaced
			})
		}))
		factory := aspect.NewSimpleInstanceFactory("logging", &loggingAspect{log: log}, lookup(t, defs))
		advisors, err := aspect.NewAdvisorFactory(defs).Advisors(factory)
		require.NoError(t, err)

		_, err = proxyFor(t, &orderService{log: log}, advisors).Place(context.Background(), "")
		assert.Equal(t, replaced, err)
	})

	t.Run("before error aborts the call", func(t *testing.T) {
		log := &testutil.EventLog{}
		defs := aspect.NewDefinitions()
		require.NoError(t, aspect.Define(defs, func(d *aspect.Declarer[*loggingAspect]) {
			d.Before("guard", "within(aspect_test.*)", func(*loggingAspect, aop.JoinPoint) error {
				return testutil.ErrIntentional
			})
		}))
		factory := aspect.NewSimpleInstanceFactory("logging", &loggingAspect{log: log}, lookup(t, defs))
		advisors, err := aspect.NewAdvisorFactory(defs).Advisors(factory)
		require.NoError(t, err)

		_, err = proxyFor(t, &orderService{log: log}, advisors).Place(context.Background(), "1")
		assert.Equal(t, testutil.ErrIntentional, err)
		assert.Empty(t, log.Events())
	})

	t.Run("introduction", func(t *testing.T) {
		log := &testutil.EventLog{}
		svc := newProxy(t, log, func(d *aspect.Declarer[*loggingAspect]) {
			d.DeclareParents("track", "aspect_test.orderService", (*Tracked)(nil), func() any { return &tracker{id: "t-1"} })
		})

		tracked, ok := aop.As[Tracked](svc)
		require.True(t, ok)
		assert.Equal(t, "t-1", tracked.TrackingID())

		_, err := svc.Place(context.Background(), "2")
		require.NoError(t, err)
	})
}

func TestAdvisorFactory_Introductions(t *testing.T) {
	defs := aspect.NewDefinitions()
	require.NoError(t, aspect.Define(defs, func(d *aspect.Declarer[*loggingAspect]) {
		d.DeclareParents("track", "aspect_test.*", (*Tracked)(nil), func() any { return &tracker{} })
		d.Order(3)
	}))
	factory := aspect.NewBeanInstanceFactory(nil, "logging", lookup(t, defs))

	advisors, err := aspect.NewAdvisorFactory(defs).Advisors(factory)
	require.NoError(t, err)
	require.Len(t, advisors, 1)

	intro, ok := advisors[0].(aop.IntroductionAdvisor)
	require.True(t, ok)
	assert.Equal(t, 3, aop.OrderOf(intro))
	assert.Equal(t, []reflect.Type{reflect.TypeFor[Tracked]()}, intro.Interfaces())
	assert.True(t, intro.ClassFilter().Matches(reflect.TypeFor[*orderService]()))
	assert.False(t, intro.ClassFilter().Matches(reflect.TypeFor[*tracker]()), "already implements the interface")
	assert.NoError(t, intro.ValidateInterfaces())

	t.Run("default implementation must implement the interface", func(t *testing.T) {
		defs := aspect.NewDefinitions()
		require.NoError(t, aspect.Define(defs, func(d *aspect.Declarer[*loggingAspect]) {
			d.DeclareParents("track", "*", (*Tracked)(nil), func() any { return &orderService{} })
		}))

		_, err := aspect.NewAdvisorFactory(defs).Advisors(aspect.NewBeanInstanceFactory(nil, "logging", lookup(t, defs)))
		var cfg aspect.AspectConfigError
		require.ErrorAs(t, err, &cfg)
		assert.Contains(t, cfg.Reason, "does not implement")
	})
}

func TestAdvisorFactory_PerInstance(t *testing.T) {
	defs := aspect.NewDefinitions()
	declareLogging(t, defs, func(d *aspect.Declarer[*loggingAspect]) { d.PerTarget("orders()") })
	af := aspect.NewAdvisorFactory(defs)
	log := &testutil.EventLog{}
	factory := &countingFactory{def: lookup(t, defs), log: log}

	first, err := af.Advisors(factory)
	require.NoError(t, err)
	second, err := af.Advisors(factory)
	require.NoError(t, err)

	require.Len(t, first, 6)
	assert.Equal(t, "instantiation", kindsOf(first)[0])
	assert.Equal(t, kindsOf(first), kindsOf(second))
	assert.True(t, first[1].IsPerInstance())
	assert.Zero(t, factory.created.Load(), "aspects are created on first use")

	one := proxyFor(t, &orderService{log: log}, first)
	two := proxyFor(t, &orderService{log: log}, second)

	for range 3 {
		_, err := one.Place(context.Background(), "1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), factory.created.Load())
	assert.True(t, first[1].(*aspect.Advisor).IsAspectMaterialized())
	assert.False(t, second[1].(*aspect.Advisor).IsAspectMaterialized())

	_, err = two.Place(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), factory.created.Load())
}

func TestLazyInstance_TypeMismatch(t *testing.T) {
	defs := aspect.NewDefinitions()
	declareLogging(t, defs)
	factory := aspect.NewSimpleInstanceFactory("logging", &tracker{}, lookup(t, defs))

	advisors, err := aspect.NewAdvisorFactory(defs).Advisors(factory)
	require.NoError(t, err)

	log := &testutil.EventLog{}
	_, err = proxyFor(t, &orderService{log: log}, advisors).Place(context.Background(), "1")
	var invocation aop.AopInvocationError
	require.ErrorAs(t, err, &invocation)
	assert.ErrorAs(t, err, new(aspect.AspectConfigError))
	assert.Empty(t, log.Events())
}
