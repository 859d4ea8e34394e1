package weave_test

import (
	"context"
	"reflect"
	"sync/atomic"

	"github.com/junioryono/weave"
	"github.com/junioryono/weave/internal/testutil"
)

// recordingProcessor logs every initialization callback.
type recordingProcessor struct {
	log   *testutil.EventLog
	order int
}

func (p *recordingProcessor) PostProcessBeforeInitialization(_ context.Context, bean any, name string) (any, error) {
	p.log.Add("before:" + name)
	return bean, nil
}

func (p *recordingProcessor) PostProcessAfterInitialization(_ context.Context, bean any, name string) (any, error) {
	p.log.Add("after:" + name)
	return bean, nil
}

func (p *recordingProcessor) Order() int { return p.order }

// passthrough implements every post-processor hook without changing anything.
type passthrough struct{}

func (passthrough) PostProcessBeforeInitialization(_ context.Context, bean any, _ string) (any, error) {
	return bean, nil
}

func (passthrough) PostProcessAfterInitialization(_ context.Context, bean any, _ string) (any, error) {
	return bean, nil
}

func (passthrough) PostProcessBeforeInstantiation(context.Context, reflect.Type, string) (any, error) {
	return nil, nil
}

func (passthrough) PostProcessAfterInstantiation(context.Context, any, string) (bool, error) {
	return true, nil
}

func (passthrough) PredictBeanType(reflect.Type, string) reflect.Type { return nil }

func (passthrough) GetEarlyBeanReference(_ context.Context, bean any, _ string) (any, error) {
	return bean, nil
}

var _ weave.SmartInstantiationAwareBeanPostProcessor = passthrough{}

// lifecycleBean records its lifecycle callbacks.
type lifecycleBean struct {
	log   *testutil.EventLog
	Label string
}

func (b *lifecycleBean) SetBeanName(name string) { b.log.Add("name:" + name) }

func (b *lifecycleBean) SetBeanFactory(weave.BeanFactory) { b.log.Add("factory") }

func (b *lifecycleBean) AfterPropertiesSet() error {
	b.log.Add("afterPropertiesSet:" + b.Label)
	return nil
}

func (b *lifecycleBean) Setup() error {
	b.log.Add("init")
	return nil
}

func (b *lifecycleBean) Destroy() error {
	b.log.Add("destroy")
	return nil
}

// closer records Close calls in a shared log.
type closer struct {
	name string
	log  *testutil.EventLog
	err  error
}

func (c *closer) Close() error {
	c.log.Add("close:" + c.name)
	return c.err
}

type conn struct{ id int32 }

// connFactory produces *conn objects.
type connFactory struct {
	calls     atomic.Int32
	singleton bool
	eager     bool
	nilObject bool
	err       error
}

func (f *connFactory) GetObject(context.Context) (any, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.nilObject {
		return nil, nil
	}
	return &conn{id: n}, nil
}

func (f *connFactory) ObjectType() reflect.Type { return reflect.TypeFor[*conn]() }

func (f *connFactory) IsSingleton() bool { return f.singleton }

func (f *connFactory) IsPrototype() bool { return !f.singleton }

func (f *connFactory) IsEagerInit() bool { return f.eager }

var _ weave.SmartFactoryBean = (*connFactory)(nil)

// node types reference each other through interface-typed fields.
type node interface{ Peer() node }

type nodeA struct {
	B node `weave:"b"`
}

func (n *nodeA) Peer() node { return n.B }

type nodeB struct {
	A node `weave:"a"`
}

func (n *nodeB) Peer() node { return n.A }

type wrappedNode struct{ node }
