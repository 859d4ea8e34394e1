package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/junioryono/weave"
)

// ContainerBuilder provides a fluent interface for building test containers.
type ContainerBuilder struct {
	t         *testing.T
	container *weave.Container
}

// NewContainerBuilder creates a new ContainerBuilder. The container is closed
// when the test finishes.
func NewContainerBuilder(t *testing.T, opts ...weave.Option) *ContainerBuilder {
	t.Helper()
	c := weave.New(opts...)
	t.Cleanup(func() { _ = c.Close() })
	return &ContainerBuilder{t: t, container: c}
}

// WithSingleton registers a singleton bean.
func (b *ContainerBuilder) WithSingleton(name string, constructor any, opts ...weave.DefinitionOption) *ContainerBuilder {
	b.t.Helper()
	require.NoError(b.t, b.container.AddModules(weave.AddSingleton(name, constructor, opts...)))
	return b
}

// WithPrototype registers a prototype bean.
func (b *ContainerBuilder) WithPrototype(name string, constructor any, opts ...weave.DefinitionOption) *ContainerBuilder {
	b.t.Helper()
	require.NoError(b.t, b.container.AddModules(weave.AddPrototype(name, constructor, opts...)))
	return b
}

// WithInstance registers an existing object.
func (b *ContainerBuilder) WithInstance(name string, obj any) *ContainerBuilder {
	b.t.Helper()
	require.NoError(b.t, b.container.RegisterSingleton(name, obj))
	return b
}

// WithPostProcessor adds a bean post-processor.
func (b *ContainerBuilder) WithPostProcessor(pp weave.BeanPostProcessor) *ContainerBuilder {
	b.container.AddBeanPostProcessor(pp)
	return b
}

// WithModule applies a module.
func (b *ContainerBuilder) WithModule(module weave.ModuleOption) *ContainerBuilder {
	b.t.Helper()
	require.NoError(b.t, b.container.AddModules(module))
	return b
}

// Build returns the container without instantiating anything.
func (b *ContainerBuilder) Build() *weave.Container {
	return b.container
}

// Refresh instantiates every non-lazy singleton and returns the container.
func (b *ContainerBuilder) Refresh() *weave.Container {
	b.t.Helper()
	require.NoError(b.t, b.container.PreInstantiateSingletons(context.Background()))
	return b.container
}
