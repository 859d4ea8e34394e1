package weave_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junioryono/weave"
	"github.com/junioryono/weave/internal/testutil"
)

func TestCircularReferences(t *testing.T) {
	t.Run("field injection between singletons", func(t *testing.T) {
		t.Parallel()

		c := testutil.NewContainerBuilder(t).
			WithSingleton("a", func() *testutil.CircularA { return &testutil.CircularA{} }).
			WithSingleton("b", func() *testutil.CircularB { return &testutil.CircularB{} }).
			Build()

		a := testutil.AssertBeanResolvable[*testutil.CircularA](t, c, "a")
		b := testutil.AssertBeanResolvable[*testutil.CircularB](t, c, "b")
		assert.Same(t, b, a.B)
		assert.Same(t, a, b.A)
	})

	t.Run("constructor cycle cannot be resolved", func(t *testing.T) {
		t.Parallel()

		c := testutil.NewContainerBuilder(t).
			WithSingleton("a", testutil.NewCtorCircularA).
			WithSingleton("b", testutil.NewCtorCircularB).
			Build()

		_, err := c.GetBean(context.Background(), "a")
		testutil.AssertCurrentlyInCreation(t, err)

		var inCreation weave.BeanCurrentlyInCreationError
		require.ErrorAs(t, err, &inCreation)
		assert.Equal(t, "a", inCreation.Name)
		assert.False(t, c.IsCurrentlyInCreation("a"))
		assert.False(t, c.IsCurrentlyInCreation("b"))
	})

	t.Run("disabled circular references", func(t *testing.T) {
		t.Parallel()

		c := testutil.NewContainerBuilder(t, weave.WithAllowCircularReferences(false)).
			WithSingleton("a", func() *testutil.CircularA { return &testutil.CircularA{} }).
			WithSingleton("b", func() *testutil.CircularB { return &testutil.CircularB{} }).
			Build()

		_, err := c.GetBean(context.Background(), "a")
		testutil.AssertCurrentlyInCreation(t, err)
	})

	t.Run("prototype cycle", func(t *testing.T) {
		t.Parallel()

		c := testutil.NewContainerBuilder(t).
			WithPrototype("a", func() *testutil.CircularA { return &testutil.CircularA{} }).
			WithPrototype("b", func() *testutil.CircularB { return &testutil.CircularB{} }).
			Build()

		_, err := c.GetBean(context.Background(), "a")
		testutil.AssertCurrentlyInCreation(t, err)
	})

	t.Run("wrapping after injection is rejected", func(t *testing.T) {
		t.Parallel()

		c := testutil.NewContainerBuilder(t).
			WithSingleton("a", func() *nodeA { return &nodeA{} }).
			WithSingleton("b", func() *nodeB { return &nodeB{} }).
			WithPostProcessor(&wrappingProcessor{target: "a"}).
			Build()

		_, err := c.GetBean(context.Background(), "a")
		var inCreation weave.BeanCurrentlyInCreationError
		require.ErrorAs(t, err, &inCreation)
		assert.Contains(t, inCreation.Reason, "raw version")
		assert.Contains(t, inCreation.Reason, "[b]")
	})

	t.Run("early reference keeps wrapped instance consistent", func(t *testing.T) {
		t.Parallel()

		pp := &earlyWrappingProcessor{target: "a", wrapped: map[string]bool{}}
		c := testutil.NewContainerBuilder(t).
			WithSingleton("a", func() *nodeA { return &nodeA{} }).
			WithSingleton("b", func() *nodeB { return &nodeB{} }).
			WithPostProcessor(pp).
			Build()

		a, err := c.GetBean(context.Background(), "a")
		require.NoError(t, err)
		require.IsType(t, &wrappedNode{}, a)

		b := testutil.AssertBeanResolvable[*nodeB](t, c, "b")
		assert.Same(t, a, b.A)
		assert.Same(t, b, a.(node).Peer())
	})

	t.Run("depends-on cycle", func(t *testing.T) {
		t.Parallel()

		c := testutil.NewContainerBuilder(t).
			WithSingleton("a", testutil.NewMemoryRepository, weave.DependsOn("b")).
			WithSingleton("b", testutil.NewMemoryRepository, weave.DependsOn("a")).
			Build()

		_, err := c.GetBean(context.Background(), "a")
		var cycle *weave.CircularDependsOnError
		assert.ErrorAs(t, err, &cycle)
	})
}

// wrappingProcessor wraps target after initialization.
type wrappingProcessor struct {
	passthrough
	target string
}

func (p *wrappingProcessor) PostProcessAfterInitialization(_ context.Context, bean any, name string) (any, error) {
	if name != p.target {
		return bean, nil
	}
	return &wrappedNode{node: bean.(node)}, nil
}

// earlyWrappingProcessor wraps target once, either through its early reference
// or after initialization.
type earlyWrappingProcessor struct {
	passthrough
	target string

	mu      sync.Mutex
	wrapped map[string]bool
}

func (p *earlyWrappingProcessor) GetEarlyBeanReference(_ context.Context, bean any, name string) (any, error) {
	if name != p.target {
		return bean, nil
	}
	p.mu.Lock()
	p.wrapped[name] = true
	p.mu.Unlock()
	return &wrappedNode{node: bean.(node)}, nil
}

func (p *earlyWrappingProcessor) PostProcessAfterInitialization(_ context.Context, bean any, name string) (any, error) {
	if name != p.target {
		return bean, nil
	}
	p.mu.Lock()
	early := p.wrapped[name]
	p.mu.Unlock()
	if early {
		return bean, nil
	}
	return &wrappedNode{node: bean.(node)}, nil
}
