package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junioryono/weave"
)

// AssertBeanResolvable checks that the bean name resolves as T.
func AssertBeanResolvable[T any](t *testing.T, f weave.BeanFactory, name string) T {
	t.Helper()
	bean, err := weave.Resolve[T](context.Background(), f, name)
	require.NoError(t, err, "failed to resolve bean %q as %T", name, *new(T))
	require.NotNil(t, bean, "resolved bean is nil")
	return bean
}

// AssertBeanNotFound checks that resolving name fails because it does not exist.
func AssertBeanNotFound(t *testing.T, f weave.BeanFactory, name string) {
	t.Helper()
	_, err := f.GetBean(context.Background(), name)
	assert.Error(t, err)
	assert.True(t, weave.IsNotFound(err), "expected bean not found error, got: %v", err)
}

// AssertSameInstance verifies two beans are the same instance.
func AssertSameInstance(t *testing.T, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	assert.Same(t, expected, actual, msgAndArgs...)
}

// AssertDifferentInstances verifies two beans are different instances.
func AssertDifferentInstances(t *testing.T, first, second any, msgAndArgs ...any) {
	t.Helper()
	assert.NotSame(t, first, second, msgAndArgs...)
}

// AssertErrorType checks if an error is of a specific type.
func AssertErrorType[T error](t *testing.T, err error, msgAndArgs ...any) T {
	t.Helper()
	var target T
	assert.ErrorAs(t, err, &target, msgAndArgs...)
	return target
}

// AssertCurrentlyInCreation checks that err reports an unresolvable
// circular reference.
func AssertCurrentlyInCreation(t *testing.T, err error) {
	t.Helper()
	assert.Error(t, err)
	assert.True(t, weave.IsCurrentlyInCreation(err), "expected currently-in-creation error, got: %v", err)
}
