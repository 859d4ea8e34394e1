package autoproxy

import (
	"context"
	"reflect"
	"slices"

	"github.com/junioryono/weave"
	"github.com/junioryono/weave/aop"
)

// TargetSourceCreator supplies a custom target source for a bean, or nil
// to let the bean be created normally.
//
// beans resolves raw targets: beans it returns are created without being
// proxied by the creator asking.
type TargetSourceCreator interface {
	TargetSource(ctx context.Context, beans weave.BeanFactory, t reflect.Type, name string) (aop.TargetSource, error)
}

// TargetSourceCreatorFunc adapts a function to TargetSourceCreator.
type TargetSourceCreatorFunc func(ctx context.Context, beans weave.BeanFactory, t reflect.Type, name string) (aop.TargetSource, error)

func (f TargetSourceCreatorFunc) TargetSource(ctx context.Context, beans weave.BeanFactory, t reflect.Type, name string) (aop.TargetSource, error) {
	return f(ctx, beans, t, name)
}

// PrototypeTargetSourceCreator returns a creator that gives prototype beans
// matching one of patterns a target source creating a fresh target for
// every call. Patterns are simple "*" globs.
func PrototypeTargetSourceCreator(patterns ...string) TargetSourceCreator {
	patterns = slices.Clone(patterns)
	return TargetSourceCreatorFunc(func(_ context.Context, beans weave.BeanFactory, t reflect.Type, name string) (aop.TargetSource, error) {
		if !matchesAny(patterns, name) {
			return nil, nil
		}
		prototype, err := beans.IsPrototype(name)
		if err != nil || !prototype {
			return nil, err
		}
		return aop.NewPrototypeTargetSource(beans, name, t), nil
	})
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if aop.SimpleMatch(p, name) {
			return true
		}
	}
	return false
}

// rawTargets looks up beans bypassing the creator for the requested name.
type rawTargets struct {
	weave.BeanFactory
}

func (r rawTargets) GetBean(ctx context.Context, name string) (any, error) {
	return r.BeanFactory.GetBean(withRawTarget(ctx, name), name)
}

type rawTargetKey struct{}

func withRawTarget(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, rawTargetKey{}, weave.TransformedBeanName(name))
}

func isRawTarget(ctx context.Context, name string) bool {
	if ctx == nil || name == "" {
		return false
	}
	raw, _ := ctx.Value(rawTargetKey{}).(string)
	return raw == weave.TransformedBeanName(name)
}
