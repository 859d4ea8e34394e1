package autoproxy

import (
	"slices"

	"go.uber.org/zap"

	"github.com/junioryono/weave/aop"
)

// Option configures a Creator.
type Option func(*Creator)

// WithLogger sets the logger proxy decisions are reported to.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Creator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProxyConfig sets the flags every created proxy starts from.
func WithProxyConfig(cfg aop.ProxyConfig) Option {
	return func(c *Creator) {
		c.ProxyConfig = cfg
	}
}

// WithInterceptorNames names beans applied to every proxy in addition to
// the bean's own advice. The beans must be advice or advisors.
func WithInterceptorNames(names ...string) Option {
	return func(c *Creator) {
		c.interceptorNames = slices.Clone(names)
	}
}

// WithApplyCommonInterceptorsFirst sets whether common interceptors run
// before the bean's own advice. The default is true.
func WithApplyCommonInterceptorsFirst(first bool) Option {
	return func(c *Creator) {
		c.applyCommonInterceptorsFirst = first
	}
}

// WithCustomTargetSourceCreators sets the creators consulted, in order,
// before a bean is instantiated. A bean one of them yields a target source
// for is proxied over that source and never constructed directly.
func WithCustomTargetSourceCreators(creators ...TargetSourceCreator) Option {
	return func(c *Creator) {
		c.targetSourceCreators = slices.Clone(creators)
	}
}

// WithFreezeProxy freezes the configuration of created proxies.
func WithFreezeProxy(freeze bool) Option {
	return func(c *Creator) {
		c.freezeProxy = freeze
	}
}

// WithAdapterRegistry sets the registry advice is wrapped with.
func WithAdapterRegistry(r *aop.AdvisorAdapterRegistry) Option {
	return func(c *Creator) {
		if r != nil {
			c.adapters = r
		}
	}
}

// WithOrder sets the creator's order among the post-processors.
func WithOrder(order int) Option {
	return func(c *Creator) {
		c.order = order
	}
}
