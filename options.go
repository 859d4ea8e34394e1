package weave

import "go.uber.org/zap"

// Option configures a Container.
type Option interface {
	apply(*containerOptions)
}

type containerOptions struct {
	logger                        *zap.Logger
	allowCircularReferences       bool
	allowBeanDefinitionOverriding bool
}

func defaultOptions() containerOptions {
	return containerOptions{
		logger:                        zap.NewNop(),
		allowCircularReferences:       true,
		allowBeanDefinitionOverriding: true,
	}
}

type optionFunc func(*containerOptions)

func (f optionFunc) apply(opts *containerOptions) {
	f(opts)
}

// WithLogger sets the logger used for container diagnostics.
// A nil logger disables logging.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(opts *containerOptions) {
		if logger == nil {
			logger = zap.NewNop()
		}
		opts.logger = logger
	})
}

// WithAllowCircularReferences controls whether singletons in creation expose
// early references to resolve circular references. Enabled by default.
func WithAllowCircularReferences(allow bool) Option {
	return optionFunc(func(opts *containerOptions) {
		opts.allowCircularReferences = allow
	})
}

// WithAllowBeanDefinitionOverriding controls whether registering a definition
// under a name already in use replaces the old one. Enabled by default.
func WithAllowBeanDefinitionOverriding(allow bool) Option {
	return optionFunc(func(opts *containerOptions) {
		opts.allowBeanDefinitionOverriding = allow
	})
}
