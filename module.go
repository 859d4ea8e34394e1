package weave

// ModuleOption represents a registration action within a module.
type ModuleOption func(*Container) error

// NewModule creates a new module with the given name and builders.
// Modules are a way to group related bean registrations together.
//
// Example:
//
//	var DatabaseModule = weave.NewModule("database",
//	    weave.AddSingleton("connection", NewDatabaseConnection, weave.DestroyMethod(closeConn)),
//	    weave.AddSingleton("userRepository", NewUserRepository),
//	    weave.AddPrototype("unitOfWork", NewUnitOfWork),
//	)
//
//	var AppModule = weave.NewModule("app",
//	    DatabaseModule,
//	    weave.AddInstance("clock", realClock{}),
//	    weave.AddSingleton("orderService", NewOrderService, weave.Primary()),
//	)
func NewModule(name string, builders ...ModuleOption) ModuleOption {
	return func(c *Container) error {
		for _, builder := range builders {
			if builder == nil {
				continue
			}

			if err := builder(c); err != nil {
				return ModuleError{Module: name, Cause: err}
			}
		}

		return nil
	}
}

// AddSingleton creates a ModuleOption registering a singleton bean.
func AddSingleton(name string, constructor any, opts ...DefinitionOption) ModuleOption {
	return func(c *Container) error {
		return c.Register(name, constructor, append(opts, WithScope(Singleton))...)
	}
}

// AddPrototype creates a ModuleOption registering a prototype bean.
func AddPrototype(name string, constructor any, opts ...DefinitionOption) ModuleOption {
	return func(c *Container) error {
		return c.Register(name, constructor, append(opts, WithScope(Prototype))...)
	}
}

// AddInstance creates a ModuleOption registering an existing object as a
// singleton. The object receives no lifecycle callbacks.
func AddInstance(name string, obj any) ModuleOption {
	return func(c *Container) error {
		return c.RegisterSingleton(name, obj)
	}
}

// AddDefinition creates a ModuleOption registering a complete definition.
func AddDefinition(def *BeanDefinition) ModuleOption {
	return func(c *Container) error {
		return c.RegisterBeanDefinition(def)
	}
}

// AddPostProcessor creates a ModuleOption adding a bean post-processor.
func AddPostProcessor(pp BeanPostProcessor) ModuleOption {
	return func(c *Container) error {
		c.AddBeanPostProcessor(pp)
		return nil
	}
}

// AddModules applies modules to the container in order.
func (c *Container) AddModules(modules ...ModuleOption) error {
	for _, module := range modules {
		if module == nil {
			continue
		}
		if err := module(c); err != nil {
			return err
		}
	}
	return nil
}
