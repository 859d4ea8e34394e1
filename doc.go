// Package weave provides a bean container with lifecycle management and a
// post-processor pipeline that the aop packages use to proxy beans.
//
// # Overview
//
// A Container holds named bean definitions and creates beans from them:
//   - Two scopes: Singleton and Prototype
//   - Constructor autowiring by type, parameter objects with embedded In
//   - Field injection through weave struct tags and definition properties
//   - Factory beans producing the object exposed under their name
//   - Circular references between singletons through early references
//   - Post-processors hooking into instantiation and initialization
//   - Ordered destruction honouring depends-on and injection relationships
//
// # Basic Usage
//
//	c := weave.New(weave.WithLogger(logger))
//	defer c.Close()
//
//	err := c.AddModules(
//	    weave.AddSingleton("repository", NewRepository),
//	    weave.AddSingleton("orders", NewOrderService, weave.DependsOn("migrations")),
//	    weave.AddPrototype("unitOfWork", NewUnitOfWork),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := c.PreInstantiateSingletons(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	orders, err := weave.Resolve[OrderService](ctx, c, "orders")
//
// # Dependency Injection
//
// Constructor parameters are resolved by type. A context.Context parameter
// receives the creation context and a BeanFactory parameter a factory bound
// to the creation in progress:
//
//	func NewOrderService(ctx context.Context, repo Repository) (*OrderService, error)
//
// Parameter objects select beans by name:
//
//	type ServiceParams struct {
//	    weave.In
//
//	    Primary Repository `name:"primaryRepository"`
//	    Audit   Auditor    `optional:"true"`
//	}
//
// Fields tagged weave are injected after construction, which also resolves
// circular references between singletons:
//
//	type OrderService struct {
//	    Payments *PaymentService `weave:"payments"`
//	    Audit    Auditor         `weave:",optional"`
//	}
//
// # Factory Beans
//
// A bean implementing FactoryBean is a factory: GetBean(ctx, "conn") returns
// its product, GetBean(ctx, "&conn") the factory itself.
//
// # Lifecycle
//
// After population the container calls, in order: SetBeanName,
// SetBeanFactory, PostProcessBeforeInitialization, AfterPropertiesSet, the
// definition's InitMethod and PostProcessAfterInitialization. Close destroys
// singletons through Destroy, Close or Close(ctx), then the DestroyMethod.
//
// # Concurrency
//
// Lookups are safe for concurrent use. Singleton reads are lock-free; creation
// is serialized by a lock owned by the creation chain carried in the context,
// so nested lookups made with the context a constructor receives never block
// on their own creation.
package weave
