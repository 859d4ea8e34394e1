package aspect

import (
	"fmt"
	"reflect"

	"github.com/junioryono/weave/aop"
)

// AdvisorFactory turns aspect declarations into advisors.
type AdvisorFactory struct {
	defs *Definitions
}

// NewAdvisorFactory returns a factory for the aspects declared in defs.
func NewAdvisorFactory(defs *Definitions) *AdvisorFactory {
	return &AdvisorFactory{defs: defs}
}

// IsAspect reports whether t is a declared aspect type.
func (f *AdvisorFactory) IsAspect(t reflect.Type) bool {
	return f.defs.IsAspect(t)
}

// Validate checks the aspect type t.
func (f *AdvisorFactory) Validate(t reflect.Type) error {
	def, ok := f.defs.Lookup(t)
	if !ok {
		return AspectConfigError{Aspect: aspectName(t), Reason: "type is not a declared aspect"}
	}
	return def.Validate()
}

// Advisors returns one advisor per advice declaration of the factory's
// aspect, in declaration precedence, followed by its introductions.
//
// The aspect instance is materialized on the first advised call and shared
// by the returned advisors. Per-instance aspects get an extra advisor in
// front that materializes the instance as soon as a matching call arrives.
func (f *AdvisorFactory) Advisors(factory InstanceFactory) ([]aop.Advisor, error) {
	t := factory.AspectType()
	def, ok := f.defs.Lookup(t)
	if !ok {
		return nil, AspectConfigError{Aspect: aspectName(t), Reason: "type is not a declared aspect"}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	instance := &lazyInstance{factory: factory}

	var perClause aop.Pointcut
	if def.Model.IsPerInstance() {
		pc, err := aop.ParseExpression(def.PerClause, def.Pointcuts)
		if err != nil {
			return nil, AspectConfigError{Aspect: factory.AspectName(), Reason: "malformed " + def.Model.String() + " clause", Cause: err}
		}
		perClause = pc
	}

	var advisors []aop.Advisor
	for i, decl := range def.sortedAdvice() {
		advisor, err := f.advisor(factory, def, decl, i, instance, perClause)
		if err != nil {
			return nil, err
		}
		if advisor != nil {
			advisors = append(advisors, advisor)
		}
	}

	if len(advisors) > 0 && def.Model.IsPerInstance() {
		trigger := &instantiationAdvisor{
			pointcut:   perClause,
			instance:   instance,
			aspectName: factory.AspectName(),
			order:      factory.Order(),
		}
		advisors = append([]aop.Advisor{trigger}, advisors...)
	}

	for _, intro := range def.Introductions {
		advisor, err := introduction(factory, intro)
		if err != nil {
			return nil, err
		}
		advisors = append(advisors, advisor)
	}
	return advisors, nil
}

// advisor builds the advisor for decl, or nil when decl has no pointcut.
func (f *AdvisorFactory) advisor(factory InstanceFactory, def *Definition, decl AdviceDeclaration, declarationOrder int, instance *lazyInstance, perClause aop.Pointcut) (aop.Advisor, error) {
	if decl.Expression == "" {
		return nil, nil
	}

	expr, err := aop.ParseExpression(decl.Expression, def.Pointcuts)
	if err != nil {
		return nil, AspectConfigError{Aspect: factory.AspectName(), Reason: fmt.Sprintf("advice %q has a malformed pointcut", decl.Name), Cause: err}
	}

	var pc aop.Pointcut = expr
	if perClause != nil {
		pc = aop.NewComposablePointcut(expr).Intersection(perClause)
	}

	return &Advisor{
		pointcut:         pc,
		expression:       expr,
		advice:           &adviceInterceptor{declaration: decl, instance: instance},
		declaration:      decl,
		aspectName:       factory.AspectName(),
		declarationOrder: declarationOrder,
		order:            factory.Order(),
		perInstance:      def.Model.IsPerInstance(),
	}, nil
}

func introduction(factory InstanceFactory, intro IntroductionDeclaration) (aop.Advisor, error) {
	pattern, err := aop.ParseExpression("within("+intro.TypesMatching+")", nil)
	if err != nil {
		return nil, AspectConfigError{Aspect: factory.AspectName(), Reason: fmt.Sprintf("introduction %q has a malformed type pattern", intro.Name), Cause: err}
	}
	if impl := reflect.TypeOf(intro.DefaultImpl()); impl == nil || !impl.Implements(intro.Interface) {
		return nil, AspectConfigError{
			Aspect: factory.AspectName(),
			Reason: fmt.Sprintf("default implementation %v of introduction %q does not implement %v", impl, intro.Name, intro.Interface),
		}
	}

	iface := intro.Interface
	typeFilter := pattern.ClassFilter()
	filter := aop.ClassFilterFunc(func(t reflect.Type) bool {
		return typeFilter.Matches(t) && !t.Implements(iface)
	})

	interceptor := aop.NewPerTargetIntroductionInterceptor(intro.DefaultImpl, iface)
	return &introductionAdvisor{
		DefaultIntroductionAdvisor: aop.NewIntroductionAdvisor(interceptor, filter, iface),
		aspectName:                 factory.AspectName(),
		order:                      factory.Order(),
	}, nil
}
