package aspect

import (
	"fmt"

	"github.com/junioryono/weave/aop"
)

var (
	_ aop.PointcutAdvisor     = (*Advisor)(nil)
	_ aop.Ordered             = (*Advisor)(nil)
	_ aop.IntroductionAdvisor = (*introductionAdvisor)(nil)
	_ aop.PointcutAdvisor     = (*instantiationAdvisor)(nil)
)

// Advisor applies one advice declaration of an aspect.
type Advisor struct {
	pointcut         aop.Pointcut
	expression       *aop.ExpressionPointcut
	advice           *adviceInterceptor
	declaration      AdviceDeclaration
	aspectName       string
	declarationOrder int
	order            int
	perInstance      bool
}

func (a *Advisor) Pointcut() aop.Pointcut { return a.pointcut }

func (a *Advisor) Advice() aop.Advice { return a.advice }

// IsPerInstance reports whether the aspect has a per-instance model.
func (a *Advisor) IsPerInstance() bool { return a.perInstance }

// Order returns the aspect's order.
func (a *Advisor) Order() int { return a.order }

// AspectName returns the name of the aspect bean.
func (a *Advisor) AspectName() string { return a.aspectName }

func (a *Advisor) Kind() Kind { return a.declaration.Kind }

func (a *Advisor) Name() string { return a.declaration.Name }

// Expression returns the advice's own pointcut expression.
func (a *Advisor) Expression() string { return a.expression.Expression() }

// DeclarationOrder returns the advice's position among its aspect's
// advice in precedence order.
func (a *Advisor) DeclarationOrder() int { return a.declarationOrder }

// IsAspectMaterialized reports whether the aspect instance has been created.
func (a *Advisor) IsAspectMaterialized() bool { return a.advice.instance.materialized() }

func (a *Advisor) String() string {
	return fmt.Sprintf("aspect advisor %s.%s: %s advice where [%s]", a.aspectName, a.declaration.Name, a.declaration.Kind, a.expression.Expression())
}

// adviceInterceptor runs a declared advice on the aspect instance.
type adviceInterceptor struct {
	declaration AdviceDeclaration
	instance    *lazyInstance
}

func (i *adviceInterceptor) Invoke(inv aop.MethodInvocation) ([]any, error) {
	aspect, err := i.instance.get(inv.Context())
	if err != nil {
		return nil, aop.AopInvocationError{Method: inv.Method().String(), Cause: err}
	}
	return i.declaration.handle(aspect, inv)
}

// instantiationAdvisor heads the advisors of a per-instance aspect and
// creates the instance when the per-clause first matches.
type instantiationAdvisor struct {
	pointcut   aop.Pointcut
	instance   *lazyInstance
	aspectName string
	order      int
}

func (a *instantiationAdvisor) Pointcut() aop.Pointcut { return a.pointcut }

func (a *instantiationAdvisor) Advice() aop.Advice {
	return aop.MethodInterceptorFunc(func(inv aop.MethodInvocation) ([]any, error) {
		if _, err := a.instance.get(inv.Context()); err != nil {
			return nil, aop.AopInvocationError{Method: inv.Method().String(), Cause: err}
		}
		return inv.Proceed()
	})
}

func (a *instantiationAdvisor) IsPerInstance() bool { return true }

func (a *instantiationAdvisor) Order() int { return a.order }

func (a *instantiationAdvisor) AspectName() string { return a.aspectName }

// introductionAdvisor carries the aspect's order and name on top of the
// plain introduction advisor.
type introductionAdvisor struct {
	*aop.DefaultIntroductionAdvisor
	aspectName string
	order      int
}

func (a *introductionAdvisor) Order() int { return a.order }

func (a *introductionAdvisor) AspectName() string { return a.aspectName }
