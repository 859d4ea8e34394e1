package aop

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// Advisor holds an advice and the rule deciding where it applies.
type Advisor interface {
	Advice() Advice

	// IsPerInstance reports whether the advice is bound to one target
	// instance rather than shared.
	IsPerInstance() bool
}

// PointcutAdvisor is an advisor driven by a pointcut.
type PointcutAdvisor interface {
	Advisor
	Pointcut() Pointcut
}

// IntroductionAdvisor adds interfaces to the types its class filter accepts.
type IntroductionAdvisor interface {
	Advisor
	ClassFilter() ClassFilter
	Interfaces() []reflect.Type
	ValidateInterfaces() error
}

// DefaultPointcutAdvisor pairs a pointcut with an advice.
type DefaultPointcutAdvisor struct {
	pointcut Pointcut
	advice   Advice
	order    int
	hasOrder bool
}

// NewPointcutAdvisor returns an advisor applying advice where pc matches.
// A nil pc matches everything.
func NewPointcutAdvisor(pc Pointcut, advice Advice) *DefaultPointcutAdvisor {
	if pc == nil {
		pc = TruePointcut
	}
	return &DefaultPointcutAdvisor{pointcut: pc, advice: advice}
}

// WithOrder sets the advisor's order.
func (a *DefaultPointcutAdvisor) WithOrder(order int) *DefaultPointcutAdvisor {
	a.order, a.hasOrder = order, true
	return a
}

func (a *DefaultPointcutAdvisor) Pointcut() Pointcut { return a.pointcut }

func (a *DefaultPointcutAdvisor) Advice() Advice { return a.advice }

func (a *DefaultPointcutAdvisor) IsPerInstance() bool { return false }

// Order returns the explicit order, else the advice's order.
func (a *DefaultPointcutAdvisor) Order() int {
	if a.hasOrder {
		return a.order
	}
	return OrderOf(a.advice)
}

func (a *DefaultPointcutAdvisor) String() string {
	return fmt.Sprintf("DefaultPointcutAdvisor: pointcut [%v]; advice [%s]", a.pointcut, describe(a.advice))
}

// IntroductionInterceptor is advice implementing introduced interfaces.
type IntroductionInterceptor interface {
	MethodInterceptor
	ImplementsInterface(t reflect.Type) bool
}

// DefaultIntroductionAdvisor introduces interfaces implemented by an
// IntroductionInterceptor.
type DefaultIntroductionAdvisor struct {
	advice      IntroductionInterceptor
	interfaces  []reflect.Type
	classFilter ClassFilter
	order       int
}

// NewIntroductionAdvisor introduces interfaces on the types filter accepts.
// A nil filter accepts every type.
func NewIntroductionAdvisor(advice IntroductionInterceptor, filter ClassFilter, interfaces ...reflect.Type) *DefaultIntroductionAdvisor {
	if filter == nil {
		filter = TrueClassFilter
	}
	return &DefaultIntroductionAdvisor{
		advice:      advice,
		interfaces:  slices.Clone(interfaces),
		classFilter: filter,
		order:       LowestPrecedence,
	}
}

func (a *DefaultIntroductionAdvisor) Advice() Advice { return a.advice }

func (a *DefaultIntroductionAdvisor) IsPerInstance() bool { return true }

func (a *DefaultIntroductionAdvisor) ClassFilter() ClassFilter { return a.classFilter }

func (a *DefaultIntroductionAdvisor) Interfaces() []reflect.Type { return slices.Clone(a.interfaces) }

func (a *DefaultIntroductionAdvisor) Order() int { return a.order }

// ValidateInterfaces checks that every introduced type is an interface
// implemented by the advice.
func (a *DefaultIntroductionAdvisor) ValidateInterfaces() error {
	for _, t := range a.interfaces {
		if t.Kind() != reflect.Interface {
			return AopConfigError{Reason: fmt.Sprintf("class %v is not an interface", t)}
		}
		if !a.advice.ImplementsInterface(t) {
			return AopConfigError{Reason: fmt.Sprintf("introduction advice %s does not implement interface %v", describe(a.advice), t)}
		}
	}
	return nil
}

// DelegatingIntroductionInterceptor dispatches calls of introduced
// interfaces to one shared delegate.
type DelegatingIntroductionInterceptor struct {
	delegate   any
	interfaces []reflect.Type
}

// NewDelegatingIntroductionInterceptor introduces the given interfaces,
// served by delegate.
func NewDelegatingIntroductionInterceptor(delegate any, interfaces ...reflect.Type) *DelegatingIntroductionInterceptor {
	return &DelegatingIntroductionInterceptor{delegate: delegate, interfaces: slices.Clone(interfaces)}
}

func (d *DelegatingIntroductionInterceptor) ImplementsInterface(t reflect.Type) bool {
	return d.delegate != nil && slices.Contains(d.interfaces, t) && reflect.TypeOf(d.delegate).Implements(t)
}

func (d *DelegatingIntroductionInterceptor) Invoke(inv MethodInvocation) ([]any, error) {
	if isIntroduced(inv.Method(), d.interfaces) {
		return invokeMethod(d.delegate, inv.Method(), inv.Arguments())
	}
	return inv.Proceed()
}

// PerTargetIntroductionInterceptor serves introduced interfaces from one
// delegate per target object, created on first use.
type PerTargetIntroductionInterceptor struct {
	newDelegate func() any
	delegateT   reflect.Type
	interfaces  []reflect.Type
	delegates   sync.Map // target -> delegate
}

// NewPerTargetIntroductionInterceptor introduces interfaces, served by a
// delegate newDelegate creates for each target.
func NewPerTargetIntroductionInterceptor(newDelegate func() any, interfaces ...reflect.Type) *PerTargetIntroductionInterceptor {
	return &PerTargetIntroductionInterceptor{
		newDelegate: newDelegate,
		delegateT:   reflect.TypeOf(newDelegate()),
		interfaces:  slices.Clone(interfaces),
	}
}

func (d *PerTargetIntroductionInterceptor) ImplementsInterface(t reflect.Type) bool {
	return slices.Contains(d.interfaces, t) && d.delegateT != nil && d.delegateT.Implements(t)
}

func (d *PerTargetIntroductionInterceptor) Invoke(inv MethodInvocation) ([]any, error) {
	if !isIntroduced(inv.Method(), d.interfaces) {
		return inv.Proceed()
	}

	key := identityKey(inv.Target())
	delegate, ok := d.delegates.Load(key)
	if !ok {
		delegate, _ = d.delegates.LoadOrStore(key, d.newDelegate())
	}
	return invokeMethod(delegate, inv.Method(), inv.Arguments())
}

func isIntroduced(m Method, interfaces []reflect.Type) bool {
	return m.Owner != nil && slices.Contains(interfaces, m.Owner)
}

// identityKey returns a comparable key for obj: the pointer for reference
// types, obj itself otherwise.
func identityKey(obj any) any {
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Slice:
		return v.Pointer()
	}
	if v.IsValid() && v.Type().Comparable() {
		return obj
	}
	return fmt.Sprintf("%T:%v", obj, obj)
}
