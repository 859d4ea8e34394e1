// Package aspect resolves advisors from aspect beans.
//
// An aspect is an ordinary bean whose type was declared with Define. The
// declaration names pointcuts and binds advice kinds to method expressions
// of the aspect type:
//
//	defs := aspect.NewDefinitions()
//	err := aspect.Define(defs, func(d *aspect.Declarer[*LoggingAspect]) {
//	    d.Pointcut("service", "within(orders.*)")
//	    d.Around("logCall", "service()", (*LoggingAspect).LogCall)
//	    d.AfterThrowing("logFailure", "service()", (*LoggingAspect).LogFailure)
//	})
//
// A Builder scans a bean factory for beans of declared aspect types and turns
// every declared advice into an aop.Advisor.
package aspect

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/junioryono/weave/aop"
)

// Kind is the kind of an advice declaration.
type Kind int

// Advice kinds in precedence order.
const (
	Around Kind = iota
	Before
	After
	AfterReturning
	AfterThrowing
)

func (k Kind) String() string {
	switch k {
	case Around:
		return "around"
	case Before:
		return "before"
	case After:
		return "after"
	case AfterReturning:
		return "after-returning"
	case AfterThrowing:
		return "after-throwing"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Model is the instantiation model of an aspect.
type Model int

const (
	// SingletonModel shares one aspect instance between all advised beans.
	SingletonModel Model = iota

	// PerThisModel creates one aspect instance per proxy.
	PerThisModel

	// PerTargetModel creates one aspect instance per advised target.
	PerTargetModel
)

func (m Model) String() string {
	switch m {
	case SingletonModel:
		return "singleton"
	case PerThisModel:
		return "perthis"
	case PerTargetModel:
		return "pertarget"
	default:
		return fmt.Sprintf("Model(%d)", int(m))
	}
}

// IsPerInstance reports whether the model creates more than one instance.
func (m Model) IsPerInstance() bool {
	return m != SingletonModel
}

// handler runs one advice on an aspect instance.
type handler func(aspect any, inv aop.MethodInvocation) ([]any, error)

// AdviceDeclaration binds an advice kind and pointcut to an aspect method.
type AdviceDeclaration struct {
	Name       string
	Kind       Kind
	Expression string

	handle handler
}

// IntroductionDeclaration makes types matching TypesMatching implement
// Interface, served by instances DefaultImpl creates.
type IntroductionDeclaration struct {
	Name          string
	TypesMatching string
	Interface     reflect.Type
	DefaultImpl   func() any
}

// Definition is the declaration of one aspect type.
type Definition struct {
	Type          reflect.Type
	Model         Model
	PerClause     string
	Pointcuts     map[string]string
	Advice        []AdviceDeclaration
	Introductions []IntroductionDeclaration

	order    int
	hasOrder bool
}

// Order returns the declared order of the aspect and whether one was set.
func (d *Definition) Order() (int, bool) {
	return d.order, d.hasOrder
}

// Validate checks the declaration for errors that make the aspect unusable.
func (d *Definition) Validate() error {
	name := aspectName(d.Type)
	if d.Type == nil {
		return AspectConfigError{Aspect: name, Reason: "aspect type is nil"}
	}
	if d.Model.IsPerInstance() && d.PerClause == "" {
		return AspectConfigError{Aspect: name, Reason: fmt.Sprintf("%s aspect requires a pointcut expression", d.Model)}
	}

	seen := make(map[string]bool)
	for _, a := range d.Advice {
		if a.Name == "" {
			return AspectConfigError{Aspect: name, Reason: "advice declaration without name"}
		}
		if seen[a.Name] {
			return AspectConfigError{Aspect: name, Reason: fmt.Sprintf("advice %q declared twice", a.Name)}
		}
		if _, ok := d.Pointcuts[a.Name]; ok {
			return AspectConfigError{Aspect: name, Reason: fmt.Sprintf("advice %q clashes with a pointcut of the same name", a.Name)}
		}
		if a.Kind < Around || a.Kind > AfterThrowing {
			return AspectConfigError{Aspect: name, Reason: fmt.Sprintf("advice %q has unknown kind %v", a.Name, a.Kind)}
		}
		if a.handle == nil {
			return AspectConfigError{Aspect: name, Reason: fmt.Sprintf("advice %q has no handler", a.Name)}
		}
		seen[a.Name] = true
	}

	for _, intro := range d.Introductions {
		switch {
		case intro.Interface == nil || intro.Interface.Kind() != reflect.Interface:
			return AspectConfigError{Aspect: name, Reason: fmt.Sprintf("introduction %q must name an interface", intro.Name)}
		case intro.DefaultImpl == nil:
			return AspectConfigError{Aspect: name, Reason: fmt.Sprintf("introduction %q has no default implementation", intro.Name)}
		case intro.TypesMatching == "":
			return AspectConfigError{Aspect: name, Reason: fmt.Sprintf("introduction %q has no type pattern", intro.Name)}
		}
	}
	return nil
}

// sortedAdvice returns the advice declarations in kind precedence order,
// then by name.
func (d *Definition) sortedAdvice() []AdviceDeclaration {
	out := slices.Clone(d.Advice)
	slices.SortStableFunc(out, func(a, b AdviceDeclaration) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Definitions holds aspect declarations by aspect type.
type Definitions struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*Definition
}

// NewDefinitions returns an empty set of declarations.
func NewDefinitions() *Definitions {
	return &Definitions{byType: make(map[reflect.Type]*Definition)}
}

// Lookup returns the declaration for the aspect type t.
func (d *Definitions) Lookup(t reflect.Type) (*Definition, bool) {
	if t == nil {
		return nil, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.byType[t]
	return def, ok
}

// IsAspect reports whether t was declared as an aspect.
func (d *Definitions) IsAspect(t reflect.Type) bool {
	_, ok := d.Lookup(t)
	return ok
}

func (d *Definitions) add(def *Definition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byType[def.Type]; ok {
		return AspectConfigError{Aspect: aspectName(def.Type), Reason: "aspect declared twice"}
	}
	d.byType[def.Type] = def
	return nil
}

// Define declares A as an aspect. declare registers pointcuts, advice and
// introductions on the Declarer; the declaration is validated before it is
// added.
func Define[A any](defs *Definitions, declare func(d *Declarer[A])) error {
	t := reflect.TypeFor[A]()
	if declare == nil {
		return AspectConfigError{Aspect: aspectName(t), Reason: "no declaration function"}
	}

	d := &Declarer[A]{def: &Definition{Type: t, Pointcuts: make(map[string]string)}}
	declare(d)
	if d.err != nil {
		return d.err
	}
	if err := d.def.Validate(); err != nil {
		return err
	}
	return defs.add(d.def)
}

// Declarer collects the declaration of aspect type A.
type Declarer[A any] struct {
	def *Definition
	err error
}

func (d *Declarer[A]) fail(reason string) {
	if d.err == nil {
		d.err = AspectConfigError{Aspect: aspectName(d.def.Type), Reason: reason}
	}
}

// Pointcut declares a named pointcut other expressions reference as name().
func (d *Declarer[A]) Pointcut(name, expr string) {
	if name == "" {
		d.fail("pointcut declaration without name")
		return
	}
	if _, ok := d.def.Pointcuts[name]; ok {
		d.fail(fmt.Sprintf("pointcut %q declared twice", name))
		return
	}
	d.def.Pointcuts[name] = expr
}

// Around declares advice running around matched calls. The handler decides
// whether to proceed.
func (d *Declarer[A]) Around(name, expr string, fn func(a A, inv aop.MethodInvocation) ([]any, error)) {
	if fn == nil {
		d.fail(fmt.Sprintf("advice %q has no handler", name))
		return
	}
	d.advice(name, Around, expr, func(aspect any, inv aop.MethodInvocation) ([]any, error) {
		return fn(aspect.(A), inv)
	})
}

// Before declares advice running before matched calls. An error aborts the
// call.
func (d *Declarer[A]) Before(name, expr string, fn func(a A, jp aop.JoinPoint) error) {
	if fn == nil {
		d.fail(fmt.Sprintf("advice %q has no handler", name))
		return
	}
	d.advice(name, Before, expr, func(aspect any, inv aop.MethodInvocation) ([]any, error) {
		if err := fn(aspect.(A), inv); err != nil {
			return nil, err
		}
		return inv.Proceed()
	})
}

// After declares advice running after matched calls however they end. An
// error from the advice replaces the call's outcome.
func (d *Declarer[A]) After(name, expr string, fn func(a A, jp aop.JoinPoint) error) {
	if fn == nil {
		d.fail(fmt.Sprintf("advice %q has no handler", name))
		return
	}
	d.advice(name, After, expr, func(aspect any, inv aop.MethodInvocation) ([]any, error) {
		results, err := inv.Proceed()
		if afterErr := fn(aspect.(A), inv); afterErr != nil {
			return nil, afterErr
		}
		return results, err
	})
}

// AfterReturning declares advice running after matched calls that returned
// without error.
func (d *Declarer[A]) AfterReturning(name, expr string, fn func(a A, jp aop.JoinPoint, results []any) error) {
	if fn == nil {
		d.fail(fmt.Sprintf("advice %q has no handler", name))
		return
	}
	d.advice(name, AfterReturning, expr, func(aspect any, inv aop.MethodInvocation) ([]any, error) {
		results, err := inv.Proceed()
		if err != nil {
			return results, err
		}
		if afterErr := fn(aspect.(A), inv, results); afterErr != nil {
			return nil, afterErr
		}
		return results, nil
	})
}

// AfterThrowing declares advice running when a matched call returns an
// error. The original error propagates unless the advice returns another.
func (d *Declarer[A]) AfterThrowing(name, expr string, fn func(a A, jp aop.JoinPoint, err error) error) {
	if fn == nil {
		d.fail(fmt.Sprintf("advice %q has no handler", name))
		return
	}
	d.advice(name, AfterThrowing, expr, func(aspect any, inv aop.MethodInvocation) ([]any, error) {
		results, err := inv.Proceed()
		if err == nil {
			return results, nil
		}
		if replaced := fn(aspect.(A), inv, err); replaced != nil {
			return nil, replaced
		}
		return results, err
	})
}

func (d *Declarer[A]) advice(name string, kind Kind, expr string, h handler) {
	d.def.Advice = append(d.def.Advice, AdviceDeclaration{Name: name, Kind: kind, Expression: expr, handle: h})
}

// DeclareParents introduces iface, a pointer to an interface type, to every
// type matching typesMatching. Each advised target gets its own
// implementation from defaultImpl.
func (d *Declarer[A]) DeclareParents(name, typesMatching string, iface any, defaultImpl func() any) {
	t := reflect.TypeOf(iface)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Interface {
		d.fail(fmt.Sprintf("introduction %q: argument must be a pointer to an interface", name))
		return
	}
	d.def.Introductions = append(d.def.Introductions, IntroductionDeclaration{
		Name:          name,
		TypesMatching: typesMatching,
		Interface:     t.Elem(),
		DefaultImpl:   defaultImpl,
	})
}

// PerThis creates one aspect instance per proxy matched by expr.
func (d *Declarer[A]) PerThis(expr string) {
	d.def.Model = PerThisModel
	d.def.PerClause = expr
}

// PerTarget creates one aspect instance per target matched by expr.
func (d *Declarer[A]) PerTarget(expr string) {
	d.def.Model = PerTargetModel
	d.def.PerClause = expr
}

// Order sets the precedence of the aspect's advisors.
func (d *Declarer[A]) Order(order int) {
	d.def.order = order
	d.def.hasOrder = true
}

func aspectName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
