package aop

import (
	"reflect"
	"slices"
	"strings"
)

// ClassFilter restricts a pointcut to a set of types.
type ClassFilter interface {
	Matches(t reflect.Type) bool
}

// ClassFilterFunc adapts a function to ClassFilter.
type ClassFilterFunc func(t reflect.Type) bool

func (f ClassFilterFunc) Matches(t reflect.Type) bool {
	return f(t)
}

// MethodMatcher decides whether a method is advised.
//
// Static matchers decide from the method and target type alone. When
// IsRuntime is true and Matches succeeded, MatchesArgs is consulted on
// every invocation with the actual arguments.
type MethodMatcher interface {
	Matches(m Method, t reflect.Type) bool
	IsRuntime() bool
	MatchesArgs(m Method, t reflect.Type, args []any) bool
}

// IntroductionAwareMethodMatcher is a MethodMatcher whose result may change
// when introductions apply to the target type.
type IntroductionAwareMethodMatcher interface {
	MethodMatcher
	MatchesWithIntroductions(m Method, t reflect.Type, hasIntroductions bool) bool
}

// Pointcut combines a ClassFilter and a MethodMatcher.
type Pointcut interface {
	ClassFilter() ClassFilter
	MethodMatcher() MethodMatcher
}

type trueClassFilter struct{}

func (trueClassFilter) Matches(reflect.Type) bool { return true }

type trueMethodMatcher struct{}

func (trueMethodMatcher) Matches(Method, reflect.Type) bool { return true }

func (trueMethodMatcher) IsRuntime() bool { return false }

func (trueMethodMatcher) MatchesArgs(Method, reflect.Type, []any) bool { return true }

type truePointcut struct{}

func (truePointcut) ClassFilter() ClassFilter { return TrueClassFilter }

func (truePointcut) MethodMatcher() MethodMatcher { return TrueMethodMatcher }

var (
	// TrueClassFilter matches every type.
	TrueClassFilter ClassFilter = trueClassFilter{}

	// TrueMethodMatcher matches every method.
	TrueMethodMatcher MethodMatcher = trueMethodMatcher{}

	// TruePointcut matches every method of every type.
	TruePointcut Pointcut = truePointcut{}
)

// StaticMethodMatcher adapts a predicate to a MethodMatcher that never
// needs the call arguments.
type StaticMethodMatcher func(m Method, t reflect.Type) bool

func (f StaticMethodMatcher) Matches(m Method, t reflect.Type) bool { return f(m, t) }

func (StaticMethodMatcher) IsRuntime() bool { return false }

func (f StaticMethodMatcher) MatchesArgs(m Method, t reflect.Type, _ []any) bool { return f(m, t) }

// NameMatchMethodPointcut matches methods by name. Names may start and/or
// end with '*' as a wildcard: "Get*", "*Order", "*Order*".
type NameMatchMethodPointcut struct {
	names []string
}

// NewNameMatchPointcut returns a pointcut matching any of names.
func NewNameMatchPointcut(names ...string) *NameMatchMethodPointcut {
	return &NameMatchMethodPointcut{names: slices.Clone(names)}
}

// AddMethodName adds another name pattern.
func (p *NameMatchMethodPointcut) AddMethodName(name string) *NameMatchMethodPointcut {
	p.names = append(p.names, name)
	return p
}

func (p *NameMatchMethodPointcut) ClassFilter() ClassFilter { return TrueClassFilter }

func (p *NameMatchMethodPointcut) MethodMatcher() MethodMatcher { return p }

func (p *NameMatchMethodPointcut) Matches(m Method, _ reflect.Type) bool {
	for _, name := range p.names {
		if name == m.Name || SimpleMatch(name, m.Name) {
			return true
		}
	}
	return false
}

func (p *NameMatchMethodPointcut) IsRuntime() bool { return false }

func (p *NameMatchMethodPointcut) MatchesArgs(m Method, t reflect.Type, _ []any) bool {
	return p.Matches(m, t)
}

// SimpleMatch matches s against pattern, where '*' matches any run of
// characters.
func SimpleMatch(pattern, s string) bool {
	for len(pattern) > 0 {
		if pattern[0] == '*' {
			pattern = strings.TrimLeft(pattern, "*")
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if SimpleMatch(pattern, s[i:]) {
					return true
				}
			}
			return false
		}
		if s == "" || s[0] != pattern[0] {
			return false
		}
		pattern, s = pattern[1:], s[1:]
	}
	return s == ""
}

// ComposablePointcut builds pointcuts from unions and intersections.
type ComposablePointcut struct {
	classFilter   ClassFilter
	methodMatcher MethodMatcher
}

// NewComposablePointcut starts from the given pointcut.
func NewComposablePointcut(pc Pointcut) *ComposablePointcut {
	return &ComposablePointcut{classFilter: pc.ClassFilter(), methodMatcher: pc.MethodMatcher()}
}

func (p *ComposablePointcut) ClassFilter() ClassFilter { return p.classFilter }

func (p *ComposablePointcut) MethodMatcher() MethodMatcher { return p.methodMatcher }

// Union matches where either this pointcut or other does.
func (p *ComposablePointcut) Union(other Pointcut) *ComposablePointcut {
	left, right := p.classFilter, other.ClassFilter()
	p.methodMatcher = &unionMatcher{
		a: classScopedMatcher{filter: left, matcher: p.methodMatcher},
		b: classScopedMatcher{filter: right, matcher: other.MethodMatcher()},
	}
	p.classFilter = ClassFilterFunc(func(t reflect.Type) bool { return left.Matches(t) || right.Matches(t) })
	return p
}

// Intersection matches where both this pointcut and other do.
func (p *ComposablePointcut) Intersection(other Pointcut) *ComposablePointcut {
	left, right := p.classFilter, other.ClassFilter()
	p.methodMatcher = &intersectionMatcher{a: p.methodMatcher, b: other.MethodMatcher()}
	p.classFilter = ClassFilterFunc(func(t reflect.Type) bool { return left.Matches(t) && right.Matches(t) })
	return p
}

// IntersectionMatcher returns a matcher that matches where both a and b do.
func IntersectionMatcher(a, b MethodMatcher) MethodMatcher {
	return &intersectionMatcher{a: a, b: b}
}

type classScopedMatcher struct {
	filter  ClassFilter
	matcher MethodMatcher
}

type unionMatcher struct {
	a, b classScopedMatcher
}

func (u *unionMatcher) Matches(m Method, t reflect.Type) bool {
	return u.MatchesWithIntroductions(m, t, false)
}

func (u *unionMatcher) MatchesWithIntroductions(m Method, t reflect.Type, hasIntroductions bool) bool {
	return (u.a.filter.Matches(t) && matchesMethod(u.a.matcher, m, t, hasIntroductions)) ||
		(u.b.filter.Matches(t) && matchesMethod(u.b.matcher, m, t, hasIntroductions))
}

func (u *unionMatcher) IsRuntime() bool {
	return u.a.matcher.IsRuntime() || u.b.matcher.IsRuntime()
}

func (u *unionMatcher) MatchesArgs(m Method, t reflect.Type, args []any) bool {
	return u.a.matcher.MatchesArgs(m, t, args) || u.b.matcher.MatchesArgs(m, t, args)
}

type intersectionMatcher struct {
	a, b MethodMatcher
}

func (i *intersectionMatcher) Matches(m Method, t reflect.Type) bool {
	return i.MatchesWithIntroductions(m, t, false)
}

func (i *intersectionMatcher) MatchesWithIntroductions(m Method, t reflect.Type, hasIntroductions bool) bool {
	return matchesMethod(i.a, m, t, hasIntroductions) && matchesMethod(i.b, m, t, hasIntroductions)
}

func (i *intersectionMatcher) IsRuntime() bool {
	return i.a.IsRuntime() || i.b.IsRuntime()
}

func (i *intersectionMatcher) MatchesArgs(m Method, t reflect.Type, args []any) bool {
	aArgs := !i.a.IsRuntime() || i.a.MatchesArgs(m, t, args)
	bArgs := !i.b.IsRuntime() || i.b.MatchesArgs(m, t, args)
	return aArgs && bArgs
}

// matchesMethod evaluates mm, passing hasIntroductions on to
// introduction-aware matchers.
func matchesMethod(mm MethodMatcher, m Method, t reflect.Type, hasIntroductions bool) bool {
	if ia, ok := mm.(IntroductionAwareMethodMatcher); ok {
		return ia.MatchesWithIntroductions(m, t, hasIntroductions)
	}
	return mm.Matches(m, t)
}
