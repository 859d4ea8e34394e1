package aop

import (
	"reflect"
	"slices"
)

// CanApplyPointcut reports whether pc can apply to any method of t.
//
// The class filter is checked first. A pointcut matching every method
// applies without looking at methods; otherwise the candidate methods of t
// (see MethodsOf) are tried until one matches.
func CanApplyPointcut(pc Pointcut, t reflect.Type, hasIntroductions bool) bool {
	if pc == nil || t == nil {
		return false
	}
	if !pc.ClassFilter().Matches(t) {
		return false
	}

	mm := pc.MethodMatcher()
	if mm == TrueMethodMatcher {
		return true
	}

	for _, m := range MethodsOf(t) {
		if matchesMethod(mm, m, t, hasIntroductions) {
			return true
		}
	}
	return false
}

// CanApply reports whether advisor can apply to type t. Introduction
// advisors only consult their class filter. Advisors that are neither
// pointcut nor introduction advisors apply everywhere.
func CanApply(advisor Advisor, t reflect.Type, hasIntroductions bool) bool {
	switch a := advisor.(type) {
	case IntroductionAdvisor:
		return t != nil && a.ClassFilter().Matches(t)
	case PointcutAdvisor:
		return CanApplyPointcut(a.Pointcut(), t, hasIntroductions)
	default:
		return true
	}
}

// FindAdvisorsThatCanApply returns the candidates applicable to t.
//
// Introduction advisors are evaluated first. Whether any of them applied is
// then passed to the matchers of the remaining advisors, since
// introduction-aware matchers answer differently once introductions exist.
func FindAdvisorsThatCanApply(candidates []Advisor, t reflect.Type) []Advisor {
	if len(candidates) == 0 {
		return nil
	}

	var eligible []Advisor
	for _, candidate := range candidates {
		if _, ok := candidate.(IntroductionAdvisor); ok && CanApply(candidate, t, false) {
			eligible = append(eligible, candidate)
		}
	}

	hasIntroductions := len(eligible) > 0
	for _, candidate := range candidates {
		if _, ok := candidate.(IntroductionAdvisor); ok {
			continue
		}
		if CanApply(candidate, t, hasIntroductions) {
			eligible = append(eligible, candidate)
		}
	}
	return eligible
}

// SortAdvisors orders advisors by Order. Advisors with equal order keep
// their relative position.
func SortAdvisors(advisors []Advisor) {
	slices.SortStableFunc(advisors, func(a, b Advisor) int {
		oa, ob := OrderOf(a), OrderOf(b)
		switch {
		case oa < ob:
			return -1
		case oa > ob:
			return 1
		}
		return 0
	})
}
