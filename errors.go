package weave

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/junioryono/weave/internal/graph"
	"github.com/junioryono/weave/internal/registry"
)

// ========================================
// Core Error Values (Sentinel Errors)
// ========================================
// These are base errors that are wrapped in typed errors when returned.

var (
	// Lookup errors.
	ErrBeanNotFound  = errors.New("no such bean")
	ErrBeanNameEmpty = errors.New("bean name cannot be empty")
	ErrBeanTypeNil   = errors.New("bean type cannot be nil")
	ErrNoUniqueBean  = errors.New("more than one bean matches")

	// Lifecycle errors.
	ErrContainerClosed = errors.New("container has been closed")
	ErrNilProduct      = registry.ErrNilProduct

	// Registration errors.
	ErrFrozen            = errors.New("bean definitions are frozen")
	ErrDefinitionExists  = errors.New("bean definition already exists and overriding is disabled")
	ErrConstructorNil    = errors.New("constructor and instance cannot both be nil")
	ErrDefinitionNil     = errors.New("bean definition cannot be nil")
	ErrInvalidDefinition = errors.New("invalid bean definition")
)

var (
	_ error = NoSuchBeanError{}
	_ error = NoUniqueBeanError{}
	_ error = BeanCreationError{}
	_ error = BeanCurrentlyInCreationError{}
	_ error = BeanDefinitionError{}
	_ error = TypeMismatchError{}
	_ error = ScopeError{}
	_ error = ModuleError{}
	_ error = ConstructorPanicError{}
	_ error = DisposalError{}
	_ error = CircularDependsOnError{}
)

// ========================================
// Typed Errors for Rich Context
// ========================================

// CircularDependsOnError reports a cycle between depends-on declarations.
type CircularDependsOnError = graph.CircularDependencyError

// NoSuchBeanError indicates that no bean with the requested name or type exists.
type NoSuchBeanError struct {
	Name string
	Type reflect.Type
}

func (e NoSuchBeanError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("no bean named %q is defined", e.Name)
	}
	return fmt.Sprintf("no qualifying bean of type %s available", formatType(e.Type))
}

func (e NoSuchBeanError) Unwrap() error {
	return ErrBeanNotFound
}

// NoUniqueBeanError indicates that a lookup by type matched several beans,
// none of them primary.
type NoUniqueBeanError struct {
	Type       reflect.Type
	Candidates []string
}

func (e NoUniqueBeanError) Error() string {
	return fmt.Sprintf("no qualifying bean of type %s available: expected single matching bean but found %d: %s",
		formatType(e.Type), len(e.Candidates), strings.Join(e.Candidates, ","))
}

func (e NoUniqueBeanError) Unwrap() error {
	return ErrNoUniqueBean
}

// BeanCreationError wraps every failure to create a bean, including errors
// returned by constructors and factory beans.
type BeanCreationError struct {
	Name  string
	Cause error
}

func (e BeanCreationError) Error() string {
	return fmt.Sprintf("error creating bean with name %q: %v", e.Name, e.Cause)
}

func (e BeanCreationError) Unwrap() error {
	return e.Cause
}

// BeanCurrentlyInCreationError signals a request for a bean that is being
// created and cannot be handed out yet, typically an unresolvable circular
// reference.
type BeanCurrentlyInCreationError struct {
	Name   string
	Reason string
}

func (e BeanCurrentlyInCreationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("error creating bean with name %q: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("error creating bean with name %q: requested bean is currently in creation: is there an unresolvable circular reference?", e.Name)
}

// BeanDefinitionError indicates an invalid bean definition or registration.
type BeanDefinitionError struct {
	Name  string
	Cause error
}

func (e BeanDefinitionError) Error() string {
	return fmt.Sprintf("invalid bean definition with name %q: %v", e.Name, e.Cause)
}

func (e BeanDefinitionError) Unwrap() error {
	return e.Cause
}

// TypeMismatchError indicates a bean is not of the required type.
type TypeMismatchError struct {
	Name     string
	Expected reflect.Type
	Actual   reflect.Type
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("bean named %q is expected to be of type %s but was actually of type %s",
		e.Name, formatType(e.Expected), formatType(e.Actual))
}

// ScopeError indicates an invalid bean scope value.
type ScopeError struct {
	Value any
}

func (e ScopeError) Error() string {
	return fmt.Sprintf("invalid bean scope: %v", e.Value)
}

// ModuleError wraps errors from module registration.
type ModuleError struct {
	Module string
	Cause  error
}

func (e ModuleError) Error() string {
	return fmt.Sprintf("module %q: %v", e.Module, e.Cause)
}

func (e ModuleError) Unwrap() error {
	return e.Cause
}

// ConstructorPanicError indicates a constructor panicked during invocation.
// It captures the panic value and stack trace for debugging.
type ConstructorPanicError struct {
	Constructor reflect.Type
	Panic       any
	Stack       []byte
}

func (e ConstructorPanicError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("constructor %s panicked: %v\n", formatType(e.Constructor), e.Panic))

	if len(e.Stack) > 0 {
		b.WriteString("\nStack trace:\n")
		b.Write(e.Stack)
	}

	return b.String()
}

// DisposalError aggregates destroy failures.
type DisposalError struct {
	Errors []error
}

func (e DisposalError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("container disposal failed: %v", e.Errors[0])
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("container disposal failed with %d errors:", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("\n  %d. %v", i+1, err))
	}
	return sb.String()
}

func (e DisposalError) Unwrap() []error {
	return e.Errors
}

// IsNotFound reports whether err means a bean does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBeanNotFound)
}

// IsCurrentlyInCreation reports whether err was caused by requesting a bean
// that is still being created.
func IsCurrentlyInCreation(err error) bool {
	var inCreation BeanCurrentlyInCreationError
	if errors.As(err, &inCreation) {
		return true
	}
	var registryErr *registry.InCreationError
	return errors.As(err, &registryErr)
}

// formatType formats a reflect.Type for error messages.
func formatType(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "*" + elem.Name()
		}
		return t.String()
	case reflect.Slice:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "[]" + elem.Name()
		}
		return t.String()
	default:
		if t.Name() != "" {
			return t.Name()
		}
		return t.String()
	}
}
