package aop

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCurrentProxy is returned by CurrentProxy outside an exposed proxy call.
	ErrNoCurrentProxy = errors.New("cannot find current proxy: set ExposeProxy on the proxy configuration")

	// ErrFrozen is returned when a frozen proxy configuration is modified.
	ErrFrozen = errors.New("cannot modify a frozen proxy configuration")

	// ErrMethodNotExposed is returned when a proxy does not expose the called method.
	ErrMethodNotExposed = errors.New("method is not exposed by the proxy")
)

var (
	_ error = AopConfigError{}
	_ error = AopInvocationError{}
	_ error = ProxyStateError{}
	_ error = UnknownAdviceTypeError{}
	_ error = ExpressionError{}
)

// AopConfigError indicates an invalid proxy or advisor configuration.
type AopConfigError struct {
	Reason string
	Cause  error
}

func (e AopConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid AOP configuration: %s: %v", e.Reason, e.Cause)
	}
	return "invalid AOP configuration: " + e.Reason
}

func (e AopConfigError) Unwrap() error {
	return e.Cause
}

// AopInvocationError reports a failure to dispatch a call to its target by
// reflection. Errors returned by the target itself are never wrapped in it.
type AopInvocationError struct {
	Method string
	Cause  error
}

func (e AopInvocationError) Error() string {
	return fmt.Sprintf("could not invoke method %s: %v", e.Method, e.Cause)
}

func (e AopInvocationError) Unwrap() error {
	return e.Cause
}

// ProxyStateError reports that the current proxy is not available.
type ProxyStateError struct {
	Cause error
}

func (e ProxyStateError) Error() string {
	return e.Cause.Error()
}

func (e ProxyStateError) Unwrap() error {
	return e.Cause
}

// UnknownAdviceTypeError reports advice no adapter can turn into an interceptor.
type UnknownAdviceTypeError struct {
	Advice any
}

func (e UnknownAdviceTypeError) Error() string {
	return fmt.Sprintf("advice object %T is neither a supported subinterface of Advice nor an Advisor", e.Advice)
}

// ExpressionError reports a malformed pointcut expression.
type ExpressionError struct {
	Expression string
	Pos        int
	Reason     string
}

func (e ExpressionError) Error() string {
	return fmt.Sprintf("malformed pointcut expression %q at offset %d: %s", e.Expression, e.Pos, e.Reason)
}
