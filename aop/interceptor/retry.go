package interceptor

import (
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/junioryono/weave/aop"
)

// RetryPolicy decides whether a failed call is attempted again. attempt is
// the number of attempts made so far, starting at 1.
type RetryPolicy interface {
	CanRetry(attempt int, err error) bool
}

// RetryPolicyFunc adapts a function to RetryPolicy.
type RetryPolicyFunc func(attempt int, err error) bool

func (f RetryPolicyFunc) CanRetry(attempt int, err error) bool { return f(attempt, err) }

// SimpleRetryPolicy retries up to maxAttempts attempts in total. With
// retryable errors given, only errors matching one of them through
// errors.Is are retried.
func SimpleRetryPolicy(maxAttempts int, retryable ...error) RetryPolicy {
	retryable = slices.Clone(retryable)
	return RetryPolicyFunc(func(attempt int, err error) bool {
		if err == nil || attempt >= maxAttempts {
			return false
		}
		if len(retryable) == 0 {
			return true
		}
		for _, target := range retryable {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	})
}

// AlwaysRetryPolicy retries every failure until the call succeeds or the
// back-off is interrupted.
func AlwaysRetryPolicy() RetryPolicy {
	return RetryPolicyFunc(func(_ int, err error) bool { return err != nil })
}

// NeverRetryPolicy allows the first attempt only.
func NeverRetryPolicy() RetryPolicy {
	return RetryPolicyFunc(func(int, error) bool { return false })
}

// CompositeRetryPolicy combines policies. An optimistic composite retries
// when any policy allows it, a pessimistic one only when all do. A
// composite without policies never retries.
func CompositeRetryPolicy(optimistic bool, policies ...RetryPolicy) RetryPolicy {
	policies = slices.Clone(policies)
	return RetryPolicyFunc(func(attempt int, err error) bool {
		if len(policies) == 0 {
			return false
		}
		for _, p := range policies {
			ok := p.CanRetry(attempt, err)
			if optimistic && ok {
				return true
			}
			if !optimistic && !ok {
				return false
			}
		}
		return !optimistic
	})
}

// RetryOption configures Retry.
type RetryOption func(*retry)

// WithRetryLogger reports retried attempts to logger.
func WithRetryLogger(logger *zap.Logger) RetryOption {
	return func(r *retry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

type retry struct {
	policy  RetryPolicy
	backOff BackOff
	logger  *zap.Logger
}

// Retry returns an interceptor proceeding again while policy allows it,
// pausing with backOff between attempts. Every attempt proceeds on a clone
// of the invocation so the rest of the chain runs again in full.
//
// When the policy gives up or the back-off is interrupted by the call's
// context, the error of the last attempt is returned unchanged.
func Retry(policy RetryPolicy, backOff BackOff, opts ...RetryOption) aop.MethodInterceptor {
	r := &retry{policy: policy, backOff: backOff, logger: zap.NewNop()}
	if r.policy == nil {
		r.policy = NeverRetryPolicy()
	}
	if r.backOff == nil {
		r.backOff = NoBackOff()
	}
	for _, opt := range opts {
		opt(r)
	}
	return aop.MethodInterceptorFunc(r.invoke)
}

func (r *retry) invoke(inv aop.MethodInvocation) ([]any, error) {
	for attempt := 1; ; attempt++ {
		results, err := inv.Clone().Proceed()
		if err == nil {
			return results, nil
		}
		if !r.policy.CanRetry(attempt, err) {
			return results, err
		}

		r.logger.Debug("retrying method",
			zap.String("method", inv.Method().String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if backOffErr := r.backOff.BackOff(inv.Context(), attempt); backOffErr != nil {
			return results, err
		}
	}
}
