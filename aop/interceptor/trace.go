// Package interceptor provides stock method interceptors: call tracing,
// performance monitoring and retry.
//
// Each constructor returns an aop.MethodInterceptor that can be added to a
// proxy factory directly or registered as a bean and named as a common
// interceptor of an auto-proxy creator:
//
//	pf := aop.NewProxyFactory(service)
//	pf.AddAdvice(interceptor.Trace(logger, zapcore.DebugLevel))
//	pf.AddAdvice(interceptor.Retry(interceptor.SimpleRetryPolicy(3), interceptor.FixedBackOff(time.Second)))
package interceptor

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/junioryono/weave/aop"
)

// Trace returns an interceptor logging the entry and exit of every call at
// level. Failed calls are logged at error level with the returned error.
func Trace(logger *zap.Logger, level zapcore.Level) aop.MethodInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return aop.MethodInterceptorFunc(func(inv aop.MethodInvocation) ([]any, error) {
		method := inv.Method().String()
		if ce := logger.Check(level, "entering method"); ce != nil {
			ce.Write(zap.String("method", method), zap.Int("args", len(inv.Arguments())))
		}

		results, err := inv.Proceed()
		if err != nil {
			logger.Error("method failed", zap.String("method", method), zap.Error(err))
			return results, err
		}

		if ce := logger.Check(level, "exiting method"); ce != nil {
			ce.Write(zap.String("method", method), zap.Int("results", len(results)))
		}
		return results, nil
	})
}

// Performance returns an interceptor logging the time every call takes at
// debug level.
func Performance(logger *zap.Logger) aop.MethodInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return aop.MethodInterceptorFunc(func(inv aop.MethodInvocation) ([]any, error) {
		ce := logger.Check(zapcore.DebugLevel, "method completed")
		if ce == nil {
			return inv.Proceed()
		}

		start := time.Now()
		results, err := inv.Proceed()
		ce.Write(
			zap.String("method", inv.Method().String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Bool("failed", err != nil),
		)
		return results, err
	})
}
