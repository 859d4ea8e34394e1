package weave

import (
	"context"
	"io"

	"go.uber.org/zap"
)

// DisposableBean is implemented by singletons that release resources when
// the container closes.
type DisposableBean interface {
	Destroy() error
}

// DisposableWithContext allows disposal with context for graceful shutdown.
//
// Example:
//
//	type DatabaseConnection struct {
//	    conn *sql.DB
//	}
//
//	func (dc *DatabaseConnection) Close(ctx context.Context) error {
//	    done := make(chan error, 1)
//	    go func() {
//	        done <- dc.conn.Close()
//	    }()
//
//	    select {
//	    case err := <-done:
//	        return err
//	    case <-ctx.Done():
//	        return ctx.Err()
//	    }
//	}
type DisposableWithContext interface {
	Close(ctx context.Context) error
}

// hasDestroyCallback reports whether bean needs a destroy callback.
func hasDestroyCallback(bean any, def *BeanDefinition) bool {
	if def.DestroyMethod != nil {
		return true
	}
	switch bean.(type) {
	case DisposableBean, io.Closer, DisposableWithContext:
		return true
	}
	return false
}

// destroyCallback destroys bean: Destroy, else Close, then the definition's
// destroy method.
func (c *Container) destroyCallback(name string, bean any, def *BeanDefinition) func() error {
	destroyMethod := def.DestroyMethod
	return func() error {
		c.logger.Debug("Invoking destroy callbacks on bean", zap.String("bean", name))

		var err error
		switch b := bean.(type) {
		case DisposableBean:
			err = b.Destroy()
		case io.Closer:
			err = b.Close()
		case DisposableWithContext:
			err = b.Close(context.Background())
		}
		if err != nil {
			return err
		}

		if destroyMethod != nil {
			return destroyMethod(bean)
		}
		return nil
	}
}
