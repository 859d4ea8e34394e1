package aop_test

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"

	"github.com/junioryono/weave/aop"
)

var errEmptyName = errors.New("name must not be empty")

type Greeter interface {
	Greet(ctx context.Context, name string) (string, error)
}

type Auditable interface {
	AuditCount() int
}

type greeter struct {
	prefix string
	calls  atomic.Int32
}

func (g *greeter) Greet(ctx context.Context, name string) (string, error) {
	g.calls.Add(1)
	if name == "" {
		return "", errEmptyName
	}
	return g.prefix + name, nil
}

func (g *greeter) Echo(v any) any { return v }

func (g *greeter) Sum(values ...int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}

// Who returns the proxy currently dispatching to g.
func (g *greeter) Who(ctx context.Context) (any, error) {
	return aop.CurrentProxy(ctx)
}

type auditor struct {
	n int
}

func (a *auditor) AuditCount() int {
	a.n++
	return a.n
}

type greeterStub struct{ aop.Stub }

func (s greeterStub) Greet(ctx context.Context, name string) (string, error) {
	return aop.Call1[string](s.Stub, "Greet", ctx, name)
}

type auditableStub struct{ aop.Stub }

func (s auditableStub) AuditCount() int {
	return aop.Must1[int](s.Stub, "AuditCount")
}

var (
	greeterType   = reflect.TypeOf((*Greeter)(nil)).Elem()
	auditableType = reflect.TypeOf((*Auditable)(nil)).Elem()
)

func init() {
	aop.RegisterStub(func(s aop.Stub) Greeter { return greeterStub{s} })
	aop.RegisterStub(func(s aop.Stub) Auditable { return auditableStub{s} })
}

// recorder appends its name to a shared log around each call.
type recorder struct {
	name  string
	order int
	log   *[]string
}

func (r *recorder) Invoke(inv aop.MethodInvocation) ([]any, error) {
	*r.log = append(*r.log, "before "+r.name)
	results, err := inv.Proceed()
	*r.log = append(*r.log, "after "+r.name)
	return results, err
}

func (r *recorder) Order() int { return r.order }
