package registry

import (
	"context"
	"sync"
)

type chainKey struct{}

// Chain identifies one top-level bean request together with every nested
// creation it triggers. It stands in for thread identity: the registry-wide
// creation lock is re-entrant for the chain that owns it.
type Chain struct {
	mu         sync.Mutex
	prototypes map[string]struct{}
}

// WithChain returns ctx carrying a creation chain, reusing the one already
// attached to ctx if present.
func WithChain(ctx context.Context) (context.Context, *Chain) {
	if ctx == nil {
		ctx = context.Background()
	}

	if c := ChainFrom(ctx); c != nil {
		return ctx, c
	}

	c := &Chain{}
	return context.WithValue(ctx, chainKey{}, c), c
}

// BindChain returns ctx carrying the chain attached to from, unless ctx
// already carries one. Lookups made with the result join the creation that
// from belongs to.
func BindChain(ctx, from context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if ChainFrom(ctx) != nil {
		return ctx
	}
	if c := ChainFrom(from); c != nil {
		return context.WithValue(ctx, chainKey{}, c)
	}
	return ctx
}

// ChainFrom returns the chain attached to ctx, or nil.
func ChainFrom(ctx context.Context) *Chain {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(chainKey{}).(*Chain)
	return c
}

// BeginPrototype marks a prototype as being created by this chain.
// It returns an error if the chain is already creating that prototype.
func (c *Chain) BeginPrototype(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.prototypes[name]; ok {
		return &InCreationError{Name: name}
	}
	if c.prototypes == nil {
		c.prototypes = make(map[string]struct{})
	}
	c.prototypes[name] = struct{}{}
	return nil
}

// EndPrototype clears the in-creation mark set by BeginPrototype.
func (c *Chain) EndPrototype(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prototypes, name)
}

// PrototypeInCreation reports whether this chain is creating the prototype.
func (c *Chain) PrototypeInCreation(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.prototypes[name]
	return ok
}

// creationLock is a mutex that the owning chain may acquire repeatedly.
// Waiters give up when their context is done.
type creationLock struct {
	mu       sync.Mutex
	owner    *Chain
	depth    int
	released chan struct{}
}

func newCreationLock() *creationLock {
	return &creationLock{released: make(chan struct{})}
}

func (l *creationLock) acquire(ctx context.Context, c *Chain) error {
	for {
		l.mu.Lock()
		if l.owner == nil || l.owner == c {
			l.owner = c
			l.depth++
			l.mu.Unlock()
			return nil
		}
		wait := l.released
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *creationLock) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.depth--
	if l.depth == 0 {
		l.owner = nil
		close(l.released)
		l.released = make(chan struct{})
	}
}
