package testutil

import (
	"errors"
	"slices"
	"sync"
)

// Common test errors
var (
	ErrTest        = errors.New("test error")
	ErrIntentional = errors.New("intentional error")
	ErrConstructor = errors.New("constructor error")
	ErrDisposal    = errors.New("disposal error")
)

// EventLog records lifecycle events in the order they happen.
type EventLog struct {
	mu     sync.Mutex
	events []string
}

// Add records an event.
func (l *EventLog) Add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

// Events returns a copy of the recorded events.
func (l *EventLog) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// Repository is a test storage interface.
type Repository interface {
	Find(id string) (string, bool)
	Save(id, value string)
}

// MemoryRepository implements Repository.
type MemoryRepository struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[string]string)}
}

func (r *MemoryRepository) Find(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[id]
	return v, ok
}

func (r *MemoryRepository) Save(id, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[id] = value
}

// Service depends on a Repository through its constructor.
type Service struct {
	Repo   Repository
	Prefix string
}

// NewService creates a Service.
func NewService(repo Repository) *Service {
	return &Service{Repo: repo}
}

// CircularA and CircularB reference each other through injected fields.
type CircularA struct {
	B *CircularB `weave:"b"`
}

type CircularB struct {
	A *CircularA `weave:"a"`
}

// CtorCircularA and CtorCircularB reference each other through constructors.
type CtorCircularA struct{ B *CtorCircularB }
type CtorCircularB struct{ A *CtorCircularA }

func NewCtorCircularA(b *CtorCircularB) *CtorCircularA { return &CtorCircularA{B: b} }
func NewCtorCircularB(a *CtorCircularA) *CtorCircularB { return &CtorCircularB{A: a} }
