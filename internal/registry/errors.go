package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrNilProduct is returned when a producer yields nil outside of creation.
	ErrNilProduct = errors.New("factory bean returned nil product")

	// ErrDestroyInProgress is returned when creation is attempted during teardown.
	ErrDestroyInProgress = errors.New("singleton creation not allowed while singletons are being destroyed")
)

// InCreationError signals a request for a bean that is currently being
// created and for which no early reference is available.
type InCreationError struct {
	Name string
}

func (e InCreationError) Error() string {
	return fmt.Sprintf("requested bean %q is currently in creation: is there an unresolvable circular reference?", e.Name)
}

// AlreadyRegisteredError indicates a singleton name is already taken.
type AlreadyRegisteredError struct {
	Name string
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("could not register singleton %q: there is already a singleton bound under that name", e.Name)
}

// DestroyError records a failure to destroy one singleton.
type DestroyError struct {
	Name  string
	Cause error
}

func (e DestroyError) Error() string {
	return fmt.Sprintf("destroy of bean %q failed: %v", e.Name, e.Cause)
}

func (e DestroyError) Unwrap() error {
	return e.Cause
}
