package aspect

import "fmt"

var _ error = AspectConfigError{}

// AspectConfigError reports a malformed aspect declaration or an aspect bean
// that contradicts its declaration.
type AspectConfigError struct {
	Aspect string
	Reason string
	Cause  error
}

func (e AspectConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid aspect %s: %s: %v", e.Aspect, e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid aspect %s: %s", e.Aspect, e.Reason)
}

func (e AspectConfigError) Unwrap() error {
	return e.Cause
}
