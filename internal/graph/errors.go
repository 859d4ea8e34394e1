package graph

import (
	"fmt"
	"strings"
)

// CircularDependencyError represents a cycle between depends-on declarations.
type CircularDependencyError struct {
	Bean string
	Path []string
}

func (e CircularDependencyError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("circular depends-on relationship for bean %q:\n\n", e.Bean))

	if len(e.Path) == 0 {
		b.WriteString(fmt.Sprintf("    %s\n", e.Bean))
		b.WriteString("      ↓\n")
		b.WriteString(fmt.Sprintf("    %s (cycle)\n", e.Bean))
	} else {
		for i, name := range e.Path {
			b.WriteString(fmt.Sprintf("    %s\n", name))
			if i < len(e.Path)-1 {
				b.WriteString("      ↓\n")
			}
		}
		b.WriteString("      ↓\n")
		b.WriteString(fmt.Sprintf("    %s (cycle)\n", e.Path[0]))
	}

	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Remove one of the depends-on declarations\n")
	b.WriteString("  • Use property injection, which tolerates circular references between singletons\n")

	return b.String()
}
