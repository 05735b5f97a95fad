// ABOUTME: Typed errors returned by the tool registry.
// ABOUTME: Dispatch converts each of them into an explanatory message for the model.

package tools

import (
	"fmt"
	"strings"
)

// DuplicateToolError is returned when registering a name that already exists.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// UnknownToolError is returned when invoking a name that is not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("Unknown tool: %s", e.Name)
}

// InvalidArgumentsError is returned when arguments do not match the tool's parameters.
type InvalidArgumentsError struct {
	Name     string
	Problems []string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Name, strings.Join(e.Problems, "; "))
}

// ToolExecutionError wraps a failure raised by a tool handler.
type ToolExecutionError struct {
	Name  string
	Cause error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Name, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}
