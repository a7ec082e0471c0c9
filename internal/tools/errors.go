package tools

import "fmt"

// ErrToolUnavailable is returned when the model calls a tool that is not
// in the registry for this run, for example forwardTool when no forward
// rules are configured.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// ErrSideEffect wraps a failure of a tool's external action (for
// example the inbox provider rejecting a forward). Unlike ordinary tool
// errors, which are reported back to the model, it ends the run.
type ErrSideEffect struct {
	ToolName string
	Err      error
}

// Error implements the error interface.
func (e *ErrSideEffect) Error() string {
	return fmt.Sprintf("tool %q: %v", e.ToolName, e.Err)
}

// Unwrap returns the underlying error.
func (e *ErrSideEffect) Unwrap() error {
	return e.Err
}
