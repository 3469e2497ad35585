package agent

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is logged when a backend is asked to work without its settings.
var ErrNotConfigured = errors.New("agent backend not configured")

// ErrLoopProtection indicates that the tool round limit for a message was reached
type ErrLoopProtection struct {
	Rounds int
	Max    int
}

func (e *ErrLoopProtection) Error() string {
	return fmt.Sprintf("loop protection: tool round limit reached (%d/%d)", e.Rounds, e.Max)
}

// ErrToolExecution indicates an error occurred while executing a tool
type ErrToolExecution struct {
	ToolName string
	Err      error
}

func (e *ErrToolExecution) Error() string {
	return fmt.Sprintf("tool execution error (%s): %v", e.ToolName, e.Err)
}

func (e *ErrToolExecution) Unwrap() error {
	return e.Err
}

// ErrToolNotFound indicates a requested tool does not exist
type ErrToolNotFound struct {
	ToolName string
}

func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("tool not found: %s", e.ToolName)
}
