// Package tool defines the invocation boundary between the orchestration
// core and external tool services.
//
// The core never inspects tool-specific response shapes: an invocation
// yields success or failure plus a free-form detail string, nothing more.
package tool

import (
	"context"
	"time"
)

// Result is the outcome of one tool invocation.
type Result struct {
	// Success reports whether the tool completed the action.
	Success bool `json:"success"`

	// Output is the free-form tool output on success.
	Output string `json:"output,omitempty"`

	// ErrorDetail is the free-form failure detail when Success is false.
	ErrorDetail string `json:"error_detail,omitempty"`

	// Duration is how long the invocation took.
	Duration time.Duration `json:"duration"`
}

// Invoker dispatches actions to tool services.
//
// A transport-level problem (unreachable server, closed session) is
// returned as an error; an action the tool itself reports as failed is a
// Result with Success false. Callers treat both as step failures.
type Invoker interface {
	Invoke(ctx context.Context, serverID, action string, args map[string]any, timeout time.Duration) (Result, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, serverID, action string, args map[string]any, timeout time.Duration) (Result, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, serverID, action string, args map[string]any, timeout time.Duration) (Result, error) {
	return f(ctx, serverID, action, args, timeout)
}
