// ABOUTME: Dispatch boundary between the generation stage and the registry.
// ABOUTME: Turns model tool calls into Invocations whose failures become explanatory text.

package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389-research/buddy/llm"
)

// Invocation records one tool call made during generation.
type Invocation struct {
	Tool      string
	CallID    string
	Arguments map[string]any
	Result    string
	Err       error
}

// Failed reports whether the invocation produced an error message instead of a result.
func (inv Invocation) Failed() bool {
	return inv.Err != nil
}

// Message converts the invocation into a tool-role conversation message.
func (inv Invocation) Message() llm.Message {
	return llm.ToolResultMessage(inv.CallID, inv.Tool, inv.Result)
}

// Dispatch runs a model tool call. It never returns an error: unknown tools,
// malformed or invalid arguments, and handler failures are reported through
// Result as text the model can read, with Err set for the caller's records.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) Invocation {
	inv := Invocation{Tool: call.Name, CallID: call.ID}

	args, err := call.ArgumentsMap()
	if err != nil {
		inv.Err = &InvalidArgumentsError{Name: call.Name, Problems: []string{"arguments are not a JSON object: " + err.Error()}}
		if _, ok := r.lookup(call.Name); !ok {
			inv.Err = &UnknownToolError{Name: call.Name}
		}
		inv.Result = describe(call.Name, inv.Err)
		return inv
	}
	inv.Arguments = args

	out, err := r.Invoke(ctx, call.Name, args)
	if err != nil {
		inv.Err = err
		inv.Result = describe(call.Name, err)
		return inv
	}
	inv.Result = out
	return inv
}

func describe(name string, err error) string {
	var unknown *UnknownToolError
	if errors.As(err, &unknown) {
		return unknown.Error()
	}
	var invalid *InvalidArgumentsError
	if errors.As(err, &invalid) {
		return fmt.Sprintf("Tool error (%s): %s", name, invalid.Error())
	}
	var exec *ToolExecutionError
	if errors.As(err, &exec) {
		return fmt.Sprintf("Tool error (%s): %v", name, exec.Cause)
	}
	return fmt.Sprintf("Tool error (%s): %v", name, err)
}
