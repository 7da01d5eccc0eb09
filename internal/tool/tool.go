package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Func executes one call. Implementations should honor ctx if they spawn
// subprocesses or block on I/O; the runtime only stops scheduling new calls
// on cancellation, it never kills work already in flight.
type Func func(ctx context.Context, args map[string]any) (string, error)

// Tool is one named capability the model can invoke.
type Tool struct {
	Name        string
	Description string
	SchemaJSON  string // JSON schema for arguments; empty skips local validation
	Danger      DangerPolicy
	Fn          Func
}

// ValidateArgs checks the provided arguments against the tool's JSON schema.
func (t Tool) ValidateArgs(args map[string]any) error {
	if t.SchemaJSON == "" {
		return nil
	}
	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &ValidationError{ToolName: t.Name, Problems: msgs}
	}
	return nil
}

// Call is one requested invocation within a batch.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Result is the outcome of executing one call. Failures are values, never
// panics or returned errors: the transcript shows Error and the conversation
// continues.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	// Duration is how long the tool function ran; zero for calls that never
	// started (declined, cancelled, unknown).
	Duration time.Duration `json:"-"`
	// Err carries the typed failure for callers that branch on kind; the
	// transcript only ever sees the Error text.
	Err error `json:"-"`
}

// Text returns what gets echoed back into the conversation for this result.
func (r Result) Text() string {
	if r.Success {
		return r.Output
	}
	return "Error: " + r.Error
}

// NotFoundError reports a call to a name no registered tool carries.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// IsNotFound reports whether the result failed because the tool is absent.
func IsNotFound(r Result) bool {
	var nf *NotFoundError
	return errors.As(r.Err, &nf)
}

// ValidationError reports arguments rejected by a tool's schema.
type ValidationError struct {
	ToolName string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.ToolName, strings.Join(e.Problems, "; "))
}
