package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ospreyhq/osprey/internal/provider"
)

// DecisionKind is the confirmation handler's answer for a whole batch.
type DecisionKind int

const (
	// ApproveAll runs every call in the batch.
	ApproveAll DecisionKind = iota
	// DeclineAll fails the dangerous calls; safe calls still run.
	DeclineAll
	// ApproveOne approves exactly one dangerous action by its position in
	// ConfirmationRequest.Actions; the other dangerous calls are declined.
	ApproveOne
)

// Decision is the outcome of one confirmation request.
type Decision struct {
	Kind          DecisionKind
	ApprovedIndex int // used when Kind == ApproveOne
}

// DangerousAction describes one call needing confirmation.
type DangerousAction struct {
	BatchIndex  int // position of the call in the batch
	Tool        string
	Description string
}

// ConfirmationRequest is issued at most once per batch and lists every
// dangerous action in it.
type ConfirmationRequest struct {
	Actions []DangerousAction
}

// ConfirmFunc answers a confirmation request. It is the batch's single
// interactive suspension point; implementations typically prompt a human.
type ConfirmFunc func(ctx context.Context, req ConfirmationRequest) Decision

// Registry holds the runtime's callable tools and gates dangerous calls
// behind a confirmation handler. All collaborators are injected; there is no
// shared registry instance.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	confirm ConfirmFunc
	logger  *zap.Logger
}

// NewRegistry returns an empty registry. confirm may be nil, in which case
// every call runs unprompted.
func NewRegistry(logger *zap.Logger, confirm ConfirmFunc) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		confirm: confirm,
		logger:  logger.Named("tools"),
	}
}

// Register adds a tool. Duplicate names fail so a remote bridge can never
// silently shadow a local tool.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if t.Fn == nil {
		return fmt.Errorf("tool %q has no function", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.logger.Debug("tool registered", zap.String("name", t.Name))
	return nil
}

// Unregister removes a tool if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns provider-facing schemas for every tool, sorted by name so
// assembled prompts stay stable across runs.
func (r *Registry) Schemas() []provider.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]provider.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, provider.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			JSONSchema:  t.SchemaJSON,
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Execute runs one tool call. Unknown names, schema violations, returned
// errors, and panics all come back as failed Results; nothing propagates.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (res Result) {
	t, ok := r.Get(name)
	if !ok {
		err := &NotFoundError{Name: name}
		return Result{Success: false, Error: err.Error(), Err: err}
	}

	if err := t.ValidateArgs(args); err != nil {
		return Result{Success: false, Error: err.Error(), Err: err}
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked",
				zap.String("name", name), zap.Any("panic", rec))
			res = Result{
				Success:  false,
				Error:    fmt.Sprintf("tool %s panicked: %v", name, rec),
				Duration: time.Since(start),
			}
		}
	}()

	out, err := t.Fn(ctx, args)
	if err != nil {
		return Result{Success: false, Error: err.Error(), Err: err, Duration: time.Since(start)}
	}
	return Result{Success: true, Output: out, Duration: time.Since(start)}
}

// ExecuteBatch runs a batch of calls sequentially in request order. If any
// call is dangerous and a confirmation handler is installed, exactly one
// confirmation request covers the whole batch. Results align with calls.
func (r *Registry) ExecuteBatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))

	approved := r.gate(ctx, calls)

	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			results[i] = Result{Success: false, Error: "cancelled", Err: err}
			continue
		}
		if !approved[i] {
			results[i] = Result{Success: false, Error: "declined"}
			continue
		}
		results[i] = r.Execute(ctx, call.Name, call.Args)
	}
	return results
}

// gate decides per-call approval for one batch. Calls to unknown tools pass
// through so Execute can report them as not found.
func (r *Registry) gate(ctx context.Context, calls []Call) []bool {
	approved := make([]bool, len(calls))
	for i := range approved {
		approved[i] = true
	}
	if r.confirm == nil {
		return approved
	}

	var actions []DangerousAction
	for i, call := range calls {
		t, ok := r.Get(call.Name)
		if !ok {
			continue
		}
		if desc, dangerous := t.Danger.Evaluate(call.Args); dangerous {
			actions = append(actions, DangerousAction{
				BatchIndex:  i,
				Tool:        call.Name,
				Description: desc,
			})
		}
	}
	if len(actions) == 0 {
		return approved
	}

	decision := r.confirm(ctx, ConfirmationRequest{Actions: actions})
	r.logger.Info("batch confirmation",
		zap.Int("dangerous", len(actions)),
		zap.Int("decision", int(decision.Kind)))

	switch decision.Kind {
	case ApproveAll:
		// nothing to do
	case ApproveOne:
		for ai, action := range actions {
			if ai != decision.ApprovedIndex {
				approved[action.BatchIndex] = false
			}
		}
		// An out-of-range index approves nothing.
		if decision.ApprovedIndex < 0 || decision.ApprovedIndex >= len(actions) {
			for _, action := range actions {
				approved[action.BatchIndex] = false
			}
		}
	default:
		for _, action := range actions {
			approved[action.BatchIndex] = false
		}
	}
	return approved
}
