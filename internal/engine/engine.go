// Package engine drives the streaming conversation/tool-call loop: it
// assembles a budgeted prompt, streams the model response, dispatches
// requested tool calls through the registry, and repeats until the model
// stops asking for tools, an iteration cap is hit, looping is detected, or
// the context is cancelled.
package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ospreyhq/osprey/internal/budget"
	"github.com/ospreyhq/osprey/internal/conversation"
	"github.com/ospreyhq/osprey/internal/memory"
	"github.com/ospreyhq/osprey/internal/provider"
	"github.com/ospreyhq/osprey/internal/skill"
	"github.com/ospreyhq/osprey/internal/tool"
)

const (
	defaultMaxIterations = 25
	defaultMaxMemories   = 10
	chunkBuffer          = 16
)

// Deps bundles the collaborators a turn needs. Everything is injected;
// the engine holds no global state.
type Deps struct {
	Provider     provider.Client
	Tools        *tool.Registry
	Memory       *memory.Store // optional; nil disables memory injection
	Conversation *conversation.Manager
	Skills       skill.Lookup // optional; required only when RunOptions name a skill
	Logger       *zap.Logger
	Hooks        Hooks
}

// Config tunes loop behavior. Zero values select defaults.
type Config struct {
	Model           string
	SystemPrompt    string
	MaxIterations   int     // provider round-trips per turn, default 25
	MaxMemoryTokens int     // explicit memory budget cap, 0 = none
	MemoryPercent   float64 // memory share of the window, 0 = default 20%
	MaxMemories     int     // relevance hits injected per turn, default 10
	MaxTokens       int     // response token cap, 0 = the model's limit
	Temperature     float32
	Retry           RetryPolicy // zero value = DefaultRetryPolicy
}

// ExecStatus is the lifecycle state of one tool execution as surfaced to
// chunk consumers.
type ExecStatus string

const (
	StatusRunning  ExecStatus = "running"
	StatusComplete ExecStatus = "complete"
	StatusError    ExecStatus = "error"
)

// ToolExecution is the UI-facing projection of one tool call. It is rebuilt
// per chunk, not a stable handle.
type ToolExecution struct {
	Name     string
	Status   ExecStatus
	Args     map[string]any
	Output   string
	Error    string
	Duration time.Duration
}

// Chunk is one element of a turn's output stream. Text arrives as Content
// deltas; tool activity arrives as ToolExecutions snapshots; exactly one
// final chunk has Done set and carries the turn totals.
type Chunk struct {
	Content              string
	ToolExecutions       []ToolExecution
	Done                 bool
	Iterations           int
	Stats                *budget.Stats
	Usage                provider.Usage
	MaxIterationsReached bool
	Cancelled            bool
	Err                  error
}

// RunOptions adjusts a single turn.
type RunOptions struct {
	// Skill names a skill whose instructions are appended to the system
	// prompt; its allowed-tool list, when present, restricts the schemas
	// offered to the model.
	Skill string
}

// Engine runs turns against one fixed set of collaborators.
type Engine struct {
	deps Deps
	cfg  Config
}

// New validates the dependency bundle and applies config defaults.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("engine requires a provider client")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("engine requires a tool registry")
	}
	if deps.Conversation == nil {
		return nil, fmt.Errorf("engine requires a conversation manager")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("engine requires a model name")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("engine")
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxMemories <= 0 {
		cfg.MaxMemories = defaultMaxMemories
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Engine{deps: deps, cfg: cfg}, nil
}
