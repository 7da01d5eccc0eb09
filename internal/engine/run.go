package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ospreyhq/osprey/internal/budget"
	"github.com/ospreyhq/osprey/internal/provider"
	"github.com/ospreyhq/osprey/internal/tool"
)

// cancelledMarker is appended to partial assistant content preserved in
// history when a turn is cancelled mid-stream.
const cancelledMarker = "[cancelled]"

// RunStream executes one turn for the given task and returns its chunk
// stream. The sequence is lazy, finite, and non-restartable; the channel
// closes after the final Done chunk. Callers must drain the channel until it
// closes, including after cancelling ctx.
func (e *Engine) RunStream(ctx context.Context, task string, opts RunOptions) <-chan Chunk {
	out := make(chan Chunk, chunkBuffer)
	go e.run(ctx, task, opts, out)
	return out
}

// turnState accumulates across the iterations of one turn.
type turnState struct {
	iterations int
	callIDs    []string
	totals     provider.Usage
	stats      budget.Stats
}

func (e *Engine) run(ctx context.Context, task string, opts RunOptions, out chan<- Chunk) {
	defer close(out)
	t := &turnState{}

	system, schemas, err := e.prepareSystem(opts)
	if err != nil {
		out <- Chunk{Done: true, Err: err}
		return
	}

	e.deps.Conversation.Append(provider.Message{Role: provider.RoleUser, Content: task})

	for t.iterations < e.cfg.MaxIterations {
		if ctx.Err() != nil {
			e.finishCancelled(t, out)
			return
		}
		e.deps.Hooks.OnIterationStart(ctx, t.iterations+1)

		msgs, stats := e.assemblePrompt(task, system)
		t.stats = stats

		req := provider.Request{
			Model:       e.cfg.Model,
			Messages:    msgs,
			Tools:       schemas,
			MaxTokens:   e.maxTokens(),
			Temperature: e.cfg.Temperature,
		}
		res, err := e.streamResponse(ctx, req, out)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				e.preservePartial(res.content)
				e.finishCancelled(t, out)
				return
			}
			e.deps.Logger.Error("provider stream failed", zap.Error(err))
			out <- Chunk{Done: true, Err: err, Iterations: t.iterations, Stats: &t.stats, Usage: t.totals}
			return
		}
		t.iterations++
		t.totals.Add(res.usage)

		e.deps.Conversation.Append(provider.Message{
			Role:      provider.RoleAssistant,
			Content:   res.content,
			ToolCalls: res.toolCalls,
		})

		if len(res.toolCalls) == 0 {
			e.finishDone(ctx, t, out)
			return
		}

		valid := e.rejectMalformed(ctx, res.toolCalls, out)

		if name, ok := e.firstUnknown(valid); ok {
			e.deps.Conversation.Append(provider.Message{
				Role:    provider.RoleSystem,
				Content: fmt.Sprintf("`%s` not available", name),
			})
			out <- Chunk{ToolExecutions: []ToolExecution{{
				Name: name, Status: StatusError, Error: "not available",
			}}}
			e.deps.Logger.Warn("unknown tool requested, stopping turn", zap.String("tool", name))
			e.finishDone(ctx, t, out)
			return
		}

		for _, call := range valid {
			t.callIDs = append(t.callIDs, callIdentifier(call))
		}
		if detectLoop(t.callIDs) {
			e.deps.Conversation.Append(provider.Message{
				Role:    provider.RoleSystem,
				Content: "Repeated identical tool calls detected; stopping this turn.",
			})
			e.deps.Logger.Warn("tool-call loop detected", zap.Int("calls", len(t.callIDs)))
			e.finishDone(ctx, t, out)
			return
		}

		if len(valid) > 0 {
			e.executeBatch(ctx, valid, out)
		}

		if ctx.Err() != nil {
			e.finishCancelled(t, out)
			return
		}
	}

	out <- Chunk{
		Done:                 true,
		Iterations:           t.iterations,
		Stats:                &t.stats,
		Usage:                t.totals,
		MaxIterationsReached: true,
	}
}

// prepareSystem resolves the effective system prompt and tool schemas,
// folding in a requested skill.
func (e *Engine) prepareSystem(opts RunOptions) (string, []provider.ToolSchema, error) {
	system := e.cfg.SystemPrompt
	schemas := e.deps.Tools.Schemas()
	if opts.Skill == "" {
		return system, schemas, nil
	}
	if e.deps.Skills == nil {
		return "", nil, fmt.Errorf("skill %q requested but no skill lookup configured", opts.Skill)
	}
	sk, err := e.deps.Skills.Find(opts.Skill)
	if err != nil {
		return "", nil, fmt.Errorf("find skill %q: %w", opts.Skill, err)
	}
	content, err := e.deps.Skills.Load(sk)
	if err != nil {
		return "", nil, fmt.Errorf("load skill %q: %w", opts.Skill, err)
	}
	system = system + "\n\n## Skill: " + sk.Name + "\n" + content
	if len(sk.AllowedTools) > 0 {
		schemas = filterSchemas(schemas, sk.AllowedTools)
	}
	return system, schemas, nil
}

func filterSchemas(schemas []provider.ToolSchema, allowed []string) []provider.ToolSchema {
	keep := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		keep[name] = true
	}
	out := schemas[:0:0]
	for _, s := range schemas {
		if keep[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

// assemblePrompt builds the bounded message list for one provider call:
// system prompt plus relevant memories plus as much history as fits.
func (e *Engine) assemblePrompt(task, system string) ([]provider.Message, budget.Stats) {
	limits := e.deps.Provider.Limits(e.cfg.Model)
	b := budget.Calculate(limits.ContextWindow, budget.EstimateTokens(system),
		e.cfg.MaxMemoryTokens, e.cfg.MemoryPercent)

	var memories []string
	if e.deps.Memory != nil {
		for _, m := range e.deps.Memory.FindRelevant(task, e.cfg.MaxMemories) {
			memories = append(memories, m.Content)
		}
	}
	return budget.Build(system, memories, e.deps.Conversation.Messages(), b)
}

func (e *Engine) maxTokens() int {
	if e.cfg.MaxTokens > 0 {
		return e.cfg.MaxTokens
	}
	return e.deps.Provider.Limits(e.cfg.Model).MaxOutputTokens
}

// streamResult is the accumulated outcome of one provider stream.
type streamResult struct {
	content   string
	toolCalls []provider.ToolCall
	usage     provider.Usage
}

// streamResponse starts the provider stream, retrying initiation failures
// under the retry policy. Once any event has arrived a failure ends the turn
// instead of retrying, so streamed content is never duplicated.
func (e *Engine) streamResponse(ctx context.Context, req provider.Request, out chan<- Chunk) (streamResult, error) {
	attempt := 0
	for {
		res, started, err := e.readStream(ctx, req, out)
		if err == nil {
			return res, nil
		}
		if started || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}
		if !retryable(err) {
			return res, err
		}
		if attempt >= e.cfg.Retry.MaxRetries {
			return res, &retryExhaustedError{err: err, attempts: attempt + 1}
		}
		delay := e.cfg.Retry.delay(attempt)
		e.deps.Hooks.OnRetry(ctx, attempt+1, delay, err)
		e.deps.Logger.Warn("stream initiation failed, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		if serr := sleepCtx(ctx, delay); serr != nil {
			return res, serr
		}
		attempt++
	}
}

// readStream consumes one provider stream to completion, emitting text
// deltas as chunks and buffering tool calls. started reports whether any
// event arrived before the error.
func (e *Engine) readStream(ctx context.Context, req provider.Request, out chan<- Chunk) (streamResult, bool, error) {
	events, errs := e.deps.Provider.Stream(ctx, req)

	var res streamResult
	var sb strings.Builder
	started := false

	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			res.content = sb.String()
			return res, started, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			started = true
			switch ev.Type {
			case provider.EventTextDelta:
				sb.WriteString(ev.Text)
				e.deps.Hooks.OnStreamDelta(ctx, ev.Text)
				out <- Chunk{Content: ev.Text}
			case provider.EventToolCall:
				res.toolCalls = append(res.toolCalls, ev.ToolCall)
			case provider.EventUsage:
				res.usage = ev.Usage
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				res.content = sb.String()
				return res, started, err
			}
		}
	}

	res.content = sb.String()
	return res, started, nil
}

// rejectMalformed appends failed tool messages for calls the provider
// flagged as broken or that carry no name, and returns the rest. The turn
// continues so the model can correct itself.
func (e *Engine) rejectMalformed(ctx context.Context, calls []provider.ToolCall, out chan<- Chunk) []provider.ToolCall {
	var valid []provider.ToolCall
	var failed []ToolExecution
	for _, call := range calls {
		if call.Err == "" && call.Name != "" {
			valid = append(valid, call)
			continue
		}
		reason := call.Err
		if reason == "" {
			reason = "missing tool name"
		}
		name := call.Name
		if name == "" {
			name = "(unnamed)"
		}
		e.deps.Conversation.Append(provider.Message{
			Role:       provider.RoleTool,
			Content:    fmt.Sprintf("Error: tool call malformed: %s", reason),
			ToolCallID: toolCallID(call),
		})
		failed = append(failed, ToolExecution{Name: name, Status: StatusError, Error: reason})
		e.deps.Logger.Warn("malformed tool call",
			zap.String("tool", name), zap.String("reason", reason))
	}
	if len(failed) > 0 {
		out <- Chunk{ToolExecutions: failed}
	}
	return valid
}

// firstUnknown returns the first call naming a tool the registry does not
// hold.
func (e *Engine) firstUnknown(calls []provider.ToolCall) (string, bool) {
	for _, call := range calls {
		if _, ok := e.deps.Tools.Get(call.Name); !ok {
			return call.Name, true
		}
	}
	return "", false
}

// executeBatch runs the calls through the registry (one confirmation for the
// whole batch) and appends their results to history, truncated for context.
func (e *Engine) executeBatch(ctx context.Context, calls []provider.ToolCall, out chan<- Chunk) {
	running := make([]ToolExecution, len(calls))
	batch := make([]tool.Call, len(calls))
	for i, call := range calls {
		e.deps.Hooks.OnToolCall(ctx, call)
		running[i] = ToolExecution{Name: call.Name, Status: StatusRunning, Args: call.Args}
		batch[i] = tool.Call{ID: call.ID, Name: call.Name, Args: call.Args}
	}
	out <- Chunk{ToolExecutions: running}

	results := e.deps.Tools.ExecuteBatch(ctx, batch)

	finished := make([]ToolExecution, len(calls))
	for i, res := range results {
		e.deps.Hooks.OnToolResult(ctx, calls[i], res)
		exec := ToolExecution{
			Name:     calls[i].Name,
			Args:     calls[i].Args,
			Duration: res.Duration,
		}
		if res.Success {
			exec.Status = StatusComplete
			exec.Output = res.Output
		} else {
			exec.Status = StatusError
			exec.Error = res.Error
		}
		finished[i] = exec

		e.deps.Conversation.Append(provider.Message{
			Role:       provider.RoleTool,
			Content:    truncateOutput(res.Text()),
			ToolCallID: toolCallID(calls[i]),
		})
	}
	out <- Chunk{ToolExecutions: finished}
}

// toolCallID links a tool message back to its call, falling back to the
// name when a provider omitted the id.
func toolCallID(call provider.ToolCall) string {
	if call.ID != "" {
		return call.ID
	}
	return call.Name
}

// preservePartial appends streamed-but-unfinished assistant content to
// history with a cancellation marker.
func (e *Engine) preservePartial(content string) {
	if content == "" {
		return
	}
	e.deps.Conversation.Append(provider.Message{
		Role:    provider.RoleAssistant,
		Content: content + "\n\n" + cancelledMarker,
	})
}

func (e *Engine) finishDone(ctx context.Context, t *turnState, out chan<- Chunk) {
	e.deps.Hooks.OnDone(ctx, t.iterations, t.totals)
	out <- Chunk{Done: true, Iterations: t.iterations, Stats: &t.stats, Usage: t.totals}
}

func (e *Engine) finishCancelled(t *turnState, out chan<- Chunk) {
	e.deps.Logger.Info("turn cancelled", zap.Int("iterations", t.iterations))
	out <- Chunk{Done: true, Cancelled: true, Iterations: t.iterations, Stats: &t.stats, Usage: t.totals}
}
