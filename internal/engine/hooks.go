package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ospreyhq/osprey/internal/provider"
	"github.com/ospreyhq/osprey/internal/tool"
)

// Hook observes turn execution. Implementations must be fast; they run
// inline on the loop goroutine.
type Hook interface {
	OnIterationStart(ctx context.Context, iteration int)
	OnStreamDelta(ctx context.Context, delta string)
	OnToolCall(ctx context.Context, call provider.ToolCall)
	OnToolResult(ctx context.Context, call provider.ToolCall, res tool.Result)
	OnRetry(ctx context.Context, attempt int, delay time.Duration, err error)
	OnDone(ctx context.Context, iterations int, usage provider.Usage)
}

// NopHook implements Hook with no behavior; embed it to implement only the
// callbacks you need.
type NopHook struct{}

func (NopHook) OnIterationStart(context.Context, int) {}
func (NopHook) OnStreamDelta(context.Context, string) {}
func (NopHook) OnToolCall(context.Context, provider.ToolCall) {}
func (NopHook) OnToolResult(context.Context, provider.ToolCall, tool.Result) {}
func (NopHook) OnRetry(context.Context, int, time.Duration, error) {}
func (NopHook) OnDone(context.Context, int, provider.Usage) {}

// Hooks fans out to every registered hook in order.
type Hooks []Hook

func (hs Hooks) OnIterationStart(ctx context.Context, iteration int) {
	for _, h := range hs {
		h.OnIterationStart(ctx, iteration)
	}
}

func (hs Hooks) OnStreamDelta(ctx context.Context, delta string) {
	for _, h := range hs {
		h.OnStreamDelta(ctx, delta)
	}
}

func (hs Hooks) OnToolCall(ctx context.Context, call provider.ToolCall) {
	for _, h := range hs {
		h.OnToolCall(ctx, call)
	}
}

func (hs Hooks) OnToolResult(ctx context.Context, call provider.ToolCall, res tool.Result) {
	for _, h := range hs {
		h.OnToolResult(ctx, call, res)
	}
}

func (hs Hooks) OnRetry(ctx context.Context, attempt int, delay time.Duration, err error) {
	for _, h := range hs {
		h.OnRetry(ctx, attempt, delay, err)
	}
}

func (hs Hooks) OnDone(ctx context.Context, iterations int, usage provider.Usage) {
	for _, h := range hs {
		h.OnDone(ctx, iterations, usage)
	}
}

// LoggerHook logs turn progress through zap.
type LoggerHook struct {
	L *zap.Logger
}

func (h LoggerHook) OnIterationStart(_ context.Context, iteration int) {
	h.L.Debug("iteration start", zap.Int("iteration", iteration))
}

func (h LoggerHook) OnStreamDelta(context.Context, string) {}

func (h LoggerHook) OnToolCall(_ context.Context, call provider.ToolCall) {
	h.L.Info("tool call", zap.String("tool", call.Name), zap.Any("args", call.Args))
}

func (h LoggerHook) OnToolResult(_ context.Context, call provider.ToolCall, res tool.Result) {
	if !res.Success {
		h.L.Warn("tool failed",
			zap.String("tool", call.Name), zap.String("error", res.Error))
		return
	}
	h.L.Debug("tool result",
		zap.String("tool", call.Name), zap.Duration("duration", res.Duration))
}

func (h LoggerHook) OnRetry(_ context.Context, attempt int, delay time.Duration, err error) {
	h.L.Warn("provider retry",
		zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
}

func (h LoggerHook) OnDone(_ context.Context, iterations int, usage provider.Usage) {
	h.L.Info("turn done",
		zap.Int("iterations", iterations), zap.Int("total_tokens", usage.Total))
}
