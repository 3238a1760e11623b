package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kotoba-live/kotoba/pkg/events"
	"github.com/kotoba-live/kotoba/pkg/logging"
	"github.com/kotoba-live/kotoba/pkg/memory"
	"github.com/kotoba-live/kotoba/pkg/metrics"
)

// Dispatcher executes tool calls emitted by the parser and accumulates
// their output for the next generation turn. A missing tool or a
// failed execution never aborts the turn; the failure text is handed
// to the model as ordinary tool output so the persona can react to it.
type Dispatcher struct {
	registry *Registry
	store    memory.Store
	obs      metrics.Observer
	logger   *slog.Logger

	mu      sync.Mutex
	results []string
}

func NewDispatcher(registry *Registry, store memory.Store, obs metrics.Observer) *Dispatcher {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Dispatcher{
		registry: registry,
		store:    store,
		obs:      obs,
		logger:   logging.NewComponentLogger(slog.Default(), "tools"),
	}
}

// Dispatch runs one tool call and records its output.
func (d *Dispatcher) Dispatch(ctx context.Context, call events.ToolCall) {
	start := time.Now()
	output := d.run(ctx, call)
	d.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "tool_dispatch",
		Time:  time.Now(),
		Value: time.Since(start).Seconds(),
		Tags:  map[string]string{"tool": call.Name},
	})
	d.mu.Lock()
	d.results = append(d.results, output)
	d.mu.Unlock()
}

func (d *Dispatcher) run(ctx context.Context, call events.ToolCall) string {
	if call.Name == "" {
		d.logger.Warn("tool call without a name")
		return "ツール呼び出しに名前がありませんでした。"
	}
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		d.logger.Warn("unknown tool requested", slog.String("tool", call.Name))
		return fmt.Sprintf("ツール「%s」は見つかりませんでした。", call.Name)
	}
	out, err := tool.Execute(ctx, call.Args, d.store)
	if err != nil {
		d.logger.Error("tool execution failed",
			slog.String("tool", call.Name),
			slog.String("error", err.Error()))
		return fmt.Sprintf("ツール「%s」の実行に失敗しました: %s", call.Name, err.Error())
	}
	d.logger.Info("tool executed",
		slog.String("tool", call.Name),
		slog.Int("output_chars", len(out)))
	return out
}

// Drain returns accumulated tool output and clears it. The caller
// injects the returned strings into the next turn's context.
func (d *Dispatcher) Drain() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.results
	d.results = nil
	return out
}

// Pending reports whether any undelivered tool output exists.
func (d *Dispatcher) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.results) > 0
}
