package metrics

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Token usage accounting per model. OTel counters feed whatever global
// meter provider the operator installs; the in-process totals map backs
// the /api/metrics/tokens endpoint, since exported data cannot be read
// back from the exporter.

var (
	tokenOnce         sync.Once
	promptCounter     otelmetric.Int64Counter
	completionCounter otelmetric.Int64Counter

	totalsMu    sync.RWMutex
	modelTotals = map[string]Totals{}
)

// Totals is the cumulative token usage of one model.
type Totals struct {
	Model            string `json:"model"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

func ensureInstruments() {
	tokenOnce.Do(func() {
		m := otel.Meter("council/internal/metrics")
		promptCounter, _ = m.Int64Counter("llm.prompt_tokens",
			otelmetric.WithDescription("Cumulative prompt tokens by model"))
		completionCounter, _ = m.Int64Counter("llm.completion_tokens",
			otelmetric.WithDescription("Cumulative completion tokens by model"))
	})
}

// RecordTokens adds one model call's usage. No-op for empty model ids
// or all-zero usage.
func RecordTokens(model string, promptTokens, completionTokens int64) {
	if model == "" || (promptTokens == 0 && completionTokens == 0) {
		return
	}
	ensureInstruments()

	ctx := context.Background()
	attrs := otelmetric.WithAttributes(attribute.String("llm.model", model))
	if promptCounter != nil && promptTokens > 0 {
		promptCounter.Add(ctx, promptTokens, attrs)
	}
	if completionCounter != nil && completionTokens > 0 {
		completionCounter.Add(ctx, completionTokens, attrs)
	}

	totalsMu.Lock()
	t := modelTotals[model]
	t.Model = model
	t.PromptTokens += promptTokens
	t.CompletionTokens += completionTokens
	modelTotals[model] = t
	totalsMu.Unlock()
}

// Snapshot returns the per-model totals sorted by model id.
func Snapshot() []Totals {
	totalsMu.RLock()
	out := make([]Totals, 0, len(modelTotals))
	for _, t := range modelTotals {
		out = append(out, t)
	}
	totalsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// reset clears accumulated totals. Test hook.
func reset() {
	totalsMu.Lock()
	modelTotals = map[string]Totals{}
	totalsMu.Unlock()
}
