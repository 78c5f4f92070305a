package backend

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"council/internal/logging"
)

// Result is one fan-out outcome. Err, when non-nil, is a *Failure.
type Result struct {
	Reply Reply
	Err   error
}

// FanOut queries every model concurrently with the same prompt and
// collects results keyed by model id. Each call gets its own timeout;
// one model failing never cancels its peers, which is why the group is
// built without a shared cancel context. The returned map has an entry
// for every requested id.
func FanOut(ctx context.Context, client Client, models []string, messages []Message, timeout time.Duration) map[string]Result {
	results := make(map[string]Result, len(models))
	var mu sync.Mutex
	var g errgroup.Group

	start := time.Now()
	for _, model := range models {
		model := model
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			reply, err := client.Query(callCtx, model, messages)
			mu.Lock()
			results[model] = Result{Reply: reply, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	logging.Log.WithFields(map[string]interface{}{
		"models":  len(models),
		"elapsed": time.Since(start).String(),
	}).Debug("fan-out completed")
	return results
}
