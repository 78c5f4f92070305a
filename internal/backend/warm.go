package backend

import (
	"context"

	"golang.org/x/sync/errgroup"

	"council/internal/logging"
)

// Warm preloads every given model so the weights are resident before
// the first request arrives. Failures are logged and otherwise ignored.
func Warm(ctx context.Context, client Client, models []string) {
	if len(models) == 0 {
		return
	}

	seen := make(map[string]struct{}, len(models))
	var g errgroup.Group
	warmed := 0

	for _, model := range models {
		if model == "" {
			continue
		}
		if _, dup := seen[model]; dup {
			continue
		}
		seen[model] = struct{}{}
		warmed++

		model := model
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, preloadTimeout)
			defer cancel()
			if err := client.Preload(callCtx, model); err != nil {
				logging.Log.WithError(err).WithField("model", model).Warn("model warm-up failed")
			} else {
				logging.Log.WithField("model", model).Info("model warmed up")
			}
			return nil
		})
	}
	_ = g.Wait()
	logging.Log.WithField("models", warmed).Info("warm-up pump finished")
}
