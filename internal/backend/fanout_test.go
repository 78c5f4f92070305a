package backend

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubClient struct {
	delay time.Duration
	fail  map[string]bool
}

func (s *stubClient) Query(ctx context.Context, model string, messages []Message) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, &Failure{Kind: KindTimeout, Err: ctx.Err()}
	case <-time.After(s.delay):
	}
	if s.fail[model] {
		return Reply{}, &Failure{Kind: KindTransport, Err: errors.New("connection refused")}
	}
	return Reply{Model: model, Content: "reply from " + model}, nil
}

func (s *stubClient) Preload(ctx context.Context, model string) error { return nil }

func (s *stubClient) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func TestFanOutConcurrent(t *testing.T) {
	client := &stubClient{delay: 50 * time.Millisecond}
	models := []string{"m1", "m2", "m3", "m4"}

	start := time.Now()
	results := FanOut(context.Background(), client, models, nil, time.Second)
	elapsed := time.Since(start)

	// Concurrent wall time is close to one call, far from four.
	if elapsed > 150*time.Millisecond {
		t.Fatalf("fan-out not concurrent: took %s", elapsed)
	}
	if len(results) != len(models) {
		t.Fatalf("expected %d results, got %d", len(models), len(results))
	}
	for _, m := range models {
		res, ok := results[m]
		if !ok {
			t.Fatalf("missing result for %s", m)
		}
		if res.Err != nil {
			t.Fatalf("unexpected error for %s: %v", m, res.Err)
		}
	}
}

func TestFanOutFailureDoesNotCancelPeers(t *testing.T) {
	client := &stubClient{fail: map[string]bool{"m2": true}}
	models := []string{"m1", "m2", "m3"}

	results := FanOut(context.Background(), client, models, nil, time.Second)

	if len(results) != 3 {
		t.Fatalf("expected entry for every model, got %d", len(results))
	}
	if results["m2"].Err == nil {
		t.Fatalf("expected failure for m2")
	}
	var failure *Failure
	if !errors.As(results["m2"].Err, &failure) {
		t.Fatalf("expected *Failure, got %T", results["m2"].Err)
	}
	if results["m1"].Err != nil || results["m3"].Err != nil {
		t.Fatalf("peer calls must survive one failure: %+v", results)
	}
}

func TestFanOutPerCallTimeout(t *testing.T) {
	client := &stubClient{delay: 200 * time.Millisecond}

	results := FanOut(context.Background(), client, []string{"slow"}, nil, 20*time.Millisecond)

	res := results["slow"]
	var failure *Failure
	if !errors.As(res.Err, &failure) || failure.Kind != KindTimeout {
		t.Fatalf("expected timeout failure, got %+v", res.Err)
	}
}
