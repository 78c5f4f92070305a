package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"council/internal/config"
)

// Message is one (role, content) pair of a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is a successful model response. Token counts are zero when the
// backend does not report usage.
type Reply struct {
	Model            string
	Content          string
	PromptTokens     int64
	CompletionTokens int64
}

// FailureKind classifies why a backend call failed.
type FailureKind string

const (
	KindTimeout           FailureKind = "timeout"
	KindTransport         FailureKind = "transport"
	KindHTTPStatus        FailureKind = "http_status"
	KindMalformedResponse FailureKind = "malformed_response"
)

// Failure is the typed error returned by Client implementations.
// Non-2xx statuses are failures, never panics or raw errors.
type Failure struct {
	Kind   FailureKind
	Status int
	Err    error
}

func (f *Failure) Error() string {
	if f.Kind == KindHTTPStatus {
		return fmt.Sprintf("backend %s (status %d): %v", f.Kind, f.Status, f.Err)
	}
	return fmt.Sprintf("backend %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// classify wraps transport-level errors, mapping context deadlines to
// KindTimeout.
func classify(ctx context.Context, err error) *Failure {
	if ctx.Err() == context.DeadlineExceeded {
		return &Failure{Kind: KindTimeout, Err: err}
	}
	return &Failure{Kind: KindTransport, Err: err}
}

// Client is the single capability the engine depends on. Exactly one
// implementation is selected at startup from the backend mode.
type Client interface {
	// Query sends the prompt to one model and returns its reply. The
	// error, when non-nil, is always a *Failure.
	Query(ctx context.Context, model string, messages []Message) (Reply, error)
	// Preload issues a minimal prompt so the backend loads the model
	// weights. Best effort; callers log and move on.
	Preload(ctx context.Context, model string) error
	// ListModels returns the model ids the backend serves.
	ListModels(ctx context.Context) ([]string, error)
}

// New selects the client implementation for the configured mode.
func New(settings config.Settings) Client {
	if settings.BackendMode == config.BackendRemote {
		return NewRemoteClient(settings.BackendBaseURL, settings.BackendAPIKey)
	}
	return NewLocalClient(settings.BackendBaseURL, &http.Client{})
}

// preloadTimeout bounds each warm-up call.
const preloadTimeout = 30 * time.Second
