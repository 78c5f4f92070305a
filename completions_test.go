// completions_test.go

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"council/internal/backend"
	"council/internal/config"
	"council/internal/council"
)

// gatewayClient scripts the backend for end-to-end handler tests.
type gatewayClient struct {
	fail bool
}

func (g *gatewayClient) Query(ctx context.Context, model string, messages []backend.Message) (backend.Reply, error) {
	if g.fail {
		return backend.Reply{}, &backend.Failure{Kind: backend.KindTransport, Err: errors.New("down")}
	}
	prompt := messages[len(messages)-1].Content
	switch {
	case strings.Contains(prompt, "RESPONSE GUIDANCE:"):
		return backend.Reply{Model: model, Content: "Answer from " + model}, nil
	case strings.Contains(prompt, "Evaluate responses to this question:"):
		return backend.Reply{Model: model, Content: "FINAL RANKING:\n1. Response A\n2. Response B"}, nil
	default:
		return backend.Reply{
			Model:            model,
			Content:          "Synthesized answer.\n\n# Primary source: m1\n# Confidence: 85%",
			PromptTokens:     100,
			CompletionTokens: 40,
		}, nil
	}
}

func (g *gatewayClient) Preload(ctx context.Context, model string) error { return nil }

func (g *gatewayClient) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func newTestApp(client backend.Client) *app {
	snapshot := func() config.Config {
		return config.Config{
			CouncilModels: []string{"m1", "m2"},
			ChairmanModel: "c1",
			BackendMode:   config.BackendLocal,
		}
	}
	return &app{
		settings: config.Settings{MarkdownEnabled: true, ModelTimeout: 2 * time.Second},
		engine:   &council.Engine{Client: client, Snapshot: snapshot, Timeout: 2 * time.Second},
	}
}

func doCompletion(t *testing.T, a *app, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, a.chatCompletionsHandler(c))
	return rec
}

func TestChatCompletionsNonStreaming(t *testing.T) {
	a := newTestApp(&gatewayClient{})
	rec := doCompletion(t, a, `{"messages":[{"role":"user","content":"What does 2+2 equal?"}],"stream":false}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)

	content := resp.Choices[0].Message.Content
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, "chat.completion", resp.Object)

	// Chairman metadata lines are stripped, the footer is appended.
	assert.NotContains(t, content, "# Primary source:")
	assert.NotContains(t, content, "# Confidence:")
	assert.Contains(t, content, "*Model: m1*")
	assert.Contains(t, content, "*Confidence: 85%*")
	assert.Regexp(t, `\*Response time: \d+\.\d\ds\*`, content)

	// Chairman usage is authoritative.
	assert.Equal(t, int64(100), resp.Usage.PromptTokens)
	assert.Equal(t, int64(40), resp.Usage.CompletionTokens)
	assert.Equal(t, int64(140), resp.Usage.TotalTokens)
}

func TestChatCompletionsStreamingMatchesBuffered(t *testing.T) {
	a := newTestApp(&gatewayClient{})

	buffered := doCompletion(t, a, `{"messages":[{"role":"user","content":"What does 2+2 equal?"}],"stream":false}`)
	var bufferedResp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(buffered.Body.Bytes(), &bufferedResp))
	want := bufferedResp.Choices[0].Message.Content

	rec := doCompletion(t, a, `{"messages":[{"role":"user","content":"What does 2+2 equal?"}],"stream":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	var (
		sawRole bool
		sawDone bool
		sawStop bool
		content strings.Builder
	)
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			sawDone = true
			continue
		}
		var chunk ChatCompletionChunk
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		require.Len(t, chunk.Choices, 1)
		choice := chunk.Choices[0]
		if choice.Delta.Role == "assistant" {
			// Role chunk arrives before any content.
			require.False(t, sawRole)
			require.Zero(t, content.Len())
			sawRole = true
		}
		content.WriteString(choice.Delta.Content)
		if choice.FinishReason != nil && *choice.FinishReason == "stop" {
			sawStop = true
		}
	}

	assert.True(t, sawRole, "missing role chunk")
	assert.True(t, sawStop, "missing terminal chunk")
	assert.True(t, sawDone, "missing [DONE] frame")
	assert.Equal(t, want, content.String())
}

func TestChatCompletionsForceStreaming(t *testing.T) {
	a := newTestApp(&gatewayClient{})
	a.settings.ForceStreaming = true

	rec := doCompletion(t, a, `{"messages":[{"role":"user","content":"hi"}],"stream":false}`)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
}

func TestChatCompletionsAllMembersFailed(t *testing.T) {
	a := newTestApp(&gatewayClient{fail: true})
	rec := doCompletion(t, a, `{"messages":[{"role":"user","content":"hi"}],"stream":false}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal_error", resp.Error.Type)
	assert.Equal(t, "council_error", resp.Error.Code)
}

func TestChatCompletionsNoUserMessage(t *testing.T) {
	a := newTestApp(&gatewayClient{})
	rec := doCompletion(t, a, `{"messages":[{"role":"system","content":"ctx only"}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletionsEmptyMessages(t *testing.T) {
	a := newTestApp(&gatewayClient{})
	rec := doCompletion(t, a, `{"messages":[]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComposeQuery(t *testing.T) {
	userQuery, composed, ok := composeQuery([]ChatMessage{
		{Role: "system", Content: "file contents here"},
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "second question"},
	})
	require.True(t, ok)
	assert.Equal(t, "second question", userQuery)
	assert.Contains(t, composed, "Context and file contents:")
	assert.Contains(t, composed, "file contents here")
	assert.Contains(t, composed, "Previous response: first answer")
	assert.Contains(t, composed, "User's question or request:\nsecond question")
}

func TestComposeQueryPlain(t *testing.T) {
	userQuery, composed, ok := composeQuery([]ChatMessage{{Role: "user", Content: "just a question"}})
	require.True(t, ok)
	assert.Equal(t, "just a question", userQuery)
	assert.Equal(t, "just a question", composed)
}

func TestComposeQueryNoUser(t *testing.T) {
	_, _, ok := composeQuery([]ChatMessage{{Role: "system", Content: "ctx"}})
	assert.False(t, ok)
}

func TestStripMetadataLines(t *testing.T) {
	in := "Answer body\n# Primary source: m1\n# Confidence: 90%\n"
	assert.Equal(t, "Answer body", stripMetadataLines(in))

	// Indented metadata lines are stripped too.
	in = "Answer\n  # Confidence: 10%"
	assert.Equal(t, "Answer", stripMetadataLines(in))
}

func TestChunkContent(t *testing.T) {
	content := strings.Repeat("è", 120)
	chunks := chunkContent(content, 50)
	require.Len(t, chunks, 3)
	assert.Equal(t, content, strings.Join(chunks, ""))
	for _, ch := range chunks[:2] {
		assert.Equal(t, 50, len([]rune(ch)))
	}
}

func TestCompletionUsageEstimatesWhenMissing(t *testing.T) {
	usage := completionUsage(council.Synthesis{}, "three word prompt", "two words")
	assert.Equal(t, int64(3), usage.PromptTokens)
	assert.Equal(t, int64(2), usage.CompletionTokens)
	assert.Equal(t, int64(5), usage.TotalTokens)
}
