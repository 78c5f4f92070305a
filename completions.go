// completions.go

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"council/internal/conversations"
	"council/internal/council"
	"council/internal/logging"
	"council/internal/markdown"
)

const streamChunkRunes = 50

// streamPacing smooths client rendering between SSE chunks.
const streamPacing = 10 * time.Millisecond

// chatCompletionsHandler is the core operation: bind the OpenAI-shaped
// request, resolve the conversation, run the council, persist both
// sides of the exchange and answer buffered or streaming.
func (a *app) chatCompletionsHandler(c echo.Context) error {
	var req ChatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request body", "validation_error", "invalid_request")
	}
	if len(req.Messages) == 0 {
		return jsonError(c, http.StatusBadRequest, "No messages provided", "validation_error", "invalid_request")
	}
	if req.Model == "" {
		req.Model = "council"
	}

	userQuery, composed, ok := composeQuery(req.Messages)
	if !ok {
		return jsonError(c, http.StatusBadRequest, "No user message found", "validation_error", "invalid_request")
	}

	ctx := c.Request().Context()
	conversationID := a.bindConversation(ctx, req.Messages, userQuery)

	start := time.Now()
	result := a.engine.Run(ctx, composed)
	elapsed := time.Since(start)

	if result.Stage3.Model == council.ErrorModelID {
		resp := ErrorResponse{
			Error: ErrorData{
				Message: result.Stage3.Content,
				Type:    "internal_error",
				Code:    "council_error",
			},
			ConversationID: conversationID,
		}
		return c.JSON(http.StatusInternalServerError, resp)
	}

	finalContent := result.Stage3.Content
	if finalContent == "" {
		logging.Log.Error("chairman returned empty content")
		return jsonError(c, http.StatusInternalServerError,
			"The model returned an empty response. Please try again.",
			"invalid_response_error", "empty_response")
	}

	if a.settings.MarkdownEnabled {
		finalContent = markdown.Normalize(finalContent)
	}
	finalContent = stripMetadataLines(finalContent)
	finalContent += responseFooter(result.Stage3, elapsed)

	// The assistant message goes to storage before the first response
	// byte so a dropped stream cannot lose it.
	if conversationID != "" {
		stages := &conversations.Stages{
			Stage1: result.Stage1,
			Stage2: result.Stage2,
			Stage3: result.Stage3,
		}
		if _, err := a.convs.Append(ctx, conversationID, "assistant", finalContent, stages); err != nil {
			logging.Log.WithError(err).WithField("conversation_id", conversationID).Error("persist assistant message failed")
		}
	}

	responseID := "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	created := time.Now().Unix()

	if req.Stream || a.settings.ForceStreaming {
		return a.streamCompletion(c, responseID, created, req.Model, finalContent)
	}

	usage := completionUsage(result.Stage3, composed, finalContent)
	return c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      responseID,
		Object:  "chat.completion",
		Created: created,
		Model:   req.Model,
		Choices: []ChatCompletionChoice{
			{
				Index:        0,
				Message:      ChatMessage{Role: "assistant", Content: finalContent},
				FinishReason: "stop",
			},
		},
		Usage: usage,
	})
}

// bindConversation resolves or creates the conversation for the
// incoming history and appends the user message. Returns "" when
// storage is disabled or unavailable.
func (a *app) bindConversation(ctx context.Context, messages []ChatMessage, userQuery string) string {
	if !a.convs.Enabled() {
		return ""
	}

	history := make([]conversations.RoleContent, 0, len(messages))
	for _, m := range messages {
		history = append(history, conversations.RoleContent{Role: m.Role, Content: m.Content})
	}

	id, err := a.convs.FindByFirstMessage(ctx, history)
	if err != nil {
		logging.Log.WithError(err).Warn("conversation lookup failed, continuing without persistence")
		return ""
	}
	if id == "" {
		first := conversations.FirstUserMessage(history)
		if first == "" {
			return ""
		}
		id = conversations.DeterministicID(history)
		if _, err := a.convs.Create(ctx, id, first, ""); err != nil {
			logging.Log.WithError(err).WithField("conversation_id", id).Warn("create conversation failed")
			return ""
		}
		logging.Log.WithField("conversation_id", id).Info("created conversation")
		a.generateTitle(id, first)
		// The seed message is the first user message; only append
		// separately when the actual query differs (multi-turn).
		if userQuery == first {
			return id
		}
	}

	if _, err := a.convs.Append(ctx, id, "user", userQuery, nil); err != nil {
		logging.Log.WithError(err).WithField("conversation_id", id).Warn("persist user message failed")
	}
	return id
}

// generateTitle asks the chairman for a better title off the request
// path. Best effort.
func (a *app) generateTitle(id, firstMessage string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()
		title := a.engine.Title(ctx, firstMessage)
		if title == "" || title == "New Conversation" {
			return
		}
		if _, err := a.convs.UpdateTitle(ctx, id, title); err != nil {
			logging.Log.WithError(err).WithField("conversation_id", id).Debug("title update failed")
		}
	}()
}

// composeQuery splits the message array into the actual user query and
// the composed council prompt: system messages and assistant history
// become a context block ahead of the last user message.
func composeQuery(messages []ChatMessage) (userQuery, composed string, ok bool) {
	var contextParts []string
	var userMessages []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			contextParts = append(contextParts, m.Content)
		case "assistant":
			contextParts = append(contextParts, "Previous response: "+m.Content)
		case "user":
			userMessages = append(userMessages, m.Content)
		}
	}
	if len(userMessages) == 0 {
		return "", "", false
	}

	userQuery = userMessages[len(userMessages)-1]
	composed = userQuery
	if len(contextParts) > 0 {
		composed = fmt.Sprintf(`Context and file contents:
%s

User's question or request:
%s

Please provide a helpful response based on the context provided above.`,
			strings.Join(contextParts, "\n\n"), userQuery)
	}
	return userQuery, composed, true
}

// stripMetadataLines removes the chairman's self-report lines; their
// values resurface in the footer.
func stripMetadataLines(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "# Primary source:") || strings.HasPrefix(stripped, "# Confidence:") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimRight(strings.Join(out, "\n"), " \t\n")
}

// responseFooter renders the italicised attribution line.
func responseFooter(syn council.Synthesis, elapsed time.Duration) string {
	model := syn.PrimarySource
	if model == "" {
		model = syn.TopRankedModel
	}
	if model == "" {
		model = syn.Model
	}
	return fmt.Sprintf("\n\n*Model: %s* | *Response time: %.2fs* | *Confidence: %d%%*",
		model, elapsed.Seconds(), syn.Confidence)
}

// completionUsage reports the chairman's token usage when the backend
// provided it, else estimates by word count.
func completionUsage(syn council.Synthesis, prompt, completion string) ChatCompletionUsage {
	usage := ChatCompletionUsage{
		PromptTokens:     syn.PromptTokens,
		CompletionTokens: syn.CompletionTokens,
	}
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage.PromptTokens = int64(len(strings.Fields(prompt)))
		usage.CompletionTokens = int64(len(strings.Fields(completion)))
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}

// chunkContent slices content into rune-safe pieces of at most n
// runes for streaming.
func chunkContent(content string, n int) []string {
	runes := []rune(content)
	var out []string
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// streamCompletion emits the SSE sequence: role chunk, content chunks,
// terminal chunk, [DONE].
func (a *app) streamCompletion(c echo.Context, responseID string, created int64, model, content string) error {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return jsonError(c, http.StatusInternalServerError, "Streaming not supported", "internal_error", "stream_error")
	}
	c.Response().WriteHeader(http.StatusOK)

	writeChunk := func(chunk ChatCompletionChunk) error {
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := writeChunk(ChatCompletionChunk{
		ID: responseID, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []ChatCompletionChunkChoice{{Index: 0, Delta: ChatCompletionDelta{Role: "assistant"}}},
	}); err != nil {
		return err
	}

	ctx := c.Request().Context()
	for _, piece := range chunkContent(content, streamChunkRunes) {
		if err := writeChunk(ChatCompletionChunk{
			ID: responseID, Object: "chat.completion.chunk", Created: created, Model: model,
			Choices: []ChatCompletionChunkChoice{{Index: 0, Delta: ChatCompletionDelta{Content: piece}}},
		}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			// Client went away; the assistant message is already
			// persisted, nothing left to protect.
			return nil
		case <-time.After(streamPacing):
		}
	}

	stop := "stop"
	if err := writeChunk(ChatCompletionChunk{
		ID: responseID, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []ChatCompletionChunkChoice{{Index: 0, Delta: ChatCompletionDelta{}, FinishReason: &stop}},
	}); err != nil {
		return err
	}
	if _, err := fmt.Fprint(c.Response(), "data: [DONE]\n\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
