package backend

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// RemoteClient talks to a hosted OpenAI-compatible aggregator over
// HTTPS with bearer auth.
type RemoteClient struct {
	client openai.Client
}

// NewRemoteClient builds a client for the given base URL and API key.
func NewRemoteClient(baseURL, apiKey string) *RemoteClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &RemoteClient{client: openai.NewClient(opts...)}
}

func (c *RemoteClient) Query(ctx context.Context, model string, messages []Message) (Reply, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toParams(messages),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Reply{}, classifyRemote(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, &Failure{Kind: KindMalformedResponse, Err: errors.New("no choices returned")}
	}

	return Reply{
		Model:            model,
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (c *RemoteClient) Preload(ctx context.Context, model string) error {
	_, err := c.Query(ctx, model, []Message{{Role: "user", Content: "OK"}})
	return err
}

func (c *RemoteClient) ListModels(ctx context.Context) ([]string, error) {
	models, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range models.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func classifyRemote(ctx context.Context, err error) *Failure {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Failure{Kind: KindHTTPStatus, Status: apiErr.StatusCode, Err: err}
	}
	return classify(ctx, err)
}
