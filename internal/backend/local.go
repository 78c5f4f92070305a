package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// LocalClient talks to a local inference server that exposes the
// Ollama-style /api/chat and /api/tags endpoints.
type LocalClient struct {
	base   string
	client *http.Client
}

// NewLocalClient builds a client for the given base URL. The supplied
// http.Client is shared so the process keeps one connection pool per
// backend.
func NewLocalClient(base string, client *http.Client) *LocalClient {
	if client == nil {
		client = &http.Client{}
	}
	return &LocalClient{base: strings.TrimRight(base, "/"), client: client}
}

type localChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type localChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int64 `json:"prompt_eval_count"`
	EvalCount       int64 `json:"eval_count"`
}

func (c *LocalClient) Query(ctx context.Context, model string, messages []Message) (Reply, error) {
	payload, err := json.Marshal(localChatRequest{Model: model, Messages: messages, Stream: false})
	if err != nil {
		return Reply{}, &Failure{Kind: KindTransport, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return Reply{}, &Failure{Kind: KindTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Reply{}, classify(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, classify(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Reply{}, &Failure{
			Kind:   KindHTTPStatus,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("model %s: %s", model, strings.TrimSpace(string(body))),
		}
	}

	var parsed localChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Reply{}, &Failure{Kind: KindMalformedResponse, Err: fmt.Errorf("model %s: %w", model, err)}
	}

	return Reply{
		Model:            model,
		Content:          parsed.Message.Content,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
	}, nil
}

func (c *LocalClient) Preload(ctx context.Context, model string) error {
	_, err := c.Query(ctx, model, []Message{{Role: "user", Content: "OK"}})
	return err
}

type localTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (c *LocalClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("list models: status %d", resp.StatusCode)
	}
	var parsed localTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		ids = append(ids, m.Name)
	}
	return ids, nil
}
