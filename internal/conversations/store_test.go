package conversations

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeTimestamp(t *testing.T) {
	ms := int64(1700000000000)
	want := time.UnixMilli(ms).UTC().Format(time.RFC3339)

	if got := normalizeTimestamp(ms); got != want {
		t.Fatalf("int64: expected %q, got %q", want, got)
	}
	if got := normalizeTimestamp(float64(ms)); got != want {
		t.Fatalf("float64: expected %q, got %q", want, got)
	}

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := normalizeTimestamp(at); got != "2025-03-01T12:00:00Z" {
		t.Fatalf("time.Time: got %q", got)
	}
	if got := normalizeTimestamp("2025-03-01T12:00:00Z"); got != "2025-03-01T12:00:00Z" {
		t.Fatalf("string passthrough: got %q", got)
	}
	if got := normalizeTimestamp(nil); got != "" {
		t.Fatalf("nil: got %q", got)
	}
}

func TestNewMessageStageArtifacts(t *testing.T) {
	stages := &Stages{
		Stage1: []map[string]string{{"model": "m1", "response": "a"}},
		Stage3: map[string]any{"model": "c1", "confidence": 80},
	}

	m := newMessage("assistant", "final", stages)
	if m.Role != "assistant" || m.Content != "final" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.Timestamp == "" {
		t.Fatalf("timestamp missing")
	}
	if len(m.Stage1) == 0 || len(m.Stage3) == 0 {
		t.Fatalf("stage artifacts not marshaled: %+v", m)
	}
	if len(m.Stage2) != 0 {
		t.Fatalf("absent stage must stay empty")
	}

	var stage1 []map[string]string
	if err := json.Unmarshal(m.Stage1, &stage1); err != nil {
		t.Fatalf("stage1 not valid json: %v", err)
	}
	if stage1[0]["model"] != "m1" {
		t.Fatalf("unexpected stage1: %+v", stage1)
	}

	// Stage data never attaches to user messages.
	u := newMessage("user", "question", stages)
	if len(u.Stage1) != 0 || len(u.Stage3) != 0 {
		t.Fatalf("user message must not carry stage artifacts")
	}
}

func TestNilStoreIsNoOp(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if s.Enabled() {
		t.Fatalf("nil store must report disabled")
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init on nil store: %v", err)
	}
	if conv, err := s.Get(ctx, "x"); err != nil || conv != nil {
		t.Fatalf("get on nil store: %v %v", conv, err)
	}
	if ok, err := s.Append(ctx, "x", "user", "hi", nil); err != nil || ok {
		t.Fatalf("append on nil store: %v %v", ok, err)
	}
	if items, err := s.List(ctx, 10, 0); err != nil || len(items) != 0 {
		t.Fatalf("list on nil store: %v %v", items, err)
	}
	if ok, err := s.Delete(ctx, "x"); err != nil || ok {
		t.Fatalf("delete on nil store: %v %v", ok, err)
	}
	if id, err := s.FindByFirstMessage(ctx, nil); err != nil || id != "" {
		t.Fatalf("find on nil store: %v %v", id, err)
	}
}
