package conversations

import (
	"encoding/json"

	"github.com/google/uuid"
)

// namespace for deterministic conversation ids. Fixed so the same
// first user message always maps to the same conversation across
// restarts and replicas.
var namespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// RoleContent is the minimal shape of an incoming chat message.
// Fields are declared in marshal order so the fallback serialization
// is canonical.
type RoleContent struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// DeterministicID derives the conversation id as a UUIDv5 of
// "continue:" + the first user message. With no user message the whole
// message array is serialized instead.
func DeterministicID(messages []RoleContent) string {
	name := "continue:"
	if first := FirstUserMessage(messages); first != "" {
		name += first
	} else {
		raw, _ := json.Marshal(messages)
		name += string(raw)
	}
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// FirstUserMessage returns the content of the earliest user-role
// message, or "".
func FirstUserMessage(messages []RoleContent) string {
	for _, m := range messages {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}
