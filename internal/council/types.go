package council

// ModelReply is one successful Stage 1 response. Failed members are
// omitted from the slice, never represented as empty replies.
type ModelReply struct {
	Model            string `json:"model"`
	Content          string `json:"response"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// Ranking is one member's Stage 2 output. Parsed may be empty when the
// text yields no labels; such a ranking contributes nothing to the
// aggregate but is kept for audit.
type Ranking struct {
	Model            string   `json:"model"`
	Raw              string   `json:"ranking"`
	Parsed           []string `json:"parsed_ranking"`
	PromptTokens     int64    `json:"prompt_tokens"`
	CompletionTokens int64    `json:"completion_tokens"`
}

// Synthesis is the chairman's final answer plus derived metadata.
type Synthesis struct {
	Model            string `json:"model"`
	Content          string `json:"response"`
	PrimarySource    string `json:"primary_source,omitempty"`
	TopRankedModel   string `json:"top_ranked_model,omitempty"`
	Confidence       int    `json:"confidence"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// AggregateRanking is one model's mean 1-based position across all
// parsed Stage 2 rankings.
type AggregateRanking struct {
	Model         string  `json:"model"`
	AverageRank   float64 `json:"average_rank"`
	RankingsCount int     `json:"rankings_count"`
}

// Metadata accompanies a run's result.
type Metadata struct {
	LabelToModel          map[string]string  `json:"label_to_model"`
	AggregateRankings     []AggregateRanking `json:"aggregate_rankings"`
	TotalPromptTokens     int64              `json:"total_prompt_tokens"`
	TotalCompletionTokens int64              `json:"total_completion_tokens"`
}

// ErrorModelID marks the synthesis returned when every council member
// failed in Stage 1.
const ErrorModelID = "error"

// FallbackSynthesisContent is returned when the chairman call fails;
// Stage 1/2 artifacts remain useful so this is a degraded success.
const FallbackSynthesisContent = "Error: Unable to generate final synthesis."
