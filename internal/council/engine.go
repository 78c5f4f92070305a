package council

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"council/internal/backend"
	"council/internal/config"
	"council/internal/logging"
	"council/internal/metrics"
)

// Engine runs the three-stage deliberation. A single run captures one
// roster snapshot at Stage 1 and uses it unchanged through Stage 3.
type Engine struct {
	Client   backend.Client
	Snapshot func() config.Config
	Timeout  time.Duration
}

const titleTimeout = 30 * time.Second

// Result bundles everything one run produces.
type Result struct {
	Stage1   []ModelReply
	Stage2   []Ranking
	Stage3   Synthesis
	Metadata Metadata
}

// Run executes Stage 1 (parallel fan-out), Stage 2 (blind peer
// ranking) and Stage 3 (chairman synthesis) for one user query.
// Individual member failures are absorbed; only an empty Stage 1
// yields the error synthesis.
func (e *Engine) Run(ctx context.Context, userQuery string) Result {
	cfg := e.Snapshot()

	stage1 := e.stage1(ctx, cfg.CouncilModels, userQuery)
	if len(stage1) == 0 {
		logging.Log.Error("stage 1 produced no responses, aborting run")
		return Result{
			Stage1: []ModelReply{},
			Stage2: []Ranking{},
			Stage3: Synthesis{
				Model:      ErrorModelID,
				Content:    "All models failed to respond. Please check that the backend is running and the configured models are available.",
				Confidence: 0,
			},
			Metadata: Metadata{LabelToModel: map[string]string{}},
		}
	}

	stage2, labelToModel := e.stage2(ctx, cfg.CouncilModels, userQuery, stage1)
	aggregate := AggregateRankings(stage2, labelToModel)

	stage3 := e.stage3(ctx, cfg.ChairmanModel, userQuery, stage1, stage2, aggregate)

	meta := Metadata{
		LabelToModel:      labelToModel,
		AggregateRankings: aggregate,
	}
	for _, r := range stage1 {
		meta.TotalPromptTokens += r.PromptTokens
		meta.TotalCompletionTokens += r.CompletionTokens
	}
	for _, r := range stage2 {
		meta.TotalPromptTokens += r.PromptTokens
		meta.TotalCompletionTokens += r.CompletionTokens
	}
	meta.TotalPromptTokens += stage3.PromptTokens
	meta.TotalCompletionTokens += stage3.CompletionTokens

	return Result{Stage1: stage1, Stage2: stage2, Stage3: stage3, Metadata: meta}
}

// stage1 fans the wrapped query out across the roster and keeps the
// non-empty successes in roster order.
func (e *Engine) stage1(ctx context.Context, roster []string, userQuery string) []ModelReply {
	if len(roster) == 0 {
		logging.Log.Error("no council models configured")
		return nil
	}

	messages := []backend.Message{{Role: "user", Content: solutionPrompt(userQuery)}}
	results := backend.FanOut(ctx, e.Client, roster, messages, e.Timeout)

	var replies []ModelReply
	var failed []string
	for _, model := range roster {
		res := results[model]
		if res.Err != nil {
			logging.Log.WithError(res.Err).WithField("model", model).Warn("stage 1 member failed")
			failed = append(failed, model)
			continue
		}
		if res.Reply.Content == "" {
			logging.Log.WithField("model", model).Warn("stage 1 member returned empty content")
			failed = append(failed, model)
			continue
		}
		metrics.RecordTokens(model, res.Reply.PromptTokens, res.Reply.CompletionTokens)
		replies = append(replies, ModelReply{
			Model:            model,
			Content:          res.Reply.Content,
			PromptTokens:     res.Reply.PromptTokens,
			CompletionTokens: res.Reply.CompletionTokens,
		})
	}
	if len(failed) > 0 {
		logging.Log.WithField("models", strings.Join(failed, ",")).Warnf("%d council member(s) dropped in stage 1", len(failed))
	}
	return replies
}

// stage2 re-fans the roster with the anonymized ranking prompt and
// parses each returned text.
func (e *Engine) stage2(ctx context.Context, roster []string, userQuery string, stage1 []ModelReply) ([]Ranking, map[string]string) {
	labelToModel := make(map[string]string, len(stage1))
	for i, r := range stage1 {
		labelToModel[Label(i)] = r.Model
	}

	messages := []backend.Message{{Role: "user", Content: rankingPrompt(userQuery, stage1)}}
	results := backend.FanOut(ctx, e.Client, roster, messages, e.Timeout)

	var rankings []Ranking
	for _, model := range roster {
		res := results[model]
		if res.Err != nil {
			logging.Log.WithError(res.Err).WithField("model", model).Warn("stage 2 member failed")
			continue
		}
		metrics.RecordTokens(model, res.Reply.PromptTokens, res.Reply.CompletionTokens)
		rankings = append(rankings, Ranking{
			Model:            model,
			Raw:              res.Reply.Content,
			Parsed:           ParseRanking(res.Reply.Content),
			PromptTokens:     res.Reply.PromptTokens,
			CompletionTokens: res.Reply.CompletionTokens,
		})
	}
	return rankings, labelToModel
}

var (
	primarySourceRe = regexp.MustCompile(`#\s*Primary source:\s*(.+)`)
	confidenceRe    = regexp.MustCompile(`#\s*Confidence:.*?(\d+)\s*%`)
)

// stage3 issues the single chairman call and derives the synthesis
// metadata, falling back to consensus values when the chairman omits
// its self-report.
func (e *Engine) stage3(ctx context.Context, chairman, userQuery string, stage1 []ModelReply, stage2 []Ranking, aggregate []AggregateRanking) Synthesis {
	topModel := ""
	if len(aggregate) > 0 {
		topModel = aggregate[0].Model
	}

	callCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	messages := []backend.Message{{Role: "user", Content: chairmanPrompt(userQuery, stage1, stage2)}}
	reply, err := e.Client.Query(callCtx, chairman, messages)
	if err != nil {
		logging.Log.WithError(err).WithField("model", chairman).Warn("chairman call failed, using fallback synthesis")
		return Synthesis{
			Model:          chairman,
			Content:        FallbackSynthesisContent,
			TopRankedModel: topModel,
			Confidence:     consensusConfidence(aggregate),
		}
	}
	metrics.RecordTokens(chairman, reply.PromptTokens, reply.CompletionTokens)

	syn := Synthesis{
		Model:            chairman,
		Content:          reply.Content,
		TopRankedModel:   topModel,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
	}

	if m := primarySourceRe.FindStringSubmatch(reply.Content); m != nil {
		syn.PrimarySource = strings.TrimSpace(m[1])
	}
	if syn.PrimarySource == "" {
		syn.PrimarySource = topModel
	}
	if syn.PrimarySource == "" {
		syn.PrimarySource = chairman
	}

	if m := confidenceRe.FindStringSubmatch(reply.Content); m != nil {
		if c, err := strconv.Atoi(m[1]); err == nil {
			if c < 0 {
				c = 0
			}
			if c > 100 {
				c = 100
			}
			syn.Confidence = c
			return syn
		}
	}
	syn.Confidence = consensusConfidence(aggregate)
	return syn
}

// Title asks the chairman for a 3-5 word conversation title. Best
// effort with its own short timeout; failures yield a generic title.
func (e *Engine) Title(ctx context.Context, userQuery string) string {
	cfg := e.Snapshot()

	callCtx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	messages := []backend.Message{{Role: "user", Content: titlePrompt(userQuery)}}
	reply, err := e.Client.Query(callCtx, cfg.ChairmanModel, messages)
	if err != nil {
		logging.Log.WithError(err).Debug("title generation failed")
		return "New Conversation"
	}

	title := strings.Trim(strings.TrimSpace(reply.Content), `"'`)
	if title == "" {
		return "New Conversation"
	}
	if r := []rune(title); len(r) > 50 {
		title = string(r[:47]) + "..."
	}
	return title
}
