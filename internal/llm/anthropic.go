package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quizline/curator/internal/resilience"
	"github.com/quizline/curator/pkg/anthropic"
)

// Config holds the tunables for the Anthropic-backed model.
type Config struct {
	Model             string
	MaxTokens         int64
	RequestsPerMinute float64
	MaxRetries        int
}

// AnthropicModel implements LanguageModel on top of the Anthropic API with
// client-side rate limiting and retry on transient failures.
type AnthropicModel struct {
	client  anthropic.Client
	model   string
	maxTok  int64
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewAnthropicModel creates an AnthropicModel.
func NewAnthropicModel(client anthropic.Client, cfg Config) *AnthropicModel {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}

	retryCfg := resilience.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "create_message")

	return &AnthropicModel{
		client:  client,
		model:   cfg.Model,
		maxTok:  cfg.MaxTokens,
		limiter: rate.NewLimiter(rate.Limit(rpm/60.0), 1),
		retry:   retryCfg,
	}
}

const generateSystem = `You write short, thought-provoking questions for a daily reflection app.
Return ONLY a JSON array of question strings. No commentary, no markdown.`

// Generate synthesizes new question texts matching the prompt.
func (m *AnthropicModel) Generate(ctx context.Context, prompt string, count int) ([]string, error) {
	if count <= 0 {
		count = 1
	}

	user := fmt.Sprintf("Write %d new questions.\n\n%s", count, prompt)
	text, err := m.call(ctx, generateSystem, user)
	if err != nil {
		return nil, err
	}

	var questions []string
	if err := json.Unmarshal([]byte(cleanJSON(text)), &questions); err != nil {
		return nil, eris.Wrap(err, "llm: parse generated questions")
	}

	out := make([]string, 0, len(questions))
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q != "" {
			out = append(out, q)
		}
	}
	if len(out) > count {
		out = out[:count]
	}
	return out, nil
}

const groupSystem = `You identify duplicate questions in a list. Two questions are duplicates if they ask essentially the same thing, even with different wording.
Return ONLY a JSON object of the form {"groups": [{"member_ids": ["..."], "reason": "...", "confidence": 0.0}]}.
Each group needs at least two member ids taken verbatim from the input, a short human-readable reason, and a confidence between 0 and 1. Return {"groups": []} if there are none.`

type groupResult struct {
	Groups []DuplicateGroup `json:"groups"`
}

// GroupDuplicates proposes duplicate clusters within one batch of items.
func (m *AnthropicModel) GroupDuplicates(ctx context.Context, items []BatchItem) ([]DuplicateGroup, error) {
	if len(items) < 2 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Questions:\n")
	for _, item := range items {
		fmt.Fprintf(&sb, "- id=%s text=%q\n", item.ID, item.Text)
	}

	text, err := m.call(ctx, groupSystem, sb.String())
	if err != nil {
		return nil, err
	}

	var result groupResult
	if err := json.Unmarshal([]byte(cleanJSON(text)), &result); err != nil {
		return nil, eris.Wrap(err, "llm: parse duplicate groups")
	}

	known := make(map[string]bool, len(items))
	for _, item := range items {
		known[item.ID] = true
	}

	var groups []DuplicateGroup
	for _, g := range result.Groups {
		// Drop hallucinated ids before counting members.
		var members []string
		for _, id := range g.MemberIDs {
			if known[id] {
				members = append(members, id)
			}
		}
		if len(members) < 2 {
			continue
		}
		groups = append(groups, DuplicateGroup{
			MemberIDs:  members,
			Reason:     g.Reason,
			Confidence: clamp01(g.Confidence),
		})
	}
	return groups, nil
}

func (m *AnthropicModel) call(ctx context.Context, system, user string) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "llm: rate limit wait")
	}

	start := time.Now()
	resp, err := resilience.DoVal(ctx, m.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return m.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     m.model,
			MaxTokens: m.maxTok,
			System:    []anthropic.SystemBlock{{Text: system}},
			Messages:  []anthropic.Message{{Role: "user", Content: user}},
		})
	})
	if err != nil {
		return "", eris.Wrap(err, "llm: create message")
	}

	zap.L().Debug("model call complete",
		zap.String("model", m.model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	resp.Usage.LogCost(m.model, "curation")

	return resp.Text(), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// cleanJSON strips markdown fences and surrounding prose from a model reply,
// leaving the outermost JSON value.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find the outermost object or array.
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")
	switch {
	case arrStart >= 0 && (objStart < 0 || arrStart < objStart):
		if end := strings.LastIndex(text, "]"); end > arrStart {
			text = text[arrStart : end+1]
		}
	case objStart >= 0:
		if end := strings.LastIndex(text, "}"); end > objStart {
			text = text[objStart : end+1]
		}
	}

	return strings.TrimSpace(text)
}
