// Package triage asks an LLM how well a notice fits the firm's focus.
package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/TobiSchelling/BidRadar/internal/llm"
	"github.com/TobiSchelling/BidRadar/internal/notice"
)

// ErrNoProvider is returned when no LLM provider is configured.
var ErrNoProvider = errors.New("no LLM provider configured")

const judgePrompt = `You are a bid/no-bid triage assistant for a management and AI consulting firm.

Rate how well this procurement notice matches the firm's target work on a scale of 0 to 100, and summarize it for partners.

Target criteria:
%s

Notice:
%s

Respond with ONLY this JSON:
{
    "score": 0-100,
    "rationale": "One sentence explaining the score",
    "summary": "Up to 5 short sentences: client/agency, problem, scope, key requirements, dates if present"
}`

const maxContentChars = 4000

// Judgment is the external relevance verdict on one notice.
type Judgment struct {
	Score     float64
	Rationale string
	Summary   string
}

// Judge scores notices through an LLM provider.
type Judge struct {
	provider  llm.Provider
	criteria  string
	maxTokens int
}

// NewJudge creates a judge. criteria is the list of phrases describing the
// work the firm wants to win.
func NewJudge(provider llm.Provider, criteria []string, maxTokens int) *Judge {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	c := "management consulting, agile transformation, digital strategy"
	if len(criteria) > 0 {
		c = strings.Join(criteria, ", ")
	}
	return &Judge{provider: provider, criteria: c, maxTokens: maxTokens}
}

// Judge rates one notice. Transport failures are returned; an unusable reply
// yields a zero judgment and no error.
func (j *Judge) Judge(ctx context.Context, n notice.Notice) (Judgment, error) {
	if j == nil || j.provider == nil {
		return Judgment{}, ErrNoProvider
	}

	content := n.JudgeText()
	if len(content) > maxContentChars {
		content = notice.Truncate(content, maxContentChars) + "..."
	}
	prompt := fmt.Sprintf(judgePrompt, j.criteria, content)

	responseText, err := j.provider.Generate(ctx, prompt, j.maxTokens)
	if err != nil {
		return Judgment{}, fmt.Errorf("judging %q: %w", n.Title, err)
	}
	return parseJudgment(responseText), nil
}

func parseJudgment(text string) Judgment {
	parsed := llm.ParseJSONResponse(text)
	if parsed == nil {
		return Judgment{}
	}

	score, ok := getScore(parsed, "score")
	if !ok || score < 0 || score > 100 {
		return Judgment{}
	}

	return Judgment{
		Score:     score,
		Rationale: plainText(getString(parsed, "rationale", "")),
		Summary:   plainText(getString(parsed, "summary", "")),
	}
}

func getString(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// getScore accepts numbers and numeric strings.
func getScore(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
