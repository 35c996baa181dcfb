// Package relevance computes the deterministic rule score of a notice.
package relevance

import (
	"math"
	"strings"
	"time"

	"github.com/TobiSchelling/BidRadar/internal/config"
	"github.com/TobiSchelling/BidRadar/internal/notice"
)

// HardExcludeScore is the score given to notices that hit a hard-exclude
// term when no scoring configuration overrides it.
const HardExcludeScore = 2.0

// Scorer maps a notice to a 0..100 fitness score. It holds only compiled
// configuration and is safe for concurrent use.
type Scorer struct {
	w config.Scoring

	hardExclude *WordMatcher
	keywordsRe  *WordMatcher
	keywords    []string
	consulting  []string
	priority    []string
	coreFocus   []string
	negative    []string
	codes       []string
	top         []string
	middle      []string
	minimal     []string
}

// NewScorer compiles the vocabulary once.
func NewScorer(v config.Vocabulary, w config.Scoring) *Scorer {
	return &Scorer{
		w:           w,
		hardExclude: NewWordMatcher(v.HardExclude),
		keywordsRe:  NewWordMatcher(v.Keywords),
		keywords:    lowerAll(v.Keywords),
		consulting:  lowerAll(v.Consulting),
		priority:    lowerAll(v.PriorityTopics),
		coreFocus:   lowerAll(v.CoreFocus),
		negative:    lowerAll(v.Negative),
		codes:       lowerAll(v.CategoryCodes),
		top:         lowerAll(v.NoticeTypes.Top),
		middle:      lowerAll(v.NoticeTypes.Middle),
		minimal:     lowerAll(v.NoticeTypes.Minimal),
	}
}

// HardExcluded reports whether the notice text hits a hard-exclude term.
func (s *Scorer) HardExcluded(n notice.Notice) bool {
	return s.hardExclude.Match(n.Text())
}

// Score returns the rule score of n relative to today.
func (s *Scorer) Score(n notice.Notice, today time.Time) float64 {
	if n.HardExcluded || s.HardExcluded(n) {
		return s.w.HardExcludeScore
	}

	title := strings.ToLower(n.Title)
	desc := strings.ToLower(n.Description)
	agency := strings.ToLower(n.Agency)
	text := title + " " + desc + " " + agency

	total := s.keywordSignal(text)
	total += math.Min(s.w.ConsultingCap, float64(substringHits(text, s.consulting))*s.w.ConsultingWeight)
	total += s.prioritySignal(title, desc+" "+agency)
	total += s.coreFocusSignal(title, text)
	total += s.categorySignal(n.CommodityCode, title, desc)
	total -= math.Min(s.w.NegativeCap, float64(substringHits(text, s.negative))*s.w.NegativeWeight)
	total += s.noticeTypeSignal(strings.ToLower(n.Category))
	total += s.recency(n.PostedDate, today)
	if strings.TrimSpace(n.URL) != "" {
		total += s.w.URLBoost
	}

	return clamp(total, 0, 100)
}

// Exact word hits weigh more than plain substring hits; the substring count
// includes the exact ones, so only the surplus earns the soft weight.
func (s *Scorer) keywordSignal(text string) float64 {
	if len(s.keywords) == 0 {
		return 0
	}
	exact := s.keywordsRe.Count(text)
	soft := substringHits(text, s.keywords)
	extra := soft - exact
	if extra < 0 {
		extra = 0
	}
	return math.Min(s.w.KeywordCap, float64(exact)*s.w.KeywordExact+float64(extra)*s.w.KeywordSoft)
}

func (s *Scorer) prioritySignal(title, body string) float64 {
	titleHits := substringHits(title, s.priority)
	bodyHits := substringHits(body, s.priority)
	return math.Min(s.w.PriorityCap, float64(titleHits)*s.w.PriorityTitleWeight+float64(bodyHits)*s.w.PriorityBodyWeight)
}

func (s *Scorer) coreFocusSignal(title, text string) float64 {
	var v float64
	if hits := substringHits(text, s.coreFocus); hits > 0 {
		v += math.Min(s.w.CoreTextCap, float64(hits)*s.w.CoreTextWeight)
	}
	if hits := substringHits(title, s.coreFocus); hits > 0 {
		v += math.Min(s.w.CoreTitleCap, float64(hits)*s.w.CoreTitleWeight)
	}
	return v
}

func (s *Scorer) categorySignal(code, title, desc string) float64 {
	if len(s.codes) == 0 {
		return 0
	}
	field := strings.ToLower(strings.TrimSpace(code))
	detected := CategoryCodes(field + " " + title + " " + desc)

	if containsAny(field, s.codes) {
		return s.w.CategoryBoost
	}
	for _, d := range detected {
		for _, c := range s.codes {
			if d == c {
				return s.w.CategoryBoost
			}
		}
	}
	if field != "" || len(detected) > 0 {
		return -s.w.CategoryPenalty
	}
	return 0
}

func (s *Scorer) noticeTypeSignal(label string) float64 {
	switch {
	case label == "":
		return 0
	case containsAny(label, s.top):
		return s.w.NoticeTypeTop
	case containsAny(label, s.middle):
		return s.w.NoticeTypeMiddle
	case containsAny(label, s.minimal):
		return s.w.NoticeTypeMinimal
	}
	return 0
}

// recency decays by half every half-life window. Missing dates count as
// maximally stale.
func (s *Scorer) recency(posted string, today time.Time) float64 {
	days, ok := notice.DaysSince(posted, today)
	if !ok {
		return 0
	}
	halfLife := math.Max(1, s.w.RecencyHalfLifeDays)
	return s.w.RecencyMax * math.Exp(-math.Ln2*days/halfLife)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
