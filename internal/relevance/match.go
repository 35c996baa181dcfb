package relevance

import (
	"regexp"
	"strings"
)

// WordMatcher matches a fixed term list as whole words, case-insensitively.
type WordMatcher struct {
	patterns []*regexp.Regexp
}

// NewWordMatcher compiles one word-bounded pattern per non-empty term.
func NewWordMatcher(terms []string) *WordMatcher {
	m := &WordMatcher{}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		m.patterns = append(m.patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(t)+`\b`))
	}
	return m
}

// Match reports whether any term occurs as a whole word in text.
func (m *WordMatcher) Match(text string) bool {
	t := strings.ToLower(text)
	for _, p := range m.patterns {
		if p.MatchString(t) {
			return true
		}
	}
	return false
}

// Count returns how many distinct terms occur as whole words in text.
func (m *WordMatcher) Count(text string) int {
	t := strings.ToLower(text)
	n := 0
	for _, p := range m.patterns {
		if p.MatchString(t) {
			n++
		}
	}
	return n
}

// Len is the number of compiled terms.
func (m *WordMatcher) Len() int { return len(m.patterns) }

// substringHits counts the terms contained anywhere in text. text must
// already be lowercased.
func substringHits(text string, terms []string) int {
	if text == "" {
		return 0
	}
	n := 0
	for _, t := range terms {
		if t != "" && strings.Contains(text, t) {
			n++
		}
	}
	return n
}

func lowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func containsAny(text string, fragments []string) bool {
	for _, f := range fragments {
		if f != "" && strings.Contains(text, f) {
			return true
		}
	}
	return false
}

var eightDigitCode = regexp.MustCompile(`\b\d{8}\b`)

// CategoryCodes returns the 8-digit classification codes embedded in text.
func CategoryCodes(text string) []string {
	return eightDigitCode.FindAllString(text, -1)
}
