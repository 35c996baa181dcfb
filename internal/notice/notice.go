// Package notice defines the normalized procurement notice that flows through
// the ingestion pipeline, plus the text and date helpers adapters share.
package notice

import (
	"strings"
	"unicode/utf8"
)

// Notice is a single procurement opportunity as emitted by a source adapter.
// Score fields are filled in by the pipeline; adapters never set them.
type Notice struct {
	Source        string
	Title         string
	Description   string
	Agency        string
	Category      string
	URL           string
	PostedDate    string // YYYY-MM-DD or empty
	DueDate       string // YYYY-MM-DD or empty
	CommodityCode string

	// Set by adapters whose upstream is already scoped to relevant work.
	ForceCategoryPass bool
	ForceKeywordPass  bool

	HardExcluded    bool
	CategoryMatched bool
	Selected        bool // picked for external judgment

	RuleScore     float64
	ExternalScore float64
	FinalScore    float64
	Summary       string
	Rationale     string

	// PageText is extracted from the notice page for the judge only. It is
	// never scored or stored.
	PageText string
}

// Text returns the title, description and agency joined for matching.
func (n Notice) Text() string {
	return n.Title + " " + n.Description + " " + n.Agency
}

// JudgeText is the free text handed to the external relevance judge. Page
// text, when present, stands in for the description.
func (n Notice) JudgeText() string {
	var b strings.Builder
	b.WriteString(n.Title)
	body := n.Description
	if n.PageText != "" {
		body = n.PageText
	}
	if body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	if n.Agency != "" {
		b.WriteString("\n\nAgency: ")
		b.WriteString(n.Agency)
	}
	if n.DueDate != "" {
		b.WriteString("\nCloses: ")
		b.WriteString(n.DueDate)
	}
	return b.String()
}

// Clean trims a raw field value, collapses inner whitespace and maps the
// spreadsheet placeholders "nan"/"null" to the empty string.
func Clean(v string) string {
	s := strings.Join(strings.Fields(v), " ")
	switch strings.ToLower(s) {
	case "nan", "null", "none":
		return ""
	}
	return s
}

// FirstNonEmpty returns the first argument that is non-empty after Clean.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if c := Clean(v); c != "" {
			return c
		}
	}
	return ""
}

// EnsureScheme prefixes scheme-less URLs with https://.
func EnsureScheme(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return "https://" + strings.TrimPrefix(u, "//")
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}
	i := max
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}
