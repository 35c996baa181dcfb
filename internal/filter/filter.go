// Package filter narrows merged notices to the ones worth scoring.
package filter

import (
	"regexp"
	"strings"

	"github.com/TobiSchelling/BidRadar/internal/notice"
	"github.com/TobiSchelling/BidRadar/internal/relevance"
)

// Stats counts what each stage did to one batch.
type Stats struct {
	In              int
	HardExcluded    int
	DroppedCategory int
	DroppedKeyword  int
	Out             int
}

// Chain applies hard-exclude tagging, then the category stage, then the
// keyword/focus stage.
type Chain struct {
	hardExclude *relevance.WordMatcher
	keywords    *relevance.WordMatcher
	focus       []*regexp.Regexp
	codes       []string
}

// NewChain compiles the filter vocabulary.
func NewChain(keywords, focusTerms, categoryCodes, hardExclude []string) *Chain {
	c := &Chain{
		hardExclude: relevance.NewWordMatcher(hardExclude),
		keywords:    relevance.NewWordMatcher(keywords),
	}
	for _, t := range focusTerms {
		if re := compileFocus(t); re != nil {
			c.focus = append(c.focus, re)
		}
	}
	for _, code := range categoryCodes {
		if code = strings.ToLower(strings.TrimSpace(code)); code != "" {
			c.codes = append(c.codes, code)
		}
	}
	return c
}

// compileFocus turns a phrase into a case-insensitive whole-word pattern in
// which any run of whitespace separates the words.
func compileFocus(term string) *regexp.Regexp {
	words := strings.Fields(term)
	if len(words) == 0 {
		return nil
	}
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`)
}

// Apply returns the surviving notices in input order. Hard-excluded notices
// skip both stages and are kept, flagged, so they can be scored and stored.
func (c *Chain) Apply(in []notice.Notice) ([]notice.Notice, Stats) {
	st := Stats{In: len(in)}
	out := make([]notice.Notice, 0, len(in))

	for _, n := range in {
		if c.hardExclude.Match(n.Text()) {
			n.HardExcluded = true
			st.HardExcluded++
			out = append(out, n)
			continue
		}
		matched, ok := c.passCategory(n)
		if !ok {
			st.DroppedCategory++
			continue
		}
		n.CategoryMatched = matched
		if !c.passKeyword(n) {
			st.DroppedKeyword++
			continue
		}
		out = append(out, n)
	}

	st.Out = len(out)
	return out, st
}

// passCategory reports whether n survives the category stage and whether it
// did so on an explicit code match.
func (c *Chain) passCategory(n notice.Notice) (matched, ok bool) {
	if len(c.codes) == 0 {
		return false, true
	}
	field := strings.ToLower(n.CommodityCode)
	for _, code := range c.codes {
		if strings.Contains(field, code) {
			return true, true
		}
	}
	for _, found := range relevance.CategoryCodes(n.Text()) {
		for _, code := range c.codes {
			if found == code {
				return true, true
			}
		}
	}
	return false, n.ForceCategoryPass
}

func (c *Chain) passKeyword(n notice.Notice) bool {
	if c.keywords.Len() == 0 && len(c.focus) == 0 {
		return true
	}
	if n.CategoryMatched || n.ForceKeywordPass {
		return true
	}
	text := n.Text()
	if c.keywords.Match(text) {
		return true
	}
	for _, re := range c.focus {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
