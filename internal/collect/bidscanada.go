package collect

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/BidRadar/internal/notice"
)

const (
	bidsCanadaBase     = "https://www.bidscanada.com"
	bidsCanadaListing  = bidsCanadaBase + "/Default.CFM?Page=400&PC=457DDD89&UID=-&SID=-&BSID=0"
	bidsCanadaSourceID = "bidsCanada"
	bidsCanadaDefault  = "bidsCanada listing."
)

// BidsCanada scrapes the bidsCanada solicitation listing, optionally after
// submitting its search form with the configured terms.
type BidsCanada struct {
	HTTP        *HTTPClient
	ListingURL  string
	SearchTerms []string
	// Keywords seed the search when no explicit terms are configured.
	Keywords    []string
	SearchLimit int
}

func (s *BidsCanada) Name() string { return bidsCanadaSourceID }

var bidsCanadaHeaders = http.Header{
	"Accept": {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
}

// Fetch loads the listing page. When search terms are available it replays
// the page's search form; a failed search keeps the unfiltered listing.
func (s *BidsCanada) Fetch(ctx context.Context, b Budget) ([]notice.Notice, error) {
	listing := notice.FirstNonEmpty(s.ListingURL, bidsCanadaListing)
	page, err := s.HTTP.Get(ctx, listing, bidsCanadaHeaders)
	if err != nil {
		return nil, fmt.Errorf("loading listing: %w", err)
	}

	if terms := s.searchTerms(); terms != "" {
		action, fields, err := extractSearchForm(page, listing)
		switch {
		case err != nil:
			log.Printf("[BIDSCANADA] search form: %v", err)
		case len(fields) > 0:
			fields.Set("SearchCriteria", terms)
			if b.MaxRecords > 0 {
				fields.Set("DisplayCount", strconv.Itoa(b.MaxRecords))
			}
			if fields.Get("SubmitBidSolicitationsSearch") == "" {
				fields.Set("SubmitBidSolicitationsSearch", "Search")
			}
			if res, err := s.HTTP.PostForm(ctx, action, fields, bidsCanadaHeaders); err != nil {
				log.Printf("[BIDSCANADA] search failed, using listing: %v", err)
			} else {
				page = res
			}
		}
	}

	items, err := parseBidsCanada(page)
	if err != nil {
		return nil, err
	}
	if b.MaxRecords > 0 && len(items) > b.MaxRecords {
		items = items[:b.MaxRecords]
	}
	return items, nil
}

func (s *BidsCanada) searchTerms() string {
	if len(s.SearchTerms) > 0 {
		return strings.Join(s.SearchTerms, ", ")
	}
	if len(s.Keywords) == 0 {
		return ""
	}
	limit := s.SearchLimit
	if limit <= 0 {
		limit = 8
	}
	return strings.Join(s.Keywords[:min(limit, len(s.Keywords))], ", ")
}

// extractSearchForm returns the resolved form action and its current field
// values.
func extractSearchForm(page []byte, base string) (string, url.Values, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", nil, err
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", nil, err
	}
	form := doc.Find(`form[name="SearchBidSolicitationForm"], form#SearchBidSolicitationForm`).First()
	if form.Length() == 0 {
		return resolve(baseURL, "Default.CFM"), nil, nil
	}
	action, _, _ := strings.Cut(form.AttrOr("action", "Default.CFM"), "#")
	if action == "" {
		action = "Default.CFM"
	}

	fields := url.Values{}
	form.Find("input").Each(func(_ int, in *goquery.Selection) {
		if name := in.AttrOr("name", ""); name != "" {
			fields.Set(name, in.AttrOr("value", ""))
		}
	})
	form.Find("select").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		if name == "" {
			return
		}
		opt := sel.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = sel.Find("option").First()
		}
		if v, ok := opt.Attr("value"); ok {
			fields.Set(name, v)
		}
	})
	return resolve(baseURL, action), fields, nil
}

func resolve(base *url.URL, ref string) string {
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return u.String()
}

func parseBidsCanada(page []byte) ([]notice.Notice, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parsing listing: %w", err)
	}
	var items []notice.Notice
	if table := doc.Find("table#rfp").First(); table.Length() > 0 {
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			if n, ok := bidsCanadaRow(row); ok {
				items = append(items, n)
			}
		})
		return items, nil
	}
	// The "last 24 hours" page uses a plain striped table.
	doc.Find("table.table.table-striped").First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		if n, ok := bidsCanadaRecentRow(row); ok {
			items = append(items, n)
		}
	})
	return items, nil
}

func bidsCanadaRow(row *goquery.Selection) (notice.Notice, bool) {
	cells := row.Find("td")
	if cells.Length() < 4 {
		return notice.Notice{}, false
	}
	desc := cells.Eq(0)
	link := desc.Find(`a[href*="Page=500"]`).First()
	if link.Length() == 0 {
		link = desc.Find("a").First()
	}
	title := notice.Clean(link.Text())
	if title == "" {
		return notice.Notice{}, false
	}
	base, _ := url.Parse(bidsCanadaBase)
	href := resolve(base, link.AttrOr("href", ""))

	var reference, source string
	desc.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := notice.Clean(p.Text())
		lower := strings.ToLower(text)
		switch {
		case strings.HasPrefix(lower, "reference:"):
			reference = afterColon(text)
		case strings.HasPrefix(lower, "source:"):
			source = afterColon(text)
		}
	})

	closing := notice.Clean(cells.Eq(2).Text())
	location := notice.Clean(cells.Eq(3).Text())

	var parts []string
	if reference != "" {
		parts = append(parts, "Reference: "+reference)
	}
	if source != "" {
		parts = append(parts, "Source: "+source)
	}
	if location != "" {
		parts = append(parts, "Location: "+location)
	}
	return notice.Notice{
		Source:      bidsCanadaSourceID,
		Title:       title,
		Description: joinOr(parts, bidsCanadaDefault),
		URL:         href,
		Agency:      notice.FirstNonEmpty(source, bidsCanadaSourceID),
		Category:    "RFP",
		PostedDate:  notice.NormalizeDate(notice.Clean(cells.Eq(1).Text())),
		DueDate:     notice.FirstNonEmpty(notice.ExtractDate(closing), notice.NormalizeDate(closing)),
	}, true
}

func bidsCanadaRecentRow(row *goquery.Selection) (notice.Notice, bool) {
	cells := row.Find("td")
	if cells.Length() < 3 {
		return notice.Notice{}, false
	}
	desc := cells.Eq(0)
	title := notice.Clean(desc.Find("h3").First().Text())
	if title == "" {
		return notice.Notice{}, false
	}
	var source string
	desc.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := notice.Clean(p.Text())
		if strings.HasPrefix(strings.ToLower(text), "rfp source:") {
			source = afterColon(text)
		}
	})
	closing := notice.Clean(cells.Eq(2).Text())
	location := notice.Clean(cells.Eq(1).Text())

	var parts []string
	if source != "" {
		parts = append(parts, "Source: "+source)
	}
	if location != "" {
		parts = append(parts, "Location: "+location)
	}
	return notice.Notice{
		Source:      bidsCanadaSourceID,
		Title:       title,
		Description: joinOr(parts, bidsCanadaDefault),
		URL:         bidsCanadaBase + "/RFP",
		Agency:      notice.FirstNonEmpty(source, bidsCanadaSourceID),
		Category:    "RFP",
		PostedDate:  notice.ExtractDate(title),
		DueDate:     notice.FirstNonEmpty(notice.ExtractDate(closing), notice.NormalizeDate(closing)),
	}, true
}

func afterColon(s string) string {
	_, v, _ := strings.Cut(s, ":")
	return strings.TrimSpace(v)
}

func joinOr(parts []string, fallback string) string {
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, " | ")
}
