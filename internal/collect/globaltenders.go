package collect

import (
	"bytes"
	"context"
	"encoding/json"
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
	globalTendersBase     = "https://www.globaltenders.com"
	globalTendersSourceID = "GlobalTenders"
	globalTendersDefault  = "GlobalTenders consultancy listing."
)

// GlobalTenders scrapes a consultancy search on globaltenders.com and follows
// its AJAX pagination.
type GlobalTenders struct {
	HTTP      *HTTPClient
	SearchURL string
	// Base overrides the host used for pagination and relative links.
	Base string
}

func (g *GlobalTenders) Name() string { return globalTendersSourceID }

var globalTendersHeaders = http.Header{
	"Accept": {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
}

// Fetch parses the first result page, then pages through the advance search
// endpoint using the hidden form parameters the page carries. b.MaxPages
// limits the follow-up pages; zero means all.
func (g *GlobalTenders) Fetch(ctx context.Context, b Budget) ([]notice.Notice, error) {
	if g.SearchURL == "" {
		return nil, fmt.Errorf("no search URL configured")
	}
	base := notice.FirstNonEmpty(g.Base, globalTendersBase)
	page, err := g.HTTP.Get(ctx, g.SearchURL, globalTendersHeaders)
	if err != nil {
		return nil, fmt.Errorf("loading search: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parsing search: %w", err)
	}

	items := parseTenderWraps(doc.Selection, base)
	params := hiddenParams(doc)
	if params.Get("q") == "" {
		params.Set("q", "0")
	}

	step, last := paginationBounds(doc)
	if step <= 0 || last <= 0 {
		return items, nil
	}
	fetched := 0
	for offset := step; offset <= last; offset += step {
		if b.MaxPages > 0 && fetched >= b.MaxPages {
			break
		}
		if b.MaxRecords > 0 && len(items) >= b.MaxRecords {
			break
		}
		params.Set("limit", strconv.Itoa(offset))
		target := fmt.Sprintf("%s/solr_tender_new/advanceSearch/%d?%s", base, offset, params.Encode())
		data, err := g.HTTP.Get(ctx, target, http.Header{"Accept": {"application/json"}})
		if err != nil {
			log.Printf("[GLOBALTENDERS] page offset=%d failed: %v", offset, err)
			break
		}
		var payload struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(data, &payload); err != nil || payload.Data == "" {
			continue
		}
		chunk, err := goquery.NewDocumentFromReader(strings.NewReader(payload.Data))
		if err != nil {
			continue
		}
		items = append(items, parseTenderWraps(chunk.Selection, base)...)
		fetched++
	}
	return items, nil
}

// hiddenParams collects the non-empty inputs of the search page's hidden and
// advanced forms.
func hiddenParams(doc *goquery.Document) url.Values {
	params := url.Values{}
	doc.Find("form#hiddenFields input, form#advanceFields input").Each(func(_ int, in *goquery.Selection) {
		name := in.AttrOr("name", "")
		value := in.AttrOr("value", "")
		if name == "" || value == "" {
			return
		}
		if strings.HasSuffix(name, "[]") {
			params.Add(name, value)
		} else {
			params.Set(name, value)
		}
	})
	return params
}

// paginationBounds returns the page step and the last offset from the pager
// links' numeric titles.
func paginationBounds(doc *goquery.Document) (step, last int) {
	doc.Find("a.t_page").Each(func(_ int, a *goquery.Selection) {
		v, err := strconv.Atoi(strings.TrimSpace(a.AttrOr("title", "")))
		if err != nil || v <= 0 {
			return
		}
		if step == 0 || v < step {
			step = v
		}
		if v > last {
			last = v
		}
	})
	return step, last
}

func parseTenderWraps(root *goquery.Selection, base string) []notice.Notice {
	baseURL, _ := url.Parse(base)
	var items []notice.Notice
	root.Find(".tender-wrap").Each(func(_ int, wrap *goquery.Selection) {
		title := notice.Clean(wrap.Find(".title-wrap [itemprop='name']").First().Text())
		if title == "" {
			return
		}
		link := wrap.Find("a[itemprop='url']").First()
		if link.Length() == 0 {
			link = wrap.Find("a.btn").First()
		}
		href := ""
		if link.Length() > 0 && baseURL != nil {
			href = resolve(baseURL, link.AttrOr("href", ""))
		}
		country := notice.Clean(wrap.Find("[itemprop='location'] [itemprop='address']").First().Text())
		desc := globalTendersDefault
		if country != "" {
			desc = "Country: " + country
		}
		items = append(items, notice.Notice{
			Source:      globalTendersSourceID,
			Title:       title,
			Description: desc,
			URL:         href,
			Agency:      notice.FirstNonEmpty(country, globalTendersSourceID),
			Category:    "Consultancy",
			PostedDate:  notice.NormalizeDate(wrap.Find("[itemprop='startDate']").First().AttrOr("content", "")),
			DueDate:     notice.NormalizeDate(wrap.Find("[itemprop='endDate']").First().AttrOr("content", "")),
		})
	})
	return items
}
