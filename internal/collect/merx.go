package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/BidRadar/internal/notice"
)

const (
	merxBase       = "https://www.merx.com"
	merxListing    = merxBase + "/public/solicitations/open"
	merxSearchAPI  = merxBase + "/public/opportunity-search/api/OpportunitySearch/GetOpportunityList"
	merxSourceID   = "MERX"
	merxPageSize   = 40
	merxForceTopN  = 20
	merxDefaultMsg = "MERX solicitation."
)

// MERXFeed is one configured MERX listing.
type MERXFeed struct {
	Slug         string
	URL          string
	ForceKeyword bool
	UseAPI       bool
}

// ParseMERXFeeds reads the "slug|url|flag;..." form. Chunks with fewer than
// two parts are ignored; an empty result yields the default listing feed.
func ParseMERXFeeds(raw string) []MERXFeed {
	var feeds []MERXFeed
	for _, chunk := range strings.Split(raw, ";") {
		var parts []string
		for _, p := range strings.Split(chunk, "|") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) < 2 {
			continue
		}
		slug := Slug(parts[0])
		if slug == "" {
			slug = "feed" + strconv.Itoa(len(feeds)+1)
		}
		f := MERXFeed{Slug: slug, URL: parts[1]}
		for _, flag := range parts[2:] {
			switch strings.ToLower(flag) {
			case "force_keyword":
				f.ForceKeyword = true
			case "use_api":
				f.UseAPI = true
			}
		}
		feeds = append(feeds, f)
	}
	if len(feeds) == 0 {
		feeds = append(feeds, MERXFeed{Slug: "default", URL: merxListing, ForceKeyword: true, UseAPI: true})
	}
	return feeds
}

// MERX scrapes MERX open solicitations. Each feed tries the live HTML
// listing, then its last saved snapshot, then the JSON search API.
type MERX struct {
	HTTP      *HTTPClient
	Snapshots *SnapshotStore
	Feeds     []MERXFeed
	HTMLFirst bool
	SearchAPI string
}

func (m *MERX) Name() string { return merxSourceID }

var merxHeaders = http.Header{
	"Accept":  {"application/json,text/html;q=0.9,*/*;q=0.8"},
	"Referer": {merxListing},
}

func snapshotKey(slug string) string { return "merx_" + slug }

// Fetch emits MERX notices deduplicated by URL across feeds. Every notice
// passes the category stage; the first rows of force_keyword feeds also pass
// the keyword stage. A feed with no live, snapshot or API rows is logged and
// yields nothing; Fetch never fails.
func (m *MERX) Fetch(ctx context.Context, b Budget) ([]notice.Notice, error) {
	maxPages := b.MaxPages
	if maxPages <= 0 {
		maxPages = 2
	}
	seen := map[string]bool{}
	var out []notice.Notice
	for _, feed := range m.Feeds {
		var rows []notice.Notice
		if m.HTMLFirst {
			var err error
			rows, err = m.htmlPages(ctx, feed, maxPages)
			if err != nil {
				log.Printf("[MERX] feed %s: live listing unavailable: %v", feed.Slug, err)
			}
		}
		if len(rows) == 0 && m.Snapshots != nil {
			rows = m.fromSnapshot(feed)
		}
		if len(rows) == 0 && feed.UseAPI {
			rows = m.fromAPI(ctx, maxPages)
		}
		if len(rows) == 0 {
			log.Printf("[MERX] feed %s: no rows from listing, snapshot or API", feed.Slug)
		}
		for i := range rows {
			if feed.ForceKeyword && i < merxForceTopN {
				rows[i].ForceKeywordPass = true
			}
		}
		for _, n := range rows {
			if n.URL != "" {
				if seen[n.URL] {
					continue
				}
				seen[n.URL] = true
			}
			n.Source = merxSourceID
			n.ForceCategoryPass = true
			out = append(out, n)
		}
	}
	return out, nil
}

// RefreshSnapshots downloads every feed's listing and stores it for later
// fallback. It returns the files written.
func (m *MERX) RefreshSnapshots(ctx context.Context) ([]string, error) {
	if m.Snapshots == nil {
		return nil, errors.New("no snapshot store configured")
	}
	var paths []string
	var errs []error
	for _, feed := range m.Feeds {
		data, err := m.HTTP.Get(ctx, feed.URL, merxHeaders)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.Slug, err))
			continue
		}
		if err := m.Snapshots.Save(snapshotKey(feed.Slug), feed.Slug, data); err != nil {
			errs = append(errs, err)
			continue
		}
		path := m.Snapshots.Path(snapshotKey(feed.Slug))
		log.Printf("[MERX] snapshot refreshed feed=%s path=%s bytes=%d", feed.Slug, path, len(data))
		paths = append(paths, path)
	}
	return paths, errors.Join(errs...)
}

func (m *MERX) htmlPages(ctx context.Context, feed MERXFeed, maxPages int) ([]notice.Notice, error) {
	var rows []notice.Notice
	for page := 1; page <= maxPages; page++ {
		target := pageURL(feed.URL, page)
		data, err := m.HTTP.Get(ctx, target, merxHeaders)
		if err != nil {
			log.Printf("[MERX] HTML fetch failed (page %d): %v", page, err)
			if page == 1 {
				return nil, err
			}
			break
		}
		parsed, err := parseMERXListing(data)
		if err != nil {
			log.Printf("[MERX] HTML parse failed (page %d): %v", page, err)
			break
		}
		if page == 1 && len(parsed) > 0 && m.Snapshots != nil {
			if err := m.Snapshots.Save(snapshotKey(feed.Slug), feed.Slug, data); err != nil {
				log.Printf("[MERX] snapshot save failed: %v", err)
			}
		}
		rows = append(rows, parsed...)
		if len(parsed) == 0 {
			break
		}
	}
	return rows, nil
}

func (m *MERX) fromSnapshot(feed MERXFeed) []notice.Notice {
	data, err := m.Snapshots.Load(snapshotKey(feed.Slug))
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			log.Printf("[MERX] snapshot load failed: %v", err)
		}
		return nil
	}
	rows, err := parseMERXListing(data)
	if err != nil {
		log.Printf("[MERX] snapshot parse failed: %v", err)
		return nil
	}
	log.Printf("[MERX] loaded %d rows from snapshot %s", len(rows), m.Snapshots.Path(snapshotKey(feed.Slug)))
	return rows
}

func (m *MERX) fromAPI(ctx context.Context, maxPages int) []notice.Notice {
	var rows []notice.Notice
	for page := 1; page <= maxPages; page++ {
		got := m.searchAPI(ctx, page, merxPageSize)
		if len(got) == 0 {
			break
		}
		rows = append(rows, got...)
		if len(got) < merxPageSize {
			break
		}
	}
	return rows
}

// searchAPI tries a GET query first and falls back to the POST form of the
// same search.
func (m *MERX) searchAPI(ctx context.Context, page, pageSize int) []notice.Notice {
	api := m.SearchAPI
	if api == "" {
		api = merxSearchAPI
	}
	q := url.Values{}
	q.Set("language", "en")
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("sortField", "PublishedDate")
	q.Set("sortDir", "desc")
	q.Set("state", "open")
	data, err := m.HTTP.Get(ctx, api+"?"+q.Encode(), merxHeaders)
	if err == nil {
		if rows := extractMERXRecords(data); len(rows) > 0 {
			return rows
		}
	} else {
		log.Printf("[MERX] GET failed: %v", err)
	}

	body, _ := json.Marshal(map[string]any{
		"SearchText":          "",
		"PageNumber":          page,
		"PageSize":            pageSize,
		"Language":            "en",
		"SortField":           "PublishedDate",
		"SortAscending":       false,
		"OpportunityStatuses": []string{"Open"},
	})
	data, err = m.HTTP.PostJSON(ctx, api, body, merxHeaders)
	if err != nil {
		log.Printf("[MERX] POST failed: %v", err)
		return nil
	}
	return extractMERXRecords(data)
}

// pageURL sets the page query parameter for pages after the first.
func pageURL(base string, page int) string {
	if page <= 1 {
		return base
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

var merxListKeys = []string{"items", "Items", "results", "Results", "opportunities", "Opportunities", "data", "Data"}

func extractMERXRecords(data []byte) []notice.Notice {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil
	}
	if rows := recordsAt(payload); len(rows) > 0 {
		return rows
	}
	// Some responses nest the list one level down, e.g. {"value": {"items": [...]}}.
	for _, key := range []string{"value", "Value", "data"} {
		var nested map[string]json.RawMessage
		if raw, ok := payload[key]; ok && json.Unmarshal(raw, &nested) == nil {
			if rows := recordsAt(nested); len(rows) > 0 {
				return rows
			}
		}
	}
	return nil
}

func recordsAt(payload map[string]json.RawMessage) []notice.Notice {
	for _, key := range merxListKeys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var recs []map[string]any
		if json.Unmarshal(raw, &recs) != nil {
			continue
		}
		var out []notice.Notice
		for _, rec := range recs {
			if n, ok := merxRecord(rec); ok {
				out = append(out, n)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func firstField(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := rec[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			continue
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func merxRecord(rec map[string]any) (notice.Notice, bool) {
	title := firstField(rec, "OpportunityTitle", "Title", "Name", "opportunityTitle", "SolicitationTitle", "Description")
	if title == "" {
		return notice.Notice{}, false
	}
	closing := firstField(rec, "ClosingDate", "CloseDate", "BidClosingDate", "Closing", "Closingdate")
	desc := firstField(rec, "Summary", "Description", "SummaryDescription")
	if desc == "" && closing != "" {
		desc = "Closing: " + closing
	}
	link := firstField(rec, "PublicUrl", "DetailUrl", "Url", "Link", "link")
	if link != "" && !strings.HasPrefix(link, "http") {
		link = merxBase + link
	}
	return notice.Notice{
		Source:      merxSourceID,
		Title:       notice.Clean(title),
		Agency:      notice.Clean(firstField(rec, "PurchasingOrganization", "OrganizationName", "AgencyName", "Buyer")),
		Description: notice.FirstNonEmpty(desc, merxDefaultMsg),
		URL:         link,
		Category:    "RFP",
		PostedDate:  notice.NormalizeDate(firstField(rec, "PublishedDate", "PublishDate", "PostingDate", "PostDate", "IssueDate", "PublicationDate")),
		DueDate:     notice.NormalizeDate(closing),
	}, true
}

var merxOrgText = regexp.MustCompile(`(?:Organization|Owner|Buyer)\s*[:\-]\s*(.+?)\s{2,}`)

func parseMERXListing(data []byte) ([]notice.Notice, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing listing: %w", err)
	}
	seen := map[string]bool{}
	var out []notice.Notice
	doc.Find(`a[href*="/solicitations/open-bids/"]`).Each(func(_ int, link *goquery.Selection) {
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if href == "" || seen[href] {
			return
		}
		seen[href] = true
		title := notice.FirstNonEmpty(link.Text(), link.AttrOr("title", ""))
		if title == "" {
			return
		}

		container := link.Closest("article")
		if container.Length() == 0 {
			container = link.Closest("li")
		}
		if container.Length() == 0 {
			container = link.Closest("div")
		}
		if container.Length() == 0 {
			container = link.Parent()
		}
		text := spacedText(container)

		agency := ancestorAttr(container, "organization", "owner", "agency", "purchasing")
		if agency == "" {
			// The pattern relies on runs of whitespace between fields.
			if m := merxOrgText.FindStringSubmatch(text); m != nil {
				agency = strings.TrimSpace(m[1])
			}
		}
		posted := notice.NormalizeDate(ancestorAttr(container, "posted", "published", "issue", "date"))
		if posted == "" {
			posted = notice.ExtractDate(text)
		}
		due := notice.NormalizeDate(container.Find(".closingDate .dateValue").First().Text())
		if due == "" {
			due = notice.NormalizeDate(ancestorAttr(container, "closing", "due", "deadline"))
		}

		summary := container.Find(".solicitation-card__summary").First()
		if summary.Length() == 0 {
			summary = container.Find(".description").First()
		}
		if summary.Length() == 0 {
			summary = container.Find("p").First()
		}

		full := href
		if !strings.HasPrefix(full, "http") {
			full = merxBase + href
		}
		out = append(out, notice.Notice{
			Source:      merxSourceID,
			Title:       title,
			Agency:      notice.Clean(agency),
			Description: notice.FirstNonEmpty(summary.Text(), merxDefaultMsg),
			URL:         full,
			Category:    "RFP",
			PostedDate:  posted,
			DueDate:     due,
		})
	})
	return out, nil
}

// spacedText joins the text nodes under sel with spaces so adjacent cells do
// not run together.
func spacedText(sel *goquery.Selection) string {
	var parts []string
	sel.Find("*").AddBack().Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			if t := strings.TrimSpace(c.Text()); t != "" {
				parts = append(parts, t)
			}
		}
	})
	return strings.Join(parts, "  ")
}

// ancestorAttr returns the first attribute value, on sel or any ancestor,
// whose name contains one of needles.
func ancestorAttr(sel *goquery.Selection, needles ...string) string {
	for s := sel; s.Length() > 0; s = s.Parent() {
		for _, a := range s.Nodes[0].Attr {
			name := strings.ToLower(a.Key)
			for _, n := range needles {
				if strings.Contains(name, n) {
					return strings.TrimSpace(a.Val)
				}
			}
		}
	}
	return ""
}
