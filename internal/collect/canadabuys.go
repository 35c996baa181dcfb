package collect

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/TobiSchelling/BidRadar/internal/notice"
)

const (
	canadaBuysCKAN     = "https://open.canada.ca/data/en/api/3/action/package_show?id=6abd20d4-7a1c-4b38-baa2-9525d0bb2fd2"
	canadaBuysNewCSV   = "https://canadabuys.canada.ca/opendata/pub/newTenderNotice-nouvelAvisAppelOffres.csv"
	canadaBuysOpenCSV  = "https://canadabuys.canada.ca/opendata/pub/openTenderNotice-ouvertAvisAppelOffres.csv"
	canadaBuysSourceID = "CanadaBuys"
)

// CanadaBuys reads the federal tender notice CSV from the open data portal.
type CanadaBuys struct {
	HTTP    *HTTPClient
	Scope   string // "new" or "all"
	CKANURL string
}

func (c *CanadaBuys) Name() string { return canadaBuysSourceID }

// Fetch downloads the CSV for the configured scope and emits rows newest
// first.
func (c *CanadaBuys) Fetch(ctx context.Context, b Budget) ([]notice.Notice, error) {
	csvURL := c.resourceURL(ctx)
	data, err := c.HTTP.Get(ctx, csvURL, http.Header{"Accept": {"text/csv,*/*;q=0.8"}})
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", csvURL, err)
	}
	out, rows, err := parseCanadaBuysCSV(data, b.MaxRecords)
	if err != nil {
		return nil, err
	}
	log.Printf("[CANADABUYS] scope=%s url=%s rows=%d -> emitted=%d", c.scope(), csvURL, rows, len(out))
	return out, nil
}

func (c *CanadaBuys) scope() string {
	if strings.EqualFold(c.Scope, "all") {
		return "all"
	}
	return "new"
}

// resourceURL asks CKAN for the dataset's CSV resources and picks the most
// specific one for the scope, falling back to the fixed portal URL.
func (c *CanadaBuys) resourceURL(ctx context.Context) string {
	scope := c.scope()
	fallback := canadaBuysNewCSV
	if scope == "all" {
		fallback = canadaBuysOpenCSV
	}

	api := c.CKANURL
	if api == "" {
		api = canadaBuysCKAN
	}
	data, err := c.HTTP.Get(ctx, api, http.Header{"Accept": {"application/json"}})
	if err != nil {
		log.Printf("[CANADABUYS] CKAN fallback: %v", err)
		return fallback
	}
	if u := pickCanadaBuysResource(data, scope); u != "" {
		return u
	}
	return fallback
}

func pickCanadaBuysResource(data []byte, scope string) string {
	var pkg struct {
		Result struct {
			Resources []struct {
				Format string `json:"format"`
				URL    string `json:"url"`
			} `json:"resources"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		log.Printf("[CANADABUYS] CKAN fallback: %v", err)
		return ""
	}

	var csvs []string
	for _, r := range pkg.Result.Resources {
		if strings.EqualFold(strings.TrimSpace(r.Format), "csv") && r.URL != "" {
			csvs = append(csvs, r.URL)
		}
	}
	find := func(pred func(string) bool) string {
		for _, u := range csvs {
			if pred(strings.ToLower(u)) {
				return u
			}
		}
		return ""
	}

	if scope == "all" {
		if u := find(func(u string) bool { return strings.Contains(u, "opentendernotice") }); u != "" {
			return u
		}
		if u := find(func(u string) bool {
			return strings.Contains(u, "tendernotice") && !strings.Contains(u, "newtendernotice")
		}); u != "" {
			return u
		}
	}
	if u := find(func(u string) bool { return strings.Contains(u, "newtendernotice") }); u != "" {
		return u
	}
	if len(csvs) > 0 {
		return csvs[0]
	}
	return ""
}

// findColumn returns the index of the first header containing every needle,
// case-insensitively, or -1.
func findColumn(headers []string, needles ...string) int {
	for i, h := range headers {
		lh := strings.ToLower(h)
		ok := true
		for _, n := range needles {
			if !strings.Contains(lh, strings.ToLower(n)) {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

// firstColumn tries each alias group in turn.
func firstColumn(headers []string, aliases ...[]string) int {
	for _, a := range aliases {
		if i := findColumn(headers, a...); i >= 0 {
			return i
		}
	}
	return -1
}

type canadaBuysColumns struct {
	title, url, agency, posted, closing, noticeType int
	desc                                             []int
	unspsc                                           []int
}

func detectCanadaBuysColumns(headers []string) canadaBuysColumns {
	c := canadaBuysColumns{
		title:      firstColumn(headers, []string{"title", "eng"}, []string{"title"}, []string{"titre"}),
		url:        firstColumn(headers, []string{"noticeurl", "eng"}, []string{"web", "url", "eng"}, []string{"url", "eng"}, []string{"noticeurl", "fra"}, []string{"url"}),
		agency:     firstColumn(headers, []string{"contractingentityname"}, []string{"organization"}, []string{"department"}, []string{"organisation"}),
		posted:     firstColumn(headers, []string{"publicationdate"}, []string{"posted", "date"}, []string{"publish", "date"}),
		closing:    firstColumn(headers, []string{"closingdate"}, []string{"closing", "date"}, []string{"datecloture"}),
		noticeType: firstColumn(headers, []string{"noticetype"}, []string{"notice", "type"}, []string{"type"}),
	}
	if c.posted < 0 {
		for i, h := range headers {
			if i != c.closing && strings.Contains(strings.ToLower(h), "date") {
				c.posted = i
				break
			}
		}
	}

	seen := map[int]bool{}
	for _, a := range [][]string{
		{"description", "eng"},
		{"procurementsummary", "eng"},
		{"summary", "eng"},
		{"description"},
		{"sommaire", "fra"},
		{"description", "fra"},
	} {
		if i := findColumn(headers, a...); i >= 0 && !seen[i] {
			seen[i] = true
			c.desc = append(c.desc, i)
		}
	}
	for i, h := range headers {
		if strings.Contains(strings.ToLower(h), "unspsc") {
			c.unspsc = append(c.unspsc, i)
		}
	}
	return c
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return notice.Clean(row[i])
}

func parseCanadaBuysCSV(data []byte, maxRecords int) ([]notice.Notice, int, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	headers, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("reading CSV header: %w", err)
	}
	cols := detectCanadaBuysColumns(headers)
	if cols.title < 0 {
		log.Printf("[CANADABUYS] could not detect title column")
		return nil, 0, nil
	}

	var all []notice.Notice
	rows := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("[CANADABUYS] skipping malformed row %d: %v", rows+1, err)
			continue
		}
		rows++

		title := cell(row, cols.title)
		if title == "" {
			continue
		}
		noticeType := cell(row, cols.noticeType)

		desc := ""
		for _, i := range cols.desc {
			if v := cell(row, i); v != "" {
				desc = v
				break
			}
		}
		if desc == "" {
			desc = "Type: " + notice.FirstNonEmpty(noticeType, "Tender")
		}

		all = append(all, notice.Notice{
			Source:        canadaBuysSourceID,
			Title:         title,
			Description:   desc,
			URL:           notice.EnsureScheme(cell(row, cols.url)),
			Agency:        cell(row, cols.agency),
			Category:      notice.FirstNonEmpty(noticeType, "Tender"),
			PostedDate:    notice.NormalizeDate(cell(row, cols.posted)),
			DueDate:       notice.NormalizeDate(cell(row, cols.closing)),
			CommodityCode: joinUnique(row, cols.unspsc),
		})
	}

	// Newest first; undated rows last.
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i].PostedDate, all[j].PostedDate
		if a == "" || b == "" {
			return a != "" && b == ""
		}
		return a > b
	})
	if maxRecords > 0 && len(all) > maxRecords {
		all = all[:maxRecords]
	}
	return all, rows, nil
}

func joinUnique(row []string, idx []int) string {
	set := map[string]bool{}
	var vals []string
	for _, i := range idx {
		if v := cell(row, i); v != "" && !set[v] {
			set[v] = true
			vals = append(vals, v)
		}
	}
	sort.Strings(vals)
	return strings.Join(vals, ", ")
}
