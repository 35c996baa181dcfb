package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/BidRadar/internal/notice"
)

const (
	samEndpoint   = "https://api.sam.gov/opportunities/v2/search"
	samSourceID   = "SAM.gov"
	samSoftCap    = 200
	samExtraCombo = 5
)

// ErrMissingAPIKey is returned by sources that cannot run without a key.
var ErrMissingAPIKey = errors.New("missing API key")

// SAM queries the SAM.gov opportunities API.
type SAM struct {
	HTTP     *HTTPClient
	APIKey   string
	Endpoint string
	Keywords []string
	NAICS    []string
	PSC      []string
	States   []string
	DaysBack int
	PageSize int
	Now      func() time.Time
}

func (s *SAM) Name() string { return samSourceID }

type samQuery struct {
	keyword, naics, psc, state string
}

// samQueries keeps the request count small: one keyword-only query per
// keyword, then at most a few structured combinations.
func samQueries(keywords, naics, psc, states []string) []samQuery {
	kws := nonEmptyOr(keywords)
	ns := nonEmptyOr(naics)
	ps := nonEmptyOr(psc)
	ss := nonEmptyOr(states)

	var out []samQuery
	seen := map[samQuery]bool{}
	for _, kw := range kws {
		q := samQuery{keyword: kw}
		if !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	limit := len(out) + samExtraCombo
	for _, kw := range kws[:min(2, len(kws))] {
		q := samQuery{keyword: kw, naics: ns[0], psc: ps[0], state: ss[0]}
		if seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func nonEmptyOr(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

type samOpportunity struct {
	NoticeID           string `json:"noticeId"`
	Title              string `json:"title"`
	FullParentPathName string `json:"fullParentPathName"`
	Department         string `json:"department"`
	PostedDate         string `json:"postedDate"`
	ResponseDeadLine   string `json:"responseDeadLine"`
	BaseType           string `json:"baseType"`
	Type               string `json:"type"`
	NAICSCode          string `json:"naicsCode"`
	ClassificationCode string `json:"classificationCode"`
	UILink             string `json:"uiLink"`
}

// Fetch runs each query with bounded paging and stops early once the soft
// cap is reached.
func (s *SAM) Fetch(ctx context.Context, b Budget) ([]notice.Notice, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("SAM_API_KEY: %w", ErrMissingAPIKey)
	}
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	daysBack := s.DaysBack
	if daysBack <= 0 {
		daysBack = 90
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = samEndpoint
	}
	maxPages := b.MaxPages
	if maxPages <= 0 {
		maxPages = 3
	}

	to := now()
	from := to.AddDate(0, 0, -daysBack)
	base := url.Values{}
	base.Set("api_key", s.APIKey)
	base.Set("postedFrom", from.Format("01/02/2006"))
	base.Set("postedTo", to.Format("01/02/2006"))
	base.Set("limit", strconv.Itoa(pageSize))

	var out []notice.Notice
	seen := map[string]bool{}
	for _, q := range samQueries(s.Keywords, s.NAICS, s.PSC, s.States) {
		params := cloneValues(base)
		setIf(params, "title", q.keyword)
		setIf(params, "ncode", q.naics)
		setIf(params, "ccode", q.psc)
		setIf(params, "state", q.state)

		opps, err := s.page(ctx, endpoint, params, maxPages, pageSize)
		if err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return nil, err
		}
		for _, o := range opps {
			if o.NoticeID == "" || seen[o.NoticeID] {
				continue
			}
			seen[o.NoticeID] = true
			out = append(out, samNotice(o))
		}
		if len(out) >= samSoftCap || (b.MaxRecords > 0 && len(out) >= b.MaxRecords) {
			break
		}
	}
	return out, nil
}

func (s *SAM) page(ctx context.Context, endpoint string, params url.Values, maxPages, pageSize int) ([]samOpportunity, error) {
	var out []samOpportunity
	for offset := 0; offset < maxPages; offset++ {
		params.Set("offset", strconv.Itoa(offset))
		data, err := s.HTTP.Get(ctx, endpoint+"?"+params.Encode(), http.Header{"Accept": {"application/json"}})
		if err != nil {
			return out, fmt.Errorf("SAM.gov search: %w", err)
		}
		var resp struct {
			OpportunitiesData []samOpportunity `json:"opportunitiesData"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return out, fmt.Errorf("decoding SAM.gov response: %w", err)
		}
		if len(resp.OpportunitiesData) == 0 {
			break
		}
		out = append(out, resp.OpportunitiesData...)
		if len(resp.OpportunitiesData) < pageSize {
			break
		}
	}
	return out, nil
}

func samNotice(o samOpportunity) notice.Notice {
	baseType := notice.FirstNonEmpty(o.BaseType, o.Type)
	return notice.Notice{
		Source:        samSourceID,
		Title:         notice.FirstNonEmpty(o.Title, "Untitled Opportunity"),
		Description:   fmt.Sprintf("Type: %s | NAICS: %s | PSC: %s", baseType, o.NAICSCode, o.ClassificationCode),
		URL:           "https://sam.gov/opp/" + o.NoticeID + "/view",
		Agency:        notice.FirstNonEmpty(o.FullParentPathName, o.Department),
		Category:      notice.FirstNonEmpty(baseType, "Opportunity"),
		PostedDate:    notice.NormalizeDate(o.PostedDate),
		DueDate:       notice.NormalizeDate(o.ResponseDeadLine),
		CommodityCode: o.ClassificationCode,
	}
}

func cloneValues(v url.Values) url.Values {
	out := url.Values{}
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
