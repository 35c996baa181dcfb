package collect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bidsCanadaListingHTML = `<html><body>
<form name="SearchBidSolicitationForm" action="/Default.CFM?Page=400#results" method="post">
  <input type="hidden" name="PC" value="457DDD89">
  <input type="text" name="SearchCriteria" value="">
  <select name="Province"><option value="ALL">All</option><option value="ON" selected>Ontario</option></select>
  <input type="submit" value="Go">
</form>
<table id="rfp"><tbody>
<tr>
  <td><a href="Default.CFM?Page=500&amp;BID=1">Strategic Plan Consulting</a>
    <p>Reference: RFP-2026-01</p><p>Source: Town of Oakville</p></td>
  <td>2026-02-05</td>
  <td>Closes March 10, 2026 at 2pm</td>
  <td>Oakville, ON</td>
</tr>
<tr><td>header only</td></tr>
</tbody></table>
</body></html>`

const bidsCanadaSearchHTML = `<html><body><table id="rfp">
<tr>
  <td><a href="/Default.CFM?Page=500&amp;BID=9">AI Governance Framework</a></td>
  <td>2026/02/07</td>
  <td>2026-03-12</td>
  <td></td>
</tr></table></body></html>`

const bidsCanadaRecentHTML = `<html><body><table class="table table-striped">
<tr>
  <td><h3>Data Strategy Review 2026-02-09</h3><p>RFP Source: City of Calgary</p></td>
  <td>Calgary, AB</td>
  <td>2026-03-01</td>
</tr></table></body></html>`

func TestParseBidsCanadaTable(t *testing.T) {
	out, err := parseBidsCanada([]byte(bidsCanadaListingHTML))
	require.NoError(t, err)
	require.Len(t, out, 1)
	n := out[0]
	assert.Equal(t, "Strategic Plan Consulting", n.Title)
	assert.Equal(t, "https://www.bidscanada.com/Default.CFM?Page=500&BID=1", n.URL)
	assert.Equal(t, "Town of Oakville", n.Agency)
	assert.Equal(t, "Reference: RFP-2026-01 | Source: Town of Oakville | Location: Oakville, ON", n.Description)
	assert.Equal(t, "2026-02-05", n.PostedDate)
	assert.Equal(t, "2026-03-10", n.DueDate)
}

func TestParseBidsCanadaRecentTable(t *testing.T) {
	out, err := parseBidsCanada([]byte(bidsCanadaRecentHTML))
	require.NoError(t, err)
	require.Len(t, out, 1)
	n := out[0]
	assert.Equal(t, "City of Calgary", n.Agency)
	assert.Equal(t, "Source: City of Calgary | Location: Calgary, AB", n.Description)
	assert.Equal(t, "2026-02-09", n.PostedDate)
	assert.Equal(t, "2026-03-01", n.DueDate)
	assert.Equal(t, "https://www.bidscanada.com/RFP", n.URL)
}

func TestExtractSearchForm(t *testing.T) {
	action, fields, err := extractSearchForm([]byte(bidsCanadaListingHTML), "https://www.bidscanada.com/Default.CFM?Page=400")
	require.NoError(t, err)
	assert.Equal(t, "https://www.bidscanada.com/Default.CFM?Page=400", action)
	assert.Equal(t, "457DDD89", fields.Get("PC"))
	assert.Equal(t, "ON", fields.Get("Province"))
}

func TestBidsCanadaSearchPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "ai strategy, data strategy", r.PostForm.Get("SearchCriteria"))
			assert.Equal(t, "Search", r.PostForm.Get("SubmitBidSolicitationsSearch"))
			assert.Equal(t, "50", r.PostForm.Get("DisplayCount"))
			w.Write([]byte(bidsCanadaSearchHTML))
			return
		}
		w.Write([]byte(bidsCanadaListingHTML))
	}))
	defer srv.Close()

	s := &BidsCanada{HTTP: fastClient(), ListingURL: srv.URL + "/Default.CFM?Page=400", Keywords: []string{"ai strategy", "data strategy", "x"}, SearchLimit: 2}
	out, err := s.Fetch(context.Background(), Budget{MaxRecords: 50})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "AI Governance Framework", out[0].Title)
	assert.Equal(t, "bidsCanada listing.", out[0].Description)
	assert.Equal(t, "bidsCanada", out[0].Agency)
}

func TestBidsCanadaSearchFailureKeepsListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(bidsCanadaListingHTML))
	}))
	defer srv.Close()

	s := &BidsCanada{HTTP: fastClient(), ListingURL: srv.URL, SearchTerms: []string{"consulting"}}
	out, err := s.Fetch(context.Background(), Budget{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, strings.HasPrefix(out[0].Title, "Strategic Plan"))
}
