package collect

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const canadaBuysCSV = "\xef\xbb\xbf" + `"title-titre-eng","referenceNumber-numeroReference","publicationDate-datePublication","tenderClosingDate-appelOffresDateCloture","noticeType-avisType-eng","contractingEntityName-nomEntitContractante-eng","tenderDescription-descriptionAppelOffres-eng","unspsc","noticeURL-URLavis-eng"
"Office furniture supply","PW-1","2026-01-10","2026-02-10","RFP","Public Works","","56101500","canadabuys.canada.ca/en/tender/1"
"AI strategy advisory","PW-2","2026-02-01","2026-03-01","RFP","Treasury Board","Develop an enterprise AI strategy.","80101500","https://canadabuys.canada.ca/en/tender/2"
"Undated notice","PW-3","","","","Health Canada","","","https://canadabuys.canada.ca/en/tender/3"
"","PW-4","2026-02-02","","RFP","Nobody","","",""
`

func TestParseCanadaBuysCSV(t *testing.T) {
	out, rows, err := parseCanadaBuysCSV([]byte(canadaBuysCSV), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, rows)
	require.Len(t, out, 3)

	assert.Equal(t, []string{"AI strategy advisory", "Office furniture supply", "Undated notice"}, titles(out))

	ai := out[0]
	assert.Equal(t, "CanadaBuys", ai.Source)
	assert.Equal(t, "Treasury Board", ai.Agency)
	assert.Equal(t, "Develop an enterprise AI strategy.", ai.Description)
	assert.Equal(t, "2026-02-01", ai.PostedDate)
	assert.Equal(t, "2026-03-01", ai.DueDate)
	assert.Equal(t, "RFP", ai.Category)
	assert.Equal(t, "80101500", ai.CommodityCode)

	furniture := out[1]
	assert.Equal(t, "Type: RFP", furniture.Description)
	assert.Equal(t, "https://canadabuys.canada.ca/en/tender/1", furniture.URL)

	undated := out[2]
	assert.Equal(t, "Tender", undated.Category)
	assert.Equal(t, "Type: Tender", undated.Description)
}

func TestParseCanadaBuysCSVTruncates(t *testing.T) {
	out, _, err := parseCanadaBuysCSV([]byte(canadaBuysCSV), 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "AI strategy advisory", out[0].Title)
}

func TestParseCanadaBuysCSVWithoutTitleColumn(t *testing.T) {
	out, _, err := parseCanadaBuysCSV([]byte("a,b\n1,2\n"), 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPickCanadaBuysResource(t *testing.T) {
	pkg := []byte(`{"result":{"resources":[
		{"format":"CSV","url":"https://x/tenderNotice-avisAppelOffres.csv"},
		{"format":"CSV","url":"https://x/newTenderNotice-nouvelAvisAppelOffres.csv"},
		{"format":"CSV","url":"https://x/openTenderNotice-ouvertAvisAppelOffres.csv"},
		{"format":"XML","url":"https://x/notice.xml"}
	]}}`)
	assert.Equal(t, "https://x/newTenderNotice-nouvelAvisAppelOffres.csv", pickCanadaBuysResource(pkg, "new"))
	assert.Equal(t, "https://x/openTenderNotice-ouvertAvisAppelOffres.csv", pickCanadaBuysResource(pkg, "all"))
	assert.Equal(t, "", pickCanadaBuysResource([]byte(`not json`), "new"))
}

func TestCanadaBuysFetch(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/ckan", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"result":{"resources":[{"format":"csv","url":"%s/newTenderNotice.csv"}]}}`, srv.URL)
	})
	mux.HandleFunc("/newTenderNotice.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(canadaBuysCSV))
	})

	src := &CanadaBuys{HTTP: fastClient(), Scope: "new", CKANURL: srv.URL + "/ckan"}
	out, err := src.Fetch(context.Background(), Budget{MaxRecords: 2})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestCanadaBuysFetchFailsWhenCSVUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ckan" {
			fmt.Fprintf(w, `{"result":{"resources":[{"format":"csv","url":"http://%s/gone.csv"}]}}`, r.Host)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := &CanadaBuys{HTTP: fastClient(), CKANURL: srv.URL + "/ckan"}
	_, err := src.Fetch(context.Background(), Budget{})
	assert.Error(t, err)
}
