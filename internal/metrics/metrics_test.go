package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics handler returned %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHandlerExposesCollectors(t *testing.T) {
	NoticesFetched.WithLabelValues("canadabuys").Add(3)
	Upserts.WithLabelValues("created").Inc()

	body := scrape(t)
	for _, want := range []string{
		`bidradar_notices_fetched_total{source="canadabuys"}`,
		`bidradar_upserts_total{result="created"}`,
		`bidradar_run_duration_seconds_bucket`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in exposition output", want)
		}
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	h := Instrument("/teapot", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/teapot", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
	if !strings.Contains(scrape(t), `bidradar_http_requests_total{method="GET",path="/teapot",status="418"} 1`) {
		t.Error("expected request counter for /teapot")
	}
}
