package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func fixedClock(db *DB, ts string) {
	tm, _ := time.Parse(time.RFC3339, ts)
	db.now = func() time.Time { return tm }
}

func mustUpsert(t *testing.T, db *DB, o Opportunity) bool {
	t.Helper()
	created, err := db.UpsertOpportunity(context.Background(), o)
	if err != nil {
		t.Fatalf("UpsertOpportunity(%q): %v", o.Title, err)
	}
	return created
}

func mustGet(t *testing.T, db *DB, key string) *Opportunity {
	t.Helper()
	o, err := db.GetOpportunityByKey(context.Background(), key)
	if err != nil {
		t.Fatalf("GetOpportunityByKey: %v", err)
	}
	if o == nil {
		t.Fatalf("no row for key %q", key)
	}
	return o
}

func TestIdentityKey(t *testing.T) {
	tests := []struct {
		title, agency, posted string
		want                  string
	}{
		{"AI Strategy", "Dept X", "2026-10-01", "ai strategy|dept x|2026-10-01"},
		{"  AI   Strategy\n", " DEPT  X ", "2026-10-01", "ai strategy|dept x|2026-10-01"},
		{"", "", "", "untitled|unknown-agency|undated"},
		{"Cloud", "  ", "", "cloud|unknown-agency|undated"},
	}
	for _, tt := range tests {
		if got := IdentityKey(tt.title, tt.agency, tt.posted); got != tt.want {
			t.Errorf("IdentityKey(%q, %q, %q) = %q, want %q", tt.title, tt.agency, tt.posted, got, tt.want)
		}
	}
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	db := openTestDB(t)
	o := Opportunity{Title: "AI Strategy", Agency: "Dept X", PostedDate: "2026-10-01", Score: 70, URL: "http://x"}

	if !mustUpsert(t, db, o) {
		t.Error("expected first upsert to create")
	}
	o.Score = 75
	if mustUpsert(t, db, o) {
		t.Error("expected second upsert to update")
	}

	n, err := db.CountOpportunities(context.Background(), Query{})
	if err != nil {
		t.Fatalf("CountOpportunities: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}
	if got := mustGet(t, db, "ai strategy|dept x|2026-10-01"); got.Score != 75 {
		t.Errorf("expected score 75, got %v", got.Score)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	db := openTestDB(t)
	fixedClock(db, "2026-10-16T09:00:00Z")
	batch := []Opportunity{
		{Title: "Data Platform", Agency: "A", PostedDate: "2026-10-01", Score: 60, Summary: "s1", URL: "http://a"},
		{Title: "Cloud Advisory", Agency: "B", PostedDate: "2026-10-02", Score: 40},
		{Title: "cloud   advisory", Agency: "b", PostedDate: "2026-10-02", Score: 45},
	}

	snapshot := func() []Opportunity {
		rows, err := db.ListOpportunities(context.Background(), Query{})
		if err != nil {
			t.Fatalf("ListOpportunities: %v", err)
		}
		return rows
	}

	for _, o := range batch {
		mustUpsert(t, db, o)
	}
	first := snapshot()
	for _, o := range batch {
		mustUpsert(t, db, o)
	}
	second := snapshot()

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 rows after each run, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("row %d changed between identical runs:\n%+v\n%+v", i, first[i], second[i])
		}
	}
}

func TestUpsertKeepsURLAndCreatedAt(t *testing.T) {
	db := openTestDB(t)
	key := IdentityKey("AI Strategy", "Dept X", "2026-10-01")

	fixedClock(db, "2026-10-15T08:00:00Z")
	mustUpsert(t, db, Opportunity{Title: "AI Strategy", Agency: "Dept X", PostedDate: "2026-10-01",
		URL: "http://run1", Summary: "first summary", Score: 50})

	fixedClock(db, "2026-10-16T08:00:00Z")
	mustUpsert(t, db, Opportunity{Title: "AI Strategy", Agency: "Dept X", PostedDate: "2026-10-01",
		URL: "", Summary: "second summary", Score: 55})

	got := mustGet(t, db, key)
	if got.URL != "http://run1" {
		t.Errorf("expected URL from first run, got %q", got.URL)
	}
	if got.Summary != "second summary" {
		t.Errorf("expected summary from second run, got %q", got.Summary)
	}
	if got.CreatedAt != "2026-10-15T08:00:00Z" {
		t.Errorf("created_at changed: %q", got.CreatedAt)
	}
	if got.UpdatedAt != "2026-10-16T08:00:00Z" {
		t.Errorf("expected updated_at of second run, got %q", got.UpdatedAt)
	}

	mustUpsert(t, db, Opportunity{Title: "AI Strategy", Agency: "Dept X", PostedDate: "2026-10-01", URL: "http://run3"})
	if got := mustGet(t, db, key); got.URL != "http://run3" {
		t.Errorf("expected non-empty URL to replace stored one, got %q", got.URL)
	}
}

func TestUpsertUpdatedAtMovesOnlyOnChange(t *testing.T) {
	db := openTestDB(t)
	o := Opportunity{Title: "AI Strategy", Agency: "Dept X", PostedDate: "2026-10-01",
		URL: "http://a", Summary: "s", Score: 50, RuleScore: 40}
	key := IdentityKey(o.Title, o.Agency, o.PostedDate)

	fixedClock(db, "2026-10-14T08:00:00Z")
	mustUpsert(t, db, o)

	fixedClock(db, "2026-10-15T08:00:00Z")
	mustUpsert(t, db, o)
	noURL := o
	noURL.URL = ""
	mustUpsert(t, db, noURL)
	if got := mustGet(t, db, key); got.UpdatedAt != "2026-10-14T08:00:00Z" {
		t.Errorf("identical upsert moved updated_at to %q", got.UpdatedAt)
	}

	fixedClock(db, "2026-10-16T08:00:00Z")
	changed := o
	changed.Score = 51
	mustUpsert(t, db, changed)
	if got := mustGet(t, db, key); got.UpdatedAt != "2026-10-16T08:00:00Z" {
		t.Errorf("expected updated_at of changed upsert, got %q", got.UpdatedAt)
	}
}

func TestUpsertDefaultsTitle(t *testing.T) {
	db := openTestDB(t)
	mustUpsert(t, db, Opportunity{Agency: "X"})
	got := mustGet(t, db, "untitled|x|undated")
	if got.Title != "Untitled" {
		t.Errorf("expected placeholder title, got %q", got.Title)
	}
}

func TestGetOpportunityByKeyMissing(t *testing.T) {
	db := openTestDB(t)
	o, err := db.GetOpportunityByKey(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o != nil {
		t.Errorf("expected nil, got %+v", o)
	}
}

func seedList(t *testing.T, db *DB) {
	t.Helper()
	for _, o := range []Opportunity{
		{Title: "Cloud Migration", Agency: "Health", PostedDate: "2026-10-01", DueDate: "2026-11-01", Score: 80},
		{Title: "Office Chairs", Agency: "Works", PostedDate: "2026-10-03", DueDate: "2026-09-01", Score: 2},
		{Title: "AI Advisory", Agency: "Finance", PostedDate: "2026-10-05", Score: 80, Summary: "Machine learning roadmap"},
		{Title: "Data Warehouse", Agency: "Health", PostedDate: "2026-10-02", DueDate: "2026-10-16", Score: 55},
	} {
		mustUpsert(t, db, o)
	}
}

func titlesOf(rows []Opportunity) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Title
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestListOpportunities(t *testing.T) {
	db := openTestDB(t)
	seedList(t, db)
	ctx := context.Background()

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"all by score then posted", Query{}, []string{"AI Advisory", "Cloud Migration", "Data Warehouse", "Office Chairs"}},
		{"search is case-insensitive", Query{Search: "HEALTH"}, []string{"Cloud Migration", "Data Warehouse"}},
		{"search covers summary", Query{Search: "learning"}, []string{"AI Advisory"}},
		{"open only", Query{OpenOnly: true, Today: "2026-10-16"}, []string{"AI Advisory", "Cloud Migration", "Data Warehouse"}},
		{"limit", Query{Limit: 2}, []string{"AI Advisory", "Cloud Migration"}},
		{"offset without limit", Query{Offset: 3}, []string{"Office Chairs"}},
		{"limit and offset", Query{Limit: 1, Offset: 1}, []string{"Cloud Migration"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := db.ListOpportunities(ctx, tt.q)
			if err != nil {
				t.Fatalf("ListOpportunities: %v", err)
			}
			if got := titlesOf(rows); !equalStrings(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	n, err := db.CountOpportunities(ctx, Query{Search: "health", Limit: 1})
	if err != nil {
		t.Fatalf("CountOpportunities: %v", err)
	}
	if n != 2 {
		t.Errorf("expected count 2 ignoring limit, got %d", n)
	}
}

func TestRunsAndStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedList(t, db)

	last, err := db.LastRun(ctx)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if last != nil {
		t.Fatalf("expected no runs yet, got %+v", last)
	}

	id, err := db.CreateRun(ctx)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("expected uuid run id, got %q", id)
	}
	err = db.FinishRun(ctx, Run{ID: id, Fetched: 10, Kept: 4, Ingested: 4, Created: 3, Updated: 1,
		ErrorCount: 1, Message: "Ingested 4 notices."})
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	stats, err := db.Stats(ctx, "2026-10-16")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 4 || stats.Open != 3 || stats.Runs != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.LastRun == nil || stats.LastRun.ID != id {
		t.Fatalf("expected last run %s, got %+v", id, stats.LastRun)
	}
	if stats.LastRun.Created != 3 || stats.LastRun.Message != "Ingested 4 notices." || stats.LastRun.FinishedAt == "" {
		t.Errorf("unexpected last run: %+v", stats.LastRun)
	}

	if err := db.FinishRun(ctx, Run{ID: "missing"}); err == nil {
		t.Error("expected error finishing unknown run")
	}
}
