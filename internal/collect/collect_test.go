package collect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/BidRadar/internal/notice"
)

type stubSource struct {
	name    string
	notices []notice.Notice
	err     error
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) Fetch(context.Context, Budget) ([]notice.Notice, error) {
	return s.notices, s.err
}

func TestMergePreservesOrderAndTagsSource(t *testing.T) {
	out := Merge([]Batch{
		{Source: "A", Notices: []notice.Notice{{Title: "a1"}, {Title: "a2", Source: "A-feed"}}},
		{Source: "B"},
		{Source: "C", Notices: []notice.Notice{{Title: "c1", ForceCategoryPass: true}, {Title: "c1"}}},
	})
	require.Len(t, out, 4)
	assert.Equal(t, []string{"a1", "a2", "c1", "c1"}, titles(out))
	assert.Equal(t, "A", out[0].Source)
	assert.Equal(t, "A-feed", out[1].Source)
	assert.True(t, out[2].ForceCategoryPass)
	assert.False(t, out[3].ForceCategoryPass)
}

func TestMergeEmpty(t *testing.T) {
	assert.Empty(t, Merge(nil))
}

func TestCollectorIsolatesFailures(t *testing.T) {
	c := NewCollector(
		stubSource{name: "A", notices: []notice.Notice{{Title: "a1"}, {Title: "a2"}}},
		stubSource{name: "B", err: errors.New("upstream down")},
		stubSource{name: "C", notices: []notice.Notice{{Title: "c1"}}},
	)
	r := c.Collect(context.Background(), Budget{})

	assert.Equal(t, []string{"a1", "a2", "c1"}, titles(r.Notices))
	assert.Equal(t, map[string]int{"A": 2, "B": 0, "C": 1}, r.Counts)
	require.Contains(t, r.Errors, "B")
	assert.Equal(t, []string{"B: upstream down"}, r.ErrorStrings(c.Names()))
}

func TestCollectorAppliesRecordBudget(t *testing.T) {
	c := NewCollector(stubSource{name: "A", notices: []notice.Notice{{Title: "1"}, {Title: "2"}, {Title: "3"}}})
	r := c.Collect(context.Background(), Budget{MaxRecords: 2})
	assert.Equal(t, []string{"1", "2"}, titles(r.Notices))
}

func TestCollectorAllFailing(t *testing.T) {
	c := NewCollector(stubSource{name: "A", err: errors.New("x")}, stubSource{name: "B", err: errors.New("y")})
	r := c.Collect(context.Background(), Budget{})
	assert.Empty(t, r.Notices)
	assert.Len(t, r.Errors, 2)
}

func titles(ns []notice.Notice) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Title
	}
	return out
}
