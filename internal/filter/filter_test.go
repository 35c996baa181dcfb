package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/BidRadar/internal/notice"
)

func titles(ns []notice.Notice) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Title
	}
	return out
}

func TestEmptyConfigPassesEverything(t *testing.T) {
	c := NewChain(nil, nil, nil, nil)
	in := []notice.Notice{{Title: "a"}, {Title: "b"}}
	out, st := c.Apply(in)
	assert.Equal(t, []string{"a", "b"}, titles(out))
	assert.Equal(t, Stats{In: 2, Out: 2}, st)
}

func TestCategoryStage(t *testing.T) {
	c := NewChain(nil, nil, []string{"80101508"}, nil)
	in := []notice.Notice{
		{Title: "field match", CommodityCode: "80101508, 80101600"},
		{Title: "text match", Description: "UNSPSC 80101508 applies"},
		{Title: "other code", CommodityCode: "72101500"},
		{Title: "forced", CommodityCode: "72101500", ForceCategoryPass: true},
		{Title: "no code"},
	}
	out, st := c.Apply(in)
	assert.Equal(t, []string{"field match", "text match", "forced"}, titles(out))
	assert.Equal(t, 2, st.DroppedCategory)
	assert.True(t, out[0].CategoryMatched)
	assert.True(t, out[1].CategoryMatched)
	assert.False(t, out[2].CategoryMatched, "force-pass is not an explicit match")
}

func TestKeywordStage(t *testing.T) {
	c := NewChain([]string{"consulting"}, []string{"ai   strategy"}, nil, nil)
	in := []notice.Notice{
		{Title: "Management consulting services"},
		{Title: "AI\nStrategy development"},
		{Title: "Consultingfirm listing"},
		{Title: "Snow removal", ForceKeywordPass: true},
		{Title: "Snow removal, again"},
	}
	out, st := c.Apply(in)
	assert.Equal(t, []string{"Management consulting services", "AI\nStrategy development", "Snow removal"}, titles(out))
	assert.Equal(t, 2, st.DroppedKeyword)
}

func TestExplicitCategoryMatchPassesKeywordStage(t *testing.T) {
	c := NewChain([]string{"consulting"}, nil, []string{"801015"}, nil)
	out, st := c.Apply([]notice.Notice{
		{Title: "Services", CommodityCode: "80101508"},
		{Title: "Services", CommodityCode: "72101500", ForceCategoryPass: true},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "80101508", out[0].CommodityCode)
	assert.Equal(t, 1, st.DroppedKeyword)
}

func TestForcePassSurvivesBothStages(t *testing.T) {
	c := NewChain([]string{"nothing matches this"}, []string{"nor this"}, []string{"99999999"}, nil)
	in := []notice.Notice{{Title: "Pre-scoped feed item", ForceCategoryPass: true, ForceKeywordPass: true}}
	out, st := c.Apply(in)
	assert.Len(t, out, 1)
	assert.Equal(t, 1, st.Out)
}

func TestHardExcludeBypassesStagesAndIsKept(t *testing.T) {
	c := NewChain([]string{"consulting"}, nil, []string{"80101508"}, []string{"furniture"})
	in := []notice.Notice{
		{Title: "Office furniture procurement"},
		{Title: "Consulting", CommodityCode: "80101508"},
		{Title: "Furnitureless consulting", CommodityCode: "80101508"},
	}
	out, st := c.Apply(in)
	require.Len(t, out, 3)
	assert.True(t, out[0].HardExcluded)
	assert.False(t, out[1].HardExcluded)
	assert.False(t, out[2].HardExcluded, "whole-word match only")
	assert.Equal(t, Stats{In: 3, HardExcluded: 1, Out: 3}, st)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	c := NewChain(nil, nil, []string{"80101508"}, []string{"desk"})
	in := []notice.Notice{{Title: "desk"}, {Title: "x", CommodityCode: "80101508"}}
	c.Apply(in)
	assert.False(t, in[0].HardExcluded)
	assert.False(t, in[1].CategoryMatched)
}
