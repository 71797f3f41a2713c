package trending

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkzdsb-lab/community-feed/internal/model"
)

func TestScore(t *testing.T) {
	m := Metrics{ID: 1, MemberCount: 1, LikeCount: 10, PostCount: 100, ViewCount: 1000}
	assert.Equal(t, int64(1111), Score(m, DefaultConfig()))
	assert.Equal(t, int64(10), Score(m, Config{UseLikeCount: true}))
	assert.Equal(t, int64(1100), Score(m, Config{UsePostCount: true, UseViewCount: true}))
	assert.Zero(t, Score(m, Config{}))
}

func TestRank_TopNByLikes(t *testing.T) {
	cfg := Config{UseLikeCount: true, Length: 2}
	r := Rank([]Metrics{
		{ID: 1, LikeCount: 50, MemberCount: 999},
		{ID: 2, LikeCount: 10},
		{ID: 3, LikeCount: 30},
	}, cfg)

	want := []Entry{
		{ID: 1, Score: 50, Rank: 1, Trending: true},
		{ID: 3, Score: 30, Rank: 2, Trending: true},
		{ID: 2, Score: 10, Rank: 3, Trending: false},
	}
	if diff := cmp.Diff(want, r.Entries); diff != "" {
		t.Fatalf("ranking mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []uint64{3, 1}, r.TopIDs())

	e, ok := r.Lookup(2)
	require.True(t, ok)
	assert.False(t, e.Trending)

	e, ok = r.Lookup(42)
	assert.False(t, ok)
	assert.Equal(t, Entry{ID: 42}, e)
}

func TestRank_TiesBreakByID(t *testing.T) {
	r := Rank([]Metrics{{ID: 9, PostCount: 5}, {ID: 4, PostCount: 5}, {ID: 7, PostCount: 5}}, Config{UsePostCount: true, Length: 1})
	assert.Equal(t, []Entry{{ID: 4, Score: 5, Rank: 1, Trending: true}}, r.Top())
}

func TestRank_LengthLargerThanCandidates(t *testing.T) {
	r := Rank([]Metrics{{ID: 1}, {ID: 2}}, DefaultConfig())
	assert.Len(t, r.Top(), 2)
	assert.Empty(t, Rank(nil, DefaultConfig()).Top())
}

func TestFromModel(t *testing.T) {
	assert.Equal(t, DefaultConfig(), FromModel(nil))
	got := FromModel(&model.TrendingConfig{UseLikeCount: true, Length: 0})
	assert.Equal(t, Config{UseLikeCount: true, Length: DefaultLength}, got)
}

func TestPageIDs(t *testing.T) {
	ids := []uint64{90, 70, 50, 30, 10}

	page, next := PageIDs(ids, 0, 2)
	assert.Equal(t, []uint64{90, 70}, page)
	assert.True(t, next)

	page, next = PageIDs(ids, 70, 2)
	assert.Equal(t, []uint64{50, 30}, page)
	assert.True(t, next)

	page, next = PageIDs(ids, 30, 2)
	assert.Equal(t, []uint64{10}, page)
	assert.False(t, next)

	page, next = PageIDs(ids, 10, 2)
	assert.Empty(t, page)
	assert.False(t, next)
}
