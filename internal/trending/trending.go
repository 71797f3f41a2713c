// Package trending scores communities from a tenant's metric switches and marks the top N.
package trending

import (
	"sort"

	"github.com/lkzdsb-lab/community-feed/internal/model"
)

const DefaultLength = 10

// Config selects which counters are summed into the score. Each switch weighs 0 or 1.
type Config struct {
	UseMemberCount bool
	UseLikeCount   bool
	UsePostCount   bool
	UseViewCount   bool
	Length         int
}

// DefaultConfig applies when a tenant has no stored configuration.
func DefaultConfig() Config {
	return Config{
		UseMemberCount: true,
		UseLikeCount:   true,
		UsePostCount:   true,
		UseViewCount:   true,
		Length:         DefaultLength,
	}
}

// FromModel converts a stored row; nil means defaults.
func FromModel(tc *model.TrendingConfig) Config {
	if tc == nil {
		return DefaultConfig()
	}
	c := Config{
		UseMemberCount: tc.UseMemberCount,
		UseLikeCount:   tc.UseLikeCount,
		UsePostCount:   tc.UsePostCount,
		UseViewCount:   tc.UseViewCount,
		Length:         tc.Length,
	}
	if c.Length <= 0 {
		c.Length = DefaultLength
	}
	return c
}

type Metrics struct {
	ID          uint64
	MemberCount int64
	LikeCount   int64
	PostCount   int64
	ViewCount   int64
}

func MetricsOf(c *model.Community) Metrics {
	return Metrics{
		ID:          c.ID,
		MemberCount: c.MemberCount,
		LikeCount:   c.LikeCount,
		PostCount:   c.PostCount,
		ViewCount:   c.ViewCount,
	}
}

func Score(m Metrics, c Config) int64 {
	var s int64
	if c.UseMemberCount {
		s += m.MemberCount
	}
	if c.UseLikeCount {
		s += m.LikeCount
	}
	if c.UsePostCount {
		s += m.PostCount
	}
	if c.UseViewCount {
		s += m.ViewCount
	}
	return s
}

type Entry struct {
	ID       uint64
	Score    int64
	Rank     int
	Trending bool
}

// Ranking is the scored candidate set, ordered by score desc then id asc.
type Ranking struct {
	Entries []Entry
	byID    map[uint64]int
}

// Rank scores every candidate and flags the first c.Length entries as trending.
func Rank(candidates []Metrics, c Config) Ranking {
	if c.Length <= 0 {
		c.Length = DefaultLength
	}
	entries := make([]Entry, len(candidates))
	for i, m := range candidates {
		entries[i] = Entry{ID: m.ID, Score: Score(m, c)}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ID < entries[j].ID
	})
	byID := make(map[uint64]int, len(entries))
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Trending = i < c.Length
		byID[entries[i].ID] = i
	}
	return Ranking{Entries: entries, byID: byID}
}

// Lookup returns the entry for a community id. Communities outside the candidate set
// are not trending and score 0.
func (r Ranking) Lookup(id uint64) (Entry, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Entry{ID: id}, false
	}
	return r.Entries[i], true
}

// Top returns the trending entries in rank order.
func (r Ranking) Top() []Entry {
	n := 0
	for n < len(r.Entries) && r.Entries[n].Trending {
		n++
	}
	return r.Entries[:n]
}

// TopIDs returns the trending ids sorted descending, the order the trending listing pages in.
func (r Ranking) TopIDs() []uint64 {
	top := r.Top()
	ids := make([]uint64, len(top))
	for i, e := range top {
		ids[i] = e.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids
}

// PageIDs slices ids (sorted desc) to those below cursor, at most limit of them.
// A zero cursor starts from the top.
func PageIDs(ids []uint64, cursor uint64, limit int) (page []uint64, hasNext bool) {
	start := 0
	if cursor > 0 {
		start = sort.Search(len(ids), func(i int) bool { return ids[i] < cursor })
	}
	rest := ids[start:]
	if len(rest) > limit {
		return rest[:limit], true
	}
	return rest, false
}
