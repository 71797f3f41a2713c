package visibility

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkzdsb-lab/community-feed/internal/model"
)

const (
	entity     = uint64(1)
	community  = uint64(10)
	other      = uint64(20)
	viewer     = uint64(100)
	viewerMem  = uint64(500)
	strangerMe = uint64(501)
)

func link(id, cid, memberID uint64, status model.FeedStatus) *model.FeedCommunity {
	return &model.FeedCommunity{
		ID:          id,
		EntityID:    entity,
		CommunityID: cid,
		MemberID:    memberID,
		Status:      status,
		IsApproved:  status == model.FeedApproved,
		Priority:    model.PriorityNormal,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, int(id), 0, time.UTC),
	}
}

func fixture() []*model.FeedCommunity {
	archivedAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	archived := link(7, community, strangerMe, model.FeedApproved)
	archived.ArchivedAt = &archivedAt
	foreign := link(8, community, strangerMe, model.FeedApproved)
	foreign.EntityID = 2
	return []*model.FeedCommunity{
		link(1, community, strangerMe, model.FeedApproved),
		link(2, community, viewerMem, model.FeedPending),
		link(3, community, strangerMe, model.FeedPending),
		link(4, community, strangerMe, model.FeedRejected),
		link(5, other, 900, model.FeedApproved),
		link(6, other, 901, model.FeedPending),
		archived,
		foreign,
	}
}

func visible(s Set) []uint64 {
	var ids []uint64
	for _, fc := range fixture() {
		if s.Match(fc) {
			ids = append(ids, fc.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

func TestBuild_SingleCommunityDefault(t *testing.T) {
	tests := []struct {
		name    string
		viewer  uint64
		members map[uint64]Member
		want    []uint64
	}{
		{"anonymous", 0, nil, []uint64{1}},
		{"non member", viewer, nil, []uint64{1}},
		{"member sees own pending", viewer, map[uint64]Member{community: {viewerMem, model.RoleUser}}, []uint64{1, 2}},
		{"admin default view is not the moderation queue", viewer, map[uint64]Member{community: {viewerMem, model.RoleAdmin}}, []uint64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Build(Input{EntityID: entity, ViewerID: tt.viewer, Scope: Community(community), Members: tt.members})
			assert.Equal(t, tt.want, visible(s))
		})
	}
}

func TestBuild_ExplicitPending(t *testing.T) {
	tests := []struct {
		name    string
		viewer  uint64
		members map[uint64]Member
		want    []uint64
	}{
		{"anonymous", 0, nil, nil},
		{"non member", viewer, nil, nil},
		{"member", viewer, map[uint64]Member{community: {viewerMem, model.RoleUser}}, []uint64{2}},
		{"moderator role is a plain member", viewer, map[uint64]Member{community: {viewerMem, model.RoleModerator}}, []uint64{2}},
		{"manager", viewer, map[uint64]Member{community: {viewerMem, model.RoleManager}}, []uint64{2, 3}},
		{"admin", viewer, map[uint64]Member{community: {viewerMem, model.RoleAdmin}}, []uint64{2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Build(Input{EntityID: entity, ViewerID: tt.viewer, Scope: Community(community), Members: tt.members, Status: model.FeedPending})
			assert.Equal(t, tt.want, visible(s))
		})
	}
}

func TestBuild_ExplicitStatusIsLiteral(t *testing.T) {
	s := Build(Input{EntityID: entity, Scope: Community(community), Status: model.FeedRejected})
	assert.Equal(t, []uint64{4}, visible(s))
}

func TestBuild_MultiScope(t *testing.T) {
	members := map[uint64]Member{community: {viewerMem, model.RoleUser}}

	s := Build(Input{EntityID: entity, ViewerID: viewer, Scope: All(), Members: members})
	assert.Equal(t, []uint64{1}, visible(s), "aggregate feed hides pending by default")

	s = Build(Input{EntityID: entity, ViewerID: viewer, Scope: All(), Members: members, OwnPendingInAggregate: true})
	assert.Equal(t, []uint64{1, 2}, visible(s))

	s = Build(Input{EntityID: entity, ViewerID: viewer, Scope: Communities(community, other), Members: members})
	assert.Equal(t, []uint64{1}, visible(s), "non-member communities are excluded")

	s = Build(Input{EntityID: entity, Scope: All()})
	assert.True(t, s.Empty())
	assert.Empty(t, visible(s))
}

func TestBuild_MultiScopePending(t *testing.T) {
	members := map[uint64]Member{
		community: {viewerMem, model.RoleUser},
		other:     {902, model.RoleAdmin},
	}
	s := Build(Input{EntityID: entity, ViewerID: viewer, Scope: All(), Members: members, Status: model.FeedPending})
	assert.Equal(t, []uint64{2, 6}, visible(s))
}

func TestBuild_MultiScopeExplicitStatusStaysJoined(t *testing.T) {
	members := map[uint64]Member{community: {viewerMem, model.RoleUser}}

	s := Build(Input{EntityID: entity, ViewerID: viewer, Scope: All(), Members: members, Status: model.FeedApproved})
	assert.Equal(t, []uint64{1}, visible(s), "approved links of communities the viewer never joined stay hidden")

	s = Build(Input{EntityID: entity, ViewerID: viewer, Scope: Communities(community, other), Members: members, Status: model.FeedApproved})
	assert.Equal(t, []uint64{1}, visible(s))

	s = Build(Input{EntityID: entity, Scope: All(), Status: model.FeedApproved})
	assert.True(t, s.Empty())
}

func TestBuild_PriorityAndCursor(t *testing.T) {
	fcs := fixture()
	fcs[0].Priority = model.PriorityHigh
	after := CursorOf(link(3, community, 0, model.FeedApproved), SortLatest)

	s := Build(Input{EntityID: entity, Scope: Community(community), Status: model.FeedApproved, Priority: model.PriorityHigh, After: &after})
	assert.True(t, s.Match(fcs[0]))
	assert.False(t, s.Match(fixture()[0]))

	sql, vars := s.Where()
	countSQL, countVars := s.CountWhere()
	assert.Contains(t, sql, "(created_at < ? OR (created_at = ? AND id < ?))")
	assert.NotContains(t, countSQL, "created_at")
	assert.Len(t, vars, len(countVars)+3)
}

func TestSet_Where(t *testing.T) {
	members := map[uint64]Member{community: {viewerMem, model.RoleUser}}
	sql, vars := Build(Input{EntityID: entity, ViewerID: viewer, Scope: Community(community), Members: members}).Where()
	assert.Equal(t, "entity_id = ? AND archived_at IS NULL AND community_id = ? AND (status = ? OR (status = ? AND member_id = ?))", sql)
	assert.Equal(t, []any{entity, community, "APPROVED", "PENDING", viewerMem}, vars)

	sql, vars = Build(Input{EntityID: entity, Scope: All()}).Where()
	assert.Equal(t, "entity_id = ? AND archived_at IS NULL AND 1 = 0 AND status = ?", sql)
	assert.Equal(t, []any{entity, "APPROVED"}, vars)

	after := Cursor{Mode: SortDefault, Pinned: true, Priority: model.PriorityHigh, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ID: 9}
	sql, vars = Build(Input{EntityID: entity, Scope: Community(community), Status: model.FeedApproved, After: &after}).Where()
	assert.Equal(t, "entity_id = ? AND archived_at IS NULL AND community_id = ? AND status = ? AND "+
		"(is_pinned = ? OR (is_pinned = ? AND ("+priorityWeightSQL+" < ? OR ("+priorityWeightSQL+" = ? AND "+
		"(created_at < ? OR (created_at = ? AND id < ?))))))", sql)
	assert.Equal(t, []any{entity, community, "APPROVED", false, true, 3, 3, after.CreatedAt, after.CreatedAt, uint64(9)}, vars)
}

func TestLess(t *testing.T) {
	a := link(1, community, 0, model.FeedApproved)
	b := link(2, community, 0, model.FeedApproved)
	a.IsPinned = true
	assert.True(t, Less(a, b, SortDefault))
	assert.False(t, Less(a, b, SortLatest))

	a.IsPinned = false
	a.Priority = model.PriorityUrgent
	assert.True(t, Less(a, b, SortDefault))

	a.Priority = model.PriorityNormal
	a.CreatedAt = b.CreatedAt
	assert.False(t, Less(a, b, SortDefault), "equal timestamps fall back to id desc")
	assert.True(t, Less(b, a, SortDefault))
}

func TestCursor_RoundTrip(t *testing.T) {
	fc := link(3, community, 0, model.FeedApproved)
	fc.IsPinned = true
	fc.Priority = model.PriorityHigh
	fc.CreatedAt = fc.CreatedAt.Add(1234 * time.Microsecond).In(time.FixedZone("CST", 8*3600))

	token := CursorOf(fc, SortDefault).Encode()
	got, err := ParseCursor(token, SortDefault)
	require.NoError(t, err)
	assert.True(t, got.Pinned)
	assert.Equal(t, model.PriorityHigh, got.Priority)
	assert.Equal(t, fc.ID, got.ID)
	assert.True(t, got.CreatedAt.Equal(fc.CreatedAt))
	_, offset := got.CreatedAt.Zone()
	assert.Equal(t, 8*3600, offset)

	_, err = ParseCursor(token, SortLatest)
	assert.Error(t, err)

	latest, err := ParseCursor(CursorOf(fc, SortLatest).Encode(), SortLatest)
	require.NoError(t, err)
	assert.False(t, latest.Pinned)

	none, err := ParseCursor("", SortDefault)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = ParseCursor("yesterday", SortDefault)
	assert.Error(t, err)
}

// 每一行都作为游标时，剩余的行必须恰好是排序中排在它之后的那些
func TestCursor_KeysetFollowsOrder(t *testing.T) {
	rows := fixture()[:6]
	rows[3].IsPinned = true
	rows[4].Priority = model.PriorityUrgent
	rows[2].CreatedAt = rows[1].CreatedAt

	for _, mode := range []SortMode{SortDefault, SortLatest} {
		sorted := slices.Clone(rows)
		slices.SortFunc(sorted, func(a, b *model.FeedCommunity) int {
			switch {
			case Less(a, b, mode):
				return -1
			case Less(b, a, mode):
				return 1
			}
			return 0
		})
		for i, last := range sorted {
			c, err := ParseCursor(CursorOf(last, mode).Encode(), mode)
			require.NoError(t, err)
			want := []uint64{}
			for _, fc := range sorted[i+1:] {
				want = append(want, fc.ID)
			}
			got := []uint64{}
			for _, fc := range rows {
				if (afterTerm{c: *c}).match(fc) {
					got = append(got, fc.ID)
				}
			}
			assert.ElementsMatch(t, want, got, "%s after %d", mode, last.ID)
		}
	}
}
