package mysql_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lkzdsb-lab/community-feed/internal/model"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/repository/mysql"
	"github.com/lkzdsb-lab/community-feed/internal/repository/mysql/mysqltest"
	"github.com/lkzdsb-lab/community-feed/internal/visibility"
)

const (
	tenant  = uint64(1)
	creator = uint64(100)
	alice   = uint64(101)
	bob     = uint64(102)
)

type repos struct {
	db          *gorm.DB
	communities *mysql.CommunityRepository
	members     *mysql.CommunityMemberRepository
	feeds       *mysql.FeedRepository
	likes       *mysql.CommunityLikeRepository
}

func newRepos(t *testing.T) repos {
	db := mysqltest.NewDB(t)
	return repos{
		db:          db,
		communities: &mysql.CommunityRepository{DB: db},
		members:     &mysql.CommunityMemberRepository{DB: db},
		feeds:       &mysql.FeedRepository{DB: db},
		likes:       &mysql.CommunityLikeRepository{DB: db},
	}
}

func (r repos) community(t *testing.T, policy model.JoinPolicy) *model.Community {
	t.Helper()
	c := &model.Community{EntityID: tenant, CreatorID: creator, Name: "gophers", JoinPolicy: policy, Privacy: model.PrivacyPublic, IsApproved: true}
	require.NoError(t, r.communities.Create(context.Background(), c))
	return c
}

func (r repos) reload(t *testing.T, id uint64) *model.Community {
	t.Helper()
	c, err := r.communities.FindByID(context.Background(), tenant, id)
	require.NoError(t, err)
	return c
}

func (r repos) post(t *testing.T, c *model.Community, author uint64, status model.FeedStatus) *model.FeedCommunity {
	t.Helper()
	m, err := r.members.GetMembership(context.Background(), c.ID, author)
	require.NoError(t, err)
	require.NotNil(t, m)
	link := &model.FeedCommunity{EntityID: tenant, CommunityID: c.ID, AuthorID: author, MemberID: m.ID, Status: status, Priority: model.PriorityNormal}
	require.NoError(t, r.feeds.Create(context.Background(), &model.Feed{EntityID: tenant, AuthorID: author, Content: "hello"}, link))
	return link
}

func TestCounter_ClampsAtZero(t *testing.T) {
	r := newRepos(t)
	c := r.community(t, model.JoinPolicyOpen)

	require.NoError(t, r.db.Transaction(func(tx *gorm.DB) error {
		return mysql.Counter{}.AdjustPostCount(tx, c.ID, -3)
	}))
	assert.Zero(t, r.reload(t, c.ID).PostCount)

	require.NoError(t, r.db.Transaction(func(tx *gorm.DB) error {
		if err := (mysql.Counter{}).AdjustPostCount(tx, c.ID, 2); err != nil {
			return err
		}
		return mysql.Counter{}.IncrViewCount(tx, c.ID)
	}))
	got := r.reload(t, c.ID)
	assert.EqualValues(t, 2, got.PostCount)
	assert.EqualValues(t, 1, got.ViewCount)
}

func TestCommunityRepository_CreateMakesCreatorAdmin(t *testing.T) {
	r := newRepos(t)
	c := r.community(t, model.JoinPolicyOpen)
	assert.EqualValues(t, 1, r.reload(t, c.ID).MemberCount)

	ok, err := r.members.HasPermission(context.Background(), c.ID, creator, model.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.members.HasPermission(context.Background(), c.ID, alice)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.communities.FindByID(context.Background(), tenant+1, c.ID)
	assert.True(t, pkg.IsKind(err, pkg.KindNotFound))
}

func TestCommunityMemberRepository_OpenJoinLeaveRejoin(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyOpen)

	out, err := r.members.Join(ctx, c.ID, alice, "")
	require.NoError(t, err)
	assert.True(t, out.Joined)
	first := out.Member.ID
	assert.EqualValues(t, 2, r.reload(t, c.ID).MemberCount)

	_, err = r.members.Join(ctx, c.ID, alice, "")
	assert.True(t, pkg.IsKind(err, pkg.KindConflict))

	require.NoError(t, r.members.Leave(ctx, c.ID, alice))
	assert.EqualValues(t, 1, r.reload(t, c.ID).MemberCount)
	assert.True(t, pkg.IsKind(r.members.Leave(ctx, c.ID, alice), pkg.KindNotFound))
	assert.True(t, pkg.IsKind(r.members.Leave(ctx, c.ID, creator), pkg.KindForbidden))

	out, err = r.members.Join(ctx, c.ID, alice, "")
	require.NoError(t, err)
	assert.Equal(t, first, out.Member.ID, "rejoin reactivates the membership row")
	assert.EqualValues(t, 2, r.reload(t, c.ID).MemberCount)
}

func TestCommunityMemberRepository_ApprovalFlow(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyApproval)

	out, err := r.members.Join(ctx, c.ID, alice, "let me in")
	require.NoError(t, err)
	assert.True(t, out.Requested)
	assert.Equal(t, model.MemberPending, out.Member.Status)
	assert.EqualValues(t, 1, r.reload(t, c.ID).MemberCount)

	_, err = r.members.Join(ctx, c.ID, alice, "again")
	assert.True(t, pkg.IsKind(err, pkg.KindConflict))

	m, err := r.members.RespondToJoinRequest(ctx, c.ID, alice, true)
	require.NoError(t, err)
	assert.True(t, m.Active())
	assert.EqualValues(t, 2, r.reload(t, c.ID).MemberCount)

	_, err = r.members.RespondToJoinRequest(ctx, c.ID, alice, true)
	assert.True(t, pkg.IsKind(err, pkg.KindNotFound))

	_, err = r.members.Join(ctx, c.ID, bob, "")
	require.NoError(t, err)
	require.NoError(t, r.members.WithdrawJoinRequest(ctx, c.ID, bob))
	assert.True(t, pkg.IsKind(r.members.WithdrawJoinRequest(ctx, c.ID, bob), pkg.KindNotFound))
	gone, err := r.members.GetMembership(ctx, c.ID, bob)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCommunityMemberRepository_RoleMap(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyOpen)
	_, err := r.members.Join(ctx, c.ID, alice, "")
	require.NoError(t, err)

	roles, err := r.members.RoleMap(ctx, alice, nil)
	require.NoError(t, err)
	require.Contains(t, roles, c.ID)
	assert.Equal(t, model.RoleUser, roles[c.ID].Role)

	anon, err := r.members.RoleMap(ctx, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, anon)

	ids, err := r.members.ListModeratorIDs(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{creator}, ids)
}

func TestFeedRepository_TransitionsKeepPostCount(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyOpen)
	link := r.post(t, c, creator, model.FeedPending)
	assert.Zero(t, r.reload(t, c.ID).PostCount)

	got, changed, err := r.feeds.Transition(ctx, tenant, link.ID, model.FeedApproved, creator, "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, got.IsApproved)
	require.NotNil(t, got.PublishedAt)
	assert.EqualValues(t, 1, r.reload(t, c.ID).PostCount)

	_, changed, err = r.feeds.Transition(ctx, tenant, link.ID, model.FeedApproved, creator, "")
	require.NoError(t, err)
	assert.False(t, changed, "approving twice is a no-op")
	assert.EqualValues(t, 1, r.reload(t, c.ID).PostCount)

	_, _, err = r.feeds.Transition(ctx, tenant, link.ID, model.FeedRejected, creator, "")
	assert.True(t, pkg.IsKind(err, pkg.KindConflict))

	_, changed, err = r.feeds.Transition(ctx, tenant, link.ID, model.FeedFlagged, creator, "spam")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Zero(t, r.reload(t, c.ID).PostCount)
}

func TestFeedRepository_ArchiveAllOrNothing(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyOpen)
	a := r.post(t, c, creator, model.FeedApproved)
	b := r.post(t, c, creator, model.FeedApproved)
	assert.EqualValues(t, 2, r.reload(t, c.ID).PostCount)

	allow := func(*gorm.DB, *model.FeedCommunity) error { return nil }

	_, err := r.feeds.Archive(ctx, tenant, []uint64{a.ID, 9999}, creator, "cleanup", allow)
	assert.True(t, pkg.IsKind(err, pkg.KindNotFound))

	deny := func(_ *gorm.DB, fc *model.FeedCommunity) error {
		if fc.ID == b.ID {
			return pkg.Forbidden("no")
		}
		return nil
	}
	_, err = r.feeds.Archive(ctx, tenant, []uint64{a.ID, b.ID}, creator, "cleanup", deny)
	assert.True(t, pkg.IsKind(err, pkg.KindForbidden))
	assert.EqualValues(t, 2, r.reload(t, c.ID).PostCount, "failed batch leaves counters untouched")

	archived, err := r.feeds.Archive(ctx, tenant, []uint64{a.ID, b.ID}, creator, "cleanup", allow)
	require.NoError(t, err)
	assert.Len(t, archived, 2)
	assert.Zero(t, r.reload(t, c.ID).PostCount)

	_, err = r.feeds.Get(ctx, tenant, a.ID)
	assert.True(t, pkg.IsKind(err, pkg.KindNotFound))
}

func TestFeedRepository_DeleteRemovesOrphanFeed(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyOpen)
	link := r.post(t, c, creator, model.FeedApproved)
	require.NoError(t, r.feeds.AddInteraction(ctx, &model.FeedInteraction{FeedID: link.FeedID, UserID: alice, Type: model.InteractionLike}))

	deleted, err := r.feeds.Delete(ctx, tenant, link.ID, func(*gorm.DB, *model.FeedCommunity) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, link.ID, deleted.ID)
	assert.Zero(t, r.reload(t, c.ID).PostCount)

	var feeds, interactions int64
	require.NoError(t, r.db.Model(&model.Feed{}).Count(&feeds).Error)
	require.NoError(t, r.db.Model(&model.FeedInteraction{}).Count(&interactions).Error)
	assert.Zero(t, feeds)
	assert.Zero(t, interactions)
}

func TestFeedRepository_ReportAutoFlags(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyOpen)
	link := r.post(t, c, creator, model.FeedApproved)

	_, flagged, err := r.feeds.Report(ctx, tenant, link.ID, alice, "spam", 2)
	require.NoError(t, err)
	assert.False(t, flagged)

	_, _, err = r.feeds.Report(ctx, tenant, link.ID, alice, "spam", 2)
	assert.True(t, pkg.IsKind(err, pkg.KindConflict))

	got, flagged, err := r.feeds.Report(ctx, tenant, link.ID, bob, "spam", 2)
	require.NoError(t, err)
	assert.True(t, flagged)
	assert.Equal(t, model.FeedFlagged, got.Status)
	assert.Nil(t, got.ModeratedBy)
	assert.Zero(t, r.reload(t, c.ID).PostCount)
}

func TestFeedRepository_ReportsArePerCommunity(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c1 := r.community(t, model.JoinPolicyOpen)
	c2 := r.community(t, model.JoinPolicyOpen)
	first := r.post(t, c1, creator, model.FeedApproved)

	m, err := r.members.GetMembership(ctx, c2.ID, creator)
	require.NoError(t, err)
	shared := &model.FeedCommunity{EntityID: tenant, CommunityID: c2.ID, AuthorID: creator, MemberID: m.ID, Status: model.FeedApproved, Priority: model.PriorityNormal}
	require.NoError(t, r.feeds.Create(ctx, &model.Feed{ID: first.FeedID}, shared))
	require.Equal(t, first.FeedID, shared.FeedID)

	_, _, err = r.feeds.Report(ctx, tenant, first.ID, alice, "spam", 5)
	require.NoError(t, err)
	got, _, err := r.feeds.Report(ctx, tenant, shared.ID, alice, "spam", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.ReportCount)

	_, _, err = r.feeds.Report(ctx, tenant, shared.ID, alice, "spam", 5)
	assert.True(t, pkg.IsKind(err, pkg.KindConflict))

	// 删除一个关联只带走它自己的举报
	_, err = r.feeds.Delete(ctx, tenant, shared.ID, func(*gorm.DB, *model.FeedCommunity) error { return nil })
	require.NoError(t, err)
	var reports int64
	require.NoError(t, r.db.Model(&model.FeedReport{}).Count(&reports).Error)
	assert.EqualValues(t, 1, reports)
}

func TestFeedRepository_ListAndCount(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyOpen)
	for i := 0; i < 3; i++ {
		r.post(t, c, creator, model.FeedApproved)
	}
	r.post(t, c, creator, model.FeedPending)

	set := visibility.Build(visibility.Input{EntityID: tenant, Scope: visibility.Community(c.ID)})
	list, err := r.feeds.List(ctx, set, visibility.SortLatest, 2)
	require.NoError(t, err)
	assert.Len(t, list, 3, "limit+1 rows")
	require.NotNil(t, list[0].Feed)
	assert.Equal(t, "hello", list[0].Feed.Content)

	n, err := r.feeds.Count(ctx, set)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestCommunityRepository_TrackViewWindow(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyOpen)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	counted, err := r.communities.TrackView(ctx, c.ID, alice, now, time.Hour)
	require.NoError(t, err)
	assert.True(t, counted)

	counted, err = r.communities.TrackView(ctx, c.ID, alice, now.Add(30*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.False(t, counted)

	counted, err = r.communities.TrackView(ctx, c.ID, alice, now.Add(61*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.True(t, counted)

	assert.EqualValues(t, 2, r.reload(t, c.ID).ViewCount)
}

func TestCommunityRepository_ReportAutoFlags(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyOpen)

	flagged, err := r.communities.Report(ctx, c.ID, alice, "off topic", 2)
	require.NoError(t, err)
	assert.False(t, flagged)

	_, err = r.communities.Report(ctx, c.ID, alice, "off topic", 2)
	assert.True(t, pkg.IsKind(err, pkg.KindConflict))

	flagged, err = r.communities.Report(ctx, c.ID, bob, "off topic", 2)
	require.NoError(t, err)
	assert.True(t, flagged)

	got := r.reload(t, c.ID)
	assert.True(t, got.IsFlagged)
	assert.EqualValues(t, 2, got.ReportCount)
}

func TestCommunityLikeRepository_Idempotent(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyOpen)

	changed, err := r.likes.Like(ctx, c.ID, alice)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = r.likes.Like(ctx, c.ID, alice)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.EqualValues(t, 1, r.reload(t, c.ID).LikeCount)

	changed, err = r.likes.Unlike(ctx, c.ID, alice)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = r.likes.Unlike(ctx, c.ID, alice)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, r.reload(t, c.ID).LikeCount)
}

func TestCounterReconcilerRepo_RealCounts(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyOpen)
	r.post(t, c, creator, model.FeedApproved)
	r.post(t, c, creator, model.FeedPending)
	require.NoError(t, r.db.Model(&model.Community{}).Where("id = ?", c.ID).
		Updates(map[string]any{"post_count": 7, "member_count": 9}).Error)

	rec := &mysql.CounterReconcilerRepo{DB: r.db}
	list, last, err := rec.ReconcileList(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, last)
	assert.EqualValues(t, 7, list[0].PostCount)

	posts, err := rec.RealPostCount(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, posts)
	members, err := rec.RealMemberCount(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, members)
}

func TestCounterReconcilerRepo_FixRecountsInStore(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	c := r.community(t, model.JoinPolicyOpen)
	r.post(t, c, creator, model.FeedApproved)
	require.NoError(t, r.db.Model(&model.Community{}).Where("id = ?", c.ID).
		Updates(map[string]any{"post_count": 7, "member_count": 9}).Error)

	rec := &mysql.CounterReconcilerRepo{DB: r.db}
	seen, err := rec.RealPostCount(ctx, c.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, seen)

	// 读取真实值之后又有帖子通过审核
	r.post(t, c, creator, model.FeedApproved)

	require.NoError(t, rec.FixPostCount(ctx, c.ID))
	require.NoError(t, rec.FixMemberCount(ctx, c.ID))
	got := r.reload(t, c.ID)
	assert.EqualValues(t, 2, got.PostCount)
	assert.EqualValues(t, 1, got.MemberCount)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to model.FeedStatus
		ok       bool
	}{
		{model.FeedPending, model.FeedApproved, true},
		{model.FeedPending, model.FeedRejected, true},
		{model.FeedPending, model.FeedFlagged, false},
		{model.FeedFlagged, model.FeedApproved, true},
		{model.FeedFlagged, model.FeedRejected, true},
		{model.FeedRejected, model.FeedApproved, true},
		{model.FeedRejected, model.FeedFlagged, false},
		{model.FeedApproved, model.FeedFlagged, true},
		{model.FeedApproved, model.FeedRejected, false},
		{model.FeedApproved, model.FeedPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, mysql.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
