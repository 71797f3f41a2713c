package service

import (
	"context"
	"slices"

	"github.com/lkzdsb-lab/community-feed/internal/model"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/repository/mysql"
	"github.com/lkzdsb-lab/community-feed/internal/visibility"
)

// FeedService 帖子列表查询
type FeedService struct {
	base
	repo          *mysql.FeedRepository
	communityRepo *mysql.CommunityRepository
	memberRepo    *mysql.CommunityMemberRepository
}

func NewFeedService(d Deps) *FeedService {
	return &FeedService{
		base:          newBase(d),
		repo:          &mysql.FeedRepository{DB: d.DB},
		communityRepo: &mysql.CommunityRepository{DB: d.DB},
		memberRepo:    &mysql.CommunityMemberRepository{DB: d.DB},
	}
}

type FeedQuery struct {
	CommunityID uint64
	Status      model.FeedStatus
	Priority    model.Priority
	Sort        visibility.SortMode
	Cursor      string
	Limit       int
}

// Permissions 当前用户对一条帖子能做的操作
type Permissions struct {
	CanEdit     bool `json:"can_edit"`
	CanDelete   bool `json:"can_delete"`
	CanPin      bool `json:"can_pin"`
	CanModerate bool `json:"can_moderate"`
	CanApprove  bool `json:"can_approve"`
	CanReject   bool `json:"can_reject"`
	CanReport   bool `json:"can_report"`
}

// PermissionsFor 作者可编辑；作者或管理员可删除；管理员可置顶与审核；非作者成员可举报
func PermissionsFor(isOwner, isAdmin, isMember bool) Permissions {
	return Permissions{
		CanEdit:     isOwner,
		CanDelete:   isOwner || isAdmin,
		CanPin:      isAdmin,
		CanModerate: isAdmin,
		CanApprove:  isAdmin,
		CanReject:   isAdmin,
		CanReport:   isMember && !isOwner,
	}
}

type ProcessedFeed struct {
	*model.FeedCommunity
	FeedType            model.FeedType                  `json:"feed_type"`
	IsOwnFeed           bool                            `json:"is_own_feed"`
	IsMemberOfCommunity bool                            `json:"is_member_of_community"`
	UserRole            model.Role                      `json:"user_role,omitempty"`
	Permissions         Permissions                     `json:"permissions"`
	Interactions        map[model.InteractionType]int64 `json:"interactions"`
}

type FeedPage struct {
	Items       []ProcessedFeed `json:"items"`
	NextCursor  string          `json:"next_cursor,omitempty"`
	HasNextPage bool            `json:"has_next_page"`
	TotalCount  int64           `json:"total_count"`
}

// GetCommunityFeeds 单个社区的帖子列表；私密社区仅成员可见
func (s *FeedService) GetCommunityFeeds(ctx context.Context, a Actor, q FeedQuery) (FeedPage, error) {
	if q.CommunityID == 0 {
		return FeedPage{}, pkg.Validation("community id required")
	}
	c, err := s.communityRepo.FindByID(ctx, a.EntityID, q.CommunityID)
	if err != nil {
		return FeedPage{}, err
	}
	members, err := s.memberRepo.RoleMap(ctx, a.UserID, []uint64{c.ID})
	if err != nil {
		return FeedPage{}, pkg.Internal(err, "load memberships")
	}
	if _, ok := members[c.ID]; !ok && c.Privacy == model.PrivacyPrivate {
		return FeedPage{}, pkg.Forbidden("community %d is private", c.ID)
	}
	return s.ListFeeds(ctx, a, visibility.Community(c.ID), members, q)
}

// GetMyJoinedCommunitiesFeed 聚合当前用户加入的全部社区
func (s *FeedService) GetMyJoinedCommunitiesFeed(ctx context.Context, a Actor, q FeedQuery) (FeedPage, error) {
	members, err := s.memberRepo.RoleMap(ctx, a.UserID, nil)
	if err != nil {
		return FeedPage{}, pkg.Internal(err, "load memberships")
	}
	return s.ListFeeds(ctx, a, visibility.All(), members, q)
}

// ListFeeds 按可见性条件查询一页，并附带总数与每条的权限信息
func (s *FeedService) ListFeeds(ctx context.Context, a Actor, scope visibility.Scope, members map[uint64]visibility.Member, q FeedQuery) (FeedPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return FeedPage{}, pkg.Validation("invalid status %q", q.Status)
	}
	if q.Priority != "" && !q.Priority.Valid() {
		return FeedPage{}, pkg.Validation("invalid priority %q", q.Priority)
	}
	if q.Status.ModeratorOnly() {
		var err error
		if scope, err = moderatedScope(a, scope, members, q.Status); err != nil {
			return FeedPage{}, err
		}
	}
	q.Sort = visibility.ParseSort(string(q.Sort))
	after, err := visibility.ParseCursor(q.Cursor, q.Sort)
	if err != nil {
		return FeedPage{}, pkg.Validation("invalid cursor")
	}
	limit := normalizeLimit(q.Limit)

	set := visibility.Build(visibility.Input{
		EntityID:              a.EntityID,
		ViewerID:              a.UserID,
		Scope:                 scope,
		Members:               members,
		Status:                q.Status,
		Priority:              q.Priority,
		After:                 after,
		OwnPendingInAggregate: s.cfg.OwnPendingInAggregate,
	})
	rows, err := s.repo.List(ctx, set, q.Sort, limit)
	if err != nil {
		return FeedPage{}, pkg.Internal(err, "list feeds")
	}
	total, err := s.repo.Count(ctx, set)
	if err != nil {
		return FeedPage{}, pkg.Internal(err, "count feeds")
	}

	page := FeedPage{TotalCount: total}
	if len(rows) > limit {
		rows = rows[:limit]
		page.HasNextPage = true
	}
	if page.Items, err = s.process(ctx, a, rows, members); err != nil {
		return FeedPage{}, err
	}
	if page.HasNextPage {
		page.NextCursor = visibility.CursorOf(&rows[len(rows)-1], q.Sort).Encode()
	}
	return page, nil
}

// moderatedScope 驳回和被标记的帖子只给 ADMIN/MANAGER 看：单社区直接拒绝，聚合视图收窄到其管理的社区
func moderatedScope(a Actor, scope visibility.Scope, members map[uint64]visibility.Member, status model.FeedStatus) (visibility.Scope, error) {
	if scope.Kind == visibility.ScopeCommunity {
		for _, cid := range scope.IDs {
			if a.Anonymous() || !members[cid].Role.IsAdminOrManager() {
				return scope, pkg.Forbidden("listing %s feeds requires admin or manager", status)
			}
		}
		return scope, nil
	}
	var managed []uint64
	if !a.Anonymous() {
		for cid, m := range members {
			if m.Role.IsAdminOrManager() && (scope.Kind == visibility.ScopeAll || slices.Contains(scope.IDs, cid)) {
				managed = append(managed, cid)
			}
		}
	}
	return visibility.Communities(managed...), nil
}

// GetFeed 单条帖子，按同样的可见性规则判断
func (s *FeedService) GetFeed(ctx context.Context, a Actor, linkID uint64) (*ProcessedFeed, error) {
	link, err := s.repo.Get(ctx, a.EntityID, linkID)
	if err != nil {
		return nil, err
	}
	c, err := s.communityRepo.FindByID(ctx, a.EntityID, link.CommunityID)
	if err != nil {
		return nil, err
	}
	members, err := s.memberRepo.RoleMap(ctx, a.UserID, []uint64{link.CommunityID})
	if err != nil {
		return nil, pkg.Internal(err, "load memberships")
	}
	_, member := members[c.ID]
	if !member && c.Privacy == model.PrivacyPrivate {
		return nil, pkg.Forbidden("community %d is private", c.ID)
	}
	set := visibility.Build(visibility.Input{
		EntityID: a.EntityID,
		ViewerID: a.UserID,
		Scope:    visibility.Community(c.ID),
		Members:  members,
		Status:   moderationView(link, members[c.ID]),
	})
	if !set.Match(link) {
		return nil, pkg.NotFound("feed %d not found", linkID)
	}
	items, err := s.process(ctx, a, []model.FeedCommunity{*link}, members)
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}

// moderationView 管理员可以直接打开任意状态的帖子
func moderationView(link *model.FeedCommunity, m visibility.Member) model.FeedStatus {
	if m.Role.IsAdminOrManager() {
		return link.Status
	}
	return ""
}

func (s *FeedService) process(ctx context.Context, a Actor, rows []model.FeedCommunity, members map[uint64]visibility.Member) ([]ProcessedFeed, error) {
	feedIDs := make([]uint64, len(rows))
	for i := range rows {
		feedIDs[i] = rows[i].FeedID
	}
	counts, err := s.repo.InteractionCounts(ctx, feedIDs)
	if err != nil {
		return nil, pkg.Internal(err, "count interactions")
	}
	out := make([]ProcessedFeed, len(rows))
	for i := range rows {
		fc := &rows[i]
		m, member := members[fc.CommunityID]
		own := !a.Anonymous() && fc.AuthorID == a.UserID
		interactions := counts[fc.FeedID]
		if interactions == nil {
			interactions = map[model.InteractionType]int64{}
		}
		out[i] = ProcessedFeed{
			FeedCommunity:       fc,
			FeedType:            fc.Feed.Type(),
			IsOwnFeed:           own,
			IsMemberOfCommunity: member,
			UserRole:            m.Role,
			Permissions:         PermissionsFor(own, member && m.Role.IsAdminOrManager(), member),
			Interactions:        interactions,
		}
	}
	return out, nil
}
