package service

import (
	"context"
	"fmt"
	"strconv"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lkzdsb-lab/community-feed/internal/model"
	"github.com/lkzdsb-lab/community-feed/internal/notify"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/repository/mysql"
	"github.com/lkzdsb-lab/community-feed/internal/repository/redis"
	"github.com/lkzdsb-lab/community-feed/internal/trending"
	"github.com/lkzdsb-lab/community-feed/internal/visibility"
)

type CommunityService struct {
	base
	repo       *mysql.CommunityRepository
	memberRepo *mysql.CommunityMemberRepository
	likeRepo   *mysql.CommunityLikeRepository
	viewGate   *redis.ViewGate
	trending   *TrendingService
}

func NewCommunityService(d Deps) *CommunityService {
	s := &CommunityService{
		base:       newBase(d),
		repo:       &mysql.CommunityRepository{DB: d.DB},
		memberRepo: &mysql.CommunityMemberRepository{DB: d.DB},
		likeRepo:   &mysql.CommunityLikeRepository{DB: d.DB},
		trending:   NewTrendingService(d),
	}
	if d.Redis != nil {
		s.viewGate = &redis.ViewGate{RDB: d.Redis}
	}
	return s
}

type CreateCommunityInput struct {
	Name                         string
	Description                  string
	Privacy                      model.Privacy
	JoinPolicy                   model.JoinPolicy
	RequireAdminApprovalForPosts bool
	Rules                        []model.Rule
}

// CommunityItem 列表项，附带热度与当前用户的成员信息
type CommunityItem struct {
	*model.Community
	TrendingScore int64      `json:"trending_score"`
	IsTrending    bool       `json:"is_trending"`
	IsMember      bool       `json:"is_member"`
	IsSaved       bool       `json:"is_saved"`
	UserRole      model.Role `json:"user_role,omitempty"`
}

type CommunityPage struct {
	Items       []CommunityItem `json:"items"`
	NextCursor  string          `json:"next_cursor,omitempty"`
	HasNextPage bool            `json:"has_next_page"`
}

type ListQuery struct {
	Cursor string
	Limit  int
}

type JoinResult struct {
	Joined    bool                   `json:"joined"`
	Requested bool                   `json:"requested"`
	Member    *model.CommunityMember `json:"member"`
}

func (s *CommunityService) CreateCommunity(ctx context.Context, a Actor, in CreateCommunityInput) (*model.Community, error) {
	if a.Anonymous() {
		return nil, pkg.Forbidden("login required")
	}
	name := pkg.Sanitize(in.Name)
	if name == "" {
		return nil, pkg.Validation("community name required")
	}
	if utf8.RuneCountInString(name) > 64 {
		return nil, pkg.Validation("community name too long")
	}
	if in.Privacy == "" {
		in.Privacy = model.PrivacyPublic
	}
	if in.Privacy != model.PrivacyPublic && in.Privacy != model.PrivacyPrivate {
		return nil, pkg.Validation("invalid privacy %q", in.Privacy)
	}
	if in.JoinPolicy == "" {
		in.JoinPolicy = model.JoinPolicyOpen
	}
	if in.JoinPolicy != model.JoinPolicyOpen && in.JoinPolicy != model.JoinPolicyApproval {
		return nil, pkg.Validation("invalid join policy %q", in.JoinPolicy)
	}
	rules := make([]model.Rule, 0, len(in.Rules))
	for _, r := range in.Rules {
		r.Title = pkg.Sanitize(r.Title)
		if r.Title == "" {
			return nil, pkg.Validation("rule title required")
		}
		r.Description = pkg.Sanitize(r.Description)
		rules = append(rules, r)
	}

	c := &model.Community{
		EntityID:                     a.EntityID,
		CreatorID:                    a.UserID,
		Name:                         name,
		Description:                  pkg.Sanitize(in.Description),
		Privacy:                      in.Privacy,
		JoinPolicy:                   in.JoinPolicy,
		RequireAdminApprovalForPosts: in.RequireAdminApprovalForPosts,
		IsApproved:                   true,
		Rules:                        rules,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.record(ctx, c.ID, a.UserID, "community.create", c.ID, "")
	return c, nil
}

func (s *CommunityService) GetCommunity(ctx context.Context, a Actor, communityID uint64) (*CommunityItem, error) {
	c, err := s.repo.FindByID(ctx, a.EntityID, communityID)
	if err != nil {
		return nil, err
	}
	items, err := s.annotate(ctx, a, []model.Community{*c})
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}

// JoinCommunity 开放社区直接加入，审核社区提交申请并通知管理员
func (s *CommunityService) JoinCommunity(ctx context.Context, a Actor, communityID uint64, message string) (JoinResult, error) {
	if a.Anonymous() {
		return JoinResult{}, pkg.Forbidden("login required")
	}
	c, err := s.repo.FindByID(ctx, a.EntityID, communityID)
	if err != nil {
		return JoinResult{}, err
	}
	out, err := s.memberRepo.Join(ctx, communityID, a.UserID, pkg.Sanitize(message))
	if err != nil {
		return JoinResult{}, err
	}
	if out.Requested {
		s.record(ctx, communityID, a.UserID, "member.request", a.UserID, "")
		mods, err := s.memberRepo.ListModeratorIDs(ctx, communityID)
		if err != nil {
			s.log.Warn("list moderators failed", zap.Uint64("community_id", communityID), zap.Error(err))
		}
		s.notifyAll(ctx, mods, a.UserID, notify.Notification{
			CommunityID: communityID,
			EntityID:    a.EntityID,
			Type:        notify.TypeJoinRequested,
			Title:       "New join request",
			Message:     fmt.Sprintf("A user asked to join %s", c.Name),
			ActionURL:   fmt.Sprintf("/communities/%d/requests", communityID),
		})
	} else {
		s.record(ctx, communityID, a.UserID, "member.join", a.UserID, "")
	}
	return JoinResult{Joined: out.Joined, Requested: out.Requested, Member: out.Member}, nil
}

func (s *CommunityService) WithdrawJoinRequest(ctx context.Context, a Actor, communityID uint64) error {
	if _, err := s.repo.FindByID(ctx, a.EntityID, communityID); err != nil {
		return err
	}
	return s.memberRepo.WithdrawJoinRequest(ctx, communityID, a.UserID)
}

// RespondToJoinRequest 仅 ADMIN/MANAGER 可处理
func (s *CommunityService) RespondToJoinRequest(ctx context.Context, a Actor, communityID, userID uint64, accept bool) error {
	c, err := s.repo.FindByID(ctx, a.EntityID, communityID)
	if err != nil {
		return err
	}
	if err := s.requireManager(ctx, communityID, a.UserID); err != nil {
		return err
	}
	if _, err := s.memberRepo.RespondToJoinRequest(ctx, communityID, userID, accept); err != nil {
		return err
	}

	n := notify.Notification{
		UserID:      userID,
		CommunityID: communityID,
		EntityID:    a.EntityID,
		Type:        notify.TypeJoinRejected,
		Title:       "Join request declined",
		Message:     fmt.Sprintf("Your request to join %s was declined", c.Name),
	}
	action := "member.reject"
	if accept {
		n.Type = notify.TypeJoinAccepted
		n.Title = "Join request accepted"
		n.Message = fmt.Sprintf("You are now a member of %s", c.Name)
		n.ActionURL = fmt.Sprintf("/communities/%d", communityID)
		action = "member.accept"
	}
	s.record(ctx, communityID, a.UserID, action, userID, "")
	s.notifySafe(ctx, n)
	return nil
}

func (s *CommunityService) LeaveCommunity(ctx context.Context, a Actor, communityID uint64) error {
	if _, err := s.repo.FindByID(ctx, a.EntityID, communityID); err != nil {
		return err
	}
	if err := s.memberRepo.Leave(ctx, communityID, a.UserID); err != nil {
		return err
	}
	s.record(ctx, communityID, a.UserID, "member.leave", a.UserID, "")
	return nil
}

// RemoveMember 管理员移除成员；移除自己请使用 Leave
func (s *CommunityService) RemoveMember(ctx context.Context, a Actor, communityID, userID uint64) error {
	c, err := s.repo.FindByID(ctx, a.EntityID, communityID)
	if err != nil {
		return err
	}
	if userID == a.UserID {
		return pkg.Validation("use leave to exit a community")
	}
	if err := s.requireManager(ctx, communityID, a.UserID); err != nil {
		return err
	}
	if err := s.memberRepo.Remove(ctx, communityID, userID); err != nil {
		return err
	}
	s.record(ctx, communityID, a.UserID, "member.remove", userID, "")
	s.notifySafe(ctx, notify.Notification{
		UserID:      userID,
		CommunityID: communityID,
		EntityID:    a.EntityID,
		Type:        notify.TypeMemberRemoved,
		Title:       "Removed from community",
		Message:     fmt.Sprintf("You were removed from %s", c.Name),
	})
	return nil
}

// SetMemberRole 仅 ADMIN 可修改角色，创建者角色固定
func (s *CommunityService) SetMemberRole(ctx context.Context, a Actor, communityID, userID uint64, role model.Role) error {
	c, err := s.repo.FindByID(ctx, a.EntityID, communityID)
	if err != nil {
		return err
	}
	switch role {
	case model.RoleAdmin, model.RoleManager, model.RoleModerator, model.RoleUser:
	default:
		return pkg.Validation("invalid role %q", role)
	}
	ok, err := s.memberRepo.HasPermission(ctx, communityID, a.UserID, model.RoleAdmin)
	if err != nil {
		return pkg.Internal(err, "check permission")
	}
	if !ok {
		return pkg.Forbidden("only admins can change roles")
	}
	if userID == c.CreatorID {
		return pkg.Forbidden("the creator's role cannot change")
	}
	if err := s.memberRepo.SetRole(ctx, communityID, userID, role); err != nil {
		return err
	}
	s.record(ctx, communityID, a.UserID, "member.role", userID, string(role))
	return nil
}

func (s *CommunityService) ListMembers(ctx context.Context, a Actor, communityID, cursor uint64, limit int) ([]model.CommunityMember, uint64, error) {
	c, err := s.repo.FindByID(ctx, a.EntityID, communityID)
	if err != nil {
		return nil, 0, err
	}
	if c.Privacy == model.PrivacyPrivate {
		ok, err := s.memberRepo.HasPermission(ctx, communityID, a.UserID)
		if err != nil {
			return nil, 0, pkg.Internal(err, "check permission")
		}
		if !ok {
			return nil, 0, pkg.Forbidden("members only")
		}
	}
	return s.memberRepo.ListMembers(ctx, communityID, cursor, limit)
}

func (s *CommunityService) ListJoinRequests(ctx context.Context, a Actor, communityID, cursor uint64, limit int) ([]model.JoinRequest, uint64, error) {
	if _, err := s.repo.FindByID(ctx, a.EntityID, communityID); err != nil {
		return nil, 0, err
	}
	if err := s.requireManager(ctx, communityID, a.UserID); err != nil {
		return nil, 0, err
	}
	return s.memberRepo.ListJoinRequests(ctx, communityID, cursor, limit)
}

func (s *CommunityService) SaveCommunity(ctx context.Context, a Actor, communityID uint64) (bool, error) {
	if err := s.requireUserAndCommunity(ctx, a, communityID); err != nil {
		return false, err
	}
	return s.repo.Save(ctx, communityID, a.UserID)
}

func (s *CommunityService) UnsaveCommunity(ctx context.Context, a Actor, communityID uint64) (bool, error) {
	if err := s.requireUserAndCommunity(ctx, a, communityID); err != nil {
		return false, err
	}
	return s.repo.Unsave(ctx, communityID, a.UserID)
}

func (s *CommunityService) LikeCommunity(ctx context.Context, a Actor, communityID uint64) (bool, error) {
	if err := s.requireUserAndCommunity(ctx, a, communityID); err != nil {
		return false, err
	}
	return s.likeRepo.Like(ctx, communityID, a.UserID)
}

func (s *CommunityService) UnlikeCommunity(ctx context.Context, a Actor, communityID uint64) (bool, error) {
	if err := s.requireUserAndCommunity(ctx, a, communityID); err != nil {
		return false, err
	}
	return s.likeRepo.Unlike(ctx, communityID, a.UserID)
}

// ReportCommunity 达到阈值自动标记并通知管理员
func (s *CommunityService) ReportCommunity(ctx context.Context, a Actor, communityID uint64, reason string) (flagged bool, err error) {
	if a.Anonymous() {
		return false, pkg.Forbidden("login required")
	}
	c, err := s.repo.FindByID(ctx, a.EntityID, communityID)
	if err != nil {
		return false, err
	}
	if c.CreatorID == a.UserID {
		return false, pkg.Forbidden("cannot report your own community")
	}
	flagged, err = s.repo.Report(ctx, communityID, a.UserID, pkg.Sanitize(reason), s.cfg.CommunityReportThreshold)
	if err != nil {
		return false, err
	}
	if flagged {
		s.record(ctx, communityID, 0, "community.flag", communityID, "report threshold reached")
		mods, err := s.memberRepo.ListModeratorIDs(ctx, communityID)
		if err != nil {
			s.log.Warn("list moderators failed", zap.Uint64("community_id", communityID), zap.Error(err))
		}
		s.notifyAll(ctx, mods, 0, notify.Notification{
			CommunityID: communityID,
			EntityID:    a.EntityID,
			Type:        notify.TypeCommunityFlagged,
			Title:       "Community flagged",
			Message:     fmt.Sprintf("%s was flagged after repeated reports", c.Name),
		})
	}
	return flagged, nil
}

// TrackCommunityView 匿名访问不计数；redis 闸门拦截窗口内的重复访问，数据库记录为准
func (s *CommunityService) TrackCommunityView(ctx context.Context, a Actor, communityID uint64) (bool, error) {
	if a.Anonymous() {
		return false, nil
	}
	if _, err := s.repo.FindByID(ctx, a.EntityID, communityID); err != nil {
		return false, err
	}
	window := s.cfg.ViewDedupeWindow
	if s.viewGate != nil {
		first, err := s.viewGate.FirstInWindow(ctx, communityID, a.UserID, window)
		if err != nil {
			s.log.Warn("view gate unavailable", zap.Uint64("community_id", communityID), zap.Error(err))
		} else if !first {
			return false, nil
		}
	}
	counted, err := s.repo.TrackView(ctx, communityID, a.UserID, s.now(), window)
	if err != nil && s.viewGate != nil {
		if ferr := s.viewGate.Forget(ctx, communityID, a.UserID); ferr != nil {
			s.log.Warn("view gate reset failed", zap.Uint64("community_id", communityID), zap.Error(ferr))
		}
	}
	return counted, err
}

// SetFeatured 租户管理员操作，鉴权由调用方负责
func (s *CommunityService) SetFeatured(ctx context.Context, a Actor, communityID uint64, featured bool) error {
	if _, err := s.repo.FindByID(ctx, a.EntityID, communityID); err != nil {
		return err
	}
	return s.repo.SetFeatured(ctx, communityID, featured)
}

func (s *CommunityService) GetAllCommunities(ctx context.Context, a Actor, q ListQuery) (CommunityPage, error) {
	return s.list(ctx, a, q, mysql.CommunityFilter{Listed: true})
}

func (s *CommunityService) GetFeaturedCommunities(ctx context.Context, a Actor, q ListQuery) (CommunityPage, error) {
	return s.list(ctx, a, q, mysql.CommunityFilter{Listed: true, Featured: true})
}

func (s *CommunityService) GetMyOwnedCommunities(ctx context.Context, a Actor, q ListQuery) (CommunityPage, error) {
	if a.Anonymous() {
		return CommunityPage{}, pkg.Forbidden("login required")
	}
	return s.list(ctx, a, q, mysql.CommunityFilter{CreatorID: a.UserID})
}

func (s *CommunityService) GetMySavedCommunities(ctx context.Context, a Actor, q ListQuery) (CommunityPage, error) {
	if a.Anonymous() {
		return CommunityPage{}, pkg.Forbidden("login required")
	}
	return s.list(ctx, a, q, mysql.CommunityFilter{SavedBy: a.UserID})
}

func (s *CommunityService) GetMyJoinedCommunities(ctx context.Context, a Actor, q ListQuery) (CommunityPage, error) {
	if a.Anonymous() {
		return CommunityPage{}, pkg.Forbidden("login required")
	}
	return s.list(ctx, a, q, mysql.CommunityFilter{JoinedBy: a.UserID})
}

// GetTrendingCommunities 在已截断的前 N 名内按 id 倒序游标分页
func (s *CommunityService) GetTrendingCommunities(ctx context.Context, a Actor, q ListQuery) (CommunityPage, error) {
	var cursor uint64
	if q.Cursor != "" {
		var err error
		if cursor, err = strconv.ParseUint(q.Cursor, 10, 64); err != nil {
			return CommunityPage{}, pkg.Validation("invalid cursor")
		}
	}
	limit := normalizeLimit(q.Limit)

	ranking, err := s.trending.Rank(ctx, a.EntityID)
	if err != nil {
		return CommunityPage{}, err
	}
	ids, hasNext := trending.PageIDs(ranking.TopIDs(), cursor, limit)
	list, err := s.repo.FindByIDs(ctx, a.EntityID, ids)
	if err != nil {
		return CommunityPage{}, pkg.Internal(err, "load trending communities")
	}
	byID := make(map[uint64]model.Community, len(list))
	for _, c := range list {
		byID[c.ID] = c
	}
	ordered := make([]model.Community, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	items, err := s.annotateWith(ctx, a, ordered, ranking)
	if err != nil {
		return CommunityPage{}, err
	}
	page := CommunityPage{Items: items, HasNextPage: hasNext}
	if hasNext && len(ids) > 0 {
		page.NextCursor = strconv.FormatUint(ids[len(ids)-1], 10)
	}
	return page, nil
}

func (s *CommunityService) list(ctx context.Context, a Actor, q ListQuery, f mysql.CommunityFilter) (CommunityPage, error) {
	after, err := visibility.ParseCursor(q.Cursor, visibility.SortLatest)
	if err != nil {
		return CommunityPage{}, pkg.Validation("invalid cursor")
	}
	f.EntityID = a.EntityID
	f.After = after
	f.Limit = normalizeLimit(q.Limit)

	list, err := s.repo.List(ctx, f)
	if err != nil {
		return CommunityPage{}, pkg.Internal(err, "list communities")
	}
	var page CommunityPage
	if len(list) > f.Limit {
		list = list[:f.Limit]
		page.HasNextPage = true
	}
	if page.Items, err = s.annotate(ctx, a, list); err != nil {
		return CommunityPage{}, err
	}
	if page.HasNextPage {
		last := list[len(list)-1]
		page.NextCursor = visibility.Cursor{Mode: visibility.SortLatest, CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

func (s *CommunityService) annotate(ctx context.Context, a Actor, list []model.Community) ([]CommunityItem, error) {
	ranking, err := s.trending.Rank(ctx, a.EntityID)
	if err != nil {
		return nil, err
	}
	return s.annotateWith(ctx, a, list, ranking)
}

func (s *CommunityService) annotateWith(ctx context.Context, a Actor, list []model.Community, ranking trending.Ranking) ([]CommunityItem, error) {
	ids := make([]uint64, len(list))
	for i := range list {
		ids[i] = list[i].ID
	}
	roles := map[uint64]visibility.Member{}
	saved := map[uint64]bool{}
	if !a.Anonymous() && len(ids) > 0 {
		var err error
		if roles, err = s.memberRepo.RoleMap(ctx, a.UserID, ids); err != nil {
			return nil, pkg.Internal(err, "load memberships")
		}
		if saved, err = s.repo.SavedSet(ctx, a.UserID, ids); err != nil {
			return nil, pkg.Internal(err, "load saved communities")
		}
	}
	items := make([]CommunityItem, len(list))
	for i := range list {
		c := &list[i]
		e, _ := ranking.Lookup(c.ID)
		m, member := roles[c.ID]
		items[i] = CommunityItem{
			Community:     c,
			TrendingScore: e.Score,
			IsTrending:    e.Trending,
			IsMember:      member,
			IsSaved:       saved[c.ID],
			UserRole:      m.Role,
		}
	}
	return items, nil
}

func (s *CommunityService) requireManager(ctx context.Context, communityID, userID uint64) error {
	ok, err := s.memberRepo.HasPermission(ctx, communityID, userID, model.RoleAdmin, model.RoleManager)
	if err != nil {
		return pkg.Internal(err, "check permission")
	}
	if !ok {
		return pkg.Forbidden("admin or manager role required")
	}
	return nil
}

func (s *CommunityService) requireUserAndCommunity(ctx context.Context, a Actor, communityID uint64) error {
	if a.Anonymous() {
		return pkg.Forbidden("login required")
	}
	_, err := s.repo.FindByID(ctx, a.EntityID, communityID)
	return err
}
