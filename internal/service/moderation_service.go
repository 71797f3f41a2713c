package service

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lkzdsb-lab/community-feed/internal/model"
	"github.com/lkzdsb-lab/community-feed/internal/notify"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/repository/mysql"
	"github.com/lkzdsb-lab/community-feed/internal/visibility"
)

const maxBatch = 100

// ModerationService 帖子在社区内的发布与审核
type ModerationService struct {
	base
	repo          *mysql.FeedRepository
	communityRepo *mysql.CommunityRepository
	memberRepo    *mysql.CommunityMemberRepository
}

func NewModerationService(d Deps) *ModerationService {
	return &ModerationService{
		base:          newBase(d),
		repo:          &mysql.FeedRepository{DB: d.DB},
		communityRepo: &mysql.CommunityRepository{DB: d.DB},
		memberRepo:    &mysql.CommunityMemberRepository{DB: d.DB},
	}
}

type CreateFeedInput struct {
	CommunityID uint64
	// FeedID 非 0 时把已有帖子分享到社区，否则新建帖子
	FeedID   uint64
	Content  string
	Priority model.Priority
	Tags     []string
	Job      *model.FeedJob
	Offer    *model.FeedOffer
	Poll     *model.FeedPoll
	Event    *model.FeedEvent
}

type DeletedBy string

const (
	DeletedByAuthor    DeletedBy = "author"
	DeletedByModerator DeletedBy = "moderator"
)

type DeleteResult struct {
	LinkID    uint64    `json:"link_id"`
	DeletedBy DeletedBy `json:"deleted_by"`
}

// CreateCommunityFeed 成员发帖；社区要求审核且发帖人不是管理员时进入 PENDING
func (s *ModerationService) CreateCommunityFeed(ctx context.Context, a Actor, in CreateFeedInput) (*model.FeedCommunity, error) {
	if a.Anonymous() {
		return nil, pkg.Forbidden("login required")
	}
	if in.CommunityID == 0 {
		return nil, pkg.Validation("community id required")
	}
	if in.Priority == "" {
		in.Priority = model.PriorityNormal
	}
	if !in.Priority.Valid() {
		return nil, pkg.Validation("invalid priority %q", in.Priority)
	}
	c, err := s.communityRepo.FindByID(ctx, a.EntityID, in.CommunityID)
	if err != nil {
		return nil, err
	}
	m, err := s.memberRepo.GetMembership(ctx, c.ID, a.UserID)
	if err != nil {
		return nil, pkg.Internal(err, "load membership")
	}
	if !m.Active() {
		return nil, pkg.Forbidden("only members can post to community %d", c.ID)
	}

	feed, err := s.feedFor(ctx, a, in)
	if err != nil {
		return nil, err
	}
	status := model.FeedApproved
	if c.RequireAdminApprovalForPosts && !m.Role.IsAdminOrManager() {
		status = model.FeedPending
	}
	in.Priority = effectivePriority(m.Role, in.Priority)
	link := &model.FeedCommunity{
		EntityID:    a.EntityID,
		CommunityID: c.ID,
		AuthorID:    a.UserID,
		MemberID:    m.ID,
		Status:      status,
		Priority:    in.Priority,
		Tags:        cleanTags(in.Tags),
	}
	if err := s.repo.Create(ctx, feed, link); err != nil {
		return nil, err
	}
	s.record(ctx, c.ID, a.UserID, "feed.create", link.ID, string(status))

	if status == model.FeedPending {
		mods, err := s.memberRepo.ListModeratorIDs(ctx, c.ID)
		if err != nil {
			s.log.Warn("list moderators failed", zap.Uint64("community_id", c.ID), zap.Error(err))
		}
		s.notifyAll(ctx, mods, a.UserID, notify.Notification{
			CommunityID: c.ID,
			EntityID:    a.EntityID,
			Type:        notify.TypePostPendingApproval,
			Title:       "New Post Requires Approval",
			Message:     fmt.Sprintf("A new post in %s needs review", c.Name),
			ActionURL:   fmt.Sprintf("/communities/%d/feeds?status=PENDING", c.ID),
		})
	}
	return link, nil
}

func (s *ModerationService) feedFor(ctx context.Context, a Actor, in CreateFeedInput) (*model.Feed, error) {
	if in.FeedID != 0 {
		feed, err := s.repo.GetFeed(ctx, a.EntityID, in.FeedID)
		if err != nil {
			return nil, err
		}
		if feed.AuthorID != a.UserID {
			return nil, pkg.Forbidden("only the author can share feed %d", in.FeedID)
		}
		return feed, nil
	}
	feed := &model.Feed{
		EntityID: a.EntityID,
		AuthorID: a.UserID,
		Content:  pkg.Sanitize(in.Content),
		Job:      in.Job,
		Offer:    in.Offer,
		Poll:     in.Poll,
		Event:    in.Event,
	}
	if feed.Content == "" && feed.Type() == model.FeedTypePost {
		return nil, pkg.Validation("content required")
	}
	if feed.Poll != nil && len(feed.Poll.Options) < 2 {
		return nil, pkg.Validation("a poll needs at least two options")
	}
	return feed, nil
}

// effectivePriority 管理员与经理的帖子固定为 HIGH；其他角色最高 NORMAL
func effectivePriority(role model.Role, requested model.Priority) model.Priority {
	if role.IsAdminOrManager() {
		return model.PriorityHigh
	}
	if requested.Weight() > model.PriorityNormal.Weight() {
		return model.PriorityNormal
	}
	return requested
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = pkg.Sanitize(t); t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// ApproveCommunityFeed 任意未通过状态转为 APPROVED；已通过视为成功
func (s *ModerationService) ApproveCommunityFeed(ctx context.Context, a Actor, linkID uint64, note string) (*model.FeedCommunity, error) {
	return s.moderate(ctx, a, linkID, model.FeedApproved, note)
}

// RejectCommunityFeed PENDING 或 FLAGGED 转为 REJECTED；已拒绝视为成功
func (s *ModerationService) RejectCommunityFeed(ctx context.Context, a Actor, linkID uint64, note string) (*model.FeedCommunity, error) {
	return s.moderate(ctx, a, linkID, model.FeedRejected, note)
}

// FlagCommunityFeed APPROVED 转为 FLAGGED
func (s *ModerationService) FlagCommunityFeed(ctx context.Context, a Actor, linkID uint64, note string) (*model.FeedCommunity, error) {
	return s.moderate(ctx, a, linkID, model.FeedFlagged, note)
}

var moderationNotices = map[model.FeedStatus]struct {
	typ   notify.Type
	title string
}{
	model.FeedApproved: {notify.TypePostApproved, "Post approved"},
	model.FeedRejected: {notify.TypePostRejected, "Post rejected"},
	model.FeedFlagged:  {notify.TypePostFlagged, "Post flagged"},
}

func (s *ModerationService) moderate(ctx context.Context, a Actor, linkID uint64, to model.FeedStatus, note string) (*model.FeedCommunity, error) {
	link, err := s.repo.Get(ctx, a.EntityID, linkID)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, link.CommunityID, a.UserID); err != nil {
		return nil, err
	}
	updated, changed, err := s.repo.Transition(ctx, a.EntityID, linkID, to, a.UserID, pkg.Sanitize(note))
	if err != nil {
		return nil, err
	}
	updated.Feed = link.Feed
	if !changed {
		return updated, nil
	}
	s.record(ctx, link.CommunityID, a.UserID, "feed."+string(to), linkID, updated.ModerationNote)
	notice := moderationNotices[to]
	s.notifySafe(ctx, notify.Notification{
		UserID:      link.AuthorID,
		CommunityID: link.CommunityID,
		EntityID:    a.EntityID,
		Type:        notice.typ,
		Title:       notice.title,
		Message:     updated.ModerationNote,
		ActionURL:   fmt.Sprintf("/feeds/%d", linkID),
	})
	return updated, nil
}

// TogglePinFeed 管理员切换置顶
func (s *ModerationService) TogglePinFeed(ctx context.Context, a Actor, linkID uint64) (*model.FeedCommunity, error) {
	link, err := s.repo.Get(ctx, a.EntityID, linkID)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, link.CommunityID, a.UserID); err != nil {
		return nil, err
	}
	updated, err := s.repo.TogglePin(ctx, a.EntityID, linkID, a.UserID)
	if err != nil {
		return nil, err
	}
	updated.Feed = link.Feed
	action := "feed.unpin"
	if updated.IsPinned {
		action = "feed.pin"
	}
	s.record(ctx, link.CommunityID, a.UserID, action, linkID, "")
	return updated, nil
}

// DeleteCommunityFeed 硬删除：作者本人或社区管理员；管理员删除时通知作者
func (s *ModerationService) DeleteCommunityFeed(ctx context.Context, a Actor, linkID uint64) (DeleteResult, error) {
	if a.Anonymous() {
		return DeleteResult{}, pkg.Forbidden("login required")
	}
	var by DeletedBy
	link, err := s.repo.Delete(ctx, a.EntityID, linkID, func(tx *gorm.DB, fc *model.FeedCommunity) error {
		var err error
		by, err = s.deleter(ctx, tx, fc, a.UserID)
		return err
	})
	if err != nil {
		return DeleteResult{}, err
	}
	s.record(ctx, link.CommunityID, a.UserID, "feed.delete", linkID, string(by))
	if by == DeletedByModerator {
		s.notifySafe(ctx, notify.Notification{
			UserID:      link.AuthorID,
			CommunityID: link.CommunityID,
			EntityID:    a.EntityID,
			Type:        notify.TypePostDeleted,
			Title:       "Post removed",
			Message:     "A moderator removed your post",
		})
	}
	return DeleteResult{LinkID: linkID, DeletedBy: by}, nil
}

// DeleteFeedCommunities 批量软删除，任一条无权限则全部不生效
func (s *ModerationService) DeleteFeedCommunities(ctx context.Context, a Actor, linkIDs []uint64, reason string) ([]model.FeedCommunity, error) {
	if a.Anonymous() {
		return nil, pkg.Forbidden("login required")
	}
	ids := slices.Clone(linkIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) == 0 || ids[0] == 0 {
		return nil, pkg.Validation("feed ids required")
	}
	if len(ids) > maxBatch {
		return nil, pkg.Validation("at most %d feeds per request", maxBatch)
	}
	links, err := s.repo.Archive(ctx, a.EntityID, ids, a.UserID, pkg.Sanitize(reason), func(tx *gorm.DB, fc *model.FeedCommunity) error {
		_, err := s.deleter(ctx, tx, fc, a.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i := range links {
		s.record(ctx, links[i].CommunityID, a.UserID, "feed.archive", links[i].ID, links[i].ArchivedReason)
	}
	return links, nil
}

// deleter 作者优先于管理员身份
func (s *ModerationService) deleter(ctx context.Context, tx *gorm.DB, fc *model.FeedCommunity, userID uint64) (DeletedBy, error) {
	if fc.AuthorID == userID {
		return DeletedByAuthor, nil
	}
	members := &mysql.CommunityMemberRepository{DB: tx}
	ok, err := members.HasPermission(ctx, fc.CommunityID, userID, model.RoleAdmin, model.RoleManager)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", pkg.Forbidden("not allowed to delete feed %d", fc.ID)
	}
	return DeletedByModerator, nil
}

// ReportFeed 非作者的成员可举报；达到阈值自动标记并通知
func (s *ModerationService) ReportFeed(ctx context.Context, a Actor, linkID uint64, reason string) (flagged bool, err error) {
	if a.Anonymous() {
		return false, pkg.Forbidden("login required")
	}
	link, err := s.repo.Get(ctx, a.EntityID, linkID)
	if err != nil {
		return false, err
	}
	if link.AuthorID == a.UserID {
		return false, pkg.Forbidden("cannot report your own feed")
	}
	ok, err := s.memberRepo.HasPermission(ctx, link.CommunityID, a.UserID)
	if err != nil {
		return false, pkg.Internal(err, "check permission")
	}
	if !ok {
		return false, pkg.Forbidden("only members can report")
	}
	updated, flagged, err := s.repo.Report(ctx, a.EntityID, linkID, a.UserID, pkg.Sanitize(reason), s.cfg.FeedReportThreshold)
	if err != nil {
		return false, err
	}
	if !flagged {
		return false, nil
	}
	s.record(ctx, link.CommunityID, 0, "feed.FLAGGED", linkID, updated.ModerationNote)
	mods, err := s.memberRepo.ListModeratorIDs(ctx, link.CommunityID)
	if err != nil {
		s.log.Warn("list moderators failed", zap.Uint64("community_id", link.CommunityID), zap.Error(err))
	}
	n := notify.Notification{
		CommunityID: link.CommunityID,
		EntityID:    a.EntityID,
		Type:        notify.TypePostFlagged,
		Title:       "Post flagged",
		Message:     "A post was flagged after repeated reports",
		ActionURL:   fmt.Sprintf("/feeds/%d", linkID),
	}
	s.notifyAll(ctx, append(mods, link.AuthorID), 0, n)
	return true, nil
}

// InteractWithFeed 对可见的帖子点赞、评论或分享
func (s *ModerationService) InteractWithFeed(ctx context.Context, a Actor, linkID uint64, typ model.InteractionType, content string) (*model.FeedInteraction, error) {
	if a.Anonymous() {
		return nil, pkg.Forbidden("login required")
	}
	switch typ {
	case model.InteractionLike, model.InteractionShare:
	case model.InteractionComment:
		if content = pkg.Sanitize(content); content == "" {
			return nil, pkg.Validation("comment content required")
		}
	default:
		return nil, pkg.Validation("invalid interaction type %q", typ)
	}
	link, err := s.repo.Get(ctx, a.EntityID, linkID)
	if err != nil {
		return nil, err
	}
	members, err := s.memberRepo.RoleMap(ctx, a.UserID, []uint64{link.CommunityID})
	if err != nil {
		return nil, pkg.Internal(err, "load memberships")
	}
	set := visibility.Build(visibility.Input{
		EntityID: a.EntityID,
		ViewerID: a.UserID,
		Scope:    visibility.Community(link.CommunityID),
		Members:  members,
	})
	if !set.Match(link) {
		return nil, pkg.NotFound("feed %d not found", linkID)
	}
	if link.Status != model.FeedApproved {
		return nil, pkg.Conflict("feed %d is not open for interaction", linkID)
	}
	if _, ok := members[link.CommunityID]; !ok {
		return nil, pkg.Forbidden("only members can interact")
	}
	in := &model.FeedInteraction{FeedID: link.FeedID, UserID: a.UserID, Type: typ, Content: content}
	if err := s.repo.AddInteraction(ctx, in); err != nil {
		return nil, pkg.Internal(err, "add interaction")
	}
	return in, nil
}

func (s *ModerationService) requireModerator(ctx context.Context, communityID, userID uint64) error {
	ok, err := s.memberRepo.HasPermission(ctx, communityID, userID, model.RoleAdmin, model.RoleManager)
	if err != nil {
		return pkg.Internal(err, "check permission")
	}
	if !ok {
		return pkg.Forbidden("admin or manager role required")
	}
	return nil
}
