package mysql

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lkzdsb-lab/community-feed/internal/model"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/visibility"
)

type FeedRepository struct {
	DB      *gorm.DB
	Counter Counter
}

// transitions 允许的状态迁移
var transitions = map[model.FeedStatus][]model.FeedStatus{
	model.FeedPending:  {model.FeedApproved, model.FeedRejected},
	model.FeedFlagged:  {model.FeedApproved, model.FeedRejected},
	model.FeedRejected: {model.FeedApproved},
	model.FeedApproved: {model.FeedFlagged},
}

// CanTransition 同状态不算迁移，由调用方当作幂等成功处理
func CanTransition(from, to model.FeedStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Create 写入帖子（feed.ID 为 0 时新建）与社区关联；直接通过的关联计入 post_count
func (r *FeedRepository) Create(ctx context.Context, feed *model.Feed, link *model.FeedCommunity) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if feed.ID == 0 {
			if err := tx.Create(feed).Error; err != nil {
				return err
			}
		} else {
			var n int64
			if err := tx.Model(&model.FeedCommunity{}).
				Where("feed_id = ? AND community_id = ?", feed.ID, link.CommunityID).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return pkg.Conflict("feed %d is already posted to community %d", feed.ID, link.CommunityID)
			}
		}
		link.FeedID = feed.ID
		link.IsApproved = link.Status == model.FeedApproved
		if link.IsApproved && link.PublishedAt == nil {
			now := tx.NowFunc()
			link.PublishedAt = &now
		}
		if err := tx.Create(link).Error; err != nil {
			return err
		}
		link.Feed = feed
		if !link.Counted() {
			return nil
		}
		return r.Counter.AdjustPostCount(tx, link.CommunityID, +1)
	})
	return wrapTx(err, "create community feed")
}

// Get 读取关联及帖子内容；归档或其他租户的视为不存在
func (r *FeedRepository) Get(ctx context.Context, entityID, linkID uint64) (*model.FeedCommunity, error) {
	var rows []model.FeedCommunity
	if err := preloadFeed(r.DB.WithContext(ctx)).
		Where("id = ? AND entity_id = ? AND archived_at IS NULL", linkID, entityID).
		Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "get community feed")
	}
	if len(rows) == 0 {
		return nil, pkg.NotFound("feed %d not found", linkID)
	}
	return &rows[0], nil
}

// GetFeed 读取帖子本体
func (r *FeedRepository) GetFeed(ctx context.Context, entityID, feedID uint64) (*model.Feed, error) {
	var rows []model.Feed
	if err := r.DB.WithContext(ctx).
		Preload("Job").Preload("Offer").Preload("Poll").Preload("Event").
		Where("id = ? AND entity_id = ?", feedID, entityID).
		Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "get feed")
	}
	if len(rows) == 0 {
		return nil, pkg.NotFound("feed %d not found", feedID)
	}
	return &rows[0], nil
}

// Transition 审核状态迁移。changed=false 表示已处于目标状态
func (r *FeedRepository) Transition(ctx context.Context, entityID, linkID uint64, to model.FeedStatus, moderatorID uint64, note string) (*model.FeedCommunity, bool, error) {
	var (
		link    *model.FeedCommunity
		changed bool
	)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if link, err = lockLink(tx, entityID, linkID); err != nil {
			return err
		}
		if link.Status == to {
			return nil
		}
		if !CanTransition(link.Status, to) {
			return pkg.Conflict("cannot move feed from %s to %s", link.Status, to)
		}
		changed = true
		return r.applyStatus(tx, link, to, moderatorID, note)
	})
	return link, changed, wrapTx(err, "moderate community feed")
}

// applyStatus 写状态并按计数资格的变化调整 post_count
func (r *FeedRepository) applyStatus(tx *gorm.DB, link *model.FeedCommunity, to model.FeedStatus, moderatorID uint64, note string) error {
	wasCounted := link.Counted()
	now := tx.NowFunc()
	// moderatorID 为 0 表示系统自动处理
	var by *uint64
	if moderatorID > 0 {
		by = &moderatorID
	}
	updates := map[string]any{
		"status":          to,
		"is_approved":     to == model.FeedApproved,
		"moderated_by":    by,
		"moderated_at":    now,
		"moderation_note": note,
	}
	if to == model.FeedApproved {
		updates["published_at"] = now
		link.PublishedAt = &now
	}
	if err := tx.Model(&model.FeedCommunity{}).Where("id = ?", link.ID).Updates(updates).Error; err != nil {
		return err
	}
	link.Status = to
	link.IsApproved = to == model.FeedApproved
	link.ModeratedBy = by
	link.ModeratedAt = &now
	link.ModerationNote = note

	switch {
	case !wasCounted && link.Counted():
		return r.Counter.AdjustPostCount(tx, link.CommunityID, +1)
	case wasCounted && !link.Counted():
		return r.Counter.AdjustPostCount(tx, link.CommunityID, -1)
	}
	return nil
}

// TogglePin 切换置顶，返回新的置顶状态
func (r *FeedRepository) TogglePin(ctx context.Context, entityID, linkID, userID uint64) (*model.FeedCommunity, error) {
	var link *model.FeedCommunity
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if link, err = lockLink(tx, entityID, linkID); err != nil {
			return err
		}
		link.IsPinned = !link.IsPinned
		if link.IsPinned {
			now := tx.NowFunc()
			link.PinnedBy, link.PinnedAt = &userID, &now
		} else {
			link.PinnedBy, link.PinnedAt = nil, nil
		}
		return tx.Model(&model.FeedCommunity{}).Where("id = ?", link.ID).Updates(map[string]any{
			"is_pinned": link.IsPinned,
			"pinned_by": link.PinnedBy,
			"pinned_at": link.PinnedAt,
		}).Error
	})
	return link, wrapTx(err, "toggle pin")
}

// Delete 硬删除关联；帖子不再被任何社区引用时连同附件与互动一起删除
func (r *FeedRepository) Delete(ctx context.Context, entityID, linkID uint64, authorize func(tx *gorm.DB, link *model.FeedCommunity) error) (*model.FeedCommunity, error) {
	var link *model.FeedCommunity
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if link, err = lockLink(tx, entityID, linkID); err != nil {
			return err
		}
		if err := authorize(tx, link); err != nil {
			return err
		}
		if err := tx.Delete(&model.FeedCommunity{}, link.ID).Error; err != nil {
			return err
		}
		if err := tx.Where("feed_community_id = ?", link.ID).Delete(&model.FeedReport{}).Error; err != nil {
			return err
		}
		if link.Counted() {
			if err := r.Counter.AdjustPostCount(tx, link.CommunityID, -1); err != nil {
				return err
			}
		}
		return deleteOrphanFeed(tx, link.FeedID)
	})
	return link, wrapTx(err, "delete community feed")
}

func deleteOrphanFeed(tx *gorm.DB, feedID uint64) error {
	var refs int64
	if err := tx.Model(&model.FeedCommunity{}).Where("feed_id = ?", feedID).Count(&refs).Error; err != nil {
		return err
	}
	if refs > 0 {
		return nil
	}
	for _, child := range []any{
		&model.FeedInteraction{}, &model.FeedReport{},
		&model.FeedJob{}, &model.FeedOffer{}, &model.FeedPoll{}, &model.FeedEvent{},
	} {
		if err := tx.Where("feed_id = ?", feedID).Delete(child).Error; err != nil {
			return err
		}
	}
	return tx.Delete(&model.Feed{}, feedID).Error
}

// Archive 批量软删除，任一条不存在或无权限则整体回滚
func (r *FeedRepository) Archive(ctx context.Context, entityID uint64, linkIDs []uint64, userID uint64, reason string, authorize func(tx *gorm.DB, link *model.FeedCommunity) error) ([]model.FeedCommunity, error) {
	var links []model.FeedCommunity
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ? AND entity_id = ? AND archived_at IS NULL", linkIDs, entityID).
			Order("id ASC").
			Find(&links).Error; err != nil {
			return err
		}
		if len(links) != len(linkIDs) {
			return pkg.NotFound("one or more feeds not found")
		}
		now := tx.NowFunc()
		for i := range links {
			link := &links[i]
			if err := authorize(tx, link); err != nil {
				return err
			}
			wasCounted := link.Counted()
			if err := tx.Model(&model.FeedCommunity{}).Where("id = ?", link.ID).Updates(map[string]any{
				"archived_at":     now,
				"archived_by":     userID,
				"archived_reason": reason,
			}).Error; err != nil {
				return err
			}
			link.ArchivedAt, link.ArchivedBy, link.ArchivedReason = &now, &userID, reason
			if wasCounted {
				if err := r.Counter.AdjustPostCount(tx, link.CommunityID, -1); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapTx(err, "archive community feeds")
	}
	return links, nil
}

// Report 每人对同一社区关联只能举报一次；已通过的帖子累计达到阈值自动转为 FLAGGED
func (r *FeedRepository) Report(ctx context.Context, entityID, linkID, reporterID uint64, reason string, threshold int64) (*model.FeedCommunity, bool, error) {
	var (
		link    *model.FeedCommunity
		flagged bool
	)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if link, err = lockLink(tx, entityID, linkID); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&model.FeedReport{}).
			Where("feed_community_id = ? AND reporter_id = ?", link.ID, reporterID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return pkg.Conflict("feed already reported")
		}
		if err := tx.Create(&model.FeedReport{FeedCommunityID: link.ID, FeedID: link.FeedID, ReporterID: reporterID, Reason: reason}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.FeedCommunity{}).Where("id = ?", link.ID).
			UpdateColumn("report_count", gorm.Expr("report_count + 1")).Error; err != nil {
			return err
		}
		link.ReportCount++
		if link.Status != model.FeedApproved || link.ReportCount < threshold {
			return nil
		}
		flagged = true
		return r.applyStatus(tx, link, model.FeedFlagged, 0, "auto-flagged after reports")
	})
	return link, flagged, wrapTx(err, "report feed")
}

// List 按可见性条件与排序取 limit+1 条
func (r *FeedRepository) List(ctx context.Context, set visibility.Set, mode visibility.SortMode, limit int) ([]model.FeedCommunity, error) {
	if set.Empty() {
		return nil, nil
	}
	sql, vars := set.Where()
	var list []model.FeedCommunity
	err := preloadFeed(r.DB.WithContext(ctx)).
		Where(sql, vars...).
		Order(visibility.OrderSQL(mode)).
		Limit(limit + 1).
		Find(&list).Error
	return list, errors.Wrap(err, "list community feeds")
}

// Count 不带游标的总数
func (r *FeedRepository) Count(ctx context.Context, set visibility.Set) (int64, error) {
	if set.Empty() {
		return 0, nil
	}
	sql, vars := set.CountWhere()
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.FeedCommunity{}).Where(sql, vars...).Count(&n).Error
	return n, errors.Wrap(err, "count community feeds")
}

// AddInteraction 记录点赞、评论或分享
func (r *FeedRepository) AddInteraction(ctx context.Context, in *model.FeedInteraction) error {
	return errors.Wrap(r.DB.WithContext(ctx).Create(in).Error, "add interaction")
}

// InteractionCounts 每个帖子按类型统计互动数
func (r *FeedRepository) InteractionCounts(ctx context.Context, feedIDs []uint64) (map[uint64]map[model.InteractionType]int64, error) {
	out := make(map[uint64]map[model.InteractionType]int64)
	if len(feedIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		FeedID uint64
		Type   model.InteractionType
		N      int64
	}
	if err := r.DB.WithContext(ctx).Model(&model.FeedInteraction{}).
		Select("feed_id, type, COUNT(*) AS n").
		Where("feed_id IN ?", feedIDs).
		Group("feed_id, type").
		Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "count interactions")
	}
	for _, row := range rows {
		if out[row.FeedID] == nil {
			out[row.FeedID] = make(map[model.InteractionType]int64)
		}
		out[row.FeedID][row.Type] = row.N
	}
	return out, nil
}

func preloadFeed(db *gorm.DB) *gorm.DB {
	return db.Preload("Feed").
		Preload("Feed.Job").
		Preload("Feed.Offer").
		Preload("Feed.Poll").
		Preload("Feed.Event")
}

func lockLink(tx *gorm.DB, entityID, linkID uint64) (*model.FeedCommunity, error) {
	var rows []model.FeedCommunity
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND entity_id = ? AND archived_at IS NULL", linkID, entityID).
		Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "lock community feed")
	}
	if len(rows) == 0 {
		return nil, pkg.NotFound("feed %d not found", linkID)
	}
	return &rows[0], nil
}
