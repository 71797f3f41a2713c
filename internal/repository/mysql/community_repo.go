package mysql

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lkzdsb-lab/community-feed/internal/model"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/visibility"
)

type CommunityRepository struct {
	DB      *gorm.DB
	Counter Counter
}

// CommunityFilter 社区列表条件；零值字段不参与过滤
type CommunityFilter struct {
	EntityID uint64
	// Listed 只返回已审核且未被标记的社区
	Listed    bool
	Featured  bool
	CreatorID uint64
	SavedBy   uint64
	JoinedBy  uint64
	// After 上一页最后一行的 (created_at, id)
	After *visibility.Cursor
	Limit int
}

// Create 创建社区，创建者成为 ADMIN 成员
func (r *CommunityRepository) Create(ctx context.Context, c *model.Community) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c.MemberCount = 0
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		if err := tx.Create(&model.CommunityMember{
			CommunityID: c.ID,
			UserID:      c.CreatorID,
			Role:        model.RoleAdmin,
			Status:      model.MemberAccepted,
		}).Error; err != nil {
			return err
		}
		if err := r.Counter.AdjustMemberCount(tx, c.ID, +1); err != nil {
			return err
		}
		c.MemberCount = 1
		return nil
	})
	return wrapTx(err, "create community")
}

// FindByID 其他租户的社区视为不存在
func (r *CommunityRepository) FindByID(ctx context.Context, entityID, id uint64) (*model.Community, error) {
	var c model.Community
	err := r.DB.WithContext(ctx).Where("entity_id = ?", entityID).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkg.NotFound("community %d not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find community")
	}
	return &c, nil
}

// FindByIDs 按 id 批量读取，结果顺序不保证
func (r *CommunityRepository) FindByIDs(ctx context.Context, entityID uint64, ids []uint64) ([]model.Community, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var list []model.Community
	err := r.DB.WithContext(ctx).Where("entity_id = ? AND id IN ?", entityID, ids).Find(&list).Error
	return list, errors.Wrap(err, "find communities")
}

// List 按 (created_at, id) 游标分页，多取一条判断是否还有下一页
func (r *CommunityRepository) List(ctx context.Context, f CommunityFilter) ([]model.Community, error) {
	q := r.DB.WithContext(ctx).Where("entity_id = ?", f.EntityID)
	if f.Listed {
		q = q.Where("is_approved = ? AND is_flagged = ?", true, false)
	}
	if f.Featured {
		q = q.Where("is_featured = ?", true)
	}
	if f.CreatorID > 0 {
		q = q.Where("creator_id = ?", f.CreatorID)
	}
	if f.SavedBy > 0 {
		q = q.Where("id IN (?)", r.DB.Model(&model.SavedCommunity{}).Select("community_id").Where("user_id = ?", f.SavedBy))
	}
	if f.JoinedBy > 0 {
		q = q.Where("id IN (?)", r.DB.Model(&model.CommunityMember{}).Select("community_id").
			Where("user_id = ? AND status = ?", f.JoinedBy, model.MemberAccepted))
	}
	if f.After != nil {
		at := f.After.CreatedAt
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, f.After.ID)
	}
	var list []model.Community
	err := q.Order("created_at DESC, id DESC").Limit(f.Limit + 1).Find(&list).Error
	return list, errors.Wrap(err, "list communities")
}

// Candidates 参与热度排名的社区：已审核且未被标记
func (r *CommunityRepository) Candidates(ctx context.Context, entityID uint64) ([]model.Community, error) {
	var list []model.Community
	err := r.DB.WithContext(ctx).
		Select("id", "member_count", "like_count", "post_count", "view_count").
		Where("entity_id = ? AND is_approved = ? AND is_flagged = ?", entityID, true, false).
		Find(&list).Error
	return list, errors.Wrap(err, "load trending candidates")
}

// Report 每人只能举报一次；累计达到阈值时自动标记
func (r *CommunityRepository) Report(ctx context.Context, communityID, reporterID uint64, reason string, threshold int64) (flagged bool, err error) {
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockCommunity(tx, communityID)
		if err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&model.CommunityReport{}).
			Where("community_id = ? AND reporter_id = ?", communityID, reporterID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return pkg.Conflict("community already reported")
		}
		if err := tx.Create(&model.CommunityReport{CommunityID: communityID, ReporterID: reporterID, Reason: reason}).Error; err != nil {
			return err
		}
		if err := r.Counter.AdjustReportCount(tx, communityID, +1); err != nil {
			return err
		}
		if c.IsFlagged || c.ReportCount+1 < threshold {
			return nil
		}
		flagged = true
		return tx.Model(&model.Community{}).Where("id = ?", communityID).Update("is_flagged", true).Error
	})
	return flagged, wrapTx(err, "report community")
}

// Save 收藏（幂等）
func (r *CommunityRepository) Save(ctx context.Context, communityID, userID uint64) (bool, error) {
	res := r.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.SavedCommunity{CommunityID: communityID, UserID: userID})
	return res.RowsAffected > 0, errors.Wrap(res.Error, "save community")
}

// Unsave 取消收藏（幂等）
func (r *CommunityRepository) Unsave(ctx context.Context, communityID, userID uint64) (bool, error) {
	res := r.DB.WithContext(ctx).Where("community_id = ? AND user_id = ?", communityID, userID).
		Delete(&model.SavedCommunity{})
	return res.RowsAffected > 0, errors.Wrap(res.Error, "unsave community")
}

// TrackView 距上次计数超过 window 才增加浏览量；以数据库记录为准
func (r *CommunityRepository) TrackView(ctx context.Context, communityID, userID uint64, now time.Time, window time.Duration) (bool, error) {
	var counted bool
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.CommunityView
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("community_id = ? AND user_id = ?", communityID, userID).
			Limit(1).Find(&rows).Error; err != nil {
			return err
		}
		switch {
		case len(rows) == 0:
			if err := tx.Create(&model.CommunityView{CommunityID: communityID, UserID: userID, LastViewedAt: now}).Error; err != nil {
				return err
			}
		case now.Sub(rows[0].LastViewedAt) >= window:
			if err := tx.Model(&model.CommunityView{}).Where("id = ?", rows[0].ID).
				Update("last_viewed_at", now).Error; err != nil {
				return err
			}
		default:
			return nil
		}
		counted = true
		return r.Counter.IncrViewCount(tx, communityID)
	})
	return counted, wrapTx(err, "track view")
}

// SetFeatured 运营设置精选
func (r *CommunityRepository) SetFeatured(ctx context.Context, communityID uint64, featured bool) error {
	res := r.DB.WithContext(ctx).Model(&model.Community{}).Where("id = ?", communityID).
		Update("is_featured", featured)
	if res.Error != nil {
		return errors.Wrap(res.Error, "set featured")
	}
	if res.RowsAffected == 0 {
		return pkg.NotFound("community %d not found", communityID)
	}
	return nil
}

// SavedSet 用户在 ids 中收藏了哪些社区
func (r *CommunityRepository) SavedSet(ctx context.Context, userID uint64, ids []uint64) (map[uint64]bool, error) {
	out := make(map[uint64]bool)
	if userID == 0 || len(ids) == 0 {
		return out, nil
	}
	var saved []uint64
	if err := r.DB.WithContext(ctx).Model(&model.SavedCommunity{}).
		Where("user_id = ? AND community_id IN ?", userID, ids).
		Pluck("community_id", &saved).Error; err != nil {
		return nil, errors.Wrap(err, "load saved communities")
	}
	for _, id := range saved {
		out[id] = true
	}
	return out, nil
}

// LogActivity 审计记录
func (r *CommunityRepository) LogActivity(ctx context.Context, a *model.CommunityActivity) error {
	return errors.Wrap(r.DB.WithContext(ctx).Create(a).Error, "log activity")
}

// GetTrendingConfig 未配置时返回 nil, nil
func (r *CommunityRepository) GetTrendingConfig(ctx context.Context, entityID uint64) (*model.TrendingConfig, error) {
	var rows []model.TrendingConfig
	if err := r.DB.WithContext(ctx).Where("entity_id = ?", entityID).Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load trending config")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpsertTrendingConfig 布尔值用 map 写入，避免零值被忽略
func (r *CommunityRepository) UpsertTrendingConfig(ctx context.Context, tc *model.TrendingConfig) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.TrendingConfig
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("entity_id = ?", tc.EntityID).Limit(1).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return tx.Create(tc).Error
		}
		tc.ID = rows[0].ID
		tc.CreatedAt = rows[0].CreatedAt
		return tx.Model(&model.TrendingConfig{}).Where("id = ?", tc.ID).Updates(map[string]any{
			"use_member_count": tc.UseMemberCount,
			"use_like_count":   tc.UseLikeCount,
			"use_post_count":   tc.UsePostCount,
			"use_view_count":   tc.UseViewCount,
			"length":           tc.Length,
		}).Error
	})
	return wrapTx(err, "save trending config")
}
