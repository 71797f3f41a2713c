package mysql

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lkzdsb-lab/community-feed/internal/model"
)

type CommunityLikeRepository struct {
	DB      *gorm.DB
	Counter Counter
}

// Like 点赞（幂等），唯一键 (community_id, user_id) 保证只计数一次
func (r *CommunityLikeRepository) Like(ctx context.Context, communityID, userID uint64) (bool, error) {
	var changed bool
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockCommunity(tx, communityID); err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.CommunityLike{CommunityID: communityID, UserID: userID})
		if res.Error != nil {
			return res.Error
		}
		// 已存在，幂等
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true
		return r.Counter.AdjustLikeCount(tx, communityID, +1)
	})
	return changed, wrapTx(err, "like community")
}

func (r *CommunityLikeRepository) Unlike(ctx context.Context, communityID, userID uint64) (bool, error) {
	var changed bool
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("community_id = ? AND user_id = ?", communityID, userID).
			Delete(&model.CommunityLike{})
		if res.Error != nil {
			return res.Error
		}
		// 未删除任何行 -> 幂等
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true
		return r.Counter.AdjustLikeCount(tx, communityID, -1)
	})
	return changed, wrapTx(err, "unlike community")
}

func (r *CommunityLikeRepository) IsLiked(ctx context.Context, communityID, userID uint64) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.CommunityLike{}).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Count(&n).Error
	return n > 0, errors.Wrap(err, "check like")
}
