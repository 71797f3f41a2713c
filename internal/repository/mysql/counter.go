package mysql

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/lkzdsb-lab/community-feed/internal/model"
)

// Counter 社区计数器，只能在调用方事务内使用，由数据库计算增量避免丢失更新
type Counter struct{}

func (Counter) AdjustPostCount(tx *gorm.DB, communityID uint64, delta int64) error {
	return adjust(tx, communityID, "post_count", delta)
}

func (Counter) AdjustMemberCount(tx *gorm.DB, communityID uint64, delta int64) error {
	return adjust(tx, communityID, "member_count", delta)
}

func (Counter) AdjustLikeCount(tx *gorm.DB, communityID uint64, delta int64) error {
	return adjust(tx, communityID, "like_count", delta)
}

func (Counter) AdjustReportCount(tx *gorm.DB, communityID uint64, delta int64) error {
	return adjust(tx, communityID, "report_count", delta)
}

func (Counter) IncrViewCount(tx *gorm.DB, communityID uint64) error {
	return adjust(tx, communityID, "view_count", 1)
}

// adjust 不允许减到负数
func adjust(tx *gorm.DB, communityID uint64, column string, delta int64) error {
	if delta == 0 {
		return nil
	}
	expr := gorm.Expr(fmt.Sprintf("CASE WHEN %[1]s + ? < 0 THEN 0 ELSE %[1]s + ? END", column), delta, delta)
	err := tx.Model(&model.Community{}).
		Where("id = ?", communityID).
		UpdateColumn(column, expr).Error
	return errors.Wrapf(err, "adjust %s", column)
}

// CounterPair 对账批次中的一行
type CounterPair struct {
	ID          uint64
	PostCount   int64
	MemberCount int64
}

type CounterReconcilerRepo struct {
	DB *gorm.DB
}

// ReconcileList 按 id 递增批量读取社区计数
func (r *CounterReconcilerRepo) ReconcileList(ctx context.Context, batchSize int, lastID uint64) ([]CounterPair, uint64, error) {
	var list []CounterPair
	if err := r.DB.WithContext(ctx).Model(&model.Community{}).
		Select("id", "post_count", "member_count").
		Where("id > ?", lastID).
		Order("id ASC").
		Limit(batchSize).
		Find(&list).Error; err != nil {
		return nil, lastID, err
	}
	if len(list) == 0 {
		return nil, lastID, nil
	}
	return list, list[len(list)-1].ID, nil
}

// realPosts 已审核且未归档的帖子数
func (r *CounterReconcilerRepo) realPosts(db *gorm.DB, communityID uint64) *gorm.DB {
	return db.Model(&model.FeedCommunity{}).
		Where("community_id = ? AND is_approved = ? AND archived_at IS NULL", communityID, true)
}

// realMembers 已接受的成员数
func (r *CounterReconcilerRepo) realMembers(db *gorm.DB, communityID uint64) *gorm.DB {
	return db.Model(&model.CommunityMember{}).
		Where("community_id = ? AND status = ?", communityID, model.MemberAccepted)
}

func (r *CounterReconcilerRepo) RealPostCount(ctx context.Context, communityID uint64) (int64, error) {
	var n int64
	err := r.realPosts(r.DB.WithContext(ctx), communityID).Count(&n).Error
	return n, err
}

func (r *CounterReconcilerRepo) RealMemberCount(ctx context.Context, communityID uint64) (int64, error) {
	var n int64
	err := r.realMembers(r.DB.WithContext(ctx), communityID).Count(&n).Error
	return n, err
}

// FixPostCount 计数在同一条 UPDATE 内由子查询重新统计，不写回应用层读到的值
func (r *CounterReconcilerRepo) FixPostCount(ctx context.Context, communityID uint64) error {
	db := r.DB.WithContext(ctx)
	return db.Model(&model.Community{}).Where("id = ?", communityID).
		UpdateColumn("post_count", r.realPosts(db.Session(&gorm.Session{NewDB: true}), communityID).Select("COUNT(*)")).Error
}

func (r *CounterReconcilerRepo) FixMemberCount(ctx context.Context, communityID uint64) error {
	db := r.DB.WithContext(ctx)
	return db.Model(&model.Community{}).Where("id = ?", communityID).
		UpdateColumn("member_count", r.realMembers(db.Session(&gorm.Session{NewDB: true}), communityID).Select("COUNT(*)")).Error
}
