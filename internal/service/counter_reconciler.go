package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lkzdsb-lab/community-feed/internal/repository/mysql"
	"github.com/lkzdsb-lab/community-feed/internal/repository/redis"
)

const reconcileLockName = "counter-reconcile"

// CounterReconciler 社区计数对账：定期按子表重算 post_count 与 member_count
type CounterReconciler struct {
	repo      *mysql.CounterReconcilerRepo
	lock      *redis.DistLock
	log       *zap.Logger
	batchSize int
	interval  time.Duration
}

func NewCounterReconciler(db *gorm.DB, rdb *goredis.Client, interval time.Duration, log *zap.Logger) *CounterReconciler {
	r := &CounterReconciler{
		repo:      &mysql.CounterReconcilerRepo{DB: db},
		log:       log,
		batchSize: 500,
		interval:  interval,
	}
	if rdb != nil {
		// 锁的有效期覆盖一轮对账
		r.lock = &redis.DistLock{RDB: rdb, TTL: interval}
	}
	if r.interval <= 0 {
		r.interval = 5 * time.Minute
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

// Run 对账定时任务启动器
func (r *CounterReconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.runLocked(ctx)
		}
	}
}

// runLocked 多实例时只有拿到锁的实例执行
func (r *CounterReconciler) runLocked(ctx context.Context) {
	if r.lock == nil {
		r.ReconcileOnce(ctx)
		return
	}
	token := uuid.NewString()
	ok, err := r.lock.Acquire(ctx, reconcileLockName, token)
	if err != nil {
		r.log.Warn("reconcile lock unavailable", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := r.lock.Release(context.WithoutCancel(ctx), reconcileLockName, token); err != nil {
			r.log.Warn("reconcile lock release failed", zap.Error(err))
		}
	}()
	r.ReconcileOnce(ctx)
}

// ReconcileOnce 分批扫描全部社区，返回修正的社区数
func (r *CounterReconciler) ReconcileOnce(ctx context.Context) int {
	var (
		lastID uint64
		fixed  int
	)
	for {
		list, next, err := r.repo.ReconcileList(ctx, r.batchSize, lastID)
		if err != nil {
			r.log.Warn("reconcile list failed", zap.Uint64("after_id", lastID), zap.Error(err))
			return fixed
		}
		if len(list) == 0 {
			return fixed
		}
		for _, c := range list {
			if r.reconcile(ctx, c) {
				fixed++
			}
		}
		lastID = next
	}
}

// reconcile 先比对子表真实值，有偏差时由数据库在一条语句里重算
func (r *CounterReconciler) reconcile(ctx context.Context, c mysql.CounterPair) bool {
	realPosts, err := r.repo.RealPostCount(ctx, c.ID)
	if err != nil {
		r.log.Warn("count posts failed", zap.Uint64("community_id", c.ID), zap.Error(err))
		return false
	}
	realMembers, err := r.repo.RealMemberCount(ctx, c.ID)
	if err != nil {
		r.log.Warn("count members failed", zap.Uint64("community_id", c.ID), zap.Error(err))
		return false
	}
	changed := false
	if realPosts != c.PostCount {
		if err := r.repo.FixPostCount(ctx, c.ID); err != nil {
			r.log.Warn("fix post count failed", zap.Uint64("community_id", c.ID), zap.Error(err))
		} else {
			changed = true
		}
	}
	if realMembers != c.MemberCount {
		if err := r.repo.FixMemberCount(ctx, c.ID); err != nil {
			r.log.Warn("fix member count failed", zap.Uint64("community_id", c.ID), zap.Error(err))
		} else {
			changed = true
		}
	}
	if changed {
		r.log.Info("community counters corrected",
			zap.Uint64("community_id", c.ID),
			zap.Int64("post_count", realPosts),
			zap.Int64("member_count", realMembers))
	}
	return changed
}
