package service

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lkzdsb-lab/community-feed/internal/config"
	"github.com/lkzdsb-lab/community-feed/internal/model"
	"github.com/lkzdsb-lab/community-feed/internal/notify"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/repository/mysql"
)

// Actor is the authenticated caller. UserID 0 means anonymous.
type Actor struct {
	UserID   uint64
	EntityID uint64
}

func (a Actor) Anonymous() bool { return a.UserID == 0 }

// Deps 各服务共享的依赖
type Deps struct {
	DB       *gorm.DB
	Redis    *goredis.Client
	Notifier notify.Dispatcher
	Logger   *zap.Logger
	Feed     config.FeedConfig
	Now      func() time.Time
}

type base struct {
	log      *zap.Logger
	notifier notify.Dispatcher
	cfg      config.FeedConfig
	now      func() time.Time
	activity *mysql.CommunityRepository
}

func newBase(d Deps) base {
	b := base{
		log:      d.Logger,
		notifier: d.Notifier,
		cfg:      d.Feed,
		now:      d.Now,
		activity: &mysql.CommunityRepository{DB: d.DB},
	}
	if b.log == nil {
		b.log = pkg.Logger
	}
	if b.notifier == nil {
		b.notifier = notify.NewLogDispatcher(b.log)
	}
	if b.now == nil {
		b.now = func() time.Time { return time.Now().UTC() }
	}
	if b.cfg == (config.FeedConfig{}) {
		b.cfg = config.Default().Feed
	}
	return b
}

// notifySafe 通知失败只记日志，不影响主流程
func (b base) notifySafe(ctx context.Context, n notify.Notification) {
	if n.UserID == 0 {
		return
	}
	if err := b.notifier.Notify(ctx, n); err != nil {
		b.log.Warn("notification dispatch failed",
			zap.String("type", string(n.Type)),
			zap.Uint64("user_id", n.UserID),
			zap.Uint64("community_id", n.CommunityID),
			zap.Error(err))
	}
}

func (b base) notifyAll(ctx context.Context, userIDs []uint64, skip uint64, n notify.Notification) {
	for _, id := range userIDs {
		if id == skip {
			continue
		}
		n.UserID = id
		b.notifySafe(ctx, n)
	}
}

// record 审计日志写入失败同样只记日志
func (b base) record(ctx context.Context, communityID, actorID uint64, action string, targetID uint64, detail string) {
	err := b.activity.LogActivity(ctx, &model.CommunityActivity{
		CommunityID: communityID,
		ActorID:     actorID,
		Action:      action,
		TargetID:    targetID,
		Detail:      detail,
	})
	if err != nil {
		b.log.Warn("activity log failed",
			zap.Uint64("community_id", communityID),
			zap.String("action", action),
			zap.Error(err))
	}
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}
