package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const ViewKeyPrefix = "view:community" // 浏览去重窗口

// ViewGate 浏览量去重的快速闸门；命中窗口内的重复访问不再进入数据库
type ViewGate struct {
	RDB *redis.Client
}

func (g *ViewGate) viewKey(communityID, userID uint64) string {
	return fmt.Sprintf("%s:%d:%d", ViewKeyPrefix, communityID, userID)
}

// FirstInWindow 窗口内第一次访问返回 true
func (g *ViewGate) FirstInWindow(ctx context.Context, communityID, userID uint64, window time.Duration) (bool, error) {
	return g.RDB.SetNX(ctx, g.viewKey(communityID, userID), 1, window).Result()
}

// Forget 数据库写入失败时撤销闸门，让下一次访问重新计数
func (g *ViewGate) Forget(ctx context.Context, communityID, userID uint64) error {
	return g.RDB.Del(ctx, g.viewKey(communityID, userID)).Err()
}
