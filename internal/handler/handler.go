package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lkzdsb-lab/community-feed/internal/middleware"
	"github.com/lkzdsb-lab/community-feed/internal/service"
)

// actorOf 从中间件注入的上下文读取调用者；未登录时 UserID 为 0
func actorOf(c *gin.Context) service.Actor {
	return service.Actor{
		UserID:   c.GetUint64(middleware.ContextUserIDKey),
		EntityID: c.GetUint64(middleware.ContextEntityIDKey),
	}
}

func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context) int {
	n, _ := strconv.Atoi(c.Query("limit"))
	return n
}

func queryUint(c *gin.Context, name string) (uint64, bool) {
	v := c.Query(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	return n, err == nil
}
