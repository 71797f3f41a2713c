package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lkzdsb-lab/community-feed/internal/pkg"
)

// RequestLogger 每个请求一行访问日志
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.Uint64("user_id", c.GetUint64(ContextUserIDKey)),
		}
		if len(c.Errors) > 0 {
			log.Error(c.Errors.String(), fields...)
			return
		}
		log.Info("request", fields...)
	}
}

// Recovery panic 转为 500，并记录堆栈
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("error", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, pkg.Response{Code: 50000, Message: "internal error"})
			}
		}()
		c.Next()
	}
}
