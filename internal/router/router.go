package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lkzdsb-lab/community-feed/internal/config"
	"github.com/lkzdsb-lab/community-feed/internal/handler"
	"github.com/lkzdsb-lab/community-feed/internal/middleware"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
)

type Handlers struct {
	Community *handler.CommunityHandler
	Feed      *handler.FeedHandler
}

func InitRouter(cfg config.Config, codec *pkg.TokenCodec, h Handlers, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.RequestLogger(log))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.EntityHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))
	r.Use(middleware.RateLimitMiddleware(middleware.NewIPRateLimiter(cfg.RateLimitPerMinute)))

	r.GET("/healthz", func(c *gin.Context) { pkg.Success(c, nil) })

	community := h.Community
	feed := h.Feed
	api := r.Group("/api")

	// 匿名可读接口
	public := api.Group("")
	public.Use(middleware.OptionalAuth(codec))
	{
		public.GET("/communities", community.List())
		public.GET("/communities/featured", community.Featured())
		public.GET("/communities/trending", community.Trending())
		public.GET("/communities/:id", community.Get)
		public.GET("/communities/:id/members", community.ListMembers)
		public.GET("/communities/:id/feeds", feed.ListByCommunity)
		public.POST("/communities/:id/view", community.View)
		public.GET("/feeds/:id", feed.Get)
	}

	// 社区相关接口
	communityGroup := api.Group("/communities")
	communityGroup.Use(middleware.AuthMiddleware(codec))
	{
		communityGroup.POST("", community.Create)
		communityGroup.GET("/mine/owned", community.Owned())
		communityGroup.GET("/mine/saved", community.Saved())
		communityGroup.GET("/mine/joined", community.Joined())

		communityGroup.POST("/:id/join", community.Join)
		communityGroup.DELETE("/:id/join", community.WithdrawJoin)
		communityGroup.POST("/:id/leave", community.Leave)
		communityGroup.GET("/:id/requests", community.ListJoinRequests)
		communityGroup.POST("/:id/requests/:user_id", community.RespondJoin)
		communityGroup.DELETE("/:id/members/:user_id", community.RemoveMember)
		communityGroup.PUT("/:id/members/:user_id/role", community.SetRole)

		communityGroup.POST("/:id/save", community.Save())
		communityGroup.DELETE("/:id/save", community.Unsave())
		communityGroup.POST("/:id/like", community.Like())
		communityGroup.DELETE("/:id/like", community.Unlike())
		communityGroup.POST("/:id/report", community.Report)

		communityGroup.POST("/:id/feeds", feed.Create)
	}

	// 帖子相关接口
	feedGroup := api.Group("/feeds")
	feedGroup.Use(middleware.AuthMiddleware(codec))
	{
		feedGroup.GET("/joined", feed.ListJoined)
		feedGroup.POST("/archive", feed.Archive)
		feedGroup.DELETE("/:id", feed.Delete)
		feedGroup.POST("/:id/approve", feed.Approve())
		feedGroup.POST("/:id/reject", feed.Reject())
		feedGroup.POST("/:id/flag", feed.Flag())
		feedGroup.POST("/:id/pin", feed.TogglePin)
		feedGroup.POST("/:id/report", feed.Report)
		feedGroup.POST("/:id/interactions", feed.Interact)
	}

	// 租户管理接口
	adminGroup := api.Group("/admin")
	adminGroup.Use(middleware.AuthMiddleware(codec), middleware.RequireTenantAdmin())
	{
		adminGroup.PUT("/communities/:id/featured", community.SetFeatured)
		adminGroup.GET("/trending/config", community.GetTrendingConfig)
		adminGroup.PUT("/trending/config", community.UpdateTrendingConfig)
	}

	return r
}
