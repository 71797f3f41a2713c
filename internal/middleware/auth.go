package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lkzdsb-lab/community-feed/internal/pkg"
)

const (
	ContextUserIDKey      = "user_id"
	ContextEntityIDKey    = "entity_id"
	ContextTenantAdminKey = "tenant_admin"
)

// AuthMiddleware 必须携带有效 token
func AuthMiddleware(codec *pkg.TokenCodec) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			pkg.Unauthorized(c, "missing authorization header")
			return
		}
		claims, ok := parseBearer(codec, authHeader)
		if !ok {
			pkg.Unauthorized(c, "invalid or expired token")
			return
		}
		inject(c, claims)
		c.Next()
	}
}

// EntityHeader 匿名请求通过该头指定租户
const EntityHeader = "X-Entity-ID"

// OptionalAuth 匿名请求放行；携带 token 时必须有效
func OptionalAuth(codec *pkg.TokenCodec) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			entityID, err := strconv.ParseUint(c.GetHeader(EntityHeader), 10, 64)
			if err != nil || entityID == 0 {
				pkg.BadRequest(c, "missing "+EntityHeader+" header")
				return
			}
			c.Set(ContextEntityIDKey, entityID)
			c.Next()
			return
		}
		claims, ok := parseBearer(codec, authHeader)
		if !ok {
			pkg.Unauthorized(c, "invalid or expired token")
			return
		}
		inject(c, claims)
		c.Next()
	}
}

func parseBearer(codec *pkg.TokenCodec, header string) (*pkg.Claims, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, false
	}
	claims, err := codec.Parse(parts[1])
	if err != nil {
		return nil, false
	}
	return claims, true
}

// inject 注入 user_id 与 entity_id
func inject(c *gin.Context, claims *pkg.Claims) {
	c.Set(ContextUserIDKey, claims.UserID)
	c.Set(ContextEntityIDKey, claims.EntityID)
	c.Set(ContextTenantAdminKey, claims.TenantAdmin)
}

// RequireTenantAdmin 放在 AuthMiddleware 之后
func RequireTenantAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextTenantAdminKey) {
			pkg.Fail(c, pkg.Forbidden("tenant admin required"))
			return
		}
		c.Next()
	}
}
