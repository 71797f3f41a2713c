package pkg

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("token invalid")
	ErrTokenParseFailure = errors.New("token parse failure")
)

const AccessTTL = time.Minute * 30

// Claims carry the identity context every operation runs under. Tokens are issued by the
// authentication service; this service only verifies them.
type Claims struct {
	UserID   uint64 `json:"user_id"`
	EntityID uint64 `json:"entity_id"`
	// TenantAdmin 租户管理员，可维护精选社区与热度配置
	TenantAdmin bool `json:"tenant_admin,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies access tokens with a shared HMAC secret.
type TokenCodec struct {
	secret []byte
}

func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret)}
}

// Issue signs an access token. Used by tooling and tests.
func (c *TokenCodec) Issue(userID, entityID uint64, now time.Time) (string, error) {
	return c.sign(Claims{UserID: userID, EntityID: entityID}, now)
}

func (c *TokenCodec) IssueTenantAdmin(userID, entityID uint64, now time.Time) (string, error) {
	return c.sign(Claims{UserID: userID, EntityID: entityID, TenantAdmin: true}, now)
}

func (c *TokenCodec) sign(claims Claims, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:      claims.UserID,
		EntityID:    claims.EntityID,
		TenantAdmin: claims.TenantAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTTL)),
			Subject:   "access",
		},
	})
	return token.SignedString(c.secret)
}

// Parse verifies an access token and returns its claims.
func (c *TokenCodec) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, ErrTokenInvalid
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, err
		}
	}
	if !token.Valid {
		return nil, ErrTokenParseFailure
	}
	claims := token.Claims.(*Claims)
	if claims.UserID == 0 || claims.EntityID == 0 {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
