package pkg

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the uniform JSON envelope of every API reply.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

// Fail writes err with the HTTP status matching its kind.
func Fail(c *gin.Context, err error) {
	status, code := statusOf(KindOf(err))
	msg := err.Error()
	if status == http.StatusInternalServerError {
		Logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, Response{Code: code, Message: msg})
}

// BadRequest writes a validation failure detected by the transport layer.
func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Response{Code: 40000, Message: msg})
}

func statusOf(k Kind) (int, int) {
	switch k {
	case KindValidation:
		return http.StatusBadRequest, 40000
	case KindNotFound:
		return http.StatusNotFound, 40400
	case KindForbidden:
		return http.StatusForbidden, 40300
	case KindConflict:
		return http.StatusConflict, 40900
	default:
		return http.StatusInternalServerError, 50000
	}
}

func Unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Code: 40100, Message: msg})
}

func TooManyRequests(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{Code: 42901, Message: "rate limit exceeded"})
}
