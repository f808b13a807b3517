package middleware

import (
	"context"
	"net/http"
	"strings"

	"medsupply/internal/apperr"
	"medsupply/internal/model"

	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID = "X-User-ID"
	principalKey = "principal"
)

// UserResolver 根据请求头中的用户 ID 查账号。
type UserResolver interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Auth 解析 X-User-ID 并把账号放进 gin.Context。
// 缺失或未知 → 401；被封禁 → 403。
func Auth(users UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if id == "" {
			abort(c, http.StatusUnauthorized, "missing "+HeaderUserID)
			return
		}
		u, err := users.FindByID(c.Request.Context(), id)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				abort(c, http.StatusUnauthorized, "unknown user")
				return
			}
			abort(c, http.StatusServiceUnavailable, "user lookup failed")
			return
		}
		if u.Status == model.UserBlocked {
			abort(c, http.StatusForbidden, "account is blocked")
			return
		}
		SetPrincipal(c, *u)
		c.Next()
	}
}

// RequireAdmin 必须挂在 Auth 之后。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := Principal(c)
		if !ok || !u.IsAdmin() {
			abort(c, http.StatusForbidden, "admin only")
			return
		}
		c.Next()
	}
}

// RequireHospital 下单等医院侧接口。
func RequireHospital() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := Principal(c)
		if !ok || u.Role != model.RoleHospital {
			abort(c, http.StatusForbidden, "hospital only")
			return
		}
		c.Next()
	}
}

func SetPrincipal(c *gin.Context, u model.User) { c.Set(principalKey, u) }

// Principal 取当前登录账号。
func Principal(c *gin.Context) (model.User, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return model.User{}, false
	}
	u, ok := v.(model.User)
	return u, ok
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "msg": msg})
}
