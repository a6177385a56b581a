package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/util"
	"exam_portal_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// bearerToken 浏览器的 websocket 无法设置请求头，升级请求允许用 ?token= 传递
func bearerToken(c *gin.Context) string {
	if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("token")
	}
	return ""
}

// AccountChecker 令牌有效期内账号可能被禁用或删除
type AccountChecker interface {
	IsActive(ctx context.Context, userID uint) (bool, error)
}

// AuthMiddleware 校验 JWT 并把 claims 放入上下文；accounts 为空时不检查账号状态
func AuthMiddleware(cfg *config.Config, accounts AccountChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			util.Abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret)
		if err != nil {
			logger.Log.Debug("JWT parse failed", zap.String("path", c.FullPath()), zap.Error(err))
			util.Abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if accounts != nil {
			active, err := accounts.IsActive(c.Request.Context(), claims.UserID)
			if err != nil {
				logger.Log.Error("Account lookup failed", zap.Uint("userId", claims.UserID), zap.Error(err))
				util.Abort(c, http.StatusInternalServerError, "Internal server error")
				return
			}
			if !active {
				util.Abort(c, http.StatusUnauthorized, "account disabled or removed")
				return
			}
		}

		c.Set(util.ContextUser, claims)
		c.Next()
	}
}

// RoleMiddleware 只放行列出的角色
func RoleMiddleware(roles ...model.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := util.GetUserFromContext(c)
		if user == nil {
			util.Abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !slices.Contains(roles, user.Role) {
			util.Abort(c, http.StatusForbidden, "insufficient role")
			return
		}
		c.Next()
	}
}
