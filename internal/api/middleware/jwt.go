package middleware

import (
	"context"
	"net/http"
	"strings"

	"gianconstruction/internal/api/auth"
	"gianconstruction/internal/model"

	"github.com/gin-gonic/gin"
)

// AccountLookup 按账户编号读取最新状态。
type AccountLookup interface {
	FindByAccountID(ctx context.Context, accountID string) (*model.Account, error)
}

// AuthMiddleware 校验会话令牌 (Authorization: Bearer 或会话 Cookie)，
// 并确认账户仍处于激活状态，最后把声明写入上下文。
func AuthMiddleware(tokens *auth.TokenService, accounts AccountLookup, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := extractToken(c, cookieName)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if accounts != nil {
			if !refreshClaims(c.Request.Context(), accounts, claims) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account is not active"})
				return
			}
		}
		auth.SetClaims(c, claims)
		c.Next()
	}
}

// RequireRole 仅允许指定角色访问，需挂在 AuthMiddleware 之后。
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.ClaimsFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		if claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// extractToken 优先读取 Bearer 头，其次读取 Cookie。
func extractToken(c *gin.Context, cookieName string) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) != "" {
			return strings.TrimSpace(parts[1]), true
		}
	}
	if cookieName == "" {
		return "", false
	}
	v, err := c.Cookie(cookieName)
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

// refreshClaims 停用、删除或仍待验证的账户视为未登录；角色以存储为准。
func refreshClaims(ctx context.Context, accounts AccountLookup, claims *auth.Claims) bool {
	acc, err := accounts.FindByAccountID(ctx, claims.AccountID())
	if err != nil || acc == nil {
		return false
	}
	if !acc.IsActive || acc.PendingRegistration {
		return false
	}
	claims.Role = acc.Role
	claims.IsActive = acc.IsActive
	return true
}
