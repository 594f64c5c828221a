package middleware

import (
	"net/http"
	"strings"

	"gianconstruction/internal/api/auth"
	"gianconstruction/internal/config"

	"github.com/gin-gonic/gin"
)

// RouteClass 页面路由分类。
type RouteClass int

const (
	Unclassified RouteClass = iota
	Protected
	AuthOnly
)

// Classify 按前缀判断路径类别。AuthOnly 优先于 Protected。
func Classify(routes config.RoutesConfig, path string) RouteClass {
	for _, p := range routes.AuthOnly {
		if matchPrefix(path, p) {
			return AuthOnly
		}
	}
	for _, p := range routes.Protected {
		if matchPrefix(path, p) {
			return Protected
		}
	}
	return Unclassified
}

// SessionGuard 页面守卫。
//
//   - AuthOnly 页面且会话有效: 跳转到 Landing
//   - Protected 页面且会话无效: 跳转到 Login
//   - 其余放行
//
// 会话有效时声明写入上下文，供 RoleGuard 使用。
func SessionGuard(tokens *auth.TokenService, accounts AccountLookup, routes config.RoutesConfig, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		class := Classify(routes, c.Request.URL.Path)
		if class == Unclassified {
			c.Next()
			return
		}

		claims, valid := sessionClaims(c, tokens, accounts, cookieName)
		switch {
		case class == AuthOnly && valid:
			c.Redirect(http.StatusFound, routes.Landing)
			c.Abort()
			return
		case class == Protected && !valid:
			c.Redirect(http.StatusFound, routes.Login)
			c.Abort()
			return
		}
		if valid {
			auth.SetClaims(c, claims)
		}
		c.Next()
	}
}

// RoleGuard 角色分流: 非管理员访问后台跳回 Landing，管理员访问普通首页跳到 AdminHome。
func RoleGuard(routes config.RoutesConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.ClaimsFromContext(c)
		if !ok {
			c.Next()
			return
		}
		path := c.Request.URL.Path
		switch {
		case !claims.IsAdmin() && matchPrefix(path, routes.AdminPrefix):
			c.Redirect(http.StatusFound, routes.Landing)
			c.Abort()
			return
		case claims.IsAdmin() && matchPrefix(path, routes.Landing):
			c.Redirect(http.StatusFound, routes.AdminHome)
			c.Abort()
			return
		}
		c.Next()
	}
}

func sessionClaims(c *gin.Context, tokens *auth.TokenService, accounts AccountLookup, cookieName string) (*auth.Claims, bool) {
	tokenStr, ok := extractToken(c, cookieName)
	if !ok {
		return nil, false
	}
	claims, err := tokens.Verify(tokenStr)
	if err != nil {
		return nil, false
	}
	if accounts != nil && !refreshClaims(c.Request.Context(), accounts, claims) {
		return nil, false
	}
	return claims, true
}

func matchPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return path == "/"
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
