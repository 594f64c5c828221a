package api

import (
	"fmt"
	"html"
	"net/http"

	"gianconstruction/internal/api/auth"

	"github.com/gin-gonic/gin"
)

// 页面布局与样式不在本服务范围内，这里只返回最小的 HTML 外壳，守卫逻辑由中间件完成。
var pagePaths = []struct {
	path  string
	title string
}{
	{"/login", "Sign in"},
	{"/signup", "Create an account"},
	{"/dashboard", "Dashboard"},
	{"/account", "My account"},
	{"/admin/dashboard", "Admin dashboard"},
	{"/admin/inventory", "Inventory"},
	{"/admin/users", "Users"},
}

const pageShell = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8" /><title>%s | GianConstruction</title></head>
<body data-user="%s"><main id="app"></main></body>
</html>`

func (s *Server) pageHandler(title string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := ""
		if claims, ok := auth.ClaimsFromContext(c); ok {
			user = claims.AccountID()
		}
		body := fmt.Sprintf(pageShell, html.EscapeString(title), html.EscapeString(user))
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(body))
	}
}
