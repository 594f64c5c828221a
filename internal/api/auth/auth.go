package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gianconstruction/internal/account"
	"gianconstruction/internal/model"
	"gianconstruction/internal/pkg/notify"
	"gianconstruction/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

const claimsKey = "auth.claims"

// CookieConfig 会话 Cookie 参数。
type CookieConfig struct {
	Name   string
	Secure bool // 生产环境开启
}

// Handler 提供注册、验证码确认与登录接口。
type Handler struct {
	svc    *Service
	cookie CookieConfig
	logger *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(svc *Service, cookie CookieConfig, logger *slog.Logger) *Handler {
	if cookie.Name == "" {
		cookie.Name = "gc_session"
	}
	return &Handler{svc: svc, cookie: cookie, logger: logger}
}

// CookieName 会话 Cookie 名，中间件读取令牌时使用。
func (h *Handler) CookieName() string {
	return h.cookie.Name
}

type registerRequest struct {
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required"`
	FirstName     string `json:"first_name" binding:"required"`
	LastName      string `json:"last_name" binding:"required"`
	ContactNumber string `json:"contact_number" binding:"required"`
	Gender        string `json:"gender"`
	Address       string `json:"address"`
}

type confirmRequest struct {
	Email string `json:"email" binding:"required"`
	OTP   string `json:"otp"`
	Code  string `json:"code"` // 旧客户端字段，与 otp 等价
}

func (r confirmRequest) code() string {
	if strings.TrimSpace(r.OTP) != "" {
		return r.OTP
	}
	return r.Code
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse 对外暴露的会话用户信息。
type UserResponse struct {
	AccountID     string     `json:"account_id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Role          model.Role `json:"role"`
	ContactNumber string     `json:"contact_number"`
	Address       string     `json:"address,omitempty"`
	Gender        string     `json:"gender,omitempty"`
	IsActive      bool       `json:"is_active"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// NewUserResponse 由令牌声明构造响应体。
func NewUserResponse(c *Claims) UserResponse {
	resp := UserResponse{
		AccountID:     c.AccountID(),
		Email:         c.Email,
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		Role:          c.Role,
		ContactNumber: c.ContactNumber,
		Address:       c.Address,
		Gender:        c.Gender,
		IsActive:      c.IsActive,
	}
	if c.ExpiresAt != nil {
		resp.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return resp
}

// Register 创建待验证账户并发送验证码。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email, password, first_name, last_name and contact_number are required"})
		return
	}
	expiresAt, err := h.svc.Register(c.Request.Context(), model.Profile{
		Email:         req.Email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		ContactNumber: req.ContactNumber,
		Gender:        req.Gender,
		Address:       req.Address,
	}, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "verification code sent",
		"expires_in": secondsUntil(expiresAt, h.svc.accounts.Now()),
	})
}

// Confirm 校验验证码并激活账户。
func (h *Handler) Confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.code()) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and otp are required"})
		return
	}
	acc, err := h.svc.Confirm(c.Request.Context(), req.Email, req.code())
	if err != nil {
		var otpErr *account.OTPError
		if errors.As(err, &otpErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      otpErr.Error(),
				"expired":    otpErr.Expired,
				"expires_in": int(otpErr.Remaining / time.Second),
			})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "account verified",
		"account_id": acc.AccountID,
	})
}

// Resend 重新发送验证码，旧验证码立即失效。
func (h *Handler) Resend(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	expiresAt, err := h.svc.Resend(c.Request.Context(), req.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "verification code sent",
		"expires_in": secondsUntil(expiresAt, h.svc.accounts.Now()),
	})
}

// Login 校验凭据，写入会话 Cookie 并返回用户信息。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	token, claims, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.setSessionCookie(c, token, int(h.svc.Tokens().TTL()/time.Second))
	c.JSON(http.StatusOK, gin.H{
		"message": "login successful",
		"user":    NewUserResponse(claims),
	})
}

// Logout 写入已过期的 Cookie。令牌本身不做服务端吊销。
func (h *Handler) Logout(c *gin.Context) {
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Session 返回当前会话用户，需挂在 AuthMiddleware 之后。
func (h *Handler) Session(c *gin.Context) {
	claims, ok := ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": NewUserResponse(claims)})
}

func (h *Handler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookie.Name, value, maxAge, "/", "", h.cookie.Secure, true)
}

// SetClaims 把已校验的声明放入请求上下文。
func SetClaims(c *gin.Context, claims *Claims) {
	c.Set(claimsKey, claims)
}

// ClaimsFromContext 取出 SetClaims 写入的声明。
func ClaimsFromContext(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok && claims != nil
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if h.logger != nil && !isExpected(err) {
		h.logger.Error("auth request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	WriteError(c, err)
}

func isExpected(err error) bool {
	return errors.Is(err, ratelimit.ErrTooManyAttempts) ||
		errors.Is(err, account.ErrValidation) ||
		errors.Is(err, account.ErrDuplicateEmail) ||
		errors.Is(err, account.ErrNoPendingRegistration) ||
		errors.Is(err, account.ErrAlreadyVerified) ||
		errors.Is(err, account.ErrInvalidOrExpiredOTP) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInactiveAccount)
}

// WriteError 把业务错误映射为 HTTP 状态码与 {"error": msg}。
func WriteError(c *gin.Context, err error) {
	var limited *ratelimit.LimitedError
	switch {
	case errors.As(err, &limited):
		secs := limited.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "too many failed login attempts, try again later",
			"retry_after": secs,
		})
	case errors.Is(err, account.ErrValidation),
		errors.Is(err, account.ErrDuplicateEmail),
		errors.Is(err, account.ErrNoPendingRegistration),
		errors.Is(err, account.ErrAlreadyVerified),
		errors.Is(err, account.ErrInvalidOrExpiredOTP):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInactiveAccount):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, account.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, notify.ErrMailDelivery):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send verification email, please try again"})
	case errors.Is(err, account.ErrDatabaseUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func secondsUntil(t time.Time, now time.Time) int {
	d := t.Sub(now)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
