package auth

import (
	"errors"
	"fmt"
	"time"

	"gianconstruction/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL 会话默认有效期。
const DefaultTokenTTL = 24 * time.Hour

// ErrInvalidToken 签名错误、格式错误或已过期。守卫一律视为未登录。
var ErrInvalidToken = errors.New("invalid or expired session token")

// Claims 会话令牌中的用户信息。Subject 为账户编号，ID 为随机 jti。
type Claims struct {
	jwt.RegisteredClaims
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Role          model.Role `json:"role"`
	ContactNumber string     `json:"contact_number"`
	Address       string     `json:"address,omitempty"`
	Gender        string     `json:"gender,omitempty"`
	IsActive      bool       `json:"is_active"`
}

// AccountID 账户编号。
func (c *Claims) AccountID() string {
	return c.Subject
}

// IsAdmin 是否管理员。
func (c *Claims) IsAdmin() bool {
	return c.Role.IsAdmin()
}

// Actor 审计日志中的操作人。
func (c *Claims) Actor() model.Actor {
	return model.Actor{
		AccountID: c.Subject,
		Email:     c.Email,
		Name:      c.FirstName + " " + c.LastName,
	}
}

// TokenService 签发与校验 HS256 会话令牌。
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock 注入时钟，测试用。
func (t *TokenService) WithClock(now func() time.Time) *TokenService {
	t.now = now
	return t
}

// TTL 令牌有效期，同时用作 Cookie 的 Max-Age。
func (t *TokenService) TTL() time.Duration {
	return t.ttl
}

// Issue 为已激活账户签发令牌。
func (t *TokenService) Issue(acc *model.Account) (string, *Claims, error) {
	if acc == nil || acc.AccountID == "" {
		return "", nil, errors.New("issue token: account has no identifier")
	}
	now := t.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.AccountID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Email:         acc.Email,
		FirstName:     acc.FirstName,
		LastName:      acc.LastName,
		Role:          acc.Role,
		ContactNumber: acc.ContactNumber,
		Address:       acc.Address,
		Gender:        acc.Gender,
		IsActive:      acc.IsActive,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify 校验签名与有效期，失败统一返回 ErrInvalidToken。
func (t *TokenService) Verify(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
