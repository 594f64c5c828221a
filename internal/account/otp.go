package account

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"gianconstruction/internal/model"

	"github.com/oklog/ulid/v2"
)

const (
	// OTPTTL 验证码有效期，每次签发都从当前时间重新计算。
	OTPTTL    = 10 * time.Minute
	otpLength = 6
	otpMin    = 100000
	otpSpan   = 900000
)

// GenerateOTP 返回 100000–999999 之间均匀分布的 6 位数字。
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpSpan))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}

// OTPExpiry 返回 now + 10 分钟。
func OTPExpiry(now time.Time) time.Time {
	return now.Add(OTPTTL)
}

// ValidOTPFormat 判断是否为 6 位数字。
func ValidOTPFormat(code string) bool {
	code = strings.TrimSpace(code)
	if len(code) != otpLength {
		return false
	}
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

// NewAccountID 生成激活后的可读编号，员工为 EMP-，客户为 USR-。
func NewAccountID(role model.Role) string {
	prefix := "USR"
	if role.IsAdmin() {
		prefix = "EMP"
	}
	return prefix + "-" + ulid.Make().String()
}
