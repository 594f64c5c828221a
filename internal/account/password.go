package account

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost bcrypt 工作因子，固定为 10。
const PasswordCost = 10

// Hasher 单向加盐哈希。
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

// BcryptHasher 使用 bcrypt，盐值嵌在输出里。
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher() BcryptHasher {
	return BcryptHasher{Cost: PasswordCost}
}

func (h BcryptHasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("password is empty")
	}
	cost := h.Cost
	if cost == 0 {
		cost = PasswordCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify 比较明文与哈希，哈希为空时直接返回 false。
func (h BcryptHasher) Verify(plain, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
