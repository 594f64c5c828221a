package model

import (
	"strings"
	"time"
)

// Role 账户角色。只有两种取值，由守卫中间件消费。
type Role string

const (
	RoleStandard Role = "standard" // 普通客户
	RoleAdmin    Role = "admin"    // 员工 / 管理员
)

// ParseRole 将字符串解析为 Role，未知值返回 false。
func ParseRole(s string) (Role, bool) {
	switch Role(strings.TrimSpace(strings.ToLower(s))) {
	case RoleStandard:
		return RoleStandard, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// IsAdmin 判断是否为管理员角色。
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// Account 表示客户或员工账户。
//
// 注册提交后处于待验证状态（PendingRegistration=true, IsActive=false），
// 邮箱验证码确认后激活并分配 AccountID。账户不会被物理删除，停用只是翻转 IsActive，
// 唯一的例外是验证码邮件发送失败时回滚刚创建的待验证记录。
type Account struct {
	ID                  string     `bson:"_id" gorm:"primaryKey;type:varchar(36)" json:"-"`                      // 存储主键 (UUID)
	AccountID           string     `bson:"account_id,omitempty" gorm:"type:varchar(40);index" json:"account_id"` // 激活时生成的可读编号
	Email               string     `bson:"email" gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`     // 邮箱（小写存储，唯一）
	PasswordHash        string     `bson:"password_hash" gorm:"not null" json:"-"`                               // bcrypt 哈希
	Role                Role       `bson:"role" gorm:"type:varchar(16);default:standard" json:"role"`            // 角色: standard / admin
	IsActive            bool       `bson:"is_active" gorm:"default:false" json:"is_active"`                      // 是否可登录
	PendingRegistration bool       `bson:"pending_registration" gorm:"default:false" json:"pending_registration"`
	OTPCode             string     `bson:"otp_code,omitempty" gorm:"type:varchar(6)" json:"-"` // 邮箱验证码
	OTPExpiresAt        *time.Time `bson:"otp_expires_at,omitempty" json:"-"`                  // 验证码过期时间

	FirstName     string `bson:"first_name" gorm:"type:varchar(100)" json:"first_name"`
	LastName      string `bson:"last_name" gorm:"type:varchar(100)" json:"last_name"`
	ContactNumber string `bson:"contact_number" gorm:"type:varchar(32)" json:"contact_number"`
	Gender        string `bson:"gender,omitempty" gorm:"type:varchar(16)" json:"gender,omitempty"`
	Address       string `bson:"address,omitempty" gorm:"type:varchar(255)" json:"address,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// FullName 返回 "名 姓"。
func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Profile 是注册或员工创建时提交的资料字段。
type Profile struct {
	Email         string
	FirstName     string
	LastName      string
	ContactNumber string
	Gender        string
	Address       string
}

// ProfileUpdate 是管理员修改资料时的可选字段，nil 表示不修改。
type ProfileUpdate struct {
	FirstName     *string
	LastName      *string
	ContactNumber *string
	Gender        *string
	Address       *string
	Role          *Role
}

// Empty 判断是否没有任何需要修改的字段。
func (u ProfileUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.ContactNumber == nil &&
		u.Gender == nil && u.Address == nil && u.Role == nil
}
