package model

import "time"

// AuditLog 记录管理员对账户的操作，只追加，仅用于后台展示。
type AuditLog struct {
	ID          string    `bson:"_id" gorm:"primaryKey;type:varchar(36)" json:"id"`
	Action      string    `bson:"action" gorm:"type:varchar(255);not null" json:"action"` // 可读的操作描述
	ActorName   string    `bson:"actor_name" gorm:"type:varchar(200)" json:"actor_name"`
	ActorEmail  string    `bson:"actor_email" gorm:"type:varchar(191)" json:"actor_email"`
	TargetEmail string    `bson:"target_email" gorm:"type:varchar(191);index" json:"target_email"`
	TargetName  string    `bson:"target_name" gorm:"type:varchar(200)" json:"target_name"`
	CreatedAt   time.Time `bson:"created_at" gorm:"index" json:"created_at"`
}

// TableName 固定表名。
func (AuditLog) TableName() string {
	return "audit_logs"
}

// Actor 标识发起管理操作的人。
type Actor struct {
	AccountID string
	Email     string
	Name      string
}
