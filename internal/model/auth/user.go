package auth

import (
	"time"
)

// User 用户实体
// ID使用UUID格式（string），避免ObjectID转换的麻烦
type User struct {
	ID          string     `bson:"_id,omitempty" json:"id"`  // UUID格式的ID
	Username    string     `bson:"username" json:"username"` // 用户名（唯一）
	Email       string     `bson:"email" json:"email"`       // 邮箱（唯一）
	Password    string     `bson:"password" json:"-"`        // 密码（加密存储，不返回）
	LastLoginAt *time.Time `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
}
