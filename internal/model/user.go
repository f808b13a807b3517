package model

import "time"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleHospital Role = "hospital"
)

type UserStatus string

const (
	UserApproved UserStatus = "approved"
	UserBlocked  UserStatus = "blocked"
)

// User 医院或管理员账号。本服务只读取，不负责注册与审核流程。
type User struct {
	ID        string    `gorm:"primarykey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name     string     `gorm:"size:128;not null" json:"name"`
	Email    string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Phone    string     `gorm:"size:32" json:"phone"`
	Role     Role       `gorm:"size:16;not null;index" json:"role"`
	Status   UserStatus `gorm:"size:16;not null;default:approved" json:"status"`
	Verified bool       `gorm:"not null;default:false" json:"is_verified"`
}

func (User) TableName() string { return "users" }

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }
