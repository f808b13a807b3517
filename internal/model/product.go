package model

import (
	"time"
)

// Product 医疗耗材目录项；Quantity 为权威库存。
type Product struct {
	ID        string    `gorm:"primarykey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name        string `gorm:"size:128;not null" json:"name"`
	Description string `gorm:"size:512" json:"description"`
	Quantity    int64  `gorm:"not null;default:0" json:"quantity"`
	Price       int64  `gorm:"not null;default:0" json:"price"` // 单位：货币整数单位
	CreatedBy   string `gorm:"size:36;index" json:"created_by"`
}

func (Product) TableName() string { return "products" }
