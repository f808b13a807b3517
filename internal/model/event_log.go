package model

import "time"

// EventLog 是实时事件的审计记录，由 Kafka 消费者落库。
type EventLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	EventID string `gorm:"size:64;uniqueIndex;not null" json:"event_id"`
	Name    string `gorm:"size:64;not null;index" json:"name"`
	Room    string `gorm:"size:64;index" json:"room"` // 空字符串表示全局广播
	Payload string `gorm:"type:text" json:"payload"`
}

func (EventLog) TableName() string { return "event_logs" }
