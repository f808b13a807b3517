package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"medsupply/internal/model"
	"medsupply/internal/realtime"
)

// EventMessage 是 outbox 中流转的实时事件（Redis Stream → Kafka → event_logs）。
type EventMessage struct {
	EventID string `json:"event_id"`
	Name    string `json:"name"`
	Room    string `json:"room,omitempty"` // 空表示全局广播
	Payload string `json:"payload"`        // JSON 文本
	At      int64  `json:"at"`             // unix 毫秒
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m EventMessage) Validate() error {
	if m.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Payload != "" && !json.Valid([]byte(m.Payload)) {
		return fmt.Errorf("payload must be valid json")
	}
	if m.At <= 0 {
		return fmt.Errorf("at must be > 0")
	}
	return nil
}

// FromHubMessage 把一次 Hub 广播转成 outbox 消息。
func FromHubMessage(msg realtime.Message, at time.Time) (EventMessage, error) {
	b, err := json.Marshal(msg.Payload)
	if err != nil {
		return EventMessage{}, fmt.Errorf("marshal payload: %w", err)
	}
	return EventMessage{
		EventID: msg.ID,
		Name:    msg.Name,
		Room:    msg.Room,
		Payload: string(b),
		At:      at.UnixMilli(),
	}, nil
}

// streamValues Stream 条目字段。
func (m EventMessage) streamValues() map[string]any {
	return map[string]any{
		"event_id": m.EventID,
		"name":     m.Name,
		"room":     m.Room,
		"payload":  m.Payload,
		"at":       m.At,
	}
}

func (m EventMessage) ToEventLog() *model.EventLog {
	return &model.EventLog{
		CreatedAt: time.UnixMilli(m.At).UTC(),
		EventID:   m.EventID,
		Name:      m.Name,
		Room:      m.Room,
		Payload:   m.Payload,
	}
}
