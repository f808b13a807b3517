package repository

import (
	"context"

	"medsupply/internal/model"

	"gorm.io/gorm"
)

// EventLogStore 事件审计表，由 Kafka 消费者写入。
type EventLogStore struct {
	db *gorm.DB
}

func NewEventLogStore(db *gorm.DB) *EventLogStore {
	return &EventLogStore{db: db}
}

// Append 写入一条事件。重复 event_id（消息重投）视为成功。
func (s *EventLogStore) Append(ctx context.Context, e *model.EventLog) error {
	err := s.db.WithContext(ctx).Create(e).Error
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

func (s *EventLogStore) Recent(ctx context.Context, limit int) ([]model.EventLog, error) {
	var list []model.EventLog
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&list).Error
	return list, err
}
