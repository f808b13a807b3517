package repository

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"medsupply/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var memSeq atomic.Int64

// Open 连接 SQLite 并自动建表。
// 连接池限制为 1：SQLite 单写者，避免 "database is locked"。
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&model.Product{}, &model.User{}, &model.Order{}, &model.EventLog{}); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return db, nil
}

// isUniqueViolation 兼容驱动翻译后的错误与原始 UNIQUE 报错。
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}

// MemoryDSN 返回一个独立的内存库 DSN，测试与演示用。
func MemoryDSN() string {
	return fmt.Sprintf("file:mem-%d?mode=memory&cache=shared", memSeq.Add(1))
}
