package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig 聚合运行时配置，全部通过环境变量（或 .env）注入。
// Redis / Kafka 地址留空表示不启用对应组件。
type AppConfig struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	DBPath   string `envconfig:"DB_PATH"   default:"medsupply.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`

	// Kafka 集群地址（逗号分隔）、Topic、消费者组
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC"    default:"medsupply-events"`
	KafkaGroupID string   `envconfig:"KAFKA_GROUP_ID" default:"medsupply-event-log"`

	// Redis Stream outbox（广播时入流，Relay 异步转 Kafka）
	EventStream   string `envconfig:"EVENT_STREAM"   default:"events"`
	EventGroup    string `envconfig:"EVENT_GROUP"    default:"medsupply-relay-group"`
	EventConsumer string `envconfig:"EVENT_CONSUMER" default:"medsupply-relay-1"`

	// 下单接口限流
	OrderRateLimit     int `envconfig:"ORDER_RATE_LIMIT"      default:"30"`
	OrderRateWindowSec int `envconfig:"ORDER_RATE_WINDOW_SEC" default:"60"`

	SchedulerIntervalSec int `envconfig:"SCHEDULER_INTERVAL_SEC" default:"60"`

	SMTPHost string `envconfig:"SMTP_HOST"`
	SMTPPort int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser string `envconfig:"SMTP_USER"`
	SMTPPass string `envconfig:"SMTP_PASS"`
	MailFrom string `envconfig:"MAIL_FROM" default:"noreply@medsupply.local"`

	SeedDemo bool `envconfig:"SEED_DEMO" default:"false"`
}

// Load 读取 .env（可缺省）与环境变量并校验。
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("process env: %w", err)
	}
	cfg.KafkaBrokers = trimCSV(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 做范围与依赖关系检查。
func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must be >= 0")
	}
	if c.OrderRateLimit <= 0 {
		return fmt.Errorf("ORDER_RATE_LIMIT must be > 0")
	}
	if c.OrderRateWindowSec <= 0 {
		return fmt.Errorf("ORDER_RATE_WINDOW_SEC must be > 0")
	}
	if c.SchedulerIntervalSec <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL_SEC must be > 0")
	}
	if c.SMTPHost != "" && (c.SMTPPort <= 0 || c.SMTPPort > 65535) {
		return fmt.Errorf("SMTP_PORT must be in 1..65535")
	}
	if c.KafkaEnabled() {
		if c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
		if c.KafkaGroupID == "" {
			return fmt.Errorf("KAFKA_GROUP_ID must not be empty")
		}
		// outbox 依赖 Redis Stream
		if !c.RedisEnabled() {
			return fmt.Errorf("KAFKA_BROKERS requires REDIS_ADDR")
		}
	}
	if c.RedisEnabled() {
		if c.EventStream == "" || c.EventGroup == "" || c.EventConsumer == "" {
			return fmt.Errorf("EVENT_STREAM, EVENT_GROUP and EVENT_CONSUMER must not be empty")
		}
	}
	return nil
}

func (c AppConfig) RedisEnabled() bool { return c.RedisAddr != "" }
func (c AppConfig) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }
func (c AppConfig) SMTPEnabled() bool  { return c.SMTPHost != "" }

func (c AppConfig) OrderRateWindow() time.Duration {
	return time.Duration(c.OrderRateWindowSec) * time.Second
}

func (c AppConfig) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSec) * time.Second
}

// trimCSV 去掉空白与空项。
func trimCSV(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
