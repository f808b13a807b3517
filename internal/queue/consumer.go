package queue

import (
	"context"
	"encoding/json"

	"medsupply/internal/metrics"
	"medsupply/internal/model"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// EventSink 事件审计落库。
type EventSink interface {
	Append(ctx context.Context, e *model.EventLog) error
}

type Consumer struct {
	r       *kafka.Reader
	sink    EventSink
	log     *logrus.Logger
	metrics *metrics.Registry
}

func NewConsumer(brokers []string, topic, groupID string, sink EventSink, log *logrus.Logger, m *metrics.Registry) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		sink:    sink,
		log:     log,
		metrics: m,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}
		if err := c.handle(ctx, m.Value); err != nil {
			c.log.WithError(err).WithField("offset", m.Offset).Warn("event consumer")
		}
	}
}

// handle 解析并写入一条事件；重复 event_id 由 sink 当作成功。
func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var msg EventMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := c.sink.Append(ctx, msg.ToEventLog()); err != nil {
		return err
	}
	c.metrics.EventsConsumed.Inc()
	return nil
}
