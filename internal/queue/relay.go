package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"medsupply/internal/metrics"

	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// EventPublisher Relay 的下游（Kafka Producer）。
type EventPublisher interface {
	Publish(ctx context.Context, msg EventMessage) error
}

// Relay 将 Redis Stream 中的事件异步转发到 Kafka。
// 发布 Kafka 成功后才 ACK Stream，失败则保留消息等待重试。
type Relay struct {
	rdb       *rd.Client
	publisher EventPublisher
	log       *logrus.Logger
	metrics   *metrics.Registry

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, publisher EventPublisher, stream, group, consumer string, log *logrus.Logger, m *metrics.Registry) *Relay {
	return &Relay{
		rdb:       rdb,
		publisher: publisher,
		log:       log,
		metrics:   m,
		stream:    stream,
		group:     group,
		consumer:  consumer,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		r.log.WithError(err).Error("relay ensure group")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		// 先处理本消费者的历史 pending，再读新消息。
		msgs, err := r.readGroup(ctx, "0", 0)
		if err == nil && len(msgs) == 0 {
			msgs, err = r.readGroup(ctx, ">", 2*time.Second)
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.log.WithError(err).Warn("relay read")
			time.Sleep(300 * time.Millisecond)
			continue
		}

		for _, xm := range msgs {
			if err := r.processOne(ctx, xm); err != nil {
				// 不 ACK，下一轮从 pending 重试
				r.log.WithError(err).WithField("stream_id", xm.ID).Warn("relay process")
				time.Sleep(200 * time.Millisecond)
				break
			}
		}
	}
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseEventMessage(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免阻塞队列。
		r.log.WithError(err).WithField("stream_id", xm.ID).Warn("relay drop malformed entry")
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, msg); err != nil {
		return err
	}
	if err := r.ackAndDelete(ctx, xm.ID); err != nil {
		return err
	}
	r.metrics.OutboxRelayed.Inc()
	return nil
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func parseEventMessage(values map[string]interface{}) (EventMessage, error) {
	eventID, err := getStreamString(values, "event_id")
	if err != nil {
		return EventMessage{}, err
	}
	name, err := getStreamString(values, "name")
	if err != nil {
		return EventMessage{}, err
	}
	atStr, err := getStreamString(values, "at")
	if err != nil {
		return EventMessage{}, err
	}
	at, err := strconv.ParseInt(atStr, 10, 64)
	if err != nil {
		return EventMessage{}, fmt.Errorf("invalid at %q", atStr)
	}
	// room / payload 可缺省
	room, _ := getStreamString(values, "room")
	payload, _ := getStreamString(values, "payload")

	msg := EventMessage{EventID: eventID, Name: name, Room: room, Payload: payload, At: at}
	if err := msg.Validate(); err != nil {
		return EventMessage{}, err
	}
	return msg, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
