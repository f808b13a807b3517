package queue

import (
	"context"
	"time"

	"medsupply/internal/metrics"
	"medsupply/internal/realtime"

	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const mirrorTimeout = 2 * time.Second

// StreamMirror 作为 Hub 的 Observer，把每次广播 XADD 到 outbox Stream。
// 写入失败只记日志与计数，不影响实时推送。
type StreamMirror struct {
	rdb     rd.Cmdable
	stream  string
	log     *logrus.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

func NewStreamMirror(rdb rd.Cmdable, stream string, log *logrus.Logger, m *metrics.Registry) *StreamMirror {
	return &StreamMirror{rdb: rdb, stream: stream, log: log, metrics: m, now: time.Now}
}

func (s *StreamMirror) Observe(msg realtime.Message) {
	em, err := FromHubMessage(msg, s.now())
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		err = s.rdb.XAdd(ctx, &rd.XAddArgs{
			Stream: s.stream,
			Values: em.streamValues(),
		}).Err()
	}
	if err != nil {
		s.metrics.DeliveryFailures.WithLabelValues("outbox").Inc()
		s.log.WithError(err).WithFields(logrus.Fields{"event": msg.Name, "event_id": msg.ID}).
			Warn("outbox append failed")
	}
}
