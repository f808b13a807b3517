// Package scheduler 周期扫描长时间未处理的 Pending 订单并逐级升级提醒。
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"medsupply/internal/metrics"
	"medsupply/internal/model"

	"github.com/sirupsen/logrus"
)

const (
	DefaultInterval = time.Minute

	After2Min  = 2 * time.Minute
	After5Min  = 5 * time.Minute
	After10Min = 10 * time.Minute
)

type PendingSource interface {
	FindPendingOlderThan(ctx context.Context, cutoff time.Time) ([]model.Order, error)
}

// Escalator 在订单锁内推进升级级别并发送通知。
type Escalator interface {
	Escalate(ctx context.Context, orderID string, target model.Escalation) ([]model.Escalation, error)
}

// TickLock 跨实例互斥；ok=false 表示本轮由其他实例执行。
type TickLock interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// Result 单轮扫描结果。
type Result struct {
	Skipped bool
	Scanned int
	Fired   int
	Failed  int
}

// TargetFor 根据等待时长计算应达到的升级级别。
func TargetFor(age time.Duration) model.Escalation {
	switch {
	case age >= After10Min:
		return model.EscalationNotified10Min
	case age >= After5Min:
		return model.EscalationHighPriority
	case age >= After2Min:
		return model.EscalationNotified2Min
	default:
		return model.EscalationNone
	}
}

type Option func(*Scheduler)

// WithTickLock 启用跨实例互斥（如 Redis 锁）。
func WithTickLock(l TickLock) Option {
	return func(s *Scheduler) { s.lock = l }
}

type Scheduler struct {
	src      PendingSource
	esc      Escalator
	lock     TickLock
	interval time.Duration
	log      *logrus.Logger
	metrics  *metrics.Registry
	now      func() time.Time

	started atomic.Bool
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(src PendingSource, esc Escalator, interval time.Duration, log *logrus.Logger, m *metrics.Registry, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		src:      src,
		esc:      esc,
		interval: interval,
		log:      log,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start 启动后台循环；重复调用返回 false 且不产生第二个循环。
func (s *Scheduler) Start(ctx context.Context) bool {
	if !s.started.CompareAndSwap(false, true) {
		return false
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.log.WithField("interval", s.interval.String()).Info("pending order scheduler started")
	return true
}

// Stop 停止循环并等待进行中的扫描结束。
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				tickCtx, cancel := context.WithTimeout(ctx, s.interval)
				defer cancel()
				if _, err := s.Tick(tickCtx, s.now()); err != nil {
					s.log.WithError(err).Warn("pending order scan failed, tick skipped")
				}
			}()
		}
	}
}

// Tick 执行一轮扫描。上一轮未结束时直接跳过，不会重叠执行。
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.SchedulerSkipped.Inc()
		return Result{Skipped: true}, nil
	}
	defer s.running.Store(false)

	if s.lock != nil {
		release, ok, err := s.lock.TryLock(ctx)
		if err != nil {
			s.metrics.SchedulerSkipped.Inc()
			return Result{Skipped: true}, err
		}
		if !ok {
			s.metrics.SchedulerSkipped.Inc()
			return Result{Skipped: true}, nil
		}
		defer release()
	}

	start := time.Now()
	s.metrics.SchedulerTicks.Inc()
	defer func() { s.metrics.SchedulerTickSec.Observe(time.Since(start).Seconds()) }()

	orders, err := s.src.FindPendingOlderThan(ctx, now.Add(-After2Min))
	if err != nil {
		return Result{Skipped: true}, err
	}

	res := Result{Scanned: len(orders)}
	for _, o := range orders {
		target := TargetFor(now.Sub(o.CreatedAt))
		if target <= o.Escalation {
			continue
		}
		fired, err := s.esc.Escalate(ctx, o.ID, target)
		if err != nil {
			res.Failed++
			s.log.WithFields(logrus.Fields{"order_id": o.ID, "target": target.String()}).
				WithError(err).Warn("escalate pending order failed")
			continue
		}
		res.Fired += len(fired)
	}
	if res.Fired > 0 || res.Failed > 0 {
		s.log.WithFields(logrus.Fields{
			"scanned": res.Scanned,
			"fired":   res.Fired,
			"failed":  res.Failed,
		}).Info("pending order scan")
	}
	return res, nil
}
