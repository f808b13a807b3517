package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry 私有 prometheus 注册表，避免和全局默认注册表互相污染（测试可多次创建）。
type Registry struct {
	reg *prometheus.Registry

	OrdersPlaced      prometheus.Counter
	StatusTransitions *prometheus.CounterVec // label: status
	EventsPublished   *prometheus.CounterVec // label: event
	DeliveryFailures  *prometheus.CounterVec // label: channel (realtime/email/outbox)
	StockFailures     prometheus.Counter
	LowStockAlerts    prometheus.Counter
	Escalations       *prometheus.CounterVec // label: stage

	SchedulerTicks   prometheus.Counter
	SchedulerSkipped prometheus.Counter
	SchedulerTickSec prometheus.Histogram

	RateLimited    prometheus.Counter
	OutboxRelayed  prometheus.Counter
	EventsConsumed prometheus.Counter
	HubConnections prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{Name: "medsupply_orders_placed_total"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "medsupply_order_status_transitions_total"}, []string{"status"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "medsupply_events_published_total"}, []string{"event"})
	deliveryFailures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "medsupply_delivery_failures_total"}, []string{"channel"})
	stockFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "medsupply_stock_adjust_failures_total"})
	lowStock := prometheus.NewCounter(prometheus.CounterOpts{Name: "medsupply_low_stock_alerts_total"})
	escalations := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "medsupply_pending_escalations_total"}, []string{"stage"})

	ticks := prometheus.NewCounter(prometheus.CounterOpts{Name: "medsupply_scheduler_ticks_total"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "medsupply_scheduler_ticks_skipped_total"})
	tickSec := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "medsupply_scheduler_tick_seconds",
		Buckets: prometheus.DefBuckets,
	})

	rateLimited := prometheus.NewCounter(prometheus.CounterOpts{Name: "medsupply_rate_limited_total"})
	relayed := prometheus.NewCounter(prometheus.CounterOpts{Name: "medsupply_outbox_relayed_total"})
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "medsupply_events_consumed_total"})
	conns := prometheus.NewGauge(prometheus.GaugeOpts{Name: "medsupply_realtime_connections"})

	r.MustRegister(ordersPlaced, transitions, published, deliveryFailures, stockFailures, lowStock, escalations,
		ticks, skipped, tickSec, rateLimited, relayed, consumed, conns)
	return &Registry{
		reg:               r,
		OrdersPlaced:      ordersPlaced,
		StatusTransitions: transitions,
		EventsPublished:   published,
		DeliveryFailures:  deliveryFailures,
		StockFailures:     stockFailures,
		LowStockAlerts:    lowStock,
		Escalations:       escalations,
		SchedulerTicks:    ticks,
		SchedulerSkipped:  skipped,
		SchedulerTickSec:  tickSec,
		RateLimited:       rateLimited,
		OutboxRelayed:     relayed,
		EventsConsumed:    consumed,
		HubConnections:    conns,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
