// Package inventory 处理订单对库存的副作用：扣减、低库存告警与补货建议。
package inventory

import (
	"context"
	"time"

	"medsupply/internal/metrics"
	"medsupply/internal/model"
	"medsupply/internal/notify"

	"github.com/sirupsen/logrus"
)

const (
	// LowStockThreshold 扣减后库存严格小于该值即告警。
	LowStockThreshold int64 = 10
	// MinReorderQuantity 补货建议下限。
	MinReorderQuantity int64 = 50
	// UsageWindow 统计近期用量的窗口。
	UsageWindow = 30 * 24 * time.Hour
)

type Stock interface {
	DecrementStock(ctx context.Context, productID string, n int64) (*model.Product, error)
}

type Usage interface {
	SumOrderedSince(ctx context.Context, productID string, since time.Time) (int64, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev notify.Event)
}

// Failure 单个商品调整失败。
type Failure struct {
	ProductID string
	Err       error
}

// Report 一次批量调整的结果；单个失败不影响其他行。
type Report struct {
	Updated  []string
	LowStock []string
	Failed   []Failure
}

type Adjuster struct {
	stock   Stock
	usage   Usage
	pub     Publisher
	log     *logrus.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

func NewAdjuster(stock Stock, usage Usage, pub Publisher, log *logrus.Logger, m *metrics.Registry) *Adjuster {
	return &Adjuster{stock: stock, usage: usage, pub: pub, log: log, metrics: m, now: time.Now}
}

// ApplyDelivery 订单送达时扣减库存。
func (a *Adjuster) ApplyDelivery(ctx context.Context, items []model.OrderItem) Report {
	return a.decrement(ctx, "delivery", items, true)
}

// ApplyCancellationReversal 取消订单时同样扣减库存（沿用现有业务行为，并非回补）。
// 低库存告警只由送达触发，这里不发。
func (a *Adjuster) ApplyCancellationReversal(ctx context.Context, items []model.OrderItem) Report {
	return a.decrement(ctx, "cancellation", items, false)
}

func (a *Adjuster) decrement(ctx context.Context, reason string, items []model.OrderItem, alertLow bool) Report {
	var rep Report
	for _, it := range items {
		p, err := a.stock.DecrementStock(ctx, it.ProductID, it.Quantity)
		if err != nil {
			a.metrics.StockFailures.Inc()
			a.log.WithFields(logrus.Fields{
				"product_id": it.ProductID,
				"quantity":   it.Quantity,
				"reason":     reason,
			}).WithError(err).Warn("stock adjust failed")
			rep.Failed = append(rep.Failed, Failure{ProductID: it.ProductID, Err: err})
			continue
		}
		rep.Updated = append(rep.Updated, p.ID)
		if alertLow && p.Quantity < LowStockThreshold {
			rep.LowStock = append(rep.LowStock, p.ID)
			a.lowStock(ctx, *p)
		}
	}
	return rep
}

func (a *Adjuster) lowStock(ctx context.Context, p model.Product) {
	a.pub.Publish(ctx, notify.LowStock{Product: p})

	suggested, err := a.SuggestReorder(ctx, p.ID)
	if err != nil {
		a.log.WithField("product_id", p.ID).WithError(err).Warn("reorder suggestion failed")
		return
	}
	a.pub.Publish(ctx, notify.ReorderSuggestion{Product: p, Suggested: suggested})
}

// SuggestReorder 返回 max(50, 近 30 天下单总量)。
func (a *Adjuster) SuggestReorder(ctx context.Context, productID string) (int64, error) {
	used, err := a.usage.SumOrderedSince(ctx, productID, a.now().Add(-UsageWindow))
	if err != nil {
		return 0, err
	}
	return max(MinReorderQuantity, used), nil
}
