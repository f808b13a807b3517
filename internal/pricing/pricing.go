// Package pricing 计算订单行小计、满额折扣与应付金额。纯函数，无副作用。
package pricing

import (
	"context"

	"medsupply/internal/apperr"
	"medsupply/internal/model"
)

const (
	// DiscountThreshold 总价严格大于该值才打折。
	DiscountThreshold int64 = 3000
	// DiscountPercent 满额折扣百分比。
	DiscountPercent int64 = 10
)

// Line 是客户端提交的一行：商品 + 数量。
type Line struct {
	ProductID string `json:"product"`
	Quantity  int64  `json:"quantity"`
}

// CatalogEntry is what the engine needs to snapshot a product.
type CatalogEntry struct {
	Name  string
	Price int64
}

// PriceLookup resolves a product id; ok=false means the product does not exist.
type PriceLookup interface {
	LookupPrice(ctx context.Context, productID string) (entry CatalogEntry, ok bool, err error)
}

// Quote 计价结果。
type Quote struct {
	Items              []model.OrderItem
	TotalPrice         int64
	DiscountPercentage int64
	DiscountAmount     int64
	FinalAmount        int64
}

// Compute 按当前目录价格生成订单行快照并计算折扣。
func Compute(ctx context.Context, lines []Line, lookup PriceLookup) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, apperr.Validation("no items in order")
	}
	q := Quote{Items: make([]model.OrderItem, 0, len(lines))}
	for _, l := range lines {
		if l.ProductID == "" {
			return Quote{}, apperr.Validation("product is required")
		}
		if l.Quantity < 1 {
			return Quote{}, apperr.Validation("quantity must be at least 1")
		}
		entry, ok, err := lookup.LookupPrice(ctx, l.ProductID)
		if err != nil {
			return Quote{}, err
		}
		if !ok {
			return Quote{}, apperr.NotFound("product %s not found", l.ProductID)
		}
		price := entry.Price
		if price < 0 {
			price = 0
		}
		subtotal := price * l.Quantity
		q.Items = append(q.Items, model.OrderItem{
			ProductID: l.ProductID,
			Name:      entry.Name,
			Quantity:  l.Quantity,
			Price:     price,
			Subtotal:  subtotal,
		})
		q.TotalPrice += subtotal
	}
	q.DiscountPercentage, q.DiscountAmount = Discount(q.TotalPrice)
	q.FinalAmount = q.TotalPrice - q.DiscountAmount
	return q, nil
}

// Discount returns the percentage and rounded amount for a total.
func Discount(total int64) (percent, amount int64) {
	if total <= DiscountThreshold {
		return 0, 0
	}
	return DiscountPercent, roundDiv(total*DiscountPercent, 100)
}

// roundDiv 整数除法四舍五入（total 非负）。
func roundDiv(n, d int64) int64 {
	return (n + d/2) / d
}

// Apply 把计价结果写回订单；items 变化时必须重新调用 Compute。
func (q Quote) Apply(o *model.Order) {
	o.Items = q.Items
	o.TotalPrice = q.TotalPrice
	o.DiscountPercentage = q.DiscountPercentage
	o.DiscountAmount = q.DiscountAmount
	o.FinalAmount = q.FinalAmount
}
