package notify

import "medsupply/internal/model"

// Event 是封闭的事件集合，只有本包内的类型实现它。
type Event interface {
	Kind() string
	sealed()
}

// OrderPlaced 新下单或再来一单。
type OrderPlaced struct {
	Order   model.Order
	Owner   model.User
	Reorder bool
}

type OrderEdited struct {
	Order model.Order
	Owner model.User
}

type OrderStatusChanged struct {
	Order model.Order
	Owner model.User
	From  model.OrderStatus
}

type OrderCancelled struct {
	Order  model.Order
	Owner  model.User
	Reason string
}

type OrderDeleted struct {
	OrderID string
	OrderNo string
}

// LowStock 库存跌破阈值。
type LowStock struct {
	Product model.Product
}

// ReorderSuggestion 基于近 30 天用量的补货建议。
type ReorderSuggestion struct {
	Product   model.Product
	Suggested int64
}

// PendingEscalation 待处理订单升级到 Stage。
type PendingEscalation struct {
	Order model.Order
	Owner model.User
	Stage model.Escalation
}

func (OrderPlaced) Kind() string        { return "order_placed" }
func (OrderEdited) Kind() string        { return "order_edited" }
func (OrderStatusChanged) Kind() string { return "order_status_changed" }
func (OrderCancelled) Kind() string     { return "order_cancelled" }
func (OrderDeleted) Kind() string       { return "order_deleted" }
func (LowStock) Kind() string           { return "low_stock" }
func (ReorderSuggestion) Kind() string  { return "reorder_suggestion" }
func (PendingEscalation) Kind() string  { return "pending_escalation" }

func (OrderPlaced) sealed()        {}
func (OrderEdited) sealed()        {}
func (OrderStatusChanged) sealed() {}
func (OrderCancelled) sealed()     {}
func (OrderDeleted) sealed()       {}
func (LowStock) sealed()           {}
func (ReorderSuggestion) sealed()  {}
func (PendingEscalation) sealed()  {}

// 推送事件名，与前端订阅的名字保持一致。
const (
	EventAdminNewOrder      = "ADMIN_NEW_ORDER"
	EventOrderPlaced        = "orderPlaced"
	EventOrderUpdated       = "orderUpdated"
	EventOrderStatusChanged = "orderStatusChanged"
	EventOrderCancelled     = "orderCancelled"
	EventOrderDeleted       = "orderDeleted"
	EventLowStock           = "lowStock"
	EventAdminNotification  = "adminNotification"

	AlertPending2Min  = "PENDING_2_MIN"
	AlertHighPriority = "HIGH_PRIORITY"
)
