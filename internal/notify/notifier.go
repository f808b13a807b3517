// Package notify 把领域事件扇出到实时房间与邮件。
// 任何投递失败只记日志与指标，不回传给调用方。
package notify

import (
	"context"
	"fmt"
	"time"

	"medsupply/internal/metrics"
	"medsupply/internal/model"
	"medsupply/internal/realtime"

	"github.com/sirupsen/logrus"
)

// PendingDigestMinutes 待处理提醒邮件里的分钟数。
const PendingDigestMinutes = 10

// Transport 实时推送通道，由 realtime.Hub 实现。
type Transport interface {
	BroadcastToRoom(room, name string, payload any) error
	BroadcastGlobal(name string, payload any) error
}

// Directory 按角色查收件人。
type Directory interface {
	FindByRole(ctx context.Context, role model.Role) ([]model.User, error)
}

type Notifier struct {
	transport Transport
	mailer    Mailer
	users     Directory
	log       *logrus.Logger
	metrics   *metrics.Registry
	now       func() time.Time
}

func NewNotifier(transport Transport, mailer Mailer, users Directory, log *logrus.Logger, m *metrics.Registry) *Notifier {
	return &Notifier{
		transport: transport,
		mailer:    mailer,
		users:     users,
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

// Publish 按事件类型路由。
func (n *Notifier) Publish(ctx context.Context, ev Event) {
	n.metrics.EventsPublished.WithLabelValues(ev.Kind()).Inc()

	switch e := ev.(type) {
	case OrderPlaced:
		n.orderPlaced(ctx, e)
	case OrderEdited:
		n.emailRole(ctx, model.RoleAdmin, fmt.Sprintf("Order #%s edited by %s", e.Order.OrderNo, e.Owner.Name),
			fmt.Sprintf("Order %s edited", e.Order.OrderNo), "order_edited", e)
		n.global(EventOrderUpdated, e.Order)
		n.room(e.Order.UserID, EventOrderUpdated, e.Order)
	case OrderStatusChanged:
		n.statusChanged(ctx, e)
	case OrderCancelled:
		n.emailOwner(ctx, e.Owner, e.Order, fmt.Sprintf("Order %s cancelled", e.Order.OrderNo),
			"Your order was cancelled. Reason: "+e.Reason, "order_cancelled", e)
		n.global(EventOrderCancelled, e.Order)
		n.room(e.Order.UserID, EventOrderCancelled, e.Order)
	case OrderDeleted:
		payload := map[string]string{"orderId": e.OrderID}
		n.global(EventOrderDeleted, payload)
		n.room(realtime.RoomAdmin, EventOrderDeleted, payload)
	case LowStock:
		n.lowStock(ctx, e)
	case ReorderSuggestion:
		n.emailRole(ctx, model.RoleAdmin, fmt.Sprintf("Reorder suggestion: %s", e.Product.Name),
			fmt.Sprintf("Suggested reorder for %s: %d units", e.Product.Name, e.Suggested), "reorder_suggestion", e)
	case PendingEscalation:
		n.escalation(ctx, e)
	default:
		n.log.WithField("event", ev.Kind()).Warn("notify: unhandled event")
	}
}

func (n *Notifier) orderPlaced(ctx context.Context, e OrderPlaced) {
	if e.Reorder {
		n.emailRole(ctx, model.RoleAdmin, fmt.Sprintf("New Re-Order from %s", e.Owner.Name),
			"New re-order "+e.Order.OrderNo, "order_placed", e)
		n.global(EventOrderPlaced, e.Order)
		n.room(realtime.RoomAdmin, EventOrderPlaced, e.Order)
		return
	}
	n.emailRole(ctx, model.RoleAdmin, fmt.Sprintf("New Order from %s", e.Owner.Name),
		"New order "+e.Order.OrderNo, "order_placed", e)
	n.room(realtime.RoomAdmin, EventAdminNewOrder, map[string]any{
		"type":    "NEW_ORDER",
		"message": "New order received",
		"order":   e.Order,
	})
}

func (n *Notifier) statusChanged(ctx context.Context, e OrderStatusChanged) {
	switch e.Order.Status {
	case model.StatusAccepted:
		n.emailOwner(ctx, e.Owner, e.Order, fmt.Sprintf("Order %s accepted", e.Order.OrderNo),
			"Your order has been accepted.", "order_accepted", e.Order)
	case model.StatusDelivered:
		data := struct {
			Order model.Order
			Owner model.User
			At    time.Time
		}{e.Order, e.Owner, n.now()}
		n.emailOwner(ctx, e.Owner, e.Order, fmt.Sprintf("Invoice - Order %s", e.Order.OrderNo),
			"Your order has been delivered. The invoice is included below.", "order_delivered", data)
	}
	n.global(EventOrderStatusChanged, e.Order)
	n.room(e.Order.UserID, EventOrderUpdated, e.Order)
}

func (n *Notifier) lowStock(ctx context.Context, e LowStock) {
	n.metrics.LowStockAlerts.Inc()
	subject := fmt.Sprintf("Low stock: %s", e.Product.Name)
	text := fmt.Sprintf("Low stock %s: %d left", e.Product.Name, e.Product.Quantity)
	n.emailRole(ctx, model.RoleAdmin, subject, text, "low_stock", e.Product)
	n.emailRole(ctx, model.RoleHospital, subject, text, "low_stock", e.Product)

	payload := map[string]any{
		"product":  e.Product.ID,
		"name":     e.Product.Name,
		"quantity": e.Product.Quantity,
	}
	n.global(EventLowStock, payload)
	n.room(realtime.RoomAdmin, EventLowStock, payload)
	n.room(realtime.RoomHospitals, EventLowStock, payload)
}

func (n *Notifier) escalation(ctx context.Context, e PendingEscalation) {
	n.metrics.Escalations.WithLabelValues(e.Stage.String()).Inc()
	switch e.Stage {
	case model.EscalationNotified2Min:
		n.room(realtime.RoomAdmin, EventAdminNotification, map[string]string{"type": AlertPending2Min, "orderId": e.Order.ID})
	case model.EscalationHighPriority:
		n.room(realtime.RoomAdmin, EventAdminNotification, map[string]string{"type": AlertHighPriority, "orderId": e.Order.ID})
	case model.EscalationNotified10Min:
		data := struct {
			Orders  []pendingRow
			Minutes int
		}{[]pendingRow{{Order: e.Order, Owner: e.Owner}}, PendingDigestMinutes}
		n.emailRole(ctx, model.RoleAdmin, fmt.Sprintf("Order Pending %d Minutes", PendingDigestMinutes),
			fmt.Sprintf("Order %s pending for more than %d minutes", e.Order.OrderNo, PendingDigestMinutes), "pending_reminder", data)
	}
}

func (n *Notifier) global(name string, payload any) {
	if err := n.transport.BroadcastGlobal(name, payload); err != nil {
		n.realtimeFailed(name, "", err)
	}
}

func (n *Notifier) room(room, name string, payload any) {
	if room == "" {
		return
	}
	if err := n.transport.BroadcastToRoom(room, name, payload); err != nil {
		n.realtimeFailed(name, room, err)
	}
}

func (n *Notifier) realtimeFailed(name, room string, err error) {
	n.metrics.DeliveryFailures.WithLabelValues("realtime").Inc()
	n.log.WithFields(logrus.Fields{"event": name, "room": room}).WithError(err).Warn("realtime broadcast failed")
}

func (n *Notifier) emailRole(ctx context.Context, role model.Role, subject, text, tmpl string, data any) {
	users, err := n.users.FindByRole(ctx, role)
	if err != nil {
		n.emailFailed(subject, err)
		return
	}
	to := make([]string, 0, len(users))
	for _, u := range users {
		if u.Email != "" {
			to = append(to, u.Email)
		}
	}
	n.send(ctx, to, subject, text, tmpl, data)
}

// emailOwner 优先用账号邮箱，缺失时退回订单联系邮箱。
func (n *Notifier) emailOwner(ctx context.Context, owner model.User, o model.Order, subject, text, tmpl string, data any) {
	addr := owner.Email
	if addr == "" {
		addr = o.ContactEmail
	}
	if addr == "" {
		return
	}
	n.send(ctx, []string{addr}, subject, text, tmpl, data)
}

// send 同时发纯文本与 HTML 两个版本。
func (n *Notifier) send(ctx context.Context, to []string, subject, text, tmpl string, data any) {
	if len(to) == 0 {
		return
	}
	html, err := render(tmpl, data)
	if err != nil {
		n.emailFailed(subject, err)
		return
	}
	if err := n.mailer.Send(ctx, to, subject, text, html); err != nil {
		n.emailFailed(subject, err)
	}
}

func (n *Notifier) emailFailed(subject string, err error) {
	n.metrics.DeliveryFailures.WithLabelValues("email").Inc()
	n.log.WithField("subject", subject).WithError(err).Warn("email delivery failed")
}
