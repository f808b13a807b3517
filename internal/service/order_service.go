// Package service 编排订单生命周期：下单、编辑、再来一单、状态流转、取消、删除与升级提醒。
package service

import (
	"context"
	"strings"
	"time"

	"medsupply/internal/apperr"
	"medsupply/internal/inventory"
	"medsupply/internal/metrics"
	"medsupply/internal/model"
	"medsupply/internal/notify"
	"medsupply/internal/pricing"
	"medsupply/internal/repository"

	"github.com/sirupsen/logrus"
)

const editNote = "Order edited by user"

type OrderRepo interface {
	Create(ctx context.Context, o *model.Order) error
	FindByID(ctx context.Context, id string) (*model.Order, error)
	FindByOwner(ctx context.Context, userID string, f repository.OrderFilter) ([]model.Order, error)
	FindAll(ctx context.Context) ([]model.Order, error)
	Update(ctx context.Context, o *model.Order) error
	Delete(ctx context.Context, id string) error
}

type ProductRepo interface {
	pricing.PriceLookup
	FindByID(ctx context.Context, id string) (*model.Product, error)
	FindSimilar(ctx context.Context, ref *model.Product) ([]model.Product, error)
}

type UserRepo interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]model.User, error)
}

type Inventory interface {
	ApplyDelivery(ctx context.Context, items []model.OrderItem) inventory.Report
	ApplyCancellationReversal(ctx context.Context, items []model.OrderItem) inventory.Report
}

type Publisher interface {
	Publish(ctx context.Context, ev notify.Event)
}

// PlaceInput 下单参数。
type PlaceInput struct {
	Items        []pricing.Line
	Address      string
	Phone        string
	AltPhone     string
	ContactEmail string
	Notes        string
}

// EditPatch nil 表示不修改；Items 为空表示沿用原明细。
type EditPatch struct {
	Items    []pricing.Line
	Address  *string
	Phone    *string
	AltPhone *string
	Notes    *string
}

// ReorderOverrides 空字符串表示沿用原订单的值。
type ReorderOverrides struct {
	Address      string
	Phone        string
	AltPhone     string
	ContactEmail string
	Notes        string
}

// OwnerSummary 管理端列表里附带的下单人信息。
type OwnerSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type AdminOrder struct {
	model.Order
	Owner OwnerSummary `json:"owner"`
}

type OrderService struct {
	orders    OrderRepo
	products  ProductRepo
	users     UserRepo
	inventory Inventory
	pub       Publisher
	log       *logrus.Logger
	metrics   *metrics.Registry

	locks *keyedMutex
	now   func() time.Time
}

func NewOrderService(orders OrderRepo, products ProductRepo, users UserRepo, inv Inventory, pub Publisher,
	log *logrus.Logger, m *metrics.Registry) *OrderService {
	return &OrderService{
		orders:    orders,
		products:  products,
		users:     users,
		inventory: inv,
		pub:       pub,
		log:       log,
		metrics:   m,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder 计价并创建 Pending 订单，通知管理员。
func (s *OrderService) PlaceOrder(ctx context.Context, owner model.User, in PlaceInput) (*model.Order, error) {
	if len(in.Items) == 0 {
		return nil, apperr.Validation("no items in order")
	}
	if err := requireContact(in.Address, in.Phone, in.ContactEmail); err != nil {
		return nil, err
	}
	quote, err := pricing.Compute(ctx, in.Items, s.products)
	if err != nil {
		return nil, err
	}

	o := &model.Order{
		UserID:       owner.ID,
		Address:      strings.TrimSpace(in.Address),
		Phone:        strings.TrimSpace(in.Phone),
		AltPhone:     strings.TrimSpace(in.AltPhone),
		ContactEmail: strings.TrimSpace(in.ContactEmail),
		Notes:        in.Notes,
		PaymentMode:  model.PaymentCOD,
	}
	quote.Apply(o)
	o.AppendHistory(model.StatusPending, "", owner.ID, s.now())

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}
	s.metrics.OrdersPlaced.Inc()
	s.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"order_no": o.OrderNo,
		"user_id":  owner.ID,
		"final":    o.FinalAmount,
	}).Info("order placed")

	s.pub.Publish(ctx, notify.OrderPlaced{Order: *o, Owner: owner})
	return o, nil
}

// EditOrder 仅下单人、仅 Pending 状态可改；状态保持 Pending 并追加一条历史。
func (s *OrderService) EditOrder(ctx context.Context, orderID string, actor model.User, p EditPatch) (*model.Order, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != actor.ID {
		return nil, apperr.Forbidden("not authorized to edit this order")
	}
	if o.Status != model.StatusPending {
		return nil, apperr.InvalidState("order can only be edited while Pending; editing is disabled after acceptance")
	}

	if len(p.Items) > 0 {
		quote, err := pricing.Compute(ctx, p.Items, s.products)
		if err != nil {
			return nil, err
		}
		quote.Apply(o)
	}
	setIfNonEmpty(&o.Address, p.Address)
	setIfNonEmpty(&o.Phone, p.Phone)
	setIfNonEmpty(&o.AltPhone, p.AltPhone)
	if p.Notes != nil {
		o.Notes = *p.Notes
	}
	o.AppendHistory(model.StatusPending, editNote, actor.ID, s.now())

	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "user_id": actor.ID}).Info("order edited")

	s.pub.Publish(ctx, notify.OrderEdited{Order: *o, Owner: actor})
	return o, nil
}

// Reorder 以当前目录价复制一张已送达订单，原订单不变。
func (s *OrderService) Reorder(ctx context.Context, orderID string, actor model.User, ov ReorderOverrides) (*model.Order, error) {
	src, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if src.UserID != actor.ID {
		return nil, apperr.Forbidden("not authorized to re-order this order")
	}
	if src.Status != model.StatusDelivered {
		return nil, apperr.InvalidState("only delivered orders can be re-ordered")
	}

	lines := make([]pricing.Line, 0, len(src.Items))
	for _, it := range src.Items {
		lines = append(lines, pricing.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	quote, err := pricing.Compute(ctx, lines, s.products)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.NotFound("a product in order %s is no longer available", src.OrderNo)
		}
		return nil, err
	}

	o := &model.Order{
		UserID:       actor.ID,
		Address:      firstNonEmpty(ov.Address, src.Address),
		Phone:        firstNonEmpty(ov.Phone, src.Phone),
		AltPhone:     firstNonEmpty(ov.AltPhone, src.AltPhone),
		ContactEmail: firstNonEmpty(ov.ContactEmail, src.ContactEmail),
		Notes:        ov.Notes,
		PaymentMode:  model.PaymentCOD,
	}
	quote.Apply(o)
	o.AppendHistory(model.StatusPending, "", actor.ID, s.now())

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}
	s.metrics.OrdersPlaced.Inc()
	s.log.WithFields(logrus.Fields{
		"order_id":  o.ID,
		"order_no":  o.OrderNo,
		"source_id": src.ID,
		"user_id":   actor.ID,
	}).Info("order re-placed")

	s.pub.Publish(ctx, notify.OrderPlaced{Order: *o, Owner: actor, Reorder: true})
	return o, nil
}

// UpdateStatus 管理员设置履约状态：目标限 Accepted..Delivered，未终结的订单可任意切换
// （例如 Packed 退回 Accepted 会重新发确认邮件）。Cancelled 只能走 CancelOrder。
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, actor model.User, status model.OrderStatus) (*model.Order, error) {
	if !status.Valid() || status == model.StatusPending || status == model.StatusCancelled {
		return nil, apperr.Validation("invalid target status %q", status)
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, apperr.InvalidState("order is already %s", o.Status)
	}

	from := o.Status
	o.AppendHistory(status, "", actor.ID, s.now())
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	s.metrics.StatusTransitions.WithLabelValues(string(status)).Inc()
	s.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"from":     from,
		"to":       status,
		"actor":    actor.ID,
	}).Info("order status changed")

	if status == model.StatusDelivered {
		s.logReport(o.ID, "delivery", s.inventory.ApplyDelivery(ctx, o.Items))
	}

	s.pub.Publish(ctx, notify.OrderStatusChanged{Order: *o, Owner: s.owner(ctx, o.UserID), From: from})
	return o, nil
}

// CancelOrder 管理员取消。已终结（含已取消）的订单返回 InvalidState。
func (s *OrderService) CancelOrder(ctx context.Context, orderID string, actor model.User, reason string) (*model.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("cancel reason required")
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, apperr.InvalidState("order is already %s", o.Status)
	}

	o.CancelReason = reason
	o.AppendHistory(model.StatusCancelled, reason, actor.ID, s.now())
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	s.metrics.StatusTransitions.WithLabelValues(string(model.StatusCancelled)).Inc()
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "actor": actor.ID, "reason": reason}).Info("order cancelled")

	s.logReport(o.ID, "cancellation", s.inventory.ApplyCancellationReversal(ctx, o.Items))

	s.pub.Publish(ctx, notify.OrderCancelled{Order: *o, Owner: s.owner(ctx, o.UserID), Reason: reason})
	return o, nil
}

// DeleteOrder 物理删除，返回被删订单 id。
func (s *OrderService) DeleteOrder(ctx context.Context, orderID string) (string, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "order_no": o.OrderNo}).Info("order deleted")

	s.pub.Publish(ctx, notify.OrderDeleted{OrderID: o.ID, OrderNo: o.OrderNo})
	return o.ID, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.orders.FindByID(ctx, orderID)
}

func (s *OrderService) ListMyOrders(ctx context.Context, ownerID string, f repository.OrderFilter) ([]model.Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", f.Status)
	}
	return s.orders.FindByOwner(ctx, ownerID, f)
}

// ListAllOrders 新单在前，附带下单人姓名与邮箱。
func (s *OrderService) ListAllOrders(ctx context.Context) ([]AdminOrder, error) {
	list, err := s.orders.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, o := range list {
		if !seen[o.UserID] {
			seen[o.UserID] = true
			ids = append(ids, o.UserID)
		}
	}
	owners, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]AdminOrder, 0, len(list))
	for _, o := range list {
		u := owners[o.UserID]
		out = append(out, AdminOrder{Order: o, Owner: OwnerSummary{ID: o.UserID, Name: u.Name, Email: u.Email}})
	}
	return out, nil
}

// SuggestedProducts 有库存、价格在 ±20% 内的其他商品。
func (s *OrderService) SuggestedProducts(ctx context.Context, productID string) ([]model.Product, error) {
	ref, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	return s.products.FindSimilar(ctx, ref)
}

// Escalate 把 Pending 订单的升级级别推进到 target，返回本次新触发的阶段。
// 先落库再发通知：持久化失败时不发提醒，下个周期重试。
func (s *OrderService) Escalate(ctx context.Context, orderID string, target model.Escalation) ([]model.Escalation, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != model.StatusPending {
		return nil, nil
	}
	var fired []model.Escalation
	for lvl := o.Escalation + 1; lvl <= target; lvl++ {
		fired = append(fired, lvl)
	}
	if !o.Advance(target) {
		return nil, nil
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}

	owner := s.owner(ctx, o.UserID)
	for _, stage := range fired {
		s.log.WithFields(logrus.Fields{"order_id": o.ID, "order_no": o.OrderNo, "stage": stage.String()}).Info("pending order escalated")
		s.pub.Publish(ctx, notify.PendingEscalation{Order: *o, Owner: owner, Stage: stage})
	}
	return fired, nil
}

// owner 查下单人；查不到时仍返回只带 id 的用户，通知走订单联系邮箱。
func (s *OrderService) owner(ctx context.Context, userID string) model.User {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.log.WithField("user_id", userID).WithError(err).Warn("owner lookup failed")
		return model.User{ID: userID}
	}
	return *u
}

func (s *OrderService) logReport(orderID, reason string, rep inventory.Report) {
	entry := s.log.WithFields(logrus.Fields{
		"order_id":  orderID,
		"reason":    reason,
		"updated":   len(rep.Updated),
		"low_stock": len(rep.LowStock),
		"failed":    len(rep.Failed),
	})
	if len(rep.Failed) > 0 {
		entry.Warn("stock adjusted with failures")
		return
	}
	entry.Info("stock adjusted")
}

func requireContact(address, phone, email string) error {
	switch {
	case strings.TrimSpace(address) == "":
		return apperr.Validation("address is required")
	case strings.TrimSpace(phone) == "":
		return apperr.Validation("phone is required")
	case strings.TrimSpace(email) == "":
		return apperr.Validation("contact email is required")
	}
	return nil
}

func setIfNonEmpty(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = strings.TrimSpace(*v)
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}
