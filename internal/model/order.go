package model

import (
	"strings"
	"time"
)

// OrderStatus 订单状态，按履约顺序排列。
type OrderStatus string

const (
	StatusPending        OrderStatus = "Pending"
	StatusAccepted       OrderStatus = "Accepted"
	StatusPacked         OrderStatus = "Packed"
	StatusShipped        OrderStatus = "Shipped"
	StatusOutForDelivery OrderStatus = "Out for Delivery"
	StatusDelivered      OrderStatus = "Delivered"
	StatusCancelled      OrderStatus = "Cancelled"
)

var statusRank = map[OrderStatus]int{
	StatusPending:        0,
	StatusAccepted:       1,
	StatusPacked:         2,
	StatusShipped:        3,
	StatusOutForDelivery: 4,
	StatusDelivered:      5,
	StatusCancelled:      6,
}

// Valid reports whether s is one of the fixed statuses.
func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal: Delivered 与 Cancelled 之后不允许任何迁移。
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Escalation 待处理订单的升级阶段，只能前进。
type Escalation int

const (
	EscalationNone Escalation = iota
	EscalationNotified2Min
	EscalationHighPriority
	EscalationNotified10Min
)

func (e Escalation) String() string {
	switch e {
	case EscalationNotified2Min:
		return "notified_2min"
	case EscalationHighPriority:
		return "high_priority"
	case EscalationNotified10Min:
		return "notified_10min"
	default:
		return "none"
	}
}

const PaymentCOD = "COD"

// OrderItem 下单时的价格快照。
type OrderItem struct {
	ProductID string `json:"product"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	Price     int64  `json:"price"`
	Subtotal  int64  `json:"subtotal"`
}

// StatusEntry 状态历史，只追加。
type StatusEntry struct {
	Status    OrderStatus `json:"status"`
	ChangedAt time.Time   `json:"changed_at"`
	Note      string      `json:"note,omitempty"`
	ChangedBy string      `json:"changed_by"`
}

// Order 医院订单
type Order struct {
	ID        string    `gorm:"primarykey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderNo string `gorm:"size:8;uniqueIndex;not null" json:"order_id"`
	UserID  string `gorm:"size:36;not null;index" json:"user"`

	Items []OrderItem `gorm:"serializer:json;type:text" json:"items"`

	Address      string `gorm:"size:512;not null" json:"address"`
	Phone        string `gorm:"size:32;not null" json:"phone"`
	AltPhone     string `gorm:"size:32" json:"alt_phone,omitempty"`
	ContactEmail string `gorm:"size:255;not null" json:"contact_email"`
	Notes        string `gorm:"type:text" json:"notes"`
	PaymentMode  string `gorm:"size:8;not null;default:COD" json:"payment_mode"`

	Status        OrderStatus   `gorm:"size:32;not null;default:Pending;index" json:"status"`
	StatusHistory []StatusEntry `gorm:"serializer:json;type:text" json:"status_history"`
	CancelReason  string        `gorm:"size:512" json:"cancel_reason,omitempty"`

	TotalPrice         int64 `gorm:"not null;default:0" json:"total_price"`
	DiscountPercentage int64 `gorm:"not null;default:0" json:"discount_percentage"`
	DiscountAmount     int64 `gorm:"not null;default:0" json:"discount_amount"`
	FinalAmount        int64 `gorm:"not null;default:0" json:"final_amount"`

	Escalation Escalation `gorm:"not null;default:0" json:"escalation"`
}

func (Order) TableName() string { return "orders" }

// AppendHistory 追加一条状态记录并同步 Status。
func (o *Order) AppendHistory(status OrderStatus, note, actor string, at time.Time) {
	o.Status = status
	o.StatusHistory = append(o.StatusHistory, StatusEntry{
		Status:    status,
		ChangedAt: at,
		Note:      note,
		ChangedBy: actor,
	})
}

func (o *Order) Notified2Min() bool  { return o.Escalation >= EscalationNotified2Min }
func (o *Order) HighPriority() bool  { return o.Escalation >= EscalationHighPriority }
func (o *Order) Notified10Min() bool { return o.Escalation >= EscalationNotified10Min }

// Advance moves the escalation level forward; lower or equal levels are ignored.
func (o *Order) Advance(to Escalation) bool {
	if to <= o.Escalation {
		return false
	}
	o.Escalation = to
	return true
}

// ContainsItemName 对商品名做大小写不敏感的子串匹配。
func (o *Order) ContainsItemName(lowerSearch string) bool {
	for _, it := range o.Items {
		if strings.Contains(strings.ToLower(it.Name), lowerSearch) {
			return true
		}
	}
	return false
}
