package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"medsupply/internal/apperr"
	"medsupply/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxOrderNoAttempts 生成短订单号的最大尝试次数。
const MaxOrderNoAttempts = 100

// OrderFilter 列表过滤；零值表示不过滤。
type OrderFilter struct {
	Status model.OrderStatus
	Search string
}

// OrderStore 订单持久化。
type OrderStore struct {
	db     *gorm.DB
	nextNo func() string
}

func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db, nextNo: randomOrderNo}
}

// WithOrderNoSource 替换订单号生成器（测试用）。
func (s *OrderStore) WithOrderNoSource(next func() string) *OrderStore {
	s.nextNo = next
	return s
}

// randomOrderNo 返回 1000-9999 之间的四位数字。
func randomOrderNo() string {
	return fmt.Sprintf("%d", 1000+rand.IntN(9000))
}

// Create 分配 uuid 与四位订单号后写库。
// 先查重再插入；插入时撞唯一索引（并发下单）同样计入一次尝试。
func (s *OrderStore) Create(ctx context.Context, o *model.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if !o.CreatedAt.IsZero() {
		o.CreatedAt = o.CreatedAt.UTC()
	}
	db := s.db.WithContext(ctx)
	for attempt := 0; attempt < MaxOrderNoAttempts; attempt++ {
		no := s.nextNo()

		var n int64
		if err := db.Model(&model.Order{}).Where("order_no = ?", no).Count(&n).Error; err != nil {
			return apperr.Transient(err, "check order number")
		}
		if n > 0 {
			continue
		}

		o.OrderNo = no
		err := db.Create(o).Error
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) {
			continue
		}
		o.OrderNo = ""
		return apperr.Transient(err, "create order")
	}
	o.OrderNo = ""
	return apperr.ExhaustedRetries("could not allocate a unique order number after %d attempts", MaxOrderNoAttempts)
}

func (s *OrderStore) FindByID(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("order not found")
		}
		return nil, apperr.Transient(err, "load order")
	}
	return &o, nil
}

// FindByOwner 按下单人列出订单，新单在前。
// Search 对商品名做大小写不敏感匹配；items 存为 JSON，所以在内存里过滤。
func (s *OrderStore) FindByOwner(ctx context.Context, userID string, f OrderFilter) ([]model.Order, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var list []model.Order
	if err := q.Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, apperr.Transient(err, "list orders")
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	if search == "" {
		return list, nil
	}
	out := list[:0]
	for i := range list {
		if list[i].ContainsItemName(search) {
			out = append(out, list[i])
		}
	}
	return out, nil
}

func (s *OrderStore) FindAll(ctx context.Context) ([]model.Order, error) {
	var list []model.Order
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, apperr.Transient(err, "list orders")
	}
	return list, nil
}

// FindPendingOlderThan 返回 created_at <= cutoff 的 Pending 订单，老单在前。
func (s *OrderStore) FindPendingOlderThan(ctx context.Context, cutoff time.Time) ([]model.Order, error) {
	var list []model.Order
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", model.StatusPending, cutoff.UTC()).
		Order("created_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, apperr.Transient(err, "scan pending orders")
	}
	return list, nil
}

func (s *OrderStore) FindCreatedSince(ctx context.Context, since time.Time) ([]model.Order, error) {
	var list []model.Order
	err := s.db.WithContext(ctx).Where("created_at >= ?", since.UTC()).Find(&list).Error
	if err != nil {
		return nil, apperr.Transient(err, "list recent orders")
	}
	return list, nil
}

// SumOrderedSince 统计 since 之后所有订单里某商品的下单总量（不区分状态）。
func (s *OrderStore) SumOrderedSince(ctx context.Context, productID string, since time.Time) (int64, error) {
	list, err := s.FindCreatedSince(ctx, since)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, o := range list {
		for _, it := range o.Items {
			if it.ProductID == productID {
				total += it.Quantity
			}
		}
	}
	return total, nil
}

// Update 整行保存。
func (s *OrderStore) Update(ctx context.Context, o *model.Order) error {
	if err := s.db.WithContext(ctx).Save(o).Error; err != nil {
		return apperr.Transient(err, "save order")
	}
	return nil
}

// Delete 物理删除。
func (s *OrderStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Order{})
	if res.Error != nil {
		return apperr.Transient(res.Error, "delete order")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("order not found")
	}
	return nil
}
