package repository

import (
	"context"
	"errors"

	"medsupply/internal/apperr"
	"medsupply/internal/model"
	"medsupply/internal/pricing"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SimilarLimit 推荐商品数量上限。
const SimilarLimit = 5

type ProductStore struct {
	db *gorm.DB
}

func NewProductStore(db *gorm.DB) *ProductStore {
	return &ProductStore{db: db}
}

func (s *ProductStore) Create(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Quantity < 0 || p.Price < 0 {
		return apperr.Validation("quantity and price must be >= 0")
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return apperr.Transient(err, "create product")
	}
	return nil
}

func (s *ProductStore) FindByID(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("product not found")
		}
		return nil, apperr.Transient(err, "load product")
	}
	return &p, nil
}

// LookupPrice 供计价引擎查询当前目录价。
func (s *ProductStore) LookupPrice(ctx context.Context, id string) (pricing.CatalogEntry, bool, error) {
	p, err := s.FindByID(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return pricing.CatalogEntry{}, false, nil
		}
		return pricing.CatalogEntry{}, false, err
	}
	return pricing.CatalogEntry{Name: p.Name, Price: p.Price}, true, nil
}

func (s *ProductStore) List(ctx context.Context) ([]model.Product, error) {
	var list []model.Product
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&list).Error; err != nil {
		return nil, apperr.Transient(err, "list products")
	}
	return list, nil
}

func (s *ProductStore) Update(ctx context.Context, p *model.Product) error {
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return apperr.Transient(err, "save product")
	}
	return nil
}

// DecrementStock 原子执行 quantity = max(0, quantity - n) 并返回扣减后的商品。
// 更新与回读在同一事务里，不会读到其他请求的中间结果。
func (s *ProductStore) DecrementStock(ctx context.Context, id string, n int64) (*model.Product, error) {
	var p model.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Product{}).
			Where("id = ?", id).
			Update("quantity", gorm.Expr("CASE WHEN quantity > ? THEN quantity - ? ELSE 0 END", n, n))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("id = ?", id).First(&p).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("product %s not found", id)
		}
		return nil, apperr.Transient(err, "decrement stock")
	}
	return &p, nil
}

// FindSimilar 价格在 ±20% 以内且有库存的其他商品，最多 SimilarLimit 个。
// 用整数比较：5*price 落在 [4*ref, 6*ref]。
func (s *ProductStore) FindSimilar(ctx context.Context, ref *model.Product) ([]model.Product, error) {
	var list []model.Product
	err := s.db.WithContext(ctx).
		Where("id <> ? AND quantity > 0", ref.ID).
		Where("price * 5 >= ? AND price * 5 <= ?", ref.Price*4, ref.Price*6).
		Order("name ASC").
		Limit(SimilarLimit).
		Find(&list).Error
	if err != nil {
		return nil, apperr.Transient(err, "find similar products")
	}
	return list, nil
}
