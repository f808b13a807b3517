package repository

import (
	"context"
	"errors"

	"medsupply/internal/apperr"
	"medsupply/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = model.UserApproved
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return apperr.Validation("email %s already registered", u.Email)
		}
		return apperr.Transient(err, "create user")
	}
	return nil
}

func (s *UserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Transient(err, "load user")
	}
	return &u, nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Transient(err, "load user")
	}
	return &u, nil
}

func (s *UserStore) FindByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	var list []model.User
	if err := s.db.WithContext(ctx).Where("role = ?", role).Find(&list).Error; err != nil {
		return nil, apperr.Transient(err, "list users")
	}
	return list, nil
}

// FindByIDs 批量取用户，返回 id -> user。
func (s *UserStore) FindByIDs(ctx context.Context, ids []string) (map[string]model.User, error) {
	out := make(map[string]model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, apperr.Transient(err, "list users")
	}
	for _, u := range list {
		out[u.ID] = u
	}
	return out, nil
}
