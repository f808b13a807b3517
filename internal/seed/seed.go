// Package seed 写入演示账号与耗材目录，仅在 SEED_DEMO=true 时由 main 调用。
package seed

import (
	"context"

	"medsupply/internal/apperr"
	"medsupply/internal/model"

	"github.com/sirupsen/logrus"
)

const (
	AdminEmail    = "admin@example.com"
	HospitalEmail = "hospital@example.com"
)

type Users interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, u *model.User) error
}

type Products interface {
	List(ctx context.Context) ([]model.Product, error)
	Create(ctx context.Context, p *model.Product) error
}

var catalog = []model.Product{
	{Name: "Surgical Gloves", Description: "Latex gloves", Quantity: 100, Price: 250},
	{Name: "Face Masks", Description: "N95 masks", Quantity: 200, Price: 120},
	{Name: "Hand Sanitizer", Description: "Alcohol-based sanitizer", Quantity: 150, Price: 180},
	{Name: "IV Fluid", Description: "Sterile IV fluids", Quantity: 80, Price: 450},
	{Name: "Syringes", Description: "5ml syringes", Quantity: 300, Price: 15},
	{Name: "Bandages", Description: "Sterile bandages", Quantity: 120, Price: 60},
	{Name: "Thermometers", Description: "Digital thermometers", Quantity: 60, Price: 900},
	{Name: "Surgical Gowns", Description: "Disposable gowns", Quantity: 90, Price: 350},
	{Name: "Oxygen Masks", Description: "Adult oxygen masks", Quantity: 40, Price: 700},
	{Name: "Antibiotic Ointment", Description: "Topical ointment", Quantity: 70, Price: 140},
}

// Result 本次运行新建的数量；重复执行时为 0。
type Result struct {
	Users    int
	Products int
	AdminID  string
}

// Run 幂等：账号按邮箱去重，目录只在管理员名下还没有商品时写入。
func Run(ctx context.Context, users Users, products Products, log *logrus.Logger) (Result, error) {
	var res Result

	admin, created, err := ensureUser(ctx, users, model.User{
		Name: "Admin", Email: AdminEmail, Role: model.RoleAdmin, Verified: true,
	})
	if err != nil {
		return res, err
	}
	if created {
		res.Users++
	}
	res.AdminID = admin.ID

	_, created, err = ensureUser(ctx, users, model.User{
		Name: "City Hospital", Email: HospitalEmail, Role: model.RoleHospital, Verified: true,
	})
	if err != nil {
		return res, err
	}
	if created {
		res.Users++
	}

	existing, err := products.List(ctx)
	if err != nil {
		return res, err
	}
	for _, p := range existing {
		if p.CreatedBy == admin.ID {
			log.WithField("admin", admin.Email).Info("catalog already seeded")
			return res, nil
		}
	}
	for _, p := range catalog {
		p.CreatedBy = admin.ID
		if err := products.Create(ctx, &p); err != nil {
			return res, err
		}
		res.Products++
	}
	log.WithFields(logrus.Fields{"users": res.Users, "products": res.Products}).Info("demo data seeded")
	return res, nil
}

func ensureUser(ctx context.Context, users Users, u model.User) (*model.User, bool, error) {
	found, err := users.FindByEmail(ctx, u.Email)
	if err == nil {
		return found, false, nil
	}
	if apperr.KindOf(err) != apperr.KindNotFound {
		return nil, false, err
	}
	if err := users.Create(ctx, &u); err != nil {
		return nil, false, err
	}
	return &u, true, nil
}
