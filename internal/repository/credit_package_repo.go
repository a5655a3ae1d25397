package repository

import (
	"context"
	"errors"

	"walletsvc/internal/errs"
	"walletsvc/internal/model"

	"gorm.io/gorm"
)

type CreditPackageRepository struct {
	db *gorm.DB
}

func NewCreditPackageRepository(db *gorm.DB) *CreditPackageRepository {
	return &CreditPackageRepository{db: db}
}

func (r *CreditPackageRepository) ListActive(ctx context.Context) ([]*model.CreditPackage, error) {
	var packages []*model.CreditPackage
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("display_order ASC").
		Find(&packages).Error
	return packages, err
}

func (r *CreditPackageRepository) GetByID(ctx context.Context, id int64) (*model.CreditPackage, error) {
	var pkg model.CreditPackage
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}
