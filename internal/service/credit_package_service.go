package service

import (
	"context"

	"walletsvc/internal/model"
	"walletsvc/internal/repository"

	"gorm.io/gorm"
)

// CreditPackageService 积分套餐查询服务（只读目录）
type CreditPackageService struct {
	packages *repository.CreditPackageRepository
}

func NewCreditPackageService(db *gorm.DB) *CreditPackageService {
	return &CreditPackageService{
		packages: repository.NewCreditPackageRepository(db),
	}
}

func (s *CreditPackageService) ListActivePackages(ctx context.Context) ([]*model.CreditPackage, error) {
	return s.packages.ListActive(ctx)
}

func (s *CreditPackageService) GetPackage(ctx context.Context, id int64) (*model.CreditPackage, error) {
	return s.packages.GetByID(ctx, id)
}
