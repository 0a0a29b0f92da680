package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/barpoints-system/internal/model"
	"github.com/mmeshcher/barpoints-system/internal/points"
	"github.com/mmeshcher/barpoints-system/internal/repository"
	"github.com/mmeshcher/barpoints-system/internal/role"
)

// SubmitSaleInput описывает заявку на регистрацию продажи.
type SubmitSaleInput struct {
	ProductID int64
	BarID     int64
	Bar       string
	Quantity  int64
	ProofRef  string
}

// SubmitSale регистрирует продажу в статусе pending. Цена и баллы
// рассчитываются и снимаются на продажу здесь; баллы будут начислены на
// баланс только при одобрении модератором.
func (s *Service) SubmitSale(ctx context.Context, userID int64, in SubmitSaleInput) (*model.Sale, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, fmt.Errorf("deactivated user cannot submit sales: %w", model.ErrForbidden)
	}

	product, err := s.repo.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}

	price, earned, err := points.Calculate(*product, in.Quantity)
	if err != nil {
		return nil, err
	}

	sale := &model.Sale{
		UserID:             userID,
		BarID:              in.BarID,
		Bar:                in.Bar,
		Product:            product.Name,
		Brand:              product.Brand,
		Quantity:           in.Quantity,
		Price:              price,
		PointsEarned:       earned,
		ProofRef:           in.ProofRef,
		VerificationStatus: model.SalePending,
	}

	id, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return nil, err
	}
	sale.ID = id

	return sale, nil
}

// VerifySale выполняет решение модерации по продаже. Право модерации и
// попадание продажи в область видимости модератора проверяются до перехода;
// сам эффект на баланс применяется хранилищем атомарно.
func (s *Service) VerifySale(ctx context.Context, actor role.Scope, saleID int64, target model.VerificationStatus, notes string) (*model.Sale, error) {
	if !actor.CanModerate() {
		return nil, fmt.Errorf("role %q cannot moderate sales: %w", actor.Role, model.ErrForbidden)
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if !actor.AllowsSale(sale) {
		return nil, fmt.Errorf("sale %d is out of moderation scope: %w", saleID, model.ErrForbidden)
	}

	txnID, err := newTxnID()
	if err != nil {
		return nil, err
	}

	return s.repo.ApplyVerification(ctx, repository.VerificationUpdate{
		SaleID:     saleID,
		Target:     target,
		VerifiedBy: actor.UserID,
		VerifiedAt: time.Now(),
		Notes:      notes,
		TxnID:      txnID,
	})
}

// ListSales возвращает продажи в области видимости роли, при необходимости
// отфильтрованные по статусу модерации.
func (s *Service) ListSales(ctx context.Context, actor role.Scope, status *model.VerificationStatus) ([]model.Sale, error) {
	f := repository.SaleFilter{Status: status}

	switch actor.Role {
	case model.RoleAdmin:
	case model.RoleBrandRep:
		// Представитель без назначенных брендов не видит ничего.
		if len(actor.Brands) == 0 {
			return nil, nil
		}
		f.Brands = actor.Brands
	case model.RoleBarManager:
		if actor.BarID == nil {
			return nil, nil
		}
		f.BarID = actor.BarID
	default:
		userID := actor.UserID
		f.UserID = &userID
	}

	return s.repo.ListSales(ctx, f)
}

// GetSale возвращает продажу, если она попадает в область видимости роли.
func (s *Service) GetSale(ctx context.Context, actor role.Scope, saleID int64) (*model.Sale, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if !actor.AllowsSale(sale) {
		return nil, fmt.Errorf("sale %d is out of scope: %w", saleID, model.ErrForbidden)
	}
	return sale, nil
}
