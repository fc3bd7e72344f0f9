// Package loyalty начисляет баллы лояльности и управляет погашением ваучеров.
package loyalty

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/model"
	"github.com/mmeshcher/stallorder/internal/schedule"
)

// Store описывает хранилище баллов и ваучеров.
type Store interface {
	AddPoints(ctx context.Context, customerID string, points int64) (int64, error)
	GetPoints(ctx context.Context, customerID string) (int64, error)
	MarkVendorVisit(ctx context.Context, customerID, vendorID string) (bool, error)
	GetVoucher(ctx context.Context, code string) (*model.Voucher, error)
	CommitVoucher(ctx context.Context, code, customerID, orderID string) error
}

// Accounting начисляет баллы и проверяет ваучеры.
type Accounting struct {
	store  Store
	clock  schedule.Clock
	logger *zap.Logger
}

// NewAccounting создаёт сервис лояльности.
func NewAccounting(store Store, clock schedule.Clock, logger *zap.Logger) *Accounting {
	return &Accounting{store: store, clock: clock, logger: logger}
}

// tierThresholds упорядочены по убыванию.
var tierThresholds = []struct {
	min  int64
	tier model.Tier
}{
	{5000, model.TierPlatinum},
	{2000, model.TierGold},
	{500, model.TierSilver},
	{0, model.TierBronze},
}

// TierFor возвращает уровень для накопленных баллов. Функция монотонна.
func TierFor(points int64) model.Tier {
	for _, t := range tierThresholds {
		if points >= t.min {
			return t.tier
		}
	}
	return model.TierBronze
}

// PointsFor начисляет один балл за каждые полные 10 единиц валюты, вдвое больше за первый заказ у продавца.
func PointsFor(amountPaid model.Money, firstAtVendor bool) int64 {
	if amountPaid <= 0 {
		return 0
	}
	points := int64(amountPaid) / 10_00
	if firstAtVendor {
		points *= 2
	}
	return points
}

// AwardPoints начисляет баллы и возвращает их количество.
func (a *Accounting) AwardPoints(ctx context.Context, customerID string, amountPaid model.Money, firstAtVendor bool) (int64, error) {
	points := PointsFor(amountPaid, firstAtVendor)
	if points == 0 {
		return 0, nil
	}

	total, err := a.store.AddPoints(ctx, customerID, points)
	if err != nil {
		return 0, fmt.Errorf("add points: %w", err)
	}

	a.logger.Info("loyalty points awarded",
		zap.String("customerID", customerID),
		zap.Int64("points", points),
		zap.Int64("total", total),
	)
	return points, nil
}

// AwardForOrder начисляет баллы за оплаченный заказ с учётом первого визита к продавцу.
func (a *Accounting) AwardForOrder(ctx context.Context, o *model.Order) (int64, error) {
	first, err := a.store.MarkVendorVisit(ctx, o.CustomerID, o.VendorID)
	if err != nil {
		return 0, fmt.Errorf("mark vendor visit: %w", err)
	}
	return a.AwardPoints(ctx, o.CustomerID, o.TotalAmount, first)
}

// Account возвращает баланс покупателя с производным уровнем.
func (a *Accounting) Account(ctx context.Context, customerID string) (*model.LoyaltyAccount, error) {
	points, err := a.store.GetPoints(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("get points: %w", err)
	}
	return &model.LoyaltyAccount{
		CustomerID: customerID,
		Points:     points,
		Tier:       TierFor(points),
	}, nil
}

// Reservation описывает проверенный, но ещё не погашенный ваучер.
type Reservation struct {
	Code     string
	Discount model.Money
}

// Reserve проверяет применимость ваучера без его погашения.
func (a *Accounting) Reserve(ctx context.Context, code, customerID string, subtotal model.Money) (*Reservation, error) {
	v, err := a.store.GetVoucher(ctx, code)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrVoucherInvalid.With("voucher %s does not exist", code)
		}
		return nil, fmt.Errorf("get voucher: %w", err)
	}

	if v.UsedAt != nil {
		return nil, apperr.ErrVoucherInvalid.With("voucher %s has already been used", code)
	}
	if v.ExpiresAt != nil && !a.clock.Now().Before(*v.ExpiresAt) {
		return nil, apperr.ErrVoucherInvalid.With("voucher %s has expired", code)
	}
	if subtotal < v.MinSpend {
		return nil, apperr.ErrVoucherInvalid.With("voucher %s requires a minimum spend of %s", code, v.MinSpend)
	}

	discount := v.Discount
	if v.Percent > 0 {
		rate := decimal.NewFromInt(int64(v.Percent)).Div(decimal.NewFromInt(100))
		discount = model.MoneyFromDecimal(subtotal.Decimal().Mul(rate))
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount <= 0 {
		return nil, apperr.ErrVoucherInvalid.With("voucher %s grants no discount", code)
	}

	return &Reservation{Code: v.Code, Discount: discount}, nil
}

// Commit погашает ваучер и связывает его с заказом. Вызывается только после сохранения заказов.
func (a *Accounting) Commit(ctx context.Context, code, customerID, orderID string) error {
	if err := a.store.CommitVoucher(ctx, code, customerID, orderID); err != nil {
		return fmt.Errorf("commit voucher: %w", err)
	}
	a.logger.Info("voucher redeemed",
		zap.String("code", code),
		zap.String("customerID", customerID),
		zap.String("orderID", orderID),
	)
	return nil
}
