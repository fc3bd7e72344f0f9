// Package payment сверяет оплаты через мобильный кошелёк поверх журнала заказов.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/model"
	"github.com/mmeshcher/stallorder/internal/schedule"
)

// ExpiredReason записывается в отменённые по таймауту заказы.
const ExpiredReason = "payment window expired"

const sweepBatchSize = 100

// Store находит заказы с истёкшим окном оплаты.
type Store interface {
	ListExpiredWalletOrders(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Ledger описывает часть журнала заказов, через которую проходят все изменения.
type Ledger interface {
	Apply(ctx context.Context, actor model.Actor, orderID string, fn func(o *model.Order) error) (*model.Order, bool, error)
	CheckTransition(actor model.Actor, o *model.Order, to model.OrderStatus) error
}

// Awarder начисляет баллы за оплаченный заказ.
type Awarder interface {
	AwardForOrder(ctx context.Context, o *model.Order) (int64, error)
}

// Reconciler управляет подпотоком оплаты через кошелёк.
type Reconciler struct {
	ledger  Ledger
	store   Store
	loyalty Awarder
	clock   schedule.Clock
	window  time.Duration
	logger  *zap.Logger
}

// NewReconciler создаёт сервис сверки. window задаёт длительность окна оплаты.
func NewReconciler(ledger Ledger, store Store, loyalty Awarder, clock schedule.Clock, window time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		ledger:  ledger,
		store:   store,
		loyalty: loyalty,
		clock:   clock,
		window:  window,
		logger:  logger,
	}
}

// NewWalletPayment создаёт запись об ожидаемой оплате; код-ссылка совпадает с номером заказа.
func (r *Reconciler) NewWalletPayment(orderID string, amount model.Money, vendorHandle string) *model.WalletPayment {
	now := r.clock.Now()
	return &model.WalletPayment{
		Status:             model.WalletStatusPending,
		ReferenceCode:      orderID,
		Amount:             amount,
		VendorWalletHandle: vendorHandle,
		CreatedAt:          now,
		ExpiresAt:          now.Add(r.window),
	}
}

// Submission содержит данные перевода, указанные покупателем.
type Submission struct {
	ReferenceNumber string
	SenderNumber    string
}

// SubmitResult содержит ответ операции submit-payment.
type SubmitResult struct {
	Success bool
	Message string
	Order   *model.Order
}

func walletOf(o *model.Order) (*model.WalletPayment, error) {
	if o.PaymentMethod != model.PaymentMethodWallet || o.WalletPayment == nil {
		return nil, apperr.ErrPaymentMethodUnavailable.With("order %s is not a wallet order", o.OrderID)
	}
	return o.WalletPayment, nil
}

// SubmitPayment фиксирует, что покупатель отправил перевод. Повторная отправка не считается ошибкой.
func (r *Reconciler) SubmitPayment(ctx context.Context, actor model.Actor, orderID string, sub Submission) (SubmitResult, error) {
	sub.ReferenceNumber = strings.TrimSpace(sub.ReferenceNumber)
	sub.SenderNumber = strings.TrimSpace(sub.SenderNumber)
	if sub.ReferenceNumber == "" {
		return SubmitResult{}, apperr.ErrInvalidPayment.With("wallet reference number is required")
	}

	o, changed, err := r.ledger.Apply(ctx, actor, orderID, func(o *model.Order) error {
		wp, err := walletOf(o)
		if err != nil {
			return err
		}

		switch wp.Status {
		case model.WalletStatusPending:
		case model.WalletStatusExpired:
			return apperr.ErrPaymentWindowClosed.With("payment window for order %s has expired", o.OrderID)
		default:
			return apperr.ErrNoChange
		}

		now := r.clock.Now()
		if now.After(wp.ExpiresAt) {
			return apperr.ErrPaymentWindowClosed.With("payment window for order %s closed at %s", o.OrderID, wp.ExpiresAt.Format(time.RFC3339))
		}
		if err := r.ledger.CheckTransition(actor, o, model.OrderStatusPending); err != nil {
			return err
		}

		wp.Status = model.WalletStatusAwaitingVerification
		wp.SubmittedAt = &now
		wp.ReferenceNumber = sub.ReferenceNumber
		wp.SenderNumber = sub.SenderNumber
		o.Status = model.OrderStatusPending
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	if !changed {
		return SubmitResult{Success: true, Message: "Payment already submitted", Order: o}, nil
	}

	r.logger.Info("wallet payment submitted",
		zap.String("orderID", orderID),
		zap.String("reference", sub.ReferenceNumber),
	)
	return SubmitResult{Success: true, Message: "Payment submitted for verification", Order: o}, nil
}

// Verify фиксирует решение продавца. Отклонённая оплата не отменяет заказ автоматически.
func (r *Reconciler) Verify(ctx context.Context, actor model.Actor, orderID string, accepted bool) (*model.Order, error) {
	if actor.Role != model.RoleVendor && actor.Role != model.RoleAdmin {
		return nil, apperr.ErrNotOwner.With("only the vendor can verify payments")
	}

	target := model.WalletStatusFailed
	if accepted {
		target = model.WalletStatusVerified
	}

	o, changed, err := r.ledger.Apply(ctx, actor, orderID, func(o *model.Order) error {
		wp, err := walletOf(o)
		if err != nil {
			return err
		}
		if wp.Status == target {
			return apperr.ErrNoChange
		}
		if wp.Status != model.WalletStatusAwaitingVerification {
			return apperr.ErrInvalidTransition.With("payment for order %s is %s", o.OrderID, wp.Status)
		}
		if o.Status.Terminal() {
			return apperr.ErrInvalidTransition.With("order %s is already %s", o.OrderID, o.Status)
		}

		now := r.clock.Now()
		wp.Status = target
		wp.VerifiedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !changed {
		return o, nil
	}

	r.logger.Info("wallet payment verified",
		zap.String("orderID", orderID),
		zap.Bool("accepted", accepted),
	)

	if accepted && r.loyalty != nil {
		if _, err := r.loyalty.AwardForOrder(ctx, o); err != nil {
			r.logger.Error("loyalty award failed", zap.String("orderID", orderID), zap.Error(err))
		}
	}
	return o, nil
}

// Sweep отменяет заказы, не оплаченные до истечения окна. Безопасен при параллельном
// и повторном запуске: каждое изменение проверяет текущий статус заказа.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	now := r.clock.Now()

	ids, err := r.store.ListExpiredWalletOrders(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired wallet orders: %w", err)
	}

	expired := 0
	for _, id := range ids {
		_, changed, err := r.ledger.Apply(ctx, model.SystemActor, id, func(o *model.Order) error {
			if o.Status != model.OrderStatusAwaitingPayment || o.WalletPayment == nil {
				return apperr.ErrNoChange
			}
			if !now.After(o.WalletPayment.ExpiresAt) {
				return apperr.ErrNoChange
			}
			if err := r.ledger.CheckTransition(model.SystemActor, o, model.OrderStatusCancelled); err != nil {
				return err
			}
			o.Status = model.OrderStatusCancelled
			o.CancelReason = ExpiredReason
			o.WalletPayment.Status = model.WalletStatusExpired
			return nil
		})
		if err != nil {
			r.logger.Error("expire order failed", zap.String("orderID", id), zap.Error(err))
			continue
		}
		if changed {
			expired++
		}
	}

	if expired > 0 {
		r.logger.Info("expired unpaid orders", zap.Int("count", expired))
	}
	return expired, nil
}

// SweepTask адаптирует Sweep к планировщику.
func (r *Reconciler) SweepTask(ctx context.Context) error {
	_, err := r.Sweep(ctx)
	return err
}
