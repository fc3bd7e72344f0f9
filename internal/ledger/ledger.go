// Package ledger реализует авторитетную машину состояний заказов.
package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/model"
	"github.com/mmeshcher/stallorder/internal/schedule"
)

// Store описывает документное хранилище заказов с атомарным чтением-изменением-записью.
type Store interface {
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	UpdateOrder(ctx context.Context, orderID string, fn func(*model.Order) error) (*model.Order, error)
	ListOrders(ctx context.Context, filter model.OrderFilter) ([]*model.Order, error)
}

// Sealer пересчитывает и проверяет контрольную сумму заказа.
type Sealer interface {
	Seal(o *model.Order)
	Check(o *model.Order) error
}

// Publisher получает снимки заказов после каждого сохранённого изменения.
type Publisher interface {
	Publish(o *model.Order)
}

// Ledger управляет жизненным циклом заказов.
type Ledger struct {
	store        Store
	sealer       Sealer
	publisher    Publisher
	clock        schedule.Clock
	cancelWindow time.Duration
	logger       *zap.Logger
}

// New создаёт журнал заказов. cancelWindow ограничивает отмену заказа покупателем.
func New(store Store, sealer Sealer, publisher Publisher, clock schedule.Clock, cancelWindow time.Duration, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:        store,
		sealer:       sealer,
		publisher:    publisher,
		clock:        clock,
		cancelWindow: cancelWindow,
		logger:       logger,
	}
}

func checkInvariants(o *model.Order) error {
	if len(o.Items) == 0 {
		return apperr.ErrInvalidOrder.With("order %s has no items", o.OrderID)
	}
	if sub := model.ComputeSubtotal(o.Items); sub != o.Subtotal {
		return apperr.ErrInvalidOrder.With("order %s subtotal %s, items sum to %s", o.OrderID, o.Subtotal, sub)
	}
	if o.VoucherDiscount < 0 || o.VoucherDiscount > o.Subtotal {
		return apperr.ErrInvalidOrder.With("order %s discount %s out of range", o.OrderID, o.VoucherDiscount)
	}
	if o.TotalAmount != o.Subtotal-o.VoucherDiscount {
		return apperr.ErrInvalidOrder.With("order %s total %s != subtotal - discount", o.OrderID, o.TotalAmount)
	}
	if o.Status != InitialStatus(o.PaymentMethod) {
		return apperr.ErrInvalidOrder.With("order %s cannot start in status %s", o.OrderID, o.Status)
	}
	if o.PaymentMethod == model.PaymentMethodWallet && o.WalletPayment == nil {
		return apperr.ErrInvalidOrder.With("wallet order %s has no payment record", o.OrderID)
	}
	return nil
}

// Create проверяет инварианты, запечатывает и сохраняет новый заказ.
// Заказ считается созданным только после подтверждённой записи.
func (l *Ledger) Create(ctx context.Context, o *model.Order) error {
	if err := checkInvariants(o); err != nil {
		return err
	}

	if o.CreatedAt.IsZero() {
		o.CreatedAt = l.clock.Now()
	}
	o.UpdatedAt = o.CreatedAt
	l.sealer.Seal(o)

	if err := l.store.CreateOrder(ctx, o); err != nil {
		return fmt.Errorf("create order %s: %w", o.OrderID, err)
	}

	l.logger.Info("order created",
		zap.String("orderID", o.OrderID),
		zap.String("vendorID", o.VendorID),
		zap.String("status", string(o.Status)),
	)
	l.publish(o)
	return nil
}

// Authorize проверяет, что участник имеет доступ к заказу.
func (l *Ledger) Authorize(actor model.Actor, o *model.Order) error {
	var ok bool
	switch actor.Role {
	case model.RoleAdmin, model.RoleSystem:
		ok = true
	case model.RoleCustomer:
		ok = actor.ID != "" && actor.ID == o.CustomerID
	case model.RoleVendor:
		ok = actor.ID != "" && actor.ID == o.VendorID
	}
	if ok {
		return nil
	}

	l.logger.Warn("order ownership violation",
		zap.String("orderID", o.OrderID),
		zap.String("actorID", actor.ID),
		zap.String("role", string(actor.Role)),
	)
	return apperr.ErrNotOwner.With("actor %s does not own order %s", actor.ID, o.OrderID)
}

// Verify проверяет целостность заказа; при несовпадении дальнейшие изменения запрещены.
func (l *Ledger) Verify(o *model.Order) error {
	if err := l.sealer.Check(o); err != nil {
		l.logger.Warn("order integrity violation", zap.String("orderID", o.OrderID), zap.Error(err))
		return err
	}
	return nil
}

// CheckTransition проверяет таблицу переходов, роль участника и политику отмены.
func (l *Ledger) CheckTransition(actor model.Actor, o *model.Order, to model.OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return apperr.ErrInvalidTransition.With("order %s cannot move from %s to %s", o.OrderID, o.Status, to)
	}

	if !roleAllowed(o.Status, to, actor.Role) {
		if to == model.OrderStatusCancelled && actor.Role == model.RoleCustomer {
			return apperr.ErrCancelWindowClosed.With("order %s is %s and can no longer be cancelled", o.OrderID, o.Status)
		}
		return apperr.ErrNotOwner.With("%s cannot move order %s from %s to %s", actor.Role, o.OrderID, o.Status, to)
	}

	if to == model.OrderStatusPreparing && o.PaymentMethod == model.PaymentMethodWallet {
		if o.WalletPayment == nil || o.WalletPayment.Status != model.WalletStatusVerified {
			return apperr.ErrInvalidTransition.With("wallet payment for order %s is not verified", o.OrderID)
		}
	}

	if to == model.OrderStatusCancelled && actor.Role == model.RoleCustomer {
		if l.clock.Now().Sub(o.CreatedAt) > l.cancelWindow {
			return apperr.ErrCancelWindowClosed.With("order %s can only be cancelled within %s of placing it", o.OrderID, l.cancelWindow)
		}
	}

	return nil
}

// Apply атомарно изменяет заказ: проверяет целостность и владение, вызывает fn,
// обновляет updatedAt и контрольную сумму. fn может вернуть apperr.ErrNoChange.
// Возвращает итоговый заказ и признак того, что запись была изменена.
func (l *Ledger) Apply(ctx context.Context, actor model.Actor, orderID string, fn func(o *model.Order) error) (*model.Order, bool, error) {
	changed := false

	o, err := l.store.UpdateOrder(ctx, orderID, func(o *model.Order) error {
		// Хранилище может повторить fn после конфликта транзакций.
		changed = false
		if err := l.Verify(o); err != nil {
			return err
		}
		if err := l.Authorize(actor, o); err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
		o.UpdatedAt = l.clock.Now()
		l.sealer.Seal(o)
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		l.publish(o)
	}
	return o, changed, nil
}

// Transition переводит заказ в новый статус. Завершение выполняет только исполнитель выдачи.
func (l *Ledger) Transition(ctx context.Context, actor model.Actor, orderID string, to model.OrderStatus, reason string) (*model.Order, error) {
	return l.transition(ctx, actor, orderID, "", to, reason)
}

// transition при непустом from требует, чтобы заказ находился в этом статусе в момент записи.
func (l *Ledger) transition(ctx context.Context, actor model.Actor, orderID string, from, to model.OrderStatus, reason string) (*model.Order, error) {
	if to == model.OrderStatusCompleted {
		return nil, apperr.ErrInvalidTransition.With("order %s is completed through pickup fulfillment", orderID)
	}

	o, _, err := l.Apply(ctx, actor, orderID, func(o *model.Order) error {
		if from != "" && o.Status != from {
			return apperr.ErrInvalidTransition.With("order %s is %s, expected %s", o.OrderID, o.Status, from)
		}
		if err := l.CheckTransition(actor, o, to); err != nil {
			return err
		}
		o.Status = to
		if to == model.OrderStatusCancelled {
			o.CancelReason = reason
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("order status changed",
		zap.String("orderID", orderID),
		zap.String("status", string(to)),
		zap.String("actor", actor.ID),
	)
	return o, nil
}

// Decline отменяет заказ, который продавец ещё не принял в работу.
func (l *Ledger) Decline(ctx context.Context, actor model.Actor, orderID, reason string) (*model.Order, error) {
	if reason == "" {
		reason = "declined by vendor"
	}
	return l.transition(ctx, actor, orderID, model.OrderStatusPending, model.OrderStatusCancelled, reason)
}

// Cancel отменяет заказ с указанной причиной с учётом политики отмены.
func (l *Ledger) Cancel(ctx context.Context, actor model.Actor, orderID, reason string) (*model.Order, error) {
	if reason == "" {
		reason = fmt.Sprintf("cancelled by %s", actor.Role)
	}
	return l.Transition(ctx, actor, orderID, model.OrderStatusCancelled, reason)
}

// Get возвращает заказ после проверки целостности и доступа.
func (l *Ledger) Get(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error) {
	o, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := l.Authorize(actor, o); err != nil {
		return nil, err
	}
	if err := l.Verify(o); err != nil {
		return nil, err
	}
	return o, nil
}

// List возвращает заказы, видимые участнику.
func (l *Ledger) List(ctx context.Context, actor model.Actor, filter model.OrderFilter) ([]*model.Order, error) {
	switch actor.Role {
	case model.RoleCustomer:
		filter.CustomerID = actor.ID
	case model.RoleVendor:
		filter.VendorID = actor.ID
	case model.RoleAdmin, model.RoleSystem:
	default:
		return nil, apperr.ErrNotOwner.With("role %q cannot list orders", actor.Role)
	}

	orders, err := l.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	res := orders[:0]
	for _, o := range orders {
		if err := l.Verify(o); err != nil {
			continue
		}
		res = append(res, o)
	}
	return res, nil
}

// Publish отправляет снимок заказа подписчикам.
func (l *Ledger) Publish(o *model.Order) {
	l.publish(o)
}

func (l *Ledger) publish(o *model.Order) {
	if l.publisher != nil {
		l.publisher.Publish(o.Clone())
	}
}

// Seal пересчитывает контрольную сумму заказа.
func (l *Ledger) Seal(o *model.Order) {
	l.sealer.Seal(o)
}
