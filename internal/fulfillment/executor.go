// Package fulfillment завершает выдачу заказа и списывает остатки меню.
package fulfillment

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/model"
	"github.com/mmeshcher/stallorder/internal/schedule"
)

// Store атомарно меняет заказ вместе со списанием остатков.
type Store interface {
	CompleteOrder(ctx context.Context, orderID string, fn func(*model.Order) ([]model.StockDelta, error)) (*model.Order, error)
}

// Ledger выполняет проверки журнала заказов внутри транзакции.
type Ledger interface {
	Verify(o *model.Order) error
	Authorize(actor model.Actor, o *model.Order) error
	CheckTransition(actor model.Actor, o *model.Order, to model.OrderStatus) error
	Seal(o *model.Order)
	Publish(o *model.Order)
}

// TokenValidator проверяет QR-токен выдачи.
type TokenValidator interface {
	ValidateToken(orderID, token string) bool
}

// Executor выполняет переход ready → completed.
type Executor struct {
	store  Store
	ledger Ledger
	tokens TokenValidator
	clock  schedule.Clock
	logger *zap.Logger
}

// NewExecutor создаёт исполнитель выдачи.
func NewExecutor(store Store, ledger Ledger, tokens TokenValidator, clock schedule.Clock, logger *zap.Logger) *Executor {
	return &Executor{
		store:  store,
		ledger: ledger,
		tokens: tokens,
		clock:  clock,
		logger: logger,
	}
}

func deltas(items []model.OrderItem) []model.StockDelta {
	byItem := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := byItem[it.MenuItemID]; !ok {
			order = append(order, it.MenuItemID)
		}
		byItem[it.MenuItemID] += it.Quantity
	}

	res := make([]model.StockDelta, 0, len(order))
	for _, id := range order {
		res = append(res, model.StockDelta{MenuItemID: id, Quantity: byItem[id]})
	}
	return res
}

// Complete подтверждает выдачу. Повторный вызов для завершённого заказа ничего не списывает.
func (e *Executor) Complete(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error) {
	changed := false

	o, err := e.store.CompleteOrder(ctx, orderID, func(o *model.Order) ([]model.StockDelta, error) {
		changed = false
		if err := e.ledger.Verify(o); err != nil {
			return nil, err
		}
		if err := e.ledger.Authorize(actor, o); err != nil {
			return nil, err
		}
		if o.Status == model.OrderStatusCompleted {
			return nil, apperr.ErrNoChange
		}
		if err := e.ledger.CheckTransition(actor, o, model.OrderStatusCompleted); err != nil {
			return nil, err
		}

		o.Status = model.OrderStatusCompleted
		o.UpdatedAt = e.clock.Now()
		e.ledger.Seal(o)
		changed = true
		return deltas(o.Items), nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			e.logger.Warn("order completion needs vendor attention",
				zap.String("orderID", orderID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	if changed {
		e.logger.Info("order completed",
			zap.String("orderID", orderID),
			zap.String("actor", actor.ID),
		)
		e.ledger.Publish(o)
	}
	return o, nil
}

// CompleteByToken завершает заказ по отсканированному QR-токену.
func (e *Executor) CompleteByToken(ctx context.Context, actor model.Actor, orderID, token string) (*model.Order, error) {
	if token == "" || !e.tokens.ValidateToken(orderID, token) {
		e.logger.Warn("invalid pickup token",
			zap.String("orderID", orderID),
			zap.String("actor", actor.ID),
		)
		return nil, apperr.ErrInvalidToken.With("pickup token does not match order %s", orderID)
	}
	return e.Complete(ctx, actor, orderID)
}
