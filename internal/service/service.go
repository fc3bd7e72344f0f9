// Package service собирает компоненты сервиса заказов и предоставляет их HTTP-слою.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/composer"
	"github.com/mmeshcher/stallorder/internal/events"
	"github.com/mmeshcher/stallorder/internal/fraud"
	"github.com/mmeshcher/stallorder/internal/fulfillment"
	"github.com/mmeshcher/stallorder/internal/integrity"
	"github.com/mmeshcher/stallorder/internal/ledger"
	"github.com/mmeshcher/stallorder/internal/loyalty"
	"github.com/mmeshcher/stallorder/internal/model"
	"github.com/mmeshcher/stallorder/internal/payment"
	"github.com/mmeshcher/stallorder/internal/schedule"
)

// Repository описывает хранилище, которого достаточно всем компонентам сервиса.
type Repository interface {
	ledger.Store
	payment.Store
	fulfillment.Store
	loyalty.Store
	fraud.Store
	composer.Catalog
	composer.Carts

	AddCartLine(ctx context.Context, customerID string, line model.CartLine) error
	RemoveCartLine(ctx context.Context, customerID, lineID string) error
	Close() error
}

// Options содержит параметры бизнес-логики.
type Options struct {
	IntegritySecret string
	PaymentWindow   time.Duration
	CancelWindow    time.Duration
	Clock           schedule.Clock
}

// Service объединяет журнал заказов, оформление, оплату и выдачу.
type Service struct {
	repo        Repository
	broker      *events.Broker
	ledger      *ledger.Ledger
	guard       *fraud.Guard
	loyalty     *loyalty.Accounting
	payments    *payment.Reconciler
	fulfillment *fulfillment.Executor
	composer    *composer.Composer
	logger      *zap.Logger
}

// NewService собирает сервис поверх указанного хранилища.
func NewService(repo Repository, opts Options, logger *zap.Logger) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = schedule.SystemClock{}
	}

	codec := integrity.NewCodec(opts.IntegritySecret)
	broker := events.NewBroker()
	l := ledger.New(repo, codec, broker, clock, opts.CancelWindow, logger.Named("ledger"))
	guard := fraud.NewGuard(repo, codec, clock, logger.Named("fraud"))
	acc := loyalty.NewAccounting(repo, clock, logger.Named("loyalty"))
	rec := payment.NewReconciler(l, repo, acc, clock, opts.PaymentWindow, logger.Named("payment"))

	return &Service{
		repo:        repo,
		broker:      broker,
		ledger:      l,
		guard:       guard,
		loyalty:     acc,
		payments:    rec,
		fulfillment: fulfillment.NewExecutor(repo, l, codec, clock, logger.Named("fulfillment")),
		composer:    composer.New(repo, repo, guard, acc, l, rec, clock, logger.Named("composer")),
		logger:      logger,
	}
}

// Close закрывает шину событий и хранилище.
func (s *Service) Close() error {
	s.broker.Close()
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Broker возвращает шину изменений заказов.
func (s *Service) Broker() *events.Broker {
	return s.broker
}

// SweepTask отменяет заказы с истёкшим окном оплаты.
func (s *Service) SweepTask(ctx context.Context) error {
	return s.payments.SweepTask(ctx)
}

// PruneTask удаляет устаревшие отметки антифрода.
func (s *Service) PruneTask(ctx context.Context) error {
	return s.guard.Prune(ctx)
}

func requireCustomer(actor model.Actor) error {
	if actor.Role != model.RoleCustomer || actor.ID == "" {
		return apperr.ErrNotOwner.With("only customers have a cart")
	}
	return nil
}

// GetCart возвращает корзину покупателя.
func (s *Service) GetCart(ctx context.Context, actor model.Actor) ([]model.CartLine, error) {
	if err := requireCustomer(actor); err != nil {
		return nil, err
	}
	lines, err := s.repo.GetCart(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if lines == nil {
		lines = []model.CartLine{}
	}
	return lines, nil
}

// AddCartLine добавляет позицию в корзину с ценами из каталога.
func (s *Service) AddCartLine(ctx context.Context, actor model.Actor, line model.CartLine) (model.CartLine, error) {
	if err := requireCustomer(actor); err != nil {
		return model.CartLine{}, err
	}
	if line.MenuItemID == "" || line.Quantity <= 0 {
		return model.CartLine{}, apperr.ErrInvalidLine.With("menuItemId and a positive quantity are required")
	}

	items, err := s.repo.GetMenuItems(ctx, []string{line.MenuItemID})
	if err != nil {
		return model.CartLine{}, fmt.Errorf("get menu item: %w", err)
	}
	item, ok := items[line.MenuItemID]
	if !ok || !item.Available {
		return model.CartLine{}, apperr.ErrItemUnavailable.With("menu item %s is not available", line.MenuItemID)
	}

	addOns := make([]model.AddOn, 0, len(line.AddOns))
	for _, want := range line.AddOns {
		found := false
		for _, a := range item.AddOns {
			if strings.EqualFold(a.Name, want.Name) {
				addOns = append(addOns, a)
				found = true
				break
			}
		}
		if !found {
			return model.CartLine{}, apperr.ErrItemUnavailable.With("add-on %q is not offered for %s", want.Name, item.Name)
		}
	}

	res := model.CartLine{
		LineID:     uuid.NewString(),
		MenuItemID: item.ID,
		VendorID:   item.VendorID,
		Name:       item.Name,
		UnitPrice:  item.Price,
		Quantity:   line.Quantity,
		AddOns:     addOns,
		Note:       strings.TrimSpace(line.Note),
	}
	if err := s.repo.AddCartLine(ctx, actor.ID, res); err != nil {
		return model.CartLine{}, fmt.Errorf("add cart line: %w", err)
	}
	return res, nil
}

// RemoveCartLine удаляет позицию корзины.
func (s *Service) RemoveCartLine(ctx context.Context, actor model.Actor, lineID string) error {
	if err := requireCustomer(actor); err != nil {
		return err
	}
	return s.repo.RemoveCartLine(ctx, actor.ID, lineID)
}

// ClearCart очищает корзину.
func (s *Service) ClearCart(ctx context.Context, actor model.Actor) error {
	if err := requireCustomer(actor); err != nil {
		return err
	}
	return s.repo.ClearCart(ctx, actor.ID)
}

// Checkout оформляет корзину.
func (s *Service) Checkout(ctx context.Context, req composer.CheckoutRequest) (*composer.CheckoutResult, error) {
	return s.composer.Checkout(ctx, req)
}

// ListOrders возвращает заказы, видимые участнику.
func (s *Service) ListOrders(ctx context.Context, actor model.Actor, filter model.OrderFilter) ([]*model.Order, error) {
	orders, err := s.ledger.List(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []*model.Order{}
	}
	return orders, nil
}

// GetOrder возвращает заказ участнику, имеющему к нему доступ.
func (s *Service) GetOrder(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error) {
	return s.ledger.Get(ctx, actor, orderID)
}

// Subscribe проверяет доступ к заказу и подписывает на его изменения.
// Первым в канал не попадает ничего: текущее состояние возвращается отдельно.
func (s *Service) Subscribe(ctx context.Context, actor model.Actor, orderID string) (*model.Order, <-chan *model.Order, func(), error) {
	ch, cancel := s.broker.Subscribe(events.Filter{OrderID: orderID})

	o, err := s.ledger.Get(ctx, actor, orderID)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return o, ch, cancel, nil
}

// SubmitPayment фиксирует перевод через кошелёк.
func (s *Service) SubmitPayment(ctx context.Context, actor model.Actor, orderID string, sub payment.Submission) (payment.SubmitResult, error) {
	return s.payments.SubmitPayment(ctx, actor, orderID, sub)
}

// VerifyPayment фиксирует решение продавца по переводу.
func (s *Service) VerifyPayment(ctx context.Context, actor model.Actor, orderID string, accepted bool) (*model.Order, error) {
	return s.payments.Verify(ctx, actor, orderID, accepted)
}

// CancelOrder отменяет заказ с учётом политики отмены.
func (s *Service) CancelOrder(ctx context.Context, actor model.Actor, orderID, reason string) (*model.Order, error) {
	return s.ledger.Cancel(ctx, actor, orderID, reason)
}

// AcceptOrder переводит заказ в приготовление.
func (s *Service) AcceptOrder(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error) {
	return s.ledger.Transition(ctx, actor, orderID, model.OrderStatusPreparing, "")
}

// DeclineOrder отклоняет заказ, ещё не принятый в работу.
func (s *Service) DeclineOrder(ctx context.Context, actor model.Actor, orderID, reason string) (*model.Order, error) {
	return s.ledger.Decline(ctx, actor, orderID, reason)
}

// MarkReady отмечает заказ готовым к выдаче.
func (s *Service) MarkReady(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error) {
	return s.ledger.Transition(ctx, actor, orderID, model.OrderStatusReady, "")
}

// CompleteOrder подтверждает выдачу заказа продавцом.
func (s *Service) CompleteOrder(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error) {
	return s.fulfillment.Complete(ctx, actor, orderID)
}

// Pickup подтверждает выдачу по QR-токену.
func (s *Service) Pickup(ctx context.Context, actor model.Actor, orderID, token string) (*model.Order, error) {
	return s.fulfillment.CompleteByToken(ctx, actor, orderID, token)
}

// Loyalty возвращает баланс баллов покупателя.
func (s *Service) Loyalty(ctx context.Context, actor model.Actor) (*model.LoyaltyAccount, error) {
	if err := requireCustomer(actor); err != nil {
		return nil, err
	}
	return s.loyalty.Account(ctx, actor.ID)
}
