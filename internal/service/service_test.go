package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/composer"
	"github.com/mmeshcher/stallorder/internal/model"
	"github.com/mmeshcher/stallorder/internal/payment"
	"github.com/mmeshcher/stallorder/internal/repository"
	"github.com/mmeshcher/stallorder/internal/schedule"
)

var (
	_ Repository = (*repository.MemoryRepository)(nil)
	_ Repository = (*repository.PostgresRepository)(nil)
)

var (
	start    = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	customer = model.Actor{ID: "cust-1", Role: model.RoleCustomer, EmailVerified: true}
	stranger = model.Actor{ID: "cust-2", Role: model.RoleCustomer, EmailVerified: true}
	vendorA  = model.Actor{ID: "vendor-a", Role: model.RoleVendor}
	admin    = model.Actor{ID: "root", Role: model.RoleAdmin}
)

// stubRepo подменяет отдельные методы хранилища для проверки ошибок.
type stubRepo struct {
	*repository.MemoryRepository

	getMenuErr error
	addLineErr error
}

func (s *stubRepo) GetMenuItems(ctx context.Context, ids []string) (map[string]model.MenuItem, error) {
	if s.getMenuErr != nil {
		return nil, s.getMenuErr
	}
	return s.MemoryRepository.GetMenuItems(ctx, ids)
}

func (s *stubRepo) AddCartLine(ctx context.Context, customerID string, line model.CartLine) error {
	if s.addLineErr != nil {
		return s.addLineErr
	}
	return s.MemoryRepository.AddCartLine(ctx, customerID, line)
}

func newTestService(t *testing.T) (*Service, *stubRepo, *schedule.ManualClock) {
	t.Helper()
	ctx := context.Background()

	repo := &stubRepo{MemoryRepository: repository.NewMemoryRepository()}
	require.NoError(t, repo.UpsertVendor(ctx, model.Vendor{ID: "vendor-a", Name: "Sisig Queen", WalletEnabled: true, WalletHandle: "0917"}))
	require.NoError(t, repo.UpsertVendor(ctx, model.Vendor{ID: "vendor-b", Name: "Tapsi Corner"}))
	require.NoError(t, repo.UpsertMenuItem(ctx, model.MenuItem{ID: "a1", VendorID: "vendor-a", Name: "Sisig", Price: 100_00, Stock: 10, Available: true,
		AddOns: []model.AddOn{{Name: "Egg", Price: 15_00}}}))
	require.NoError(t, repo.UpsertMenuItem(ctx, model.MenuItem{ID: "b1", VendorID: "vendor-b", Name: "Tapsilog", Price: 150_00, Stock: 10, Available: true}))
	require.NoError(t, repo.UpsertMenuItem(ctx, model.MenuItem{ID: "b9", VendorID: "vendor-b", Name: "Lechon", Price: 300_00, Stock: 10}))

	clock := schedule.NewManualClock(start)
	svc := NewService(repo, Options{
		IntegritySecret: "secret",
		PaymentWindow:   15 * time.Minute,
		CancelWindow:    5 * time.Minute,
		Clock:           clock,
	}, zap.NewNop())
	t.Cleanup(func() { _ = svc.Close() })

	return svc, repo, clock
}

func TestAddCartLine_UsesCatalog(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	line, err := svc.AddCartLine(ctx, customer, model.CartLine{
		MenuItemID: "a1",
		Quantity:   2,
		UnitPrice:  1,
		AddOns:     []model.AddOn{{Name: "egg", Price: 0}},
		Note:       "  no onions ",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, line.LineID)
	assert.Equal(t, "vendor-a", line.VendorID)
	assert.Equal(t, model.Money(100_00), line.UnitPrice)
	assert.Equal(t, []model.AddOn{{Name: "Egg", Price: 15_00}}, line.AddOns)
	assert.Equal(t, "no onions", line.Note)

	cart, err := svc.GetCart(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, []model.CartLine{line}, cart)
}

func TestAddCartLine_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		actor   model.Actor
		line    model.CartLine
		setup   func(r *stubRepo)
		wantErr error
	}{
		{name: "vendor", actor: vendorA, line: model.CartLine{MenuItemID: "a1", Quantity: 1}, wantErr: apperr.ErrNotOwner},
		{name: "zero quantity", actor: customer, line: model.CartLine{MenuItemID: "a1"}, wantErr: apperr.ErrInvalidLine},
		{name: "unknown item", actor: customer, line: model.CartLine{MenuItemID: "zz", Quantity: 1}, wantErr: apperr.ErrItemUnavailable},
		{name: "unavailable item", actor: customer, line: model.CartLine{MenuItemID: "b9", Quantity: 1}, wantErr: apperr.ErrItemUnavailable},
		{name: "unknown add-on", actor: customer, line: model.CartLine{MenuItemID: "a1", Quantity: 1, AddOns: []model.AddOn{{Name: "Truffle"}}}, wantErr: apperr.ErrItemUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t)
			_, err := svc.AddCartLine(context.Background(), tt.actor, tt.line)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAddCartLine_PropagatesStoreErrors(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	boom := errors.New("connection refused")

	repo.getMenuErr = boom
	_, err := svc.AddCartLine(ctx, customer, model.CartLine{MenuItemID: "a1", Quantity: 1})
	assert.ErrorIs(t, err, boom)

	repo.getMenuErr = nil
	repo.addLineErr = boom
	_, err = svc.AddCartLine(ctx, customer, model.CartLine{MenuItemID: "a1", Quantity: 1})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, apperr.KindInfra, apperr.KindOf(err))
}

func TestGetCart_EmptyIsNotNil(t *testing.T) {
	svc, _, _ := newTestService(t)

	cart, err := svc.GetCart(context.Background(), customer)
	require.NoError(t, err)
	assert.NotNil(t, cart)
	assert.Empty(t, cart)
}

func TestOrderLifecycle_CashPickup(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddCartLine(ctx, customer, model.CartLine{MenuItemID: "a1", Quantity: 3})
	require.NoError(t, err)

	cash := model.Money(300_00)
	res, err := svc.Checkout(ctx, composer.CheckoutRequest{
		Actor:         customer,
		PaymentMethod: model.PaymentMethodCash,
		CashTendered:  &cash,
	})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	orderID := res.Orders[0].OrderID

	_, err = svc.MarkReady(ctx, vendorA, orderID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = svc.AcceptOrder(ctx, vendorA, orderID)
	require.NoError(t, err)

	_, err = svc.DeclineOrder(ctx, vendorA, orderID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = svc.MarkReady(ctx, vendorA, orderID)
	require.NoError(t, err)

	o, err := svc.GetOrder(ctx, customer, orderID)
	require.NoError(t, err)

	_, err = svc.Pickup(ctx, vendorA, orderID, "forged")
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)

	o, err = svc.Pickup(ctx, vendorA, orderID, o.Token)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, o.Status)

	_, err = svc.CompleteOrder(ctx, vendorA, orderID)
	require.NoError(t, err)

	items, err := repo.GetMenuItems(ctx, []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, 7, items["a1"].Stock)

	account, err := svc.Loyalty(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, int64(60), account.Points)
}

func TestOrderLifecycle_WalletExpiry(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	res, err := svc.Checkout(ctx, composer.CheckoutRequest{
		Actor:         customer,
		Lines:         []model.CartLine{{MenuItemID: "a1", Quantity: 1}},
		PaymentMethod: model.PaymentMethodWallet,
	})
	require.NoError(t, err)
	orderID := res.Orders[0].OrderID

	clock.Advance(16 * time.Minute)
	require.NoError(t, svc.SweepTask(ctx))

	o, err := svc.GetOrder(ctx, customer, orderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, o.Status)
	assert.Equal(t, payment.ExpiredReason, o.CancelReason)

	_, err = svc.SubmitPayment(ctx, customer, orderID, payment.Submission{ReferenceNumber: "R"})
	assert.ErrorIs(t, err, apperr.ErrPaymentWindowClosed)
}

func TestOrderLifecycle_WalletVerified(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Checkout(ctx, composer.CheckoutRequest{
		Actor:         customer,
		Lines:         []model.CartLine{{MenuItemID: "a1", Quantity: 1}},
		PaymentMethod: model.PaymentMethodWallet,
	})
	require.NoError(t, err)
	orderID := res.Orders[0].OrderID

	sub, err := svc.SubmitPayment(ctx, customer, orderID, payment.Submission{ReferenceNumber: "R-77"})
	require.NoError(t, err)
	assert.True(t, sub.Success)

	o, err := svc.VerifyPayment(ctx, vendorA, orderID, true)
	require.NoError(t, err)
	assert.Equal(t, model.WalletStatusVerified, o.WalletPayment.Status)

	account, err := svc.Loyalty(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, int64(20), account.Points)
}

func TestCancelOrder_Policy(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	checkout := func() string {
		cash := model.Money(200_00)
		res, err := svc.Checkout(ctx, composer.CheckoutRequest{
			Actor:         customer,
			Lines:         []model.CartLine{{MenuItemID: "b1", Quantity: 1}},
			PaymentMethod: model.PaymentMethodCash,
			CashTendered:  &cash,
		})
		require.NoError(t, err)
		return res.Orders[0].OrderID
	}

	first := checkout()
	_, err := svc.CancelOrder(ctx, stranger, first, "")
	assert.ErrorIs(t, err, apperr.ErrNotOwner)

	o, err := svc.CancelOrder(ctx, customer, first, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, o.Status)
	assert.Equal(t, "changed my mind", o.CancelReason)

	second := checkout()
	clock.Advance(6 * time.Minute)
	_, err = svc.CancelOrder(ctx, customer, second, "")
	assert.ErrorIs(t, err, apperr.ErrCancelWindowClosed)

	o, err = svc.CancelOrder(ctx, admin, second, "")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, o.Status)
}

func TestSubscribe(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cash := model.Money(100_00)
	res, err := svc.Checkout(ctx, composer.CheckoutRequest{
		Actor:         customer,
		Lines:         []model.CartLine{{MenuItemID: "a1", Quantity: 1}},
		PaymentMethod: model.PaymentMethodCash,
		CashTendered:  &cash,
	})
	require.NoError(t, err)
	orderID := res.Orders[0].OrderID

	_, _, _, err = svc.Subscribe(ctx, stranger, orderID)
	assert.ErrorIs(t, err, apperr.ErrNotOwner)

	current, ch, cancel, err := svc.Subscribe(ctx, customer, orderID)
	require.NoError(t, err)
	defer cancel()
	assert.Equal(t, model.OrderStatusPending, current.Status)

	_, err = svc.AcceptOrder(ctx, vendorA, orderID)
	require.NoError(t, err)

	select {
	case o := <-ch:
		assert.Equal(t, model.OrderStatusPreparing, o.Status)
	case <-time.After(time.Second):
		t.Fatal("no status update")
	}
}

func TestListOrders_ScopedByRole(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cash := model.Money(500_00)
	_, err := svc.Checkout(ctx, composer.CheckoutRequest{
		Actor: customer,
		Lines: []model.CartLine{
			{MenuItemID: "a1", Quantity: 1},
			{MenuItemID: "b1", Quantity: 1},
		},
		PaymentMethod: model.PaymentMethodCash,
		CashTendered:  &cash,
	})
	require.NoError(t, err)

	mine, err := svc.ListOrders(ctx, customer, model.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	stall, err := svc.ListOrders(ctx, vendorA, model.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, stall, 1)
	assert.Equal(t, "vendor-a", stall[0].VendorID)

	none, err := svc.ListOrders(ctx, stranger, model.OrderFilter{})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
