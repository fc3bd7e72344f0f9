package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/events"
	"github.com/mmeshcher/stallorder/internal/integrity"
	"github.com/mmeshcher/stallorder/internal/model"
	"github.com/mmeshcher/stallorder/internal/repository"
	"github.com/mmeshcher/stallorder/internal/schedule"
)

var (
	start    = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	customer = model.Actor{ID: "cust-1", Role: model.RoleCustomer, EmailVerified: true}
	vendor   = model.Actor{ID: "vendor-a", Role: model.RoleVendor}
	admin    = model.Actor{ID: "admin", Role: model.RoleAdmin}
)

type fixture struct {
	ledger *Ledger
	repo   *repository.MemoryRepository
	clock  *schedule.ManualClock
	broker *events.Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := repository.NewMemoryRepository()
	clock := schedule.NewManualClock(start)
	broker := events.NewBroker()
	t.Cleanup(broker.Close)

	return &fixture{
		ledger: New(repo, integrity.NewCodec("secret"), broker, clock, 5*time.Minute, zap.NewNop()),
		repo:   repo,
		clock:  clock,
		broker: broker,
	}
}

func cashOrder(id string) *model.Order {
	return &model.Order{
		OrderID:       id,
		ParentOrderID: id,
		MainOrderID:   id,
		CustomerID:    customer.ID,
		VendorID:      vendor.ID,
		Status:        model.OrderStatusPending,
		Items: []model.OrderItem{
			{MenuItemID: "m1", Name: "Sisig", Quantity: 2, Price: 100_00},
		},
		Subtotal:      200_00,
		TotalAmount:   200_00,
		PaymentMethod: model.PaymentMethodCash,
	}
}

func (f *fixture) create(t *testing.T, o *model.Order) *model.Order {
	t.Helper()
	require.NoError(t, f.ledger.Create(context.Background(), o))
	return o
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.OrderStatus
		ok       bool
	}{
		{model.OrderStatusAwaitingPayment, model.OrderStatusPending, true},
		{model.OrderStatusAwaitingPayment, model.OrderStatusCancelled, true},
		{model.OrderStatusAwaitingPayment, model.OrderStatusPreparing, false},
		{model.OrderStatusPending, model.OrderStatusPreparing, true},
		{model.OrderStatusPending, model.OrderStatusCancelled, true},
		{model.OrderStatusPreparing, model.OrderStatusReady, true},
		{model.OrderStatusPreparing, model.OrderStatusCancelled, true},
		{model.OrderStatusReady, model.OrderStatusCompleted, true},
		{model.OrderStatusReady, model.OrderStatusPreparing, false},
		{model.OrderStatusReady, model.OrderStatusCancelled, false},
		{model.OrderStatusCompleted, model.OrderStatusCancelled, false},
		{model.OrderStatusCancelled, model.OrderStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCreate_RejectsBrokenInvariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := cashOrder("1")
	bad.TotalAmount = 150_00
	assert.ErrorIs(t, f.ledger.Create(ctx, bad), apperr.ErrInvalidOrder)

	bad = cashOrder("2")
	bad.Subtotal = 10
	assert.ErrorIs(t, f.ledger.Create(ctx, bad), apperr.ErrInvalidOrder)

	bad = cashOrder("3")
	bad.Status = model.OrderStatusAwaitingPayment
	assert.ErrorIs(t, f.ledger.Create(ctx, bad), apperr.ErrInvalidOrder)

	bad = cashOrder("4")
	bad.PaymentMethod = model.PaymentMethodWallet
	bad.Status = model.OrderStatusAwaitingPayment
	assert.ErrorIs(t, f.ledger.Create(ctx, bad), apperr.ErrInvalidOrder)

	_, err := f.repo.GetOrder(ctx, "1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTransition_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, cashOrder("1"))

	updates, cancel := f.broker.Subscribe(events.Filter{OrderID: "1"})
	defer cancel()

	f.clock.Advance(time.Minute)
	o, err := f.ledger.Transition(ctx, vendor, "1", model.OrderStatusPreparing, "")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPreparing, o.Status)
	assert.Equal(t, start.Add(time.Minute), o.UpdatedAt)

	o, err = f.ledger.Transition(ctx, vendor, "1", model.OrderStatusReady, "")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusReady, o.Status)

	first := <-updates
	assert.Equal(t, model.OrderStatusPreparing, first.Status)
	second := <-updates
	assert.Equal(t, model.OrderStatusReady, second.Status)
}

func TestTransition_BackwardMoveRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, cashOrder("1"))

	_, err := f.ledger.Transition(ctx, vendor, "1", model.OrderStatusPreparing, "")
	require.NoError(t, err)
	_, err = f.ledger.Transition(ctx, vendor, "1", model.OrderStatusReady, "")
	require.NoError(t, err)

	before, err := f.repo.GetOrder(ctx, "1")
	require.NoError(t, err)

	_, err = f.ledger.Transition(ctx, vendor, "1", model.OrderStatusPreparing, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	after, err := f.repo.GetOrder(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusReady, after.Status)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestTransition_CompletionRequiresFulfillment(t *testing.T) {
	f := newFixture(t)
	f.create(t, cashOrder("1"))

	_, err := f.ledger.Transition(context.Background(), admin, "1", model.OrderStatusCompleted, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestTransition_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, cashOrder("1"))

	otherVendor := model.Actor{ID: "vendor-b", Role: model.RoleVendor}
	_, err := f.ledger.Transition(ctx, otherVendor, "1", model.OrderStatusPreparing, "")
	assert.ErrorIs(t, err, apperr.ErrNotOwner)

	_, err = f.ledger.Transition(ctx, customer, "1", model.OrderStatusPreparing, "")
	assert.ErrorIs(t, err, apperr.ErrNotOwner)

	_, err = f.ledger.Get(ctx, model.Actor{ID: "cust-2", Role: model.RoleCustomer}, "1")
	assert.ErrorIs(t, err, apperr.ErrNotOwner)
}

func TestCancel_CustomerPolicyWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("within window", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, cashOrder("1"))
		f.clock.Advance(4 * time.Minute)

		o, err := f.ledger.Cancel(ctx, customer, "1", "changed my mind")
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusCancelled, o.Status)
		assert.Equal(t, "changed my mind", o.CancelReason)
	})

	t.Run("after window", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, cashOrder("1"))
		f.clock.Advance(6 * time.Minute)

		_, err := f.ledger.Cancel(ctx, customer, "1", "")
		assert.ErrorIs(t, err, apperr.ErrCancelWindowClosed)
	})

	t.Run("already preparing", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, cashOrder("1"))
		_, err := f.ledger.Transition(ctx, vendor, "1", model.OrderStatusPreparing, "")
		require.NoError(t, err)

		_, err = f.ledger.Cancel(ctx, customer, "1", "")
		assert.ErrorIs(t, err, apperr.ErrCancelWindowClosed)

		o, err := f.ledger.Cancel(ctx, vendor, "1", "out of rice")
		require.NoError(t, err)
		assert.Equal(t, "out of rice", o.CancelReason)
	})

	t.Run("terminal", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, cashOrder("1"))
		_, err := f.ledger.Cancel(ctx, admin, "1", "")
		require.NoError(t, err)

		_, err = f.ledger.Cancel(ctx, admin, "1", "")
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	})
}

func TestIntegrity_TamperedOrderIsFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, cashOrder("1"))

	_, err := f.repo.UpdateOrder(ctx, "1", func(o *model.Order) error {
		o.TotalAmount = 1_00
		return nil
	})
	require.NoError(t, err)

	_, err = f.ledger.Transition(ctx, vendor, "1", model.OrderStatusPreparing, "")
	assert.ErrorIs(t, err, apperr.ErrChecksumMismatch)
	assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))

	_, err = f.ledger.Get(ctx, customer, "1")
	assert.ErrorIs(t, err, apperr.ErrChecksumMismatch)

	list, err := f.ledger.List(ctx, customer, model.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestList_ScopedByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, cashOrder("1"))

	other := cashOrder("2")
	other.CustomerID = "cust-2"
	other.VendorID = "vendor-b"
	f.create(t, other)

	mine, err := f.ledger.List(ctx, customer, model.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "1", mine[0].OrderID)

	stall, err := f.ledger.List(ctx, model.Actor{ID: "vendor-b", Role: model.RoleVendor}, model.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, stall, 1)
	assert.Equal(t, "2", stall[0].OrderID)

	all, err := f.ledger.List(ctx, admin, model.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.ledger.List(ctx, model.Actor{ID: "x"}, model.OrderFilter{})
	assert.ErrorIs(t, err, apperr.ErrNotOwner)
}

// acceptingStore фиксирует принятие заказа продавцом прямо перед первой записью.
type acceptingStore struct {
	*repository.MemoryRepository
	accepted bool
}

func (s *acceptingStore) UpdateOrder(ctx context.Context, orderID string, fn func(*model.Order) error) (*model.Order, error) {
	if !s.accepted {
		s.accepted = true
		_, err := s.MemoryRepository.UpdateOrder(ctx, orderID, func(o *model.Order) error {
			o.Status = model.OrderStatusPreparing
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return s.MemoryRepository.UpdateOrder(ctx, orderID, fn)
}

func TestDecline_OnlyPendingOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, cashOrder("1"))

	o, err := f.ledger.Decline(ctx, vendor, "1", "")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, o.Status)
	assert.Equal(t, "declined by vendor", o.CancelReason)

	f.create(t, cashOrder("2"))
	_, err = f.ledger.Transition(ctx, vendor, "2", model.OrderStatusPreparing, "")
	require.NoError(t, err)

	_, err = f.ledger.Decline(ctx, vendor, "2", "sold out")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestDecline_ConcurrentAcceptWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, cashOrder("1"))

	store := &acceptingStore{MemoryRepository: f.repo}
	l := New(store, integrity.NewCodec("secret"), nil, f.clock, 5*time.Minute, zap.NewNop())

	_, err := l.Decline(ctx, vendor, "1", "sold out")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	o, err := f.repo.GetOrder(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPreparing, o.Status)
	assert.Empty(t, o.CancelReason)
}

// replayingStore вызывает fn дважды: первая попытка теряется, как после конфликта транзакций.
type replayingStore struct {
	*repository.MemoryRepository
}

func (s *replayingStore) UpdateOrder(ctx context.Context, orderID string, fn func(*model.Order) error) (*model.Order, error) {
	current, err := s.MemoryRepository.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	_ = fn(current)
	return s.MemoryRepository.UpdateOrder(ctx, orderID, fn)
}

func TestApply_RetryEndingInNoChangeIsNotPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, cashOrder("1"))

	l := New(&replayingStore{MemoryRepository: f.repo}, integrity.NewCodec("secret"), f.broker, f.clock, 5*time.Minute, zap.NewNop())
	updates, cancel := f.broker.Subscribe(events.Filter{OrderID: "1"})
	defer cancel()

	attempts := 0
	_, changed, err := l.Apply(ctx, vendor, "1", func(o *model.Order) error {
		attempts++
		if attempts > 1 {
			return apperr.ErrNoChange
		}
		o.Status = model.OrderStatusPreparing
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.False(t, changed)

	select {
	case o := <-updates:
		t.Fatalf("unexpected update for order %s", o.OrderID)
	default:
	}
}
