package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/model"
)

// store описывает общий контракт in-memory и PostgreSQL реализаций.
type store interface {
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	UpdateOrder(ctx context.Context, orderID string, fn func(*model.Order) error) (*model.Order, error)
	CompleteOrder(ctx context.Context, orderID string, fn func(*model.Order) ([]model.StockDelta, error)) (*model.Order, error)
	ListOrders(ctx context.Context, filter model.OrderFilter) ([]*model.Order, error)
	ListExpiredWalletOrders(ctx context.Context, now time.Time, limit int) ([]string, error)

	UpsertVendor(ctx context.Context, v model.Vendor) error
	UpsertMenuItem(ctx context.Context, item model.MenuItem) error
	GetVendors(ctx context.Context, ids []string) (map[string]model.Vendor, error)
	GetMenuItems(ctx context.Context, ids []string) (map[string]model.MenuItem, error)

	UpsertVoucher(ctx context.Context, v model.Voucher) error
	GetVoucher(ctx context.Context, code string) (*model.Voucher, error)
	CommitVoucher(ctx context.Context, code, customerID, orderID string) error

	AddPoints(ctx context.Context, customerID string, points int64) (int64, error)
	GetPoints(ctx context.Context, customerID string) (int64, error)
	MarkVendorVisit(ctx context.Context, customerID, vendorID string) (bool, error)

	AppendVelocity(ctx context.Context, customerID string, entry model.VelocityEntry) error
	ListVelocity(ctx context.Context, customerID string, since time.Time) ([]model.VelocityEntry, error)
	PruneVelocity(ctx context.Context, before time.Time) (int64, error)

	GetCart(ctx context.Context, customerID string) ([]model.CartLine, error)
	AddCartLine(ctx context.Context, customerID string, line model.CartLine) error
	RemoveCartLine(ctx context.Context, customerID, lineID string) error
	ClearCart(ctx context.Context, customerID string) error

	Close() error
}

var (
	_ store = (*MemoryRepository)(nil)
	_ store = (*PostgresRepository)(nil)
)

var base = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func stores(t *testing.T) map[string]func(t *testing.T) store {
	res := map[string]func(t *testing.T) store{
		"memory": func(t *testing.T) store { return NewMemoryRepository() },
	}

	dsn := os.Getenv("STALLORDER_TEST_DATABASE_URI")
	if dsn != "" {
		res["postgres"] = func(t *testing.T) store {
			r, err := NewPostgresRepository(dsn)
			require.NoError(t, err)
			_, err = r.pool.Exec(context.Background(),
				`TRUNCATE orders, menu_items, vendors, vouchers, loyalty_accounts, vendor_visits, velocity_events, cart_lines`)
			require.NoError(t, err)
			t.Cleanup(func() { _ = r.Close() })
			return r
		}
	}
	return res
}

func forEachStore(t *testing.T, fn func(t *testing.T, s store)) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func walletOrder(id string, expires time.Time) *model.Order {
	return &model.Order{
		OrderID:       id,
		ParentOrderID: id,
		MainOrderID:   id,
		CustomerID:    "cust-1",
		VendorID:      "vendor-a",
		Status:        model.OrderStatusAwaitingPayment,
		Items:         []model.OrderItem{{MenuItemID: "m1", Name: "Sisig", Quantity: 2, Price: 100_00, Customizations: []model.AddOn{}}},
		Subtotal:      200_00,
		TotalAmount:   200_00,
		PaymentMethod: model.PaymentMethodWallet,
		WalletPayment: &model.WalletPayment{
			Status:        model.WalletStatusPending,
			ReferenceCode: id,
			Amount:        200_00,
			CreatedAt:     base,
			ExpiresAt:     expires,
		},
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func seedCatalog(t *testing.T, s store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertVendor(ctx, model.Vendor{ID: "vendor-a", Name: "Sisig Queen", WalletEnabled: true, WalletHandle: "0917"}))
	require.NoError(t, s.UpsertMenuItem(ctx, model.MenuItem{ID: "m1", VendorID: "vendor-a", Name: "Sisig", Price: 100_00, Stock: 3, Available: true,
		AddOns: []model.AddOn{{Name: "Egg", Price: 15_00}}}))
	require.NoError(t, s.UpsertMenuItem(ctx, model.MenuItem{ID: "m2", VendorID: "vendor-a", Name: "Rice", Price: 20_00, Stock: 10, Available: true}))
}

func TestStore_OrderRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		o := walletOrder("1", base.Add(15*time.Minute))

		require.NoError(t, s.CreateOrder(ctx, o))
		assert.ErrorIs(t, s.CreateOrder(ctx, o), ErrOrderExists)

		got, err := s.GetOrder(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, o.TotalAmount, got.TotalAmount)
		assert.Equal(t, model.OrderStatusAwaitingPayment, got.Status)
		require.NotNil(t, got.WalletPayment)
		assert.True(t, o.WalletPayment.ExpiresAt.Equal(got.WalletPayment.ExpiresAt))

		_, err = s.GetOrder(ctx, "404")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestStore_UpdateOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		require.NoError(t, s.CreateOrder(ctx, walletOrder("1", base.Add(15*time.Minute))))

		got, err := s.UpdateOrder(ctx, "1", func(o *model.Order) error {
			o.Status = model.OrderStatusPending
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusPending, got.Status)

		got, err = s.UpdateOrder(ctx, "1", func(o *model.Order) error {
			o.Status = model.OrderStatusCancelled
			return apperr.ErrNoChange
		})
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusPending, got.Status)

		_, err = s.UpdateOrder(ctx, "1", func(o *model.Order) error {
			o.Status = model.OrderStatusCancelled
			return apperr.ErrInvalidTransition
		})
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

		stored, err := s.GetOrder(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusPending, stored.Status)
	})
}

func TestStore_CompleteOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		seedCatalog(t, s)
		require.NoError(t, s.CreateOrder(ctx, walletOrder("1", base.Add(15*time.Minute))))

		_, err := s.CompleteOrder(ctx, "1", func(o *model.Order) ([]model.StockDelta, error) {
			o.Status = model.OrderStatusCompleted
			return []model.StockDelta{{MenuItemID: "m2", Quantity: 1}, {MenuItemID: "m1", Quantity: 4}}, nil
		})
		assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

		items, err := s.GetMenuItems(ctx, []string{"m1", "m2"})
		require.NoError(t, err)
		assert.Equal(t, 3, items["m1"].Stock)
		assert.Equal(t, 10, items["m2"].Stock)

		o, err := s.GetOrder(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusAwaitingPayment, o.Status)

		_, err = s.CompleteOrder(ctx, "1", func(o *model.Order) ([]model.StockDelta, error) {
			o.Status = model.OrderStatusCompleted
			return []model.StockDelta{{MenuItemID: "m1", Quantity: 3}}, nil
		})
		require.NoError(t, err)

		items, err = s.GetMenuItems(ctx, []string{"m1"})
		require.NoError(t, err)
		assert.Equal(t, 0, items["m1"].Stock)
	})
}

func TestStore_ListOrders(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		for i, id := range []string{"1", "2", "3"} {
			o := walletOrder(id, base.Add(15*time.Minute))
			o.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			if id == "3" {
				o.CustomerID = "cust-2"
				o.VendorID = "vendor-b"
			}
			require.NoError(t, s.CreateOrder(ctx, o))
		}

		all, err := s.ListOrders(ctx, model.OrderFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "3", all[0].OrderID)

		mine, err := s.ListOrders(ctx, model.OrderFilter{CustomerID: "cust-1"})
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, "2", mine[0].OrderID)

		stall, err := s.ListOrders(ctx, model.OrderFilter{VendorID: "vendor-b", Status: model.OrderStatusAwaitingPayment})
		require.NoError(t, err)
		require.Len(t, stall, 1)

		limited, err := s.ListOrders(ctx, model.OrderFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func TestStore_ListExpiredWalletOrders(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		require.NoError(t, s.CreateOrder(ctx, walletOrder("1", base.Add(15*time.Minute))))
		require.NoError(t, s.CreateOrder(ctx, walletOrder("2", base.Add(30*time.Minute))))

		ids, err := s.ListExpiredWalletOrders(ctx, base.Add(20*time.Minute), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, ids)

		// Параллельный обработчик видит те же строки, пока их не изменили.
		again, err := s.ListExpiredWalletOrders(ctx, base.Add(20*time.Minute), 10)
		require.NoError(t, err)
		assert.Equal(t, ids, again)

		_, err = s.UpdateOrder(ctx, "1", func(o *model.Order) error {
			o.Status = model.OrderStatusCancelled
			return nil
		})
		require.NoError(t, err)

		ids, err = s.ListExpiredWalletOrders(ctx, base.Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"2"}, ids)
	})
}

func TestStore_Catalog(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		seedCatalog(t, s)

		vendors, err := s.GetVendors(ctx, []string{"vendor-a", "ghost"})
		require.NoError(t, err)
		require.Len(t, vendors, 1)
		assert.True(t, vendors["vendor-a"].WalletEnabled)

		items, err := s.GetMenuItems(ctx, []string{"m1"})
		require.NoError(t, err)
		assert.Equal(t, model.Money(100_00), items["m1"].Price)
		assert.Equal(t, []model.AddOn{{Name: "Egg", Price: 15_00}}, items["m1"].AddOns)
	})
}

func TestStore_VoucherSingleUse(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		require.NoError(t, s.UpsertVoucher(ctx, model.Voucher{Code: "FLAT50", Discount: 50_00}))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.CommitVoucher(ctx, "FLAT50", "cust-1", "1"); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, apperr.ErrVoucherInvalid)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)

		v, err := s.GetVoucher(ctx, "FLAT50")
		require.NoError(t, err)
		assert.NotNil(t, v.UsedAt)
		assert.Equal(t, "1", v.OrderID)

		_, err = s.GetVoucher(ctx, "NOPE")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestStore_Loyalty(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()

		points, err := s.GetPoints(ctx, "cust-1")
		require.NoError(t, err)
		assert.Zero(t, points)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.AddPoints(ctx, "cust-1", 3)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		points, err = s.GetPoints(ctx, "cust-1")
		require.NoError(t, err)
		assert.Equal(t, int64(30), points)

		first, err := s.MarkVendorVisit(ctx, "cust-1", "vendor-a")
		require.NoError(t, err)
		assert.True(t, first)

		first, err = s.MarkVendorVisit(ctx, "cust-1", "vendor-a")
		require.NoError(t, err)
		assert.False(t, first)
	})
}

func TestStore_Velocity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		for _, ts := range []time.Time{base.Add(-25 * time.Hour), base.Add(-2 * time.Hour), base.Add(-10 * time.Minute)} {
			require.NoError(t, s.AppendVelocity(ctx, "cust-1", model.VelocityEntry{Timestamp: ts, Amount: 10_00}))
		}

		entries, err := s.ListVelocity(ctx, "cust-1", base.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, model.Money(10_00), entries[0].Amount)

		removed, err := s.PruneVelocity(ctx, base.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		entries, err = s.ListVelocity(ctx, "cust-1", base.Add(-48*time.Hour))
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}

func TestStore_Cart(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()

		require.NoError(t, s.AddCartLine(ctx, "cust-1", model.CartLine{LineID: "a", MenuItemID: "m1", Quantity: 1}))
		require.NoError(t, s.AddCartLine(ctx, "cust-1", model.CartLine{LineID: "b", MenuItemID: "m2", Quantity: 2}))
		require.NoError(t, s.AddCartLine(ctx, "cust-1", model.CartLine{LineID: "a", MenuItemID: "m1", Quantity: 3}))

		cart, err := s.GetCart(ctx, "cust-1")
		require.NoError(t, err)
		require.Len(t, cart, 2)
		assert.Equal(t, "a", cart[0].LineID)
		assert.Equal(t, 3, cart[0].Quantity)

		require.NoError(t, s.RemoveCartLine(ctx, "cust-1", "a"))
		assert.ErrorIs(t, s.RemoveCartLine(ctx, "cust-1", "a"), apperr.ErrNotFound)

		require.NoError(t, s.ClearCart(ctx, "cust-1"))
		cart, err = s.GetCart(ctx, "cust-1")
		require.NoError(t, err)
		assert.Empty(t, cart)
	})
}
