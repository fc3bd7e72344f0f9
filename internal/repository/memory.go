package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/model"
)

// MemoryRepository хранит все данные в памяти процесса под одним мьютексом.
// Используется в тестах и при запуске без DATABASE_URI.
type MemoryRepository struct {
	mu sync.Mutex

	orders   map[string]*model.Order
	vendors  map[string]model.Vendor
	menu     map[string]model.MenuItem
	vouchers map[string]model.Voucher
	points   map[string]int64
	visits   map[string]struct{}
	velocity map[string]map[string][]model.VelocityEntry
	carts    map[string][]model.CartLine
}

// NewMemoryRepository создаёт пустое хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:   make(map[string]*model.Order),
		vendors:  make(map[string]model.Vendor),
		menu:     make(map[string]model.MenuItem),
		vouchers: make(map[string]model.Voucher),
		points:   make(map[string]int64),
		visits:   make(map[string]struct{}),
		velocity: make(map[string]map[string][]model.VelocityEntry),
		carts:    make(map[string][]model.CartLine),
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error {
	return nil
}

// CreateOrder сохраняет новый заказ.
func (r *MemoryRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.OrderID]; ok {
		return ErrOrderExists.With("order %s already exists", o.OrderID)
	}
	r.orders[o.OrderID] = o.Clone()
	return nil
}

// GetOrder возвращает копию заказа.
func (r *MemoryRepository) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, apperr.ErrNotFound.With("order %s not found", orderID)
	}
	return o.Clone(), nil
}

// UpdateOrder атомарно применяет fn к копии заказа и сохраняет результат.
func (r *MemoryRepository) UpdateOrder(ctx context.Context, orderID string, fn func(*model.Order) error) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[orderID]
	if !ok {
		return nil, apperr.ErrNotFound.With("order %s not found", orderID)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, apperr.ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}

	r.orders[orderID] = next.Clone()
	return next, nil
}

// CompleteOrder атомарно применяет fn и списывает остатки; при нехватке не меняет ничего.
func (r *MemoryRepository) CompleteOrder(ctx context.Context, orderID string, fn func(*model.Order) ([]model.StockDelta, error)) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[orderID]
	if !ok {
		return nil, apperr.ErrNotFound.With("order %s not found", orderID)
	}

	next := current.Clone()
	deltas, err := fn(next)
	if err != nil {
		if errors.Is(err, apperr.ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}

	for _, d := range deltas {
		item, ok := r.menu[d.MenuItemID]
		if !ok || item.Stock < d.Quantity {
			return nil, apperr.ErrInsufficientStock.With("menu item %s has insufficient stock", d.MenuItemID)
		}
	}
	for _, d := range deltas {
		item := r.menu[d.MenuItemID]
		item.Stock -= d.Quantity
		r.menu[d.MenuItemID] = item
	}

	r.orders[orderID] = next.Clone()
	return next, nil
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (r *MemoryRepository) ListOrders(ctx context.Context, filter model.OrderFilter) ([]*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []*model.Order
	for _, o := range r.orders {
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if filter.VendorID != "" && o.VendorID != filter.VendorID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		res = append(res, o.Clone())
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].OrderID > res[j].OrderID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})

	if filter.Limit > 0 && len(res) > filter.Limit {
		res = res[:filter.Limit]
	}
	return res, nil
}

// ListExpiredWalletOrders возвращает номера неоплаченных заказов с истёкшим окном оплаты.
func (r *MemoryRepository) ListExpiredWalletOrders(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, o := range r.orders {
		if o.Status != model.OrderStatusAwaitingPayment || o.WalletPayment == nil {
			continue
		}
		if now.After(o.WalletPayment.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// UpsertVendor сохраняет продавца.
func (r *MemoryRepository) UpsertVendor(ctx context.Context, v model.Vendor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vendors[v.ID] = v
	return nil
}

// UpsertMenuItem сохраняет позицию меню.
func (r *MemoryRepository) UpsertMenuItem(ctx context.Context, item model.MenuItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item.AddOns = append([]model.AddOn(nil), item.AddOns...)
	r.menu[item.ID] = item
	return nil
}

// GetVendors возвращает найденных продавцов по идентификаторам.
func (r *MemoryRepository) GetVendors(ctx context.Context, ids []string) (map[string]model.Vendor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make(map[string]model.Vendor, len(ids))
	for _, id := range ids {
		if v, ok := r.vendors[id]; ok {
			res[id] = v
		}
	}
	return res, nil
}

// GetMenuItems возвращает найденные позиции меню по идентификаторам.
func (r *MemoryRepository) GetMenuItems(ctx context.Context, ids []string) (map[string]model.MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make(map[string]model.MenuItem, len(ids))
	for _, id := range ids {
		if item, ok := r.menu[id]; ok {
			item.AddOns = append([]model.AddOn(nil), item.AddOns...)
			res[id] = item
		}
	}
	return res, nil
}

// UpsertVoucher сохраняет ваучер.
func (r *MemoryRepository) UpsertVoucher(ctx context.Context, v model.Voucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vouchers[v.Code] = v
	return nil
}

// GetVoucher возвращает ваучер по коду.
func (r *MemoryRepository) GetVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.vouchers[code]
	if !ok {
		return nil, apperr.ErrNotFound.With("voucher %s not found", code)
	}
	return &v, nil
}

// CommitVoucher помечает ваучер использованным, если он ещё свободен.
func (r *MemoryRepository) CommitVoucher(ctx context.Context, code, customerID, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.vouchers[code]
	if !ok || v.UsedAt != nil {
		return apperr.ErrVoucherInvalid.With("voucher %s is no longer available", code)
	}

	now := time.Now().UTC()
	v.UsedAt = &now
	v.UsedBy = customerID
	v.OrderID = orderID
	r.vouchers[code] = v
	return nil
}

// AddPoints увеличивает баланс баллов и возвращает новое значение.
func (r *MemoryRepository) AddPoints(ctx context.Context, customerID string, points int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points[customerID] += points
	return r.points[customerID], nil
}

// GetPoints возвращает баланс баллов.
func (r *MemoryRepository) GetPoints(ctx context.Context, customerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.points[customerID], nil
}

// MarkVendorVisit отмечает визит покупателя к продавцу и сообщает, был ли он первым.
func (r *MemoryRepository) MarkVendorVisit(ctx context.Context, customerID, vendorID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := customerID + "\x00" + vendorID
	if _, ok := r.visits[key]; ok {
		return false, nil
	}
	r.visits[key] = struct{}{}
	return true, nil
}

func velocityDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// AppendVelocity добавляет отметку в корзину дня (orders_{customerId}_{date}).
func (r *MemoryRepository) AppendVelocity(ctx context.Context, customerID string, entry model.VelocityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	days, ok := r.velocity[customerID]
	if !ok {
		days = make(map[string][]model.VelocityEntry)
		r.velocity[customerID] = days
	}
	date := velocityDate(entry.Timestamp)
	days[date] = append(days[date], entry)
	return nil
}

// ListVelocity возвращает отметки покупателя не старше since.
func (r *MemoryRepository) ListVelocity(ctx context.Context, customerID string, since time.Time) ([]model.VelocityEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.VelocityEntry
	for _, entries := range r.velocity[customerID] {
		for _, e := range entries {
			if !e.Timestamp.Before(since) {
				res = append(res, e)
			}
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Timestamp.Before(res[j].Timestamp) })
	return res, nil
}

// PruneVelocity удаляет отметки старше before.
func (r *MemoryRepository) PruneVelocity(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for customerID, days := range r.velocity {
		for date, entries := range days {
			kept := entries[:0]
			for _, e := range entries {
				if e.Timestamp.Before(before) {
					removed++
					continue
				}
				kept = append(kept, e)
			}
			if len(kept) == 0 {
				delete(days, date)
			} else {
				days[date] = kept
			}
		}
		if len(days) == 0 {
			delete(r.velocity, customerID)
		}
	}
	return removed, nil
}

// GetCart возвращает позиции корзины покупателя.
func (r *MemoryRepository) GetCart(ctx context.Context, customerID string) ([]model.CartLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.CartLine(nil), r.carts[customerID]...), nil
}

// AddCartLine добавляет позицию в корзину или заменяет позицию с тем же lineId.
func (r *MemoryRepository) AddCartLine(ctx context.Context, customerID string, line model.CartLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines := r.carts[customerID]
	for i, l := range lines {
		if l.LineID == line.LineID {
			lines[i] = line
			return nil
		}
	}
	r.carts[customerID] = append(lines, line)
	return nil
}

// RemoveCartLine удаляет позицию корзины.
func (r *MemoryRepository) RemoveCartLine(ctx context.Context, customerID, lineID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines := r.carts[customerID]
	for i, l := range lines {
		if l.LineID == lineID {
			r.carts[customerID] = append(lines[:i:i], lines[i+1:]...)
			return nil
		}
	}
	return apperr.ErrNotFound.With("cart line %s not found", lineID)
}

// ClearCart очищает корзину.
func (r *MemoryRepository) ClearCart(ctx context.Context, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, customerID)
	return nil
}
