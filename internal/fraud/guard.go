// Package fraud реализует лимиты частоты заказов и эвристики подозрительных заказов.
package fraud

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/model"
	"github.com/mmeshcher/stallorder/internal/schedule"
)

// Лимиты частоты и суммы заказов.
const (
	MaxOrdersPerHour  = 10
	MaxOrdersPerDay   = 50
	MaxDailySpend     = model.Money(5000_00)
	MinOrderTotal     = model.Money(1_00)
	MaxOrderTotal     = model.Money(2000_00)
	MaxTotalQuantity  = 50
	MaxLinePrice      = model.Money(1000_00)
	RecentWindow      = 30 * time.Minute
	MaxRecentOrders   = 5
	velocityRetention = 24 * time.Hour
)

// Store хранит отметки о заказах покупателя.
type Store interface {
	AppendVelocity(ctx context.Context, customerID string, entry model.VelocityEntry) error
	ListVelocity(ctx context.Context, customerID string, since time.Time) ([]model.VelocityEntry, error)
	PruneVelocity(ctx context.Context, before time.Time) (int64, error)
}

// Verifier проверяет контрольную сумму заказа.
type Verifier interface {
	Verify(o *model.Order) bool
}

// Decision содержит результат проверки лимитов.
type Decision struct {
	Allowed bool
	Reason  string
}

// Report содержит результат эвристической проверки заказа.
type Report struct {
	Suspicious bool
	Reasons    []string
}

// Guard реализует антифрод со своим состоянием и внедряется в места вызова.
type Guard struct {
	store    Store
	verifier Verifier
	clock    schedule.Clock
	logger   *zap.Logger
}

// NewGuard создаёт сервис антифрода.
func NewGuard(store Store, verifier Verifier, clock schedule.Clock, logger *zap.Logger) *Guard {
	return &Guard{
		store:    store,
		verifier: verifier,
		clock:    clock,
		logger:   logger,
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// CheckVelocity проверяет лимиты до оформления заказа. При недоступности хранилища заказ разрешается.
func (g *Guard) CheckVelocity(ctx context.Context, customerID string, amount model.Money) Decision {
	now := g.clock.Now()
	dayStart := startOfDay(now)
	hourAgo := now.Add(-time.Hour)

	since := dayStart
	if hourAgo.Before(since) {
		since = hourAgo
	}

	entries, err := g.store.ListVelocity(ctx, customerID, since)
	if err != nil {
		g.logger.Warn("velocity check skipped", zap.String("customerID", customerID), zap.Error(err))
		return Decision{Allowed: true}
	}

	var hourly, daily int
	var spent model.Money
	for _, e := range entries {
		if e.Timestamp.After(hourAgo) {
			hourly++
		}
		if !e.Timestamp.Before(dayStart) {
			daily++
			spent += e.Amount
		}
	}

	switch {
	case hourly >= MaxOrdersPerHour:
		return Decision{Reason: "Too many orders in the past hour"}
	case daily >= MaxOrdersPerDay:
		return Decision{Reason: "Daily order limit reached"}
	case spent+amount > MaxDailySpend:
		return Decision{Reason: "Daily spending limit exceeded"}
	}

	return Decision{Allowed: true}
}

// Record сохраняет отметку об оформленном заказе. Ошибка только логируется.
func (g *Guard) Record(ctx context.Context, customerID string, amount model.Money) {
	entry := model.VelocityEntry{Timestamp: g.clock.Now(), Amount: amount}
	if err := g.store.AppendVelocity(ctx, customerID, entry); err != nil {
		g.logger.Warn("velocity record failed", zap.String("customerID", customerID), zap.Error(err))
	}
}

// Prune удаляет отметки старше суток.
func (g *Guard) Prune(ctx context.Context) error {
	n, err := g.store.PruneVelocity(ctx, g.clock.Now().Add(-velocityRetention))
	if err != nil {
		return fmt.Errorf("prune velocity: %w", err)
	}
	if n > 0 {
		g.logger.Debug("velocity entries pruned", zap.Int64("count", n))
	}
	return nil
}

// DetectSuspicious помечает заказ для проверки, но никогда не блокирует его.
func (g *Guard) DetectSuspicious(ctx context.Context, o *model.Order) Report {
	var reasons []string

	if o.TotalAmount < MinOrderTotal || o.TotalAmount > MaxOrderTotal {
		reasons = append(reasons, fmt.Sprintf("order total %s outside allowed range", o.TotalAmount))
	}

	qty := 0
	for _, it := range o.Items {
		qty += it.Quantity
		if it.Price <= 0 || it.Price > MaxLinePrice {
			reasons = append(reasons, fmt.Sprintf("item %s has unusual price %s", it.MenuItemID, it.Price))
		}
	}
	if qty > MaxTotalQuantity {
		reasons = append(reasons, fmt.Sprintf("total quantity %d exceeds %d", qty, MaxTotalQuantity))
	}

	entries, err := g.store.ListVelocity(ctx, o.CustomerID, g.clock.Now().Add(-RecentWindow))
	if err != nil {
		g.logger.Warn("recent order check skipped", zap.String("customerID", o.CustomerID), zap.Error(err))
	} else if len(entries) > MaxRecentOrders {
		reasons = append(reasons, fmt.Sprintf("%d orders in the last %s", len(entries), RecentWindow))
	}

	return Report{Suspicious: len(reasons) > 0, Reasons: reasons}
}

// VerifyIntegrity пересчитывает контрольную сумму заказа и сравнивает её с сохранённой.
func (g *Guard) VerifyIntegrity(o *model.Order) bool {
	ok := g.verifier.Verify(o)
	if !ok {
		g.logger.Warn("order integrity check failed", zap.String("orderID", o.OrderID))
	}
	return ok
}
