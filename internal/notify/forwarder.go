package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/events"
	"github.com/mmeshcher/stallorder/internal/model"
)

// Subscriber поставляет снимки заказов.
type Subscriber interface {
	Subscribe(filter events.Filter) (<-chan *model.Order, func())
}

const (
	// seenTTL ограничивает время хранения последнего состояния заказа, не дошедшего до финального статуса.
	seenTTL       = 24 * time.Hour
	evictInterval = 10 * time.Minute
)

type seenState struct {
	status model.OrderStatus
	wallet model.WalletStatus
}

type seenEntry struct {
	state seenState
	at    time.Time
}

// Forwarder превращает изменения статусов заказов в уведомления.
type Forwarder struct {
	dispatcher  Dispatcher
	logger      *zap.Logger
	updates     <-chan *model.Order
	unsubscribe func()
	now         func() time.Time
	seen        map[string]seenEntry
}

// NewForwarder подписывается на шину сразу, чтобы изменения до запуска Run не терялись.
func NewForwarder(source Subscriber, dispatcher Dispatcher, logger *zap.Logger) *Forwarder {
	updates, unsubscribe := source.Subscribe(events.Filter{})
	return &Forwarder{
		dispatcher:  dispatcher,
		logger:      logger,
		updates:     updates,
		unsubscribe: unsubscribe,
		now:         time.Now,
		seen:        make(map[string]seenEntry),
	}
}

// Close отменяет подписку. Безопасен при повторном вызове.
func (f *Forwarder) Close() {
	f.unsubscribe()
}

// Run читает изменения до отмены контекста или закрытия шины.
func (f *Forwarder) Run(ctx context.Context) error {
	defer f.Close()

	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.evict()
		case o, ok := <-f.updates:
			if !ok {
				return nil
			}
			f.handle(ctx, o)
		}
	}
}

// evict забывает заказы, которые не менялись дольше seenTTL.
func (f *Forwarder) evict() {
	cutoff := f.now().Add(-seenTTL)
	for id, e := range f.seen {
		if e.at.Before(cutoff) {
			delete(f.seen, id)
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, o *model.Order) {
	entry, known := f.seen[o.OrderID]
	prev := entry.state
	cur := seenState{status: o.Status}
	if o.WalletPayment != nil {
		cur.wallet = o.WalletPayment.Status
	}

	if cur.status.Terminal() {
		delete(f.seen, o.OrderID)
	} else {
		f.seen[o.OrderID] = seenEntry{state: cur, at: f.now()}
	}
	if known && prev == cur {
		return
	}

	for _, n := range Messages(o, prev.wallet) {
		if err := f.dispatcher.Notify(ctx, n); err != nil {
			f.logger.Error("notification failed",
				zap.String("orderID", o.OrderID),
				zap.String("userID", n.UserID),
				zap.Error(err),
			)
		}
	}
}

// Messages возвращает уведомления, соответствующие текущему состоянию заказа.
// prevWallet содержит предыдущий статус оплаты через кошелёк, если он известен.
func Messages(o *model.Order, prevWallet model.WalletStatus) []Notification {
	meta := map[string]string{
		"orderId":       o.OrderID,
		"parentOrderId": o.ParentOrderID,
		"status":        string(o.Status),
	}
	toCustomer := func(title, msg string) Notification {
		return Notification{UserID: o.CustomerID, Title: title, Message: msg, Metadata: meta}
	}
	toVendor := func(title, msg string) Notification {
		return Notification{UserID: o.VendorID, Title: title, Message: msg, Metadata: meta}
	}

	if wp := o.WalletPayment; wp != nil && wp.Status != prevWallet {
		switch wp.Status {
		case model.WalletStatusAwaitingVerification:
			return []Notification{toVendor("Payment submitted",
				fmt.Sprintf("Order %s: wallet reference %s for %s", o.OrderID, wp.ReferenceNumber, wp.Amount))}
		case model.WalletStatusVerified:
			return []Notification{toCustomer("Payment verified", fmt.Sprintf("Payment for order %s was confirmed", o.OrderID))}
		case model.WalletStatusFailed:
			return []Notification{
				toCustomer("Payment not verified", fmt.Sprintf("The vendor could not verify the payment for order %s", o.OrderID)),
				toVendor("Payment not verified", fmt.Sprintf("Order %s needs manual payment resolution", o.OrderID)),
			}
		}
	}

	switch o.Status {
	case model.OrderStatusAwaitingPayment:
		return []Notification{toCustomer("Awaiting payment",
			fmt.Sprintf("Send %s with reference %s to complete order %s", o.TotalAmount, o.OrderID, o.OrderID))}
	case model.OrderStatusPending:
		return []Notification{
			toCustomer("Order placed", fmt.Sprintf("Order %s was sent to the stall", o.OrderID)),
			toVendor("New order", fmt.Sprintf("Order %s: %d item(s), %s", o.OrderID, len(o.Items), o.TotalAmount)),
		}
	case model.OrderStatusPreparing:
		return []Notification{toCustomer("Preparing", fmt.Sprintf("Order %s is being prepared", o.OrderID))}
	case model.OrderStatusReady:
		return []Notification{toCustomer("Ready for pickup", fmt.Sprintf("Order %s is ready for pickup", o.OrderID))}
	case model.OrderStatusCompleted:
		return []Notification{toCustomer("Completed", fmt.Sprintf("Order %s was picked up", o.OrderID))}
	case model.OrderStatusCancelled:
		msg := fmt.Sprintf("Order %s was cancelled", o.OrderID)
		if o.CancelReason != "" {
			msg += ": " + o.CancelReason
		}
		return []Notification{toCustomer("Order cancelled", msg), toVendor("Order cancelled", msg)}
	}
	return nil
}
