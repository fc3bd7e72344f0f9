// Package events рассылает снимки заказов подписчикам внутри процесса.
// Канал носит рекомендательный характер: решения о корректности по нему не принимаются.
package events

import (
	"sync"

	"github.com/mmeshcher/stallorder/internal/model"
)

const subscriberBuffer = 16

// Filter выбирает интересующие подписчика заказы. Пустые поля не ограничивают выборку.
type Filter struct {
	OrderID    string
	CustomerID string
	VendorID   string
}

func (f Filter) match(o *model.Order) bool {
	if f.OrderID != "" && f.OrderID != o.OrderID {
		return false
	}
	if f.CustomerID != "" && f.CustomerID != o.CustomerID {
		return false
	}
	if f.VendorID != "" && f.VendorID != o.VendorID {
		return false
	}
	return true
}

type subscriber struct {
	filter Filter
	ch     chan *model.Order
}

// Broker рассылает изменения заказов подписчикам.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
	closed bool
}

// NewBroker создаёт пустую шину.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*subscriber)}
}

// Subscribe возвращает канал снимков и функцию отписки.
func (b *Broker) Subscribe(filter Filter) (<-chan *model.Order, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *model.Order, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{filter: filter, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

// Publish отправляет снимок подходящим подписчикам. Не блокируется: медленные подписчики пропускают события.
func (b *Broker) Publish(o *model.Order) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if !s.filter.match(o) {
			continue
		}
		select {
		case s.ch <- o.Clone():
		default:
		}
	}
}

// Close закрывает все подписки.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
