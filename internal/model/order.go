// Package model содержит доменные сущности сервиса заказов фуд-корта.
package model

import "time"

// AddOn описывает платную добавку к позиции заказа.
type AddOn struct {
	Name  string `json:"name"`
	Price Money  `json:"price"`
}

// CartLine описывает позицию корзины покупателя. Живёт до оформления заказа или удаления.
type CartLine struct {
	LineID     string  `json:"lineId"`
	MenuItemID string  `json:"menuItemId"`
	VendorID   string  `json:"vendorId"`
	Name       string  `json:"name"`
	UnitPrice  Money   `json:"unitPrice"`
	Quantity   int     `json:"quantity"`
	AddOns     []AddOn `json:"addOns,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// OrderItem описывает позицию сохранённого заказа.
type OrderItem struct {
	MenuItemID     string  `json:"menuItemId"`
	Name           string  `json:"name"`
	Quantity       int     `json:"quantity"`
	Price          Money   `json:"price"`
	Customizations []AddOn `json:"customizations"`
	Note           string  `json:"note,omitempty"`
}

// Total возвращает стоимость позиции вместе с добавками.
func (i OrderItem) Total() Money {
	unit := i.Price
	for _, c := range i.Customizations {
		unit += c.Price
	}
	return unit * Money(i.Quantity)
}

// WalletPayment описывает оплату через мобильный кошелёк, вложенную в заказ.
type WalletPayment struct {
	Status             WalletStatus `json:"status"`
	ReferenceCode      string       `json:"referenceCode"`
	Amount             Money        `json:"amount"`
	VendorWalletHandle string       `json:"vendorWalletHandle"`
	CreatedAt          time.Time    `json:"createdAt"`
	ExpiresAt          time.Time    `json:"expiresAt"`
	SubmittedAt        *time.Time   `json:"submittedAt,omitempty"`
	ReferenceNumber    string       `json:"referenceNumber,omitempty"`
	SenderNumber       string       `json:"senderNumber,omitempty"`
	VerifiedAt         *time.Time   `json:"verifiedAt,omitempty"`
}

// Order описывает заказ у одного продавца в рамках одного оформления корзины.
type Order struct {
	OrderID             string         `json:"orderId"`
	ParentOrderID       string         `json:"parentOrderId"`
	MainOrderID         string         `json:"mainOrderId"`
	CustomerID          string         `json:"customerId"`
	VendorID            string         `json:"vendorId"`
	Status              OrderStatus    `json:"status"`
	Items               []OrderItem    `json:"items"`
	Subtotal            Money          `json:"subtotal"`
	VoucherDiscount     Money          `json:"voucherDiscount"`
	TotalAmount         Money          `json:"totalAmount"`
	PaymentMethod       PaymentMethod  `json:"paymentMethod"`
	CashAmount          *Money         `json:"cashAmount,omitempty"`
	ChangeDue           *Money         `json:"changeDue,omitempty"`
	WalletPayment       *WalletPayment `json:"walletPayment,omitempty"`
	SpecialInstructions string         `json:"specialInstructions,omitempty"`
	ScheduledTime       *time.Time     `json:"scheduledTime,omitempty"`
	GroupOrderEmails    []string       `json:"groupOrderEmails,omitempty"`
	IsMultiStallOrder   bool           `json:"isMultiStallOrder"`
	ReviewFlags         []string       `json:"reviewFlags,omitempty"`
	Checksum            string         `json:"checksum"`
	Token               string         `json:"token"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
	CancelReason        string         `json:"cancelReason,omitempty"`
}

// ComputeSubtotal суммирует стоимость всех позиций заказа.
func ComputeSubtotal(items []OrderItem) Money {
	var total Money
	for _, it := range items {
		total += it.Total()
	}
	return total
}

// Clone возвращает глубокую копию заказа.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = make([]OrderItem, len(o.Items))
	for i, it := range o.Items {
		it.Customizations = append([]AddOn(nil), it.Customizations...)
		c.Items[i] = it
	}
	if o.CashAmount != nil {
		v := *o.CashAmount
		c.CashAmount = &v
	}
	if o.ChangeDue != nil {
		v := *o.ChangeDue
		c.ChangeDue = &v
	}
	if o.WalletPayment != nil {
		wp := *o.WalletPayment
		c.WalletPayment = &wp
	}
	if o.ScheduledTime != nil {
		t := *o.ScheduledTime
		c.ScheduledTime = &t
	}
	c.GroupOrderEmails = append([]string(nil), o.GroupOrderEmails...)
	c.ReviewFlags = append([]string(nil), o.ReviewFlags...)
	return &c
}

// StockDelta задаёт списание остатка позиции меню.
type StockDelta struct {
	MenuItemID string
	Quantity   int
}

// OrderFilter ограничивает выборку заказов.
type OrderFilter struct {
	CustomerID string
	VendorID   string
	Status     OrderStatus
	Limit      int
}
