package model

import "time"

// Vendor описывает продавца (ларёк) фуд-корта.
type Vendor struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	WalletEnabled bool   `json:"walletEnabled"`
	WalletHandle  string `json:"walletHandle,omitempty"`
}

// MenuItem описывает позицию меню продавца.
type MenuItem struct {
	ID        string  `json:"id"`
	VendorID  string  `json:"vendorId"`
	Name      string  `json:"name"`
	Price     Money   `json:"price"`
	Stock     int     `json:"stock"`
	Available bool    `json:"available"`
	AddOns    []AddOn `json:"addOns,omitempty"`
}

// Voucher описывает скидочный ваучер. Используется один раз.
type Voucher struct {
	Code      string     `json:"code"`
	Discount  Money      `json:"discount"`
	Percent   int        `json:"percent"`
	MinSpend  Money      `json:"minSpend"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	UsedBy    string     `json:"usedBy,omitempty"`
	OrderID   string     `json:"orderId,omitempty"`
}

// VelocityEntry хранит отметку о заказе покупателя для контроля частоты.
type VelocityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Amount    Money     `json:"amount"`
}
