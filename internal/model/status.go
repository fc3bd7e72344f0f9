package model

import (
	"encoding/json"
	"fmt"
)

// OrderStatus описывает статус заказа. Строковые значения стабильны на проводе.
type OrderStatus string

const (
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPreparing       OrderStatus = "preparing"
	OrderStatusReady           OrderStatus = "ready"
	OrderStatusCompleted       OrderStatus = "completed"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// ParseOrderStatus проверяет, что строка входит в число известных статусов.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case OrderStatusAwaitingPayment, OrderStatusPending, OrderStatusPreparing,
		OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// MarshalJSON отклоняет неизвестные статусы, чтобы запись читалась обратно.
func (s OrderStatus) MarshalJSON() ([]byte, error) {
	if _, err := ParseOrderStatus(string(s)); err != nil {
		return nil, err
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON отклоняет неизвестные статусы на границе хранилища.
func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := ParseOrderStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// WalletStatus описывает состояние оплаты через мобильный кошелёк.
type WalletStatus string

const (
	WalletStatusPending              WalletStatus = "pending"
	WalletStatusAwaitingVerification WalletStatus = "awaiting_verification"
	WalletStatusVerified             WalletStatus = "verified"
	WalletStatusFailed               WalletStatus = "failed"
	WalletStatusExpired              WalletStatus = "expired"
)

// ParseWalletStatus проверяет, что строка входит в число известных статусов оплаты.
func ParseWalletStatus(s string) (WalletStatus, error) {
	switch st := WalletStatus(s); st {
	case WalletStatusPending, WalletStatusAwaitingVerification, WalletStatusVerified,
		WalletStatusFailed, WalletStatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown wallet payment status %q", s)
}

func (s WalletStatus) MarshalJSON() ([]byte, error) {
	if _, err := ParseWalletStatus(string(s)); err != nil {
		return nil, err
	}
	return json.Marshal(string(s))
}

func (s *WalletStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := ParseWalletStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// PaymentMethod задаёт способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodWallet PaymentMethod = "wallet"
)

// ParsePaymentMethod проверяет способ оплаты.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch pm := PaymentMethod(s); pm {
	case PaymentMethodCash, PaymentMethodWallet:
		return pm, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

func (p PaymentMethod) MarshalJSON() ([]byte, error) {
	if _, err := ParsePaymentMethod(string(p)); err != nil {
		return nil, err
	}
	return json.Marshal(string(p))
}

func (p *PaymentMethod) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pm, err := ParsePaymentMethod(raw)
	if err != nil {
		return err
	}
	*p = pm
	return nil
}
