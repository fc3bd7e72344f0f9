// Package apperr описывает таксономию ошибок сервиса заказов.
package apperr

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибку для вызывающей стороны.
type Kind uint8

const (
	KindInfra Kind = iota
	KindValidation
	KindIntegrity
	KindOwnership
	KindInvalidTransition
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindIntegrity:
		return "integrity"
	case KindOwnership:
		return "ownership"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "infra"
	}
}

// Error описывает типизированную ошибку домена. Сравнение через errors.Is выполняется по Code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибки по коду, чтобы уточнённые копии совпадали с базовыми.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// With возвращает копию ошибки с уточнённым сообщением.
func (e *Error) With(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Wrap возвращает копию ошибки с вложенной причиной.
func (e *Error) Wrap(err error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: err}
}

var (
	ErrEmptyCart                = &Error{Kind: KindValidation, Code: "empty_cart", Message: "cart is empty"}
	ErrInvalidLine              = &Error{Kind: KindValidation, Code: "invalid_line", Message: "cart line is invalid"}
	ErrInvalidOrder             = &Error{Kind: KindValidation, Code: "invalid_order", Message: "order violates monetary invariants"}
	ErrInsufficientPayment      = &Error{Kind: KindValidation, Code: "insufficient_payment", Message: "cash tendered is less than the amount due"}
	ErrPaymentMethodUnavailable = &Error{Kind: KindValidation, Code: "payment_method_unavailable", Message: "payment method is not available for this order"}
	ErrVelocityLimit            = &Error{Kind: KindValidation, Code: "velocity_limit", Message: "order limit reached"}
	ErrVoucherInvalid           = &Error{Kind: KindValidation, Code: "voucher_invalid", Message: "voucher cannot be applied"}
	ErrItemUnavailable          = &Error{Kind: KindValidation, Code: "item_unavailable", Message: "menu item is unavailable"}
	ErrEmailNotVerified         = &Error{Kind: KindValidation, Code: "email_not_verified", Message: "email address is not verified"}
	ErrCancelWindowClosed       = &Error{Kind: KindValidation, Code: "cancel_window_closed", Message: "order can no longer be cancelled"}
	ErrInvalidPayment           = &Error{Kind: KindValidation, Code: "invalid_payment", Message: "wallet payment details are incomplete"}
	ErrPaymentWindowClosed      = &Error{Kind: KindValidation, Code: "payment_window_closed", Message: "payment window has expired"}

	ErrChecksumMismatch = &Error{Kind: KindIntegrity, Code: "checksum_mismatch", Message: "order checksum mismatch"}
	ErrInvalidToken     = &Error{Kind: KindIntegrity, Code: "invalid_token", Message: "order token is invalid"}

	ErrNotOwner = &Error{Kind: KindOwnership, Code: "not_owner", Message: "actor does not own the order"}

	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Code: "invalid_transition", Message: "status transition is not allowed"}

	ErrInsufficientStock = &Error{Kind: KindConflict, Code: "insufficient_stock", Message: "not enough stock to complete the order"}
	ErrOrderExists       = &Error{Kind: KindConflict, Code: "order_exists", Message: "order number is already taken"}

	ErrNotFound = &Error{Kind: KindNotFound, Code: "not_found", Message: "order not found"}
)

// ErrNoChange возвращается из колбэка изменения, когда запись уже в нужном состоянии.
// Хранилище в этом случае ничего не пишет и не считает это ошибкой.
var ErrNoChange = errors.New("no change")

// KindOf возвращает класс ошибки; неклассифицированные ошибки считаются инфраструктурными.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfra
}

// PublicMessage возвращает сообщение, которое допустимо показать пользователю.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Kind {
	case KindIntegrity:
		return "order cannot be processed"
	case KindInfra:
		return "internal error"
	default:
		return e.Message
	}
}
