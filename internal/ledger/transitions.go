package ledger

import "github.com/mmeshcher/stallorder/internal/model"

// transitions перечисляет допустимые переходы статусов и роли, которые могут их выполнить.
var transitions = map[model.OrderStatus]map[model.OrderStatus][]model.Role{
	model.OrderStatusAwaitingPayment: {
		model.OrderStatusPending:   {model.RoleCustomer, model.RoleSystem},
		model.OrderStatusCancelled: {model.RoleSystem, model.RoleAdmin},
	},
	model.OrderStatusPending: {
		model.OrderStatusPreparing: {model.RoleVendor, model.RoleAdmin},
		model.OrderStatusCancelled: {model.RoleVendor, model.RoleCustomer, model.RoleAdmin, model.RoleSystem},
	},
	model.OrderStatusPreparing: {
		model.OrderStatusReady:     {model.RoleVendor, model.RoleAdmin},
		model.OrderStatusCancelled: {model.RoleVendor, model.RoleAdmin},
	},
	model.OrderStatusReady: {
		model.OrderStatusCompleted: {model.RoleVendor, model.RoleAdmin},
	},
}

// CanTransition сообщает, есть ли переход в таблице.
func CanTransition(from, to model.OrderStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

func roleAllowed(from, to model.OrderStatus, role model.Role) bool {
	for _, r := range transitions[from][to] {
		if r == role {
			return true
		}
	}
	return false
}

// InitialStatus возвращает стартовый статус заказа для способа оплаты.
func InitialStatus(method model.PaymentMethod) model.OrderStatus {
	if method == model.PaymentMethodWallet {
		return model.OrderStatusAwaitingPayment
	}
	return model.OrderStatusPending
}
