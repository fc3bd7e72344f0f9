// Package composer превращает корзину покупателя в набор заказов по продавцам.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/fraud"
	"github.com/mmeshcher/stallorder/internal/loyalty"
	"github.com/mmeshcher/stallorder/internal/model"
	"github.com/mmeshcher/stallorder/internal/schedule"
	"github.com/mmeshcher/stallorder/internal/validation"
)

const (
	maxLineQuantity = 99
	// maxNumberAttempts ограничивает перегенерацию номера при совпадении с существующим.
	maxNumberAttempts = 3
)

// Catalog отдаёт актуальные цены и сведения о продавцах.
type Catalog interface {
	GetVendors(ctx context.Context, ids []string) (map[string]model.Vendor, error)
	GetMenuItems(ctx context.Context, ids []string) (map[string]model.MenuItem, error)
}

// Carts хранит серверные корзины покупателей.
type Carts interface {
	GetCart(ctx context.Context, customerID string) ([]model.CartLine, error)
	ClearCart(ctx context.Context, customerID string) error
}

// Guard выполняет антифрод-проверки до создания заказов.
type Guard interface {
	CheckVelocity(ctx context.Context, customerID string, amount model.Money) fraud.Decision
	DetectSuspicious(ctx context.Context, o *model.Order) fraud.Report
	Record(ctx context.Context, customerID string, amount model.Money)
}

// Loyalty резервирует ваучеры и начисляет баллы.
type Loyalty interface {
	Reserve(ctx context.Context, code, customerID string, subtotal model.Money) (*loyalty.Reservation, error)
	Commit(ctx context.Context, code, customerID, orderID string) error
	AwardForOrder(ctx context.Context, o *model.Order) (int64, error)
}

// Ledger сохраняет и компенсирует заказы.
type Ledger interface {
	Create(ctx context.Context, o *model.Order) error
	Cancel(ctx context.Context, actor model.Actor, orderID, reason string) (*model.Order, error)
}

// WalletIssuer выпускает запись об ожидаемой оплате через кошелёк.
type WalletIssuer interface {
	NewWalletPayment(orderID string, amount model.Money, vendorHandle string) *model.WalletPayment
}

// CheckoutRequest содержит параметры оформления. Пустой Lines означает серверную корзину.
type CheckoutRequest struct {
	Actor               model.Actor
	Lines               []model.CartLine
	PaymentMethod       model.PaymentMethod
	VoucherCode         string
	CashTendered        *model.Money
	SpecialInstructions string
	ScheduledTime       *time.Time
	GroupOrderEmails    []string
}

// CheckoutResult содержит итог оформления.
type CheckoutResult struct {
	ParentOrderID   string         `json:"parentOrderId"`
	Orders          []*model.Order `json:"orders"`
	Subtotal        model.Money    `json:"subtotal"`
	VoucherDiscount model.Money    `json:"voucherDiscount"`
	TotalAmount     model.Money    `json:"totalAmount"`
	ChangeDue       *model.Money   `json:"changeDue,omitempty"`
	PointsAwarded   int64          `json:"pointsAwarded"`
}

// Composer выполняет оформление корзины.
type Composer struct {
	catalog Catalog
	carts   Carts
	guard   Guard
	loyalty Loyalty
	ledger  Ledger
	wallet  WalletIssuer
	clock   schedule.Clock
	logger  *zap.Logger
}

// New создаёт сервис оформления заказов.
func New(catalog Catalog, carts Carts, guard Guard, loyalty Loyalty, ledger Ledger, wallet WalletIssuer, clock schedule.Clock, logger *zap.Logger) *Composer {
	return &Composer{
		catalog: catalog,
		carts:   carts,
		guard:   guard,
		loyalty: loyalty,
		ledger:  ledger,
		wallet:  wallet,
		clock:   clock,
		logger:  logger,
	}
}

type vendorGroup struct {
	vendor model.Vendor
	items  []model.OrderItem
}

func (g *vendorGroup) subtotal() model.Money {
	return model.ComputeSubtotal(g.items)
}

// Checkout оформляет корзину: по одному заказу на продавца с общим родительским номером.
func (c *Composer) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	customerID := req.Actor.ID
	if req.Actor.Role != model.RoleCustomer || customerID == "" {
		return nil, apperr.ErrNotOwner.With("only customers can check out")
	}
	if !req.Actor.EmailVerified {
		return nil, apperr.ErrEmailNotVerified.With("customer %s must verify email before ordering", customerID)
	}
	if req.PaymentMethod != model.PaymentMethodCash && req.PaymentMethod != model.PaymentMethodWallet {
		return nil, apperr.ErrPaymentMethodUnavailable.With("payment method %q is not supported", req.PaymentMethod)
	}

	lines := req.Lines
	if len(lines) == 0 {
		stored, err := c.carts.GetCart(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("get cart: %w", err)
		}
		lines = stored
	}
	if len(lines) == 0 {
		return nil, apperr.ErrEmptyCart.With("cart of customer %s is empty", customerID)
	}

	groups, err := c.price(ctx, lines)
	if err != nil {
		return nil, err
	}

	subtotals := make([]model.Money, len(groups))
	var subtotal model.Money
	for i, g := range groups {
		subtotals[i] = g.subtotal()
		subtotal += subtotals[i]
	}

	var reservation *loyalty.Reservation
	if code := strings.TrimSpace(req.VoucherCode); code != "" {
		reservation, err = c.loyalty.Reserve(ctx, code, customerID, subtotal)
		if err != nil {
			return nil, err
		}
	}

	var discount model.Money
	if reservation != nil {
		discount = reservation.Discount
	}
	total := subtotal - discount

	if d := c.guard.CheckVelocity(ctx, customerID, total); !d.Allowed {
		c.logger.Warn("checkout rejected by velocity limit",
			zap.String("customerID", customerID),
			zap.String("reason", d.Reason),
		)
		return nil, apperr.ErrVelocityLimit.With("%s", d.Reason)
	}

	if req.PaymentMethod == model.PaymentMethodCash {
		if req.CashTendered == nil || *req.CashTendered < total {
			return nil, apperr.ErrInsufficientPayment.With("cash tendered is less than %s", total)
		}
	} else if !anyWallet(groups) {
		return nil, apperr.ErrPaymentMethodUnavailable.With("no vendor in the cart accepts wallet payments")
	}

	now := c.clock.Now()
	shares := allocateDiscount(subtotals, discount)

	var (
		parentID string
		orders   []*model.Order
	)
	for attempt := 1; ; attempt++ {
		parentID, err = validation.NewOrderNumber(now)
		if err != nil {
			return nil, fmt.Errorf("generate order number: %w", err)
		}

		orders = make([]*model.Order, len(groups))
		for i, g := range groups {
			orders[i] = c.buildOrder(req, parentID, i, len(groups), g, subtotals[i], shares[i], now)
		}
		if req.PaymentMethod == model.PaymentMethodCash {
			tendered := *req.CashTendered
			change := tendered - total
			orders[0].CashAmount = &tendered
			orders[0].ChangeDue = &change
		}
		c.flagSuspicious(ctx, orders)

		err = c.persist(ctx, orders)
		if err == nil {
			break
		}
		if !errors.Is(err, apperr.ErrOrderExists) || attempt >= maxNumberAttempts {
			return nil, err
		}
		c.logger.Warn("order number collision, generating a new one",
			zap.String("parentOrderID", parentID),
			zap.Int("attempt", attempt),
		)
	}

	res := &CheckoutResult{
		ParentOrderID:   parentID,
		Orders:          orders,
		Subtotal:        subtotal,
		VoucherDiscount: discount,
		TotalAmount:     total,
		ChangeDue:       orders[0].ChangeDue,
	}

	if reservation != nil {
		if err := c.loyalty.Commit(ctx, reservation.Code, customerID, parentID); err != nil {
			c.compensate(ctx, orders, "voucher could not be redeemed")
			if apperr.KindOf(err) == apperr.KindInfra {
				return nil, fmt.Errorf("commit voucher: %w", err)
			}
			return nil, apperr.ErrVoucherInvalid.Wrap(err)
		}
	}

	for _, o := range orders {
		if o.PaymentMethod != model.PaymentMethodCash {
			continue
		}
		points, err := c.loyalty.AwardForOrder(ctx, o)
		if err != nil {
			c.logger.Error("loyalty award failed", zap.String("orderID", o.OrderID), zap.Error(err))
			continue
		}
		res.PointsAwarded += points
	}

	c.guard.Record(ctx, customerID, total)

	if err := c.carts.ClearCart(ctx, customerID); err != nil {
		c.logger.Error("clear cart failed", zap.String("customerID", customerID), zap.Error(err))
	}

	c.logger.Info("checkout completed",
		zap.String("parentOrderID", parentID),
		zap.String("customerID", customerID),
		zap.Int("orders", len(orders)),
		zap.String("total", total.String()),
	)
	return res, nil
}

// price пересчитывает строки корзины по каталогу и группирует их по продавцам в порядке появления.
func (c *Composer) price(ctx context.Context, lines []model.CartLine) ([]*vendorGroup, error) {
	itemIDs := make([]string, 0, len(lines))
	requested := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.MenuItemID == "" || l.Quantity <= 0 || l.Quantity > maxLineQuantity {
			return nil, apperr.ErrInvalidLine.With("line for item %q has quantity %d", l.MenuItemID, l.Quantity)
		}
		if _, ok := requested[l.MenuItemID]; !ok {
			itemIDs = append(itemIDs, l.MenuItemID)
		}
		requested[l.MenuItemID] += l.Quantity
	}

	items, err := c.catalog.GetMenuItems(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("get menu items: %w", err)
	}

	vendorIDs := make([]string, 0)
	seen := make(map[string]struct{})
	for _, id := range itemIDs {
		item, ok := items[id]
		if !ok {
			return nil, apperr.ErrItemUnavailable.With("menu item %s does not exist", id)
		}
		if !item.Available {
			return nil, apperr.ErrItemUnavailable.With("%s is not available", item.Name)
		}
		if item.Stock < requested[id] {
			return nil, apperr.ErrItemUnavailable.With("only %d of %s left", item.Stock, item.Name)
		}
		if _, ok := seen[item.VendorID]; !ok {
			seen[item.VendorID] = struct{}{}
			vendorIDs = append(vendorIDs, item.VendorID)
		}
	}

	vendors, err := c.catalog.GetVendors(ctx, vendorIDs)
	if err != nil {
		return nil, fmt.Errorf("get vendors: %w", err)
	}

	byVendor := make(map[string]*vendorGroup)
	var groups []*vendorGroup
	for _, l := range lines {
		item := items[l.MenuItemID]
		if l.VendorID != "" && l.VendorID != item.VendorID {
			return nil, apperr.ErrInvalidLine.With("item %s is not sold by vendor %s", item.ID, l.VendorID)
		}

		vendor, ok := vendors[item.VendorID]
		if !ok {
			return nil, apperr.ErrItemUnavailable.With("vendor %s of %s does not exist", item.VendorID, item.Name)
		}

		addOns, err := priceAddOns(item, l.AddOns)
		if err != nil {
			return nil, err
		}

		g, ok := byVendor[vendor.ID]
		if !ok {
			g = &vendorGroup{vendor: vendor}
			byVendor[vendor.ID] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, model.OrderItem{
			MenuItemID:     item.ID,
			Name:           item.Name,
			Quantity:       l.Quantity,
			Price:          item.Price,
			Customizations: addOns,
			Note:           strings.TrimSpace(l.Note),
		})
	}
	return groups, nil
}

func priceAddOns(item model.MenuItem, requested []model.AddOn) ([]model.AddOn, error) {
	res := make([]model.AddOn, 0, len(requested))
	for _, r := range requested {
		found := false
		for _, a := range item.AddOns {
			if strings.EqualFold(a.Name, r.Name) {
				res = append(res, a)
				found = true
				break
			}
		}
		if !found {
			return nil, apperr.ErrItemUnavailable.With("add-on %q is not offered for %s", r.Name, item.Name)
		}
	}
	return res, nil
}

func anyWallet(groups []*vendorGroup) bool {
	for _, g := range groups {
		if g.vendor.WalletEnabled {
			return true
		}
	}
	return false
}

func (c *Composer) buildOrder(req CheckoutRequest, parentID string, idx, count int, g *vendorGroup, subtotal, discount model.Money, now time.Time) *model.Order {
	orderID := parentID
	if count > 1 {
		orderID = validation.ChildOrderID(parentID, idx+1)
	}

	o := &model.Order{
		OrderID:             orderID,
		ParentOrderID:       parentID,
		MainOrderID:         parentID,
		CustomerID:          req.Actor.ID,
		VendorID:            g.vendor.ID,
		Items:               g.items,
		Subtotal:            subtotal,
		VoucherDiscount:     discount,
		TotalAmount:         subtotal - discount,
		PaymentMethod:       model.PaymentMethodCash,
		Status:              model.OrderStatusPending,
		SpecialInstructions: strings.TrimSpace(req.SpecialInstructions),
		ScheduledTime:       req.ScheduledTime,
		GroupOrderEmails:    req.GroupOrderEmails,
		IsMultiStallOrder:   count > 1,
		CreatedAt:           now,
	}

	if req.PaymentMethod == model.PaymentMethodWallet && g.vendor.WalletEnabled {
		o.PaymentMethod = model.PaymentMethodWallet
		o.Status = model.OrderStatusAwaitingPayment
		o.WalletPayment = c.wallet.NewWalletPayment(orderID, o.TotalAmount, g.vendor.WalletHandle)
	}
	return o
}

func (c *Composer) flagSuspicious(ctx context.Context, orders []*model.Order) {
	for _, o := range orders {
		if report := c.guard.DetectSuspicious(ctx, o); report.Suspicious {
			o.ReviewFlags = report.Reasons
			c.logger.Warn("order flagged for review",
				zap.String("orderID", o.OrderID),
				zap.Strings("reasons", report.Reasons),
			)
		}
	}
}

// persist сохраняет заказы по одному; при ошибке отменяет уже созданные.
func (c *Composer) persist(ctx context.Context, orders []*model.Order) error {
	for i, o := range orders {
		if err := c.ledger.Create(ctx, o); err != nil {
			c.logger.Error("order persistence failed, compensating",
				zap.String("orderID", o.OrderID),
				zap.Int("created", i),
				zap.Error(err),
			)
			c.compensate(ctx, orders[:i], "checkout failed")
			return fmt.Errorf("persist orders: %w", err)
		}
	}
	return nil
}

func (c *Composer) compensate(ctx context.Context, orders []*model.Order, reason string) {
	for _, o := range orders {
		if _, err := c.ledger.Cancel(ctx, model.SystemActor, o.OrderID, reason); err != nil {
			c.logger.Error("compensating cancel failed", zap.String("orderID", o.OrderID), zap.Error(err))
		}
	}
}
