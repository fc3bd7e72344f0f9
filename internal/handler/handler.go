// Package handler содержит HTTP-обработчики API сервиса заказов фуд-корта.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/composer"
	"github.com/mmeshcher/stallorder/internal/middleware"
	"github.com/mmeshcher/stallorder/internal/model"
	"github.com/mmeshcher/stallorder/internal/payment"
	"github.com/mmeshcher/stallorder/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	GetCart(ctx context.Context, actor model.Actor) ([]model.CartLine, error)
	AddCartLine(ctx context.Context, actor model.Actor, line model.CartLine) (model.CartLine, error)
	RemoveCartLine(ctx context.Context, actor model.Actor, lineID string) error
	ClearCart(ctx context.Context, actor model.Actor) error
	Checkout(ctx context.Context, req composer.CheckoutRequest) (*composer.CheckoutResult, error)
	ListOrders(ctx context.Context, actor model.Actor, filter model.OrderFilter) ([]*model.Order, error)
	GetOrder(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error)
	Subscribe(ctx context.Context, actor model.Actor, orderID string) (*model.Order, <-chan *model.Order, func(), error)
	SubmitPayment(ctx context.Context, actor model.Actor, orderID string, sub payment.Submission) (payment.SubmitResult, error)
	VerifyPayment(ctx context.Context, actor model.Actor, orderID string, accepted bool) (*model.Order, error)
	CancelOrder(ctx context.Context, actor model.Actor, orderID, reason string) (*model.Order, error)
	AcceptOrder(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error)
	DeclineOrder(ctx context.Context, actor model.Actor, orderID, reason string) (*model.Order, error)
	MarkReady(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error)
	CompleteOrder(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error)
	Pickup(ctx context.Context, actor model.Actor, orderID, token string) (*model.Order, error)
	Loyalty(ctx context.Context, actor model.Actor) (*model.LoyaltyAccount, error)
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

// decodeOptional допускает пустое тело запроса.
func decodeOptional(r *http.Request, v any) error {
	err := decode(r, v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func actorOrFail(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return actor, ok
}

// orderIDOrFail отклоняет заведомо несуществующие номера без обращения к хранилищу.
func orderIDOrFail(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "orderID")
	if !validation.IsValidOrderID(id) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "order not found"})
		return "", false
	}
	return id, true
}

// GetCart возвращает корзину покупателя.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	lines, err := h.service.GetCart(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

type addLineRequest struct {
	MenuItemID string        `json:"menuItemId"`
	Quantity   int           `json:"quantity"`
	AddOns     []model.AddOn `json:"addOns"`
	Note       string        `json:"note"`
}

// AddCartLine добавляет позицию в корзину. Цена берётся из каталога.
func (h *Handler) AddCartLine(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var req addLineRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	line, err := h.service.AddCartLine(r.Context(), actor, model.CartLine{
		MenuItemID: req.MenuItemID,
		Quantity:   req.Quantity,
		AddOns:     req.AddOns,
		Note:       req.Note,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

// RemoveCartLine удаляет позицию из корзины.
func (h *Handler) RemoveCartLine(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveCartLine(r.Context(), actor, chi.URLParam(r, "lineID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCart очищает корзину.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	if err := h.service.ClearCart(r.Context(), actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkoutRequest struct {
	Lines               []model.CartLine    `json:"lines"`
	PaymentMethod       model.PaymentMethod `json:"paymentMethod"`
	VoucherCode         string              `json:"voucherCode"`
	CashTendered        *model.Money        `json:"cashTendered"`
	SpecialInstructions string              `json:"specialInstructions"`
	ScheduledTime       *time.Time          `json:"scheduledTime"`
	GroupOrderEmails    []string            `json:"groupOrderEmails"`
}

// Checkout оформляет заказ из переданных позиций или серверной корзины.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.Checkout(r.Context(), composer.CheckoutRequest{
		Actor:               actor,
		Lines:               req.Lines,
		PaymentMethod:       req.PaymentMethod,
		VoucherCode:         req.VoucherCode,
		CashTendered:        req.CashTendered,
		SpecialInstructions: req.SpecialInstructions,
		ScheduledTime:       req.ScheduledTime,
		GroupOrderEmails:    req.GroupOrderEmails,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListOrders возвращает заказы участника. Поддерживает параметры status и limit.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var filter model.OrderFilter
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := model.ParseOrderStatus(s)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter.Status = st
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	orders, err := h.service.ListOrders(r.Context(), actor, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrder возвращает заказ участнику, имеющему к нему доступ.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDOrFail(w, r)
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), actor, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type submitPaymentRequest struct {
	ReferenceNumber string `json:"referenceNumber"`
	SenderNumber    string `json:"senderNumber"`
}

type submitPaymentResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Order   *model.Order `json:"order"`
}

// SubmitPayment принимает реквизиты перевода через кошелёк.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDOrFail(w, r)
	if !ok {
		return
	}

	var req submitPaymentRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.SubmitPayment(r.Context(), actor, orderID, payment.Submission{
		ReferenceNumber: req.ReferenceNumber,
		SenderNumber:    req.SenderNumber,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitPaymentResponse{Success: res.Success, Message: res.Message, Order: res.Order})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder отменяет заказ от имени покупателя или администратора.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.CancelOrder)
}

// DeclineOrder отклоняет заказ, ещё не принятый продавцом.
func (h *Handler) DeclineOrder(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.DeclineOrder)
}

func (h *Handler) withReason(w http.ResponseWriter, r *http.Request, op func(context.Context, model.Actor, string, string) (*model.Order, error)) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDOrFail(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if err := decodeOptional(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := op(r.Context(), actor, orderID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type verifyPaymentRequest struct {
	Accepted *bool `json:"accepted"`
}

// VerifyPayment фиксирует решение продавца по переводу.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDOrFail(w, r)
	if !ok {
		return
	}

	var req verifyPaymentRequest
	if err := decode(r, &req); err != nil || req.Accepted == nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.VerifyPayment(r.Context(), actor, orderID, *req.Accepted)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// AcceptOrder переводит заказ в приготовление.
func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.service.AcceptOrder)
}

// MarkReady отмечает заказ готовым к выдаче.
func (h *Handler) MarkReady(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.service.MarkReady)
}

// CompleteOrder подтверждает выдачу заказа.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.service.CompleteOrder)
}

func (h *Handler) simple(w http.ResponseWriter, r *http.Request, op func(context.Context, model.Actor, string) (*model.Order, error)) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDOrFail(w, r)
	if !ok {
		return
	}

	o, err := op(r.Context(), actor, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type pickupRequest struct {
	Token string `json:"token"`
}

// Pickup подтверждает выдачу по отсканированному QR-токену.
func (h *Handler) Pickup(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDOrFail(w, r)
	if !ok {
		return
	}

	var req pickupRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.Pickup(r.Context(), actor, orderID, req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GetLoyalty возвращает баланс баллов и уровень покупателя.
func (h *Handler) GetLoyalty(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	acc, err := h.service.Loyalty(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}
