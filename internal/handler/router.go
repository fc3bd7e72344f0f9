package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/stallorder/internal/middleware"
	"github.com/mmeshcher/stallorder/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса заказов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RequireRole(model.RoleCustomer))

			r.Get("/cart", h.GetCart)
			r.Delete("/cart", h.ClearCart)
			r.Post("/cart/lines", h.AddCartLine)
			r.Delete("/cart/lines/{lineID}", h.RemoveCartLine)

			r.Post("/checkout", h.Checkout)
			r.Get("/loyalty", h.GetLoyalty)
			r.Post("/orders/{orderID}/payment", h.SubmitPayment)
		})

		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{orderID}", h.GetOrder)
		r.Get("/orders/{orderID}/events", h.OrderEvents)
		r.Post("/orders/{orderID}/cancel", h.CancelOrder)

		r.Route("/vendor/orders/{orderID}", func(r chi.Router) {
			r.Use(custommiddleware.RequireRole(model.RoleVendor, model.RoleAdmin))

			r.Post("/verify-payment", h.VerifyPayment)
			r.Post("/accept", h.AcceptOrder)
			r.Post("/decline", h.DeclineOrder)
			r.Post("/cancel", h.CancelOrder)
			r.Post("/ready", h.MarkReady)
			r.Post("/complete", h.CompleteOrder)
			r.Post("/pickup", h.Pickup)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
