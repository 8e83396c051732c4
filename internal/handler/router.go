package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mariko-app/cart-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса корзины.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/health", h.Health)

	r.Route("/api/cart", func(r chi.Router) {
		r.Use(h.identity.Middleware)

		r.Post("/recalculate", h.Recalculate)
		r.Post("/submit", h.SubmitOrder)
		r.Get("/orders", h.GetOrders)

		r.Post("/profile/sync", h.SyncProfile)
		r.Get("/profile/me", h.GetProfile)
		r.Patch("/profile/me", h.PatchProfile)
	})

	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/yookassa/create", h.CreatePayment)
		r.Post("/yookassa/webhook", h.PaymentWebhook)
		r.Get("/{paymentID}", h.GetPayment)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
