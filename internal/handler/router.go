package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/orderflow/internal/middleware"
	"github.com/mmeshcher/orderflow/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса заказов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Metrics)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.GzipMiddleware)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Вебхуки провайдеров аутентифицируются подписью, а не токеном.
	r.Post("/webhooks/{tenantID}/{provider}", h.Webhook)

	staff := custommiddleware.RequireRole(model.RoleStaff)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/orders", h.Checkout)
		r.Route("/orders/{id}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Post("/cancel", h.Cancel)
			r.Post("/payments/pix", h.CreatePixCharge)

			r.Group(func(r chi.Router) {
				r.Use(staff)

				r.Post("/accept", h.Accept)
				r.Post("/reject", h.Reject)
				r.Put("/status", h.ChangeStatus)
				r.Post("/items", h.AddItems)
				r.Delete("/", h.DeleteOrder)
			})
		})

		r.Get("/customers/{id}/loyalty", h.GetLoyaltyBalance)

		r.Group(func(r chi.Router) {
			r.Use(staff)

			r.Post("/payments/{id}/advance-order", h.AdvanceOrder)
			r.Put("/payment-gateways", h.UpsertGatewayConfig)
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
