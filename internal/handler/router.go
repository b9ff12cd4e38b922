package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/cellrent/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(custommiddleware.PeerAddr)
	r.Use(chimw.RealIP)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.With(custommiddleware.AllowIPs(h.webhookPrefixes, h.logger)).
			Post("/payments/notification", h.PaymentNotification)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Put("/clients/{id}", h.SaveClient)

			r.Post("/rentals", h.CreateRental)
			r.Get("/rentals/{id}", h.GetRental)
			r.Post("/rentals/{id}/close", h.CloseRental)
			r.Post("/rentals/{id}/payments", h.CreatePayment)
			r.Get("/rentals/{id}/payments", h.ListPayments)
			r.Get("/rentals/{id}/emails", h.ListEmails)

			r.Post("/notifications/run", h.RunNotifications)
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
