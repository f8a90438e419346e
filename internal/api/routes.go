package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Reservations
	mux.Handle("POST /api/v1/reservations", chain(http.HandlerFunc(h.CreateReservation)))
	mux.Handle("GET /api/v1/reservations/{id}", chain(http.HandlerFunc(h.GetReservation)))

	// Cancellations
	mux.Handle("POST /api/v1/tickets/cancel", chain(http.HandlerFunc(h.CancelTickets)))
	mux.Handle("POST /api/v1/showtimes/{id}/cancel", chain(http.HandlerFunc(h.CancelShowtime)))

	// Showtimes (read-only)
	mux.Handle("GET /api/v1/showtimes/{id}", chain(http.HandlerFunc(h.GetShowtime)))

	// Health
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}
