package api

import (
	"time"

	"github.com/kinobilet/kinobilet/internal/domain"
)

// CreateReservationRequest — тело POST /api/v1/reservations.
type CreateReservationRequest struct {
	ShowtimeID string `json:"showtime_id"`
	UserID     string `json:"user_id"`
	UserEmail  string `json:"user_email"`
}

// CancelTicketsRequest — тело POST /api/v1/tickets/cancel.
type CancelTicketsRequest struct {
	ShowtimeID string   `json:"showtime_id"`
	UserIDs    []string `json:"user_ids"`
}

// ReservationResponse — представление бронирования в API.
type ReservationResponse struct {
	ID            string    `json:"id"`
	ShowtimeID    string    `json:"showtime_id"`
	UserID        string    `json:"user_id"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id,omitempty"`
	PriceCents    int64     `json:"price_cents"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AcceptedOperationResponse — ответ 202 на асинхронную операцию.
type AcceptedOperationResponse struct {
	Operation string `json:"operation"`
	ID        string `json:"id"`
	Status    string `json:"status"`
}

// ShowtimeResponse — представление сеанса в API.
type ShowtimeResponse struct {
	ID         string    `json:"id"`
	MovieTitle string    `json:"movie_title"`
	HallName   string    `json:"hall_name"`
	PriceCents int64     `json:"price_cents"`
	StartsAt   time.Time `json:"starts_at"`
	Status     string    `json:"status"`
}

// reservationToResponse преобразует доменное бронирование в DTO.
func reservationToResponse(r *domain.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:            r.ID.String(),
		ShowtimeID:    r.ShowtimeID.String(),
		UserID:        r.UserID.String(),
		Status:        string(r.Status),
		TransactionID: r.TransactionID,
		PriceCents:    r.PriceCents,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// showtimeToResponse преобразует доменный сеанс в DTO.
func showtimeToResponse(s *domain.Showtime) ShowtimeResponse {
	return ShowtimeResponse{
		ID:         s.ID.String(),
		MovieTitle: s.MovieTitle,
		HallName:   s.HallName,
		PriceCents: s.PriceCents,
		StartsAt:   s.StartsAt,
		Status:     string(s.Status),
	}
}
