package domain

import (
	"time"

	"github.com/google/uuid"
)

// Showtime — сеанс фильма в конкретном зале.
//
// CRUD по сеансам живёт вне этого сервиса; здесь сеанс читается
// только как источник деталей для сообщения ticket.reserve
// (название фильма, зал, цена, время начала).
type Showtime struct {
	// ID — уникальный идентификатор сеанса.
	ID uuid.UUID `json:"id"`

	// MovieTitle — название фильма.
	MovieTitle string `json:"movie_title"`

	// HallName — название зала.
	HallName string `json:"hall_name"`

	// PriceCents — цена билета в копейках.
	PriceCents int64 `json:"price_cents"`

	// StartsAt — время начала сеанса.
	StartsAt time.Time `json:"starts_at"`

	// Status — статус сеанса.
	Status ShowtimeStatus `json:"status"`
}

// IsCancellable возвращает true, если сеанс ещё можно отменить.
func (s *Showtime) IsCancellable() bool {
	return s.Status == ShowtimeStatusScheduled
}
