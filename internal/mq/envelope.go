package mq

import (
	"time"
)

// Operation — тег операции протокола запрос/ответ.
// Передаётся как AMQP correlation id и замкнут на три значения.
type Operation string

// Операции тикетного протокола.
const (
	OpReserveTicket  Operation = "reserve"
	OpCancelTicket   Operation = "cancel-ticket"
	OpCancelShowtime Operation = "cancel-showtime"
)

// ParseOperation возвращает операцию по correlation id.
// Второе значение false, если тег не входит в закрытый набор.
func ParseOperation(s string) (Operation, bool) {
	switch Operation(s) {
	case OpReserveTicket, OpCancelTicket, OpCancelShowtime:
		return Operation(s), true
	default:
		return "", false
	}
}

// UserContact — идентификация и контакт пользователя в запросе reserve.
type UserContact struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ShowtimeDetails — детали сеанса, вкладываемые в запрос reserve.
// Воркеру не нужен доступ к таблице сеансов: всё, что требуется
// для оплаты и уведомления, едет в сообщении.
type ShowtimeDetails struct {
	MovieTitle string    `json:"movie_title"`
	HallName   string    `json:"hall_name"`
	PriceCents int64     `json:"price_cents"`
	StartsAt   time.Time `json:"starts_at"`
}

// ReserveTicketRequest — запрос на бронирование билета.
type ReserveTicketRequest struct {
	PendingID string          `json:"pending_id"`
	User      UserContact     `json:"user"`
	Showtime  ShowtimeDetails `json:"showtime"`
}

// ReserveTicketReply — ответ на бронирование.
// Пустой TransactionID означает, что оплата не прошла.
type ReserveTicketReply struct {
	PendingID     string `json:"pending_id"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// CancelTicketRequest — запрос на отмену билетов пользователей на сеанс.
type CancelTicketRequest struct {
	ShowtimeID string   `json:"showtime_id"`
	UserIDs    []string `json:"user_ids"`
}

// CancelTicketReply — ответ на отмену билетов.
// Повторяет идентифицирующие поля запроса.
type CancelTicketReply struct {
	ShowtimeID string   `json:"showtime_id"`
	UserIDs    []string `json:"user_ids"`
}

// CancelShowtimeRequest — запрос на отмену сеанса целиком.
type CancelShowtimeRequest struct {
	ShowtimeID string   `json:"showtime_id"`
	UserIDs    []string `json:"user_ids"`
}

// CancelShowtimeReply — ответ на отмену сеанса.
type CancelShowtimeReply struct {
	ShowtimeID string   `json:"showtime_id"`
	UserIDs    []string `json:"user_ids"`
}
