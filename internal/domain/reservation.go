package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reservation — бронирование одного места на сеанс.
//
// Создаётся API в статусе PENDING одновременно с публикацией запроса
// ticket.reserve. Дальнейшие переходы статуса делает consumer ответов
// (CONFIRMED/FAILED) либо janitor (EXPIRED).
type Reservation struct {
	// ID — уникальный идентификатор бронирования.
	// Он же pending id в протоколе запрос/ответ.
	ID uuid.UUID `json:"id"`

	// ShowtimeID — сеанс, на который бронируется место.
	ShowtimeID uuid.UUID `json:"showtime_id"`

	// UserID — пользователь, для которого бронируется место.
	UserID uuid.UUID `json:"user_id"`

	// UserEmail — контакт для уведомления (копия на момент бронирования).
	UserEmail string `json:"user_email"`

	// Status — текущий статус бронирования.
	Status ReservationStatus `json:"status"`

	// TransactionID — идентификатор платежа, выданный воркером.
	// Пустой, пока бронирование не подтверждено.
	TransactionID string `json:"transaction_id,omitempty"`

	// PriceCents — цена билета в копейках на момент бронирования.
	PriceCents int64 `json:"price_cents"`

	// CreatedAt — время создания бронирования.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего перехода статуса.
	UpdatedAt time.Time `json:"updated_at"`
}

// MarkConfirmed переводит бронирование в CONFIRMED с transaction id.
func (r *Reservation) MarkConfirmed(txID string) {
	r.Status = ReservationStatusConfirmed
	r.TransactionID = txID
	r.UpdatedAt = time.Now()
}

// MarkFailed переводит бронирование в FAILED.
func (r *Reservation) MarkFailed() {
	r.Status = ReservationStatusFailed
	r.UpdatedAt = time.Now()
}

// IsFinished возвращает true, если бронирование в финальном статусе.
func (r *Reservation) IsFinished() bool {
	return r.Status.IsTerminal()
}
