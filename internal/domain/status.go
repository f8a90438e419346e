package domain

// ReservationStatus — статус бронирования.
//
// Жизненный цикл:
//
//	PENDING → CONFIRMED (worker получил transaction id)
//	        ↘ FAILED    (платёж не прошёл)
//	        ↘ EXPIRED   (janitor: ответ так и не пришёл)
//	CONFIRMED → CANCELLED (отмена билета или всего сеанса)
type ReservationStatus string

const (
	// ReservationStatusPending — запрос отправлен воркеру, ответ ещё не получен.
	ReservationStatusPending ReservationStatus = "PENDING"

	// ReservationStatusConfirmed — оплата прошла, билет закреплён за пользователем.
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"

	// ReservationStatusFailed — воркер ответил без transaction id.
	ReservationStatusFailed ReservationStatus = "FAILED"

	// ReservationStatusExpired — ответ не пришёл за отведённое время, место освобождено.
	ReservationStatusExpired ReservationStatus = "EXPIRED"

	// ReservationStatusCancelled — бронирование отменено (билет или весь сеанс).
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationStatusConfirmed, ReservationStatusFailed,
		ReservationStatusExpired, ReservationStatusCancelled:
		return true
	default:
		return false
	}
}

// ShowtimeStatus — статус сеанса.
type ShowtimeStatus string

const (
	// ShowtimeStatusScheduled — сеанс запланирован, билеты продаются.
	ShowtimeStatusScheduled ShowtimeStatus = "SCHEDULED"

	// ShowtimeStatusCancelled — сеанс отменён, все бронирования освобождены.
	ShowtimeStatusCancelled ShowtimeStatus = "CANCELLED"
)
