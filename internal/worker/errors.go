package worker

import "errors"

// Ошибки воркера.
var (
	// ErrStopped — воркер остановлен.
	ErrStopped = errors.New("worker stopped")

	// ErrBadIdentifier — идентификатор в payload не является UUID.
	ErrBadIdentifier = errors.New("bad identifier")
)
