package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kinobilet/kinobilet/internal/repo"
)

// SeatReleaser освобождает места бронирований — внешний бизнес-шаг
// операций cancel-ticket и cancel-showtime.
type SeatReleaser interface {
	// ReleaseTickets освобождает места указанных пользователей на сеанс.
	ReleaseTickets(ctx context.Context, showtimeID string, userIDs []string) error

	// ReleaseShowtime освобождает места всех пользователей
	// и помечает сеанс отменённым.
	ReleaseShowtime(ctx context.Context, showtimeID string, userIDs []string) error
}

// StoreReleaser — SeatReleaser поверх репозиториев.
type StoreReleaser struct {
	reservations *repo.ReservationRepo
	showtimes    *repo.ShowtimeRepo
	logger       *slog.Logger
}

// NewStoreReleaser создаёт новый StoreReleaser.
func NewStoreReleaser(reservations *repo.ReservationRepo, showtimes *repo.ShowtimeRepo, logger *slog.Logger) *StoreReleaser {
	return &StoreReleaser{
		reservations: reservations,
		showtimes:    showtimes,
		logger:       logger,
	}
}

// ReleaseTickets отменяет бронирования пользователей на сеанс.
func (s *StoreReleaser) ReleaseTickets(ctx context.Context, showtimeID string, userIDs []string) error {
	showtime, users, err := parseIDs(showtimeID, userIDs)
	if err != nil {
		return err
	}

	released, err := s.reservations.CancelForUsers(ctx, showtime, users)
	if err != nil {
		return fmt.Errorf("release tickets: %w", err)
	}

	s.logger.Info("tickets released",
		"showtime_id", showtimeID,
		"users", len(users),
		"released", released,
	)

	return nil
}

// ReleaseShowtime отменяет все бронирования сеанса и сам сеанс.
func (s *StoreReleaser) ReleaseShowtime(ctx context.Context, showtimeID string, userIDs []string) error {
	showtime, users, err := parseIDs(showtimeID, userIDs)
	if err != nil {
		return err
	}

	released, err := s.reservations.CancelForUsers(ctx, showtime, users)
	if err != nil {
		return fmt.Errorf("release showtime reservations: %w", err)
	}

	if err := s.showtimes.MarkCancelled(ctx, showtime); err != nil {
		// Сеанс уже отменён — повторная доставка, не ошибка.
		if !errors.Is(err, repo.ErrInvalidState) {
			return fmt.Errorf("mark showtime cancelled: %w", err)
		}
		s.logger.Debug("showtime already cancelled", "showtime_id", showtimeID)
	}

	s.logger.Info("showtime released",
		"showtime_id", showtimeID,
		"users", len(users),
		"released", released,
	)

	return nil
}

// parseIDs разбирает строковые идентификаторы из payload.
func parseIDs(showtimeID string, userIDs []string) (uuid.UUID, []uuid.UUID, error) {
	showtime, err := uuid.Parse(showtimeID)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: showtime_id %q", ErrBadIdentifier, showtimeID)
	}

	users := make([]uuid.UUID, 0, len(userIDs))
	for _, raw := range userIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("%w: user_id %q", ErrBadIdentifier, raw)
		}
		users = append(users, id)
	}

	return showtime, users, nil
}
