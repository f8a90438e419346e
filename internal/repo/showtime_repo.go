package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinobilet/kinobilet/internal/domain"
)

// ShowtimeRepo — узкий репозиторий сеансов.
//
// CRUD по сеансам живёт в другом сервисе; здесь только то,
// что нужно тикетному протоколу: детали сеанса для запроса
// reserve и перевод сеанса в CANCELLED.
type ShowtimeRepo struct {
	pool *pgxpool.Pool
}

// NewShowtimeRepo создаёт новый ShowtimeRepo.
func NewShowtimeRepo(pool *pgxpool.Pool) *ShowtimeRepo {
	return &ShowtimeRepo{pool: pool}
}

// GetByID возвращает сеанс по ID.
func (r *ShowtimeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Showtime, error) {
	query := `
		SELECT id, movie_title, hall_name, price_cents, starts_at, status
		FROM showtimes
		WHERE id = $1
	`
	var s domain.Showtime
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.MovieTitle,
		&s.HallName,
		&s.PriceCents,
		&s.StartsAt,
		&s.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get showtime: %w", err)
	}
	return &s, nil
}

// MarkCancelled переводит сеанс в CANCELLED.
// Возвращает ErrInvalidState, если сеанс уже отменён.
func (r *ShowtimeRepo) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE showtimes
		SET status = $2
		WHERE id = $1 AND status = $3
	`
	result, err := r.pool.Exec(ctx, query, id, domain.ShowtimeStatusCancelled, domain.ShowtimeStatusScheduled)
	if err != nil {
		return fmt.Errorf("cancel showtime: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}
