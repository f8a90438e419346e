package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinobilet/kinobilet/internal/domain"
)

// ReservationRepo — репозиторий бронирований.
type ReservationRepo struct {
	pool *pgxpool.Pool
}

// NewReservationRepo создаёт новый ReservationRepo.
func NewReservationRepo(pool *pgxpool.Pool) *ReservationRepo {
	return &ReservationRepo{pool: pool}
}

// CreatePending создаёт бронирование в статусе PENDING.
func (r *ReservationRepo) CreatePending(ctx context.Context, res *domain.Reservation) error {
	query := `
		INSERT INTO reservations (id, showtime_id, user_id, user_email, status, price_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		res.ID,
		res.ShowtimeID,
		res.UserID,
		res.UserEmail,
		domain.ReservationStatusPending,
		res.PriceCents,
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// GetByID возвращает бронирование по ID.
func (r *ReservationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	query := `
		SELECT id, showtime_id, user_id, user_email, status, transaction_id, price_cents, created_at, updated_at
		FROM reservations
		WHERE id = $1
	`
	var res domain.Reservation
	var txID *string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&res.ID,
		&res.ShowtimeID,
		&res.UserID,
		&res.UserEmail,
		&res.Status,
		&txID,
		&res.PriceCents,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	if txID != nil {
		res.TransactionID = *txID
	}
	return &res, nil
}

// Confirm переводит PENDING бронирование в CONFIRMED с transaction id.
// Возвращает ErrInvalidState, если бронирование уже не PENDING
// (например, janitor успел перевести его в EXPIRED).
func (r *ReservationRepo) Confirm(ctx context.Context, id uuid.UUID, txID string) error {
	query := `
		UPDATE reservations
		SET status = $2, transaction_id = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`
	result, err := r.pool.Exec(ctx, query, id, domain.ReservationStatusConfirmed, txID, domain.ReservationStatusPending)
	if err != nil {
		return fmt.Errorf("confirm reservation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Fail переводит PENDING бронирование в FAILED.
func (r *ReservationRepo) Fail(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE reservations
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`
	result, err := r.pool.Exec(ctx, query, id, domain.ReservationStatusFailed, domain.ReservationStatusPending)
	if err != nil {
		return fmt.Errorf("fail reservation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// CancelForUsers отменяет бронирования указанных пользователей на сеанс.
// Возвращает количество отменённых бронирований.
func (r *ReservationRepo) CancelForUsers(ctx context.Context, showtimeID uuid.UUID, userIDs []uuid.UUID) (int64, error) {
	query := `
		UPDATE reservations
		SET status = $3, updated_at = now()
		WHERE showtime_id = $1 AND user_id = ANY($2) AND status IN ($4, $5)
	`
	result, err := r.pool.Exec(ctx, query,
		showtimeID,
		userIDs,
		domain.ReservationStatusCancelled,
		domain.ReservationStatusPending,
		domain.ReservationStatusConfirmed,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel reservations: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListActiveUserIDs возвращает пользователей с активными
// (PENDING или CONFIRMED) бронированиями на сеанс.
func (r *ReservationRepo) ListActiveUserIDs(ctx context.Context, showtimeID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT user_id
		FROM reservations
		WHERE showtime_id = $1 AND status IN ($2, $3)
	`
	rows, err := r.pool.Query(ctx, query, showtimeID, domain.ReservationStatusPending, domain.ReservationStatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("list active user ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpirePending переводит в EXPIRED бронирования, зависшие в PENDING
// дольше ttl. Возвращает количество затронутых записей.
// Используется janitor'ом: ответ воркера так и не пришёл,
// место надо вернуть в продажу.
func (r *ReservationRepo) ExpirePending(ctx context.Context, ttl time.Duration) (int64, error) {
	query := `
		UPDATE reservations
		SET status = $1, updated_at = now()
		WHERE status = $2 AND created_at < $3
	`
	cutoff := time.Now().Add(-ttl)
	result, err := r.pool.Exec(ctx, query, domain.ReservationStatusExpired, domain.ReservationStatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire pending reservations: %w", err)
	}
	return result.RowsAffected(), nil
}
