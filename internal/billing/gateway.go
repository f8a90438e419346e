// Package billing — платёжный шаг операции reserve.
//
// Воркер не знает, как именно проводится платёж: он зовёт Gateway
// и получает transaction id либо ошибку. Реализация на Postgres
// записывает платёж идемпотентно по pending id, поэтому повторная
// доставка запроса не создаёт второй платёж.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDeclined — платёж отклонён (недостаточно средств и т.п.).
var ErrDeclined = errors.New("payment declined")

// Gateway проводит оплату бронирования.
// Возвращает transaction id при успехе.
type Gateway interface {
	Authorize(ctx context.Context, pendingID string, amountCents int64, userEmail string) (string, error)
}

// PgGateway — Gateway поверх Postgres.
type PgGateway struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgGateway создаёт новый PgGateway.
func NewPgGateway(pool *pgxpool.Pool, logger *slog.Logger) *PgGateway {
	return &PgGateway{pool: pool, logger: logger}
}

// Authorize записывает платёж и возвращает его transaction id.
//
// Идемпотентность: на pending_id стоит уникальный индекс; повторный
// вызов с тем же pending id возвращает уже существующий transaction id.
func (g *PgGateway) Authorize(ctx context.Context, pendingID string, amountCents int64, userEmail string) (string, error) {
	if amountCents <= 0 {
		return "", fmt.Errorf("%w: non-positive amount %d", ErrDeclined, amountCents)
	}

	txID := uuid.New().String()

	query := `
		INSERT INTO payments (id, pending_id, amount_cents, user_email, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (pending_id) DO NOTHING
	`
	result, err := g.pool.Exec(ctx, query, txID, pendingID, amountCents, userEmail)
	if err != nil {
		return "", fmt.Errorf("insert payment: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Повторная доставка: платёж уже проведён.
		existing, err := g.lookup(ctx, pendingID)
		if err != nil {
			return "", err
		}
		g.logger.Debug("payment already authorized",
			"pending_id", pendingID,
			"transaction_id", existing,
		)
		return existing, nil
	}

	g.logger.Info("payment authorized",
		"pending_id", pendingID,
		"transaction_id", txID,
		"amount_cents", amountCents,
	)

	return txID, nil
}

// lookup возвращает transaction id уже проведённого платежа.
func (g *PgGateway) lookup(ctx context.Context, pendingID string) (string, error) {
	var txID string
	err := g.pool.QueryRow(ctx, `SELECT id FROM payments WHERE pending_id = $1`, pendingID).Scan(&txID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("payment for %s vanished", pendingID)
		}
		return "", fmt.Errorf("lookup payment: %w", err)
	}
	return txID, nil
}
