// Package janitor — фоновая уборка зависших бронирований.
//
// PENDING-бронирование, на которое так и не пришёл ответ воркера,
// навсегда удерживает место. Janitor по cron-расписанию переводит
// такие записи в EXPIRED. При нескольких экземплярах уборку делает
// только лидер: лидерство — advisory lock Postgres, который живёт
// вместе с сессией и сам освобождается при падении процесса.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/kinobilet/kinobilet/internal/repo"
	"github.com/kinobilet/kinobilet/internal/telemetry"
)

// lockKey — ключ advisory lock лидера janitor'а.
const lockKey int64 = 541921

// cronParser — парсер cron-выражений (пять стандартных полей).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule проверяет валидность cron-выражения расписания.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Janitor периодически переводит просроченные PENDING-бронирования
// в EXPIRED.
type Janitor struct {
	pool         *pgxpool.Pool
	reservations *repo.ReservationRepo
	sched        cron.Schedule
	pendingTTL   time.Duration
	logger       *slog.Logger

	hasLock bool
}

// New создаёт janitor с указанным cron-расписанием уборки.
func New(pool *pgxpool.Pool, reservations *repo.ReservationRepo, scheduleExpr string, pendingTTL time.Duration, logger *slog.Logger) (*Janitor, error) {
	sched, err := cronParser.Parse(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", scheduleExpr, err)
	}
	if pendingTTL <= 0 {
		pendingTTL = time.Minute
	}

	return &Janitor{
		pool:         pool,
		reservations: reservations,
		sched:        sched,
		pendingTTL:   pendingTTL,
		logger:       logger,
	}, nil
}

// Run крутит цикл уборки до отмены ctx.
func (j *Janitor) Run(ctx context.Context) error {
	defer j.releaseLock()

	next := j.sched.Next(time.Now())
	j.logger.Info("janitor started",
		"next_sweep", next.Format(time.RFC3339),
		"pending_ttl", j.pendingTTL,
	)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case now := <-ticker.C:
			if now.Before(next) {
				continue
			}
			next = j.sched.Next(now)

			// пытаемся стать лидером (или подтвердить лидерство)
			if !j.ensureLeader(ctx) {
				continue
			}

			j.sweep(ctx)
		}
	}
}

// ensureLeader берёт advisory lock, если его ещё нет.
func (j *Janitor) ensureLeader(ctx context.Context) bool {
	if j.hasLock {
		return true
	}

	var ok bool
	if err := j.pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", lockKey).Scan(&ok); err != nil {
		j.logger.Error("advisory lock attempt failed", "error", err)
		return false
	}
	if ok {
		j.logger.Info("became janitor leader")
	}
	j.hasLock = ok
	return ok
}

// releaseLock отпускает advisory lock при остановке.
func (j *Janitor) releaseLock() {
	if !j.hasLock {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := j.pool.Exec(ctx, "select pg_advisory_unlock($1)", lockKey); err != nil {
		j.logger.Warn("failed to release advisory lock", "error", err)
	}
	j.hasLock = false
}

// sweep выполняет один проход уборки.
func (j *Janitor) sweep(ctx context.Context) {
	expired, err := j.reservations.ExpirePending(ctx, j.pendingTTL)
	if err != nil {
		j.logger.Error("sweep failed", "error", err)
		return
	}

	if expired > 0 {
		telemetry.ExpiredReservationsTotal.Add(float64(expired))
		j.logger.Info("stale reservations expired", "count", expired)
	} else {
		j.logger.Debug("sweep found nothing to expire")
	}
}
