package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kinobilet/kinobilet/internal/mq"
	"github.com/kinobilet/kinobilet/internal/telemetry"
)

// Ошибки ожидания ответа.
var (
	// ErrAwaitTimeout — ответ не пришёл за отведённое время.
	ErrAwaitTimeout = errors.New("await timeout")

	// ErrDuplicatePending — операция с таким ключом уже ждёт ответ.
	ErrDuplicatePending = errors.New("duplicate pending operation")
)

// IsDuplicate возвращает true, если ошибка означает, что операция
// с таким ключом уже ждёт ответ.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicatePending)
}

// pendingKey — ключ pending-операции: тег операции плюс идентификатор
// из payload'а. Сам по себе correlation id операцию не различает,
// поэтому сопоставление ответа идёт по паре.
func pendingKey(op mq.Operation, id string) string {
	return string(op) + ":" + id
}

// entry — одна ожидающая операция.
type entry struct {
	ch       chan []byte
	deadline time.Time
}

// PendingTable сопоставляет ответы воркера с ожидающими операциями.
// Записи без ответа вычищаются по TTL: упавший воркер не должен
// копить ожидания вечно.
type PendingTable struct {
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewPendingTable создаёт новую таблицу с указанным TTL записей.
func NewPendingTable(ttl time.Duration, logger *slog.Logger) *PendingTable {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PendingTable{
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Register регистрирует ожидание ответа на операцию.
// Возвращает канал, в который придёт payload ответа, и функцию
// снятия регистрации (для отказа от ожидания).
func (t *PendingTable) Register(op mq.Operation, id string) (<-chan []byte, func(), error) {
	key := pendingKey(op, id)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; exists {
		return nil, nil, fmt.Errorf("%w: %s", ErrDuplicatePending, key)
	}

	e := &entry{
		ch:       make(chan []byte, 1),
		deadline: time.Now().Add(t.ttl),
	}
	t.entries[key] = e
	telemetry.PendingOperations.Set(float64(len(t.entries)))

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.entries[key]; ok {
			delete(t.entries, key)
			telemetry.PendingOperations.Set(float64(len(t.entries)))
		}
	}

	return e.ch, cancel, nil
}

// Resolve доставляет payload ответа ожидающей операции.
// Возвращает false, если никто не ждёт: ответ пришёл после
// таймаута вызывающей стороны или после рестарта процесса.
func (t *PendingTable) Resolve(op mq.Operation, id string, body []byte) bool {
	key := pendingKey(op, id)

	t.mu.Lock()
	e, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
		telemetry.PendingOperations.Set(float64(len(t.entries)))
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	e.ch <- body
	return true
}

// Await ждёт ответ из канала, полученного от Register.
func (t *PendingTable) Await(ctx context.Context, ch <-chan []byte) ([]byte, error) {
	select {
	case body := <-ch:
		return body, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrAwaitTimeout, ctx.Err())
	}
}

// Run периодически вычищает просроченные записи. Блокируется
// до отмены ctx.
func (t *PendingTable) Run(ctx context.Context) {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// sweep удаляет записи с истёкшим deadline.
func (t *PendingTable) sweep() {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	expired := 0
	for key, e := range t.entries {
		if now.After(e.deadline) {
			delete(t.entries, key)
			expired++
		}
	}

	if expired > 0 {
		telemetry.PendingOperations.Set(float64(len(t.entries)))
		t.logger.Warn("expired pending operations swept", "count", expired)
	}
}

// Len возвращает число ожидающих операций.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
