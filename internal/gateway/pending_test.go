package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kinobilet/kinobilet/internal/mq"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPendingTable_RegisterResolve(t *testing.T) {
	table := NewPendingTable(time.Minute, testLogger())

	ch, cancel, err := table.Register(mq.OpReserveTicket, "p-1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer cancel()

	if !table.Resolve(mq.OpReserveTicket, "p-1", []byte("reply")) {
		t.Fatal("resolve must find the waiter")
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), time.Second)
	defer ctxCancel()
	body, err := table.Await(ctx, ch)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if string(body) != "reply" {
		t.Errorf("expected reply body, got %q", body)
	}

	if table.Len() != 0 {
		t.Errorf("resolved entry must be removed, table has %d", table.Len())
	}
}

func TestPendingTable_KeyIncludesOperation(t *testing.T) {
	table := NewPendingTable(time.Minute, testLogger())

	// Один идентификатор, разные операции — разные ожидания.
	_, cancelReserve, err := table.Register(mq.OpReserveTicket, "id-1")
	if err != nil {
		t.Fatalf("register reserve: %v", err)
	}
	defer cancelReserve()

	_, cancelTicket, err := table.Register(mq.OpCancelTicket, "id-1")
	if err != nil {
		t.Fatalf("register cancel with same id: %v", err)
	}
	defer cancelTicket()

	if table.Resolve(mq.OpCancelShowtime, "id-1", nil) {
		t.Error("resolve with a different operation must not match")
	}
	if !table.Resolve(mq.OpCancelTicket, "id-1", []byte("x")) {
		t.Error("resolve must match the cancel-ticket waiter")
	}
}

func TestPendingTable_DuplicateRegister(t *testing.T) {
	table := NewPendingTable(time.Minute, testLogger())

	_, cancel, err := table.Register(mq.OpReserveTicket, "p-1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := table.Register(mq.OpReserveTicket, "p-1"); !IsDuplicate(err) {
		t.Errorf("expected duplicate error, got %v", err)
	}

	// После снятия регистрации ключ свободен.
	cancel()
	if _, cancel2, err := table.Register(mq.OpReserveTicket, "p-1"); err != nil {
		t.Errorf("register after cancel: %v", err)
	} else {
		cancel2()
	}
}

func TestPendingTable_ResolveWithoutWaiter(t *testing.T) {
	table := NewPendingTable(time.Minute, testLogger())

	if table.Resolve(mq.OpReserveTicket, "ghost", []byte("late reply")) {
		t.Error("resolve without a waiter must return false")
	}
}

func TestPendingTable_AwaitTimeout(t *testing.T) {
	table := NewPendingTable(time.Minute, testLogger())

	ch, cancel, err := table.Register(mq.OpCancelShowtime, "s-1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer ctxCancel()

	if _, err := table.Await(ctx, ch); err == nil {
		t.Error("await must fail when no reply arrives")
	}
}

func TestPendingTable_SweepExpires(t *testing.T) {
	table := NewPendingTable(10*time.Millisecond, testLogger())

	if _, _, err := table.Register(mq.OpReserveTicket, "p-1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	table.sweep()

	if table.Len() != 0 {
		t.Errorf("expired entry must be swept, table has %d", table.Len())
	}

	// Просроченное ожидание больше не резолвится.
	if table.Resolve(mq.OpReserveTicket, "p-1", nil) {
		t.Error("swept entry must not resolve")
	}
}
