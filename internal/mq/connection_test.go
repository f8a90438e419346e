package mq

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestConnection собирает Connection без обращения к брокеру.
func newTestConnection() *Connection {
	return &Connection{
		logger:      testLogger(),
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}),
	}
}

func TestConnection_HealthTransitions(t *testing.T) {
	c := newTestConnection()

	if c.IsAlive() || c.IsReady() {
		t.Fatal("fresh connection must not be alive or ready")
	}

	c.applyEvent(eventConnected, nil)
	if !c.IsAlive() || !c.IsReady() {
		t.Fatal("connected: expected alive and ready")
	}

	// flow control: соединение живо, но работу принимать нельзя
	c.applyEvent(eventBlocked, nil)
	if !c.IsAlive() {
		t.Error("blocked connection must stay alive")
	}
	if c.IsReady() {
		t.Error("blocked connection must not be ready")
	}

	c.applyEvent(eventUnblocked, nil)
	if !c.IsAlive() || !c.IsReady() {
		t.Error("unblocked: expected alive and ready again")
	}

	c.applyEvent(eventError, nil)
	if c.IsAlive() || c.IsReady() {
		t.Error("after error: expected neither alive nor ready")
	}
}

func TestConnection_UnblockAfterErrorDoesNotResurrect(t *testing.T) {
	c := newTestConnection()

	c.applyEvent(eventConnected, nil)
	c.applyEvent(eventError, nil)
	c.applyEvent(eventUnblocked, nil)

	// unblocked трогает только ready; alive вернёт лишь reconnect
	if c.IsAlive() {
		t.Error("unblock must not mark a dead connection alive")
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	c := newTestConnection()
	c.applyEvent(eventConnected, nil)

	if err := c.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}

	if c.IsAlive() || c.IsReady() {
		t.Error("closed connection must not report alive or ready")
	}

	if _, err := c.OpenChannel(); err != ErrClosed {
		t.Errorf("OpenChannel after close: expected ErrClosed, got %v", err)
	}
}
