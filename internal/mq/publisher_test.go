package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestPublisherSet_Get(t *testing.T) {
	set := NewPublisherSet(newTestConnection(), testLogger(), map[string]PublisherSpec{
		"requests": {Confirm: true, MaxAttempts: 3},
	})

	if _, ok := set.Get("requests"); !ok {
		t.Error("configured publisher must be present")
	}
	if _, ok := set.Get("replies"); ok {
		t.Error("unconfigured publisher must be absent")
	}
}

func TestPublisherSet_UnknownName(t *testing.T) {
	set := NewPublisherSet(newTestConnection(), testLogger(), nil)

	err := set.Publish(context.Background(), "ghost", ExchangeTickets, KeyReserve, nil, PublishOptions{})
	if !errors.Is(err, ErrUnknownPublisher) {
		t.Errorf("expected ErrUnknownPublisher, got %v", err)
	}

	err = set.PublishReply(context.Background(), "ghost", "q", "reserve", nil)
	if !errors.Is(err, ErrUnknownPublisher) {
		t.Errorf("expected ErrUnknownPublisher, got %v", err)
	}
}

func TestPublisher_NotConnected(t *testing.T) {
	// Соединение никогда не устанавливалось: публикация должна
	// провалиться с ErrNotConnected, а не зависнуть.
	set := NewPublisherSet(newTestConnection(), testLogger(), map[string]PublisherSpec{
		"requests": {MaxAttempts: 1},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := set.Publish(ctx, "requests", ExchangeTickets, KeyReserve, map[string]string{"k": "v"}, PublishOptions{})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestPublisher_ConfirmWait(t *testing.T) {
	newConfirming := func() *Publisher {
		set := NewPublisherSet(newTestConnection(), testLogger(), map[string]PublisherSpec{
			"requests": {Confirm: true},
		})
		p, _ := set.Get("requests")
		p.confirms = make(chan amqp.Confirmation, 1)
		return p
	}

	await := func(p *Publisher, ctx context.Context) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.awaitConfirmLocked(ctx)
	}

	t.Run("broker ack", func(t *testing.T) {
		p := newConfirming()
		p.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}

		if err := await(p, context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("broker nack", func(t *testing.T) {
		p := newConfirming()
		p.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: false}

		if err := await(p, context.Background()); !errors.Is(err, ErrNacked) {
			t.Fatalf("expected ErrNacked, got %v", err)
		}
	})

	t.Run("cancelled wait resets channel", func(t *testing.T) {
		p := newConfirming()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := await(p, ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}

		// Опоздавшее подтверждение прерванной отправки не должно
		// достаться следующей публикации как её собственное.
		if p.confirms != nil {
			t.Error("confirm channel must be dropped after a cancelled wait")
		}
	})
}

func TestPublisher_CloseIdempotent(t *testing.T) {
	set := NewPublisherSet(newTestConnection(), testLogger(), map[string]PublisherSpec{
		"requests": {},
	})

	p, _ := set.Get("requests")
	if err := p.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}

	// Публикация после закрытия — ошибка, не паника.
	err := p.Publish(context.Background(), ExchangeTickets, KeyReserve, nil, PublishOptions{})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
