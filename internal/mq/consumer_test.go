package mq

import (
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeAcker записывает решения по сообщению вместо похода к брокеру.
type fakeAcker struct {
	mu      sync.Mutex
	acks    int
	nacks   []bool // requeue-флаги
	rejects []bool // requeue-флаги
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

func (f *fakeAcker) Nack(tag uint64, multiple bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, requeue)
	return nil
}

func (f *fakeAcker) Reject(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, requeue)
	return nil
}

func newTestConsumer(handler Handler, concurrency int) *Consumer {
	return NewConsumer(newTestConnection(), testLogger(), ConsumerConfig{
		Name:        "test",
		Route:       Route{ExchangeTickets, QueueReserve, KeyReserve},
		Concurrency: concurrency,
		Prefetch:    concurrency,
		Handler:     handler,
	})
}

func delivery(acker *fakeAcker, redelivered bool) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger:  acker,
		CorrelationId: "reserve",
		ReplyTo:       "ticket.reserve.reply.to",
		Redelivered:   redelivered,
		Body:          []byte("{}"),
	}
}

func TestConsumer_SettleDecisions(t *testing.T) {
	tests := []struct {
		name        string
		decision    Decision
		redelivered bool
		check       func(t *testing.T, a *fakeAcker)
	}{
		{"ack", Ack, false, func(t *testing.T, a *fakeAcker) {
			if a.acks != 1 {
				t.Errorf("expected 1 ack, got %d", a.acks)
			}
		}},
		{"drop", Drop, false, func(t *testing.T, a *fakeAcker) {
			if len(a.rejects) != 1 || a.rejects[0] {
				t.Errorf("drop must reject without requeue, got %v", a.rejects)
			}
		}},
		{"requeue first failure", Requeue, false, func(t *testing.T, a *fakeAcker) {
			if len(a.nacks) != 1 || !a.nacks[0] {
				t.Errorf("first failure must nack with requeue, got %v", a.nacks)
			}
		}},
		{"requeue after redelivery goes to dlq", Requeue, true, func(t *testing.T, a *fakeAcker) {
			if len(a.rejects) != 1 || a.rejects[0] {
				t.Errorf("redelivered message must be rejected to DLQ, got %v", a.rejects)
			}
			if len(a.nacks) != 0 {
				t.Errorf("redelivered message must not be requeued again")
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acker := &fakeAcker{}
			c := newTestConsumer(func(ctx context.Context, d *Delivery) Decision {
				return tt.decision
			}, 1)

			c.handleDelivery(context.Background(), delivery(acker, tt.redelivered))
			tt.check(t, acker)
		})
	}
}

func TestConsumer_HandlerPanicRequeues(t *testing.T) {
	acker := &fakeAcker{}
	c := newTestConsumer(func(ctx context.Context, d *Delivery) Decision {
		panic("handler bug")
	}, 1)

	// Паника не должна выйти за границу consumer'а.
	c.handleDelivery(context.Background(), delivery(acker, false))

	if len(acker.nacks) != 1 || !acker.nacks[0] {
		t.Errorf("panicked delivery must be requeued, got nacks=%v rejects=%v", acker.nacks, acker.rejects)
	}
}

func TestConsumer_HandlerPanicAfterRedeliveryGoesToDLQ(t *testing.T) {
	acker := &fakeAcker{}
	c := newTestConsumer(func(ctx context.Context, d *Delivery) Decision {
		panic("handler bug")
	}, 1)

	c.handleDelivery(context.Background(), delivery(acker, true))

	if len(acker.rejects) != 1 || acker.rejects[0] {
		t.Errorf("second panic must send the message to DLQ, got %v", acker.rejects)
	}
}

func TestConsumer_DeliveryCarriesOperation(t *testing.T) {
	var got Operation
	c := newTestConsumer(func(ctx context.Context, d *Delivery) Decision {
		got = d.Op
		return Ack
	}, 1)

	c.handleDelivery(context.Background(), delivery(&fakeAcker{}, false))

	if got != OpReserveTicket {
		t.Errorf("expected operation %s, got %s", OpReserveTicket, got)
	}
}

func TestConsumer_ConcurrencyOneIsSequential(t *testing.T) {
	var mu sync.Mutex
	active, maxActive, handled := 0, 0, 0

	c := newTestConsumer(func(ctx context.Context, d *Delivery) Decision {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		active--
		handled++
		mu.Unlock()
		return Ack
	}, 1)

	acker := &fakeAcker{}
	deliveries := make(chan amqp.Delivery, 3)
	for range 3 {
		deliveries <- delivery(acker, false)
	}
	close(deliveries)

	// dispatch возвращается на закрытии канала доставок
	c.dispatch(context.Background(), deliveries)

	drainCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Drain(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if handled != 3 {
		t.Errorf("expected 3 handled deliveries, got %d", handled)
	}
	if maxActive != 1 {
		t.Errorf("concurrency=1 must run handlers one at a time, saw %d parallel", maxActive)
	}
}

func TestConsumer_StopDoesNotInterruptInFlightHandler(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var handlerErr error

	acker := &fakeAcker{}
	c := newTestConsumer(func(ctx context.Context, d *Delivery) Decision {
		close(started)
		<-release
		handlerErr = ctx.Err()
		return Ack
	}, 1)

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- delivery(acker, false)

	ctx, cancel := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		c.dispatch(ctx, deliveries)
		close(dispatchDone)
	}()

	// Останавливаем приём, пока handler работает: его контекст
	// не должен быть отменён, запрос дорабатывает до конца.
	<-started
	cancel()
	<-dispatchDone

	close(release)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	defer drainCancel()
	if err := c.Drain(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if handlerErr != nil {
		t.Errorf("in-flight handler must not be interrupted by stop, got %v", handlerErr)
	}
	if acker.acks != 1 {
		t.Errorf("handler must finish naturally and ack, got %d acks", acker.acks)
	}
}

func TestConsumer_DrainTimesOut(t *testing.T) {
	release := make(chan struct{})
	c := newTestConsumer(func(ctx context.Context, d *Delivery) Decision {
		<-release
		return Ack
	}, 1)

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- delivery(&fakeAcker{}, false)

	ctx, cancel := context.WithCancel(context.Background())
	go c.dispatch(ctx, deliveries)

	// Даём handler'у стартовать, затем требуем drain с коротким лимитом.
	time.Sleep(20 * time.Millisecond)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer drainCancel()
	if err := c.Drain(drainCtx); err == nil {
		t.Error("drain must fail while a handler is stuck")
	}

	close(release)
	cancel()
}
