package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kinobilet/kinobilet/internal/telemetry"
)

// Decision — решение handler'а по сообщению.
type Decision int

const (
	// Ack — успех, убрать сообщение из очереди.
	Ack Decision = iota

	// Drop — сообщение необслуживаемо, убрать без повторной доставки
	// (уходит в DLQ, если очередь сконфигурирована с dead letter exchange).
	Drop

	// Requeue — временная ошибка, вернуть в очередь.
	// Повторная доставка ограничена: уже передоставленное сообщение
	// при Requeue отправляется в DLQ, а не крутится бесконечно.
	Requeue
)

// String возвращает метку решения для логов и метрик.
func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Drop:
		return "drop"
	case Requeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// Delivery — доставленное сообщение протокола.
type Delivery struct {
	// Op — операция, распознанная из correlation id.
	// Пустая, если correlation id отсутствует или неизвестен.
	Op Operation

	// CorrelationID — сырой correlation id сообщения.
	CorrelationID string

	// ReplyTo — очередь для ответа.
	ReplyTo string

	// Body — сырой payload.
	Body []byte

	// Raw — исходное AMQP-сообщение.
	Raw amqp.Delivery
}

// Serviceable возвращает true, если запрос можно обслужить:
// correlation id из закрытого набора и reply-to задан.
// Всё остальное — drop без ответа: отвечать некуда.
func (d *Delivery) Serviceable() bool {
	if d.ReplyTo == "" {
		return false
	}
	_, ok := ParseOperation(d.CorrelationID)
	return ok
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](d *Delivery) (T, error) {
	var result T
	if err := json.Unmarshal(d.Body, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}

// Handler — обработчик одного сообщения.
// Возвращает решение: Ack, Drop или Requeue.
type Handler func(ctx context.Context, d *Delivery) Decision

// ConsumerConfig — конфигурация consumer'а.
type ConsumerConfig struct {
	// Name — имя consumer'а (оно же consumer tag).
	Name string

	// Route — очередь и её привязка. Объявляется пассивно.
	Route Route

	// Concurrency — сколько handler'ов работает параллельно.
	Concurrency int

	// Prefetch — сколько сообщений буферизуется без ack.
	Prefetch int

	// Handler — обработчик сообщений.
	Handler Handler
}

// Consumer потребляет сообщения из одной очереди с ограниченным
// параллелизмом и явным acknowledgment.
type Consumer struct {
	conn   *Connection
	logger *slog.Logger
	cfg    ConsumerConfig

	sem chan struct{}
	wg  sync.WaitGroup

	mu         sync.Mutex
	ch         *amqp.Channel
	stopped    bool
	closed     bool
	cancelFunc context.CancelFunc
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}

	return &Consumer{
		conn:   conn,
		logger: logger.With("queue", cfg.Route.Queue),
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.Concurrency),
	}
}

// Start запускает потребление. Блокируется до остановки consumer'а
// или отмены контекста; переживает reconnect'ы соединения.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		cancel()
		return ErrClosed
	}
	c.cancelFunc = cancel
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				c.logger.Info("reconnected, restarting consumer")
				continue
			}
		}

		c.logger.Info("consumer started",
			"concurrency", c.cfg.Concurrency,
			"prefetch", c.cfg.Prefetch,
		)

		if err := c.dispatch(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				continue
			}
		}

		return nil
	}
}

// setupConsume открывает канал, пассивно объявляет топологию
// и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return nil, err
	}

	if err := declarePassive(ch, c.cfg.Route); err != nil {
		ch.Close()
		return nil, err
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(c.cfg.Route.Queue), // queue
		c.cfg.Name,                // consumer tag
		false,                     // auto-ack (мы ack вручную)
		false,                     // exclusive
		false,                     // no-local
		false,                     // no-wait
		nil,                       // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()

	return deliveries, nil
}

// dispatch раздаёт сообщения handler-горутинам.
// Слот семафора занимается до запуска горутины: когда все
// Concurrency слотов заняты, чтение новых сообщений останавливается.
func (c *Consumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}

			select {
			case c.sem <- struct{}{}:
			case <-ctx.Done():
				// Не ack'аем: брокер вернёт сообщение в очередь.
				return nil
			}

			c.wg.Add(1)
			go func(raw amqp.Delivery) {
				defer c.wg.Done()
				defer func() { <-c.sem }()
				// Отмена ctx останавливает только приём новых сообщений.
				// Уже взятый запрос дорабатывает до конца: обрыв
				// бизнес-шага на полпути оставил бы ack без оплаты
				// и без ответа. Drain ограничивает ожидание снаружи.
				c.handleDelivery(context.WithoutCancel(ctx), raw)
			}(raw)
		}
	}
}

// handleDelivery обрабатывает одно сообщение.
// Паника внутри handler'а ловится на границе consumer'а:
// логируется как consumer error и не роняет процесс.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	d := &Delivery{
		CorrelationID: raw.CorrelationId,
		ReplyTo:       raw.ReplyTo,
		Body:          raw.Body,
		Raw:           raw,
	}
	if op, ok := ParseOperation(raw.CorrelationId); ok {
		d.Op = op
	}

	settled := false
	defer func() {
		if r := recover(); r != nil {
			telemetry.ConsumerErrorsTotal.WithLabelValues(string(c.cfg.Route.Queue)).Inc()
			c.logger.Error("consumer error",
				"panic", r,
				"correlation_id", d.CorrelationID,
				"stack", string(debug.Stack()),
			)
			if !settled {
				c.settle(raw, Requeue)
			}
		}
	}()

	decision := c.cfg.Handler(ctx, d)
	settled = true
	c.settle(raw, decision)
}

// settle применяет решение handler'а к сообщению.
func (c *Consumer) settle(raw amqp.Delivery, decision Decision) {
	var err error
	switch decision {
	case Ack:
		err = raw.Ack(false)
	case Drop:
		err = raw.Reject(false)
	case Requeue:
		if raw.Redelivered {
			// Вторая неудача подряд — в DLQ, а не в бесконечный цикл.
			err = raw.Reject(false)
		} else {
			err = raw.Nack(false, true)
		}
	}

	if err != nil {
		c.logger.Warn("failed to settle delivery",
			"decision", decision.String(),
			"error", err,
		)
		return
	}

	telemetry.ConsumedTotal.WithLabelValues(string(c.cfg.Route.Queue), decision.String()).Inc()
}

// Stop прекращает приём новых сообщений: отменяет подписку
// и останавливает dispatch. Уже запущенные handler'ы дорабатывают.
func (c *Consumer) Stop() {
	c.mu.Lock()
	c.stopped = true
	ch := c.ch
	cancel := c.cancelFunc
	c.mu.Unlock()

	if ch != nil && !ch.IsClosed() {
		if err := ch.Cancel(c.cfg.Name, false); err != nil {
			c.logger.Warn("failed to cancel consumer", "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
}

// Drain ждёт завершения всех in-flight handler'ов.
// Ограничен переданным контекстом: зависший drain не должен
// блокировать остановку процесса.
func (c *Consumer) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain %s: %w", c.cfg.Route.Queue, ctx.Err())
	}
}

// Close закрывает канал consumer'а. Идемпотентен.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.ch != nil && !c.ch.IsClosed() {
		if err := c.ch.Close(); err != nil {
			return fmt.Errorf("close channel: %w", err)
		}
	}
	c.ch = nil

	return nil
}
