package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kinobilet/kinobilet/internal/telemetry"
)

// confirmTimeout — предел ожидания publisher confirm от брокера.
const confirmTimeout = 5 * time.Second

// Ошибки публикации.
var (
	// ErrUnknownPublisher — publisher с таким именем не сконфигурирован.
	ErrUnknownPublisher = errors.New("unknown publisher")

	// ErrConfirmTimeout — брокер не подтвердил сообщение за confirmTimeout.
	ErrConfirmTimeout = errors.New("confirm timeout")

	// ErrNacked — брокер отверг сообщение (basic.nack).
	ErrNacked = errors.New("message nacked by broker")
)

// PublisherSpec — конфигурация одного именованного publisher'а.
type PublisherSpec struct {
	// Confirm включает publisher confirms: Publish завершается
	// только после подтверждения брокером.
	Confirm bool

	// MaxAttempts — общее число попыток отправки (включая первую).
	MaxAttempts int

	// Routes — привязки, которые publisher пассивно объявляет при
	// установке канала. Очереди и обменники должны существовать заранее.
	Routes []Route
}

// PublishOptions — опции одной публикации.
type PublishOptions struct {
	// CorrelationID — тег операции протокола запрос/ответ.
	CorrelationID string

	// ReplyTo — очередь, в которую нужно опубликовать ответ.
	ReplyTo string

	// Mandatory — брокер обязан вернуть сообщение (basic.return),
	// если его некуда маршрутизировать.
	Mandatory bool
}

// Publisher публикует сообщения в фиксированные exchange/routing key.
// Владеет собственным каналом и переоткрывает его после обрыва.
type Publisher struct {
	name   string
	conn   *Connection
	logger *slog.Logger
	spec   PublisherSpec

	mu       sync.Mutex
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
	closed   bool
}

// PublisherSet — именованный набор заранее сконфигурированных publisher'ов.
type PublisherSet struct {
	conn   *Connection
	logger *slog.Logger
	pubs   map[string]*Publisher
}

// NewPublisherSet создаёт по одному publisher'у на имя из specs.
// Установка канала ленивая: если брокер сейчас недоступен, она
// произойдёт при первой публикации.
func NewPublisherSet(conn *Connection, logger *slog.Logger, specs map[string]PublisherSpec) *PublisherSet {
	pubs := make(map[string]*Publisher, len(specs))
	for name, spec := range specs {
		pubs[name] = &Publisher{
			name:   name,
			conn:   conn,
			logger: logger.With("publisher", name),
			spec:   spec,
		}
	}
	return &PublisherSet{conn: conn, logger: logger, pubs: pubs}
}

// Get возвращает publisher по имени.
func (s *PublisherSet) Get(name string) (*Publisher, bool) {
	p, ok := s.pubs[name]
	return p, ok
}

// Publish публикует payload через именованный publisher.
func (s *PublisherSet) Publish(ctx context.Context, name string, exchange Exchange, key RoutingKey, payload any, opts PublishOptions) error {
	p, ok := s.pubs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPublisher, name)
	}
	return p.Publish(ctx, exchange, key, payload, opts)
}

// PublishReply публикует ответ протокола запрос/ответ через
// именованный publisher.
func (s *PublisherSet) PublishReply(ctx context.Context, name, replyTo, correlationID string, payload any) error {
	p, ok := s.pubs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPublisher, name)
	}
	return p.PublishReply(ctx, replyTo, correlationID, payload)
}

// Close закрывает все publisher'ы набора.
// Ошибки собираются: каждый ресурс получает попытку закрытия.
func (s *PublisherSet) Close() error {
	var errs []error
	for name, p := range s.pubs {
		if err := p.Close(); err != nil {
			s.logger.Warn("failed to close publisher", "publisher", name, "error", err)
			errs = append(errs, fmt.Errorf("publisher %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Publish сериализует payload и отправляет его с retry-циклом.
// При включённом confirm-режиме возврат без ошибки означает,
// что брокер принял сообщение.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, payload any, opts PublishOptions) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
		MessageId:     uuid.New().String(),
		Timestamp:     time.Now(),
		CorrelationId: opts.CorrelationID,
		ReplyTo:       opts.ReplyTo,
		Body:          body,
	}

	err = withRetry(ctx, p.spec.MaxAttempts, retryInitialDelay, retryMaxDelay, func() error {
		return p.sendOnce(ctx, string(exchange), string(key), opts.Mandatory, pub)
	})
	if err != nil {
		telemetry.PublishFailuresTotal.WithLabelValues(p.name).Inc()
		return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
	}

	telemetry.PublishedTotal.WithLabelValues(p.name).Inc()

	p.logger.Debug("published message",
		"exchange", exchange,
		"routing_key", key,
		"message_id", pub.MessageId,
		"correlation_id", opts.CorrelationID,
	)

	return nil
}

// PublishReply публикует ответ в очередь reply-to запроса:
// default exchange, routing key = имя очереди, mandatory —
// недоставленный ответ брокер обязан вернуть, а не молча проглотить.
func (p *Publisher) PublishReply(ctx context.Context, replyTo, correlationID string, payload any) error {
	return p.Publish(ctx, "", RoutingKey(replyTo), payload, PublishOptions{
		CorrelationID: correlationID,
		Mandatory:     true,
	})
}

// sendOnce — одна попытка отправки. Публикации сериализуются под
// мьютексом, поэтому при confirm-режиме подтверждения приходят
// строго по одному на отправку.
func (p *Publisher) sendOnce(ctx context.Context, exchange, key string, mandatory bool, pub amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	if err := p.ensureChannelLocked(); err != nil {
		return err
	}

	if err := p.ch.PublishWithContext(ctx, exchange, key, mandatory, false, pub); err != nil {
		p.dropChannelLocked()
		return err
	}

	if !p.spec.Confirm {
		return nil
	}

	return p.awaitConfirmLocked(ctx)
}

// awaitConfirmLocked ждёт publisher confirm на последнюю отправку.
// Если ожидание прервано, канал сбрасывается: опоздавшее
// подтверждение осталось бы в буфере, и следующая публикация
// прочитала бы его как своё. Вызывается под p.mu.
func (p *Publisher) awaitConfirmLocked(ctx context.Context) error {
	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.dropChannelLocked()
			return ErrNotConnected
		}
		if !confirm.Ack {
			return ErrNacked
		}
		return nil

	case <-time.After(confirmTimeout):
		p.dropChannelLocked()
		return ErrConfirmTimeout

	case <-ctx.Done():
		p.dropChannelLocked()
		return ctx.Err()
	}
}

// ensureChannelLocked открывает и настраивает канал, если его нет.
// Вызывается под p.mu.
func (p *Publisher) ensureChannelLocked() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}

	ch, err := p.conn.OpenChannel()
	if err != nil {
		return err
	}

	for _, route := range p.spec.Routes {
		if err := declarePassive(ch, route); err != nil {
			ch.Close()
			return err
		}
	}

	if p.spec.Confirm {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			return fmt.Errorf("enable confirms: %w", err)
		}
		p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}

	// basic.return: принятые, но недоставленные сообщения.
	// Это асинхронная диагностика, не ошибка публикации.
	go p.drainReturns(ch.NotifyReturn(make(chan amqp.Return, 8)))

	p.ch = ch
	return nil
}

// dropChannelLocked закрывает канал после ошибки, чтобы следующая
// попытка открыла свежий. Вызывается под p.mu.
func (p *Publisher) dropChannelLocked() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	p.confirms = nil
}

// drainReturns логирует возвращённые брокером сообщения вместе
// с полным конвертом для диагностики. Горутина завершается
// вместе с закрытием канала.
func (p *Publisher) drainReturns(returns <-chan amqp.Return) {
	for ret := range returns {
		telemetry.ReturnedTotal.WithLabelValues(p.name).Inc()
		p.logger.Error("message returned as undeliverable",
			"exchange", ret.Exchange,
			"routing_key", ret.RoutingKey,
			"reply_code", ret.ReplyCode,
			"reply_text", ret.ReplyText,
			"correlation_id", ret.CorrelationId,
			"reply_to", ret.ReplyTo,
			"body", string(ret.Body),
		)
	}
}

// Close закрывает канал publisher'а. Идемпотентен.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			return fmt.Errorf("close channel: %w", err)
		}
		p.ch = nil
	}

	return nil
}
