// Package gateway — вызывающая сторона тикетного протокола.
//
// Клиент публикует запросы в очереди воркера и слушает reply-очереди.
// Каждому запросу соответствует pending-операция в PendingTable;
// ответ воркера сопоставляется с ней по тегу операции и идентификатору
// из payload'а. Ответ на reserve дополнительно финализирует
// бронирование в базе: CONFIRMED при наличии transaction id,
// FAILED без него.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kinobilet/kinobilet/internal/config"
	"github.com/kinobilet/kinobilet/internal/mq"
	"github.com/kinobilet/kinobilet/internal/repo"
	"github.com/kinobilet/kinobilet/internal/telemetry"
)

// pubRequests — имя паблишера запросов в наборе клиента.
const pubRequests = "requests"

// ClientConfig — зависимости и лимиты клиента.
type ClientConfig struct {
	Conn         *mq.Connection
	Reservations *repo.ReservationRepo

	// ReplyLimits — лимиты consumer'ов reply-очередей.
	ReplyLimits config.ConsumerLimits

	// PendingTTL — сколько живёт ожидание ответа.
	PendingTTL time.Duration

	// RequestAttempts — общее число попыток публикации запроса.
	RequestAttempts int

	// ShutdownTimeout ограничивает drain при остановке.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// Client публикует тикетные запросы и принимает ответы воркера.
type Client struct {
	conn         *mq.Connection
	pubs         *mq.PublisherSet
	pending      *PendingTable
	reservations *repo.ReservationRepo
	logger       *slog.Logger

	shutdownTimeout time.Duration

	consumers []*mq.Consumer

	mu      sync.Mutex
	stopped bool
}

// NewClient создаёт клиент и его consumer'ы reply-очередей.
// Брокер не трогается до Start.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Conn == nil {
		return nil, errors.New("gateway: nil connection")
	}
	if cfg.Reservations == nil {
		return nil, errors.New("gateway: nil reservation repo")
	}
	if cfg.RequestAttempts <= 0 {
		cfg.RequestAttempts = 3
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Паблишер запросов работает в confirm-режиме: 202 Accepted
	// не отдаётся, пока брокер не принял запрос на хранение.
	requestRoutes := make([]mq.Route, 0, 3)
	for _, op := range []mq.Operation{mq.OpReserveTicket, mq.OpCancelTicket, mq.OpCancelShowtime} {
		route, ok := mq.ServerRoute(op)
		if !ok {
			return nil, fmt.Errorf("gateway: no route for operation %s", op)
		}
		requestRoutes = append(requestRoutes, route)
	}

	c := &Client{
		conn: cfg.Conn,
		pubs: mq.NewPublisherSet(cfg.Conn, cfg.Logger, map[string]mq.PublisherSpec{
			pubRequests: {
				Confirm:     true,
				MaxAttempts: cfg.RequestAttempts,
				Routes:      requestRoutes,
			},
		}),
		pending:         NewPendingTable(cfg.PendingTTL, cfg.Logger),
		reservations:    cfg.Reservations,
		logger:          cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	replyHandlers := []struct {
		op      mq.Operation
		handler mq.Handler
	}{
		{mq.OpReserveTicket, c.handleReserveReply},
		{mq.OpCancelTicket, c.handleCancelTicketReply},
		{mq.OpCancelShowtime, c.handleCancelShowtimeReply},
	}

	for _, rh := range replyHandlers {
		route, ok := mq.ReplyRoute(rh.op)
		if !ok {
			return nil, fmt.Errorf("gateway: no reply route for operation %s", rh.op)
		}
		c.consumers = append(c.consumers, mq.NewConsumer(cfg.Conn, cfg.Logger, mq.ConsumerConfig{
			Name:        "kinobilet-api." + string(rh.op) + ".reply",
			Route:       route,
			Concurrency: cfg.ReplyLimits.Concurrency,
			Prefetch:    cfg.ReplyLimits.Prefetch,
			Handler:     rh.handler,
		}))
	}

	return c, nil
}

// Start запускает consumer'ы reply-очередей и уборку pending-таблицы.
// Блокируется до отмены ctx, после чего выполняет упорядоченную остановку.
func (c *Client) Start(ctx context.Context) error {
	c.logger.Info("gateway client starting", "reply_consumers", len(c.consumers))

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pending.Run(ctx)
	}()

	for _, consumer := range c.consumers {
		wg.Add(1)
		go func(consumer *mq.Consumer) {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("reply consumer exited", "error", err)
			}
		}(consumer)
	}

	<-ctx.Done()

	err := c.Stop()
	wg.Wait()
	return err
}

// Stop останавливает клиент: прекращает приём ответов, дожидается
// in-flight обработчиков, закрывает паблишер и соединение.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	c.logger.Info("gateway client stopping")

	var errs []error

	for _, consumer := range c.consumers {
		consumer.Stop()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	defer cancel()
	for _, consumer := range c.consumers {
		if err := consumer.Drain(drainCtx); err != nil {
			c.logger.Warn("drain timed out, handlers abandoned", "error", err)
			errs = append(errs, err)
		}
	}

	if err := c.pubs.Close(); err != nil {
		errs = append(errs, err)
	}

	for _, consumer := range c.consumers {
		if err := consumer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info("gateway client stopped")

	return errors.Join(errs...)
}

// Reserve публикует запрос на бронирование и регистрирует ожидание
// ответа. Возвращённый канал получит payload ответа; cancel снимает
// ожидание, если вызывающая сторона решила не ждать.
func (c *Client) Reserve(ctx context.Context, req mq.ReserveTicketRequest) (<-chan []byte, func(), error) {
	return c.send(ctx, mq.OpReserveTicket, req.PendingID, req)
}

// CancelTicket публикует запрос на отмену билетов.
func (c *Client) CancelTicket(ctx context.Context, req mq.CancelTicketRequest) (<-chan []byte, func(), error) {
	return c.send(ctx, mq.OpCancelTicket, req.ShowtimeID, req)
}

// CancelShowtime публикует запрос на отмену сеанса.
func (c *Client) CancelShowtime(ctx context.Context, req mq.CancelShowtimeRequest) (<-chan []byte, func(), error) {
	return c.send(ctx, mq.OpCancelShowtime, req.ShowtimeID, req)
}

// Await ждёт payload ответа из канала, возвращённого Reserve/Cancel*.
func (c *Client) Await(ctx context.Context, ch <-chan []byte) ([]byte, error) {
	return c.pending.Await(ctx, ch)
}

// send регистрирует pending-операцию и публикует запрос.
// Correlation id запроса — тег операции; reply-to — reply-очередь
// этой операции.
func (c *Client) send(ctx context.Context, op mq.Operation, id string, payload any) (<-chan []byte, func(), error) {
	route, ok := mq.ServerRoute(op)
	if !ok {
		return nil, nil, fmt.Errorf("gateway: no route for operation %s", op)
	}
	reply, ok := mq.ReplyRoute(op)
	if !ok {
		return nil, nil, fmt.Errorf("gateway: no reply route for operation %s", op)
	}

	ch, cancel, err := c.pending.Register(op, id)
	if err != nil {
		return nil, nil, err
	}

	err = c.pubs.Publish(ctx, pubRequests, route.Exchange, route.Key, payload, mq.PublishOptions{
		CorrelationID: string(op),
		ReplyTo:       string(reply.Queue),
		Mandatory:     true,
	})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("publish %s request: %w", op, err)
	}

	c.logger.Info("request published",
		"operation", op,
		"id", id,
		"reply_to", reply.Queue,
	)

	return ch, cancel, nil
}

// handleReserveReply финализирует бронирование по ответу воркера
// и будит ожидающую операцию.
func (c *Client) handleReserveReply(ctx context.Context, d *mq.Delivery) mq.Decision {
	reply, ok := parseReply[mq.ReserveTicketReply](c.logger, mq.OpReserveTicket, d)
	if !ok {
		return mq.Drop
	}

	logger := telemetry.WithPendingID(c.logger, reply.PendingID)

	pendingID, err := uuid.Parse(reply.PendingID)
	if err != nil {
		logger.Error("reply carries non-uuid pending id", "error", err)
		return mq.Drop
	}

	if err := c.finalizeReservation(ctx, pendingID, reply.TransactionID); err != nil {
		if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, repo.ErrNotFound) {
			// Повторная доставка ответа или запись уже финализирована
			// janitor'ом. Идемпотентно игнорируем.
			logger.Debug("reservation already finalized", "error", err)
		} else {
			logger.Error("failed to finalize reservation", "error", err)
			return mq.Requeue
		}
	}

	if !c.pending.Resolve(mq.OpReserveTicket, reply.PendingID, d.Body) {
		logger.Warn("reserve reply arrived with no waiter")
	}

	return mq.Ack
}

// finalizeReservation переводит бронирование в терминальный статус
// по содержимому ответа.
func (c *Client) finalizeReservation(ctx context.Context, pendingID uuid.UUID, txID string) error {
	if txID == "" {
		return c.reservations.Fail(ctx, pendingID)
	}
	return c.reservations.Confirm(ctx, pendingID, txID)
}

// handleCancelTicketReply будит ожидающую операцию отмены билетов.
func (c *Client) handleCancelTicketReply(ctx context.Context, d *mq.Delivery) mq.Decision {
	reply, ok := parseReply[mq.CancelTicketReply](c.logger, mq.OpCancelTicket, d)
	if !ok {
		return mq.Drop
	}

	if !c.pending.Resolve(mq.OpCancelTicket, reply.ShowtimeID, d.Body) {
		telemetry.WithShowtimeID(c.logger, reply.ShowtimeID).Warn("cancel-ticket reply arrived with no waiter")
	}

	return mq.Ack
}

// handleCancelShowtimeReply будит ожидающую операцию отмены сеанса.
func (c *Client) handleCancelShowtimeReply(ctx context.Context, d *mq.Delivery) mq.Decision {
	reply, ok := parseReply[mq.CancelShowtimeReply](c.logger, mq.OpCancelShowtime, d)
	if !ok {
		return mq.Drop
	}

	if !c.pending.Resolve(mq.OpCancelShowtime, reply.ShowtimeID, d.Body) {
		telemetry.WithShowtimeID(c.logger, reply.ShowtimeID).Warn("cancel-showtime reply arrived with no waiter")
	}

	return mq.Ack
}

// parseReply проверяет correlation id ответа и парсит payload.
// Ответ с чужим тегом или битым телом отбрасывается.
func parseReply[T any](logger *slog.Logger, want mq.Operation, d *mq.Delivery) (T, bool) {
	var reply T

	if d.Op != want {
		logger.Warn("reply with unexpected correlation id dropped",
			"correlation_id", d.CorrelationID,
			"expected", want,
		)
		return reply, false
	}

	if err := json.Unmarshal(d.Body, &reply); err != nil {
		logger.Error("malformed reply payload", "operation", want, "error", err)
		return reply, false
	}

	return reply, true
}
