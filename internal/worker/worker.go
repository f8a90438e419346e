package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kinobilet/kinobilet/internal/billing"
	"github.com/kinobilet/kinobilet/internal/config"
	"github.com/kinobilet/kinobilet/internal/mq"
)

// pubReplies — имя паблишера ответов в наборе воркера.
const pubReplies = "replies"

// ReplyPublisher публикует ответы воркера. В проде это *mq.PublisherSet;
// в тестах — фейк без брокера.
type ReplyPublisher interface {
	PublishReply(ctx context.Context, name string, replyTo string, correlationID string, payload any) error
	Close() error
}

// Config — зависимости и лимиты воркера.
type Config struct {
	Conn     *mq.Connection
	Replies  ReplyPublisher
	Gateway  billing.Gateway
	Releaser SeatReleaser

	Reserve        config.ConsumerLimits
	CancelTicket   config.ConsumerLimits
	CancelShowtime config.ConsumerLimits

	// ShutdownTimeout ограничивает ожидание in-flight обработчиков
	// при остановке.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// Worker обслуживает три тикетные операции: по потребителю на очередь,
// каждый со своим concurrency и prefetch.
type Worker struct {
	conn     *mq.Connection
	replies  ReplyPublisher
	gateway  billing.Gateway
	releaser SeatReleaser
	logger   *slog.Logger

	shutdownTimeout time.Duration

	consumers []*mq.Consumer

	mu      sync.Mutex
	stopped bool
}

// New создаёт воркер и его потребителей. Очереди не трогаются
// до Start.
func New(cfg Config) (*Worker, error) {
	if cfg.Conn == nil {
		return nil, errors.New("worker: nil connection")
	}
	if cfg.Replies == nil {
		return nil, errors.New("worker: nil reply publisher")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("worker: nil billing gateway")
	}
	if cfg.Releaser == nil {
		return nil, errors.New("worker: nil seat releaser")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Worker{
		conn:            cfg.Conn,
		replies:         cfg.Replies,
		gateway:         cfg.Gateway,
		releaser:        cfg.Releaser,
		logger:          cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	specs := []struct {
		op      mq.Operation
		limits  config.ConsumerLimits
		handler mq.Handler
	}{
		{mq.OpReserveTicket, cfg.Reserve, w.handleReserve},
		{mq.OpCancelTicket, cfg.CancelTicket, w.handleCancelTicket},
		{mq.OpCancelShowtime, cfg.CancelShowtime, w.handleCancelShowtime},
	}

	for _, s := range specs {
		route, ok := mq.ServerRoute(s.op)
		if !ok {
			return nil, fmt.Errorf("worker: no route for operation %s", s.op)
		}
		w.consumers = append(w.consumers, mq.NewConsumer(cfg.Conn, cfg.Logger, mq.ConsumerConfig{
			Name:        "kinobilet-worker." + string(s.op),
			Route:       route,
			Concurrency: s.limits.Concurrency,
			Prefetch:    s.limits.Prefetch,
			Handler:     s.handler,
		}))
	}

	return w, nil
}

// Start запускает всех потребителей и блокируется до отмены ctx,
// после чего выполняет упорядоченную остановку.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"consumers", len(w.consumers),
		"shutdown_timeout", w.shutdownTimeout,
	)

	var wg sync.WaitGroup
	for _, c := range w.consumers {
		wg.Add(1)
		go func(c *mq.Consumer) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("consumer exited", "error", err)
			}
		}(c)
	}

	<-ctx.Done()

	err := w.Stop()
	wg.Wait()
	return err
}

// Stop останавливает воркер: сначала прекращает приём новых доставок,
// затем дожидается in-flight обработчиков (не дольше ShutdownTimeout),
// затем закрывает паблишер ответов и соединение. Порядок важен:
// ответ на уже взятый запрос должен успеть уйти до закрытия каналов.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	w.logger.Info("worker stopping")

	var errs []error

	for _, c := range w.consumers {
		c.Stop()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer cancel()
	for _, c := range w.consumers {
		if err := c.Drain(drainCtx); err != nil {
			w.logger.Warn("drain timed out, handlers abandoned", "error", err)
			errs = append(errs, err)
		}
	}

	if err := w.replies.Close(); err != nil {
		w.logger.Error("reply publisher close failed", "error", err)
		errs = append(errs, err)
	}

	for _, c := range w.consumers {
		if err := c.Close(); err != nil {
			w.logger.Error("consumer close failed", "error", err)
			errs = append(errs, err)
		}
	}

	if err := w.conn.Close(); err != nil {
		w.logger.Error("connection close failed", "error", err)
		errs = append(errs, err)
	}

	w.logger.Info("worker stopped")

	return errors.Join(errs...)
}
