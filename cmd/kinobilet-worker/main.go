// Kinobilet Worker — обслуживает тикетные операции.
//
// Worker:
//   - Слушает очереди reserve / cancel-ticket / cancel-showtime
//   - Выполняет бизнес-шаг (оплата, освобождение мест)
//   - Публикует ответ в reply-to очередь запроса
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kinobilet/kinobilet/internal/billing"
	"github.com/kinobilet/kinobilet/internal/config"
	"github.com/kinobilet/kinobilet/internal/mq"
	"github.com/kinobilet/kinobilet/internal/repo"
	"github.com/kinobilet/kinobilet/internal/telemetry"
	"github.com/kinobilet/kinobilet/internal/worker"
)

// exitConfig — код выхода при ошибке конфигурации или топологии.
// Отличается от обычного падения: supervisor не должен рестартовать
// процесс, пока окружение не починят.
const exitConfig = 78

// exitPanic — код выхода при панике, долетевшей до main.
// Это ошибка программы, а не флап инфраструктуры: рестарт по кругу
// не поможет, supervisor должен оставить процесс лежать.
const exitPanic = 70

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting kinobilet-worker")

	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(exitConfig)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// RabbitMQ
	conn, err := mq.Connect(cfg.AMQPURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}

	// Топология объявляется пассивно: её отсутствие — ошибка
	// окружения, создавать её на лету воркер не должен.
	if err := mq.Verify(ctx, conn); err != nil {
		logger.Error("broker topology is missing, run `kinobilet topology provision`", "error", err)
		os.Exit(exitConfig)
	}

	reservations := repo.NewReservationRepo(pool)
	showtimes := repo.NewShowtimeRepo(pool)

	replies := mq.NewPublisherSet(conn, logger, map[string]mq.PublisherSpec{
		"replies": {
			Confirm:     true,
			MaxAttempts: 3,
		},
	})

	w, err := worker.New(worker.Config{
		Conn:            conn,
		Replies:         replies,
		Gateway:         billing.NewPgGateway(pool, logger),
		Releaser:        worker.NewStoreReleaser(reservations, showtimes, logger),
		Reserve:         cfg.Reserve,
		CancelTicket:    cfg.CancelTicket,
		CancelShowtime:  cfg.CancelShowtime,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("failed to build worker", "error", err)
		os.Exit(1)
	}

	// Паника, долетевшая до main, не должна бросить сообщения без ack.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in worker process", "panic", r)
			w.Stop()
			os.Exit(exitPanic)
		}
	}()

	// HTTP mux: /healthz + /readyz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !conn.IsAlive() {
			http.Error(w, "broker connection down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !conn.IsReady() {
			http.Error(w, "broker connection not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		addr := ":" + cfg.HTTPPort
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Start блокируется до сигнала и сам выполняет упорядоченную остановку.
	if err := w.Start(ctx); err != nil {
		logger.Error("worker stopped with errors", "error", err)
		os.Exit(1)
	}

	logger.Info("kinobilet-worker stopped")
}
