// Kinobilet API — HTTP-фасад тикетных операций.
//
// API создаёт pending-бронирования, публикует запросы в очереди
// воркера и слушает reply-очереди, финализируя бронирования по
// ответам.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kinobilet/kinobilet/internal/api"
	"github.com/kinobilet/kinobilet/internal/config"
	"github.com/kinobilet/kinobilet/internal/gateway"
	"github.com/kinobilet/kinobilet/internal/mq"
	"github.com/kinobilet/kinobilet/internal/repo"
	"github.com/kinobilet/kinobilet/internal/telemetry"
)

// exitConfig — код выхода при ошибке конфигурации или топологии.
const exitConfig = 78

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting kinobilet-api")

	cfg, err := config.LoadAPI()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(exitConfig)
	}

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

	if err := mq.Verify(ctx, conn); err != nil {
		logger.Error("broker topology is missing, run `kinobilet topology provision`", "error", err)
		os.Exit(exitConfig)
	}

	reservations := repo.NewReservationRepo(pool)
	showtimes := repo.NewShowtimeRepo(pool)

	client, err := gateway.NewClient(gateway.ClientConfig{
		Conn:         conn,
		Reservations: reservations,
		ReplyLimits:  cfg.ReplyLimits,
		PendingTTL:   cfg.PendingTTL,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to build gateway client", "error", err)
		os.Exit(1)
	}

	// Consumer'ы reply-очередей работают, пока жив ctx.
	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		if err := client.Start(ctx); err != nil {
			logger.Error("gateway client stopped with errors", "error", err)
		}
	}()

	handler := api.NewHandler(client, reservations, showtimes, conn, cfg.PendingTTL, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Сначала перестаём принимать HTTP, потом дожидаемся клиента:
	// его consumer'ы ещё финализируют бронирования по пришедшим ответам.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	<-clientDone
	logger.Info("kinobilet-api stopped")
}
