// Kinobilet Janitor — уборка зависших бронирований.
//
// По расписанию переводит PENDING-бронирования без ответа воркера
// в EXPIRED. В нескольких экземплярах работает только лидер
// (advisory lock Postgres).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kinobilet/kinobilet/internal/config"
	"github.com/kinobilet/kinobilet/internal/janitor"
	"github.com/kinobilet/kinobilet/internal/repo"
	"github.com/kinobilet/kinobilet/internal/telemetry"
)

// exitConfig — код выхода при ошибке конфигурации.
const exitConfig = 78

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting kinobilet-janitor")

	cfg, err := config.LoadJanitor()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(exitConfig)
	}
	if err := janitor.ValidateSchedule(cfg.Schedule); err != nil {
		logger.Error("invalid janitor schedule", "error", err)
		os.Exit(exitConfig)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	j, err := janitor.New(pool, repo.NewReservationRepo(pool), cfg.Schedule, cfg.PendingTTL, logger)
	if err != nil {
		logger.Error("failed to build janitor", "error", err)
		os.Exit(exitConfig)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := j.Run(ctx); err != nil {
			logger.Error("janitor stopped with error", "error", err)
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
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

	<-ctx.Done()
	<-done
	logger.Info("kinobilet-janitor stopped")
}
