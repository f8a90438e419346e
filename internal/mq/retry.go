package mq

import (
	"context"
	"fmt"
	"time"
)

// Параметры retry-цикла публикации.
const (
	retryInitialDelay = 200 * time.Millisecond
	retryMaxDelay     = 5 * time.Second
)

// withRetry выполняет fn до maxAttempts раз.
// Между попытками — экспоненциальная задержка от initialDelay до maxDelay.
// Возвращает nil при первом успехе; после исчерпания попыток — последнюю
// ошибку, обёрнутую с количеством попыток.
func withRetry(ctx context.Context, maxAttempts int, initialDelay, maxDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	delay := initialDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = min(delay*2, maxDelay)
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}
