package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config содержит конфигурацию повторных попыток
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Operation представляет функцию для повторной попытки
type Operation func(ctx context.Context) error

// Retry выполняет операцию с экспоненциальной задержкой между попытками
func Retry(ctx context.Context, config Config, operation Operation) error {
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt < config.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Delay(attempt, config)):
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxAttempts, lastErr)
}

// Delay вычисляет задержку для указанной попытки (начиная с 1)
func Delay(attempt int, config Config) time.Duration {
	delay := time.Duration(float64(config.InitialDelay) *
		math.Pow(config.Multiplier, float64(attempt-1)))

	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	// Добавляем до 10% случайного разброса
	if config.Jitter {
		delay += time.Duration(rand.Int63n(int64(delay)/10 + 1))
	}

	return delay
}
