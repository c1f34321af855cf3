package errors

import (
	"context"
	"math"
	"time"
)

// RetryConfig is an exponential backoff schedule
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
	}
}

// RetryHandler reruns an operation while it fails with recoverable errors
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &RetryHandler{config: config, classifier: NewErrorClassifier()}
}

func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry calls operation up to MaxAttempts times. A permanent failure is returned at once,
// classified; exhausting the attempts returns the last failure with an "attempts" context
// entry. Cancellation while waiting returns an interruption error.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var last *AppError

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewAppError(ErrorTypeInterruption, "Operation canceled", err)
		}

		err := operation()
		if err == nil {
			return nil
		}
		last = rh.classifier.ClassifyError(err)
		if !last.Recoverable || attempt == rh.config.MaxAttempts {
			break
		}

		timer := time.NewTimer(rh.calculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewAppError(ErrorTypeInterruption, "Operation canceled while waiting to retry", ctx.Err())
		case <-timer.C:
		}
	}

	if last.Recoverable {
		last.WithContext("attempts", rh.config.MaxAttempts)
	}
	return last
}

// calculateDelay is BaseDelay * Multiplier^(attempt-1), capped at MaxDelay
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	factor := math.Pow(rh.config.Multiplier, float64(attempt-1))
	delay := time.Duration(float64(rh.config.BaseDelay) * factor)
	if delay > rh.config.MaxDelay || delay < 0 {
		return rh.config.MaxDelay
	}
	return delay
}
