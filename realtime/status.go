package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Status is the delivery mode of a tab. Connected and Fallback are the only
// resting states.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFallback     Status = "fallback"
)

const (
	DefaultMaxAttempts  = 5
	DefaultPollInterval = 30 * time.Second

	baseReconnectDelay = time.Second
	maxReconnectDelay  = 30 * time.Second
)

// ReconnectDelay is the wait before reconnecting after the n-th consecutive
// failure: min(30s, 1s * 2^n).
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^5 s already exceeds the cap.
	if attempt >= 5 {
		return maxReconnectDelay
	}
	return min(baseReconnectDelay<<attempt, maxReconnectDelay)
}

// NewReconnectBackOff yields ReconnectDelay(1), ReconnectDelay(2), ... and
// starts over after Reset.
func NewReconnectBackOff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(ReconnectDelay(1)),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(maxReconnectDelay),
		backoff.WithMaxElapsedTime(0),
	)
}
