package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig. Non-positive
// values keep the defaults; a zero jitterMs disables jitter.
func FromRetryConfig(maxAttempts, baseBackoffMs, maxBackoffMs, jitterMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if baseBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(baseBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if jitterMs >= 0 {
		cfg.MaxJitter = time.Duration(jitterMs) * time.Millisecond
	}
	return cfg
}
