package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig. A negative
// maxAttempts selects Unlimited.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier float64, linear bool) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.JitterFraction = 0
	switch {
	case maxAttempts < 0:
		cfg.MaxAttempts = Unlimited
	case maxAttempts > 0:
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if linear {
		cfg.Strategy = Linear
	}
	return cfg
}
