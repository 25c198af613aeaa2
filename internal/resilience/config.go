package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig. Non-positive
// durations keep the defaults; maxRetries is taken as given.
func FromRetryConfig(maxRetries int, baseBackoff, maxBackoff time.Duration, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxRetries >= 0 {
		cfg.MaxRetries = maxRetries
	}
	if baseBackoff > 0 {
		cfg.BaseBackoff = baseBackoff
	}
	if maxBackoff > 0 {
		cfg.MaxBackoff = maxBackoff
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
// A zero threshold disables the breaker and yields ok=false.
func FromCircuitConfig(failureThreshold int, resetTimeout time.Duration) (cfg CircuitBreakerConfig, ok bool) {
	if failureThreshold <= 0 {
		return CircuitBreakerConfig{}, false
	}
	cfg = DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = failureThreshold
	if resetTimeout > 0 {
		cfg.ResetTimeout = resetTimeout
	}
	return cfg, true
}
