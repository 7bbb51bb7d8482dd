package session

import (
	"time"

	"github.com/pairlink/pairlink/internal/config"
)

// RetryPolicy bounds direct negotiation. Deadline applies to each attempt.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Deadline    time.Duration
}

// FallbackPolicy controls the downgrade to the relayed path. Deadline is
// measured from the start of negotiation, across attempts.
type FallbackPolicy struct {
	Enabled  bool
	Deadline time.Duration
}

// DefaultRetryPolicy mirrors the configuration defaults.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: 2 * time.Second, Deadline: 30 * time.Second}

// PoliciesFromConfig extracts the session policies from cfg.
func PoliciesFromConfig(cfg config.Session) (RetryPolicy, FallbackPolicy) {
	return RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Delay:       cfg.RetryDelay,
			Deadline:    cfg.Deadline,
		}, FallbackPolicy{
			Enabled:  cfg.Fallback,
			Deadline: cfg.FallbackDeadline,
		}
}
