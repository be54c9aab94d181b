package utils

import (
	"time"
)

// Dialer constants
const (
	// RateLimitWindow is the trailing window the per-campaign call rate is measured over
	RateLimitWindow = time.Minute

	// DefaultMaxAttempts applies when a campaign is created without max_attempts
	DefaultMaxAttempts = 3

	// DefaultRetryDelayMinutes applies when a campaign is created without retry_delay_minutes
	DefaultRetryDelayMinutes = 10

	// DefaultRateLimitPerMinute applies when a campaign is created without rate_limit_per_minute
	DefaultRateLimitPerMinute = 10

	// MaxEnrollmentBatch bounds the number of targets in one enrollment request
	MaxEnrollmentBatch = 5000

	// WebhookSecretHeader carries the shared secret on provider webhooks
	WebhookSecretHeader = "X-Webhook-Secret"
)
