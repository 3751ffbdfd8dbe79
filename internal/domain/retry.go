// internal/domain/retry.go
package domain

import "time"

// RetryPolicy defines how a store retries a failed remote call.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	Backoff    time.Duration `json:"backoff" mapstructure:"backoff"`
}
