// Package retry defines the retry policy applied to transient store failures.
// The backoff schedule is carried as data rather than computed recursively, so
// the attempt loop in the processor stays bounded and explicit.
package retry

import (
	"time"

	"github.com/quayside/groupage/pkg/importer/core/config"
	"github.com/quayside/groupage/pkg/importer/support/util/exception"
)

// Policy is an interface that defines retry logic for one group write.
type Policy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// Backoff returns the waiting time before the retry following the given
	// attempt number (starting from 1).
	Backoff(attempt int) time.Duration
	// MaxAttempts returns the total number of attempts, first try included.
	MaxAttempts() int
}

// DefaultPolicyFactory is a factory for creating Policy instances from configuration.
type DefaultPolicyFactory struct{}

// NewDefaultPolicyFactory creates a new DefaultPolicyFactory.
func NewDefaultPolicyFactory() *DefaultPolicyFactory {
	return &DefaultPolicyFactory{}
}

// Create creates a new Policy based on the given settings.
// maxAttempts: The total number of attempts per group.
// scheduleMs: The backoff schedule in milliseconds, one entry per retry;
// attempts past the end of the schedule keep doubling the last entry.
// retryableErrors: Additional error names considered retryable.
func (f *DefaultPolicyFactory) Create(maxAttempts int, scheduleMs []int, retryableErrors []string) Policy {
	schedule := make([]time.Duration, 0, len(scheduleMs))
	for _, ms := range scheduleMs {
		schedule = append(schedule, time.Duration(ms)*time.Millisecond)
	}
	return &defaultPolicy{
		maxAttempts:     maxAttempts,
		schedule:        schedule,
		retryableErrors: retryableErrors,
	}
}

// FromConfig creates a Policy from the import retry configuration.
func (f *DefaultPolicyFactory) FromConfig(cfg config.RetryConfig) Policy {
	return f.Create(cfg.MaxAttempts, cfg.BackoffScheduleMs, cfg.RetryableErrors)
}

// NewDefaultPolicy returns the stock policy: 3 attempts with a 500ms, 1s, 2s
// doubling backoff schedule.
func NewDefaultPolicy() Policy {
	return NewDefaultPolicyFactory().Create(3, []int{500, 1000, 2000}, nil)
}

// defaultPolicy is the default implementation of Policy.
type defaultPolicy struct {
	maxAttempts     int
	schedule        []time.Duration
	retryableErrors []string
}

// MaxAttempts returns the total number of attempts.
func (p *defaultPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry determines if an error is retryable: the built-in transient
// detection first, then the configured retryable error names.
func (p *defaultPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	if exception.IsTemporary(err) {
		return true
	}

	for _, typeName := range p.retryableErrors {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}

	return false
}

// Backoff returns the schedule entry for the given attempt number; attempts
// past the end of the schedule double the last entry each time.
func (p *defaultPolicy) Backoff(attempt int) time.Duration {
	if len(p.schedule) == 0 || attempt < 1 {
		return 0
	}
	if attempt <= len(p.schedule) {
		return p.schedule[attempt-1]
	}
	d := p.schedule[len(p.schedule)-1]
	for i := len(p.schedule); i < attempt; i++ {
		d *= 2
	}
	return d
}

// Verify interfaces
var _ Policy = (*defaultPolicy)(nil)
