package retry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quayside/groupage/pkg/importer/engine/retry"
	"github.com/quayside/groupage/pkg/importer/support/util/exception"
)

func TestBackoff_FollowsScheduleThenDoubles(t *testing.T) {
	policy := retry.NewDefaultPolicy()

	assert.Equal(t, 500*time.Millisecond, policy.Backoff(1))
	assert.Equal(t, 1*time.Second, policy.Backoff(2))
	assert.Equal(t, 2*time.Second, policy.Backoff(3))
	assert.Equal(t, 4*time.Second, policy.Backoff(4), "past the schedule the last entry keeps doubling")
	assert.Equal(t, 8*time.Second, policy.Backoff(5))
}

func TestBackoff_EmptySchedule(t *testing.T) {
	policy := retry.NewDefaultPolicyFactory().Create(3, nil, nil)
	assert.Equal(t, time.Duration(0), policy.Backoff(1))
}

func TestShouldRetry_TransientErrors(t *testing.T) {
	policy := retry.NewDefaultPolicy()

	assert.True(t, policy.ShouldRetry(exception.NewTransientError("store", "HTTP 429 too many requests", nil)))
	assert.True(t, policy.ShouldRetry(errors.New("request timeout while writing")))
	assert.True(t, policy.ShouldRetry(errors.New("server returned 429")))
	assert.False(t, policy.ShouldRetry(exception.NewWriteError("store", "field rejected", nil)))
	assert.False(t, policy.ShouldRetry(exception.NewValidationError("order", "missing field")))
	assert.False(t, policy.ShouldRetry(nil))
}

func TestShouldRetry_ConfiguredErrorNames(t *testing.T) {
	sentinel := errors.New("quota exhausted")
	exception.RegisterErrorType("ErrQuotaExhausted", sentinel)

	policy := retry.NewDefaultPolicyFactory().Create(3, []int{1}, []string{"ErrQuotaExhausted"})

	assert.True(t, policy.ShouldRetry(sentinel))
	assert.False(t, policy.ShouldRetry(errors.New("some other failure")))
}

func TestMaxAttempts(t *testing.T) {
	assert.Equal(t, 3, retry.NewDefaultPolicy().MaxAttempts())
	assert.Equal(t, 5, retry.NewDefaultPolicyFactory().Create(5, []int{1}, nil).MaxAttempts())
}
