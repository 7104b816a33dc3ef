package util

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// RetryConfig bounds how often a cache filesystem operation is attempted.
// The wait doubles after every failed attempt up to MaxWait.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
}

// DefaultRetryConfig returns the configuration used for cache writes
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 50 * time.Millisecond,
		MaxWait:     2 * time.Second,
	}
}

// NoRetry attempts every operation exactly once
func NoRetry() *RetryConfig {
	return &RetryConfig{MaxAttempts: 1}
}

// transientErrnos clear up on their own: a busy file, an interrupted call,
// a full descriptor table or a flaky device
var transientErrnos = map[syscall.Errno]bool{
	syscall.EAGAIN:    true,
	syscall.EBUSY:     true,
	syscall.ETXTBSY:   true,
	syscall.EINTR:     true,
	syscall.ETIMEDOUT: true,
	syscall.EMFILE:    true,
	syscall.ENFILE:    true,
	syscall.EIO:       true,
}

// IsRetryableError reports whether err is a transient filesystem error.
// Anything else, including a missing path or a read-only filesystem, is
// permanent.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return transientErrnos[errno]
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// Retry runs op until it succeeds, fails permanently or runs out of
// attempts. Exhausted retries wrap the last error; permanent errors are
// returned unchanged.
func Retry(cfg *RetryConfig, op func() error, name string) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	wait := cfg.InitialWait
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			if attempt > 1 {
				DebugLog("%s succeeded on attempt %d/%d", name, attempt, attempts)
			}
			return nil
		}
		if !IsRetryableError(err) || attempt == attempts {
			break
		}

		DebugLog("%s failed (attempt %d/%d), retrying in %v: %v", name, attempt, attempts, wait, err)
		time.Sleep(wait)
		wait = min(wait*2, cfg.MaxWait)
	}

	if attempts == 1 || !IsRetryableError(err) {
		return err
	}
	WarnLog("%s failed after %d attempts: %v", name, attempts, err)
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
