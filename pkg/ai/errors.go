// Package ai provides common types shared by the speech, synthesis, and
// detection providers: a stable error taxonomy and retry configuration.
//
// Error categories are the contract with the embedding application: every
// reported failure carries a category tag that is independent of the
// underlying provider's error strings, so callers can localize or branch
// without string matching.
package ai

import (
	"errors"
	"time"
)

// Classification sentinels. Wrapped errors unwrap to exactly one of these.
var (
	// ErrRecoverable indicates a temporary failure that may succeed if retried.
	// Examples: network timeout, rate limiting, temporary service unavailability.
	ErrRecoverable = errors.New("recoverable provider error")

	// ErrFatal indicates a permanent failure that will not succeed if retried.
	// Examples: microphone permission denied, no capture device, bad API key.
	ErrFatal = errors.New("fatal provider error")
)

// Category is the stable tag attached to every reported error.
type Category string

const (
	// CategoryPermission: microphone/device access denied. Fatal to the
	// current call attempt; the session must be reset.
	CategoryPermission Category = "permission"

	// CategoryDevice: no capture device present, or the device is busy.
	// Same severity as permission errors, distinct remediation.
	CategoryDevice Category = "device"

	// CategoryNetwork: backend unreachable or timed out. Recoverable; only
	// the in-flight interaction is affected.
	CategoryNetwork Category = "network"

	// CategoryDecode: an audio payload could not be decoded or played.
	// Recoverable; the playback controller never stays "playing" after one.
	CategoryDecode Category = "decode"

	// CategoryInternal: anything that does not fit the above.
	CategoryInternal Category = "internal"
)

// CategorizedError wraps an underlying error with its category tag and retry
// classification. It unwraps to ErrRecoverable or ErrFatal.
type CategorizedError struct {
	Category   Category
	Retryable  bool
	Underlying error
	Message    string
}

func (e *CategorizedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Underlying != nil {
		return e.Underlying.Error()
	}
	return string(e.Category) + " error"
}

func (e *CategorizedError) Unwrap() error {
	if e.Retryable {
		return ErrRecoverable
	}
	return ErrFatal
}

// NewPermissionError reports denied microphone/device access.
func NewPermissionError(underlying error, message string) error {
	return &CategorizedError{Category: CategoryPermission, Retryable: false, Underlying: underlying, Message: message}
}

// NewDeviceError reports a missing or busy capture device.
func NewDeviceError(underlying error, message string) error {
	return &CategorizedError{Category: CategoryDevice, Retryable: false, Underlying: underlying, Message: message}
}

// NewNetworkError reports a backend connectivity failure.
func NewNetworkError(underlying error, message string) error {
	return &CategorizedError{Category: CategoryNetwork, Retryable: true, Underlying: underlying, Message: message}
}

// NewDecodeError reports an undecodable or unplayable audio payload.
func NewDecodeError(underlying error, message string) error {
	return &CategorizedError{Category: CategoryDecode, Retryable: true, Underlying: underlying, Message: message}
}

// NewInternalError reports an uncategorized failure.
func NewInternalError(underlying error, message string) error {
	return &CategorizedError{Category: CategoryInternal, Retryable: false, Underlying: underlying, Message: message}
}

// CategoryOf extracts the category tag from an error chain.
// Errors without a tag report CategoryInternal.
func CategoryOf(err error) Category {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryInternal
}

// IsRecoverable checks if an error is recoverable and may be retried.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal checks if an error is fatal and should not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// RetryConfig configures retry behavior for recoverable errors.
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts
	InitialDelay  time.Duration // Initial delay before first retry
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Exponential backoff multiplier
}

// DefaultRetryConfig provides sensible defaults for provider retries.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2.0,
}
