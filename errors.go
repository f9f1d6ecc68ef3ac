package httpcore

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state.
	ErrCircuitOpen = errors.New("httpcore: circuit open")

	// ErrRateLimited is returned when a request is denied due to rate limiting.
	ErrRateLimited = errors.New("httpcore: rate limited")

	// ErrCacheMiss is returned when a cache lookup fails.
	ErrCacheMiss = errors.New("httpcore: cache miss")

	// ErrRetryBudgetExceeded is returned when the retry budget is exhausted.
	ErrRetryBudgetExceeded = errors.New("httpcore: retry budget exceeded")

	// ErrDispatcherClosed is passed to an async call's callback when the
	// Dispatcher has been shut down: by Dispatcher.Enqueue after Close, or by
	// Close for calls still waiting in the ready queue. Client.Do never returns it.
	ErrDispatcherClosed = errors.New("httpcore: dispatcher closed")

	// ErrTooManyFollowUps is returned when an exchange would exceed FollowUpLimit
	// redirect/auth-challenge hops, mirroring OkHttp's own follow-up cap.
	ErrTooManyFollowUps = errors.New("httpcore: too many follow-up requests")

	// ErrOnlyIfCachedUnsatisfiable is returned when a request carries
	// Cache-Control: only-if-cached and CacheStrategy has no cached response to
	// offer, so the call must fail rather than touch the network.
	ErrOnlyIfCachedUnsatisfiable = errors.New("httpcore: only-if-cached but no cached response available")

	// ErrCallAlreadyExecuted is a programmer-bug assertion: Client.Do/DoAsync was
	// invoked more than once on the same Call.
	ErrCallAlreadyExecuted = errors.New("httpcore: call already executed")
)

// Error type constants used by ClientError.Type.
const (
	ErrorTypeNetwork                   = "Network"
	ErrorTypeTimeout                   = "Timeout"
	ErrorTypeServer                    = "Server"
	ErrorTypeClient                    = "Client"
	ErrorTypeRateLimit                 = "RateLimit"
	ErrorTypeCircuitOpen               = "CircuitOpen"
	ErrorTypeRetryBudgetExceeded       = "RetryBudgetExceeded"
	ErrorTypeValidation                = "Validation"
	ErrorTypeDispatcherFull            = "DispatcherFull"
	ErrorTypeConnectionPoolExhausted   = "ConnectionPoolExhausted"
	ErrorTypeOnlyIfCachedUnsatisfiable = "OnlyIfCachedUnsatisfiable"
	ErrorTypeTooManyFollowUps          = "TooManyFollowUps"
)

// IsTransient determines if an error represents a transient failure that might
// succeed on retry. Returns true for network errors, timeouts, 5xx server
// responses, and rate limiting (429). Returns false for 4xx client errors (except
// 429) and configuration errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeRateLimit, ErrorTypeCircuitOpen, ErrorTypeConnectionPoolExhausted:
			return true
		case ErrorTypeClient:
			return clientErr.StatusCode == 429
		default:
			return false
		}
	}

	return false
}

// ClientError carries structured diagnostic context for a failed request: what
// kind of failure it was, which call it belongs to, and how many attempts had run.
type ClientError struct {
	Type    string
	Message string
	Cause   error

	RequestID  string
	Method     string
	URL        string
	Endpoint   string
	StatusCode int
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is, matching by Type rather than identity so
// callers can test `errors.Is(err, &ClientError{Type: ErrorTypeServer})`.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context, for callers
// building their own error reports.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
