package httpcore

import (
	"context"
	"net/http"
	"sync"
	"time"

	internalbackoff "github.com/ambiyansyah-risyal/httpcore/internal/backoff"
)

// Middleware observes/transforms a request ahead of the transport step. Interceptor
// (interceptor.go) is the primary chain seam; Middleware is kept as a narrower,
// single-step adapter that WithMiddleware wraps into an Interceptor.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper is the minimal transport interface a middleware chain composes over.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// RetryCondition determines whether a request should be retried; used when a Client
// has no RetryPolicy configured.
type RetryCondition func(resp *http.Response, err error) bool

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// CircuitBreaker is a lock-free circuit breaker built on sync/atomic so Allow can sit
// on the hot path of every dispatched call without contending a mutex.
type CircuitBreaker struct {
	config      CircuitBreakerConfig
	state       int64 // CircuitState
	failures    int64
	lastFailure int64 // UnixNano
	successes   int64
}

// CircuitState is the state of a CircuitBreaker.
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// RateLimiter is a lock-free token bucket built on sync/atomic CAS loops.
type RateLimiter struct {
	maxTokens  int64
	tokens     int64
	refillRate time.Duration
	lastRefill int64 // UnixNano
}

// Limiter is the interface RateLimiterRegistry dispatches Allow() calls to.
type Limiter interface {
	Allow() bool
}

// KeyFunc derives a per-host or per-route key from a request, used by
// RateLimiterRegistry. The Dispatcher keys its per-host admission by
// Call.Host instead.
type KeyFunc func(*http.Request) string

// RateLimiterRegistry dispatches Allow() to a per-key Limiter, falling back to a
// shared limiter when no specific one is registered for the derived key.
type RateLimiterRegistry struct {
	mutex    sync.RWMutex
	limiters map[string]Limiter
	keyFunc  KeyFunc
	fallback Limiter
}

// CacheEntry represents a cached response plus the HTTP caching metadata needed to
// revalidate or recompute freshness later: ETag/Last-Modified for conditional
// requests, and the request/response timestamps the RFC 7234 age formula needs.
type CacheEntry struct {
	Response   *http.Response
	Body       []byte
	StatusCode int
	Header     http.Header

	ETag         string
	LastModified *time.Time
	ExpiresAt    time.Time
	StaleAt      *time.Time
	MaxAge       *time.Duration
	IsStale      bool

	// HasTLSHandshake records whether the response that produced this entry
	// came back over a completed TLS connection (resp.TLS != nil). An HTTPS
	// request can never be satisfied from an entry recorded without one –
	// CacheStrategy.Compute discards such entries outright rather than risk
	// serving a plaintext-origin body for a request that demanded TLS.
	HasTLSHandshake bool

	// WarnHeuristicExpiry is set on a served (not stored) copy of an entry
	// when its freshness lifetime was heuristic (Last-Modified/10) and its
	// current age exceeds 24h, per RFC 2616 §13.2.4's Warning: 113 trigger.
	WarnHeuristicExpiry bool

	RequestTime  time.Time
	ResponseTime time.Time
}

// Cache is the storage interface CacheStrategy and CacheProvider consult.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	Clear()
}

// CacheCondition decides whether caching applies to a given request.
type CacheCondition func(req *http.Request) bool

// CacheMode selects how CacheProvider treats an entry past its freshness lifetime.
type CacheMode int

const (
	// Strict never serves an entry once its freshness lifetime has elapsed.
	Strict CacheMode = iota
	// SWR (stale-while-revalidate) may serve a stale entry inside its StaleAt window
	// while a revalidation request is coalesced through internal/singleflight.
	SWR
	// HTTPSemantics is an alias for Strict, naming the CacheMode a
	// HTTPSemanticsCacheProvider defaults to: honor the entry's computed
	// ExpiresAt exactly, no stale serving.
	HTTPSemantics = Strict
)

// CacheProvider is the HTTP-semantics-aware front door onto a Cache.
type CacheProvider interface {
	Get(ctx context.Context, key string) (*http.Response, bool)
	Set(ctx context.Context, key string, resp *http.Response, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
}

type contextKey string

const CacheControlKey contextKey = "httpcore_cache_control"

// CacheControl carries per-request cache overrides set via context (WithContextCache*)
// and the request-side RFC 7234 directives CacheStrategy.Compute consults.
type CacheControl struct {
	Enabled      bool
	TTL          time.Duration
	MinFresh     *time.Duration
	MaxStale     *time.Duration
	OnlyIfCached bool
	NoCache      bool
}

// Option configures a Client via the functional-options pattern.
type Option func(*Client)

// BackoffStrategy selects which jitter algorithm a DefaultRetryPolicy uses.
type BackoffStrategy int

const (
	// ExponentialJitter backs off exponentially with uniform jitter on top.
	ExponentialJitter BackoffStrategy = iota
	// DecorrelatedJitter uses AWS-style decorrelated jitter for smoother tails.
	DecorrelatedJitter
)

// RetryPolicy decides whether a failed attempt should be retried, and after
// how long. Kept as an interface, separate from RetryCondition, so a caller can
// supply Retry-After-aware or budget-aware policies without touching Client.
type RetryPolicy interface {
	ShouldRetry(resp *http.Response, err error, attempt int) (time.Duration, bool)
}

// DefaultRetryPolicy retries idempotent requests on network errors, 429, and
// 5xx responses, backing off per the configured BackoffStrategy and honoring a
// server's Retry-After header when present.
type DefaultRetryPolicy struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	backoffStrategy   BackoffStrategy
	backoffCalculator internalbackoff.Strategy
	isIdempotent      func(method string) bool
}

// RetryBudget caps the number of retries allowed within a sliding window,
// independent of any single request's own retry count, so a fleet of retrying
// callers can't collectively overwhelm a struggling upstream.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	window      int64
	current     int64
	windowStart int64
}
