// Package httpcore provides a resilient HTTP client built around an OkHttp-style
// core: a Dispatcher that bounds concurrent calls globally and per host, a
// ConnectionPool that reuses transport connections and evicts idle ones, an
// Interceptor chain that sits ahead of an Exchanger abstraction over the actual
// network step, and an RFC 7234 CacheStrategy that decides network vs. cache vs.
// conditional revalidation per request. Layered on top:
//
//   - Retries with exponential or decorrelated-jitter backoff, optionally
//     governed by a shared RetryBudget
//   - Rate limiting (token bucket), single or per-key via RateLimiterRegistry
//   - In-memory response caching with per-request overrides
//   - Circuit breaker (open / half-open / closed states)
//   - Request de-duplication (merges concurrent identical in-flight requests)
//   - An Interceptor/Middleware chain for cross-cutting concerns (auth, logging,
//     tracing, etc.)
//   - Prometheus metrics and structured zerolog debug logging
//
// Design goals:
//   - Small surface area — functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Extensibility via user-supplied interceptors/middleware & pluggable
//     cache / metrics / retry policy
//
// Typical usage:
//
//	client := httpcore.New(
//	    httpcore.WithMaxRetries(3),
//	    httpcore.WithRateLimiter(10, time.Second),
//	    httpcore.WithCache(5*time.Minute),
//	    httpcore.WithCircuitBreaker(httpcore.CircuitBreakerConfig{}),
//	    httpcore.WithDeduplication(),
//	)
//	resp, err := client.Get(ctx, "https://api.example.com/data")
//
// Only network errors and 5xx responses trigger retries by default; override
// with WithRetryCondition or supply a full RetryPolicy via WithRetryPolicy. The
// library avoids opinionated logging: provide a Logger (e.g. via
// WithSimpleLogger) and enable debug flags selectively (WithDebug /
// WithDebugConfig) for insight without noise.
package httpcore
