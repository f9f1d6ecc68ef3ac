package httpcore

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Client is a resilient HTTP client that layers a Dispatcher (admission
// control), a ConnectionPool (transport reuse), a CacheStrategy (RFC 7234
// freshness/age), retries, circuit breaking, rate limiting, de-duplication,
// an interceptor chain, and metrics around net/http. It is safe for
// concurrent use. Grounded on the teacher's Client: the options-built struct,
// the Get/Post/Do surface, and the retry/circuit/rate-limit/cache/dedup
// pipeline inside Do, now driven through a Dispatcher-admitted Call and an
// interceptor chain terminating in a pool-backed Exchanger instead of a bare
// httpClient.Do call.
type Client struct {
	dispatcher    *Dispatcher
	pool          *ConnectionPool
	cacheStrategy *CacheStrategy
	interceptors  []Interceptor
	followUpLimit int
	httpClient    *http.Client

	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	backoffStrategy   BackoffStrategy
	timeout           time.Duration
	retryCondition    RetryCondition
	retryPolicy       RetryPolicy
	retryBudget       *RetryBudget
	circuitBreaker    *CircuitBreaker
	middleware        []Middleware
	rateLimiter       *RateLimiter
	rateLimiters      *RateLimiterRegistry
	cache             Cache
	cacheTTL          time.Duration
	cacheKeyFunc      func(*http.Request) string
	cacheCondition    CacheCondition
	metrics           *MetricsCollector
	debug             *DebugConfig
	logger            Logger
	deduplication     *DeduplicationTracker
	dedupKeyFunc      DeduplicationKeyFunc
	dedupCondition    DeduplicationCondition
	validationError   error
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		dispatcher:    NewDispatcher(),
		pool:          NewConnectionPool(),
		cacheStrategy: NewCacheStrategy(),
		followUpLimit: MaxFollowUps,
		httpClient:    &http.Client{Timeout: 30 * time.Second},

		maxRetries:        3,
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        10 * time.Second,
		backoffMultiplier: 2.0,
		jitter:            0.1,
		backoffStrategy:   ExponentialJitter,
		timeout:           30 * time.Second,
		retryCondition:    DefaultRetryCondition,
		circuitBreaker:    NewCircuitBreaker(CircuitBreakerConfig{}),
		middleware:        []Middleware{},
		cacheTTL:          5 * time.Minute,
		cacheKeyFunc:      DefaultCacheKeyFunc,
		cacheCondition:    DefaultCacheCondition,
		debug:             &DebugConfig{},
		logger:            noopLogger{},
		dedupKeyFunc:      DefaultDeduplicationKeyFunc,
		dedupCondition:    DefaultDeduplicationCondition,
	}

	for _, option := range options {
		option(client)
	}

	client.dispatcher.metrics = client.metrics
	client.pool.metrics = client.metrics
	client.pool.logger = client.logger

	for _, m := range client.middleware {
		client.interceptors = append(client.interceptors, middlewareInterceptor{middleware: m})
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Do executes a prepared *http.Request synchronously, applying all
// reliability features. The request is registered with the Dispatcher for
// bookkeeping (Cancel-by-tag, RunningCallsCount) for the duration of the call,
// though — as a synchronous call — it is never subject to the Dispatcher's
// admission caps, matching OkHttp's own RealCall.execute()/Dispatcher.executed
// split.
func (c *Client) Do(req *http.Request, opts ...CallOption) (*http.Response, error) {
	call := NewCall(req, opts...)
	if !call.markExecuted() {
		return nil, ErrCallAlreadyExecuted
	}
	c.dispatcher.Executed(call)
	defer c.dispatcher.FinishedSync(call)

	return c.execute(call.Request())
}

// DoAsync enqueues req on the Dispatcher and invokes callback with the result
// once it completes, without blocking the calling goroutine. Mirrors OkHttp's
// RealCall.enqueue/Dispatcher.enqueue split.
func (c *Client) DoAsync(req *http.Request, callback func(*http.Response, error), opts ...CallOption) *Call {
	call := NewCall(req, opts...)
	call.callback = callback
	if !call.markExecuted() {
		if callback != nil {
			callback(nil, ErrCallAlreadyExecuted)
		}
		return call
	}
	c.dispatcher.Enqueue(call, clientRunner{client: c})
	return call
}

// clientRunner adapts Client.execute to the Dispatcher's Runner contract.
type clientRunner struct {
	client *Client
}

func (r clientRunner) Run(call *Call) {
	defer r.client.dispatcher.Finished(call)
	resp, err := r.client.execute(call.Request())
	if call.callback != nil {
		call.callback(resp, err)
	}
}

// execute is the shared path for Do and DoAsync: dedup coalescing, cache
// lookup via CacheStrategy, then the retry-wrapped exchange.
func (c *Client) execute(req *http.Request) (*http.Response, error) {
	start := time.Now()
	endpoint := getEndpointFromRequest(req)

	var requestID string
	if c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	if c.debug.Enabled && c.debug.LogRequests {
		c.logger.Debug().Str("requestID", requestID).Str("method", req.Method).
			Str("url", req.URL.String()).Str("endpoint", endpoint).Msg("starting request")
	}

	if c.metrics != nil {
		c.metrics.RecordRequestStart(req.Method, endpoint)
	}

	dedupEnabled := c.deduplication != nil && c.dedupCondition(req)

	var dedupEntry *DeduplicationEntry
	var isDedupOwner bool
	if dedupEnabled {
		dedupKey := c.dedupKeyFunc(req)
		dedupEntry, isDedupOwner = c.deduplication.GetOrCreateEntry(dedupKey)

		if !isDedupOwner {
			resp, err := dedupEntry.Wait(req.Context())
			duration := time.Since(start)
			if c.metrics != nil {
				statusCode := 0
				if resp != nil {
					statusCode = resp.StatusCode
				}
				c.metrics.RecordRequest(req.Method, endpoint, statusCode, duration)
				c.metrics.RecordDeduplicationHit(req.Method, endpoint)
			}
			if c.debug.Enabled {
				c.logger.Debug().Str("requestID", requestID).Str("dedupKey", dedupKey).Msg("deduplication hit")
			}
			return resp, err
		}
		if c.debug.Enabled {
			c.logger.Debug().Str("requestID", requestID).Str("dedupKey", dedupKey).Msg("deduplication miss, proceeding")
		}
	}

	resp, err := c.executeWithCache(req, requestID, endpoint, start)

	if c.metrics != nil {
		c.metrics.RecordRequestEnd(req.Method, endpoint)
		duration := time.Since(start)
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		c.metrics.RecordRequest(req.Method, endpoint, statusCode, duration)
	}

	if dedupEnabled && isDedupOwner && dedupEntry != nil {
		dedupKey := c.dedupKeyFunc(req)
		c.deduplication.Complete(dedupKey, resp, err)
	}

	return resp, err
}

// executeWithCache consults CacheStrategy before and after the network
// exchange: a fresh cache hit short-circuits the network entirely, a
// conditional request may be answered with 304 and served from cache, and
// only-if-cached fails fast rather than touching the network.
func (c *Client) executeWithCache(req *http.Request, requestID, endpoint string, start time.Time) (*http.Response, error) {
	cacheEnabled := c.cache != nil && c.shouldCacheRequest(req)
	var entry *CacheEntry
	var cacheKey string
	if cacheEnabled {
		cacheKey = c.cacheKeyFunc(req)
		entry, _ = c.cache.Get(cacheKey)
	}

	decision := c.cacheStrategy.Compute(req, entry)
	if decision.Unsatisfiable {
		if c.metrics != nil {
			c.metrics.RecordError(ErrorTypeOnlyIfCachedUnsatisfiable, req.Method, endpoint)
		}
		return nil, c.createClientError(ErrorTypeOnlyIfCachedUnsatisfiable, "only-if-cached but no cached response available", ErrOnlyIfCachedUnsatisfiable, requestID, req, 0, time.Since(start))
	}

	if decision.CacheEntry != nil && decision.NetworkRequest == nil {
		if c.debug.Enabled && c.debug.LogCache {
			c.logger.Debug().Str("requestID", requestID).Str("cacheKey", cacheKey).Msg("cache hit")
		}
		if c.metrics != nil {
			c.metrics.RecordCacheHit(req.Method, endpoint)
		}
		return c.createResponseFromCache(decision.CacheEntry), nil
	}

	if c.metrics != nil && cacheEnabled {
		c.metrics.RecordCacheMiss(req.Method, endpoint)
	}
	if c.debug.Enabled && c.debug.LogCache && cacheEnabled {
		c.logger.Debug().Str("requestID", requestID).Str("cacheKey", cacheKey).Msg("cache miss")
	}

	networkReq := decision.NetworkRequest
	if networkReq == nil {
		networkReq = req
	}

	requestTime := time.Now()
	resp, err := c.doWithRetry(networkReq, 0, requestID, start)
	responseTime := time.Now()

	if err != nil {
		return nil, err
	}

	if decision.CacheEntry != nil && isNotModified(resp) {
		_ = resp.Body.Close()
		if c.debug.Enabled && c.debug.LogCache {
			c.logger.Debug().Str("requestID", requestID).Str("cacheKey", cacheKey).Msg("cache revalidated (304)")
		}
		refreshed := *decision.CacheEntry
		refreshed.IsStale = false
		refreshed.ResponseTime = responseTime
		if cacheEnabled {
			c.cache.Set(cacheKey, &refreshed, c.getCacheTTLForRequest(req))
		}
		return c.createResponseFromCache(&refreshed), nil
	}

	if cacheEnabled && resp.StatusCode < 400 {
		newEntry := c.createCacheEntry(req, resp, requestTime, responseTime)
		if newEntry != nil {
			ttl := c.getCacheTTLForRequest(req)
			c.cache.Set(cacheKey, newEntry, ttl)
			if c.metrics != nil {
				c.metrics.RecordCacheSize("default", c.cacheSize())
			}
			if c.debug.Enabled && c.debug.LogCache {
				c.logger.Debug().Str("requestID", requestID).Str("cacheKey", cacheKey).Dur("ttl", ttl).Msg("response cached")
			}
			return c.createResponseFromCache(newEntry), nil
		}
	}

	return resp, nil
}

func (c *Client) cacheSize() int {
	inMemory, ok := c.cache.(*InMemoryCache)
	if !ok {
		return 0
	}
	total := 0
	for _, shard := range inMemory.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

func (c *Client) doWithRetry(req *http.Request, attempt int, requestID string, startTime time.Time) (*http.Response, error) {
	endpoint := getEndpointFromRequest(req)

	if allowed, limiterKey := c.checkRateLimit(req); !allowed {
		if c.debug.Enabled && c.debug.LogRateLimit {
			c.logger.Warn().Str("requestID", requestID).Str("endpoint", endpoint).Str("limiter", limiterKey).Msg("rate limit exceeded")
		}
		if c.metrics != nil {
			c.metrics.RecordError(ErrorTypeRateLimit, req.Method, endpoint)
		}
		return nil, c.createClientError(ErrorTypeRateLimit, "rate limit exceeded", ErrRateLimited, requestID, req, attempt, time.Since(startTime))
	}

	if !c.circuitBreaker.Allow() {
		if c.debug.Enabled && c.debug.LogCircuit {
			c.logger.Warn().Str("requestID", requestID).Str("endpoint", endpoint).
				Str("state", CircuitState(c.circuitBreaker.state).String()).Msg("circuit breaker open")
		}
		if c.metrics != nil {
			c.metrics.RecordError(ErrorTypeCircuitOpen, req.Method, endpoint)
		}
		return nil, c.createClientError(ErrorTypeCircuitOpen, "circuit breaker is open", ErrCircuitOpen, requestID, req, attempt, time.Since(startTime))
	}

	if attempt > 0 {
		if c.debug.Enabled && c.debug.LogRetries {
			c.logger.Info().Str("requestID", requestID).Int("attempt", attempt).
				Int("maxRetries", c.maxRetries).Str("endpoint", endpoint).Msg("retry attempt")
		}
		if c.metrics != nil {
			c.metrics.RecordRetry(req.Method, endpoint, attempt)
		}
	}

	chainReq, cancel := req, context.CancelFunc(func() {})
	if c.timeout > 0 {
		var ctx context.Context
		ctx, cancel = context.WithTimeout(req.Context(), c.timeout)
		chainReq = req.WithContext(ctx)
	}
	resp, err := c.executeChain(chainReq)
	if resp != nil && resp.Body != nil {
		resp.Body = &releaseOnClose{ReadCloser: resp.Body, release: cancel}
	} else {
		cancel()
	}

	if err != nil || (resp != nil && resp.StatusCode >= 500) {
		c.circuitBreaker.RecordFailure()
		if c.metrics != nil {
			c.metrics.RecordCircuitBreakerState("default", CircuitState(c.circuitBreaker.state))
		}
		if c.debug.Enabled && c.debug.LogCircuit {
			event := c.logger.Warn().Str("requestID", requestID)
			if err != nil {
				event = event.Err(err)
			} else {
				event = event.Int("statusCode", resp.StatusCode)
			}
			event.Msg("circuit breaker failure recorded")
		}
		if c.metrics != nil {
			if err != nil {
				c.metrics.RecordError(ErrorTypeNetwork, req.Method, endpoint)
			} else {
				c.metrics.RecordError(ErrorTypeServer, req.Method, endpoint)
			}
		}
	} else {
		c.circuitBreaker.RecordSuccess()
		if c.metrics != nil {
			c.metrics.RecordCircuitBreakerState("default", CircuitState(c.circuitBreaker.state))
		}
	}

	var shouldRetry bool
	var delay time.Duration
	if c.retryPolicy != nil {
		delay, shouldRetry = c.retryPolicy.ShouldRetry(resp, err, attempt)
	} else {
		shouldRetry = attempt < c.maxRetries && c.retryCondition(resp, err)
		if shouldRetry {
			delay = c.calculateBackoff(attempt)
		}
	}

	if shouldRetry {
		if c.retryBudget != nil && !c.retryBudget.Allow() {
			if c.metrics != nil {
				c.metrics.RecordRetryBudgetExceeded(endpoint)
			}
			if c.debug.Enabled && c.debug.LogRetries {
				c.logger.Warn().Str("requestID", requestID).Str("endpoint", endpoint).Msg("retry budget exceeded")
			}
			return nil, c.createClientError(ErrorTypeRetryBudgetExceeded, "retry budget exceeded", ErrRetryBudgetExceeded, requestID, req, attempt, time.Since(startTime))
		}

		if c.debug.Enabled && c.debug.LogRetries {
			c.logger.Info().Str("requestID", requestID).Int("attempt", attempt+1).
				Dur("backoff", delay).Str("endpoint", endpoint).Msg("scheduling retry")
		}

		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
		return c.doWithRetry(req, attempt+1, requestID, startTime)
	}

	if err != nil {
		return nil, c.createClientError(ErrorTypeNetwork, "network request failed", err, requestID, req, attempt, time.Since(startTime))
	}
	return resp, err
}

// checkRateLimit consults the per-key RateLimiterRegistry if one is configured,
// falling back to the single shared RateLimiter otherwise. Absent either, every
// request is allowed.
func (c *Client) checkRateLimit(req *http.Request) (bool, string) {
	if c.rateLimiters != nil {
		allowed, key := c.rateLimiters.Allow(req)
		if c.metrics != nil {
			if limiter, _ := c.rateLimiters.GetLimiter(req); limiter != nil {
				if rl, ok := limiter.(*RateLimiter); ok {
					c.metrics.RecordRateLimiterTokens(key, int(rl.tokens))
				}
			}
		}
		return allowed, key
	}
	if c.rateLimiter != nil {
		allowed := c.rateLimiter.Allow()
		if c.metrics != nil {
			c.metrics.RecordRateLimiterTokens("default", int(c.rateLimiter.tokens))
		}
		return allowed, "default"
	}
	return true, "default"
}

// executeChain runs req through the interceptor chain to a pool-backed
// Exchanger, following redirects (auth challenges are not followed) up to followUpLimit
// hops and giving the Exchanger a chance to recover from a failed attempt
// before giving up. Ported directly from RealCall.getResponse's send/read/
// recover/follow-up loop.
func (c *Client) executeChain(req *http.Request) (*http.Response, error) {
	current := req
	host := current.URL.Host
	exch := c.exchangerFor(host)

	for hop := 0; ; hop++ {
		if hop > c.followUpLimit {
			return nil, &ClientError{Type: ErrorTypeTooManyFollowUps, Message: "too many follow-up requests", Cause: ErrTooManyFollowUps}
		}

		resp, err := runChain(c.interceptors, exch, current)
		if err != nil {
			if recovered := exch.Recover(current, err); recovered != nil {
				exch = recovered
				continue
			}
			return nil, err
		}

		followUp, ferr := exch.FollowUpRequest(current, resp)
		if ferr != nil {
			return nil, ferr
		}
		if followUp == nil {
			return resp, nil
		}

		_ = resp.Body.Close()
		current = followUp
		if current.URL.Host != host {
			host = current.URL.Host
			exch = c.exchangerFor(host)
		}
	}
}

// exchangerFor returns a pool-backed Exchanger for host, acquiring a
// connection pool slot that's released once the response body is closed.
func (c *Client) exchangerFor(host string) Exchanger {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	pc := c.pool.Acquire(host, func() interface{} { return base })
	transport, _ := pc.conn.(http.RoundTripper)
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &pooledExchanger{transport: transport, pool: c.pool, conn: pc, host: host}
}

// pooledExchanger is the default Exchanger a Client hands to the interceptor
// chain: it wraps the shared base transport and ties the ConnectionPool's
// allocation count to the response body's lifetime, so Release happens when
// the caller finishes reading the body (or immediately, on a failed attempt).
type pooledExchanger struct {
	transport http.RoundTripper
	pool      *ConnectionPool
	conn      *pooledConnection
	host      string
}

func (e *pooledExchanger) SendRequest(req *http.Request) (*http.Request, error) {
	return req, nil
}

// ReadResponse reports the outcome to the pool's RouteDatabase as well as
// releasing the connection allocation: a transport-level failure marks the
// host postponed (spec.md §6 "route failures are reported to the pool's
// route_database"), and a successful round trip clears any prior failure
// record, mirroring RouteDatabase.java's failed()/connected() pairing.
func (e *pooledExchanger) ReadResponse(req *http.Request) (*http.Response, error) {
	resp, err := e.transport.RoundTrip(req)
	if err != nil {
		e.pool.routes.Failed(e.host)
		e.pool.Release(e.conn)
		return nil, err
	}
	e.pool.routes.Connected(e.host)
	if resp.ProtoMajor == 2 {
		e.pool.MarkMultiplexed(e.conn)
	}
	resp.Body = &releaseOnClose{ReadCloser: resp.Body, release: func() { e.pool.Release(e.conn) }}
	return resp, nil
}

func (e *pooledExchanger) Recover(req *http.Request, err error) Exchanger {
	return nil
}

func (e *pooledExchanger) Cancel() {}

func (e *pooledExchanger) FollowUpRequest(req *http.Request, resp *http.Response) (*http.Request, error) {
	return followUpFor(req, resp)
}

type releaseOnClose struct {
	io.ReadCloser
	release  func()
	released bool
}

func (r *releaseOnClose) Close() error {
	if !r.released {
		r.released = true
		r.release()
	}
	return r.ReadCloser.Close()
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	if c.backoffStrategy == DecorrelatedJitter {
		return c.calculateDecorrelatedBackoff(attempt)
	}
	return c.calculateExponentialBackoff(attempt)
}

func (c *Client) calculateExponentialBackoff(attempt int) time.Duration {
	backoff := time.Duration(float64(c.initialBackoff) * pow(c.backoffMultiplier, attempt))
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	jitter := c.jitter
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	if jitter > 0 {
		jitterAmount := time.Duration(float64(backoff) * jitter * rand.Float64())
		backoff += jitterAmount
	}
	return backoff
}

// calculateDecorrelatedBackoff mirrors DefaultRetryPolicy's AWS-style
// decorrelated jitter: random_between(initialBackoff, min(maxBackoff,
// initialBackoff*3^attempt)).
func (c *Client) calculateDecorrelatedBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.initialBackoff
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(c.initialBackoff)
	upper := base * pow(3.0, attempt)
	maxBackoff := float64(c.maxBackoff)
	if upper > maxBackoff || upper < 0 {
		upper = maxBackoff
	}
	if upper < base {
		upper = base
	}

	delay := base + rand.Float64()*(upper-base)
	result := time.Duration(delay)
	if result < 0 || result > c.maxBackoff {
		result = c.maxBackoff
	}
	return result
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}

// DefaultRetryCondition retries on any transport error or a 5xx response.
func DefaultRetryCondition(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500
}

func (c *Client) createClientError(errorType, message string, cause error, requestID string, req *http.Request, attempt int, duration time.Duration) *ClientError {
	return &ClientError{
		Type:       errorType,
		Message:    message,
		Cause:      cause,
		RequestID:  requestID,
		Method:     req.Method,
		URL:        req.URL.String(),
		Attempt:    attempt,
		MaxRetries: c.maxRetries,
		Timestamp:  time.Now(),
		Duration:   duration,
		Endpoint:   getEndpointFromRequest(req),
	}
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// ValidateConfigurationStrict panics if configuration is invalid.
func (c *Client) ValidateConfigurationStrict() {
	if err := c.ValidateConfiguration(); err != nil {
		panic(fmt.Sprintf("invalid client configuration: %v", err))
	}
}

// MustValidateConfiguration re-runs validation returning an error (no panic).
func (c *Client) MustValidateConfiguration() error {
	return c.ValidateConfiguration()
}

// CancelAll cancels every call, queued or running, sharing tag.
func (c *Client) CancelAll(tag interface{}) {
	c.dispatcher.Cancel(tag)
}

// Close shuts down the Dispatcher and ConnectionPool, rejecting any
// newly queued calls and evicting idle connections.
func (c *Client) Close() {
	c.dispatcher.Close()
	c.pool.Close()
}

func getEndpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)

	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}
