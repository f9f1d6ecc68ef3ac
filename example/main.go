// Minimal example demonstrating a basic resilient GET plus a slightly more
// advanced client showing custom retry logic, middleware, metrics, circuit
// breaking, and the async Dispatcher surface.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ambiyansyah-risyal/httpcore"
)

const httpbinJSON = "https://httpbin.org/json"

func main() {
	// --- Basic client (batteries-included defaults) ---
	basic := httpcore.New(
		httpcore.WithMaxRetries(3),
		httpcore.WithInitialBackoff(100*time.Millisecond),
		httpcore.WithMaxBackoff(5*time.Second),
		httpcore.WithRateLimiter(10, time.Second),
		httpcore.WithCache(2*time.Minute),
		httpcore.WithCircuitBreaker(httpcore.CircuitBreakerConfig{}),
		httpcore.WithDeduplication(),
		httpcore.WithSimpleLogger(),
		httpcore.WithDebug(),
	)
	if !basic.IsValid() {
		log.Fatalf("invalid basic client config: %v", basic.ValidationError())
	}
	ctx := context.Background()
	resp, err := basic.Get(ctx, httpbinJSON)
	if err != nil {
		log.Fatalf("basic GET failed: %v", err)
	}
	_ = resp.Body.Close()
	fmt.Println("basic GET status", resp.StatusCode)

	// --- Advanced snippet: custom retry condition + middleware + metrics ---
	advanced := httpcore.New(
		httpcore.WithRetryCondition(func(r *http.Response, e error) bool { return e != nil || (r != nil && r.StatusCode >= 500) }),
		httpcore.WithMiddleware(func(req *http.Request, next httpcore.RoundTripper) (*http.Response, error) {
			req.Header.Set("User-Agent", "httpcore-example")
			start := time.Now()
			res, err := next.RoundTrip(req)
			fmt.Printf("request %s took %v\n", req.URL.Host, time.Since(start))
			return res, err
		}),
		httpcore.WithMetrics(),
		httpcore.WithCircuitBreaker(httpcore.CircuitBreakerConfig{FailureThreshold: 3, RecoveryTimeout: 5 * time.Second, SuccessThreshold: 1}),
		httpcore.WithMaxRetries(2),
	)
	r2, err := advanced.Get(ctx, httpbinJSON)
	if err != nil {
		log.Fatalf("advanced GET failed: %v", err)
	}
	_ = r2.Body.Close()
	fmt.Println("advanced GET status", r2.StatusCode)

	asyncFanOut(advanced)
}

// asyncFanOut demonstrates the Dispatcher-admitted async surface: DoAsync
// hands each request straight to the Dispatcher, which admits up to its
// per-host cap immediately and queues the rest until earlier calls finish.
func asyncFanOut(c *httpcore.Client) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		req, err := http.NewRequest(http.MethodGet, httpbinJSON, nil)
		if err != nil {
			wg.Done()
			continue
		}
		c.DoAsync(req, func(resp *http.Response, err error) {
			defer wg.Done()
			if err != nil {
				fmt.Println("async GET failed:", err)
				return
			}
			defer resp.Body.Close()
			fmt.Println("async GET status", resp.StatusCode)
		}, httpcore.WithTag("fan-out-example"))
	}
	wg.Wait()
}
