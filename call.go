package httpcore

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// Call is a single logical HTTP exchange as seen by the Dispatcher: a request plus
// the bookkeeping the Dispatcher needs to admit, promote, and account for it.
// Grounded on OkHttp's Dispatcher.java, which tracks AsyncCall/RealCall instances
// through three disjoint queues rather than handing requests straight to a thread
// pool. A Call is created once per logical exchange and executed exactly once;
// running it twice is a programmer error (ErrCallAlreadyExecuted).
type Call struct {
	request *http.Request
	cancel  context.CancelFunc
	tag     interface{}
	host    string

	createdAt time.Time

	runner Runner

	// callback, if non-nil, makes this call asynchronous: Dispatcher.Enqueue will
	// run it on a worker goroutine and report the result here instead of blocking
	// the caller. A nil callback means this is a SyncCall driven by Client.Do.
	callback func(*http.Response, error)

	executed   int32
	cancelled  int32
}

// CallOption customizes a Call before it is handed to the Dispatcher.
type CallOption func(*Call)

// WithTag attaches an application-defined tag to a Call, retrievable later and
// usable with Dispatcher.Cancel(tag) to cancel every call sharing that tag –
// mirroring OkHttp's Request.tag()/Dispatcher.cancel(Object).
func WithTag(tag interface{}) CallOption {
	return func(c *Call) { c.tag = tag }
}

// NewCall wraps a request for submission to a Dispatcher. The host is derived once
// up front since it drives the Dispatcher's per-host admission accounting, and the
// request's context is rewrapped with a cancel func so Dispatcher.Cancel(tag) has
// something cooperative to trigger – Go's idiomatic substitute for OkHttp's
// Call.cancel() reaching into a live HttpEngine.
func NewCall(req *http.Request, opts ...CallOption) *Call {
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	c := &Call{
		request:   req,
		cancel:    cancel,
		host:      hostOf(req),
		createdAt: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tag returns the call's application-defined tag, or nil if none was set.
func (c *Call) Tag() interface{} { return c.tag }

// Request returns the call's underlying request.
func (c *Call) Request() *http.Request { return c.request }

// Host returns the request's target host, used as the Dispatcher's per-host key.
func (c *Call) Host() string { return c.host }

// Cancel marks the call cancelled and cancels its request context. Safe to call
// more than once or concurrently with execution.
func (c *Call) Cancel() {
	if atomic.CompareAndSwapInt32(&c.cancelled, 0, 1) {
		c.cancel()
	}
}

// IsCancelled reports whether Cancel has been called.
func (c *Call) IsCancelled() bool {
	return atomic.LoadInt32(&c.cancelled) == 1
}

// markExecuted returns false if the call had already been executed, enforcing the
// "execute a call at most once" invariant (ErrCallAlreadyExecuted).
func (c *Call) markExecuted() bool {
	return atomic.CompareAndSwapInt32(&c.executed, 0, 1)
}

func hostOf(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return req.URL.Host
}
