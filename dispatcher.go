package httpcore

import "sync"

// Default admission caps, matching OkHttp's Dispatcher.java exactly.
const (
	DefaultMaxRequests        = 64
	DefaultMaxRequestsPerHost = 5
)

// Runner executes an admitted Call to completion. It must call the owning
// Dispatcher's Finished exactly once when it returns, satisfying the core's single
// enforced postcondition: call termination always runs dispatcher.Finished.
type Runner interface {
	Run(call *Call)
}

// Dispatcher bounds how many calls run concurrently, both in aggregate
// (maxRequests) and per destination host (maxRequestsPerHost). Calls that cannot
// be admitted immediately wait in a ready queue until a Finished call promotes
// them. Grounded on OkHttp's Dispatcher.java: the same three disjoint queues
// (ready, running-async, running-sync/"executed"), the same promotion algorithm,
// and the same "finished is the single promotion trigger" invariant. Where Java
// hands admitted work to a cached ThreadPoolExecutor, this hands it to a goroutine;
// admission itself is bounded directly by len(runningAsync) < maxRequests, the
// same check OkHttp's Dispatcher.promoteAndExecute makes against its own running
// deque's size – no separate token pool to keep in sync when maxRequests changes
// while calls are in flight.
type Dispatcher struct {
	mu sync.Mutex

	maxRequests        int
	maxRequestsPerHost int

	ready        []*Call
	runningAsync []*Call
	runningSync  []*Call

	idleCallback func()
	metrics      *MetricsCollector
	closed       bool
}

// NewDispatcher constructs a Dispatcher with OkHttp's canonical defaults.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		maxRequests:        DefaultMaxRequests,
		maxRequestsPerHost: DefaultMaxRequestsPerHost,
	}
}

// SetMaxRequests sets the global concurrent-call cap. Non-positive values are a
// configuration error, matching spec.md's error-handling design for bad caps.
// Because admission is bounded by len(runningAsync) rather than a separate
// token pool, lowering or raising the cap while calls are in flight is safe:
// calls already running are left alone, and promotion simply compares the
// live running count against the new cap on its next pass.
func (d *Dispatcher) SetMaxRequests(n int) error {
	if n < 1 {
		return &ClientError{Type: ErrorTypeValidation, Message: "maxRequests must be >= 1"}
	}
	d.mu.Lock()
	d.maxRequests = n
	promotable := d.promoteCallsLocked()
	d.mu.Unlock()
	d.runAll(promotable)
	return nil
}

// SetMaxRequestsPerHost sets the per-host concurrent-call cap.
func (d *Dispatcher) SetMaxRequestsPerHost(n int) error {
	if n < 1 {
		return &ClientError{Type: ErrorTypeValidation, Message: "maxRequestsPerHost must be >= 1"}
	}
	d.mu.Lock()
	d.maxRequestsPerHost = n
	promotable := d.promoteCallsLocked()
	d.mu.Unlock()
	d.runAll(promotable)
	return nil
}

// SetIdleCallback registers a callback invoked whenever the running-call count
// drops to zero, mirroring OkHttp's Dispatcher.setIdleCallback.
func (d *Dispatcher) SetIdleCallback(fn func()) {
	d.mu.Lock()
	d.idleCallback = fn
	d.mu.Unlock()
}

// Enqueue admits call immediately if the global and per-host caps allow it,
// otherwise queues it for later promotion. call.runner.Run(call) executes on its
// own goroutine once admitted; Run is responsible for calling Finished.
func (d *Dispatcher) Enqueue(call *Call, runner Runner) {
	call.runner = runner

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		if call.callback != nil {
			call.callback(nil, ErrDispatcherClosed)
		}
		return
	}

	if call.IsCancelled() {
		d.mu.Unlock()
		if call.callback != nil {
			call.callback(nil, call.request.Context().Err())
		}
		return
	}

	if len(d.runningAsync) < d.maxRequests && d.runningCallsForHostLocked(call.Host()) < d.maxRequestsPerHost {
		d.runningAsync = append(d.runningAsync, call)
		d.reportStateLocked()
		d.mu.Unlock()
		d.run(call)
		return
	}

	d.ready = append(d.ready, call)
	d.reportStateLocked()
	d.mu.Unlock()
}

// Executed registers a synchronous call for bookkeeping (Cancel-by-tag,
// RunningCallsCount) without going through admission control – synchronous calls
// are driven directly by the caller's goroutine and were never subject to the
// Dispatcher's concurrency caps in OkHttp either.
func (d *Dispatcher) Executed(call *Call) {
	d.mu.Lock()
	d.runningSync = append(d.runningSync, call)
	d.reportStateLocked()
	d.mu.Unlock()
}

// Finished must be called exactly once by whatever ran an async call, in a defer
// so it runs even on panic/cancellation. It removes the call from the running
// set, freeing its admission slot, and promotes newly eligible ready calls.
func (d *Dispatcher) Finished(call *Call) {
	d.mu.Lock()
	removeCall(&d.runningAsync, call)
	promotable := d.promoteCallsLocked()
	idle := d.isIdleLocked()
	d.reportStateLocked()
	d.mu.Unlock()

	d.runAll(promotable)
	if idle {
		d.fireIdle()
	}
}

// FinishedSync must be called exactly once by whatever ran a synchronous call.
func (d *Dispatcher) FinishedSync(call *Call) {
	d.mu.Lock()
	removeCall(&d.runningSync, call)
	idle := d.isIdleLocked()
	d.reportStateLocked()
	d.mu.Unlock()

	if idle {
		d.fireIdle()
	}
}

// Cancel cancels every ready, running-async, and running-sync call whose tag
// equals tag. Cancellation is cooperative: a ready call is marked cancelled and
// skipped at its next promotion attempt (rather than promoted and left to fail),
// and a running call's request context is cancelled so its exchange can observe
// it at the next cancellation-aware checkpoint.
func (d *Dispatcher) Cancel(tag interface{}) {
	if tag == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, call := range d.ready {
		if call.Tag() == tag {
			call.Cancel()
		}
	}
	for _, call := range d.runningAsync {
		if call.Tag() == tag {
			call.Cancel()
		}
	}
	for _, call := range d.runningSync {
		if call.Tag() == tag {
			call.Cancel()
		}
	}
}

// Close stops admitting new calls; calls already running are left to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	rejected := d.ready
	d.ready = nil
	d.mu.Unlock()

	for _, call := range rejected {
		if call.callback != nil {
			call.callback(nil, ErrDispatcherClosed)
		}
	}
}

// RunningCallsCount returns the number of calls currently running, sync + async.
func (d *Dispatcher) RunningCallsCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runningAsync) + len(d.runningSync)
}

// QueuedCallsCount returns the number of calls waiting for admission.
func (d *Dispatcher) QueuedCallsCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ready)
}

func (d *Dispatcher) run(call *Call) {
	go call.runner.Run(call)
}

func (d *Dispatcher) runAll(calls []*Call) {
	for _, call := range calls {
		d.run(call)
	}
}

func (d *Dispatcher) fireIdle() {
	d.mu.Lock()
	cb := d.idleCallback
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (d *Dispatcher) isIdleLocked() bool {
	return len(d.runningAsync) == 0 && len(d.runningSync) == 0
}

func (d *Dispatcher) runningCallsForHostLocked(host string) int {
	n := 0
	for _, call := range d.runningAsync {
		if call.Host() == host {
			n++
		}
	}
	return n
}

// promoteCallsLocked scans the ready queue for calls that now fit under the
// global and per-host caps, admits them into runningAsync, and returns them for
// the caller to run outside the lock. It must be called with d.mu held.
//
// A cancelled ready call is dropped outright rather than promoted and left to
// fail on execution (OkHttp's own behavior): once cancelled, a queued call can
// never do useful work, so promoting it would only waste an admission slot.
func (d *Dispatcher) promoteCallsLocked() []*Call {
	var toRun []*Call
	remaining := make([]*Call, 0, len(d.ready))

	for i := 0; i < len(d.ready); i++ {
		call := d.ready[i]

		if call.IsCancelled() {
			if call.callback != nil {
				cb := call.callback
				go cb(nil, call.request.Context().Err())
			}
			continue
		}

		if len(d.runningAsync) >= d.maxRequests {
			// Global cap reached: this and every later ready call stay queued.
			remaining = append(remaining, d.ready[i:]...)
			break
		}

		if d.runningCallsForHostLocked(call.Host()) >= d.maxRequestsPerHost {
			remaining = append(remaining, call)
			continue
		}

		d.runningAsync = append(d.runningAsync, call)
		toRun = append(toRun, call)
	}

	d.ready = remaining
	return toRun
}

func (d *Dispatcher) reportStateLocked() {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordDispatcherState(len(d.ready), len(d.runningAsync), len(d.runningSync))
}

func removeCall(list *[]*Call, call *Call) {
	s := *list
	for i, c := range s {
		if c == call {
			*list = append(s[:i], s[i+1:]...)
			return
		}
	}
	panic("httpcore: dispatcher bookkeeping lost a call; Finished called twice or for an unknown call")
}
