package httpcore

import (
	"net/http"
	"sync"
	"testing"
	"time"
)

func newTestCall(t *testing.T, host string) *Call {
	req, err := http.NewRequest(http.MethodGet, "http://"+host+"/", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return NewCall(req)
}

type blockingRunner struct {
	release chan struct{}
	started chan struct{}
	d       *Dispatcher
}

func (r *blockingRunner) Run(call *Call) {
	defer r.d.Finished(call)
	close(r.started)
	<-r.release
}

func TestDispatcherEnqueueAdmitsUnderCap(t *testing.T) {
	d := NewDispatcher()
	var wg sync.WaitGroup
	wg.Add(1)

	call := newTestCall(t, "example.com")
	d.Enqueue(call, RunnerFunc(func(c *Call) {
		defer d.Finished(c)
		wg.Done()
	}))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("call was never run")
	}
}

func TestDispatcherPerHostCapQueues(t *testing.T) {
	d := NewDispatcher()
	if err := d.SetMaxRequestsPerHost(1); err != nil {
		t.Fatalf("SetMaxRequestsPerHost: %v", err)
	}

	r1 := &blockingRunner{release: make(chan struct{}), started: make(chan struct{}), d: d}
	call1 := newTestCall(t, "example.com")
	d.Enqueue(call1, r1)

	select {
	case <-r1.started:
	case <-time.After(time.Second):
		t.Fatal("first call never started")
	}

	call2 := newTestCall(t, "example.com")
	d.Enqueue(call2, RunnerFunc(func(c *Call) { d.Finished(c) }))

	if d.QueuedCallsCount() != 1 {
		t.Errorf("expected call2 to queue behind the per-host cap, queued=%d", d.QueuedCallsCount())
	}

	close(r1.release)

	time.Sleep(20 * time.Millisecond)
	if d.QueuedCallsCount() != 0 {
		t.Errorf("expected call2 to be promoted once call1 finished, queued=%d", d.QueuedCallsCount())
	}
}

func TestDispatcherCancelReadyCallSkipsPromotion(t *testing.T) {
	d := NewDispatcher()
	if err := d.SetMaxRequests(1); err != nil {
		t.Fatalf("SetMaxRequests: %v", err)
	}

	r1 := &blockingRunner{release: make(chan struct{}), started: make(chan struct{}), d: d}
	call1 := newTestCall(t, "a.example.com")
	d.Enqueue(call1, r1)
	<-r1.started

	var ranCallback bool
	var mu sync.Mutex
	call2 := NewCall(call1.request.Clone(call1.request.Context()), WithTag("cancel-me"))
	call2.callback = func(resp *http.Response, err error) {
		mu.Lock()
		ranCallback = true
		mu.Unlock()
	}
	d.Enqueue(call2, RunnerFunc(func(c *Call) { d.Finished(c) }))

	d.Cancel("cancel-me")
	close(r1.release)

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if !ranCallback {
		t.Error("expected cancelled ready call's callback to fire with an error instead of being promoted")
	}
	if d.RunningCallsCount() != 0 {
		t.Errorf("expected no calls running after cancellation, got %d", d.RunningCallsCount())
	}
}

func TestDispatcherFinishedSyncDoesNotTouchAdmission(t *testing.T) {
	d := NewDispatcher()
	call := newTestCall(t, "example.com")
	d.Executed(call)
	if d.RunningCallsCount() != 1 {
		t.Fatalf("expected 1 running call, got %d", d.RunningCallsCount())
	}
	d.FinishedSync(call)
	if d.RunningCallsCount() != 0 {
		t.Errorf("expected 0 running calls after FinishedSync, got %d", d.RunningCallsCount())
	}
}

func TestDispatcherCloseRejectsQueuedCalls(t *testing.T) {
	d := NewDispatcher()
	if err := d.SetMaxRequests(1); err != nil {
		t.Fatalf("SetMaxRequests: %v", err)
	}

	r1 := &blockingRunner{release: make(chan struct{}), started: make(chan struct{}), d: d}
	call1 := newTestCall(t, "example.com")
	d.Enqueue(call1, r1)
	<-r1.started
	defer close(r1.release)

	var gotErr error
	call2 := newTestCall(t, "example.com")
	call2.callback = func(resp *http.Response, err error) { gotErr = err }
	d.Enqueue(call2, RunnerFunc(func(c *Call) { d.Finished(c) }))

	d.Close()

	if gotErr != ErrDispatcherClosed {
		t.Errorf("expected ErrDispatcherClosed for rejected queued call, got %v", gotErr)
	}
}

func TestDispatcherSetMaxRequestsResizesInPlaceWhileCallsAreRunning(t *testing.T) {
	d := NewDispatcher()
	if err := d.SetMaxRequests(1); err != nil {
		t.Fatalf("SetMaxRequests: %v", err)
	}

	r1 := &blockingRunner{release: make(chan struct{}), started: make(chan struct{}), d: d}
	call1 := newTestCall(t, "a.example.com")
	d.Enqueue(call1, r1)
	<-r1.started

	// call2 queues behind the cap of 1.
	r2 := &blockingRunner{release: make(chan struct{}), started: make(chan struct{}), d: d}
	defer close(r2.release)
	call2 := newTestCall(t, "b.example.com")
	d.Enqueue(call2, r2)
	if d.QueuedCallsCount() != 1 {
		t.Fatalf("expected call2 to queue under the cap of 1, queued=%d", d.QueuedCallsCount())
	}

	// Raising the cap while call1 is still running must not admit more than
	// the new cap allows on top of what's already running.
	if err := d.SetMaxRequests(2); err != nil {
		t.Fatalf("SetMaxRequests: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := d.RunningCallsCount(); got != 2 {
		t.Fatalf("expected call2 promoted once the cap allows it, running=%d", got)
	}

	// call1 finishing must leave only call2 running, and must not push
	// running above the cap.
	close(r1.release)
	time.Sleep(20 * time.Millisecond)
	if got := d.RunningCallsCount(); got != 1 {
		t.Errorf("expected exactly call2 left running, got %d", got)
	}
}

func TestDispatcherSetMaxRequestsLoweringDoesNotEvictRunningCalls(t *testing.T) {
	d := NewDispatcher()
	if err := d.SetMaxRequests(2); err != nil {
		t.Fatalf("SetMaxRequests: %v", err)
	}

	r1 := &blockingRunner{release: make(chan struct{}), started: make(chan struct{}), d: d}
	r2 := &blockingRunner{release: make(chan struct{}), started: make(chan struct{}), d: d}
	call1 := newTestCall(t, "a.example.com")
	call2 := newTestCall(t, "b.example.com")
	d.Enqueue(call1, r1)
	d.Enqueue(call2, r2)
	<-r1.started
	<-r2.started

	if err := d.SetMaxRequests(1); err != nil {
		t.Fatalf("SetMaxRequests: %v", err)
	}
	if got := d.RunningCallsCount(); got != 2 {
		t.Errorf("expected both already-running calls to be left alone, got %d", got)
	}

	call3 := newTestCall(t, "c.example.com")
	d.Enqueue(call3, RunnerFunc(func(c *Call) { d.Finished(c) }))
	if d.QueuedCallsCount() != 1 {
		t.Errorf("expected call3 to queue under the lowered cap, queued=%d", d.QueuedCallsCount())
	}

	close(r1.release)
	close(r2.release)
}

// RunnerFunc adapts a function to Runner, kept local to tests to avoid
// widening the package's exported surface for something only tests need.
type RunnerFunc func(*Call)

func (f RunnerFunc) Run(call *Call) { f(call) }
