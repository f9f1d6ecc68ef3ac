package httpcore

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ambiyansyah-risyal/httpcore/internal/singleflight"
)

func TestSingleflightGroupCoalescesConcurrentCalls(t *testing.T) {
	g := singleflight.New()
	var callCount int64

	fn := func() (interface{}, error) {
		atomic.AddInt64(&callCount, 1)
		time.Sleep(10 * time.Millisecond)
		return 200, nil
	}

	const numCalls = 10
	var wg sync.WaitGroup
	for i := 0; i < numCalls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Do("test-key", fn)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&callCount); got != 1 {
		t.Errorf("underlying function called %d times, want 1", got)
	}
}

func TestSingleflightGroupDistinctKeysRunIndependently(t *testing.T) {
	g := singleflight.New()
	var callCount int64

	fn := func() (interface{}, error) {
		atomic.AddInt64(&callCount, 1)
		return nil, nil
	}

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Do(key, fn)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&callCount); got != 3 {
		t.Errorf("expected one call per distinct key, got %d", got)
	}
}

func BenchmarkSingleflightGroupDo(b *testing.B) {
	g := singleflight.New()
	fn := func() (interface{}, error) { return 200, nil }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = g.Do("bench-key", fn)
	}
}
