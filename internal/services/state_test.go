package services

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestProcessInfoCancelContext(t *testing.T) {
	pi := &ProcessInfo{JobType: "download"}

	// No cancel installed yet: must be a safe no-op.
	pi.CancelContext()

	var fired atomic.Int32
	pi.SetCancelFunc(func() { fired.Add(1) })
	pi.CancelContext()
	pi.CancelContext()
	if fired.Load() != 2 {
		t.Errorf("cancel func fired %d times, want 2", fired.Load())
	}
}

// The cancel func for a queued download is only installed once the scheduler
// starts the task, after the ProcessInfo is visible to the cancel endpoint
// and session cleanup. Installing and invoking from different goroutines has
// to be safe.
func TestProcessInfoConcurrentCancel(t *testing.T) {
	pi := &ProcessInfo{JobType: "download"}
	var fired atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			pi.SetCancelFunc(func() { fired.Add(1) })
		}()
		go func() {
			defer wg.Done()
			pi.CancelContext()
		}()
		go func() {
			defer wg.Done()
			pi.SetCancelled(true)
			_ = pi.IsCancelled()
		}()
	}
	wg.Wait()

	pi.CancelContext()
	if fired.Load() == 0 {
		t.Error("installed cancel func never fired")
	}
}
