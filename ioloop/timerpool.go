package ioloop

import (
	"sync"
	"time"
)

// goTimer is the GoProvider's Timer implementation, built on time.AfterFunc
// rather than a hand-pooled time.Timer: a pooled timer's channel can still
// have a stale waiter goroutine blocked on it from a previous generation,
// and Go provides no way to detach a goroutine from a channel read early.
// AfterFunc sidesteps the problem since it never exposes a channel for
// callers to race on, and the runtime's own timer heap already does the
// pooling that would have been reinvented here.
//
// Update/Delete still guarantee synchronous cancellation — once Delete
// returns, the callback is guaranteed not to fire — via a generation
// counter checked both when the AfterFunc goroutine wakes and again when
// the posted closure actually runs on the provider's task queue. This
// holds because every caller in this codebase arms/disarms timers from
// within provider task callbacks, so Delete and a late-firing timer's
// posted closure are always ordered by the same single-consumer task
// queue rather than racing each other.
type goTimer struct {
	provider *GoProvider

	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
}

func (t *goTimer) Update(interval time.Duration, cb TimerCallback) {
	t.mu.Lock()
	t.gen++
	myGen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(interval, func() {
		t.mu.Lock()
		stale := myGen != t.gen
		t.mu.Unlock()
		if stale {
			return
		}
		t.provider.post(func() {
			t.mu.Lock()
			current := myGen == t.gen
			t.mu.Unlock()
			if current && cb != nil {
				cb()
			}
		})
	})
	t.mu.Unlock()
}

func (t *goTimer) Delete() {
	t.mu.Lock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}

func (t *goTimer) Destroy() { t.Delete() }
