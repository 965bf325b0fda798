package lcbook

import (
	"sync"
	"sync/atomic"
	"time"
)

// timerPool recycles *time.Timer objects across per-op deadline arms.
// Acquire takes a duration and returns an armed timer; Release takes the
// timer back plus whether its channel was already drained.
var timerPool = sync.Pool{
	New: func() interface{} { return time.NewTimer(time.Hour) },
}

// AcquireTimer returns a timer from the pool armed to fire after d.
func AcquireTimer(d time.Duration) *time.Timer {
	t := timerPool.Get().(*time.Timer)
	t.Reset(d)
	return t
}

// ReleaseTimer returns t to the pool. wasRead must be true if the caller
// already consumed a fire off t.C (e.g. via a select case), false if the
// timer was stopped before firing and its channel may still hold a pending
// value that needs draining first.
func ReleaseTimer(t *time.Timer, wasRead bool) {
	if !wasRead && !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}

const (
	// minReconnectBackoff/maxReconnectBackoff bound a pipeline's redial
	// delay after a connection dies: a capped exponential schedule.
	minReconnectBackoff = 50 * time.Millisecond
	maxReconnectBackoff = 5 * time.Second
)

// reconnectBackoff returns the delay before the (attempt+1)th consecutive
// redial of the same node, doubling from minReconnectBackoff and capping at
// maxReconnectBackoff.
func reconnectBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return minReconnectBackoff
	}
	if attempt > 10 { // 50ms<<10 already exceeds the cap; avoid shift overflow
		return maxReconnectBackoff
	}
	d := minReconnectBackoff << uint(attempt)
	if d > maxReconnectBackoff {
		return maxReconnectBackoff
	}
	return d
}

// Scheduler owns two timing concerns on behalf of the Handle: arming each
// Operation's deadline timer, and counting network-class errors toward a
// forced topology refresh. A count of such errors within a rolling window
// triggers one refresh attempt, then the window resets.
type Scheduler struct {
	opTimeout time.Duration
	onRefresh func()

	confErrThresh   uint32
	confDelayThresh time.Duration

	mu          sync.Mutex
	errCount    uint32
	windowStart time.Time

	refreshing uint32
}

// NewScheduler builds a Scheduler. opTimeout is the default per-op deadline
// used when Arm is called with timeout<=0. onRefresh is invoked (on its own
// goroutine, at most once concurrently) once confErrThresh network-class
// errors land within a confDelayThresh window.
func NewScheduler(opTimeout time.Duration, confErrThresh uint32, confDelayThresh time.Duration, onRefresh func()) *Scheduler {
	return &Scheduler{
		opTimeout:       opTimeout,
		onRefresh:       onRefresh,
		confErrThresh:   confErrThresh,
		confDelayThresh: confDelayThresh,
	}
}

// Arm schedules op to complete with ErrTimeout if it has not already
// completed by timeout (or the Scheduler's default, if timeout<=0). On
// fire the op is removed from its connection's pending queue — that
// removal is Operation.abort's job, shared with Cancel.
//
// This uses time.AfterFunc rather than the AcquireTimer/ReleaseTimer pool
// above: a pooled timer needs a dedicated goroutine blocked on its C
// channel, and if the op completes via its normal response first, Stopping
// that timer leaves the goroutine parked on a channel that will now never
// fire — the same reuse hazard ioloop/timerpool.go guards against.
// AfterFunc's callback only runs a goroutine at actual fire time, so
// op.timer.Stop() in abort() cleanly cancels it.
func (s *Scheduler) Arm(op *Operation, timeout time.Duration) {
	if timeout <= 0 {
		timeout = s.opTimeout
	}
	op.deadline = time.Now().Add(timeout)
	op.timer = time.AfterFunc(timeout, func() { op.abort(ErrTimeout) })
}

// NoteCompletion feeds an Operation's terminal error into the per-Handle
// error counter, triggering a refresh once confErrThresh network-class
// failures land inside a confDelayThresh window. Non-network errors (a
// KEY_NOT_FOUND, say) don't count — they say nothing about whether the
// topology is stale.
func (s *Scheduler) NoteCompletion(err error) {
	if err == nil || !ErrorKindOf(err).Has(KindNetwork) {
		return
	}

	s.mu.Lock()
	now := time.Now()
	if s.windowStart.IsZero() || now.Sub(s.windowStart) > s.confDelayThresh {
		s.windowStart = now
		s.errCount = 0
	}
	s.errCount++
	trigger := s.confErrThresh != 0 && s.errCount >= s.confErrThresh
	if trigger {
		s.errCount = 0
		s.windowStart = time.Time{}
	}
	s.mu.Unlock()

	if trigger && s.onRefresh != nil && atomic.CompareAndSwapUint32(&s.refreshing, 0, 1) {
		go func() {
			defer atomic.StoreUint32(&s.refreshing, 0)
			s.onRefresh()
		}()
	}
}

// ResetErrors clears the rolling error window. NewHandle calls it once the
// initial bootstrap has installed a configuration; configurations installed
// later by RefreshNow or the background loopers do not call it (a triggered
// refresh already clears the count in NoteCompletion when it fires).
func (s *Scheduler) ResetErrors() {
	s.mu.Lock()
	s.errCount = 0
	s.windowStart = time.Time{}
	s.mu.Unlock()
}
