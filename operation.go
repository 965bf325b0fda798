package lcbook

import (
	"sync"
	"sync/atomic"
	"time"
)

// OperationCallback receives the final outcome of a submitted Operation:
// the response packet (nil on failure) and any error.
type OperationCallback func(resp *Packet, err error)

// Operation is an in-flight request: the wire packet plus routing and
// bookkeeping state shared between the Router, a Connection's opMap, and
// the Scheduler's deadline timer. Submit returns one of these directly
// rather than requiring a pre-registered callback keyed by command kind.
type Operation struct {
	Packet

	// ReplicaIdx selects which replica this request targets: 0 (or
	// NoReplica, normalized to 0) addresses the active/master copy, 1..N
	// addresses successive replicas. Values below -1 are a distinct
	// direct-server-index encoding (srvIdx = -ReplicaIdx - 1), used
	// internally for requeues that must stay pinned to a specific node.
	ReplicaIdx int

	vbID uint16

	// dispatchTime records when the request was last handed to a
	// Connection, used by Router.ApplyConfig to requeue the oldest-dispatched
	// ops first after a topology change.
	dispatchTime time.Time

	deadline time.Time

	retryCount uint32

	cb OperationCallback

	// isCompleted guards against a double-fire: exactly one callback per
	// submit, none for a cancelled submit (testable property #1).
	isCompleted uint32

	mu sync.Mutex

	// queuedWith/waitingIn record which pipeline/connection currently
	// owns this op, so Cancel can pull it back out from wherever it is.
	queuedWith *pipeline
	waitingIn  *Connection

	// timer is the Scheduler's deadline timer for this op, stopped by
	// tryComplete() or abort(), whichever completes the op first, so a
	// response that beats the deadline doesn't leave a stale timer armed.
	timer *time.Timer

	// tracer carries this op's opentracing spans across retries, nil when
	// Handle.cfg.Tracer is nil. Every method on *opTracer is nil-receiver
	// safe, so call sites never need to check this for nil first.
	tracer *opTracer
}

// tryComplete invokes cb exactly once, ignoring every call after the
// first. Returns whether this call was the one that fired it.
func (op *Operation) tryComplete(resp *Packet, err error) bool {
	if atomic.SwapUint32(&op.isCompleted, 1) != 0 {
		return false
	}
	if op.timer != nil {
		op.timer.Stop()
	}
	op.tracer.stopCmd()
	if op.cb != nil {
		op.cb(resp, err)
	}
	return true
}

func (op *Operation) isCancelled() bool {
	return atomic.LoadUint32(&op.isCompleted) != 0
}

// Cancel pulls the operation out of whatever queue or connection opMap
// currently holds it and completes it with ErrCancelled. No callback fires
// if the operation has already completed.
func (op *Operation) Cancel() bool {
	return op.abort(ErrCancelled)
}

// abort pulls the operation out of whatever queue or connection opMap
// currently holds it and completes it with err, exactly once. Shared by
// Cancel (ErrCancelled) and the Scheduler's deadline timer (ErrTimeout).
func (op *Operation) abort(err error) bool {
	op.mu.Lock()
	defer op.mu.Unlock()

	if atomic.SwapUint32(&op.isCompleted, 1) != 0 {
		return false
	}

	if op.queuedWith != nil {
		op.queuedWith.remove(op)
	}
	if op.waitingIn != nil {
		op.waitingIn.CancelRequest(op)
	}
	if op.timer != nil {
		op.timer.Stop()
	}
	op.tracer.cancel()

	if op.cb != nil {
		op.cb(nil, err)
	}
	return true
}
