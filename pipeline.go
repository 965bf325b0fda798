package lcbook

import (
	"fmt"
	"sync"
	"time"

	"github.com/couchbaselabs/lcbook/internal/log"
)

// pipeline is the per-node queue a connMux hands out for a given
// vbucket-map index: it owns the live Connection to that node (once
// dialed) and a FIFO of operations still waiting for one.
type pipeline struct {
	address string
	dialFn  func(address string) (*Connection, error)
	log     log.Logger

	onNotMyVBucket NotMyVBucketHook

	mu        sync.Mutex
	conn      *Connection
	queue     []*Operation
	closed    bool
	failCount int
}

// newPipeline returns a pipeline for address that has not yet dialed a
// connection; StartClients does that.
func newPipeline(address string, dialFn func(string) (*Connection, error), logger log.Logger, onNotMyVBucket NotMyVBucketHook) *pipeline {
	if logger == nil {
		logger = log.Nop
	}
	return &pipeline{
		address:        address,
		dialFn:         dialFn,
		log:            logger,
		onNotMyVBucket: onNotMyVBucket,
	}
}

// newDeadPipeline returns a pipeline with no address that immediately
// fails every request handed to it, used as connMux's out-of-range
// fallback.
func newDeadPipeline() *pipeline {
	return &pipeline{closed: true}
}

func (p *pipeline) Address() string { return p.address }

// currentConn returns the pipeline's live connection, or nil if it is
// still dialing or queueing.
func (p *pipeline) currentConn() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// StartClients dials the node asynchronously and, once connected, drains
// anything that queued up while dialing was in flight. A redial following a
// prior failure waits out reconnectBackoff(failCount) first (capped
// exponential backoff).
func (p *pipeline) StartClients() {
	if p.dialFn == nil {
		return
	}

	p.mu.Lock()
	delay := reconnectBackoff(p.failCount)
	attempted := p.failCount > 0
	p.mu.Unlock()

	go func() {
		if attempted {
			time.Sleep(delay)
		}

		conn, err := p.dialFn(p.address)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			p.failCount++
			p.log.Warnf("lcbook: failed to dial %s: %v", p.address, err)
			p.mu.Unlock()
			p.StartClients()
			return
		}

		p.failCount = 0
		conn.onNotMyVBucket = p.onNotMyVBucket
		conn.onDead = p.onConnDead
		p.conn = conn
		queued := p.queue
		p.queue = nil
		p.mu.Unlock()

		for _, op := range queued {
			if err := conn.SendRequest(op); err != nil {
				op.tryComplete(nil, err)
			}
		}
	}()
}

func (p *pipeline) onConnDead(conn *Connection, err error) {
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	if err != nil {
		p.failCount++
	}
	closed := p.closed
	p.mu.Unlock()

	if !closed {
		p.StartClients()
	}
}

// SendRequest dispatches op immediately if a ready connection is
// available, otherwise queues it until one is.
func (p *pipeline) SendRequest(op *Operation) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrCliInternalError
	}
	conn := p.conn
	if conn == nil {
		op.queuedWith = p
		p.queue = append(p.queue, op)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return conn.SendRequest(op)
}

// RequeueRequest puts op back at the front of this pipeline's queue,
// used when a connection dies mid-flight or a NOT_MY_VBUCKET response
// requires a retry against a (possibly different) pipeline.
func (p *pipeline) RequeueRequest(op *Operation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		go op.tryComplete(nil, ErrCliInternalError)
		return
	}
	op.queuedWith = p
	p.queue = append([]*Operation{op}, p.queue...)
}

func (p *pipeline) remove(op *Operation) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, queued := range p.queue {
		if queued == op {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Takeover steals old's live connection and queued operations, used when
// a topology refresh produces a new pipeline for an address that already
// had one under the previous mux.
func (p *pipeline) Takeover(old *pipeline) {
	old.mu.Lock()
	conn := old.conn
	queue := old.queue
	old.conn = nil
	old.queue = nil
	old.mu.Unlock()

	p.mu.Lock()
	if conn != nil {
		conn.onNotMyVBucket = p.onNotMyVBucket
		conn.onDead = p.onConnDead
		p.conn = conn
	}
	p.queue = append(p.queue, queue...)
	for _, op := range p.queue {
		op.queuedWith = p
	}
	p.mu.Unlock()
}

// Drain removes every queued and in-flight operation, invoking cb for
// each. Used on shutdown or when abandoning a pipeline during takeover.
func (p *pipeline) Drain(cb func(*Operation)) {
	p.mu.Lock()
	queue := p.queue
	p.queue = nil
	conn := p.conn
	p.mu.Unlock()

	for _, op := range queue {
		cb(op)
	}
	if conn != nil {
		conn.opList.Drain(cb)
	}
}

// Close tears down the pipeline's connection (if any) and fails anything
// still queued with ErrShutdown.
func (p *pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.conn = nil
	queue := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, op := range queue {
		op.tryComplete(nil, ErrShutdown)
	}

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (p *pipeline) debugString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("%s connected=%v queued=%d", p.address, p.conn != nil, len(p.queue))
}
