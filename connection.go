package lcbook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchbaselabs/lcbook/internal/log"
	"github.com/couchbaselabs/lcbook/ioloop"
)

// connPhase is the explicit lifecycle state of a Connection, carried as a
// real enum rather than inferred from a closed bool plus queue contents.
type connPhase int

const (
	phaseDialing connPhase = iota
	phaseAuthenticating
	phaseReady
	phaseDraining
	phaseDead
)

// NotMyVBucketHook lets the Router intercept a NOT_MY_VBUCKET response
// before it reaches the operation's own callback, so it can re-route and
// retry instead of failing the caller. sourceHost is the node that sent
// the redirect, used to resolve any "$HOST" placeholder in a piggy-backed
// config.
type NotMyVBucketHook func(op *Operation, resp *Packet, sourceHost string)

// Connection is one TCP connection to one node, running the binary
// protocol. All mutation of its pending-op state happens from within its
// own readable-event callback on the ioloop goroutine, except Cancel
// paths which may be called from any application goroutine and therefore
// still take an explicit lock.
type Connection struct {
	address string
	sock    ioloop.Socket
	event   ioloop.Event
	decoder *FrameDecoder

	log log.Logger

	opList      *opMap
	nextOpaque  uint32
	compression compressionConfig
	snappy      uint32 // atomic bool: server negotiated FeatureSnappy

	mu     sync.Mutex
	phase  connPhase
	closed bool

	onNotMyVBucket NotMyVBucketHook
	onDead         func(*Connection, error)
}

// dialConnection opens a TCP connection through provider and starts its
// read loop. The returned Connection starts in phaseDialing; callers
// drive it through authentication via ExecSASLAuth/ExecSelectBucket before
// marking it ready.
func dialConnection(provider ioloop.ReadinessProvider, address string, timeout time.Duration, logger log.Logger) (*Connection, error) {
	sock, err := provider.Dial("tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nop
	}

	c := &Connection{
		address:     address,
		sock:        sock,
		decoder:     newFrameDecoder(),
		log:         logger,
		opList:      newOpMap(),
		compression: defaultCompressionConfig(),
		phase:       phaseDialing,
	}

	c.event = provider.CreateEvent(sock)
	c.event.Update(ioloop.Read, c.onReadable)

	return c, nil
}

// Address returns the node's host:port.
func (c *Connection) Address() string { return c.address }

func (c *Connection) setPhase(p connPhase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Connection) Phase() connPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// SetSnappyEnabled records whether the HELLO handshake negotiated Snappy
// value compression with the server.
func (c *Connection) SetSnappyEnabled(enabled bool) {
	var v uint32
	if enabled {
		v = 1
	}
	atomic.StoreUint32(&c.snappy, v)
}

func (c *Connection) snappyEnabled() bool {
	return atomic.LoadUint32(&c.snappy) != 0
}

// takeRequestOwnership registers op in this connection's opMap, refusing
// if the connection is already dead or the op was cancelled in the
// meantime. Mirrors memdClient.takeRequestOwnership.
func (c *Connection) takeRequestOwnership(op *Operation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if op.isCancelled() {
		return false
	}

	op.waitingIn = c
	c.opList.Add(op)
	return true
}

// CancelRequest removes op from this connection's opMap if it is still
// there. Safe to call from any goroutine.
func (c *Connection) CancelRequest(op *Operation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	removed := c.opList.Remove(op)
	if removed {
		op.waitingIn = nil
	}
	return removed
}

// SendRequest assigns an opaque, opportunistically compresses the value,
// and writes the packet. Grounded on memdClient.SendRequest.
func (c *Connection) SendRequest(op *Operation) error {
	op.Opaque = atomic.AddUint32(&c.nextOpaque, 1)
	if !c.takeRequestOwnership(op) {
		return ErrCancelled
	}

	op.Magic = reqMagic
	op.dispatchTime = time.Now()

	p := maybeCompress(op.Packet, c.compression, c.snappyEnabled())
	op.Packet = p

	buf := p.Encode()
	if _, err := c.sock.Send(buf); err != nil {
		c.log.Debugf("lcbook: write failure to %s: %v", c.address, err)
		c.CancelRequest(op)
		return err
	}

	op.tracer.startNet()
	c.log.Debugf("lcbook: dispatched op=0x%x opaque=%d to %s", op.Opcode, op.Opaque, c.address)
	return nil
}

// ExecSASLAuth issues a SASL auth step and blocks the calling goroutine
// (not the ioloop goroutine) until the response arrives. Used only during
// the one-time authenticating phase, never on the operation hot path.
func (c *Connection) ExecSASLAuth(mechanism, data []byte) ([]byte, error) {
	resp, err := c.execSync(Packet{Opcode: cmdSASLAuth, Key: mechanism, Value: data})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// ExecSelectBucket issues SELECT_BUCKET and waits for the result.
func (c *Connection) ExecSelectBucket(bucket []byte) error {
	_, err := c.execSync(Packet{Opcode: cmdSelectBucket, Key: bucket})
	return err
}

// ExecHello negotiates protocol features and waits for the result.
func (c *Connection) ExecHello(userAgent []byte, features []HelloFeature) ([]HelloFeature, error) {
	extras := make([]byte, 0, len(features)*2)
	for _, f := range features {
		extras = append(extras, byte(f>>8), byte(f))
	}
	resp, err := c.execSync(Packet{Opcode: cmdHello, Key: userAgent, Value: extras})
	if err != nil {
		return nil, err
	}
	var negotiated []HelloFeature
	for i := 0; i+1 < len(resp.Value); i += 2 {
		negotiated = append(negotiated, HelloFeature(uint16(resp.Value[i])<<8|uint16(resp.Value[i+1])))
	}
	return negotiated, nil
}

type syncResult struct {
	resp *Packet
	err  error
}

func (c *Connection) execSync(p Packet) (*Packet, error) {
	respCh := make(chan syncResult, 1)
	op := &Operation{
		Packet: p,
		cb: func(resp *Packet, err error) {
			respCh <- syncResult{resp, err}
		},
	}
	if err := c.SendRequest(op); err != nil {
		return nil, err
	}
	res := <-respCh
	return res.resp, res.err
}

// onReadable drains whatever bytes are currently available, feeds them to
// the frame decoder, and dispatches every completed packet, then re-arms
// itself for the next readiness notification (registrations are consumed
// the instant they fire).
func (c *Connection) onReadable(mask ioloop.EventMask) {
	if mask&ioloop.Error != 0 {
		c.fail(ErrNetwork)
		return
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := c.sock.Recv(buf)
		if n > 0 {
			pkts, decErr := c.decoder.Feed(buf[:n])
			for _, pkt := range pkts {
				c.handleResponse(pkt)
			}
			if decErr != nil {
				c.fail(decErr)
				return
			}
		}
		if err != nil {
			if err == ioloop.ErrWouldBlock {
				break
			}
			c.fail(ErrNetwork)
			return
		}
		if n == 0 {
			break
		}
	}

	c.mu.Lock()
	dead := c.closed
	c.mu.Unlock()
	if !dead {
		c.event.Update(ioloop.Read, c.onReadable)
	}
}

func (c *Connection) handleResponse(pkt *Packet) {
	if pkt.Magic != resMagic {
		return
	}

	op := c.opList.FindAndMaybeRemove(pkt.Opaque)
	if op == nil {
		c.log.Debugf("lcbook: orphaned response opaque=%d from %s", pkt.Opaque, c.address)
		return
	}
	op.waitingIn = nil
	op.tracer.stopNet(pkt.Opaque, c.sock.LocalAddr(), c.sock.RemoteAddr())

	if err := maybeDecompress(pkt); err != nil {
		c.log.Debugf("lcbook: failed to decompress value from %s: %v", c.address, err)
		op.tryComplete(nil, err)
		return
	}

	var err error
	if pkt.Status != StatusSuccess {
		if sentinel, ok := findMemdError(pkt.Status); ok {
			err = sentinel
		} else {
			err = newSimpleError(pkt.Status)
		}
	}

	if pkt.Status == StatusNotMyVBucket && c.onNotMyVBucket != nil {
		c.onNotMyVBucket(op, pkt, c.address)
		return
	}

	op.tryComplete(pkt, err)
}

// fail marks the connection dead, drains every pending op with
// ErrNetwork, and notifies the owner (typically the pipeline that dialed
// it) so it can reconnect or fail the node over.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.phase = phaseDead
	c.mu.Unlock()

	c.event.Destroy()
	c.sock.Close()

	c.opList.Drain(func(op *Operation) {
		op.waitingIn = nil
		op.tryComplete(nil, err)
	})

	if c.onDead != nil {
		c.onDead(c, err)
	}
}

// Close gracefully tears the connection down, same semantics as fail but
// with ErrShutdown for whatever was still in flight.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.phase = phaseDead
	c.mu.Unlock()

	c.event.Destroy()
	err := c.sock.Close()

	c.opList.Drain(func(op *Operation) {
		op.waitingIn = nil
		op.tryComplete(nil, ErrShutdown)
	})

	return err
}
