package ioloop

import (
	"errors"
	"net"
	"sync"
	"time"
)

// ErrWouldBlock is returned by Recv/RecvV when no bytes are currently
// buffered for a socket.
var ErrWouldBlock = errors.New("ioloop: would block")

// GoProvider is the built-in ReadinessProvider for the host platform. It
// has no OS-level event notification to drive (Go does not expose epoll/
// kqueue registration directly), so it takes the idiomatic-Go route: one
// goroutine per socket blocks in conn.Read and hands completed chunks to a
// single serialized task queue, which is what Run drains — one blocking
// reader goroutine feeding a channel, one consumer goroutine draining it,
// generalized into a reusable Provider rather than baked into the
// connection type.
type GoProvider struct {
	tasks    chan func()
	stop     chan struct{}
	stopOnce sync.Once
}

// New returns a GoProvider ready to Dial and Run.
func New() *GoProvider {
	return &GoProvider{
		tasks: make(chan func(), 1024),
		stop:  make(chan struct{}),
	}
}

func (p *GoProvider) post(fn func()) {
	select {
	case p.tasks <- fn:
	case <-p.stop:
	}
}

// Run drains the task queue, invoking each registered callback exactly
// once per firing, until Stop is called. All core state mutation happens
// from inside these callbacks, which is what keeps the core single-
// threaded-cooperative even though socket I/O itself happens on helper
// goroutines.
func (p *GoProvider) Run() {
	for {
		select {
		case fn := <-p.tasks:
			fn()
		case <-p.stop:
			return
		}
	}
}

// Stop ends Run. Idempotent.
func (p *GoProvider) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Dial opens a TCP connection and starts its background reader goroutine.
func (p *GoProvider) Dial(network, address string, timeout time.Duration) (Socket, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, err
	}
	s := &netSocket{
		conn:     conn,
		provider: p,
		remote:   address,
	}
	if la := conn.LocalAddr(); la != nil {
		s.local = la.String()
	}
	s.startReader()
	return s, nil
}

// CreateEvent registers sock for readiness notification. sock must have
// come from this Provider's Dial.
func (p *GoProvider) CreateEvent(sock Socket) Event {
	ns, ok := sock.(*netSocket)
	if !ok {
		panic("ioloop: GoProvider.CreateEvent called with foreign Socket")
	}
	ev := &goEvent{sock: ns}
	ns.mu.Lock()
	ns.onReadable = ev.fire
	ns.mu.Unlock()
	return ev
}

// CreateTimer returns a Timer whose callbacks are dispatched through this
// Provider's task queue, same as event callbacks.
func (p *GoProvider) CreateTimer() Timer {
	return &goTimer{provider: p}
}

// netSocket is the GoProvider's Socket implementation: a net.Conn plus a
// byte queue fed by a dedicated reader goroutine, so Recv can be
// non-blocking.
type netSocket struct {
	conn     net.Conn
	provider *GoProvider
	local    string
	remote   string

	mu         sync.Mutex
	readBuf    []byte
	readErr    error
	onReadable func()
}

func (s *netSocket) startReader() {
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := s.conn.Read(buf)
			s.mu.Lock()
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				s.readBuf = append(s.readBuf, chunk...)
			}
			if err != nil {
				s.readErr = err
			}
			notify := s.onReadable
			s.mu.Unlock()

			if notify != nil {
				notify()
			}
			if err != nil {
				return
			}
		}
	}()
}

func (s *netSocket) Recv(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.readBuf) == 0 {
		if s.readErr != nil {
			return 0, s.readErr
		}
		return 0, ErrWouldBlock
	}

	n := copy(buf, s.readBuf)
	s.readBuf = s.readBuf[n:]
	return n, nil
}

func (s *netSocket) RecvV(bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := s.Recv(b)
		total += n
		if err != nil {
			return total, err
		}
		if n < len(b) {
			break
		}
	}
	return total, nil
}

func (s *netSocket) Send(buf []byte) (int, error) {
	return s.conn.Write(buf)
}

func (s *netSocket) SendV(bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := s.conn.Write(b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *netSocket) Close() error { return s.conn.Close() }

func (s *netSocket) LocalAddr() string  { return s.local }
func (s *netSocket) RemoteAddr() string { return s.remote }

// goEvent is the GoProvider's Event implementation.
type goEvent struct {
	sock *netSocket

	mu    sync.Mutex
	cb    EventCallback
	mask  EventMask
	armed bool
}

// Update arms the registration; per the I/O Provider contract it is
// consumed the instant it fires, so a callback that wants further
// notifications must call Update again.
func (e *goEvent) Update(mask EventMask, cb EventCallback) {
	e.mu.Lock()
	e.mask = mask
	e.cb = cb
	e.armed = true
	e.mu.Unlock()

	if mask&Read == 0 {
		return
	}

	e.sock.mu.Lock()
	hasData := len(e.sock.readBuf) > 0 || e.sock.readErr != nil
	e.sock.mu.Unlock()
	if hasData {
		e.fire()
	}
}

func (e *goEvent) fire() {
	e.mu.Lock()
	if !e.armed {
		e.mu.Unlock()
		return
	}
	cb := e.cb
	mask := e.mask
	e.armed = false
	e.mu.Unlock()

	if cb == nil {
		return
	}

	fired := mask & Read
	e.sock.mu.Lock()
	if e.sock.readErr != nil {
		fired |= Error
	}
	e.sock.mu.Unlock()

	e.sock.provider.post(func() { cb(fired) })
}

func (e *goEvent) Delete() {
	e.mu.Lock()
	e.armed = false
	e.mu.Unlock()
}

func (e *goEvent) Destroy() {
	e.Delete()
	e.sock.mu.Lock()
	e.sock.onReadable = nil
	e.sock.mu.Unlock()
}
