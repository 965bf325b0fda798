package ioloop

import "time"

// completionAdapter wraps any ReadinessProvider as a CompletionProvider, so
// a caller written against completion-mode semantics (submit a buffer,
// get a callback) can still run over the built-in GoProvider or any other
// readiness backend.
type completionAdapter struct {
	rp ReadinessProvider
}

// NewCompletionAdapter adapts rp to the CompletionProvider interface.
func NewCompletionAdapter(rp ReadinessProvider) CompletionProvider {
	return &completionAdapter{rp: rp}
}

func (a *completionAdapter) Dial(network, address string, timeout time.Duration) (Socket, error) {
	return a.rp.Dial(network, address, timeout)
}

// SubmitRecv arms a one-shot Read event on sock; when it fires, it drains
// as much of bufs as is currently available and invokes cb with the total
// read. A partial fill re-arms automatically until bufs is full or an
// error (including io.EOF) occurs.
func (a *completionAdapter) SubmitRecv(sock Socket, bufs [][]byte, cb CompletionCallback) (cancel func()) {
	ev := a.rp.CreateEvent(sock)
	total := 0
	remaining := bufs

	var onReady EventCallback
	onReady = func(mask EventMask) {
		if mask&Error != 0 && mask&Read == 0 {
			cb(total, errShortRead)
			return
		}
		n, err := sock.RecvV(remaining)
		total += n
		if err != nil && err != ErrWouldBlock {
			cb(total, err)
			return
		}
		remaining = advanceBufs(remaining, n)
		if len(remaining) == 0 {
			cb(total, nil)
			return
		}
		ev.Update(Read, onReady)
	}
	ev.Update(Read, onReady)

	return func() { ev.Delete() }
}

// SubmitSend issues the write inline and invokes cb directly on the calling
// goroutine before returning; no Write event is armed, since the built-in
// GoProvider does not track write readiness separately (Go's
// net.Conn.Write already blocks internally until the kernel accepts the
// bytes). The returned cancel function has no effect, as the callback has
// already run by the time it is returned.
func (a *completionAdapter) SubmitSend(sock Socket, bufs [][]byte, cb CompletionCallback) (cancel func()) {
	cancelled := false
	n, err := sock.SendV(bufs)
	if !cancelled {
		cb(n, err)
	}
	return func() { cancelled = true }
}

func advanceBufs(bufs [][]byte, n int) [][]byte {
	for n > 0 && len(bufs) > 0 {
		if n < len(bufs[0]) {
			bufs[0] = bufs[0][n:]
			return bufs
		}
		n -= len(bufs[0])
		bufs = bufs[1:]
	}
	return bufs
}

var errShortRead = shortReadError{}

type shortReadError struct{}

func (shortReadError) Error() string { return "ioloop: socket error during completion recv" }
