// Package ioloop defines the pluggable I/O abstraction the lcbook core
// runs on top of: readiness-mode event loops (libevent/libev/libuv-style)
// and completion-mode loops (IOCP-style) behind Go-native interfaces,
// plus a built-in goroutine-based implementation. There is no dlopen-style
// plugin loader; per-platform backends are external collaborators that
// satisfy the same interface.
package ioloop

import "time"

// EventMask is a bitset of {Read, Write, Error} readiness conditions.
type EventMask uint8

const (
	Read EventMask = 1 << iota
	Write
	Error
)

// EventCallback is invoked when a registered socket becomes ready for one
// of the masked conditions. A registration is consumed immediately before
// its callback fires: Event.Update must be called again from within (or
// after) the callback if further notifications are wanted.
type EventCallback func(mask EventMask)

// TimerCallback is invoked when a timer fires.
type TimerCallback func()

// Event is an opaque handle to a registered socket's event registration.
type Event interface {
	// Update changes which readiness conditions are armed and the
	// callback that will be invoked, consuming the registration.
	Update(mask EventMask, cb EventCallback)
	// Delete disarms the registration without releasing underlying
	// resources; Destroy releases them.
	Delete()
	Destroy()
}

// Timer is an opaque handle to a registered timer.
type Timer interface {
	// Update (re)arms the timer to fire after interval, consuming any
	// previous arming.
	Update(interval time.Duration, cb TimerCallback)
	Delete()
	Destroy()
}

// Socket is the raw transport primitive a Provider hands back from Dial.
// Reads are non-blocking: Recv/RecvV return (0, ErrWouldBlock) when no
// bytes are currently available, and the caller is expected to have armed
// a Read Event to know when to retry. In the built-in GoProvider, Send and
// SendV write straight to the net.Conn and block until it accepts the bytes.
type Socket interface {
	Send(buf []byte) (n int, err error)
	Recv(buf []byte) (n int, err error)
	SendV(bufs [][]byte) (n int, err error)
	RecvV(bufs [][]byte) (n int, err error)
	Close() error
	LocalAddr() string
	RemoteAddr() string
}

// ReadinessProvider is the readiness-mode I/O capability set: raw sockets,
// event registrations keyed off them, timers, and a run loop that drives
// all of the above until Stop is called.
type ReadinessProvider interface {
	Dial(network, address string, timeout time.Duration) (Socket, error)

	CreateEvent(sock Socket) Event
	CreateTimer() Timer

	// Run drives the loop until Stop is called. It may be called from any
	// goroutine and blocks the caller. In the built-in GoProvider the
	// per-socket reader goroutines only post callbacks to a task queue;
	// Run is what drains that queue, so no event or timer callback fires
	// unless Run is running.
	Run()
	Stop()
}

// CompletionCallback is invoked once a submitted completion-mode I/O
// request finishes, successfully or not.
type CompletionCallback func(n int, err error)

// CompletionProvider is the completion-mode capability set: submit a
// buffer list and callback, get a cancellation function back.
type CompletionProvider interface {
	Dial(network, address string, timeout time.Duration) (Socket, error)
	SubmitRecv(sock Socket, bufs [][]byte, cb CompletionCallback) (cancel func())
	SubmitSend(sock Socket, bufs [][]byte, cb CompletionCallback) (cancel func())
}
