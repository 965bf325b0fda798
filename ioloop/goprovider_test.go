package ioloop

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().String()
}

func TestGoProviderDialAndSendRecvRoundTrip(t *testing.T) {
	ln, addr := listenLoopback(t)

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	p := New()
	go p.Run()
	defer p.Stop()

	sock, err := p.Dial("tcp", addr, time.Second)
	require.NoError(t, err)
	defer sock.Close()

	server := <-accepted
	defer server.Close()

	_, err = server.Write([]byte("hello"))
	require.NoError(t, err)

	ev := p.CreateEvent(sock)
	received := make(chan EventMask, 1)
	ev.Update(Read, func(mask EventMask) { received <- mask })

	select {
	case mask := <-received:
		require.True(t, mask&Read != 0)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for readability notification")
	}

	buf := make([]byte, 16)
	n, err := sock.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestGoProviderRecvWouldBlockWhenEmpty(t *testing.T) {
	ln, addr := listenLoopback(t)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
		}
	}()

	p := New()
	sock, err := p.Dial("tcp", addr, time.Second)
	require.NoError(t, err)
	defer sock.Close()

	buf := make([]byte, 16)
	_, err = sock.Recv(buf)
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestGoProviderEventFiresOnlyOncePerUpdate(t *testing.T) {
	ln, addr := listenLoopback(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	p := New()
	go p.Run()
	defer p.Stop()

	sock, err := p.Dial("tcp", addr, time.Second)
	require.NoError(t, err)
	defer sock.Close()
	server := <-accepted
	defer server.Close()

	ev := p.CreateEvent(sock)
	fired := make(chan struct{}, 4)
	ev.Update(Read, func(mask EventMask) { fired <- struct{}{} })

	server.Write([]byte("a"))
	<-fired

	select {
	case <-fired:
		t.Fatal("registration fired a second time without Update being called again")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestGoProviderStopIsIdempotent(t *testing.T) {
	p := New()
	require.NotPanics(t, func() {
		p.Stop()
		p.Stop()
	})
}
