package ioloop

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompletionAdapterSubmitRecvDeliversFullBuffer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	rp := New()
	go rp.Run()
	defer rp.Stop()

	sock, err := rp.Dial("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer sock.Close()
	server := <-accepted
	defer server.Close()

	adapter := NewCompletionAdapter(rp)

	buf := make([]byte, 5)
	done := make(chan struct{})
	var gotN int
	var gotErr error
	adapter.SubmitRecv(sock, [][]byte{buf}, func(n int, err error) {
		gotN, gotErr = n, err
		close(done)
	})

	server.Write([]byte("hello"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}
	require.NoError(t, gotErr)
	require.Equal(t, 5, gotN)
	require.Equal(t, "hello", string(buf))
}

func TestCompletionAdapterSubmitSendWritesInline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	rp := New()
	sock, err := rp.Dial("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer sock.Close()
	server := <-accepted
	defer server.Close()

	adapter := NewCompletionAdapter(rp)

	done := make(chan struct{})
	var gotN int
	adapter.SubmitSend(sock, [][]byte{[]byte("hi")}, func(n int, err error) {
		gotN = n
		require.NoError(t, err)
		close(done)
	})
	<-done
	require.Equal(t, 2, gotN)

	recvBuf := make([]byte, 2)
	n, err := server.Read(recvBuf)
	require.NoError(t, err)
	require.Equal(t, "hi", string(recvBuf[:n]))
}

func TestAdvanceBufsAcrossMultipleChunks(t *testing.T) {
	bufs := [][]byte{make([]byte, 3), make([]byte, 3)}
	remaining := advanceBufs(bufs, 4)
	require.Len(t, remaining, 1)
	require.Len(t, remaining[0], 2)
}
