package lcbook

import (
	"net"
	"testing"
	"time"

	"github.com/couchbaselabs/lcbook/internal/log"
	"github.com/couchbaselabs/lcbook/ioloop"
	"github.com/stretchr/testify/require"
)

func dialTestConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	provider := ioloop.New()
	go provider.Run()
	t.Cleanup(provider.Stop)

	conn, err := dialConnection(provider, ln.Addr().String(), time.Second, log.Nop)
	require.NoError(t, err)

	server := <-accepted
	t.Cleanup(func() { server.Close() })

	return conn, server
}

// readRequestOpaque reads exactly one 24-byte header plus body off server
// and returns the opaque the client assigned it.
func readRequestOpaque(t *testing.T, server net.Conn) uint32 {
	t.Helper()
	hdr := make([]byte, headerSize)
	_, err := readFull(server, hdr)
	require.NoError(t, err)

	var p Packet
	bodyLen, _, _ := decodeHeader(hdr, &p)
	if bodyLen > 0 {
		body := make([]byte, bodyLen)
		_, err := readFull(server, body)
		require.NoError(t, err)
	}
	return p.Opaque
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestConnectionSendRequestAndHandleResponse(t *testing.T) {
	conn, server := dialTestConnection(t)

	respCh := make(chan syncResult, 1)
	op := &Operation{Packet: Packet{Opcode: cmdGet, Key: []byte("k")}}
	op.cb = func(resp *Packet, err error) { respCh <- syncResult{resp, err} }

	require.NoError(t, conn.SendRequest(op))

	opaque := readRequestOpaque(t, server)

	resp := Packet{Magic: resMagic, Opcode: cmdGet, Opaque: opaque, Status: StatusSuccess, Value: []byte("v")}
	_, err := server.Write(resp.Encode())
	require.NoError(t, err)

	select {
	case res := <-respCh:
		require.NoError(t, res.err)
		require.Equal(t, "v", string(res.resp.Value))
	case <-time.After(2 * time.Second):
		t.Fatal("response never delivered to callback")
	}
}

func TestConnectionHandleResponseMapsErrorStatus(t *testing.T) {
	conn, server := dialTestConnection(t)

	respCh := make(chan syncResult, 1)
	op := &Operation{Packet: Packet{Opcode: cmdGet, Key: []byte("missing")}}
	op.cb = func(resp *Packet, err error) { respCh <- syncResult{resp, err} }
	require.NoError(t, conn.SendRequest(op))

	opaque := readRequestOpaque(t, server)
	resp := Packet{Magic: resMagic, Opcode: cmdGet, Opaque: opaque, Status: StatusKeyNotFound}
	_, err := server.Write(resp.Encode())
	require.NoError(t, err)

	select {
	case res := <-respCh:
		require.ErrorIs(t, res.err, ErrKeyNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("response never delivered")
	}
}

func TestConnectionFailDrainsPendingOps(t *testing.T) {
	conn, server := dialTestConnection(t)

	respCh := make(chan syncResult, 1)
	op := &Operation{Packet: Packet{Opcode: cmdGet, Key: []byte("k")}}
	op.cb = func(resp *Packet, err error) { respCh <- syncResult{resp, err} }
	require.NoError(t, conn.SendRequest(op))

	server.Close()

	select {
	case res := <-respCh:
		require.Error(t, res.err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending op was never failed after peer close")
	}
	require.Equal(t, phaseDead, conn.Phase())
}

func TestConnectionCloseFailsQueuedOpsWithErrShutdown(t *testing.T) {
	conn, _ := dialTestConnection(t)

	respCh := make(chan syncResult, 1)
	op := &Operation{Packet: Packet{Opcode: cmdGet, Key: []byte("k")}}
	op.cb = func(resp *Packet, err error) { respCh <- syncResult{resp, err} }
	conn.takeRequestOwnership(op)
	op.waitingIn = conn

	require.NoError(t, conn.Close())

	select {
	case res := <-respCh:
		require.ErrorIs(t, res.err, ErrShutdown)
	case <-time.After(time.Second):
		t.Fatal("op was never drained on Close")
	}
}

func TestConnectionSnappyEnabledRoundTrip(t *testing.T) {
	conn, _ := dialTestConnection(t)
	require.False(t, conn.snappyEnabled())
	conn.SetSnappyEnabled(true)
	require.True(t, conn.snappyEnabled())
}
