package lcbook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipelineSendRequestQueuesWhileDialing(t *testing.T) {
	block := make(chan struct{})
	dial := func(address string) (*Connection, error) {
		<-block
		return nil, ErrNetwork
	}
	defer close(block)

	p := newPipeline("node-a:11210", dial, nil, nil)
	p.StartClients()

	op := &Operation{Packet: Packet{Key: []byte("k")}}
	require.NoError(t, p.SendRequest(op))
	require.Equal(t, p, op.queuedWith)
	require.Equal(t, "node-a:11210 connected=false queued=1", p.debugString())
}

func TestPipelineRequeueRequestGoesToFront(t *testing.T) {
	p := newPipeline("node-a:11210", func(string) (*Connection, error) { return nil, ErrNetwork }, nil, nil)

	first := &Operation{Packet: Packet{Opaque: 1}}
	second := &Operation{Packet: Packet{Opaque: 2}}

	p.queue = append(p.queue, first)
	p.RequeueRequest(second)

	require.Equal(t, second, p.queue[0])
	require.Equal(t, first, p.queue[1])
}

func TestPipelineCloseFailsQueuedOpsWithShutdown(t *testing.T) {
	p := newPipeline("node-a:11210", nil, nil, nil)

	done := make(chan error, 1)
	op := &Operation{Packet: Packet{Key: []byte("k")}}
	op.cb = func(resp *Packet, err error) { done <- err }
	require.NoError(t, p.SendRequest(op))

	require.NoError(t, p.Close())
	require.ErrorIs(t, <-done, ErrShutdown)
}

func TestPipelineSendRequestAfterCloseFails(t *testing.T) {
	p := newPipeline("node-a:11210", nil, nil, nil)
	require.NoError(t, p.Close())

	op := &Operation{Packet: Packet{Key: []byte("k")}}
	require.ErrorIs(t, p.SendRequest(op), ErrCliInternalError)
}

func TestNewDeadPipelineAlwaysFails(t *testing.T) {
	p := newDeadPipeline()
	op := &Operation{Packet: Packet{Key: []byte("k")}}
	require.ErrorIs(t, p.SendRequest(op), ErrCliInternalError)
}

func TestPipelineRemove(t *testing.T) {
	p := newPipeline("node-a:11210", nil, nil, nil)
	op := &Operation{Packet: Packet{Key: []byte("k")}}
	p.queue = append(p.queue, op)

	require.True(t, p.remove(op))
	require.Empty(t, p.queue)
	require.False(t, p.remove(op))
}
