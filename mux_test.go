package lcbook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnMuxGetPipelineOutOfRangeReturnsDeadPipe(t *testing.T) {
	mux := newConnMux([]string{"node-a:11210"}, nil, nil)

	require.Equal(t, "node-a:11210", mux.GetPipeline(0).Address())
	require.Equal(t, mux.deadPipe, mux.GetPipeline(1))
	require.Equal(t, mux.deadPipe, mux.GetPipeline(-1))
}

func TestConnMuxNumPipelines(t *testing.T) {
	mux := newConnMux([]string{"a:1", "b:1", "c:1"}, nil, nil)
	require.Equal(t, 3, mux.NumPipelines())
}

func TestConnMuxDrainInvokesEveryPipeline(t *testing.T) {
	mux := newConnMux([]string{"a:1", "b:1"}, nil, nil)

	op1 := &Operation{Packet: Packet{Opaque: 1}}
	op2 := &Operation{Packet: Packet{Opaque: 2}}
	mux.pipelines[0].queue = append(mux.pipelines[0].queue, op1)
	mux.pipelines[1].queue = append(mux.pipelines[1].queue, op2)

	var drained []*Operation
	mux.Drain(func(op *Operation) { drained = append(drained, op) })

	require.Len(t, drained, 2)
}

func TestConnMuxCloseWithoutConnectionsReturnsNil(t *testing.T) {
	mux := newConnMux([]string{"a:1", "b:1"}, nil, nil)
	require.NoError(t, mux.Close())
}
