package lcbook

import (
	"testing"
	"time"

	"github.com/couchbaselabs/lcbook/internal/log"
	"github.com/stretchr/testify/require"
)

// newTestHandle builds a Handle whose Router already has a topology
// installed, without ever touching the network: dialFn always queues
// forever (pipeline.SendRequest queues when conn is nil), which is enough
// to exercise Submit/Close routing and shutdown semantics.
func newTestHandle(t *testing.T) *Handle {
	t.Helper()

	router := NewRouter(func(string) (*Connection, error) {
		return nil, ErrNetwork
	}, log.Nop, 5)
	router.ApplyConfig(&routeConfig{
		revID:        1,
		bktType:      bktTypeCouchbase,
		kvServerList: []string{"node-a:11210"},
		mgmtEpList:   []string{"http://node-a:8091"},
		vbMap:        NewVBucketMap([][]int{{0}}, 0),
	})

	h := &Handle{
		cfg:    Config{OpTimeout: time.Second},
		log:    log.Nop,
		router: router,
		boot:   newBootstrapper(Config{Logger: log.Nop}, router),
		sched:  NewScheduler(time.Second, 4, 5*time.Second, func() {}),
		dura:   NewDurabilityPoller(router, 0, 0, false),
	}
	return h
}

func TestHandleSubmitQueuesOnRouterWithTopology(t *testing.T) {
	h := newTestHandle(t)
	defer h.Close()

	op, err := h.Submit(Packet{Key: []byte("k")}, NoReplica, time.Second, nil)
	require.NoError(t, err)
	require.NotNil(t, op)
}

func TestHandleSubmitAfterCloseFailsWithErrShutdown(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.Close())

	_, err := h.Submit(Packet{Key: []byte("k")}, NoReplica, time.Second, nil)
	require.ErrorIs(t, err, ErrShutdown)
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

func TestHandleCloseWithNoTopologyReturnsNil(t *testing.T) {
	h := &Handle{
		router: NewRouter(func(string) (*Connection, error) { return nil, ErrNetwork }, log.Nop, 0),
		boot:   newBootstrapper(Config{Logger: log.Nop}, nil),
		sched:  NewScheduler(time.Second, 0, 0, nil),
	}
	require.NoError(t, h.Close())
}
