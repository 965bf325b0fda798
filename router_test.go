package lcbook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchbaselabs/lcbook/internal/log"
)

func failingDial(address string) (*Connection, error) {
	return nil, ErrNetwork
}

func TestNewRouterDefaultMaxRedirects(t *testing.T) {
	r := NewRouter(failingDial, log.Nop, 0)
	require.Equal(t, uint32(defaultMaxRedirects), r.maxRedirects)
}

func TestNewRouterExplicitMaxRedirects(t *testing.T) {
	r := NewRouter(failingDial, log.Nop, 2)
	require.Equal(t, uint32(2), r.maxRedirects)
}

func TestRouteRequestBeforeAnyConfigFails(t *testing.T) {
	r := NewRouter(failingDial, log.Nop, 5)
	op := &Operation{Packet: Packet{Key: []byte("k")}}
	_, err := r.routeRequest(op)
	require.ErrorIs(t, err, ErrShutdown)
}

func TestApplyConfigIgnoresStaleRevision(t *testing.T) {
	r := NewRouter(failingDial, log.Nop, 5)

	vbMap := NewVBucketMap([][]int{{0}}, 0)
	cfg1 := &routeConfig{
		revID:        5,
		bktType:      bktTypeCouchbase,
		kvServerList: []string{"node-a:11210"},
		mgmtEpList:   []string{"http://node-a:8091"},
		vbMap:        vbMap,
	}
	r.ApplyConfig(cfg1)
	require.Equal(t, int64(5), r.current_().revID)

	stale := &routeConfig{
		revID:        3,
		bktType:      bktTypeCouchbase,
		kvServerList: []string{"node-b:11210"},
		mgmtEpList:   []string{"http://node-b:8091"},
		vbMap:        vbMap,
	}
	r.ApplyConfig(stale)
	require.Equal(t, int64(5), r.current_().revID, "a stale revision must not replace the current topology")
}

func TestHandleNotMyVBucketCapsRedirects(t *testing.T) {
	r := NewRouter(failingDial, log.Nop, 2)

	vbMap := NewVBucketMap([][]int{{0}}, 0)
	cfg := &routeConfig{
		revID:        1,
		bktType:      bktTypeCouchbase,
		kvServerList: []string{"node-a:11210"},
		mgmtEpList:   []string{"http://node-a:8091"},
		vbMap:        vbMap,
	}
	r.ApplyConfig(cfg)

	resultCh := make(chan error, 1)
	op := &Operation{Packet: Packet{Key: []byte("k")}}
	op.cb = func(resp *Packet, err error) { resultCh <- err }

	r.handleNotMyVBucket(op, &Packet{}, "node-a:11210")
	require.Empty(t, resultCh, "first redirect should requeue, not complete")

	r.handleNotMyVBucket(op, &Packet{}, "node-a:11210")
	require.Empty(t, resultCh, "second redirect should still requeue")

	r.handleNotMyVBucket(op, &Packet{}, "node-a:11210")
	err := <-resultCh
	require.ErrorIs(t, err, ErrTooManyRedirects)
}
