package lcbook

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/couchbaselabs/lcbook/internal/log"
)

// routeData is one immutable generation of routing state: the topology
// projection plus the connMux it drives. Swapped atomically on the
// Router (atomic.Value + CAS, never mutated in place).
type routeData struct {
	revID   int64
	uuid    string
	bktType bucketType

	mgmtEpList []string
	capiEpList []string
	n1qlEpList []string

	vbMap     *VBucketMap
	ketamaMap *ketamaContinuum

	mux *connMux
}

// Router owns the current cluster topology and dispatches operations to
// the right node, retrying on NOT_MY_VBUCKET and requeuing across
// topology refreshes.
type Router struct {
	dialFn       func(address string) (*Connection, error)
	log          log.Logger
	numVbuckets  int
	maxRedirects uint32

	// onConfigInError parses and applies a NOT_MY_VBUCKET response's
	// piggy-backed config, if any, returning whether one was found and
	// installed. onRefresh kicks off an out-of-band topology refresh when
	// no config was piggy-backed. Both are wired by the owning Handle to
	// the bootstrapper (bootstrap.go); neither is required for ApplyConfig/
	// routeRequest to work, so Router stays testable without one.
	onConfigInError func(raw []byte, sourceHost string) bool
	onRefresh       func()

	current atomic.Value // *routeData

	configLock sync.Mutex
}

// NewRouter returns a Router with no topology yet; ApplyConfig must be
// called at least once (by the bootstrap provider) before routing works.
// The ioloop.Provider itself lives on the owning Handle/Config, not here —
// dialFn already closes over it (see bootstrapper.dialAndHandshake).
// maxRedirects bounds how many NOT_MY_VBUCKET re-routes one operation may
// take before it is failed outright with ErrTooManyRedirects (0 picks the
// package default of 5).
func NewRouter(dialFn func(string) (*Connection, error), logger log.Logger, maxRedirects uint32) *Router {
	if logger == nil {
		logger = log.Nop
	}
	if maxRedirects == 0 {
		maxRedirects = defaultMaxRedirects
	}
	return &Router{dialFn: dialFn, log: logger, maxRedirects: maxRedirects}
}

const defaultMaxRedirects = 5

// current_ returns the active routeData, or nil before the first config is
// applied.
func (r *Router) current_() *routeData {
	v := r.current.Load()
	if v == nil {
		return nil
	}
	return v.(*routeData)
}

// ApplyConfig installs a new routeConfig generation, building a fresh
// connMux and taking over live connections from the previous generation
// for addresses that still exist. Grounded on Agent.applyConfig.
func (r *Router) ApplyConfig(cfg *routeConfig) {
	if cfg.vbMap != nil && r.numVbuckets != 0 && cfg.vbMap.NumVbuckets() != r.numVbuckets {
		r.log.Errorf("lcbook: received configuration with a different vbucket count, ignoring")
		return
	}

	r.configLock.Lock()
	defer r.configLock.Unlock()

	newData := &routeData{
		revID:      cfg.revID,
		uuid:       cfg.uuid,
		bktType:    cfg.bktType,
		mgmtEpList: cfg.mgmtEpList,
		capiEpList: cfg.capiEpList,
		n1qlEpList: cfg.n1qlEpList,
		vbMap:      cfg.vbMap,
		ketamaMap:  cfg.ketamaMap,
	}
	newData.mux = newConnMux(cfg.kvServerList, r.dialFn, r.handleNotMyVBucket)

	old := r.current_()
	if old != nil {
		if newData.revID != 0 && newData.revID <= old.revID {
			r.log.Debugf("lcbook: ignoring configuration with stale revision %d <= %d", newData.revID, old.revID)
			return
		}
	}

	// atomic.Value.CompareAndSwap treats a typed nil *routeData as distinct
	// from "nothing stored yet", so the very first install goes through
	// Store instead; every later generation CASes against the real
	// previous pointer to detect a concurrent racing update.
	if old == nil {
		r.current.Store(newData)
	} else if !r.current.CompareAndSwap(old, newData) {
		r.log.Errorf("lcbook: concurrent configuration update raced, skipping")
		return
	}

	if newData.vbMap != nil {
		r.numVbuckets = newData.vbMap.NumVbuckets()
	}

	if old == nil || old.mux == nil {
		newData.mux.Start()
		return
	}

	newData.mux.Takeover(old.mux)

	var requeued []*Operation
	old.mux.Drain(func(op *Operation) {
		requeued = append(requeued, op)
	})

	// Oldest-dispatched-first: an op that was already waiting the longest
	// should be the first to get a fresh deadline's worth of a head start
	// on the new topology.
	sort.Slice(requeued, func(i, j int) bool {
		return requeued[i].dispatchTime.Before(requeued[j].dispatchTime)
	})

	for _, op := range requeued {
		r.requeueDirect(op)
	}
}

// routeRequest resolves which pipeline an operation belongs to under the
// current topology. Grounded on Agent.routeRequest.
func (r *Router) routeRequest(op *Operation) (*pipeline, error) {
	data := r.current_()
	if data == nil {
		return nil, ErrShutdown
	}

	var srvIdx int
	repIdx := op.ReplicaIdx
	if repIdx == NoReplica {
		repIdx = 0
	}

	if repIdx < 0 {
		srvIdx = -repIdx - 1
	} else {
		var err error
		switch data.bktType {
		case bktTypeCouchbase:
			if len(op.Key) > 0 {
				op.vbID = data.vbMap.VbucketByKey(op.Key)
				op.Vbucket = op.vbID
			}
			srvIdx, err = data.vbMap.nodeByVbucket(op.Vbucket, repIdx)
			if err != nil {
				return nil, err
			}
		case bktTypeMemcached:
			if repIdx > 0 {
				return nil, ErrInvalidReplica
			}
			if len(op.Key) == 0 {
				return nil, ErrCliInternalError
			}
			srvIdx, err = data.ketamaMap.NodeByKey(op.Key)
			if err != nil {
				return nil, err
			}
		default:
			return nil, ErrCliInternalError
		}
	}

	return data.mux.GetPipeline(srvIdx), nil
}

// DispatchDirect routes and sends op, grounded on Agent.dispatchDirect.
func (r *Router) DispatchDirect(op *Operation) error {
	p, err := r.routeRequest(op)
	if err != nil {
		return err
	}
	return p.SendRequest(op)
}

// requeueDirect re-routes and requeues op after a topology change or a
// connection failure, failing it outright if routing no longer succeeds.
// Grounded on Agent.requeueDirect.
func (r *Router) requeueDirect(op *Operation) {
	p, err := r.routeRequest(op)
	if err != nil {
		op.tryComplete(nil, err)
		return
	}
	p.RequeueRequest(op)
}

// handleNotMyVBucket is the Connection NotMyVBucketHook. A NOT_MY_VBUCKET
// reply often carries the server's own idea of the current topology in its
// value; when it does, that config is applied directly instead of waiting
// on the background refresh loopers. When it doesn't, an out-of-band
// refresh is kicked off instead, since re-routing against the same stale
// map would just send the op to the same wrong node again. Either way the
// op is then re-routed and requeued — unless it has already been
// redirected maxRedirects times, in which case the error becomes final.
// Grounded on Agent.handleOpNmv (gocbcore.v7/agentops.go).
func (r *Router) handleNotMyVBucket(op *Operation, resp *Packet, sourceHost string) {
	op.retryCount++
	if op.retryCount > r.maxRedirects {
		op.tryComplete(nil, ErrTooManyRedirects)
		return
	}

	applied := false
	if r.onConfigInError != nil {
		applied = r.onConfigInError(resp.Value, sourceHost)
	}
	if !applied && r.onRefresh != nil {
		r.onRefresh()
	}

	r.requeueDirect(op)
}
