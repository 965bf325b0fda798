package lcbook

import (
	"encoding/binary"
	"sync"
	"time"
)

// Default poll cadence and overall deadline for a PollDurability call.
const (
	DefaultDurabilityPollInterval = 10 * time.Millisecond
	DefaultDurabilityTimeout      = 2500 * time.Millisecond
)

// DurabilityRequirement is one key's durability check: the CAS the mutation
// produced (used to tell a since-overwritten copy apart from the one we
// just wrote) plus how many nodes must hold it.
type DurabilityRequirement struct {
	Key         []byte
	Cas         uint64
	PersistTo   uint
	ReplicateTo uint
	ForDelete   bool
}

// DurabilityResult is the per-key outcome of a PollDurability call: Err is
// nil on success, else one of ErrNotEnoughReplicas/ErrDurabilityTimeout/
// ErrShutdown. A node that reports a different CAS is not reported as
// ErrCasMismatch: it simply never counts toward the requirement, so the key
// ends in ErrDurabilityTimeout.
type DurabilityResult struct {
	Key []byte
	Err error
}

// DurabilityPoller issues OBSERVE requests against the master and every
// replica of a key, fanning out across nodes and running many keys'
// polls concurrently. CapMax clamps an under-replicated requirement to
// the configured replica count (VBucketMap.NumReplicas) instead of failing
// it outright; whether those replicas are populated or reachable is not
// checked before clamping.
type DurabilityPoller struct {
	router       *Router
	pollInterval time.Duration
	timeout      time.Duration
	capMax       bool
}

// NewDurabilityPoller builds a poller against router, using interval/timeout
// (zero picks the package defaults above) and capMax to control whether an
// under-replicated requirement is clamped or rejected.
func NewDurabilityPoller(router *Router, pollInterval, timeout time.Duration, capMax bool) *DurabilityPoller {
	if pollInterval == 0 {
		pollInterval = DefaultDurabilityPollInterval
	}
	if timeout == 0 {
		timeout = DefaultDurabilityTimeout
	}
	return &DurabilityPoller{router: router, pollInterval: pollInterval, timeout: timeout, capMax: capMax}
}

// Poll blocks until every requirement in reqs is satisfied, definitively
// fails, or the poller's timeout elapses, running one key independently of
// the next.
func (p *DurabilityPoller) Poll(reqs []DurabilityRequirement) []DurabilityResult {
	results := make([]DurabilityResult, len(reqs))

	var wg sync.WaitGroup
	wg.Add(len(reqs))
	for i, req := range reqs {
		go func(i int, req DurabilityRequirement) {
			defer wg.Done()
			results[i] = DurabilityResult{Key: req.Key, Err: p.pollOne(req)}
		}(i, req)
	}
	wg.Wait()
	return results
}

// pollOne runs the fan-out/quorum loop for a single key. The poller is
// CAS-based only; mutation-token tracking lives outside this core.
func (p *DurabilityPoller) pollOne(req DurabilityRequirement) error {
	data := p.router.current_()
	if data == nil || data.vbMap == nil {
		return ErrShutdown
	}

	numServers := data.vbMap.NumReplicas() + 1
	persistTo, replicateTo := req.PersistTo, req.ReplicateTo

	if replicateTo > uint(numServers-1) || persistTo > uint(numServers) {
		if !p.capMax {
			return ErrNotEnoughReplicas
		}
		if replicateTo > uint(numServers-1) {
			replicateTo = uint(numServers - 1)
		}
		if persistTo > uint(numServers) {
			persistTo = uint(numServers)
		}
	}

	replicaCh := make(chan bool, numServers)
	persistCh := make(chan bool, numServers)

	deadline := time.Now().Add(p.timeout)
	for replicaIdx := 0; replicaIdx < numServers; replicaIdx++ {
		go p.observeOne(req, replicaIdx, deadline, replicaCh, persistCh)
	}

	results := 0
	var replicas, persists uint
	for {
		select {
		case rv := <-replicaCh:
			if rv {
				replicas++
			}
			results++
		case pv := <-persistCh:
			if pv {
				persists++
			}
			results++
		}

		if replicas >= replicateTo && persists >= persistTo {
			return nil
		}
		if results == numServers*2 {
			return ErrDurabilityTimeout
		}
	}
}

// observeOne repeatedly OBSERVEs req.Key on one replica index until it
// reports replication/persistence or the deadline passes. The shared
// deadline doubles as both the overall timer and the per-iteration wait
// bound.
func (p *DurabilityPoller) observeOne(req DurabilityRequirement, replicaIdx int, deadline time.Time, replicaCh, persistCh chan bool) {
	sentReplicated, sentPersisted := false, false
	fail := func() {
		if !sentReplicated {
			replicaCh <- false
			sentReplicated = true
		}
		if !sentPersisted {
			persistCh <- false
			sentPersisted = true
		}
	}

	for {
		if time.Now().After(deadline) {
			fail()
			return
		}

		state, cas, err := p.observeOnce(req.Key, replicaIdx, deadline)
		if err != nil {
			fail()
			return
		}

		didReplicate, didPersist := evaluateKeyState(state, cas, req.Cas, req.ForDelete, replicaIdx)
		if didReplicate && !sentReplicated {
			replicaCh <- true
			sentReplicated = true
		}
		if didPersist && !sentPersisted {
			persistCh <- true
			sentPersisted = true
		}
		if sentReplicated && sentPersisted {
			return
		}

		waitTmr := AcquireTimer(p.pollInterval)
		<-waitTmr.C
		ReleaseTimer(waitTmr, true)
		if time.Now().After(deadline) {
			fail()
			return
		}
	}
}

// evaluateKeyState turns one node's OBSERVE reply into replicated/persisted
// booleans.
func evaluateKeyState(state KeyState, observedCas, wantCas uint64, forDelete bool, replicaIdx int) (didReplicate, didPersist bool) {
	switch state {
	case KeyStatePersisted:
		if !forDelete && observedCas == wantCas {
			didPersist = true
			if replicaIdx != 0 {
				didReplicate = true
			}
		}
	case KeyStateNotPersisted:
		if !forDelete && observedCas == wantCas {
			if replicaIdx != 0 {
				didReplicate = true
			}
		}
	case KeyStateDeleted:
		if forDelete {
			didReplicate = true
		}
	case KeyStateNotFound:
		if forDelete {
			didReplicate = true
			didPersist = true
		}
	}
	return didReplicate, didPersist
}

// observeOnce issues one OBSERVE request for key against replicaIdx and
// parses the reply.
func (p *DurabilityPoller) observeOnce(key []byte, replicaIdx int, deadline time.Time) (KeyState, uint64, error) {
	data := p.router.current_()
	if data == nil || data.vbMap == nil {
		return 0, 0, ErrShutdown
	}
	vbID := data.vbMap.VbucketByKey(key)

	respCh := make(chan syncResult, 1)
	op := &Operation{
		Packet:     Packet{Opcode: cmdObserve, Key: key, Vbucket: vbID, Value: encodeObserveRequest(key, vbID)},
		ReplicaIdx: replicaIdx,
		vbID:       vbID,
		cb:         func(resp *Packet, err error) { respCh <- syncResult{resp, err} },
	}

	if err := p.router.DispatchDirect(op); err != nil {
		return 0, 0, err
	}

	timeout := time.Until(deadline)
	if timeout <= 0 {
		op.Cancel()
		return 0, 0, ErrTimeout
	}

	select {
	case res := <-respCh:
		if res.err != nil {
			return 0, 0, res.err
		}
		return parseObserveResponse(res.resp.Value, key)
	case <-time.After(timeout):
		op.Cancel()
		return 0, 0, ErrTimeout
	}
}

// encodeObserveRequest builds the value payload of an OBSERVE packet: the
// vbucket id the key hashes to (the server reads this from the value, not
// the packet header, per the protocol), a 2-byte key length, and the key.
func encodeObserveRequest(key []byte, vbID uint16) []byte {
	buf := make([]byte, 2+2+len(key))
	binary.BigEndian.PutUint16(buf[0:], vbID)
	binary.BigEndian.PutUint16(buf[2:], uint16(len(key)))
	copy(buf[4:], key)
	return buf
}

// parseObserveResponse decodes an OBSERVE reply's value, matching
// ObserveEx's handler exactly: [vbid(2)][keylen(2)][key][state(1)][cas(8)].
func parseObserveResponse(value []byte, wantKey []byte) (KeyState, uint64, error) {
	if len(value) < 4 {
		return 0, 0, ErrProtocol
	}
	keyLen := int(binary.BigEndian.Uint16(value[2:]))
	if len(value) != 2+2+keyLen+1+8 {
		return 0, 0, ErrProtocol
	}
	state := KeyState(value[2+2+keyLen])
	cas := binary.BigEndian.Uint64(value[2+2+keyLen+1:])
	return state, cas, nil
}

// ObserveSeqNoResult is the parsed reply of an OBSERVE_SEQNO request: the
// persisted/current sequence numbers a node has reached for one vbucket,
// plus the hard-failover fields the format-byte-1 variant adds. The poll
// loop above is CAS-based and does not consume it, but a caller tracking
// mutation seqnos can call parseObserveSeqNoResponse directly against a
// raw OBSERVE_SEQNO reply.
type ObserveSeqNoResult struct {
	DidFailover  bool
	VbID         uint16
	VbUUID       uint64
	PersistSeqNo uint64
	CurrentSeqNo uint64
	OldVbUUID    uint64
	LastSeqNo    uint64
}

// parseObserveSeqNoResponse decodes an OBSERVE_SEQNO reply, handling both
// the format-byte-0 normal case and the format-byte-1 hard-failover case.
func parseObserveSeqNoResponse(value []byte) (*ObserveSeqNoResult, error) {
	if len(value) < 1 {
		return nil, ErrProtocol
	}

	switch value[0] {
	case 0:
		if len(value) < 27 {
			return nil, ErrProtocol
		}
		return &ObserveSeqNoResult{
			VbID:         binary.BigEndian.Uint16(value[1:]),
			VbUUID:       binary.BigEndian.Uint64(value[3:]),
			PersistSeqNo: binary.BigEndian.Uint64(value[11:]),
			CurrentSeqNo: binary.BigEndian.Uint64(value[19:]),
		}, nil
	case 1:
		if len(value) < 43 {
			return nil, ErrProtocol
		}
		return &ObserveSeqNoResult{
			DidFailover:  true,
			VbID:         binary.BigEndian.Uint16(value[1:]),
			VbUUID:       binary.BigEndian.Uint64(value[3:]),
			PersistSeqNo: binary.BigEndian.Uint64(value[11:]),
			CurrentSeqNo: binary.BigEndian.Uint64(value[19:]),
			OldVbUUID:    binary.BigEndian.Uint64(value[27:]),
			LastSeqNo:    binary.BigEndian.Uint64(value[35:]),
		}, nil
	default:
		return nil, ErrProtocol
	}
}
