package lcbook

import (
	"sync"
	"time"

	"github.com/couchbaselabs/lcbook/internal/log"
)

// Handle is the root type a caller holds: it owns the Router (topology +
// per-node pipelines), the bootstrapper (initial fetch + background
// refresh), and the Scheduler (per-op deadlines, per-Handle error
// counting). Submit returns a future-shaped *Operation rather than
// requiring a pre-registered per-kind callback table.
type Handle struct {
	cfg    Config
	log    log.Logger
	router *Router
	boot   *bootstrapper
	sched  *Scheduler
	dura   *DurabilityPoller

	mu     sync.Mutex
	closed bool
}

// NewHandle builds a Handle and performs the initial bootstrap against
// seedHosts, returning once a first topology is installed (or bootstrap
// definitively fails).
func NewHandle(cfg Config, seedHosts []string) (*Handle, error) {
	cfg = cfg.withDefaults()

	h := &Handle{cfg: cfg, log: cfg.Logger}

	h.boot = newBootstrapper(cfg, nil)
	h.router = NewRouter(h.boot.dialAndHandshake, cfg.Logger, cfg.MaxRedirects)
	h.boot.router = h.router
	h.router.onConfigInError = h.boot.applyConfigInError
	h.router.onRefresh = h.boot.RefreshNow
	h.sched = NewScheduler(cfg.OpTimeout, cfg.ConfErrThresh, cfg.ConfDelayThresh, h.boot.RefreshNow)
	h.dura = NewDurabilityPoller(h.router, cfg.DurabilityPollInterval, cfg.DurabilityTimeout, false)

	if cfg.Cache != nil {
		if raw, err := cfg.Cache.Load(); err == nil && len(raw) > 0 {
			if cachedCfg, err := parseClusterConfig(raw, ""); err == nil {
				if routeCfg := buildRouteConfig(cachedCfg, cfg.TLSConfig != nil, cfg.NetworkType); routeCfg.IsValid() {
					h.router.ApplyConfig(routeCfg)
				}
			}
		}
	}

	if err := h.boot.Bootstrap(seedHosts); err != nil {
		return nil, err
	}
	h.sched.ResetErrors()

	return h, nil
}

// NewHandleFromConnString parses connStr (connstr.go) and bootstraps a
// Handle against the resulting host list, preferring CCCP hosts unless the
// connection string forced bootstrap_on=http.
func NewHandleFromConnString(connStr string, cfg Config) (*Handle, error) {
	spec, err := ParseConnString(connStr)
	if err != nil {
		return nil, err
	}

	cfg.Bucket = spec.Bucket
	if spec.TLSConfig != nil {
		cfg.TLSConfig = spec.TLSConfig
	}

	seedHosts := spec.MemdHosts
	if len(seedHosts) == 0 {
		seedHosts = spec.HTTPHosts
	}
	return NewHandle(cfg, seedHosts)
}

// Submit is the single entry point for issuing a request: it arms the
// operation's deadline, routes it to the right node, and returns the
// future immediately.
func (h *Handle) Submit(p Packet, replicaIdx int, timeout time.Duration, cb OperationCallback) (*Operation, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}

	op := &Operation{Packet: p, ReplicaIdx: replicaIdx}
	op.cb = func(resp *Packet, err error) {
		h.sched.NoteCompletion(err)
		if cb != nil {
			cb(resp, err)
		}
	}
	if h.cfg.Tracer != nil {
		op.tracer = newOpTracer(h.cfg.Tracer, nil)
		op.tracer.startCmd(commandName(p.Opcode), 0)
	}

	h.sched.Arm(op, timeout)

	if err := h.router.DispatchDirect(op); err != nil {
		// A failed submit reports its error only through the return value.
		op.mu.Lock()
		op.cb = nil
		op.mu.Unlock()
		op.abort(err)
		return op, err
	}
	return op, nil
}

// PollDurability blocks until every requirement is satisfied, definitively
// fails, or the Handle's configured durability timeout elapses.
func (h *Handle) PollDurability(reqs []DurabilityRequirement) []DurabilityResult {
	return h.dura.Poll(reqs)
}

// Close transitions the Handle to shutting-down mode: every pending
// operation (queued or in-flight) fails synchronously with ErrShutdown, the
// background refresh loopers stop, and per-node connections close.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.boot.Close()

	data := h.router.current_()
	if data == nil || data.mux == nil {
		return nil
	}
	return data.mux.Close()
}
