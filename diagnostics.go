package lcbook

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PingResult is one node's answer (or failure) to a NOOP liveness probe.
type PingResult struct {
	Endpoint string
	Error    error
	Latency  time.Duration
}

// PingReport is the outcome of a fan-out Ping across every node currently
// in the pipeline mux.
type PingReport struct {
	Services []PingResult
}

type jsonPingEntry struct {
	Remote    string `json:"remote"`
	LatencyUs uint64 `json:"latency_us"`
	Success   bool   `json:"success"`
}

type jsonPingReport struct {
	Version int             `json:"version"`
	ID      string          `json:"id"`
	KV      []jsonPingEntry `json:"kv"`
}

// MarshalJSON renders the report in the same report-envelope shape callers
// publish to a diagnostics endpoint: a fresh report ID so repeated pings
// are distinguishable in aggregated logs.
func (r *PingReport) MarshalJSON() ([]byte, error) {
	out := jsonPingReport{
		Version: 1,
		ID:      uuid.New().String(),
	}
	for _, svc := range r.Services {
		out.KV = append(out.KV, jsonPingEntry{
			Remote:    svc.Endpoint,
			LatencyUs: uint64(svc.Latency / time.Microsecond),
			Success:   svc.Error == nil,
		})
	}
	return json.Marshal(&out)
}

// Ping issues a NOOP against every node the Handle currently has a
// pipeline for and reports each one's latency or failure. Grounded on
// Agent.PingKvEx, collapsed from its PendingOp/callback shape into a
// blocking call since nothing else in this core exposes a cancellable
// multi-op handle.
func (h *Handle) Ping(timeout time.Duration) (*PingReport, error) {
	data := h.router.current_()
	if data == nil || data.mux == nil {
		return nil, errors.Wrap(ErrShutdown, "ping")
	}

	numNodes := data.mux.NumPipelines()
	results := make([]PingResult, numNodes)

	var wg sync.WaitGroup
	for i := 0; i < numNodes; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = h.pingOne(data.mux.GetPipeline(idx), timeout)
		}(i)
	}
	wg.Wait()

	return &PingReport{Services: results}, nil
}

func (h *Handle) pingOne(p *pipeline, timeout time.Duration) PingResult {
	address := p.Address()
	start := time.Now()

	op := &Operation{Packet: Packet{Opcode: cmdNoop}}
	respCh := make(chan syncResult, 1)
	op.cb = func(resp *Packet, err error) { respCh <- syncResult{resp, err} }

	if err := p.SendRequest(op); err != nil {
		return PingResult{Endpoint: address, Error: errors.Wrapf(err, "ping dispatch to %s", address)}
	}

	select {
	case res := <-respCh:
		return PingResult{Endpoint: address, Error: res.err, Latency: time.Since(start)}
	case <-time.After(timeout):
		op.Cancel()
		return PingResult{Endpoint: address, Error: errors.Wrapf(ErrTimeout, "ping to %s", address), Latency: time.Since(start)}
	}
}

// MemdConnInfo reports what a Handle currently knows about one open
// per-node connection.
type MemdConnInfo struct {
	RemoteAddr string
	Phase      connPhase
}

// DiagnosticInfo summarizes the Handle's current topology revision and the
// connections it is holding open.
type DiagnosticInfo struct {
	ConfigRevision int64
	Conns          []MemdConnInfo
}

// Diagnostics reports the current topology revision and the phase of each
// node's connection, without issuing any network traffic of its own.
// Grounded on Agent.Diagnostics, trimmed to this core's single connection
// per pipeline instead of per-node connection pools.
func (h *Handle) Diagnostics() (*DiagnosticInfo, error) {
	data := h.router.current_()
	if data == nil || data.mux == nil {
		return nil, errors.Wrap(ErrShutdown, "diagnostics")
	}

	info := &DiagnosticInfo{ConfigRevision: data.revID}
	for i := 0; i < data.mux.NumPipelines(); i++ {
		p := data.mux.GetPipeline(i)
		conn := p.currentConn()
		if conn == nil {
			continue
		}
		info.Conns = append(info.Conns, MemdConnInfo{
			RemoteAddr: conn.Address(),
			Phase:      conn.Phase(),
		})
	}
	return info, nil
}
