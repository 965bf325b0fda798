package lcbook

// connMux owns the set of per-node pipelines for one generation of cluster
// topology: Start/Takeover/Drain/Close, with a dead-pipe fallback for
// out-of-range indices.
type connMux struct {
	pipelines []*pipeline
	deadPipe  *pipeline
}

// newConnMux builds one pipeline per address in hostPorts, ready to Start.
func newConnMux(hostPorts []string, dialFn func(string) (*Connection, error), onNotMyVBucket NotMyVBucketHook) *connMux {
	mux := &connMux{deadPipe: newDeadPipeline()}
	for _, hostPort := range hostPorts {
		mux.pipelines = append(mux.pipelines, newPipeline(hostPort, dialFn, nil, onNotMyVBucket))
	}
	return mux
}

func (mux *connMux) NumPipelines() int { return len(mux.pipelines) }

// GetPipeline returns the pipeline at index, or the always-failing dead
// pipeline if index is out of range (e.g. a stale vbucket map entry).
func (mux *connMux) GetPipeline(index int) *pipeline {
	if index < 0 || index >= len(mux.pipelines) {
		return mux.deadPipe
	}
	return mux.pipelines[index]
}

// Start dials every pipeline's connection.
func (mux *connMux) Start() {
	for _, p := range mux.pipelines {
		p.StartClients()
	}
}

// Takeover steals live connections and queued ops from oldMux's pipelines
// that share an address with one of this mux's pipelines, then starts
// everything else fresh. Anything left over in oldMux (addresses dropped
// by the new topology) is closed.
func (mux *connMux) Takeover(oldMux *connMux) {
	var stolen []*pipeline
	stealFor := func(address string) *pipeline {
		if oldMux == nil {
			return nil
		}
		for _, p := range oldMux.pipelines {
			used := false
			for _, s := range stolen {
				if s == p {
					used = true
					break
				}
			}
			if used {
				continue
			}
			if p.Address() == address {
				stolen = append(stolen, p)
				return p
			}
		}
		return nil
	}

	for _, p := range mux.pipelines {
		if old := stealFor(p.Address()); old != nil {
			p.Takeover(old)
		}
		p.StartClients()
	}

	if oldMux == nil {
		return
	}
	for _, old := range oldMux.pipelines {
		taken := false
		for _, s := range stolen {
			if s == old {
				taken = true
				break
			}
		}
		if !taken {
			old.Close()
		}
	}
	if oldMux.deadPipe != nil {
		oldMux.deadPipe.Close()
	}
}

// Close tears down every pipeline.
func (mux *connMux) Close() error {
	var errs MultiError
	for _, p := range mux.pipelines {
		if err := p.Close(); err != nil {
			errs.add(err)
		}
	}
	if mux.deadPipe != nil {
		if err := mux.deadPipe.Close(); err != nil {
			errs.add(err)
		}
	}
	return errs.get()
}

// Drain removes every pending operation from every pipeline, invoking cb
// for each. Callers must have already Closed or Takeover'd this mux.
func (mux *connMux) Drain(cb func(*Operation)) {
	for _, p := range mux.pipelines {
		p.Drain(cb)
	}
	if mux.deadPipe != nil {
		mux.deadPipe.Drain(cb)
	}
}
