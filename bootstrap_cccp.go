package lcbook

import (
	"math/rand"
	"time"
)

// bootstrapCccp tries each seed host in turn, dialing a connection,
// completing HELLO/auth, and issuing GET_CLUSTER_CONFIG. The first host
// that answers wins. Grounded on dialMemdClient + the first iteration of
// cccpLooper's per-node polling loop.
func (b *bootstrapper) bootstrapCccp(seedHosts []string) (*clusterConfig, string, bool, error) {
	for _, host := range seedHosts {
		conn, err := b.dialAndHandshake(host)
		if err != nil {
			b.cfg.Logger.Debugf("lcbook: cccp bootstrap dial failed for %s: %v", host, err)
			continue
		}

		raw, err := execGetClusterConfig(conn, b.cfg.ServerConnectTimeout)
		if err != nil {
			b.cfg.Logger.Debugf("lcbook: cccp bootstrap request failed for %s: %v", host, err)
			conn.Close()
			continue
		}

		hostName, err := hostFromHostPort(host)
		if err != nil {
			hostName = host
		}
		cfg, err := parseClusterConfig(raw, hostName)
		if err != nil {
			conn.Close()
			continue
		}

		conn.Close()
		return cfg, host, true, nil
	}

	return nil, "", false, ErrBadHosts
}

func execGetClusterConfig(conn *Connection, timeout time.Duration) ([]byte, error) {
	respCh := make(chan syncResult, 1)
	op := &Operation{
		Packet: Packet{Opcode: cmdGetClusterConfig},
		cb:     func(resp *Packet, err error) { respCh <- syncResult{resp, err} },
	}
	if err := conn.SendRequest(op); err != nil {
		return nil, err
	}

	select {
	case res := <-respCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.resp.Value, nil
	case <-time.After(timeout):
		op.Cancel()
		return nil, ErrTimeout
	}
}

// dialAndHandshake opens a connection, negotiates HELLO, and authenticates
// it; used both by the initial bootstrap and by the CCCP looper's ongoing
// polling.
func (b *bootstrapper) dialAndHandshake(address string) (*Connection, error) {
	conn, err := dialConnection(b.cfg.Provider, address, b.cfg.ServerConnectTimeout, b.cfg.Logger)
	if err != nil {
		return nil, err
	}

	features := []HelloFeature{FeatureXattr, FeatureSelectBucket}
	if b.cfg.UseKvErrorMaps {
		features = append(features, FeatureXerror)
	}
	if b.cfg.UseMutationTokens {
		features = append(features, FeatureSeqNo)
	}
	if b.cfg.UseCompression {
		features = append(features, FeatureSnappy)
	}
	if b.cfg.TLSConfig != nil {
		features = append(features, FeatureTls)
	}

	negotiated, err := conn.ExecHello([]byte("lcbook"), features)
	if err != nil {
		conn.Close()
		return nil, err
	}
	for _, f := range negotiated {
		if f == FeatureSnappy {
			conn.SetSnappyEnabled(true)
		}
	}

	if b.cfg.Auth != nil && b.cfg.Authn != nil {
		creds, err := b.cfg.Auth.Credentials(AuthCredsRequest{Service: MemdService, Endpoint: address})
		if err != nil {
			conn.Close()
			return nil, err
		}
		if err := b.cfg.Authn.Authenticate(conn, creds); err != nil {
			conn.Close()
			return nil, err
		}
	}

	conn.setPhase(phaseReady)
	return conn, nil
}

// applyConfigInError parses a NOT_MY_VBUCKET response's piggy-backed config
// (servers append one when they have it handy) and installs it directly,
// skipping the round trip RefreshNow would otherwise make. Returns false if
// raw was empty or didn't parse/build into a usable routeConfig, so the
// caller knows to fall back to an out-of-band refresh instead. Grounded on
// Agent.handleOpNmv (gocbcore.v7/agentops.go).
func (b *bootstrapper) applyConfigInError(raw []byte, sourceHost string) bool {
	if len(raw) == 0 {
		return false
	}

	cfg, err := parseClusterConfig(raw, sourceHost)
	if err != nil {
		return false
	}

	routeCfg := buildRouteConfig(cfg, b.cfg.TLSConfig != nil, b.cfg.NetworkType)
	if !routeCfg.IsValid() {
		return false
	}

	b.router.ApplyConfig(routeCfg)
	if b.cfg.Cache != nil {
		if reencoded, err := reencodeConfig(cfg); err == nil {
			b.cfg.Cache.Save(reencoded)
		}
	}
	return true
}

// RefreshNow performs one out-of-band CCCP poll against the current
// topology's nodes, applying the first config any of them returns. Used by
// the Scheduler (scheduler.go) when CONFERRTHRESH/CONFDELAY_THRESH trips,
// i.e. the ongoing cccpLoop/httpLoop cadence is deemed too slow to trust.
// Grounded on the same per-node polling body as cccpLoop, run once instead
// of on a timer.
func (b *bootstrapper) RefreshNow() {
	data := b.router.current_()
	if data == nil {
		return
	}

	numNodes := data.mux.NumPipelines()
	for i := 0; i < numNodes; i++ {
		address := data.mux.GetPipeline(i).Address()
		if address == "" {
			continue
		}

		conn, err := b.dialAndHandshake(address)
		if err != nil {
			continue
		}
		raw, err := execGetClusterConfig(conn, b.cfg.CccpMaxWait)
		conn.Close()
		if err != nil {
			continue
		}

		hostName, err := hostFromHostPort(address)
		if err != nil {
			hostName = address
		}
		cfg, err := parseClusterConfig(raw, hostName)
		if err != nil {
			continue
		}

		routeCfg := buildRouteConfig(cfg, b.cfg.TLSConfig != nil, b.cfg.NetworkType)
		if routeCfg.IsValid() {
			b.router.ApplyConfig(routeCfg)
			if b.cfg.Cache != nil {
				if raw2, err := reencodeConfig(cfg); err == nil {
					b.cfg.Cache.Save(raw2)
				}
			}
		}
		return
	}
}

// cccpLoop periodically re-polls a random node from the current topology
// for its cluster config, round-robining on failure, grounded on
// Agent.cccpLooper.
func (b *bootstrapper) cccpLoop() {
	defer close(b.cccpDone)

	nodeIdx := -1
	for {
		select {
		case <-time.After(b.cfg.CccpPollPeriod):
		case <-b.closeNotify:
			return
		}

		data := b.router.current_()
		if data == nil {
			return
		}

		numNodes := data.mux.NumPipelines()
		if numNodes == 0 {
			continue
		}
		if nodeIdx < 0 {
			nodeIdx = rand.Intn(numNodes)
		}

		var found *clusterConfig
		for off := 0; off < numNodes; off++ {
			nodeIdx = (nodeIdx + 1) % numNodes
			address := data.mux.GetPipeline(nodeIdx).Address()
			if address == "" {
				continue
			}

			conn, err := b.dialAndHandshake(address)
			if err != nil {
				continue
			}
			raw, err := execGetClusterConfig(conn, b.cfg.CccpMaxWait)
			conn.Close()
			if err != nil {
				continue
			}

			hostName, err := hostFromHostPort(address)
			if err != nil {
				hostName = address
			}
			cfg, err := parseClusterConfig(raw, hostName)
			if err != nil {
				continue
			}
			found = cfg
			break
		}

		if found == nil {
			continue
		}

		routeCfg := buildRouteConfig(found, b.cfg.TLSConfig != nil, b.cfg.NetworkType)
		if routeCfg.IsValid() {
			b.router.ApplyConfig(routeCfg)
			if b.cfg.Cache != nil {
				if raw, err := reencodeConfig(found); err == nil {
					b.cfg.Cache.Save(raw)
				}
			}
		}
	}
}
