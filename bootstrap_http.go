package lcbook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

// configStreamBlock unmarshals one JSON document out of the management
// API's chunked "\n\n\n\n"-separated streaming response without copying it
// through an intermediate struct.
type configStreamBlock struct {
	Bytes []byte
}

func (b *configStreamBlock) UnmarshalJSON(data []byte) error {
	b.Bytes = make([]byte, len(data))
	copy(b.Bytes, data)
	return nil
}

func hostnameFromURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	host, err := hostFromHostPort(parsed.Host)
	if err != nil {
		return parsed.Host
	}
	return host
}

// bootstrapHTTP fetches the first config document over the legacy
// pools/default/bs streaming endpoint (falling back to the older
// bucketsStreaming path on 404), used when none of the seed hosts
// supported CCCP. Grounded on the first-iteration path of
// Agent.httpLooper.
func (b *bootstrapper) bootstrapHTTP(seedHosts []string) (*clusterConfig, string, error) {
	mgmtHosts := make([]string, 0, len(seedHosts))
	for _, h := range seedHosts {
		mgmtHosts = append(mgmtHosts, "http://"+h)
	}

	for _, srv := range mgmtHosts {
		cfg, err := b.fetchHTTPConfigOnce(srv, false)
		if err != nil {
			continue
		}
		return cfg, srv, nil
	}
	return nil, "", ErrBadHosts
}

func (b *bootstrapper) fetchHTTPConfigOnce(pickedSrv string, legacy bool) (*clusterConfig, error) {
	streamPath := "bs"
	if legacy {
		streamPath = "bucketsStreaming"
	}
	uri := fmt.Sprintf("%s/pools/default/%s/%s", pickedSrv, streamPath, b.cfg.Bucket)

	req, err := http.NewRequest("GET", uri, nil)
	if err != nil {
		return nil, err
	}

	if b.cfg.Auth != nil {
		creds, err := b.cfg.Auth.Credentials(AuthCredsRequest{Service: MgmtService, Endpoint: pickedSrv})
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := b.httpCli.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound && !legacy {
			return b.fetchHTTPConfigOnce(pickedSrv, true)
		}
		return nil, ErrBadHosts
	}

	hostname := hostnameFromURI(pickedSrv)
	dec := json.NewDecoder(resp.Body)
	block := new(configStreamBlock)
	if err := dec.Decode(block); err != nil {
		resp.Body.Close()
		return nil, err
	}

	cfg, err := parseClusterConfig(block.Bytes, hostname)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	// The streaming body stays open past the first document; httpLoop
	// owns draining it for subsequent updates. Here we only wanted the
	// first config, so close it — the looper will open its own stream.
	resp.Body.Close()
	return cfg, nil
}

// httpLoop holds a long-lived streaming connection to one management
// endpoint open, applying each newly pushed config document until the
// server disconnects or Config.HTTPRedialPeriod has elapsed since the
// stream was opened, then moves to the next endpoint. Grounded on
// Agent.httpLooper.
func (b *bootstrapper) httpLoop() {
	defer close(b.httpDone)

	seenNodes := make(map[string]uint64)
	var iterNum uint64 = 1
	iterSawConfig := false

	for {
		select {
		case <-b.closeNotify:
			return
		default:
		}

		data := b.router.current_()
		if data == nil {
			return
		}

		var pickedSrv string
		for _, srv := range data.mgmtEpList {
			if seenNodes[srv] >= iterNum {
				continue
			}
			pickedSrv = srv
			break
		}

		if pickedSrv == "" {
			if !iterSawConfig {
				select {
				case <-time.After(b.cfg.HTTPRetryDelay):
				case <-b.closeNotify:
					return
				}
			}
			iterNum++
			iterSawConfig = false
			continue
		}

		seenNodes[pickedSrv] = iterNum
		hostname := hostnameFromURI(pickedSrv)

		req, err := http.NewRequest("GET", fmt.Sprintf("%s/pools/default/bs/%s", pickedSrv, b.cfg.Bucket), nil)
		if err != nil {
			continue
		}
		if b.cfg.Auth != nil {
			if creds, err := b.cfg.Auth.Credentials(AuthCredsRequest{Service: MgmtService, Endpoint: pickedSrv}); err == nil {
				req.SetBasicAuth(creds.Username, creds.Password)
			}
		}

		resp, err := b.httpCli.Do(req)
		if err != nil {
			continue
		}

		var autoDisconnected int32
		done := make(chan struct{})
		go func() {
			select {
			case <-time.After(b.cfg.HTTPRedialPeriod):
			case <-b.closeNotify:
			case <-done:
				return
			}
			atomic.StoreInt32(&autoDisconnected, 1)
			resp.Body.Close()
		}()

		dec := json.NewDecoder(resp.Body)
		block := new(configStreamBlock)
		for {
			if err := dec.Decode(block); err != nil {
				if atomic.LoadInt32(&autoDisconnected) == 1 || err == io.EOF {
					break
				}
				b.cfg.Logger.Warnf("lcbook: http config stream decode failure: %v", err)
				break
			}

			cfg, err := parseClusterConfig(block.Bytes, hostname)
			if err != nil {
				break
			}
			iterSawConfig = true

			routeCfg := buildRouteConfig(cfg, b.cfg.TLSConfig != nil, b.cfg.NetworkType)
			if routeCfg.IsValid() {
				b.router.ApplyConfig(routeCfg)
			}
		}
		close(done)
	}
}
