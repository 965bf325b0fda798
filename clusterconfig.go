package lcbook

import (
	"encoding/json"
	"net"
	"strings"
)

// clusterNode is a computer in the cluster, as reported by the legacy
// "nodes" array of a pools/bucket document.
type clusterNode struct {
	Hostname     string         `json:"hostname"`
	CouchAPIBase string         `json:"couchApiBase"`
	Ports        map[string]int `json:"ports"`
}

// clusterNodeServices is the per-service port table found in "nodesExt".
type clusterNodeServices struct {
	Kv      uint16 `json:"kv"`
	Capi    uint16 `json:"capi"`
	Mgmt    uint16 `json:"mgmt"`
	N1ql    uint16 `json:"n1ql"`
	KvSsl   uint16 `json:"kvSSL"`
	CapiSsl uint16 `json:"capiSSL"`
	MgmtSsl uint16 `json:"mgmtSSL"`
	N1qlSsl uint16 `json:"n1qlSSL"`
}

type clusterNodeAltAddress struct {
	Ports    *clusterNodeServices `json:"ports,omitempty"`
	Hostname string               `json:"hostname"`
}

type clusterNodeExt struct {
	Services     clusterNodeServices              `json:"services"`
	Hostname     string                            `json:"hostname"`
	AltAddresses map[string]clusterNodeAltAddress `json:"alternateAddresses"`
}

// vBucketServerMap is the vbucket-to-node mapping published for Couchbase
// (not memcached) buckets.
type vBucketServerMap struct {
	HashAlgorithm string   `json:"hashAlgorithm"`
	NumReplicas   int      `json:"numReplicas"`
	ServerList    []string `json:"serverList"`
	VBucketMap    [][]int  `json:"vBucketMap"`
}

// clusterConfig is the parsed form of a single bucket's pools/bs/$bucket
// (or CCCP) configuration document.
type clusterConfig struct {
	Rev              int64            `json:"rev"`
	SourceHostname   string           `json:"-"`
	Name             string           `json:"name"`
	NodeLocator      string           `json:"nodeLocator"`
	UUID             string           `json:"uuid"`
	Capabilities     []string         `json:"bucketCapabilities"`
	VBucketServerMap vBucketServerMap `json:"vBucketServerMap"`
	Nodes            []clusterNode    `json:"nodes"`
	NodesExt         []clusterNodeExt `json:"nodesExt,omitempty"`
}

func (cfg *clusterConfig) supports(cap string) bool {
	for _, c := range cfg.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

func (cfg *clusterConfig) supportsCccp() bool { return cfg.supports("cccp") }

// hostFromHostPort splits a host:port pair, wrapping IPv6 hosts in [].
func hostFromHostPort(hostport string) (string, error) {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", err
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]", nil
	}
	return host, nil
}

// reencodeConfig re-serializes a parsed clusterConfig, used to populate a
// ConfigCache after a successful bootstrap or refresh.
func reencodeConfig(cfg *clusterConfig) ([]byte, error) {
	return json.Marshal(cfg)
}

// parseClusterConfig decodes a configuration document, substituting
// "$HOST" placeholders (used by the server to refer to "the host you
// connected to") with the actual source host.
func parseClusterConfig(raw []byte, srcHost string) (*clusterConfig, error) {
	resolved := strings.Replace(string(raw), "$HOST", srcHost, -1)

	cfg := &clusterConfig{}
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, err
	}
	cfg.SourceHostname = srcHost
	return cfg, nil
}
