package lcbook

import (
	"fmt"
	"strings"
)

// routeConfig is the routing-relevant projection of a clusterConfig: the
// per-service endpoint lists plus whichever of VBucketMap/ketamaContinuum
// applies to this bucket's locator type.
type routeConfig struct {
	revID        int64
	uuid         string
	bktType      bucketType
	kvServerList []string
	mgmtEpList   []string
	capiEpList   []string
	n1qlEpList   []string
	vbMap        *VBucketMap
	ketamaMap    *ketamaContinuum
}

// IsValid reports whether this config has enough information to route any
// request at all.
func (rc *routeConfig) IsValid() bool {
	if len(rc.kvServerList) == 0 || len(rc.mgmtEpList) == 0 {
		return false
	}
	switch rc.bktType {
	case bktTypeCouchbase:
		return rc.vbMap != nil && rc.vbMap.IsValid()
	case bktTypeMemcached:
		return rc.ketamaMap != nil && rc.ketamaMap.IsValid()
	default:
		return false
	}
}

// buildRouteConfig projects a clusterConfig into a routeConfig, preferring
// the modern "nodesExt" services table over the legacy "nodes"/port-map
// shape when present.
func buildRouteConfig(cfg *clusterConfig, useSSL bool, networkType string) *routeConfig {
	var kvServerList, capiEpList, mgmtEpList, n1qlEpList []string
	var bktType bucketType

	switch cfg.NodeLocator {
	case "ketama":
		bktType = bktTypeMemcached
	case "vbucket":
		bktType = bktTypeCouchbase
	default:
		bktType = bktTypeInvalid
	}

	if cfg.NodesExt != nil {
		for _, node := range cfg.NodesExt {
			hostname := node.Hostname
			ports := node.Services

			if networkType != "" && networkType != "default" {
				alt, ok := node.AltAddresses[networkType]
				if !ok {
					continue
				}
				hostname = alt.Hostname
				if alt.Ports != nil {
					ports = *alt.Ports
				}
			}

			if hostname == "" {
				hostname = cfg.SourceHostname
			} else if strings.Contains(hostname, ":") {
				hostname = "[" + hostname + "]"
			}

			if !useSSL {
				if ports.Kv > 0 {
					kvServerList = append(kvServerList, fmt.Sprintf("%s:%d", hostname, ports.Kv))
				}
				if ports.Capi > 0 {
					capiEpList = append(capiEpList, fmt.Sprintf("http://%s:%d/%s", hostname, ports.Capi, cfg.Name))
				}
				if ports.Mgmt > 0 {
					mgmtEpList = append(mgmtEpList, fmt.Sprintf("http://%s:%d", hostname, ports.Mgmt))
				}
				if ports.N1ql > 0 {
					n1qlEpList = append(n1qlEpList, fmt.Sprintf("http://%s:%d", hostname, ports.N1ql))
				}
			} else {
				if ports.KvSsl > 0 {
					kvServerList = append(kvServerList, fmt.Sprintf("%s:%d", hostname, ports.KvSsl))
				}
				if ports.CapiSsl > 0 {
					capiEpList = append(capiEpList, fmt.Sprintf("https://%s:%d/%s", hostname, ports.CapiSsl, cfg.Name))
				}
				if ports.MgmtSsl > 0 {
					mgmtEpList = append(mgmtEpList, fmt.Sprintf("https://%s:%d", hostname, ports.MgmtSsl))
				}
				if ports.N1qlSsl > 0 {
					n1qlEpList = append(n1qlEpList, fmt.Sprintf("https://%s:%d", hostname, ports.N1qlSsl))
				}
			}
		}
	} else {
		if bktType == bktTypeCouchbase {
			kvServerList = cfg.VBucketServerMap.ServerList
		}

		for _, node := range cfg.Nodes {
			if node.CouchAPIBase != "" {
				capiEp := strings.SplitN(node.CouchAPIBase, "%2B", 2)[0]
				capiEpList = append(capiEpList, capiEp)
			}
			if node.Hostname != "" {
				mgmtEpList = append(mgmtEpList, fmt.Sprintf("http://%s", node.Hostname))
			}

			if bktType == bktTypeMemcached {
				host, err := hostFromHostPort(node.Hostname)
				if err != nil {
					continue
				}
				kvServerList = append(kvServerList, fmt.Sprintf("%s:%d", host, node.Ports["direct"]))
			}
		}
	}

	rc := &routeConfig{
		revID:        cfg.Rev,
		uuid:         cfg.UUID,
		kvServerList: kvServerList,
		capiEpList:   capiEpList,
		mgmtEpList:   mgmtEpList,
		n1qlEpList:   n1qlEpList,
		bktType:      bktType,
	}

	switch bktType {
	case bktTypeCouchbase:
		rc.vbMap = NewVBucketMap(cfg.VBucketServerMap.VBucketMap, cfg.VBucketServerMap.NumReplicas)
	case bktTypeMemcached:
		rc.ketamaMap = newKetamaContinuum(kvServerList)
	}

	return rc
}
