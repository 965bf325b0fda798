package lcbook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRouteConfigFromNodesExt(t *testing.T) {
	cfg := &clusterConfig{
		Rev:         4,
		UUID:        "uuid-1",
		NodeLocator: "vbucket",
		Name:        "default",
		NodesExt: []clusterNodeExt{
			{Hostname: "node-a", Services: clusterNodeServices{Kv: 11210, Mgmt: 8091}},
			{Hostname: "node-b", Services: clusterNodeServices{Kv: 11210, Mgmt: 8091}},
		},
		VBucketServerMap: vBucketServerMap{
			NumReplicas: 0,
			VBucketMap:  [][]int{{0}, {1}},
		},
	}

	rc := buildRouteConfig(cfg, false, "")
	require.True(t, rc.IsValid())
	require.Equal(t, bktTypeCouchbase, rc.bktType)
	require.Equal(t, []string{"node-a:11210", "node-b:11210"}, rc.kvServerList)
	require.Equal(t, []string{"http://node-a:8091", "http://node-b:8091"}, rc.mgmtEpList)
}

func TestBuildRouteConfigPrefersSSLPorts(t *testing.T) {
	cfg := &clusterConfig{
		NodeLocator: "vbucket",
		NodesExt: []clusterNodeExt{
			{Hostname: "node-a", Services: clusterNodeServices{KvSsl: 11207, MgmtSsl: 18091}},
		},
		VBucketServerMap: vBucketServerMap{VBucketMap: [][]int{{0}}},
	}

	rc := buildRouteConfig(cfg, true, "")
	require.Equal(t, []string{"node-a:11207"}, rc.kvServerList)
	require.Equal(t, []string{"https://node-a:18091"}, rc.mgmtEpList)
}

func TestBuildRouteConfigMemcachedUsesKetama(t *testing.T) {
	cfg := &clusterConfig{
		NodeLocator: "ketama",
		NodesExt: []clusterNodeExt{
			{Hostname: "node-a", Services: clusterNodeServices{Kv: 11210, Mgmt: 8091}},
		},
	}

	rc := buildRouteConfig(cfg, false, "")
	require.Equal(t, bktTypeMemcached, rc.bktType)
	require.NotNil(t, rc.ketamaMap)
	require.True(t, rc.IsValid())
}

func TestBuildRouteConfigAlternateAddresses(t *testing.T) {
	cfg := &clusterConfig{
		NodeLocator: "vbucket",
		NodesExt: []clusterNodeExt{
			{
				Hostname: "10.0.0.1",
				Services: clusterNodeServices{Kv: 11210, Mgmt: 8091},
				AltAddresses: map[string]clusterNodeAltAddress{
					"external": {Hostname: "public.example.com", Ports: &clusterNodeServices{Kv: 31000, Mgmt: 31001}},
				},
			},
		},
		VBucketServerMap: vBucketServerMap{VBucketMap: [][]int{{0}}},
	}

	rc := buildRouteConfig(cfg, false, "external")
	require.Equal(t, []string{"public.example.com:31000"}, rc.kvServerList)
	require.Equal(t, []string{"http://public.example.com:31001"}, rc.mgmtEpList)
}

func TestRouteConfigIsValidRequiresEndpoints(t *testing.T) {
	rc := &routeConfig{bktType: bktTypeCouchbase}
	require.False(t, rc.IsValid())
}
