package lcbook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPingReportMarshalJSONIncludesEachService(t *testing.T) {
	report := &PingReport{Services: []PingResult{
		{Endpoint: "node-a:11210", Latency: 5 * time.Millisecond},
		{Endpoint: "node-b:11210", Error: ErrTimeout, Latency: time.Second},
	}}

	raw, err := report.MarshalJSON()
	require.NoError(t, err)

	var decoded jsonPingReport
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, 1, decoded.Version)
	require.NotEmpty(t, decoded.ID)
	require.Len(t, decoded.KV, 2)
	require.True(t, decoded.KV[0].Success)
	require.False(t, decoded.KV[1].Success)
}

func TestPingReportMarshalJSONGeneratesFreshIDsEachTime(t *testing.T) {
	report := &PingReport{}
	raw1, _ := report.MarshalJSON()
	raw2, _ := report.MarshalJSON()

	var d1, d2 jsonPingReport
	require.NoError(t, json.Unmarshal(raw1, &d1))
	require.NoError(t, json.Unmarshal(raw2, &d2))
	require.NotEqual(t, d1.ID, d2.ID)
}
