package dhtrunner_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/dhtrunner"
	"github.com/anacrolix/dhtrunner/memdht"
)

func TestStatsCollector(t *testing.T) {
	r, _ := newRunning(t, memdht.NewNetwork(), 0)
	assert.False(t, recv(t, r.BootstrapAsync(nil)))
	c := dhtrunner.NewStatsCollector(r)
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	assert.Equal(t, 11, testutil.CollectAndCount(c))
	err := testutil.CollectAndCompare(c, strings.NewReader(`
# HELP dhtrunner_running Whether the node is running.
# TYPE dhtrunner_running gauge
dhtrunner_running 1
`), "dhtrunner_running")
	assert.NoError(t, err)
	err = testutil.CollectAndCompare(c, strings.NewReader(`
# HELP dhtrunner_operations_total Completed operations.
# TYPE dhtrunner_operations_total counter
dhtrunner_operations_total{op="bootstrap",outcome="failed"} 1
dhtrunner_operations_total{op="bootstrap",outcome="succeeded"} 0
dhtrunner_operations_total{op="get",outcome="failed"} 0
dhtrunner_operations_total{op="get",outcome="succeeded"} 0
dhtrunner_operations_total{op="put",outcome="failed"} 0
dhtrunner_operations_total{op="put",outcome="succeeded"} 0
`), "dhtrunner_operations_total")
	assert.NoError(t, err)
}

func TestWriteStatus(t *testing.T) {
	net := memdht.NewNetwork()
	a, _ := newRunning(t, net, 4222)
	b, _ := newRunning(t, net, 4223)
	bootstrap(t, b, a)
	var sb strings.Builder
	b.WriteStatus(&sb)
	assert.Contains(t, sb.String(), "State: running")
	assert.Contains(t, sb.String(), "127.0.0.1:4222")
}
