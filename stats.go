package dhtrunner

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Stats struct {
	Running bool
	// Nodes in the engine's peer table.
	Nodes int
	// Active listen subscriptions.
	Listens    int
	Bootstraps Outcomes
	Puts       Outcomes
	Gets       Outcomes
	// Batches delivered to get and listen callbacks.
	GetBatches    int64
	ListenBatches int64
}

func (r *Runner) Stats() (ret Stats) {
	r.mu.RLock()
	ret.Running = r.state == stateRunning
	if r.engine != nil {
		ret.Nodes = len(r.engine.Nodes())
	}
	ret.Listens = len(r.subs)
	r.mu.RUnlock()
	ret.Bootstraps = r.stats.bootstraps.load()
	ret.Puts = r.stats.puts.load()
	ret.Gets = r.stats.gets.load()
	ret.GetBatches = r.stats.getBatches.Load()
	ret.ListenBatches = r.stats.listenBatches.Load()
	return
}

var (
	runningDesc = prometheus.NewDesc(
		"dhtrunner_running", "Whether the node is running.", nil, nil)
	nodesDesc = prometheus.NewDesc(
		"dhtrunner_nodes", "Nodes in the engine's peer table.", nil, nil)
	listensDesc = prometheus.NewDesc(
		"dhtrunner_listens", "Active listen subscriptions.", nil, nil)
	operationsDesc = prometheus.NewDesc(
		"dhtrunner_operations_total", "Completed operations.", []string{"op", "outcome"}, nil)
	batchesDesc = prometheus.NewDesc(
		"dhtrunner_value_batches_total", "Value batches delivered to callbacks.", []string{"op"}, nil)
)

type statsCollector struct {
	r *Runner
}

// Exposes the Runner's Stats as Prometheus metrics.
func NewStatsCollector(r *Runner) prometheus.Collector {
	return statsCollector{r}
}

func (me statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- runningDesc
	ch <- nodesDesc
	ch <- listensDesc
	ch <- operationsDesc
	ch <- batchesDesc
}

func (me statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := me.r.Stats()
	running := 0.0
	if s.Running {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(runningDesc, prometheus.GaugeValue, running)
	ch <- prometheus.MustNewConstMetric(nodesDesc, prometheus.GaugeValue, float64(s.Nodes))
	ch <- prometheus.MustNewConstMetric(listensDesc, prometheus.GaugeValue, float64(s.Listens))
	for _, op := range []struct {
		name string
		Outcomes
	}{
		{"bootstrap", s.Bootstraps},
		{"put", s.Puts},
		{"get", s.Gets},
	} {
		ch <- prometheus.MustNewConstMetric(
			operationsDesc, prometheus.CounterValue, float64(op.Succeeded), op.name, "succeeded")
		ch <- prometheus.MustNewConstMetric(
			operationsDesc, prometheus.CounterValue, float64(op.Failed), op.name, "failed")
	}
	ch <- prometheus.MustNewConstMetric(
		batchesDesc, prometheus.CounterValue, float64(s.GetBatches), "get")
	ch <- prometheus.MustNewConstMetric(
		batchesDesc, prometheus.CounterValue, float64(s.ListenBatches), "listen")
}
