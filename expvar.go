package dhtrunner

import (
	"expvar"
	"sync/atomic"
)

// Totals across all Runners in the process. Per-Runner figures are in Runner.Stats.
var expvars = expvar.NewMap("dhtrunner")

type Outcomes struct {
	Succeeded int64
	Failed    int64
}

type outcomeCounter struct {
	expvarName string
	succeeded  atomic.Int64
	failed     atomic.Int64
}

func (me *outcomeCounter) record(ok bool) {
	if ok {
		me.succeeded.Add(1)
		expvars.Add(me.expvarName+" succeeded", 1)
	} else {
		me.failed.Add(1)
		expvars.Add(me.expvarName+" failed", 1)
	}
}

func (me *outcomeCounter) load() Outcomes {
	return Outcomes{
		Succeeded: me.succeeded.Load(),
		Failed:    me.failed.Load(),
	}
}

type counters struct {
	bootstraps    outcomeCounter
	puts          outcomeCounter
	gets          outcomeCounter
	getBatches    atomic.Int64
	listenBatches atomic.Int64
}

func (me *counters) init() {
	me.bootstraps.expvarName = "bootstraps"
	me.puts.expvarName = "puts"
	me.gets.expvarName = "gets"
}
