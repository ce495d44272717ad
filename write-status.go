package dhtrunner

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
)

type statusWriter struct {
	w    io.Writer
	line []any
}

func (me *statusWriter) f(fmtStr string, args ...any) {
	me.line = append(me.line, fmt.Sprintf(fmtStr, args...))
}

func (me *statusWriter) nl() {
	fmt.Fprintln(me.w, me.line...)
	me.line = nil
}

// Engines that can describe themselves for status pages.
type StatusWriter interface {
	WriteStatus(w io.Writer)
}

// Writes a human-readable description of the Runner for debug pages.
func (r *Runner) WriteStatus(w io.Writer) {
	r.mu.RLock()
	state := r.state
	e := r.engine
	r.mu.RUnlock()
	sw := statusWriter{w: w}
	sw.f("State: %v", state)
	sw.nl()
	if e != nil {
		sw.f("ID: %v", e.ID())
		sw.nl()
		sw.f("Address: %v", e.Addr())
		sw.nl()
	}
	spew.Fdump(w, r.Stats())

	nodes := r.Nodes()
	sw.f("Nodes (%d):", len(nodes))
	sw.nl()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "    Address\tID\n")
	for _, n := range nodes {
		fmt.Fprintf(tw, "    %v\t%v\n", n.Addr, n.ID)
	}
	tw.Flush()

	if esw, ok := e.(StatusWriter); ok {
		sw.nl()
		esw.WriteStatus(w)
	}
}
