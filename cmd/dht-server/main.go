// Runs a DHT node from the command line, either serving until interrupted or performing a single
// put, get or listen.
package main

import (
	"context"
	"errors"
	"fmt"
	stdLog "log"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anacrolix/dhtrunner"
	"github.com/anacrolix/dhtrunner/snapshotdb"
)

const snapshotName = "nodes"

var flags struct {
	Port            uint16   `help:"UDP port to bind, 0 for any"`
	Bootstrap       []string `help:"host:port of nodes to bootstrap from"`
	GlobalBootstrap bool     `default:"true" help:"fall back on the well-known bootstrap nodes"`
	StateDb         string   `help:"bbolt database to restore the node table from and save it to"`
	Debug           bool

	*ServeCmd  `arg:"subcommand:serve"`
	*PutCmd    `arg:"subcommand:put"`
	*GetCmd    `arg:"subcommand:get"`
	*ListenCmd `arg:"subcommand:listen"`
}

type ServeCmd struct {
	HttpAddr     string        `default:"localhost:6060" help:"address for /metrics and /debug/dht"`
	SaveInterval time.Duration `default:"5m" help:"how often to save the node table"`
}

type PutCmd struct {
	Key    string   `arg:"positional,required"`
	Values []string `arg:"positional" arity:"+"`
}

type GetCmd struct {
	Key string `arg:"positional,required"`
}

type ListenCmd struct {
	Key string `arg:"positional,required"`
}

func main() {
	defer envpprof.Stop()
	if err := mainErr(); err != nil {
		log.Printf("error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	stdLog.SetFlags(stdLog.Flags() | stdLog.Lshortfile)
	p := arg.MustParse(&flags)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	n, err := startNode(ctx)
	if err != nil {
		return err
	}
	defer n.close()
	switch {
	case flags.ServeCmd != nil:
		return serve(ctx, n)
	case flags.PutCmd != nil:
		for _, v := range flags.PutCmd.Values {
			if !<-n.r.PutAsync([]byte(flags.PutCmd.Key), []byte(v)) {
				return fmt.Errorf("putting %q", v)
			}
			fmt.Printf("put %s under %v\n", humanize.Bytes(uint64(len(v))), dhtrunner.HashKey([]byte(flags.PutCmd.Key)))
		}
		return nil
	case flags.GetCmd != nil:
		for v := range n.r.GetChan(ctx, []byte(flags.GetCmd.Key)) {
			fmt.Printf("%q\n", v)
		}
		return nil
	case flags.ListenCmd != nil:
		for v := range n.r.ListenChan(ctx, []byte(flags.ListenCmd.Key)) {
			fmt.Printf("%v: %q\n", time.Now().Format(time.RFC3339), v)
		}
		return nil
	default:
		p.Fail(fmt.Sprintf("unexpected subcommand: %v", p.Subcommand()))
		panic("unreachable")
	}
}

type node struct {
	r    *dhtrunner.Runner
	db   *snapshotdb.DB
	pump chan error
}

func startNode(ctx context.Context) (_ *node, err error) {
	cfg := dhtrunner.NewDefaultConfig()
	cfg.BootstrapNodes = flags.Bootstrap
	cfg.GlobalBootstrap = flags.GlobalBootstrap
	if flags.Debug {
		cfg.Logger = cfg.Logger.FilterLevel(log.Debug)
	}
	n := &node{
		r:    dhtrunner.New(cfg),
		pump: make(chan error, 1),
	}
	if flags.StateDb != "" {
		n.db, err = snapshotdb.Open(flags.StateDb)
		if err != nil {
			n.r.Close()
			return
		}
		err = n.restore()
		if err != nil {
			log.Levelf(log.Warning, "not restoring node table: %v", err)
		}
	}
	err = n.r.Run(flags.Port)
	if err != nil {
		n.close()
		return nil, err
	}
	go func() {
		n.pump <- n.r.PumpLoop(ctx)
	}()
	seeds, err := resolveSeeds(flags.Bootstrap)
	if err != nil {
		n.close()
		return nil, err
	}
	if !<-n.r.BootstrapAsync(seeds) {
		log.Levelf(log.Warning, "bootstrap found no nodes")
	}
	log.Levelf(log.Info, "node running on %v with %d nodes", n.r.Addr(), len(n.r.Nodes()))
	return n, nil
}

func (n *node) restore() error {
	b, err := n.db.Load(snapshotName)
	if errors.Is(err, snapshotdb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return n.r.Deserialize(b)
}

func (n *node) save() error {
	if n.db == nil {
		return nil
	}
	b, err := n.r.Snapshot()
	if err != nil {
		return err
	}
	return n.db.Save(snapshotName, b)
}

func (n *node) close() {
	n.r.Join()
	if err := n.save(); err != nil {
		log.Levelf(log.Warning, "saving node table: %v", err)
	}
	n.r.Close()
	if n.db != nil {
		n.db.Close()
	}
}

func resolveSeeds(hostPorts []string) (ret []netip.AddrPort, err error) {
	for _, hp := range hostPorts {
		var addr *net.UDPAddr
		addr, err = net.ResolveUDPAddr("udp", hp)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", hp, err)
		}
		ret = append(ret, addr.AddrPort())
	}
	return
}

func serve(ctx context.Context, n *node) error {
	prometheus.MustRegister(dhtrunner.NewStatsCollector(n.r))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/dht", func(w http.ResponseWriter, r *http.Request) {
		n.r.WriteStatus(w)
	})
	// envpprof registers /debug/pprof and expvar registers /debug/vars on the default mux.
	mux.Handle("/debug/", http.DefaultServeMux)
	srv := &http.Server{Addr: flags.ServeCmd.HttpAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Levelf(log.Error, "http server: %v", err)
		}
	}()
	defer srv.Close()
	t := time.NewTicker(flags.ServeCmd.SaveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			spew.Dump(n.r.Stats())
			return nil
		case err := <-n.pump:
			return err
		case <-t.C:
			if err := n.save(); err != nil {
				log.Levelf(log.Warning, "saving node table: %v", err)
			}
		}
	}
}
