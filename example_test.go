package dhtrunner_test

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/anacrolix/dhtrunner"
	"github.com/anacrolix/dhtrunner/memdht"
)

func Example() {
	net := memdht.NewNetwork()
	newRunner := func(port uint16) *dhtrunner.Runner {
		cfg := dhtrunner.NewDefaultConfig()
		cfg.NewEngine = net.NewEngine
		r := dhtrunner.New(cfg)
		if err := r.Run(port); err != nil {
			panic(err)
		}
		return r
	}
	a := newRunner(4222)
	defer a.Close()
	b := newRunner(4223)
	defer b.Close()

	fmt.Println(<-b.BootstrapAsync([]netip.AddrPort{netip.MustParseAddrPort("127.0.0.1:4222")}))
	fmt.Println(<-a.PutAsync([]byte("hello"), []byte("world")))
	for v := range b.GetChan(context.Background(), []byte("hello")) {
		fmt.Printf("%s\n", v)
	}
	// Output:
	// true
	// true
	// world
}
