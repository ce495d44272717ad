/*
Package dhtrunner runs a DHT node behind a flat, callback-driven interface suitable for exposing
across a foreign-function boundary.

A Runner owns the node's engine, the goroutines doing its work, and a single goroutine on which
every host callback runs. Operations are asynchronous: put, get and bootstrap complete exactly once
through a DoneFunc, and get and listen deliver values in batches through a GetFunc. The host
drives periodic maintenance by calling Loop whenever the deadline it last returned has passed.

Simple example:

	r := dhtrunner.New(nil)
	defer r.Close()
	if err := r.Run(4222); err != nil {
		log.Fatal(err)
	}
	<-r.BootstrapAsync(seeds)
	<-r.PutAsync([]byte("hello"), []byte("world"))
	for v := range r.GetChan(ctx, []byte("hello")) {
		log.Printf("%q", v)
	}
*/
package dhtrunner
