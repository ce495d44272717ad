// Builds the DHT runner as a C library:
//
//	go build -buildmode=c-shared -o libdhtrunner.so ./cmd/libdhtrunner
//
// Handles are opaque 64-bit tokens. A stale or dropped token is rejected: int-returning calls
// return dhtStaleHandle, and calls taking a done callback complete it with false.
package main

/*
#include <stdbool.h>
#include <stdint.h>
#include <stdlib.h>
#include <sys/socket.h>
#include <netinet/in.h>

typedef void (*dht_done_cb)(bool success, void *ptr);
typedef bool (*dht_get_cb)(uint8_t **values, size_t *values_len, size_t value_count, void *ptr);
typedef void (*dht_push_cb)(const char *buf, size_t len, void *ptr);

static inline void call_done(dht_done_cb cb, bool success, void *ptr) {
	if (cb) cb(success, ptr);
}

static inline bool call_get(dht_get_cb cb, uint8_t **values, size_t *values_len, size_t value_count, void *ptr) {
	if (!cb) return true;
	return cb(values, values_len, value_count, ptr);
}

static inline void call_push(dht_push_cb cb, const char *buf, size_t len, void *ptr) {
	if (cb) cb(buf, len, ptr);
}
*/
import "C"

import (
	"errors"
	"net/netip"
	"unsafe"

	"github.com/anacrolix/log"

	"github.com/anacrolix/dhtrunner"
	"github.com/anacrolix/dhtrunner/handle"
)

const (
	dhtOk          = 0
	dhtStartupFail = 0xffff
	dhtDecodeFail  = 1
	dhtEncodeFail  = 2
	dhtStaleHandle = -1
)

var (
	logger  = log.Default.WithNames("libdhtrunner")
	runners handle.Table[*dhtrunner.Runner]
	subs    handle.Table[*dhtrunner.Subscription]
)

func main() {}

func lookup(h C.uint64_t) (*dhtrunner.Runner, bool) {
	r, err := runners.Get(handle.Handle(h))
	if err != nil {
		logger.Levelf(log.Warning, "%v", err)
		return nil, false
	}
	return r, true
}

func doneFunc(cb C.dht_done_cb, ptr unsafe.Pointer) dhtrunner.DoneFunc {
	return func(success bool) {
		C.call_done(cb, C.bool(success), ptr)
	}
}

// Copies each batch into C memory for the duration of the call.
func getFunc(cb C.dht_get_cb, ptr unsafe.Pointer) dhtrunner.GetFunc {
	return func(values [][]byte) bool {
		n := len(values)
		if n == 0 {
			return true
		}
		ptrs := (**C.uint8_t)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(uintptr(0)))))
		lens := (*C.size_t)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(C.size_t(0)))))
		ptrSlice := unsafe.Slice(ptrs, n)
		lenSlice := unsafe.Slice(lens, n)
		for i, v := range values {
			ptrSlice[i] = (*C.uint8_t)(C.CBytes(v))
			lenSlice[i] = C.size_t(len(v))
		}
		defer func() {
			for _, p := range ptrSlice {
				C.free(unsafe.Pointer(p))
			}
			C.free(unsafe.Pointer(ptrs))
			C.free(unsafe.Pointer(lens))
		}()
		return bool(C.call_get(cb, ptrs, lens, C.size_t(n), ptr))
	}
}

func goBytes(p *C.uint8_t, n C.size_t) []byte {
	if p == nil || n == 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(p), C.int(n))
}

// Converts the IPv4 and IPv6 entries. Others are skipped.
func sockaddrs(sa *C.struct_sockaddr_storage, count C.size_t) (ret []netip.AddrPort) {
	if sa == nil {
		return nil
	}
	entries := unsafe.Slice(sa, int(count))
	for i := range entries {
		ss := &entries[i]
		switch ss.ss_family {
		case C.AF_INET:
			sin := (*C.struct_sockaddr_in)(unsafe.Pointer(ss))
			ip := *(*[4]byte)(unsafe.Pointer(&sin.sin_addr))
			ret = append(ret, netip.AddrPortFrom(netip.AddrFrom4(ip), networkPort(unsafe.Pointer(&sin.sin_port))))
		case C.AF_INET6:
			sin6 := (*C.struct_sockaddr_in6)(unsafe.Pointer(ss))
			ip := *(*[16]byte)(unsafe.Pointer(&sin6.sin6_addr))
			ret = append(ret, netip.AddrPortFrom(netip.AddrFrom16(ip), networkPort(unsafe.Pointer(&sin6.sin6_port))))
		default:
			logger.Levelf(log.Debug, "skipping address family %v", ss.ss_family)
		}
	}
	return
}

func networkPort(p unsafe.Pointer) uint16 {
	b := (*[2]byte)(p)
	return uint16(b[0])<<8 | uint16(b[1])
}

//export dht_init
func dht_init() C.uint64_t {
	return C.uint64_t(runners.Insert(dhtrunner.New(nil)))
}

//export dht_run
func dht_run(h C.uint64_t, port C.uint16_t) C.int {
	r, ok := lookup(h)
	if !ok {
		return dhtStaleHandle
	}
	if err := r.Run(uint16(port)); err != nil {
		return dhtStartupFail
	}
	return dhtOk
}

//export dht_drop
func dht_drop(h C.uint64_t) {
	r, err := runners.Remove(handle.Handle(h))
	if err != nil {
		logger.Levelf(log.Warning, "dropping: %v", err)
		return
	}
	r.Close()
}

//export dht_is_running
func dht_is_running(h C.uint64_t) C.int {
	r, ok := lookup(h)
	if !ok || !r.IsRunning() {
		return 0
	}
	return 1
}

//export dht_join
func dht_join(h C.uint64_t) {
	if r, ok := lookup(h); ok {
		r.Join()
	}
}

//export dht_loop_ms
func dht_loop_ms(h C.uint64_t) C.uint64_t {
	r, ok := lookup(h)
	if !ok {
		return 0
	}
	return C.uint64_t(r.LoopMillis())
}

//export dht_bootstrap
func dht_bootstrap(h C.uint64_t, sa *C.struct_sockaddr_storage, count C.size_t, done C.dht_done_cb, donePtr unsafe.Pointer) {
	r, ok := lookup(h)
	if !ok {
		C.call_done(done, false, donePtr)
		return
	}
	r.Bootstrap(sockaddrs(sa, count), doneFunc(done, donePtr))
}

//export dht_put
func dht_put(h C.uint64_t, key *C.uint8_t, keyLen C.size_t, data *C.uint8_t, dataLen C.size_t, done C.dht_done_cb, donePtr unsafe.Pointer) {
	r, ok := lookup(h)
	if !ok {
		C.call_done(done, false, donePtr)
		return
	}
	r.Put(goBytes(key, keyLen), goBytes(data, dataLen), doneFunc(done, donePtr))
}

//export dht_get
func dht_get(h C.uint64_t, key *C.uint8_t, keyLen C.size_t, get C.dht_get_cb, getPtr unsafe.Pointer, done C.dht_done_cb, donePtr unsafe.Pointer) {
	r, ok := lookup(h)
	if !ok {
		C.call_done(done, false, donePtr)
		return
	}
	r.Get(goBytes(key, keyLen), getFunc(get, getPtr), doneFunc(done, donePtr))
}

// Returns a subscription token for dht_listen_cancel, or 0 if the handle is stale.
//
//export dht_listen
func dht_listen(h C.uint64_t, key *C.uint8_t, keyLen C.size_t, get C.dht_get_cb, getPtr unsafe.Pointer) C.uint64_t {
	r, ok := lookup(h)
	if !ok {
		return 0
	}
	s := r.Listen(goBytes(key, keyLen), getFunc(get, getPtr))
	token := subs.Insert(s)
	go func() {
		<-s.Ended()
		subs.Remove(token)
	}()
	return C.uint64_t(token)
}

// Cancelling an ended subscription does nothing.
//
//export dht_listen_cancel
func dht_listen_cancel(token C.uint64_t) {
	s, err := subs.Get(handle.Handle(token))
	if err != nil {
		return
	}
	s.Cancel()
}

// Calls push once with the encoded peer table. The buffer is only valid during the call.
//
//export dht_serialize
func dht_serialize(h C.uint64_t, push C.dht_push_cb, ptr unsafe.Pointer) C.int {
	r, ok := lookup(h)
	if !ok {
		return dhtStaleHandle
	}
	err := r.Serialize(func(b []byte) {
		buf := C.CBytes(b)
		defer C.free(buf)
		C.call_push(push, (*C.char)(buf), C.size_t(len(b)), ptr)
	})
	if err != nil {
		logger.Levelf(log.Warning, "serializing: %v", err)
		return dhtEncodeFail
	}
	return dhtOk
}

//export dht_deserialize
func dht_deserialize(h C.uint64_t, buf *C.char, n C.size_t) C.int {
	r, ok := lookup(h)
	if !ok {
		return dhtStaleHandle
	}
	err := r.Deserialize(C.GoBytes(unsafe.Pointer(buf), C.int(n)))
	if errors.Is(err, dhtrunner.ErrDecode) {
		return dhtDecodeFail
	}
	if err != nil {
		logger.Levelf(log.Warning, "deserializing: %v", err)
		return dhtStaleHandle
	}
	return dhtOk
}
