package dhtrunner

import (
	"fmt"
	"net/netip"

	"github.com/anacrolix/dht/v2/krpc"
)

func addrPortFromKrpcNodeAddr(na krpc.NodeAddr) (_ netip.AddrPort, err error) {
	addr, ok := netip.AddrFromSlice(na.IP)
	if !ok {
		err = fmt.Errorf("bad ip: %v", na.IP)
		return
	}
	if na.Port <= 0 || na.Port > 0xffff {
		err = fmt.Errorf("bad port: %v", na.Port)
		return
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(na.Port)), nil
}

func krpcNodeAddrFromAddrPort(addrPort netip.AddrPort) krpc.NodeAddr {
	return krpc.NodeAddr{
		IP:   addrPort.Addr().AsSlice(),
		Port: int(addrPort.Port()),
	}
}

func nodeInfoFromExport(n NodeExport) krpc.NodeInfo {
	return krpc.NodeInfo{
		ID:   krpc.ID(n.ID),
		Addr: krpcNodeAddrFromAddrPort(n.Addr),
	}
}

func exportFromNodeInfo(ni krpc.NodeInfo) (_ NodeExport, err error) {
	addr, err := addrPortFromKrpcNodeAddr(ni.Addr)
	if err != nil {
		return
	}
	return NodeExport{
		ID:   PeerID(ni.ID),
		Addr: addr,
	}, nil
}
