// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package markmap

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/cilium/ebpf"

	"go.edgegate.dev/edgegate/internal/logging"
)

// AddressMap is the data plane's per-interface WAN address/gateway table.
// The DHCP client publishes its acquired address here so egress programs can
// source-select and resolve the next hop without a routing lookup. Like
// Sink, failures never propagate to the caller.
type AddressMap interface {
	// AddIPv4WanIP records ifIndex's current WAN address, prefix length, and
	// optional gateway/mac.
	AddIPv4WanIP(ifIndex int, ip net.IP, gateway net.IP, prefix int, mac net.HardwareAddr)
	// DelWanIP removes ifIndex's entry.
	DelWanIP(ifIndex int)
}

// wanAddrValue is the eBPF map value layout for one WAN interface.
type wanAddrValue struct {
	IP      uint32 // big-endian IPv4
	Gateway uint32 // big-endian IPv4, 0 when absent
	Prefix  uint32
	Mac     [6]byte
	Pad     [2]byte
}

// EBPFAddressMap is the production AddressMap, backed by a pinned hash map
// keyed by interface index.
type EBPFAddressMap struct {
	mu  sync.Mutex
	m   *ebpf.Map
	log *logging.Logger
}

// OpenEBPFAddressMap loads the pinned WAN address map from pinPath.
func OpenEBPFAddressMap(pinPath string) (*EBPFAddressMap, error) {
	m, err := ebpf.LoadPinnedMap(pinPath, nil)
	if err != nil {
		return nil, err
	}
	return &EBPFAddressMap{m: m, log: logging.WithComponent("addrmap")}, nil
}

// AddIPv4WanIP writes ifIndex's WAN entry, replacing any previous one.
func (a *EBPFAddressMap) AddIPv4WanIP(ifIndex int, ip net.IP, gateway net.IP, prefix int, mac net.HardwareAddr) {
	v4 := ip.To4()
	if v4 == nil {
		a.log.Warn("skipping non-ipv4 wan address", "ifindex", ifIndex, "ip", ip)
		return
	}
	val := wanAddrValue{
		IP:     binary.BigEndian.Uint32(v4),
		Prefix: uint32(prefix),
	}
	if gw := gateway.To4(); gw != nil {
		val.Gateway = binary.BigEndian.Uint32(gw)
	}
	copy(val.Mac[:], mac)

	a.mu.Lock()
	defer a.mu.Unlock()
	key := uint32(ifIndex)
	if err := a.m.Update(&key, &val, ebpf.UpdateAny); err != nil {
		a.log.WithError(err).Error("wan address map update failed", "ifindex", ifIndex, "ip", ip)
	}
}

// DelWanIP removes ifIndex's WAN entry (best-effort).
func (a *EBPFAddressMap) DelWanIP(ifIndex int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := uint32(ifIndex)
	if err := a.m.Delete(&key); err != nil {
		a.log.WithError(err).Warn("wan address map delete failed", "ifindex", ifIndex)
	}
}

var _ AddressMap = (*EBPFAddressMap)(nil)

// WanAddrEntry is MemAddressMap's stored view of one interface, for tests.
type WanAddrEntry struct {
	IP      string
	Gateway string
	Prefix  int
	Mac     string
}

// MemAddressMap is the in-memory AddressMap used by tests and dry-run mode.
type MemAddressMap struct {
	mu      sync.Mutex
	entries map[int]WanAddrEntry
}

// NewMemAddressMap returns an empty in-memory address map.
func NewMemAddressMap() *MemAddressMap {
	return &MemAddressMap{entries: make(map[int]WanAddrEntry)}
}

// AddIPv4WanIP records ifIndex's WAN entry.
func (a *MemAddressMap) AddIPv4WanIP(ifIndex int, ip net.IP, gateway net.IP, prefix int, mac net.HardwareAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := WanAddrEntry{IP: ip.String(), Prefix: prefix}
	if gateway != nil {
		e.Gateway = gateway.String()
	}
	if mac != nil {
		e.Mac = mac.String()
	}
	a.entries[ifIndex] = e
}

// DelWanIP removes ifIndex's entry.
func (a *MemAddressMap) DelWanIP(ifIndex int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, ifIndex)
}

// Lookup returns ifIndex's entry, for test assertions.
func (a *MemAddressMap) Lookup(ifIndex int) (WanAddrEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[ifIndex]
	return e, ok
}

var _ AddressMap = (*MemAddressMap)(nil)
