// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package server

import (
	"encoding/binary"
	"net"
	"sync"

	"go.edgegate.dev/edgegate/internal/errors"
	"go.edgegate.dev/edgegate/internal/netutil"
	"go.edgegate.dev/edgegate/internal/types"
)

// offerValidTimeSeconds is how long a freshly-offered (not yet ACKed) lease
// is held before the expiry sweep reclaims it.
const offerValidTimeSeconds = 20

// LeaseTable is the DHCPv4 server's mac->lease map plus the allocated-IP set
// the deterministic allocator probes against. The owning server is the sole
// arbitrator of this table; every method takes its own lock.
type LeaseTable struct {
	rangeStart   uint32
	rangeEnd     uint32
	leaseSeconds uint32

	mu        sync.Mutex
	leases    map[string]types.DhcpServerLease // mac -> lease
	allocated map[uint32]string                // ip (uint32) -> mac
}

// NewLeaseTable builds an empty table over [rangeStart, rangeEnd] and seeds
// it with every static reservation.
func NewLeaseTable(rangeStart, rangeEnd net.IP, leaseSeconds uint32, reservations []Reservation) (*LeaseTable, error) {
	start := ipToUint32(rangeStart)
	end := ipToUint32(rangeEnd)
	if end < start {
		return nil, errors.Errorf(errors.KindValidation, "ip_range_end %s precedes ip_range_start %s", rangeEnd, rangeStart)
	}

	t := &LeaseTable{
		rangeStart:   start,
		rangeEnd:     end,
		leaseSeconds: leaseSeconds,
		leases:       make(map[string]types.DhcpServerLease),
		allocated:    make(map[uint32]string),
	}
	for _, r := range reservations {
		ipU32 := ipToUint32(r.IP)
		mac := r.MAC.String()
		t.leases[mac] = types.DhcpServerLease{IP: uint32ToBytes(ipU32), IsStatic: true}
		t.allocated[ipU32] = mac
	}
	return t, nil
}

// rangeCapacity is the number of addresses in [rangeStart, rangeEnd].
func (t *LeaseTable) rangeCapacity() uint32 {
	return t.rangeEnd - t.rangeStart + 1
}

// Allocate returns mac's address, allocating a fresh one via the seed-hash
// probe if mac has no lease yet: the same mac always lands on the same
// starting slot, so re-discovers are idempotent and neighbours rarely collide.
func (t *LeaseTable) Allocate(mac net.HardwareAddr, nowRelative uint64) (net.IP, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := mac.String()
	if existing, ok := t.leases[key]; ok {
		return ipFromBytes(existing.IP), nil
	}

	seed := netutil.Checksum32(mac)
	capacity := t.rangeCapacity()

	for {
		if uint32(len(t.allocated)) >= capacity {
			freed := t.sweepLocked(nowRelative)
			if freed == 0 {
				return nil, errors.Errorf(errors.KindUnavailable, "no addresses available in range")
			}
		}

		candidate := t.rangeStart + (seed % capacity)
		if _, taken := t.allocated[candidate]; taken {
			seed++
			continue
		}

		lease := types.DhcpServerLease{
			IP:                uint32ToBytes(candidate),
			RelativeOfferTime: nowRelative,
			ValidTimeSeconds:  offerValidTimeSeconds,
			IsStatic:          false,
		}
		t.leases[key] = lease
		t.allocated[candidate] = key
		return ipFromUint32(candidate), nil
	}
}

// Confirm processes a DHCPREQUEST: if mac's lease matches requestedIP (or
// requestedIP is unspecified, meaning renew-by-ciaddr), refresh the lease's
// clock — extending non-static leases to the configured duration — and
// return (ip, true). Otherwise return (nil, false), the caller's cue to NAK.
func (t *LeaseTable) Confirm(mac net.HardwareAddr, requestedIP net.IP, nowRelative uint64) (net.IP, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := mac.String()
	lease, ok := t.leases[key]
	if !ok {
		return nil, false
	}
	ip := ipFromBytes(lease.IP)
	if requestedIP != nil && !requestedIP.IsUnspecified() && !ip.Equal(requestedIP) {
		return nil, false
	}

	lease.RelativeOfferTime = nowRelative
	if !lease.IsStatic {
		lease.ValidTimeSeconds = t.leaseSeconds
	}
	t.leases[key] = lease
	return ip, true
}

// Release drops mac's lease if it is non-static and currently maps to
// releasedIP (or releasedIP is unspecified). Static reservations are never
// released; the binding belongs to the operator, not the client.
func (t *LeaseTable) Release(mac net.HardwareAddr, releasedIP net.IP) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := mac.String()
	lease, ok := t.leases[key]
	if !ok || lease.IsStatic {
		return false
	}
	ip := ipFromBytes(lease.IP)
	if releasedIP != nil && !releasedIP.IsUnspecified() && !ip.Equal(releasedIP) {
		return false
	}
	delete(t.leases, key)
	delete(t.allocated, ipToUint32FromBytes(lease.IP))
	return true
}

// Sweep drops every non-static lease whose valid-time window has passed as
// of nowRelative, returning how many were reclaimed.
func (t *LeaseTable) Sweep(nowRelative uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepLocked(nowRelative)
}

func (t *LeaseTable) sweepLocked(nowRelative uint64) int {
	freed := 0
	for mac, lease := range t.leases {
		if lease.Expired(nowRelative) {
			delete(t.leases, mac)
			delete(t.allocated, ipToUint32FromBytes(lease.IP))
			freed++
		}
	}
	return freed
}

// Lookup returns mac's current lease, if any, for tests and inspection.
func (t *LeaseTable) Lookup(mac net.HardwareAddr) (types.DhcpServerLease, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leases[mac.String()]
	return l, ok
}

// Len reports the number of leases currently held, for tests.
func (t *LeaseTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.leases)
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	return binary.BigEndian.Uint32(v4)
}

func ipToUint32FromBytes(b [4]byte) uint32 {
	return binary.BigEndian.Uint32(b[:])
}

func uint32ToBytes(v uint32) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b
}

// ipFromUint32 renders an absolute uint32 address as a net.IP.
func ipFromUint32(v uint32) net.IP {
	b := uint32ToBytes(v)
	return net.IPv4(b[0], b[1], b[2], b[3])
}

// ipFromBytes renders a lease's stored [4]byte address as a net.IP.
func ipFromBytes(b [4]byte) net.IP {
	return net.IPv4(b[0], b[1], b[2], b[3])
}
