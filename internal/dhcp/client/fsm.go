// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package client

import (
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"

	"go.edgegate.dev/edgegate/internal/types"
)

// fsmState is the client's mutable state: which phase it is in, the xid it
// expects replies to carry, and the lease fields accumulated so far. One
// flat struct instead of a per-phase sum type; phase gates which fields are
// meaningful.
type fsmState struct {
	phase types.DhcpState
	xid   dhcpv4.TransactionID

	ciaddr    net.IP
	yiaddr    net.IP
	siaddr    net.IP
	preferred net.IP

	// lastOptions holds the most recent server reply, used to read the
	// subnet mask, router, broadcast address and server identifier back out
	// when building renew/rebind packets or applying the bound lease.
	lastOptions *dhcpv4.DHCPv4

	sendTimes int

	renewAt  time.Time
	rebindAt time.Time
	leaseAt  time.Time
}

// freshDiscovering starts a new transaction. preferred, if set, is the
// address the client held before (restart after lease expiry or NAK) and is
// carried in the DISCOVER's requested-ip option as a hint to the server.
func freshDiscovering(preferred net.IP) fsmState {
	return fsmState{phase: types.StateDiscovering, xid: newXID(), preferred: preferred}
}

// canHandle reports whether the current phase accepts a reply of this
// DHCP message type. Discovering only takes offers; every requesting-flavored
// phase takes ACK or NAK.
func (s *fsmState) canHandle(mt dhcpv4.MessageType) bool {
	switch s.phase {
	case types.StateDiscovering:
		return mt == dhcpv4.MessageTypeOffer
	case types.StateRequesting, types.StateRenewing, types.StateRebind, types.StateWaitToRebind:
		return mt == dhcpv4.MessageTypeAck || mt == dhcpv4.MessageTypeNak
	default:
		return false
	}
}

// serverAddrForRenew returns the unicast destination for a Renewing-phase
// REQUEST: the server identifier from the bound lease's options, then siaddr,
// falling back to broadcast if neither is known. The broadcast fallback
// deviates from RFC 2131 §4.3.6, which says a renewing client unicasts; a
// server that never sent option 54 leaves no better target.
func (s *fsmState) serverAddrForRenew() net.IP {
	if s.lastOptions != nil {
		if sid := s.lastOptions.ServerIdentifier(); sid != nil && !sid.IsUnspecified() {
			return sid
		}
	}
	if s.siaddr != nil && !s.siaddr.IsUnspecified() {
		return s.siaddr
	}
	return net.IPv4bcast
}
