// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package types holds the data model shared across the DHCP client/server and
// DNS resolver/cache subsystems: the mark-map contract with the data plane,
// the DNS rule/cache value types, and the DHCPv4 client/server state shapes.
package types

import "net"

// FlowMarkInfo is the unit of data-plane state pushed through the Mark Map
// Sink: an address tagged with a mark at a given priority. Equality is
// structural so it can be used as a map/set key when diffing mark-map
// generations across a rule reload.
type FlowMarkInfo struct {
	IP       string
	Mark     uint32
	Priority uint8
}

// MarkKind enumerates the PacketMark tagged union's variants.
type MarkKind uint8

const (
	// MarkNone classifies no traffic; never written to the mark map.
	MarkNone MarkKind = iota
	// MarkDirect routes matching traffic directly (no redirect).
	MarkDirect
	// MarkDrop instructs the data plane to drop matching traffic.
	MarkDrop
	// MarkRedirect steers matching traffic to the rule identified by Index.
	MarkRedirect
)

// PacketMark is the tagged union the data plane consumes: one of
// {NoMark, Direct, Drop, Redirect(index)}.
type PacketMark struct {
	Kind  MarkKind
	Index uint32 // only meaningful when Kind == MarkRedirect
}

// NoMark is the zero-value, non-insertable mark.
var NoMark = PacketMark{Kind: MarkNone}

// DirectMark classifies matching traffic as direct.
var DirectMark = PacketMark{Kind: MarkDirect}

// DropMark classifies matching traffic as dropped.
var DropMark = PacketMark{Kind: MarkDrop}

// RedirectMark classifies matching traffic to be steered via the given rule index.
func RedirectMark(index uint32) PacketMark {
	return PacketMark{Kind: MarkRedirect, Index: index}
}

// NeedInsertInEBPFMap reports whether this mark variant must be written to
// the Mark Map Sink. Only NoMark is excluded.
func (m PacketMark) NeedInsertInEBPFMap() bool {
	return m.Kind != MarkNone
}

// AsUint32 renders the mark as the small integer the data plane keys its
// per-packet classification on. Redirect marks encode their rule index in the
// upper bits so the data plane can recover which rule produced the mark.
func (m PacketMark) AsUint32() uint32 {
	switch m.Kind {
	case MarkDirect:
		return 1
	case MarkDrop:
		return 2
	case MarkRedirect:
		return (m.Index << 8) | 3
	default:
		return 0
	}
}

// DnsRuntimeMarkInfo pairs a PacketMark with the priority at which it should
// be installed in the mark map.
type DnsRuntimeMarkInfo struct {
	Mark     PacketMark
	Priority uint8
}

// NeedInsertInEBPFMap delegates to the embedded mark.
func (d DnsRuntimeMarkInfo) NeedInsertInEBPFMap() bool {
	return d.Mark.NeedInsertInEBPFMap()
}

// FilterResult governs whether A/AAAA records of the off-family are stripped
// from a response before it is emitted to the client.
type FilterResult int

const (
	// Unfilter passes through both A and AAAA records.
	Unfilter FilterResult = iota
	// OnlyIPv4 strips AAAA records (and rejects AAAA queries outright).
	OnlyIPv4
	// OnlyIPv6 strips A records (and rejects A queries outright).
	OnlyIPv6
)

// Allows reports whether qtype (a dns.TypeA/dns.TypeAAAA style constant, or
// any other RR type) is permitted by this filter. Non-A/AAAA types are always
// allowed — the filter only governs address-family selection.
func (f FilterResult) Allows(qtypeIsA, qtypeIsAAAA bool) bool {
	switch f {
	case OnlyIPv4:
		return !qtypeIsAAAA
	case OnlyIPv6:
		return !qtypeIsA
	default:
		return true
	}
}

// MacAddr is a 6-octet hardware address.
type MacAddr [6]byte

// String renders the MAC in standard colon-hex form.
func (m MacAddr) String() string {
	return net.HardwareAddr(m[:]).String()
}

// MacFromHardwareAddr converts a net.HardwareAddr into a MacAddr, zero-padding
// or truncating to 6 bytes if the input is malformed.
func MacFromHardwareAddr(hw net.HardwareAddr) MacAddr {
	var m MacAddr
	copy(m[:], hw)
	return m
}
