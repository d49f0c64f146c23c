// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netutil holds small network helpers: MAC address parsing and
// formatting, the MAC seed checksum the DHCP server allocates from, and a
// dialer that tags outgoing sockets with SO_MARK.
package netutil

import (
	"fmt"
	"net"
)

// ParseMAC parses a MAC address string into its raw bytes.
func ParseMAC(macStr string) ([]byte, error) {
	hw, err := net.ParseMAC(macStr)
	if err != nil {
		return nil, err
	}
	return hw, nil
}

// FormatMAC renders a 6-byte MAC address as colon-separated hex.
func FormatMAC(mac []byte) string {
	if len(mac) != 6 {
		return ""
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

// GenerateVirtualMAC generates a deterministic locally-administered unicast MAC
// address based on the interface name.
// Prefix: 02:67:63 (Locally Administered).
func GenerateVirtualMAC(ifaceName string) []byte {
	hash := uint32(0)
	for _, c := range ifaceName {
		hash = hash*31 + uint32(c)
	}
	return []byte{
		0x02,
		0x67,
		0x63,
		byte(hash >> 16),
		byte(hash >> 8),
		byte(hash),
	}
}

// Checksum32 folds a 6-byte MAC address into a deterministic 32-bit seed via
// FNV-1a. The DHCPv4 server's allocator uses this seed modulo the lease
// range's capacity as the starting candidate index.
func Checksum32(mac net.HardwareAddr) uint32 {
	const offsetBasis uint32 = 2166136261
	const prime uint32 = 16777619
	h := offsetBasis
	for _, b := range mac {
		h ^= uint32(b)
		h *= prime
	}
	return h
}
