// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package client

import (
	"math/rand"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

const broadcastFlag uint16 = 0x8000

// maxMessageSize advertised via option 57; matches the read buffer.
const maxMessageSize = 1500

// newXID returns a fresh 32-bit transaction id.
func newXID() dhcpv4.TransactionID {
	var xid dhcpv4.TransactionID
	rand.Read(xid[:])
	return xid
}

func requestedParams() []dhcpv4.OptionCode {
	return []dhcpv4.OptionCode{
		dhcpv4.OptionSubnetMask,
		dhcpv4.OptionRouter,
		dhcpv4.OptionDomainNameServer,
		dhcpv4.OptionDomainName,
		dhcpv4.OptionInterfaceMTU,
		dhcpv4.OptionBroadcastAddress,
		dhcpv4.OptionNTPServers,
		dhcpv4.OptionIPAddressLeaseTime,
		dhcpv4.OptionRenewTimeValue,
		dhcpv4.OptionRebindingTimeValue,
		dhcpv4.OptionServerIdentifier,
		dhcpv4.OptionDNSDomainSearchList,
	}
}

// commonClientOptions stamps the options every outgoing message carries:
// client identifier (hwtype + mac), hostname if configured, max message
// size, and the parameter request list.
func commonClientOptions(m *dhcpv4.DHCPv4, mac net.HardwareAddr, hostname string) {
	m.UpdateOption(dhcpv4.OptClientIdentifier(append([]byte{1}, mac...)))
	if hostname != "" {
		m.UpdateOption(dhcpv4.OptHostName(hostname))
	}
	m.UpdateOption(dhcpv4.OptMaxMessageSize(maxMessageSize))
	m.UpdateOption(dhcpv4.OptParameterRequestList(requestedParams()...))
}

// newDiscover builds a DHCPDISCOVER with the broadcast flag set. preferred,
// if non-nil, is carried as the requested-ip option so a server that still
// holds the old lease can re-offer it.
func newDiscover(xid dhcpv4.TransactionID, mac net.HardwareAddr, preferred net.IP, hostname string) (*dhcpv4.DHCPv4, error) {
	m, err := dhcpv4.New()
	if err != nil {
		return nil, err
	}
	m.OpCode = dhcpv4.OpcodeBootRequest
	m.HWType = 1 // ethernet
	m.ClientHWAddr = mac
	m.TransactionID = xid
	m.Flags = broadcastFlag
	m.UpdateOption(dhcpv4.OptMessageType(dhcpv4.MessageTypeDiscover))
	if preferred != nil && !preferred.IsUnspecified() {
		m.UpdateOption(dhcpv4.OptRequestedIPAddress(preferred))
	}
	commonClientOptions(m, mac, hostname)
	return m, nil
}

// newRequest builds a DHCPREQUEST. broadcast controls the flags bit; ciaddr
// is set for renew/rebind (unicast renewal carries a filled-in ciaddr),
// requestedIP/serverID are set for the initial SELECTING-state request.
func newRequest(xid dhcpv4.TransactionID, mac net.HardwareAddr, ciaddr, requestedIP, serverID net.IP, broadcast bool, hostname string) (*dhcpv4.DHCPv4, error) {
	m, err := dhcpv4.New()
	if err != nil {
		return nil, err
	}
	m.OpCode = dhcpv4.OpcodeBootRequest
	m.HWType = 1
	m.ClientHWAddr = mac
	m.TransactionID = xid
	if broadcast {
		m.Flags = broadcastFlag
	}
	if ciaddr != nil {
		m.ClientIPAddr = ciaddr
	}
	m.UpdateOption(dhcpv4.OptMessageType(dhcpv4.MessageTypeRequest))
	if requestedIP != nil {
		m.UpdateOption(dhcpv4.OptRequestedIPAddress(requestedIP))
	}
	if serverID != nil {
		m.UpdateOption(dhcpv4.OptServerIdentifier(serverID))
	}
	commonClientOptions(m, mac, hostname)
	return m, nil
}

// newRelease builds a DHCPRELEASE for the bound address, unicast to serverID.
// Releases carry no parameter request list and are never broadcast.
func newRelease(xid dhcpv4.TransactionID, mac net.HardwareAddr, ciaddr, serverID net.IP) (*dhcpv4.DHCPv4, error) {
	m, err := dhcpv4.New()
	if err != nil {
		return nil, err
	}
	m.OpCode = dhcpv4.OpcodeBootRequest
	m.HWType = 1
	m.ClientHWAddr = mac
	m.TransactionID = xid
	m.ClientIPAddr = ciaddr
	m.UpdateOption(dhcpv4.OptMessageType(dhcpv4.MessageTypeRelease))
	if serverID != nil {
		m.UpdateOption(dhcpv4.OptServerIdentifier(serverID))
	}
	m.UpdateOption(dhcpv4.OptClientIdentifier(append([]byte{1}, mac...)))
	return m, nil
}

// leaseTimers derives (renew, rebind, lease) durations from a server reply's
// options. Options 58/59 override the RFC defaults of lease/2 and lease*7/8.
func leaseTimers(m *dhcpv4.DHCPv4) (renew, rebind, lease time.Duration) {
	lease = m.IPAddressLeaseTime(2 * time.Hour)
	renew = m.IPAddressRenewalTime(lease / 2)
	rebind = m.IPAddressRebindingTime(lease * 7 / 8)
	return renew, rebind, lease
}
