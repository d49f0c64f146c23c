// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package server

import (
	"net"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/internal/clock"
)

// captureConn records every WriteTo call so tests can inspect the reply
// without a real socket.
type captureConn struct {
	net.PacketConn
	written []byte
	dest    net.Addr
}

func (c *captureConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.written = append([]byte{}, b...)
	c.dest = addr
	return len(b), nil
}
func (c *captureConn) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *captureConn) {
	t.Helper()
	cfg := Config{
		Iface:        "eth-test",
		ServerIP:     net.ParseIP("192.168.5.1"),
		NetworkMask:  net.CIDRMask(24, 32),
		RangeStart:   net.ParseIP("192.168.5.10"),
		RangeEnd:     net.ParseIP("192.168.5.20"),
		LeaseSeconds: 600,
	}
	s, err := New(cfg, clock.NewFake(time.Unix(1000, 0)))
	require.NoError(t, err)
	return s, &captureConn{}
}

func discoverPacket(t *testing.T, mac net.HardwareAddr) *dhcpv4.DHCPv4 {
	t.Helper()
	m, err := dhcpv4.NewDiscovery(mac)
	require.NoError(t, err)
	return m
}

func TestHandleDiscoverRepliesOfferWithAllocatedIP(t *testing.T) {
	s, conn := newTestServer(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:01")
	discover := discoverPacket(t, mac)

	s.handleDiscover(conn, &net.UDPAddr{IP: net.IPv4zero, Port: 68}, discover)

	require.NotEmpty(t, conn.written)
	reply, err := dhcpv4.FromBytes(conn.written)
	require.NoError(t, err)
	require.Equal(t, dhcpv4.MessageTypeOffer, reply.MessageType())
	require.True(t, ipInRange(reply.YourIPAddr, "192.168.5.10", "192.168.5.20"))
}

func TestHandleDiscoverDropsSilentlyWhenRangeExhausted(t *testing.T) {
	cfg := Config{
		Iface:        "eth-test",
		ServerIP:     net.ParseIP("192.168.5.1"),
		NetworkMask:  net.CIDRMask(24, 32),
		RangeStart:   net.ParseIP("192.168.5.10"),
		RangeEnd:     net.ParseIP("192.168.5.10"),
		LeaseSeconds: 600,
	}
	s, err := New(cfg, clock.NewFake(time.Unix(1000, 0)))
	require.NoError(t, err)
	conn := &captureConn{}

	macA, _ := net.ParseMAC("aa:bb:cc:dd:ee:01")
	s.handleDiscover(conn, &net.UDPAddr{IP: net.IPv4zero, Port: 68}, discoverPacket(t, macA))
	require.NotEmpty(t, conn.written)

	conn.written = nil
	macB, _ := net.ParseMAC("aa:bb:cc:dd:ee:02")
	s.handleDiscover(conn, &net.UDPAddr{IP: net.IPv4zero, Port: 68}, discoverPacket(t, macB))
	require.Empty(t, conn.written, "discover beyond capacity must be silently dropped")
}

func TestHandleRequestAcksMatchingRequestedIP(t *testing.T) {
	s, conn := newTestServer(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:01")

	s.handleDiscover(conn, &net.UDPAddr{IP: net.IPv4zero, Port: 68}, discoverPacket(t, mac))
	reply, err := dhcpv4.FromBytes(conn.written)
	require.NoError(t, err)
	offeredIP := reply.YourIPAddr

	req, err := dhcpv4.NewRequestFromOffer(reply)
	require.NoError(t, err)

	conn.written = nil
	s.handleRequest(conn, &net.UDPAddr{IP: net.IPv4zero, Port: 68}, req)

	ack, err := dhcpv4.FromBytes(conn.written)
	require.NoError(t, err)
	require.Equal(t, dhcpv4.MessageTypeAck, ack.MessageType())
	require.True(t, ack.YourIPAddr.Equal(offeredIP))
}

func TestHandleRequestNaksUnknownMac(t *testing.T) {
	s, conn := newTestServer(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:99")
	discover := discoverPacket(t, mac)
	discover.UpdateOption(dhcpv4.OptRequestedIPAddress(net.ParseIP("192.168.5.15")))

	s.handleRequest(conn, &net.UDPAddr{IP: net.IPv4zero, Port: 68}, discover)

	reply, err := dhcpv4.FromBytes(conn.written)
	require.NoError(t, err)
	require.Equal(t, dhcpv4.MessageTypeNak, reply.MessageType())
}

func TestHandleReleaseDropsLease(t *testing.T) {
	s, conn := newTestServer(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:01")

	s.handleDiscover(conn, &net.UDPAddr{IP: net.IPv4zero, Port: 68}, discoverPacket(t, mac))
	offer, err := dhcpv4.FromBytes(conn.written)
	require.NoError(t, err)

	release, err := dhcpv4.New()
	require.NoError(t, err)
	release.OpCode = dhcpv4.OpcodeBootRequest
	release.ClientHWAddr = mac
	release.ClientIPAddr = offer.YourIPAddr
	release.UpdateOption(dhcpv4.OptMessageType(dhcpv4.MessageTypeRelease))

	conn.written = nil
	s.handle(conn, &net.UDPAddr{IP: offer.YourIPAddr, Port: 68}, release)

	require.Empty(t, conn.written, "releases are never replied to")
	_, ok := s.Leases().Lookup(mac)
	require.False(t, ok)
}

func TestCommonModifiersIncludeBroadcastAddress(t *testing.T) {
	s, _ := newTestServer(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:01")

	reply, err := dhcpv4.NewReplyFromRequest(discoverPacket(t, mac), s.offerModifiers(net.ParseIP("192.168.5.12"))...)
	require.NoError(t, err)
	require.Equal(t, "192.168.5.255", reply.BroadcastAddress().String())
}

func TestSendBroadcastsWhenPeerUnspecified(t *testing.T) {
	s, conn := newTestServer(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:01")
	req := discoverPacket(t, mac)

	reply, err := dhcpv4.NewReplyFromRequest(req, dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer))
	require.NoError(t, err)
	s.send(conn, &net.UDPAddr{IP: net.IPv4zero, Port: 68}, req, reply)

	udpDest, ok := conn.dest.(*net.UDPAddr)
	require.True(t, ok)
	require.True(t, udpDest.IP.Equal(net.IPv4bcast))
}
