// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package server implements the DHCPv4 server: a per-interface
// lease-allocator offering deterministic seed-hashed addresses, honouring
// static reservations, and ACKing/NAKing requests.
package server

import (
	"context"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/vishvananda/netlink"

	"go.edgegate.dev/edgegate/internal/clock"
	"go.edgegate.dev/edgegate/internal/errors"
	"go.edgegate.dev/edgegate/internal/logging"
)

// defaultLeaseSeconds is used when a scope's configured lease time is zero.
const defaultLeaseSeconds = 43200

// Reservation is a static mac->ip binding that never expires.
type Reservation struct {
	MAC net.HardwareAddr
	IP  net.IP
}

// Config describes one interface scope the server leases addresses for.
type Config struct {
	Iface        string
	ServerIP     net.IP
	NetworkMask  net.IPMask
	RangeStart   net.IP
	RangeEnd     net.IP
	LeaseSeconds uint32
	Reservations []Reservation
	DNSServers   []net.IP
	DomainName   string
}

// Server runs one DHCPv4 server instance on Config.Iface until stopped.
type Server struct {
	cfg      Config
	leases   *LeaseTable
	clk      clock.Clock
	log      *logging.Logger
	bootTime time.Time
}

// New validates cfg and returns a Server ready to Run.
func New(cfg Config, clk clock.Clock) (*Server, error) {
	if cfg.LeaseSeconds == 0 {
		cfg.LeaseSeconds = defaultLeaseSeconds
	}
	leases, err := NewLeaseTable(cfg.RangeStart, cfg.RangeEnd, cfg.LeaseSeconds, cfg.Reservations)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		leases:   leases,
		clk:      clk,
		log:      logging.WithComponent("dhcp.server").With("iface", cfg.Iface),
		bootTime: clk.Now(),
	}, nil
}

// Run assigns the server's own address to the interface, binds :67, and
// serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.assignServerAddress(); err != nil {
		s.log.WithError(err).Warn("could not assign server address to interface")
	}

	conn, err := server4.NewIPv4UDPConn(s.cfg.Iface, &net.UDPAddr{IP: net.IPv4zero, Port: 67})
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "binding dhcp server socket on %s", s.cfg.Iface)
	}
	defer conn.Close()

	s.log.Info("serving", "range_start", s.cfg.RangeStart, "range_end", s.cfg.RangeEnd)

	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping")
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Warn("read error")
			continue
		}

		pkt, err := dhcpv4.FromBytes(buf[:n])
		if err != nil {
			continue
		}
		s.handle(conn, addr, pkt)
	}
}

// assignServerAddress sets the configured server_ip/mask on the interface,
// removing any existing address sharing the same prefix length first so a
// stale prior configuration can't shadow the new one.
func (s *Server) assignServerAddress() error {
	link, err := netlink.LinkByName(s.cfg.Iface)
	if err != nil {
		return err
	}
	prefixLen, _ := s.cfg.NetworkMask.Size()

	existing, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err == nil {
		for _, a := range existing {
			ones, _ := a.Mask.Size()
			if ones == prefixLen && !a.IP.Equal(s.cfg.ServerIP) {
				netlink.AddrDel(link, &a)
			}
		}
	}

	addr := &netlink.Addr{IPNet: &net.IPNet{IP: s.cfg.ServerIP, Mask: s.cfg.NetworkMask}}
	return netlink.AddrReplace(link, addr)
}

func (s *Server) handle(conn net.PacketConn, peer net.Addr, m *dhcpv4.DHCPv4) {
	switch m.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		s.handleDiscover(conn, peer, m)
	case dhcpv4.MessageTypeRequest:
		s.handleRequest(conn, peer, m)
	case dhcpv4.MessageTypeRelease:
		s.handleRelease(m)
	}
}

// handleRelease frees the client's lease immediately instead of waiting for
// the expiry sweep. Releases are never replied to.
func (s *Server) handleRelease(m *dhcpv4.DHCPv4) {
	if s.leases.Release(m.ClientHWAddr, m.ClientIPAddr) {
		s.log.Info("lease released", "mac", m.ClientHWAddr, "ip", m.ClientIPAddr)
	}
}

func (s *Server) handleDiscover(conn net.PacketConn, peer net.Addr, m *dhcpv4.DHCPv4) {
	ip, err := s.leases.Allocate(m.ClientHWAddr, s.nowRelative())
	if err != nil {
		s.log.Warn("discover dropped: no addresses available", "mac", m.ClientHWAddr)
		return
	}

	reply, err := dhcpv4.NewReplyFromRequest(m, s.offerModifiers(ip)...)
	if err != nil {
		s.log.WithError(err).Warn("failed to build offer")
		return
	}
	s.send(conn, peer, m, reply)
}

func (s *Server) handleRequest(conn net.PacketConn, peer net.Addr, m *dhcpv4.DHCPv4) {
	requested := m.RequestedIPAddress()
	if requested == nil || requested.IsUnspecified() {
		requested = m.ClientIPAddr
	}

	ip, ok := s.leases.Confirm(m.ClientHWAddr, requested, s.nowRelative())
	if !ok {
		nak, err := dhcpv4.NewReplyFromRequest(m,
			dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
			dhcpv4.WithServerIP(s.cfg.ServerIP),
		)
		if err != nil {
			s.log.WithError(err).Warn("failed to build nak")
			return
		}
		s.send(conn, peer, m, nak)
		return
	}

	ack, err := dhcpv4.NewReplyFromRequest(m, s.ackModifiers(ip)...)
	if err != nil {
		s.log.WithError(err).Warn("failed to build ack")
		return
	}
	s.send(conn, peer, m, ack)
}

func (s *Server) offerModifiers(yourIP net.IP) []dhcpv4.Modifier {
	mods := s.commonModifiers(yourIP)
	return append([]dhcpv4.Modifier{dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer)}, mods...)
}

func (s *Server) ackModifiers(yourIP net.IP) []dhcpv4.Modifier {
	mods := s.commonModifiers(yourIP)
	return append([]dhcpv4.Modifier{dhcpv4.WithMessageType(dhcpv4.MessageTypeAck)}, mods...)
}

func (s *Server) commonModifiers(yourIP net.IP) []dhcpv4.Modifier {
	mods := []dhcpv4.Modifier{
		dhcpv4.WithYourIP(yourIP),
		dhcpv4.WithServerIP(s.cfg.ServerIP),
		dhcpv4.WithRouter(s.cfg.ServerIP),
		dhcpv4.WithNetmask(s.cfg.NetworkMask),
		dhcpv4.WithLeaseTime(s.cfg.LeaseSeconds),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(s.cfg.ServerIP)),
	}
	if bcast := broadcastAddr(s.cfg.ServerIP, s.cfg.NetworkMask); bcast != nil {
		mods = append(mods, dhcpv4.WithOption(dhcpv4.OptBroadcastAddress(bcast)))
	}
	if len(s.cfg.DNSServers) > 0 {
		mods = append(mods, dhcpv4.WithDNS(s.cfg.DNSServers...))
	} else {
		mods = append(mods, dhcpv4.WithDNS(s.cfg.ServerIP))
	}
	if s.cfg.DomainName != "" {
		mods = append(mods, dhcpv4.WithOption(dhcpv4.OptDomainName(s.cfg.DomainName)))
	}
	return mods
}

// broadcastAddr computes the subnet's directed broadcast address.
func broadcastAddr(ip net.IP, mask net.IPMask) net.IP {
	v4 := ip.To4()
	if v4 == nil || len(mask) != 4 {
		return nil
	}
	out := make(net.IP, 4)
	for i := range out {
		out[i] = v4[i] | ^mask[i]
	}
	return out
}

// send replies broadcast when the request's broadcast flag is set, or the
// peer address is unspecified (0.0.0.0, the pre-address Discover/Request
// case); otherwise it unicasts to the peer.
func (s *Server) send(conn net.PacketConn, peer net.Addr, req, reply *dhcpv4.DHCPv4) {
	dest := peer
	udpAddr, ok := peer.(*net.UDPAddr)
	if req.IsBroadcast() || (ok && (udpAddr.IP.IsUnspecified() || udpAddr.IP.Equal(net.IPv4zero))) {
		dest = &net.UDPAddr{IP: net.IPv4bcast, Port: 68}
	}
	if _, err := conn.WriteTo(reply.ToBytes(), dest); err != nil {
		s.log.WithError(err).Warn("write error", "dest", dest)
	}
}

func (s *Server) nowRelative() uint64 {
	d := s.clk.Now().Sub(s.bootTime)
	if d < 0 {
		return 0
	}
	return uint64(d / time.Second)
}

// Leases exposes the lease table for inspection (metrics, admin surface).
func (s *Server) Leases() *LeaseTable {
	return s.leases
}
