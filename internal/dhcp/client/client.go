// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package client implements the DHCPv4 client FSM: WAN address
// acquisition and lease maintenance (discover/request/renew/rebind) for one
// interface, driven by a raw broadcast-capable UDP socket.
package client

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"
	"github.com/vishvananda/netlink"

	"go.edgegate.dev/edgegate/internal/logging"
	"go.edgegate.dev/edgegate/internal/markmap"
	"go.edgegate.dev/edgegate/internal/routesvc"
	"go.edgegate.dev/edgegate/internal/types"
)

const (
	baseTimeout         = 4 * time.Second
	maxDiscoverTimeouts = 4
	defaultClientPort   = 68
	serverPort          = 67
)

// Config names the interface and identity to acquire a lease for, plus
// whether a default route should be installed from it.
type Config struct {
	IfIndex          int
	IfaceName        string
	MAC              net.HardwareAddr
	ClientPort       int
	Hostname         string
	WantDefaultRoute bool

	// FlowID is the Mark Map Sink flow this interface's acquired WAN address
	// is published under as a direct (never redirected/dropped) entry, so the
	// data plane's own egress traffic on this address is never misclassified
	// by a DNS-driven mark meant for client traffic.
	FlowID uint32
}

// installedLease records what Bound actually changed on the system, so Stop
// can tear it down in reverse order.
type installedLease struct {
	addr *netlink.Addr
	mark *types.FlowMarkInfo
}

// Client runs the FSM for one interface until its context is cancelled.
type Client struct {
	cfg      Config
	routeSvc *routesvc.Service
	sink     markmap.Sink
	addrMap  markmap.AddressMap
	log      *logging.Logger
}

// New returns a Client ready to Run.
func New(cfg Config, routeSvc *routesvc.Service, sink markmap.Sink, addrMap markmap.AddressMap) *Client {
	if cfg.ClientPort == 0 {
		cfg.ClientPort = defaultClientPort
	}
	return &Client{
		cfg:      cfg,
		routeSvc: routeSvc,
		sink:     sink,
		addrMap:  addrMap,
		log:      logging.WithComponent("dhcp.client").With("iface", cfg.IfaceName),
	}
}

// Run acquires and maintains a lease until ctx is cancelled, tearing down
// every installed resource on exit.
func (c *Client) Run(ctx context.Context) error {
	c.log.Info("starting")

	prevRP, rpErr := disableRPFilter(c.cfg.IfaceName)
	if rpErr != nil {
		c.log.WithError(rpErr).Warn("could not disable rp_filter")
	}
	defer func() {
		if rpErr == nil {
			if err := restoreRPFilter(c.cfg.IfaceName, prevRP); err != nil {
				c.log.WithError(err).Warn("could not restore rp_filter")
			}
		}
	}()

	conn, err := nclient4.NewRawUDPConn(c.cfg.IfaceName, c.cfg.ClientPort)
	if err != nil {
		return fmt.Errorf("opening raw dhcp socket on %s: %w", c.cfg.IfaceName, err)
	}
	defer conn.Close()

	recvCh := make(chan *dhcpv4.DHCPv4, 64)
	go c.recvLoop(ctx, conn, recvCh)

	state := freshDiscovering(nil)
	timeoutTimes := 0
	var installed *installedLease
	defer func() {
		if installed != nil {
			c.teardown(conn, &state, installed)
		}
	}()

	c.sendCurrent(conn, &state)
	timer := time.NewTimer(c.nextTimeout(&state, timeoutTimes))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("stopping")
			return nil

		case <-timer.C:
			restart, err := c.onTimeout(conn, &state, &timeoutTimes)
			if err != nil {
				if installed == nil {
					return err
				}
				c.log.Warn("discover retry budget exhausted after an earlier lease, restarting discovery")
				restart = true
			}
			if restart {
				state = freshDiscovering(state.yiaddr)
				timeoutTimes = 0
				c.sendCurrent(conn, &state)
			}
			timer.Reset(c.nextTimeout(&state, timeoutTimes))

		case msg, ok := <-recvCh:
			if !ok {
				return nil
			}
			reset, newLease := c.onPacket(conn, &state, msg, installed)
			if newLease != nil {
				installed = newLease
			}
			if reset {
				timeoutTimes = 0
			}
			timer.Reset(c.nextTimeout(&state, timeoutTimes))
		}
	}
}

func (c *Client) recvLoop(ctx context.Context, conn net.PacketConn, out chan<- *dhcpv4.DHCPv4) {
	defer close(out)
	buf := make([]byte, 1500)
	for {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		msg, err := dhcpv4.FromBytes(buf[:n])
		if err != nil {
			c.log.WithError(err).Debug("dropping unparseable packet")
			continue
		}
		if msg.OpCode != dhcpv4.OpcodeBootReply {
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// nextTimeout computes the wait until the next event: the timer ladder while
// retransmitting, or the absolute renew/rebind deadline once bound.
func (c *Client) nextTimeout(s *fsmState, timeoutTimes int) time.Duration {
	switch s.phase {
	case types.StateBound:
		return max(time.Until(s.renewAt), time.Second)
	case types.StateWaitToRebind:
		return max(time.Until(s.rebindAt), time.Second)
	default:
		shift := timeoutTimes
		if shift > 10 {
			shift = 10
		}
		return baseTimeout * time.Duration(math.Pow(2, float64(shift)))
	}
}

// onTimeout retransmits the packet appropriate to the current phase and
// reports whether the FSM must restart with a fresh xid. A non-nil err means
// the Discovering retry budget was exhausted; Run ends the task on it when no
// lease has been bound yet, and restarts discovery otherwise. Requesting's
// budget exhaustion is not fatal: it just restarts discovery with a fresh xid.
func (c *Client) onTimeout(conn net.PacketConn, s *fsmState, timeoutTimes *int) (restart bool, err error) {
	switch s.phase {
	case types.StateDiscovering:
		*timeoutTimes++
		if *timeoutTimes > maxDiscoverTimeouts {
			return false, fmt.Errorf("discover retry budget exhausted on %s with no prior lease", c.cfg.IfaceName)
		}
		c.sendCurrent(conn, s)

	case types.StateRequesting:
		*timeoutTimes++
		if *timeoutTimes > maxDiscoverTimeouts {
			c.log.Warn("request retry budget exhausted, restarting")
			return true, nil
		}
		c.sendCurrent(conn, s)

	case types.StateWaitToRebind:
		c.log.Info("rebind deadline reached, entering Rebind")
		s.phase = types.StateRebind
		s.xid = newXID()
		c.sendCurrent(conn, s)

	case types.StateRebind:
		if time.Now().After(s.leaseAt) {
			c.log.Warn("lease expired during rebind, restarting discovery")
			return true, nil
		}
		c.sendCurrent(conn, s)

	case types.StateBound:
		c.log.Info("renew deadline reached, entering Renewing")
		s.phase = types.StateRenewing
		s.xid = newXID()
		s.sendTimes = 0
		*timeoutTimes = 0
		c.sendCurrent(conn, s)

	case types.StateRenewing:
		if renewFailed(s) {
			c.log.Warn("renewing failed past 5/6 of the renew-rebind window, entering WaitToRebind")
			s.phase = types.StateWaitToRebind
			return false, nil
		}
		c.sendCurrent(conn, s)

	default:
		c.sendCurrent(conn, s)
	}
	return false, nil
}

// renewFailed reports whether a Renewing-phase client has passed 5/6 of the
// renew-to-rebind window without a successful ACK. When renewAt and rebindAt
// coincide the window collapses to zero, so the very next retransmit timeout
// forces WaitToRebind immediately.
func renewFailed(s *fsmState) bool {
	gap := s.rebindAt.Sub(s.renewAt)
	if gap <= 0 {
		return true
	}
	threshold := s.renewAt.Add(gap * 5 / 6)
	return time.Now().After(threshold)
}

// sendCurrent transmits the outgoing packet for s.phase.
func (c *Client) sendCurrent(conn net.PacketConn, s *fsmState) {
	var msg *dhcpv4.DHCPv4
	var err error
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: serverPort}

	switch s.phase {
	case types.StateDiscovering:
		msg, err = newDiscover(s.xid, c.cfg.MAC, s.preferred, c.cfg.Hostname)

	case types.StateRequesting:
		msg, err = newRequest(s.xid, c.cfg.MAC, nil, s.yiaddr, serverIdentifier(s.lastOptions), true, c.cfg.Hostname)

	case types.StateRenewing:
		dst = &net.UDPAddr{IP: s.serverAddrForRenew(), Port: serverPort}
		msg, err = newRequest(s.xid, c.cfg.MAC, s.ciaddr, nil, nil, false, c.cfg.Hostname)

	case types.StateRebind:
		msg, err = newRequest(s.xid, c.cfg.MAC, s.ciaddr, nil, nil, true, c.cfg.Hostname)

	default:
		return
	}

	if err != nil {
		c.log.WithError(err).Error("building dhcp packet failed")
		return
	}
	if _, err := conn.WriteTo(msg.ToBytes(), dst); err != nil {
		c.log.WithError(err).Warn("sending dhcp packet failed")
	}
}

func serverIdentifier(m *dhcpv4.DHCPv4) net.IP {
	if m == nil {
		return nil
	}
	return m.ServerIdentifier()
}

// onPacket applies a received reply to the FSM. Returns (timersReset,
// newlyInstalledLease).
func (c *Client) onPacket(conn net.PacketConn, s *fsmState, msg *dhcpv4.DHCPv4, installed *installedLease) (bool, *installedLease) {
	if msg.TransactionID != s.xid {
		return false, nil
	}
	mt := msg.MessageType()
	if mt == dhcpv4.MessageTypeNone || !s.canHandle(mt) {
		return false, nil
	}

	switch s.phase {
	case types.StateDiscovering:
		if mt != dhcpv4.MessageTypeOffer {
			return false, nil
		}
		s.phase = types.StateRequesting
		s.ciaddr = msg.ClientIPAddr
		s.yiaddr = msg.YourIPAddr
		s.siaddr = msg.ServerIPAddr
		s.lastOptions = msg
		s.sendTimes = 0
		c.sendCurrent(conn, s)
		return true, nil

	case types.StateRequesting, types.StateRenewing, types.StateRebind:
		switch mt {
		case dhcpv4.MessageTypeAck:
			if s.yiaddr != nil && !s.yiaddr.IsUnspecified() && !msg.YourIPAddr.Equal(s.yiaddr) {
				c.log.Warn("ack yiaddr mismatch, ignoring", "got", msg.YourIPAddr, "want", s.yiaddr)
				return false, nil
			}
			return true, c.bind(s, msg)

		case dhcpv4.MessageTypeNak:
			c.log.Warn("received nak, restarting discovery")
			*s = freshDiscovering(nil)
			c.sendCurrent(conn, s)
			return true, nil
		}
	}
	return false, nil
}

// bind applies an ACK: installs the address, registers LAN/WAN routes, and
// transitions into Bound.
func (c *Client) bind(s *fsmState, msg *dhcpv4.DHCPv4) *installedLease {
	renew, rebind, lease := leaseTimers(msg)
	mask := msg.SubnetMask()
	if mask == nil {
		mask = net.CIDRMask(24, 32)
	}
	ones, _ := mask.Size()

	now := time.Now()
	*s = fsmState{
		phase:       types.StateBound,
		xid:         newXID(),
		ciaddr:      msg.ClientIPAddr,
		yiaddr:      msg.YourIPAddr,
		siaddr:      msg.ServerIPAddr,
		lastOptions: msg,
		renewAt:     now.Add(renew),
		rebindAt:    now.Add(rebind),
		leaseAt:     now.Add(lease),
	}

	link, err := netlink.LinkByName(c.cfg.IfaceName)
	if err != nil {
		c.log.WithError(err).Error("interface lookup failed during bind")
		return nil
	}

	addr := &netlink.Addr{IPNet: &net.IPNet{IP: msg.YourIPAddr, Mask: mask}}
	if bcast := msg.BroadcastAddress(); bcast != nil {
		addr.Broadcast = bcast
	}
	if err := netlink.AddrReplace(link, addr); err != nil {
		c.log.WithError(err).Error("installing address failed")
	}

	c.routeSvc.InsertLan(c.cfg.IfaceName, routesvc.LanRoute{
		IP:     msg.YourIPAddr,
		Prefix: ones,
		Mode:   routesvc.Reachable,
	})

	var gateway net.IP
	if routers := msg.Router(); len(routers) > 0 {
		gateway = routers[0]
		c.routeSvc.InsertWan(c.cfg.IfaceName, routesvc.WanRoute{
			IfIndex:      link.Attrs().Index,
			GatewayIP:    gateway,
			IfaceIP:      msg.YourIPAddr,
			Weight:       1,
			DefaultRoute: c.cfg.WantDefaultRoute,
			Mac:          c.cfg.MAC,
		})
	}

	if c.addrMap != nil {
		c.addrMap.AddIPv4WanIP(link.Attrs().Index, msg.YourIPAddr, gateway, ones, c.cfg.MAC)
	}

	mark := types.FlowMarkInfo{IP: msg.YourIPAddr.String(), Mark: types.DirectMark.AsUint32()}
	c.sink.Update(c.cfg.FlowID, []types.FlowMarkInfo{mark})

	// The data plane keys its forwarding path off this interface's current
	// WAN address; flush its cached view now that the address changed.
	c.sink.RecreateRouteCache()

	c.log.Info("bound", "ip", msg.YourIPAddr, "renew", renew, "rebind", rebind, "lease", lease)
	return &installedLease{addr: addr, mark: &mark}
}

// teardown undoes everything bind installed, in reverse order, after telling
// the server the address is free again.
func (c *Client) teardown(conn net.PacketConn, s *fsmState, installed *installedLease) {
	c.log.Info("tearing down")
	c.sendRelease(conn, s)
	if installed.mark != nil {
		c.sink.Delete(c.cfg.FlowID, []types.FlowMarkInfo{*installed.mark})
	}
	if c.addrMap != nil {
		c.addrMap.DelWanIP(c.cfg.IfIndex)
	}
	c.routeSvc.RemoveWan(c.cfg.IfaceName)
	c.routeSvc.RemoveLan(c.cfg.IfaceName)
	if link, err := netlink.LinkByName(c.cfg.IfaceName); err == nil && installed.addr != nil {
		if err := netlink.AddrDel(link, installed.addr); err != nil {
			c.log.WithError(err).Warn("removing address failed")
		}
	}
	c.sink.RecreateRouteCache()
}

// sendRelease unicasts a DHCPRELEASE for the held address. Best-effort: the
// lease would age out server-side anyway, so failures only get logged.
func (c *Client) sendRelease(conn net.PacketConn, s *fsmState) {
	if s.yiaddr == nil || s.yiaddr.IsUnspecified() {
		return
	}
	dst := s.serverAddrForRenew()
	if dst.Equal(net.IPv4bcast) {
		return
	}
	msg, err := newRelease(newXID(), c.cfg.MAC, s.yiaddr, serverIdentifier(s.lastOptions))
	if err != nil {
		c.log.WithError(err).Warn("building release failed")
		return
	}
	if _, err := conn.WriteTo(msg.ToBytes(), &net.UDPAddr{IP: dst, Port: serverPort}); err != nil {
		c.log.WithError(err).Warn("sending release failed")
	}
}
