// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package routesvc implements the route service: a process-wide registry
// mapping interface name to the active WAN route (gateway, weight,
// default-route flag) and LAN route (CIDR, reachability). It is a pure
// in-process registry; the DHCP client owns the actual netlink calls and
// records the result here for other subsystems to read.
package routesvc

import (
	"net"
	"sync"

	"go.edgegate.dev/edgegate/internal/logging"
)

// ReachMode describes a LAN route's reachability.
type ReachMode int

const (
	Reachable ReachMode = iota
	Unreachable
)

// WanRoute is the active WAN route for one interface.
type WanRoute struct {
	IfIndex      int
	IfaceName    string
	GatewayIP    net.IP
	IfaceIP      net.IP
	Weight       int
	DefaultRoute bool
	Mac          net.HardwareAddr
}

// LanRoute is the active LAN route for one interface.
type LanRoute struct {
	IfaceName string
	IP        net.IP
	Prefix    int
	Mode      ReachMode
}

// Service is the process-wide route registry. Writers are serialized;
// readers get snapshot copies so a held return value never races a later
// writer.
type Service struct {
	mu  sync.RWMutex
	wan map[string]WanRoute
	lan map[string]LanRoute
	log *logging.Logger
}

// New returns an empty Route Service.
func New() *Service {
	return &Service{
		wan: make(map[string]WanRoute),
		lan: make(map[string]LanRoute),
		log: logging.WithComponent("routesvc"),
	}
}

// InsertWan installs or replaces iface's WAN route.
func (s *Service) InsertWan(iface string, r WanRoute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.IfaceName = iface
	s.wan[iface] = r
	s.log.Info("wan route installed", "iface", iface, "gateway", r.GatewayIP, "default", r.DefaultRoute)
}

// RemoveWan removes iface's WAN route, if any.
func (s *Service) RemoveWan(iface string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.wan, iface)
	s.log.Info("wan route removed", "iface", iface)
}

// InsertLan installs or replaces iface's LAN route.
func (s *Service) InsertLan(iface string, r LanRoute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.IfaceName = iface
	s.lan[iface] = r
	s.log.Info("lan route installed", "iface", iface, "cidr", cidrString(r))
}

// RemoveLan removes iface's LAN route, if any.
func (s *Service) RemoveLan(iface string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lan, iface)
	s.log.Info("lan route removed", "iface", iface)
}

// Wan returns a snapshot of iface's WAN route, if present.
func (s *Service) Wan(iface string) (WanRoute, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.wan[iface]
	return r, ok
}

// Lan returns a snapshot of iface's LAN route, if present.
func (s *Service) Lan(iface string) (LanRoute, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.lan[iface]
	return r, ok
}

// AllDefaultRouters returns every WAN route flagged as a default route,
// ordered by ascending weight, for default-route propagation.
func (s *Service) AllDefaultRouters() []WanRoute {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]WanRoute, 0, len(s.wan))
	for _, r := range s.wan {
		if r.DefaultRoute {
			out = append(out, r)
		}
	}
	// Simple insertion sort by weight: the candidate set is tiny (one entry
	// per WAN interface), so an O(n^2) sort avoids pulling in sort for a
	// handful of elements while staying deterministic.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Weight < out[j-1].Weight; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func cidrString(r LanRoute) string {
	if r.IP == nil {
		return ""
	}
	return (&net.IPNet{IP: r.IP, Mask: net.CIDRMask(r.Prefix, 32)}).String()
}
