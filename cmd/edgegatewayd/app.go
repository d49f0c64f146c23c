// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.edgegate.dev/edgegate/internal/clock"
	"go.edgegate.dev/edgegate/internal/config"
	dhcpclient "go.edgegate.dev/edgegate/internal/dhcp/client"
	dhcpserver "go.edgegate.dev/edgegate/internal/dhcp/server"
	"go.edgegate.dev/edgegate/internal/dns/geosite"
	"go.edgegate.dev/edgegate/internal/dns/handler"
	"go.edgegate.dev/edgegate/internal/dns/metrics"
	"go.edgegate.dev/edgegate/internal/dns/redirect"
	"go.edgegate.dev/edgegate/internal/dns/rule"
	dnsserver "go.edgegate.dev/edgegate/internal/dns/server"
	"go.edgegate.dev/edgegate/internal/errors"
	"go.edgegate.dev/edgegate/internal/logging"
	"go.edgegate.dev/edgegate/internal/markmap"
	"go.edgegate.dev/edgegate/internal/routesvc"
	"go.edgegate.dev/edgegate/internal/services"
)

// app holds every long-running piece newApp wires from one config: a
// Handler per referenced flow-id, the DNS dispatch server, and the DHCPv4
// client/server instances, plus what reload needs to rebuild the DNS side.
type app struct {
	cfg       *config.Config
	sink      markmap.Sink
	addrMap   markmap.AddressMap
	routeSvc  *routesvc.Service
	geoLoader *geosite.Loader
	clk       clock.Clock
	log       *logging.Logger

	handlers  map[uint32]*handler.Handler
	dnsServer *dnsserver.Server
	collector *metrics.Collector

	dhcpClients []*dhcpclient.Client
	dhcpServers []*dhcpserver.Server

	svcs []services.Service
}

func newApp(cfg *config.Config, sink markmap.Sink, addrMap markmap.AddressMap, routeSvc *routesvc.Service, geoLoader *geosite.Loader) (*app, error) {
	a := &app{
		cfg:       cfg,
		sink:      sink,
		addrMap:   addrMap,
		routeSvc:  routeSvc,
		geoLoader: geoLoader,
		clk:       clock.Real{},
		log:       logging.WithComponent("edgegatewayd"),
		handlers:  make(map[uint32]*handler.Handler),
	}

	if err := a.buildDNS(); err != nil {
		return nil, err
	}
	if err := a.buildDHCPClients(); err != nil {
		return nil, err
	}
	if err := a.buildDHCPServers(); err != nil {
		return nil, err
	}
	return a, nil
}

// buildDNS compiles the rule/redirect/dispatch configuration into one
// Handler per distinct flow-id, plus the dispatch server that demultiplexes
// inbound queries to them by source address.
func (a *app) buildDNS() error {
	dnsCfg := a.cfg.DNS
	if dnsCfg == nil {
		return nil
	}

	rules, err := buildRules(dnsCfg, a.geoLoader)
	if err != nil {
		return err
	}
	redirects, err := buildRedirects(dnsCfg, a.geoLoader)
	if err != nil {
		return err
	}
	redirectTable := redirect.NewTable(redirects)

	flowIDs := map[uint32]struct{}{}
	for _, r := range rules {
		flowIDs[r.FlowID] = struct{}{}
	}
	for _, d := range dnsCfg.DispatchEntries {
		flowIDs[d.FlowID] = struct{}{}
	}

	if dnsCfg.MetricsListen != "" {
		a.collector = metrics.NewCollector(1024)
	}

	for flowID := range flowIDs {
		h := handler.New(flowID, dnsCfg.CacheCapacity, dnsCfg.NegativeCacheTTLSeconds, a.sink, a.clk)
		h.SetRules(rulesForFlow(rules, flowID))
		h.SetRedirects(redirectTable)
		if a.collector != nil {
			h.Metrics = a.collector.Channel()
		}
		a.handlers[flowID] = h
	}

	var dispatch []dnsserver.DispatchEntry
	var defaultHandler *handler.Handler
	for _, d := range dnsCfg.DispatchEntries {
		_, ipnet, err := net.ParseCIDR(d.SourceCIDR)
		if err != nil {
			return errors.Wrapf(err, errors.KindValidation, "dispatch %q", d.SourceCIDR)
		}
		dispatch = append(dispatch, dnsserver.DispatchEntry{Net: ipnet, Handler: a.handlers[d.FlowID]})
	}
	// A single-flow deployment (the common case: one DNS policy, no
	// per-subnet dispatch) answers every source from that one handler.
	if len(dispatch) == 0 && len(a.handlers) == 1 {
		for _, h := range a.handlers {
			defaultHandler = h
		}
	}

	listenOn := dnsCfg.ListenOn
	if len(listenOn) == 0 {
		listenOn = []string{"0.0.0.0:53", "[::]:53"}
	}
	a.dnsServer = dnsserver.New(listenOn, dispatch, defaultHandler)
	return nil
}

func (a *app) buildDHCPClients() error {
	for _, dc := range a.cfg.DHCPClient {
		iface, err := net.InterfaceByName(dc.Iface)
		if err != nil {
			return errors.Wrapf(err, errors.KindNotFound, "dhcp_client %q", dc.Iface)
		}
		cl := dhcpclient.New(dhcpclient.Config{
			IfIndex:          iface.Index,
			IfaceName:        dc.Iface,
			MAC:              iface.HardwareAddr,
			ClientPort:       dc.ClientPort,
			Hostname:         dc.Hostname,
			WantDefaultRoute: dc.DefaultRoute,
			FlowID:           dc.FlowID,
		}, a.routeSvc, a.sink, a.addrMap)
		a.dhcpClients = append(a.dhcpClients, cl)
	}
	return nil
}

func (a *app) buildDHCPServers() error {
	for _, ds := range a.cfg.DHCPServer {
		serverIP := net.ParseIP(ds.ServerIP)
		if serverIP == nil {
			return errors.Errorf(errors.KindValidation, "dhcp_server %q: invalid server_ip %q", ds.Iface, ds.ServerIP)
		}
		rangeStart := net.ParseIP(ds.IPRangeStart)
		if rangeStart == nil {
			return errors.Errorf(errors.KindValidation, "dhcp_server %q: invalid ip_range_start %q", ds.Iface, ds.IPRangeStart)
		}
		rangeEnd := rangeStart
		if ds.IPRangeEnd != "" {
			rangeEnd = net.ParseIP(ds.IPRangeEnd)
			if rangeEnd == nil {
				return errors.Errorf(errors.KindValidation, "dhcp_server %q: invalid ip_range_end %q", ds.Iface, ds.IPRangeEnd)
			}
		}

		var reservations []dhcpserver.Reservation
		for _, res := range ds.Reservations {
			mac, err := net.ParseMAC(res.MAC)
			if err != nil {
				return errors.Wrapf(err, errors.KindValidation, "dhcp_server %q: reservation mac %q", ds.Iface, res.MAC)
			}
			ip := net.ParseIP(res.IP)
			if ip == nil {
				return errors.Errorf(errors.KindValidation, "dhcp_server %q: reservation ip %q invalid", ds.Iface, res.IP)
			}
			reservations = append(reservations, dhcpserver.Reservation{MAC: mac, IP: ip})
		}

		srv, err := dhcpserver.New(dhcpserver.Config{
			Iface:        ds.Iface,
			ServerIP:     serverIP,
			NetworkMask:  parseNetmask(ds.NetworkMask),
			RangeStart:   rangeStart,
			RangeEnd:     rangeEnd,
			LeaseSeconds: ds.AddressLeaseTimeSeconds,
			Reservations: reservations,
			DNSServers:   []net.IP{serverIP},
			DomainName:   ds.DomainName,
		}, a.clk)
		if err != nil {
			return errors.Wrapf(err, errors.KindValidation, "dhcp_server %q", ds.Iface)
		}
		a.dhcpServers = append(a.dhcpServers, srv)
	}
	return nil
}

// registerServices wraps every long-running piece in the Service lifecycle so
// start/stop/reload treat them uniformly.
func (a *app) registerServices() {
	if a.collector != nil {
		addr := a.cfg.DNS.MetricsListen
		a.svcs = append(a.svcs, services.NewRunner("dns-metrics", func(ctx context.Context) error {
			go a.collector.Run(ctx)
			return a.collector.Serve(ctx, addr)
		}, nil))
	}
	if a.dnsServer != nil {
		a.svcs = append(a.svcs, services.NewRunner("dns", a.dnsServer.Run, a.reloadDNS))
	}
	for i, cl := range a.dhcpClients {
		a.svcs = append(a.svcs, services.NewRunner(fmt.Sprintf("dhcp-client.%s", a.cfg.DHCPClient[i].Iface), cl.Run, nil))
	}
	for i, srv := range a.dhcpServers {
		a.svcs = append(a.svcs, services.NewRunner(fmt.Sprintf("dhcp-server.%s", a.cfg.DHCPServer[i].Iface), srv.Run, nil))
	}
}

// start launches every registered service; a service that fails to start is
// logged but doesn't stop its siblings from coming up.
func (a *app) start(ctx context.Context) {
	a.registerServices()
	for _, svc := range a.svcs {
		if err := svc.Start(ctx); err != nil {
			a.log.WithError(err).Error("service failed to start", "service", svc.Name())
			continue
		}
		a.log.Info("service started", "service", svc.Name())
	}
}

// stop shuts services down in reverse start order: the DHCP servers and
// clients, registered last, stop first, then the DNS dispatch server and the
// metrics endpoint.
func (a *app) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(a.svcs) - 1; i >= 0; i-- {
		svc := a.svcs[i]
		if err := svc.Stop(ctx); err != nil {
			a.log.WithError(err).Warn("service did not stop cleanly", "service", svc.Name())
		}
	}
}

// reload re-reads configPath and offers the new configuration to every
// service; only the DNS service hot-applies it (rule/redirect/cache
// migration). DHCP client/server scopes stay on their start/stop lifecycle.
func (a *app) reload(configPath string) {
	a.log.Info("reloading configuration", "path", configPath)
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		a.log.WithError(err).Error("reload: failed to load config, keeping previous state")
		return
	}
	for _, svc := range a.svcs {
		restarted, err := svc.Reload(cfg)
		if err != nil {
			a.log.WithError(err).Error("reload failed", "service", svc.Name())
			continue
		}
		if restarted {
			a.log.Info("service restarted on reload", "service", svc.Name())
		}
	}
	a.cfg = cfg
	a.log.Info("reload complete")
}

// reloadDNS migrates every flow handler's rule/redirect/cache state to cfg.
func (a *app) reloadDNS(cfg *config.Config) (bool, error) {
	if cfg.DNS == nil {
		a.log.Warn("reload: no dns block in new config, skipping dns reload")
		return false, nil
	}

	rules, err := buildRules(cfg.DNS, a.geoLoader)
	if err != nil {
		return false, err
	}
	redirects, err := buildRedirects(cfg.DNS, a.geoLoader)
	if err != nil {
		return false, err
	}
	redirectTable := redirect.NewTable(redirects)

	for flowID, h := range a.handlers {
		h.RenewRules(rulesForFlow(rules, flowID), redirectTable, cfg.DNS.CacheCapacity, cfg.DNS.NegativeCacheTTLSeconds)
	}
	return false, nil
}

func rulesForFlow(rules []*rule.Rule, flowID uint32) []*rule.Rule {
	var out []*rule.Rule
	for _, r := range rules {
		if r.FlowID == flowID {
			out = append(out, r)
		}
	}
	return out
}
