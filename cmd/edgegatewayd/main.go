// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command edgegatewayd wires together the DHCPv4 client FSM, the DHCPv4
// server, and the DNS rule/cache resolver against one HCL configuration
// file. It runs in the foreground; process supervision belongs to the init
// system.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.edgegate.dev/edgegate/internal/config"
	"go.edgegate.dev/edgegate/internal/dns/geosite"
	"go.edgegate.dev/edgegate/internal/logging"
	"go.edgegate.dev/edgegate/internal/markmap"
	"go.edgegate.dev/edgegate/internal/routesvc"
)

func main() {
	configPath := flag.String("config", "/etc/edgegate/edgegate.hcl", "path to the HCL configuration file")
	markMapPin := flag.String("ebpf-map", "", "pinned bpf path for the mark-map sink; empty runs with an in-memory sink (no data plane attached)")
	addrMapPin := flag.String("ebpf-addr-map", "", "pinned bpf path for the WAN address map; empty runs with an in-memory map")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		logging.Error("failed to load config %s: %v", *configPath, err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.LogLevel)

	sink, err := buildSink(*markMapPin)
	if err != nil {
		logging.Error("failed to open mark map sink: %v", err)
		os.Exit(1)
	}
	addrMap, err := buildAddressMap(*addrMapPin)
	if err != nil {
		logging.Error("failed to open wan address map: %v", err)
		os.Exit(1)
	}

	routeSvc := routesvc.New()
	geoLoader := geosite.NewLoader()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApp(cfg, sink, addrMap, routeSvc, geoLoader)
	if err != nil {
		logging.Error("failed to build runtime: %v", err)
		os.Exit(1)
	}

	app.start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			app.reload(*configPath)
		default:
			logging.Info("received %s, shutting down", sig)
			cancel()
			app.stop()
			return
		}
	}
}

// buildSink opens the production eBPF-backed sink when a pin path is given,
// or an in-memory sink (dry-run / standalone-dev mode) otherwise.
func buildSink(pinPath string) (markmap.Sink, error) {
	if pinPath == "" {
		logging.Warn("no -ebpf-map given, running with an in-memory mark map sink (no data plane attached)")
		return markmap.NewMemSink(), nil
	}
	return markmap.OpenEBPFSink(pinPath)
}

// buildAddressMap opens the pinned WAN address map when a pin path is given,
// or an in-memory stand-in otherwise.
func buildAddressMap(pinPath string) (markmap.AddressMap, error) {
	if pinPath == "" {
		return markmap.NewMemAddressMap(), nil
	}
	return markmap.OpenEBPFAddressMap(pinPath)
}

func parseNetmask(s string) net.IPMask {
	ip := net.ParseIP(s)
	if ip == nil {
		return net.CIDRMask(24, 32)
	}
	v4 := ip.To4()
	if v4 == nil {
		return net.CIDRMask(24, 32)
	}
	return net.IPMask(v4)
}
