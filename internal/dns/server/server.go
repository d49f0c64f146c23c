// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package server implements the DNS dispatch server: a UDP datagram
// listener that demultiplexes inbound queries to the Handler matching the
// query's flow classification, and writes the answer back to the same
// socket using the inbound source address.
//
// Flows could be classified from socket mark or TOS, but reading those
// needs ancillary-data (cmsg) plumbing net.PacketConn doesn't expose
// portably; source address is the one classification field a plain UDP
// listener reads directly, so dispatch here is a source-CIDR lookup table.
package server

import (
	"context"
	"net"
	"sync"

	"github.com/miekg/dns"

	"go.edgegate.dev/edgegate/internal/dns/handler"
	"go.edgegate.dev/edgegate/internal/logging"
)

// DispatchEntry maps one source CIDR to the Handler that should answer
// queries arriving from it.
type DispatchEntry struct {
	Net     *net.IPNet
	Handler *handler.Handler
}

// Server listens on one or more UDP addresses and dispatches queries by
// source address to the matching flow Handler.
type Server struct {
	listenAddrs []string
	dispatch    []DispatchEntry
	defaultFlow *handler.Handler // used when no dispatch entry matches, if set

	log *logging.Logger

	mu    sync.Mutex
	conns []net.PacketConn
}

// New returns a Server that will listen on listenAddrs and dispatch by
// dispatch in order; defaultFlow, if non-nil, answers queries from sources
// matching no entry instead of dropping them.
func New(listenAddrs []string, dispatch []DispatchEntry, defaultFlow *handler.Handler) *Server {
	return &Server{
		listenAddrs: listenAddrs,
		dispatch:    dispatch,
		defaultFlow: defaultFlow,
		log:         logging.WithComponent("dns.server"),
	}
}

func (s *Server) handlerFor(src net.IP) *handler.Handler {
	for _, d := range s.dispatch {
		if d.Net.Contains(src) {
			return d.Handler
		}
	}
	return s.defaultFlow
}

// Run opens every configured listen address and serves until ctx is
// cancelled, then closes all sockets and returns after the read loops exit.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, addr := range s.listenAddrs {
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			s.closeAll()
			return err
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		wg.Add(1)
		go func(conn net.PacketConn) {
			defer wg.Done()
			s.serve(ctx, conn)
		}(conn)
	}

	go func() {
		<-ctx.Done()
		s.closeAll()
	}()

	wg.Wait()
	return nil
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

// maxUDPMsgSize is the largest DNS-over-UDP datagram this server will read,
// generous enough for EDNS(0)-sized responses without needing TCP fallback.
const maxUDPMsgSize = 65535

func (s *Server) serve(ctx context.Context, conn net.PacketConn) {
	buf := make([]byte, maxUDPMsgSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.Warn("read error", "error", err)
				return
			}
		}

		req := new(dns.Msg)
		if err := req.Unpack(buf[:n]); err != nil {
			s.log.Warn("malformed packet dropped", "src", addr.String(), "error", err)
			continue
		}

		udpAddr, _ := addr.(*net.UDPAddr)
		var srcIP net.IP
		if udpAddr != nil {
			srcIP = udpAddr.IP
		}

		h := s.handlerFor(srcIP)
		if h == nil {
			s.log.Warn("no handler for source, dropping", "src", addr.String())
			continue
		}

		resp := h.Handle(ctx, req, addrIPString(addr))
		out, err := resp.Pack()
		if err != nil {
			s.log.Warn("failed to pack response", "error", err)
			continue
		}
		if _, err := conn.WriteTo(out, addr); err != nil {
			s.log.Warn("write error", "error", err)
		}
	}
}

func addrIPString(addr net.Addr) string {
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		return udpAddr.IP.String()
	}
	return addr.String()
}
