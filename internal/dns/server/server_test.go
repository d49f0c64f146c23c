// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/internal/clock"
	"go.edgegate.dev/edgegate/internal/dns/handler"
	"go.edgegate.dev/edgegate/internal/markmap"
	"go.edgegate.dev/edgegate/internal/testutil"
)

func TestHandlerForMatchesDispatchCIDR(t *testing.T) {
	_, cidr, err := net.ParseCIDR("192.168.1.0/24")
	require.NoError(t, err)

	h1 := handler.New(1, 64, 30, markmap.NewMemSink(), clock.NewFake(time.Unix(0, 0)))
	s := New(nil, []DispatchEntry{{Net: cidr, Handler: h1}}, nil)

	require.Same(t, h1, s.handlerFor(net.ParseIP("192.168.1.50")))
	require.Nil(t, s.handlerFor(net.ParseIP("10.0.0.1")))
}

func TestHandlerForFallsBackToDefaultFlow(t *testing.T) {
	h1 := handler.New(1, 64, 30, markmap.NewMemSink(), clock.NewFake(time.Unix(0, 0)))
	s := New(nil, nil, h1)

	require.Same(t, h1, s.handlerFor(net.ParseIP("203.0.113.5")))
}

func TestRunServesQueryAndShutsDownOnCancel(t *testing.T) {
	h := handler.New(1, 64, 30, markmap.NewMemSink(), clock.NewFake(time.Unix(0, 0)))
	s := New([]string{"127.0.0.1:0"}, nil, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var addr net.Addr
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.conns) == 0 {
			return false
		}
		addr = s.conns[0].LocalAddr()
		return true
	}, time.Second, 10*time.Millisecond)

	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	packed, err := m.Pack()
	require.NoError(t, err)

	_, err = conn.Write(packed)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(buf[:n]))
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)

	cancel()
	require.NoError(t, <-done)
}

func TestRunBindsPort53InIsolatedNamespace(t *testing.T) {
	testutil.InNetworkNamespace(t, func() {
		h := handler.New(1, 64, 30, markmap.NewMemSink(), clock.NewFake(time.Unix(0, 0)))
		s := New([]string{"0.0.0.0:53"}, nil, h)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		require.Eventually(t, func() bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			return len(s.conns) == 1
		}, time.Second, 10*time.Millisecond)

		cancel()
		require.NoError(t, <-done)
	})
}
