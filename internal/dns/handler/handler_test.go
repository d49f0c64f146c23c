// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package handler

import (
	"context"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/internal/clock"
	"go.edgegate.dev/edgegate/internal/dns/redirect"
	"go.edgegate.dev/edgegate/internal/dns/rule"
	"go.edgegate.dev/edgegate/internal/markmap"
	"go.edgegate.dev/edgegate/internal/types"
)

func TestHandleNoQuestionRepliesFormErr(t *testing.T) {
	h := New(1, 1024, 30, markmap.NewMemSink(), clock.NewFake(time.Unix(0, 0)))
	req := new(dns.Msg)

	resp := h.Handle(context.Background(), req, "10.0.0.1")
	require.Equal(t, dns.RcodeFormatError, resp.Rcode)
}

func TestHandleRedirectBlockShortCircuits(t *testing.T) {
	h := New(1, 1024, 30, markmap.NewMemSink(), clock.NewFake(time.Unix(0, 0)))
	h.SetRedirects(redirect.NewTable([]*redirect.Entry{
		redirect.New("block", []types.DomainConfig{{MatchType: types.MatchFull, Value: "block.me"}}, true, nil),
	}))

	req := new(dns.Msg)
	req.SetQuestion("block.me.", dns.TypeA)

	resp := h.Handle(context.Background(), req, "10.0.0.1")
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Empty(t, resp.Answer)
}

func TestHandleFallsThroughToNoErrorEmptyWhenNoRuleMatches(t *testing.T) {
	h := New(1, 1024, 30, markmap.NewMemSink(), clock.NewFake(time.Unix(0, 0)))
	req := new(dns.Msg)
	req.SetQuestion("unmatched.example.", dns.TypeA)

	resp := h.Handle(context.Background(), req, "10.0.0.1")
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Empty(t, resp.Answer)
}

func TestHandleCacheHitReturnsAnswerWithRemainingTTL(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	h := New(1, 1024, 30, markmap.NewMemSink(), fake)

	key := types.DnsCacheKey{Name: "cached.example.", Qtype: dns.TypeA}
	rr, err := dns.NewRR("cached.example. 60 IN A 1.2.3.4")
	require.NoError(t, err)
	h.cache.Load().Insert(key, types.DnsCacheEntry{Records: []dns.RR{rr}, MinTTL: 60, InsertTime: fake.Now()})

	fake.Advance(10 * time.Second)
	req := new(dns.Msg)
	req.SetQuestion("cached.example.", dns.TypeA)

	resp := h.Handle(context.Background(), req, "10.0.0.1")
	require.Len(t, resp.Answer, 1)
	require.Equal(t, uint32(50), resp.Answer[0].Header().Ttl)
}

func TestHandleCacheHitFilteredQtypeReturnsEmpty(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	h := New(1, 1024, 30, markmap.NewMemSink(), fake)

	key := types.DnsCacheKey{Name: "v4only.example.", Qtype: dns.TypeAAAA}
	h.cache.Load().Insert(key, types.DnsCacheEntry{MinTTL: 60, InsertTime: fake.Now(), Filter: types.OnlyIPv4})

	req := new(dns.Msg)
	req.SetQuestion("v4only.example.", dns.TypeAAAA)

	resp := h.Handle(context.Background(), req, "10.0.0.1")
	require.Empty(t, resp.Answer)
}

func TestHandleRulePassFilteredQtypeSkipsUpstream(t *testing.T) {
	h := New(1, 1024, 30, markmap.NewMemSink(), clock.NewFake(time.Unix(0, 0)))
	// An unroutable upstream: if the handler tried to resolve, this test
	// would stall toward the 5s exchange timeout instead of returning at once.
	r := rule.New("v4only", 10, true, 1,
		[]types.DomainConfig{{MatchType: types.MatchDomain, Value: "v4only.example"}},
		"192.0.2.1", types.DnsRuntimeMarkInfo{Mark: types.DirectMark}, types.OnlyIPv4)
	h.SetRules([]*rule.Rule{r})

	req := new(dns.Msg)
	req.SetQuestion("v4only.example.", dns.TypeAAAA)

	start := time.Now()
	resp := h.Handle(context.Background(), req, "10.0.0.1")
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Empty(t, resp.Answer)

	_, cached := h.cache.Load().Get(types.DnsCacheKey{Name: "v4only.example.", Qtype: dns.TypeAAAA})
	require.False(t, cached, "filtered queries must not be cached")
}

func TestFilterRecordsStripsOffFamilyAddresses(t *testing.T) {
	a, err := dns.NewRR("dual.example. 60 IN A 1.2.3.4")
	require.NoError(t, err)
	aaaa, err := dns.NewRR("dual.example. 60 IN AAAA 2001:db8::1")
	require.NoError(t, err)
	cname, err := dns.NewRR("dual.example. 60 IN CNAME target.example.")
	require.NoError(t, err)
	records := []dns.RR{a, aaaa, cname}

	v4 := filterRecords(records, types.OnlyIPv4)
	require.ElementsMatch(t, []dns.RR{a, cname}, v4)

	v6 := filterRecords(records, types.OnlyIPv6)
	require.ElementsMatch(t, []dns.RR{aaaa, cname}, v6)

	require.Equal(t, records, filterRecords(records, types.Unfilter))
}

func TestRenewRulesDropsEntriesMatchingNoNewRule(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	sink := markmap.NewMemSink()
	h := New(1, 1024, 30, sink, fake)

	key := types.DnsCacheKey{Name: "stale.example.", Qtype: dns.TypeA}
	rr, err := dns.NewRR("stale.example. 60 IN A 1.2.3.4")
	require.NoError(t, err)
	h.cache.Load().Insert(key, types.DnsCacheEntry{Records: []dns.RR{rr}, MinTTL: 60, InsertTime: fake.Now()})

	h.RenewRules(nil, redirect.NewTable(nil), 1024, 30)

	_, ok := h.cache.Load().Get(key)
	require.False(t, ok)
}

func TestRenewRulesMigratesMatchingEntryWithNewMarkAndShrunkTTL(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	sink := markmap.NewMemSink()
	h := New(1, 1024, 30, sink, fake)

	key := types.DnsCacheKey{Name: "foo.example.", Qtype: dns.TypeA}
	rr, err := dns.NewRR("foo.example. 60 IN A 1.2.3.4")
	require.NoError(t, err)
	h.cache.Load().Insert(key, types.DnsCacheEntry{
		Records: []dns.RR{rr}, MinTTL: 600, InsertTime: fake.Now(),
		Mark: types.DnsRuntimeMarkInfo{Mark: types.DirectMark},
	})
	// Old mark was installed.
	sink.Update(1, []types.FlowMarkInfo{{IP: "1.2.3.4", Mark: types.DirectMark.AsUint32()}})

	newRule := rule.New("r", 10, true, 1, []types.DomainConfig{{MatchType: types.MatchDomain, Value: "foo.example"}},
		"", types.DnsRuntimeMarkInfo{Mark: types.DropMark}, types.Unfilter)

	h.RenewRules([]*rule.Rule{newRule}, redirect.NewTable(nil), 1024, 30)

	entry, ok := h.cache.Load().Get(key)
	require.True(t, ok)
	require.Equal(t, uint32(5), entry.MinTTL)
	require.Equal(t, types.DropMark, entry.Mark.Mark)

	snap := sink.Snapshot(1)
	require.Contains(t, snap, types.FlowMarkInfo{IP: "1.2.3.4", Mark: types.DropMark.AsUint32()})
	require.NotContains(t, snap, types.FlowMarkInfo{IP: "1.2.3.4", Mark: types.DirectMark.AsUint32()})
	require.Equal(t, 1, sink.Recreates)
}
