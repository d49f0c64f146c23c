// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package handler implements the per-flow DNS request handler: the entry
// point that consults the redirect table, then the cache, then the rule
// chain, emitting a response and updating the cache and mark map along the
// way. Rules/redirects/cache are atomically-swappable handles so a query on
// the hot path never blocks on a concurrent reload.
package handler

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"

	"go.edgegate.dev/edgegate/internal/clock"
	"go.edgegate.dev/edgegate/internal/dns/cache"
	"go.edgegate.dev/edgegate/internal/dns/redirect"
	"go.edgegate.dev/edgegate/internal/dns/rule"
	"go.edgegate.dev/edgegate/internal/logging"
	"go.edgegate.dev/edgegate/internal/markmap"
	"go.edgegate.dev/edgegate/internal/types"
)

// Handler owns one flow-id's rule/redirect/cache state and answers queries
// the dispatch server classifies to that flow.
type Handler struct {
	flowID uint32
	sink   markmap.Sink
	clk    clock.Clock
	log    *logging.Logger

	// Metrics is an optional non-blocking channel; a full channel drops the
	// metric rather than stalling the query path.
	Metrics chan types.QueryMetric

	negativeCacheTTL atomic.Uint32
	cacheCapacity    atomic.Uint32

	rules     atomic.Pointer[[]*rule.Rule]
	redirects atomic.Pointer[redirect.Table]
	cache     atomic.Pointer[cache.Cache]
}

// New returns a Handler for flowID with an empty rule/redirect set and a
// fresh cache of the given capacity.
func New(flowID uint32, cacheCapacity, negativeCacheTTL uint32, sink markmap.Sink, clk clock.Clock) *Handler {
	h := &Handler{
		flowID: flowID,
		sink:   sink,
		clk:    clk,
		log:    logging.WithComponent("dns.handler").With("flow_id", flowID),
	}
	h.cacheCapacity.Store(cacheCapacity)
	h.negativeCacheTTL.Store(negativeCacheTTL)
	h.cache.Store(cache.New(cacheCapacity, clk))
	emptyRules := []*rule.Rule{}
	h.rules.Store(&emptyRules)
	h.redirects.Store(redirect.NewTable(nil))
	return h
}

// SetRules installs the initial rule set (ascending by Index). Use
// RenewRules, not this, once the handler is serving live traffic.
func (h *Handler) SetRules(rules []*rule.Rule) {
	sortByIndex(rules)
	h.rules.Store(&rules)
}

// SetRedirects installs the initial redirect table.
func (h *Handler) SetRedirects(t *redirect.Table) {
	h.redirects.Store(t)
}

func sortByIndex(rules []*rule.Rule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].Index < rules[j].Index })
}

// Handle answers one query: redirect pass, cache pass, rule pass, falling
// through to NoError-empty if nothing matched.
func (h *Handler) Handle(ctx context.Context, req *dns.Msg, srcIP string) *dns.Msg {
	start := h.clk.Now()

	if len(req.Question) == 0 {
		resp := new(dns.Msg)
		resp.SetRcode(req, dns.RcodeFormatError)
		return resp
	}

	q := req.Question[0]
	name := q.Name
	qtype := q.Qtype
	isA := qtype == dns.TypeA
	isAAAA := qtype == dns.TypeAAAA

	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.RecursionAvailable = true
	resp.Authoritative = true

	status := types.StatusNormal
	var answers []dns.RR

	if records, rstatus, _, ok := h.redirects.Load().Lookup(name, qtype); ok {
		if rstatus == redirect.StatusBlock {
			status = types.StatusBlock
			resp.Rcode = dns.RcodeSuccess
		} else {
			status = types.StatusLocal
			resp.Rcode = dns.RcodeSuccess
			answers = records
		}
		resp.Answer = answers
		h.emitMetric(q, resp.Rcode, status, start, srcIP, len(answers))
		return resp
	}

	key := types.DnsCacheKey{Name: name, Qtype: qtype}
	if entry, hit := h.cache.Load().Get(key); hit {
		resp.Rcode = entry.ResponseCode
		if !entry.Filter.Allows(isA, isAAAA) {
			status = types.StatusFilter
		} else {
			status = types.StatusHit
			answers = withRemainingTTL(filterRecords(entry.Records, entry.Filter), entry.RemainingTTL(h.clk.Now()))
		}
		resp.Answer = answers
		h.emitMetric(q, resp.Rcode, status, start, srcIP, len(answers))
		return resp
	}

	rules := *h.rules.Load()
	for _, r := range rules {
		if !r.IsMatch(name) {
			continue
		}
		if !r.Filter.Allows(isA, isAAAA) {
			resp.Rcode = dns.RcodeSuccess
			resp.Answer = nil
			h.emitMetric(q, resp.Rcode, types.StatusFilter, start, srcIP, 0)
			return resp
		}

		records, outcome, err := r.Lookup(ctx, name, qtype)
		switch outcome {
		case rule.OutcomeOK:
			minTTL := minRRTTL(records)
			entry := types.DnsCacheEntry{
				Records:      records,
				ResponseCode: dns.RcodeSuccess,
				InsertTime:   h.clk.Now(),
				MinTTL:       minTTL,
				Mark:         r.Mark,
				Filter:       r.Filter,
			}
			h.cache.Load().Insert(key, entry)
			h.pushMarks(records, r)
			resp.Rcode = dns.RcodeSuccess
			resp.Answer = filterRecords(records, r.Filter)
			h.emitMetric(q, resp.Rcode, types.StatusNormal, start, srcIP, len(records))
			return resp

		case rule.OutcomeNoRecords:
			h.cache.Load().Insert(key, types.DnsCacheEntry{
				ResponseCode: dns.RcodeSuccess,
				InsertTime:   h.clk.Now(),
				MinTTL:       h.negativeCacheTTL.Load(),
				Mark:         r.Mark,
				Filter:       r.Filter,
			})
			resp.Rcode = dns.RcodeSuccess
			h.emitMetric(q, resp.Rcode, types.StatusNormal, start, srcIP, 0)
			return resp

		case rule.OutcomeNXDomain:
			h.cache.Load().Insert(key, types.DnsCacheEntry{
				ResponseCode: dns.RcodeNameError,
				InsertTime:   h.clk.Now(),
				MinTTL:       h.negativeCacheTTL.Load(),
				Mark:         r.Mark,
				Filter:       r.Filter,
			})
			resp.Rcode = dns.RcodeNameError
			h.emitMetric(q, resp.Rcode, types.StatusNxDomain, start, srcIP, 0)
			return resp

		default: // OutcomeServFail
			if err != nil {
				h.log.Warn("upstream lookup failed", "name", name, "rule", r.ID, "error", err)
			}
			resp.Rcode = dns.RcodeServerFailure
			h.emitMetric(q, resp.Rcode, types.StatusError, start, srcIP, 0)
			return resp
		}
	}

	resp.Rcode = dns.RcodeSuccess
	h.emitMetric(q, resp.Rcode, types.StatusNormal, start, srcIP, 0)
	return resp
}

// pushMarks writes the (ip, mark) pairs for records to the sink, unless the
// rule's mark is not insertable.
func (h *Handler) pushMarks(records []dns.RR, r *rule.Rule) {
	if !r.Mark.NeedInsertInEBPFMap() {
		return
	}
	adds := recordsToMarks(records, r.Mark)
	if len(adds) > 0 {
		h.sink.Update(h.flowID, adds)
	}
}

func recordsToMarks(records []dns.RR, mark types.DnsRuntimeMarkInfo) []types.FlowMarkInfo {
	var adds []types.FlowMarkInfo
	for _, rr := range records {
		var ip string
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A.String()
		case *dns.AAAA:
			ip = v.AAAA.String()
		default:
			continue
		}
		adds = append(adds, types.FlowMarkInfo{IP: ip, Mark: mark.Mark.AsUint32(), Priority: mark.Priority})
	}
	return adds
}

// filterRecords strips address records of the family the filter excludes.
// Non-address records (CNAME, TXT, ...) always pass through.
func filterRecords(records []dns.RR, f types.FilterResult) []dns.RR {
	if f == types.Unfilter {
		return records
	}
	out := records[:0:0]
	for _, rr := range records {
		switch rr.(type) {
		case *dns.A:
			if f == types.OnlyIPv6 {
				continue
			}
		case *dns.AAAA:
			if f == types.OnlyIPv4 {
				continue
			}
		}
		out = append(out, rr)
	}
	return out
}

func withRemainingTTL(records []dns.RR, ttl uint32) []dns.RR {
	out := make([]dns.RR, len(records))
	for i, rr := range records {
		cp := dns.Copy(rr)
		cp.Header().Ttl = ttl
		out[i] = cp
	}
	return out
}

func minRRTTL(records []dns.RR) uint32 {
	if len(records) == 0 {
		return 0
	}
	min := records[0].Header().Ttl
	for _, rr := range records[1:] {
		if rr.Header().Ttl < min {
			min = rr.Header().Ttl
		}
	}
	return min
}

func (h *Handler) emitMetric(q dns.Question, rcode int, status types.ResponseStatus, start time.Time, srcIP string, answers int) {
	if h.Metrics == nil {
		return
	}
	m := types.QueryMetric{
		FlowID:     h.flowID,
		Name:       q.Name,
		Qtype:      q.Qtype,
		Rcode:      rcode,
		Status:     status,
		DurationMs: h.clk.Now().Sub(start).Milliseconds(),
		SrcIP:      srcIP,
		Answers:    answers,
	}
	select {
	case h.Metrics <- m:
	default:
	}
}

// RenewRules atomically replaces the rule set, redirect table, and cache:
//  1. Snapshot the live cache.
//  2. For every entry, find the first new rule matching its key's name;
//     entries matching none are dropped.
//  3. Migrated entries keep their records/insert_time/response_code but take
//     the new rule's mark/filter, and their min_ttl shrinks to at most 5s so
//     post-reload answers are quickly re-validated.
//  4. Refresh the mark map with the migrated (ip, mark) pairs, then swap in
//     the new rules/redirects/cache, then ask the sink to recreate its route
//     cache.
func (h *Handler) RenewRules(newRules []*rule.Rule, newRedirects *redirect.Table, cacheCapacity, negativeCacheTTL uint32) {
	sortByIndex(newRules)

	oldCache := h.cache.Load()
	oldEntries := oldCache.Iter()

	migrated := make(map[types.DnsCacheKey]types.DnsCacheEntry, len(oldEntries))
	var adds []types.FlowMarkInfo

	for key, oldEntry := range oldEntries {
		var matched *rule.Rule
		for _, r := range newRules {
			if r.IsMatch(key.Name) {
				matched = r
				break
			}
		}
		if matched == nil {
			continue
		}

		minTTL := oldEntry.MinTTL
		if minTTL > 5 {
			minTTL = 5
		}
		migratedEntry := types.DnsCacheEntry{
			Records:      oldEntry.Records,
			ResponseCode: oldEntry.ResponseCode,
			InsertTime:   oldEntry.InsertTime,
			MinTTL:       minTTL,
			Mark:         matched.Mark,
			Filter:       matched.Filter,
		}
		migrated[key] = migratedEntry

		// Refresh rebuilds the flow's table from scratch, so the only thing
		// that matters is whether the NEW mark is insertable; what the old
		// mark was falls out of the table either way.
		if matched.Mark.NeedInsertInEBPFMap() {
			adds = append(adds, recordsToMarks(oldEntry.Records, matched.Mark)...)
		}
	}

	newCache := cache.NewFromEntries(cacheCapacity, h.clk, migrated)

	h.sink.Refresh(h.flowID, adds)

	h.rules.Store(&newRules)
	h.redirects.Store(newRedirects)
	h.cache.Store(newCache)
	h.cacheCapacity.Store(cacheCapacity)
	h.negativeCacheTTL.Store(negativeCacheTTL)

	h.sink.RecreateRouteCache()
}
