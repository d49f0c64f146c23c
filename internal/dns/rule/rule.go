// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rule implements resolution rules: upstream-bound resolvers
// carrying a filter mode, a data-plane mark, and a compiled domain matcher,
// evaluated in ascending Index order by the request handler.
package rule

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"

	"go.edgegate.dev/edgegate/internal/dns/matcher"
	"go.edgegate.dev/edgegate/internal/netutil"
	"go.edgegate.dev/edgegate/internal/types"
)

// queryTimeout bounds every upstream exchange.
const queryTimeout = 5 * time.Second

// defaultUpstream is used when a rule's Upstream is empty.
const defaultUpstream = "1.1.1.1:53"

// Outcome classifies how Lookup resolved, so the handler can decide caching
// behavior without re-deriving it from an rcode.
type Outcome int

const (
	// OutcomeOK: records returned, cache as a positive entry.
	OutcomeOK Outcome = iota
	// OutcomeNoRecords: NOERROR with an empty answer section, cache as negative.
	OutcomeNoRecords
	// OutcomeNXDomain: upstream authoritatively says the name doesn't exist, cache as negative.
	OutcomeNXDomain
	// OutcomeServFail: transport/parse error or any other rcode, never cached.
	OutcomeServFail
)

// Rule is one compiled ResolutionRule.
type Rule struct {
	ID       string
	Index    uint32
	Enable   bool
	FlowID   uint32
	Upstream string
	Mark     types.DnsRuntimeMarkInfo
	Filter   types.FilterResult

	matcher *matcher.Matcher
}

// New compiles sources into a Matcher and returns a ready-to-evaluate Rule.
// An empty id gets a generated one so reload diffing and log lines always
// have a stable handle.
func New(id string, index uint32, enable bool, flowID uint32, sources []types.DomainConfig, upstream string, mark types.DnsRuntimeMarkInfo, filter types.FilterResult) *Rule {
	if id == "" {
		id = uuid.NewString()
	}
	return &Rule{
		ID:       id,
		Index:    index,
		Enable:   enable,
		FlowID:   flowID,
		Upstream: upstream,
		Mark:     mark,
		Filter:   filter,
		matcher:  matcher.New(sources),
	}
}

// IsMatch reports whether name falls within this rule's domain set.
func (r *Rule) IsMatch(name string) bool {
	return r.Enable && r.matcher.IsMatch(name)
}

// upstreamAddr normalizes Upstream to a host:port, defaulting the port to 53
// and falling back to defaultUpstream when unset.
func (r *Rule) upstreamAddr() string {
	addr := r.Upstream
	if addr == "" {
		return defaultUpstream
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return addr + ":53"
	}
	return addr
}

// Lookup resolves name/qtype against this rule's upstream, dialing the
// outgoing socket tagged with the rule's mark so the forwarded query is
// itself subject to the data plane's mark-based routing.
func (r *Rule) Lookup(ctx context.Context, name string, qtype uint16) ([]dns.RR, Outcome, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	client := &dns.Client{
		Net:     "udp",
		Timeout: queryTimeout,
		Dialer:  netutil.MarkDialer(r.Mark.Mark.AsUint32()),
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	resp, _, err := client.ExchangeContext(ctx, m, r.upstreamAddr())
	if err != nil {
		return nil, OutcomeServFail, err
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
		if len(resp.Answer) == 0 {
			return nil, OutcomeNoRecords, nil
		}
		return resp.Answer, OutcomeOK, nil
	case dns.RcodeNameError:
		return nil, OutcomeNXDomain, nil
	default:
		return nil, OutcomeServFail, nil
	}
}
