// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package types

import (
	"time"

	"github.com/miekg/dns"
)

// DomainMatchType enumerates the four ways a DomainConfig value can match a
// query name.
type DomainMatchType int

const (
	// MatchPlain matches if the query name contains value as a substring.
	MatchPlain DomainMatchType = iota
	// MatchRegex matches if value, compiled as a regular expression, matches the query name.
	MatchRegex
	// MatchDomain matches the query name exactly, or any dot-suffixed form of it
	// (e.g. value "example.com" matches "example.com" and "foo.example.com").
	MatchDomain
	// MatchFull matches the query name exactly (after lowercasing).
	MatchFull
)

// DomainConfig is a single match rule: a match type plus a pre-lowercased value.
type DomainConfig struct {
	MatchType DomainMatchType
	Value     string
}

// RuleSourceKind distinguishes a literal domain list from a named geo-set reference.
type RuleSourceKind int

const (
	// RuleSourceLiteral carries a DomainConfig directly.
	RuleSourceLiteral RuleSourceKind = iota
	// RuleSourceGeoKey names a geo-set resolved at rule-build time.
	RuleSourceGeoKey
)

// RuleSource is either a literal DomainConfig or a named geo-set reference,
// resolved against an external geo file by the geosite loader at build time.
type RuleSource struct {
	Kind   RuleSourceKind
	Config DomainConfig // valid when Kind == RuleSourceLiteral
	GeoKey string       // valid when Kind == RuleSourceGeoKey
}

// DnsCacheKey identifies a cache entry by lowercased query name and RR type.
type DnsCacheKey struct {
	Name  string
	Qtype uint16
}

// ResponseStatus classifies how a query was answered, surfaced only for
// metrics/logging — it never affects wire format.
type ResponseStatus int

const (
	StatusNormal ResponseStatus = iota
	StatusHit
	StatusFilter
	StatusBlock
	StatusLocal
	StatusNxDomain
	StatusError
)

// DnsCacheEntry is one cache entry: the answer records, the response code
// they were resolved under, and the mark/filter copied in at insertion time.
// Carrying scalars instead of a back-reference to the producing rule keeps
// entries valid across rule reloads. An entry with an empty Records slice is
// a negative cache entry.
type DnsCacheEntry struct {
	Records      []dns.RR
	ResponseCode int
	InsertTime   time.Time
	MinTTL       uint32
	Mark         DnsRuntimeMarkInfo
	Filter       FilterResult
}

// Expired reports whether this entry has aged out as of now. The boundary
// instant insert_time+min_ttl itself counts as expired.
func (e DnsCacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.InsertTime) >= time.Duration(e.MinTTL)*time.Second
}

// RemainingTTL returns the TTL to stamp on outgoing records: the floor TTL
// minus elapsed time, clamped to zero, never negative and never larger than
// MinTTL.
func (e DnsCacheEntry) RemainingTTL(now time.Time) uint32 {
	elapsed := now.Sub(e.InsertTime)
	if elapsed < 0 {
		return e.MinTTL
	}
	elapsedSec := uint32(elapsed / time.Second)
	if elapsedSec >= e.MinTTL {
		return 0
	}
	return e.MinTTL - elapsedSec
}

// QueryMetric is the optional per-query event emitted on the handler's
// metric channel.
type QueryMetric struct {
	FlowID     uint32
	Name       string
	Qtype      uint16
	Rcode      int
	Status     ResponseStatus
	DurationMs int64
	SrcIP      string
	Answers    int
}

// DhcpState names the DHCPv4 client FSM's states.
type DhcpState int

const (
	StateDiscovering DhcpState = iota
	StateRequesting
	StateBound
	StateRenewing
	StateWaitToRebind
	StateRebind
	StateStopping
	StateStop
)

func (s DhcpState) String() string {
	switch s {
	case StateDiscovering:
		return "Discovering"
	case StateRequesting:
		return "Requesting"
	case StateBound:
		return "Bound"
	case StateRenewing:
		return "Renewing"
	case StateWaitToRebind:
		return "WaitToRebind"
	case StateRebind:
		return "Rebind"
	case StateStopping:
		return "Stopping"
	case StateStop:
		return "Stop"
	default:
		return "Unknown"
	}
}

// DhcpServerLease is a DHCPv4-server mac->ip mapping with an expiry clock.
// Static entries (IsStatic) never expire.
type DhcpServerLease struct {
	IP                [4]byte
	RelativeOfferTime uint64 // seconds since server boot when last (re)offered/acked
	ValidTimeSeconds  uint32
	IsStatic          bool
}

// Expired reports whether the lease has aged out as of nowRelative (seconds
// since server boot). Static leases never expire.
func (l DhcpServerLease) Expired(nowRelative uint64) bool {
	if l.IsStatic {
		return false
	}
	return l.RelativeOfferTime+uint64(l.ValidTimeSeconds) < nowRelative
}

// DurationUntilExpiry is a convenience for logging/tests.
func (l DhcpServerLease) DurationUntilExpiry(nowRelative uint64) time.Duration {
	if l.IsStatic {
		return -1
	}
	expireAt := l.RelativeOfferTime + uint64(l.ValidTimeSeconds)
	if expireAt <= nowRelative {
		return 0
	}
	return time.Duration(expireAt-nowRelative) * time.Second
}
