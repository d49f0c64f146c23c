// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config provides the HCL configuration schema: the DHCPv4 client
// and server scopes, and the DNS rule/redirect/cache resolver. Field doc
// comments carry @default:/@enum: annotations describing the values the
// loader fills in when a field is left unset.
package config

// CurrentSchemaVersion identifies the configuration schema this package decodes.
const CurrentSchemaVersion = "1.0"

// Config is the top-level structure for the triad's configuration.
type Config struct {
	// Schema version for forward/backward compatibility.
	// @default: "1.0"
	SchemaVersion string `hcl:"schema_version,optional"`

	// Minimum logged level: debug, info, warn, error.
	// @default: "info"
	LogLevel string `hcl:"log_level,optional"`

	// Directory for any runtime state this process keeps (PID files, etc).
	// DHCP leases are never persisted here; they are in-memory only and
	// reconstructed after a restart.
	// @default: "/var/run/edgegate"
	StateDir string `hcl:"state_dir,optional"`

	Interfaces []Interface      `hcl:"interface,block"`
	DHCPClient []DHCPClient     `hcl:"dhcp_client,block"`
	DHCPServer []DHCPServerScope `hcl:"dhcp_server,block"`
	DNS        *DNS             `hcl:"dns,block"`
}

// Interface names a host NIC the triad is allowed to operate on.
type Interface struct {
	Name string `hcl:"name,label"`

	// Weight is decoded but not read by the daemon; every WAN route the
	// DHCP client registers carries weight 1.
	// @default: 0
	Weight int `hcl:"weight,optional"`
}

// DHCPClient configures one DHCPv4 client FSM instance.
type DHCPClient struct {
	Iface string `hcl:"iface,label"`

	// UDP port the client socket binds to.
	// @default: 68
	ClientPort int `hcl:"client_port,optional"`

	// Hostname sent in DHCP option 12.
	Hostname string `hcl:"hostname,optional"`

	// Whether an acquired gateway should be installed as this host's default
	// route (passed through to RouteService.InsertWan).
	// @default: false
	DefaultRoute bool `hcl:"default_route,optional"`

	// FlowID this interface's client-acquired WAN address is published
	// under when written to the Mark Map Sink.
	// @default: 0
	FlowID uint32 `hcl:"flow_id,optional"`
}

// DHCPServerScope configures one DHCPv4 server instance.
type DHCPServerScope struct {
	Iface string `hcl:"iface,label"`

	ServerIP    string `hcl:"server_ip"`
	NetworkMask string `hcl:"network_mask"`

	IPRangeStart string `hcl:"ip_range_start"`
	// @default: "" (the range is then the single address ip_range_start)
	IPRangeEnd string `hcl:"ip_range_end,optional"`

	// Lease duration offered to non-static clients.
	// @default: 43200
	AddressLeaseTimeSeconds uint32 `hcl:"address_lease_time_s,optional"`

	// DomainName sent to clients in DHCP option 15, if set.
	DomainName string `hcl:"domain_name,optional"`

	Reservations []Reservation `hcl:"reservation,block"`
}

// Reservation is a static mac->ip binding that never expires.
type Reservation struct {
	MAC string `hcl:"mac,label"`
	IP  string `hcl:"ip"`

	// ExpireTimeSeconds is decoded but not passed to the lease table; static
	// reservations never age out.
	// @default: 0
	ExpireTimeSeconds uint32 `hcl:"expire_time_s,optional"`
}

// DNS configures the resolver: rules, redirects, cache sizing, and dispatch.
type DNS struct {
	// @default: 65536
	CacheCapacity uint32 `hcl:"cache_capacity,optional"`
	// TTL given to negative cache entries: NXDOMAIN answers and NOERROR
	// answers with no records.
	// @default: 60
	NegativeCacheTTLSeconds uint32 `hcl:"negative_cache_ttl,optional"`

	// Path to a geosite text file (see internal/dns/geosite); empty disables
	// geo-set rule sources.
	GeoSiteFile string `hcl:"geosite_file,optional"`

	// Addresses this process listens for DNS queries on.
	// @default: ["0.0.0.0:53", "[::]:53"]
	ListenOn []string `hcl:"listen_on,optional"`

	// MetricsListen, if set, exposes Prometheus query metrics on this
	// address (e.g. "127.0.0.1:9153"). Empty disables the metrics endpoint.
	MetricsListen string `hcl:"metrics_listen,optional"`

	Rules     []Rule     `hcl:"rule,block"`
	Redirects []Redirect `hcl:"redirect,block"`

	// DispatchEntries classify inbound query source addresses into a flow_id.
	// Source address stands in for richer out-of-band classification (socket
	// mark, TOS, VLAN) that a plain UDP listener cannot observe portably.
	DispatchEntries []DispatchEntry `hcl:"dispatch,block"`
}

// DispatchEntry maps one source CIDR to the flow_id whose Handler should
// answer it.
type DispatchEntry struct {
	SourceCIDR string `hcl:"source_cidr,label"`
	FlowID     uint32 `hcl:"flow_id"`
}

// Rule is one resolution rule.
type Rule struct {
	ID string `hcl:"id,label"`

	Index  uint32 `hcl:"index"`
	Enable bool   `hcl:"enable,optional"`
	FlowID uint32 `hcl:"flow_id"`

	Match []MatchBlock `hcl:"match,block"`

	// Upstream DNS server, "ip:port" or bare ip (defaults to port 53). Empty
	// uses the built-in default upstream, 1.1.1.1:53.
	Upstream string `hcl:"upstream,optional"`

	// Mark is one of "none", "direct", "drop", or "redirect:<index>".
	// @default: "direct"
	Mark string `hcl:"mark,optional"`
	// @default: 0
	MarkPriority uint8 `hcl:"mark_priority,optional"`

	// Filter is one of "unfilter", "only_ipv4", "only_ipv6".
	// @default: "unfilter"
	Filter string `hcl:"filter,optional"`
}

// MatchBlock is one RuleSource: a literal domain match or a geo-set reference.
// Type is one of "plain", "regex", "domain", "full", "geo".
type MatchBlock struct {
	Type   string `hcl:"type,label"`
	Value  string `hcl:"value,optional"`
	GeoKey string `hcl:"geo_key,optional"`
}

// Redirect is one redirect table entry.
type Redirect struct {
	ID string `hcl:"id,label"`

	Match   []MatchBlock     `hcl:"match,block"`
	Block   bool             `hcl:"block,optional"`
	Records []RedirectRecord `hcl:"record,block"`
}

// RedirectRecord is one local answer record. Qtype is "A", "AAAA", "CNAME", "TXT".
type RedirectRecord struct {
	Qtype string `hcl:"qtype,label"`
	Value string `hcl:"value"`
	// @default: 60
	TTL uint32 `hcl:"ttl,optional"`
}
