// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"go.edgegate.dev/edgegate/internal/config"
	"go.edgegate.dev/edgegate/internal/dns/geosite"
	"go.edgegate.dev/edgegate/internal/dns/redirect"
	"go.edgegate.dev/edgegate/internal/dns/rule"
	"go.edgegate.dev/edgegate/internal/errors"
	"go.edgegate.dev/edgegate/internal/types"
)

// buildDomainConfigs resolves a rule's or redirect's match blocks into the
// flat []DomainConfig the matcher compiles against, expanding any "geo"
// block through geoLoader against the configured geosite file.
func buildDomainConfigs(matches []config.MatchBlock, geoLoader *geosite.Loader, geoFile string) ([]types.DomainConfig, error) {
	var out []types.DomainConfig
	for _, m := range matches {
		if m.Type == "geo" {
			if geoFile == "" {
				return nil, errors.Errorf(errors.KindValidation, "match geo %q used but dns.geosite_file is not configured", m.GeoKey)
			}
			sets, err := geoLoader.Load(geoFile)
			if err != nil {
				return nil, err
			}
			key := strings.ToUpper(m.GeoKey)
			entries, ok := sets[key]
			if !ok {
				return nil, errors.Errorf(errors.KindNotFound, "geo key %q not found in %s", key, geoFile)
			}
			out = append(out, entries...)
			continue
		}
		mt, ok := parseMatchType(m.Type)
		if !ok {
			return nil, errors.Errorf(errors.KindValidation, "unknown match type %q", m.Type)
		}
		out = append(out, types.DomainConfig{MatchType: mt, Value: strings.ToLower(m.Value)})
	}
	return out, nil
}

func parseMatchType(s string) (types.DomainMatchType, bool) {
	switch strings.ToLower(s) {
	case "plain":
		return types.MatchPlain, true
	case "regex":
		return types.MatchRegex, true
	case "domain":
		return types.MatchDomain, true
	case "full":
		return types.MatchFull, true
	default:
		return 0, false
	}
}

// parseMark decodes a rule's "mark" field: "none", "direct", "drop", or
// "redirect:<index>".
func parseMark(s string) (types.PacketMark, error) {
	switch {
	case s == "" || s == "direct":
		return types.DirectMark, nil
	case s == "none":
		return types.NoMark, nil
	case s == "drop":
		return types.DropMark, nil
	case strings.HasPrefix(s, "redirect:"):
		idxStr := strings.TrimPrefix(s, "redirect:")
		idx, err := strconv.ParseUint(idxStr, 10, 32)
		if err != nil {
			return types.PacketMark{}, errors.Errorf(errors.KindValidation, "invalid redirect mark index %q", idxStr)
		}
		return types.RedirectMark(uint32(idx)), nil
	default:
		return types.PacketMark{}, errors.Errorf(errors.KindValidation, "unknown mark %q", s)
	}
}

func parseFilter(s string) types.FilterResult {
	switch strings.ToLower(s) {
	case "only_ipv4":
		return types.OnlyIPv4
	case "only_ipv6":
		return types.OnlyIPv6
	default:
		return types.Unfilter
	}
}

// buildRules compiles every configured rule, in config order (Handler sorts
// by Index itself on install).
func buildRules(dnsCfg *config.DNS, geoLoader *geosite.Loader) ([]*rule.Rule, error) {
	rules := make([]*rule.Rule, 0, len(dnsCfg.Rules))
	for _, rc := range dnsCfg.Rules {
		r, err := buildRule(rc, geoLoader, dnsCfg.GeoSiteFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// buildRedirects compiles every configured redirect entry, preserving
// config order (first match wins).
func buildRedirects(dnsCfg *config.DNS, geoLoader *geosite.Loader) ([]*redirect.Entry, error) {
	entries := make([]*redirect.Entry, 0, len(dnsCfg.Redirects))
	for _, rc := range dnsCfg.Redirects {
		e, err := buildRedirect(rc, geoLoader, dnsCfg.GeoSiteFile)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// buildRule compiles one config.Rule into a live *rule.Rule.
func buildRule(r config.Rule, geoLoader *geosite.Loader, geoFile string) (*rule.Rule, error) {
	sources, err := buildDomainConfigs(r.Match, geoLoader, geoFile)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "rule %q", r.ID)
	}
	markKind, err := parseMark(r.Mark)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "rule %q", r.ID)
	}
	filter := parseFilter(r.Filter)
	mark := types.DnsRuntimeMarkInfo{Mark: markKind, Priority: r.MarkPriority}
	return rule.New(r.ID, r.Index, r.Enable, r.FlowID, sources, r.Upstream, mark, filter), nil
}

// buildRedirect compiles one config.Redirect into a live *redirect.Entry.
// The static RR's owner name is taken from the entry's first "full" or
// "domain" match value, since the config schema doesn't carry a name
// separate from the match set; entries with only regex/plain/geo matches
// fall back to the entry id as an internal placeholder name.
func buildRedirect(r config.Redirect, geoLoader *geosite.Loader, geoFile string) (*redirect.Entry, error) {
	sources, err := buildDomainConfigs(r.Match, geoLoader, geoFile)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "redirect %q", r.ID)
	}

	name := recordOwnerName(r)
	var records []redirect.Record
	for _, rec := range r.Records {
		qtype, ok := dns.StringToType[strings.ToUpper(rec.Qtype)]
		if !ok {
			return nil, errors.Errorf(errors.KindValidation, "redirect %q: unknown qtype %q", r.ID, rec.Qtype)
		}
		rr, err := dns.NewRR(fmt.Sprintf("%s %d IN %s %s", name, rec.TTL, rec.Qtype, rec.Value))
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "redirect %q: record %s", r.ID, rec.Qtype)
		}
		records = append(records, redirect.Record{Qtype: qtype, RR: rr})
	}
	return redirect.New(r.ID, sources, r.Block, records), nil
}

func recordOwnerName(r config.Redirect) string {
	for _, m := range r.Match {
		if m.Type == "full" || m.Type == "domain" {
			return dns.Fqdn(m.Value)
		}
	}
	return dns.Fqdn(r.ID + ".invalid")
}
