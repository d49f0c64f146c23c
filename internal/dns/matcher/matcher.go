// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package matcher implements the domain matcher: a compiled set of the four
// match types a rule or redirect entry can be built from (plain substring,
// regex, domain-suffix, full-equal).
package matcher

import (
	"regexp"
	"strings"

	"go.edgegate.dev/edgegate/internal/types"
)

// Matcher answers "does this query name match this rule?" against a compiled
// set of DomainConfig entries. An empty config list compiles to a
// match-everything matcher.
type Matcher struct {
	full       map[string]struct{}
	suffix     map[string]struct{}
	regexes    []*regexp.Regexp
	substrings []string
	matchAll   bool
}

// New compiles configs into a Matcher. Regexes that fail to compile are
// skipped rather than rejecting the whole rule — a single malformed pattern
// in a large config shouldn't take down every other match source.
func New(configs []types.DomainConfig) *Matcher {
	m := &Matcher{
		full:   make(map[string]struct{}),
		suffix: make(map[string]struct{}),
	}
	if len(configs) == 0 {
		m.matchAll = true
		return m
	}
	for _, c := range configs {
		value := strings.ToLower(c.Value)
		switch c.MatchType {
		case types.MatchFull:
			m.full[value] = struct{}{}
		case types.MatchDomain:
			m.suffix[value] = struct{}{}
		case types.MatchRegex:
			if re, err := regexp.Compile(value); err == nil {
				m.regexes = append(m.regexes, re)
			}
		case types.MatchPlain:
			m.substrings = append(m.substrings, value)
		}
	}
	return m
}

// IsMatch reports whether name matches any compiled source. name is
// lowercased and has a single trailing "." stripped before testing, so
// IsMatch("example.com.") and IsMatch("example.com") agree.
func (m *Matcher) IsMatch(name string) bool {
	if m.matchAll {
		return true
	}
	name = normalize(name)

	if _, ok := m.full[name]; ok {
		return true
	}
	if m.matchSuffix(name) {
		return true
	}
	for _, re := range m.regexes {
		if re.MatchString(name) {
			return true
		}
	}
	for _, s := range m.substrings {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// matchSuffix probes the suffix set with the name itself and every
// dot-suffixed tail of it, so cost scales with the name's label count rather
// than the size of the configured domain set.
func (m *Matcher) matchSuffix(name string) bool {
	if len(m.suffix) == 0 {
		return false
	}
	for i := 0; i < len(name); i++ {
		if i > 0 && name[i-1] != '.' {
			continue
		}
		if _, ok := m.suffix[name[i:]]; ok {
			return true
		}
	}
	return false
}

func normalize(name string) string {
	name = strings.ToLower(name)
	name = strings.TrimSuffix(name, ".")
	return name
}
