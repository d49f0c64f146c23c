// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package matcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/internal/types"
)

func TestEmptyConfigMatchesEverything(t *testing.T) {
	m := New(nil)
	require.True(t, m.IsMatch("anything.example.org"))
}

func TestFullMatchRequiresExactName(t *testing.T) {
	m := New([]types.DomainConfig{{MatchType: types.MatchFull, Value: "Example.com"}})
	require.True(t, m.IsMatch("example.com"))
	require.True(t, m.IsMatch("example.com."))
	require.False(t, m.IsMatch("www.example.com"))
}

func TestDomainMatchCoversSelfAndSubdomains(t *testing.T) {
	m := New([]types.DomainConfig{{MatchType: types.MatchDomain, Value: "example.com"}})
	require.True(t, m.IsMatch("example.com"))
	require.True(t, m.IsMatch("api.example.com"))
	require.False(t, m.IsMatch("notexample.com"))
}

func TestPlainMatchIsSubstring(t *testing.T) {
	m := New([]types.DomainConfig{{MatchType: types.MatchPlain, Value: "ads"}})
	require.True(t, m.IsMatch("ads.tracker.net"))
	require.True(t, m.IsMatch("myads.net"))
	require.False(t, m.IsMatch("clean.net"))
}

func TestRegexMatch(t *testing.T) {
	m := New([]types.DomainConfig{{MatchType: types.MatchRegex, Value: `^ad[0-9]+\.example\.com$`}})
	require.True(t, m.IsMatch("ad7.example.com"))
	require.False(t, m.IsMatch("ad.example.com"))
}

func TestInvalidRegexIsSkippedNotFatal(t *testing.T) {
	m := New([]types.DomainConfig{{MatchType: types.MatchRegex, Value: `(unclosed`}})
	require.False(t, m.IsMatch("anything"))
}

func TestMatchIsCaseInsensitive(t *testing.T) {
	m := New([]types.DomainConfig{{MatchType: types.MatchFull, Value: "example.com"}})
	require.True(t, m.IsMatch("EXAMPLE.COM"))
}

func TestDomainMatchProbesEveryLabelBoundary(t *testing.T) {
	m := New([]types.DomainConfig{
		{MatchType: types.MatchDomain, Value: "example.com"},
		{MatchType: types.MatchDomain, Value: "co.uk"},
	})
	require.True(t, m.IsMatch("a.b.c.example.com"))
	require.True(t, m.IsMatch("deep.co.uk"))
	// A non-label-boundary suffix must not match.
	require.False(t, m.IsMatch("fakeco.uk"))
	require.False(t, m.IsMatch("example.com.evil.net"))
}
