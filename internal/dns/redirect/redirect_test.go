// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package redirect

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/internal/types"
)

func TestLookupBlockReturnsEmptyRecordsAndID(t *testing.T) {
	e := New("block-me", []types.DomainConfig{{MatchType: types.MatchFull, Value: "block.me"}}, true, nil)
	table := NewTable([]*Entry{e})

	records, status, id, ok := table.Lookup("block.me", dns.TypeA)
	require.True(t, ok)
	require.Equal(t, StatusBlock, status)
	require.Equal(t, "block-me", id)
	require.Empty(t, records)
}

func TestLookupLocalReturnsConfiguredRecords(t *testing.T) {
	rr, err := dns.NewRR("answer.example. 60 IN A 10.0.0.5")
	require.NoError(t, err)

	e := New("local-answer", []types.DomainConfig{{MatchType: types.MatchFull, Value: "answer.example"}}, false,
		[]Record{{Qtype: dns.TypeA, RR: rr}})
	table := NewTable([]*Entry{e})

	records, status, id, ok := table.Lookup("answer.example", dns.TypeA)
	require.True(t, ok)
	require.Equal(t, StatusLocal, status)
	require.Equal(t, "local-answer", id)
	require.Len(t, records, 1)

	_, _, _, ok = table.Lookup("answer.example", dns.TypeAAAA)
	require.True(t, ok)
}

func TestLookupNoMatchReturnsNotOK(t *testing.T) {
	table := NewTable([]*Entry{New("x", []types.DomainConfig{{MatchType: types.MatchFull, Value: "other.example"}}, true, nil)})

	_, _, _, ok := table.Lookup("unrelated.example", dns.TypeA)
	require.False(t, ok)
}

func TestLookupFirstMatchWinsOverLaterEntries(t *testing.T) {
	first := New("first", []types.DomainConfig{{MatchType: types.MatchDomain, Value: "example.com"}}, true, nil)
	second := New("second", []types.DomainConfig{{MatchType: types.MatchDomain, Value: "example.com"}}, false, nil)
	table := NewTable([]*Entry{first, second})

	_, status, id, ok := table.Lookup("example.com", dns.TypeA)
	require.True(t, ok)
	require.Equal(t, StatusBlock, status)
	require.Equal(t, "first", id)
}
