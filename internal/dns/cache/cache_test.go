// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cache

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/internal/clock"
	"go.edgegate.dev/edgegate/internal/types"
)

func newARecord(t *testing.T, ip string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR("example.com. 60 IN A " + ip)
	require.NoError(t, err)
	return rr
}

func TestInsertThenGetRoundtrips(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	c := New(1024, fake)
	key := types.DnsCacheKey{Name: "example.com.", Qtype: dns.TypeA}
	entry := types.DnsCacheEntry{Records: []dns.RR{newARecord(t, "1.2.3.4")}, MinTTL: 60, InsertTime: fake.Now()}

	c.Insert(key, entry)
	got, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, entry.Records, got.Records)
}

func TestGetIsCaseInsensitiveOnName(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	c := New(1024, fake)
	key := types.DnsCacheKey{Name: "Example.COM.", Qtype: dns.TypeA}
	c.Insert(key, types.DnsCacheEntry{Records: []dns.RR{newARecord(t, "1.2.3.4")}, MinTTL: 60, InsertTime: fake.Now()})

	_, ok := c.Get(types.DnsCacheKey{Name: "example.com.", Qtype: dns.TypeA})
	require.True(t, ok)
}

func TestGetExpiresEntryAtMinTTLBoundary(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	c := New(1024, fake)
	key := types.DnsCacheKey{Name: "example.com.", Qtype: dns.TypeA}
	c.Insert(key, types.DnsCacheEntry{Records: []dns.RR{newARecord(t, "1.2.3.4")}, MinTTL: 60, InsertTime: fake.Now()})

	fake.Advance(60 * time.Second)
	_, ok := c.Get(key)
	require.False(t, ok, "entry exactly at insert_time+min_ttl must be treated as expired")
}

func TestGetReturnsEntryJustBeforeExpiry(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	c := New(1024, fake)
	key := types.DnsCacheKey{Name: "example.com.", Qtype: dns.TypeA}
	c.Insert(key, types.DnsCacheEntry{Records: []dns.RR{newARecord(t, "1.2.3.4")}, MinTTL: 60, InsertTime: fake.Now()})

	fake.Advance(59 * time.Second)
	_, ok := c.Get(key)
	require.True(t, ok)
}

func TestInsertRejectsNonEmptyZeroMinTTL(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	c := New(1024, fake)
	key := types.DnsCacheKey{Name: "example.com.", Qtype: dns.TypeA}

	c.Insert(key, types.DnsCacheEntry{Records: []dns.RR{newARecord(t, "1.2.3.4")}, MinTTL: 0, InsertTime: fake.Now()})
	_, ok := c.Get(key)
	require.False(t, ok)
}

func TestInsertAllowsEmptyZeroMinTTLNegativeEntry(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	c := New(1024, fake)
	key := types.DnsCacheKey{Name: "nx.example.", Qtype: dns.TypeA}

	// Only non-empty record sets are rejected at zero TTL; a negative entry
	// is stored, though the expiry boundary makes it lapse on first lookup.
	c.Insert(key, types.DnsCacheEntry{MinTTL: 0, InsertTime: fake.Now(), ResponseCode: dns.RcodeNameError})
	require.Equal(t, 1, c.Len())

	_, ok := c.Get(key)
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestInsertAllowsEmptyEntryWithPositiveTTL(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	c := New(1024, fake)
	key := types.DnsCacheKey{Name: "nx.example.", Qtype: dns.TypeA}

	c.Insert(key, types.DnsCacheEntry{MinTTL: 30, InsertTime: fake.Now(), ResponseCode: dns.RcodeNameError})
	got, ok := c.Get(key)
	require.True(t, ok)
	require.Empty(t, got.Records)
	require.Equal(t, dns.RcodeNameError, got.ResponseCode)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	c := New(1024, fake)
	key := types.DnsCacheKey{Name: "example.com.", Qtype: dns.TypeA}
	c.Insert(key, types.DnsCacheEntry{Records: []dns.RR{newARecord(t, "1.2.3.4")}, MinTTL: 60, InsertTime: fake.Now()})

	c.Invalidate(key)
	_, ok := c.Get(key)
	require.False(t, ok)
}

func TestIterSnapshotsOnlyLiveEntries(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	c := New(1024, fake)
	live := types.DnsCacheKey{Name: "live.example.", Qtype: dns.TypeA}
	dead := types.DnsCacheKey{Name: "dead.example.", Qtype: dns.TypeA}
	c.Insert(live, types.DnsCacheEntry{Records: []dns.RR{newARecord(t, "1.2.3.4")}, MinTTL: 600, InsertTime: fake.Now()})
	c.Insert(dead, types.DnsCacheEntry{Records: []dns.RR{newARecord(t, "1.2.3.4")}, MinTTL: 1, InsertTime: fake.Now()})

	fake.Advance(2 * time.Second)
	snap := c.Iter()
	require.Contains(t, snap, live)
	require.NotContains(t, snap, dead)
}

func TestNewFromEntriesPopulatesCache(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	key := types.DnsCacheKey{Name: "example.com.", Qtype: dns.TypeA}
	entries := map[types.DnsCacheKey]types.DnsCacheEntry{
		key: {Records: []dns.RR{newARecord(t, "1.2.3.4")}, MinTTL: 60, InsertTime: fake.Now()},
	}
	c := NewFromEntries(1024, fake, entries)

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, entries[key].Records, got.Records)
}
