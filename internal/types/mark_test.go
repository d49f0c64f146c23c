// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNeedInsertInEBPFMapExcludesOnlyNoMark(t *testing.T) {
	require.False(t, NoMark.NeedInsertInEBPFMap())
	require.True(t, DirectMark.NeedInsertInEBPFMap())
	require.True(t, DropMark.NeedInsertInEBPFMap())
	require.True(t, RedirectMark(7).NeedInsertInEBPFMap())
}

func TestAsUint32EncodesRedirectIndex(t *testing.T) {
	require.Equal(t, uint32(0), NoMark.AsUint32())
	require.Equal(t, uint32(1), DirectMark.AsUint32())
	require.Equal(t, uint32(2), DropMark.AsUint32())
	require.Equal(t, uint32(7<<8|3), RedirectMark(7).AsUint32())
}

func TestFilterResultAllows(t *testing.T) {
	// (isA, isAAAA) probes per filter.
	require.True(t, Unfilter.Allows(true, false))
	require.True(t, Unfilter.Allows(false, true))

	require.True(t, OnlyIPv4.Allows(true, false))
	require.False(t, OnlyIPv4.Allows(false, true))

	require.False(t, OnlyIPv6.Allows(true, false))
	require.True(t, OnlyIPv6.Allows(false, true))

	// Non-address qtypes always pass.
	require.True(t, OnlyIPv4.Allows(false, false))
	require.True(t, OnlyIPv6.Allows(false, false))
}

func TestDhcpServerLeaseExpiry(t *testing.T) {
	lease := DhcpServerLease{RelativeOfferTime: 100, ValidTimeSeconds: 20}
	require.False(t, lease.Expired(110))
	require.False(t, lease.Expired(120))
	require.True(t, lease.Expired(121))

	static := DhcpServerLease{IsStatic: true, RelativeOfferTime: 0, ValidTimeSeconds: 1}
	require.False(t, static.Expired(1 << 40))
}

func TestCacheEntryRemainingTTLNeverIncreases(t *testing.T) {
	base := time.Unix(1000, 0)
	e := DnsCacheEntry{InsertTime: base, MinTTL: 60}

	require.Equal(t, uint32(60), e.RemainingTTL(base))
	require.Equal(t, uint32(30), e.RemainingTTL(base.Add(30*time.Second)))
	require.Equal(t, uint32(0), e.RemainingTTL(base.Add(60*time.Second)))
	require.Equal(t, uint32(0), e.RemainingTTL(base.Add(2*time.Hour)))
	// A clock that runs backwards clamps to the full floor, never above it.
	require.Equal(t, uint32(60), e.RemainingTTL(base.Add(-time.Second)))
}

func TestDhcpStateStrings(t *testing.T) {
	require.Equal(t, "Discovering", StateDiscovering.String())
	require.Equal(t, "WaitToRebind", StateWaitToRebind.String())
	require.Equal(t, "Stop", StateStop.String())
	require.Equal(t, "Unknown", DhcpState(99).String())
}
