// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package markmap implements the mark map sink: the write-through interface
// between DNS-resolved addresses and the data-plane's (flow_id, ip) -> mark
// table.
package markmap

import (
	"go.edgegate.dev/edgegate/internal/types"
)

// Sink is the abstract write-through interface to the data plane's
// address->mark table, scoped by flow-id. Implementations never return an
// error to the DNS query path: failures are logged internally and degrade
// classification until the next successful refresh.
type Sink interface {
	// Update upserts adds into flow_id's table. Pre-existing entries with an
	// identical (ip, mark) pair may be rewritten; this is idempotent.
	Update(flowID uint32, adds []types.FlowMarkInfo)
	// Refresh atomically replaces the entire flow-scoped table with adds; old
	// entries not present in adds disappear.
	Refresh(flowID uint32, adds []types.FlowMarkInfo)
	// Delete best-effort removes removals from flow_id's table.
	Delete(flowID uint32, removals []types.FlowMarkInfo)
	// RecreateRouteCache flushes whatever cache the data plane keeps keyed off
	// the old table, called after a Refresh during rule reload.
	RecreateRouteCache()
}
