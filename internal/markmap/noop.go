// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package markmap

import (
	"sync"

	"go.edgegate.dev/edgegate/internal/types"
)

// MemSink is an in-memory Sink used by tests and dry-run mode. It keeps the
// same install/diff discipline as EBPFSink without touching the kernel.
type MemSink struct {
	mu        sync.Mutex
	tables    map[uint32]map[types.FlowMarkInfo]struct{}
	Recreates int
}

// NewMemSink returns an empty in-memory sink.
func NewMemSink() *MemSink {
	return &MemSink{tables: make(map[uint32]map[types.FlowMarkInfo]struct{})}
}

// Update upserts adds into flow_id's table.
func (s *MemSink) Update(flowID uint32, adds []types.FlowMarkInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.tableLocked(flowID)
	for _, fm := range adds {
		set[fm] = struct{}{}
	}
}

// Refresh replaces flow_id's table with adds.
func (s *MemSink) Refresh(flowID uint32, adds []types.FlowMarkInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[types.FlowMarkInfo]struct{}, len(adds))
	for _, fm := range adds {
		set[fm] = struct{}{}
	}
	s.tables[flowID] = set
}

// Delete removes removals from flow_id's table.
func (s *MemSink) Delete(flowID uint32, removals []types.FlowMarkInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.tableLocked(flowID)
	for _, fm := range removals {
		delete(set, fm)
	}
}

// RecreateRouteCache just counts invocations for test assertions.
func (s *MemSink) RecreateRouteCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Recreates++
}

// Snapshot returns a copy of flow_id's current table, for test assertions.
func (s *MemSink) Snapshot(flowID uint32) map[types.FlowMarkInfo]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[types.FlowMarkInfo]struct{}, len(s.tables[flowID]))
	for k := range s.tables[flowID] {
		out[k] = struct{}{}
	}
	return out
}

func (s *MemSink) tableLocked(flowID uint32) map[types.FlowMarkInfo]struct{} {
	set, ok := s.tables[flowID]
	if !ok {
		set = make(map[types.FlowMarkInfo]struct{})
		s.tables[flowID] = set
	}
	return set
}

var _ Sink = (*MemSink)(nil)
