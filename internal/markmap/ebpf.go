// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package markmap

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/cilium/ebpf"

	"go.edgegate.dev/edgegate/internal/logging"
	"go.edgegate.dev/edgegate/internal/types"
)

// markKey is the eBPF map key: a flow-scoped IPv4 address. The data plane
// looks packets up by (flow_id, dst_ip), matching the pinned map's layout.
type markKey struct {
	FlowID uint32
	IP     uint32 // big-endian IPv4
}

// markValue is the eBPF map value: the mark plus its install priority.
type markValue struct {
	Mark     uint32
	Priority uint32
}

// EBPFSink is the production mark map sink, backed by a pinned hash map the
// data plane also reads: lock-guarded Update/Delete over a *ebpf.Map.
type EBPFSink struct {
	mu  sync.Mutex
	m   *ebpf.Map
	log *logging.Logger
	// installed tracks, per flow-id, the set of (ip,mark) pairs last written
	// successfully, so Refresh can compute and delete the difference.
	installed map[uint32]map[types.FlowMarkInfo]struct{}
}

// OpenEBPFSink loads a pinned eBPF map (key: markKey, value: markValue) from
// pinPath, e.g. "/sys/fs/bpf/edgegate/dns_mark_map".
func OpenEBPFSink(pinPath string) (*EBPFSink, error) {
	m, err := ebpf.LoadPinnedMap(pinPath, nil)
	if err != nil {
		return nil, err
	}
	return &EBPFSink{
		m:         m,
		log:       logging.WithComponent("markmap"),
		installed: make(map[uint32]map[types.FlowMarkInfo]struct{}),
	}, nil
}

func ipToUint32(ip string) (uint32, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0, false
	}
	v4 := parsed.To4()
	if v4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}

func (s *EBPFSink) writeOne(flowID uint32, fm types.FlowMarkInfo) {
	ip, ok := ipToUint32(fm.IP)
	if !ok {
		s.log.Warn("skipping non-ipv4 mark entry", "ip", fm.IP, "flow_id", flowID)
		return
	}
	key := markKey{FlowID: flowID, IP: ip}
	val := markValue{Mark: fm.Mark, Priority: uint32(fm.Priority)}
	if err := s.m.Update(&key, &val, ebpf.UpdateAny); err != nil {
		s.log.WithError(err).Error("mark map update failed", "flow_id", flowID, "ip", fm.IP)
		return
	}
	s.markInstalled(flowID, fm)
}

func (s *EBPFSink) markInstalled(flowID uint32, fm types.FlowMarkInfo) {
	set, ok := s.installed[flowID]
	if !ok {
		set = make(map[types.FlowMarkInfo]struct{})
		s.installed[flowID] = set
	}
	set[fm] = struct{}{}
}

// Update upserts adds into flow_id's table (idempotent).
func (s *EBPFSink) Update(flowID uint32, adds []types.FlowMarkInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fm := range adds {
		s.writeOne(flowID, fm)
	}
}

// Refresh replaces flow_id's table with adds atomically from the caller's
// perspective: writes happen first, then entries not present in the new set
// are removed, so a reader never observes an empty table mid-refresh.
func (s *EBPFSink) Refresh(flowID uint32, adds []types.FlowMarkInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newSet := make(map[types.FlowMarkInfo]struct{}, len(adds))
	newIPs := make(map[string]struct{}, len(adds))
	for _, fm := range adds {
		newSet[fm] = struct{}{}
		newIPs[fm.IP] = struct{}{}
		s.writeOne(flowID, fm)
	}

	old := s.installed[flowID]
	for fm := range old {
		if _, stillWanted := newSet[fm]; stillWanted {
			continue
		}
		// The map is keyed by (flow_id, ip): an old pair whose ip was just
		// written with a new mark has already been replaced, not left over.
		if _, rewritten := newIPs[fm.IP]; rewritten {
			continue
		}
		s.deleteOne(flowID, fm)
	}
	s.installed[flowID] = newSet
}

func (s *EBPFSink) deleteOne(flowID uint32, fm types.FlowMarkInfo) {
	ip, ok := ipToUint32(fm.IP)
	if !ok {
		return
	}
	key := markKey{FlowID: flowID, IP: ip}
	if err := s.m.Delete(&key); err != nil {
		s.log.WithError(err).Warn("mark map delete failed (best-effort)", "flow_id", flowID, "ip", fm.IP)
	}
	if set, ok := s.installed[flowID]; ok {
		delete(set, fm)
	}
}

// Delete best-effort removes removals from flow_id's table.
func (s *EBPFSink) Delete(flowID uint32, removals []types.FlowMarkInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fm := range removals {
		s.deleteOne(flowID, fm)
	}
}

// RecreateRouteCache is a no-op for the map sink itself; the data plane's
// route cache lives in a separate pinned map this component doesn't own, so
// this only logs the event for observability.
func (s *EBPFSink) RecreateRouteCache() {
	s.log.Debug("route cache recreate requested")
}

var _ Sink = (*EBPFSink)(nil)
