// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package redirect implements the redirect table: a static, ordered
// name->records map with higher evaluation priority than any resolution
// rule. A matching entry either answers locally or blocks the query
// outright.
package redirect

import (
	"github.com/google/uuid"
	"github.com/miekg/dns"

	"go.edgegate.dev/edgegate/internal/dns/matcher"
	"go.edgegate.dev/edgegate/internal/types"
)

// Status distinguishes a blocking redirect entry from one that supplies a
// local answer.
type Status int

const (
	// StatusBlock: query is blocked; response is NoError with an empty
	// answer section.
	StatusBlock Status = iota
	// StatusLocal: query is answered from the entry's static records.
	StatusLocal
)

// Record is one static local-answer record.
type Record struct {
	Qtype uint16
	RR    dns.RR
}

// Entry is one RedirectEntry: a compiled matcher plus either a block flag or
// a qtype->records table.
type Entry struct {
	ID             string
	Block          bool
	RecordsByQtype map[uint16][]dns.RR

	matcher *matcher.Matcher
}

// New compiles sources and the per-qtype record set into an Entry. An empty
// id gets a generated one so lookups always report a non-empty entry id.
func New(id string, sources []types.DomainConfig, block bool, records []Record) *Entry {
	if id == "" {
		id = uuid.NewString()
	}
	byQtype := make(map[uint16][]dns.RR)
	for _, r := range records {
		byQtype[r.Qtype] = append(byQtype[r.Qtype], r.RR)
	}
	return &Entry{
		ID:             id,
		Block:          block,
		RecordsByQtype: byQtype,
		matcher:        matcher.New(sources),
	}
}

// IsMatch reports whether name falls within this entry's domain set.
func (e *Entry) IsMatch(name string) bool {
	return e.matcher.IsMatch(name)
}

// Table is the ordered list of redirect entries scanned first on every query.
type Table struct {
	Entries []*Entry
}

// NewTable wraps entries in evaluation order (the order they were configured in).
func NewTable(entries []*Entry) *Table {
	return &Table{Entries: entries}
}

// Lookup scans entries in order and returns the first match's records,
// status, and id. ok is false when no entry matched at all — callers must
// fall through to the cache/rule passes in that case.
func (t *Table) Lookup(name string, qtype uint16) (records []dns.RR, status Status, id string, ok bool) {
	if t == nil {
		return nil, StatusLocal, "", false
	}
	for _, e := range t.Entries {
		if !e.IsMatch(name) {
			continue
		}
		if e.Block {
			return nil, StatusBlock, e.ID, true
		}
		return e.RecordsByQtype[qtype], StatusLocal, e.ID, true
	}
	return nil, StatusLocal, "", false
}
