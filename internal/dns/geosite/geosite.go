// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package geosite implements the geo-set loader: named sets of DomainConfig
// entries, keyed by an uppercase tag (e.g. "CN", "GOOGLE"), resolved from a
// flat tab-delimited text file at rule-build time. The file is typically
// generated out-of-band from a community geosite database.
package geosite

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"go.edgegate.dev/edgegate/internal/errors"
	"go.edgegate.dev/edgegate/internal/types"
)

// Loader parses and caches geo-set files so repeated rule builds referencing
// the same file don't re-read and re-parse it from disk.
type Loader struct {
	mu    sync.Mutex
	cache map[string]map[string][]types.DomainConfig
}

// NewLoader returns a Loader with an empty cache.
func NewLoader() *Loader {
	return &Loader{cache: make(map[string]map[string][]types.DomainConfig)}
}

// Load returns the key->[]DomainConfig sets parsed from path, reading and
// parsing the file at most once per distinct path for this Loader's lifetime.
func (l *Loader) Load(path string) (map[string][]types.DomainConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sets, ok := l.cache[path]; ok {
		return sets, nil
	}

	sets, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	l.cache[path] = sets
	return sets, nil
}

// Forget evicts path from the cache, so the next Load re-reads it from disk.
func (l *Loader) Forget(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, path)
}

// parseFile reads a geosite text file. Each non-blank, non-comment line is
// "KEY\tmatch_type\tvalue", where match_type is one of plain|regex|domain|full.
// Keys are case-folded to upper so lookups ("GOOGLE" vs "google") agree.
func parseFile(path string) (map[string][]types.DomainConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "open geosite file %s", path)
	}
	defer f.Close()

	sets := make(map[string][]types.DomainConfig)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, errors.Errorf(errors.KindValidation, "geosite file %s: line %d: expected 3 tab-separated fields, got %d", path, lineNo, len(fields))
		}
		key := strings.ToUpper(strings.TrimSpace(fields[0]))
		matchType, ok := parseMatchType(strings.TrimSpace(fields[1]))
		if !ok {
			return nil, errors.Errorf(errors.KindValidation, "geosite file %s: line %d: unknown match type %q", path, lineNo, fields[1])
		}
		value := strings.TrimSpace(fields[2])
		sets[key] = append(sets[key], types.DomainConfig{MatchType: matchType, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "scan geosite file %s", path)
	}
	return sets, nil
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
