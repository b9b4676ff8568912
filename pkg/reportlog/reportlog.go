// Package reportlog implements the append-only abuse report list (spec
// §4.K): short file-id resolution against the catalog, in-memory storage,
// and durable persistence to the KV store on every append.
package reportlog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/juicebox/internal/logger"
	"github.com/marmos91/juicebox/pkg/catalog"
	"github.com/marmos91/juicebox/pkg/kv"
)

// Record is one submitted abuse report, matching spec §4.B's ReportRecord
// shape.
type Record struct {
	File         string
	Reason       string
	Details      string
	ReporterHash string
	Time         int64
}

// Log is the append-only in-memory report list, mirrored to the KV store.
type Log struct {
	mu      sync.Mutex
	store   kv.Store
	records []Record
	seq     int
}

// New returns an empty Log backed by store.
func New(store kv.Store) *Log {
	return &Log{store: store}
}

// fieldKey renders seq as a zero-padded decimal so lexicographic field
// order returned by LoadHash matches append order.
func fieldKey(seq int) string {
	return fmt.Sprintf("%010d", seq)
}

// LoadFromStore repopulates the log from whatever the KV store holds,
// ordering records by their field key. Call this once at startup.
func (l *Log) LoadFromStore(ctx context.Context) error {
	entries, err := l.store.LoadHash(ctx, kv.NamespaceReports)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Field < entries[j].Field })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = l.records[:0]
	for _, e := range entries {
		var rec Record
		if err := kv.Decode(e.Payload, &rec); err != nil {
			logger.Warn("reportlog: failed to decode report", logger.Field(e.Field), logger.Err(err))
			continue
		}
		l.records = append(l.records, rec)
	}
	l.seq = len(entries)
	return nil
}

// ResolveFileName substitutes requested for the shortest catalog key it is
// an unambiguous prefix of, when requested is not itself a catalog key and
// contains no dot (so it reads as a short id rather than a full storage
// name). Ties among equal-length candidates break alphabetically; both
// rules mirror the original service's best()-candidate scan.
func ResolveFileName(cat *catalog.Catalog, requested string) string {
	if _, ok := cat.Get(requested); ok {
		return requested
	}
	if strings.Contains(requested, ".") {
		return requested
	}

	prefix := requested + "."
	var candidates []string
	for _, e := range cat.Iter() {
		if strings.HasPrefix(e.Name, prefix) {
			candidates = append(candidates, e.Name)
		}
	}
	if len(candidates) == 0 {
		return requested
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i]) != len(candidates[j]) {
			return len(candidates[i]) < len(candidates[j])
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0]
}

// Submit resolves file against cat, appends a Record, and persists it.
// Persistence failures are logged and non-fatal (spec §7).
func (l *Log) Submit(ctx context.Context, cat *catalog.Catalog, file, reason, details, reporterHash string, now int64) Record {
	rec := Record{
		File:         ResolveFileName(cat, file),
		Reason:       reason,
		Details:      details,
		ReporterHash: reporterHash,
		Time:         now,
	}
	l.Append(ctx, rec)
	return rec
}

// Append adds rec to the in-memory list and persists it under the next
// sequence field.
func (l *Log) Append(ctx context.Context, rec Record) {
	l.mu.Lock()
	seq := l.seq
	l.seq++
	l.records = append(l.records, rec)
	l.mu.Unlock()

	payload, err := kv.Encode(rec)
	if err != nil {
		logger.Warn("reportlog: failed to encode report", logger.ReportFile(rec.File), logger.Err(err))
		return
	}
	if err := l.store.PutField(ctx, kv.NamespaceReports, fieldKey(seq), payload); err != nil {
		logger.Warn("reportlog: failed to persist report", logger.ReportFile(rec.File), logger.Err(err))
	}
}

// All returns a snapshot of every recorded report, in append order.
func (l *Log) All() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len reports how many reports have been recorded.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
