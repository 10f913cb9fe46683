// Package accesslog reads the records produced by the external access
// logger and supervises its process.
package accesslog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

const (
	// CurrentLogName is the newline-delimited append log written by the
	// running logger.
	CurrentLogName = "access.ndjson"
	// LegacyLogName is the whole-array JSON file from older releases.
	// Read for backward compatibility, never written.
	LegacyLogName = "access-log.json"
)

// Entry is one recorded access to a blocked domain.
type Entry struct {
	Domain string `json:"domain"`
	TS     string `json:"ts"`
}

// rawEntry distinguishes missing fields from empty ones.
type rawEntry struct {
	Domain *string `json:"domain"`
	TS     *string `json:"ts"`
}

// Reader merges and filters access records from both on-disk formats.
// Reads never fail: a broken file degrades to an empty contribution so
// reporting cannot crash the caller.
type Reader struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

// NewReader creates a reader over the per-user data directory.
func NewReader(dir string, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		dir:    dir,
		now:    time.Now,
		logger: logger,
	}
}

// Read returns all records from both log files, sorted ascending by
// timestamp. When days > 0, records older than days*24h are dropped.
func (r *Reader) Read(days int) []Entry {
	entries := r.readAppendLog(filepath.Join(r.dir, CurrentLogName))
	entries = append(entries, r.readLegacyArray(filepath.Join(r.dir, LegacyLogName))...)

	sort.SliceStable(entries, func(i, j int) bool {
		return parseTS(entries[i].TS).Before(parseTS(entries[j].TS))
	})

	if days > 0 {
		cutoff := r.now().Add(-time.Duration(days) * 24 * time.Hour)
		kept := make([]Entry, 0, len(entries))
		for _, e := range entries {
			if !parseTS(e.TS).Before(cutoff) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	return entries
}

// readAppendLog parses each non-empty line as one JSON record. Records
// missing a string domain or timestamp are discarded, not fatal.
func (r *Reader) readAppendLog(path string) []Entry {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if e, ok := decodeEntry(line); ok {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("failed to read access log", zap.String("path", path), zap.Error(err))
	}

	return entries
}

// readLegacyArray parses the whole file as one JSON array with the same
// per-record validation. A top-level parse failure degrades this source
// to empty.
func (r *Reader) readLegacyArray(path string) []Entry {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		r.logger.Warn("failed to parse legacy access log", zap.String("path", path), zap.Error(err))
		return nil
	}

	var entries []Entry
	for _, rec := range raw {
		if e, ok := decodeEntry(rec); ok {
			entries = append(entries, e)
		}
	}

	return entries
}

func decodeEntry(data []byte) (Entry, bool) {
	var raw rawEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return Entry{}, false
	}
	if raw.Domain == nil || raw.TS == nil {
		return Entry{}, false
	}
	return Entry{Domain: *raw.Domain, TS: *raw.TS}, true
}

func parseTS(ts string) time.Time {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}
