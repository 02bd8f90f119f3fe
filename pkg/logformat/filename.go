package logformat

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Marker distinguishes insert-class log appends from merge/cleanup-class
// ones; tombstone-cleanup folds only the former.
type Marker string

const (
	MarkerInsert Marker = "i"
	MarkerMerge  Marker = "m"
)

// Filename is a parsed `_log/` entry: <prefix>/_log/<ms>_<marker>_<uuid>.jsonl
type Filename struct {
	Prefix    string
	TimeMs    int64
	Marker    Marker
	UUID      string
}

// Path renders the filename back to its object-store key.
func (f Filename) Path() string {
	return path.Join(f.Prefix, "_log", fmt.Sprintf("%013d_%s_%s.jsonl", f.TimeMs, f.Marker, f.UUID))
}

// NewLogFilename builds a fresh log filename for the given prefix, marker,
// and timestamp, with a random uuid4.
func NewLogFilename(prefix string, marker Marker, timeMs int64) Filename {
	return Filename{Prefix: prefix, TimeMs: timeMs, Marker: marker, UUID: uuid.NewString()}
}

// ParseLogFilename parses a `_log/` key back into its components. Returns
// false if key doesn't look like a log filename (e.g. it's not under
// `_log/`, or it doesn't match the 13-digit-ms_marker_uuid.ext shape).
func ParseLogFilename(key string) (Filename, bool) {
	dir, base := path.Split(key)
	dir = strings.TrimSuffix(dir, "/")
	if !strings.HasSuffix(dir, "/_log") && dir != "_log" {
		return Filename{}, false
	}
	prefix := strings.TrimSuffix(dir, "_log")
	prefix = strings.TrimSuffix(prefix, "/")

	name := base
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[:idx]
	}
	parts := strings.SplitN(name, "_", 3)
	if len(parts) != 3 {
		return Filename{}, false
	}
	if len(parts[0]) != 13 {
		return Filename{}, false
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Filename{}, false
	}
	marker := Marker(parts[1])
	if marker != MarkerInsert && marker != MarkerMerge {
		return Filename{}, false
	}
	return Filename{Prefix: prefix, TimeMs: ms, Marker: marker, UUID: parts[2]}, true
}

// SortFilenames orders log filenames lexicographically by their 13-digit
// millisecond timestamp, ties broken by uuid — the same ordering two
// readers converge on regardless of listing order.
func SortFilenames(fs []Filename) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].TimeMs != fs[j].TimeMs {
			return fs[i].TimeMs < fs[j].TimeMs
		}
		return fs[i].UUID < fs[j].UUID
	})
}

// DataFilePath builds the deterministic path for a new immutable columnar
// file: <prefix>/<partition>/<uuid4>.parquet
func DataFilePath(prefix, partition string) string {
	return path.Join(prefix, partition, uuid.NewString()+".parquet")
}
