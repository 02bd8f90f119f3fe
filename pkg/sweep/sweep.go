// Package sweep implements the orphan-file sweep spec.md §9 describes as
// a reasonable external add-on, not part of the core: list
// `<prefix>/<partition>/` data paths, diff against the current
// snapshot's alive-or-tombstoned set, and report (never delete) whatever
// is absent from it; no age filter is applied. Grounded on the
// teacher's `pkg/cleanup/disk_manager.go` age-threshold candidate
// selection, adapted from local-disk file listing to object-store
// listing, since what this sweeps is a bucket prefix, not a local
// filesystem.
package sweep

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"icetable/pkg/logformat"
	"icetable/pkg/objectstore"
	"icetable/pkg/snapshot"
)

// Candidate is a data path the sweep believes is orphaned: present on
// object storage but named by no log file's file-add record.
type Candidate struct {
	Path    string
	AgeMs   int64
	Reason  string
}

// Sweeper lists one table's data paths and reports orphans. It never
// deletes; an operator reviews Candidates before running its own
// deletion policy.
type Sweeper struct {
	Store  objectstore.Store
	Prefix string
	Logger *logrus.Logger
}

func NewSweeper(store objectstore.Store, prefix string, logger *logrus.Logger) *Sweeper {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sweeper{Store: store, Prefix: prefix, Logger: logger}
}

// Find lists every object under the table's data prefixes (everything
// under Prefix except `_log/`), reads the current snapshot, and returns
// the `.parquet` paths that are in neither the alive nor the tombstoned
// set. minAgeMs is not applied: Store exposes no object age, so every
// untracked path is returned whatever its age, and Candidate.AgeMs is
// left zero.
func (s *Sweeper) Find(ctx context.Context, now time.Time, minAgeMs int64) ([]Candidate, error) {
	reader := snapshot.NewReader(s.Store, s.Prefix, s.Logger)
	snap, err := reader.ReadAtMaxTime(ctx, now.UnixMilli())
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(snap.Files))
	for p := range snap.Files {
		known[p] = true
	}

	keys, err := objectstore.ListAll(ctx, s.Store, s.Prefix)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, key := range keys {
		if isLogPath(key) {
			continue
		}
		if !strings.HasSuffix(key, ".parquet") {
			continue
		}
		if known[key] {
			continue
		}
		candidates = append(candidates, Candidate{
			Path:   key,
			Reason: "no file-add record names this path in any observed log file",
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })

	for _, c := range candidates {
		s.Logger.WithFields(logrus.Fields{"path": c.Path, "reason": c.Reason}).
			Warn("sweep: orphan data file candidate")
	}
	return candidates, nil
}

func isLogPath(key string) bool {
	_, ok := logformat.ParseLogFilename(key)
	if ok {
		return true
	}
	dir := path.Dir(key)
	return strings.HasSuffix(dir, "/_log") || dir == "_log"
}
