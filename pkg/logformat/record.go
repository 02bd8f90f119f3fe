// Package logformat implements the on-disk log entry codec: one log file
// is a sequence of newline-terminated, single-character-tagged JSON
// records. Writes are single-shot (the whole file is buffered then put in
// one request); reads parse record by record and fail the whole read on
// any corruption — the core does not attempt partial recovery.
package logformat

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"icetable/pkg/icerrors"
	"icetable/pkg/types"
)

// Tag identifies which record variant a line holds.
type Tag string

const (
	TagHeader        Tag = "v"
	TagSchema        Tag = "s"
	TagFileAdd       Tag = "f"
	TagFileTombstone Tag = "d"
	TagLogTombstone  Tag = "l"
)

const Version = 1

// Header is the mandatory first line of every log file.
type Header struct {
	T   Tag    `json:"t"`
	Ver int    `json:"ver"`
	By  string `json:"by"`
}

// SchemaRecord carries the full current schema, written whenever the
// writer observed a new column.
type SchemaRecord struct {
	T      Tag           `json:"t"`
	Schema types.Schema  `json:"schema"`
}

// FileAddRecord announces a new, immutable data file.
type FileAddRecord struct {
	T         Tag    `json:"t"`
	Path      string `json:"path"`
	Bytes     int64  `json:"b"`
	Rows      int64  `json:"r"`
	Partition string `json:"p"`
}

// FileTombstoneRecord marks a previously-added data file dead as of Ts.
type FileTombstoneRecord struct {
	T    Tag    `json:"t"`
	Path string `json:"path"`
	Ts   int64  `json:"ts"`
}

// LogTombstoneRecord marks an older log file as superseded and eligible
// for eventual physical deletion.
type LogTombstoneRecord struct {
	T    Tag    `json:"t"`
	Path string `json:"path"`
}

// Entry is the fully decoded content of one log file, in the order
// spec.md §3 describes: header, optional schema, file-adds,
// file-tombstones, log-tombstones.
type Entry struct {
	Header         Header
	Schema         *types.Schema
	FileAdds       []FileAddRecord
	FileTombstones []FileTombstoneRecord
	LogTombstones  []LogTombstoneRecord
}

// Encode serializes an Entry to its byte-exact newline-delimited JSON wire
// format, in record order.
func Encode(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	e.Header.T = TagHeader
	if e.Header.Ver == 0 {
		e.Header.Ver = Version
	}
	if err := enc.Encode(e.Header); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	if e.Schema != nil {
		if err := enc.Encode(SchemaRecord{T: TagSchema, Schema: *e.Schema}); err != nil {
			return nil, fmt.Errorf("encode schema: %w", err)
		}
	}
	for _, f := range e.FileAdds {
		f.T = TagFileAdd
		if err := enc.Encode(f); err != nil {
			return nil, fmt.Errorf("encode file-add: %w", err)
		}
	}
	for _, d := range e.FileTombstones {
		d.T = TagFileTombstone
		if err := enc.Encode(d); err != nil {
			return nil, fmt.Errorf("encode file-tombstone: %w", err)
		}
	}
	for _, l := range e.LogTombstones {
		l.T = TagLogTombstone
		if err := enc.Encode(l); err != nil {
			return nil, fmt.Errorf("encode log-tombstone: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// tagOnly is used to sniff a line's tag before decoding its full shape.
type tagOnly struct {
	T Tag `json:"t"`
}

// Decode parses a log file's bytes into an Entry. Any unparseable line or
// unknown tag fails the whole read — partial recovery is not attempted,
// per spec.md §4.1.
func Decode(path string, data []byte) (Entry, error) {
	var e Entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	sawHeader := false
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var tag tagOnly
		if err := json.Unmarshal(line, &tag); err != nil {
			return Entry{}, icerrors.CorruptLogError("logformat", "decode", path,
				fmt.Errorf("line %d: %w", lineNo, err))
		}
		switch tag.T {
		case TagHeader:
			var h Header
			if err := json.Unmarshal(line, &h); err != nil {
				return Entry{}, icerrors.CorruptLogError("logformat", "decode", path, err)
			}
			if h.Ver != Version {
				return Entry{}, icerrors.CorruptLogError("logformat", "decode", path,
					fmt.Errorf("unknown log version %d", h.Ver))
			}
			e.Header = h
			sawHeader = true
		case TagSchema:
			var s SchemaRecord
			if err := json.Unmarshal(line, &s); err != nil {
				return Entry{}, icerrors.CorruptLogError("logformat", "decode", path, err)
			}
			e.Schema = &s.Schema
		case TagFileAdd:
			var f FileAddRecord
			if err := json.Unmarshal(line, &f); err != nil {
				return Entry{}, icerrors.CorruptLogError("logformat", "decode", path, err)
			}
			e.FileAdds = append(e.FileAdds, f)
		case TagFileTombstone:
			var d FileTombstoneRecord
			if err := json.Unmarshal(line, &d); err != nil {
				return Entry{}, icerrors.CorruptLogError("logformat", "decode", path, err)
			}
			e.FileTombstones = append(e.FileTombstones, d)
		case TagLogTombstone:
			var l LogTombstoneRecord
			if err := json.Unmarshal(line, &l); err != nil {
				return Entry{}, icerrors.CorruptLogError("logformat", "decode", path, err)
			}
			e.LogTombstones = append(e.LogTombstones, l)
		default:
			return Entry{}, icerrors.CorruptLogError("logformat", "decode", path,
				fmt.Errorf("line %d: unknown tag %q", lineNo, tag.T))
		}
	}
	if err := sc.Err(); err != nil {
		return Entry{}, icerrors.CorruptLogError("logformat", "decode", path, err)
	}
	if !sawHeader {
		return Entry{}, icerrors.CorruptLogError("logformat", "decode", path, fmt.Errorf("missing header record"))
	}
	return e, nil
}
