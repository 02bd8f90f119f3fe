// Package codec selects and applies the compression algorithm for a data
// file, adapted from the teacher's HTTP compression package: same four
// algorithms, same underlying libraries, stripped of the adaptive-sizing
// and per-sink configuration that only made sense for HTTP responses.
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm is the compression codec applied to a columnar file, per
// spec.md §6's contract ({SNAPPY (default), ZSTD, GZIP, LZ4, ...}).
type Algorithm string

const (
	Snappy Algorithm = "SNAPPY"
	Zstd   Algorithm = "ZSTD"
	Gzip   Algorithm = "GZIP"
	LZ4    Algorithm = "LZ4"
)

// Default is the codec used when a table is constructed without an
// explicit choice.
const Default = Snappy

// Compress encodes data with the given algorithm.
func Compress(alg Algorithm, data []byte) ([]byte, error) {
	switch alg {
	case Snappy, "":
		return snappy.Encode(nil, data), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("codec: new zstd writer: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("codec: gzip write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("codec: gzip close: %w", err)
		}
		return buf.Bytes(), nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("codec: lz4 write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("codec: lz4 close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("codec: unknown algorithm %q", alg)
	}
}

// Decompress reverses Compress.
func Decompress(alg Algorithm, data []byte) ([]byte, error) {
	switch alg {
	case Snappy, "":
		return snappy.Decode(nil, data)
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("codec: new zstd reader: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("codec: gzip reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case LZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("codec: unknown algorithm %q", alg)
	}
}
