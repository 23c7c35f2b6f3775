package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec applied to archived save-files.
type Compression int

const (
	// CompressionNone stores save-files verbatim.
	CompressionNone Compression = iota

	// CompressionZstd uses zstandard. Best ratio for the sorted,
	// run-length-encoded record streams save-files contain.
	CompressionZstd

	// CompressionLZ4 uses lz4. Lower ratio, fastest to decode on pull.
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", int(c))
	}
}

// Ext returns the object name suffix for the codec.
func (c Compression) Ext() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// NewWriter wraps w with the codec's compressor.
func (c Compression) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionZstd:
		return zstd.NewWriter(w)
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("archive: unknown compression %d", int(c))
	}
}

// NewReader wraps r with the codec's decompressor.
func (c Compression) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("archive: unknown compression %d", int(c))
	}
}

// DetectCompression infers the codec from an object base name and returns
// the name with the codec suffix removed.
func DetectCompression(name string) (string, Compression) {
	switch {
	case strings.HasSuffix(name, ".zst"):
		return strings.TrimSuffix(name, ".zst"), CompressionZstd
	case strings.HasSuffix(name, ".lz4"):
		return strings.TrimSuffix(name, ".lz4"), CompressionLZ4
	default:
		return name, CompressionNone
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
