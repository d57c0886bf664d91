// Copyright The ColumnScan Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package textscan

import (
	"compress/bzip2"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionDeflate
	CompressionBzip2
	CompressionLZ4
	CompressionZstd
	// CompressionLZO is recognized but has no decoder; opening it returns
	// an UnsupportedError.
	CompressionLZO
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionDeflate:
		return "deflate"
	case CompressionBzip2:
		return "bzip2"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	case CompressionLZO:
		return "lzo"
	default:
		return "unknown"
	}
}

func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none", "uncompressed", "plain":
		return CompressionNone, nil
	case "gz", "gzip":
		return CompressionGzip, nil
	case "deflate":
		return CompressionDeflate, nil
	case "bz2", "bzip2":
		return CompressionBzip2, nil
	case "lz4", "lz4frame":
		return CompressionLZ4, nil
	case "zst", "zstd":
		return CompressionZstd, nil
	case "lzo", "lzop":
		return CompressionLZO, nil
	default:
		return CompressionNone, errors.Errorf("unknown compression %q", s)
	}
}

// DetectCompression guesses the codec from the file name extension. Unknown
// extensions mean uncompressed.
func DetectCompression(name string) Compression {
	switch {
	case strings.HasSuffix(name, ".gz"), strings.HasSuffix(name, ".gzip"):
		return CompressionGzip
	case strings.HasSuffix(name, ".deflate"):
		return CompressionDeflate
	case strings.HasSuffix(name, ".bz2"):
		return CompressionBzip2
	case strings.HasSuffix(name, ".lz4"):
		return CompressionLZ4
	case strings.HasSuffix(name, ".zst"), strings.HasSuffix(name, ".zstd"):
		return CompressionZstd
	case strings.HasSuffix(name, ".lzo"):
		return CompressionLZO
	default:
		return CompressionNone
	}
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

// NewReader wraps r with the decoder of the codec.
func (c Compression) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return nopCloser{r}, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip stream")
		}
		return zr, nil
	case CompressionDeflate:
		return flate.NewReader(r), nil
	case CompressionBzip2:
		return nopCloser{bzip2.NewReader(r)}, nil
	case CompressionLZ4:
		return nopCloser{lz4.NewReader(r)}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "opening zstd stream")
		}
		return zr.IOReadCloser(), nil
	case CompressionLZO:
		return nil, &UnsupportedError{Op: "lzo decompression"}
	default:
		return nil, errors.Errorf("unknown compression %d", c)
	}
}
