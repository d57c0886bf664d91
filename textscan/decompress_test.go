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
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{
		"":        CompressionNone,
		"none":    CompressionNone,
		"GZIP":    CompressionGzip,
		"gz":      CompressionGzip,
		"bz2":     CompressionBzip2,
		"lz4":     CompressionLZ4,
		"zstd":    CompressionZstd,
		"lzo":     CompressionLZO,
		"deflate": CompressionDeflate,
	} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		require.Equal(t, want, got, "input %q", in)
	}

	_, err := ParseCompression("snappy")
	require.Error(t, err)
}

func TestDetectCompression(t *testing.T) {
	require.Equal(t, CompressionGzip, DetectCompression("data.csv.gz"))
	require.Equal(t, CompressionZstd, DetectCompression("data.csv.zst"))
	require.Equal(t, CompressionLZ4, DetectCompression("part-0.lz4"))
	require.Equal(t, CompressionNone, DetectCompression("data.csv"))
}

func TestDecompressRoundTrips(t *testing.T) {
	payload := bytes.Repeat([]byte("hello,world\nfoo,bar\n"), 1000)

	compressors := map[Compression]func(w io.Writer) io.WriteCloser{
		CompressionGzip: func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		CompressionDeflate: func(w io.Writer) io.WriteCloser {
			fw, err := flate.NewWriter(w, flate.DefaultCompression)
			require.NoError(t, err)
			return fw
		},
		CompressionLZ4: func(w io.Writer) io.WriteCloser { return lz4.NewWriter(w) },
		CompressionZstd: func(w io.Writer) io.WriteCloser {
			zw, err := zstd.NewWriter(w)
			require.NoError(t, err)
			return zw
		},
	}

	for codec, compress := range compressors {
		t.Run(codec.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w := compress(&buf)
			_, err := w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := codec.NewReader(&buf)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			require.Equal(t, payload, got)
		})
	}
}

func TestDecompressLZOUnsupported(t *testing.T) {
	_, err := CompressionLZO.NewReader(bytes.NewReader(nil))
	ue := &UnsupportedError{}
	require.ErrorAs(t, err, &ue)
}
