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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/columnscan/scan-common/block"
)

func csvConfig() Config {
	cfg := DefaultConfig()
	cfg.ColumnSeparator = ","
	return cfg
}

func newStringReader(input string, cfg Config, opts ...Option) *Reader {
	return NewReader("test.csv", io.NopCloser(strings.NewReader(input)), cfg, opts...)
}

func drainReader(t *testing.T, r *Reader, isLoad bool) *block.Block {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.InitReader(ctx, isLoad))
	blk := block.New()
	for {
		_, err := r.NextBatch(ctx, blk)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}
	return blk
}

func columnStrings(t *testing.T, blk *block.Block, name string) []string {
	t.Helper()
	col := blk.Column(name)
	res := make([]string, len(col.Values))
	for i, v := range col.Values {
		if v.IsNull() {
			res[i] = "<null>"
			continue
		}
		res[i] = v.String()
	}
	return res
}

func TestQueryPathBasic(t *testing.T) {
	r := newStringReader("1,2\n3,4\n", csvConfig())
	t.Cleanup(func() { _ = r.Close() })

	blk := drainReader(t, r, false)
	require.Equal(t, []string{"1", "3"}, columnStrings(t, blk, "c1"))
	require.Equal(t, []string{"2", "4"}, columnStrings(t, blk, "c2"))
	require.Equal(t, int64(2), r.Stats().RowsRead)
}

func TestQueryPathColumnCountTolerance(t *testing.T) {
	// Short rows are null filled, long rows truncated.
	r := newStringReader("1,2,3\n4\n5,6\n", csvConfig(), WithColumns("a", "b"))
	t.Cleanup(func() { _ = r.Close() })

	blk := drainReader(t, r, false)
	require.Equal(t, []string{"1", "4", "5"}, columnStrings(t, blk, "a"))
	require.Equal(t, []string{"2", "<null>", "6"}, columnStrings(t, blk, "b"))
	require.Equal(t, int64(0), r.Stats().FilteredRows)
}

func TestLoadPathFiltersBadRows(t *testing.T) {
	sink := NewCollectSink(10, 100)
	r := newStringReader("1,2,3\n4\n5,6\n7,8\n", csvConfig(),
		WithColumns("a", "b"), WithRowSink(sink))
	t.Cleanup(func() { _ = r.Close() })

	blk := drainReader(t, r, true)
	require.Equal(t, []string{"5", "7"}, columnStrings(t, blk, "a"))
	require.Equal(t, int64(2), r.Stats().FilteredRows)
	require.Equal(t, int64(2), r.Stats().RowsRead)

	require.Equal(t, int64(2), sink.Count())
	rows := sink.Rows()
	require.Len(t, rows, 2)
	require.Equal(t, "1,2,3", rows[0].Line)
	require.Contains(t, rows[0].Reason, "expected 2 columns")
}

func TestLoadPathZeroTolerance(t *testing.T) {
	r := newStringReader("1,2\n3\n", csvConfig(),
		WithColumns("a", "b"), WithRowSink(NewCollectSink(1, 0)))
	t.Cleanup(func() { _ = r.Close() })

	ctx := context.Background()
	require.NoError(t, r.InitReader(ctx, true))
	_, err := r.NextBatch(ctx, block.New())
	re := &RowError{}
	require.ErrorAs(t, err, &re)
	require.Equal(t, int64(2), re.Row)
}

func TestLoadPathRequiresColumns(t *testing.T) {
	r := newStringReader("1,2\n", csvConfig())
	t.Cleanup(func() { _ = r.Close() })
	require.Error(t, r.InitReader(context.Background(), true))
}

func TestHeaderModes(t *testing.T) {
	t.Run("with names", func(t *testing.T) {
		cfg := csvConfig()
		cfg.Header = HeaderWithNames
		r := newStringReader("id,name\n1,alice\n", cfg)
		t.Cleanup(func() { _ = r.Close() })

		blk := drainReader(t, r, false)
		require.Equal(t, []string{"id", "name"}, r.Columns())
		require.Equal(t, []string{"1"}, columnStrings(t, blk, "id"))
		require.Equal(t, []string{"alice"}, columnStrings(t, blk, "name"))
	})

	t.Run("with names and types", func(t *testing.T) {
		cfg := csvConfig()
		cfg.Header = HeaderWithNamesAndTypes
		r := newStringReader("id,name\nint,string\n1,alice\n", cfg)
		t.Cleanup(func() { _ = r.Close() })

		blk := drainReader(t, r, false)
		require.Equal(t, []string{"1"}, columnStrings(t, blk, "id"))
	})

	t.Run("skip lines", func(t *testing.T) {
		cfg := csvConfig()
		cfg.SkipLines = 2
		r := newStringReader("garbage\nmore garbage\n1,2\n", cfg, WithColumns("a", "b"))
		t.Cleanup(func() { _ = r.Close() })

		blk := drainReader(t, r, false)
		require.Equal(t, []string{"1"}, columnStrings(t, blk, "a"))
	})
}

func TestNullTokenAndTrimming(t *testing.T) {
	cfg := csvConfig()
	cfg.TrimTrailingSpaces = true
	cfg.TrimDoubleQuotes = true
	r := newStringReader("\"a\"  ,\\N\nb ,c\n", cfg, WithColumns("x", "y"))
	t.Cleanup(func() { _ = r.Close() })

	blk := drainReader(t, r, false)
	require.Equal(t, []string{"a", "b"}, columnStrings(t, blk, "x"))
	require.Equal(t, []string{"<null>", "c"}, columnStrings(t, blk, "y"))
}

func TestMultiByteSeparators(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ColumnSeparator = "||"
	cfg.LineDelimiter = "#\n"
	r := newStringReader("a||b#\nc|d||e#\n", cfg, WithColumns("x", "y"))
	t.Cleanup(func() { _ = r.Close() })

	blk := drainReader(t, r, false)
	require.Equal(t, []string{"a", "c|d"}, columnStrings(t, blk, "x"))
	require.Equal(t, []string{"b", "e"}, columnStrings(t, blk, "y"))
}

func TestByteRangeSplitsCoverFileOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	var sb strings.Builder
	for i := range 100 {
		fmt.Fprintf(&sb, "row_%03d,x\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	size := int64(sb.Len())

	seen := map[string]int{}
	third := size / 3
	splits := []struct{ start, size int64 }{
		{0, third},
		{third, third},
		{2 * third, size - 2*third},
	}
	for _, sp := range splits {
		r := NewLocalReader(path, csvConfig(),
			WithColumns("a", "b"), WithByteRange(sp.start, sp.size))
		blk := drainReader(t, r, false)
		for _, v := range columnStrings(t, blk, "a") {
			seen[v]++
		}
		require.NoError(t, r.Close())
	}

	require.Len(t, seen, 100)
	for v, count := range seen {
		require.Equal(t, 1, count, "row %s scanned %d times", v, count)
	}
}

func TestCompressedSplitUnsupported(t *testing.T) {
	cfg := csvConfig()
	cfg.Compression = "gzip"
	r := newStringReader("irrelevant", cfg, WithColumns("a"), WithByteRange(10, 20))
	t.Cleanup(func() { _ = r.Close() })

	err := r.InitReader(context.Background(), false)
	ue := &UnsupportedError{}
	require.ErrorAs(t, err, &ue)
}

func TestCompressedStream(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("1,2\n3,4\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	cfg := csvConfig()
	r := NewReader("data.csv.gz", io.NopCloser(&buf), cfg)
	t.Cleanup(func() { _ = r.Close() })

	blk := drainReader(t, r, false)
	require.Equal(t, []string{"1", "3"}, columnStrings(t, blk, "c1"))
}

func TestParsedSchema(t *testing.T) {
	t.Run("generated names keep first row", func(t *testing.T) {
		r := newStringReader("1,2,3\n4,5,6\n", csvConfig())
		t.Cleanup(func() { _ = r.Close() })

		names, err := r.ParsedSchema(context.Background())
		require.NoError(t, err)
		require.Equal(t, []string{"c1", "c2", "c3"}, names)

		blk := drainReader(t, r, false)
		require.Equal(t, []string{"1", "4"}, columnStrings(t, blk, "c1"))
	})

	t.Run("header names", func(t *testing.T) {
		cfg := csvConfig()
		cfg.Header = HeaderWithNames
		r := newStringReader("id,name\n1,alice\n", cfg)
		t.Cleanup(func() { _ = r.Close() })

		names, err := r.ParsedSchema(context.Background())
		require.NoError(t, err)
		require.Equal(t, []string{"id", "name"}, names)
	})

	t.Run("empty file", func(t *testing.T) {
		r := newStringReader("", csvConfig())
		t.Cleanup(func() { _ = r.Close() })

		_, err := r.ParsedSchema(context.Background())
		require.ErrorIs(t, err, io.EOF)
	})
}

func TestReaderCloseIdempotent(t *testing.T) {
	r := newStringReader("1,2\n", csvConfig())
	drainReader(t, r, false)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
