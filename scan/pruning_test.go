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

package scan

import (
	"context"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
)

// prunerFor opens the file and binds the predicates the way Init does, so
// the pruning layers can be exercised one row group at a time.
func prunerFor(t *testing.T, path string, preds ...Predicate) *pruner {
	t.Helper()
	r := NewLocalReader(path)
	require.NoError(t, r.Open(context.Background()))
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, Initialize(r.file, preds...))
	return &pruner{r: r, preds: preds}
}

func TestPruningChunkStats(t *testing.T) {
	// Group 0 holds A in [0, 49], group 1 in [50, 99].
	path := buildScanFile(t, sequentialGroups(2, 50))
	ctx := context.Background()

	t.Run("disjoint group pruned", func(t *testing.T) {
		p := prunerFor(t, path, Eq("A", parquet.ValueOf(int64(75))))
		ranges, err := p.filterRowGroup(ctx, 0)
		require.NoError(t, err)
		require.Empty(t, ranges)
	})

	t.Run("overlapping group kept", func(t *testing.T) {
		p := prunerFor(t, path, Eq("A", parquet.ValueOf(int64(75))))
		ranges, err := p.filterRowGroup(ctx, 1)
		require.NoError(t, err)
		require.NotEmpty(t, ranges)
		// Row 75 is local row 25 of group 1 and must survive pruning.
		found := false
		for _, rr := range ranges {
			if rr.From <= 25 && 25 < rr.From+rr.Count {
				found = true
			}
		}
		require.True(t, found)
	})

	t.Run("no predicates keeps everything", func(t *testing.T) {
		p := prunerFor(t, path)
		ranges, err := p.filterRowGroup(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, []RowRange{{From: 0, Count: 50}}, ranges)
	})
}

func TestPruningPageIndexNeverDropsMatches(t *testing.T) {
	// Small pages force a multi-page column index within a single group.
	path := buildScanFile(t, sequentialGroups(1, 500), parquet.PageBufferSize(512))
	ctx := context.Background()

	for _, want := range []int64{0, 123, 499} {
		p := prunerFor(t, path, Eq("A", parquet.ValueOf(want)))
		ranges, err := p.filterRowGroup(ctx, 0)
		require.NoError(t, err)
		require.NotEmpty(t, ranges)
		require.LessOrEqual(t, TotalRows(ranges), int64(500))

		found := false
		for _, rr := range ranges {
			if rr.From <= want && want < rr.From+rr.Count {
				found = true
			}
		}
		require.True(t, found, "row %d pruned away", want)
	}
}

func TestPruningConservativeWithRangePredicates(t *testing.T) {
	path := buildScanFile(t, sequentialGroups(2, 50))
	ctx := context.Background()

	// The page index skip union across two predicate columns must keep every
	// row both predicates can accept.
	p := prunerFor(t, path,
		Gte("A", parquet.ValueOf(int64(40))),
		Lte("A", parquet.ValueOf(int64(60))),
	)
	r0, err := p.filterRowGroup(ctx, 0)
	require.NoError(t, err)
	r1, err := p.filterRowGroup(ctx, 1)
	require.NoError(t, err)

	for want := int64(40); want < 50; want++ {
		require.True(t, rangesContain(r0, want), "row %d pruned from group 0", want)
	}
	for want := int64(50); want <= 60; want++ {
		require.True(t, rangesContain(r1, want-50), "row %d pruned from group 1", want)
	}
}

func rangesContain(rr []RowRange, row int64) bool {
	for _, r := range rr {
		if r.From <= row && row < r.From+r.Count {
			return true
		}
	}
	return false
}

func TestPruningBloomAndDictionaryStayConservative(t *testing.T) {
	// A value inside the min/max bounds but absent from the data: chunk
	// statistics cannot prune it, the dictionary and bloom layers may, and
	// either way no matching row may be lost and no row may match.
	groups := [][]scanRow{{
		{A: 0, B: 0, C: "aa"},
		{A: 2, B: 4, C: "cc"},
		{A: 4, B: 8, C: "ee"},
	}}
	path := buildScanFile(t, groups, parquet.BloomFilters(parquet.SplitBlockFilter(10, "C")))

	r := NewLocalReader(path,
		WithPredicates(Eq("C", parquet.ValueOf("bb"))),
		WithProjection("A", "C"),
		WithDictionaryFilter(true),
	)
	t.Cleanup(func() { _ = r.Close() })

	blk := scanAll(t, r)
	n, err := blk.NumRows()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
