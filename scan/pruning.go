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
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// pruner applies the predicate pushdown layers to one row group at a time,
// cheapest first: chunk statistics, then dictionaries and bloom filters,
// then the page index. Every layer is conservative; rows are only excluded
// when the statistics prove no value in them can match.
type pruner struct {
	r     *ParquetReader
	preds []Predicate
}

// filterRowGroup returns the candidate row ranges of the group. A nil result
// means the whole group is pruned.
func (p *pruner) filterRowGroup(ctx context.Context, rgi int) ([]RowRange, error) {
	rg := p.r.file.RowGroups()[rgi]
	all := []RowRange{{From: 0, Count: rg.NumRows()}}
	if len(p.preds) == 0 {
		return all, nil
	}

	start := time.Now()
	keep, err := p.filterByChunkStats(rgi)
	if err != nil {
		return nil, err
	}
	if keep && p.r.opts.dictionaryFilter {
		keep, err = p.filterByDictionary(ctx, rgi)
		if err != nil {
			return nil, err
		}
	}
	if keep && p.r.file.BloomFiltersLoaded {
		keep, err = p.filterByBloomFilter(rgi)
		if err != nil {
			return nil, err
		}
	}
	p.r.stats.RowGroupFilterTime += time.Since(start)
	if !keep {
		return nil, nil
	}

	start = time.Now()
	ranges, err := p.filterByPageIndex(ctx, rgi)
	p.r.stats.PageIndexFilterTime += time.Since(start)
	if err != nil {
		return nil, err
	}
	return ranges, nil
}

// prunableColumn resolves the predicate column within the file. Predicates on
// repeated or nested columns cannot be pruned through statistics, their page
// boundaries do not line up with row boundaries.
func (p *pruner) prunableColumn(pred Predicate) (parquet.LeafColumn, bool) {
	col, ok := lookupColumn(p.r.file.Schema(), pred.Column())
	if !ok || col.Node.Repeated() || !col.Node.Leaf() {
		return parquet.LeafColumn{}, false
	}
	if col.MaxRepetitionLevel > 0 {
		return parquet.LeafColumn{}, false
	}
	return col, true
}

// filterByChunkStats aggregates the per-page min/max of each predicate column
// into chunk bounds and drops the group on the first disjoint column.
func (p *pruner) filterByChunkStats(rgi int) (bool, error) {
	rg := p.r.file.RowGroups()[rgi]
	for _, pred := range p.preds {
		col, ok := p.prunableColumn(pred)
		if !ok {
			continue
		}
		cc := rg.ColumnChunks()[col.ColumnIndex]
		cidx, err := cc.ColumnIndex()
		if err != nil {
			// No column index written for this chunk, nothing to prune with.
			continue
		}

		comp := col.Node.Type().Compare
		minv, maxv := parquet.NullValue(), parquet.NullValue()
		hasNulls := false
		for i := range cidx.NumPages() {
			if cidx.NullPage(i) {
				hasNulls = true
				continue
			}
			if cidx.NullCount(i) > 0 {
				hasNulls = true
			}
			pmin, pmax := cidx.MinValue(i), cidx.MaxValue(i)
			if pmin.IsNull() || pmax.IsNull() {
				// Statistics were not written for this page; the chunk bounds
				// are unknown, keep the group.
				minv, maxv = parquet.NullValue(), parquet.NullValue()
				break
			}
			if minv.IsNull() || comp(pmin, minv) < 0 {
				minv = pmin
			}
			if maxv.IsNull() || comp(pmax, maxv) > 0 {
				maxv = pmax
			}
		}
		if minv.IsNull() || maxv.IsNull() {
			continue
		}
		if !pred.overlaps(minv, maxv) && !(hasNulls && pred.matchesNull()) {
			return false, nil
		}
	}
	return true, nil
}

// dictionaryEncoded reports whether every data page of the chunk is
// dictionary encoded. A plain encoding in the list means the writer fell
// back mid-chunk and the dictionary is not exhaustive.
func (p *pruner) dictionaryEncoded(rgi, colIdx int) bool {
	md := p.r.file.Metadata().RowGroups[rgi].Columns[colIdx].MetaData
	sawDict := false
	for _, enc := range md.Encoding {
		switch enc {
		case format.PlainDictionary, format.RLEDictionary:
			sawDict = true
		case format.RLE, format.BitPacked, format.DeltaBinaryPacked:
		case format.Plain:
			return false
		default:
			return false
		}
	}
	return sawDict
}

// filterByDictionary drops the group when an equality predicate matches none
// of the dictionary entries of a fully dictionary encoded chunk.
func (p *pruner) filterByDictionary(ctx context.Context, rgi int) (bool, error) {
	rg := p.r.file.RowGroups()[rgi]
	for _, pred := range p.preds {
		if pred.equalityValues() == nil || pred.matchesNull() {
			continue
		}
		col, ok := p.prunableColumn(pred)
		if !ok {
			continue
		}
		if !p.dictionaryEncoded(rgi, col.ColumnIndex) {
			continue
		}
		dictOffset, dictSize := p.r.file.DictionaryPageBounds(rgi, col.ColumnIndex)
		if dictSize == 0 {
			continue
		}

		cc := rg.ColumnChunks()[col.ColumnIndex]
		pgs, err := p.r.file.GetPagesInRange(ctx, cc, int64(dictOffset), int64(dictOffset+dictSize))
		if err != nil {
			return false, errors.Wrap(err, "unable to get dictionary page")
		}
		pg, err := pgs.ReadPage()
		if err != nil {
			_ = pgs.Close()
			return false, errors.Wrap(err, "unable to read dictionary page")
		}
		dict := pg.Dictionary()
		found := false
		if dict != nil {
			for i := 0; i < dict.Len() && !found; i++ {
				found = pred.matches(dict.Index(int32(i)))
			}
		} else {
			// Should not happen given the encoding check, keep the group.
			found = true
		}
		parquet.Release(pg)
		_ = pgs.Close()
		if !found {
			return false, nil
		}
	}
	return true, nil
}

// filterByBloomFilter drops the group when the bloom filter of a predicate
// column rules out every acceptable value.
func (p *pruner) filterByBloomFilter(rgi int) (bool, error) {
	rg := p.r.file.RowGroups()[rgi]
	for _, pred := range p.preds {
		vals := pred.equalityValues()
		if vals == nil || pred.matchesNull() {
			continue
		}
		col, ok := p.prunableColumn(pred)
		if !ok {
			continue
		}
		bf := rg.ColumnChunks()[col.ColumnIndex].BloomFilter()
		if bf == nil {
			continue
		}
		anyPresent := false
		for _, v := range vals {
			ok, err := bf.Check(v)
			if err != nil {
				return false, errors.Wrap(err, "unable to check bloomfilter")
			}
			if ok {
				anyPresent = true
				break
			}
		}
		if !anyPresent {
			return false, nil
		}
	}
	return true, nil
}

// filterByPageIndex collects, per predicate column, the pages whose
// statistics cannot match, unions those skip ranges across columns and
// returns the complement as the candidate rows of the group. Columns without
// a page index contribute nothing.
func (p *pruner) filterByPageIndex(ctx context.Context, rgi int) ([]RowRange, error) {
	rg := p.r.file.RowGroups()[rgi]
	all := []RowRange{{From: 0, Count: rg.NumRows()}}

	var (
		mu    sync.Mutex
		skips []RowRange
	)
	g, _ := errgroup.WithContext(ctx)
	for _, pred := range p.preds {
		col, ok := p.prunableColumn(pred)
		if !ok {
			continue
		}
		g.Go(func() error {
			srr, err := p.pageSkipRanges(rg, col, pred)
			if err != nil {
				return err
			}
			if len(srr) == 0 {
				return nil
			}
			mu.Lock()
			skips = unionRowRanges(skips, srr)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(skips) == 0 {
		return all, nil
	}
	return complementRowRanges(skips, all), nil
}

func (p *pruner) pageSkipRanges(rg parquet.RowGroup, col parquet.LeafColumn, pred Predicate) ([]RowRange, error) {
	cc := rg.ColumnChunks()[col.ColumnIndex]
	oidx, err := cc.OffsetIndex()
	if err != nil {
		return nil, nil
	}
	cidx, err := cc.ColumnIndex()
	if err != nil {
		return nil, nil
	}

	res := make([]RowRange, 0)
	for i := range cidx.NumPages() {
		pfrom := oidx.FirstRowIndex(i)
		pcount := rg.NumRows() - pfrom
		if i < oidx.NumPages()-1 {
			pcount = oidx.FirstRowIndex(i+1) - pfrom
		}

		if cidx.NullPage(i) {
			if !pred.matchesNull() {
				res = append(res, RowRange{From: pfrom, Count: pcount})
			}
			continue
		}
		if cidx.NullCount(i) > 0 && pred.matchesNull() {
			continue
		}
		minv, maxv := cidx.MinValue(i), cidx.MaxValue(i)
		if minv.IsNull() || maxv.IsNull() {
			continue
		}
		if !pred.overlaps(minv, maxv) {
			res = append(res, RowRange{From: pfrom, Count: pcount})
		}
	}
	return simplify(res), nil
}
