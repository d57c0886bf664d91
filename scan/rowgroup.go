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
	"io"
	"slices"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/columnscan/scan-common/block"
	"github.com/columnscan/scan-common/storage"
	"github.com/columnscan/scan-common/util"
)

// rowGroupReader materializes the candidate rows of a single row group. With
// lazy reading enabled, predicate columns are decoded first, rows are
// evaluated, and the remaining projected columns are decoded only for the
// rows that survived.
type rowGroupReader struct {
	r  *ParquetReader
	rg parquet.RowGroup

	rgi      int
	firstRow int64
	pending  []RowRange

	// stats are group-local and merged into the reader's counters when the
	// group is exhausted.
	stats Statistics

	partitioner util.Partitioner
}

func newRowGroupReader(r *ParquetReader, rgi int, firstRow int64, candidates []RowRange) *rowGroupReader {
	return &rowGroupReader{
		r:           r,
		rg:          r.file.RowGroups()[rgi],
		rgi:         rgi,
		firstRow:    firstRow,
		pending:     candidates,
		partitioner: util.NewGapBasedPartitioner(r.file.PagePartitioningMaxGapSize()),
	}
}

func (g *rowGroupReader) exhausted() bool {
	return len(g.pending) == 0
}

// takeRanges splits up to n rows off the front of the pending ranges.
func (g *rowGroupReader) takeRanges(n int64) []RowRange {
	take := make([]RowRange, 0, len(g.pending))
	for n > 0 && len(g.pending) > 0 {
		head := g.pending[0]
		if head.Count <= n {
			take = append(take, head)
			g.pending = g.pending[1:]
			n -= head.Count
			continue
		}
		take = append(take, RowRange{From: head.From, Count: n})
		g.pending[0] = RowRange{From: head.From + n, Count: head.Count - n}
		n = 0
	}
	return take
}

// next appends up to the reader's batch size of rows to blk and returns how
// many were appended. Zero with a nil error means the group is exhausted.
func (g *rowGroupReader) next(ctx context.Context, blk *block.Block) (int, error) {
	take := g.takeRanges(int64(g.r.opts.batchSize))
	if len(take) == 0 {
		return 0, nil
	}

	fill := g.r.fill
	g.stats.RawRowsRead += TotalRows(take)

	if fill.canLazyRead {
		return g.nextLazy(ctx, blk, take)
	}
	if len(fill.complexColumns) > 0 {
		return g.nextRowWise(blk, take)
	}
	return g.nextEager(ctx, blk, take)
}

func (g *rowGroupReader) nextLazy(ctx context.Context, blk *block.Block, take []RowRange) (int, error) {
	fill := g.r.fill

	predValues, err := g.readColumns(ctx, fill.predicateColumns, take)
	if err != nil {
		return 0, err
	}

	keep, kept := g.evaluate(predValues, TotalRows(take))
	g.stats.FilteredRowsByLazy += TotalRows(take) - int64(kept)
	if kept == 0 {
		return 0, nil
	}

	survivors := keptRanges(take, keep)

	lazyValues, err := g.readColumns(ctx, fill.lazyColumns, survivors)
	if err != nil {
		return 0, err
	}

	for i, name := range fill.predicateColumns {
		col := blk.Column(name)
		for j, v := range predValues[i] {
			if keep[j] {
				col.Append(v)
			}
		}
	}
	for i, name := range fill.lazyColumns {
		blk.Column(name).Append(lazyValues[i]...)
	}
	g.fillConstantColumns(blk, kept)
	return kept, nil
}

func (g *rowGroupReader) nextEager(ctx context.Context, blk *block.Block, take []RowRange) (int, error) {
	fill := g.r.fill
	cols := slices.Concat(fill.predicateColumns, fill.lazyColumns)

	values, err := g.readColumns(ctx, cols, take)
	if err != nil {
		return 0, err
	}

	n := int(TotalRows(take))
	keep, kept := g.evaluate(values[:len(fill.predicateColumns)], TotalRows(take))
	g.stats.FilteredRowsByPredicate += int64(n - kept)
	if kept == 0 {
		return 0, nil
	}

	for i, name := range cols {
		col := blk.Column(name)
		if kept == n {
			col.Append(values[i]...)
			continue
		}
		for j, v := range values[i] {
			if keep[j] {
				col.Append(v)
			}
		}
	}
	g.fillConstantColumns(blk, kept)
	return kept, nil
}

// evaluate applies the bound predicates row-wise over the decoded predicate
// columns. predValues is ordered like fill.predicateColumns.
func (g *rowGroupReader) evaluate(predValues [][]parquet.Value, n int64) ([]bool, int) {
	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}
	kept := int(n)

	start := time.Now()
	for ci, name := range g.r.fill.predicateColumns {
		if ci >= len(predValues) {
			break
		}
		for _, pred := range g.r.predsByColumn[name] {
			for j, v := range predValues[ci] {
				if keep[j] && !pred.matches(v) {
					keep[j] = false
					kept--
				}
			}
		}
	}
	g.stats.PredicateEvalTime += time.Since(start)
	return keep, kept
}

// keptRanges converts a selection mask over the rows of take back into
// absolute row ranges.
func keptRanges(take []RowRange, keep []bool) []RowRange {
	res := make([]RowRange, 0, len(take))
	i := 0
	for _, rr := range take {
		for off := int64(0); off < rr.Count; off++ {
			if keep[i] {
				row := rr.From + off
				if len(res) > 0 && res[len(res)-1].From+res[len(res)-1].Count == row {
					res[len(res)-1].Count++
				} else {
					res = append(res, RowRange{From: row, Count: 1})
				}
			}
			i++
		}
	}
	return res
}

// readColumns decodes the given file columns over the given row ranges, one
// goroutine per column.
func (g *rowGroupReader) readColumns(ctx context.Context, cols []string, rr []RowRange) ([][]parquet.Value, error) {
	res := make([][]parquet.Value, len(cols))
	if len(cols) == 0 || TotalRows(rr) == 0 {
		return res, nil
	}

	start := time.Now()
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.r.opts.columnConcurrency)
	for i, name := range cols {
		eg.Go(func() error {
			col, ok := lookupColumn(g.rg.Schema(), name)
			if !ok {
				return &SchemaMismatchError{Column: name, Reason: "column disappeared from row group schema"}
			}
			cc := g.rg.ColumnChunks()[col.ColumnIndex]
			values, err := g.readColumnAsSlice(ctx, cc, rr)
			if err != nil {
				return &DecodeError{RowGroup: g.rgi, Column: name, Err: err}
			}
			res[i] = values
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	g.stats.ColumnReadTime += time.Since(start)
	return res, nil
}

// nextRowWise is the fallback used when the projection contains repeated or
// nested columns: whole rows are decoded, predicates on flat columns are
// evaluated row by row, and the projected leaves are scattered into the
// block. Lazy reading is never attempted on this path.
func (g *rowGroupReader) nextRowWise(blk *block.Block, take []RowRange) (int, error) {
	fill := g.r.fill
	schema := g.rg.Schema()

	type outCol struct {
		name     string
		repeated bool
	}
	outs := make(map[int]outCol)
	for _, name := range slices.Concat(fill.predicateColumns, fill.lazyColumns, fill.complexColumns) {
		col, ok := lookupColumn(schema, name)
		if !ok {
			return 0, &SchemaMismatchError{Column: name, Reason: "column disappeared from row group schema"}
		}
		outs[col.ColumnIndex] = outCol{name: name, repeated: col.MaxRepetitionLevel > 0}
	}

	start := time.Now()
	rows := g.rg.Rows()
	defer func() { _ = rows.Close() }()

	kept := 0
	buf := make([]parquet.Row, 64)
	for _, rr := range take {
		if err := rows.SeekToRow(rr.From); err != nil {
			return 0, &DecodeError{RowGroup: g.rgi, Err: err}
		}
		remaining := rr.Count
		for remaining > 0 {
			n := min(remaining, int64(len(buf)))
			m, err := rows.ReadRows(buf[:n])
			for _, row := range buf[:m] {
				if !g.matchRow(row) {
					continue
				}
				kept++
				for _, v := range row {
					out, ok := outs[v.Column()]
					if !ok {
						continue
					}
					blk.Column(out.name).Append(v)
				}
				for _, out := range outs {
					if out.repeated {
						blk.Column(out.name).EndRow()
					}
				}
			}
			remaining -= int64(m)
			if err != nil {
				if err == io.EOF {
					break
				}
				return 0, &DecodeError{RowGroup: g.rgi, Err: err}
			}
		}
	}
	g.stats.ColumnReadTime += time.Since(start)
	g.stats.FilteredRowsByPredicate += TotalRows(take) - int64(kept)
	g.fillConstantColumns(blk, kept)
	return kept, nil
}

// matchRow evaluates the bound predicates against the first value of their
// leaf column within the row. Predicates are only ever bound to flat
// columns, which contribute exactly one value per row.
func (g *rowGroupReader) matchRow(row parquet.Row) bool {
	if len(g.r.predLeafIndex) == 0 {
		return true
	}
	for _, v := range row {
		preds, ok := g.r.predLeafIndex[v.Column()]
		if !ok {
			continue
		}
		for _, pred := range preds {
			if !pred.matches(v) {
				return false
			}
		}
	}
	return true
}

func (g *rowGroupReader) fillConstantColumns(blk *block.Block, n int) {
	fill := g.r.fill
	for name, v := range fill.partitionValues {
		blk.Column(name).AppendConstant(v, n)
	}
	for name := range fill.missingColumns {
		blk.Column(name).AppendNulls(n)
	}
}

func (g *rowGroupReader) readColumn(ctx context.Context, cc parquet.ColumnChunk, rr []RowRange) *columnIterator {
	if len(rr) == 0 {
		return &columnIterator{}
	}

	pageBatches, err := g.getPageRanges(cc, rr)
	if err != nil {
		return &columnIterator{
			err: errors.Wrap(err, "failed to get page ranges"),
		}
	}

	return &columnIterator{
		ctx:         ctx,
		file:        g.r.file,
		cc:          cc,
		pageBatches: pageBatches,
		iter: &pagesBatchIterator{
			pi: new(pageIterator),
		},
	}
}

// readColumnAsSlice internally calls readColumn and collects all values into
// a slice. It is convenient for callers who don't want to stream values.
func (g *rowGroupReader) readColumnAsSlice(ctx context.Context, cc parquet.ColumnChunk, rr []RowRange) ([]parquet.Value, error) {
	iter := g.readColumn(ctx, cc, rr)
	values := make([]parquet.Value, 0, TotalRows(rr))
	for iter.Next() {
		values = append(values, iter.At())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating column values")
	}
	if len(values) != int(TotalRows(rr)) {
		return nil, errors.Errorf("expected %d values, got %d", TotalRows(rr), len(values))
	}
	return values, nil
}

type pageEntryRead struct {
	pages []int
	rows  []RowRange
}

func (g *rowGroupReader) getPageRanges(cc parquet.ColumnChunk, rr []RowRange) ([]pageEntryRead, error) {
	oidx, err := cc.OffsetIndex()
	if err != nil {
		return nil, errors.Wrap(err, "could not get offset index")
	}

	cidx, err := cc.ColumnIndex()
	if err != nil {
		return nil, errors.Wrap(err, "could not get column index")
	}

	pagesToRowsMap := make(map[int][]RowRange, len(rr))

	for i := 0; i < cidx.NumPages(); i++ {
		pageRowRange := RowRange{
			From: oidx.FirstRowIndex(i),
		}
		pageRowRange.Count = g.rg.NumRows()

		if i < oidx.NumPages()-1 {
			pageRowRange.Count = oidx.FirstRowIndex(i+1) - pageRowRange.From
		}

		for _, r := range rr {
			if pageRowRange.Overlaps(r) {
				pagesToRowsMap[i] = append(pagesToRowsMap[i], pageRowRange.Intersection(r))
			}
		}
	}

	return g.coalescePageRanges(pagesToRowsMap, oidx), nil
}

// Merge nearby pages to enable efficient sequential reads.
// Pages that are not close to each other will be scheduled for separate reads.
func (g *rowGroupReader) coalescePageRanges(pagedIdx map[int][]RowRange, offset parquet.OffsetIndex) []pageEntryRead {
	if len(pagedIdx) == 0 {
		return []pageEntryRead{}
	}
	idxs := make([]int, 0, len(pagedIdx))
	for idx := range pagedIdx {
		idxs = append(idxs, idx)
	}

	slices.Sort(idxs)

	parts := g.partitioner.Partition(len(idxs), func(i int) (int, int) {
		return int(offset.Offset(idxs[i])), int(offset.Offset(idxs[i]) + offset.CompressedPageSize(idxs[i]))
	})

	r := make([]pageEntryRead, 0, len(parts))
	for _, part := range parts {
		pagesToRead := pageEntryRead{}
		for i := part.ElemRng[0]; i < part.ElemRng[1]; i++ {
			pagesToRead.pages = append(pagesToRead.pages, idxs[i])
			pagesToRead.rows = append(pagesToRead.rows, pagedIdx[idxs[i]]...)
		}
		pagesToRead.rows = simplify(pagesToRead.rows)
		r = append(r, pagesToRead)
	}

	return r
}

// columnIterator iterates through the values of a single column chunk,
// partitioning reads into batches of pages.
type columnIterator struct {
	ctx         context.Context
	file        *storage.ParquetFile
	cc          parquet.ColumnChunk
	pageBatches []pageEntryRead

	iter *pagesBatchIterator
	err  error
}

func (c *columnIterator) Next() bool {
	rv := c.next()
	if !rv && c.iter != nil {
		c.iter.release()
	}
	return rv
}

func (c *columnIterator) next() bool {
	if c.iter == nil || c.err != nil {
		return false
	}
	if c.iter.Next() {
		return true
	}

	if c.iter.Err() != nil {
		return false
	}

	if len(c.pageBatches) == 0 {
		return false
	}
	c.iter.reset(c.ctx, c.file, c.cc, c.pageBatches[0])
	c.pageBatches = c.pageBatches[1:]
	return c.Next()
}

func (c *columnIterator) At() parquet.Value {
	return c.iter.At()
}

func (c *columnIterator) Err() error {
	if c.err != nil {
		return c.err
	}
	if c.iter != nil {
		return c.iter.Err()
	}
	return nil
}

// pagesBatchIterator iterates through the values of a batch of pages.
type pagesBatchIterator struct {
	pgs *parquet.FilePages

	pi *pageIterator

	remainingRr []RowRange
	currentRr   RowRange
	next        int64
	remaining   int64
	currentRow  int64

	currentValue parquet.Value
	err          error
	done         bool
}

// release releases any pooled resources held by the iterator, and should be
// called when the iterator is no longer needed. Although helpful for efficient
// memory management, it is not strictly necessary to call this method.
func (c *pagesBatchIterator) release() {
	if c.pgs != nil {
		_ = c.pgs.Close()
		c.pgs = nil
	}
	c.pi.release()
}

func (c *pagesBatchIterator) Next() bool {
	if c.done || c.err != nil {
		return false
	}

	if len(c.remainingRr) == 0 && c.remaining == 0 {
		c.done = true
		return false
	}

	for c.pi.Next() {
		if c.currentRow == c.next {
			c.currentValue = c.pi.At()
			c.remaining--
			if c.remaining > 0 {
				c.next++
			} else if len(c.remainingRr) > 0 {
				c.currentRr = c.remainingRr[0]
				c.next = c.currentRr.From
				c.remaining = c.currentRr.Count
				c.remainingRr = c.remainingRr[1:]
			}
			c.currentRow++
			return true
		}
		c.currentRow++
	}
	if c.pi.Err() != nil {
		c.err = c.pi.Err()
		return false
	}
	c.pi.readPage(c.pgs)
	return c.Next()
}

func (c *pagesBatchIterator) At() parquet.Value {
	return c.currentValue
}

func (c *pagesBatchIterator) Err() error {
	return c.err
}

func (c *pagesBatchIterator) reset(ctx context.Context, file *storage.ParquetFile, cc parquet.ColumnChunk, batch pageEntryRead) {
	if c.pgs != nil {
		_ = c.pgs.Close()
		c.pgs = nil
	}

	c.err = nil
	c.done = false
	c.currentValue = parquet.Value{}
	c.remainingRr = batch.rows
	if len(c.remainingRr) == 0 {
		c.remaining = 0
		return
	}
	pgs, err := file.GetPages(ctx, cc, batch.pages...)
	if err != nil {
		c.err = errors.Wrap(err, "failed to get pages")
		return
	}
	c.pgs = pgs
	err = c.pgs.SeekToRow(c.remainingRr[0].From)
	if err != nil {
		_ = c.pgs.Close()
		c.pgs = nil
		c.err = errors.Wrap(err, "could not seek to row")
		return
	}

	c.currentRr = c.remainingRr[0]
	c.next = c.currentRr.From
	c.remaining = c.currentRr.Count
	c.currentRow = c.currentRr.From
	c.remainingRr = c.remainingRr[1:]
	c.pi.readPage(c.pgs)
}
