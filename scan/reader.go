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
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"

	"github.com/columnscan/scan-common/block"
	"github.com/columnscan/scan-common/storage"
	"github.com/columnscan/scan-common/util"
)

const (
	DefaultBatchSize         = 4096
	DefaultColumnConcurrency = 4
)

type readerOptions struct {
	batchSize         int
	columnConcurrency int
	filterRowGroups   bool
	dictionaryFilter  bool
	lazyRead          bool

	rangeStart int64
	rangeSize  int64

	cache    *storage.FileCache
	fileOpts []storage.FileOption

	deletes *PositionDeletes
	preds   []Predicate

	projection      []string
	missingOK       []string
	partitionValues map[string]parquet.Value
}

type ReaderOption func(*readerOptions)

func WithBatchSize(n int) ReaderOption {
	return func(o *readerOptions) { o.batchSize = n }
}

func WithColumnConcurrency(n int) ReaderOption {
	return func(o *readerOptions) { o.columnConcurrency = n }
}

// WithRowGroupFilter toggles predicate pruning of row groups and pages. Rows
// are still evaluated against the predicates either way.
func WithRowGroupFilter(enabled bool) ReaderOption {
	return func(o *readerOptions) { o.filterRowGroups = enabled }
}

// WithDictionaryFilter enables pruning through chunk dictionaries. It costs
// one page read per equality predicate column and row group.
func WithDictionaryFilter(enabled bool) ReaderOption {
	return func(o *readerOptions) { o.dictionaryFilter = enabled }
}

// WithLazyRead toggles deferring non-predicate column decode until after the
// predicates ran. Disabling it decodes every projected column up front; the
// scan output is identical either way.
func WithLazyRead(enabled bool) ReaderOption {
	return func(o *readerOptions) { o.lazyRead = enabled }
}

// WithByteRange restricts the scan to row groups assigned to the byte range
// [start, start+size) of the file. A row group belongs to the range that
// contains its byte midpoint, so splits that cut through a group never read
// it twice.
func WithByteRange(start, size int64) ReaderOption {
	return func(o *readerOptions) {
		o.rangeStart = start
		o.rangeSize = size
	}
}

func WithFileCache(c *storage.FileCache) ReaderOption {
	return func(o *readerOptions) { o.cache = c }
}

func WithStorageOptions(opts ...storage.FileOption) ReaderOption {
	return func(o *readerOptions) { o.fileOpts = append(o.fileOpts, opts...) }
}

func WithPositionDeletes(d *PositionDeletes) ReaderOption {
	return func(o *readerOptions) { o.deletes = d }
}

func WithPredicates(preds ...Predicate) ReaderOption {
	return func(o *readerOptions) { o.preds = append(o.preds, preds...) }
}

// WithProjection selects the leaf columns to materialize. Without it every
// leaf column of the file is read. Predicate columns are always read and
// always part of the output.
func WithProjection(columns ...string) ReaderOption {
	return func(o *readerOptions) { o.projection = append(o.projection, columns...) }
}

// WithMissingColumns declares columns the caller expects that are known to
// be absent from this file, for example after schema evolution. They are
// null filled instead of failing Init.
func WithMissingColumns(columns ...string) ReaderOption {
	return func(o *readerOptions) { o.missingOK = append(o.missingOK, columns...) }
}

// WithPartitionValues provides constant values for columns that exist only
// in the partition path, not in the file.
func WithPartitionValues(values map[string]parquet.Value) ReaderOption {
	return func(o *readerOptions) { o.partitionValues = values }
}

// fillContext partitions the output columns by how they get their values:
// decoded predicate columns, decoded lazy columns, constant partition
// columns and null filled missing columns.
type fillContext struct {
	predicateColumns []string
	lazyColumns      []string
	complexColumns   []string
	partitionValues  map[string]parquet.Value
	missingColumns   map[string]struct{}

	// canLazyRead is only set when there is at least one predicate column to
	// evaluate first and at least one lazy column whose decode can be
	// skipped, and no repeated columns force row-wise reading.
	canLazyRead bool
}

type rowGroupEntry struct {
	rgi        int
	firstRow   int64
	candidates []RowRange
}

// ParquetReader scans one parquet file: prune row groups with the bound
// predicates, decode the surviving rows lazily and deliver them as columnar
// batches. The zero value is not usable; construct with one of the NewXxx
// functions, then Open, Init, and call NextBatch until io.EOF.
type ParquetReader struct {
	name string
	open func(ctx context.Context) (*storage.ParquetFile, error)
	opts readerOptions

	file    *storage.ParquetFile
	release func() error

	scanID ulid.ULID
	stats  Statistics

	predsByColumn map[string][]Predicate
	predLeafIndex map[int][]Predicate
	fill          *fillContext

	queue   []rowGroupEntry
	current *rowGroupReader
	inited  bool

	closeOnce sync.Once
	closeErr  error
}

func newParquetReader(name string, open func(ctx context.Context) (*storage.ParquetFile, error), opts ...ReaderOption) *ParquetReader {
	cfg := readerOptions{
		batchSize:         DefaultBatchSize,
		columnConcurrency: DefaultColumnConcurrency,
		filterRowGroups:   true,
		lazyRead:          true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ParquetReader{
		name:   name,
		open:   open,
		opts:   cfg,
		scanID: ulid.Make(),
	}
}

// NewBucketReader scans an object in a bucket.
func NewBucketReader(bkt objstore.BucketReader, name string, opts ...ReaderOption) *ParquetReader {
	r := newParquetReader(name, nil, opts...)
	r.open = func(ctx context.Context) (*storage.ParquetFile, error) {
		return storage.OpenFromBucket(ctx, bkt, name, r.opts.fileOpts...)
	}
	return r
}

// NewLocalReader scans a file on the local filesystem.
func NewLocalReader(path string, opts ...ReaderOption) *ParquetReader {
	r := newParquetReader(path, nil, opts...)
	r.open = func(ctx context.Context) (*storage.ParquetFile, error) {
		return storage.OpenFromFile(ctx, path, r.opts.fileOpts...)
	}
	return r
}

// NewFileReader scans an already open handle. The handle's lifecycle stays
// with the caller; Close does not close it.
func NewFileReader(f *storage.ParquetFile, opts ...ReaderOption) *ParquetReader {
	r := newParquetReader(f.Name(), nil, opts...)
	r.file = f
	return r
}

// Open parses the file footer, or borrows a shared handle with an already
// parsed footer from the file cache. It is idempotent.
func (r *ParquetReader) Open(ctx context.Context) error {
	if r.file != nil {
		return nil
	}
	start := time.Now()
	defer func() { r.stats.MetadataParseDuration += time.Since(start) }()

	if r.opts.cache != nil {
		sf, err := r.opts.cache.GetOrOpen(ctx, r.name, func(ctx context.Context) (*storage.ParquetFile, error) {
			return r.open(ctx)
		})
		if err != nil {
			return err
		}
		r.file = sf.ParquetFile
		r.release = sf.Release
		return nil
	}

	pf, err := r.open(ctx)
	if err != nil {
		return err
	}
	r.file = pf
	r.release = pf.Close
	return nil
}

// Init resolves the projection against the file schema, binds the
// predicates and selects the row groups this scan will read, applying the
// byte range split, the pruning layers and the position deletes. It must be
// called once after Open and before NextBatch.
func (r *ParquetReader) Init(ctx context.Context) error {
	if r.file == nil {
		if err := r.Open(ctx); err != nil {
			return err
		}
	}
	ctx, span := util.Tracer().Start(ctx, "ParquetReader.Init")
	defer span.End()

	if err := r.initColumns(); err != nil {
		return err
	}
	allFiltered, err := r.initPredicates()
	if err != nil {
		return err
	}
	if allFiltered {
		for rgi := range r.file.RowGroups() {
			r.stats.FilteredRowGroups++
			r.stats.FilteredRowsByGroup += r.file.RowGroups()[rgi].NumRows()
			r.stats.FilteredBytes += r.groupCompressedSize(rgi)
		}
		r.inited = true
		return nil
	}
	if err := r.initRowGroups(ctx); err != nil {
		return err
	}
	r.inited = true
	return nil
}

func (r *ParquetReader) initColumns() error {
	schema := r.file.Schema()

	projection := r.opts.projection
	if len(projection) == 0 {
		for _, c := range schema.Columns() {
			projection = append(projection, joinPath(c))
		}
	}

	missingOK := make(map[string]struct{}, len(r.opts.missingOK))
	for _, c := range r.opts.missingOK {
		missingOK[c] = struct{}{}
	}

	fill := &fillContext{
		partitionValues: r.opts.partitionValues,
		missingColumns:  make(map[string]struct{}),
	}
	for name := range fill.partitionValues {
		if _, ok := lookupColumn(schema, name); ok {
			return &SchemaMismatchError{Column: name, Reason: "partition column also present in file"}
		}
	}

	predCols := make(map[string]struct{})
	for _, p := range r.opts.preds {
		predCols[p.Column()] = struct{}{}
	}

	// classify routes every decoded column: repeated and nested columns only
	// work on the row-wise path, flat columns split into predicate and lazy.
	classify := func(name string, col parquet.LeafColumn) {
		switch {
		case col.MaxRepetitionLevel > 0 || col.MaxDefinitionLevel > 1:
			fill.complexColumns = append(fill.complexColumns, name)
		case hasPredicate(predCols, name):
			fill.predicateColumns = append(fill.predicateColumns, name)
		default:
			fill.lazyColumns = append(fill.lazyColumns, name)
		}
	}

	seen := make(map[string]struct{}, len(projection))
	for _, name := range projection {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		col, ok := lookupColumn(schema, name)
		if !ok {
			if _, filled := fill.partitionValues[name]; filled {
				continue
			}
			if _, declared := missingOK[name]; !declared {
				return &SchemaMismatchError{Column: name, Reason: "not present in file and not declared missing"}
			}
			fill.missingColumns[name] = struct{}{}
			continue
		}
		classify(name, col)
	}

	// Predicate columns outside the projection still have to be decoded, and
	// a nested one still has to force the row-wise path.
	for name := range predCols {
		if _, ok := seen[name]; ok {
			continue
		}
		if col, ok := lookupColumn(schema, name); ok {
			classify(name, col)
			seen[name] = struct{}{}
		}
	}
	slices.Sort(fill.predicateColumns)

	fill.canLazyRead = r.opts.lazyRead &&
		len(fill.complexColumns) == 0 &&
		len(fill.predicateColumns) > 0 &&
		len(fill.lazyColumns) > 0
	r.fill = fill
	return nil
}

func hasPredicate(predCols map[string]struct{}, name string) bool {
	_, ok := predCols[name]
	return ok
}

// initPredicates binds the predicates to the file. It returns true when a
// predicate on an absent column can never match, which filters the whole
// file without reading any row group.
func (r *ParquetReader) initPredicates() (bool, error) {
	schema := r.file.Schema()
	r.predsByColumn = make(map[string][]Predicate)
	r.predLeafIndex = make(map[int][]Predicate)

	bound := make([]Predicate, 0, len(r.opts.preds))
	for _, pred := range r.opts.preds {
		col, ok := lookupColumn(schema, pred.Column())
		if !ok {
			// The column is null filled; a predicate that null satisfies
			// filters nothing, any other predicate filters everything.
			if pred.matchesNull() {
				continue
			}
			return true, nil
		}
		if col.MaxRepetitionLevel > 0 {
			return false, &SchemaMismatchError{Column: pred.Column(), Reason: "predicates on repeated columns are not supported"}
		}
		bound = append(bound, pred)
	}

	if err := Initialize(r.file, bound...); err != nil {
		return false, err
	}
	for _, pred := range bound {
		r.predsByColumn[pred.Column()] = append(r.predsByColumn[pred.Column()], pred)
		if col, ok := lookupColumn(schema, pred.Column()); ok {
			r.predLeafIndex[col.ColumnIndex] = append(r.predLeafIndex[col.ColumnIndex], pred)
		}
	}
	return false, nil
}

func (r *ParquetReader) initRowGroups(ctx context.Context) error {
	bound := make([]Predicate, 0, len(r.predsByColumn))
	for _, ps := range r.predsByColumn {
		bound = append(bound, ps...)
	}
	p := &pruner{r: r, preds: bound}

	firstRow := int64(0)
	for rgi, rg := range r.file.RowGroups() {
		nrows := rg.NumRows()
		groupFirstRow := firstRow
		firstRow += nrows

		if r.opts.rangeSize > 0 && !r.alignedGroup(rgi) {
			continue
		}

		candidates := []RowRange{{From: 0, Count: nrows}}
		if r.opts.filterRowGroups && len(bound) > 0 {
			var err error
			candidates, err = p.filterRowGroup(ctx, rgi)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				r.stats.FilteredRowGroups++
				r.stats.FilteredRowsByGroup += nrows
				r.stats.FilteredBytes += r.groupCompressedSize(rgi)
				continue
			}
			r.stats.FilteredRowsByPage += nrows - TotalRows(candidates)
		}

		if del := r.opts.deletes.forRowGroup(groupFirstRow, nrows); len(del) > 0 {
			before := TotalRows(candidates)
			candidates = complementRowRanges(del, candidates)
			r.stats.DeletedRows += before - TotalRows(candidates)
		}
		if TotalRows(candidates) == 0 {
			continue
		}

		r.queue = append(r.queue, rowGroupEntry{rgi: rgi, firstRow: groupFirstRow, candidates: candidates})
	}
	return nil
}

// alignedGroup reports whether the row group belongs to this scan's byte
// range: the range that contains the group's byte midpoint owns it.
func (r *ParquetReader) alignedGroup(rgi int) bool {
	start, end := r.file.RowGroupByteRange(rgi)
	mid := start + (end-start)/2
	return mid >= r.opts.rangeStart && mid < r.opts.rangeStart+r.opts.rangeSize
}

func (r *ParquetReader) groupCompressedSize(rgi int) int64 {
	size := int64(0)
	for _, c := range r.file.Metadata().RowGroups[rgi].Columns {
		size += c.MetaData.TotalCompressedSize
	}
	return size
}

// SetFillColumns replaces the constant fill values of the scan: partition
// columns get the given constants, declared missing columns stay null
// filled. It may be called between batches; the new values apply from the
// next batch on.
func (r *ParquetReader) SetFillColumns(partitionValues map[string]parquet.Value) error {
	if r.fill == nil {
		return errors.New("reader not initialized")
	}
	for name := range partitionValues {
		if _, ok := lookupColumn(r.file.Schema(), name); ok {
			return &SchemaMismatchError{Column: name, Reason: "partition column also present in file"}
		}
	}
	r.fill.partitionValues = partitionValues
	return nil
}

// NextBatch appends the next batch of surviving rows to blk and returns how
// many rows were appended. It returns io.EOF when the scan is exhausted.
func (r *ParquetReader) NextBatch(ctx context.Context, blk *block.Block) (int, error) {
	if !r.inited {
		return 0, errors.New("reader not initialized")
	}

	for {
		if r.current == nil {
			if len(r.queue) == 0 {
				return 0, io.EOF
			}
			e := r.queue[0]
			r.queue = r.queue[1:]
			r.stats.ReadRowGroups++
			r.stats.ReadBytes += r.groupCompressedSize(e.rgi)
			r.current = newRowGroupReader(r, e.rgi, e.firstRow, e.candidates)
		}

		n, err := r.current.next(ctx, blk)
		if err != nil {
			return 0, err
		}
		if r.current.exhausted() {
			r.stats.Merge(&r.current.stats)
			r.current = nil
		}
		if n > 0 {
			return n, nil
		}
	}
}

// Stats returns a snapshot of the scan counters. Counters of the row group
// being read are merged in when the group finishes.
func (r *ParquetReader) Stats() Statistics {
	return r.stats
}

// ColumnInfo describes one output column of the scan.
type ColumnInfo struct {
	Name    string
	Kind    parquet.Kind
	Missing bool
}

// Columns lists the output columns of the scan in no particular order.
func (r *ParquetReader) Columns() ([]ColumnInfo, error) {
	if r.fill == nil {
		return nil, errors.New("reader not initialized")
	}
	res := make([]ColumnInfo, 0)
	for _, name := range slices.Concat(r.fill.predicateColumns, r.fill.lazyColumns, r.fill.complexColumns) {
		col, ok := lookupColumn(r.file.Schema(), name)
		if !ok {
			continue
		}
		res = append(res, ColumnInfo{Name: name, Kind: col.Node.Type().Kind()})
	}
	for name, v := range r.fill.partitionValues {
		res = append(res, ColumnInfo{Name: name, Kind: v.Kind()})
	}
	for name := range r.fill.missingColumns {
		res = append(res, ColumnInfo{Name: name, Missing: true})
	}
	return res, nil
}

// ParsedSchema returns the file schema. Open must have been called.
func (r *ParquetReader) ParsedSchema() *parquet.Schema {
	return r.file.Schema()
}

// Close releases the file handle and flushes the scan statistics exactly
// once. Further calls return the first result.
func (r *ParquetReader) Close() error {
	r.closeOnce.Do(func() {
		if r.current != nil {
			r.stats.Merge(&r.current.stats)
			r.current = nil
		}
		ctx := context.Background()
		r.stats.flush(ctx, "ParquetReader")
		slog.Debug("parquet scan closed",
			"scan_id", r.scanID.String(),
			"file", r.name,
			"read_row_groups", r.stats.ReadRowGroups,
			"filtered_row_groups", r.stats.FilteredRowGroups,
			"raw_rows_read", r.stats.RawRowsRead,
			"filtered_rows_by_group", r.stats.FilteredRowsByGroup,
			"filtered_rows_by_page", r.stats.FilteredRowsByPage,
			"filtered_rows_by_lazy", r.stats.FilteredRowsByLazy,
			"filtered_rows_by_predicate", r.stats.FilteredRowsByPredicate,
			"deleted_rows", r.stats.DeletedRows,
			"read_bytes", r.stats.ReadBytes,
		)
		if r.release != nil {
			r.closeErr = r.release()
			r.release = nil
		}
	})
	return r.closeErr
}

func joinPath(path []string) string {
	if len(path) == 1 {
		return path[0]
	}
	res := path[0]
	for _, p := range path[1:] {
		res += "." + p
	}
	return res
}

// lookupColumn resolves a dot joined column name against the schema. Lookup
// itself takes the path one element at a time, so nested names have to be
// split back apart.
func lookupColumn(schema *parquet.Schema, name string) (parquet.LeafColumn, bool) {
	if !strings.Contains(name, ".") {
		return schema.Lookup(name)
	}
	return schema.Lookup(strings.Split(name, ".")...)
}
