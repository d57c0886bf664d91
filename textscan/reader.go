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

// Package textscan reads delimited text files into columnar batches, the
// same contract the parquet reader serves. Lines and fields are split on
// configurable, possibly multi-byte separators; a scan can be restricted to
// a byte range of the file so parallel tasks share one file without reading
// a row twice.
package textscan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"

	"github.com/columnscan/scan-common/block"
)

const DefaultBatchSize = 4096

type readerOptions struct {
	batchSize  int
	columns    []string
	rangeStart int64
	rangeSize  int64
	sink       RowSink
}

type Option func(*readerOptions)

func WithBatchSize(n int) Option {
	return func(o *readerOptions) { o.batchSize = n }
}

// WithColumns sets the expected output columns. Without it the schema is
// derived from the header or the first data row.
func WithColumns(names ...string) Option {
	return func(o *readerOptions) { o.columns = append(o.columns, names...) }
}

// WithByteRange restricts the scan to lines starting inside [start,
// start+size) of the uncompressed file. A non-zero start skips the partial
// line it lands in; the neighbouring split reads that line to its end.
func WithByteRange(start, size int64) Option {
	return func(o *readerOptions) {
		o.rangeStart = start
		o.rangeSize = size
	}
}

// WithRowSink installs the receiver of rejected rows on the load path. The
// default sink tolerates and drops every bad row.
func WithRowSink(sink RowSink) Option {
	return func(o *readerOptions) { o.sink = sink }
}

// Stats counts what a text scan read and rejected.
type Stats struct {
	RowsRead     int64
	FilteredRows int64
	ReadBytes    int64
}

// Reader scans one delimited text file. Construct with one of the NewXxx
// functions, call InitReader once, then NextBatch until io.EOF.
type Reader struct {
	name string
	cfg  Config
	opts readerOptions
	open func(ctx context.Context, offset int64) (io.ReadCloser, error)

	src   io.ReadCloser
	dec   io.ReadCloser
	lines *lineScanner
	sep   []byte

	// limit is the line scanner offset past which no new line may start,
	// zero means unlimited.
	limit int64

	isLoad      bool
	columns     []string
	headerNames []string
	pendingLine []byte

	row    int64
	stats  Stats
	scanID ulid.ULID

	inited bool
	eof    bool

	closeOnce sync.Once
	closeErr  error
}

func newReader(name string, cfg Config, opts ...Option) *Reader {
	rOpts := readerOptions{
		batchSize: DefaultBatchSize,
		sink:      DiscardSink{},
	}
	for _, opt := range opts {
		opt(&rOpts)
	}
	return &Reader{
		name:    name,
		cfg:     cfg,
		opts:    rOpts,
		sep:     []byte(cfg.ColumnSeparator),
		columns: rOpts.columns,
		scanID:  ulid.Make(),
	}
}

// NewReader scans an already open stream. The stream is closed by Close.
func NewReader(name string, rc io.ReadCloser, cfg Config, opts ...Option) *Reader {
	r := newReader(name, cfg, opts...)
	r.open = func(_ context.Context, offset int64) (io.ReadCloser, error) {
		if offset != 0 {
			return nil, &UnsupportedError{Op: "byte range over a plain stream"}
		}
		return rc, nil
	}
	return r
}

// NewBucketReader scans an object in a bucket.
func NewBucketReader(bkt objstore.BucketReader, name string, cfg Config, opts ...Option) *Reader {
	r := newReader(name, cfg, opts...)
	r.open = func(ctx context.Context, offset int64) (io.ReadCloser, error) {
		return bkt.GetRange(ctx, name, offset, -1)
	}
	return r
}

// NewLocalReader scans a file on the local filesystem.
func NewLocalReader(path string, cfg Config, opts ...Option) *Reader {
	r := newReader(path, cfg, opts...)
	r.open = func(_ context.Context, offset int64) (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		if offset > 0 {
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
		return f, nil
	}
	return r
}

// InitReader opens the stream, applies the byte range split and discards the
// header before the first data row. On the load path a row that does not fit
// the schema is a countable bad row; on the query path it is tolerated. It
// is idempotent.
func (r *Reader) InitReader(ctx context.Context, isLoad bool) error {
	if r.inited {
		return nil
	}
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	r.isLoad = isLoad
	r.sep = []byte(r.cfg.ColumnSeparator)

	comp := CompressionNone
	if r.cfg.Compression != "" {
		var err error
		comp, err = ParseCompression(r.cfg.Compression)
		if err != nil {
			return err
		}
	} else {
		comp = DetectCompression(r.name)
	}
	if comp != CompressionNone && r.opts.rangeStart > 0 {
		return &UnsupportedError{Op: "splitting a compressed stream"}
	}
	if isLoad && len(r.columns) == 0 {
		return errors.New("load path requires an explicit column set")
	}

	// Rewind one byte so a line starting exactly at rangeStart is not
	// mistaken for the tail of the previous split's line.
	rewind := int64(0)
	if r.opts.rangeStart > 0 {
		rewind = 1
	}
	src, err := r.open(ctx, r.opts.rangeStart-rewind)
	if err != nil {
		return errors.Wrapf(err, "opening %s", r.name)
	}
	r.src = src
	r.dec, err = comp.NewReader(src)
	if err != nil {
		_ = src.Close()
		r.src = nil
		return err
	}
	r.lines = newLineScanner(r.dec, r.cfg.LineDelimiter)
	if r.opts.rangeSize > 0 && comp == CompressionNone {
		r.limit = r.opts.rangeSize + rewind
	}

	if r.opts.rangeStart > 0 {
		// The line the range starts in belongs to the previous split.
		if _, err := r.lines.ReadLine(); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	} else if err := r.skipHeader(); err != nil {
		return err
	}

	r.inited = true
	return nil
}

// skipHeader discards the configured leading lines, capturing column names
// from the first one when the header carries names.
func (r *Reader) skipHeader() error {
	for i := range r.cfg.headerLines() {
		line, err := r.lines.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if i == 0 && r.cfg.Header != HeaderNone {
			for _, f := range splitFields(line, r.sep, nil) {
				name, isNull := postProcess(f, r.cfg.TrimTrailingSpaces, r.cfg.TrimDoubleQuotes)
				if isNull {
					name = nil
				}
				r.headerNames = append(r.headerNames, string(name))
			}
			if len(r.columns) == 0 {
				r.columns = append(r.columns, r.headerNames...)
			}
		}
	}
	return nil
}

// nextLine returns the next data line, honoring the byte range limit: a line
// that starts past the limit belongs to the next split.
func (r *Reader) nextLine() ([]byte, error) {
	if r.pendingLine != nil {
		line := r.pendingLine
		r.pendingLine = nil
		return line, nil
	}
	if r.eof {
		return nil, io.EOF
	}
	if r.limit > 0 && r.lines.consumed >= r.limit {
		r.eof = true
		return nil, io.EOF
	}
	line, err := r.lines.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.eof = true
		}
		return nil, err
	}
	return line, nil
}

// NextBatch appends up to the batch size of rows to blk and returns how many
// were appended. It returns io.EOF when the scan is exhausted.
func (r *Reader) NextBatch(ctx context.Context, blk *block.Block) (int, error) {
	if !r.inited {
		return 0, errors.New("reader not initialized")
	}

	var fieldsBuf [][]byte
	rows := 0
	for rows < r.opts.batchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		line, err := r.nextLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		r.row++

		fieldsBuf = splitFields(line, r.sep, fieldsBuf)
		if len(r.columns) == 0 {
			r.columns = generatedNames(len(fieldsBuf))
		}

		if r.isLoad {
			ok, err := r.checkRow(line, fieldsBuf)
			if err != nil {
				return 0, err
			}
			if !ok {
				r.stats.FilteredRows++
				continue
			}
		}

		for i, name := range r.columns {
			col := blk.Column(name)
			if i >= len(fieldsBuf) {
				// Query path tolerance: short rows are null filled. Extra
				// trailing fields are dropped by never visiting them.
				col.Append(parquet.NullValue())
				continue
			}
			f, isNull := postProcess(fieldsBuf[i], r.cfg.TrimTrailingSpaces, r.cfg.TrimDoubleQuotes)
			if isNull {
				col.Append(parquet.NullValue())
			} else {
				col.Append(parquet.ByteArrayValue(append([]byte(nil), f...)))
			}
		}
		rows++
	}

	r.stats.RowsRead += int64(rows)
	r.stats.ReadBytes = r.lines.consumed
	if rows == 0 {
		return 0, io.EOF
	}
	return rows, nil
}

// checkRow validates a row on the load path. A false result means the row
// was reported to the sink and must be skipped; an error aborts the scan.
func (r *Reader) checkRow(line []byte, fields [][]byte) (bool, error) {
	reason := ""
	switch {
	case len(fields) != len(r.columns):
		reason = fmt.Sprintf("expected %d columns, found %d", len(r.columns), len(fields))
	case !utf8.Valid(line):
		reason = "line is not valid UTF-8"
	default:
		return true, nil
	}
	lineCopy := string(line)
	if err := r.opts.sink.ReportBadRow(r.row, func() string { return lineCopy }, reason); err != nil {
		return false, err
	}
	return false, nil
}

// Columns returns the output column names. Before the first batch of a
// headerless file without an explicit column set, the names are not known
// yet and the result is empty.
func (r *Reader) Columns() []string {
	return append([]string(nil), r.columns...)
}

// ParsedSchema returns the column names of the file, from the header when it
// has one and generated c1..cN names otherwise. Deriving generated names
// reads the first data line; that line is buffered and still delivered by
// NextBatch.
func (r *Reader) ParsedSchema(ctx context.Context) ([]string, error) {
	if !r.inited {
		if err := r.InitReader(ctx, false); err != nil {
			return nil, err
		}
	}
	if len(r.headerNames) > 0 {
		return append([]string(nil), r.headerNames...), nil
	}
	line, err := r.nextLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(io.EOF, "empty text file %q", r.name)
		}
		return nil, err
	}
	r.pendingLine = append([]byte(nil), line...)
	names := generatedNames(len(splitFields(line, r.sep, nil)))
	if len(r.columns) == 0 {
		r.columns = names
	}
	return append([]string(nil), names...), nil
}

func generatedNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("c%d", i+1)
	}
	return names
}

func (r *Reader) Stats() Stats {
	return r.stats
}

// Close releases the stream exactly once. Further calls return the first
// result.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		slog.Debug("text scan closed",
			"scan_id", r.scanID.String(),
			"file", r.name,
			"rows_read", r.stats.RowsRead,
			"filtered_rows", r.stats.FilteredRows,
			"read_bytes", r.stats.ReadBytes,
		)
		var errs *multierror.Error
		if r.dec != nil {
			errs = multierror.Append(errs, r.dec.Close())
		}
		if r.src != nil {
			errs = multierror.Append(errs, r.src.Close())
		}
		r.closeErr = errs.ErrorOrNil()
	})
	return r.closeErr
}
