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

package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
)

const DefaultPagePartitioningMaxGapSize = 512 * 1024

var DefaultFileOptions = fileOptions{
	optimisticReader:           true,
	pagePartitioningMaxGapSize: DefaultPagePartitioningMaxGapSize,
}

type fileOptions struct {
	fileOptions                []parquet.FileOption
	optimisticReader           bool
	pagePartitioningMaxGapSize int
}

// ParquetFile is an open parquet file handle with its footer parsed. The
// handle is stateless with respect to reads; every page read goes through a
// fresh context-bound reader, so a single handle can serve concurrent scans.
type ParquetFile struct {
	*parquet.File
	ReadAtWithContextCloser
	BloomFiltersLoaded bool

	name string

	optimisticReader           bool
	pagePartitioningMaxGapSize int
}

type FileOption func(*fileOptions)

func WithFileOptions(parquetOptions ...parquet.FileOption) FileOption {
	return func(opts *fileOptions) {
		opts.fileOptions = append(opts.fileOptions, parquetOptions...)
	}
}

func WithOptimisticReader(optimisticReader bool) FileOption {
	return func(opts *fileOptions) {
		opts.optimisticReader = optimisticReader
	}
}

func WithPagePartitioningMaxGapSize(size int) FileOption {
	return func(opts *fileOptions) {
		opts.pagePartitioningMaxGapSize = size
	}
}

// CorruptFooterError marks a file whose footer or page index metadata could
// not be decoded. It is not retryable.
type CorruptFooterError struct {
	Name string
	Err  error
}

func (e *CorruptFooterError) Error() string {
	return fmt.Sprintf("corrupt parquet footer in %q: %v", e.Name, e.Err)
}

func (e *CorruptFooterError) Unwrap() error {
	return e.Err
}

func (f *ParquetFile) Name() string {
	return f.name
}

func (f *ParquetFile) PagePartitioningMaxGapSize() int {
	return f.pagePartitioningMaxGapSize
}

// GetPages returns the pages of the given column chunk. When page indexes are
// passed and the optimistic reader is enabled, the byte range spanning those
// pages is fetched with a single read.
func (f *ParquetFile) GetPages(ctx context.Context, cc parquet.ColumnChunk, pagesToRead ...int) (*parquet.FilePages, error) {
	colChunk := cc.(*parquet.FileColumnChunk)
	reader := f.WithContext(ctx)

	if len(pagesToRead) > 0 && f.optimisticReader {
		offset, err := cc.OffsetIndex()
		if err != nil {
			return nil, err
		}
		minOffset := offset.Offset(pagesToRead[0])
		maxOffset := offset.Offset(pagesToRead[len(pagesToRead)-1]) + offset.CompressedPageSize(pagesToRead[len(pagesToRead)-1])
		reader = newOptimisticReaderAt(reader, minOffset, maxOffset)
	}

	pages := colChunk.PagesFrom(reader)
	return pages, nil
}

// GetPagesInRange is like GetPages but takes an explicit byte range instead
// of page indexes.
func (f *ParquetFile) GetPagesInRange(ctx context.Context, cc parquet.ColumnChunk, minOffset, maxOffset int64) (*parquet.FilePages, error) {
	colChunk := cc.(*parquet.FileColumnChunk)
	reader := f.WithContext(ctx)

	if f.optimisticReader {
		reader = newOptimisticReaderAt(reader, minOffset, maxOffset)
	}

	pages := colChunk.PagesFrom(reader)
	return pages, nil
}

// DictionaryPageBounds returns the offset and compressed size of the
// dictionary page of the given column chunk. Size is zero when the chunk has
// no dictionary page.
func (f *ParquetFile) DictionaryPageBounds(rgIdx, colIdx int) (uint64, uint64) {
	md := f.Metadata().RowGroups[rgIdx].Columns[colIdx].MetaData
	if md.DictionaryPageOffset == 0 {
		return uint64(md.DataPageOffset), 0
	}
	return uint64(md.DictionaryPageOffset), uint64(md.DataPageOffset - md.DictionaryPageOffset)
}

// RowGroupByteRange returns the byte extent of the given row group, from the
// start of its first column chunk to the end of its last.
func (f *ParquetFile) RowGroupByteRange(rgIdx int) (start, end int64) {
	cols := f.Metadata().RowGroups[rgIdx].Columns
	first := cols[0].MetaData
	start = first.DataPageOffset
	if first.DictionaryPageOffset > 0 {
		start = first.DictionaryPageOffset
	}
	last := cols[len(cols)-1].MetaData
	end = last.DataPageOffset
	if last.DictionaryPageOffset > 0 && last.DictionaryPageOffset < end {
		end = last.DictionaryPageOffset
	}
	end += last.TotalCompressedSize
	return start, end
}

func Open(ctx context.Context, name string, r ReadAtWithContextCloser, size int64, opts ...FileOption) (*ParquetFile, error) {
	cfg := DefaultFileOptions

	for _, opt := range opts {
		opt(&cfg)
	}

	if size == 0 {
		return nil, errors.Wrapf(io.EOF, "empty parquet file %q", name)
	}

	c, err := parquet.NewFileConfig(cfg.fileOptions...)
	if err != nil {
		return nil, err
	}

	file, err := parquet.OpenFile(r.WithContext(ctx), size, cfg.fileOptions...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &CorruptFooterError{Name: name, Err: err}
	}

	return &ParquetFile{
		File:                       file,
		ReadAtWithContextCloser:    r,
		BloomFiltersLoaded:         !c.SkipBloomFilters,
		name:                       name,
		optimisticReader:           cfg.optimisticReader,
		pagePartitioningMaxGapSize: cfg.pagePartitioningMaxGapSize,
	}, nil
}

func OpenFromBucket(ctx context.Context, bkt objstore.BucketReader, name string, opts ...FileOption) (*ParquetFile, error) {
	attr, err := bkt.Attributes(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "attributes %s", name)
	}

	r := NewBucketReadAt(name, bkt)
	return Open(ctx, name, r, attr.Size, opts...)
}

func OpenFromFile(ctx context.Context, path string, opts ...FileOption) (*ParquetFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r := NewFileReadAt(f)
	pf, err := Open(ctx, path, r, stat.Size(), opts...)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	// At this point, the file's lifecycle is managed by the ParquetFile
	return pf, nil
}
