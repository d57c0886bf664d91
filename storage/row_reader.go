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
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// RowReader streams whole rows of an open ParquetFile sequentially across
// all of its row groups. It is the row-oriented counterpart of the columnar
// scan, useful for rewriting files and for callers that need every column of
// every row anyway.
type RowReader struct {
	file   *ParquetFile
	groups []parquet.RowGroup
	idx    int
	cur    parquet.Rows
}

func NewRowReader(f *ParquetFile) (*RowReader, error) {
	groups := f.RowGroups()
	if len(groups) == 0 {
		return nil, errors.Wrapf(io.EOF, "parquet file %q has no row groups", f.Name())
	}
	return &RowReader{file: f, groups: groups}, nil
}

// ReadRows fills rows and returns how many were read, moving to the next row
// group when the current one is drained. It returns io.EOF alongside the
// final rows of the last group, or with a zero count afterwards.
func (r *RowReader) ReadRows(rows []parquet.Row) (int, error) {
	n := 0
	for n < len(rows) {
		if r.cur == nil {
			if r.idx >= len(r.groups) {
				return n, io.EOF
			}
			r.cur = r.groups[r.idx].Rows()
			r.idx++
		}
		m, err := r.cur.ReadRows(rows[n:])
		n += m
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = r.cur.Close()
				r.cur = nil
				continue
			}
			return n, err
		}
	}
	return n, nil
}

func (r *RowReader) Schema() *parquet.Schema {
	return r.file.Schema()
}

// Close releases the rows of the group being read. The file handle stays
// with the caller.
func (r *RowReader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}
