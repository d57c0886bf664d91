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

// Package block holds the columnar batch exchanged between readers and their
// callers. A block is a set of equally sized named columns; readers append
// decoded values, callers consume them and Reset the block for the next
// batch.
package block

import (
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// Reader is the format-independent contract of the readers in this module.
// NextBatch appends rows to the block and returns how many were appended,
// io.EOF on clean end of stream.
type Reader interface {
	NextBatch(ctx context.Context, blk *Block) (int, error)
	Close() error
}

type Column struct {
	Name   string
	Values []parquet.Value

	// Repeated columns carry a variable number of values per row; RowEnds
	// holds the cumulative end offset of each row within Values. Flat
	// columns leave it nil and hold exactly one value per row.
	Repeated bool
	RowEnds  []int
}

func (c *Column) Append(vals ...parquet.Value) {
	c.Values = append(c.Values, vals...)
}

func (c *Column) AppendNulls(n int) {
	for range n {
		c.Values = append(c.Values, parquet.NullValue())
	}
}

func (c *Column) AppendConstant(v parquet.Value, n int) {
	for range n {
		c.Values = append(c.Values, v)
	}
}

// EndRow closes the current row of a repeated column.
func (c *Column) EndRow() {
	c.Repeated = true
	c.RowEnds = append(c.RowEnds, len(c.Values))
}

// Row returns the values of the i-th row of a repeated column.
func (c *Column) Row(i int) []parquet.Value {
	start := 0
	if i > 0 {
		start = c.RowEnds[i-1]
	}
	return c.Values[start:c.RowEnds[i]]
}

func (c *Column) Len() int {
	if c.Repeated {
		return len(c.RowEnds)
	}
	return len(c.Values)
}

type Block struct {
	columns []*Column
	index   map[string]int
}

func New(names ...string) *Block {
	b := &Block{
		columns: make([]*Column, 0, len(names)),
		index:   make(map[string]int, len(names)),
	}
	for _, n := range names {
		b.addColumn(n)
	}
	return b
}

func (b *Block) addColumn(name string) *Column {
	c := &Column{Name: name}
	b.index[name] = len(b.columns)
	b.columns = append(b.columns, c)
	return c
}

// Column returns the named column, creating it when absent.
func (b *Block) Column(name string) *Column {
	if i, ok := b.index[name]; ok {
		return b.columns[i]
	}
	return b.addColumn(name)
}

func (b *Block) Columns() []*Column {
	return b.columns
}

func (b *Block) ColumnNames() []string {
	names := make([]string, len(b.columns))
	for i, c := range b.columns {
		names[i] = c.Name
	}
	return names
}

// NumRows returns the row count of the block. It errors when columns are not
// aligned, which means a reader bug.
func (b *Block) NumRows() (int, error) {
	if len(b.columns) == 0 {
		return 0, nil
	}
	n := b.columns[0].Len()
	for _, c := range b.columns[1:] {
		if c.Len() != n {
			return 0, fmt.Errorf("column %q has %d rows, expected %d", c.Name, c.Len(), n)
		}
	}
	return n, nil
}

// Reset truncates all columns, retaining their backing arrays.
func (b *Block) Reset() {
	for _, c := range b.columns {
		c.Values = c.Values[:0]
		c.RowEnds = c.RowEnds[:0]
	}
}
