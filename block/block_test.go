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

package block

import (
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
)

func TestBlockColumns(t *testing.T) {
	b := New("a", "b")
	require.Equal(t, []string{"a", "b"}, b.ColumnNames())

	b.Column("a").Append(parquet.ValueOf(int64(1)), parquet.ValueOf(int64(2)))
	b.Column("b").AppendNulls(2)

	// Columns are created on demand.
	b.Column("c").AppendConstant(parquet.ValueOf("x"), 2)
	require.Equal(t, []string{"a", "b", "c"}, b.ColumnNames())

	n, err := b.NumRows()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.True(t, b.Column("b").Values[0].IsNull())
	require.Equal(t, "x", b.Column("c").Values[1].String())
}

func TestBlockNumRowsMisaligned(t *testing.T) {
	b := New("a", "b")
	b.Column("a").Append(parquet.ValueOf(int64(1)))
	_, err := b.NumRows()
	require.Error(t, err)
}

func TestBlockRepeatedColumn(t *testing.T) {
	b := New()
	c := b.Column("vals")
	c.Append(parquet.ValueOf(int64(1)), parquet.ValueOf(int64(2)))
	c.EndRow()
	c.EndRow() // empty row
	c.Append(parquet.ValueOf(int64(3)))
	c.EndRow()

	require.Equal(t, 3, c.Len())
	require.Len(t, c.Row(0), 2)
	require.Empty(t, c.Row(1))
	require.Len(t, c.Row(2), 1)

	n, err := b.NumRows()
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestBlockReset(t *testing.T) {
	b := New("a")
	b.Column("a").Append(parquet.ValueOf(int64(1)))
	b.Reset()
	n, err := b.NumRows()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
