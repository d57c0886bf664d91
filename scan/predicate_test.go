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

	"github.com/columnscan/scan-common/storage"
)

func boundFile(t *testing.T) *storage.ParquetFile {
	t.Helper()
	path := buildScanFile(t, sequentialGroups(1, 10))
	pf, err := storage.OpenFromFile(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pf.Close() })
	return pf
}

func TestPredicateKindMismatch(t *testing.T) {
	f := boundFile(t)
	err := Initialize(f, Eq("A", parquet.ValueOf("not an int")))
	sme := &SchemaMismatchError{}
	require.ErrorAs(t, err, &sme)
	require.Equal(t, "A", sme.Column)
}

func TestEqualPredicate(t *testing.T) {
	f := boundFile(t)
	p := Eq("A", parquet.ValueOf(int64(5)))
	require.NoError(t, Initialize(f, p))

	require.True(t, p.matches(parquet.ValueOf(int64(5))))
	require.False(t, p.matches(parquet.ValueOf(int64(6))))
	require.False(t, p.matches(parquet.NullValue()))
	require.False(t, p.matchesNull())

	require.True(t, p.overlaps(parquet.ValueOf(int64(0)), parquet.ValueOf(int64(9))))
	require.True(t, p.overlaps(parquet.ValueOf(int64(5)), parquet.ValueOf(int64(5))))
	require.False(t, p.overlaps(parquet.ValueOf(int64(6)), parquet.ValueOf(int64(9))))
	// Unknown bounds cannot prune.
	require.True(t, p.overlaps(parquet.NullValue(), parquet.NullValue()))

	require.Len(t, p.equalityValues(), 1)
}

func TestRangePredicateBounds(t *testing.T) {
	f := boundFile(t)

	gt := Gt("A", parquet.ValueOf(int64(5)))
	gte := Gte("A", parquet.ValueOf(int64(5)))
	lt := Lt("A", parquet.ValueOf(int64(5)))
	between := Between("A", parquet.ValueOf(int64(2)), parquet.ValueOf(int64(4)))
	require.NoError(t, Initialize(f, gt, gte, lt, between))

	require.False(t, gt.matches(parquet.ValueOf(int64(5))))
	require.True(t, gte.matches(parquet.ValueOf(int64(5))))
	require.True(t, lt.matches(parquet.ValueOf(int64(4))))
	require.False(t, lt.matches(parquet.ValueOf(int64(5))))
	require.True(t, between.matches(parquet.ValueOf(int64(2))))
	require.True(t, between.matches(parquet.ValueOf(int64(4))))
	require.False(t, between.matches(parquet.ValueOf(int64(5))))

	// Exclusive bound touching the page maximum cannot match.
	require.False(t, gt.overlaps(parquet.ValueOf(int64(0)), parquet.ValueOf(int64(5))))
	require.True(t, gte.overlaps(parquet.ValueOf(int64(0)), parquet.ValueOf(int64(5))))
	require.False(t, between.overlaps(parquet.ValueOf(int64(5)), parquet.ValueOf(int64(9))))

	require.Nil(t, between.equalityValues())
}

func TestNullAwarePredicates(t *testing.T) {
	f := boundFile(t)

	isNull := IsNull("A")
	require.NoError(t, Initialize(f, isNull))
	require.True(t, isNull.matches(parquet.NullValue()))
	require.False(t, isNull.matches(parquet.ValueOf(int64(1))))
	require.True(t, isNull.matchesNull())

	not := Not(Eq("A", parquet.ValueOf(int64(5))))
	require.NoError(t, Initialize(f, not))
	require.False(t, not.matches(parquet.ValueOf(int64(5))))
	require.True(t, not.matches(parquet.ValueOf(int64(6))))
	// Nulls fail the inner equality, so the negation accepts them.
	require.True(t, not.matchesNull())
	// Inverted statistics cannot prune.
	require.True(t, not.overlaps(parquet.ValueOf(int64(5)), parquet.ValueOf(int64(5))))

	pass := NullPassthrough(Eq("A", parquet.ValueOf(int64(5))))
	require.NoError(t, Initialize(f, pass))
	require.True(t, pass.matches(parquet.NullValue()))
	require.True(t, pass.matches(parquet.ValueOf(int64(5))))
	require.False(t, pass.matches(parquet.ValueOf(int64(6))))
	require.True(t, pass.matchesNull())
}
