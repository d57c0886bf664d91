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
	"sort"

	"github.com/pkg/errors"

	"github.com/columnscan/scan-common/util/encoding"
)

// PositionDeletes holds file-global row positions that must not be
// materialized, sorted ascending. Row groups are consumed in file order, so
// the lookup cursor only ever moves forward.
type PositionDeletes struct {
	rows   []int64
	cursor int
}

func NewPositionDeletes(sorted []int64) (*PositionDeletes, error) {
	for i := 1; i < len(sorted); i++ {
		if sorted[i] < sorted[i-1] {
			return nil, errors.New("position deletes must be sorted ascending")
		}
	}
	return &PositionDeletes{rows: sorted}, nil
}

// NewPositionDeletesFromBytes decodes a delta-varint encoded position list,
// the on-disk form produced by encoding.EncodePositions.
func NewPositionDeletesFromBytes(b []byte) (*PositionDeletes, error) {
	rows, err := encoding.DecodePositions(b)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode position deletes")
	}
	return NewPositionDeletes(rows)
}

// forRowGroup returns the deletes that fall into [firstRow, firstRow+numRows)
// as group-local row indexes. It advances the cursor past the group.
func (d *PositionDeletes) forRowGroup(firstRow, numRows int64) []RowRange {
	if d == nil || d.cursor >= len(d.rows) {
		return nil
	}
	rest := d.rows[d.cursor:]
	lo := sort.Search(len(rest), func(i int) bool { return rest[i] >= firstRow })
	hi := sort.Search(len(rest), func(i int) bool { return rest[i] >= firstRow+numRows })
	d.cursor += hi

	if lo == hi {
		return nil
	}
	res := make([]RowRange, 0, hi-lo)
	for _, pos := range rest[lo:hi] {
		res = append(res, RowRange{From: pos - firstRow, Count: 1})
	}
	return simplify(res)
}
