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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/columnscan/scan-common/util/encoding"
)

func TestPositionDeletesValidation(t *testing.T) {
	_, err := NewPositionDeletes([]int64{3, 1})
	require.Error(t, err)

	d, err := NewPositionDeletes(nil)
	require.NoError(t, err)
	require.Empty(t, d.forRowGroup(0, 100))
}

func TestPositionDeletesFromBytes(t *testing.T) {
	positions := []int64{0, 1, 5, 99, 100, 150, 199}
	d, err := NewPositionDeletesFromBytes(encoding.EncodePositions(positions))
	require.NoError(t, err)
	require.Equal(t,
		[]RowRange{{From: 0, Count: 2}, {From: 5, Count: 1}, {From: 99, Count: 1}},
		d.forRowGroup(0, 100),
	)

	// A truncated varint must surface as a decode error.
	_, err = NewPositionDeletesFromBytes([]byte{0x80})
	require.Error(t, err)
}

func TestPositionDeletesForRowGroup(t *testing.T) {
	d, err := NewPositionDeletes([]int64{0, 1, 5, 99, 100, 150, 199})
	require.NoError(t, err)

	// First group [0, 100): positions 0, 1, 5 and 99, converted to
	// group-local ranges with adjacent rows merged.
	require.Equal(t,
		[]RowRange{{From: 0, Count: 2}, {From: 5, Count: 1}, {From: 99, Count: 1}},
		d.forRowGroup(0, 100),
	)

	// Second group [100, 200): the cursor moved past the first group, the
	// boundary position 100 lands on local row 0.
	require.Equal(t,
		[]RowRange{{From: 0, Count: 1}, {From: 50, Count: 1}, {From: 99, Count: 1}},
		d.forRowGroup(100, 100),
	)

	// Exhausted.
	require.Empty(t, d.forRowGroup(200, 100))
}

func TestPositionDeletesSkipsGroupsWithoutDeletes(t *testing.T) {
	d, err := NewPositionDeletes([]int64{250})
	require.NoError(t, err)

	require.Empty(t, d.forRowGroup(0, 100))
	require.Empty(t, d.forRowGroup(100, 100))
	require.Equal(t, []RowRange{{From: 50, Count: 1}}, d.forRowGroup(200, 100))
}
