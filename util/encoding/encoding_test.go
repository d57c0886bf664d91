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

package encoding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZigZagRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, -64, 1 << 40, -(1 << 40)} {
		require.Equal(t, v, ZigZagDecode(ZigZagEncode(v)))
	}
}

func TestPositionsRoundTrip(t *testing.T) {
	cases := [][]int64{
		nil,
		{0},
		{0, 1, 2, 3},
		{5, 5, 100, 1 << 33, 1<<33 + 1},
	}
	for _, positions := range cases {
		got, err := DecodePositions(EncodePositions(positions))
		require.NoError(t, err)
		if len(positions) == 0 {
			require.Empty(t, got)
			continue
		}
		require.Equal(t, positions, got)
	}
}

func TestDecodePositionsTruncated(t *testing.T) {
	data := EncodePositions([]int64{1 << 40, 1 << 41})
	_, err := DecodePositions(data[:len(data)-1])
	require.Error(t, err)
}
