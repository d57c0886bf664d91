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
	"encoding/binary"

	"github.com/dennwc/varint"
	"github.com/pkg/errors"
)

func ZigZagEncode(x int64) uint64 {
	return uint64(uint64(x<<1) ^ uint64((int64(x) >> 63)))
}

func ZigZagDecode(v uint64) int64 {
	return int64((v >> 1) ^ uint64((int64(v&1)<<63)>>63))
}

// EncodePositions encodes a sorted list of row positions as zigzag varint
// deltas. The first entry is encoded relative to zero.
func EncodePositions(positions []int64) []byte {
	buf := make([]byte, 0, len(positions)*2)
	tmp := make([]byte, binary.MaxVarintLen64)
	prev := int64(0)
	for _, p := range positions {
		n := binary.PutUvarint(tmp, ZigZagEncode(p-prev))
		buf = append(buf, tmp[:n]...)
		prev = p
	}
	return buf
}

// DecodePositions is the inverse of EncodePositions.
func DecodePositions(buf []byte) ([]int64, error) {
	res := make([]int64, 0, len(buf))
	prev := int64(0)
	for len(buf) > 0 {
		v, n := varint.Uvarint(buf)
		if n <= 0 {
			return nil, errors.New("malformed position delta")
		}
		buf = buf[n:]
		prev += ZigZagDecode(v)
		res = append(res, prev)
	}
	return res, nil
}
