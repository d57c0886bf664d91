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
	"fmt"
	"slices"

	"github.com/columnscan/scan-common/util"
)

// RowRange is a half-open range [From, From+Count) of row indexes within a
// row group.
type RowRange struct {
	From  int64
	Count int64
}

func (rr RowRange) String() string {
	return fmt.Sprintf("[%d,%d)", rr.From, rr.From+rr.Count)
}

// Overlaps reports whether both ranges share at least one row.
func (rr RowRange) Overlaps(o RowRange) bool {
	return util.Intersects(rr.From, rr.From+rr.Count-1, o.From, o.From+o.Count-1)
}

// Intersection returns the shared sub-range. Only valid if both overlap.
func (rr RowRange) Intersection(o RowRange) RowRange {
	from := max(rr.From, o.From)
	to := min(rr.From+rr.Count, o.From+o.Count)
	return RowRange{From: from, Count: to - from}
}

// TotalRows returns the number of rows covered by rr.
func TotalRows(rr []RowRange) int64 {
	res := int64(0)
	for _, r := range rr {
		res += r.Count
	}
	return res
}

// simplify sorts the ranges, merges overlapping or adjacent ones and drops
// empty ones.
func simplify(rr []RowRange) []RowRange {
	if len(rr) == 0 {
		return nil
	}

	slices.SortFunc(rr, func(a, b RowRange) int {
		if a.From != b.From {
			if a.From < b.From {
				return -1
			}
			return 1
		}
		if a.Count < b.Count {
			return -1
		}
		if a.Count > b.Count {
			return 1
		}
		return 0
	})

	tmp := make([]RowRange, 0, len(rr))
	l := rr[0]
	for _, r := range rr[1:] {
		if r.From <= l.From+l.Count {
			if to := r.From + r.Count; to > l.From+l.Count {
				l.Count = to - l.From
			}
			continue
		}
		tmp = append(tmp, l)
		l = r
	}
	tmp = append(tmp, l)

	res := make([]RowRange, 0, len(tmp))
	for _, r := range tmp {
		if r.Count > 0 {
			res = append(res, r)
		}
	}
	if len(res) == 0 {
		return nil
	}
	return res
}

// intersectRowRanges returns the rows contained in both a and b. Both inputs
// must be simplified.
func intersectRowRanges(a, b []RowRange) []RowRange {
	res := make([]RowRange, 0)
	for i, j := 0, 0; i < len(a) && j < len(b); {
		al, ar := a[i].From, a[i].From+a[i].Count
		bl, br := b[j].From, b[j].From+b[j].Count

		if al <= br && bl <= ar {
			from, to := max(al, bl), min(ar, br)
			if to > from {
				res = append(res, RowRange{From: from, Count: to - from})
			}
		}

		if ar <= br {
			i++
		} else {
			j++
		}
	}
	return simplify(res)
}

// unionRowRanges returns the rows contained in either a or b.
func unionRowRanges(a, b []RowRange) []RowRange {
	return simplify(append(slices.Clone(a), b...))
}

// complementRowRanges returns the rows of b that are not contained in a.
func complementRowRanges(a, b []RowRange) []RowRange {
	res := make([]RowRange, 0)

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		al, ar := a[i].From, a[i].From+a[i].Count
		bl, br := b[j].From, b[j].From+b[j].Count

		switch {
		case ar <= bl:
			// a is fully before b, does not remove anything
			i++
		case br <= al:
			// b is fully before a, nothing to remove from it
			res = append(res, RowRange{From: bl, Count: br - bl})
			j++
		default:
			if bl < al {
				res = append(res, RowRange{From: bl, Count: al - bl})
			}
			if br <= ar {
				// the rest of b is covered by a
				j++
			} else {
				// keep the tail of b for the next a
				b = slices.Clone(b)
				b[j].From = ar
				b[j].Count = br - ar
				i++
			}
		}
	}
	for ; j < len(b); j++ {
		res = append(res, b[j])
	}
	return simplify(res)
}
