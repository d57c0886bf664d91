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
	"io"
	"slices"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// symbolTable decodes the i-th value of a dictionary encoded page. Using it
// we only need to allocate an int32 slice and not a slice of materialized
// values. It works for required and optional flat columns.
type symbolTable struct {
	dict parquet.Dictionary
	syms []int32
	defs []byte
}

func (s *symbolTable) Get(r int) parquet.Value {
	i := s.GetIndex(r)
	switch i {
	case -1:
		return parquet.NullValue()
	default:
		return s.dict.Index(i)
	}
}

func (s *symbolTable) GetIndex(i int) int32 {
	if s.defs == nil {
		return s.syms[i]
	}
	switch s.defs[i] {
	case 1:
		return s.syms[i]
	default:
		return -1
	}
}

func (s *symbolTable) Reset(pg parquet.Page) {
	dict := pg.Dictionary()
	data := pg.Data()
	syms := data.Int32()
	s.defs = pg.DefinitionLevels()

	if s.defs == nil {
		// Required column, no definition levels; the symbols map 1:1 to rows.
		s.syms = append(s.syms[:0], syms...)
		s.dict = dict
		return
	}

	if s.syms == nil {
		s.syms = make([]int32, len(s.defs))
	} else {
		s.syms = slices.Grow(s.syms, len(s.defs))[:len(s.defs)]
	}

	sidx := 0
	for i := range s.defs {
		if s.defs[i] == 1 {
			s.syms[i] = syms[sidx]
			sidx++
		}
	}
	s.dict = dict
}

// pageIterator iterates through the values of a single page.
type pageIterator struct {
	p parquet.Page

	cachedSymbols map[int32]parquet.Value
	st            symbolTable

	vr parquet.ValueReader

	current            int
	buffer             []parquet.Value
	currentBufferIndex int
	err                error
	ready              bool
}

// release releases any pooled resources held by the iterator, and should be
// called when the iterator is no longer needed. Although helpful for efficient
// memory management, it is not strictly necessary to call this method.
func (pi *pageIterator) release() {
	parquet.Release(pi.p)
}

func (pi *pageIterator) readPage(pgs parquet.Pages) {
	parquet.Release(pi.p)
	p, err := pgs.ReadPage()
	if err != nil {
		pi.err = errors.Wrap(err, "failed to read page")
		return
	}
	pi.p = p
	pi.vr = nil
	if p.Dictionary() != nil {
		pi.st.Reset(p)
		pi.cachedSymbols = make(map[int32]parquet.Value, p.Dictionary().Len())
	} else {
		pi.vr = p.Values()
		pi.buffer = make([]parquet.Value, 0, 128)
		pi.currentBufferIndex = -1
	}
	pi.current = -1
	pi.ready = true
}

func (pi *pageIterator) Next() bool {
	if pi.err != nil || !pi.ready {
		return false
	}

	pi.current++
	if pi.current >= int(pi.p.NumRows()) {
		return false
	}

	if pi.vr == nil {
		return true
	}

	pi.currentBufferIndex++

	if pi.currentBufferIndex == len(pi.buffer) {
		n, err := pi.vr.ReadValues(pi.buffer[:cap(pi.buffer)])
		if err != nil && err != io.EOF {
			pi.err = err
		}
		pi.buffer = pi.buffer[:n]
		pi.currentBufferIndex = 0
	}

	return true
}

func (pi *pageIterator) Err() error {
	return pi.err
}

func (pi *pageIterator) At() parquet.Value {
	if pi.vr == nil {
		dicIndex := pi.st.GetIndex(pi.current)
		// Cache a clone of the current symbol table entry.
		// This allows us to release the original page while avoiding unnecessary future clones.
		if _, ok := pi.cachedSymbols[dicIndex]; !ok {
			pi.cachedSymbols[dicIndex] = pi.st.Get(pi.current).Clone()
		}
		return pi.cachedSymbols[dicIndex]
	}

	return pi.buffer[pi.currentBufferIndex].Clone()
}
