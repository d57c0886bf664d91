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

package textscan

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// lineScanner splits a byte stream into lines on a possibly multi-byte
// delimiter. Matching is a single forward pass with a match cursor; a partial
// delimiter match at end of stream stays in the line as literal text. The
// returned slice is only valid until the next call.
type lineScanner struct {
	r     *bufio.Reader
	delim []byte
	buf   []byte

	// consumed counts bytes taken off the underlying stream, including
	// delimiters.
	consumed int64
}

func newLineScanner(r io.Reader, delim string) *lineScanner {
	return &lineScanner{
		r:     bufio.NewReaderSize(r, 64*1024),
		delim: []byte(delim),
	}
}

// ReadLine returns the next line without its delimiter. It returns io.EOF
// only when no bytes remain; a trailing line without a delimiter is returned
// first.
func (s *lineScanner) ReadLine() ([]byte, error) {
	if len(s.delim) == 1 {
		return s.readLineSingle()
	}
	return s.readLineMulti()
}

func (s *lineScanner) readLineSingle() ([]byte, error) {
	s.buf = s.buf[:0]
	for {
		frag, err := s.r.ReadSlice(s.delim[0])
		s.buf = append(s.buf, frag...)
		s.consumed += int64(len(frag))
		switch {
		case err == nil:
			return s.buf[:len(s.buf)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(s.buf) > 0 {
				return s.buf, nil
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

func (s *lineScanner) readLineMulti() ([]byte, error) {
	s.buf = s.buf[:0]
	match := 0
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(s.buf) > 0 {
					return s.buf, nil
				}
				return nil, io.EOF
			}
			return nil, err
		}
		s.consumed++
		s.buf = append(s.buf, b)

		if b == s.delim[match] {
			match++
			if match == len(s.delim) {
				return s.buf[:len(s.buf)-len(s.delim)], nil
			}
			continue
		}
		if match > 0 {
			// The attempt that started match bytes back failed; re-scan from
			// one byte past its start.
			start := len(s.buf) - 1 - match
			match = 0
			for i := start + 1; i < len(s.buf); i++ {
				if s.buf[i] == s.delim[match] {
					match++
				} else {
					i -= match
					match = 0
				}
			}
		}
	}
}
