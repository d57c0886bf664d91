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

import "bytes"

// nullToken is the distinguished field value read back as null.
const nullToken = `\N`

// splitFields splits a line on a possibly multi-byte separator with the same
// match-cursor scan the line scanner uses. A partial separator match at end
// of line stays in the last field. The returned slices alias line.
func splitFields(line, sep []byte, fields [][]byte) [][]byte {
	fields = fields[:0]
	start, match := 0, 0
	for i := 0; i < len(line); i++ {
		if line[i] == sep[match] {
			match++
			if match == len(sep) {
				fields = append(fields, line[start:i+1-len(sep)])
				start = i + 1
				match = 0
			}
			continue
		}
		if match > 0 {
			i -= match
			match = 0
		}
	}
	return append(fields, line[start:])
}

// postProcess applies the configured field cleanup and detects the null
// token. Trailing spaces are trimmed before the quote pair is unwrapped, so
// `"a" ` becomes `a` while spaces inside the quotes survive.
func postProcess(f []byte, trimSpaces, trimQuotes bool) ([]byte, bool) {
	if trimSpaces {
		for len(f) > 0 && f[len(f)-1] == ' ' {
			f = f[:len(f)-1]
		}
	}
	if trimQuotes && len(f) >= 2 && f[0] == '"' && f[len(f)-1] == '"' {
		f = f[1 : len(f)-1]
	}
	if bytes.Equal(f, []byte(nullToken)) {
		return nil, true
	}
	return f, false
}
