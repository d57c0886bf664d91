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
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func readAllLines(t *testing.T, input, delim string) []string {
	t.Helper()
	s := newLineScanner(strings.NewReader(input), delim)
	var lines []string
	for {
		line, err := s.ReadLine()
		if err == io.EOF {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, string(line))
	}
}

func TestLineScannerSingleByteDelimiter(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, readAllLines(t, "a\nb\nc\n", "\n"))

	// A trailing line without a delimiter is still delivered.
	require.Equal(t, []string{"a", "b"}, readAllLines(t, "a\nb", "\n"))

	// Empty lines survive.
	require.Equal(t, []string{"a", "", "b"}, readAllLines(t, "a\n\nb\n", "\n"))

	require.Empty(t, readAllLines(t, "", "\n"))
}

func TestLineScannerMultiByteDelimiter(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, readAllLines(t, "a\r\nb\r\nc\r\n", "\r\n"))

	// Lone carriage returns are line content, not delimiters.
	require.Equal(t, []string{"a\rb", "c"}, readAllLines(t, "a\rb\r\nc\r\n", "\r\n"))

	// A partial delimiter at end of stream stays literal.
	require.Equal(t, []string{"a\r"}, readAllLines(t, "a\r", "\r\n"))

	// Delimiters with repeated prefixes.
	require.Equal(t, []string{"xaa", "y"}, readAllLines(t, "xaaaaby", "aab"))
}

func TestLineScannerLongLines(t *testing.T) {
	// Longer than the internal buffer, for both delimiter paths.
	long := strings.Repeat("x", 200_000)
	require.Equal(t, []string{long, "tail"}, readAllLines(t, long+"\ntail", "\n"))
	require.Equal(t, []string{long, "tail"}, readAllLines(t, long+"#|#tail", "#|#"))
}

func TestLineScannerTracksConsumedBytes(t *testing.T) {
	s := newLineScanner(strings.NewReader("ab\ncdef\n"), "\n")
	_, err := s.ReadLine()
	require.NoError(t, err)
	require.Equal(t, int64(3), s.consumed)
	_, err = s.ReadLine()
	require.NoError(t, err)
	require.Equal(t, int64(8), s.consumed)
}
