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
	"testing"

	"github.com/stretchr/testify/require"
)

func splitStrings(line, sep string) []string {
	fields := splitFields([]byte(line), []byte(sep), nil)
	res := make([]string, len(fields))
	for i, f := range fields {
		res[i] = string(f)
	}
	return res
}

func TestSplitFieldsSingleByte(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, splitStrings("a,b,c", ","))
	require.Equal(t, []string{"", "", ""}, splitStrings(",,", ","))
	require.Equal(t, []string{"abc"}, splitStrings("abc", ","))
	require.Equal(t, []string{""}, splitStrings("", ","))
}

func TestSplitFieldsMultiByteSeparator(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, splitStrings("a||b||c", "||"))

	// A partial separator match is literal text, at the end of the line and
	// in the middle.
	require.Equal(t, []string{"a|"}, splitStrings("a|", "||"))
	require.Equal(t, []string{"a|b", "c"}, splitStrings("a|b||c", "||"))

	// Overlapping separator prefixes must not swallow text.
	require.Equal(t, []string{"x", "y"}, splitStrings("xaaby", "aab"))
	require.Equal(t, []string{"xaa", "y"}, splitStrings("xaaaaby", "aab"))
	require.Equal(t, []string{"xaab"}, splitStrings("xaab", "aabb"))
}

func TestSplitFieldsTripleSeparator(t *testing.T) {
	require.Equal(t, []string{"1", "2", "3"}, splitStrings("1|=|2|=|3", "|=|"))
	require.Equal(t, []string{"1|=2"}, splitStrings("1|=2", "|=|"))
}

func TestPostProcessTrimOrder(t *testing.T) {
	// Trailing spaces are trimmed before the quote pair is stripped, so a
	// quoted field with trailing spaces still unwraps.
	got, isNull := postProcess([]byte(`"a"  `), true, true)
	require.False(t, isNull)
	require.Equal(t, "a", string(got))

	// Without space trimming the quotes do not line up and stay.
	got, _ = postProcess([]byte(`"a"  `), false, true)
	require.Equal(t, `"a"  `, string(got))

	// Spaces inside the quotes survive.
	got, _ = postProcess([]byte(`" a "`), true, true)
	require.Equal(t, " a ", string(got))

	// A lone quote is not a pair.
	got, _ = postProcess([]byte(`"`), true, true)
	require.Equal(t, `"`, string(got))
}

func TestPostProcessNullToken(t *testing.T) {
	_, isNull := postProcess([]byte(`\N`), false, false)
	require.True(t, isNull)

	// The token emerges after trimming.
	_, isNull = postProcess([]byte(`\N  `), true, false)
	require.True(t, isNull)

	got, isNull := postProcess([]byte(`\n`), false, false)
	require.False(t, isNull)
	require.Equal(t, `\n`, string(got))
}
