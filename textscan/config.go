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
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Header declares how the first line(s) of a file are interpreted.
type Header string

const (
	// HeaderNone treats every line as data.
	HeaderNone Header = ""
	// HeaderWithNames skips one line carrying column names.
	HeaderWithNames Header = "with_names"
	// HeaderWithNamesAndTypes skips two lines, names then types.
	HeaderWithNamesAndTypes Header = "with_names_and_types"
)

// Config describes the shape of a delimited text file. The zero value is
// completed by Validate with tab separated, newline delimited defaults.
type Config struct {
	// ColumnSeparator splits fields within a line. It may be longer than one
	// byte.
	ColumnSeparator string `yaml:"column_separator"`
	// LineDelimiter splits lines. It may be longer than one byte.
	LineDelimiter string `yaml:"line_delimiter"`

	Header Header `yaml:"header,omitempty"`
	// SkipLines discards the given number of leading lines before the first
	// data row. It is ignored when Header is set.
	SkipLines int `yaml:"skip_lines,omitempty"`

	// TrimTrailingSpaces removes trailing spaces of each field. When both
	// trims are enabled, spaces are removed first and the quote pair second.
	TrimTrailingSpaces bool `yaml:"trim_trailing_spaces,omitempty"`
	// TrimDoubleQuotes removes a single pair of double quotes wrapping a
	// field.
	TrimDoubleQuotes bool `yaml:"trim_double_quotes,omitempty"`

	// Compression names the codec of the stream, empty means detect from the
	// file name extension.
	Compression string `yaml:"compression,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		ColumnSeparator: "\t",
		LineDelimiter:   "\n",
	}
}

// ParseConfig reads a Config from its YAML representation, on top of the
// defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parsing textscan config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ColumnSeparator == "" {
		c.ColumnSeparator = "\t"
	}
	if c.LineDelimiter == "" {
		c.LineDelimiter = "\n"
	}
	switch c.Header {
	case HeaderNone, HeaderWithNames, HeaderWithNamesAndTypes:
	default:
		return errors.Errorf("unknown header mode %q", c.Header)
	}
	if c.SkipLines < 0 {
		return errors.New("skip_lines must not be negative")
	}
	if c.Compression != "" {
		if _, err := ParseCompression(c.Compression); err != nil {
			return err
		}
	}
	return nil
}

// headerLines is the number of leading lines discarded before data.
func (c *Config) headerLines() int {
	switch c.Header {
	case HeaderWithNames:
		return 1
	case HeaderWithNamesAndTypes:
		return 2
	default:
		return c.SkipLines
	}
}
