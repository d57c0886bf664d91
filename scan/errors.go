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
)

// SchemaMismatchError is returned when a required column exists in the file
// with an incompatible type, or does not exist and was not declared missing.
type SchemaMismatchError struct {
	Column string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on column %q: %s", e.Column, e.Reason)
}

// DecodeError is returned when a page of a row group cannot be decoded. The
// scan that hit it is aborted.
type DecodeError struct {
	RowGroup int
	Column   string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode row group %d column %q: %v", e.RowGroup, e.Column, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
