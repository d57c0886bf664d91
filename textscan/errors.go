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

import "fmt"

// UnsupportedError marks a feature combination the reader cannot serve, for
// example splitting a compressed stream. It is not retryable.
type UnsupportedError struct {
	Op string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("textscan: %s is not supported", e.Op)
}

// RowError is a fatal per-row failure, raised when a bad row cannot be
// tolerated by the caller's sink.
type RowError struct {
	Row    int64
	Line   string
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("textscan: row %d rejected: %s", e.Row, e.Reason)
}
