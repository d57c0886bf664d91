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

import "sync"

// RowSink receives rows rejected on the load path. The line is passed as a
// closure so sinks that drop the row never pay for the copy. A non-nil error
// aborts the scan.
type RowSink interface {
	ReportBadRow(row int64, line func() string, reason string) error
}

// DiscardSink tolerates and drops every bad row.
type DiscardSink struct{}

func (DiscardSink) ReportBadRow(int64, func() string, string) error { return nil }

// BadRow is one diagnostic collected by a CollectSink.
type BadRow struct {
	Row    int64
	Line   string
	Reason string
}

// CollectSink keeps a bounded sample of bad rows and aborts the scan once
// more than tolerance rows were rejected. A tolerance of zero rejects the
// scan on the first bad row.
type CollectSink struct {
	mu        sync.Mutex
	sample    int
	tolerance int64
	count     int64
	rows      []BadRow
}

func NewCollectSink(sample int, tolerance int64) *CollectSink {
	return &CollectSink{sample: sample, tolerance: tolerance}
}

func (s *CollectSink) ReportBadRow(row int64, line func() string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if len(s.rows) < s.sample {
		s.rows = append(s.rows, BadRow{Row: row, Line: line(), Reason: reason})
	}
	if s.count > s.tolerance {
		return &RowError{Row: row, Line: line(), Reason: reason}
	}
	return nil
}

// Count returns how many rows were rejected so far.
func (s *CollectSink) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Rows returns the collected sample.
func (s *CollectSink) Rows() []BadRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BadRow(nil), s.rows...)
}
