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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Statistics counts what a scan filtered and what it actually read. Counters
// are merged at row group boundaries and flushed exactly once when the
// reader closes.
type Statistics struct {
	FilteredRowGroups       int64
	ReadRowGroups           int64
	FilteredRowsByGroup     int64
	FilteredRowsByPage      int64
	FilteredRowsByLazy      int64
	FilteredRowsByPredicate int64
	DeletedRows             int64
	FilteredBytes           int64
	RawRowsRead             int64
	ReadBytes               int64
	MetadataParseDuration   time.Duration
	RowGroupFilterTime      time.Duration
	PageIndexFilterTime     time.Duration
	ColumnReadTime          time.Duration
	PredicateEvalTime       time.Duration
}

func (s *Statistics) Merge(o *Statistics) {
	s.FilteredRowGroups += o.FilteredRowGroups
	s.ReadRowGroups += o.ReadRowGroups
	s.FilteredRowsByGroup += o.FilteredRowsByGroup
	s.FilteredRowsByPage += o.FilteredRowsByPage
	s.FilteredRowsByLazy += o.FilteredRowsByLazy
	s.FilteredRowsByPredicate += o.FilteredRowsByPredicate
	s.DeletedRows += o.DeletedRows
	s.FilteredBytes += o.FilteredBytes
	s.RawRowsRead += o.RawRowsRead
	s.ReadBytes += o.ReadBytes
	s.MetadataParseDuration += o.MetadataParseDuration
	s.RowGroupFilterTime += o.RowGroupFilterTime
	s.PageIndexFilterTime += o.PageIndexFilterTime
	s.ColumnReadTime += o.ColumnReadTime
	s.PredicateEvalTime += o.PredicateEvalTime
}

var scanMeters = sync.OnceValue(func() *meters {
	meter := otel.Meter("github.com/columnscan/scan-common/scan")

	m := &meters{}
	m.rowsRead, _ = meter.Int64Counter("scan.rows_read",
		otelmetric.WithDescription("Rows materialized by scans"))
	m.rowsFiltered, _ = meter.Int64Counter("scan.rows_filtered",
		otelmetric.WithDescription("Rows skipped before materialization"))
	m.rowGroupsFiltered, _ = meter.Int64Counter("scan.row_groups_filtered",
		otelmetric.WithDescription("Row groups skipped by predicate pruning"))
	m.bytesRead, _ = meter.Int64Counter("scan.bytes_read",
		otelmetric.WithDescription("Compressed bytes fetched by scans"))
	return m
})

type meters struct {
	rowsRead          otelmetric.Int64Counter
	rowsFiltered      otelmetric.Int64Counter
	rowGroupsFiltered otelmetric.Int64Counter
	bytesRead         otelmetric.Int64Counter
}

// flush reports the final counters of a scan to the process meters.
func (s *Statistics) flush(ctx context.Context, reader string) {
	m := scanMeters()
	attrs := otelmetric.WithAttributes(attribute.String("reader", reader))
	m.rowsRead.Add(ctx, s.RawRowsRead, attrs)
	m.rowsFiltered.Add(ctx, s.FilteredRowsByGroup+s.FilteredRowsByPage+s.FilteredRowsByLazy+s.FilteredRowsByPredicate, attrs)
	m.rowGroupsFiltered.Add(ctx, s.FilteredRowGroups, attrs)
	m.bytesRead.Add(ctx, s.ReadBytes, attrs)
}
