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
	"slices"

	"github.com/parquet-go/parquet-go"

	"github.com/columnscan/scan-common/storage"
)

// Predicate is a single-column filter. It serves two roles: pruning row
// groups and pages through statistics, and evaluating individual values of
// surviving rows. The statistics path MUST be conservative; it may keep rows
// the evaluation path later rejects, never the other way around.
type Predicate interface {
	fmt.Stringer

	// Column is the path of the column the predicate constrains.
	Column() string

	// init binds the predicate to the file schema.
	init(f *storage.ParquetFile) error

	// overlaps reports whether any value in [minv, maxv] can satisfy the
	// predicate.
	overlaps(minv, maxv parquet.Value) bool

	// matches evaluates a single decoded value.
	matches(v parquet.Value) bool

	// matchesNull reports whether a null value satisfies the predicate.
	matchesNull() bool

	// equalityValues returns the finite set of acceptable values for
	// dictionary and bloom filter probes, or nil if the predicate is not an
	// equality.
	equalityValues() []parquet.Value
}

// Initialize binds the given predicates to a parquet file. It must be called
// once before the predicates are used to filter that file.
func Initialize(f *storage.ParquetFile, ps ...Predicate) error {
	for i := range ps {
		if err := ps[i].init(f); err != nil {
			return fmt.Errorf("unable to initialize predicate %d: %w", i, err)
		}
	}
	return nil
}

type equalPredicate struct {
	col string
	val parquet.Value

	comp func(l, r parquet.Value) int
}

// Eq matches rows whose column equals the given value. The value kind must
// match the column kind of the file.
func Eq(column string, val parquet.Value) Predicate {
	return &equalPredicate{col: column, val: val}
}

func (p *equalPredicate) String() string {
	return fmt.Sprintf("eq(%q,%s)", p.col, p.val)
}

func (p *equalPredicate) Column() string { return p.col }

func (p *equalPredicate) init(f *storage.ParquetFile) error {
	c, ok := lookupColumn(f.Schema(), p.col)
	if !ok {
		return nil
	}
	if p.val.Kind() != c.Node.Type().Kind() {
		return &SchemaMismatchError{
			Column: p.col,
			Reason: fmt.Sprintf("cannot compare value of kind %s with column of kind %s", p.val.Kind(), c.Node.Type().Kind()),
		}
	}
	p.comp = c.Node.Type().Compare
	return nil
}

func (p *equalPredicate) overlaps(minv, maxv parquet.Value) bool {
	if minv.IsNull() || maxv.IsNull() {
		return true
	}
	return p.comp(p.val, minv) >= 0 && p.comp(p.val, maxv) <= 0
}

func (p *equalPredicate) matches(v parquet.Value) bool {
	if v.IsNull() {
		return false
	}
	return p.comp(p.val, v) == 0
}

func (p *equalPredicate) matchesNull() bool { return false }

func (p *equalPredicate) equalityValues() []parquet.Value {
	return []parquet.Value{p.val}
}

type inPredicate struct {
	col  string
	vals []parquet.Value

	comp func(l, r parquet.Value) int
}

// In matches rows whose column equals any of the given values.
func In(column string, vals ...parquet.Value) Predicate {
	return &inPredicate{col: column, vals: vals}
}

func (p *inPredicate) String() string {
	return fmt.Sprintf("in(%q,%d values)", p.col, len(p.vals))
}

func (p *inPredicate) Column() string { return p.col }

func (p *inPredicate) init(f *storage.ParquetFile) error {
	c, ok := lookupColumn(f.Schema(), p.col)
	if !ok {
		return nil
	}
	kind := c.Node.Type().Kind()
	for _, v := range p.vals {
		if v.Kind() != kind {
			return &SchemaMismatchError{
				Column: p.col,
				Reason: fmt.Sprintf("cannot compare value of kind %s with column of kind %s", v.Kind(), kind),
			}
		}
	}
	p.comp = c.Node.Type().Compare
	return nil
}

func (p *inPredicate) overlaps(minv, maxv parquet.Value) bool {
	if minv.IsNull() || maxv.IsNull() {
		return true
	}
	for _, v := range p.vals {
		if p.comp(v, minv) >= 0 && p.comp(v, maxv) <= 0 {
			return true
		}
	}
	return false
}

func (p *inPredicate) matches(v parquet.Value) bool {
	if v.IsNull() {
		return false
	}
	return slices.ContainsFunc(p.vals, func(c parquet.Value) bool { return p.comp(c, v) == 0 })
}

func (p *inPredicate) matchesNull() bool { return false }

func (p *inPredicate) equalityValues() []parquet.Value {
	return p.vals
}

type rangePredicate struct {
	col string

	// null bounds mean unbounded
	lo, hi       parquet.Value
	loInc, hiInc bool

	comp func(l, r parquet.Value) int
}

// Gt matches rows whose column is strictly greater than the given value.
func Gt(column string, val parquet.Value) Predicate {
	return &rangePredicate{col: column, lo: val, hi: parquet.NullValue()}
}

// Gte is like Gt but inclusive.
func Gte(column string, val parquet.Value) Predicate {
	return &rangePredicate{col: column, lo: val, hi: parquet.NullValue(), loInc: true}
}

// Lt matches rows whose column is strictly less than the given value.
func Lt(column string, val parquet.Value) Predicate {
	return &rangePredicate{col: column, lo: parquet.NullValue(), hi: val}
}

// Lte is like Lt but inclusive.
func Lte(column string, val parquet.Value) Predicate {
	return &rangePredicate{col: column, lo: parquet.NullValue(), hi: val, hiInc: true}
}

// Between matches rows whose column lies in [lo, hi], bounds included.
func Between(column string, lo, hi parquet.Value) Predicate {
	return &rangePredicate{col: column, lo: lo, hi: hi, loInc: true, hiInc: true}
}

func (p *rangePredicate) String() string {
	lb, rb := "(", ")"
	if p.loInc {
		lb = "["
	}
	if p.hiInc {
		rb = "]"
	}
	return fmt.Sprintf("range(%q,%s%s,%s%s)", p.col, lb, p.lo, p.hi, rb)
}

func (p *rangePredicate) Column() string { return p.col }

func (p *rangePredicate) init(f *storage.ParquetFile) error {
	c, ok := lookupColumn(f.Schema(), p.col)
	if !ok {
		return nil
	}
	kind := c.Node.Type().Kind()
	for _, v := range []parquet.Value{p.lo, p.hi} {
		if !v.IsNull() && v.Kind() != kind {
			return &SchemaMismatchError{
				Column: p.col,
				Reason: fmt.Sprintf("cannot compare value of kind %s with column of kind %s", v.Kind(), kind),
			}
		}
	}
	p.comp = c.Node.Type().Compare
	return nil
}

func (p *rangePredicate) overlaps(minv, maxv parquet.Value) bool {
	if minv.IsNull() || maxv.IsNull() {
		return true
	}
	if !p.lo.IsNull() {
		if c := p.comp(maxv, p.lo); c < 0 || (c == 0 && !p.loInc) {
			return false
		}
	}
	if !p.hi.IsNull() {
		if c := p.comp(minv, p.hi); c > 0 || (c == 0 && !p.hiInc) {
			return false
		}
	}
	return true
}

func (p *rangePredicate) matches(v parquet.Value) bool {
	if v.IsNull() {
		return false
	}
	if !p.lo.IsNull() {
		if c := p.comp(v, p.lo); c < 0 || (c == 0 && !p.loInc) {
			return false
		}
	}
	if !p.hi.IsNull() {
		if c := p.comp(v, p.hi); c > 0 || (c == 0 && !p.hiInc) {
			return false
		}
	}
	return true
}

func (p *rangePredicate) matchesNull() bool { return false }

func (p *rangePredicate) equalityValues() []parquet.Value { return nil }

type isNullPredicate struct {
	col string
}

// IsNull matches rows whose column is null.
func IsNull(column string) Predicate {
	return &isNullPredicate{col: column}
}

func (p *isNullPredicate) String() string { return fmt.Sprintf("isnull(%q)", p.col) }

func (p *isNullPredicate) Column() string { return p.col }

func (p *isNullPredicate) init(*storage.ParquetFile) error { return nil }

// overlaps cannot rule the page out because min/max statistics say nothing
// about nulls. The page index filter handles null pages separately.
func (p *isNullPredicate) overlaps(_, _ parquet.Value) bool { return true }

func (p *isNullPredicate) matches(v parquet.Value) bool { return v.IsNull() }

func (p *isNullPredicate) matchesNull() bool { return true }

func (p *isNullPredicate) equalityValues() []parquet.Value { return nil }

type nullPassthroughPredicate struct {
	p Predicate
}

// NullPassthrough accepts rows the inner predicate accepts, and additionally
// every null row. Statistics pruning delegates to the inner predicate; null
// pages are kept because matchesNull reports true.
func NullPassthrough(p Predicate) Predicate {
	return &nullPassthroughPredicate{p: p}
}

func (n *nullPassthroughPredicate) String() string { return fmt.Sprintf("nullpass(%s)", n.p) }

func (n *nullPassthroughPredicate) Column() string { return n.p.Column() }

func (n *nullPassthroughPredicate) init(f *storage.ParquetFile) error { return n.p.init(f) }

func (n *nullPassthroughPredicate) overlaps(minv, maxv parquet.Value) bool {
	return n.p.overlaps(minv, maxv)
}

func (n *nullPassthroughPredicate) matches(v parquet.Value) bool {
	return v.IsNull() || n.p.matches(v)
}

func (n *nullPassthroughPredicate) matchesNull() bool { return true }

func (n *nullPassthroughPredicate) equalityValues() []parquet.Value { return nil }

type notPredicate struct {
	p Predicate
}

// Not inverts the given predicate. Statistics pruning degrades to a no-op
// because the inverse of a conservative skip is not conservative.
func Not(p Predicate) Predicate {
	return &notPredicate{p: p}
}

func (n *notPredicate) String() string { return fmt.Sprintf("not(%s)", n.p) }

func (n *notPredicate) Column() string { return n.p.Column() }

func (n *notPredicate) init(f *storage.ParquetFile) error { return n.p.init(f) }

func (n *notPredicate) overlaps(_, _ parquet.Value) bool { return true }

func (n *notPredicate) matches(v parquet.Value) bool { return !n.p.matches(v) }

func (n *notPredicate) matchesNull() bool { return !n.p.matchesNull() }

func (n *notPredicate) equalityValues() []parquet.Value { return nil }
