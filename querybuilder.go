package kvdoc

import (
	"fmt"
	"math"
)

// Direction is the ordering token accepted by QueryBuilder.Order.
type Direction bool

const (
	Ascending  Direction = false
	Descending Direction = true
)

// QueryBuilder fluently assembles a queryParams for one view, enforcing
// the shape precedence key > keys > prefix > range > scan. Grounded on
// the teacher's ViewBuilder (view-query.go): the same chainable-setter
// shape, re-pointed from resty query params onto an internal
// queryParams record and generalized with the prefix/range/idRange
// vocabulary spec.md adds on top of CouchDB's key/startkey/endkey.
//
// All setters hold every shape slot independently; GetParams picks the
// highest-priority non-empty one at the end, so re-configuring a
// builder (e.g. calling Prefix after Key) never requires tracking call
// history.
type QueryBuilder struct {
	viewName string

	hasKey  bool
	key     []any
	hasKeys bool
	keys    [][]any

	hasPrefix bool
	prefix    []any

	hasRange bool
	rangeLo  []any
	rangeHi  []any

	startKeyDocID string
	endKeyDocID   string

	descending  bool
	skip        int
	limit       int
	includeDocs bool

	reduce     bool
	groupLevel *int

	stale bool

	err error
}

func newQueryBuilder(viewName string) *QueryBuilder {
	return &QueryBuilder{
		viewName: viewName,
		limit:    math.MaxInt,
	}
}

// Key restricts the query to the single exact emit key.
func (qb *QueryBuilder) Key(key ...any) *QueryBuilder {
	qb.hasKey = true
	qb.key = key
	return qb
}

// Keys restricts the query to a set of exact emit keys. The builder
// accepts this shape; per spec.md §9 it fails with ErrNotImplemented at
// execution time.
func (qb *QueryBuilder) Keys(keys ...[]any) *QueryBuilder {
	qb.hasKeys = true
	qb.keys = keys
	return qb
}

// Prefix restricts the query to emit keys beginning with p.
func (qb *QueryBuilder) Prefix(p ...any) *QueryBuilder {
	qb.hasPrefix = true
	qb.prefix = p
	return qb
}

// Range restricts the query to the half-open emit-key interval
// [start, end).
func (qb *QueryBuilder) Range(start, end []any) *QueryBuilder {
	qb.hasRange = true
	qb.rangeLo = start
	qb.rangeHi = end
	return qb
}

// IdRange refines the edges of a prior Range within equal emit keys by
// bounding the trailing document id.
func (qb *QueryBuilder) IdRange(startDocID, endDocID string) *QueryBuilder {
	qb.startKeyDocID = startDocID
	qb.endKeyDocID = endDocID
	return qb
}

// Skip sets how many leading rows (or groups, under Group) to drop.
// Negative values clamp to zero; fractional values are not expressible
// in Go's int, so none occurs.
func (qb *QueryBuilder) Skip(n int) *QueryBuilder {
	if n < 0 {
		n = 0
	}
	qb.skip = n
	return qb
}

// Limit caps the number of rows (or groups) returned. Negative values
// clamp to zero.
func (qb *QueryBuilder) Limit(n int) *QueryBuilder {
	if n < 0 {
		n = 0
	}
	qb.limit = n
	return qb
}

// IncludeDocs enables attaching the document snapshot to map rows. With
// no argument this defaults to true, matching the teacher's
// ViewBuilder.IncludeDocs(include bool) called as IncludeDocs(true) by
// convention; here the zero-arg form spec.md calls for is the variadic
// overload.
func (qb *QueryBuilder) IncludeDocs(include ...bool) *QueryBuilder {
	qb.includeDocs = firstOrDefault(include, true)
	return qb
}

// Order sets ascending or descending iteration; it may be called
// repeatedly.
func (qb *QueryBuilder) Order(dir Direction) *QueryBuilder {
	qb.descending = bool(dir)
	return qb
}

// Reduce enables the grouped-reduce path. With no argument it defaults
// to true.
func (qb *QueryBuilder) Reduce(enable ...bool) *QueryBuilder {
	qb.reduce = firstOrDefault(enable, true)
	return qb
}

// Group dispatches on x per spec.md §4.C:
//   - true or 0        → enable reduce, groupLevel = 0 (full key)
//   - positive number   → enable reduce, groupLevel = floor(x)
//   - false             → clear groupLevel, leave reduce untouched
//   - anything else (including negatives) → ErrInvalidGroupLevel,
//     recorded and surfaced by Err and by Database.Query.
func (qb *QueryBuilder) Group(x any) *QueryBuilder {
	switch v := x.(type) {
	case bool:
		if v {
			qb.reduce = true
			level := 0
			qb.groupLevel = &level
		} else {
			qb.groupLevel = nil
		}
	case int:
		qb.setGroupLevel(float64(v))
	case int32:
		qb.setGroupLevel(float64(v))
	case int64:
		qb.setGroupLevel(float64(v))
	case float32:
		qb.setGroupLevel(float64(v))
	case float64:
		qb.setGroupLevel(v)
	default:
		qb.err = fmt.Errorf("group(%v): %w", x, ErrInvalidGroupLevel)
	}
	return qb
}

func (qb *QueryBuilder) setGroupLevel(x float64) {
	if x < 0 {
		qb.err = fmt.Errorf("group(%v): %w", x, ErrInvalidGroupLevel)
		return
	}
	qb.reduce = true
	level := int(math.Floor(x))
	qb.groupLevel = &level
}

// Stale controls whether the executor fences a query against an
// in-progress rebuild. Stale(false), the default, blocks until the
// view's design record reports ready before scanning — the same wait
// Database.AwaitViewReady performs, done implicitly so a query issued
// the instant after DefineView returns never races a concurrent
// rebuild. Stale(true) skips the wait and reads whatever rows already
// exist, even mid-rebuild.
func (qb *QueryBuilder) Stale(ok bool) *QueryBuilder {
	qb.stale = ok
	return qb
}

// GetParams materializes the builder's current state, choosing the
// highest-priority shape that was ever set. It returns no error; a
// rejected Group call is reported by Err.
func (qb *QueryBuilder) GetParams() queryParams {
	p := queryParams{
		viewName:      qb.viewName,
		descending:    qb.descending,
		skip:          qb.skip,
		limit:         qb.limit,
		includeDocs:   qb.includeDocs,
		reduce:        qb.reduce,
		groupLevel:    qb.groupLevel,
		stale:         qb.stale,
		startKeyDocID: qb.startKeyDocID,
		endKeyDocID:   qb.endKeyDocID,
	}
	switch {
	case qb.hasKey:
		p.shape = shapeKey
		p.key = qb.key
	case qb.hasKeys:
		p.shape = shapeKeys
		p.keys = qb.keys
	case qb.hasPrefix:
		p.shape = shapePrefix
		p.prefix = qb.prefix
	case qb.hasRange:
		p.shape = shapeRange
		p.rangeLo = qb.rangeLo
		p.rangeHi = qb.rangeHi
	default:
		p.shape = shapeScan
	}
	return p
}

// Err returns the first validation error recorded by Group, or nil.
func (qb *QueryBuilder) Err() error {
	return qb.err
}

func firstOrDefault(vals []bool, def bool) bool {
	if len(vals) == 0 {
		return def
	}
	return vals[0]
}
