package kvdoc

// shapeKind is the query's row-source shape. Exactly one is active per
// query, chosen by QueryBuilder per the precedence key > keys > prefix >
// range > scan (spec.md §4.C).
type shapeKind int

const (
	shapeScan shapeKind = iota
	shapeKey
	shapeKeys
	shapePrefix
	shapeRange
)

// queryParams is the frozen, immutable form a QueryBuilder produces via
// GetParams, consumed by runQuery. Kept separate from QueryBuilder so the
// executor never depends on the builder's mutable fluent surface.
type queryParams struct {
	viewName string
	shape    shapeKind

	key     []any
	keys    [][]any
	prefix  []any
	rangeLo []any
	rangeHi []any

	startKeyDocID string
	endKeyDocID   string

	descending  bool
	skip        int
	limit       int
	includeDocs bool

	reduce     bool
	groupLevel *int

	stale bool
}
