package kvdoc

import (
	"context"
	"encoding/hex"

	"github.com/kvdoc/kvdoc/kvstore"
	"github.com/kvdoc/kvdoc/kvstore/tuple"
)

// runQuery translates params into an ordered-range scan over the view
// row prefix and either streams map rows or performs grouped reduction,
// per spec.md §4.F. Grounded on andrewwebber-walrus's views.go for the
// shape of grouped reduction and the skip/limit-after-grouping rule,
// re-expressed over kvstore range scans instead of an in-memory btree.
func runQuery(ctx context.Context, db *Database, params queryParams) ([]Row, []ReduceRow, error) {
	if !db.engine.viewExists(params.viewName) {
		return nil, nil, ErrUndefinedView
	}

	if !params.stale {
		if err := db.engine.awaitReady(ctx, params.viewName); err != nil {
			return nil, nil, err
		}
	}

	sel, err := buildSelector(db.ns, params)
	if err != nil {
		return nil, nil, err
	}

	def := db.engine.definitionOf(params.viewName)
	useReduce := params.reduce && def.reduceFn != nil

	// Grouped reduction applies skip/limit to groups, so it scans every
	// row in the range; only the map-only path passes a row limit.
	limitHint := 0
	if !useReduce && params.limit < maxIntMinusSkip(params.skip) {
		limitHint = params.skip + params.limit
	}

	it, err := db.store.List(ctx, sel, kvstore.ListOptions{Reverse: params.descending, Limit: limitHint})
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()

	if useReduce {
		return nil, reduceGrouped(ctx, it, def.reduceFn, params)
	}
	rows, err := mapOnly(ctx, it, params)
	return rows, nil, err
}

// maxIntMinusSkip guards against overflow when adding skip+limit; if
// limit is already at or near math.MaxInt, the platform-max clamp
// spec.md §4.F allows means "don't bother passing a hint".
func maxIntMinusSkip(skip int) int {
	const maxInt = int(^uint(0) >> 1)
	return maxInt - skip
}

func buildSelector(ns string, params queryParams) (kvstore.Selector, error) {
	vp := viewRowPrefix(ns, params.viewName)

	switch params.shape {
	case shapeScan:
		return kvstore.PrefixSelector(vp), nil
	case shapeKey:
		return kvstore.PrefixSelector(concatTuple(vp, params.key)), nil
	case shapePrefix:
		return kvstore.PrefixSelector(concatTuple(vp, params.prefix)), nil
	case shapeRange:
		start := concatTuple(vp, params.rangeLo)
		if params.startKeyDocID != "" {
			start = append(start, params.startKeyDocID)
		}
		end := concatTuple(vp, params.rangeHi)
		if params.endKeyDocID != "" {
			end = append(end, params.endKeyDocID)
		}
		return kvstore.RangeSelector(start, end), nil
	case shapeKeys:
		return kvstore.Selector{}, ErrNotImplemented
	default:
		return kvstore.PrefixSelector(vp), nil
	}
}

func concatTuple(prefix tuple.Tuple, parts []any) tuple.Tuple {
	out := make(tuple.Tuple, 0, len(prefix)+len(parts))
	out = append(out, prefix...)
	for _, p := range parts {
		out = append(out, p)
	}
	return out
}

func mapOnly(ctx context.Context, it kvstore.Iterator, params queryParams) ([]Row, error) {
	var rows []Row
	skipped := 0
	for {
		entry, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if skipped < params.skip {
			skipped++
			continue
		}
		if len(rows) >= params.limit {
			break
		}
		emitKey, docID := emitKeyFromRow(entry.Key)
		payload, err := decodeViewRow(entry.Value)
		if err != nil {
			return nil, err
		}
		row := Row{
			Key:   tupleToSlice(emitKey),
			ID:    docID,
			Value: payload.Value,
		}
		if params.includeDocs {
			row.Doc = payload.Doc
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type reduceGroup struct {
	key    []any
	isAll  bool
	keys   [][]any
	values []any
}

func reduceGrouped(ctx context.Context, it kvstore.Iterator, reduceFn ReduceFunc, params queryParams) ([]ReduceRow, error) {
	order := make([]string, 0)
	groups := make(map[string]*reduceGroup)

	for {
		entry, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		emitKey, docID := emitKeyFromRow(entry.Key)
		payload, err := decodeViewRow(entry.Value)
		if err != nil {
			return nil, err
		}

		groupKey, isAll := groupKeyFor(emitKey, params.groupLevel)
		hash := groupHash(groupKey, isAll)

		g, seen := groups[hash]
		if !seen {
			g = &reduceGroup{isAll: isAll}
			if !isAll {
				g.key = tupleToSlice(groupKey)
			}
			groups[hash] = g
			order = append(order, hash)
		}
		g.keys = append(g.keys, []any{tupleToSlice(emitKey), docID})
		g.values = append(g.values, payload.Value)
	}

	var out []ReduceRow
	skipped := 0
	for _, hash := range order {
		if skipped < params.skip {
			skipped++
			continue
		}
		if len(out) >= params.limit {
			break
		}
		g := groups[hash]
		out = append(out, ReduceRow{
			Key:   g.key,
			Value: reduceFn(g.keys, g.values),
		})
	}
	return out, nil
}

func groupKeyFor(emitKey tuple.Tuple, level *int) (tuple.Tuple, bool) {
	if level == nil {
		return nil, true
	}
	if *level == 0 {
		return emitKey, false
	}
	n := *level
	if n > len(emitKey) {
		n = len(emitKey)
	}
	return emitKey[:n], false
}

func groupHash(key tuple.Tuple, isAll bool) string {
	if isAll {
		return "ALL"
	}
	return hex.EncodeToString(tuple.Pack(key))
}

func tupleToSlice(t tuple.Tuple) []any {
	out := make([]any, len(t))
	for i, e := range t {
		out[i] = e
	}
	return out
}
