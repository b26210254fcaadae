package kvdoc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kvdoc/kvdoc/kvstore"
	"github.com/kvdoc/kvdoc/kvstore/tuple"
)

type designState string

const (
	stateBuilding designState = "building"
	stateReady    designState = "ready"
)

// designRecord is the persisted {signature, state} pair for a view
// (spec.md §3's Design record).
type designRecord struct {
	Signature string      `json:"signature"`
	State     designState `json:"state"`
}

type viewDef struct {
	mapFn    MapFunc
	reduceFn ReduceFunc
}

// viewEngine owns the in-memory view registry and drives rebuilds and
// incremental maintenance (component E). Grounded on the
// define/emit/reduce vocabulary of the teacher's DesignDocument and View
// types (design_doc.go), re-pointed from a server-side design document
// pushed over HTTP onto a purely local, in-process registry — the
// in-memory-registry-is-authoritative model spec.md §9 requires.
type viewEngine struct {
	db        *Database
	batchSize int
	log       *logrus.Logger

	mu       sync.RWMutex
	registry map[string]viewDef
}

func newViewEngine(db *Database, batchSize int, log *logrus.Logger) *viewEngine {
	return &viewEngine{
		db:        db,
		batchSize: batchSize,
		log:       log,
		registry:  make(map[string]viewDef),
	}
}

// mapSignature stands in for "a stable digest over the textual form of
// the map function": Go cannot recover a function's source from a live
// value, so the signature is computed over the function's fully
// qualified name as reported by the runtime, which is stable across
// process restarts for any named top-level function and changes when
// the function's definition moves. Callers relying on this short-circuit
// across restarts must register views with named functions, not
// closures built fresh each call.
func mapSignature(mapFn MapFunc) string {
	name := runtime.FuncForPC(reflect.ValueOf(mapFn).Pointer()).Name()
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

// defineView registers mapFn/reduceFn under name and rebuilds the view
// if its signature has changed, per spec.md §4.E.
func (e *viewEngine) defineView(ctx context.Context, name string, mapFn MapFunc, reduceFn ReduceFunc) error {
	e.mu.Lock()
	e.registry[name] = viewDef{mapFn: mapFn, reduceFn: reduceFn}
	e.mu.Unlock()

	sig := mapSignature(mapFn)

	rec, found, err := e.readDesign(ctx, name)
	if err != nil {
		return err
	}
	if found && rec.Signature == sig {
		return nil
	}
	if found && rec.State == stateBuilding {
		return nil
	}

	return e.rebuild(ctx, name, sig)
}

func (e *viewEngine) readDesign(ctx context.Context, name string) (designRecord, bool, error) {
	value, version, err := e.db.store.Get(ctx, designKey(e.db.ns, name))
	if err != nil {
		return designRecord{}, false, err
	}
	if version == "" {
		return designRecord{}, false, nil
	}
	rec, err := decodeDesign(value)
	if err != nil {
		return designRecord{}, false, err
	}
	return rec, true, nil
}

func (e *viewEngine) writeDesign(ctx context.Context, name string, rec designRecord) error {
	value, err := encodeDesign(rec)
	if err != nil {
		return err
	}
	_, err = e.db.store.Atomic().Set(designKey(e.db.ns, name), value).Commit(ctx)
	return err
}

// rebuild deletes every row and back-ref for name, then replays mapFn
// over every live document in the namespace, batching writes at
// e.batchSize operations per commit.
func (e *viewEngine) rebuild(ctx context.Context, name string, sig string) error {
	if err := e.writeDesign(ctx, name, designRecord{Signature: sig, State: stateBuilding}); err != nil {
		return err
	}

	if err := e.clearViewRows(ctx, name); err != nil {
		return err
	}

	e.mu.RLock()
	def := e.registry[name]
	e.mu.RUnlock()

	batch := newBatcher(e.db.store, e.batchSize)

	it, err := e.db.store.List(ctx, kvstore.PrefixSelector(docPrefix(e.db.ns)), kvstore.ListOptions{})
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		entry, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		doc, err := decodeDocument(entry.Value)
		if err != nil {
			return err
		}
		doc[fieldID] = docIDFromKey(entry.Key)
		doc[fieldRev] = entry.Version

		rows := evaluateMap(def.mapFn, doc)
		var compositeKeys []tuple.Tuple
		for _, r := range rows {
			rowValue, err := encodeViewRow(viewRowPayload{Value: r.value, Doc: doc})
			if err != nil {
				return err
			}
			rowKey := viewRowKey(e.db.ns, name, r.key, doc.ID())
			if err := batch.set(ctx, rowKey, rowValue); err != nil {
				return err
			}
			compositeKeys = append(compositeKeys, rowKey)
		}
		refValue, err := encodeBackRef(compositeKeys)
		if err != nil {
			return err
		}
		if err := batch.set(ctx, viewRefKey(e.db.ns, name, doc.ID()), refValue); err != nil {
			return err
		}
	}

	if err := batch.flush(ctx); err != nil {
		return err
	}

	return e.writeDesign(ctx, name, designRecord{Signature: sig, State: stateReady})
}

func docIDFromKey(k tuple.Tuple) string {
	if len(k) == 0 {
		return ""
	}
	id, _ := k[len(k)-1].(string)
	return id
}

func (e *viewEngine) clearViewRows(ctx context.Context, name string) error {
	batch := newBatcher(e.db.store, e.batchSize)
	for _, prefix := range []tuple.Tuple{viewRowPrefix(e.db.ns, name), viewRefPrefix(e.db.ns, name)} {
		it, err := e.db.store.List(ctx, kvstore.PrefixSelector(prefix), kvstore.ListOptions{})
		if err != nil {
			return err
		}
		for {
			entry, ok, err := it.Next(ctx)
			if err != nil {
				it.Close()
				return err
			}
			if !ok {
				break
			}
			if err := batch.delete(ctx, entry.Key); err != nil {
				it.Close()
				return err
			}
		}
		it.Close()
	}
	return batch.flush(ctx)
}

// updateForDoc re-emits rows for id across every registered view, per
// spec.md §4.E. doc is nil for a removal.
func (e *viewEngine) updateForDoc(ctx context.Context, id string, doc Document) error {
	e.mu.RLock()
	views := make(map[string]viewDef, len(e.registry))
	for name, def := range e.registry {
		views[name] = def
	}
	e.mu.RUnlock()

	var firstErr error
	for name, def := range views {
		if err := e.updateOneView(ctx, name, def, id, doc); err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{"view": name, "doc": id}).
				Warn("view update failed; view may be stale for this document")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *viewEngine) updateOneView(ctx context.Context, name string, def viewDef, id string, doc Document) error {
	refValue, version, err := e.db.store.Get(ctx, viewRefKey(e.db.ns, name, id))
	if err != nil {
		return err
	}
	var oldKeys []tuple.Tuple
	if version != "" {
		oldKeys, err = decodeBackRef(refValue)
		if err != nil {
			return err
		}
	}

	b := e.db.store.Atomic()
	for _, k := range oldKeys {
		b = b.Delete(k)
	}

	if doc == nil {
		b = b.Delete(viewRefKey(e.db.ns, name, id))
		_, err := b.Commit(ctx)
		return err
	}

	rows := evaluateMap(def.mapFn, doc)
	var compositeKeys []tuple.Tuple
	for _, r := range rows {
		rowValue, err := encodeViewRow(viewRowPayload{Value: r.value, Doc: doc})
		if err != nil {
			return err
		}
		rowKey := viewRowKey(e.db.ns, name, r.key, id)
		b = b.Set(rowKey, rowValue)
		compositeKeys = append(compositeKeys, rowKey)
	}
	refValue, err = encodeBackRef(compositeKeys)
	if err != nil {
		return err
	}
	b = b.Set(viewRefKey(e.db.ns, name, id), refValue)

	_, err = b.Commit(ctx)
	return err
}

// awaitReady blocks until name's design record reports stateReady, or
// ctx is done.
func (e *viewEngine) awaitReady(ctx context.Context, name string) error {
	for {
		rec, found, err := e.readDesign(ctx, name)
		if err != nil {
			return err
		}
		if found && rec.State == stateReady {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := sleepStep(ctx); err != nil {
			return err
		}
	}
}

func (e *viewEngine) viewExists(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.registry[name]
	return ok
}

func (e *viewEngine) definitionOf(name string) viewDef {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry[name]
}

// emittedRow is one (key, value) pair produced during a single mapFn
// evaluation, before it is addressed into a full view-row key.
type emittedRow struct {
	key   tuple.Tuple
	value any
}

func evaluateMap(mapFn MapFunc, doc Document) []emittedRow {
	var rows []emittedRow
	emit := func(key any, value ...any) {
		var v any
		if len(value) > 0 {
			v = value[0]
		}
		rows = append(rows, emittedRow{key: emitKeyTuple(key), value: v})
	}
	mapFn(doc, emit)
	return rows
}

// emitKeyTuple normalizes a map function's emitted key into a tuple: a
// single scalar becomes a one-element tuple, a slice is spread
// element-by-element.
func emitKeyTuple(key any) tuple.Tuple {
	if s, ok := key.([]any); ok {
		t := make(tuple.Tuple, len(s))
		for i, v := range s {
			t[i] = v
		}
		return t
	}
	return tuple.Tuple{key}
}

