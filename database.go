package kvdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kvdoc/kvdoc/kvstore"
)

// Database is the document store entry point (component D): CRUD on
// documents with CAS on the revision token, and the fan-out point that
// drives the view engine on every mutation. Grounded on the
// client/database split in the teacher's database.go and document.go,
// re-plumbed from resty HTTP calls onto kvstore.Store batches.
type Database struct {
	ns    string
	store kvstore.Store
	log   *logrus.Logger

	mu     sync.RWMutex
	engine *viewEngine
	closed bool
}

// Open returns a Database scoped to namespace ns, backed by a bbolt file
// at the path given via WithDataDir.
func Open(ctx context.Context, ns string, opts ...Option) (*Database, error) {
	if ns == "" {
		ns = "default"
	}
	cfg := defaultOpenConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.dataDir == "" {
		return nil, fmt.Errorf("kvdoc: WithDataDir is required to open a database")
	}
	store, err := kvstore.OpenBolt(cfg.dataDir)
	if err != nil {
		return nil, err
	}
	return newDatabase(ns, store, cfg), nil
}

// OpenWithStore returns a Database scoped to namespace ns over an
// already-open kvstore.Store, letting callers share one Store across
// multiple namespaces or substitute a different Store implementation
// (e.g. an in-memory one in tests).
func OpenWithStore(ns string, store kvstore.Store, opts ...Option) *Database {
	if ns == "" {
		ns = "default"
	}
	cfg := defaultOpenConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return newDatabase(ns, store, cfg)
}

func newDatabase(ns string, store kvstore.Store, cfg openConfig) *Database {
	log := logrus.New()
	db := &Database{
		ns:    ns,
		store: store,
		log:   log,
	}
	db.engine = newViewEngine(db, cfg.batchSize, log)
	return db
}

// Close releases the underlying kvstore handle. After Close, every
// Database method that reads or writes the store fails with
// ErrClosedDatabase; calling Close again returns nil.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.store.Close()
}

func (db *Database) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosedDatabase
	}
	return nil
}

// Get reads the document key. If present, the stored value is augmented
// with _rev set to the kvstore version token; otherwise nil.
func (db *Database) Get(ctx context.Context, id string) (Document, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	value, version, err := db.store.Get(ctx, docKey(db.ns, id))
	if err != nil {
		return nil, err
	}
	if version == "" {
		return nil, nil
	}
	doc, err := decodeDocument(value)
	if err != nil {
		return nil, err
	}
	doc[fieldID] = id
	doc[fieldRev] = version
	return doc, nil
}

// Insert creates a new document. If doc already carries _rev,
// ErrUnexpectedRev. The id is doc[_id] if present, else a fresh UUIDv4.
// Fails with ErrDuplicateDocument if the id already exists.
func (db *Database) Insert(ctx context.Context, doc Document) (WriteResult, error) {
	if err := db.checkOpen(); err != nil {
		return WriteResult{}, err
	}
	if _, hasRev := doc[fieldRev]; hasRev {
		return WriteResult{}, fmt.Errorf("insert: %w", ErrUnexpectedRev)
	}

	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}
	stored := doc.withoutReserved()
	stored[fieldID] = id

	value, err := encodeDocument(stored)
	if err != nil {
		return WriteResult{}, err
	}

	key := docKey(db.ns, id)
	_, commitErr := db.store.Atomic().
		Check(key, kvstore.Absent).
		Set(key, value).
		Commit(ctx)
	if commitErr != nil {
		if errors.Is(commitErr, kvstore.ErrCheckFailed) {
			return WriteResult{}, fmt.Errorf("insert %q: %w", id, ErrDuplicateDocument)
		}
		return WriteResult{}, commitErr
	}

	storedValue, newVersion, err := db.store.Get(ctx, key)
	if err != nil {
		return WriteResult{}, err
	}

	normalized, err := decodeDocument(storedValue)
	if err != nil {
		return WriteResult{}, err
	}
	normalized[fieldID] = id
	normalized[fieldRev] = newVersion
	if err := db.engine.updateForDoc(ctx, id, normalized); err != nil {
		return WriteResult{}, err
	}

	return WriteResult{OK: true, ID: id, Rev: newVersion}, nil
}

// Replace mutates the document at id, asserting rev is still current.
// _rev is stripped from doc and _id is forced to id before storing.
func (db *Database) Replace(ctx context.Context, id, rev string, doc Document) (WriteResult, error) {
	if err := db.checkOpen(); err != nil {
		return WriteResult{}, err
	}
	stored := doc.withoutReserved()
	stored[fieldID] = id

	value, err := encodeDocument(stored)
	if err != nil {
		return WriteResult{}, err
	}

	key := docKey(db.ns, id)
	_, commitErr := db.store.Atomic().
		Check(key, rev).
		Set(key, value).
		Commit(ctx)
	if commitErr != nil {
		if errors.Is(commitErr, kvstore.ErrCheckFailed) {
			return WriteResult{}, fmt.Errorf("replace %q: %w", id, ErrRevisionConflict)
		}
		return WriteResult{}, commitErr
	}

	storedValue, newVersion, err := db.store.Get(ctx, key)
	if err != nil {
		return WriteResult{}, err
	}

	normalized, err := decodeDocument(storedValue)
	if err != nil {
		return WriteResult{}, err
	}
	normalized[fieldID] = id
	normalized[fieldRev] = newVersion
	if err := db.engine.updateForDoc(ctx, id, normalized); err != nil {
		return WriteResult{}, err
	}

	return WriteResult{OK: true, ID: id, Rev: newVersion}, nil
}

// Remove deletes the document at id, asserting rev is still current.
func (db *Database) Remove(ctx context.Context, id, rev string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	key := docKey(db.ns, id)
	_, commitErr := db.store.Atomic().
		Check(key, rev).
		Delete(key).
		Commit(ctx)
	if commitErr != nil {
		if errors.Is(commitErr, kvstore.ErrCheckFailed) {
			return fmt.Errorf("remove %q: %w", id, ErrRevisionConflict)
		}
		return commitErr
	}
	return db.engine.updateForDoc(ctx, id, nil)
}

// DefineView registers mapFn (and optionally reduceFn) under name and
// rebuilds the view if its map function's signature has changed.
func (db *Database) DefineView(ctx context.Context, name string, mapFn MapFunc, reduceFn ReduceFunc) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.engine.defineView(ctx, name, mapFn, reduceFn)
}

// AwaitViewReady blocks until name's design record reports state ready,
// or ctx is done. Query already performs this wait implicitly unless
// the query sets Stale(true); AwaitViewReady is for callers that want
// to wait without issuing a query of their own.
func (db *Database) AwaitViewReady(ctx context.Context, name string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.engine.awaitReady(ctx, name)
}

// Query runs a query built by NewQuery/QueryBuilder.
func (db *Database) Query(ctx context.Context, qb *QueryBuilder) ([]Row, []ReduceRow, error) {
	if err := db.checkOpen(); err != nil {
		return nil, nil, err
	}
	if err := qb.Err(); err != nil {
		return nil, nil, err
	}
	return runQuery(ctx, db, qb.GetParams())
}

// NewQuery starts a QueryBuilder for the named view.
func (db *Database) NewQuery(viewName string) *QueryBuilder {
	return newQueryBuilder(viewName)
}

// AllDocs scans every live document in the namespace in key order, a
// supplement to the core CRUD+query surface grounded on the teacher's
// own AllDocs (document.go), re-pointed from CouchDB's built-in
// _all_docs view onto a direct scan over the document-key prefix rather
// than a materialized view, since every document is already addressable
// that way without a map function.
func (db *Database) AllDocs(ctx context.Context) ([]Document, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	it, err := db.store.List(ctx, kvstore.PrefixSelector(docPrefix(db.ns)), kvstore.ListOptions{})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var docs []Document
	for {
		entry, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		doc, err := decodeDocument(entry.Value)
		if err != nil {
			return nil, err
		}
		doc[fieldID] = docIDFromKey(entry.Key)
		doc[fieldRev] = entry.Version
		docs = append(docs, doc)
	}
	return docs, nil
}

// Bulk applies Insert (for a doc with no _rev) or Replace (for a doc
// carrying both _id and _rev) to each of docs in order, collecting one
// BulkResult per document. A failure on one document does not abort the
// rest, mirroring CouchDB's _bulk_docs semantics the teacher's Bulk
// method (document.go) exposed over HTTP.
func (db *Database) Bulk(ctx context.Context, docs []Document) ([]BulkResult, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]BulkResult, len(docs))
	for i, doc := range docs {
		id := doc.ID()
		var res WriteResult
		var err error
		if doc.Rev() != "" {
			res, err = db.Replace(ctx, id, doc.Rev(), doc)
		} else {
			res, err = db.Insert(ctx, doc)
		}
		out[i] = BulkResult{ID: id, Result: res, Err: err}
	}
	return out, nil
}

func encodeDocument(d Document) ([]byte, error) {
	return json.Marshal(map[string]any(d))
}

func decodeDocument(b []byte) (Document, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return Document(m), nil
}
