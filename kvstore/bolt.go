package kvstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/kvdoc/kvdoc/kvstore/tuple"
)

var (
	valuesBucket  = []byte("values")
	versionBucket = []byte("versions")
	metaBucket    = []byte("meta")
	counterKey    = []byte("counter")
)

// boltStore is the only Store implementation in this repo, grounded on
// the KeyValueDB / OrderedKeyValueDB / Batch interface family in dvid's
// storage package and on etcd's own use of bbolt as its MVCC backend: a
// getter, an ordered range getter, and an atomic batch builder over a
// single-writer B+tree.
type boltStore struct {
	db *bolt.DB

	mu     sync.Mutex
	closed bool
}

// OpenBolt opens (creating if necessary) a bbolt-backed Store at path.
func OpenBolt(path string) (Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{valuesBucket, versionBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kvstore: init buckets: %w", err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *boltStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func versionString(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

func (s *boltStore) Get(ctx context.Context, key tuple.Tuple) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if err := s.checkOpen(); err != nil {
		return nil, "", err
	}
	packed := tuple.Pack(key)
	var value []byte
	var version string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(valuesBucket).Get(packed)
		if v == nil {
			return nil
		}
		value = append([]byte(nil), v...)
		vb := tx.Bucket(versionBucket).Get(packed)
		version = versionString(binary.BigEndian.Uint64(vb))
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return value, version, nil
}

func (s *boltStore) List(ctx context.Context, sel Selector, opts ListOptions) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var start, end []byte
	if sel.Prefix != nil {
		start, end = tuple.PrefixRange(sel.Prefix)
	} else {
		start = tuple.Pack(sel.Start)
		end = tuple.Pack(sel.End)
	}

	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	it := &boltIterator{
		tx:      tx,
		cursor:  tx.Bucket(valuesBucket).Cursor(),
		verBkt:  tx.Bucket(versionBucket),
		start:   start,
		end:     end,
		reverse: opts.Reverse,
		limit:   opts.Limit,
	}
	it.started = false
	return it, nil
}

type boltIterator struct {
	tx      *bolt.Tx
	cursor  *bolt.Cursor
	verBkt  *bolt.Bucket
	start   []byte
	end     []byte
	reverse bool
	limit   int

	started bool
	emitted int
	closed  bool
}

func (it *boltIterator) Next(ctx context.Context) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	if it.closed {
		return Entry{}, false, fmt.Errorf("kvstore: iterator is closed")
	}
	if it.limit > 0 && it.emitted >= it.limit {
		return Entry{}, false, nil
	}

	var k, v []byte
	if !it.started {
		it.started = true
		if it.reverse {
			// bbolt Seek finds the first key >= end; step back one to
			// land at the last key < end.
			k, v = it.cursor.Seek(it.end)
			if k == nil {
				k, v = it.cursor.Last()
			} else {
				k, v = it.cursor.Prev()
			}
		} else {
			k, v = it.cursor.Seek(it.start)
		}
	} else if it.reverse {
		k, v = it.cursor.Prev()
	} else {
		k, v = it.cursor.Next()
	}

	for {
		if k == nil {
			return Entry{}, false, nil
		}
		if it.reverse {
			if bytes.Compare(k, it.start) < 0 {
				return Entry{}, false, nil
			}
			if bytes.Compare(k, it.end) < 0 {
				break
			}
		} else {
			if bytes.Compare(k, it.end) >= 0 {
				return Entry{}, false, nil
			}
			if bytes.Compare(k, it.start) >= 0 {
				break
			}
		}
		if it.reverse {
			k, v = it.cursor.Prev()
		} else {
			k, v = it.cursor.Next()
		}
	}

	parsed, err := tuple.Unpack(k)
	if err != nil {
		return Entry{}, false, err
	}
	vb := it.verBkt.Get(k)
	version := versionString(binary.BigEndian.Uint64(vb))
	value := append([]byte(nil), v...)
	it.emitted++
	return Entry{Key: parsed, Value: value, Version: version}, true, nil
}

func (it *boltIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.tx.Rollback()
}

type boltAtomic struct {
	store   *boltStore
	checks  []checkOp
	sets    []setOp
	deletes []tuple.Tuple
}

type checkOp struct {
	key     tuple.Tuple
	version string
}

type setOp struct {
	key   tuple.Tuple
	value []byte
}

func (s *boltStore) Atomic() AtomicBuilder {
	return &boltAtomic{store: s}
}

func (a *boltAtomic) Check(key tuple.Tuple, version string) AtomicBuilder {
	a.checks = append(a.checks, checkOp{key, version})
	return a
}

func (a *boltAtomic) Set(key tuple.Tuple, value []byte) AtomicBuilder {
	a.sets = append(a.sets, setOp{key, value})
	return a
}

func (a *boltAtomic) Delete(key tuple.Tuple) AtomicBuilder {
	a.deletes = append(a.deletes, key)
	return a
}

func (a *boltAtomic) Commit(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := a.store.checkOpen(); err != nil {
		return false, err
	}

	ok := true
	err := a.store.db.Update(func(tx *bolt.Tx) error {
		values := tx.Bucket(valuesBucket)
		versions := tx.Bucket(versionBucket)

		for _, c := range a.checks {
			packed := tuple.Pack(c.key)
			vb := versions.Get(packed)
			var cur string
			if vb != nil {
				cur = versionString(binary.BigEndian.Uint64(vb))
			}
			if cur != c.version {
				ok = false
				return nil
			}
		}
		if len(a.sets) == 0 && len(a.deletes) == 0 {
			return nil
		}

		meta := tx.Bucket(metaBucket)
		counter := uint64(0)
		if cb := meta.Get(counterKey); cb != nil {
			counter = binary.BigEndian.Uint64(cb)
		}
		counter++
		var cbuf [8]byte
		binary.BigEndian.PutUint64(cbuf[:], counter)
		if err := meta.Put(counterKey, cbuf[:]); err != nil {
			return err
		}

		for _, s := range a.sets {
			packed := tuple.Pack(s.key)
			if err := values.Put(packed, s.value); err != nil {
				return err
			}
			if err := versions.Put(packed, cbuf[:]); err != nil {
				return err
			}
		}
		for _, k := range a.deletes {
			packed := tuple.Pack(k)
			if err := values.Delete(packed); err != nil {
				return err
			}
			if err := versions.Delete(packed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrCheckFailed
	}
	return true, nil
}
