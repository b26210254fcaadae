// Package kvstore is the ordered key-value engine kvdoc is layered over.
// It plays the role spec.md calls an "external collaborator": atomic
// multi-operation batches, prefix/range iteration in both directions, and
// a monotonic per-key version token ("versionstamp") returned on every
// write. kvdoc never depends on the concrete engine directly, only on
// this package's Store interface, so a different backend can be dropped
// in without touching document or view logic.
package kvstore

import (
	"context"
	"errors"

	"github.com/kvdoc/kvdoc/kvstore/tuple"
)

// ErrCheckFailed is returned by Commit when any Check in the batch did
// not match the key's current version at commit time.
var ErrCheckFailed = errors.New("kvstore: version check failed")

// ErrClosed is returned by any Store method called after Close.
var ErrClosed = errors.New("kvstore: store is closed")

// Selector describes a contiguous, ordered slice of the keyspace to scan.
// Exactly one of Prefix or (Start, End) should be set; End is exclusive.
type Selector struct {
	Prefix tuple.Tuple
	Start  tuple.Tuple
	End    tuple.Tuple
}

// PrefixSelector builds a Selector matching every key with prefix p.
func PrefixSelector(p tuple.Tuple) Selector {
	return Selector{Prefix: p}
}

// RangeSelector builds a Selector matching the half-open range [start, end).
func RangeSelector(start, end tuple.Tuple) Selector {
	return Selector{Start: start, End: end}
}

// ListOptions controls iteration order and how much the caller wants the
// engine itself to enforce.
type ListOptions struct {
	Reverse bool
	// Limit, when > 0, caps the number of entries the engine returns.
	// There is no Skip option: callers that need skip+limit semantics
	// pass skip+limit here so the engine can stop scanning early, and
	// drop the first skip entries themselves.
	Limit int
}

// Entry is one key/value/version triple returned by iteration.
type Entry struct {
	Key     tuple.Tuple
	Value   []byte
	Version string
}

// Iterator streams Entry values in the order requested. Callers must call
// Close when done, even after a non-nil error or reaching the end.
type Iterator interface {
	Next(ctx context.Context) (Entry, bool, error)
	Close() error
}

// AtomicBuilder accumulates checks and mutations for one all-or-nothing
// batch, mirroring spec.md §6's atomic() contract.
type AtomicBuilder interface {
	// Check asserts that key's current version equals version (use ""
	// for "key must be absent") at commit time.
	Check(key tuple.Tuple, version string) AtomicBuilder
	Set(key tuple.Tuple, value []byte) AtomicBuilder
	Delete(key tuple.Tuple) AtomicBuilder
	// Commit applies every Set/Delete atomically if every Check still
	// holds. ok is false (with ErrCheckFailed) if any Check failed; the
	// batch has no effect in that case.
	Commit(ctx context.Context) (ok bool, err error)
}

// Store is the upstream KV contract kvdoc is built against.
type Store interface {
	// Get returns the value and versionstamp for key, or version == ""
	// and a nil value if the key is absent.
	Get(ctx context.Context, key tuple.Tuple) (value []byte, version string, err error)
	// List opens an iterator over sel in the order described by opts.
	List(ctx context.Context, sel Selector, opts ListOptions) (Iterator, error)
	// Atomic starts a new batch builder.
	Atomic() AtomicBuilder
	Close() error
}

// Absent is the version string Check expects for a key that must not
// exist yet (used by Database.Insert's duplicate check).
const Absent = ""
