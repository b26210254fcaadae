package kvdoc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/kvdoc/kvdoc/kvstore"
	"github.com/kvdoc/kvdoc/kvstore/tuple"
)

// viewRowPayload is the JSON form stored at a view row key: the row's
// emitted value plus the document snapshot at emit time (spec.md §3's
// Row: an emitted (emit_key, doc_id) -> {value, doc} pair).
type viewRowPayload struct {
	Value any      `json:"value"`
	Doc   Document `json:"doc"`
}

func encodeViewRow(p viewRowPayload) ([]byte, error) {
	return json.Marshal(p)
}

func decodeViewRow(b []byte) (viewRowPayload, error) {
	var p viewRowPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return viewRowPayload{}, err
	}
	return p, nil
}

func encodeDesign(rec designRecord) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeDesign(b []byte) (designRecord, error) {
	var rec designRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return designRecord{}, err
	}
	return rec, nil
}

// encodeBackRef/decodeBackRef round-trip a back-reference's accumulated
// composite keys exactly, including any byte-string emit-key parts,
// by packing each key tuple through the tuple layer and hex-encoding
// the packed bytes rather than re-serializing the tuple structurally
// (JSON cannot distinguish a []byte element from a string element on
// the way back).
func encodeBackRef(keys []tuple.Tuple) ([]byte, error) {
	packed := make([]string, len(keys))
	for i, k := range keys {
		packed[i] = hex.EncodeToString(tuple.Pack(k))
	}
	return json.Marshal(packed)
}

func decodeBackRef(b []byte) ([]tuple.Tuple, error) {
	var packed []string
	if err := json.Unmarshal(b, &packed); err != nil {
		return nil, err
	}
	out := make([]tuple.Tuple, len(packed))
	for i, hx := range packed {
		raw, err := hex.DecodeString(hx)
		if err != nil {
			return nil, err
		}
		t, err := tuple.Unpack(raw)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// opBatcher accumulates Set/Delete operations across an
// kvstore.AtomicBuilder, flushing into a real commit once it reaches
// its size bound. Used by rebuild and clearViewRows (commits bounded at
// BATCH_SIZE operations, issued sequentially); updateForDoc commits each
// view's update as one batch without it.
type opBatcher struct {
	store   kvstore.Store
	max     int
	pending kvstore.AtomicBuilder
	count   int
}

func newBatcher(store kvstore.Store, max int) *opBatcher {
	if max <= 0 {
		max = defaultBatchSize
	}
	return &opBatcher{store: store, max: max, pending: store.Atomic()}
}

func (b *opBatcher) set(ctx context.Context, key tuple.Tuple, value []byte) error {
	b.pending = b.pending.Set(key, value)
	b.count++
	return b.maybeFlush(ctx)
}

func (b *opBatcher) delete(ctx context.Context, key tuple.Tuple) error {
	b.pending = b.pending.Delete(key)
	b.count++
	return b.maybeFlush(ctx)
}

func (b *opBatcher) maybeFlush(ctx context.Context) error {
	if b.count >= b.max {
		return b.flush(ctx)
	}
	return nil
}

func (b *opBatcher) flush(ctx context.Context) error {
	if b.count == 0 {
		return nil
	}
	_, err := b.pending.Commit(ctx)
	b.pending = b.store.Atomic()
	b.count = 0
	return err
}

// sleepStep is one polling tick for AwaitViewReady, respecting context
// cancellation.
func sleepStep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil
	}
}
