package kvdoc

// Document is kvdoc's schemaless value tree: a mapping from strings to
// arbitrary JSON-like values, carrying the two reserved fields spec.md
// describes. It is the Go analogue of the teacher's own
// Document.Data map[string]interface{} field — a plain map rather than a
// dedicated struct with custom (Un)MarshalJSON, since kvdoc never speaks
// JSON over the wire; callers hand in and receive back live Go values
// directly.
type Document map[string]any

const (
	fieldID  = "_id"
	fieldRev = "_rev"
)

// ID returns the document's _id field, or "" if absent or not a string.
func (d Document) ID() string {
	v, _ := d[fieldID].(string)
	return v
}

// Rev returns the document's _rev field, or "" if absent or not a string.
func (d Document) Rev() string {
	v, _ := d[fieldRev].(string)
	return v
}

// clone returns a shallow copy of d, suitable for stamping _id/_rev onto
// without mutating a caller's map.
func (d Document) clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// withoutReserved returns a shallow copy of d with _id and _rev removed —
// used before persisting, since _rev is never stored and _id is always
// re-derived from the key under which the document is stored.
func (d Document) withoutReserved() Document {
	out := d.clone()
	delete(out, fieldID)
	delete(out, fieldRev)
	return out
}

// WriteResult is returned by Insert and Replace.
type WriteResult struct {
	OK  bool
	ID  string
	Rev string
}

// Row is one result from a map-only query: spec.md §4.F's map row shape
// {key, id, value, doc?}.
type Row struct {
	Key   []any
	ID    string
	Value any
	Doc   Document // nil unless the query requested IncludeDocs
}

// ReduceRow is one result from a grouped-reduce query: spec.md §4.F's
// reduce row shape {key, value}. Key is nil for the reduce-all group.
type ReduceRow struct {
	Key   []any
	Value any
}

// BulkResult is one outcome of a Bulk call: either a successful
// WriteResult or the error that write produced, keyed by the document's
// id as supplied by the caller. Grounded on the teacher's BulkResult,
// re-pointed from a single server-reported {ok,id,rev,error,reason}
// object onto the same CAS outcomes Insert/Replace already produce.
type BulkResult struct {
	ID     string
	Result WriteResult
	Err    error
}
