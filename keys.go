package kvdoc

import "github.com/kvdoc/kvdoc/kvstore/tuple"

// Key layout (component A). Pure tuple constructors, no I/O — every
// namespaced key kvdoc ever reads or writes through kvstore is built by
// one of these functions, matching the table in spec.md §3 exactly.

func docKey(ns, id string) tuple.Tuple {
	return tuple.Tuple{ns, "doc", id}
}

func docPrefix(ns string) tuple.Tuple {
	return tuple.Tuple{ns, "doc"}
}

func designKey(ns, view string) tuple.Tuple {
	return tuple.Tuple{ns, "design", view}
}

// viewRowKey builds (N, "view", V, ...emitKey, D). emitKey's parts are
// spliced in individually so the emit-key portion of the composite key
// participates in ordering element-by-element, not as a single nested
// tuple.
func viewRowKey(ns, view string, emitKey tuple.Tuple, docID string) tuple.Tuple {
	out := tuple.Tuple{ns, "view", view}
	out = append(out, emitKey...)
	out = append(out, docID)
	return out
}

func viewRowPrefix(ns, view string) tuple.Tuple {
	return tuple.Tuple{ns, "view", view}
}

func viewRefKey(ns, view, docID string) tuple.Tuple {
	return tuple.Tuple{ns, "viewref", view, docID}
}

func viewRefPrefix(ns, view string) tuple.Tuple {
	return tuple.Tuple{ns, "viewref", view}
}

// emitKeyFromRow strips the leading (N, "view", V) prefix and the
// trailing doc id from a fully-packed+unpacked view row key, returning
// the emit-key portion: every part strictly between VP and the trailing
// doc id.
func emitKeyFromRow(full tuple.Tuple) (emitKey tuple.Tuple, docID string) {
	if len(full) < 4 {
		return nil, ""
	}
	body := full[3:]
	docID, _ = body[len(body)-1].(string)
	return tuple.Tuple(body[:len(body)-1]), docID
}
