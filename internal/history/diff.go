package history

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Change records one changed leaf between two snapshots.
type Change struct {
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// Diff computes the recursive structural difference between two JSON
// documents. Keys are dot-joined paths. Maps recurse over the union of
// keys; lists and scalars are compared by equality and recorded whole.
func Diff(prev, next map[string]interface{}) map[string]Change {
	out := make(map[string]Change)
	diffMaps("", prev, next, out)
	return out
}

func diffMaps(path string, prev, next map[string]interface{}, out map[string]Change) {
	keys := make(map[string]struct{}, len(prev)+len(next))
	for k := range prev {
		keys[k] = struct{}{}
	}
	for k := range next {
		keys[k] = struct{}{}
	}

	for k := range keys {
		childPath := k
		if path != "" {
			childPath = path + "." + k
		}
		diffValues(childPath, prev[k], next[k], out)
	}
}

func diffValues(path string, prev, next interface{}, out map[string]Change) {
	prevMap, prevIsMap := prev.(map[string]interface{})
	nextMap, nextIsMap := next.(map[string]interface{})
	if prevIsMap && nextIsMap {
		diffMaps(path, prevMap, nextMap, out)
		return
	}

	if !jsonEqual(prev, next) {
		out[path] = Change{From: prev, To: next}
	}
}

// jsonEqual compares two values by their canonical JSON encoding, so a
// snapshot decoded from JSONB (float64 numbers, []interface{} lists) equals
// the same document built with Go ints and typed slices.
func jsonEqual(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(aj, bj)
}

// SplitDiff projects a diff into the persisted from/to documents.
func SplitDiff(diff map[string]Change) (from, to map[string]interface{}) {
	from = make(map[string]interface{}, len(diff))
	to = make(map[string]interface{}, len(diff))
	for path, change := range diff {
		from[path] = change.From
		to[path] = change.To
	}
	return from, to
}
