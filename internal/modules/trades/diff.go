package trades

import "reflect"

// FieldChange is the old and new value of one differing field
type FieldChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// Diff reports the fields whose values differ between two snapshots
func Diff(from, to TradeDetails) map[string]FieldChange {
	return DiffFields(from.Fields(), to.Fields())
}

// DiffFields compares two flat field maps over the union of their keys.
// A missing key and a nil value are both "no value". Values are compared
// by equality one level deep, so lists are compared as whole sequences.
func DiffFields(from, to map[string]interface{}) map[string]FieldChange {
	diffs := make(map[string]FieldChange)

	keys := make(map[string]struct{}, len(from)+len(to))
	for k := range from {
		keys[k] = struct{}{}
	}
	for k := range to {
		keys[k] = struct{}{}
	}

	for k := range keys {
		oldVal := from[k]
		newVal := to[k]
		if !reflect.DeepEqual(oldVal, newVal) {
			diffs[k] = FieldChange{Old: oldVal, New: newVal}
		}
	}

	return diffs
}
