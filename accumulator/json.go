package accumulator

import (
	"encoding/json"
	"reflect"
)

// jsonEqual reports whether a and b are both valid JSON encoding the
// same value.
func jsonEqual(a, b string) bool {
	var va, vb any
	if json.Unmarshal([]byte(a), &va) != nil || json.Unmarshal([]byte(b), &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}
