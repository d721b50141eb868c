package utils

import (
	"encoding/json"
)

// MustMarshalJSON panics on failure. Only for values that are known to encode.
func MustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("failed to marshal JSON: " + err.Error())
	}
	return data
}
