package room

import "encoding/json"

func encodeControl(v any) ([]byte, error) {
	return json.Marshal(v)
}
