package dashboard

import (
	"bytes"
	"encoding/json"
	"sort"
)

// ShapeKind names the response layouts a list endpoint is known to return.
type ShapeKind int

const (
	ShapeUnknown ShapeKind = iota
	// ShapeArray is a bare JSON array.
	ShapeArray
	// ShapeDataArray is an object whose data field is an array.
	ShapeDataArray
	// ShapeDataNull is an object whose data field is null; it reads as empty.
	ShapeDataNull
	// ShapeNestedArray is an object holding, under some key, an array of
	// records with an id.
	ShapeNestedArray
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeArray:
		return "array"
	case ShapeDataArray:
		return "data_array"
	case ShapeDataNull:
		return "data_null"
	case ShapeNestedArray:
		return "nested_array"
	default:
		return "unknown"
	}
}

// ParseList classifies raw and returns its list items. Shapes are tried in
// order; ShapeUnknown means none matched and items is nil.
func ParseList(raw json.RawMessage) (ShapeKind, []json.RawMessage) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ShapeUnknown, nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return ShapeDataNull, []json.RawMessage{}
	}

	var items []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return ShapeUnknown, nil
		}
		return ShapeArray, items
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return ShapeUnknown, nil
	}
	if data, ok := fields["data"]; ok {
		data = bytes.TrimSpace(data)
		if bytes.Equal(data, []byte("null")) {
			return ShapeDataNull, []json.RawMessage{}
		}
		if len(data) > 0 && data[0] == '[' {
			if err := json.Unmarshal(data, &items); err == nil {
				return ShapeDataArray, items
			}
		}
	}

	// Keys are scanned in sorted order.
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := bytes.TrimSpace(fields[key])
		if len(value) == 0 || value[0] != '[' {
			continue
		}
		var candidate []json.RawMessage
		if err := json.Unmarshal(value, &candidate); err != nil || len(candidate) == 0 {
			continue
		}
		var first map[string]json.RawMessage
		if err := json.Unmarshal(candidate[0], &first); err != nil {
			continue
		}
		if _, ok := first["id"]; ok {
			return ShapeNestedArray, candidate
		}
	}
	return ShapeUnknown, nil
}

// decodeItems unmarshals each item into T, skipping items that do not decode.
func decodeItems[T any](items []json.RawMessage) ([]T, int) {
	out := make([]T, 0, len(items))
	skipped := 0
	for _, item := range items {
		var value T
		if err := json.Unmarshal(item, &value); err != nil {
			skipped++
			continue
		}
		out = append(out, value)
	}
	return out, skipped
}
