package intake

import (
	"bytes"
	"encoding/json"
	"io"
)

// MaxBatch bounds the number of items accepted in one batch request.
const MaxBatch = 100

var errBadJSON = Invalid("Request body must be valid JSON")

// DecodeBatch reads a JSON body holding either a single object or an array
// of objects. batch reports whether the body was an array.
func DecodeBatch[T any](r io.Reader) (items []T, batch bool, err error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, false, errBadJSON
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false, errBadJSON
	}

	if body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, true, errBadJSON
		}
		if len(items) == 0 {
			return nil, true, Invalid("At least one item is required")
		}
		if len(items) > MaxBatch {
			return nil, true, Invalid("Batch exceeds the maximum of 100 items")
		}
		return items, true, nil
	}

	var one T
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, false, errBadJSON
	}
	return []T{one}, false, nil
}

// Decode reads a single JSON object.
func Decode[T any](r io.Reader) (T, error) {
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return v, errBadJSON
	}
	return v, nil
}

// ValidateBatch runs check on every item. In a batch each message is
// prefixed with the item index; a single object gets unprefixed messages.
// Any failure rejects the whole batch.
func ValidateBatch[T any](items []T, batch bool, check func(T, *Validator)) error {
	var details []string
	for i, item := range items {
		v := &Validator{}
		if batch {
			v = Item(i)
		}
		check(item, v)
		details = append(details, v.Details()...)
	}
	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}
