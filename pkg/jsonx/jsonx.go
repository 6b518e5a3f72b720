// Package jsonx decodes low-trust JSON request bodies strictly.
package jsonx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

var (
	ErrEmptyBody    = errors.New("empty body")
	ErrTrailingJSON = errors.New("trailing data")
)

// maxBody is the most ParseStrictJSONBody reads from a request.
const maxBody = 1 << 20

// ParseStrictJSONBody decodes exactly one JSON value from the request body
// into dst. It fails on an empty body, malformed JSON, unknown fields, type
// mismatches and trailing data; all of these map to 400 Bad Request.
//
// Only the shape is checked. Required fields and value rules are left to the
// caller.
func ParseStrictJSONBody[T any](r *http.Request, dst *T) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ErrEmptyBody
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ErrTrailingJSON
	}
	return nil
}

// Field tracks whether a key was present at all, in addition to its value:
//   - IsSet() reports the key appeared, even as null
//   - IsNull() reports the key appeared as null
type Field[T any] struct {
	set bool
	val *T
}

func (o Field[T]) IsSet() bool  { return o.set }
func (o Field[T]) IsNull() bool { return o.set && o.val == nil }
func (o Field[T]) Value() *T    { return o.val }

// ValueOr returns the value, or def when the key was absent or null.
func (o Field[T]) ValueOr(def T) T {
	if o.val == nil {
		return def
	}
	return *o.val
}

func (o *Field[T]) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		o.set, o.val = true, nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.set, o.val = true, &v
	return nil
}
