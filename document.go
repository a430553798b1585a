// Typed access to JSON documents.
//
// A document is the parsed form of one inserted JSON object. Numbers are
// decoded as json.Number so int64 values survive without a float64 round
// trip. Accessors resolve dotted paths against the parsed tree and report
// absence separately from type mismatch: a missing field is null (ok =
// false, no error); a present field of the wrong shape is an error.
package octavo

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Document is one parsed JSON document. Parsing does not consult a schema;
// validate checks it against one.
type Document struct {
	raw    []byte
	fields map[string]any
}

// NewDocument parses raw JSON bytes into a document. The bytes are kept as
// the collection's stored form.
func NewDocument(raw []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: document is not a JSON object: %v", ErrInvalidArgument, err)
	}
	return &Document{raw: raw, fields: fields}, nil
}

// Bytes returns the document's stored form.
func (d *Document) Bytes() []byte { return d.raw }

// lookup resolves a dotted path. ok is false when any step is absent or
// explicitly null.
func (d *Document) lookup(path string) (any, bool) {
	cur := any(d.fields)
	for _, tok := range strings.Split(path, ".") {
		obj, isObj := cur.(map[string]any)
		if !isObj {
			return nil, false
		}
		next, present := obj[tok]
		if !present || next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Int returns the integer value at path. ok is false for a null field.
func (d *Document) Int(path string) (int64, bool, error) {
	v, present := d.lookup(path)
	if !present {
		return 0, false, nil
	}
	num, isNum := v.(json.Number)
	if !isNum {
		return 0, false, fmt.Errorf("%w: field %q is not a number", ErrInvalidArgument, path)
	}
	n, err := num.Int64()
	if err != nil {
		return 0, false, fmt.Errorf("%w: field %q is not an integer: %v", ErrInvalidArgument, path, err)
	}
	return n, true, nil
}

// Double returns the floating-point value at path.
func (d *Document) Double(path string) (float64, bool, error) {
	v, present := d.lookup(path)
	if !present {
		return 0, false, nil
	}
	num, isNum := v.(json.Number)
	if !isNum {
		return 0, false, fmt.Errorf("%w: field %q is not a number", ErrInvalidArgument, path)
	}
	f, err := num.Float64()
	if err != nil {
		return 0, false, fmt.Errorf("%w: field %q is not a double: %v", ErrInvalidArgument, path, err)
	}
	return f, true, nil
}

// String returns the string value at path.
func (d *Document) String(path string) (string, bool, error) {
	v, present := d.lookup(path)
	if !present {
		return "", false, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", false, fmt.Errorf("%w: field %q is not a string", ErrInvalidArgument, path)
	}
	return s, true, nil
}

// Blob returns the base64-decoded bytes at path.
func (d *Document) Blob(path string) ([]byte, bool, error) {
	v, present := d.lookup(path)
	if !present {
		return nil, false, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return nil, false, fmt.Errorf("%w: field %q is not a blob", ErrInvalidArgument, path)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false, fmt.Errorf("%w: field %q is not valid base64: %v", ErrInvalidArgument, path, err)
	}
	return b, true, nil
}

// checkField verifies that the value at path, if present, matches the
// declared field type, including integer width ranges.
func (d *Document) checkField(path string, ft FieldType) error {
	switch {
	case ft.isInteger():
		n, present, err := d.Int(path)
		if err != nil || !present {
			return err
		}
		lo, hi := ft.intRange()
		if n < lo || n > hi {
			return fmt.Errorf("%w: field %q value %d outside %s range", ErrInvalidArgument, path, n, ft)
		}
		return nil
	case ft == FieldTypeDouble:
		_, _, err := d.Double(path)
		return err
	case ft == FieldTypeString:
		_, _, err := d.String(path)
		return err
	case ft == FieldTypeBlob:
		_, _, err := d.Blob(path)
		return err
	case ft == FieldTypeRecord:
		v, present := d.lookup(path)
		if !present {
			return nil
		}
		if _, isObj := v.(map[string]any); !isObj {
			return fmt.Errorf("%w: field %q is not a record", ErrInvalidArgument, path)
		}
		return nil
	default:
		return fmt.Errorf("%w: field %q has unsupported type %s", ErrInvalidArgument, path, ft)
	}
}

// validate checks every declared scalar field present in the document
// against the schema.
func (d *Document) validate(s *Schema) error {
	for path, ft := range s.byPath {
		if err := d.checkField(path, ft); err != nil {
			return err
		}
	}
	return nil
}
