// Typed collection schemas.
//
// A schema is declared as JSON text: a named record with a field tree.
// Nested records give fields dotted paths ("user.name"). The engine only
// ever asks a schema two things — the type of a field at a path, and the
// scalar leaf paths for virtual-table declaration — so the description
// format stays replaceable behind that surface.
//
// A fingerprint of the schema text is stored in the catalog and
// re-verified at open, so a catalog row pointing at edited schema text is
// caught before replay trusts it. Two algorithms are supported, selectable
// via Options.FingerprintAlgorithm.
package octavo

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// FieldType enumerates the value types a schema field can declare.
type FieldType int32

const (
	FieldTypeInt8 FieldType = iota + 1
	FieldTypeInt16
	FieldTypeInt32
	FieldTypeInt64
	FieldTypeDouble
	FieldTypeString
	FieldTypeBlob
	FieldTypeRecord
)

var fieldTypeNames = map[string]FieldType{
	"int8":   FieldTypeInt8,
	"int16":  FieldTypeInt16,
	"int32":  FieldTypeInt32,
	"int64":  FieldTypeInt64,
	"double": FieldTypeDouble,
	"string": FieldTypeString,
	"blob":   FieldTypeBlob,
	"record": FieldTypeRecord,
}

// String returns the schema-text name of the type.
func (t FieldType) String() string {
	for name, ft := range fieldTypeNames {
		if ft == t {
			return name
		}
	}
	return fmt.Sprintf("FieldType(%d)", int32(t))
}

// isInteger reports whether t is one of the integer family.
func (t FieldType) isInteger() bool {
	switch t {
	case FieldTypeInt8, FieldTypeInt16, FieldTypeInt32, FieldTypeInt64:
		return true
	}
	return false
}

// intRange returns the inclusive value range of an integer field type.
func (t FieldType) intRange() (int64, int64) {
	switch t {
	case FieldTypeInt8:
		return -128, 127
	case FieldTypeInt16:
		return -32768, 32767
	case FieldTypeInt32:
		return -2147483648, 2147483647
	default:
		return -9223372036854775808, 9223372036854775807
	}
}

// SchemaField is one declared field.
type SchemaField struct {
	Name   string
	Type   FieldType
	Fields []SchemaField // populated for record fields
}

// Schema is the parsed field tree of a collection.
type Schema struct {
	name   string
	text   []byte
	fields []SchemaField
	byPath map[string]FieldType
}

type rawSchemaField struct {
	Name   string           `json:"name"`
	Type   string           `json:"type"`
	Fields []rawSchemaField `json:"fields"`
}

type rawSchema struct {
	Name   string           `json:"name"`
	Fields []rawSchemaField `json:"fields"`
}

// ParseSchema parses schema text. Only SchemaTypeJSON is understood.
func ParseSchema(schemaType SchemaType, text []byte) (*Schema, error) {
	if schemaType != SchemaTypeJSON {
		return nil, fmt.Errorf("%w: unknown schema type %d", ErrSchema, schemaType)
	}
	var raw rawSchema
	if err := json.Unmarshal(text, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if raw.Name == "" {
		return nil, fmt.Errorf("%w: schema has no name", ErrSchema)
	}
	if len(raw.Fields) == 0 {
		return nil, fmt.Errorf("%w: schema %q has no fields", ErrSchema, raw.Name)
	}

	s := &Schema{name: raw.Name, text: text, byPath: make(map[string]FieldType)}
	var err error
	if s.fields, err = buildFields(raw.Fields, "", s.byPath); err != nil {
		return nil, err
	}
	return s, nil
}

func buildFields(raw []rawSchemaField, prefix string, byPath map[string]FieldType) ([]SchemaField, error) {
	fields := make([]SchemaField, 0, len(raw))
	for _, rf := range raw {
		if rf.Name == "" {
			return nil, fmt.Errorf("%w: field with empty name", ErrSchema)
		}
		if strings.Contains(rf.Name, ".") {
			return nil, fmt.Errorf("%w: field name %q contains a dot", ErrSchema, rf.Name)
		}
		ft, ok := fieldTypeNames[rf.Type]
		if !ok {
			return nil, fmt.Errorf("%w: field %q has unknown type %q", ErrSchema, rf.Name, rf.Type)
		}

		path := rf.Name
		if prefix != "" {
			path = prefix + "." + rf.Name
		}
		if _, dup := byPath[path]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrSchema, path)
		}
		byPath[path] = ft

		f := SchemaField{Name: rf.Name, Type: ft}
		if ft == FieldTypeRecord {
			if len(rf.Fields) == 0 {
				return nil, fmt.Errorf("%w: record field %q has no fields", ErrSchema, path)
			}
			var err error
			if f.Fields, err = buildFields(rf.Fields, path, byPath); err != nil {
				return nil, err
			}
		} else if len(rf.Fields) != 0 {
			return nil, fmt.Errorf("%w: scalar field %q declares nested fields", ErrSchema, path)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// Name returns the schema's record name.
func (s *Schema) Name() string { return s.name }

// Text returns the original schema text.
func (s *Schema) Text() []byte { return s.text }

// FieldType resolves the type of a dotted field path.
func (s *Schema) FieldType(path string) (FieldType, error) {
	ft, ok := s.byPath[path]
	if !ok {
		return 0, fmt.Errorf("%w: schema %q has no field %q", ErrInvalidArgument, s.name, path)
	}
	return ft, nil
}

// FieldCount returns the number of root fields.
func (s *Schema) FieldCount() int { return len(s.fields) }

// Field returns the i-th root field.
func (s *Schema) Field(i int) (SchemaField, error) {
	if i < 0 || i >= len(s.fields) {
		return SchemaField{}, fmt.Errorf("%w: field %d of schema %q with %d fields",
			ErrIndexOutOfBound, i, s.name, len(s.fields))
	}
	return s.fields[i], nil
}

// leafPaths returns every scalar field path in declaration order.
func (s *Schema) leafPaths() []string {
	var paths []string
	var walk func(fields []SchemaField, prefix string)
	walk = func(fields []SchemaField, prefix string) {
		for _, f := range fields {
			path := f.Name
			if prefix != "" {
				path = prefix + "." + f.Name
			}
			if f.Type == FieldTypeRecord {
				walk(f.Fields, path)
				continue
			}
			paths = append(paths, path)
		}
	}
	walk(s.fields, "")
	return paths
}

// fingerprint hashes schema text with the selected algorithm, producing a
// 16 hex character tag stored in the catalog.
func fingerprint(text []byte, alg int) (string, error) {
	switch alg {
	case FingerprintXXH3:
		return fmt.Sprintf("%016x", xxh3.Hash(text)), nil
	case FingerprintBlake2b:
		h, err := blake2b.New(8, nil) // 8 bytes = 64 bits
		if err != nil {
			return "", err
		}
		h.Write(text)
		return fmt.Sprintf("%016x", h.Sum(nil)), nil
	default:
		return "", fmt.Errorf("%w: unknown fingerprint algorithm %d", ErrInvalidArgument, alg)
	}
}
