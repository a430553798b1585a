// Schema parsing and fingerprint tests.
package octavo

import (
	"errors"
	"testing"
)

func TestParseSchemaFieldTypes(t *testing.T) {
	s := testSchema(t)

	cases := map[string]FieldType{
		"name":     FieldTypeString,
		"age":      FieldTypeInt32,
		"score":    FieldTypeInt64,
		"bio":      FieldTypeRecord,
		"bio.city": FieldTypeString,
	}
	for path, want := range cases {
		ft, err := s.FieldType(path)
		if err != nil {
			t.Fatalf("FieldType(%q): %v", path, err)
		}
		if ft != want {
			t.Errorf("FieldType(%q) = %v, want %v", path, ft, want)
		}
	}

	if _, err := s.FieldType("missing"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown path: err = %v", err)
	}
}

// TestSchemaRootFields verifies the introspection surface and its bound
// check.
func TestSchemaRootFields(t *testing.T) {
	s := testSchema(t)
	if s.FieldCount() != 4 {
		t.Fatalf("FieldCount = %d, want 4", s.FieldCount())
	}
	f, err := s.Field(0)
	if err != nil || f.Name != "name" {
		t.Errorf("Field(0) = %+v, %v", f, err)
	}
	if _, err := s.Field(4); !errors.Is(err, ErrIndexOutOfBound) {
		t.Errorf("Field(4): err = %v, want ErrIndexOutOfBound", err)
	}
	if _, err := s.Field(-1); !errors.Is(err, ErrIndexOutOfBound) {
		t.Errorf("Field(-1): err = %v, want ErrIndexOutOfBound", err)
	}
}

func TestParseSchemaRejects(t *testing.T) {
	bad := []string{
		`not json`,
		`{"fields": [{"name": "a", "type": "int32"}]}`,             // no name
		`{"name": "x", "fields": []}`,                              // no fields
		`{"name": "x", "fields": [{"name": "a", "type": "uuid"}]}`, // unknown type
		`{"name": "x", "fields": [{"name": "a.b", "type": "int32"}]}`,
		`{"name": "x", "fields": [{"name": "a", "type": "int32"}, {"name": "a", "type": "string"}]}`,
		`{"name": "x", "fields": [{"name": "r", "type": "record"}]}`, // empty record
	}
	for _, text := range bad {
		if _, err := ParseSchema(SchemaTypeJSON, []byte(text)); !errors.Is(err, ErrSchema) {
			t.Errorf("%s: err = %v, want ErrSchema", text, err)
		}
	}
}

func TestLeafPathsOrder(t *testing.T) {
	s := testSchema(t)
	got := s.leafPaths()
	want := []string{"name", "age", "score", "bio.city"}
	if len(got) != len(want) {
		t.Fatalf("leafPaths = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("leafPaths[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestFingerprint verifies both algorithms are deterministic, 16 hex
// chars, and disagree with each other (so a config change is caught at
// open rather than silently accepted).
func TestFingerprint(t *testing.T) {
	text := []byte(`{"name": "x", "fields": [{"name": "a", "type": "int32"}]}`)

	for _, alg := range []int{FingerprintXXH3, FingerprintBlake2b} {
		a, err := fingerprint(text, alg)
		if err != nil {
			t.Fatalf("fingerprint alg %d: %v", alg, err)
		}
		b, _ := fingerprint(text, alg)
		if a != b || len(a) != 16 {
			t.Errorf("alg %d: %q / %q", alg, a, b)
		}
	}

	x, _ := fingerprint(text, FingerprintXXH3)
	bl, _ := fingerprint(text, FingerprintBlake2b)
	if x == bl {
		t.Error("algorithms collide")
	}

	if _, err := fingerprint(text, 99); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown algorithm: err = %v", err)
	}
}
