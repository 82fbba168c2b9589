package record

import (
	"reflect"
	"strings"
	"time"

	tferrors "github.com/tabflow/tabflow/pkg/errors"
)

// FieldDescriptor declares one field of a record type: its canonical
// name, the external column names it accepts, and its scalar kind.
// Descriptors are built once per operation and shared read-only across
// parser workers.
type FieldDescriptor struct {
	Name    string
	Aliases []string
	Kind    Kind
}

// Schema is an ordered, immutable set of field descriptors.
type Schema struct {
	fields []FieldDescriptor
	byName map[string]int // lower-cased field name -> index
}

// NewSchema builds a schema from descriptors. Field names must be
// unique (case-insensitive).
func NewSchema(fields []FieldDescriptor) (*Schema, error) {
	if len(fields) == 0 {
		return nil, tferrors.New(tferrors.CodeInvalidFormat, "schema has no fields")
	}
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		key := strings.ToLower(f.Name)
		if _, dup := byName[key]; dup {
			return nil, tferrors.New(tferrors.CodeInvalidFormat, "duplicate field name").
				WithContext("field", f.Name)
		}
		byName[key] = i
	}
	return &Schema{fields: fields, byName: byName}, nil
}

// MustSchema is NewSchema that panics on error. For fixed descriptor
// tables known at compile time.
func MustSchema(fields []FieldDescriptor) *Schema {
	s, err := NewSchema(fields)
	if err != nil {
		panic(err)
	}
	return s
}

// NumFields returns the number of declared fields.
func (s *Schema) NumFields() int { return len(s.fields) }

// Field returns the descriptor at index i.
func (s *Schema) Field(i int) FieldDescriptor { return s.fields[i] }

// Fields returns the descriptors in declaration order.
func (s *Schema) Fields() []FieldDescriptor { return s.fields }

// FieldIndex returns the index of the named field (case-insensitive).
func (s *Schema) FieldIndex(name string) (int, bool) {
	i, ok := s.byName[strings.ToLower(name)]
	return i, ok
}

// FieldNames returns the canonical field names in declaration order.
// Used as the header row on export.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// FromStruct builds a schema by reflecting over a struct type.
//
// Exported fields become descriptors; the `col` tag lists accepted
// external column names, comma-separated, and `col:"-"` skips the
// field. Supported Go types: string, int/int32/int64, float32/float64,
// bool, time.Time. Unsupported types are skipped.
//
//	type User struct {
//		ID       int64     `col:"ID,user_id"`
//		Username string    `col:"username"`
//		Created  time.Time `col:"createTime"`
//	}
func FromStruct(v interface{}) (*Schema, error) {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, tferrors.New(tferrors.CodeInvalidFormat, "record type must be a struct").
			WithContext("type", t.String())
	}

	var fields []FieldDescriptor
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("col")
		if tag == "-" {
			continue
		}
		kind, ok := kindOf(sf.Type)
		if !ok {
			continue
		}
		fd := FieldDescriptor{Name: sf.Name, Kind: kind}
		if tag != "" {
			for _, alias := range strings.Split(tag, ",") {
				alias = strings.TrimSpace(alias)
				if alias != "" {
					fd.Aliases = append(fd.Aliases, alias)
				}
			}
		}
		fields = append(fields, fd)
	}
	return NewSchema(fields)
}

var timeType = reflect.TypeOf(time.Time{})

func kindOf(t reflect.Type) (Kind, bool) {
	if t == timeType {
		return KindTime, true
	}
	switch t.Kind() {
	case reflect.String:
		return KindString, true
	case reflect.Int, reflect.Int32, reflect.Int64:
		return KindInt, true
	case reflect.Float32, reflect.Float64:
		return KindFloat, true
	case reflect.Bool:
		return KindBool, true
	default:
		return 0, false
	}
}
