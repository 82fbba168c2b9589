// Package record implements the typed row model and header-to-field
// mapping for tabular import and export.
//
// A Record is one parsed row: an ordered set of typed scalar values
// keyed by the fields of a Schema. Fields that were absent or failed
// coercion carry no value at all rather than a zero default.
package record

import (
	"strconv"
	"time"
)

// Kind is the scalar type of a field value.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Value is a single typed scalar. The zero Value is an empty string.
type Value struct {
	kind Kind
	str  string
	num  int64
	flt  float64
	bl   bool
	ts   time.Time
}

// String constructs a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int constructs a 64-bit integer value.
func Int(i int64) Value { return Value{kind: KindInt, num: i} }

// Float constructs a double value.
func Float(f float64) Value { return Value{kind: KindFloat, flt: f} }

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, bl: b} }

// Time constructs a timestamp value.
func Time(t time.Time) Value { return Value{kind: KindTime, ts: t} }

// Kind returns the scalar type of the value.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload. Valid only for KindString.
func (v Value) Str() string { return v.str }

// Int64 returns the integer payload. Valid only for KindInt.
func (v Value) Int64() int64 { return v.num }

// Float64 returns the float payload. Valid only for KindFloat.
func (v Value) Float64() float64 { return v.flt }

// Boolean returns the bool payload. Valid only for KindBool.
func (v Value) Boolean() bool { return v.bl }

// Timestamp returns the time payload. Valid only for KindTime.
func (v Value) Timestamp() time.Time { return v.ts }

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.num == o.num
	case KindFloat:
		return v.flt == o.flt
	case KindBool:
		return v.bl == o.bl
	case KindTime:
		return v.ts.Equal(o.ts)
	default:
		return false
	}
}

// Format renders the value as its canonical external string.
// The rendering is accepted back by Coerce for the same kind.
func (v Value) Format() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.bl)
	case KindTime:
		return v.ts.Format(TimeLayout)
	default:
		return ""
	}
}

// Record is one parsed, typed row. Values are ordered by the schema's
// field order. A field may be absent: Get reports presence explicitly.
// Records are not safe for concurrent mutation; once validated they are
// treated as immutable.
type Record struct {
	schema  *Schema
	values  []Value
	present []bool
}

// NewRecord creates an empty record for the given schema.
func NewRecord(schema *Schema) *Record {
	n := schema.NumFields()
	return &Record{
		schema:  schema,
		values:  make([]Value, n),
		present: make([]bool, n),
	}
}

// Schema returns the record's schema.
func (r *Record) Schema() *Schema { return r.schema }

// Set stores a value for the field at index i.
func (r *Record) Set(i int, v Value) {
	r.values[i] = v
	r.present[i] = true
}

// Get returns the value for field i and whether it is present.
func (r *Record) Get(i int) (Value, bool) {
	if i < 0 || i >= len(r.values) || !r.present[i] {
		return Value{}, false
	}
	return r.values[i], true
}

// GetByName returns the value for the named field and whether it is present.
func (r *Record) GetByName(name string) (Value, bool) {
	i, ok := r.schema.FieldIndex(name)
	if !ok {
		return Value{}, false
	}
	return r.Get(i)
}

// Present reports whether field i carries a value.
func (r *Record) Present(i int) bool {
	return i >= 0 && i < len(r.present) && r.present[i]
}

// NumSet returns how many fields carry a value.
func (r *Record) NumSet() int {
	n := 0
	for _, p := range r.present {
		if p {
			n++
		}
	}
	return n
}

// Equal reports field-for-field equality against another record of the
// same schema.
func (r *Record) Equal(o *Record) bool {
	if o == nil || r.schema.NumFields() != o.schema.NumFields() {
		return false
	}
	for i := range r.values {
		if r.present[i] != o.present[i] {
			return false
		}
		if r.present[i] && !r.values[i].Equal(o.values[i]) {
			return false
		}
	}
	return true
}
