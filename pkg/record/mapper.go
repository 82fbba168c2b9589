package record

import "strings"

// ColumnMap is the resolved correspondence between the columns of one
// input file and the fields of a schema. Built once per operation from
// the header row; read-only afterwards, so it is shared freely across
// parser workers.
type ColumnMap struct {
	schema *Schema
	// field index per input column, -1 for unmapped columns.
	fields []int
	mapped int
}

// Resolve matches external header names to schema fields.
//
// Precedence per column: declared alias (case-sensitive) → exact field
// name → case-insensitive field name → unmapped. Missing, renamed, and
// reordered columns are tolerated; an unmapped column is simply ignored
// during projection. Each field binds to at most one column (first win).
func Resolve(schema *Schema, headers []string) *ColumnMap {
	m := &ColumnMap{
		schema: schema,
		fields: make([]int, len(headers)),
	}

	// Alias lookup is case-sensitive by contract.
	aliases := make(map[string]int)
	for i, f := range schema.Fields() {
		for _, a := range f.Aliases {
			if _, taken := aliases[a]; !taken {
				aliases[a] = i
			}
		}
	}

	bound := make([]bool, schema.NumFields())
	bind := func(col, field int) bool {
		if field < 0 || bound[field] {
			return false
		}
		m.fields[col] = field
		bound[field] = true
		m.mapped++
		return true
	}

	for col, h := range headers {
		m.fields[col] = -1
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if field, ok := aliases[h]; ok && bind(col, field) {
			continue
		}
		if field, ok := exactFieldIndex(schema, h); ok && bind(col, field) {
			continue
		}
		if field, ok := schema.FieldIndex(h); ok {
			bind(col, field)
		}
	}
	return m
}

func exactFieldIndex(schema *Schema, name string) (int, bool) {
	for i, f := range schema.Fields() {
		if f.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Schema returns the schema this map resolves against.
func (m *ColumnMap) Schema() *Schema { return m.schema }

// MappedColumns returns how many input columns resolved to a field.
func (m *ColumnMap) MappedColumns() int { return m.mapped }

// FieldFor returns the schema field index bound to input column col,
// or -1 if the column is unmapped.
func (m *ColumnMap) FieldFor(col int) int {
	if col < 0 || col >= len(m.fields) {
		return -1
	}
	return m.fields[col]
}

// Project maps one raw row onto a Record. Pure function of (row, map):
// no side effects, safe to call from any worker.
//
// Cells that are empty or fail coercion leave the field absent; coercion
// failures are reported in softErrors so one bad cell never aborts the
// row. Rows shorter or longer than the header are tolerated.
func (m *ColumnMap) Project(row [][]byte) (rec *Record, softErrors int) {
	rec = NewRecord(m.schema)
	n := len(row)
	if n > len(m.fields) {
		n = len(m.fields)
	}
	for col := 0; col < n; col++ {
		field := m.fields[col]
		if field < 0 || len(row[col]) == 0 {
			continue
		}
		v, ok, soft := Coerce(string(row[col]), m.schema.Field(field).Kind)
		if soft {
			softErrors++
		}
		if ok {
			rec.Set(field, v)
		}
	}
	return rec, softErrors
}

// Render serializes a record into external column strings in schema
// field order. Absent fields render as empty strings. Render is the
// inverse of projecting a row whose header equals the field names.
func Render(rec *Record) []string {
	schema := rec.Schema()
	out := make([]string, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		if v, ok := rec.Get(i); ok {
			out[i] = v.Format()
		}
	}
	return out
}
