package record

import (
	"testing"
	"time"
)

func userSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema([]FieldDescriptor{
		{Name: "Username", Aliases: []string{"username"}, Kind: KindString},
		{Name: "Name", Aliases: []string{"name"}, Kind: KindString},
		{Name: "Email", Aliases: []string{"email"}, Kind: KindString},
		{Name: "Age", Aliases: []string{"age"}, Kind: KindInt},
		{Name: "Score", Kind: KindFloat},
		{Name: "Active", Kind: KindBool},
		{Name: "Created", Aliases: []string{"createTime"}, Kind: KindTime},
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func TestResolve_Precedence(t *testing.T) {
	schema := userSchema(t)

	tests := []struct {
		name    string
		headers []string
		col     int
		field   string
	}{
		{"alias match", []string{"username"}, 0, "Username"},
		{"exact field name", []string{"Score"}, 0, "Score"},
		{"case-insensitive field name", []string{"SCORE"}, 0, "Score"},
		{"alias beats position", []string{"junk", "createTime"}, 1, "Created"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Resolve(schema, tt.headers)
			fi := m.FieldFor(tt.col)
			if fi < 0 {
				t.Fatalf("column %d unmapped, want field %s", tt.col, tt.field)
			}
			if got := schema.Field(fi).Name; got != tt.field {
				t.Errorf("column %d mapped to %s, want %s", tt.col, got, tt.field)
			}
		})
	}
}

func TestResolve_UnknownColumnsIgnored(t *testing.T) {
	schema := userSchema(t)
	m := Resolve(schema, []string{"username", "no_such_column", "email"})

	if m.FieldFor(1) != -1 {
		t.Errorf("unknown column should be unmapped, got field %d", m.FieldFor(1))
	}
	if m.MappedColumns() != 2 {
		t.Errorf("MappedColumns = %d, want 2", m.MappedColumns())
	}
}

func TestResolve_ReorderedAndMissingColumns(t *testing.T) {
	schema := userSchema(t)
	// Email first, username last, several fields missing entirely.
	m := Resolve(schema, []string{"email", "age", "username"})

	rec, soft := m.Project([][]byte{[]byte("a@b.c"), []byte("41"), []byte("bob")})
	if soft != 0 {
		t.Fatalf("softErrors = %d, want 0", soft)
	}
	if v, ok := rec.GetByName("Username"); !ok || v.Str() != "bob" {
		t.Errorf("Username = %v (present=%v), want bob", v.Str(), ok)
	}
	if v, ok := rec.GetByName("Age"); !ok || v.Int64() != 41 {
		t.Errorf("Age = %v (present=%v), want 41", v.Int64(), ok)
	}
	if _, ok := rec.GetByName("Name"); ok {
		t.Error("Name should be absent for a missing column")
	}
}

func TestProject_BadCellIsSoftError(t *testing.T) {
	schema := userSchema(t)
	m := Resolve(schema, []string{"username", "age"})

	rec, soft := m.Project([][]byte{[]byte("alice"), []byte("not-a-number")})
	if soft != 1 {
		t.Errorf("softErrors = %d, want 1", soft)
	}
	if _, ok := rec.GetByName("Age"); ok {
		t.Error("unparseable cell must leave the field absent, not defaulted")
	}
	if v, ok := rec.GetByName("Username"); !ok || v.Str() != "alice" {
		t.Error("other fields of the row must still be set")
	}
}

func TestProject_EmptyCellIsAbsentNotError(t *testing.T) {
	schema := userSchema(t)
	m := Resolve(schema, []string{"age"})

	rec, soft := m.Project([][]byte{[]byte("")})
	if soft != 0 {
		t.Errorf("empty cell counted as soft error: %d", soft)
	}
	if rec.NumSet() != 0 {
		t.Errorf("NumSet = %d, want 0", rec.NumSet())
	}
}

func TestProject_ShortAndLongRows(t *testing.T) {
	schema := userSchema(t)
	m := Resolve(schema, []string{"username", "name", "email"})

	short, _ := m.Project([][]byte{[]byte("u")})
	if short.NumSet() != 1 {
		t.Errorf("short row NumSet = %d, want 1", short.NumSet())
	}

	long, _ := m.Project([][]byte{[]byte("u"), []byte("n"), []byte("e"), []byte("extra")})
	if long.NumSet() != 3 {
		t.Errorf("long row NumSet = %d, want 3", long.NumSet())
	}
}

func TestRender_RoundTrip(t *testing.T) {
	schema := userSchema(t)

	rec := NewRecord(schema)
	rec.Set(0, String("alice"))
	rec.Set(3, Int(29))
	rec.Set(4, Float(7.25))
	rec.Set(5, Bool(true))
	rec.Set(6, Time(time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)))

	// Project the rendered row through a header equal to the field names.
	m := Resolve(schema, schema.FieldNames())
	cells := Render(rec)
	row := make([][]byte, len(cells))
	for i, c := range cells {
		row[i] = []byte(c)
	}

	back, soft := m.Project(row)
	if soft != 0 {
		t.Fatalf("round trip produced %d soft errors", soft)
	}
	if !rec.Equal(back) {
		t.Errorf("round trip record differs:\n  rendered: %v\n  back:     %v", cells, Render(back))
	}
}

func TestFromStruct(t *testing.T) {
	type User struct {
		ID       int64     `col:"ID"`
		Username string    `col:"username"`
		Age      int       `col:"age"`
		Score    float64   // no tag: matched by field name
		Active   bool      `col:"-"`
		Created  time.Time `col:"createTime"`
		hidden   string
	}
	_ = User{}.hidden

	schema, err := FromStruct(User{})
	if err != nil {
		t.Fatalf("FromStruct: %v", err)
	}

	want := []struct {
		name string
		kind Kind
	}{
		{"ID", KindInt},
		{"Username", KindString},
		{"Age", KindInt},
		{"Score", KindFloat},
		{"Created", KindTime},
	}
	if schema.NumFields() != len(want) {
		t.Fatalf("NumFields = %d, want %d (fields: %v)", schema.NumFields(), len(want), schema.FieldNames())
	}
	for i, w := range want {
		f := schema.Field(i)
		if f.Name != w.name || f.Kind != w.kind {
			t.Errorf("field %d = {%s %v}, want {%s %v}", i, f.Name, f.Kind, w.name, w.kind)
		}
	}
}

func TestFromStruct_RejectsNonStruct(t *testing.T) {
	if _, err := FromStruct(42); err == nil {
		t.Error("expected error for non-struct type")
	}
}
