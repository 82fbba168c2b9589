// Package validate decides whether a parsed record is well-formed
// enough to keep. Rejected records are counted by the caller, never
// turned into errors that abort a batch.
package validate

import "github.com/tabflow/tabflow/pkg/record"

// Validator is a per-record acceptance policy. Implementations must be
// pure functions of the record's contents: validating the same record
// twice yields the same answer, and validation never mutates the record.
type Validator interface {
	IsAcceptable(rec *record.Record) bool
}

// IdentityFields accepts a record when at least one of the first N
// declared fields carries a value. This is the default policy: a row
// whose identity columns are all empty is noise from the source file
// (trailing separators, padding rows) rather than data.
type IdentityFields struct {
	// N is how many leading fields count as identity fields.
	// Zero or negative means 1.
	N int
}

// IsAcceptable implements Validator.
func (p IdentityFields) IsAcceptable(rec *record.Record) bool {
	n := p.N
	if n <= 0 {
		n = 1
	}
	if max := rec.Schema().NumFields(); n > max {
		n = max
	}
	for i := 0; i < n; i++ {
		if rec.Present(i) {
			return true
		}
	}
	return false
}

// AcceptAll accepts every record. Useful for trusted sources and tests.
type AcceptAll struct{}

// IsAcceptable implements Validator.
func (AcceptAll) IsAcceptable(*record.Record) bool { return true }

// Func adapts a plain function to the Validator interface.
type Func func(rec *record.Record) bool

// IsAcceptable implements Validator.
func (f Func) IsAcceptable(rec *record.Record) bool { return f(rec) }
