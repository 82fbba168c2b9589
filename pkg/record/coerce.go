package record

import (
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the canonical timestamp rendering on export.
const TimeLayout = "2006-01-02T15:04:05"

// timeLayouts are the accepted input formats, most common first.
var timeLayouts = []string{
	TimeLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"20060102",
}

// Coerce parses an external cell into a typed value. The input is
// trimmed first; empty input reports ok=false with no error so the
// field stays absent rather than defaulting to zero. A non-empty input
// that fails to parse reports ok=false and soft=true: the caller counts
// it as a soft error and continues with the row.
func Coerce(raw string, kind Kind) (v Value, ok bool, soft bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Value{}, false, false
	}

	switch kind {
	case KindString:
		return String(raw), true, false

	case KindInt:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, false, true
		}
		return Int(i), true, false

	case KindFloat:
		// Locale-independent: decimal point only.
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, false, true
		}
		return Float(f), true, false

	case KindBool:
		b, ok := parseBool(raw)
		if !ok {
			return Value{}, false, true
		}
		return Bool(b), true, false

	case KindTime:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return Time(t), true, false
			}
		}
		return Value{}, false, true

	default:
		return Value{}, false, true
	}
}

// parseBool accepts the spellings commonly found in spreadsheet exports.
func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}
