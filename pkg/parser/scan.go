package parser

import "bytes"

// scanState tracks position within one CSV line.
type scanState uint8

const (
	stateFieldStart scanState = iota
	stateInField
	stateInQuoted
	stateQuoteInQuoted
)

// Scanner splits CSV lines into fields with a small state machine.
// It handles embedded delimiters, escaped quotes ("") and mixed line
// endings without falling back to strings.Split. Field slices point
// into the input line; callers must copy anything they retain.
//
// A Scanner carries per-line scratch state and is not safe for
// concurrent use; each parsing goroutine owns its own.
type Scanner struct {
	delimiter byte
	unescape  []byte
}

// NewScanner creates a scanner for the given delimiter.
func NewScanner(delimiter byte) *Scanner {
	return &Scanner{delimiter: delimiter}
}

// ScanLine splits one line into fields. Empty fields come back nil.
// An unterminated quote is tolerated: the field runs to end of line.
func (s *Scanner) ScanLine(line []byte) [][]byte {
	if len(line) == 0 {
		return nil
	}

	fields := make([][]byte, 0, 16)
	s.unescape = s.unescape[:0]
	state := stateFieldStart
	start, end := 0, 0
	escaped := false

	for i := 0; i <= len(line); i++ {
		var c byte
		atEnd := i >= len(line)
		if !atEnd {
			c = line[i]
		}

		switch state {
		case stateFieldStart:
			switch {
			case atEnd, c == s.delimiter, c == '\r', c == '\n':
				fields = append(fields, nil)
			case c == '"':
				start = i + 1
				state = stateInQuoted
			default:
				start = i
				state = stateInField
			}

		case stateInField:
			if atEnd || c == s.delimiter || c == '\r' || c == '\n' {
				fields = append(fields, line[start:i])
				state = stateFieldStart
			}

		case stateInQuoted:
			if atEnd {
				// Unterminated quote: take what we have.
				fields = append(fields, line[start:i])
			} else if c == '"' {
				end = i
				state = stateQuoteInQuoted
			}

		case stateQuoteInQuoted:
			switch {
			case atEnd, c == s.delimiter, c == '\r', c == '\n':
				field := line[start:end]
				if escaped {
					field = s.unescapeQuotes(field)
					escaped = false
				}
				fields = append(fields, field)
				state = stateFieldStart
			case c == '"':
				escaped = true
				state = stateInQuoted
			default:
				// Stray character after a closing quote; be lenient.
				state = stateInQuoted
			}
		}
	}

	return fields
}

// unescapeQuotes collapses "" to " in the scanner's scratch buffer,
// which is reset once per line so fields from the same line never
// overwrite each other.
func (s *Scanner) unescapeQuotes(field []byte) []byte {
	off := len(s.unescape)
	for i := 0; i < len(field); i++ {
		s.unescape = append(s.unescape, field[i])
		if field[i] == '"' && i+1 < len(field) && field[i+1] == '"' {
			i++
		}
	}
	return s.unescape[off:]
}

// trimLineEnding strips a trailing \n and \r\n.
func trimLineEnding(line []byte) []byte {
	for len(line) > 0 {
		last := line[len(line)-1]
		if last != '\n' && last != '\r' {
			break
		}
		line = line[:len(line)-1]
	}
	return line
}

// utf8BOM is the byte order mark some spreadsheet exports prepend.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// stripBOM removes a leading UTF-8 byte order mark.
func stripBOM(line []byte) []byte {
	return bytes.TrimPrefix(line, utf8BOM)
}
