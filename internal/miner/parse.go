package miner

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RecordMarker is the case-sensitive prefix a trimmed line must start with to
// be considered a record candidate.
const RecordMarker = "<row"

// recordElement is the element name that makes a start tag a record.
// Unlike the marker, it is compared case-insensitively.
const recordElement = "row"

// ErrNotRecord reports that a line holds no record element.
var ErrNotRecord = errors.New("line is not a record")

// errFallback tells Parse to let encoding/xml decide about the line.
var errFallback = errors.New("fast path declined")

// ParseError describes a candidate line that could not be parsed.
type ParseError struct {
	Offset int
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed record at offset %d: %s: %v", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed record at offset %d: %s", e.Offset, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsCandidate applies the cheap textual pre-filter.
func IsCandidate(line string) bool {
	return isCandidate(line)
}

// isCandidate reports whether line starts with RecordMarker after leading
// whitespace. The scan loop calls it on raw bytes without a copy.
func isCandidate[T string | []byte](line T) bool {
	i := 0
	for i < len(line) && isLeadingSpace(line[i]) {
		i++
	}
	return len(line)-i >= len(RecordMarker) && string(line[i:i+len(RecordMarker)]) == RecordMarker
}

func isLeadingSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == '\v'
}

// Parse turns one line into a Record.
//
// It returns ErrNotRecord when the first start element of the line is not a
// row, and a *ParseError when the line is malformed. Parse is stateless and
// safe for concurrent use.
func Parse(line string) (*Record, error) {
	rec, err := fastParse(line)
	if errors.Is(err, errFallback) {
		return xmlParse(line)
	}
	return rec, err
}

// fastParse scans the attributes of the first start element in a single pass.
// Values without entity references are sliced straight out of line.
func fastParse(line string) (*Record, error) {
	n := len(line)

	// Locate the first start tag, skipping comments, declarations and end tags.
	i := 0
	for {
		lt := strings.IndexByte(line[i:], '<')
		if lt < 0 {
			return nil, ErrNotRecord
		}
		i += lt + 1
		if i < n && isNameStart(line[i]) {
			break
		}
		if i < n && (line[i] == '!' || line[i] == '?' || line[i] == '/') {
			return nil, errFallback
		}
		return nil, &ParseError{Offset: i - 1, Reason: "invalid character after '<'"}
	}

	nameStart := i
	for i < n && isNameChar(line[i]) {
		i++
	}
	name := line[nameStart:i]
	if colon := strings.LastIndexByte(name, ':'); colon >= 0 {
		name = name[colon+1:]
	}
	if !strings.EqualFold(name, recordElement) {
		return nil, ErrNotRecord
	}

	rec := &Record{attrs: make([]Attr, 0, 16)}
	for {
		ws := i
		for i < n && isSpace(line[i]) {
			i++
		}
		if i >= n {
			return nil, &ParseError{Offset: i, Reason: "unterminated start tag"}
		}
		switch line[i] {
		case '>':
			return rec, nil
		case '/':
			if i+1 < n && line[i+1] == '>' {
				return rec, nil
			}
			return nil, &ParseError{Offset: i, Reason: "expected '>' after '/'"}
		}
		if i == ws && len(rec.attrs) > 0 {
			return nil, &ParseError{Offset: i, Reason: "missing whitespace between attributes"}
		}

		attrStart := i
		for i < n && isNameChar(line[i]) {
			i++
		}
		if i == attrStart {
			return nil, &ParseError{Offset: i, Reason: "invalid attribute name"}
		}
		attrName := line[attrStart:i]

		for i < n && isSpace(line[i]) {
			i++
		}
		if i >= n || line[i] != '=' {
			return nil, &ParseError{Offset: i, Reason: fmt.Sprintf("attribute %q: expected '='", attrName)}
		}
		i++
		for i < n && isSpace(line[i]) {
			i++
		}
		if i >= n || (line[i] != '"' && line[i] != '\'') {
			return nil, &ParseError{Offset: i, Reason: fmt.Sprintf("attribute %q: unquoted value", attrName)}
		}
		quote := line[i]
		i++
		end := strings.IndexByte(line[i:], quote)
		if end < 0 {
			return nil, &ParseError{Offset: i, Reason: fmt.Sprintf("attribute %q: unterminated value", attrName)}
		}
		raw := line[i : i+end]
		if strings.IndexByte(raw, '<') >= 0 {
			return nil, &ParseError{Offset: i, Reason: fmt.Sprintf("attribute %q: '<' in value", attrName)}
		}
		value := raw
		if strings.IndexByte(raw, '&') >= 0 {
			decoded, ok := decodeEntities(raw)
			if !ok {
				return nil, errFallback
			}
			value = decoded
		}
		i += end + 1

		for _, a := range rec.attrs {
			if a.Name == attrName {
				return nil, &ParseError{Offset: attrStart, Reason: fmt.Sprintf("attribute %q: duplicate", attrName)}
			}
		}
		rec.attrs = append(rec.attrs, Attr{Name: attrName, Value: value})
	}
}

// xmlParse reads the first start element with encoding/xml in strict mode.
// Only the tokens up to and including that element are decoded.
func xmlParse(line string) (*Record, error) {
	dec := xml.NewDecoder(strings.NewReader(line))
	dec.Strict = true

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			return nil, ErrNotRecord
		}
		if err != nil {
			return nil, &ParseError{Offset: int(dec.InputOffset()), Reason: "xml syntax", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !strings.EqualFold(t.Name.Local, recordElement) {
				return nil, ErrNotRecord
			}
			rec := &Record{attrs: make([]Attr, 0, len(t.Attr))}
			for _, a := range t.Attr {
				name := a.Name.Local
				if a.Name.Space != "" {
					name = a.Name.Space + ":" + name
				}
				rec.attrs = append(rec.attrs, Attr{Name: name, Value: a.Value})
			}
			return rec, nil
		case xml.EndElement:
			return nil, ErrNotRecord
		}
	}
}

// decodeEntities resolves the predefined XML entities and character
// references. It reports false for anything else.
func decodeEntities(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))

	for {
		amp := strings.IndexByte(s, '&')
		if amp < 0 {
			b.WriteString(s)
			return b.String(), true
		}
		b.WriteString(s[:amp])
		s = s[amp+1:]

		semi := strings.IndexByte(s, ';')
		if semi <= 0 {
			return "", false
		}
		ent := s[:semi]
		s = s[semi+1:]

		switch ent {
		case "lt":
			b.WriteByte('<')
		case "gt":
			b.WriteByte('>')
		case "amp":
			b.WriteByte('&')
		case "quot":
			b.WriteByte('"')
		case "apos":
			b.WriteByte('\'')
		default:
			r, ok := charRef(ent)
			if !ok {
				return "", false
			}
			b.WriteRune(r)
		}
	}
}

// charRef decodes "#65" or "#x41" style references.
func charRef(ent string) (rune, bool) {
	if len(ent) < 2 || ent[0] != '#' {
		return 0, false
	}
	var (
		n   uint64
		err error
	)
	if ent[1] == 'x' {
		if len(ent) < 3 {
			return 0, false
		}
		n, err = strconv.ParseUint(ent[2:], 16, 32)
	} else {
		n, err = strconv.ParseUint(ent[1:], 10, 32)
	}
	if err != nil || !isXMLChar(rune(n)) {
		return 0, false
	}
	return rune(n), true
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == ':' || c >= 0x80
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9') || c == '-' || c == '.'
}
