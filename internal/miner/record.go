// Package miner streams a Stack Overflow style XML dump one line at a time and
// hands every <row .../> record to a Handler.
//
// The dump is never parsed as a document. Each physical line is checked for the
// "<row" marker and, if present, its first start element is scanned for
// attributes. Bad lines are logged and skipped; only I/O failures end a scan.
package miner

import (
	"strconv"
	"strings"

	"github.com/so-miner/backend/internal/snippet"
)

// Field names used by the named getters.
const (
	FieldID               = "Id"
	FieldParentID         = "ParentId"
	FieldPostTypeID       = "PostTypeId"
	FieldAcceptedAnswerID = "AcceptedAnswerId"
	FieldScore            = "Score"
	FieldTitle            = "Title"
	FieldBody             = "Body"
	FieldTags             = "Tags"
	FieldCreationDate     = "CreationDate"
)

// Attr is one attribute of a record line, value already entity-decoded.
type Attr struct {
	Name  string
	Value string
}

// Record is the read-only field view of one dump line.
//
// A Record is only valid for the duration of the Handler call that received
// it. Handlers must copy out what they need instead of keeping the Record.
type Record struct {
	attrs []Attr
}

// Len returns the number of attributes.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.attrs)
}

// Attrs returns a copy of the attributes in line order.
func (r *Record) Attrs() []Attr {
	if r == nil {
		return nil
	}
	out := make([]Attr, len(r.attrs))
	copy(out, r.attrs)
	return out
}

// Lookup returns the value of the named attribute and whether it was present.
// Names match case-insensitively; the first match in line order wins.
func (r *Record) Lookup(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	for i := range r.attrs {
		if strings.EqualFold(r.attrs[i].Name, name) {
			return r.attrs[i].Value, true
		}
	}
	return "", false
}

// String returns the named value, or "" when absent or all whitespace.
func (r *Record) String(name string) string {
	v, ok := r.Lookup(name)
	if !ok || strings.TrimSpace(v) == "" {
		return ""
	}
	return v
}

// Int returns the named value as a 32-bit integer, or 0 when absent, not a
// number or out of int32 range. Absent and zero are indistinguishable here;
// use Lookup when that matters.
func (r *Record) Int(name string) int {
	v, ok := r.Lookup(name)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0
	}
	return int(n)
}

func (r *Record) ID() int               { return r.Int(FieldID) }
func (r *Record) ParentID() int         { return r.Int(FieldParentID) }
func (r *Record) PostTypeID() int       { return r.Int(FieldPostTypeID) }
func (r *Record) AcceptedAnswerID() int { return r.Int(FieldAcceptedAnswerID) }
func (r *Record) Score() int            { return r.Int(FieldScore) }
func (r *Record) Title() string         { return r.String(FieldTitle) }
func (r *Record) Body() string          { return r.String(FieldBody) }
func (r *Record) Tags() string          { return r.String(FieldTags) }
func (r *Record) CreationDate() string  { return r.String(FieldCreationDate) }

// CodeSnippets returns the distinct code fragments embedded in the body.
func (r *Record) CodeSnippets() map[string]struct{} {
	return snippet.Extract(r.Body())
}
