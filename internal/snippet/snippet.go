// Package snippet extracts code fragments embedded in post bodies.
//
// Post bodies in the dump are HTML (already entity-decoded once by the
// record parser). Code is wrapped in <code> elements, usually inside <pre>.
package snippet

import (
	"html"
	"slices"
	"strings"
)

// Extract returns the de-duplicated set of code snippets found in body.
// The result is never nil.
func Extract(body string) map[string]struct{} {
	set := make(map[string]struct{})
	if body == "" {
		return set
	}

	rest := body
	for {
		open := indexFold(rest, "<code")
		if open < 0 {
			break
		}
		// "<code" must be followed by '>' or whitespace, not "<codex>"
		after := open + len("<code")
		if after >= len(rest) {
			break
		}
		if c := rest[after]; c != '>' && c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			rest = rest[after:]
			continue
		}
		gt := strings.IndexByte(rest[after:], '>')
		if gt < 0 {
			break
		}
		start := after + gt + 1
		end := indexFold(rest[start:], "</code>")
		if end < 0 {
			break
		}

		if code := strings.TrimSpace(html.UnescapeString(rest[start : start+end])); code != "" {
			set[code] = struct{}{}
		}
		rest = rest[start+end+len("</code>"):]
	}
	return set
}

// Sorted returns the snippets of set in lexical order.
func Sorted(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// indexFold is strings.Index with ASCII case folding on needle.
// needle must be lower case.
func indexFold(s, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(s); i++ {
		if s[i] != '<' {
			continue
		}
		match := true
		for j := 1; j < n; j++ {
			c := s[i+j]
			if c >= 'A' && c <= 'Z' {
				c += 'a' - 'A'
			}
			if c != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
