package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SampleDump is a small posts dump. Line 5 holds a malformed record, so a
// scan sees 7 lines, 4 candidates, 3 dispatched records and 1 line error.
const SampleDump = `<?xml version="1.0" encoding="utf-8"?>
<posts>
  <row Id="1" PostTypeId="1" Score="5" Title="Reading files" Body="&lt;code&gt;os.Open&lt;/code&gt;" Tags="&lt;go&gt;" />
  <row Id="2" PostTypeId="2" ParentId="1" Score="2" Body="&lt;code&gt;os.ReadFile&lt;/code&gt;" />
  <row Id="3" PostTypeId="1" Score="0" Title="Broken" Body="unterminated />
  <row Id="4" PostTypeId="1" Score="9" Title="Sorting slices" Body="&lt;code&gt;slices.Sort&lt;/code&gt;" Tags="&lt;go&gt;&lt;slices&gt;" />
</posts>
`

// WriteDump writes content to Posts.xml in a fresh temp directory.
func WriteDump(t testing.TB, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Posts.xml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write dump: %v", err)
	}
	return path
}
