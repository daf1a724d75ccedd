package snippet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		got := Extract("")
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("no code", func(t *testing.T) {
		assert.Empty(t, Extract("<p>just prose</p>"))
	})

	t.Run("single pre block", func(t *testing.T) {
		got := Extract("<p>try</p><pre><code>int x = 1;\n</code></pre>")
		assert.Equal(t, map[string]struct{}{"int x = 1;": {}}, got)
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		got := Extract("<code>foo()</code> and again <code>foo()</code> and <code>bar()</code>")
		assert.Len(t, got, 2)
		assert.Contains(t, got, "foo()")
		assert.Contains(t, got, "bar()")
	})

	t.Run("entities decoded", func(t *testing.T) {
		got := Extract("<pre><code>if (a &lt; b &amp;&amp; c) {}</code></pre>")
		assert.Contains(t, got, "if (a < b && c) {}")
	})

	t.Run("upper case tags and attributes", func(t *testing.T) {
		got := Extract(`<PRE><CODE class="lang-go">fmt.Println()</CODE></PRE>`)
		assert.Contains(t, got, "fmt.Println()")
	})

	t.Run("blank snippets dropped", func(t *testing.T) {
		assert.Empty(t, Extract("<code>   </code>"))
	})

	t.Run("unterminated code ignored", func(t *testing.T) {
		got := Extract("<code>ok</code><code>never closed")
		assert.Equal(t, map[string]struct{}{"ok": {}}, got)
	})

	t.Run("similar tag names are not code", func(t *testing.T) {
		assert.Empty(t, Extract("<codex>nope</codex>"))
	})
}

func TestSorted(t *testing.T) {
	assert.Nil(t, Sorted(nil))
	assert.Equal(t, []string{"a", "b", "c"}, Sorted(map[string]struct{}{"c": {}, "a": {}, "b": {}}))
}

func TestSeen(t *testing.T) {
	s := NewSeen()
	assert.True(t, s.Add("x := 1"))
	assert.False(t, s.Add("x := 1"))
	assert.True(t, s.Add("y := 2"))
	assert.Equal(t, 2, s.Len())
}
