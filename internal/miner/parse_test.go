package miner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCandidate(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{`<row Id="1" />`, true},
		{`   <row Id="1" />`, true},
		{"\t<row Id=\"1\" />", true},
		{`<rowset>`, true},
		{"\f\v<row/>", true},
		{`<ro`, false},
		{`<ROW Id="1" />`, false},
		{`<Row Id="1" />`, false},
		{`<?xml version="1.0" encoding="utf-8"?>`, false},
		{`<posts>`, false},
		{`not a record at all`, false},
		{``, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsCandidate(tt.line), "line %q", tt.line)
		assert.Equal(t, tt.want, isCandidate([]byte(tt.line)), "bytes %q", tt.line)
	}
}

func TestParse(t *testing.T) {
	t.Run("entity escaped body", func(t *testing.T) {
		rec, err := Parse(`<row Id="5" Title="Foo" Body="&lt;p&gt;x&lt;/p&gt;" />`)
		require.NoError(t, err)
		assert.Equal(t, 5, rec.ID())
		assert.Equal(t, "Foo", rec.Title())
		assert.Equal(t, "<p>x</p>", rec.Body())
	})

	t.Run("non numeric id", func(t *testing.T) {
		rec, err := Parse(`<row Id="abc" Title="Bar" />`)
		require.NoError(t, err)
		assert.Equal(t, 0, rec.ID())
		assert.Equal(t, "Bar", rec.Title())
	})

	t.Run("attributes in any order", func(t *testing.T) {
		rec, err := Parse(`  <row CreationDate="2008-07-31T21:42:52.667" ParentId="4" Id="7" PostTypeId="2" Score="12" />`)
		require.NoError(t, err)
		assert.Equal(t, 7, rec.ID())
		assert.Equal(t, 4, rec.ParentID())
		assert.Equal(t, 2, rec.PostTypeID())
		assert.Equal(t, 12, rec.Score())
		assert.Equal(t, "2008-07-31T21:42:52.667", rec.CreationDate())
		assert.Equal(t, 5, rec.Len())
	})

	t.Run("all predefined entities and char refs", func(t *testing.T) {
		rec, err := Parse(`<row Body="a &amp; b &quot;c&quot; &apos;d&apos; &#65;&#x42;&#xA;" />`)
		require.NoError(t, err)
		assert.Equal(t, "a & b \"c\" 'd' AB\n", rec.Body())
	})

	t.Run("single quoted values", func(t *testing.T) {
		rec, err := Parse(`<row Id='9' Title='it "works"' />`)
		require.NoError(t, err)
		assert.Equal(t, 9, rec.ID())
		assert.Equal(t, `it "works"`, rec.Title())
	})

	t.Run("open tag without self close", func(t *testing.T) {
		rec, err := Parse(`<row Id="3">`)
		require.NoError(t, err)
		assert.Equal(t, 3, rec.ID())
	})

	t.Run("only the first element counts", func(t *testing.T) {
		rec, err := Parse(`<row Id="1" /><row Id="2" />`)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.ID())
	})

	t.Run("element name is case insensitive", func(t *testing.T) {
		rec, err := Parse(`<ROW Id="11" />`)
		require.NoError(t, err)
		assert.Equal(t, 11, rec.ID())
	})

	t.Run("namespaced element", func(t *testing.T) {
		rec, err := Parse(`<so:row Id="12" />`)
		require.NoError(t, err)
		assert.Equal(t, 12, rec.ID())
	})

	t.Run("empty row", func(t *testing.T) {
		rec, err := Parse(`<row/>`)
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Len())
	})

	t.Run("comment before row uses xml fallback", func(t *testing.T) {
		rec, err := Parse(`<!-- dump --><row Id="13" Title="x &amp; y" />`)
		require.NoError(t, err)
		assert.Equal(t, 13, rec.ID())
		assert.Equal(t, "x & y", rec.Title())
	})

	t.Run("idempotent", func(t *testing.T) {
		line := `<row Id="5" Title="Foo" Body="&lt;b&gt;" Tags="&lt;go&gt;" />`
		a, err := Parse(line)
		require.NoError(t, err)
		b, err := Parse(line)
		require.NoError(t, err)
		assert.Equal(t, a.Attrs(), b.Attrs())
	})
}

func TestParse_NotRecord(t *testing.T) {
	for _, line := range []string{
		`not a record at all`,
		`<rowset>`,
		`<posts>`,
		`</row>`,
		`<?xml version="1.0"?>`,
	} {
		_, err := Parse(line)
		assert.ErrorIs(t, err, ErrNotRecord, "line %q", line)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := map[string]string{
		"unterminated tag":    `<row Id="1"`,
		"unquoted value":      `<row Id=1 />`,
		"unterminated value":  `<row Id="1 />`,
		"missing equals":      `<row Id "1" />`,
		"lt in value":         `<row Body="<p>" />`,
		"duplicate attribute": `<row Id="1" Id="2" />`,
		"no space between":    `<row Id="1"Title="x" />`,
		"unknown entity":      `<row Body="&nbsp;" />`,
		"bare ampersand":      `<row Body="a & b" />`,
		"bad char ref":        `<row Body="&#xZZ;" />`,
		"slash without gt":    `<row Id="1" / >`,
		"garbage attribute":   `<row "Id"="1" />`,
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			rec, err := Parse(line)
			assert.Nil(t, rec)
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrNotRecord))
			var perr *ParseError
			assert.True(t, errors.As(err, &perr), "want *ParseError, got %T", err)
		})
	}
}

func TestDecodeEntities(t *testing.T) {
	got, ok := decodeEntities("&lt;code&gt;x&lt;/code&gt;")
	assert.True(t, ok)
	assert.Equal(t, "<code>x</code>", got)

	_, ok = decodeEntities("&copy;")
	assert.False(t, ok)

	_, ok = decodeEntities("&#0;")
	assert.False(t, ok)

	_, ok = decodeEntities("trailing &amp")
	assert.False(t, ok)
}
