package filter

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/so-miner/backend/internal/miner"
	"github.com/so-miner/backend/internal/models"
)

func parse(t *testing.T, line string) *miner.Record {
	t.Helper()
	rec, err := miner.Parse(line)
	require.NoError(t, err)
	return rec
}

const question = `<row Id="10" PostTypeId="1" Score="7" Title="How do I parse XML in Go?" Tags="&lt;go&gt;&lt;xml&gt;" />`
const answer = `<row Id="11" PostTypeId="2" ParentId="10" Score="-2" Body="Use encoding/xml" />`

func TestFromReader(t *testing.T) {
	yml := `
match: all
limit: 5
rules:
  - field: PostTypeId
    op: "=="
    value: 1
  - field: Tags
    op: glob
    value: "*<go>*"
  - field: Score
    op: ">="
    value: 5
`
	f, err := FromReader(strings.NewReader(yml))
	require.NoError(t, err)
	assert.Equal(t, 5, f.Limit())
	assert.True(t, f.Match(parse(t, question)))
	assert.False(t, f.Match(parse(t, answer)))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - field: Title\n    op: present\n"), 0644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.True(t, f.Match(parse(t, question)))
	assert.False(t, f.Match(parse(t, answer)))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMatch_Ops(t *testing.T) {
	q := parse(t, question)
	a := parse(t, answer)

	tests := []struct {
		name  string
		rule  models.FilterRule
		wantQ bool
		wantA bool
	}{
		{"int equals", models.FilterRule{Field: "PostTypeId", Op: "==", Value: 2}, false, true},
		{"string equals", models.FilterRule{Field: "Title", Op: "==", Value: "How do I parse XML in Go?"}, true, false},
		{"not equals", models.FilterRule{Field: "ParentId", Op: "!=", Value: 10}, true, false},
		{"greater", models.FilterRule{Field: "Score", Op: ">", Value: 0}, true, false},
		{"less or equal", models.FilterRule{Field: "Score", Op: "<=", Value: -2}, false, true},
		{"less", models.FilterRule{Field: "Id", Op: "<", Value: 11}, true, false},
		{"contains", models.FilterRule{Field: "Body", Op: "contains", Value: "encoding/xml"}, false, true},
		{"glob", models.FilterRule{Field: "Title", Op: "glob", Value: "How*Go?"}, true, false},
		{"absent", models.FilterRule{Field: "ParentId", Op: "absent"}, true, false},
		{"yaml float value", models.FilterRule{Field: "Score", Op: ">=", Value: 7.0}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(&models.FilterRules{Rules: []models.FilterRule{tt.rule}})
			require.NoError(t, err)
			assert.Equal(t, tt.wantQ, f.Match(q))
			assert.Equal(t, tt.wantA, f.Match(a))
		})
	}
}

func TestMatch_Any(t *testing.T) {
	f, err := Compile(&models.FilterRules{
		Match: "any",
		Rules: []models.FilterRule{
			{Field: "Score", Op: ">", Value: 100},
			{Field: "ParentId", Op: "present"},
		},
	})
	require.NoError(t, err)
	assert.False(t, f.Match(parse(t, question)))
	assert.True(t, f.Match(parse(t, answer)))
}

func TestMatch_EmptyRules(t *testing.T) {
	f, err := Compile(&models.FilterRules{})
	require.NoError(t, err)
	assert.True(t, f.Match(parse(t, answer)))
}

func TestCompile_Errors(t *testing.T) {
	tests := map[string]models.FilterRules{
		"bad match":        {Match: "some"},
		"negative limit":   {Limit: -1},
		"missing field":    {Rules: []models.FilterRule{{Op: "present"}}},
		"unknown op":       {Rules: []models.FilterRule{{Field: "Id", Op: "~"}}},
		"non numeric cmp":  {Rules: []models.FilterRule{{Field: "Id", Op: ">", Value: "x"}}},
		"fractional value": {Rules: []models.FilterRule{{Field: "Id", Op: ">", Value: 1.5}}},
		"equals no value":  {Rules: []models.FilterRule{{Field: "Id", Op: "=="}}},
		"bad glob":         {Rules: []models.FilterRule{{Field: "Title", Op: "glob", Value: "[a"}}},
		"unsupported type": {Rules: []models.FilterRule{{Field: "Id", Op: "==", Value: []int{1}}}},
	}
	for name, rules := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(&rules)
			assert.Error(t, err)
		})
	}
}

func TestWrap(t *testing.T) {
	f, err := Compile(&models.FilterRules{Rules: []models.FilterRule{{Field: "PostTypeId", Op: "==", Value: 1}}})
	require.NoError(t, err)

	var got []int
	h := f.Wrap(miner.HandlerFunc(func(ctx context.Context, rec *miner.Record, line string) error {
		got = append(got, rec.ID())
		return nil
	}))

	require.NoError(t, h.ProcessRecord(context.Background(), parse(t, question), question))
	require.NoError(t, h.ProcessRecord(context.Background(), parse(t, answer), answer))
	assert.Equal(t, []int{10}, got)
}

func TestWrap_LimitStopsScan(t *testing.T) {
	f, err := FromReader(strings.NewReader("limit: 2\nrules:\n  - field: PostTypeId\n    op: \"==\"\n    value: 1\n"))
	require.NoError(t, err)

	dump := strings.Join([]string{
		`<row Id="1" PostTypeId="1" />`,
		`<row Id="2" PostTypeId="2" />`,
		`<row Id="3" PostTypeId="1" />`,
		`<row Id="4" PostTypeId="1" />`,
		`<row Id="5" PostTypeId="1" />`,
	}, "\n")

	var got []int
	flag := miner.NewStopFlag()
	m := miner.New(f.Wrap(miner.HandlerFunc(func(ctx context.Context, rec *miner.Record, line string) error {
		got = append(got, rec.ID())
		return nil
	})), miner.WithStopFlag(flag), miner.WithLogger(log.New(io.Discard, "", 0)))

	s, err := m.MineReader(context.Background(), strings.NewReader(dump), 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, got)
	assert.True(t, flag.Stopped())
	assert.Equal(t, models.SessionStatusStopped, s.Status)
	assert.Equal(t, 3, s.Lines)
}
