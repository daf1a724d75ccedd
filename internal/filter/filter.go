// Package filter selects dump records with YAML-defined rules.
package filter

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/so-miner/backend/internal/miner"
	"github.com/so-miner/backend/internal/models"
)

// Filter is a compiled set of rules.
type Filter struct {
	any   bool
	limit int
	rules []rule
}

type rule struct {
	field string
	op    string
	str   string
	num   int
	isNum bool
	glob  glob.Glob
}

// Load parses a YAML rules file.
func Load(filePath string) (*Filter, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return FromReader(file)
}

// FromReader parses rules from an io.Reader.
func FromReader(r io.Reader) (*Filter, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var rules models.FilterRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse filter rules: %w", err)
	}
	return Compile(&rules)
}

// Compile validates rules and prepares them for matching.
func Compile(rules *models.FilterRules) (*Filter, error) {
	f := &Filter{limit: rules.Limit}

	switch strings.ToLower(rules.Match) {
	case "", "all":
	case "any":
		f.any = true
	default:
		return nil, fmt.Errorf("invalid match mode %q: want all or any", rules.Match)
	}
	if rules.Limit < 0 {
		return nil, fmt.Errorf("invalid limit %d", rules.Limit)
	}

	for i, r := range rules.Rules {
		c, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		f.rules = append(f.rules, c)
	}
	return f, nil
}

func compileRule(r models.FilterRule) (rule, error) {
	c := rule{field: r.Field, op: r.Op}
	if c.field == "" {
		return c, fmt.Errorf("field is required")
	}

	switch v := r.Value.(type) {
	case nil:
	case int:
		c.num, c.isNum = v, true
		c.str = fmt.Sprint(v)
	case float64:
		if v != math.Trunc(v) {
			return c, fmt.Errorf("value %v is not an integer", v)
		}
		c.num, c.isNum = int(v), true
		c.str = fmt.Sprint(c.num)
	case string:
		c.str = v
	case bool:
		c.str = fmt.Sprint(v)
	default:
		return c, fmt.Errorf("unsupported value type %T", v)
	}

	switch c.op {
	case "==", "!=":
		if r.Value == nil {
			return c, fmt.Errorf("op %s needs a value", c.op)
		}
	case ">", ">=", "<", "<=":
		if !c.isNum {
			return c, fmt.Errorf("op %s needs an integer value", c.op)
		}
	case "contains":
		if c.str == "" {
			return c, fmt.Errorf("op contains needs a value")
		}
	case "glob":
		g, err := glob.Compile(c.str)
		if err != nil {
			return c, fmt.Errorf("invalid glob %q: %w", c.str, err)
		}
		c.glob = g
	case "present", "absent":
	default:
		return c, fmt.Errorf("unknown op %q", c.op)
	}
	return c, nil
}

// Limit is the maximum number of records to accept, 0 for no limit.
func (f *Filter) Limit() int {
	return f.limit
}

// Match reports whether rec satisfies the rules. An empty rule set matches
// everything.
func (f *Filter) Match(rec *miner.Record) bool {
	if len(f.rules) == 0 {
		return true
	}
	for _, r := range f.rules {
		ok := r.match(rec)
		if f.any && ok {
			return true
		}
		if !f.any && !ok {
			return false
		}
	}
	return !f.any
}

func (r rule) match(rec *miner.Record) bool {
	switch r.op {
	case "present":
		_, ok := rec.Lookup(r.field)
		return ok
	case "absent":
		_, ok := rec.Lookup(r.field)
		return !ok
	case "==":
		if r.isNum {
			return rec.Int(r.field) == r.num
		}
		return rec.String(r.field) == r.str
	case "!=":
		if r.isNum {
			return rec.Int(r.field) != r.num
		}
		return rec.String(r.field) != r.str
	case ">":
		return rec.Int(r.field) > r.num
	case ">=":
		return rec.Int(r.field) >= r.num
	case "<":
		return rec.Int(r.field) < r.num
	case "<=":
		return rec.Int(r.field) <= r.num
	case "contains":
		return strings.Contains(rec.String(r.field), r.str)
	case "glob":
		return r.glob.Match(rec.String(r.field))
	}
	return false
}

// Wrap returns a Handler that forwards only matching records to h. Once
// Limit records have been forwarded it requests the scan to stop.
func (f *Filter) Wrap(h miner.Handler) miner.Handler {
	forwarded := 0
	return miner.HandlerFunc(func(ctx context.Context, rec *miner.Record, line string) error {
		if !f.Match(rec) {
			return nil
		}
		if f.limit > 0 && forwarded >= f.limit {
			return nil
		}
		forwarded++
		err := h.ProcessRecord(ctx, rec, line)
		if f.limit > 0 && forwarded == f.limit {
			miner.RequestStop(ctx)
		}
		return err
	})
}
