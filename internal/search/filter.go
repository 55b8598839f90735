// Package search provides the exact-match item index the revision lookup
// queries. Meilisearch backs production; bleve backs local runs and tests.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

// DistributionField is the attribute scope clauses filter on.
const DistributionField = "distribution"

// Record is one indexed item.
type Record struct {
	ID           string
	Fields       map[string]string
	Distribution string
}

// Index is implemented by every search backend.
type Index interface {
	IndexItem(ctx context.Context, rec Record) error
	Search(ctx context.Context, filter string, selectFields []string, limit int) ([]models.SearchRow, error)
	Close() error
}

// Clause is one term of a filter expression: key="value" for a field match,
// key:"value" or -key:"value" for a scope clause.
type Clause struct {
	Field   string
	Value   string
	Scope   bool
	Exclude bool
}

// ParseFilter splits a filter expression into clauses. Clauses are separated
// by spaces and combined with AND.
func ParseFilter(expr string) ([]Clause, error) {
	var clauses []Clause
	rest := strings.TrimSpace(expr)
	for rest != "" {
		c, n, err := parseClause(rest)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
		rest = strings.TrimSpace(rest[n:])
	}
	return clauses, nil
}

func parseClause(s string) (Clause, int, error) {
	var c Clause
	i := 0
	if strings.HasPrefix(s, "-") {
		c.Exclude = true
		i = 1
	}
	start := i
	for i < len(s) && s[i] != '=' && s[i] != ':' && s[i] != ' ' {
		i++
	}
	if i >= len(s) || s[i] == ' ' || i == start {
		return c, 0, fmt.Errorf("malformed filter clause near %q", s)
	}
	c.Field = s[start:i]
	c.Scope = s[i] == ':'
	if c.Exclude && !c.Scope {
		return c, 0, fmt.Errorf("only scope clauses can be negated: %q", s)
	}
	i++
	if i >= len(s) || s[i] != '"' {
		return c, 0, fmt.Errorf("filter value for %s must be quoted", c.Field)
	}
	i++
	var b strings.Builder
	for ; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '"':
			c.Value = b.String()
			return c, i + 1, nil
		default:
			b.WriteByte(s[i])
		}
	}
	return c, 0, fmt.Errorf("unterminated value for %s", c.Field)
}

func toRow(id string, values map[string]string, selectFields []string) models.SearchRow {
	row := models.SearchRow{}
	for _, f := range selectFields {
		v := values[f]
		if f == "id" {
			v = id
		}
		row.Cells = append(row.Cells, models.SearchCell{Key: f, Value: v})
	}
	return row
}
