package convert

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

var (
	aqlSelectRe = compile(`SELECT\s+(.+?)\s+FROM`, regexp2.IgnoreCase|regexp2.Singleline)
	aqlFromRe   = compile(`FROM\s+(\w+)`, regexp2.IgnoreCase)
	aqlWhereRe  = compile(`WHERE\s+(.+)`, regexp2.IgnoreCase|regexp2.Singleline)

	aqlAndRe  = compile(`\bAND\b`, regexp2.IgnoreCase)
	aqlOrRe   = compile(`\bOR\b`, regexp2.IgnoreCase)
	aqlLikeRe = compile(`\bLIKE\b\s+`, regexp2.IgnoreCase)
)

// AQLConverter converts QRadar AQL (SELECT ... FROM ... WHERE ...) queries
// to XQL using a configurable field map.
type AQLConverter struct {
	fields   []FieldMapping
	fieldRes []*regexp2.Regexp
	catRes   []*regexp2.Regexp
}

// NewAQLConverter builds a converter over the built-in field map.
func NewAQLConverter() *AQLConverter {
	return NewAQLConverterWithFields(defaultFieldMappings)
}

// NewAQLConverterWithFields builds a converter over a custom field map
// (see LoadFieldMappings).
func NewAQLConverterWithFields(fields []FieldMapping) *AQLConverter {
	c := &AQLConverter{fields: fields}
	for _, fm := range fields {
		c.fieldRes = append(c.fieldRes, compile(`\b`+regexp2.Escape(fm.AQL)+`\b`, regexp2.IgnoreCase))
	}
	for _, cm := range categoryMappings {
		c.catRes = append(c.catRes, compile(`category\s*=\s*`+cm.Category+`\b`, regexp2.IgnoreCase))
	}
	return c
}

// Convert translates an AQL query to XQL. Queries without a SELECT clause
// are rejected with ErrUnsupportedQuery.
func (c *AQLConverter) Convert(aql string) (string, error) {
	query := strings.TrimSpace(aql)
	if query == "" {
		return "", ErrEmptyQuery
	}

	selectMatch, err := aqlSelectRe.FindStringMatch(query)
	if err != nil {
		return "", fmt.Errorf("AQL conversion failed: %w", err)
	}
	if selectMatch == nil {
		return "", fmt.Errorf("%w: no SELECT clause", ErrUnsupportedQuery)
	}
	selectClause := strings.TrimSpace(selectMatch.GroupByNumber(1).String())

	fromTable := "events"
	if m, err := aqlFromRe.FindStringMatch(query); err != nil {
		return "", fmt.Errorf("AQL conversion failed: %w", err)
	} else if m != nil {
		fromTable = strings.ToLower(strings.TrimSpace(m.GroupByNumber(1).String()))
	}

	whereClause := ""
	if m, err := aqlWhereRe.FindStringMatch(query); err != nil {
		return "", fmt.Errorf("AQL conversion failed: %w", err)
	} else if m != nil {
		whereClause = strings.TrimSpace(m.GroupByNumber(1).String())
	}

	var parts []string

	// QRadar's events and flows land in the unified XDR dataset.
	if fromTable == "events" || fromTable == "flows" {
		parts = append(parts, "dataset = xdr_data")
	} else {
		parts = append(parts, "dataset = "+fromTable)
	}

	if whereClause != "" {
		filter, err := c.convertWhere(whereClause)
		if err != nil {
			return "", err
		}
		parts = append(parts, "filter "+filter)
	}

	fields, err := c.parseSelect(selectClause)
	if err != nil {
		return "", err
	}
	if len(fields) > 0 {
		parts = append(parts, "fields "+strings.Join(fields, ", "))
	}

	return strings.Join(parts, " | "), nil
}

// parseSelect maps the SELECT field list; SELECT * keeps all fields (no
// fields stage emitted).
func (c *AQLConverter) parseSelect(selectClause string) ([]string, error) {
	if strings.Contains(selectClause, "*") {
		return nil, nil
	}
	var fields []string
	for _, f := range strings.Split(selectClause, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		fields = append(fields, c.mapField(f))
	}
	return fields, nil
}

func (c *AQLConverter) mapField(field string) string {
	lower := strings.ToLower(strings.TrimSpace(field))
	for _, fm := range c.fields {
		if fm.AQL == lower {
			return fm.XQL
		}
	}
	return field
}

// convertWhere lowers boolean operators, maps field names with word
// boundaries, rewrites LIKE to contains, and translates category numbers.
func (c *AQLConverter) convertWhere(where string) (string, error) {
	out := where

	var err error
	if out, err = aqlAndRe.Replace(out, "and", -1, -1); err != nil {
		return "", fmt.Errorf("AQL conversion failed: %w", err)
	}
	if out, err = aqlOrRe.Replace(out, "or", -1, -1); err != nil {
		return "", fmt.Errorf("AQL conversion failed: %w", err)
	}

	// Category numbers first, while the bare "category" field name is still
	// present; remaining category references then map like any other field.
	for i, cm := range categoryMappings {
		repl := fmt.Sprintf("event_type = %q", cm.EventType)
		if out, err = c.catRes[i].Replace(out, repl, -1, -1); err != nil {
			return "", fmt.Errorf("AQL conversion failed: %w", err)
		}
	}

	for i, fm := range c.fields {
		if out, err = c.fieldRes[i].Replace(out, fm.XQL, -1, -1); err != nil {
			return "", fmt.Errorf("AQL conversion failed: %w", err)
		}
	}

	if out, err = aqlLikeRe.Replace(out, "contains ", -1, -1); err != nil {
		return "", fmt.Errorf("AQL conversion failed: %w", err)
	}

	return out, nil
}
