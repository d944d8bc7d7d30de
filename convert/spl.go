// Package convert rewrites source-SIEM queries (Splunk SPL, QRadar AQL)
// into Cortex XQL. The conversion is a heuristic pattern-substitution pass,
// not a semantic translation; output is a starting point for review.
//
// All patterns run through regexp2 with a match timeout because they are
// applied to untrusted uploaded query text.
package convert

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

const regexTimeout = 500 * time.Millisecond

var (
	// ErrEmptyQuery is returned when there is no query text to convert.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrUnsupportedQuery is returned when the query does not match the
	// source language's expected shape.
	ErrUnsupportedQuery = errors.New("query shape not supported")
)

func compile(pattern string, opts regexp2.RegexOptions) *regexp2.Regexp {
	re := regexp2.MustCompile(pattern, opts)
	re.MatchTimeout = regexTimeout
	return re
}

// splSubstitution is one SPL→XQL rewrite step.
type splSubstitution struct {
	re   *regexp2.Regexp
	repl string
}

var splSubstitutions = []splSubstitution{
	// index=foo selects a dataset; raw datasets carry a _raw suffix.
	{compile(`index\s*=\s*(\w+)`, regexp2.IgnoreCase), "dataset = ${1}_raw"},
	// XQL is dataset-centric; sourcetype narrows with a filter.
	{compile(`sourcetype\s*=\s*(\S+)`, regexp2.IgnoreCase), "filter ${1}"},
	{compile(`stats\s+count\s+by\s+`, regexp2.IgnoreCase), "comp count() by "},
	{compile(`\|\s*where\b`, regexp2.IgnoreCase), "| filter"},
	{compile(`\|\s*table\b`, regexp2.IgnoreCase), "| fields"},
}

// SPLToXQL converts a Splunk SPL query to XQL by pattern substitution.
func SPLToXQL(spl string) (string, error) {
	xql := strings.TrimSpace(spl)
	if xql == "" {
		return "", ErrEmptyQuery
	}

	for _, sub := range splSubstitutions {
		replaced, err := sub.re.Replace(xql, sub.repl, -1, -1)
		if err != nil {
			return "", fmt.Errorf("SPL conversion failed: %w", err)
		}
		xql = replaced
	}

	return xql, nil
}
