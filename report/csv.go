// Package report renders migration results as downloadable artifacts:
// a CSV coverage report and an XSIAM content pack.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"xmigrate/core"
	"xmigrate/coverage"
)

const queryTruncateLen = 100

// WriteCSV renders a coverage report for rules to w. results must be
// parallel to rules; nil entries mean a rule was never evaluated. The
// report ends with summary statistics and a per-platform breakdown.
func WriteCSV(w io.Writer, rules []core.DetectionRule, results []*coverage.Result) error {
	if len(results) != len(rules) {
		return fmt.Errorf("rule/result count mismatch: %d vs %d", len(rules), len(results))
	}

	cw := csv.NewWriter(w)
	header := []string{
		"Rule ID", "Rule Name", "Source Platform", "Status", "Coverage",
		"Best Match", "Confidence", "Severity", "Tags", "Original Query (Truncated)",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	covered := 0
	platforms := make(map[core.SourcePlatform]int)
	platformOrder := make([]core.SourcePlatform, 0, 2)

	for i := range rules {
		rule := &rules[i]
		if _, seen := platforms[rule.SourcePlatform]; !seen {
			platformOrder = append(platformOrder, rule.SourcePlatform)
		}
		platforms[rule.SourcePlatform]++

		coveredCell := "No"
		bestMatch := "N/A"
		confidence := "0%"
		matchSeverity := "N/A"
		matchTags := "N/A"
		if res := results[i]; res != nil {
			if res.Covered {
				coveredCell = "Yes"
				covered++
			}
			confidence = fmt.Sprintf("%d%%", int(res.Confidence*100))
			if len(res.Matches) > 0 {
				best := res.Matches[0].Analytic
				bestMatch = best.Name
				matchSeverity = string(best.Severity)
				if len(best.Tags) > 0 {
					matchTags = strings.Join(best.Tags, "; ")
				}
			}
		}

		if err := cw.Write([]string{
			rule.ID,
			rule.Name,
			string(rule.SourcePlatform),
			string(rule.Status),
			coveredCell,
			bestMatch,
			confidence,
			matchSeverity,
			matchTags,
			truncate(rule.OriginalQuery, queryTruncateLen),
		}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	coveragePct := 0.0
	if len(rules) > 0 {
		coveragePct = float64(covered) / float64(len(rules)) * 100
	}

	summary := [][]string{
		{},
		{"=== SUMMARY STATISTICS ==="},
		{"Total Rules", fmt.Sprintf("%d", len(rules))},
		{"Covered by Existing Analytics", fmt.Sprintf("%d", covered)},
		{"Coverage Percentage", fmt.Sprintf("%.1f%%", coveragePct)},
		{},
		{"Platform", "Count"},
	}
	for _, row := range summary {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV summary: %w", err)
		}
	}
	for _, platform := range platformOrder {
		if err := cw.Write([]string{titleCase(string(platform)), fmt.Sprintf("%d", platforms[platform])}); err != nil {
			return fmt.Errorf("failed to write platform breakdown: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
