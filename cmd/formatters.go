package cmd

import (
	"fmt"
	"strings"

	"xmigrate/catalog"
	"xmigrate/core"
	"xmigrate/coverage"
	"xmigrate/xsiam"

	"github.com/fatih/color"
)

// renderRulesTable displays parsed rules in a formatted table
func renderRulesTable(rules []core.DetectionRule) {
	if len(rules) == 0 {
		warningColor.Println("No rules found")
		return
	}

	headerColor.Println("RULES")
	headerColor.Println(strings.Repeat("=", 120))
	fmt.Printf("%-10s %-35s %-10s %-12s %-10s %s\n",
		"ID", "Name", "Platform", "Status", "Severity", "Converted Query")
	fmt.Println(strings.Repeat("-", 120))

	for _, rule := range rules {
		fmt.Printf("%-10s %-35s %-10s %-12s %-10s %s\n",
			truncate(rule.ID, 10),
			truncate(rule.Name, 35),
			rule.SourcePlatform,
			formatRuleStatus(rule.Status),
			rule.Severity,
			truncate(rule.ConvertedQuery, 40))
	}

	fmt.Println(strings.Repeat("=", 120))
	fmt.Printf("\nTotal rules: %d\n", len(rules))
}

// renderCoverageTable displays per-rule coverage verdicts. results must be
// parallel to rules.
func renderCoverageTable(rules []core.DetectionRule, results []*coverage.Result) {
	headerColor.Println("COVERAGE")
	headerColor.Println(strings.Repeat("=", 120))
	fmt.Printf("%-35s %-10s %-12s %-40s %s\n",
		"Rule", "Covered", "Confidence", "Best Match", "Severity")
	fmt.Println(strings.Repeat("-", 120))

	covered := 0
	for i, rule := range rules {
		res := results[i]
		verdict := errorColor.Sprint("No")
		confidence := "0%"
		bestMatch := "-"
		severity := ""
		if res != nil {
			confidence = fmt.Sprintf("%d%%", int(res.Confidence*100))
			if len(res.Matches) > 0 {
				bestMatch = res.Matches[0].Analytic.Name
				severity = string(res.Matches[0].Analytic.Severity)
			}
			if res.Covered {
				verdict = successColor.Sprint("Yes")
				covered++
			}
		}
		fmt.Printf("%-35s %-10s %-12s %-40s %s\n",
			truncate(rule.Name, 35), verdict, confidence, truncate(bestMatch, 40), severity)
	}

	fmt.Println(strings.Repeat("=", 120))
	pct := 0.0
	if len(rules) > 0 {
		pct = float64(covered) / float64(len(rules)) * 100
	}
	fmt.Printf("\n%d/%d rules covered (%.1f%%)\n", covered, len(rules), pct)
}

// renderPushResult displays a bulk upload outcome
func renderPushResult(result *xsiam.BulkResult) {
	if result.Failed == 0 {
		successColor.Printf("✓ Pushed %d/%d rules\n", result.Successful, result.Total)
	} else {
		warningColor.Printf("⚠ Pushed %d/%d rules, %d failed\n",
			result.Successful, result.Total, result.Failed)
	}

	if len(result.Errors) > 0 {
		errorColor.Println("\n  Errors:")
		for _, e := range result.Errors {
			fmt.Printf("    - %s: %s\n", e.Rule, e.Error)
		}
	}
}

// renderCatalogSummary displays analytics catalog statistics
func renderCatalogSummary(idx *catalog.Index) {
	records := idx.All()

	headerColor.Println("ANALYTICS CATALOG")
	headerColor.Println(strings.Repeat("=", 80))

	bySeverity := make(map[string]int)
	withTechniques := 0
	for i := range records {
		bySeverity[string(records[i].Severity)]++
		if len(records[i].Techniques) > 0 {
			withTechniques++
		}
	}

	printField("Total Analytics", fmt.Sprintf("%d", len(records)))
	printField("With ATT&CK Techniques", fmt.Sprintf("%d", withTechniques))
	for _, sev := range []string{"critical", "high", "medium", "low", "informational"} {
		if count, ok := bySeverity[sev]; ok {
			printField(capitalize(sev), fmt.Sprintf("%d", count))
		}
	}

	fmt.Println(strings.Repeat("=", 80))
}

// printField prints a key-value field
func printField(key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Printf("  %-25s %s\n", key+":", value)
}

// formatRuleStatus returns a colored status string
func formatRuleStatus(status core.RuleStatus) string {
	switch status {
	case core.StatusTranslated:
		return color.New(color.FgGreen).Sprint(status)
	case core.StatusReviewed:
		return color.New(color.FgCyan).Sprint(status)
	case core.StatusExported:
		return color.New(color.FgBlue).Sprint(status)
	case core.StatusPending:
		return color.New(color.FgYellow).Sprint(status)
	default:
		return string(status)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
