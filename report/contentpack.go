package report

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"xmigrate/core"
)

// ErrNoRules is returned when a content pack is requested with no rules.
var ErrNoRules = errors.New("no rules to export")

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// packMetadata is the pack_metadata.json document inside the archive.
type packMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Version     string `json:"currentVersion"`
	Created     string `json:"created"`
	RuleCount   int    `json:"rule_count"`
}

// packRule is one correlation rule file inside the archive.
type packRule struct {
	GlobalRuleID     string `json:"global_rule_id"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	XQLQuery         string `json:"xql_query"`
	Severity         string `json:"severity"`
	Status           string `json:"status"`
	OriginalPlatform string `json:"original_platform"`
	OriginalQuery    string `json:"original_query,omitempty"`
}

// WriteContentPack writes an XSIAM content pack ZIP to w containing every
// rule that has a converted query. Rules still pending conversion are
// skipped. The archive holds <pack>/pack_metadata.json plus one JSON file
// per rule under <pack>/correlation_rules/.
func WriteContentPack(w io.Writer, packName string, rules []core.DetectionRule) error {
	exportable := make([]*core.DetectionRule, 0, len(rules))
	for i := range rules {
		if rules[i].ConvertedQuery != "" {
			exportable = append(exportable, &rules[i])
		}
	}
	if len(exportable) == 0 {
		return ErrNoRules
	}
	if packName == "" {
		packName = "MigratedRules"
	}

	zw := zip.NewWriter(w)

	meta := packMetadata{
		Name:        packName,
		Description: "Detection rules migrated from a legacy SIEM",
		Author:      "xmigrate",
		Version:     "1.0.0",
		Created:     time.Now().UTC().Format(time.RFC3339),
		RuleCount:   len(exportable),
	}
	if err := writeJSONEntry(zw, packName+"/pack_metadata.json", meta); err != nil {
		return err
	}

	seen := make(map[string]int)
	for _, rule := range exportable {
		severity := string(rule.Severity)
		if rule.Severity == core.SeverityUnknown || severity == "" {
			severity = string(core.SeverityMedium)
		}
		entry := packRule{
			GlobalRuleID:     rule.ID,
			Name:             rule.Name,
			Description:      rule.Description,
			XQLQuery:         rule.ConvertedQuery,
			Severity:         severity,
			Status:           "enabled",
			OriginalPlatform: string(rule.SourcePlatform),
			OriginalQuery:    rule.OriginalQuery,
		}

		name := sanitizeFileName(rule.Name)
		// Distinct rules may share a display name.
		if n := seen[name]; n > 0 {
			seen[name]++
			name = fmt.Sprintf("%s_%d", name, n)
		} else {
			seen[name] = 1
		}

		path := fmt.Sprintf("%s/correlation_rules/%s.json", packName, name)
		if err := writeJSONEntry(zw, path, entry); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize content pack: %w", err)
	}
	return nil
}

func writeJSONEntry(zw *zip.Writer, path string, v interface{}) error {
	f, err := zw.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create pack entry %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode pack entry %s: %w", path, err)
	}
	return nil
}

func sanitizeFileName(name string) string {
	cleaned := unsafeFileChars.ReplaceAllString(strings.TrimSpace(name), "_")
	cleaned = strings.Trim(cleaned, "._")
	if cleaned == "" {
		cleaned = "rule"
	}
	return cleaned
}
