// Package core defines the shared domain types for the migration assistant.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Severity is the closed set of severity levels used for both migrated rules
// and catalog analytics. Unrecognized input folds to SeverityUnknown.
type Severity string

const (
	SeverityInformational Severity = "informational"
	SeverityLow           Severity = "low"
	SeverityMedium        Severity = "medium"
	SeverityHigh          Severity = "high"
	SeverityCritical      Severity = "critical"
	SeverityUnknown       Severity = "unknown"
)

// ParseSeverity normalizes a free-text severity value to the closed enum.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "informational", "info":
		return SeverityInformational
	case "low":
		return SeverityLow
	case "medium", "med":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityUnknown
	}
}

// RuleStatus tracks a rule through the migration workflow.
type RuleStatus string

const (
	StatusPending    RuleStatus = "pending"
	StatusTranslated RuleStatus = "translated"
	StatusReviewed   RuleStatus = "reviewed"
	StatusExported   RuleStatus = "exported"
)

// SourcePlatform identifies the SIEM a rule was exported from.
type SourcePlatform string

const (
	PlatformSplunk SourcePlatform = "splunk"
	PlatformQRadar SourcePlatform = "qradar"
)

// ParsePlatform validates a platform name from an API path or CLI flag.
func ParsePlatform(s string) (SourcePlatform, error) {
	switch SourcePlatform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformSplunk:
		return PlatformSplunk, nil
	case PlatformQRadar:
		return PlatformQRadar, nil
	default:
		return "", fmt.Errorf("unsupported source platform %q", s)
	}
}

// DetectionRule is a rule in flight from a source SIEM to XQL.
type DetectionRule struct {
	ID             string         `json:"id"`
	Name           string         `json:"name" validate:"required"`
	Description    string         `json:"description,omitempty"`
	SourcePlatform SourcePlatform `json:"source_platform"`
	OriginalQuery  string         `json:"original_query"`
	ConvertedQuery string         `json:"converted_query,omitempty"`
	Status         RuleStatus     `json:"status"`
	Severity       Severity       `json:"severity"`
	Tags           []string       `json:"tags,omitempty"`
	Techniques     []string       `json:"techniques,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Validate checks the fields a rule must carry before it can be scored,
// stored, or pushed.
func (r *DetectionRule) Validate() error {
	if r == nil {
		return errors.New("rule is nil")
	}
	if r.ID == "" {
		return errors.New("rule ID is required")
	}
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	if r.SourcePlatform != PlatformSplunk && r.SourcePlatform != PlatformQRadar {
		return fmt.Errorf("invalid source platform %q", r.SourcePlatform)
	}
	return nil
}

// ContentHash returns a stable SHA-256 over the fields that drive coverage
// scoring. Used as the cache key for coverage results.
func (r *DetectionRule) ContentHash() string {
	data := fmt.Sprintf("%s|%s|%s", r.Name, strings.Join(r.Tags, ","), strings.Join(r.Techniques, ","))
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// MigrationSummary summarizes one processed upload.
type MigrationSummary struct {
	ID             int64          `json:"id,omitempty"`
	SourcePlatform SourcePlatform `json:"source_platform"`
	FileName       string         `json:"file_name,omitempty"`
	TotalRules     int            `json:"total_rules"`
	Converted      int            `json:"converted_rules"`
	Failed         int            `json:"failed_rules"`
	CreatedAt      time.Time      `json:"created_at"`
}
