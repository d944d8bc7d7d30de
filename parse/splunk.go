// Package parse turns raw SIEM export files into DetectionRules. Parsers do
// not convert queries; the service layer runs conversion after parsing.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"xmigrate/core"

	"go.uber.org/zap"
)

// ErrParse wraps all fatal export-parsing failures.
var ErrParse = errors.New("export parse failed")

// splunkItem is one saved search in a Splunk JSON export. Exports come
// either as a bare list or wrapped in {"results": [...]}.
type splunkItem struct {
	Title       string   `json:"title"`
	Search      string   `json:"search"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Tags        []string `json:"tags"`
}

type splunkWrapper struct {
	Results []splunkItem `json:"results"`
}

// Splunk parses a Splunk saved-search JSON export into pending rules.
// Entries without a title get a positional fallback name, matching how the
// exports are usually reviewed.
func Splunk(data []byte, logger *zap.SugaredLogger) ([]core.DetectionRule, error) {
	var items []splunkItem
	if err := json.Unmarshal(data, &items); err != nil {
		var wrapper splunkWrapper
		if err2 := json.Unmarshal(data, &wrapper); err2 != nil {
			return nil, fmt.Errorf("%w: invalid Splunk JSON: %v", ErrParse, err)
		}
		items = wrapper.Results
	}

	now := time.Now().UTC()
	rules := make([]core.DetectionRule, 0, len(items))
	for i, item := range items {
		name := strings.TrimSpace(item.Title)
		if name == "" {
			name = fmt.Sprintf("Splunk Rule %d", i)
			logger.Warnf("Splunk export entry %d has no title, using %q", i, name)
		}
		rules = append(rules, core.DetectionRule{
			ID:             fmt.Sprintf("spl-%d", i),
			Name:           name,
			Description:    item.Description,
			SourcePlatform: core.PlatformSplunk,
			OriginalQuery:  item.Search,
			Status:         core.StatusPending,
			Severity:       core.ParseSeverity(item.Severity),
			Tags:           item.Tags,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	return rules, nil
}
