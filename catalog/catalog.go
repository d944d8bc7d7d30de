// Package catalog holds the read-only index of built-in XSIAM analytics that
// migrated rules are matched against. The index is built once from a static
// JSON export and never mutated; reloading is done by building a new index
// and swapping the reference at the owner.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"xmigrate/core"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// ErrCatalogLoad is wrapped by all fatal load failures: unreadable file,
// malformed JSON, or a dataset that is empty after skipping bad entries.
var ErrCatalogLoad = errors.New("catalog load failed")

// AnalyticRecord is one built-in analytic from the XSIAM catalog.
// Records are immutable after load. Names are not unique; duplicates are
// legal and scored independently.
type AnalyticRecord struct {
	Name       string        `json:"name"`
	Severity   core.Severity `json:"severity"`
	Techniques []string      `json:"techniques,omitempty"`
	Tags       []string      `json:"tags,omitempty"`
}

// Index is the immutable set of analytics in load order.
type Index struct {
	records []AnalyticRecord
}

// datasetSchema validates the overall shape of the analytics export: a JSON
// array of objects. Per-entry problems (missing name) are recoverable and
// handled by skipping, so the schema stays permissive about fields.
const datasetSchema = `{
	"type": "array",
	"items": {"type": "object"}
}`

// The analytics export uses display-style column names with comma-separated
// values for list fields. Structured lists are also accepted so hand-built
// test fixtures stay readable.
type rawAnalytic struct {
	Name            string          `json:"Name"`
	NameLower       string          `json:"name"`
	Severity        string          `json:"Severity"`
	SeverityLower   string          `json:"severity"`
	DetectorTags    string          `json:"Detector Tags"`
	AttackTactic    string          `json:"ATT&CK Tactic"`
	AttackTechnique string          `json:"ATT&CK Technique"`
	Techniques      json.RawMessage `json:"techniques"`
	Tags            json.RawMessage `json:"tags"`
}

// Load reads and parses the analytics dataset at path. Entries without a
// name are skipped with a warning. An unreadable or malformed file, or a
// dataset with no usable entries, fails with an error wrapping ErrCatalogLoad.
func Load(path string, logger *zap.SugaredLogger) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrCatalogLoad, path, err)
	}
	return Parse(data, logger)
}

// Parse builds an Index from raw dataset bytes. See Load.
func Parse(data []byte, logger *zap.SugaredLogger) (*Index, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(datasetSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogLoad, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: dataset is not an array of objects: %v", ErrCatalogLoad, result.Errors())
	}

	var raw []rawAnalytic
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogLoad, err)
	}

	records := make([]AnalyticRecord, 0, len(raw))
	skipped := 0
	for i, entry := range raw {
		name := entry.Name
		if name == "" {
			name = entry.NameLower
		}
		if strings.TrimSpace(name) == "" {
			skipped++
			logger.Warnf("Skipping analytic %d: missing name", i)
			continue
		}

		severity := entry.Severity
		if severity == "" {
			severity = entry.SeverityLower
		}

		records = append(records, AnalyticRecord{
			Name:       name,
			Severity:   core.ParseSeverity(severity),
			Techniques: mergeListField(entry.Techniques, entry.AttackTechnique),
			Tags:       append(mergeListField(entry.Tags, entry.DetectorTags), splitCSV(entry.AttackTactic)...),
		})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no usable analytics in dataset (%d entries skipped)", ErrCatalogLoad, skipped)
	}

	logger.Infof("Analytics catalog loaded: %d records (%d skipped)", len(records), skipped)
	return &Index{records: records}, nil
}

// All returns every record in load order. Callers must not mutate the
// returned slice.
func (idx *Index) All() []AnalyticRecord {
	return idx.records
}

// Len returns the number of records in the index.
func (idx *Index) Len() int {
	return len(idx.records)
}

// mergeListField prefers a structured JSON list, falling back to the export's
// comma-separated string column.
func mergeListField(structured json.RawMessage, csv string) []string {
	if len(structured) > 0 {
		var list []string
		if err := json.Unmarshal(structured, &list); err == nil {
			return trimAll(list)
		}
		// A bare string in a list-typed field is treated like the CSV column.
		var s string
		if err := json.Unmarshal(structured, &s); err == nil {
			return splitCSV(s)
		}
	}
	return splitCSV(csv)
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	return trimAll(parts)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
