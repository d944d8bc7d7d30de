package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"xmigrate/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestParseExportFormat(t *testing.T) {
	data := []byte(`[
		{"Name": "Suspicious Login Attempt", "Severity": "High",
		 "Detector Tags": "authentication, brute force",
		 "ATT&CK Tactic": "Credential Access",
		 "ATT&CK Technique": "T1110, T1078"},
		{"Name": "Rare Process Execution", "Severity": "Medium"}
	]`)

	idx, err := Parse(data, testLogger())
	require.NoError(t, err)
	require.Equal(t, 2, idx.Len())

	first := idx.All()[0]
	assert.Equal(t, "Suspicious Login Attempt", first.Name)
	assert.Equal(t, core.SeverityHigh, first.Severity)
	assert.Equal(t, []string{"T1110", "T1078"}, first.Techniques)
	assert.Equal(t, []string{"authentication", "brute force", "Credential Access"}, first.Tags)

	second := idx.All()[1]
	assert.Equal(t, core.SeverityMedium, second.Severity)
	assert.Nil(t, second.Techniques)
	assert.Nil(t, second.Tags)
}

func TestParseStructuredFormat(t *testing.T) {
	data := []byte(`[
		{"name": "DNS Tunneling", "severity": "critical",
		 "techniques": ["T1071.004"], "tags": ["dns", "c2"]}
	]`)

	idx, err := Parse(data, testLogger())
	require.NoError(t, err)

	rec := idx.All()[0]
	assert.Equal(t, "DNS Tunneling", rec.Name)
	assert.Equal(t, core.SeverityCritical, rec.Severity)
	assert.Equal(t, []string{"T1071.004"}, rec.Techniques)
	assert.Equal(t, []string{"dns", "c2"}, rec.Tags)
}

func TestParseSkipsEntriesWithoutName(t *testing.T) {
	data := []byte(`[
		{"Severity": "High"},
		{"Name": "  "},
		{"Name": "Kept Analytic"}
	]`)

	idx, err := Parse(data, testLogger())
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())
	assert.Equal(t, "Kept Analytic", idx.All()[0].Name)
}

func TestParseDuplicateNamesKept(t *testing.T) {
	data := []byte(`[
		{"Name": "Same Name", "Severity": "low"},
		{"Name": "Same Name", "Severity": "high"}
	]`)

	idx, err := Parse(data, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	// Load order preserved.
	assert.Equal(t, core.SeverityLow, idx.All()[0].Severity)
	assert.Equal(t, core.SeverityHigh, idx.All()[1].Severity)
}

func TestParseErrors(t *testing.T) {
	for name, data := range map[string][]byte{
		"malformed JSON":   []byte(`{"Name": "not an arr`),
		"not an array":     []byte(`{"Name": "x"}`),
		"array of strings": []byte(`["a", "b"]`),
		"empty array":      []byte(`[]`),
		"all skipped":      []byte(`[{"Severity": "low"}]`),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data, testLogger())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCatalogLoad))
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"Name": "File Analytic"}]`), 0o644))

	idx, err := Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, core.SeverityUnknown, idx.All()[0].Severity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCatalogLoad))
}
