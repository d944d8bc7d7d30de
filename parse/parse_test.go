package parse

import (
	"errors"
	"testing"

	"xmigrate/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestSplunkBareList(t *testing.T) {
	data := []byte(`[
		{"title": "Brute Force Detected", "search": "index=auth action=failure | stats count by user",
		 "description": "Excessive failures", "severity": "high", "tags": ["authentication"]},
		{"search": "index=dns"}
	]`)

	rules, err := Splunk(data, testLogger())
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "spl-0", rules[0].ID)
	assert.Equal(t, "Brute Force Detected", rules[0].Name)
	assert.Equal(t, core.PlatformSplunk, rules[0].SourcePlatform)
	assert.Equal(t, core.StatusPending, rules[0].Status)
	assert.Equal(t, core.SeverityHigh, rules[0].Severity)
	assert.Equal(t, []string{"authentication"}, rules[0].Tags)

	// Missing title falls back to a positional name.
	assert.Equal(t, "Splunk Rule 1", rules[1].Name)
	assert.Equal(t, core.SeverityUnknown, rules[1].Severity)
}

func TestSplunkResultsWrapper(t *testing.T) {
	data := []byte(`{"results": [{"title": "Wrapped", "search": "index=x"}]}`)

	rules, err := Splunk(data, testLogger())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "Wrapped", rules[0].Name)
}

func TestSplunkEmptyList(t *testing.T) {
	rules, err := Splunk([]byte(`[]`), testLogger())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestSplunkInvalidJSON(t *testing.T) {
	_, err := Splunk([]byte(`{"results": `), testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}

func TestQRadar(t *testing.T) {
	data := []byte(`<custom_rules>
		<custom_rule>
			<name>Suspicious Remote Access</name>
			<description>SSH from unusual source</description>
			<severity>medium</severity>
			<rule_data><![CDATA[SELECT sourceip FROM events WHERE destinationport = 22]]></rule_data>
		</custom_rule>
		<custom_rule>
			<rule_data>SELECT * FROM flows</rule_data>
		</custom_rule>
	</custom_rules>`)

	rules, err := QRadar(data, testLogger())
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "qrd-0", rules[0].ID)
	assert.Equal(t, "Suspicious Remote Access", rules[0].Name)
	assert.Equal(t, core.PlatformQRadar, rules[0].SourcePlatform)
	assert.Equal(t, core.SeverityMedium, rules[0].Severity)
	assert.Equal(t, "SELECT sourceip FROM events WHERE destinationport = 22", rules[0].OriginalQuery)

	assert.Equal(t, "QRadar Rule 1", rules[1].Name)
}

func TestQRadarInvalidXML(t *testing.T) {
	_, err := QRadar([]byte(`<custom_rules><custom_rule>`), testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}
