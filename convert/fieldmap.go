package convert

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// FieldMapping maps a QRadar AQL field name to its XDM counterpart.
type FieldMapping struct {
	AQL string
	XQL string
}

// defaultFieldMappings is the built-in QRadar to XDM field map. Order is
// fixed so conversion output is deterministic.
var defaultFieldMappings = []FieldMapping{
	// Network
	{"sourceip", "action_local_ip"},
	{"destinationip", "action_remote_ip"},
	{"sourceport", "action_local_port"},
	{"destinationport", "action_remote_port"},
	{"protocol", "action_network_protocol"},

	// User / identity
	{"username", "actor_effective_username"},
	{"userid", "actor_effective_user_sid"},
	{"domainname", "actor_primary_user_upn_prefix"},

	// Process
	{"processname", "causality_actor_process_image_name"},
	{"processid", "causality_actor_process_os_pid"},
	{"commandline", "causality_actor_process_command_line"},

	// File
	{"filename", "action_file_name"},
	{"filepath", "action_file_path"},
	{"filesize", "action_file_size"},

	// Event
	{"eventname", "event_type"},
	{"category", "event_sub_type"},
	{"severity", "alert_severity"},
	{"logsourcename", "agent_hostname"},

	// Time
	{"starttime", "event_timestamp"},
	{"endtime", "event_timestamp"},

	// Misc
	{"hostname", "agent_hostname"},
	{"macaddress", "action_local_mac_address"},
	{"url", "action_url"},
	{"domain", "dns_query_name"},
}

// categoryMappings translates QRadar numeric event categories to XDM event
// types in WHERE clauses.
var categoryMappings = []struct {
	Category  string
	EventType string
}{
	{"1001", "network"},
	{"2000", "process"},
	{"3000", "file"},
	{"4000", "authentication"},
	{"5000", "user"},
	{"6000", "system"},
}

// LoadFieldMappings reads a YAML file of aql_field: xql_field overrides and
// merges it over the built-in map. Overrides win; new fields are appended in
// name order to keep conversion deterministic.
func LoadFieldMappings(path string) ([]FieldMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field mappings: %w", err)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse field mappings: %w", err)
	}

	merged := make([]FieldMapping, len(defaultFieldMappings))
	copy(merged, defaultFieldMappings)

	seen := make(map[string]int, len(merged))
	for i, fm := range merged {
		seen[fm.AQL] = i
	}

	extra := make([]string, 0, len(overrides))
	for aql, xql := range overrides {
		if i, ok := seen[aql]; ok {
			merged[i].XQL = xql
		} else {
			extra = append(extra, aql)
		}
	}
	sort.Strings(extra)
	for _, aql := range extra {
		merged = append(merged, FieldMapping{AQL: aql, XQL: overrides[aql]})
	}

	return merged, nil
}
