package parse

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"xmigrate/core"

	"go.uber.org/zap"
)

// qradarExport is the simplified QRadar custom-rule export structure:
//
//	<custom_rules>
//	  <custom_rule>
//	    <name>...</name>
//	    <description>...</description>
//	    <rule_data><![CDATA[SELECT ... FROM ... WHERE ...]]></rule_data>
//	  </custom_rule>
//	</custom_rules>
type qradarExport struct {
	XMLName xml.Name     `xml:"custom_rules"`
	Rules   []qradarRule `xml:"custom_rule"`
}

type qradarRule struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	RuleData    string `xml:"rule_data"`
	Severity    string `xml:"severity"`
}

// QRadar parses a QRadar custom-rule XML export into pending rules. The
// rule_data element carries the AQL query.
func QRadar(data []byte, logger *zap.SugaredLogger) ([]core.DetectionRule, error) {
	var export qradarExport
	if err := xml.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("%w: invalid QRadar XML: %v", ErrParse, err)
	}

	now := time.Now().UTC()
	rules := make([]core.DetectionRule, 0, len(export.Rules))
	for i, item := range export.Rules {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			name = fmt.Sprintf("QRadar Rule %d", i)
			logger.Warnf("QRadar export entry %d has no name, using %q", i, name)
		}
		rules = append(rules, core.DetectionRule{
			ID:             fmt.Sprintf("qrd-%d", i),
			Name:           name,
			Description:    item.Description,
			SourcePlatform: core.PlatformQRadar,
			OriginalQuery:  strings.TrimSpace(item.RuleData),
			Status:         core.StatusPending,
			Severity:       core.ParseSeverity(item.Severity),
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	return rules, nil
}
