package validate

import (
	"encoding/json"

	"script-studio/types"
)

// QAReport checks the reviewer reply. Only approved and issues have a fixed
// shape; every other field is the reviewer's own.
func QAReport(data []byte) (*types.QAReport, error) {
	top, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	report := &types.QAReport{}

	if raw, ok := top["approved"]; ok && !isNull(raw) {
		var approved bool
		if err := json.Unmarshal(raw, &approved); err != nil {
			return nil, fail(RuleQAReport, "approved must be true, false or absent")
		}
		report.Approved = &approved
	}
	if raw, ok := top["issues"]; ok && !isNull(raw) {
		var issues []json.RawMessage
		if err := json.Unmarshal(raw, &issues); err != nil {
			return nil, fail(RuleQAReport, "issues must be an array")
		}
		report.Issues = len(issues)
	}
	// summary is informational, a non-string one is ignored
	if summary, err := optionalString(top, "summary"); err == nil {
		report.Summary = summary
	}
	return report, nil
}
