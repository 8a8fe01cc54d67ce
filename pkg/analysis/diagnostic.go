package analysis

import (
	"fmt"
	"regexp"

	"github.com/baseboardio/sledge/pkg/schema"
)

// DiagnosticReport aggregates the effect of applying diagnostic rules to a
// block of log or command output.
type DiagnosticReport struct {
	// Codes are the diagnostic result codes recorded by matching
	// search_string rules, in rule declaration order.
	Codes []string `json:"codes,omitempty"`
	// Parameters are context bindings produced by the rules. search_string
	// rules with parameter_to_set bind "true"/"false" by match;
	// diagnostic_search_string rules bind the first capture group (or the
	// whole match) and "false" on no match.
	Parameters map[string]string `json:"parameters,omitempty"`
	// Failed reports whether any matching rule was marked fail: true.
	Failed bool `json:"failed,omitempty"`
}

// AnalyzeDiagnostics applies diagnostic rules in declaration order with
// cumulative effect: every matching rule contributes. A rule marked
// terminal stops evaluation after it matches.
func AnalyzeDiagnostics(logText string, rules []schema.DiagnosticRule) (*DiagnosticReport, error) {
	report := &DiagnosticReport{Parameters: make(map[string]string)}

	for _, rule := range rules {
		pattern := rule.SearchString
		if rule.DiagnosticSearchString != "" {
			pattern = rule.DiagnosticSearchString
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile diagnostic pattern %q: %w", pattern, err)
		}

		m := re.FindStringSubmatch(logText)
		matched := m != nil

		switch {
		case rule.SearchString != "":
			if matched {
				report.Codes = append(report.Codes, rule.DiagnosticResultCode)
			}
			if rule.ParameterToSet != "" {
				report.Parameters[rule.ParameterToSet] = fmt.Sprintf("%t", matched)
			}
		case rule.DiagnosticSearchString != "":
			if matched {
				if len(m) > 1 {
					report.Parameters[rule.ParameterToSet] = m[1]
				} else {
					report.Parameters[rule.ParameterToSet] = m[0]
				}
			} else {
				report.Parameters[rule.ParameterToSet] = "false"
			}
		}

		if matched && rule.Fail {
			report.Failed = true
		}
		if matched && rule.Terminal {
			break
		}
	}
	return report, nil
}
