// Package analysis validates command output against expectations and
// extracts named parameters and diagnostic codes via pattern search.
package analysis

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Mismatch describes an output that did not satisfy its validator. It is a
// result, not a framework error: the step fails, the run continues per the
// step's continue policy.
type Mismatch struct {
	ValidatorType string `json:"validator_type"`
	Expected      string `json:"expected"`
	Actual        string `json:"actual"`
	Detail        string `json:"detail,omitempty"`
}

func (m *Mismatch) String() string {
	return fmt.Sprintf("%s validator mismatch: expected %q, got %q", m.ValidatorType, m.Expected, m.Actual)
}

// Validate compares output against expected per validatorType
// (json|text|regex|exact). It returns (true, nil) on a match and
// (false, *Mismatch) otherwise. Only an unusable validator configuration
// (unknown type, invalid regex, unparseable expected JSON) returns an error.
func Validate(output, validatorType, expected string) (bool, *Mismatch, error) {
	switch validatorType {
	case "exact":
		if trimTrailingWhitespace(output) == trimTrailingWhitespace(expected) {
			return true, nil, nil
		}
		return false, &Mismatch{ValidatorType: validatorType, Expected: expected, Actual: output}, nil

	case "text":
		if strings.Contains(output, expected) {
			return true, nil, nil
		}
		return false, &Mismatch{
			ValidatorType: validatorType,
			Expected:      expected,
			Actual:        output,
			Detail:        "expected text not found in output",
		}, nil

	case "regex", "text_regex":
		re, err := regexp.Compile(`\A(?:` + expected + `)\z`)
		if err != nil {
			return false, nil, fmt.Errorf("compile validator regex %q: %w", expected, err)
		}
		if re.MatchString(trimTrailingWhitespace(output)) {
			return true, nil, nil
		}
		return false, &Mismatch{
			ValidatorType: validatorType,
			Expected:      expected,
			Actual:        output,
			Detail:        "output did not fully match pattern",
		}, nil

	case "json":
		var want interface{}
		if err := json.Unmarshal([]byte(expected), &want); err != nil {
			return false, nil, fmt.Errorf("parse expected JSON: %w", err)
		}
		var got interface{}
		if err := json.Unmarshal([]byte(output), &got); err != nil {
			return false, &Mismatch{
				ValidatorType: validatorType,
				Expected:      expected,
				Actual:        output,
				Detail:        fmt.Sprintf("output is not valid JSON: %v", err),
			}, nil
		}
		if reflect.DeepEqual(want, got) {
			return true, nil, nil
		}
		return false, &Mismatch{
			ValidatorType: validatorType,
			Expected:      expected,
			Actual:        output,
			Detail:        "JSON structures differ",
		}, nil

	default:
		return false, nil, fmt.Errorf("unknown validator_type %q", validatorType)
	}
}

// trimTrailingWhitespace removes trailing whitespace from the whole string
// and from each line, the normalization applied before exact and regex
// comparison.
func trimTrailingWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
