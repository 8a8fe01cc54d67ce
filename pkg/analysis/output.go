package analysis

import (
	"fmt"
	"regexp"

	"github.com/baseboardio/sledge/pkg/schema"
)

// AnalyzeOutput applies output-analysis rules to command output and returns
// the extracted parameter bindings. Each rule binds its parameter to the
// first capture group of the first match, or the whole match when the
// pattern has no groups. A rule that does not match binds nothing.
func AnalyzeOutput(output string, rules []schema.OutputRule) (map[string]string, error) {
	params := make(map[string]string)
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile output rule %q: %w", rule.Regex, err)
		}
		m := re.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		if len(m) > 1 {
			params[rule.ParameterToSet] = m[1]
		} else {
			params[rule.ParameterToSet] = m[0]
		}
	}
	return params, nil
}
