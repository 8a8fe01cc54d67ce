package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "test_steps[0].step_command")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateFile performs the full 3-phase validation pipeline on a scenario file.
// Phase 1: Structural (strict YAML/JSON decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Document, []*ValidationError) {
	var allErrors []*ValidationError

	doc, err := LoadFile(path)
	if err != nil {
		allErrors = append(allErrors, &ValidationError{
			Phase:    "structural",
			Path:     "",
			Message:  err.Error(),
			Severity: "error",
		})
		return nil, allErrors
	}

	allErrors = append(allErrors, validateSemantic(doc)...)
	allErrors = append(allErrors, ValidateDomain(doc)...)

	if len(allErrors) > 0 {
		return doc, allErrors
	}
	return doc, nil
}

// HasBlocking reports whether any of the errors is severity "error".
// Warnings alone do not make a document invalid.
func HasBlocking(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// validateSemantic validates the document against the generated JSON Schema.
func validateSemantic(doc *Document) []*ValidationError {
	data, err := json.Marshal(doc)
	if err != nil {
		return semanticErr(fmt.Sprintf("marshal for schema validation: %v", err))
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return semanticErr(fmt.Sprintf("generate schema: %v", err))
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return semanticErr(fmt.Sprintf("unmarshal schema: %v", err))
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("scenario-v0.json", schemaDoc); err != nil {
		return semanticErr(fmt.Sprintf("add schema resource: %v", err))
	}
	sch, err := c.Compile("scenario-v0.json")
	if err != nil {
		return semanticErr(fmt.Sprintf("compile schema: %v", err))
	}

	var instance interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return semanticErr(fmt.Sprintf("unmarshal document: %v", err))
	}

	if err := sch.Validate(instance); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = semanticErr(err.Error())
		}
		return errs
	}
	return nil
}

func semanticErr(msg string) []*ValidationError {
	return []*ValidationError{{
		Phase:    "semantic",
		Path:     "",
		Message:  msg,
		Severity: "error",
	}}
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of errors; empty means valid.
func ValidateDomain(doc *Document) []*ValidationError {
	var errs []*ValidationError

	if doc.SchemaVersion != SchemaVersion {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "schema_version",
			Message:  fmt.Sprintf("unrecognized schema_version %q, expected %q", doc.SchemaVersion, SchemaVersion),
			Severity: "error",
		})
	}

	sc := doc.TestScenario
	if len(sc.Steps) == 0 {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "test_scenario.test_steps",
			Message:  "scenario must contain at least one step",
			Severity: "error",
		})
	}

	// Step ID uniqueness within the scenario.
	seen := make(map[string]int)
	for i, s := range sc.Steps {
		if prev, ok := seen[s.StepID]; ok {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     fmt.Sprintf("test_scenario.test_steps[%d].step_id", i),
				Message:  fmt.Sprintf("duplicate step ID %q (first at test_steps[%d]); step IDs must be unique", s.StepID, prev),
				Severity: "error",
			})
		}
		seen[s.StepID] = i
	}

	for i, s := range sc.Steps {
		prefix := fmt.Sprintf("test_scenario.test_steps[%d]", i)

		switch s.StepType {
		case StepTypeCommand:
			if s.StepCommand == "" {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     prefix + ".step_command",
					Message:  fmt.Sprintf("command step %q requires 'step_command'", s.StepID),
					Severity: "error",
				})
			}
			if s.Connection == "" && s.ConnectionType != "local" {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     prefix + ".connection",
					Message:  fmt.Sprintf("command step %q requires 'connection' (or connection_type: local)", s.StepID),
					Severity: "error",
				})
			}
		case StepTypeLog:
			if s.LogAnalysisPath == "" {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     prefix + ".log_analysis_path",
					Message:  fmt.Sprintf("log analysis step %q requires 'log_analysis_path'", s.StepID),
					Severity: "error",
				})
			}
			if len(s.DiagnosticAnalysis) == 0 {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     prefix + ".diagnostic_analysis",
					Message:  fmt.Sprintf("log analysis step %q has no diagnostic_analysis rules", s.StepID),
					Severity: "warning",
				})
			}
		case StepTypeInvoke:
			if s.ScenarioPath == "" {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     prefix + ".scenario_path",
					Message:  fmt.Sprintf("invoke step %q requires 'scenario_path'", s.StepID),
					Severity: "error",
				})
			}
		default:
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     prefix + ".step_type",
				Message:  fmt.Sprintf("step %q has unknown step_type %q", s.StepID, s.StepType),
				Severity: "error",
			})
		}

		// A validator needs an expectation to compare against.
		if s.ValidatorType != "" && s.ExpectedOutput == "" && s.ExpectedOutputPath == "" {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     prefix + ".expected_output",
				Message:  fmt.Sprintf("step %q sets validator_type %q without expected_output or expected_output_path", s.StepID, s.ValidatorType),
				Severity: "error",
			})
		}

		// Output analysis patterns must compile.
		for j, rule := range s.OutputAnalysis {
			if _, err := regexp.Compile(rule.Regex); err != nil {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     fmt.Sprintf("%s.output_analysis[%d].regex", prefix, j),
					Message:  fmt.Sprintf("invalid regex %q: %v", rule.Regex, err),
					Severity: "error",
				})
			}
		}

		errs = append(errs, validateDiagnosticRules(prefix, s)...)

		if s.Duration < 0 {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     prefix + ".duration",
				Message:  fmt.Sprintf("step %q has negative duration %d", s.StepID, s.Duration),
				Severity: "error",
			})
		}
		if s.Background && s.StepType != StepTypeCommand {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     prefix + ".background",
				Message:  fmt.Sprintf("step %q: background execution is only supported for command_execution steps", s.StepID),
				Severity: "error",
			})
		}
	}

	return errs
}

// validateDiagnosticRules checks the two mutually exclusive rule shapes.
func validateDiagnosticRules(prefix string, s Step) []*ValidationError {
	var errs []*ValidationError
	for j, rule := range s.DiagnosticAnalysis {
		rulePath := fmt.Sprintf("%s.diagnostic_analysis[%d]", prefix, j)

		switch {
		case rule.SearchString != "" && rule.DiagnosticSearchString != "":
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     rulePath,
				Message:  fmt.Sprintf("step %q: search_string and diagnostic_search_string are mutually exclusive", s.StepID),
				Severity: "error",
			})
		case rule.SearchString != "" && rule.DiagnosticResultCode == "":
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     rulePath + ".diagnostic_result_code",
				Message:  fmt.Sprintf("step %q: search_string requires diagnostic_result_code", s.StepID),
				Severity: "error",
			})
		case rule.DiagnosticSearchString != "" && rule.DiagnosticResultCode != "":
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     rulePath + ".diagnostic_result_code",
				Message:  fmt.Sprintf("step %q: diagnostic_search_string does not take diagnostic_result_code", s.StepID),
				Severity: "error",
			})
		case rule.DiagnosticSearchString != "" && rule.ParameterToSet == "":
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     rulePath + ".parameter_to_set",
				Message:  fmt.Sprintf("step %q: diagnostic_search_string requires parameter_to_set", s.StepID),
				Severity: "error",
			})
		case rule.SearchString == "" && rule.DiagnosticSearchString == "":
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     rulePath,
				Message:  fmt.Sprintf("step %q: rule must set search_string or diagnostic_search_string", s.StepID),
				Severity: "error",
			})
		}

		pattern := rule.SearchString
		if rule.DiagnosticSearchString != "" {
			pattern = rule.DiagnosticSearchString
		}
		if pattern != "" {
			if _, err := regexp.Compile(pattern); err != nil {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     rulePath,
					Message:  fmt.Sprintf("invalid diagnostic pattern %q: %v", pattern, err),
					Severity: "error",
				})
			}
		}
	}
	return errs
}
