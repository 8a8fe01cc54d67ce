// Package schema defines the Go struct types for the scenario recipe
// document and provides strict YAML/JSON parsing.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the recipe schema revision this build understands.
const SchemaVersion = "scenario_recipe_schema_0.7"

// Step types.
const (
	StepTypeCommand = "command_execution"
	StepTypeLog     = "log_analysis"
	StepTypeInvoke  = "invoke_scenario"
)

// Validator types for expected-output comparison.
const (
	ValidatorJSON  = "json"
	ValidatorText  = "text"
	ValidatorRegex = "regex"
	ValidatorExact = "exact"
)

// Document is the top-level scenario recipe file.
type Document struct {
	SchemaVersion string   `yaml:"schema_version" json:"schema_version" jsonschema:"required"`
	TestScenario  Scenario `yaml:"test_scenario"  json:"test_scenario"  jsonschema:"required"`
}

// Scenario is a named, ordered set of steps forming one compliance test case.
type Scenario struct {
	TestID    string          `yaml:"test_id"          json:"test_id"          jsonschema:"required"`
	TestName  string          `yaml:"test_name"        json:"test_name"        jsonschema:"required"`
	TestGroup string          `yaml:"test_group,omitempty" json:"test_group,omitempty"`
	Tags      []string        `yaml:"tags,omitempty"   json:"tags,omitempty"`
	Docker    []ContainerSpec `yaml:"docker,omitempty" json:"docker,omitempty"`
	Steps     []Step          `yaml:"test_steps"       json:"test_steps"       jsonschema:"required,minItems=1"`
}

// ContainerSpec describes a container that must be running before the
// scenario's steps execute. Lifecycle management is external; steps only
// reference the container by name.
type ContainerSpec struct {
	Name    string   `yaml:"name"              json:"name"  jsonschema:"required"`
	Image   string   `yaml:"image"             json:"image" jsonschema:"required"`
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Volumes []string `yaml:"volumes,omitempty" json:"volumes,omitempty"`
}

// Step is a single unit of work. Dispatched by Type.
type Step struct {
	StepID         string `yaml:"step_id"   json:"step_id"   jsonschema:"required"`
	StepName       string `yaml:"step_name,omitempty" json:"step_name,omitempty"`
	StepType       string `yaml:"step_type" json:"step_type" jsonschema:"required,enum=command_execution,enum=log_analysis,enum=invoke_scenario"`
	ConnectionType string `yaml:"connection_type,omitempty" json:"connection_type,omitempty" jsonschema:"enum=local,enum=ssh,enum=redfish"`
	Connection     string `yaml:"connection,omitempty"      json:"connection,omitempty"`
	ContainerName  string `yaml:"container_name,omitempty"  json:"container_name,omitempty"`

	// command_execution payload
	StepCommand string `yaml:"step_command,omitempty" json:"step_command,omitempty"`

	// log_analysis payload
	LogAnalysisPath string `yaml:"log_analysis_path,omitempty" json:"log_analysis_path,omitempty"`

	// invoke_scenario payload
	ScenarioPath string `yaml:"scenario_path,omitempty" json:"scenario_path,omitempty"`

	ValidatorType      string `yaml:"validator_type,omitempty"       json:"validator_type,omitempty" jsonschema:"enum=json,enum=text,enum=regex,enum=exact"`
	ExpectedOutput     string `yaml:"expected_output,omitempty"      json:"expected_output,omitempty"`
	ExpectedOutputPath string `yaml:"expected_output_path,omitempty" json:"expected_output_path,omitempty"`

	EntryCriteria      []Criterion      `yaml:"entry_criteria,omitempty"      json:"entry_criteria,omitempty"`
	OutputAnalysis     []OutputRule     `yaml:"output_analysis,omitempty"     json:"output_analysis,omitempty"`
	DiagnosticAnalysis []DiagnosticRule `yaml:"diagnostic_analysis,omitempty" json:"diagnostic_analysis,omitempty"`

	Loop       int  `yaml:"loop,omitempty"       json:"loop,omitempty"`
	Duration   int  `yaml:"duration,omitempty"   json:"duration,omitempty"`
	Continue   bool `yaml:"continue,omitempty"   json:"continue,omitempty"`
	UseSudo    bool `yaml:"use_sudo,omitempty"   json:"use_sudo,omitempty"`
	Background bool `yaml:"background,omitempty" json:"background,omitempty"`
}

// Criterion is one entry-criteria gate expression. All criteria of a step
// are AND-combined; the step runs only when every expression is true.
type Criterion struct {
	Expression string `yaml:"expression" json:"expression" jsonschema:"required"`
}

// OutputRule binds a context parameter from command output. The first
// capture group is used when the pattern has one, otherwise the whole match.
type OutputRule struct {
	Regex          string `yaml:"regex"            json:"regex"            jsonschema:"required"`
	ParameterToSet string `yaml:"parameter_to_set" json:"parameter_to_set" jsonschema:"required"`
}

// DiagnosticRule extracts diagnostic codes and parameters from log or
// command output. Two mutually exclusive shapes exist:
//
//   - search_string + diagnostic_result_code (+ optional parameter_to_set):
//     pattern search that records a static result code on match.
//   - diagnostic_search_string + parameter_to_set:
//     pattern search whose match toggles the named parameter.
type DiagnosticRule struct {
	SearchString           string `yaml:"search_string,omitempty"            json:"search_string,omitempty"`
	DiagnosticSearchString string `yaml:"diagnostic_search_string,omitempty" json:"diagnostic_search_string,omitempty"`
	DiagnosticResultCode   string `yaml:"diagnostic_result_code,omitempty"   json:"diagnostic_result_code,omitempty"`
	ParameterToSet         string `yaml:"parameter_to_set,omitempty"         json:"parameter_to_set,omitempty"`
	Fail                   bool   `yaml:"fail,omitempty"                     json:"fail,omitempty"`
	Terminal               bool   `yaml:"terminal,omitempty"                 json:"terminal,omitempty"`
}

// LoopCount returns the effective loop count (default 1).
func (s Step) LoopCount() int {
	if s.Loop < 1 {
		return 1
	}
	return s.Loop
}

// LoadFile reads and parses a scenario document with strict unknown-field
// rejection. Both YAML and JSON documents are accepted; JSON is detected by
// file extension.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	if ext := strings.ToLower(filepath.Ext(path)); ext == ".json" {
		return LoadJSON(f)
	}
	return Load(f)
}

// Load parses a scenario document from YAML with strict unknown-field rejection.
func Load(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &doc, nil
}

// LoadJSON parses a scenario document from JSON with strict unknown-field rejection.
func LoadJSON(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &doc, nil
}
