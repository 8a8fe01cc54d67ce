package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/baseboardio/sledge/pkg/connection"
	"github.com/baseboardio/sledge/pkg/schema"
)

const sampleSEL = `2026-08-12T10:00:01 INFO boot complete
2026-08-12T10:02:13 WARN Correctable ECC error on DIMM_A0
2026-08-12T10:05:40 INFO fan_speed=4200
`

func TestLogAnalysisStep(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sel.log"), []byte(sampleSEL), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestRunner(&fakeHandle{})
	step := schema.Step{
		StepID:          "step-1",
		StepType:        schema.StepTypeLog,
		LogAnalysisPath: "sel.log",
		DiagnosticAnalysis: []schema.DiagnosticRule{
			{SearchString: "Correctable ECC", DiagnosticResultCode: "ECC-01"},
			{DiagnosticSearchString: `fan_speed=(\d+)`, ParameterToSet: "fan_speed"},
		},
	}
	after := commandStep("step-2", "echo rpm")
	after.EntryCriteria = []schema.Criterion{{Expression: `fan_speed > 4000`}}

	res, err := r.Run(context.Background(), doc(step, after), filepath.Join(dir, "scenario.yaml"), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := res.Steps[0]
	if got.Status != StatusPassed {
		t.Fatalf("log step status = %s, want passed (%s)", got.Status, got.Error)
	}
	if len(got.Codes) != 1 || got.Codes[0] != "ECC-01" {
		t.Errorf("diagnostic codes = %v, want [ECC-01]", got.Codes)
	}
	if res.Steps[1].Status != StatusPassed {
		t.Errorf("fan_speed gate status = %s, want passed", res.Steps[1].Status)
	}
}

func TestLogAnalysisFailingRule(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sel.log"), []byte("Uncorrectable ECC error\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestRunner(&fakeHandle{})
	step := schema.Step{
		StepID:          "step-1",
		StepType:        schema.StepTypeLog,
		LogAnalysisPath: "sel.log",
		DiagnosticAnalysis: []schema.DiagnosticRule{
			{SearchString: "Uncorrectable ECC", DiagnosticResultCode: "ECC-02", Fail: true},
		},
	}
	res, err := r.Run(context.Background(), doc(step), filepath.Join(dir, "scenario.yaml"), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps[0].Status != StatusFailed {
		t.Errorf("log step status = %s, want failed", res.Steps[0].Status)
	}
	if res.Status != StatusFailed {
		t.Errorf("scenario status = %s, want failed", res.Status)
	}
}

func TestExpectedOutputFromFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "expected.txt"), []byte("BIOS v2.14\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := &fakeHandle{script: func(string) (*connection.Output, error) {
		return &connection.Output{Stdout: "BIOS v2.14"}, nil
	}}
	r := newTestRunner(fake)
	step := commandStep("step-1", "dmidecode -s bios-version")
	step.ValidatorType = schema.ValidatorExact
	step.ExpectedOutputPath = "expected.txt"

	res, err := r.Run(context.Background(), doc(step), filepath.Join(dir, "scenario.yaml"), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps[0].Status != StatusPassed {
		t.Errorf("step status = %s, want passed (%s)", res.Steps[0].Status, res.Steps[0].Mismatch)
	}
}
