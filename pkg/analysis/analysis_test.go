package analysis

import (
	"testing"

	"github.com/baseboardio/sledge/pkg/schema"
)

func TestValidateExactTrailingWhitespace(t *testing.T) {
	ok, mismatch, err := Validate("OK\n", "exact", "OK")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Errorf("trailing newline should normalize away: %v", mismatch)
	}

	ok, mismatch, err = Validate("OK ", "exact", "OK")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Errorf("trailing space should normalize away: %v", mismatch)
	}

	ok, _, err = Validate("KO", "exact", "OK")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("different content compared equal")
	}
}

func TestValidateJSONKeyOrderInsensitive(t *testing.T) {
	ok, mismatch, err := Validate(`{"b":2,"a":1}`, "json", `{"a":1,"b":2}`)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Errorf("key order should not matter: %v", mismatch)
	}

	// Sequences are order-sensitive.
	ok, _, err = Validate(`{"a":[2,1]}`, "json", `{"a":[1,2]}`)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("array order should matter")
	}

	// Non-JSON output is a mismatch, not a framework error.
	ok, mismatch, err = Validate("not json", "json", `{"a":1}`)
	if err != nil {
		t.Fatalf("invalid output JSON must not be a framework error: %v", err)
	}
	if ok || mismatch == nil {
		t.Error("expected mismatch for non-JSON output")
	}
}

func TestValidateRegexFullMatch(t *testing.T) {
	ok, _, err := Validate("firmware 2.14\n", "regex", `firmware \d+\.\d+`)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("full pattern should match normalized output")
	}

	// Partial match is not enough.
	ok, _, err = Validate("firmware 2.14 beta", "regex", `firmware \d+\.\d+`)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("partial match should not pass")
	}

	if _, _, err := Validate("x", "regex", `(`); err == nil {
		t.Error("invalid pattern should be a framework error")
	}
}

func TestValidateText(t *testing.T) {
	ok, _, err := Validate("status: healthy, uptime 4d", "text", "healthy")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("substring should match")
	}
}

func TestValidateUnknownType(t *testing.T) {
	if _, _, err := Validate("x", "fuzzy", "x"); err == nil {
		t.Error("unknown validator_type should error")
	}
}

func TestAnalyzeOutputCaptureGroup(t *testing.T) {
	rules := []schema.OutputRule{
		{Regex: `temp=(\d+)`, ParameterToSet: "temp"},
		{Regex: `OK`, ParameterToSet: "ok_marker"},
		{Regex: `volts=(\d+)`, ParameterToSet: "volts"},
	}
	params, err := AnalyzeOutput("sensor: temp=85 OK", rules)
	if err != nil {
		t.Fatal(err)
	}
	if params["temp"] != "85" {
		t.Errorf("temp = %q, want 85 (first capture group)", params["temp"])
	}
	if params["ok_marker"] != "OK" {
		t.Errorf("ok_marker = %q, want whole match", params["ok_marker"])
	}
	if _, ok := params["volts"]; ok {
		t.Error("non-matching rule must not bind")
	}
}

func TestAnalyzeDiagnosticsBothShapes(t *testing.T) {
	log := "Jan 10 sel: Correctable ECC detected\nJan 10 sensor: temp=91 over threshold\n"
	rules := []schema.DiagnosticRule{
		{SearchString: "Correctable ECC", DiagnosticResultCode: "ECC-01", ParameterToSet: "ecc_seen"},
		{DiagnosticSearchString: `temp=(\d+)`, ParameterToSet: "temp"},
		{SearchString: "Uncorrectable ECC", DiagnosticResultCode: "ECC-02", ParameterToSet: "fatal_ecc"},
	}
	report, err := AnalyzeDiagnostics(log, rules)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Codes) != 1 || report.Codes[0] != "ECC-01" {
		t.Errorf("Codes = %v, want [ECC-01]", report.Codes)
	}
	if report.Parameters["ecc_seen"] != "true" {
		t.Errorf("ecc_seen = %q, want true", report.Parameters["ecc_seen"])
	}
	if report.Parameters["temp"] != "91" {
		t.Errorf("temp = %q, want 91", report.Parameters["temp"])
	}
	if report.Parameters["fatal_ecc"] != "false" {
		t.Errorf("fatal_ecc = %q, want false", report.Parameters["fatal_ecc"])
	}
	if report.Failed {
		t.Error("no fail-marked rule matched")
	}
}

func TestAnalyzeDiagnosticsFailAndTerminal(t *testing.T) {
	log := "FATAL: power rail collapse\nINFO: retry scheduled\n"
	rules := []schema.DiagnosticRule{
		{SearchString: "FATAL", DiagnosticResultCode: "PWR-90", Fail: true, Terminal: true},
		{SearchString: "retry scheduled", DiagnosticResultCode: "PWR-10"},
	}
	report, err := AnalyzeDiagnostics(log, rules)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Failed {
		t.Error("fail-marked match should mark the report failed")
	}
	if len(report.Codes) != 1 {
		t.Errorf("terminal rule should stop evaluation, got codes %v", report.Codes)
	}
}
