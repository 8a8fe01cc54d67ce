// Command sledge runs hardware compliance scenarios against lab systems.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/baseboardio/sledge/pkg/connection"
	"github.com/baseboardio/sledge/pkg/expression"
	"github.com/baseboardio/sledge/pkg/report"
	"github.com/baseboardio/sledge/pkg/runtime"
	"github.com/baseboardio/sledge/pkg/schema"
)

type options struct {
	testID    string
	testName  string
	testGroup string
	tags      []string

	testDir    string
	workspace  string
	connConfig string
	logPath    string

	list          bool
	discoverConns bool
	listScenarios bool
	listWithConns bool
	schemaCheck   bool
	exportSchema  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "sledge",
		Short:         "Hardware compliance scenario runner",
		Long:          "sledge executes versioned compliance scenario recipes against lab hardware\nover local, ssh, and redfish connections.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.testID, "test_id", "", "select scenarios by exact test ID")
	f.StringVar(&opts.testName, "test_name", "", "select scenarios whose name contains this string")
	f.StringVar(&opts.testGroup, "test_group", "", "select scenarios by test group")
	f.StringSliceVar(&opts.tags, "tags", nil, "select scenarios carrying all of these tags")
	f.StringVar(&opts.testDir, "test_dir", ".", "directory to search for scenario files")
	f.StringVar(&opts.workspace, "workspace", ".", "directory for run artifacts")
	f.StringVar(&opts.connConfig, "conn_config", "", "connection configuration file (JSON)")
	f.StringVar(&opts.logPath, "log-path", "", "override directory for the execution trace")
	f.BoolVarP(&opts.list, "list", "l", false, "list matching scenarios and exit")
	f.BoolVar(&opts.discoverConns, "discover_connections", false, "probe every configured connection and exit")
	f.BoolVar(&opts.listScenarios, "list_scenarios", false, "list matching scenario IDs and exit")
	f.BoolVar(&opts.listWithConns, "list_scenarios_with_connections", false, "list matching scenarios with the connections they use and exit")
	f.BoolVar(&opts.discoverConns, "dc", false, "alias for --discover_connections")
	f.BoolVar(&opts.listWithConns, "lsc", false, "alias for --list_scenarios_with_connections")
	f.MarkHidden("dc")
	f.MarkHidden("lsc")
	f.BoolVar(&opts.schemaCheck, "schema_check", false, "validate a document against a schema file: --schema_check scenario <schema.json> <doc>")
	f.BoolVar(&opts.exportSchema, "export_schema", false, "print the scenario recipe JSON Schema and exit")

	cmd.SetContext(rootContext())
	return cmd
}

func rootContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

func run(ctx context.Context, opts *options, args []string) error {
	if opts.exportSchema {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	if opts.schemaCheck {
		return runSchemaCheck(args)
	}
	if opts.discoverConns {
		return runDiscovery(ctx, opts)
	}

	selected, err := selectScenarios(opts)
	if err != nil {
		return err
	}

	switch {
	case opts.list:
		printScenarioTable(selected)
		return nil
	case opts.listScenarios:
		for _, s := range selected {
			fmt.Println(s.doc.TestScenario.TestID)
		}
		return nil
	case opts.listWithConns:
		printScenarioConnections(selected)
		return nil
	}

	if len(selected) == 0 {
		return fmt.Errorf("no scenarios matched under %s", opts.testDir)
	}
	return runScenarios(ctx, opts, selected)
}

// runSchemaCheck validates a scenario document against an external schema
// file, e.g. one produced by an earlier build.
func runSchemaCheck(args []string) error {
	if len(args) != 3 || args[0] != "scenario" {
		return fmt.Errorf("usage: sledge --schema_check scenario <schema.json> <document>")
	}
	errs := schema.CheckAgainstSchemaFile(args[1], args[2])
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "  %v\n", e)
	}
	if schema.HasBlocking(errs) {
		return fmt.Errorf("%s does not conform to %s", args[2], args[1])
	}
	fmt.Printf("✓ %s conforms to %s\n", args[2], args[1])
	return nil
}

func runDiscovery(ctx context.Context, opts *options) error {
	if opts.connConfig == "" {
		return fmt.Errorf("--discover_connections requires --conn_config")
	}
	cfg, err := connection.LoadConfig(opts.connConfig)
	if err != nil {
		return err
	}
	reg := connection.NewRegistry(cfg)
	defer reg.ReleaseAll()

	results := reg.Discover(ctx)
	unreachable := 0
	for _, r := range results {
		mark := "✓"
		detail := "reachable"
		if !r.Reachable {
			mark = "✗"
			detail = r.Error
			unreachable++
		}
		via := ""
		if r.Tunneled {
			via = " (tunneled)"
		}
		fmt.Printf("%s %s/%s%s: %s\n", mark, r.Target, r.Protocol, via, detail)
	}
	if unreachable > 0 {
		return fmt.Errorf("%d of %d connections unreachable", unreachable, len(results))
	}
	return nil
}

// scenarioFile pairs a validated document with its on-disk location.
type scenarioFile struct {
	path string
	doc  *schema.Document
}

// selectScenarios walks the test directory, validates every scenario file,
// and applies the ID/name/group/tag filters. Files that fail validation are
// reported and excluded unless directly selected by test ID.
func selectScenarios(opts *options) ([]scenarioFile, error) {
	cache := schema.NewCache()
	var files []string
	err := filepath.WalkDir(opts.testDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", opts.testDir, err)
	}
	sort.Strings(files)

	var selected []scenarioFile
	for _, path := range files {
		doc, verrs := cache.Load(path)
		if schema.HasBlocking(verrs) {
			fmt.Fprintf(os.Stderr, "skipping %s:\n", path)
			for _, e := range verrs {
				fmt.Fprintf(os.Stderr, "  %v\n", e)
			}
			continue
		}
		for _, e := range verrs {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", path, e)
		}
		if matches(&doc.TestScenario, opts) {
			selected = append(selected, scenarioFile{path: path, doc: doc})
		}
	}
	return selected, nil
}

func matches(sc *schema.Scenario, opts *options) bool {
	if opts.testID != "" && sc.TestID != opts.testID {
		return false
	}
	if opts.testName != "" && !strings.Contains(strings.ToLower(sc.TestName), strings.ToLower(opts.testName)) {
		return false
	}
	if opts.testGroup != "" && sc.TestGroup != opts.testGroup {
		return false
	}
	for _, want := range opts.tags {
		found := false
		for _, tag := range sc.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func printScenarioTable(scenarios []scenarioFile) {
	for _, s := range scenarios {
		sc := s.doc.TestScenario
		tags := ""
		if len(sc.Tags) > 0 {
			tags = " [" + strings.Join(sc.Tags, ", ") + "]"
		}
		fmt.Printf("%-12s %-40s %-12s%s\n    %s\n", sc.TestID, sc.TestName, sc.TestGroup, tags, s.path)
	}
}

func printScenarioConnections(scenarios []scenarioFile) {
	for _, s := range scenarios {
		sc := s.doc.TestScenario
		fmt.Printf("%s — %s\n", sc.TestID, sc.TestName)
		for target, protocols := range referencedConnections(s.doc) {
			fmt.Printf("    %s: %s\n", target, strings.Join(protocols, ", "))
		}
	}
}

// referencedConnections maps each connection target a scenario's steps use
// to the protocols it is used with.
func referencedConnections(doc *schema.Document) map[string][]string {
	refs := make(map[string][]string)
	for _, step := range doc.TestScenario.Steps {
		if step.StepType != schema.StepTypeCommand {
			continue
		}
		target := step.Connection
		protocol := step.ConnectionType
		if protocol == "" {
			protocol = connection.ProtocolSSH
		}
		if target == "" {
			target = "local"
		}
		seen := false
		for _, p := range refs[target] {
			if p == protocol {
				seen = true
				break
			}
		}
		if !seen {
			refs[target] = append(refs[target], protocol)
		}
	}
	return refs
}

func runScenarios(ctx context.Context, opts *options, selected []scenarioFile) error {
	cfg := &connection.Config{}
	if opts.connConfig != "" {
		loaded, err := connection.LoadConfig(opts.connConfig)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	// Fail before touching hardware if any selected scenario references a
	// target the config cannot satisfy.
	referenced := make(map[string][]string)
	for _, s := range selected {
		for target, protocols := range referencedConnections(s.doc) {
			refs := referenced[target]
			for _, p := range protocols {
				dup := false
				for _, q := range refs {
					if q == p {
						dup = true
						break
					}
				}
				if !dup {
					refs = append(refs, p)
				}
			}
			referenced[target] = refs
		}
	}
	if err := cfg.Validate(referenced); err != nil {
		return err
	}

	runID := runtime.GenerateRunID()
	runDir := filepath.Join(opts.workspace, "runs", runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	traceDir := runDir
	if opts.logPath != "" {
		if err := os.MkdirAll(opts.logPath, 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		traceDir = opts.logPath
	}
	trace, err := runtime.NewTraceWriter(filepath.Join(traceDir, "trace.jsonl"), runID)
	if err != nil {
		return err
	}
	defer trace.Close()

	reg := connection.NewRegistry(cfg)
	defer reg.ReleaseAll()

	runner := &runtime.Runner{
		Registry: reg,
		Eval:     expression.New(),
		Cache:    schema.NewCache(),
		Trace:    trace,
	}
	builder := report.NewBuilder(runID)

	fmt.Printf("run %s: %d scenario(s)\n", runID, len(selected))
	for _, s := range selected {
		if ctx.Err() != nil {
			break
		}
		res, err := runner.Run(ctx, s.doc, s.path, nil, nil)
		if err != nil {
			return fmt.Errorf("running %s: %w", s.path, err)
		}
		builder.RecordScenario(res)
		if err := writeStepOutputs(runDir, res); err != nil {
			return err
		}
	}

	summary := builder.Summary()
	if err := writeArtifacts(runDir, opts, builder, summary, selected); err != nil {
		return err
	}
	printSummary(summary)

	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	if !builder.AllPassed() {
		return fmt.Errorf("%d of %d scenarios did not pass (%d failed, %d errored)", summary.Failed+summary.Errors, summary.Total, summary.Failed, summary.Errors)
	}
	return nil
}

// runManifest is the run.yaml artifact describing what was executed.
type runManifest struct {
	RunID      string    `yaml:"run_id"`
	StartedAt  time.Time `yaml:"started_at"`
	TestDir    string    `yaml:"test_dir"`
	ConnConfig string    `yaml:"conn_config,omitempty"`
	Scenarios  []string  `yaml:"scenarios"`
	Total      int       `yaml:"total"`
	Passed     int       `yaml:"passed"`
	Failed     int       `yaml:"failed"`
	Skipped    int       `yaml:"skipped"`
	Errors     int       `yaml:"errors"`
}

func writeArtifacts(runDir string, opts *options, builder *report.Builder, summary *report.Summary, selected []scenarioFile) error {
	resultsFile, err := os.Create(filepath.Join(runDir, "results.json"))
	if err != nil {
		return fmt.Errorf("creating results.json: %w", err)
	}
	defer resultsFile.Close()
	if err := builder.WriteJSON(resultsFile); err != nil {
		return err
	}

	manifest := runManifest{
		RunID:      summary.RunID,
		StartedAt:  summary.StartedAt,
		TestDir:    opts.testDir,
		ConnConfig: opts.connConfig,
		Total:      summary.Total,
		Passed:     summary.Passed,
		Failed:     summary.Failed,
		Skipped:    summary.Skipped,
		Errors:     summary.Errors,
	}
	for _, s := range selected {
		manifest.Scenarios = append(manifest.Scenarios, s.doc.TestScenario.TestID)
	}
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal run manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "run.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("writing run.yaml: %w", err)
	}
	return nil
}

// writeStepOutputs saves each step's raw command output under
// <runDir>/output/<test_id>/<step_id>.txt, nested scenarios included.
func writeStepOutputs(runDir string, res *runtime.ScenarioResult) error {
	dir := filepath.Join(runDir, "output", res.TestID)
	for _, st := range res.Steps {
		if st.Output != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}
			path := filepath.Join(dir, st.StepID+".txt")
			if err := os.WriteFile(path, []byte(st.Output), 0o644); err != nil {
				return fmt.Errorf("writing step output: %w", err)
			}
		}
		if st.Nested != nil {
			if err := writeStepOutputs(runDir, st.Nested); err != nil {
				return err
			}
		}
	}
	return nil
}

func printSummary(s *report.Summary) {
	fmt.Printf("\n%d scenario(s): %d passed, %d failed, %d skipped, %d errors\n", s.Total, s.Passed, s.Failed, s.Skipped, s.Errors)
	for _, fd := range s.FailureDetails {
		fmt.Printf("  ✗ %s/%s", fd.TestID, fd.StepID)
		if fd.Error != "" {
			fmt.Printf(": %s", fd.Error)
		} else if fd.Expected != "" {
			fmt.Printf(": expected %q", fd.Expected)
		}
		fmt.Println()
	}
}
